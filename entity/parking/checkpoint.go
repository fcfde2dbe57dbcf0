package parking

import "fmt"

// SpotState 单个车位的占用状态
type SpotState struct {
	ID       int32 `json:"id"`
	AgentID  int32 `json:"agent_id"`           // 持有者ID，环境停放车辆为-1
	Reserved bool  `json:"reserved,omitempty"` // 是否处于预定状态
}

// Checkpoint 停车子系统的可变状态存档
// 说明：只导出非空闲车位，车位的静态定位信息可由地图重建
type Checkpoint struct {
	Spots []SpotState `json:"spots"`
}

// Checkpoint 导出当前占用状态（按车位ID升序）
func (m *ParkingManager) Checkpoint() *Checkpoint {
	chk := &Checkpoint{Spots: make([]SpotState, 0, len(m.holds))}
	for _, s := range m.spots {
		if hold, held := m.holds[s.id]; held {
			chk.Spots = append(chk.Spots, SpotState{ID: s.id, AgentID: hold.agentID, Reserved: hold.reserved})
		}
	}
	return chk
}

// RestoreCheckpoint 从存档恢复占用状态
// 功能：按存档整体重建占用表，nil存档等价于全部车位空闲
// 返回：引用未知车位或状态自相矛盾时返回error，此时原状态保持不变
func (m *ParkingManager) RestoreCheckpoint(chk *Checkpoint) error {
	holds := make(map[int32]*spotHold)
	byAgent := make(map[int32]int32)
	if chk != nil {
		for _, st := range chk.Spots {
			if _, ok := m.data[st.ID]; !ok {
				return fmt.Errorf("savestate references unknown spot %d", st.ID)
			}
			if _, held := holds[st.ID]; held {
				return fmt.Errorf("savestate holds spot %d twice", st.ID)
			}
			if st.AgentID < 0 {
				if st.Reserved {
					return fmt.Errorf("savestate reserves spot %d for a background car", st.ID)
				}
				holds[st.ID] = &spotHold{agentID: backgroundAgentID}
				continue
			}
			if other, ok := byAgent[st.AgentID]; ok {
				return fmt.Errorf("savestate assigns agent %d both spot %d and spot %d", st.AgentID, other, st.ID)
			}
			holds[st.ID] = &spotHold{agentID: st.AgentID, reserved: st.Reserved}
			byAgent[st.AgentID] = st.ID
		}
	}
	m.holds = holds
	m.byAgent = byAgent
	return nil
}
