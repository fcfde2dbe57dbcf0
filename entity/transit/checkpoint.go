package transit

import "fmt"

// StopState 单个车站可变状态的存档
type StopState struct {
	ID int32 `json:"id"`
	// 候车行人ID（按到达先后）
	Waiting []int32 `json:"waiting"`
}

// Checkpoint 公交管理器的存档，只记录有人候车的车站
type Checkpoint struct {
	Stops []StopState `json:"stops,omitempty"`
}

// Checkpoint 导出当前候车状态（车站按ID升序）
func (m *TransitManager) Checkpoint() *Checkpoint {
	chk := &Checkpoint{}
	for _, stop := range m.stops {
		if len(stop.waiting) == 0 {
			continue
		}
		waiting := make([]int32, len(stop.waiting))
		copy(waiting, stop.waiting)
		chk.Stops = append(chk.Stops, StopState{ID: stop.id, Waiting: waiting})
	}
	return chk
}

// RestoreCheckpoint 从存档恢复候车状态，nil存档表示所有车站清空
//
// 恢复是原子的：存档引用未知车站或重复车站时返回错误且原状态保持不变。
func (m *TransitManager) RestoreCheckpoint(chk *Checkpoint) error {
	waitings := make(map[int32][]int32)
	if chk != nil {
		for _, state := range chk.Stops {
			if _, ok := m.stopData[state.ID]; !ok {
				return fmt.Errorf("savestate references unknown transit stop %d", state.ID)
			}
			if _, ok := waitings[state.ID]; ok {
				return fmt.Errorf("savestate lists transit stop %d twice", state.ID)
			}
			waiting := make([]int32, len(state.Waiting))
			copy(waiting, state.Waiting)
			waitings[state.ID] = waiting
		}
	}
	for _, stop := range m.stops {
		stop.waiting = waitings[stop.id]
	}
	return nil
}
