package junction

import (
	"sort"

	"github.com/tsinghua-fib-lab/microsim-oss/entity"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/geom"
)

// waitEntry 路口前等待通行的一条请求记录
type waitEntry struct {
	agentID   int32
	turn      *Turn
	seq       int64     // 到达序号，首次请求时分配
	arrivedAt geom.Time // 首次请求时刻
	stopped   bool      // 是否观测到停稳
	stoppedAt geom.Time // 首次停稳时刻
}

// waitTable 路口等待请求表
// 功能：为控制器维护"谁在路口前等待"的事实，请求到达顺序用单调序号记录
// 说明：同一主体重复请求幂等，只更新停稳观测；授权或取消后移除
type waitTable struct {
	entries map[int32]*waitEntry
	nextSeq int64
}

func newWaitTable() *waitTable {
	return &waitTable{entries: make(map[int32]*waitEntry)}
}

// observe 登记或更新一条通行请求
// 功能：首次请求分配到达序号；此后每次请求仅更新停稳观测
// 参数：turn-请求的转向，req-请求事实，now-当前时刻
// 返回：该主体的等待记录
func (t *waitTable) observe(turn *Turn, req entity.TurnRequest, now geom.Time) *waitEntry {
	w, ok := t.entries[req.AgentID]
	if !ok {
		w = &waitEntry{
			agentID:   req.AgentID,
			turn:      turn,
			seq:       t.nextSeq,
			arrivedAt: now,
		}
		t.nextSeq++
		t.entries[req.AgentID] = w
	} else if w.turn.id != turn.id {
		// 改道后重新请求按新到达处理
		w.turn = turn
		w.seq = t.nextSeq
		t.nextSeq++
		w.arrivedAt = now
		w.stopped = false
	}
	if req.Stopped && !w.stopped {
		w.stopped = true
		w.stoppedAt = now
	}
	return w
}

// remove 移除等待记录（授权通过或请求取消）
func (t *waitTable) remove(agentID int32) {
	delete(t.entries, agentID)
}

// ordered 等待记录按到达序号升序
func (t *waitTable) ordered() []*waitEntry {
	entries := make([]*waitEntry, 0, len(t.entries))
	for _, w := range t.entries {
		entries = append(entries, w)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	return entries
}

// checkpoint 导出等待表状态
func (t *waitTable) checkpoint(chk *Checkpoint) {
	chk.NextSeq = t.nextSeq
	for _, w := range t.ordered() {
		chk.Waiting = append(chk.Waiting, WaitingState{
			AgentID:   w.agentID,
			TurnID:    w.turn.id,
			Seq:       w.seq,
			ArrivedAt: w.arrivedAt.Seconds(),
			Stopped:   w.stopped,
			StoppedAt: w.stoppedAt.Seconds(),
		})
	}
}

// restore 从存档恢复等待表状态
func (t *waitTable) restore(j *Junction, chk *Checkpoint) {
	t.entries = make(map[int32]*waitEntry)
	t.nextSeq = chk.NextSeq
	for _, s := range chk.Waiting {
		turn, ok := j.turnsByID[s.TurnID]
		if !ok {
			log.Panicf("junction %d: savestate references unknown turn %d", j.id, s.TurnID)
		}
		t.entries[s.AgentID] = &waitEntry{
			agentID:   s.AgentID,
			turn:      turn,
			seq:       s.Seq,
			arrivedAt: geom.NewTime(s.ArrivedAt),
			stopped:   s.Stopped,
			stoppedAt: geom.NewTime(s.StoppedAt),
		}
	}
}
