package junction

import (
	"flag"

	"github.com/tsinghua-fib-lab/microsim-oss/entity"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/container"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/geom"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/input"
)

var (
	allRedTime     = flag.Float64("tl.mp_all_red_time", 3, "最大压力信控的全红清空时间（秒）")
	phaseTime      = flag.Float64("tl.mp_phase_time", 15, "最大压力信控的相位保持时间（秒）")
	maxRepeatCount = flag.Int("tl.mp_max_repeat_count", 6, "最大压力信控同一相位最多连续延时的次数")
)

// maxPressure 最大压力自适应信号灯控制器
// 功能：复用固定配时的阶段表作为可选相位集合，相位到期时选择
// 压力最大的相位继续放行，相位切换经过全红清空
// 说明：相位压力为该相位保护转向的源车道主体数与目标车道主体数
// 之差求和，读取的是上一拍快照统计，与推进顺序无关；
// 同一相位连续延时达到上限后强制切换到压力次大的相位
type maxPressure struct {
	j    *Junction
	wait *waitTable

	table   *sgTable
	pending *sgTable

	runtime struct {
		index       int
		nextIndex   int
		remainingT  float64
		inAllRed    bool
		repeatCount int
	}
}

func newMaxPressure(j *Junction, sig *input.SignalData) *maxPressure {
	table, err := newSgTable(j, sig.Stages, sig.Offset)
	if err != nil {
		log.Panicf("%v", err)
	}
	m := &maxPressure{j: j, wait: newWaitTable(), table: table}
	m.runtime.remainingT = *phaseTime
	m.runtime.repeatCount = 1
	return m
}

// stagePressure 相位压力
func (m *maxPressure) stagePressure(st *sgStage) float64 {
	am := m.j.ctx.AgentManager()
	pressure := 0.
	for tid := range st.protected {
		turn := m.j.turnsByID[tid]
		pressure += float64(am.QueueCount(turn.srcLane.ID()) - am.QueueCount(turn.dstLane.ID()))
	}
	return pressure
}

// canProceed 裁决一条通行请求
// 说明：全红清空期间不授权；其余判定与固定配时一致，
// 阶段剩余时间取当前相位剩余时间
func (m *maxPressure) canProceed(req entity.TurnRequest, now geom.Time, blockedByAccepted bool) bool {
	w := m.wait.observe(m.j.turnsByID[req.Turn.ID()], req, now)
	if blockedByAccepted {
		return false
	}
	if m.runtime.inAllRed {
		return false
	}
	st := m.table.stages[m.runtime.index]
	remaining := geom.NewDuration(m.runtime.remainingT)
	switch {
	case st.protected[w.turn.id]:
		if req.CrossingTime >= remaining {
			return false
		}
	case st.yield[w.turn.id]:
		if req.CrossingTime >= remaining {
			return false
		}
		for _, o := range m.wait.entries {
			if o.agentID != w.agentID && st.protected[o.turn.id] && w.turn.ConflictsWith(o.turn.id) {
				return false
			}
		}
	default:
		return false
	}
	m.wait.remove(w.agentID)
	return true
}

func (m *maxPressure) cancel(agentID int32) {
	m.wait.remove(agentID)
}

// prepare 提交缓冲的配时修改
func (m *maxPressure) prepare() {
	if m.pending == nil {
		return
	}
	m.table = m.pending
	m.pending = nil
	m.runtime.index = 0
	m.runtime.nextIndex = 0
	m.runtime.remainingT = *phaseTime
	m.runtime.inAllRed = false
	m.runtime.repeatCount = 1
}

// update 推进信控状态机
// 算法说明：
//  1. 当前相位未走完则不动作；
//  2. 全红清空走完则进入选定的下一相位；
//  3. 正常相位走完则计算各相位压力，取压力最大者（小顶堆存负压力）；
//     压力最大相位仍为当前相位时延时一个相位时长，连续延时达到上限
//     后改取压力次大的相位；相位变化时进入全红清空
func (m *maxPressure) update(dt geom.Duration) {
	m.runtime.remainingT -= dt.Seconds()
	if m.runtime.remainingT > 0 {
		return
	}
	if m.runtime.inAllRed {
		m.runtime.index = m.runtime.nextIndex
		m.runtime.remainingT += *phaseTime
		m.runtime.inAllRed = false
		return
	}
	pressureHeap := container.NewPriorityQueue[int]()
	for i, st := range m.table.stages {
		pressureHeap.Push(i, -m.stagePressure(st)) // 小顶堆，压力越大越靠前
	}
	pressureHeap.Heapify()
	maxIndex, _ := pressureHeap.HeapPop()
	if maxIndex == m.runtime.index {
		if m.runtime.repeatCount >= *maxRepeatCount && pressureHeap.Len() > 0 {
			// 达到最大延时次数，切换到压力次大的相位
			maxIndex, _ = pressureHeap.HeapPop()
		} else {
			m.runtime.remainingT += *phaseTime
			m.runtime.repeatCount++
		}
	}
	if maxIndex != m.runtime.index {
		m.runtime.nextIndex = maxIndex
		m.runtime.repeatCount = 1
		m.runtime.inAllRed = true
		m.runtime.remainingT += *allRedTime
	}
}

// stage 当前相位与相位剩余时间
// 说明：全红清空期间报告即将离开的相位
func (m *maxPressure) stage() (int, geom.Duration, bool) {
	return m.runtime.index, geom.NewDuration(m.runtime.remainingT), true
}

// retime 校验并缓冲新的相位集合
func (m *maxPressure) retime(stages []*input.StageData, offset float64) error {
	table, err := newSgTable(m.j, stages, offset)
	if err != nil {
		return err
	}
	m.pending = table
	return nil
}

func (m *maxPressure) checkpoint(chk *Checkpoint) {
	m.wait.checkpoint(chk)
	chk.Signal = &SignalState{
		StageIdx:     m.runtime.index,
		Remaining:    m.runtime.remainingT,
		InAllRed:     m.runtime.inAllRed,
		NextStageIdx: m.runtime.nextIndex,
		RepeatCount:  m.runtime.repeatCount,
	}
}

func (m *maxPressure) restore(chk *Checkpoint) {
	m.wait.restore(m.j, chk)
	if chk.Signal == nil {
		log.Panicf("junction %d: savestate misses signal state", m.j.id)
	}
	if chk.Signal.StageIdx < 0 || chk.Signal.StageIdx >= len(m.table.stages) {
		log.Panicf("junction %d: savestate stage index %d out of range", m.j.id, chk.Signal.StageIdx)
	}
	m.runtime.index = chk.Signal.StageIdx
	m.runtime.nextIndex = chk.Signal.NextStageIdx
	m.runtime.remainingT = chk.Signal.Remaining
	m.runtime.inAllRed = chk.Signal.InAllRed
	m.runtime.repeatCount = chk.Signal.RepeatCount
}

func (m *maxPressure) reset() {
	m.wait = newWaitTable()
	m.pending = nil
	m.runtime.index = 0
	m.runtime.nextIndex = 0
	m.runtime.remainingT = *phaseTime
	m.runtime.inAllRed = false
	m.runtime.repeatCount = 1
}
