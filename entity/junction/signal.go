package junction

import (
	"fmt"

	"github.com/tsinghua-fib-lab/microsim-oss/entity"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/geom"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/input"
)

// sgStage 配时表中的一个阶段
type sgStage struct {
	duration  geom.Duration
	protected map[int32]bool // 保护相位转向：绿灯直接通行
	yield     map[int32]bool // 许可相位转向：绿灯让行通行
}

// sgTable 信号灯配时表
type sgTable struct {
	stages []*sgStage
	cycle  geom.Duration
	offset geom.Duration
}

// newSgTable 构建并校验配时表
// 功能：将输入阶段表转换为运行时结构
// 返回：配时表与校验错误
// 算法说明：
//  1. 每个阶段时长必须为正，引用的转向必须属于本路口；
//  2. 同一阶段的保护相位转向两两不得冲突（许可相位允许冲突，
//     由让行规则与授权冲突检查保证安全）；
//  3. 起始偏移归一化到[0, cycle)
func newSgTable(j *Junction, stages []*input.StageData, offset float64) (*sgTable, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("junction %d: signal needs at least one stage", j.id)
	}
	if offset < 0 {
		return nil, fmt.Errorf("junction %d: signal offset must be non-negative, got %v", j.id, offset)
	}
	table := &sgTable{}
	for i, sd := range stages {
		if sd.Duration <= 0 {
			return nil, fmt.Errorf("junction %d: stage %d duration must be positive, got %v", j.id, i, sd.Duration)
		}
		st := &sgStage{
			duration:  geom.NewDuration(sd.Duration),
			protected: make(map[int32]bool),
			yield:     make(map[int32]bool),
		}
		for _, tid := range sd.Protected {
			if _, ok := j.turnsByID[tid]; !ok {
				return nil, fmt.Errorf("junction %d: stage %d references unknown turn %d", j.id, i, tid)
			}
			st.protected[tid] = true
		}
		for _, tid := range sd.Yield {
			if _, ok := j.turnsByID[tid]; !ok {
				return nil, fmt.Errorf("junction %d: stage %d references unknown turn %d", j.id, i, tid)
			}
			if st.protected[tid] {
				return nil, fmt.Errorf("junction %d: stage %d turn %d is both protected and yield", j.id, i, tid)
			}
			st.yield[tid] = true
		}
		for _, a := range sd.Protected {
			for _, b := range sd.Protected {
				if a < b && j.turnsByID[a].ConflictsWith(b) {
					return nil, fmt.Errorf("junction %d: stage %d protected turns %d and %d conflict", j.id, i, a, b)
				}
			}
		}
		table.stages = append(table.stages, st)
		table.cycle += st.duration
	}
	table.offset = geom.NewDuration(offset)
	for table.offset >= table.cycle {
		table.offset -= table.cycle
	}
	return table, nil
}

// fixedSignal 固定配时信号灯控制器
// 功能：按固定周期轮转阶段，保护相位转向在阶段剩余时间足够通过时
// 直接授权，许可相位转向额外让行于在等的保护相位冲突请求
// 说明：配时推进只依赖仿真时间；运行期配时修改经缓冲在准备阶段生效，
// 生效时从新配时表的起始偏移处重新开始
type fixedSignal struct {
	j    *Junction
	wait *waitTable

	table    *sgTable
	stageIdx int
	elapsed  geom.Duration

	pending *sgTable // 缓冲的配时修改
}

func newFixedSignal(j *Junction, sig *input.SignalData) *fixedSignal {
	table, err := newSgTable(j, sig.Stages, sig.Offset)
	if err != nil {
		log.Panicf("%v", err)
	}
	f := &fixedSignal{j: j, wait: newWaitTable(), table: table}
	f.applyOffset()
	return f
}

// applyOffset 将阶段指针推进到配时起始偏移处
func (f *fixedSignal) applyOffset() {
	f.stageIdx = 0
	f.elapsed = f.table.offset
	f.rotate()
}

// rotate 消耗已流逝时间并轮转到对应阶段
func (f *fixedSignal) rotate() {
	for f.elapsed >= f.table.stages[f.stageIdx].duration {
		f.elapsed -= f.table.stages[f.stageIdx].duration
		f.stageIdx = (f.stageIdx + 1) % len(f.table.stages)
	}
}

// canProceed 裁决一条通行请求
// 算法说明：
//  1. 登记到达事实；
//  2. 与既有授权冲突时不授权；
//  3. 请求转向须处于当前阶段的保护或许可相位；
//  4. 阶段剩余时间须大于以自由流速度通过转向所需的时间，
//     避免主体在路口内滞留到下个阶段；
//  5. 许可相位请求额外让行于在等的当前阶段保护相位冲突请求
func (f *fixedSignal) canProceed(req entity.TurnRequest, now geom.Time, blockedByAccepted bool) bool {
	w := f.wait.observe(f.j.turnsByID[req.Turn.ID()], req, now)
	if blockedByAccepted {
		return false
	}
	st := f.table.stages[f.stageIdx]
	remaining := st.duration - f.elapsed
	switch {
	case st.protected[w.turn.id]:
		if req.CrossingTime >= remaining {
			return false
		}
	case st.yield[w.turn.id]:
		if req.CrossingTime >= remaining {
			return false
		}
		for _, o := range f.wait.entries {
			if o.agentID != w.agentID && st.protected[o.turn.id] && w.turn.ConflictsWith(o.turn.id) {
				return false
			}
		}
	default:
		return false
	}
	f.wait.remove(w.agentID)
	return true
}

func (f *fixedSignal) cancel(agentID int32) {
	f.wait.remove(agentID)
}

// prepare 提交缓冲的配时修改
func (f *fixedSignal) prepare() {
	if f.pending == nil {
		return
	}
	f.table = f.pending
	f.pending = nil
	f.applyOffset()
}

// update 推进配时
func (f *fixedSignal) update(dt geom.Duration) {
	f.elapsed += dt
	f.rotate()
}

// stage 当前阶段与阶段剩余时间
func (f *fixedSignal) stage() (int, geom.Duration, bool) {
	return f.stageIdx, f.table.stages[f.stageIdx].duration - f.elapsed, true
}

// retime 校验并缓冲新配时
func (f *fixedSignal) retime(stages []*input.StageData, offset float64) error {
	table, err := newSgTable(f.j, stages, offset)
	if err != nil {
		return err
	}
	f.pending = table
	return nil
}

func (f *fixedSignal) checkpoint(chk *Checkpoint) {
	f.wait.checkpoint(chk)
	chk.Signal = &SignalState{StageIdx: f.stageIdx, Elapsed: f.elapsed.Seconds()}
}

func (f *fixedSignal) restore(chk *Checkpoint) {
	f.wait.restore(f.j, chk)
	if chk.Signal == nil {
		log.Panicf("junction %d: savestate misses signal state", f.j.id)
	}
	if chk.Signal.StageIdx < 0 || chk.Signal.StageIdx >= len(f.table.stages) {
		log.Panicf("junction %d: savestate stage index %d out of range", f.j.id, chk.Signal.StageIdx)
	}
	f.stageIdx = chk.Signal.StageIdx
	f.elapsed = geom.NewDuration(chk.Signal.Elapsed)
}

func (f *fixedSignal) reset() {
	f.wait = newWaitTable()
	f.pending = nil
	f.applyOffset()
}
