package junction

import (
	"fmt"
	"sort"

	"github.com/tsinghua-fib-lab/microsim-oss/entity"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/geom"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/input"
)

// iController 路口通行控制器
// 说明：canProceed在路口完成既有授权冲突检查后调用，blockedByAccepted
// 为true时控制器仍须登记到达事实，但不得授权
type iController interface {
	canProceed(req entity.TurnRequest, now geom.Time, blockedByAccepted bool) bool
	cancel(agentID int32)
	prepare()
	update(dt geom.Duration)
	stage() (int, geom.Duration, bool)
	checkpoint(chk *Checkpoint)
	restore(chk *Checkpoint)
	reset()
}

// retimer 支持运行期配时修改的控制器
type retimer interface {
	retime(stages []*input.StageData, offset float64) error
}

// Junction 路口实体
// 功能：管理路口内全部转向与通行授权，保证并发授权互不冲突
// 说明：授权集合只在串行的推进阶段被修改；同一主体持有授权期间
// 重复询问幂等返回true，离开路口或取消请求后授权释放
type Junction struct {
	ctx entity.ITaskContext

	id              int32
	controlKind     entity.ControlKind
	turns           []entity.ITurn // 按ID升序
	turnsByID       map[int32]*Turn
	turnsFrom       map[int32][]entity.ITurn // 源车道ID->转向列表（按ID升序）
	mustStopRoadIDs []int32

	accepted   map[int32]*Turn // 主体ID->已授权转向
	controller iController
}

// newJunction 创建并初始化一个新的Junction实例
// 功能：构建路口内全部转向、预计算两两冲突关系并装配通行控制器
// 参数：ctx-任务上下文，base-路口输入数据，laneManager-车道管理器
// 返回：初始化完成的Junction实例
// 算法说明：
//  1. 转向按ID升序排列，冲突关系按ID升序两两判定，结果对称；
//  2. stop_sign控制装配停车让行控制器；
//  3. signal控制在配时标记为自适应且未全局强制固定配时的情况下
//     装配最大压力控制器，否则装配固定配时控制器
func newJunction(ctx entity.ITaskContext, base *input.JunctionData, laneManager entity.ILaneManager) *Junction {
	j := &Junction{
		ctx:             ctx,
		id:              base.ID,
		turnsByID:       make(map[int32]*Turn),
		turnsFrom:       make(map[int32][]entity.ITurn),
		mustStopRoadIDs: base.MustStopRoads,
		accepted:        make(map[int32]*Turn),
	}

	turns := make([]*Turn, 0, len(base.Turns))
	for _, td := range base.Turns {
		turns = append(turns, newTurn(j, td, laneManager))
	}
	sort.Slice(turns, func(i, k int) bool { return turns[i].id < turns[k].id })
	for _, t := range turns {
		j.turns = append(j.turns, t)
		j.turnsByID[t.id] = t
		j.turnsFrom[t.srcLane.ID()] = append(j.turnsFrom[t.srcLane.ID()], t)
	}
	for i, a := range turns {
		for _, b := range turns[i+1:] {
			if conflictsWithTurn(a, b) {
				a.conflictIDs = append(a.conflictIDs, b.id)
				a.conflictSet[b.id] = true
				b.conflictIDs = append(b.conflictIDs, a.id)
				b.conflictSet[a.id] = true
			}
		}
	}
	for _, t := range turns {
		sort.Slice(t.conflictIDs, func(i, k int) bool { return t.conflictIDs[i] < t.conflictIDs[k] })
	}

	switch base.Control {
	case "stop_sign":
		j.controlKind = entity.ControlStopSign
		j.controller = newStopSign(j)
	case "signal":
		j.controlKind = entity.ControlTrafficSignal
		if base.Signal == nil {
			log.Panicf("junction %d: signal control without signal data", j.id)
		}
		if base.Signal.Adaptive && !ctx.RuntimeConfig().C.PreferFixedLight {
			j.controller = newMaxPressure(j, base.Signal)
		} else {
			j.controller = newFixedSignal(j, base.Signal)
		}
	default:
		log.Panicf("junction %d: unknown control kind %s", j.id, base.Control)
	}
	return j
}

// CanProceed 队列引擎使用的唯一通行询问接口
// 功能：判定主体能否进入请求的转向，授权成功后在离开前持续有效
// 参数：req-通行请求事实，now-当前时刻
// 返回：true表示已获授权可以进入
// 算法说明：
//  1. 已持有同一转向授权的重复询问幂等返回true，持有授权却请求
//     其他转向属于引擎错误，直接panic；
//  2. 与任一既有授权冲突时不授权，但控制器仍登记到达事实以保持
//     到达顺序；
//  3. 其余判定交由控制器完成，授权结果记入授权集合
func (j *Junction) CanProceed(req entity.TurnRequest, now geom.Time) bool {
	turn, ok := j.turnsByID[req.Turn.ID()]
	if !ok {
		log.Panicf("junction %d: can_proceed with turn %d of another junction", j.id, req.Turn.ID())
	}
	if held, ok := j.accepted[req.AgentID]; ok {
		if held.id != turn.id {
			log.Panicf("junction %d: agent %d holds a grant for turn %d but requests turn %d",
				j.id, req.AgentID, held.id, turn.id)
		}
		return true
	}
	blocked := false
	for _, held := range j.accepted {
		if turn.ConflictsWith(held.id) {
			blocked = true
			break
		}
	}
	granted := j.controller.canProceed(req, now, blocked)
	if granted {
		j.accepted[req.AgentID] = turn
	}
	return granted
}

// OnExit 主体走完转向离开路口，释放其通行授权
func (j *Junction) OnExit(agentID int32) {
	if _, ok := j.accepted[agentID]; !ok {
		log.Panicf("junction %d: on_exit for agent %d without a grant", j.id, agentID)
	}
	delete(j.accepted, agentID)
}

// CancelRequest 主体取消请求并释放未使用的通行授权
// 说明：幂等，主体在本路口无任何记录时为空操作
func (j *Junction) CancelRequest(agentID int32) {
	delete(j.accepted, agentID)
	j.controller.cancel(agentID)
}

// SignalStage 当前信号灯阶段与阶段剩余时间，无信号灯时ok为false
func (j *Junction) SignalStage() (stage int, remaining geom.Duration, ok bool) {
	return j.controller.stage()
}

// Retime 运行期修改信号灯配时
// 功能：校验新配时并缓冲，下个准备阶段生效
// 参数：stages-新的阶段表，offset-配时起始偏移（秒）
// 返回：非信号灯路口或配时非法时返回error
func (j *Junction) Retime(stages []*input.StageData, offset float64) error {
	rt, ok := j.controller.(retimer)
	if !ok {
		return fmt.Errorf("junction %d has no traffic signal to retime", j.id)
	}
	return rt.retime(stages, offset)
}

// prepare 准备阶段：提交缓冲的配时修改
func (j *Junction) prepare() {
	j.controller.prepare()
}

// update 更新阶段：推进信号灯配时
func (j *Junction) update(dt geom.Duration) {
	j.controller.update(dt)
}

// ID 路口ID
func (j *Junction) ID() int32 {
	return j.id
}

// ControlKind 路口控制类型
func (j *Junction) ControlKind() entity.ControlKind {
	return j.controlKind
}

// Turns 全部转向（按ID升序）
func (j *Junction) Turns() []entity.ITurn {
	return j.turns
}

// GetTurn 根据ID获取转向，不存在则panic
func (j *Junction) GetTurn(id int32) entity.ITurn {
	t, ok := j.turnsByID[id]
	if !ok {
		log.Panicf("no id %d in junction %d turn data", id, j.id)
	}
	return t
}

// TurnsFrom 以指定车道为源车道的转向（按ID升序）
func (j *Junction) TurnsFrom(lane entity.ILane) []entity.ITurn {
	return j.turnsFrom[lane.ID()]
}

func (j *Junction) String() string {
	return fmt.Sprintf("Junction{ID=%d, Control=%v, Turns=%d}", j.id, j.controlKind, len(j.turns))
}

// Checkpoint 导出路口可变状态
// 功能：存档用，授权集合按主体ID升序导出保证序列化结果确定
func (j *Junction) Checkpoint() *Checkpoint {
	chk := &Checkpoint{ID: j.id}
	agentIDs := make([]int32, 0, len(j.accepted))
	for id := range j.accepted {
		agentIDs = append(agentIDs, id)
	}
	sort.Slice(agentIDs, func(i, k int) bool { return agentIDs[i] < agentIDs[k] })
	for _, id := range agentIDs {
		chk.Accepted = append(chk.Accepted, GrantState{AgentID: id, TurnID: j.accepted[id].id})
	}
	j.controller.checkpoint(chk)
	return chk
}

// Restore 从存档恢复路口可变状态，chk为nil时清空为初始状态
func (j *Junction) Restore(chk *Checkpoint) {
	j.accepted = make(map[int32]*Turn)
	j.controller.reset()
	if chk == nil {
		return
	}
	for _, g := range chk.Accepted {
		turn, ok := j.turnsByID[g.TurnID]
		if !ok {
			log.Panicf("junction %d: savestate references unknown turn %d", j.id, g.TurnID)
		}
		j.accepted[g.AgentID] = turn
	}
	j.controller.restore(chk)
}

// Checkpoint 路口存档状态
type Checkpoint struct {
	ID       int32          `json:"id"`
	Accepted []GrantState   `json:"accepted,omitempty"`
	Waiting  []WaitingState `json:"waiting,omitempty"`
	NextSeq  int64          `json:"next_seq,omitempty"`
	Signal   *SignalState   `json:"signal,omitempty"`
}

// GrantState 一条已授权记录
type GrantState struct {
	AgentID int32 `json:"agent_id"`
	TurnID  int32 `json:"turn_id"`
}

// WaitingState 一条等待记录
type WaitingState struct {
	AgentID   int32   `json:"agent_id"`
	TurnID    int32   `json:"turn_id"`
	Seq       int64   `json:"seq"`
	ArrivedAt float64 `json:"arrived_at"`
	Stopped   bool    `json:"stopped,omitempty"`
	StoppedAt float64 `json:"stopped_at,omitempty"`
}

// SignalState 信号灯控制器存档状态
type SignalState struct {
	StageIdx int     `json:"stage_idx"`
	Elapsed  float64 `json:"elapsed,omitempty"` // 固定配时：当前阶段已流逝时间
	// 最大压力信控专用
	Remaining    float64 `json:"remaining,omitempty"` // 当前相位剩余时间
	InAllRed     bool    `json:"in_all_red,omitempty"`
	NextStageIdx int     `json:"next_stage_idx,omitempty"`
	RepeatCount  int     `json:"repeat_count,omitempty"`
}
