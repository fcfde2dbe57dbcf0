package agent

import (
	"github.com/tsinghua-fib-lab/microsim-oss/entity"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/geom"
)

// 行人推进逻辑
// 说明：行人不参与排队模型，沿人行道匀速行进且互不阻挡；人行
// 横道受路口放行控制，转角绕行不进入路面、不受控

// updatePedestrian 更新阶段(b)：推进单个行人
// 算法说明：行走区间结束时，末步骤置到达标记交(c)处理，否则切换
// 到下一步骤；人行横道未获放行时转入等待并逐拍重试
func (m *AgentManager) updatePedestrian(a *Agent, now geom.Time) {
	rt := &a.runtime
	switch rt.State.Kind {
	case StateCrossing:
		if now < rt.State.Time.End {
			return
		}
		if rt.StepIdx == len(a.curPath().Steps)-1 {
			a.arrived = true
			return
		}
		m.tryAdvancePedestrian(a, now)
	case StateWaitingToAdvance:
		m.tryAdvancePedestrian(a, now)
	}
}

// tryAdvancePedestrian 行人尝试进入路径上的下一步骤
func (m *AgentManager) tryAdvancePedestrian(a *Agent, now geom.Time) {
	rt := &a.runtime
	path := a.curPath()
	next := path.Steps[rt.StepIdx+1]
	if next.Kind == entity.StepTurn && next.Turn.Type() == entity.TurnTypeCrosswalk {
		turn := next.Turn
		req := entity.TurnRequest{
			AgentID:      a.id,
			Turn:         turn,
			AtEnd:        true,
			Stopped:      true,
			CrossingTime: turn.Length().DivV(turn.MaxSpeedFor(geom.PedestrianSpeed)),
		}
		if !turn.Junction().CanProceed(req, now) {
			if rt.State.Kind != StateWaitingToAdvance {
				rt.State = agentState{Kind: StateWaitingToAdvance, BlockedSince: now, Dist: rt.State.Dist}
				rt.BlockRefFront = rt.Front
			}
			return
		}
	}
	m.advancePedestrian(a, now)
}

// advancePedestrian 行人完成一次步骤切换
// 说明：行人没有尾部占位，离开人行横道的同时向路口申报离开
func (m *AgentManager) advancePedestrian(a *Agent, now geom.Time) {
	rt := &a.runtime
	path := a.curPath()
	old := rt.Trav
	if turn, ok := old.(entity.ITurn); ok && turn.Type() == entity.TurnTypeCrosswalk {
		turn.Junction().OnExit(a.id)
	}
	rt.StepIdx++
	step := path.Steps[rt.StepIdx]
	rt.Trav = step.Traversable()
	rt.Backward = step.Kind == entity.StepContraflowLane
	from, to := walkSpan(path, rt.StepIdx)
	rt.Front = from
	rt.KinFront = from
	rt.State = walkCrossingState(now, rt.Trav, from, to)
	m.emit(travEvent(entity.EventAgentExited, a.id, old))
	m.emit(travEvent(entity.EventAgentEntered, a.id, rt.Trav))
}

// beginWalkLeg 行人开始当前步行段（行程生成与下车共用）
// 说明：下车点恰为行程终点时步行段没有步骤，原地完成行程
func (m *AgentManager) beginWalkLeg(a *Agent, now geom.Time) {
	rt := &a.runtime
	rt.Kind = entity.AgentKindPedestrian
	path := a.curPath()
	if len(path.Steps) == 0 {
		m.finishTrip(a, now)
		return
	}
	rt.StepIdx = 0
	step := path.Steps[0]
	rt.Trav = step.Traversable()
	rt.Backward = step.Kind == entity.StepContraflowLane
	from, to := walkSpan(path, 0)
	rt.Front = from
	rt.KinFront = from
	rt.State = walkCrossingState(now, rt.Trav, from, to)
	m.emit(travEvent(entity.EventAgentEntered, a.id, rt.Trav))
}

// walkSpan 步行路径第i步的行进里程区间
// 算法说明：正向步行里程即s坐标，逆向步行里程为车道长减s；首末
// 步骤分别从StartS出发、到EndS为止，中间步骤走满全程
func walkSpan(path *entity.Path, i int) (from, to geom.Distance) {
	step := path.Steps[i]
	length := step.Traversable().Length()
	from, to = 0, length
	if i == 0 {
		s := geom.NewDistance(path.StartS)
		if step.Kind == entity.StepContraflowLane {
			from = length - s
		} else {
			from = s
		}
	}
	if i == len(path.Steps)-1 {
		s := geom.NewDistance(path.EndS)
		if step.Kind == entity.StepContraflowLane {
			to = length - s
		} else {
			to = s
		}
	}
	return from, to
}
