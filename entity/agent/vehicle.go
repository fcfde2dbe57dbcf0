package agent

import (
	"github.com/tsinghua-fib-lab/microsim-oss/entity"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/geom"
)

// 车辆在队列模型下的顺序推进逻辑

// updateVehicle 更新阶段(b)：推进单个车辆的移动状态机
// 算法说明：
//  1. 行驶区间结束即转入排队（前端可能仍被前车截断在半路）；
//  2. 排队中有实际推进则重置阻塞计时；走完本段距离后，公交车在
//     停靠点转入停靠，路径终点置到达标记交(c)处理，其余情况在
//     队首且无拖尾头时提升为待进入；
//  3. 待进入状态逐拍尝试进入下一单元：转向需先有转向队列空间、
//     再获路口授权，车道只需队列空间；
//  4. 最后做尾部清扫，出清已完全离开的旧单元
func (m *AgentManager) updateVehicle(a *Agent, now geom.Time) {
	rt := &a.runtime
	switch rt.State.Kind {
	case StateCrossing:
		if now >= rt.State.Time.End {
			st := queuedState(now, rt.State.Dist, rt.State.EndV)
			rt.State = st
			rt.BlockRefFront = rt.Front
		}
	case StateQueued:
		if rt.Front > rt.BlockRefFront+geom.EpsilonDistance {
			rt.State.BlockedSince = now
			rt.BlockRefFront = rt.Front
		}
	}
	if rt.State.Kind == StateQueued && rt.Front >= rt.State.Dist.End-geom.EpsilonDistance {
		switch {
		case rt.Kind == entity.AgentKindBus && m.busAtNextStopMark(a):
			m.busArrive(a, now)
		case rt.StepIdx == len(a.curPath().Steps)-1:
			a.arrived = true
		default:
			m.maybePromote(a)
		}
	}
	if rt.State.Kind == StateWaitingToAdvance {
		m.tryAdvanceVehicle(a, now)
	}
	m.trimLags(a)
}

// maybePromote 走完本单元后，位于队首且无拖尾头时提升为待进入
// 说明：就地改写状态类别，保留阻塞计时与受阻前末速度
func (m *AgentManager) maybePromote(a *Agent) {
	q := m.queues[a.runtime.Trav.ID()]
	if q.head() != a || q.laggyHead != nil {
		return
	}
	a.runtime.State.Kind = StateWaitingToAdvance
}

// tryAdvanceVehicle 尝试进入路径上的下一可通行单元
func (m *AgentManager) tryAdvanceVehicle(a *Agent, now geom.Time) {
	rt := &a.runtime
	path := a.curPath()
	next := path.Steps[rt.StepIdx+1].Traversable()
	nq := m.queues[next.ID()]
	attr := a.attr()
	if !nq.room(attr.Length) {
		return
	}
	if turn, ok := next.(entity.ITurn); ok {
		crossT, _ := geom.SolveCrossing(turn.Length(), 0, turn.MaxSpeedFor(attr.MaxV), attr.MaxA)
		req := entity.TurnRequest{
			AgentID:      a.id,
			Turn:         turn,
			AtEnd:        true,
			Stopped:      true,
			CrossingTime: crossT,
		}
		if !turn.Junction().CanProceed(req, now) {
			return
		}
	}
	nq.reserveEntry(attr.Length)
	m.advanceVehicle(a, next, now)
}

// advanceVehicle 完成一次单元间推进
// 算法说明：旧队列弹出并留作拖尾头；新队列头部插入新节点（每次
// 推进新建节点，避免同一节点跨链表迁移的次序问题）；同拍连续推进
// （受阻时长为0）时以受阻前末速度起步，否则从静止起步
func (m *AgentManager) advanceVehicle(a *Agent, next entity.ITraversable, now geom.Time) {
	rt := &a.runtime
	old := rt.Trav
	oq := m.queues[old.ID()]
	if oq.laggyHead != nil {
		log.Panicf("queue %d: vehicle %d advances with laggy head %d still present",
			old.ID(), a.id, oq.laggyHead.id)
	}
	oq.list.Remove(a.node)
	oq.laggyHead = a
	rt.Lags = append([]entity.ITraversable{old}, rt.Lags...)

	var v0 geom.Speed
	if rt.State.BlockedSince == now {
		v0 = rt.State.EndV
	}
	rt.Trav = next
	rt.StepIdx++
	rt.Front = 0
	rt.KinFront = 0
	a.node = &entity.VehicleNode{S: 0, Value: a}
	m.queues[next.ID()].list.PushFront(a.node)
	rt.State = crossingState(now, next, 0, m.vehicleCrossingTarget(a), v0, a.attr())

	m.emit(travEvent(entity.EventAgentExited, a.id, old))
	m.emit(travEvent(entity.EventAgentEntered, a.id, next))
}

// vehicleCrossingTarget 当前步骤上本段行驶的目标距离
// 说明：末步骤走到路径终点；公交车在下一停靠点截断；其余走到
// 单元末端
func (m *AgentManager) vehicleCrossingTarget(a *Agent) geom.Distance {
	rt := &a.runtime
	path := a.curPath()
	to := rt.Trav.Length()
	if rt.StepIdx == len(path.Steps)-1 {
		to = geom.NewDistance(path.EndS)
	}
	if rt.Kind == entity.AgentKindBus && rt.StopIdx < len(path.BusStops) {
		if mark := path.BusStops[rt.StopIdx]; mark.StepIndex == rt.StepIdx {
			if ms := geom.NewDistance(mark.S); ms < to {
				to = ms
			}
		}
	}
	return to
}

// trimLags 尾部清扫：尾部连同跟车间距已完全离开的旧单元解除占位
// 算法说明：旧单元的已驶离距离为当前单元上的运动学前端加上其间
// 各单元长度，随着旧单元变早单调增加；从最新到最早找到第一个已
// 驶离距离覆盖车长加跟车间距的旧单元，它与更早的旧单元全部出清。
// 转向出清时向路口申报离开以释放授权
func (m *AgentManager) trimLags(a *Agent) {
	rt := &a.runtime
	if len(rt.Lags) == 0 {
		return
	}
	need := a.attr().Length + geom.FollowingDistance
	crossed := rt.Front
	drop := -1
	for i, lag := range rt.Lags {
		if crossed >= need {
			drop = i
			break
		}
		crossed += lag.Length()
	}
	if drop < 0 {
		return
	}
	for i := len(rt.Lags) - 1; i >= drop; i-- {
		m.releaseLag(a, rt.Lags[i])
	}
	rt.Lags = rt.Lags[:drop]
}

// releaseLag 解除主体在一个旧单元上的拖尾占位
func (m *AgentManager) releaseLag(a *Agent, lag entity.ITraversable) {
	q := m.queues[lag.ID()]
	if q.laggyHead != a {
		log.Panicf("queue %d: laggy head is not vehicle %d", lag.ID(), a.id)
	}
	q.laggyHead = nil
	q.freeReserved(a.attr().Length)
	if turn, ok := lag.(entity.ITurn); ok {
		turn.Junction().OnExit(a.id)
	}
}

// despawnFromNetwork 把主体从路网上彻底摘除
// 功能：清掉队列成员与拖尾占位、撤销沿途路口的授权与待决请求、
// 释放预定车位、退出候车队列
// 说明：行程结束/失败/取消共用；先收集涉及的路口再清理占位
func (m *AgentManager) despawnFromNetwork(a *Agent) {
	rt := &a.runtime
	seen := make(map[int32]bool)
	junctions := make([]entity.IJunction, 0, 2)
	collect := func(trav entity.ITraversable) {
		if turn, ok := trav.(entity.ITurn); ok && !seen[turn.Junction().ID()] {
			seen[turn.Junction().ID()] = true
			junctions = append(junctions, turn.Junction())
		}
	}
	if rt.Trav != nil {
		collect(rt.Trav)
		if rt.State.Kind == StateWaitingToAdvance {
			if path := a.curPath(); path != nil && rt.StepIdx+1 < len(path.Steps) {
				if next := path.Steps[rt.StepIdx+1].Traversable(); next != nil {
					collect(next)
				}
			}
		}
	}
	for _, lag := range rt.Lags {
		collect(lag)
	}

	if a.node != nil {
		q := m.queues[rt.Trav.ID()]
		q.list.Remove(a.node)
		q.freeReserved(a.attr().Length)
		a.node = nil
	}
	for _, lag := range rt.Lags {
		q := m.queues[lag.ID()]
		if q.laggyHead == a {
			q.laggyHead = nil
			q.freeReserved(a.attr().Length)
		}
	}
	rt.Lags = nil
	for _, j := range junctions {
		j.CancelRequest(a.id)
	}
	if rt.Trav != nil {
		m.emit(travEvent(entity.EventAgentExited, a.id, rt.Trav))
	}
	if rt.ReservedSpot >= 0 {
		m.parkingM.Release(rt.ReservedSpot, a.id)
		m.emit(entity.Event{Kind: entity.EventSpotReleased, AgentID: a.id, SpotID: rt.ReservedSpot})
		rt.ReservedSpot = -1
	}
	if rt.State.Kind == StateWaitingForBus {
		m.transitM.RemoveWaiting(rt.State.StopID, a.id)
	}
}

// travEvent 构造主体进出可通行单元的事件
func travEvent(kind entity.EventKind, agentID int32, trav entity.ITraversable) entity.Event {
	e := entity.Event{Kind: kind, AgentID: agentID}
	if trav.IsTurn() {
		e.TurnID = trav.ID()
	} else {
		e.LaneID = trav.ID()
	}
	return e
}
