package agent

import (
	"github.com/tsinghua-fib-lab/microsim-oss/entity"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/geom"
)

// 公交车服务逻辑
// 说明：公交车作为普通车辆参与排队模型，只是行驶目标被服务路径
// 上的停靠点逐段截断；停靠期间留在原队列中照常占位

// busAtNextStopMark 公交车是否驶到了下一个停靠点
func (m *AgentManager) busAtNextStopMark(a *Agent) bool {
	rt := &a.runtime
	path := a.curPath()
	if rt.StopIdx >= len(path.BusStops) {
		return false
	}
	mark := path.BusStops[rt.StopIdx]
	return mark.StepIndex == rt.StepIdx &&
		rt.Front >= geom.NewDistance(mark.S)-geom.EpsilonDistance
}

// busArrive 公交到站（更新阶段(b)）
// 说明：入位停靠并推进停靠点下标，停靠期间的上下客与离站由(c)
// 处置
func (m *AgentManager) busArrive(a *Agent, now geom.Time) {
	rt := &a.runtime
	mark := a.curPath().BusStops[rt.StopIdx]
	rt.State = idlingState(now, mark.Stop.ID())
	rt.StopIdx++
	m.emit(entity.Event{
		Kind:    entity.EventBusArrived,
		AgentID: a.id,
		RouteID: a.curTrip().route.ID(),
		StopID:  mark.Stop.ID(),
	})
}

// updateBusAtStop 更新阶段(c)：公交停靠期间的上下客与离站
// 算法说明：每拍先放下到站乘客，再接上候车且匹配本线路本站的
// 行人（按到达先后，停靠期间到站的乘客也能上车）；停靠结束后，
// 末站收班并强制清客，其余站发车续行
func (m *AgentManager) updateBusAtStop(a *Agent, now geom.Time) {
	rt := &a.runtime
	stopID := rt.State.StopID
	route := a.curTrip().route
	m.alightPassengers(a, stopID, now, false)
	m.boardPassengers(a, stopID, route)
	if now < rt.State.Time.End {
		return
	}
	if rt.StopIdx == len(a.curPath().BusStops) {
		m.alightPassengers(a, stopID, now, true)
		m.despawnFromNetwork(a)
		m.finishTrip(a, now)
		return
	}
	m.emit(entity.Event{
		Kind:    entity.EventBusDeparted,
		AgentID: a.id,
		RouteID: route.ID(),
		StopID:  stopID,
	})
	rt.State = crossingState(now, rt.Trav, rt.Front, m.vehicleCrossingTarget(a), 0, a.attr())
}

// alightPassengers 放下以本站为下车站的乘客
// 说明：force在末站收班时置位，线路上不该再有乘客，滞留者行程
// 作废
func (m *AgentManager) alightPassengers(a *Agent, stopID int32, now geom.Time, force bool) {
	rt := &a.runtime
	kept := rt.Passengers[:0]
	for _, pid := range rt.Passengers {
		p := m.mustGet(pid)
		l := p.curLeg()
		if l == nil || l.kind != legRide {
			log.Panicf("bus %d: passenger %d is not on a ride leg", a.id, pid)
		}
		if !force && l.alight.ID() != stopID {
			kept = append(kept, pid)
			continue
		}
		m.emit(entity.Event{
			Kind:    entity.EventPedAlighted,
			AgentID: pid,
			RouteID: l.route.ID(),
			StopID:  stopID,
		})
		if l.alight.ID() != stopID {
			log.Warnf("bus %d ends service at stop %d with passenger %d bound for stop %d",
				a.id, stopID, pid, l.alight.ID())
			m.despawnFromNetwork(p)
			m.failTrip(p, now, reasonRouteEnded)
			continue
		}
		p.curTrip().cur++
		m.beginWalkLeg(p, now)
	}
	rt.Passengers = kept
}

// boardPassengers 接上候车且乘车段匹配本线路本站的行人
func (m *AgentManager) boardPassengers(a *Agent, stopID int32, route entity.ITransitRoute) {
	for _, pid := range m.transitM.WaitingAt(stopID) {
		p := m.mustGet(pid)
		l := p.curLeg()
		if l == nil || l.kind != legRide || l.route.ID() != route.ID() || l.board.ID() != stopID {
			continue
		}
		m.transitM.RemoveWaiting(stopID, pid)
		prt := &p.runtime
		if prt.Trav != nil {
			m.emit(travEvent(entity.EventAgentExited, pid, prt.Trav))
		}
		prt.Trav = nil
		prt.Front = 0
		prt.KinFront = 0
		prt.Backward = false
		prt.State = ridingState(a.id)
		a.runtime.Passengers = append(a.runtime.Passengers, pid)
		m.emit(entity.Event{
			Kind:    entity.EventPedBoarded,
			AgentID: pid,
			RouteID: route.ID(),
			StopID:  stopID,
		})
	}
}
