package agent

import (
	"github.com/tsinghua-fib-lab/microsim-oss/entity"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/geom"
)

// 更新阶段(c)：伪状态推进与到达处置

// updateArrival 处理单个主体的伪状态与到达标记
func (m *AgentManager) updateArrival(a *Agent, now geom.Time) {
	rt := &a.runtime
	switch rt.State.Kind {
	case StateUnparking:
		if now >= rt.State.Time.End {
			m.tryEnterFromSpot(a, now)
		}
		return
	case StateParking:
		if now >= rt.State.Time.End {
			m.completeParking(a, now)
		}
		return
	case StateIdlingAtStop:
		m.updateBusAtStop(a, now)
		return
	}
	if !a.arrived {
		return
	}
	a.arrived = false
	switch a.curLeg().kind {
	case legDrive:
		m.handleDriveArrival(a, now)
	case legBike:
		m.despawnFromNetwork(a)
		m.finishTrip(a, now)
	case legWalk:
		m.handleWalkArrival(a, now)
	case legServeRoute:
		// 服务路径终点与末站停靠点重合，正常在停靠流程中收班
		m.despawnFromNetwork(a)
		m.finishTrip(a, now)
	}
}

// handleWalkArrival 步行段走完：到候车点转入候车，否则行程结束
func (m *AgentManager) handleWalkArrival(a *Agent, now geom.Time) {
	t := a.curTrip()
	if t.cur+1 < len(t.legs) {
		next := t.legs[t.cur+1]
		if next.kind != legRide {
			log.Panicf("agent %d: walk leg followed by non-ride leg", a.id)
		}
		t.cur++
		a.runtime.State = waitingForBusState(next.board.ID())
		m.transitM.AddWaiting(next.board.ID(), a.id)
		return
	}
	m.despawnFromNetwork(a)
	m.finishTrip(a, now)
}

// handleDriveArrival 驾车段驶到路径终点
// 算法说明：已预定车位时终点即其入位停靠点，转入停车；否则就近
// 搜索空闲车位、预定并改道驶向之，没有可用车位则行程失败；改道
// 不可达时排除该车位重找
func (m *AgentManager) handleDriveArrival(a *Agent, now geom.Time) {
	rt := &a.runtime
	if rt.ReservedSpot >= 0 {
		spot := m.parkingM.Get(rt.ReservedSpot)
		rt.State = parkingState(now, rt.ReservedSpot, spot.IsLot())
		return
	}
	pos := entity.Position{Lane: rt.Trav.(entity.ILane), S: rt.Front.Meters()}
	var v0 geom.Speed
	if rt.State.Kind == StateQueued && rt.State.BlockedSince == now {
		v0 = rt.State.EndV
	}
	excluded := make(map[int32]bool)
	for {
		spot, err := m.parkingM.FindSpotNear(pos, excluded)
		if err != nil {
			log.Warnf("agent %d found no parking near lane %d: %v", a.id, pos.Lane.ID(), err)
			m.despawnFromNetwork(a)
			m.failTrip(a, now, reasonNoParking)
			return
		}
		m.parkingM.Reserve(spot.ID(), a.id)
		path, rerr := m.ctx.Router().Search(entity.RouteModeDriving, pos, spot.DrivingPos(), a.attr().MaxV)
		if rerr != nil {
			m.parkingM.Release(spot.ID(), a.id)
			excluded[spot.ID()] = true
			continue
		}
		rt.ReservedSpot = spot.ID()
		a.curLeg().path = path
		rt.StepIdx = 0
		rt.State = crossingState(now, rt.Trav, rt.Front, m.vehicleCrossingTarget(a), v0, a.attr())
		m.emit(entity.Event{Kind: entity.EventSpotReserved, AgentID: a.id, SpotID: spot.ID()})
		m.emit(entity.Event{Kind: entity.EventPathAmended, AgentID: a.id, LaneID: pos.Lane.ID()})
		return
	}
}

// completeParking 停车入位完成
// 算法说明：占用车位并离网；车位步行点到行程名义终点仍有距离时
// 追加步行段走完最后一程，否则行程就地结束
func (m *AgentManager) completeParking(a *Agent, now geom.Time) {
	rt := &a.runtime
	spotID := rt.State.SpotID
	m.parkingM.Claim(spotID, a.id)
	a.parkedSpot = spotID
	rt.ReservedSpot = -1
	m.emit(entity.Event{Kind: entity.EventSpotClaimed, AgentID: a.id, SpotID: spotID})
	m.despawnFromNetwork(a)

	t := a.curTrip()
	from := m.parkingM.Get(spotID).WalkingPos()
	walkEnd, ok := t.end.Lane.ParentRoad().ProjectToSidewalk(t.end)
	if from.Lane == nil || !ok ||
		(from.Lane.ID() == walkEnd.Lane.ID() && from.S == walkEnd.S) {
		m.finishTrip(a, now)
		return
	}
	path, err := m.ctx.Router().Search(entity.RouteModeWalking, from, walkEnd, 0)
	if err != nil {
		log.Warnf("agent %d cannot walk from spot %d to trip end: %v", a.id, spotID, err)
		m.finishTrip(a, now)
		return
	}
	t.legs = append(t.legs, &leg{kind: legWalk, path: path})
	t.cur++
	m.beginWalkLeg(a, now)
}

// tryEnterFromSpot 驶出车位计时结束后尝试汇入车道
// 算法说明：汇入点前后须留有跟车间隙且车道有容量，不满足时保持
// 驶出状态逐拍重试；汇入的同时释放车位
func (m *AgentManager) tryEnterFromSpot(a *Agent, now geom.Time) {
	rt := &a.runtime
	spot := m.parkingM.Get(rt.State.SpotID)
	pos := spot.DrivingPos()
	lane := pos.Lane
	q := m.queues[lane.ID()]
	attr := a.attr()
	s := geom.NewDistance(pos.S)
	if !q.room(attr.Length) || !q.fitsAt(s, attr.Length) {
		return
	}
	rt.Trav = lane
	rt.StepIdx = 0
	rt.Front = s
	rt.KinFront = s
	rt.Backward = false
	q.reserveEntry(attr.Length)
	m.insertIntoQueue(a, q, s)
	m.parkingM.Release(spot.ID(), a.id)
	a.parkedSpot = -1
	m.emit(entity.Event{Kind: entity.EventSpotReleased, AgentID: a.id, SpotID: spot.ID()})
	rt.State = crossingState(now, lane, s, m.vehicleCrossingTarget(a), 0, attr)
	m.emit(travEvent(entity.EventAgentEntered, a.id, lane))
}

// insertIntoQueue 按前端位置有序插入队列链表
func (m *AgentManager) insertIntoQueue(a *Agent, q *queue, s geom.Distance) {
	a.node = &entity.VehicleNode{S: s.Meters(), Value: a}
	for node := q.list.First(); node != nil; node = node.Next() {
		if node.Value.(*Agent).runtime.Front >= s {
			node.InsertBefore(a.node)
			return
		}
	}
	q.list.PushBack(a.node)
}
