package agent

import (
	"fmt"

	"github.com/tsinghua-fib-lab/microsim-oss/entity"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/geom"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/input"
)

// tripMode 出行模式
type tripMode int8

const (
	modeDriving tripMode = iota
	modeBike
	modeWalking
	modeServeBus
)

func (m tripMode) String() string {
	switch m {
	case modeDriving:
		return "driving"
	case modeBike:
		return "bike"
	case modeWalking:
		return "walking"
	default:
		return "serve_bus"
	}
}

func parseTripMode(s string) (tripMode, error) {
	switch s {
	case "driving":
		return modeDriving, nil
	case "bike":
		return modeBike, nil
	case "walking":
		return modeWalking, nil
	case "serve_bus":
		return modeServeBus, nil
	default:
		return modeDriving, fmt.Errorf("unknown trip mode %s", s)
	}
}

// tripOutcome 行程结果
type tripOutcome int8

const (
	outcomePending tripOutcome = iota
	outcomeActive
	outcomeFinished
	outcomeFailed
	outcomeCancelled
)

func (o tripOutcome) String() string {
	switch o {
	case outcomePending:
		return "pending"
	case outcomeActive:
		return "active"
	case outcomeFinished:
		return "finished"
	case outcomeFailed:
		return "failed"
	default:
		return "cancelled"
	}
}

// legKind 行程段类别
type legKind int8

const (
	legWalk legKind = iota
	legDrive
	legBike
	legRide
	legServeRoute
)

// leg 行程段
// 说明：乘车段没有自己的路径，由所乘公交承运；驾车行程在停车
// 入位后动态追加车位到目的地的步行段
type leg struct {
	kind legKind
	path *entity.Path
	// 乘车段与公交服务段的线路
	route entity.ITransitRoute
	// 乘车段的上下车站
	board  entity.ITransitStop
	alight entity.ITransitStop
}

// trip 一次出行及其执行状态
type trip struct {
	idx       int // 在主体行程计划中的序号，即事件中的TripID
	mode      tripMode
	departure geom.Time
	// 起终点在初始化时静态解析（隐式起点取上一行程名义终点）
	start, end    entity.Position
	implicitStart bool
	// serve_bus的服务线路
	route entity.ITransitRoute

	legs   []*leg
	cur    int
	routed bool

	outcome     tripOutcome
	reason      string
	startedAt   geom.Time
	endedAt     geom.Time
	nextAttempt geom.Time // 生成受阻后的下次尝试时刻
}

// parseTrips 解析主体的行程计划
// 功能：解析模式、解析并投影起终点、校验服务线路
// 说明：隐式起点取上一行程的名义终点（首个行程取home），隐式
// 终点取home；任何非法数据直接Fatalf退出
func parseTrips(m *AgentManager, a *Agent, base *input.PersonData) []*trip {
	trips := make([]*trip, 0, len(base.Trips))
	prevEnd := a.home
	for i, td := range base.Trips {
		mode, err := parseTripMode(td.Mode)
		if err != nil {
			log.Fatalf("person %d trip %d: %v", base.ID, i, err)
		}
		if td.Departure < 0 {
			log.Fatalf("person %d trip %d: negative departure %v", base.ID, i, td.Departure)
		}
		start := prevEnd
		if td.Start != nil {
			start = m.resolvePosition(base.ID, td.Start)
		}
		end := a.home
		if td.End != nil {
			end = m.resolvePosition(base.ID, td.End)
		}
		t := &trip{
			idx:           i,
			mode:          mode,
			departure:     geom.NewTime(td.Departure),
			implicitStart: td.Start == nil,
		}
		switch mode {
		case modeDriving:
			if a.vehicleKind == entity.AgentKindBike {
				log.Fatalf("person %d trip %d: driving trip with a bike", base.ID, i)
			}
			t.start = m.projectToModeNetwork(base.ID, i, mode, start)
			t.end = m.projectToModeNetwork(base.ID, i, mode, end)
		case modeBike, modeWalking:
			t.start = m.projectToModeNetwork(base.ID, i, mode, start)
			t.end = m.projectToModeNetwork(base.ID, i, mode, end)
		case modeServeBus:
			route, rerr := m.transitM.GetRouteOrError(td.Route)
			if rerr != nil {
				log.Fatalf("person %d trip %d: %v", base.ID, i, rerr)
			}
			t.route = route
			t.start = m.projectToModeNetwork(base.ID, i, mode, start)
			// 环线服务结束于首站停靠点
			t.end = m.transitM.GetStop(route.StopIDs()[0]).DrivingPos()
		}
		if t.mode != modeServeBus && t.start.Lane.ID() == t.end.Lane.ID() &&
			t.start.S == t.end.S {
			log.Fatalf("person %d trip %d: start equals end", base.ID, i)
		}
		trips = append(trips, t)
		prevEnd = t.end
	}
	return trips
}

// resolvePosition 解析输入定位
func (m *AgentManager) resolvePosition(personID int32, p *input.PositionData) entity.Position {
	lane, err := m.laneM.GetOrError(p.Lane)
	if err != nil {
		log.Fatalf("person %d: %v", personID, err)
	}
	if p.S < 0 || p.S > lane.Length().Meters() {
		log.Fatalf("person %d: position s=%v out of lane %d [0, %v]", personID, p.S, p.Lane, lane.Length())
	}
	return entity.Position{Lane: lane, S: p.S}
}

// projectToModeNetwork 把定位投影到出行模式对应的路网上
// 功能：车辆模式投影到行车道、步行模式投影到人行道，定位已在
// 对应路网上时原样返回
// 说明：位置链使得驾车行程的隐式起点可能落在人行道上（上一段
// 以停车后步行收尾），在此统一换算；无法投影视为数据错误
func (m *AgentManager) projectToModeNetwork(personID int32, tripIdx int, mode tripMode, pos entity.Position) entity.Position {
	lt := pos.Lane.Type()
	switch mode {
	case modeWalking:
		if lt == entity.LaneTypeSidewalk {
			return pos
		}
		if projected, ok := pos.Lane.ParentRoad().ProjectToSidewalk(pos); ok {
			return projected
		}
	case modeBike:
		if lt == entity.LaneTypeBike || lt == entity.LaneTypeDriving {
			return pos
		}
		if projected, ok := pos.Lane.ParentRoad().ProjectToDriving(pos); ok {
			return projected
		}
	default:
		if lt == entity.LaneTypeDriving || lt == entity.LaneTypeBus {
			return pos
		}
		if projected, ok := pos.Lane.ParentRoad().ProjectToDriving(pos); ok {
			return projected
		}
	}
	log.Fatalf("person %d trip %d: position on lane %d cannot reach the %v network",
		personID, tripIdx, pos.Lane.ID(), mode)
	return entity.Position{}
}

// buildLegs 展开行程为行程段序列（生成时调用一次）
// 功能：调用导航得到路径，步行路径按乘车步骤切分成段
// 返回：无法求得路径时返回error
func (m *AgentManager) buildLegs(a *Agent, t *trip) error {
	r := m.ctx.Router()
	switch t.mode {
	case modeDriving:
		start := t.start
		if a.parkedSpot >= 0 {
			// 从上次停车的车位驶出
			start = m.parkingM.Get(a.parkedSpot).DrivingPos()
		}
		path, err := r.Search(entity.RouteModeDriving, start, t.end, a.attrFor(a.vehicleKind).MaxV)
		if err != nil {
			return err
		}
		t.legs = []*leg{{kind: legDrive, path: path}}
	case modeBike:
		path, err := r.Search(entity.RouteModeBike, t.start, t.end, a.bikeAttr.MaxV)
		if err != nil {
			return err
		}
		t.legs = []*leg{{kind: legBike, path: path}}
	case modeWalking:
		path, err := r.Search(entity.RouteModeWalking, t.start, t.end, 0)
		if err != nil {
			return err
		}
		t.legs = splitWalkLegs(path)
	case modeServeBus:
		path, err := r.SearchBusRoute(t.route, t.start)
		if err != nil {
			return err
		}
		t.legs = []*leg{{kind: legServeRoute, path: path, route: t.route}}
	}
	t.cur = 0
	t.routed = true
	return nil
}

// splitWalkLegs 把含乘车步骤的步行路径切分为步行段与乘车段
// 算法说明：乘车步骤两侧的步行步骤各成一段，段边界的s坐标取
// 上/下车站的候车位置；起点恰在车站时首段为空，直接候车
func splitWalkLegs(path *entity.Path) []*leg {
	legs := make([]*leg, 0, 1)
	startS := path.StartS
	seg := make([]entity.PathStep, 0, len(path.Steps))
	for _, step := range path.Steps {
		if step.Kind != entity.StepRideBus {
			seg = append(seg, step)
			continue
		}
		if len(seg) > 0 {
			legs = append(legs, &leg{kind: legWalk, path: &entity.Path{
				Steps:  seg,
				StartS: startS,
				EndS:   step.BoardStop.WalkingPos().S,
			}})
		}
		legs = append(legs, &leg{
			kind:   legRide,
			route:  step.Route,
			board:  step.BoardStop,
			alight: step.AlightStop,
		})
		startS = step.AlightStop.WalkingPos().S
		seg = make([]entity.PathStep, 0, len(path.Steps))
	}
	legs = append(legs, &leg{kind: legWalk, path: &entity.Path{
		Steps:  seg,
		StartS: startS,
		EndS:   path.EndS,
	}})
	return legs
}

// finishTrip 行程正常结束
func (m *AgentManager) finishTrip(a *Agent, now geom.Time) {
	t := a.curTrip()
	t.outcome = outcomeFinished
	t.endedAt = now
	m.emit(entity.Event{Kind: entity.EventTripFinished, AgentID: a.id, TripID: int32(t.idx)})
	log.Debugf("agent %d finished trip %d in %v", a.id, t.idx, now.Sub(t.startedAt))
	a.tripIdx++
	a.chainOK = true // 位置链在名义终点处恢复
	a.resetOffMap()
	m.active.Remove(a)
}

// failTrip 行程失败（无路径、无车位等）
// 说明：只做结果记账，网络上的清理由调用方完成；位置链中断，
// 后续隐式起点的行程将连带作废
func (m *AgentManager) failTrip(a *Agent, now geom.Time, reason string) {
	t := a.curTrip()
	wasActive := t.outcome == outcomeActive
	t.outcome = outcomeFailed
	t.reason = reason
	t.endedAt = now
	m.emit(entity.Event{Kind: entity.EventTripFailed, AgentID: a.id, TripID: int32(t.idx), Reason: reason})
	log.Warnf("agent %d trip %d failed: %s", a.id, t.idx, reason)
	a.tripIdx++
	a.chainOK = false
	a.resetOffMap()
	if wasActive {
		m.active.Remove(a)
	}
}

// cancelTrip 行程被堵死处置策略取消
func (m *AgentManager) cancelTrip(a *Agent, now geom.Time, reason string) {
	t := a.curTrip()
	t.outcome = outcomeCancelled
	t.reason = reason
	t.endedAt = now
	m.emit(entity.Event{Kind: entity.EventTripCancelled, AgentID: a.id, TripID: int32(t.idx), Reason: reason})
	log.Warnf("agent %d trip %d cancelled after stalling: %s", a.id, t.idx, reason)
	a.tripIdx++
	a.chainOK = false
	a.resetOffMap()
	m.active.Remove(a)
}

// resetOffMap 重置运行态为不在网
func (a *Agent) resetOffMap() {
	a.runtime = runtime{Kind: entity.AgentKindPedestrian, State: offMapState(), ReservedSpot: -1}
	a.node = nil
	a.arrived = false
}
