package transit

import (
	"fmt"
	"sort"

	"github.com/samber/lo"

	"github.com/tsinghua-fib-lab/microsim-oss/entity"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/input"
)

// TransitManager 公交管理器，维护全量线路与车站及各站的候车队列
type TransitManager struct {
	ctx entity.ITaskContext

	routeData map[int32]*Route // 所有线路
	routes    []*Route         // 所有线路（按ID升序）
	stopData  map[int32]*Stop  // 所有车站
	stops     []*Stop          // 所有车站（按ID升序）
}

// NewManager 创建公交管理器
func NewManager(ctx entity.ITaskContext) *TransitManager {
	return &TransitManager{
		ctx:       ctx,
		routeData: make(map[int32]*Route),
		stopData:  make(map[int32]*Stop),
	}
}

// Init 初始化公交管理器
//
// 先按ID升序构造车站并注册到所在车道，再按ID升序构造线路并校验站点引用。
// 车站注册会修改车道的停靠点列表，因此串行执行。
func (m *TransitManager) Init(routes []*input.TransitRouteData, stops []*input.TransitStopData, laneManager entity.ILaneManager) {
	stopBases := make([]*input.TransitStopData, len(stops))
	copy(stopBases, stops)
	sort.Slice(stopBases, func(i, j int) bool { return stopBases[i].ID < stopBases[j].ID })
	for _, base := range stopBases {
		if _, ok := m.stopData[base.ID]; ok {
			log.Panicf("duplicate transit stop id %d", base.ID)
		}
		stop := newStop(base, laneManager)
		m.stopData[stop.id] = stop
		m.stops = append(m.stops, stop)
		stop.drivingPos.Lane.AddBusStopWhenInit(stop.id, base.S)
	}

	routeBases := make([]*input.TransitRouteData, len(routes))
	copy(routeBases, routes)
	sort.Slice(routeBases, func(i, j int) bool { return routeBases[i].ID < routeBases[j].ID })
	for _, base := range routeBases {
		if _, ok := m.routeData[base.ID]; ok {
			log.Panicf("duplicate transit route id %d", base.ID)
		}
		route := newRoute(base, m.stopData)
		m.routeData[route.id] = route
		m.routes = append(m.routes, route)
	}
	log.Debugf("transit: %d routes over %d stops loaded", len(m.routes), len(m.stops))
}

// GetRoute 获取指定ID的线路，不存在时panic
func (m *TransitManager) GetRoute(id int32) entity.ITransitRoute {
	route, ok := m.routeData[id]
	if !ok {
		log.Panicf("no id %d in route data", id)
	}
	return route
}

// GetRouteOrError 获取指定ID的线路，不存在时返回错误
func (m *TransitManager) GetRouteOrError(id int32) (entity.ITransitRoute, error) {
	route, ok := m.routeData[id]
	if !ok {
		return nil, fmt.Errorf("no id %d in route data", id)
	}
	return route, nil
}

// GetStop 获取指定ID的车站，不存在时panic
func (m *TransitManager) GetStop(id int32) entity.ITransitStop {
	stop, ok := m.stopData[id]
	if !ok {
		log.Panicf("no id %d in stop data", id)
	}
	return stop
}

// GetStopOrError 获取指定ID的车站，不存在时返回错误
func (m *TransitManager) GetStopOrError(id int32) (entity.ITransitStop, error) {
	stop, ok := m.stopData[id]
	if !ok {
		return nil, fmt.Errorf("no id %d in stop data", id)
	}
	return stop, nil
}

// Routes 获取所有线路（按ID升序）
func (m *TransitManager) Routes() []entity.ITransitRoute {
	return lo.Map(m.routes, func(route *Route, _ int) entity.ITransitRoute { return route })
}

// AddWaiting 行人到站候车，进入该站候车队列尾部
func (m *TransitManager) AddWaiting(stopID, pedID int32) {
	m.mustGetStop(stopID).addWaiting(pedID)
}

// RemoveWaiting 行人离开候车队列（上车或放弃等待）
func (m *TransitManager) RemoveWaiting(stopID, pedID int32) {
	m.mustGetStop(stopID).removeWaiting(pedID)
}

// WaitingAt 获取车站候车队列的副本（按到达先后）
func (m *TransitManager) WaitingAt(stopID int32) []int32 {
	waiting := m.mustGetStop(stopID).waiting
	out := make([]int32, len(waiting))
	copy(out, waiting)
	return out
}

func (m *TransitManager) mustGetStop(id int32) *Stop {
	stop, ok := m.stopData[id]
	if !ok {
		log.Panicf("no id %d in stop data", id)
	}
	return stop
}
