// Package routing 实现车辆、行人与公交的最短时间路径搜索
//
// 路网静态不变时在预构建的邻接图上做Dijkstra；路网被运行期修改标脏后
// 退化为直接遍历实体的A*，两者在相同路网上给出一致结果。
package routing

import (
	"errors"
	"flag"
	"fmt"

	"github.com/tsinghua-fib-lab/microsim-oss/entity"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/geom"
)

var (
	leftTurnPenalty = flag.Float64("rt.left_turn_penalty", 20,
		"路径代价中左转的额外时间惩罚（秒）")
	uTurnPenalty = flag.Float64("rt.uturn_penalty", 60,
		"路径代价中掉头的额外时间惩罚（秒）")
	busSpeed = flag.Float64("rt.bus_speed", 40/3.6,
		"公交规划与乘车时间估算所用的平均速度（米/秒）")
	busWaitTime = flag.Float64("rt.bus_wait_time", 300,
		"乘车时间估算中的平均候车时间（秒）")
)

// ErrNoPathFound 起终点之间不存在可行路径
var ErrNoPathFound = errors.New("no path found between the requested positions")

func allowDriving(t entity.LaneType) bool {
	return t == entity.LaneTypeDriving
}

func allowBike(t entity.LaneType) bool {
	return t == entity.LaneTypeDriving || t == entity.LaneTypeBike
}

func allowBus(t entity.LaneType) bool {
	return t == entity.LaneTypeDriving || t == entity.LaneTypeBus
}

// Router 路径搜索器
// 功能：按模式（机动车/自行车/步行）搜索最短时间路径，
// 步行模式同时评估公交换乘方案并择优
type Router struct {
	laneManager     entity.ILaneManager
	junctionManager entity.IJunctionManager
	transitManager  entity.ITransitManager

	driving *vehicleGraph
	bike    *vehicleGraph
	bus     *vehicleGraph
	walk    *walkGraph
	// 路网被运行期修改后置位，搜索退化为实体A*直到重建
	dirty bool
}

// New 创建并初始化一个新的Router实例
// 参数：laneManager-车道管理器，junctionManager-路口管理器，
// transitManager-公交管理器
// 返回：初始化完成的Router实例（静态图已构建）
func New(
	laneManager entity.ILaneManager,
	junctionManager entity.IJunctionManager,
	transitManager entity.ITransitManager,
) *Router {
	r := &Router{
		laneManager:     laneManager,
		junctionManager: junctionManager,
		transitManager:  transitManager,
	}
	r.Rebuild()
	return r
}

// Rebuild 按当前路网重建全部静态搜索图并清除脏标记
func (r *Router) Rebuild() {
	r.driving = buildVehicleGraph(r.laneManager, r.junctionManager, allowDriving)
	r.bike = buildVehicleGraph(r.laneManager, r.junctionManager, allowBike)
	r.bus = buildVehicleGraph(r.laneManager, r.junctionManager, allowBus)
	r.walk = buildWalkGraph(r.laneManager, r.junctionManager)
	r.dirty = false
	log.Debugf("router: graphs ready, %d driving / %d bike / %d bus / %d sidewalk lanes",
		len(r.driving.lanes), len(r.bike.lanes), len(r.bus.lanes), len(r.walk.lanes))
}

// MarkDirty 标记静态图与路网不再一致
// 说明：之后的搜索改走实体A*，直到下一次Rebuild
func (r *Router) MarkDirty() {
	r.dirty = true
}

// Search 路径规划：从start到end按模式搜索最短时间路径
// 参数：mode-规划模式，start/end-起终点位置，vehMaxV-主体最高速度
// 返回：最短时间路径；不可达时返回ErrNoPathFound
func (r *Router) Search(
	mode entity.RouteMode, start, end entity.Position, vehMaxV geom.Speed,
) (*entity.Path, error) {
	if start.Lane == nil || end.Lane == nil {
		log.Panicf("search %v with no lane in position", mode)
	}
	switch mode {
	case entity.RouteModeDriving:
		p, _, err := r.vehicleSearch(r.driving, allowDriving, start, end, vehMaxV)
		return p, err
	case entity.RouteModeBike:
		p, _, err := r.vehicleSearch(r.bike, allowBike, start, end, vehMaxV)
		return p, err
	case entity.RouteModeWalking:
		return r.searchWalking(start, end, vehMaxV)
	default:
		log.Panicf("unknown route mode %d", mode)
		return nil, nil
	}
}

// vehicleSearch 行车搜索的静态图/实体A*分发
func (r *Router) vehicleSearch(
	g *vehicleGraph, allow func(entity.LaneType) bool,
	start, end entity.Position, vehMaxV geom.Speed,
) (*entity.Path, float64, error) {
	if r.dirty {
		return astarVehicleSearch(r.junctionManager, allow, start, end, vehMaxV)
	}
	return g.search(start, end, vehMaxV)
}

// walkSearch 步行搜索的静态图/实体A*分发
func (r *Router) walkSearch(
	start, end entity.Position, walkMaxV geom.Speed,
) (*entity.Path, float64, error) {
	if r.dirty {
		return astarWalkSearch(r.junctionManager, start, end, walkMaxV)
	}
	return r.walk.search(start, end, walkMaxV)
}

// searchWalking 步行路径规划
// 算法说明：先做纯步行搜索，再在全部公交线路上枚举上下车站组合估算
// 步行-乘车-步行的总时间，估算更优时返回含乘车步骤的路径；
// 两者都不可达时返回ErrNoPathFound
func (r *Router) searchWalking(
	start, end entity.Position, walkMaxV geom.Speed,
) (*entity.Path, error) {
	walkPath, walkCost, walkErr := r.walkSearch(start, end, walkMaxV)
	if walkErr != nil && !errors.Is(walkErr, ErrNoPathFound) {
		return nil, walkErr
	}
	busPath, busCost, hasBus := r.bestBusAlternative(start, end, walkMaxV)
	if walkErr == nil {
		if hasBus && busCost < walkCost {
			return busPath, nil
		}
		return walkPath, nil
	}
	if hasBus {
		return busPath, nil
	}
	return nil, walkErr
}

// SearchBusRoute 公交车服务路径规划
// 功能：从当前位置出发依次驶过线路各站，最后回到首站完成一个整环
// 算法说明：逐站在公交图上做行车搜索并拼接，相邻两腿共享的边界
// 车道只保留一次；每到一站在末车道步骤上记一个停靠点
func (r *Router) SearchBusRoute(
	route entity.ITransitRoute, startPos entity.Position,
) (*entity.Path, error) {
	stopIDs := route.StopIDs()
	stops := make([]entity.ITransitStop, len(stopIDs))
	for i, id := range stopIDs {
		stops[i] = r.transitManager.GetStop(id)
	}
	busV := geom.NewSpeed(*busSpeed)

	path := &entity.Path{StartS: startPos.S}
	cur := startPos
	for k := 0; k <= len(stops); k++ {
		stop := stops[k%len(stops)]
		target := stop.DrivingPos()
		leg, _, err := r.vehicleSearch(r.bus, allowBus, cur, target, busV)
		if err != nil {
			return nil, fmt.Errorf("bus route %d: no drivable path to stop %d: %w",
				route.ID(), stop.ID(), err)
		}
		appendLeg(path, leg)
		path.BusStops = append(path.BusStops, entity.BusStopMark{
			StepIndex: len(path.Steps) - 1,
			S:         target.S,
			Stop:      stop,
		})
		cur = target
	}
	path.EndS = stops[0].DrivingPos().S
	return path, nil
}

// appendLeg 把一腿路径接到已有路径之后，去掉与末步骤重复的边界车道
func appendLeg(path *entity.Path, leg *entity.Path) {
	steps := leg.Steps
	if n := len(path.Steps); n > 0 {
		last := path.Steps[n-1]
		if last.Kind == entity.StepLane && steps[0].Kind == entity.StepLane &&
			last.Lane.ID() == steps[0].Lane.ID() {
			steps = steps[1:]
		}
	}
	path.Steps = append(path.Steps, steps...)
}
