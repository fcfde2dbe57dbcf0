package entity

import (
	"github.com/tsinghua-fib-lab/microsim-oss/clock"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/config"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/geom"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/randengine"
)

// RouteMode 路径规划模式
type RouteMode int8

const (
	RouteModeDriving RouteMode = iota // 机动车
	RouteModeBike                     // 自行车
	RouteModeWalking                  // 步行（可含公交）
)

func (m RouteMode) String() string {
	switch m {
	case RouteModeDriving:
		return "driving"
	case RouteModeBike:
		return "bike"
	default:
		return "walking"
	}
}

// 导航模块接口
type IRouter interface {
	// 路径规划：从start到end按模式搜索最短时间路径
	Search(mode RouteMode, start Position, end Position, vehMaxV geom.Speed) (*Path, error)
	// 公交车服务路径规划：沿线路把各站间行车路径依次连接
	SearchBusRoute(route ITransitRoute, startPos Position) (*Path, error)
}

type ITaskContext interface {
	Clock() *clock.Clock
	LaneManager() ILaneManager
	RoadManager() IRoadManager
	JunctionManager() IJunctionManager
	ParkingManager() IParkingManager
	TransitManager() ITransitManager
	AgentManager() IAgentManager
	RuntimeConfig() *config.RuntimeConfig
	Router() IRouter
	Rand() *randengine.Engine
	Events() IEventSink
}
