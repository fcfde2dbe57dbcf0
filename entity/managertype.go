package entity

import (
	"github.com/tsinghua-fib-lab/microsim-oss/utils/geom"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/input"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/randengine"
)

// Manager依赖倒置

// entity/lane/manager.go的依赖倒置
type ILaneManager interface {
	Init(data []*input.LaneData) // 初始化
	// 初始化车道间的侧向关系与黑洞标记（需要road/junction就绪）
	InitAfterNetwork(roadManager IRoadManager, junctionManager IJunctionManager)

	// 输入Lane ID，查找Lane，如果不存在则panic
	Get(id int32) ILane
	// 输入Lane ID，查找Lane，如果不存在则返回error
	GetOrError(id int32) (ILane, error)
	// 全部车道（按ID升序）
	Lanes() []ILane
}

// entity/road/manager.go的依赖倒置
type IRoadManager interface {
	Init(data []*input.RoadData, laneManager ILaneManager) // 初始化
	// 初始化所有Road与Junction的连接关系
	InitAfterJunction(junctionManager IJunctionManager)

	// 输入Road ID，查找Road，如果不存在则panic
	Get(id int32) IRoad
	// 输入Road ID，查找Road，如果不存在则返回error
	GetOrError(id int32) (IRoad, error)
	// 全部道路（按ID升序）
	Roads() []IRoad
}

// entity/junction/manager.go的依赖倒置
type IJunctionManager interface {
	Init(data []*input.JunctionData, laneManager ILaneManager, roadManager IRoadManager) // 初始化

	// 输入Junction ID，查找Junction，如果不存在则panic
	Get(id int32) IJunction
	// 输入Junction ID，查找Junction，如果不存在则返回error
	GetOrError(id int32) (IJunction, error)
	// 输入Turn ID，查找Turn，如果不存在则panic
	GetTurn(id int32) ITurn
	// 输入Turn ID，查找Turn，如果不存在则返回error
	GetTurnOrError(id int32) (ITurn, error)
	// 全部路口（按ID升序）
	Junctions() []IJunction

	Prepare()                // 准备阶段：提交信号灯状态
	Update(dt geom.Duration) // 更新阶段：推进信号灯配时
}

// entity/parking/manager.go的依赖倒置
type IParkingManager interface {
	Init(lots []*input.LotData, laneManager ILaneManager) // 初始化

	// 按照给定比例随机占用车位（确定性：车位ID升序逐个抽样）
	SeedOccupancy(ratio float64, rng *randengine.Engine)

	// 输入Spot ID，查找Spot，如果不存在则panic
	Get(id int32) ISpot
	// 输入Spot ID，查找Spot，如果不存在则返回error
	GetOrError(id int32) (ISpot, error)

	// 从给定行车道位置沿行车网络搜索最近的空闲车位
	FindSpotNear(pos Position, excluded map[int32]bool) (ISpot, error)
	// 预定车位（主体驶向车位途中持有）
	Reserve(spotID int32, agentID int32)
	// 占用车位（主体完成停车），若已被他人占用则panic
	Claim(spotID int32, agentID int32)
	// 释放车位（预定取消或车辆驶离）
	Release(spotID int32, agentID int32)
	// 车位是否空闲（未被占用且未被预定）
	IsFree(spotID int32) bool
	// 主体当前占用的车位
	SpotOfAgent(agentID int32) (ISpot, bool)
	// 指定车道上的车位总数与空闲数
	LaneOccupancy(laneID int32) (total int, free int)
	// 指定停车场的车位总数与空闲数
	LotOccupancy(lotID int32) (total int, free int)
}

// entity/transit/manager.go的依赖倒置
type ITransitManager interface {
	Init(routes []*input.TransitRouteData, stops []*input.TransitStopData, laneManager ILaneManager) // 初始化

	// 输入Route ID，查找Route，如果不存在则panic
	GetRoute(id int32) ITransitRoute
	// 输入Route ID，查找Route，如果不存在则返回error
	GetRouteOrError(id int32) (ITransitRoute, error)
	// 输入Stop ID，查找Stop，如果不存在则panic
	GetStop(id int32) ITransitStop
	// 输入Stop ID，查找Stop，如果不存在则返回error
	GetStopOrError(id int32) (ITransitStop, error)
	// 全部线路（按ID升序）
	Routes() []ITransitRoute

	// 行人开始在车站候车
	AddWaiting(stopID int32, pedID int32)
	// 行人离开候车队列（上车或取消）
	RemoveWaiting(stopID int32, pedID int32)
	// 车站候车行人（按到达先后）
	WaitingAt(stopID int32) []int32
}

// entity/agent/manager.go的依赖倒置
type IAgentManager interface {
	// 初始化
	Init(
		persons []*input.PersonData,
		laneManager ILaneManager,
		junctionManager IJunctionManager,
		parkingManager IParkingManager,
		transitManager ITransitManager,
	)

	// 输入Agent ID，查找Agent，如果不存在则panic
	Get(id int32) IAgent
	// 输入Agent ID，查找Agent，如果不存在则返回error
	GetOrError(id int32) (IAgent, error)
	// 当前活跃主体ID（升序）
	ActiveIDs() []int32

	PrepareNode() // 准备阶段：队列链表节点更新
	Prepare()     // 准备阶段：snapshot更新

	SpawnTrips(now geom.Time)         // 更新阶段(a)：到时行程生成
	UpdatePhysics(dt geom.Duration)   // 更新阶段(b)：运动学推进与步骤推进
	UpdateArrivals(now geom.Time)     // 更新阶段(c)：停车/公交/行程完成处理
	EnforceStallPolicy(now geom.Time) // 更新阶段(d)：堵死超时处置

	// 指定可通行单元上按上一拍快照统计的主体数（自适应信号灯压力计算用）
	QueueCount(traversableID int32) int

	// 行程统计报告
	TripReport() TripReport
}

// TripReport 行程结果统计
type TripReport struct {
	Scheduled int            `json:"scheduled"`
	Active    int            `json:"active"`
	Finished  int            `json:"finished"`
	Failed    int            `json:"failed"`
	Cancelled int            `json:"cancelled"`
	ByReason  map[string]int `json:"by_reason"`
	// 已完成行程总旅行时间（秒）
	TotalTravelTime float64 `json:"total_travel_time"`
}
