package entity

import "github.com/tsinghua-fib-lab/microsim-oss/utils/geom"

// EventKind 仿真事件类型
type EventKind string

const (
	EventTripStarted   EventKind = "trip_started"   // 行程开始（主体生成）
	EventTripFinished  EventKind = "trip_finished"  // 行程正常结束
	EventTripFailed    EventKind = "trip_failed"    // 行程失败（无路径等）
	EventTripCancelled EventKind = "trip_cancelled" // 行程被取消（堵死策略）

	EventAgentEntered EventKind = "agent_entered" // 主体进入某可通行单元
	EventAgentExited  EventKind = "agent_exited"  // 主体离开某可通行单元

	EventSpotReserved EventKind = "spot_reserved" // 车位被预定
	EventSpotClaimed  EventKind = "spot_claimed"  // 车位被占用
	EventSpotReleased EventKind = "spot_released" // 车位被释放
	EventPathAmended  EventKind = "path_amended"  // 途中改道（车位被抢等）

	EventBusArrived  EventKind = "bus_arrived"  // 公交到站
	EventBusDeparted EventKind = "bus_departed" // 公交离站
	EventPedBoarded  EventKind = "ped_boarded"  // 行人上车
	EventPedAlighted EventKind = "ped_alighted" // 行人下车
)

// Event 一条带因果序号的仿真事件
// 说明：Seq/Step/T由事件汇统一填充，各实体只提供业务字段
type Event struct {
	Seq  int64     `json:"seq"`
	Step int32     `json:"step"`
	T    geom.Time `json:"t"`
	Kind EventKind `json:"kind"`

	AgentID int32  `json:"agent_id,omitempty"`
	TripID  int32  `json:"trip_id,omitempty"`
	LaneID  int32  `json:"lane_id,omitempty"`
	TurnID  int32  `json:"turn_id,omitempty"`
	SpotID  int32  `json:"spot_id,omitempty"`
	RouteID int32  `json:"route_id,omitempty"`
	StopID  int32  `json:"stop_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// IEventSink 仿真事件的接收端
type IEventSink interface {
	Emit(e Event)
}
