package agent

import (
	"github.com/tsinghua-fib-lab/microsim-oss/entity"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/geom"
)

// StateKind 主体行为状态类别
type StateKind int8

const (
	StateOffMap           StateKind = iota // 不在路网上（未出发/行程间歇/已结束）
	StateCrossing                          // 沿可通行单元行进
	StateQueued                            // 在队列中等待（前方受阻）
	StateWaitingToAdvance                  // 位于队首等待进入下一单元
	StateUnparking                         // 正在驶出车位
	StateParking                           // 正在驶入车位
	StateIdlingAtStop                      // 公交车到站停靠
	StateWaitingForBus                     // 行人在车站候车
	StateRiding                            // 行人乘车中
)

func (k StateKind) String() string {
	switch k {
	case StateOffMap:
		return "off_map"
	case StateCrossing:
		return "crossing"
	case StateQueued:
		return "queued"
	case StateWaitingToAdvance:
		return "waiting_to_advance"
	case StateUnparking:
		return "unparking"
	case StateParking:
		return "parking"
	case StateIdlingAtStop:
		return "idling_at_stop"
	case StateWaitingForBus:
		return "waiting_for_bus"
	default:
		return "riding"
	}
}

// IsBlocked 是否处于记录阻塞时长的状态（堵死判定只看这两种状态）
func (k StateKind) IsBlocked() bool {
	return k == StateQueued || k == StateWaitingToAdvance
}

// agentState 主体行为状态（带判别字段的联合体）
// 说明：Kind决定其余字段中哪些有效，状态整体可直接序列化入存档
type agentState struct {
	Kind StateKind `json:"kind"`
	// Crossing/Unparking/Parking/IdlingAtStop的起止时刻
	Time geom.TimeInterval `json:"time"`
	// Crossing在可通行单元上的起止距离（行人为沿行进方向的里程）
	Dist geom.DistanceInterval `json:"dist"`
	// Crossing的起步速度；Queued/WaitingToAdvance借用EndV携带
	// 受阻前的末速度，同拍连续推进时作为下一段的起步速度
	StartV geom.Speed `json:"start_v"`
	EndV   geom.Speed `json:"end_v"`
	// Queued/WaitingToAdvance的起始阻塞时刻
	BlockedSince geom.Time `json:"blocked_since"`
	// Unparking/Parking的目标车位
	SpotID int32 `json:"spot_id"`
	// IdlingAtStop/WaitingForBus的车站
	StopID int32 `json:"stop_id"`
	// Riding所乘公交车的主体ID
	RidingID int32 `json:"riding_id"`
}

// offMapState 构造不在网状态
func offMapState() agentState {
	return agentState{Kind: StateOffMap}
}

// crossingState 构造车辆跨越一段路程的行驶状态
// 功能：按起步速度与单元限速求通过时长，位置按时间线性插值
// 参数：now-起始时刻，trav-可通行单元，from/to-起止距离，
// v0-起步速度，attr-车辆属性
func crossingState(now geom.Time, trav entity.ITraversable, from, to geom.Distance, v0 geom.Speed, attr *entity.VehicleAttr) agentState {
	vmax := trav.MaxSpeedFor(attr.MaxV)
	d, endV := geom.SolveCrossing(to-from, v0, vmax, attr.MaxA)
	return agentState{
		Kind:   StateCrossing,
		Time:   geom.NewTimeInterval(now, now.Add(d)),
		Dist:   geom.NewDistanceInterval(from, to),
		StartV: v0,
		EndV:   endV,
	}
}

// walkCrossingState 构造行人匀速通过一段路程的状态
// 说明：from/to为沿行进方向的里程，逆向通过车道时由调用方换算
func walkCrossingState(now geom.Time, trav entity.ITraversable, from, to geom.Distance) agentState {
	v := trav.MaxSpeedFor(geom.PedestrianSpeed)
	var d geom.Duration
	if to > from {
		d = (to - from).DivV(v)
	}
	return agentState{
		Kind:   StateCrossing,
		Time:   geom.NewTimeInterval(now, now.Add(d)),
		Dist:   geom.NewDistanceInterval(from, to),
		StartV: v,
		EndV:   v,
	}
}

// queuedState 构造排队等待状态
// 参数：dist-被打断的行驶距离区间（运动学进度上限取其终点），
// lastV-受阻前的末速度，同拍连续推进时用作下一段起步速度
func queuedState(now geom.Time, dist geom.DistanceInterval, lastV geom.Speed) agentState {
	return agentState{Kind: StateQueued, BlockedSince: now, Dist: dist, EndV: lastV}
}

// unparkingState 构造驶出车位状态
func unparkingState(now geom.Time, spotID int32, isLot bool) agentState {
	return agentState{
		Kind:   StateUnparking,
		Time:   geom.NewTimeInterval(now, now.Add(timeToUnpark(isLot))),
		SpotID: spotID,
	}
}

// parkingState 构造驶入车位状态
func parkingState(now geom.Time, spotID int32, isLot bool) agentState {
	return agentState{
		Kind:   StateParking,
		Time:   geom.NewTimeInterval(now, now.Add(timeToPark(isLot))),
		SpotID: spotID,
	}
}

// idlingState 构造公交到站停靠状态
func idlingState(now geom.Time, stopID int32) agentState {
	return agentState{
		Kind:   StateIdlingAtStop,
		Time:   geom.NewTimeInterval(now, now.Add(timeToWaitAtStop)),
		StopID: stopID,
	}
}

// waitingForBusState 构造候车状态
func waitingForBusState(stopID int32) agentState {
	return agentState{Kind: StateWaitingForBus, StopID: stopID}
}

// ridingState 构造乘车状态
func ridingState(busID int32) agentState {
	return agentState{Kind: StateRiding, RidingID: busID}
}
