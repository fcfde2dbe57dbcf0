package agent

import "github.com/tsinghua-fib-lab/microsim-oss/utils/geom"

// 主体行为的固定时长参数
const (
	// 路内车位驶出/驶入耗时
	timeToUnparkOnstreet = geom.Duration(10)
	timeToParkOnstreet   = geom.Duration(15)
	// 路外停车场车位驶出/驶入耗时
	timeToUnparkLot = geom.Duration(5)
	timeToParkLot   = geom.Duration(5)

	// 公交到站停靠时长
	timeToWaitAtStop = geom.Duration(10)

	// 生成受阻（队列无空间）时的重试间隔
	spawnRetryInterval = geom.Duration(5)
)

// 行程失败/取消原因
const (
	reasonNoPath            = "no_path"
	reasonNoParking         = "no_parking"
	reasonGridlock          = "gridlock"
	reasonPredecessorFailed = "predecessor_failed"
	// 乘客所乘线路收班仍未到下车站（理论上不应出现）
	reasonRouteEnded = "bus_route_ended"
)

// timeToPark 按车位类别返回停车入位耗时
func timeToPark(isLot bool) geom.Duration {
	if isLot {
		return timeToParkLot
	}
	return timeToParkOnstreet
}

// timeToUnpark 按车位类别返回驶出车位耗时
func timeToUnpark(isLot bool) geom.Duration {
	if isLot {
		return timeToUnparkLot
	}
	return timeToUnparkOnstreet
}
