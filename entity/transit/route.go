package transit

import (
	"fmt"

	"github.com/tsinghua-fib-lab/microsim-oss/utils/input"
)

// Route 公交线路实体
// 功能：表示一条环形公交线路，按行驶顺序给出沿途车站
// 说明：末站的下一站回到首站，公交车沿线路无限循环行驶
type Route struct {
	id      int32
	name    string
	stopIDs []int32 // 按行驶顺序
}

// newRoute 创建并初始化一个新的Route实例
// 功能：根据基础数据创建Route对象，校验沿途车站
// 参数：base-基础线路数据，stops-车站表
// 返回：初始化完成的Route实例
func newRoute(base *input.TransitRouteData, stops map[int32]*Stop) *Route {
	if len(base.Stops) < 2 {
		log.Panicf("transit route %d has %d stops, at least 2 required", base.ID, len(base.Stops))
	}
	for _, stopID := range base.Stops {
		if _, ok := stops[stopID]; !ok {
			log.Panicf("transit route %d references unknown stop %d", base.ID, stopID)
		}
	}
	return &Route{
		id:      base.ID,
		name:    base.Name,
		stopIDs: base.Stops,
	}
}

func (r *Route) String() string {
	return fmt.Sprintf("Route{id=%d, name=%s, stops=%d}", r.id, r.name, len(r.stopIDs))
}

// getter

func (r *Route) ID() int32 {
	return r.id
}

func (r *Route) Name() string {
	return r.name
}

// StopIDs 沿途车站（按行驶顺序）
func (r *Route) StopIDs() []int32 {
	return r.stopIDs
}

// NextStopIdx 环线上某站的下一站下标
func (r *Route) NextStopIdx(i int) int {
	if i < 0 || i >= len(r.stopIDs) {
		log.Panicf("route %d has no stop index %d", r.id, i)
	}
	return (i + 1) % len(r.stopIDs)
}

// IndexOf 指定车站在线路上首次出现的下标，不在线路上则返回-1
func (r *Route) IndexOf(stopID int32) int {
	for i, id := range r.stopIDs {
		if id == stopID {
			return i
		}
	}
	return -1
}
