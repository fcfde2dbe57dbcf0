package agent

import (
	"fmt"

	"github.com/tsinghua-fib-lab/microsim-oss/entity"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/geom"
)

// queue 可通行单元上的车辆队列
// 功能：维护单元上全部车辆的有序链表、驶入空间预定与拖尾占位
// 说明：链表按前端s升序排列，表尾为队首（离单元终点最近）；
// 前端已进入下一单元而尾部尚未离开的车辆作为拖尾头继续约束队首。
// 行人不参与排队，不进入任何队列
type queue struct {
	trav entity.ITraversable
	list entity.VehicleList

	// 队内车辆与预定驶入车辆合计占用的长度
	reserved geom.Distance
	// 前端已离开本单元但尾部仍在本单元上的主体
	laggyHead *Agent
}

func newQueue(trav entity.ITraversable) *queue {
	return &queue{
		trav: trav,
		list: entity.VehicleList{ID: fmt.Sprintf("queue-%d", trav.ID())},
	}
}

// room 判断能否再容纳一辆定长车辆驶入
// 算法说明：空队列且无任何占用时强制放行（允许超长车进入短单元），
// 否则要求占用长度加上车长与跟车间距不超过单元几何长度
func (q *queue) room(vehLength geom.Distance) bool {
	if q.list.Len() == 0 && q.laggyHead == nil && q.reserved == 0 {
		return true
	}
	return q.reserved+vehLength+geom.FollowingDistance <= q.trav.Length()
}

// reserveEntry 预定一辆车的驶入空间
func (q *queue) reserveEntry(vehLength geom.Distance) {
	q.reserved += vehLength + geom.FollowingDistance
}

// freeReserved 释放一辆车占用的空间（尾部离开本单元或车辆离网）
func (q *queue) freeReserved(vehLength geom.Distance) {
	q.reserved -= vehLength + geom.FollowingDistance
	if q.reserved < -geom.EpsilonDistance {
		log.Panicf("queue %d frees more space than reserved", q.trav.ID())
	}
	if q.reserved < 0 {
		q.reserved = 0
	}
}

// head 队首车辆（离单元终点最近），空队列为nil
func (q *queue) head() *Agent {
	if node := q.list.Last(); node != nil {
		return node.Value.(*Agent)
	}
	return nil
}

// recomputeFronts 从队首到队尾重算各成员的前端位置
// 功能：每个成员取自身运动学进度与前车约束中的较小值；
// 队首成员受拖尾头尾部约束
// 算法说明：
//  1. 约束上界初值为单元长度，有拖尾头时为其尾部位置减跟车间距；
//  2. 逐车取min(运动学进度, 上界)，再下调上界为该车前端减去
//     车长与跟车间距；
//  3. 前端不倒退；越过上界视为引擎错误，直接panic
func (q *queue) recomputeFronts() {
	bound := q.trav.Length()
	if lag := q.laggyHead; lag != nil {
		bound = q.trav.Length() - lag.laggyOccupancy(q.trav.ID()) - geom.FollowingDistance
	}
	for node := q.list.Last(); node != nil; node = node.Prev() {
		a := node.Value.(*Agent)
		rt := &a.runtime
		f := rt.KinFront
		if f > bound {
			f = bound
		}
		if f < 0 {
			f = 0
		}
		if f < rt.Front {
			// 前端不倒退（上界只会随前车推进而放宽）
			f = rt.Front
		}
		if f > bound+geom.EpsilonDistance {
			log.Panicf("queue %d: vehicle %d at %v overlaps its leader bound %v",
				q.trav.ID(), a.id, f, bound)
		}
		rt.Front = f
		bound = f - a.attr().Length - geom.FollowingDistance
	}
}

// fitsAt 判断在s处插入定长车辆是否保持前后跟车间隙
// 说明：生成与驶出车位时使用，s为插入车辆的前端位置
func (q *queue) fitsAt(s, vehLength geom.Distance) bool {
	var prev, next *entity.VehicleNode
	for node := q.list.First(); node != nil; node = node.Next() {
		if node.Value.(*Agent).runtime.Front < s {
			prev = node
		} else {
			next = node
			break
		}
	}
	if next != nil {
		leader := next.Value.(*Agent)
		if s > leader.runtime.Front-leader.attr().Length-geom.FollowingDistance {
			return false
		}
	} else if lag := q.laggyHead; lag != nil {
		back := q.trav.Length() - lag.laggyOccupancy(q.trav.ID())
		if s > back-geom.FollowingDistance {
			return false
		}
	}
	if prev != nil {
		if prev.Value.(*Agent).runtime.Front > s-vehLength-geom.FollowingDistance {
			return false
		}
	}
	return true
}

// laggyOccupancy 主体作为拖尾头在指定旧单元上仍占用的长度
// 算法说明：自离开该单元起已推进的距离等于当前单元上的运动学
// 前端加上其间经过单元的长度，车长减去已推进距离即为残余占用
func (a *Agent) laggyOccupancy(travID int32) geom.Distance {
	crossed := a.runtime.KinFront
	for _, lag := range a.runtime.Lags {
		if lag.ID() == travID {
			break
		}
		crossed += lag.Length()
	}
	occ := a.attr().Length - crossed
	if occ < 0 {
		occ = 0
	}
	return occ
}
