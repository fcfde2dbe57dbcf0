package routing

import (
	"git.fiblab.net/general/common/v2/mathutil"

	"github.com/tsinghua-fib-lab/microsim-oss/entity"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/geom"
)

// walkLeg 到/离公交站步行腿的缓存结果
type walkLeg struct {
	path *entity.Path
	cost float64
	ok   bool
}

// bestBusAlternative 在全部公交线路上挑选最优的步行-乘车-步行组合
// 算法说明：按线路ID升序、上车站沿线顺序、下车站偏移升序枚举，
// 代价为两段步行时间加乘车时间估算，严格更优才替换，保证结果确定；
// 无人行道衔接的车站不可上下车
// 返回：组合路径、估算总时间、是否存在可行组合
func (r *Router) bestBusAlternative(
	start, end entity.Position, walkMaxV geom.Speed,
) (*entity.Path, float64, bool) {
	var bestPath *entity.Path
	bestCost := mathutil.INF
	toCache := map[int32]walkLeg{}
	fromCache := map[int32]walkLeg{}
	walkTo := func(stop entity.ITransitStop) walkLeg {
		if leg, ok := toCache[stop.ID()]; ok {
			return leg
		}
		p, c, err := r.walkSearch(start, stop.WalkingPos(), walkMaxV)
		leg := walkLeg{path: p, cost: c, ok: err == nil}
		toCache[stop.ID()] = leg
		return leg
	}
	walkFrom := func(stop entity.ITransitStop) walkLeg {
		if leg, ok := fromCache[stop.ID()]; ok {
			return leg
		}
		p, c, err := r.walkSearch(stop.WalkingPos(), end, walkMaxV)
		leg := walkLeg{path: p, cost: c, ok: err == nil}
		fromCache[stop.ID()] = leg
		return leg
	}

	for _, route := range r.transitManager.Routes() {
		stopIDs := route.StopIDs()
		for bi, boardID := range stopIDs {
			board := r.transitManager.GetStop(boardID)
			if board.WalkingPos().Lane == nil {
				continue
			}
			to := walkTo(board)
			if !to.ok {
				continue
			}
			for off := 1; off < len(stopIDs); off++ {
				alight := r.transitManager.GetStop(stopIDs[(bi+off)%len(stopIDs)])
				if alight.ID() == board.ID() || alight.WalkingPos().Lane == nil {
					continue
				}
				from := walkFrom(alight)
				if !from.ok {
					continue
				}
				cost := to.cost + rideEstimate(route, r.transitManager, bi, off) + from.cost
				if cost < bestCost {
					bestCost = cost
					bestPath = stitchBusPath(to.path, route, board, alight, from.path)
				}
			}
		}
	}
	return bestPath, bestCost, bestPath != nil
}

// rideEstimate 乘车时间估算
// 算法说明：平均候车时间加上沿线相邻车站间直线距离的行驶时间之和，
// 不展开实际行车路径，只用于与纯步行方案比较
func rideEstimate(route entity.ITransitRoute, tm entity.ITransitManager, bi, off int) float64 {
	stopIDs := route.StopIDs()
	busV := *busSpeed
	cost := *busWaitTime
	idx := bi
	for k := 0; k < off; k++ {
		a := tm.GetStop(stopIDs[idx])
		idx = route.NextStopIdx(idx)
		b := tm.GetStop(stopIDs[idx])
		cost += geom.EuclideanDistance(a.DrivingPos().XYZ(), b.DrivingPos().XYZ()).Meters() / busV
	}
	return cost
}

// stitchBusPath 将两段步行路径与乘车步骤拼接为完整路径
func stitchBusPath(
	walkTo *entity.Path, route entity.ITransitRoute,
	board, alight entity.ITransitStop, walkFrom *entity.Path,
) *entity.Path {
	steps := make([]entity.PathStep, 0, len(walkTo.Steps)+1+len(walkFrom.Steps))
	steps = append(steps, walkTo.Steps...)
	steps = append(steps, entity.PathStep{
		Kind:       entity.StepRideBus,
		Route:      route,
		BoardStop:  board,
		AlightStop: alight,
	})
	steps = append(steps, walkFrom.Steps...)
	return &entity.Path{Steps: steps, StartS: walkTo.StartS, EndS: walkFrom.EndS}
}
