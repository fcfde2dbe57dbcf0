package routing

import (
	"fmt"
	"math"

	"git.fiblab.net/general/common/v2/geometry"

	"github.com/tsinghua-fib-lab/microsim-oss/entity"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/container"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/geom"
)

// 静态图过期时的后备搜索：直接在车道/转向实体上做A*。
// 启发项为当前位置到终点的直线距离除以主体最高速度，不高估剩余时间，
// 且满足三角不等式，节点弹出即最优，结果与静态图上的Dijkstra一致。

// heuristicFrom 从某点到终点的启发时间，maxV非正时退化为Dijkstra
func heuristicFrom(from, endPoint geometry.Point, maxV geom.Speed) float64 {
	if maxV <= 0 {
		return 0
	}
	return geom.EuclideanDistance(from, endPoint).Meters() / maxV.MPS()
}

// vehItem 行车A*队列元素，g为不含启发项的实际代价
type vehItem struct {
	lane entity.ILane
	g    float64
}

// astarVehicleSearch 基于实体的行车路径A*搜索
func astarVehicleSearch(
	junctionManager entity.IJunctionManager,
	allow func(entity.LaneType) bool,
	start, end entity.Position,
	vehMaxV geom.Speed,
) (*entity.Path, float64, error) {
	if !allow(start.Lane.Type()) {
		return nil, 0, fmt.Errorf("lane %d is not part of the vehicle network", start.Lane.ID())
	}
	if !allow(end.Lane.Type()) {
		return nil, 0, fmt.Errorf("lane %d is not part of the vehicle network", end.Lane.ID())
	}
	if start.Lane.ID() == end.Lane.ID() && end.S >= start.S {
		return &entity.Path{
			Steps:  []entity.PathStep{{Kind: entity.StepLane, Lane: start.Lane}},
			StartS: start.S,
			EndS:   end.S,
		}, travelTime(end.S-start.S, start.Lane.MaxSpeedFor(vehMaxV)), nil
	}

	type parentRef struct {
		lane entity.ILane
		turn entity.ITurn
	}
	endPoint := end.XYZ()
	dist := make(map[int32]float64)
	parents := make(map[int32]parentRef)
	pq := container.NewPriorityQueue[vehItem]()
	relax := func(dst entity.ILane, g float64, src entity.ILane, turn entity.ITurn) {
		if d, ok := dist[dst.ID()]; ok && g >= d {
			return
		}
		dist[dst.ID()] = g
		parents[dst.ID()] = parentRef{lane: src, turn: turn}
		pq.HeapPush(vehItem{lane: dst, g: g}, g+heuristicFrom(dst.Line().FirstPoint(), endPoint, vehMaxV))
	}
	expand := func(lane entity.ILane, base float64) {
		for _, turnID := range lane.SuccessorTurnIDs() {
			turn := junctionManager.GetTurn(turnID)
			if dst := turn.DstLane(); allow(dst.Type()) {
				relax(dst, base+turnTime(turn, vehMaxV), lane, turn)
			}
		}
	}

	expand(start.Lane, travelTime(start.Lane.Length().Meters()-start.S, start.Lane.MaxSpeedFor(vehMaxV)))
	for pq.Len() > 0 {
		item, _ := pq.HeapPop()
		if item.g > dist[item.lane.ID()] {
			continue
		}
		if item.lane.ID() == end.Lane.ID() {
			steps := []entity.PathStep{{Kind: entity.StepLane, Lane: item.lane}}
			cur := item.lane
			for {
				ref := parents[cur.ID()]
				steps = append(steps, entity.PathStep{Kind: entity.StepTurn, Turn: ref.turn})
				cur = ref.lane
				steps = append(steps, entity.PathStep{Kind: entity.StepLane, Lane: cur})
				if cur.ID() == start.Lane.ID() {
					break
				}
			}
			reverseSteps(steps)
			total := item.g + travelTime(end.S, end.Lane.MaxSpeedFor(vehMaxV))
			return &entity.Path{Steps: steps, StartS: start.S, EndS: end.S}, total, nil
		}
		expand(item.lane, item.g+travelTime(item.lane.Length().Meters(), item.lane.MaxSpeedFor(vehMaxV)))
	}
	return nil, 0, ErrNoPathFound
}

// walkRef 步行A*的有向节点
type walkRef struct {
	lane entity.ILane
	// 是否逆车道方向行走（从s=length端走向s=0端）
	backward bool
}

func (w walkRef) key() int64 {
	k := int64(w.lane.ID()) << 1
	if w.backward {
		k++
	}
	return k
}

// entryPoint 有向节点的进入端坐标
func (w walkRef) entryPoint() geometry.Point {
	if w.backward {
		return w.lane.Line().LastPoint()
	}
	return w.lane.Line().FirstPoint()
}

// walkAParent 步行A*的前驱记录，seeded为true时node即起点方向
type walkAParent struct {
	node   walkRef
	turn   entity.ITurn
	seeded bool
}

// walkAItem 步行A*队列元素，goal为true时表示虚拟终点
type walkAItem struct {
	node walkRef
	g    float64
	goal bool
}

// astarWalkSearch 基于实体的步行路径A*搜索
// 算法说明：与步行静态图相同的有向节点模型，出边通过路口的TurnsFrom
// 现场枚举；终点接入虚拟终点节点，附加终点车道内的步行时间
func astarWalkSearch(
	junctionManager entity.IJunctionManager,
	start, end entity.Position,
	walkMaxV geom.Speed,
) (*entity.Path, float64, error) {
	if start.Lane.Type() != entity.LaneTypeSidewalk {
		return nil, 0, fmt.Errorf("lane %d is not part of the sidewalk network", start.Lane.ID())
	}
	if end.Lane.Type() != entity.LaneTypeSidewalk {
		return nil, 0, fmt.Errorf("lane %d is not part of the sidewalk network", end.Lane.ID())
	}
	if start.Lane.ID() == end.Lane.ID() {
		kind := entity.StepLane
		if end.S < start.S {
			kind = entity.StepContraflowLane
		}
		return &entity.Path{
			Steps:  []entity.PathStep{{Kind: kind, Lane: start.Lane}},
			StartS: start.S,
			EndS:   end.S,
		}, travelTime(math.Abs(end.S-start.S), start.Lane.MaxSpeedFor(walkMaxV)), nil
	}

	const goalKey = int64(-1)
	endPoint := end.XYZ()
	dist := make(map[int64]float64)
	parents := make(map[int64]walkAParent)
	pq := container.NewPriorityQueue[walkAItem]()
	relax := func(node walkRef, g float64, parent walkAParent) {
		k := node.key()
		if d, ok := dist[k]; ok && g >= d {
			return
		}
		dist[k] = g
		parents[k] = parent
		pq.HeapPush(walkAItem{node: node, g: g}, g+heuristicFrom(node.entryPoint(), endPoint, walkMaxV))
	}
	relaxGoal := func(g float64, from walkRef) {
		if d, ok := dist[goalKey]; ok && g >= d {
			return
		}
		dist[goalKey] = g
		parents[goalKey] = walkAParent{node: from}
		pq.HeapPush(walkAItem{g: g, goal: true}, g)
	}
	// exitTurns 有向节点走到尽头所在端的步行转向
	exitTurns := func(node walkRef) []entity.ITurn {
		jid := node.lane.DstJunctionID()
		if node.backward {
			jid = node.lane.SrcJunctionID()
		}
		if jid < 0 {
			return nil
		}
		var out []entity.ITurn
		for _, t := range junctionManager.Get(jid).TurnsFrom(node.lane) {
			if t.Type().IsWalk() && t.SrcAtLaneEnd() != node.backward {
				out = append(out, t)
			}
		}
		return out
	}
	step := func(t entity.ITurn) (walkRef, float64) {
		return walkRef{lane: t.DstLane(), backward: !t.DstAtLaneStart()}, turnTime(t, walkMaxV)
	}

	// 起点正反方向分别播种
	startLane := start.Lane
	fwdNode := walkRef{lane: startLane}
	for _, t := range exitTurns(fwdNode) {
		dst, w := step(t)
		relax(dst, travelTime(startLane.Length().Meters()-start.S, startLane.MaxSpeedFor(walkMaxV))+w,
			walkAParent{node: fwdNode, turn: t, seeded: true})
	}
	bwdNode := walkRef{lane: startLane, backward: true}
	for _, t := range exitTurns(bwdNode) {
		dst, w := step(t)
		relax(dst, travelTime(start.S, startLane.MaxSpeedFor(walkMaxV))+w,
			walkAParent{node: bwdNode, turn: t, seeded: true})
	}

	for pq.Len() > 0 {
		item, _ := pq.HeapPop()
		if item.goal {
			if item.g > dist[goalKey] {
				continue
			}
			steps := collectAstarWalkSteps(parents[goalKey].node, parents)
			return &entity.Path{Steps: steps, StartS: start.S, EndS: end.S}, item.g, nil
		}
		k := item.node.key()
		if item.g > dist[k] {
			continue
		}
		lane := item.node.lane
		if lane.ID() == end.Lane.ID() {
			tail := travelTime(end.S, lane.MaxSpeedFor(walkMaxV))
			if item.node.backward {
				tail = travelTime(lane.Length().Meters()-end.S, lane.MaxSpeedFor(walkMaxV))
			}
			relaxGoal(item.g+tail, item.node)
		}
		through := item.g + travelTime(lane.Length().Meters(), lane.MaxSpeedFor(walkMaxV))
		for _, t := range exitTurns(item.node) {
			dst, w := step(t)
			relax(dst, through+w, walkAParent{node: item.node, turn: t})
		}
		// 在进入端原地换向，零距离接上同一端的其他转向
		reversed := walkRef{lane: lane, backward: !item.node.backward}
		for _, t := range exitTurns(reversed) {
			dst, w := step(t)
			relax(dst, item.g+w, walkAParent{node: item.node, turn: t})
		}
	}
	return nil, 0, ErrNoPathFound
}

// collectAstarWalkSteps 从终点有向节点沿前驱回溯并整理为正向步骤序列
func collectAstarWalkSteps(last walkRef, parents map[int64]walkAParent) []entity.PathStep {
	steps := []entity.PathStep{walkRefStep(last)}
	cur := last
	for {
		ref := parents[cur.key()]
		steps = append(steps, entity.PathStep{Kind: entity.StepTurn, Turn: ref.turn})
		if ref.seeded {
			steps = append(steps, walkRefStep(ref.node))
			break
		}
		cur = ref.node
		steps = append(steps, walkRefStep(cur))
	}
	reverseSteps(steps)
	return steps
}

// walkRefStep 有向节点对应的步行步骤
func walkRefStep(node walkRef) entity.PathStep {
	kind := entity.StepLane
	if node.backward {
		kind = entity.StepContraflowLane
	}
	return entity.PathStep{Kind: kind, Lane: node.lane}
}
