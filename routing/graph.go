package routing

import (
	"fmt"

	"git.fiblab.net/general/common/v2/mathutil"

	"github.com/tsinghua-fib-lab/microsim-oss/entity"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/container"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/geom"
)

// vehicleEdge 行车图中的一条出边：经转向进入目标车道
type vehicleEdge struct {
	turn entity.ITurn
	dst  int // 目标车道的节点编号
}

// vehicleGraph 单一出行模式的静态行车图
// 功能：节点为该模式允许通行的车道（按ID升序编号），边为连接它们的机动转向
// 说明：边权与车辆最高车速有关，在查询时计算，图本身只保存静态结构
type vehicleGraph struct {
	lanes []entity.ILane  // 下标即节点编号
	index map[int32]int   // Lane ID到节点编号
	edges [][]vehicleEdge // 按源节点组织，转向ID升序
}

// buildVehicleGraph 从车道与路口管理器构建行车图
// 算法说明：
//  1. 按ID升序扫描全部车道，allow放行的类型进入节点表；
//  2. 每个节点沿其后继转向（已按ID升序）连边，目标车道不在图中的转向丢弃
func buildVehicleGraph(
	laneManager entity.ILaneManager,
	junctionManager entity.IJunctionManager,
	allow func(entity.LaneType) bool,
) *vehicleGraph {
	g := &vehicleGraph{index: make(map[int32]int)}
	for _, l := range laneManager.Lanes() {
		if allow(l.Type()) {
			g.index[l.ID()] = len(g.lanes)
			g.lanes = append(g.lanes, l)
		}
	}
	g.edges = make([][]vehicleEdge, len(g.lanes))
	for i, l := range g.lanes {
		for _, turnID := range l.SuccessorTurnIDs() {
			turn := junctionManager.GetTurn(turnID)
			if dst, ok := g.index[turn.DstLane().ID()]; ok {
				g.edges[i] = append(g.edges[i], vehicleEdge{turn: turn, dst: dst})
			}
		}
	}
	return g
}

// search 求start到end的最短时间行车路径
// 返回：路径、含终点车道内行驶的总自由流时间与错误
// 算法说明：
//  1. 节点代价定义为驶入该车道起点的累计时间，展开一个节点即走完整条车道并
//     经某一后继转向进入下一车道；
//  2. 起点车道从s处出发按剩余长度对后继播种，终点车道被弹出即得最优解；
//  3. 同车道且终点在前方时直接返回单步路径，终点在后方时需绕行回到本车道；
//  4. 松弛采用严格小于，配合升序邻接表，等代价路径的取舍只由ID顺序决定
func (g *vehicleGraph) search(start, end entity.Position, vehMaxV geom.Speed) (*entity.Path, float64, error) {
	startIdx, ok := g.index[start.Lane.ID()]
	if !ok {
		return nil, 0, fmt.Errorf("lane %d is not part of the vehicle network", start.Lane.ID())
	}
	endIdx, ok := g.index[end.Lane.ID()]
	if !ok {
		return nil, 0, fmt.Errorf("lane %d is not part of the vehicle network", end.Lane.ID())
	}
	if startIdx == endIdx && end.S >= start.S {
		return &entity.Path{
			Steps:  []entity.PathStep{{Kind: entity.StepLane, Lane: start.Lane}},
			StartS: start.S,
			EndS:   end.S,
		}, travelTime(end.S-start.S, start.Lane.MaxSpeedFor(vehMaxV)), nil
	}

	dist := make([]float64, len(g.lanes))
	parentSrc := make([]int, len(g.lanes))
	parentTurn := make([]entity.ITurn, len(g.lanes))
	for i := range dist {
		dist[i] = mathutil.INF
		parentSrc[i] = -1
	}
	pq := container.NewPriorityQueue[int]()
	relax := func(e vehicleEdge, src int, d float64) {
		if d < dist[e.dst] {
			dist[e.dst] = d
			parentSrc[e.dst] = src
			parentTurn[e.dst] = e.turn
			pq.HeapPush(e.dst, d)
		}
	}

	// 起点车道走完剩余部分后经各后继转向播种
	remaining := travelTime(start.Lane.Length().Meters()-start.S, start.Lane.MaxSpeedFor(vehMaxV))
	for _, e := range g.edges[startIdx] {
		relax(e, startIdx, remaining+turnTime(e.turn, vehMaxV))
	}
	for pq.Len() > 0 {
		idx, d := pq.HeapPop()
		if d > dist[idx] {
			continue // 过期项
		}
		if idx == endIdx {
			steps := g.collectSteps(startIdx, endIdx, parentSrc, parentTurn)
			total := d + travelTime(end.S, end.Lane.MaxSpeedFor(vehMaxV))
			return &entity.Path{Steps: steps, StartS: start.S, EndS: end.S}, total, nil
		}
		lane := g.lanes[idx]
		through := d + travelTime(lane.Length().Meters(), lane.MaxSpeedFor(vehMaxV))
		for _, e := range g.edges[idx] {
			relax(e, idx, through+turnTime(e.turn, vehMaxV))
		}
	}
	return nil, 0, ErrNoPathFound
}

// collectSteps 沿前驱指针回溯并整理为正向步骤序列
func (g *vehicleGraph) collectSteps(startIdx, endIdx int, parentSrc []int, parentTurn []entity.ITurn) []entity.PathStep {
	steps := []entity.PathStep{{Kind: entity.StepLane, Lane: g.lanes[endIdx]}}
	cur := endIdx
	for {
		steps = append(steps, entity.PathStep{Kind: entity.StepTurn, Turn: parentTurn[cur]})
		cur = parentSrc[cur]
		steps = append(steps, entity.PathStep{Kind: entity.StepLane, Lane: g.lanes[cur]})
		if cur == startIdx {
			break
		}
	}
	reverseSteps(steps)
	return steps
}

// reverseSteps 原地反转步骤序列
func reverseSteps(steps []entity.PathStep) {
	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}
}

// travelTime 以给定通行速度走完给定距离的自由流时间（秒）
func travelTime(meters float64, v geom.Speed) float64 {
	if meters <= 0 {
		return 0
	}
	if v <= 0 {
		return mathutil.INF
	}
	return meters / v.MPS()
}

// turnTime 通过转向的自由流时间，含转向类型的额外时间惩罚
func turnTime(turn entity.ITurn, vehMaxV geom.Speed) float64 {
	t := travelTime(turn.Length().Meters(), turn.MaxSpeedFor(vehMaxV))
	switch turn.Type() {
	case entity.TurnTypeLeft:
		t += *leftTurnPenalty
	case entity.TurnTypeUTurn:
		t += *uTurnPenalty
	}
	return t
}
