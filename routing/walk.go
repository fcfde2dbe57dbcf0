package routing

import (
	"fmt"
	"math"
	"sort"

	"git.fiblab.net/general/common/v2/mathutil"

	"github.com/tsinghua-fib-lab/microsim-oss/entity"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/container"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/geom"
)

// 起点播种的前驱哨兵，标记首段步行方向
const (
	seedForward  = -2
	seedBackward = -3
)

// walkEdge 步行图中的一条出边：经步行转向进入目标有向节点
type walkEdge struct {
	turn entity.ITurn
	dst  int
}

// walkGraph 步行静态图
// 功能：节点为带方向的人行道（正向编号2i、逆向2i+1），边为过街/路缘转向
// 说明：行人可逆向通行车道，但转向是有向的，对向过街由地图提供成对转向
type walkGraph struct {
	lanes []entity.ILane // 人行道（按ID升序），下标i对应节点2i与2i+1
	index map[int32]int  // Lane ID到车道下标
	edges [][]walkEdge   // 按有向节点组织，转向ID升序
}

func forwardNode(i int) int  { return 2 * i }
func backwardNode(i int) int { return 2*i + 1 }

// buildWalkGraph 从车道与路口管理器构建步行图
// 算法说明：
//  1. 按ID升序收集人行道作为节点，每条车道拆为正向/逆向两个有向节点；
//  2. 按路口ID、转向ID升序扫描步行转向：转向自源车道的某一端出发
//     （SrcAtLaneEnd为true时承接正向），进入目标车道的某一端
//     （DstAtLaneStart为true时接续正向）；
//  3. 各有向节点的出边按转向ID排序，保证搜索顺序与ID一致
func buildWalkGraph(laneManager entity.ILaneManager, junctionManager entity.IJunctionManager) *walkGraph {
	g := &walkGraph{index: make(map[int32]int)}
	for _, l := range laneManager.Lanes() {
		if l.Type() == entity.LaneTypeSidewalk {
			g.index[l.ID()] = len(g.lanes)
			g.lanes = append(g.lanes, l)
		}
	}
	g.edges = make([][]walkEdge, 2*len(g.lanes))
	for _, j := range junctionManager.Junctions() {
		for _, t := range j.Turns() {
			if !t.Type().IsWalk() {
				continue
			}
			si, ok := g.index[t.SrcLane().ID()]
			if !ok {
				continue
			}
			di, ok := g.index[t.DstLane().ID()]
			if !ok {
				continue
			}
			src := backwardNode(si)
			if t.SrcAtLaneEnd() {
				src = forwardNode(si)
			}
			dst := backwardNode(di)
			if t.DstAtLaneStart() {
				dst = forwardNode(di)
			}
			g.edges[src] = append(g.edges[src], walkEdge{turn: t, dst: dst})
		}
	}
	for _, es := range g.edges {
		sort.Slice(es, func(a, b int) bool { return es[a].turn.ID() < es[b].turn.ID() })
	}
	return g
}

// search 求start到end的最短时间步行路径
// 返回：路径、总自由流时间与错误
// 算法说明：
//  1. 有向节点的代价定义为从该节点对应端进入车道的累计时间；
//  2. 起点按正反两个方向分别播种；终点车道的两个方向都接入一个虚拟终点，
//     附加从进入端走到终点s的时间，虚拟终点被弹出即得最优解；
//  3. 同车道时直接按s差走正向或逆向单步路径
func (g *walkGraph) search(start, end entity.Position, walkMaxV geom.Speed) (*entity.Path, float64, error) {
	si, ok := g.index[start.Lane.ID()]
	if !ok {
		return nil, 0, fmt.Errorf("lane %d is not part of the sidewalk network", start.Lane.ID())
	}
	ei, ok := g.index[end.Lane.ID()]
	if !ok {
		return nil, 0, fmt.Errorf("lane %d is not part of the sidewalk network", end.Lane.ID())
	}
	if si == ei {
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

	n := 2 * len(g.lanes)
	goal := n // 虚拟终点
	dist := make([]float64, n+1)
	parentSrc := make([]int, n+1)
	parentTurn := make([]entity.ITurn, n+1)
	for i := range dist {
		dist[i] = mathutil.INF
		parentSrc[i] = -1
	}
	pq := container.NewPriorityQueue[int]()
	relax := func(node int, d float64, src int, turn entity.ITurn) {
		if d < dist[node] {
			dist[node] = d
			parentSrc[node] = src
			parentTurn[node] = turn
			pq.HeapPush(node, d)
		}
	}

	startLane := g.lanes[si]
	fwd := travelTime(startLane.Length().Meters()-start.S, startLane.MaxSpeedFor(walkMaxV))
	for _, e := range g.edges[forwardNode(si)] {
		relax(e.dst, fwd+turnTime(e.turn, walkMaxV), seedForward, e.turn)
	}
	bwd := travelTime(start.S, startLane.MaxSpeedFor(walkMaxV))
	for _, e := range g.edges[backwardNode(si)] {
		relax(e.dst, bwd+turnTime(e.turn, walkMaxV), seedBackward, e.turn)
	}

	for pq.Len() > 0 {
		node, d := pq.HeapPop()
		if d > dist[node] {
			continue
		}
		if node == goal {
			steps := g.collectWalkSteps(start.Lane, parentSrc, parentTurn)
			return &entity.Path{Steps: steps, StartS: start.S, EndS: end.S}, d, nil
		}
		lane := g.lanes[node/2]
		if node/2 == ei {
			tail := travelTime(end.S, lane.MaxSpeedFor(walkMaxV))
			if node == backwardNode(ei) {
				tail = travelTime(lane.Length().Meters()-end.S, lane.MaxSpeedFor(walkMaxV))
			}
			relax(goal, d+tail, node, nil)
		}
		through := d + travelTime(lane.Length().Meters(), lane.MaxSpeedFor(walkMaxV))
		for _, e := range g.edges[node] {
			relax(e.dst, through+turnTime(e.turn, walkMaxV), node, e.turn)
		}
		// 在进入端原地换向，零距离接上同一端的其他转向
		for _, e := range g.edges[node^1] {
			relax(e.dst, d+turnTime(e.turn, walkMaxV), node, e.turn)
		}
	}
	return nil, 0, ErrNoPathFound
}

// collectWalkSteps 从虚拟终点沿前驱指针回溯并整理为正向步骤序列
func (g *walkGraph) collectWalkSteps(startLane entity.ILane, parentSrc []int, parentTurn []entity.ITurn) []entity.PathStep {
	goal := 2 * len(g.lanes)
	cur := parentSrc[goal]
	steps := []entity.PathStep{g.walkStep(cur)}
	for {
		steps = append(steps, entity.PathStep{Kind: entity.StepTurn, Turn: parentTurn[cur]})
		src := parentSrc[cur]
		if src == seedForward || src == seedBackward {
			kind := entity.StepLane
			if src == seedBackward {
				kind = entity.StepContraflowLane
			}
			steps = append(steps, entity.PathStep{Kind: kind, Lane: startLane})
			break
		}
		cur = src
		steps = append(steps, g.walkStep(cur))
	}
	reverseSteps(steps)
	return steps
}

// walkStep 有向节点对应的步行步骤（逆向节点为逆行步骤）
func (g *walkGraph) walkStep(node int) entity.PathStep {
	kind := entity.StepLane
	if node%2 == 1 {
		kind = entity.StepContraflowLane
	}
	return entity.PathStep{Kind: kind, Lane: g.lanes[node/2]}
}
