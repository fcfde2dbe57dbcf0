package lane

import (
	"fmt"
	"sort"

	"git.fiblab.net/general/common/v2/parallel"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/microsim-oss/entity"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/input"
)

// LaneManager Lane管理器
// 功能：管理所有Lane实体，提供创建、查找、初始化等功能
type LaneManager struct {
	ctx entity.ITaskContext

	data  map[int32]*Lane
	lanes []*Lane // 按ID升序
}

// NewManager 创建Lane管理器实例
// 功能：初始化Lane管理器，创建内部数据结构
// 参数：ctx-任务上下文
// 返回：新创建的Lane管理器实例
func NewManager(ctx entity.ITaskContext) *LaneManager {
	return &LaneManager{
		ctx:   ctx,
		data:  make(map[int32]*Lane),
		lanes: make([]*Lane, 0),
	}
}

// Init 初始化所有Lane
// 功能：根据输入数据初始化所有Lane对象，建立ID映射关系
// 参数：data-Lane的输入数据列表
// 说明：使用并行处理提高初始化效率，完成后车道列表按ID升序排列
func (m *LaneManager) Init(data []*input.LaneData) {
	m.lanes = parallel.GoMap(data, func(base *input.LaneData) *Lane {
		return newLane(m.ctx, base)
	})
	sort.Slice(m.lanes, func(i, j int) bool { return m.lanes[i].id < m.lanes[j].id })
	m.data = lo.SliceToMap(m.lanes, func(l *Lane) (int32, *Lane) {
		return l.id, l
	})
}

// InitAfterNetwork 在道路与路口初始化完成后建立车道的侧向关系与黑洞标记
// 功能：解析侧向车道引用、整理转向列表、标记行车网络黑洞
// 算法说明：
//  1. 停车道/人行道按side_driving_lane建立与行车道的双向引用；
//  2. 前驱/后继转向ID列表排序去重；
//  3. 对行车网络（行车道+公交道为点、机动转向为边）求最大强连通分量，
//     分量外的行车类车道标记为黑洞（随机停车播种将避开这些车道）
func (m *LaneManager) InitAfterNetwork(roadManager entity.IRoadManager, junctionManager entity.IJunctionManager) {
	for _, l := range m.lanes {
		if l.initSideDrivingLaneID == 0 {
			continue
		}
		target, ok := m.data[l.initSideDrivingLaneID]
		if !ok {
			log.Panicf("lane %d references unknown side driving lane %d", l.id, l.initSideDrivingLaneID)
		}
		if !target.isVehicleLane() {
			log.Panicf("lane %d side driving lane %d is not a driving lane", l.id, target.id)
		}
		switch l.typ {
		case entity.LaneTypeParking:
			if target.sideParkingLane != nil {
				log.Panicf("driving lane %d has two side parking lanes %d and %d", target.id, target.sideParkingLane.ID(), l.id)
			}
			target.sideParkingLane = l
		case entity.LaneTypeSidewalk:
			if target.sideWalkingLane != nil {
				log.Panicf("driving lane %d has two sidewalks %d and %d", target.id, target.sideWalkingLane.ID(), l.id)
			}
			target.sideWalkingLane = l
		default:
			log.Panicf("lane %d of type %v must not declare a side driving lane", l.id, l.typ)
		}
		l.sideDrivingLane = target
		l.initSideDrivingLaneID = 0
	}
	parallel.GoFor(m.lanes, func(l *Lane) {
		l.predecessorTurnIDs = sortUnique(l.predecessorTurnIDs)
		l.successorTurnIDs = sortUnique(l.successorTurnIDs)
	})
	m.markBlackholes(junctionManager)
}

// Get 根据ID获取Lane实例
// 功能：通过Lane ID查找对应的Lane对象，如果不存在则panic
// 参数：id-Lane的唯一标识符
// 返回：对应的Lane实例，如果不存在则panic
func (m *LaneManager) Get(id int32) entity.ILane {
	if lane, ok := m.data[id]; !ok {
		log.Panicf("no id %d in lane data", id)
		return nil
	} else {
		return lane
	}
}

// GetOrError 根据ID获取Lane实例（带错误处理）
// 功能：通过Lane ID查找对应的Lane对象，如果不存在则返回错误
// 参数：id-Lane的唯一标识符
// 返回：Lane实例和错误信息，如果不存在则返回nil和错误
func (m *LaneManager) GetOrError(id int32) (entity.ILane, error) {
	if lane, ok := m.data[id]; !ok {
		return nil, fmt.Errorf("no id %d in lane data", id)
	} else {
		return lane, nil
	}
}

// Lanes 全部车道（按ID升序）
func (m *LaneManager) Lanes() []entity.ILane {
	return lo.Map(m.lanes, func(l *Lane, _ int) entity.ILane { return l })
}

// markBlackholes 标记行车网络黑洞
// 算法说明：
// 迭代版Tarjan强连通分量算法，遍历顺序固定为车道ID升序、
// 后继转向ID升序，保证结果与运行环境无关；
// 取车道数最多的分量为主分量（并列时取含最小车道ID者），
// 其余行车类车道全部标记为黑洞
func (m *LaneManager) markBlackholes(junctionManager entity.IJunctionManager) {
	vehicleLanes := lo.Filter(m.lanes, func(l *Lane, _ int) bool { return l.isVehicleLane() })
	if len(vehicleLanes) == 0 {
		return
	}

	index := make(map[int32]int32)   // 访问序号
	lowlink := make(map[int32]int32) // 可回溯到的最小访问序号
	onStack := make(map[int32]bool)
	stack := make([]int32, 0, len(vehicleLanes))
	var counter int32
	components := make([][]int32, 0)

	successorsOf := func(id int32) []int32 {
		l := m.data[id]
		next := make([]int32, 0, len(l.successorTurnIDs))
		for _, turnID := range l.successorTurnIDs {
			dst := junctionManager.GetTurn(turnID).DstLane()
			if dst.Type() == entity.LaneTypeDriving || dst.Type() == entity.LaneTypeBus {
				next = append(next, dst.ID())
			}
		}
		return next
	}

	// 显式栈模拟递归，frame.next记录已展开的后继个数
	type frame struct {
		id   int32
		next int
	}
	for _, root := range vehicleLanes {
		if _, visited := index[root.id]; visited {
			continue
		}
		callStack := []frame{{id: root.id}}
		index[root.id] = counter
		lowlink[root.id] = counter
		counter++
		stack = append(stack, root.id)
		onStack[root.id] = true
		for len(callStack) > 0 {
			f := &callStack[len(callStack)-1]
			succs := successorsOf(f.id)
			if f.next < len(succs) {
				w := succs[f.next]
				f.next++
				if _, visited := index[w]; !visited {
					index[w] = counter
					lowlink[w] = counter
					counter++
					stack = append(stack, w)
					onStack[w] = true
					callStack = append(callStack, frame{id: w})
				} else if onStack[w] {
					if index[w] < lowlink[f.id] {
						lowlink[f.id] = index[w]
					}
				}
				continue
			}
			if lowlink[f.id] == index[f.id] {
				comp := make([]int32, 0, 4)
				for {
					w := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					onStack[w] = false
					comp = append(comp, w)
					if w == f.id {
						break
					}
				}
				components = append(components, comp)
			}
			callStack = callStack[:len(callStack)-1]
			if len(callStack) > 0 {
				parent := &callStack[len(callStack)-1]
				if lowlink[f.id] < lowlink[parent.id] {
					lowlink[parent.id] = lowlink[f.id]
				}
			}
		}
	}

	best := 0
	for i, comp := range components {
		if len(comp) > len(components[best]) {
			best = i
		} else if len(comp) == len(components[best]) && minID(comp) < minID(components[best]) {
			best = i
		}
	}
	inMain := make(map[int32]bool, len(components[best]))
	for _, id := range components[best] {
		inMain[id] = true
	}
	blackholes := 0
	for _, l := range vehicleLanes {
		if !inMain[l.id] {
			l.blackhole = true
			blackholes++
		}
	}
	if blackholes > 0 {
		log.Warnf("%d of %d vehicle lanes are outside the main component", blackholes, len(vehicleLanes))
	}
}

func minID(ids []int32) int32 {
	res := ids[0]
	for _, id := range ids[1:] {
		if id < res {
			res = id
		}
	}
	return res
}

func sortUnique(ids []int32) []int32 {
	ids = lo.Uniq(ids)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
