package road

import (
	"fmt"
	"sort"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/microsim-oss/entity"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/geom"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/input"
)

// Road 道路实体
// 功能：表示地图中的道路，包含车道集合与路口连接关系
type Road struct {
	ctx entity.ITaskContext

	id      int32
	name    string
	laneIDs []int32

	lanes        []entity.ILane // 全部车道，从左到右
	drivingLanes []entity.ILane // 行车道（含公交道），从左到右
	sidewalk     entity.ILane   // 道路人行道

	srcJunctionID int32
	dstJunctionID int32
	nextRoads     []entity.IRoad // 经由终点路口可达的后继道路

	mustStop  bool       // 停车让行控制下是否必须停稳
	maxV      geom.Speed // 行车道限速均值
	avgLength float64    // 行车道长度均值（米）
}

// newRoad 创建并初始化一个新的Road实例
// 功能：根据基础数据创建Road对象，归类车道并计算道路限速
// 参数：ctx-任务上下文，base-基础Road数据，laneManager-车道管理器
// 返回：初始化完成的Road实例
// 说明：行车道与公交道合并管理，人行道要求每条道路至多一条
func newRoad(ctx entity.ITaskContext, base *input.RoadData, laneManager entity.ILaneManager) *Road {
	r := &Road{
		ctx:           ctx,
		id:            base.ID,
		name:          base.Name,
		laneIDs:       base.Lanes,
		srcJunctionID: -1,
		dstJunctionID: -1,
	}
	var maxVSum geom.Speed
	var lengthSum float64
	for _, laneID := range r.laneIDs {
		lane := laneManager.Get(laneID)
		r.lanes = append(r.lanes, lane)
		lane.SetParentRoadWhenInit(r)
		switch lane.Type() {
		case entity.LaneTypeDriving, entity.LaneTypeBus:
			r.drivingLanes = append(r.drivingLanes, lane)
			maxVSum += lane.MaxV()
			lengthSum += lane.Length().Meters()
		case entity.LaneTypeSidewalk:
			if r.sidewalk != nil {
				log.Panicf("road %d has two sidewalks %d and %d", r.id, r.sidewalk.ID(), laneID)
			}
			r.sidewalk = lane
		case entity.LaneTypeParking, entity.LaneTypeBike:
		default:
			log.Panicf("road %d: unknown lane type %v", r.id, lane.Type())
		}
	}
	if len(r.drivingLanes) > 0 {
		r.maxV = maxVSum / geom.Speed(len(r.drivingLanes))
		r.avgLength = lengthSum / float64(len(r.drivingLanes))
	}
	return r
}

// initAfterJunction 在Junction初始化后设置Road的路口连接关系
// 功能：从车道认领的端点路口归并出道路的起点/终点路口，并计算后继道路
// 算法说明：
//  1. 各行车道认领的起点/终点路口必须一致，不一致则panic；
//  2. 后继道路=终点路口中以本道路行车道为源的转向的目标车道所属道路，
//     按道路ID升序去重
func (r *Road) initAfterJunction(junctionManager entity.IJunctionManager) {
	for _, lane := range r.drivingLanes {
		if id := lane.SrcJunctionID(); id != -1 {
			if r.srcJunctionID == -1 {
				r.srcJunctionID = id
			} else if r.srcJunctionID != id {
				log.Panicf("road %d's source junction is not unique: %d v.s. %d", r.id, r.srcJunctionID, id)
			}
		}
		if id := lane.DstJunctionID(); id != -1 {
			if r.dstJunctionID == -1 {
				r.dstJunctionID = id
			} else if r.dstJunctionID != id {
				log.Panicf("road %d's destination junction is not unique: %d v.s. %d", r.id, r.dstJunctionID, id)
			}
		}
	}
	if r.dstJunctionID == -1 {
		return
	}
	junction := junctionManager.Get(r.dstJunctionID)
	seen := make(map[int32]entity.IRoad)
	for _, lane := range r.drivingLanes {
		for _, turnID := range lane.SuccessorTurnIDs() {
			next := junction.GetTurn(turnID).DstLane().ParentRoad()
			if next != nil && next.ID() != r.id {
				seen[next.ID()] = next
			}
		}
	}
	r.nextRoads = lo.Values(seen)
	sort.Slice(r.nextRoads, func(i, j int) bool { return r.nextRoads[i].ID() < r.nextRoads[j].ID() })
}

// SetMustStopWhenInit 标记本道路来车在终点路口必须停车
func (r *Road) SetMustStopWhenInit() {
	r.mustStop = true
}

func (r *Road) String() string {
	return fmt.Sprintf("Road{id=%d, name=%s}", r.id, r.name)
}

// getter

func (r *Road) ID() int32 {
	if r == nil {
		return -1
	}
	return r.id
}

func (r *Road) Name() string {
	return r.name
}

func (r *Road) Lanes() []entity.ILane {
	return r.lanes
}

func (r *Road) DrivingLanes() []entity.ILane {
	return r.drivingLanes
}

// RightestDrivingLane 最右侧行车道
// 说明：路内停车、公交停靠等贴边行为默认使用最右侧行车道
func (r *Road) RightestDrivingLane() entity.ILane {
	if len(r.drivingLanes) == 0 {
		log.Panicf("road %d has no driving lanes", r.id)
	}
	return r.drivingLanes[len(r.drivingLanes)-1]
}

func (r *Road) Sidewalk() entity.ILane {
	return r.sidewalk
}

func (r *Road) SrcJunctionID() int32 {
	return r.srcJunctionID
}

func (r *Road) DstJunctionID() int32 {
	return r.dstJunctionID
}

func (r *Road) NextRoads() []entity.IRoad {
	return r.nextRoads
}

func (r *Road) MustStop() bool {
	return r.mustStop
}

func (r *Road) MaxV() geom.Speed {
	return r.maxV
}

// AvgDrivingLength 行车道平均长度（米）
// 说明：找车位与路径规划把道路抽象为一段长度时使用
func (r *Road) AvgDrivingLength() float64 {
	return r.avgLength
}

// ProjectToSidewalk 将道路内任一车道上的位置投影到人行道
// 功能：行人候车点、停车位步行入口等贴边位置的换算
// 参数：pos-道路内某车道上的位置
// 返回：人行道上的投影位置，无人行道时ok为false
func (r *Road) ProjectToSidewalk(pos entity.Position) (entity.Position, bool) {
	if pos.Lane.ParentRoad().ID() != r.id {
		log.Panicf("road %d does not contain lane %d", r.id, pos.Lane.ID())
	}
	if r.sidewalk == nil {
		return entity.Position{}, false
	}
	s := r.sidewalk.Line().ProjectToLine(pos.XYZ())
	return entity.Position{Lane: r.sidewalk, S: s}, true
}

// ProjectToDriving 将道路内任一车道上的位置投影到最右侧行车道
// 功能：停车道车位、人行道位置向行车道的换算
// 参数：pos-道路内某车道上的位置
// 返回：最右侧行车道上的投影位置，无行车道时ok为false
func (r *Road) ProjectToDriving(pos entity.Position) (entity.Position, bool) {
	if pos.Lane.ParentRoad().ID() != r.id {
		log.Panicf("road %d does not contain lane %d", r.id, pos.Lane.ID())
	}
	if len(r.drivingLanes) == 0 {
		return entity.Position{}, false
	}
	lane := r.RightestDrivingLane()
	s := lane.Line().ProjectToLine(pos.XYZ())
	return entity.Position{Lane: lane, S: s}, true
}
