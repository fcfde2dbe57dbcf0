package lane

import (
	"fmt"
	"sort"

	"git.fiblab.net/general/common/v2/geometry"
	"github.com/tsinghua-fib-lab/microsim-oss/entity"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/geom"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/input"
)

// busStopRef 车道上的公交站引用
type busStopRef struct {
	id int32
	s  float64
}

// Lane 车道实体
// 功能：表示地图中的车道，包含几何信息与拓扑连接关系
// 说明：车道上的排队状态由队列引擎持有，车道本身只提供静态结构
type Lane struct {
	ctx entity.ITaskContext

	id int32

	// 初始化临时变量

	initParentRoadID      int32
	initSideDrivingLaneID int32

	typ             entity.LaneType
	maxV            geom.Speed
	width           float64
	line            *geom.PolyLine
	parkingCapacity int32 // 显式车位数配置，0表示按长度推算

	parentRoad    entity.IRoad
	srcJunctionID int32 // 起点路口，-1表示路网边界
	dstJunctionID int32 // 终点路口，-1表示路网边界

	predecessorTurnIDs []int32 // 驶入本车道的机动转向
	successorTurnIDs   []int32 // 离开本车道的机动转向

	sideParkingLane entity.ILane
	sideDrivingLane entity.ILane
	sideWalkingLane entity.ILane

	busStops  []busStopRef
	blackhole bool
}

// newLane 创建并初始化一个新的Lane实例
// 功能：根据基础数据创建Lane对象，解析类型并构建中心线几何
// 参数：ctx-任务上下文，base-基础Lane数据
// 返回：初始化完成的Lane实例
func newLane(ctx entity.ITaskContext, base *input.LaneData) *Lane {
	typ, err := entity.ParseLaneType(base.Type)
	if err != nil {
		log.Panicf("lane %d: %v", base.ID, err)
	}
	points := make([]geometry.Point, len(base.Points))
	for i, p := range base.Points {
		points[i] = geometry.Point{X: p.X, Y: p.Y, Z: p.Z}
	}
	line, err := geom.NewPolyLine(points)
	if err != nil {
		log.Panicf("lane %d: %v", base.ID, err)
	}
	maxV := geom.Speed(base.MaxSpeed)
	if typ == entity.LaneTypeSidewalk && maxV == 0 {
		maxV = geom.PedestrianSpeed
	}
	if base.ParkingCapacity < 0 {
		log.Panicf("lane %d has negative parking capacity %d", base.ID, base.ParkingCapacity)
	}
	if base.ParkingCapacity != 0 && typ != entity.LaneTypeParking {
		log.Panicf("lane %d of type %v must not declare a parking capacity", base.ID, typ)
	}
	return &Lane{
		ctx:                   ctx,
		id:                    base.ID,
		initParentRoadID:      base.ParentRoad,
		initSideDrivingLaneID: base.SideDrivingLane,
		typ:                   typ,
		maxV:                  maxV,
		width:                 base.Width,
		line:                  line,
		parkingCapacity:       base.ParkingCapacity,
		srcJunctionID:         -1,
		dstJunctionID:         -1,
	}
}

// SetParentRoadWhenInit 设置lane所在road的指针
func (l *Lane) SetParentRoadWhenInit(parent entity.IRoad) {
	if l.parentRoad != nil {
		log.Panicf("lane %d is claimed by both road %d and road %d", l.id, l.parentRoad.ID(), parent.ID())
	}
	l.parentRoad = parent
}

// AddTurnWhenInit 注册与本车道相连的转向并认领端点路口
// 算法说明：
//  1. 本车道为转向源：按转向起点所在端认领终点/起点路口；
//  2. 本车道为转向目标：按转向终点所在端认领起点/终点路口；
//  3. 机动转向同时计入前驱/后继转向列表，步行转向只认领路口
func (l *Lane) AddTurnWhenInit(turn entity.ITurn) {
	j := turn.Junction().ID()
	if turn.SrcLane().ID() == l.id {
		if turn.SrcAtLaneEnd() {
			l.claimDstJunction(j, turn.ID())
		} else {
			l.claimSrcJunction(j, turn.ID())
		}
		if !turn.Type().IsWalk() {
			l.successorTurnIDs = append(l.successorTurnIDs, turn.ID())
		}
	}
	if turn.DstLane().ID() == l.id {
		if turn.DstAtLaneStart() {
			l.claimSrcJunction(j, turn.ID())
		} else {
			l.claimDstJunction(j, turn.ID())
		}
		if !turn.Type().IsWalk() {
			l.predecessorTurnIDs = append(l.predecessorTurnIDs, turn.ID())
		}
	}
}

func (l *Lane) claimSrcJunction(junctionID, turnID int32) {
	if l.srcJunctionID == -1 {
		l.srcJunctionID = junctionID
		return
	}
	if l.srcJunctionID != junctionID {
		log.Panicf(
			"lane %d start is claimed by junction %d and junction %d (turn %d)",
			l.id, l.srcJunctionID, junctionID, turnID,
		)
	}
}

func (l *Lane) claimDstJunction(junctionID, turnID int32) {
	if l.dstJunctionID == -1 {
		l.dstJunctionID = junctionID
		return
	}
	if l.dstJunctionID != junctionID {
		log.Panicf(
			"lane %d end is claimed by junction %d and junction %d (turn %d)",
			l.id, l.dstJunctionID, junctionID, turnID,
		)
	}
}

// AddBusStopWhenInit 注册车道上的公交站
func (l *Lane) AddBusStopWhenInit(stopID int32, s float64) {
	l.busStops = append(l.busStops, busStopRef{id: stopID, s: s})
	sort.Slice(l.busStops, func(i, j int) bool { return l.busStops[i].s < l.busStops[j].s })
}

func (l *Lane) String() string {
	return fmt.Sprintf("Lane{id=%d, type=%v, len=%.2f}", l.id, l.typ, l.line.Length())
}

// getter

func (l *Lane) ID() int32 {
	return l.id
}

func (l *Lane) IsTurn() bool {
	return false
}

func (l *Lane) Type() entity.LaneType {
	return l.typ
}

func (l *Lane) Length() geom.Distance {
	return geom.Distance(l.line.Length())
}

func (l *Lane) Line() *geom.PolyLine {
	return l.line
}

func (l *Lane) MaxV() geom.Speed {
	return l.maxV
}

// MaxSpeedFor 给定车辆最高车速下本车道的通行速度上限
func (l *Lane) MaxSpeedFor(vehMaxV geom.Speed) geom.Speed {
	if vehMaxV > 0 && vehMaxV < l.maxV {
		return vehMaxV
	}
	return l.maxV
}

func (l *Lane) Width() float64 {
	return l.width
}

func (l *Lane) ParentRoad() entity.IRoad {
	return l.parentRoad
}

func (l *Lane) SrcJunctionID() int32 {
	return l.srcJunctionID
}

func (l *Lane) DstJunctionID() int32 {
	return l.dstJunctionID
}

func (l *Lane) PredecessorTurnIDs() []int32 {
	return l.predecessorTurnIDs
}

func (l *Lane) SuccessorTurnIDs() []int32 {
	return l.successorTurnIDs
}

func (l *Lane) SideParkingLane() entity.ILane {
	return l.sideParkingLane
}

func (l *Lane) SideDrivingLane() entity.ILane {
	return l.sideDrivingLane
}

func (l *Lane) SideWalkingLane() entity.ILane {
	return l.sideWalkingLane
}

func (l *Lane) ParkingCapacity() int32 {
	return l.parkingCapacity
}

func (l *Lane) BusStopIDs() []int32 {
	ids := make([]int32, len(l.busStops))
	for i, ref := range l.busStops {
		ids[i] = ref.id
	}
	return ids
}

func (l *Lane) IsBlackhole() bool {
	return l.blackhole
}

// isVehicleLane 是否参与行车网络（机动车可通行）
func (l *Lane) isVehicleLane() bool {
	return l.typ == entity.LaneTypeDriving || l.typ == entity.LaneTypeBus
}
