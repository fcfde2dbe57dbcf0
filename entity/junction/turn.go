package junction

import (
	"fmt"

	"git.fiblab.net/general/common/v2/geometry"
	"github.com/tsinghua-fib-lab/microsim-oss/entity"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/geom"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/input"
)

// Turn 路口转向实体
// 功能：连接两条车道的可通行单元，承载几何、限速与冲突关系
// 说明：机动转向从源车道末端指向目标车道起点；步行转向（人行横道、
// 转角）连接两条人行道的任一端点，方向按端点间距离最短的组合确定
type Turn struct {
	id       int32
	typ      entity.TurnType
	junction *Junction

	srcLane        entity.ILane
	dstLane        entity.ILane
	srcAtLaneEnd   bool
	dstAtLaneStart bool

	line  *geom.PolyLine // 零长度转向（端点重合）为nil
	point geometry.Point // line为nil时的定位点
	maxV  geom.Speed

	conflictIDs []int32 // 冲突转向ID（升序）
	conflictSet map[int32]bool
}

// newTurn 创建并初始化一个新的Turn实例
// 功能：解析转向类型、校验两端车道类型、确定端点方向并构建几何
// 参数：j-所属路口，base-转向输入数据，laneManager-车道管理器
// 返回：初始化完成的Turn实例
// 算法说明：
//  1. 机动转向要求两端均为行车类车道，端点固定为源末端→目标起点；
//  2. 步行转向要求两端均为人行道，在4种端点组合中取距离最短者；
//  3. 输入未给出折线时按两端点连线生成，端点重合时记为零长度转向；
//  4. 限速未给出时，机动转向取两端车道限速较小值，步行转向取步行速度
func newTurn(j *Junction, base *input.TurnData, laneManager entity.ILaneManager) *Turn {
	typ, err := entity.ParseTurnType(base.Type)
	if err != nil {
		log.Panicf("turn %d: %v", base.ID, err)
	}
	src := laneManager.Get(base.SrcLane)
	dst := laneManager.Get(base.DstLane)
	if src.ID() == dst.ID() {
		log.Panicf("turn %d connects lane %d to itself", base.ID, src.ID())
	}
	t := &Turn{
		id:          base.ID,
		typ:         typ,
		junction:    j,
		srcLane:     src,
		dstLane:     dst,
		conflictSet: make(map[int32]bool),
	}
	if typ.IsWalk() {
		if src.Type() != entity.LaneTypeSidewalk || dst.Type() != entity.LaneTypeSidewalk {
			log.Panicf("walk turn %d must connect sidewalks, got %v and %v", t.id, src.Type(), dst.Type())
		}
		t.srcAtLaneEnd, t.dstAtLaneStart = nearestEndpoints(src, dst)
	} else {
		for _, l := range []entity.ILane{src, dst} {
			if l.Type() != entity.LaneTypeDriving && l.Type() != entity.LaneTypeBus && l.Type() != entity.LaneTypeBike {
				log.Panicf("vehicle turn %d must connect driving lanes, lane %d is %v", t.id, l.ID(), l.Type())
			}
		}
		t.srcAtLaneEnd = true
		t.dstAtLaneStart = true
	}

	if len(base.Points) >= 2 {
		points := make([]geometry.Point, len(base.Points))
		for i, p := range base.Points {
			points[i] = geometry.Point{X: p.X, Y: p.Y, Z: p.Z}
		}
		line, err := geom.NewPolyLine(points)
		if err != nil {
			log.Panicf("turn %d: %v", t.id, err)
		}
		t.line = line
		t.point = line.FirstPoint()
	} else {
		p0 := endpointOf(src, t.srcAtLaneEnd)
		p1 := endpointOf(dst, !t.dstAtLaneStart)
		if geom.EuclideanDistance(p0, p1) < geom.EpsilonDistance {
			// 两车道首尾相接，转向退化为零长度
			t.point = p0
		} else {
			line, err := geom.NewPolyLine([]geometry.Point{p0, p1})
			if err != nil {
				log.Panicf("turn %d: %v", t.id, err)
			}
			t.line = line
			t.point = p0
		}
	}

	switch {
	case base.MaxSpeed > 0:
		t.maxV = geom.NewSpeed(base.MaxSpeed)
	case typ.IsWalk():
		t.maxV = geom.PedestrianSpeed
	default:
		t.maxV = min(src.MaxV(), dst.MaxV())
	}
	return t
}

// endpointOf 车道指定端的坐标，atEnd为true取s=length端
func endpointOf(lane entity.ILane, atEnd bool) geometry.Point {
	if atEnd {
		return lane.Line().LastPoint()
	}
	return lane.Line().FirstPoint()
}

// nearestEndpoints 为步行转向选择两条人行道的连接端点
// 功能：在源车道首/尾与目标车道首/尾的4种组合中取端点距离最短者
// 返回：srcAtLaneEnd-源端是否为末端，dstAtLaneStart-目标端是否为起点
// 说明：组合遍历顺序固定，距离并列时保持先遇到的组合，保证确定性
func nearestEndpoints(src, dst entity.ILane) (srcAtLaneEnd bool, dstAtLaneStart bool) {
	best := geom.Distance(-1)
	for _, c := range []struct {
		srcEnd   bool
		dstStart bool
	}{
		{true, true},
		{true, false},
		{false, true},
		{false, false},
	} {
		d := geom.EuclideanDistance(endpointOf(src, c.srcEnd), endpointOf(dst, !c.dstStart))
		if best < 0 || d < best {
			best = d
			srcAtLaneEnd = c.srcEnd
			dstAtLaneStart = c.dstStart
		}
	}
	return
}

// firstPoint 转向起点坐标
func (t *Turn) firstPoint() geometry.Point {
	if t.line == nil {
		return t.point
	}
	return t.line.FirstPoint()
}

// lastPoint 转向终点坐标
func (t *Turn) lastPoint() geometry.Point {
	if t.line == nil {
		return t.point
	}
	return t.line.LastPoint()
}

// conflictsWithTurn 判断两个转向是否冲突
// 功能：路口内并发授权安全性的几何判定
// 算法说明：
//  1. 同一转向不冲突；
//  2. 转角不进入路面，与任何转向都不冲突；
//  3. 步行转向之间互不冲突（人行横道允许对向行人并行通过）；
//  4. 起点相同的转向视为同车道分流，不冲突；
//  5. 终点相同的转向汇入同一位置，冲突；
//  6. 其余情况按折线是否相交判定
func conflictsWithTurn(a, b *Turn) bool {
	if a.id == b.id {
		return false
	}
	if a.typ == entity.TurnTypeCorner || b.typ == entity.TurnTypeCorner {
		return false
	}
	if a.typ.IsWalk() && b.typ.IsWalk() {
		return false
	}
	if pointsCoincide(a.firstPoint(), b.firstPoint()) {
		return false
	}
	if pointsCoincide(a.lastPoint(), b.lastPoint()) {
		return true
	}
	if a.line == nil || b.line == nil {
		return false
	}
	return a.line.Intersects(b.line)
}

// pointsCoincide 判断两点是否重合（距离小于精度下限）
func pointsCoincide(a, b geometry.Point) bool {
	return geom.EuclideanDistance(a, b) < geom.EpsilonDistance
}

// ID 转向ID
func (t *Turn) ID() int32 {
	return t.id
}

// IsTurn 是否为转向（恒为true）
func (t *Turn) IsTurn() bool {
	return true
}

// Length 转向长度
func (t *Turn) Length() geom.Distance {
	if t.line == nil {
		return 0
	}
	return t.line.Length()
}

// Line 转向几何折线，零长度转向为nil
func (t *Turn) Line() *geom.PolyLine {
	return t.line
}

// MaxSpeedFor 给定车辆最高车速下本转向的通行速度上限，vehMaxV<=0表示车辆无限速
func (t *Turn) MaxSpeedFor(vehMaxV geom.Speed) geom.Speed {
	if vehMaxV > 0 && vehMaxV < t.maxV {
		return vehMaxV
	}
	return t.maxV
}

// Type 转向类型
func (t *Turn) Type() entity.TurnType {
	return t.typ
}

// Junction 所属路口
func (t *Turn) Junction() entity.IJunction {
	return t.junction
}

// SrcLane 源车道
func (t *Turn) SrcLane() entity.ILane {
	return t.srcLane
}

// DstLane 目标车道
func (t *Turn) DstLane() entity.ILane {
	return t.dstLane
}

// SrcAtLaneEnd 转向起点是否位于源车道的s=length端
func (t *Turn) SrcAtLaneEnd() bool {
	return t.srcAtLaneEnd
}

// DstAtLaneStart 转向终点是否位于目标车道的s=0端
func (t *Turn) DstAtLaneStart() bool {
	return t.dstAtLaneStart
}

// ConflictIDs 冲突转向ID集合（升序）
func (t *Turn) ConflictIDs() []int32 {
	return t.conflictIDs
}

// ConflictsWith 判断与指定转向是否冲突
func (t *Turn) ConflictsWith(turnID int32) bool {
	return t.conflictSet[turnID]
}

func (t *Turn) String() string {
	return fmt.Sprintf("Turn{ID=%d, Type=%v, %d->%d}", t.id, t.typ, t.srcLane.ID(), t.dstLane.ID())
}
