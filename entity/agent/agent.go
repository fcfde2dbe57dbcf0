package agent

import (
	"fmt"

	"git.fiblab.net/general/common/v2/geometry"
	"github.com/tsinghua-fib-lab/microsim-oss/entity"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/container"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/geom"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/input"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/randengine"
)

// Agent 仿真主体（人）
// 功能：持有行程计划与三套车辆属性，按当前行程段化身为
// 小汽车/自行车/公交车/行人参与仿真
// 说明：主体ID即人员ID，跨行程持续存在；不在网时状态为off_map
type Agent struct {
	container.IncrementalItemBase

	m  *AgentManager
	id int32

	home entity.Position

	// 三套车辆属性在初始化时一次性抽样（固定顺序），输入覆盖
	// 对应车型；行程按模式选用对应属性
	carAttr  entity.VehicleAttr
	bikeAttr entity.VehicleAttr
	busAttr  entity.VehicleAttr
	// 驾车行程的化身车型（输入车辆声明的车型，默认car）
	vehicleKind entity.AgentKind

	// 以全局种子异或主体ID初始化的专属随机引擎
	generator *randengine.Engine

	trips   []*trip
	tripIdx int
	// 上一驾车行程结束时占用的车位，-1表示没有；下一驾车行程由
	// 该车位驶出
	parkedSpot int32
	// 位置链有效性：行程失败/被取消后，后续隐式起点的行程作废
	chainOK bool

	runtime  runtime
	snapshot entity.AgentSnapshot

	// 当前队列节点（车辆在网时非nil，行人不排队恒为nil）
	node *entity.VehicleNode

	// 更新阶段(b)置位、同拍(c)消费的到达标记
	arrived bool
}

// runtime 主体的仿真期可变状态
type runtime struct {
	Kind  entity.AgentKind
	State agentState
	// 所在可通行单元，不在网时为nil
	Trav entity.ITraversable
	// 前端位置；行人为沿行进方向的已走里程
	Front geom.Distance
	// 相位1重算的无约束运动学进度（不入档、不进快照）
	KinFront geom.Distance
	// 行人逆向通过车道（s坐标与行进方向相反）
	Backward bool
	// 尾部仍占用的旧单元（新在前）
	Lags []entity.ITraversable
	// 进入阻塞状态时的前端位置，有实际推进则重置阻塞计时
	BlockRefFront geom.Distance
	// 当前路径步下标
	StepIdx int
	// 公交车：下一个停靠点下标（path.BusStops）
	StopIdx int
	// 公交车乘客（按上车顺序）
	Passengers []int32
	// 驶向中的预定车位，-1表示无
	ReservedSpot int32
}

// newAgent 创建主体
// 功能：校验输入数据、抽样车辆属性并展开行程计划
// 说明：输入数据非法直接Fatalf退出，不带病运行
func newAgent(m *AgentManager, base *input.PersonData) *Agent {
	if base.ID < 0 {
		log.Fatalf("person %d: negative id", base.ID)
	}
	a := &Agent{
		m:           m,
		id:          base.ID,
		vehicleKind: entity.AgentKindCar,
		parkedSpot:  -1,
		chainOK:     true,
		generator:   randengine.New(m.ctx.RuntimeConfig().C.Seed ^ uint64(base.ID)),
	}
	a.home = m.resolvePosition(base.ID, &base.Home)
	a.runtime = runtime{Kind: entity.AgentKindPedestrian, State: offMapState(), ReservedSpot: -1}
	a.sampleAttrs()
	if v := base.Vehicle; v != nil {
		a.applyVehicleData(v)
	}
	a.trips = parseTrips(m, a, base)
	return a
}

// sampleAttrs 按固定顺序抽样三套车辆属性
// 说明：抽样顺序不可变更，否则破坏同种子结果可复现
func (a *Agent) sampleAttrs() {
	g := a.generator
	a.carAttr = entity.VehicleAttr{
		Length:   geom.NewDistance(g.Float64Range(geom.MinCarLength.Meters(), geom.MaxCarLength.Meters())),
		MaxA:     geom.NewAcceleration(g.Float64Range(float64(geom.MinCarAccel), float64(geom.MaxCarAccel))),
		MaxBrake: geom.NewAcceleration(g.Float64Range(float64(geom.MinCarBrake), float64(geom.MaxCarBrake))),
	}
	a.bikeAttr = entity.VehicleAttr{
		Length:   geom.NewDistance(g.Float64Range(geom.MinBikeLength.Meters(), geom.MaxBikeLength.Meters())),
		MaxV:     geom.NewSpeed(g.Float64Range(float64(geom.MinBikeSpeed), float64(geom.MaxBikeSpeed))),
		MaxA:     geom.NewAcceleration(g.Float64Range(float64(geom.MinBikeAccel), float64(geom.MaxBikeAccel))),
		MaxBrake: geom.NewAcceleration(g.Float64Range(float64(geom.MinBikeBrake), float64(geom.MaxBikeBrake))),
	}
	a.busAttr = entity.VehicleAttr{
		Length:   geom.BusLength,
		MaxA:     geom.NewAcceleration(g.Float64Range(float64(geom.MinCarAccel), float64(geom.MaxCarAccel))),
		MaxBrake: geom.NewAcceleration(g.Float64Range(float64(geom.MinCarBrake), float64(geom.MaxCarBrake))),
	}
}

// applyVehicleData 以输入数据覆盖声明车型的抽样属性
func (a *Agent) applyVehicleData(v *input.VehicleData) {
	kind, err := entity.ParseAgentKind(v.Kind)
	if err != nil {
		log.Fatalf("person %d: %v", a.id, err)
	}
	if v.Length < 0 || v.MaxSpeed < 0 || v.MaxAccel < 0 || v.MaxBrake < 0 {
		log.Fatalf("person %d: negative vehicle attribute", a.id)
	}
	a.vehicleKind = kind
	at := a.attrFor(kind)
	if v.Length > 0 {
		at.Length = geom.NewDistance(v.Length)
	}
	if v.MaxSpeed > 0 {
		at.MaxV = geom.NewSpeed(v.MaxSpeed)
	}
	if v.MaxAccel > 0 {
		at.MaxA = geom.NewAcceleration(v.MaxAccel)
	}
	if v.MaxBrake > 0 {
		at.MaxBrake = geom.NewAcceleration(v.MaxBrake)
	}
}

// attrFor 指定车型的属性集
func (a *Agent) attrFor(kind entity.AgentKind) *entity.VehicleAttr {
	switch kind {
	case entity.AgentKindCar:
		return &a.carAttr
	case entity.AgentKindBike:
		return &a.bikeAttr
	case entity.AgentKindBus:
		return &a.busAttr
	default:
		return nil
	}
}

// attr 当前化身的车辆属性，行人为nil
func (a *Agent) attr() *entity.VehicleAttr {
	return a.attrFor(a.runtime.Kind)
}

// ID 主体ID
func (a *Agent) ID() int32 {
	return a.id
}

// Kind 当前化身类别
func (a *Agent) Kind() entity.AgentKind {
	return a.runtime.Kind
}

// V 当前速度（米/秒）
// 说明：行驶状态取区间平均速度，其余状态为0；乘车行人取公交车速
func (a *Agent) V() float64 {
	st := &a.runtime.State
	switch st.Kind {
	case StateCrossing:
		if d := st.Time.Duration(); d > 0 {
			return st.Dist.Length().Meters() / d.Seconds()
		}
		return 0
	case StateRiding:
		return a.m.mustGet(st.RidingID).V()
	default:
		return 0
	}
}

// Length 车长（米），行人为0
func (a *Agent) Length() float64 {
	if at := a.attr(); at != nil {
		return at.Length.Meters()
	}
	return 0
}

// Snapshot 上一拍位置快照
func (a *Agent) Snapshot() entity.AgentSnapshot {
	return a.snapshot
}

// CurrentPath 当前行程段的路径与当前步骤下标
// 返回：路径与步骤下标，不在行程中时路径为nil
func (a *Agent) CurrentPath() (*entity.Path, int) {
	if p := a.curPath(); p != nil {
		return p, a.runtime.StepIdx
	}
	return nil, 0
}

func (a *Agent) String() string {
	return fmt.Sprintf("Agent %d (%s, %s)", a.id, a.runtime.Kind, a.runtime.State.Kind)
}

// curTrip 当前行程，没有则为nil
func (a *Agent) curTrip() *trip {
	if a.tripIdx < len(a.trips) {
		return a.trips[a.tripIdx]
	}
	return nil
}

// curLeg 当前行程段，不在行程中为nil
func (a *Agent) curLeg() *leg {
	t := a.curTrip()
	if t == nil || t.cur >= len(t.legs) {
		return nil
	}
	return t.legs[t.cur]
}

// curPath 当前行程段的路径
func (a *Agent) curPath() *entity.Path {
	if l := a.curLeg(); l != nil {
		return l.path
	}
	return nil
}

// prepare 构建位置快照（并行执行，只读运行态）
// 说明：乘车行人的快照取所乘公交车的位置；行人的前端里程换算回
// 车道s坐标
func (a *Agent) prepare() {
	rt := &a.runtime
	snap := entity.AgentSnapshot{TraversableID: -1, Status: rt.State.Kind.String()}
	switch rt.State.Kind {
	case StateOffMap:
	case StateRiding:
		if brt := &a.m.mustGet(rt.State.RidingID).runtime; brt.Trav != nil {
			snap.TraversableID = brt.Trav.ID()
			snap.IsTurn = brt.Trav.IsTurn()
			snap.S = brt.Front.Meters()
			snap.V = geom.Speed(a.V())
			snap.XYZ = travPoint(brt.Trav, snap.S)
		}
	default:
		if rt.Trav != nil {
			s := rt.Front.Meters()
			if rt.Backward {
				s = rt.Trav.Length().Meters() - s
			}
			snap.TraversableID = rt.Trav.ID()
			snap.IsTurn = rt.Trav.IsTurn()
			snap.S = s
			snap.V = geom.Speed(a.V())
			snap.XYZ = travPoint(rt.Trav, s)
		}
	}
	a.snapshot = snap
}

// computeKinematicFront 相位1：按行为状态推算无约束运动学进度
// 说明：只读写自身状态，可并行执行；行人不受前车约束，进度即前端
func (a *Agent) computeKinematicFront(now geom.Time) {
	rt := &a.runtime
	switch rt.State.Kind {
	case StateCrossing:
		f := rt.State.Dist.Lerp(rt.State.Time.Percent(now))
		rt.KinFront = f
		if rt.Kind == entity.AgentKindPedestrian {
			rt.Front = f
		}
	case StateQueued, StateWaitingToAdvance:
		rt.KinFront = rt.State.Dist.End
	default:
		rt.KinFront = rt.Front
	}
}

// travPoint 可通行单元上s处的空间坐标
// 说明：零长度转向没有折线，取其源车道上的衔接端点
func travPoint(trav entity.ITraversable, s float64) geometry.Point {
	if line := trav.Line(); line != nil {
		return line.GetPositionByS(s)
	}
	t := trav.(entity.ITurn)
	if t.SrcAtLaneEnd() {
		return t.SrcLane().Line().LastPoint()
	}
	return t.SrcLane().Line().FirstPoint()
}
