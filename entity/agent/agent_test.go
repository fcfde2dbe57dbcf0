package agent_test

import (
	"sort"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/microsim-oss/clock"
	"github.com/tsinghua-fib-lab/microsim-oss/entity"
	"github.com/tsinghua-fib-lab/microsim-oss/entity/agent"
	"github.com/tsinghua-fib-lab/microsim-oss/entity/junction"
	"github.com/tsinghua-fib-lab/microsim-oss/entity/lane"
	"github.com/tsinghua-fib-lab/microsim-oss/entity/parking"
	"github.com/tsinghua-fib-lab/microsim-oss/entity/road"
	"github.com/tsinghua-fib-lab/microsim-oss/entity/transit"
	"github.com/tsinghua-fib-lab/microsim-oss/routing"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/config"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/input"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/randengine"
)

// eventRecorder 测试用事件汇，按发生顺序收集事件并补齐时序字段
type eventRecorder struct {
	clk    *clock.Clock
	events []entity.Event
}

func (r *eventRecorder) Emit(e entity.Event) {
	e.Seq = int64(len(r.events))
	e.Step = r.clk.InternalStep
	e.T = r.clk.T
	r.events = append(r.events, e)
}

func (r *eventRecorder) byKind(k entity.EventKind) []entity.Event {
	return lo.Filter(r.events, func(e entity.Event, _ int) bool { return e.Kind == k })
}

func (r *eventRecorder) ofAgent(id int32) []entity.Event {
	return lo.Filter(r.events, func(e entity.Event, _ int) bool { return e.AgentID == id })
}

// enteredUnits 主体依次进入的可通行单元ID序列
func (r *eventRecorder) enteredUnits(id int32) []int32 {
	var out []int32
	for _, e := range r.ofAgent(id) {
		if e.Kind != entity.EventAgentEntered {
			continue
		}
		if e.TurnID != 0 {
			out = append(out, e.TurnID)
		} else {
			out = append(out, e.LaneID)
		}
	}
	return out
}

// fakeContext 主体测试用的任务上下文
type fakeContext struct {
	entity.ITaskContext
	clk    *clock.Clock
	rc     *config.RuntimeConfig
	router entity.IRouter
	sink   *eventRecorder
}

func (c *fakeContext) Clock() *clock.Clock                  { return c.clk }
func (c *fakeContext) RuntimeConfig() *config.RuntimeConfig { return c.rc }
func (c *fakeContext) Router() entity.IRouter               { return c.router }
func (c *fakeContext) Events() entity.IEventSink            { return c.sink }

// world 一个组装完毕、可逐步推进的最小仿真世界
type world struct {
	ctx       *fakeContext
	laneM     *lane.LaneManager
	junctionM *junction.JunctionManager
	parkingM  *parking.ParkingManager
	transitM  *transit.TransitManager
	agentM    *agent.AgentManager
	sink      *eventRecorder
}

// assemble 按固定顺序初始化全部管理器并接入主体
func assemble(t *testing.T, ctrl config.Control,
	lanes []*input.LaneData, roads []*input.RoadData, junctions []*input.JunctionData,
	routes []*input.TransitRouteData, stops []*input.TransitStopData,
	persons []*input.PersonData,
) *world {
	t.Helper()
	if ctrl.Step.Interval == 0 {
		ctrl.Step.Interval = 0.1
	}
	if ctrl.Step.Total == 0 {
		ctrl.Step.Total = 100000
	}
	clk := clock.New(ctrl.Step)
	sink := &eventRecorder{clk: clk}
	ctx := &fakeContext{
		clk:  clk,
		rc:   config.NewRuntimeConfig(config.Config{Control: ctrl}),
		sink: sink,
	}
	laneM := lane.NewManager(ctx)
	laneM.Init(lanes)
	roadM := road.NewManager(ctx)
	roadM.Init(roads, laneM)
	junctionM := junction.NewManager(ctx)
	junctionM.Init(junctions, laneM, roadM)
	laneM.InitAfterNetwork(roadM, junctionM)
	roadM.InitAfterJunction(junctionM)
	parkingM := parking.NewManager(ctx)
	parkingM.Init(nil, laneM)
	transitM := transit.NewManager(ctx)
	transitM.Init(routes, stops, laneM)
	ctx.router = routing.New(laneM, junctionM, transitM)
	agentM := agent.NewManager(ctx)
	agentM.Init(persons, laneM, junctionM, parkingM, transitM)
	return &world{
		ctx: ctx, laneM: laneM, junctionM: junctionM,
		parkingM: parkingM, transitM: transitM, agentM: agentM, sink: sink,
	}
}

// step 按任务循环的阶段顺序推进一个仿真步
func (w *world) step() {
	w.agentM.PrepareNode()
	w.junctionM.Prepare()
	w.agentM.Prepare()
	now := w.ctx.clk.T
	dt := w.ctx.clk.DT
	w.junctionM.Update(dt)
	w.agentM.SpawnTrips(now)
	w.agentM.UpdatePhysics(dt)
	w.agentM.UpdateArrivals(now)
	w.agentM.EnforceStallPolicy(now)
	w.ctx.clk.Tick()
}

func (w *world) run(steps int) {
	for i := 0; i < steps; i++ {
		w.step()
	}
}

// runUntil 推进直到条件满足，超出步数上限则测试失败
func (w *world) runUntil(t *testing.T, max int, cond func() bool) {
	t.Helper()
	for i := 0; i < max; i++ {
		if cond() {
			return
		}
		w.step()
	}
	require.True(t, cond(), "condition not reached within %d steps", max)
}

// ringOpts 环路世界的可选开关
type ringOpts struct {
	mustStop  bool // 道路410来车在路口202前必须停稳
	transit   bool // 挂接公交线路701（602→601→602）
	walkSplit bool // 去掉122↔121的过街转向，让121只能乘公交到达
}

// ringWorld 构造逆时针单行环路世界
//
//	行车环：110(东行,y=0)→经202右转114(外绕)→经203进112(西行,y=100)
//	        →经204进113(南行,x=0)→经201回110；111为114的内侧替代
//	116: 112旁的停车道（2个车位，锚点s=16/24）  118: 自行车道（经318汇入111）
//	步行网：120(110旁)↔122(x=104)↔121(112旁)，经330/331与332/333过街
//	公交：601@110s30 602@112s40，线路701按602→601→602循环
func ringWorld(t *testing.T, ctrl config.Control, opts ringOpts, persons []*input.PersonData) *world {
	t.Helper()
	lanes := []*input.LaneData{
		{ID: 110, Type: "driving", MaxSpeed: 20, Points: []input.Point{{X: 5, Y: 0}, {X: 95, Y: 0}}, ParentRoad: 410},
		{ID: 111, Type: "driving", MaxSpeed: 20, Points: []input.Point{{X: 100, Y: 5}, {X: 100, Y: 95}}, ParentRoad: 411},
		{ID: 112, Type: "driving", MaxSpeed: 20, Points: []input.Point{{X: 95, Y: 100}, {X: 5, Y: 100}}, ParentRoad: 412},
		{ID: 113, Type: "driving", MaxSpeed: 20, Points: []input.Point{{X: 0, Y: 95}, {X: 0, Y: 5}}, ParentRoad: 413},
		{ID: 114, Type: "driving", MaxSpeed: 20, Points: []input.Point{{X: 105, Y: 5}, {X: 141, Y: 50}, {X: 105, Y: 95}}, ParentRoad: 414},
		{ID: 116, Type: "parking", Points: []input.Point{{X: 95, Y: 102}, {X: 5, Y: 102}}, ParentRoad: 412, SideDrivingLane: 112, ParkingCapacity: 2},
		{ID: 118, Type: "bike", MaxSpeed: 6, Points: []input.Point{{X: 5, Y: -6}, {X: 95, Y: -6}}, ParentRoad: 418},
		{ID: 120, Type: "sidewalk", Points: []input.Point{{X: 5, Y: -2}, {X: 95, Y: -2}}, ParentRoad: 410, SideDrivingLane: 110},
		{ID: 121, Type: "sidewalk", Points: []input.Point{{X: 95, Y: 104}, {X: 5, Y: 104}}, ParentRoad: 412, SideDrivingLane: 112},
		{ID: 122, Type: "sidewalk", Points: []input.Point{{X: 104, Y: 0}, {X: 104, Y: 100}}, ParentRoad: 422},
	}
	roads := []*input.RoadData{
		{ID: 410, Lanes: []int32{110, 120}},
		{ID: 411, Lanes: []int32{111}},
		{ID: 412, Lanes: []int32{112, 116, 121}},
		{ID: 413, Lanes: []int32{113}},
		{ID: 414, Lanes: []int32{114}},
		{ID: 418, Lanes: []int32{118}},
		{ID: 422, Lanes: []int32{122}},
	}
	j202 := &input.JunctionData{ID: 202, Control: "stop_sign", Turns: []*input.TurnData{
		{ID: 314, Type: "right", SrcLane: 110, DstLane: 114},
		{ID: 318, Type: "straight", SrcLane: 118, DstLane: 111},
		{ID: 330, Type: "crosswalk", SrcLane: 120, DstLane: 122},
		{ID: 331, Type: "crosswalk", SrcLane: 122, DstLane: 120},
	}}
	if opts.mustStop {
		j202.MustStopRoads = []int32{410}
	}
	j203 := &input.JunctionData{ID: 203, Control: "stop_sign", Turns: []*input.TurnData{
		{ID: 311, Type: "right", SrcLane: 111, DstLane: 112},
		{ID: 315, Type: "right", SrcLane: 114, DstLane: 112},
	}}
	if !opts.walkSplit {
		j203.Turns = append(j203.Turns,
			&input.TurnData{ID: 332, Type: "crosswalk", SrcLane: 122, DstLane: 121},
			&input.TurnData{ID: 333, Type: "crosswalk", SrcLane: 121, DstLane: 122},
		)
	}
	junctions := []*input.JunctionData{
		{ID: 201, Control: "stop_sign", Turns: []*input.TurnData{
			{ID: 313, Type: "right", SrcLane: 113, DstLane: 110},
		}},
		j202,
		j203,
		{ID: 204, Control: "stop_sign", Turns: []*input.TurnData{
			{ID: 312, Type: "right", SrcLane: 112, DstLane: 113},
		}},
	}
	var routes []*input.TransitRouteData
	var stops []*input.TransitStopData
	if opts.transit {
		routes = []*input.TransitRouteData{{ID: 701, Name: "ring", Stops: []int32{602, 601}}}
		stops = []*input.TransitStopData{
			{ID: 601, Lane: 110, S: 30},
			{ID: 602, Lane: 112, S: 40},
		}
	}
	return assemble(t, ctrl, lanes, roads, junctions, routes, stops, persons)
}

// squareWorld 构造4条8米短车道首尾相接的方形环，每条车道刚好容下一辆车
func squareWorld(t *testing.T, ctrl config.Control, persons []*input.PersonData) *world {
	t.Helper()
	lanes := []*input.LaneData{
		{ID: 131, Type: "driving", MaxSpeed: 10, Points: []input.Point{{X: 1, Y: 0}, {X: 9, Y: 0}}, ParentRoad: 431},
		{ID: 132, Type: "driving", MaxSpeed: 10, Points: []input.Point{{X: 10, Y: 1}, {X: 10, Y: 9}}, ParentRoad: 432},
		{ID: 133, Type: "driving", MaxSpeed: 10, Points: []input.Point{{X: 9, Y: 10}, {X: 1, Y: 10}}, ParentRoad: 433},
		{ID: 134, Type: "driving", MaxSpeed: 10, Points: []input.Point{{X: 0, Y: 9}, {X: 0, Y: 1}}, ParentRoad: 434},
	}
	roads := []*input.RoadData{
		{ID: 431, Lanes: []int32{131}},
		{ID: 432, Lanes: []int32{132}},
		{ID: 433, Lanes: []int32{133}},
		{ID: 434, Lanes: []int32{134}},
	}
	junctions := []*input.JunctionData{
		{ID: 211, Control: "stop_sign", Turns: []*input.TurnData{{ID: 341, Type: "right", SrcLane: 131, DstLane: 132}}},
		{ID: 212, Control: "stop_sign", Turns: []*input.TurnData{{ID: 342, Type: "right", SrcLane: 132, DstLane: 133}}},
		{ID: 213, Control: "stop_sign", Turns: []*input.TurnData{{ID: 343, Type: "right", SrcLane: 133, DstLane: 134}}},
		{ID: 214, Control: "stop_sign", Turns: []*input.TurnData{{ID: 344, Type: "right", SrcLane: 134, DstLane: 131}}},
	}
	return assemble(t, ctrl, lanes, roads, junctions, nil, nil, persons)
}

func testCar() *input.VehicleData {
	return &input.VehicleData{Kind: "car", Length: 5, MaxSpeed: 20, MaxAccel: 3, MaxBrake: 5}
}

// assertNoOverlap 断言给定车辆在同一单元上两两保持车身不相交
func assertNoOverlap(t *testing.T, w *world, ids []int32) {
	t.Helper()
	type item struct {
		id  int32
		s   float64
		len float64
	}
	byTrav := map[int64][]item{}
	for _, id := range ids {
		a := w.agentM.Get(id)
		snap := a.Snapshot()
		if snap.TraversableID < 0 {
			continue
		}
		key := int64(snap.TraversableID)
		if snap.IsTurn {
			key = -key
		}
		byTrav[key] = append(byTrav[key], item{id: id, s: snap.S, len: a.Length()})
	}
	for key, items := range byTrav {
		sort.Slice(items, func(i, j int) bool { return items[i].s < items[j].s })
		for i := 1; i < len(items); i++ {
			rear, front := items[i-1], items[i]
			assert.GreaterOrEqualf(t, front.s-front.len, rear.s-0.011,
				"agents %d and %d overlap on unit %d", rear.id, front.id, key)
		}
	}
}

func TestDrivingTripParksAndFinishes(t *testing.T) {
	persons := []*input.PersonData{
		{ID: 1, Home: input.PositionData{Lane: 110, S: 10}, Vehicle: testCar(), Trips: []*input.TripData{
			{Mode: "driving", Departure: 0, End: &input.PositionData{Lane: 112, S: 10}},
		}},
	}
	w := ringWorld(t, config.Control{Seed: 42}, ringOpts{}, persons)

	w.runUntil(t, 800, func() bool { return len(w.sink.byKind(entity.EventTripFinished)) == 1 })

	// 路线沿右转外绕环到达，停车后步行回名义终点
	assert.Equal(t, []int32{110, 314, 114, 315, 112, 121}, w.sink.enteredUnits(1))
	reserved := w.sink.byKind(entity.EventSpotReserved)
	require.Len(t, reserved, 1)
	assert.Equal(t, int32(1), reserved[0].SpotID)
	require.Len(t, w.sink.byKind(entity.EventPathAmended), 1)
	claimed := w.sink.byKind(entity.EventSpotClaimed)
	require.Len(t, claimed, 1)
	assert.Equal(t, int32(1), claimed[0].SpotID)

	// 行程耗时＝行驶＋入位＋步行，显著大于自由流时间但有限
	report := w.agentM.TripReport()
	assert.Equal(t, 1, report.Finished)
	assert.Zero(t, report.Failed)
	assert.Zero(t, report.Cancelled)
	assert.Greater(t, report.TotalTravelTime, 25.0)
	assert.Less(t, report.TotalTravelTime, 60.0)
	assert.Empty(t, w.agentM.ActiveIDs())

	// 车位保持占用（驶入后没有再驶出）
	_, free := w.parkingM.LaneOccupancy(116)
	assert.Equal(t, 1, free)
}

func TestBikeTripFinishesWithoutParking(t *testing.T) {
	persons := []*input.PersonData{
		{ID: 1, Home: input.PositionData{Lane: 118, S: 10}, Vehicle: &input.VehicleData{
			Kind: "bike", Length: 2, MaxSpeed: 4, MaxAccel: 1, MaxBrake: 2,
		}, Trips: []*input.TripData{
			{Mode: "bike", Departure: 0, End: &input.PositionData{Lane: 111, S: 50}},
		}},
	}
	w := ringWorld(t, config.Control{Seed: 42}, ringOpts{}, persons)

	w.runUntil(t, 800, func() bool { return len(w.sink.byKind(entity.EventTripFinished)) == 1 })

	// 自行车到终点直接离网，不找车位
	assert.Equal(t, []int32{118, 318, 111}, w.sink.enteredUnits(1))
	assert.Empty(t, w.sink.byKind(entity.EventSpotReserved))
	assert.Empty(t, w.sink.byKind(entity.EventSpotClaimed))
	assert.Equal(t, 1, w.agentM.TripReport().Finished)
}

func TestPedestrianWalksAcrossJunctions(t *testing.T) {
	persons := []*input.PersonData{
		{ID: 1, Home: input.PositionData{Lane: 120, S: 5}, Trips: []*input.TripData{
			{Mode: "walking", Departure: 0, End: &input.PositionData{Lane: 121, S: 50}},
		}},
	}
	w := ringWorld(t, config.Control{Seed: 42}, ringOpts{}, persons)

	w.runUntil(t, 2500, func() bool { return len(w.sink.byKind(entity.EventTripFinished)) == 1 })

	// 沿120经330过街到122，再经332过街进121
	assert.Equal(t, []int32{120, 330, 122, 332, 121}, w.sink.enteredUnits(1))
	report := w.agentM.TripReport()
	assert.Equal(t, 1, report.Finished)
	// 全程约240米，步速1.4米/秒
	assert.Greater(t, report.TotalTravelTime, 150.0)
	assert.Less(t, report.TotalTravelTime, 220.0)
}

func TestStopSignKeepsArrivalOrder(t *testing.T) {
	persons := []*input.PersonData{
		{ID: 1, Home: input.PositionData{Lane: 110, S: 10}, Vehicle: testCar(), Trips: []*input.TripData{
			{Mode: "driving", Departure: 0, End: &input.PositionData{Lane: 114, S: 60}},
		}},
		{ID: 2, Home: input.PositionData{Lane: 110, S: 2}, Vehicle: testCar(), Trips: []*input.TripData{
			{Mode: "driving", Departure: 0.5, End: &input.PositionData{Lane: 114, S: 60}},
		}},
	}
	w := ringWorld(t, config.Control{Seed: 42}, ringOpts{mustStop: true}, persons)

	for i := 0; i < 1200; i++ {
		w.step()
		w.agentM.Prepare()
		assertNoOverlap(t, w, []int32{1, 2})
		if len(w.sink.byKind(entity.EventTripFinished)) == 2 {
			break
		}
	}
	require.Len(t, w.sink.byKind(entity.EventTripFinished), 2, "both trips should finish")

	// 先到先过：转向314的进入顺序与到达顺序一致
	entered314 := lo.Filter(w.sink.byKind(entity.EventAgentEntered), func(e entity.Event, _ int) bool {
		return e.TurnID == 314
	})
	require.Len(t, entered314, 2)
	assert.Equal(t, int32(1), entered314[0].AgentID)
	assert.Equal(t, int32(2), entered314[1].AgentID)
	// 停车让行至少停稳1.5秒后放行
	assert.Greater(t, entered314[0].T.Seconds(), 1.5)

	// 两辆车都在112旁的车位停车，后车被排除到第二个车位
	claimed := w.sink.byKind(entity.EventSpotClaimed)
	require.Len(t, claimed, 2)
	assert.NotEqual(t, claimed[0].SpotID, claimed[1].SpotID)
}

func TestSpawnRetriesWhenOriginBlocked(t *testing.T) {
	persons := []*input.PersonData{
		{ID: 1, Home: input.PositionData{Lane: 110, S: 10}, Vehicle: testCar(), Trips: []*input.TripData{
			{Mode: "driving", Departure: 0, End: &input.PositionData{Lane: 112, S: 10}},
		}},
		{ID: 2, Home: input.PositionData{Lane: 110, S: 10}, Vehicle: testCar(), Trips: []*input.TripData{
			{Mode: "driving", Departure: 0, End: &input.PositionData{Lane: 112, S: 10}},
		}},
	}
	w := ringWorld(t, config.Control{Seed: 42}, ringOpts{}, persons)

	w.runUntil(t, 1200, func() bool { return len(w.sink.byKind(entity.EventTripFinished)) == 2 })

	// 起点被同伴占住时生成推迟到下个重试窗口
	started := w.sink.byKind(entity.EventTripStarted)
	require.Len(t, started, 2)
	assert.Equal(t, int32(1), started[0].AgentID)
	assert.Equal(t, int32(2), started[1].AgentID)
	assert.InDelta(t, 0, started[0].T.Seconds(), 1e-9)
	assert.GreaterOrEqual(t, started[1].T.Seconds(), 5.0)
	assert.Less(t, started[1].T.Seconds(), 6.0)
}

func TestParkingExhaustedFailsTripAndSuccessors(t *testing.T) {
	persons := []*input.PersonData{
		{ID: 1, Home: input.PositionData{Lane: 110, S: 10}, Vehicle: testCar(), Trips: []*input.TripData{
			{Mode: "driving", Departure: 0, End: &input.PositionData{Lane: 112, S: 10}},
			{Mode: "walking", Departure: 30, End: &input.PositionData{Lane: 120, S: 50}},
		}},
	}
	w := ringWorld(t, config.Control{Seed: 42}, ringOpts{}, persons)
	w.parkingM.SeedOccupancy(1.0, randengine.New(7))

	w.run(400)

	// 找不到任何车位：驾车行程失败，依赖其终点的后续行程连带作废
	failed := w.sink.byKind(entity.EventTripFailed)
	require.Len(t, failed, 2)
	assert.Equal(t, "no_parking", failed[0].Reason)
	assert.Equal(t, int32(0), failed[0].TripID)
	assert.Equal(t, "predecessor_failed", failed[1].Reason)
	assert.Equal(t, int32(1), failed[1].TripID)

	report := w.agentM.TripReport()
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, 1, report.ByReason["no_parking"])
	assert.Equal(t, 1, report.ByReason["predecessor_failed"])
	assert.Empty(t, w.agentM.ActiveIDs())
}

func TestGridlockedRingCancelsAllTrips(t *testing.T) {
	car := &input.VehicleData{Kind: "car", Length: 5, MaxSpeed: 10, MaxAccel: 3, MaxBrake: 5}
	persons := []*input.PersonData{
		{ID: 1, Home: input.PositionData{Lane: 131, S: 6}, Vehicle: car, Trips: []*input.TripData{
			{Mode: "driving", Departure: 0, End: &input.PositionData{Lane: 134, S: 4}},
		}},
		{ID: 2, Home: input.PositionData{Lane: 132, S: 6}, Vehicle: car, Trips: []*input.TripData{
			{Mode: "driving", Departure: 0, End: &input.PositionData{Lane: 131, S: 4}},
		}},
		{ID: 3, Home: input.PositionData{Lane: 133, S: 6}, Vehicle: car, Trips: []*input.TripData{
			{Mode: "driving", Departure: 0, End: &input.PositionData{Lane: 132, S: 4}},
		}},
		{ID: 4, Home: input.PositionData{Lane: 134, S: 6}, Vehicle: car, Trips: []*input.TripData{
			{Mode: "driving", Departure: 0, End: &input.PositionData{Lane: 133, S: 4}},
		}},
	}
	w := squareWorld(t, config.Control{Seed: 42, GridlockTimeout: 30}, persons)

	w.runUntil(t, 500, func() bool { return len(w.sink.byKind(entity.EventTripCancelled)) == 4 })

	// 四辆车互相等待，超时后同一拍全部按堵死取消
	cancelled := w.sink.byKind(entity.EventTripCancelled)
	require.Len(t, cancelled, 4)
	for _, e := range cancelled {
		assert.Equal(t, "gridlock", e.Reason)
		assert.Equal(t, cancelled[0].Step, e.Step)
	}
	// 从入网到取消约等于堵死超时（入网后先行驶到车道末端）
	started := w.sink.byKind(entity.EventTripStarted)
	require.Len(t, started, 4)
	elapsed := cancelled[0].T.Seconds() - started[0].T.Seconds()
	assert.GreaterOrEqual(t, elapsed, 30.0)
	assert.Less(t, elapsed, 34.0)

	assert.Empty(t, w.agentM.ActiveIDs())
	report := w.agentM.TripReport()
	assert.Equal(t, 4, report.Cancelled)
	assert.Equal(t, 4, report.ByReason["gridlock"])

	// 取消后的空路网可以继续推进
	w.run(10)
}

func TestGridlockDisabledByDefault(t *testing.T) {
	car := &input.VehicleData{Kind: "car", Length: 5, MaxSpeed: 10, MaxAccel: 3, MaxBrake: 5}
	persons := []*input.PersonData{
		{ID: 1, Home: input.PositionData{Lane: 131, S: 6}, Vehicle: car, Trips: []*input.TripData{
			{Mode: "driving", Departure: 0, End: &input.PositionData{Lane: 134, S: 4}},
		}},
		{ID: 2, Home: input.PositionData{Lane: 132, S: 6}, Vehicle: car, Trips: []*input.TripData{
			{Mode: "driving", Departure: 0, End: &input.PositionData{Lane: 131, S: 4}},
		}},
		{ID: 3, Home: input.PositionData{Lane: 133, S: 6}, Vehicle: car, Trips: []*input.TripData{
			{Mode: "driving", Departure: 0, End: &input.PositionData{Lane: 132, S: 4}},
		}},
		{ID: 4, Home: input.PositionData{Lane: 134, S: 6}, Vehicle: car, Trips: []*input.TripData{
			{Mode: "driving", Departure: 0, End: &input.PositionData{Lane: 133, S: 4}},
		}},
	}
	w := squareWorld(t, config.Control{Seed: 42}, persons)

	// 超时未配置时堵死的车辆一直保持在网
	w.run(600)
	assert.Empty(t, w.sink.byKind(entity.EventTripCancelled))
	assert.Len(t, w.agentM.ActiveIDs(), 4)
}

func TestBusServesRouteAndPedestrianRides(t *testing.T) {
	persons := []*input.PersonData{
		{ID: 10, Home: input.PositionData{Lane: 112, S: 40}, Vehicle: &input.VehicleData{
			Kind: "bus", Length: 10, MaxSpeed: 15, MaxAccel: 2, MaxBrake: 4,
		}, Trips: []*input.TripData{
			{Mode: "serve_bus", Departure: 10, Route: 701},
		}},
		{ID: 11, Home: input.PositionData{Lane: 120, S: 5}, Trips: []*input.TripData{
			{Mode: "walking", Departure: 0, End: &input.PositionData{Lane: 121, S: 30}},
		}},
	}
	w := ringWorld(t, config.Control{Seed: 42}, ringOpts{transit: true, walkSplit: true}, persons)

	w.runUntil(t, 1500, func() bool { return len(w.sink.byKind(entity.EventTripFinished)) == 2 })

	// 整环服务从首站开始：602发车→601接客→回602清客收班
	arrived := w.sink.byKind(entity.EventBusArrived)
	require.Len(t, arrived, 3)
	assert.Equal(t, int32(602), arrived[0].StopID)
	assert.Equal(t, int32(701), arrived[0].RouteID)
	assert.Equal(t, int32(601), arrived[1].StopID)
	assert.Equal(t, int32(602), arrived[2].StopID)
	departed := w.sink.byKind(entity.EventBusDeparted)
	require.Len(t, departed, 2)
	assert.Equal(t, int32(602), departed[0].StopID)
	assert.Equal(t, int32(601), departed[1].StopID)
	// 到站后停靠10秒再出发
	assert.InDelta(t, 10, departed[0].T.Seconds()-arrived[0].T.Seconds(), 0.2)

	// 行人步行到601候车、乘车到602、下车步行到终点
	boarded := w.sink.byKind(entity.EventPedBoarded)
	require.Len(t, boarded, 1)
	assert.Equal(t, int32(11), boarded[0].AgentID)
	assert.Equal(t, int32(601), boarded[0].StopID)
	alighted := w.sink.byKind(entity.EventPedAlighted)
	require.Len(t, alighted, 1)
	assert.Equal(t, int32(11), alighted[0].AgentID)
	assert.Equal(t, int32(602), alighted[0].StopID)
	// 时序：到601→上车→离601→到602→下车
	assert.Less(t, arrived[1].Seq, boarded[0].Seq)
	assert.Less(t, boarded[0].Seq, departed[1].Seq)
	assert.Less(t, departed[1].Seq, arrived[2].Seq)
	assert.Less(t, arrived[2].Seq, alighted[0].Seq)

	report := w.agentM.TripReport()
	assert.Equal(t, 2, report.Finished)
	assert.Zero(t, report.Failed)
}

func checkpointPersons() []*input.PersonData {
	return []*input.PersonData{
		{ID: 1, Home: input.PositionData{Lane: 110, S: 10}, Vehicle: testCar(), Trips: []*input.TripData{
			{Mode: "driving", Departure: 0, End: &input.PositionData{Lane: 112, S: 10}},
		}},
		{ID: 2, Home: input.PositionData{Lane: 110, S: 2}, Vehicle: testCar(), Trips: []*input.TripData{
			{Mode: "driving", Departure: 2, End: &input.PositionData{Lane: 114, S: 60}},
		}},
		{ID: 3, Home: input.PositionData{Lane: 120, S: 5}, Trips: []*input.TripData{
			{Mode: "walking", Departure: 0, End: &input.PositionData{Lane: 121, S: 50}},
		}},
	}
}

func stripSeq(evs []entity.Event) []entity.Event {
	out := make([]entity.Event, len(evs))
	for i, e := range evs {
		e.Seq = 0
		out[i] = e
	}
	return out
}

func TestCheckpointRestoreReplaysIdentically(t *testing.T) {
	w1 := ringWorld(t, config.Control{Seed: 42}, ringOpts{}, checkpointPersons())
	w1.run(25)
	chk := w1.agentM.Checkpoint()
	mark := len(w1.sink.events)

	// 恢复到同输入初始化的新世界，导出应与存档逐字段一致
	w2 := ringWorld(t, config.Control{Seed: 42}, ringOpts{}, checkpointPersons())
	w2.ctx.clk.SetStep(w1.ctx.clk.InternalStep)
	require.NoError(t, w2.agentM.RestoreCheckpoint(chk))
	require.Equal(t, chk, w2.agentM.Checkpoint())

	// 两个世界继续推进，事件流与最终状态完全一致
	w1.run(2200)
	w2.run(2200)
	assert.Equal(t, stripSeq(w1.sink.events[mark:]), stripSeq(w2.sink.events))
	assert.Equal(t, w1.agentM.Checkpoint(), w2.agentM.Checkpoint())
	assert.Equal(t, w1.agentM.TripReport(), w2.agentM.TripReport())
	assert.Equal(t, 3, w1.agentM.TripReport().Finished)
}

func TestCheckpointExportIsStable(t *testing.T) {
	w := ringWorld(t, config.Control{Seed: 42}, ringOpts{}, checkpointPersons())
	w.run(40)
	assert.Equal(t, w.agentM.Checkpoint(), w.agentM.Checkpoint())
	ids := lo.Map(w.agentM.Checkpoint().Agents, func(st agent.AgentState, _ int) int32 { return st.ID })
	assert.Equal(t, []int32{1, 2, 3}, ids)
}

func TestRestoreCheckpointRejectsBadData(t *testing.T) {
	w := ringWorld(t, config.Control{Seed: 42}, ringOpts{}, checkpointPersons())
	w.run(25)
	base := w.agentM.Checkpoint()

	cases := []struct {
		name    string
		mutate  func(chk *agent.Checkpoint)
		wantErr string
	}{
		{
			name:    "truncated",
			mutate:  func(chk *agent.Checkpoint) { chk.Agents = chk.Agents[:2] },
			wantErr: "covers 2 agents",
		},
		{
			name:    "unknown agent",
			mutate:  func(chk *agent.Checkpoint) { chk.Agents[2].ID = 999 },
			wantErr: "unknown agent 999",
		},
		{
			name:    "duplicated agent",
			mutate:  func(chk *agent.Checkpoint) { chk.Agents[1].ID = 1 },
			wantErr: "twice",
		},
		{
			name: "trip count mismatch",
			mutate: func(chk *agent.Checkpoint) {
				chk.Agents[0].Trips = append(chk.Agents[0].Trips, chk.Agents[0].Trips[0])
			},
			wantErr: "has 2 trips",
		},
		{
			name:    "invalid state",
			mutate:  func(chk *agent.Checkpoint) { chk.Agents[0].State.Kind = 99 },
			wantErr: "invalid state",
		},
		{
			name:    "invalid kind",
			mutate:  func(chk *agent.Checkpoint) { chk.Agents[0].Kind = 77 },
			wantErr: "invalid kind",
		},
		{
			name:    "unknown traversable",
			mutate:  func(chk *agent.Checkpoint) { chk.Agents[0].Trav = &agent.TravRef{ID: 9999} },
			wantErr: "no id 9999",
		},
		{
			name:    "unknown reserved spot",
			mutate:  func(chk *agent.Checkpoint) { chk.Agents[0].ReservedSpot = 555 },
			wantErr: "555",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			chk := w.agentM.Checkpoint()
			c.mutate(chk)
			err := w.agentM.RestoreCheckpoint(chk)
			require.Error(t, err)
			assert.Contains(t, err.Error(), c.wantErr)
			// 失败的恢复不得改动原状态
			assert.Equal(t, base, w.agentM.Checkpoint())
		})
	}

	require.Error(t, w.agentM.RestoreCheckpoint(nil))
}
