package parking_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/microsim-oss/entity"
	"github.com/tsinghua-fib-lab/microsim-oss/entity/junction"
	"github.com/tsinghua-fib-lab/microsim-oss/entity/lane"
	"github.com/tsinghua-fib-lab/microsim-oss/entity/parking"
	"github.com/tsinghua-fib-lab/microsim-oss/entity/road"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/config"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/input"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/randengine"
)

// fakeContext 停车测试用的任务上下文，只提供运行时配置
type fakeContext struct {
	entity.ITaskContext
	rc *config.RuntimeConfig
}

func (c *fakeContext) RuntimeConfig() *config.RuntimeConfig { return c.rc }

func newFakeContext(pc config.ParkingControl) *fakeContext {
	return &fakeContext{rc: config.NewRuntimeConfig(config.Config{Control: config.Control{
		Step:    config.ControlStep{Total: 1, Interval: 0.1},
		Parking: pc,
	}})}
}

// buildParkingNetwork 构造环形道路与一条死路
//
//	401(101/停车111/人行121)→402(102/停车112)→403(103)→404(104)→401
//	402经转向305进入死路405(105/停车115)，405无出口因而是黑洞
//
// 停车道长40米，各有3个车位；车位编号：111→1..3，112→4..6，115→7..9
func buildParkingNetwork(t *testing.T, ctx entity.ITaskContext) *lane.LaneManager {
	t.Helper()
	laneM := lane.NewManager(ctx)
	laneM.Init([]*input.LaneData{
		{ID: 101, Type: "driving", MaxSpeed: 10, Points: []input.Point{{X: 0, Y: 0}, {X: 40, Y: 0}}, ParentRoad: 401},
		{ID: 102, Type: "driving", MaxSpeed: 10, Points: []input.Point{{X: 45, Y: 0}, {X: 85, Y: 0}}, ParentRoad: 402},
		{ID: 103, Type: "driving", MaxSpeed: 10, Points: []input.Point{{X: 90, Y: 0}, {X: 130, Y: 0}}, ParentRoad: 403},
		{ID: 104, Type: "driving", MaxSpeed: 10, Points: []input.Point{{X: 130, Y: 5}, {X: 0, Y: 5}}, ParentRoad: 404},
		{ID: 105, Type: "driving", MaxSpeed: 10, Points: []input.Point{{X: 90, Y: 20}, {X: 130, Y: 20}}, ParentRoad: 405},
		{ID: 111, Type: "parking", Points: []input.Point{{X: 0, Y: -3}, {X: 40, Y: -3}}, ParentRoad: 401, SideDrivingLane: 101},
		{ID: 112, Type: "parking", Points: []input.Point{{X: 45, Y: -3}, {X: 85, Y: -3}}, ParentRoad: 402, SideDrivingLane: 102},
		{ID: 115, Type: "parking", Points: []input.Point{{X: 90, Y: 17}, {X: 130, Y: 17}}, ParentRoad: 405, SideDrivingLane: 105},
		{ID: 121, Type: "sidewalk", Points: []input.Point{{X: 0, Y: -6}, {X: 40, Y: -6}}, ParentRoad: 401, SideDrivingLane: 101},
	})
	roadM := road.NewManager(ctx)
	roadM.Init([]*input.RoadData{
		{ID: 401, Lanes: []int32{101, 111, 121}},
		{ID: 402, Lanes: []int32{102, 112}},
		{ID: 403, Lanes: []int32{103}},
		{ID: 404, Lanes: []int32{104}},
		{ID: 405, Lanes: []int32{105, 115}},
	}, laneM)
	junctionM := junction.NewManager(ctx)
	junctionM.Init([]*input.JunctionData{
		{ID: 201, Turns: []*input.TurnData{{ID: 301, Type: "straight", SrcLane: 101, DstLane: 102}}, Control: "stop_sign"},
		{ID: 202, Turns: []*input.TurnData{
			{ID: 302, Type: "straight", SrcLane: 102, DstLane: 103},
			{ID: 305, Type: "right", SrcLane: 102, DstLane: 105},
		}, Control: "stop_sign"},
		{ID: 203, Turns: []*input.TurnData{{ID: 303, Type: "straight", SrcLane: 103, DstLane: 104}}, Control: "stop_sign"},
		{ID: 204, Turns: []*input.TurnData{{ID: 304, Type: "straight", SrcLane: 104, DstLane: 101}}, Control: "stop_sign"},
	}, laneM, roadM)
	laneM.InitAfterNetwork(roadM, junctionM)
	roadM.InitAfterJunction(junctionM)
	return laneM
}

// defaultLots 挂在道路403上的停车场，车位编号10、11
func defaultLots() []*input.LotData {
	return []*input.LotData{{ID: 501, Lane: 103, S: 10, Capacity: 2}}
}

func buildParking(t *testing.T, ctx entity.ITaskContext) (*parking.ParkingManager, *lane.LaneManager) {
	t.Helper()
	laneM := buildParkingNetwork(t, ctx)
	m := parking.NewManager(ctx)
	m.Init(defaultLots(), laneM)
	return m, laneM
}

func TestSpotEnumeration(t *testing.T) {
	m, _ := buildParking(t, newFakeContext(config.ParkingControl{}))

	// 车位ID按停车道ID升序、停车场ID升序连续编号
	spots := m.Spots()
	require.Len(t, spots, 11)
	for i, s := range spots {
		assert.Equal(t, int32(i+1), s.ID())
	}

	// 路内车位：锚点s=8*(2+idx)，行车停靠点与步行点为同s投影
	first := m.Get(1)
	assert.False(t, first.IsLot())
	assert.Equal(t, int32(-1), first.LotID())
	require.NotNil(t, first.ParkingLane())
	assert.Equal(t, int32(111), first.ParkingLane().ID())
	assert.Equal(t, int32(101), first.DrivingPos().Lane.ID())
	assert.InDelta(t, 16, first.DrivingPos().S, 1e-6)
	require.NotNil(t, first.WalkingPos().Lane)
	assert.Equal(t, int32(121), first.WalkingPos().Lane.ID())
	assert.InDelta(t, 16, first.WalkingPos().S, 1e-6)

	// 第二条停车道重新从s=16排布；所在道路无人行道时步行点为空
	fourth := m.Get(4)
	assert.Equal(t, int32(102), fourth.DrivingPos().Lane.ID())
	assert.InDelta(t, 16, fourth.DrivingPos().S, 1e-6)
	assert.Nil(t, fourth.WalkingPos().Lane)

	// 停车场车位共用出入口
	lotSpot := m.Get(10)
	assert.True(t, lotSpot.IsLot())
	assert.Equal(t, int32(501), lotSpot.LotID())
	assert.Nil(t, lotSpot.ParkingLane())
	assert.Equal(t, int32(103), lotSpot.DrivingPos().Lane.ID())
	assert.InDelta(t, 10, lotSpot.DrivingPos().S, 1e-6)
	assert.Equal(t, lotSpot.DrivingPos(), m.Get(11).DrivingPos())

	total, free := m.LaneOccupancy(111)
	assert.Equal(t, 3, total)
	assert.Equal(t, 3, free)
	total, free = m.LotOccupancy(501)
	assert.Equal(t, 2, total)
	assert.Equal(t, 2, free)
	total, _ = m.LaneOccupancy(101)
	assert.Equal(t, 0, total)

	_, err := m.GetOrError(99)
	assert.Error(t, err)
}

func TestSpotCapacityOverride(t *testing.T) {
	ctx := newFakeContext(config.ParkingControl{})
	laneM := lane.NewManager(ctx)
	laneM.Init([]*input.LaneData{
		{ID: 106, Type: "driving", MaxSpeed: 10, Points: []input.Point{{X: 0, Y: 0}, {X: 20, Y: 0}}, ParentRoad: 406},
		{ID: 116, Type: "parking", Points: []input.Point{{X: 0, Y: -3}, {X: 20, Y: -3}}, ParentRoad: 406, SideDrivingLane: 106, ParkingCapacity: 1},
		{ID: 107, Type: "driving", MaxSpeed: 10, Points: []input.Point{{X: 0, Y: 10}, {X: 20, Y: 10}}, ParentRoad: 407},
		{ID: 117, Type: "parking", Points: []input.Point{{X: 0, Y: 7}, {X: 20, Y: 7}}, ParentRoad: 407, SideDrivingLane: 107},
	})
	roadM := road.NewManager(ctx)
	roadM.Init([]*input.RoadData{
		{ID: 406, Lanes: []int32{106, 116}},
		{ID: 407, Lanes: []int32{107, 117}},
	}, laneM)
	junctionM := junction.NewManager(ctx)
	junctionM.Init(nil, laneM, roadM)
	laneM.InitAfterNetwork(roadM, junctionM)
	roadM.InitAfterJunction(junctionM)

	m := parking.NewManager(ctx)
	m.Init(nil, laneM)

	// 显式车位数优先于长度推算；不足24米的停车道按默认公式没有车位
	spots := m.Spots()
	require.Len(t, spots, 1)
	assert.Equal(t, int32(116), spots[0].ParkingLane().ID())
	assert.InDelta(t, 16, spots[0].DrivingPos().S, 1e-6)
}

func TestSpotCapacityMisfit(t *testing.T) {
	ctx := newFakeContext(config.ParkingControl{})
	laneM := lane.NewManager(ctx)
	laneM.Init([]*input.LaneData{
		{ID: 108, Type: "driving", MaxSpeed: 10, Points: []input.Point{{X: 0, Y: 0}, {X: 20, Y: 0}}, ParentRoad: 408},
		{ID: 118, Type: "parking", Points: []input.Point{{X: 0, Y: -3}, {X: 20, Y: -3}}, ParentRoad: 408, SideDrivingLane: 108, ParkingCapacity: 2},
	})
	roadM := road.NewManager(ctx)
	roadM.Init([]*input.RoadData{{ID: 408, Lanes: []int32{108, 118}}}, laneM)
	junctionM := junction.NewManager(ctx)
	junctionM.Init(nil, laneM, roadM)
	laneM.InitAfterNetwork(roadM, junctionM)
	roadM.InitAfterJunction(junctionM)

	// 末一车位超出车道长度
	m := parking.NewManager(ctx)
	assert.Panics(t, func() { m.Init(nil, laneM) })
}

func TestSeedOccupancyDeterminism(t *testing.T) {
	occupied := func(m *parking.ParkingManager) []int32 {
		ids := make([]int32, 0)
		for _, s := range m.Spots() {
			if !m.IsFree(s.ID()) {
				ids = append(ids, s.ID())
			}
		}
		return ids
	}
	build := func() *parking.ParkingManager {
		m, _ := buildParking(t, newFakeContext(config.ParkingControl{}))
		return m
	}

	// 同种子播种结果一致
	m1 := build()
	m1.SeedOccupancy(0.5, randengine.New(12345))
	m2 := build()
	m2.SeedOccupancy(0.5, randengine.New(12345))
	assert.Equal(t, occupied(m1), occupied(m2))

	// 全量播种占满除黑洞道路405外的全部车位
	m3 := build()
	m3.SeedOccupancy(1, randengine.New(1))
	assert.Equal(t, []int32{1, 2, 3, 4, 5, 6, 10, 11}, occupied(m3))

	// 比例为0时不播种
	m4 := build()
	m4.SeedOccupancy(0, randengine.New(1))
	assert.Empty(t, occupied(m4))
}

func TestReserveClaimRelease(t *testing.T) {
	m, _ := buildParking(t, newFakeContext(config.ParkingControl{}))

	m.Reserve(1, 9001)
	assert.False(t, m.IsFree(1))
	spot, ok := m.SpotOfAgent(9001)
	require.True(t, ok)
	assert.Equal(t, int32(1), spot.ID())

	// 预定互斥：他人抢占或一人双持均为缺陷
	assert.Panics(t, func() { m.Reserve(1, 9002) })
	assert.Panics(t, func() { m.Reserve(2, 9001) })

	m.Claim(1, 9001)
	assert.False(t, m.IsFree(1))
	assert.Panics(t, func() { m.Claim(1, 9001) })
	assert.Panics(t, func() { m.Claim(1, 9002) })
	assert.Panics(t, func() { m.Release(1, 9002) })

	m.Release(1, 9001)
	assert.True(t, m.IsFree(1))
	_, ok = m.SpotOfAgent(9001)
	assert.False(t, ok)
	assert.Panics(t, func() { m.Release(1, 9001) })

	// 未经预定的空闲车位可直接占用
	m.Claim(2, 9003)
	assert.False(t, m.IsFree(2))
	total, free := m.LaneOccupancy(111)
	assert.Equal(t, 3, total)
	assert.Equal(t, 2, free)

	// 环境车辆的占用只能由播种写入
	assert.Panics(t, func() { m.Reserve(3, -1) })
}

func TestFindSpotNear(t *testing.T) {
	m, laneM := buildParking(t, newFakeContext(config.ParkingControl{}))
	at := func(laneID int32, s float64) entity.Position {
		return entity.Position{Lane: laneM.Get(laneID), S: s}
	}

	// 当前道路上取前方最近的车位
	spot, err := m.FindSpotNear(at(101, 20), nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), spot.ID())

	// 被排除的车位跳过
	spot, err = m.FindSpotNear(at(101, 20), map[int32]bool{2: true})
	require.NoError(t, err)
	assert.Equal(t, int32(3), spot.ID())

	// 身后的车位不回头，转入后继道路
	spot, err = m.FindSpotNear(at(101, 35), nil)
	require.NoError(t, err)
	assert.Equal(t, int32(4), spot.ID())

	// 后继道路满位时继续向外扩展到停车场
	for i, id := range []int32{4, 5, 6} {
		m.Claim(id, int32(9100+i))
	}
	spot, err = m.FindSpotNear(at(101, 35), nil)
	require.NoError(t, err)
	assert.Equal(t, int32(10), spot.ID())

	// 黑洞道路405上的车位虽可达但不选用，全网无空位时报告找不到车位
	m.Claim(10, 9201)
	m.Claim(11, 9202)
	_, err = m.FindSpotNear(at(101, 35), nil)
	assert.ErrorIs(t, err, parking.ErrNoParkingFound)

	// 位置脱离路网时直接判无
	_, err = m.FindSpotNear(entity.Position{}, nil)
	assert.ErrorIs(t, err, parking.ErrNoParkingFound)
}

func TestFindSpotNearPolicyCaps(t *testing.T) {
	// 跳数上限：一跳内有空位则正常返回，停车场在两跳外够不到
	m, laneM := buildParking(t, newFakeContext(config.ParkingControl{SearchMaxHops: 1}))
	pos := entity.Position{Lane: laneM.Get(101), S: 35}
	spot, err := m.FindSpotNear(pos, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(4), spot.ID())
	for i, id := range []int32{4, 5, 6} {
		m.Claim(id, int32(9100+i))
	}
	_, err = m.FindSpotNear(pos, nil)
	assert.ErrorIs(t, err, parking.ErrNoParkingFound)

	// 距离上限：到停车场所在道路的累计行驶距离超限
	m2, laneM2 := buildParking(t, newFakeContext(config.ParkingControl{SearchMaxDistance: 40}))
	pos2 := entity.Position{Lane: laneM2.Get(101), S: 35}
	m2.Claim(4, 9100)
	m2.Claim(5, 9101)
	spot, err = m2.FindSpotNear(pos2, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(6), spot.ID())
	m2.Claim(6, 9102)
	_, err = m2.FindSpotNear(pos2, nil)
	assert.ErrorIs(t, err, parking.ErrNoParkingFound)
}

func TestParkingCheckpointRoundtrip(t *testing.T) {
	m, _ := buildParking(t, newFakeContext(config.ParkingControl{}))

	m.Reserve(2, 9001)
	m.Claim(5, 9002)
	chk := m.Checkpoint()
	require.Equal(t, []parking.SpotState{
		{ID: 2, AgentID: 9001, Reserved: true},
		{ID: 5, AgentID: 9002},
	}, chk.Spots)

	// 继续演化后恢复到存档时刻
	m.Release(2, 9001)
	m.Claim(3, 9004)
	require.NoError(t, m.RestoreCheckpoint(chk))
	assert.True(t, m.IsFree(3))
	assert.False(t, m.IsFree(2))
	spot, ok := m.SpotOfAgent(9001)
	require.True(t, ok)
	assert.Equal(t, int32(2), spot.ID())
	assert.Equal(t, chk, m.Checkpoint())

	// 非法存档整体拒绝且不改变现状
	assert.Error(t, m.RestoreCheckpoint(&parking.Checkpoint{Spots: []parking.SpotState{
		{ID: 99, AgentID: 1},
	}}))
	assert.Error(t, m.RestoreCheckpoint(&parking.Checkpoint{Spots: []parking.SpotState{
		{ID: 1, AgentID: 1},
		{ID: 1, AgentID: 2},
	}}))
	assert.Error(t, m.RestoreCheckpoint(&parking.Checkpoint{Spots: []parking.SpotState{
		{ID: 1, AgentID: 1},
		{ID: 2, AgentID: 1},
	}}))
	assert.Error(t, m.RestoreCheckpoint(&parking.Checkpoint{Spots: []parking.SpotState{
		{ID: 1, AgentID: -1, Reserved: true},
	}}))
	assert.Equal(t, chk, m.Checkpoint())

	// 空存档等价于全部车位空闲
	require.NoError(t, m.RestoreCheckpoint(nil))
	assert.Empty(t, m.Checkpoint().Spots)
	_, ok = m.SpotOfAgent(9001)
	assert.False(t, ok)
}
