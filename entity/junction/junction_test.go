package junction_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/microsim-oss/entity"
	"github.com/tsinghua-fib-lab/microsim-oss/entity/junction"
	"github.com/tsinghua-fib-lab/microsim-oss/entity/lane"
	"github.com/tsinghua-fib-lab/microsim-oss/entity/road"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/config"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/geom"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/input"
)

// fakeAgentManager 提供可注入的车道主体数，其余方法不会被调用
type fakeAgentManager struct {
	entity.IAgentManager
	counts map[int32]int
}

func (m *fakeAgentManager) QueueCount(traversableID int32) int {
	return m.counts[traversableID]
}

// fakeContext 路口测试用的任务上下文，只实现路口依赖的方法
type fakeContext struct {
	entity.ITaskContext
	rc     *config.RuntimeConfig
	agents *fakeAgentManager
}

func (c *fakeContext) RuntimeConfig() *config.RuntimeConfig { return c.rc }

func (c *fakeContext) AgentManager() entity.IAgentManager { return c.agents }

func newFakeContext() *fakeContext {
	return &fakeContext{
		rc: config.NewRuntimeConfig(config.Config{
			Control: config.Control{
				Step: config.ControlStep{Total: 1, Interval: 0.1},
			},
		}),
		agents: &fakeAgentManager{counts: make(map[int32]int)},
	}
}

// buildNetwork 构造十字路口周边的车道与道路
//
//	        104↑        101/102: 东西向直行车道（西进东出）
//	   107        108   103/104: 南北向直行车道（南进北出）
//	101→  [junction] →102   105/106: 东西向反向车道（东进西出）
//	   109        ↑103  107/108/109: 人行道片段
//	        105←(经过路口上方y=1)
func buildNetwork(t *testing.T, ctx entity.ITaskContext) (*lane.LaneManager, *road.RoadManager) {
	t.Helper()
	laneM := lane.NewManager(ctx)
	laneM.Init([]*input.LaneData{
		{ID: 101, Type: "driving", MaxSpeed: 10, Points: []input.Point{{X: -50, Y: 0}, {X: -5, Y: 0}}, ParentRoad: 401},
		{ID: 102, Type: "driving", MaxSpeed: 10, Points: []input.Point{{X: 5, Y: 0}, {X: 50, Y: 0}}, ParentRoad: 402},
		{ID: 103, Type: "driving", MaxSpeed: 10, Points: []input.Point{{X: 0, Y: -50}, {X: 0, Y: -5}}, ParentRoad: 403},
		{ID: 104, Type: "driving", MaxSpeed: 10, Points: []input.Point{{X: 0, Y: 5}, {X: 0, Y: 50}}, ParentRoad: 404},
		{ID: 105, Type: "driving", MaxSpeed: 10, Points: []input.Point{{X: 50, Y: 1}, {X: 5, Y: 1}}, ParentRoad: 405},
		{ID: 106, Type: "driving", MaxSpeed: 10, Points: []input.Point{{X: -5, Y: 1}, {X: -50, Y: 1}}, ParentRoad: 406},
		{ID: 107, Type: "sidewalk", Points: []input.Point{{X: -3, Y: -8}, {X: -3, Y: -6}}},
		{ID: 108, Type: "sidewalk", Points: []input.Point{{X: -3, Y: 6}, {X: -3, Y: 8}}},
		{ID: 109, Type: "sidewalk", Points: []input.Point{{X: -3, Y: -6}, {X: 5, Y: -6}}},
	})
	roadM := road.NewManager(ctx)
	roadM.Init([]*input.RoadData{
		{ID: 401, Lanes: []int32{101}},
		{ID: 402, Lanes: []int32{102}},
		{ID: 403, Lanes: []int32{103}},
		{ID: 404, Lanes: []int32{104}},
		{ID: 405, Lanes: []int32{105}},
		{ID: 406, Lanes: []int32{106}},
	}, laneM)
	return laneM, roadM
}

// crossTurns 十字路口的转向集合
//
//	301: 101→102 直行    302: 103→104 直行（与301相交）
//	303: 101→104 左转    304: 105→106 直行（对向）
//	305: 107→108 人行横道（跨过301）  306: 107→109 转角（零长度）
//	307: 108→107 反向人行横道
func crossTurns() []*input.TurnData {
	return []*input.TurnData{
		{ID: 301, Type: "straight", SrcLane: 101, DstLane: 102},
		{ID: 302, Type: "straight", SrcLane: 103, DstLane: 104},
		{ID: 303, Type: "left", SrcLane: 101, DstLane: 104},
		{ID: 304, Type: "straight", SrcLane: 105, DstLane: 106},
		{ID: 305, Type: "crosswalk", SrcLane: 107, DstLane: 108},
		{ID: 306, Type: "corner", SrcLane: 107, DstLane: 109},
		{ID: 307, Type: "crosswalk", SrcLane: 108, DstLane: 107},
	}
}

func buildJunction(t *testing.T, ctx entity.ITaskContext, base *input.JunctionData) (*junction.JunctionManager, entity.IJunction) {
	t.Helper()
	laneM, roadM := buildNetwork(t, ctx)
	m := junction.NewManager(ctx)
	m.Init([]*input.JunctionData{base}, laneM, roadM)
	return m, m.Get(base.ID)
}

func request(agentID int32, turn entity.ITurn) entity.TurnRequest {
	return entity.TurnRequest{AgentID: agentID, Turn: turn, AtEnd: true}
}

func TestTurnConflicts(t *testing.T) {
	_, j := buildJunction(t, newFakeContext(), &input.JunctionData{
		ID: 201, Turns: crossTurns(), Control: "stop_sign",
	})

	conflicts := func(a, b int32) bool {
		return j.GetTurn(a).ConflictsWith(b)
	}
	// 相交的机动转向冲突
	assert.True(t, conflicts(301, 302))
	assert.True(t, conflicts(302, 301))
	// 起点相同视为分流，不冲突
	assert.False(t, conflicts(301, 303))
	// 终点相同视为合流，冲突
	assert.True(t, conflicts(303, 302))
	// 对向直行互不相交
	assert.False(t, conflicts(304, 301))
	assert.True(t, conflicts(304, 302))
	// 左转与对向直行相交
	assert.True(t, conflicts(303, 304))
	// 人行横道与穿过的机动转向冲突
	assert.True(t, conflicts(305, 301))
	assert.False(t, conflicts(305, 302))
	// 步行转向之间不冲突
	assert.False(t, conflicts(305, 307))
	// 转角与任何转向都不冲突
	assert.Empty(t, j.GetTurn(306).ConflictIDs())

	// 零长度转角
	assert.Equal(t, geom.Distance(0), j.GetTurn(306).Length())
	assert.Nil(t, j.GetTurn(306).Line())
}

func TestWalkTurnEndpoints(t *testing.T) {
	_, j := buildJunction(t, newFakeContext(), &input.JunctionData{
		ID: 201, Turns: crossTurns(), Control: "stop_sign",
	})

	// 人行横道307：从108的起点到107的末端
	turn := j.GetTurn(307)
	assert.False(t, turn.SrcAtLaneEnd())
	assert.False(t, turn.DstAtLaneStart())
	assert.InDelta(t, 12, turn.Length().Meters(), 1e-6)

	// 机动转向端点恒为源末端→目标起点
	assert.True(t, j.GetTurn(301).SrcAtLaneEnd())
	assert.True(t, j.GetTurn(301).DstAtLaneStart())
}

func TestStopSignRollthrough(t *testing.T) {
	_, j := buildJunction(t, newFakeContext(), &input.JunctionData{
		ID: 201, Turns: crossTurns(), Control: "stop_sign",
	})
	now := geom.NewTime(0)

	// 未标记必停的来路无冲突时直接放行
	assert.True(t, j.CanProceed(request(1, j.GetTurn(301)), now))
	// 重复询问幂等
	assert.True(t, j.CanProceed(request(1, j.GetTurn(301)), now))
	// 冲突转向被授权集合阻挡
	assert.False(t, j.CanProceed(request(2, j.GetTurn(302)), now))
	// 304与在等的302冲突且到达更晚，一并让行
	assert.False(t, j.CanProceed(request(3, j.GetTurn(304)), now))

	// 先到者离开后按到达顺序依次放行
	j.OnExit(1)
	assert.True(t, j.CanProceed(request(2, j.GetTurn(302)), geom.NewTime(0.1)))
	assert.False(t, j.CanProceed(request(3, j.GetTurn(304)), geom.NewTime(0.1)))
	j.OnExit(2)
	assert.True(t, j.CanProceed(request(3, j.GetTurn(304)), geom.NewTime(0.2)))
}

func TestStopSignMustStopWait(t *testing.T) {
	_, j := buildJunction(t, newFakeContext(), &input.JunctionData{
		ID: 201, Turns: crossTurns(), Control: "stop_sign", MustStopRoads: []int32{401},
	})

	req := request(1, j.GetTurn(301))
	// 未停稳不放行
	assert.False(t, j.CanProceed(req, geom.NewTime(0)))
	// 停稳后须等待足够时长
	req.Stopped = true
	assert.False(t, j.CanProceed(req, geom.NewTime(1)))
	assert.False(t, j.CanProceed(req, geom.NewTime(2.0)))
	assert.True(t, j.CanProceed(req, geom.NewTime(2.5)))
}

func TestStopSignPriorityOverFIFO(t *testing.T) {
	// 南北向必停，其余来路直接通行
	_, j := buildJunction(t, newFakeContext(), &input.JunctionData{
		ID: 201, Turns: crossTurns(), Control: "stop_sign", MustStopRoads: []int32{403},
	})

	// 左转303先进入路口，挡住302与304的请求
	assert.True(t, j.CanProceed(request(15, j.GetTurn(303)), geom.NewTime(0)))
	stopReq := request(11, j.GetTurn(302))
	stopReq.Stopped = true
	assert.False(t, j.CanProceed(stopReq, geom.NewTime(0)))
	rollReq := request(12, j.GetTurn(304))
	assert.False(t, j.CanProceed(rollReq, geom.NewTime(0)))

	// 路口空出后，必停请求虽然先到且已等足时长，
	// 仍须让行于更高优先级的在等冲突请求
	j.OnExit(15)
	assert.False(t, j.CanProceed(stopReq, geom.NewTime(2)))
	assert.True(t, j.CanProceed(rollReq, geom.NewTime(2)))
	assert.False(t, j.CanProceed(stopReq, geom.NewTime(2.1)))
	j.OnExit(12)
	assert.True(t, j.CanProceed(stopReq, geom.NewTime(2.2)))
}

func TestStopSignEqualClassArrivalOrder(t *testing.T) {
	_, j := buildJunction(t, newFakeContext(), &input.JunctionData{
		ID: 201, Turns: crossTurns(), Control: "stop_sign", MustStopRoads: []int32{401, 403},
	})

	a := request(21, j.GetTurn(301))
	a.Stopped = true
	b := request(22, j.GetTurn(302))
	b.Stopped = true
	assert.False(t, j.CanProceed(a, geom.NewTime(0)))
	assert.False(t, j.CanProceed(b, geom.NewTime(0)))

	// 等待期满后，后到者让行于先到者
	assert.False(t, j.CanProceed(b, geom.NewTime(2)))
	assert.True(t, j.CanProceed(a, geom.NewTime(2)))
	// 先到者进入路口后，后到者被授权集合阻挡
	assert.False(t, j.CanProceed(b, geom.NewTime(2.1)))
	j.OnExit(21)
	assert.True(t, j.CanProceed(b, geom.NewTime(2.2)))
}

func TestStopSignCancelRequest(t *testing.T) {
	_, j := buildJunction(t, newFakeContext(), &input.JunctionData{
		ID: 201, Turns: crossTurns(), Control: "stop_sign",
	})

	assert.True(t, j.CanProceed(request(1, j.GetTurn(301)), geom.NewTime(0)))
	assert.False(t, j.CanProceed(request(2, j.GetTurn(302)), geom.NewTime(0)))

	// 取消已授权的请求后冲突解除
	j.CancelRequest(1)
	assert.True(t, j.CanProceed(request(2, j.GetTurn(302)), geom.NewTime(0.1)))
	// 对无记录主体幂等
	j.CancelRequest(999)
}

func signalJunction(stages []*input.StageData, adaptive bool) *input.JunctionData {
	return &input.JunctionData{
		ID:      201,
		Turns:   crossTurns(),
		Control: "signal",
		Signal:  &input.SignalData{Adaptive: adaptive, Stages: stages},
	}
}

func TestFixedSignalStages(t *testing.T) {
	m, j := buildJunction(t, newFakeContext(), signalJunction([]*input.StageData{
		{Duration: 10, Protected: []int32{302}},
		{Duration: 5, Protected: []int32{301, 303}, Yield: []int32{307}},
	}, false))

	stage, remaining, ok := j.SignalStage()
	require.True(t, ok)
	assert.Equal(t, 0, stage)
	assert.InDelta(t, 10, remaining.Seconds(), 1e-9)

	// 阶段内保护相位放行，其余不放行
	req := request(1, j.GetTurn(302))
	req.CrossingTime = geom.NewDuration(1)
	assert.True(t, j.CanProceed(req, geom.NewTime(0)))
	j.OnExit(1)
	assert.False(t, j.CanProceed(request(2, j.GetTurn(301)), geom.NewTime(0)))

	// 阶段剩余时间不足以通过时不放行
	m.Update(geom.NewDuration(6))
	slow := request(3, j.GetTurn(302))
	slow.CrossingTime = geom.NewDuration(5)
	assert.False(t, j.CanProceed(slow, geom.NewTime(6)))
	fast := request(4, j.GetTurn(302))
	fast.CrossingTime = geom.NewDuration(3)
	assert.True(t, j.CanProceed(fast, geom.NewTime(6)))
	j.OnExit(4)
	j.CancelRequest(3)

	// 推进到下一阶段
	m.Update(geom.NewDuration(4))
	stage, remaining, _ = j.SignalStage()
	assert.Equal(t, 1, stage)
	assert.InDelta(t, 5, remaining.Seconds(), 1e-9)
	grant := request(5, j.GetTurn(301))
	grant.CrossingTime = geom.NewDuration(1)
	assert.True(t, j.CanProceed(grant, geom.NewTime(10)))
	j.OnExit(5)

	// 周期轮转回到第一阶段
	m.Update(geom.NewDuration(5))
	stage, _, _ = j.SignalStage()
	assert.Equal(t, 0, stage)
}

func TestFixedSignalYield(t *testing.T) {
	_, j := buildJunction(t, newFakeContext(), signalJunction([]*input.StageData{
		{Duration: 10, Protected: []int32{301}, Yield: []int32{305}},
	}, false))

	// 保护相位请求因通过时间不足而滞留等待
	blocked := request(1, j.GetTurn(301))
	blocked.CrossingTime = geom.NewDuration(100)
	assert.False(t, j.CanProceed(blocked, geom.NewTime(0)))

	// 许可相位请求让行于在等的保护相位冲突请求
	yield := request(2, j.GetTurn(305))
	yield.CrossingTime = geom.NewDuration(1)
	assert.False(t, j.CanProceed(yield, geom.NewTime(0)))

	// 保护相位请求取消后许可相位放行
	j.CancelRequest(1)
	assert.True(t, j.CanProceed(yield, geom.NewTime(0.1)))
}

func TestFixedSignalOffset(t *testing.T) {
	_, j := buildJunction(t, newFakeContext(), &input.JunctionData{
		ID:      201,
		Turns:   crossTurns(),
		Control: "signal",
		Signal: &input.SignalData{
			Offset: 12,
			Stages: []*input.StageData{
				{Duration: 10, Protected: []int32{302}},
				{Duration: 5, Protected: []int32{301, 303}},
			},
		},
	})

	// 偏移12秒落在第二阶段的第2秒
	stage, remaining, ok := j.SignalStage()
	require.True(t, ok)
	assert.Equal(t, 1, stage)
	assert.InDelta(t, 3, remaining.Seconds(), 1e-9)
}

func TestSignalRetime(t *testing.T) {
	m, j := buildJunction(t, newFakeContext(), signalJunction([]*input.StageData{
		{Duration: 10, Protected: []int32{302}},
	}, false))

	// 非法配时：同一阶段的保护相位冲突
	err := j.Retime([]*input.StageData{
		{Duration: 10, Protected: []int32{301, 302}},
	}, 0)
	require.Error(t, err)

	// 合法配时缓冲到准备阶段生效
	require.NoError(t, j.Retime([]*input.StageData{
		{Duration: 7, Protected: []int32{301, 303}},
		{Duration: 10, Protected: []int32{302}},
	}, 0))
	_, remaining, _ := j.SignalStage()
	assert.InDelta(t, 10, remaining.Seconds(), 1e-9)
	m.Prepare()
	stage, remaining, _ := j.SignalStage()
	assert.Equal(t, 0, stage)
	assert.InDelta(t, 7, remaining.Seconds(), 1e-9)

	// 停车让行路口不可配时
	_, j2 := buildJunction(t, newFakeContext(), &input.JunctionData{
		ID: 201, Turns: crossTurns(), Control: "stop_sign",
	})
	assert.Error(t, j2.Retime([]*input.StageData{{Duration: 5, Protected: []int32{301}}}, 0))
}

func TestMaxPressureSwitch(t *testing.T) {
	ctx := newFakeContext()
	m, j := buildJunction(t, ctx, signalJunction([]*input.StageData{
		{Duration: 10, Protected: []int32{302}},
		{Duration: 10, Protected: []int32{301, 303}},
	}, true))

	// 初始处于第一相位
	stage, remaining, ok := j.SignalStage()
	require.True(t, ok)
	assert.Equal(t, 0, stage)
	assert.InDelta(t, 15, remaining.Seconds(), 1e-9)
	req := request(1, j.GetTurn(302))
	req.CrossingTime = geom.NewDuration(1)
	assert.True(t, j.CanProceed(req, geom.NewTime(0)))
	j.OnExit(1)

	// 西侧来路积压，相位到期后切换并经过全红清空
	ctx.agents.counts[101] = 5
	m.Update(geom.NewDuration(15))
	denied := request(2, j.GetTurn(302))
	denied.CrossingTime = geom.NewDuration(1)
	assert.False(t, j.CanProceed(denied, geom.NewTime(15)))
	j.CancelRequest(2)

	m.Update(geom.NewDuration(3))
	stage, _, _ = j.SignalStage()
	assert.Equal(t, 1, stage)
	grant := request(3, j.GetTurn(301))
	grant.CrossingTime = geom.NewDuration(1)
	assert.True(t, j.CanProceed(grant, geom.NewTime(18)))
}

func TestMaxPressureHold(t *testing.T) {
	ctx := newFakeContext()
	m, j := buildJunction(t, ctx, signalJunction([]*input.StageData{
		{Duration: 10, Protected: []int32{302}},
		{Duration: 10, Protected: []int32{301, 303}},
	}, true))

	// 南侧来路积压，压力最大相位不变时延时续相
	ctx.agents.counts[103] = 5
	m.Update(geom.NewDuration(15))
	stage, remaining, _ := j.SignalStage()
	assert.Equal(t, 0, stage)
	assert.InDelta(t, 15, remaining.Seconds(), 1e-9)
}

func TestJunctionCheckpointRoundtrip(t *testing.T) {
	m, j := buildJunction(t, newFakeContext(), &input.JunctionData{
		ID: 201, Turns: crossTurns(), Control: "stop_sign", MustStopRoads: []int32{403},
	})

	// 构造授权与等待共存的状态
	assert.True(t, j.CanProceed(request(1, j.GetTurn(301)), geom.NewTime(0)))
	stopped := request(2, j.GetTurn(302))
	stopped.Stopped = true
	assert.False(t, j.CanProceed(stopped, geom.NewTime(0.5)))

	chks := m.Checkpoints()
	require.Len(t, chks, 1)
	assert.Equal(t, []junction.GrantState{{AgentID: 1, TurnID: 301}}, chks[0].Accepted)
	require.Len(t, chks[0].Waiting, 1)
	assert.Equal(t, int32(2), chks[0].Waiting[0].AgentID)

	// 改变状态后恢复存档，行为与存档时刻一致
	j.OnExit(1)
	j.CancelRequest(2)
	require.NoError(t, m.RestoreCheckpoints(chks))
	assert.False(t, j.CanProceed(stopped, geom.NewTime(1)))
	j.OnExit(1)
	assert.True(t, j.CanProceed(stopped, geom.NewTime(2.1)))

	// 再次导出与原存档一致
	require.NoError(t, m.RestoreCheckpoints(chks))
	assert.Equal(t, chks, m.Checkpoints())

	// 未知路口的存档报错
	assert.Error(t, m.RestoreCheckpoints([]*junction.Checkpoint{{ID: 999}}))
}

func TestSignalCheckpointRoundtrip(t *testing.T) {
	m, j := buildJunction(t, newFakeContext(), signalJunction([]*input.StageData{
		{Duration: 10, Protected: []int32{302}},
		{Duration: 5, Protected: []int32{301, 303}},
	}, false))

	m.Update(geom.NewDuration(12))
	stage, remaining, _ := j.SignalStage()
	assert.Equal(t, 1, stage)

	chks := m.Checkpoints()
	m.Update(geom.NewDuration(2))
	require.NoError(t, m.RestoreCheckpoints(chks))
	stage2, remaining2, _ := j.SignalStage()
	assert.Equal(t, stage, stage2)
	assert.InDelta(t, remaining.Seconds(), remaining2.Seconds(), 1e-9)
}

func TestTurnsFrom(t *testing.T) {
	_, j := buildJunction(t, newFakeContext(), &input.JunctionData{
		ID: 201, Turns: crossTurns(), Control: "stop_sign",
	})
	laneOf := func(turnID int32) entity.ILane {
		return j.GetTurn(turnID).SrcLane()
	}
	turns := j.TurnsFrom(laneOf(301))
	require.Len(t, turns, 2)
	assert.Equal(t, int32(301), turns[0].ID())
	assert.Equal(t, int32(303), turns[1].ID())
	assert.Empty(t, j.TurnsFrom(j.GetTurn(301).DstLane()))
}
