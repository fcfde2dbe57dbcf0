package task_test

import (
	"encoding/json"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/microsim-oss/entity"
	"github.com/tsinghua-fib-lab/microsim-oss/task"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/config"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/geom"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/input"
)

// ringMap 构造逆时针单行环路地图
//
//	行车环：110(东行,y=0)→经202右转114(外绕)→经203进112(西行,y=100)
//	        →经204进113(南行,x=0)→经201回110；111为114的内侧替代
//	116: 112旁的停车道（2个车位）  118: 自行车道（经318汇入111）
//	步行网：120(110旁)↔122(x=104)↔121(112旁)，经330/331与332/333过街
func ringMap() *input.MapData {
	return &input.MapData{
		Header: input.HeaderData{Name: "ring"},
		Lanes: []*input.LaneData{
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
		},
		Roads: []*input.RoadData{
			{ID: 410, Lanes: []int32{110, 120}},
			{ID: 411, Lanes: []int32{111}},
			{ID: 412, Lanes: []int32{112, 116, 121}},
			{ID: 413, Lanes: []int32{113}},
			{ID: 414, Lanes: []int32{114}},
			{ID: 418, Lanes: []int32{118}},
			{ID: 422, Lanes: []int32{122}},
		},
		Junctions: []*input.JunctionData{
			{ID: 201, Control: "stop_sign", Turns: []*input.TurnData{
				{ID: 313, Type: "right", SrcLane: 113, DstLane: 110},
			}},
			{ID: 202, Control: "stop_sign", Turns: []*input.TurnData{
				{ID: 314, Type: "right", SrcLane: 110, DstLane: 114},
				{ID: 318, Type: "straight", SrcLane: 118, DstLane: 111},
				{ID: 330, Type: "crosswalk", SrcLane: 120, DstLane: 122},
				{ID: 331, Type: "crosswalk", SrcLane: 122, DstLane: 120},
			}},
			{ID: 203, Control: "stop_sign", Turns: []*input.TurnData{
				{ID: 311, Type: "right", SrcLane: 111, DstLane: 112},
				{ID: 315, Type: "right", SrcLane: 114, DstLane: 112},
				{ID: 332, Type: "crosswalk", SrcLane: 122, DstLane: 121},
				{ID: 333, Type: "crosswalk", SrcLane: 121, DstLane: 122},
			}},
			{ID: 204, Control: "stop_sign", Turns: []*input.TurnData{
				{ID: 312, Type: "right", SrcLane: 112, DstLane: 113},
			}},
		},
	}
}

// ringPersons 两辆车先后进环停到116，一名行人横穿两个路口
func ringPersons() []*input.PersonData {
	car := &input.VehicleData{Kind: "car", Length: 5, MaxSpeed: 20, MaxAccel: 3, MaxBrake: 5}
	return []*input.PersonData{
		{ID: 1, Home: input.PositionData{Lane: 110, S: 10}, Vehicle: car, Trips: []*input.TripData{
			{Mode: "driving", Departure: 0, End: &input.PositionData{Lane: 112, S: 10}},
		}},
		{ID: 2, Home: input.PositionData{Lane: 110, S: 2}, Vehicle: car, Trips: []*input.TripData{
			{Mode: "driving", Departure: 2, End: &input.PositionData{Lane: 114, S: 60}},
		}},
		{ID: 3, Home: input.PositionData{Lane: 120, S: 5}, Trips: []*input.TripData{
			{Mode: "walking", Departure: 0, End: &input.PositionData{Lane: 121, S: 50}},
		}},
	}
}

// writeInput 把输入数据编码为JSON文件，返回文件路径
func writeInput(t *testing.T, dir, name string, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// ringConfig 基于临时文件输入构造配置，2400步覆盖全部行程
func ringConfig(t *testing.T, total int32) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		Input: config.Input{
			Map:      config.InputPath{File: writeInput(t, dir, "map.json", ringMap())},
			Scenario: config.InputPath{File: writeInput(t, dir, "scenario.json", &input.Scenario{Persons: ringPersons()})},
		},
		Control: config.Control{
			Step: config.ControlStep{Start: 0, Total: total, Interval: 0.1},
			Seed: 43,
		},
	}
}

// readEventLines 读取JSONL事件文件的原始行
func readEventLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	s := strings.TrimRight(string(data), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func parseEvent(t *testing.T, line string) entity.Event {
	t.Helper()
	var e entity.Event
	require.NoError(t, json.Unmarshal([]byte(line), &e))
	return e
}

func TestRunWritesEventStreamAndFinishesTrips(t *testing.T) {
	dir := t.TempDir()
	c := ringConfig(t, 2400)
	c.Output.Events = filepath.Join(dir, "events.jsonl")

	ctx := task.NewContext("smoke", "", c)
	ctx.Run()

	assert.Equal(t, int32(2400), ctx.Clock().InternalStep)
	report := ctx.AgentManager().TripReport()
	assert.Equal(t, 3, report.Finished)
	assert.Zero(t, report.Failed)
	assert.Zero(t, report.Cancelled)
	assert.Empty(t, ctx.AgentManager().ActiveIDs())

	lines := readEventLines(t, c.Output.Events)
	require.NotEmpty(t, lines)
	counts := map[entity.EventKind]int{}
	for i, line := range lines {
		e := parseEvent(t, line)
		// 序号连续且时序字段与时钟一致
		assert.Equal(t, int64(i), e.Seq)
		assert.Less(t, e.Step, int32(2400))
		assert.InDelta(t, float64(e.Step)*0.1, float64(e.T), 1e-9)
		counts[e.Kind]++
	}
	assert.Equal(t, 3, counts[entity.EventTripStarted])
	assert.Equal(t, 3, counts[entity.EventTripFinished])
	assert.Zero(t, counts[entity.EventTripFailed])
	// 两辆车各占一个车位且不再驶离
	assert.Equal(t, 2, counts[entity.EventSpotClaimed])
	assert.Zero(t, counts[entity.EventSpotReleased])

	first := parseEvent(t, lines[0])
	assert.Equal(t, entity.EventTripStarted, first.Kind)
	assert.Equal(t, int32(0), first.Step)
}

func TestSavestateResumeReplaysIdentically(t *testing.T) {
	base := t.TempDir()

	// 完整一跑作为参照
	full := ringConfig(t, 2400)
	full.Output.Events = filepath.Join(base, "full.jsonl")
	task.NewContext("full", "", full).Run()
	fullLines := readEventLines(t, full.Output.Events)
	require.NotEmpty(t, fullLines)

	// 带存档一跑：每1200步存档，倒数第二步“崩溃”
	crashed := ringConfig(t, 2400)
	crashed.Output.Events = filepath.Join(base, "resume.jsonl")
	crashed.Output.Savestate = config.SavestateOutput{Dir: filepath.Join(base, "states"), Every: 1200}
	b1 := task.NewContext("resume", "", crashed)
	b1.Init()
	for i := 0; i < 2399; i++ {
		b1.Step()
	}
	b1.Close()
	require.FileExists(t, filepath.Join(base, "states", "resume-000001200.json"))

	// 续跑到结束，[1200,2399)区间的事件会以相同内容重写一遍
	require.NoError(t, flag.Set("savestate.resume", "true"))
	defer flag.Set("savestate.resume", "false")
	b2 := task.NewContext("resume", "", crashed)
	b2.Init()
	require.Equal(t, int32(1200), b2.Clock().InternalStep)
	for b2.Clock().InternalStep < b2.Clock().END_STEP {
		b2.Step()
	}
	b2.Close()
	require.FileExists(t, filepath.Join(base, "states", "resume-000002400.json"))
	assert.Equal(t, 3, b2.AgentManager().TripReport().Finished)

	// 按序号去重：重复序号的行必须逐字节一致，去重后与参照完全相同
	seen := map[int64]string{}
	dups := 0
	for _, line := range readEventLines(t, crashed.Output.Events) {
		e := parseEvent(t, line)
		if prev, ok := seen[e.Seq]; ok {
			require.Equal(t, prev, line, "event %d rewritten differently after resume", e.Seq)
			dups++
			continue
		}
		seen[e.Seq] = line
	}
	assert.Greater(t, dups, 0)
	require.Len(t, seen, len(fullLines))
	for i, want := range fullLines {
		assert.Equal(t, want, seen[int64(i)])
	}

	// 末次存档记录完整的事件序号水位
	data, err := os.ReadFile(filepath.Join(base, "states", "resume-000002400.json"))
	require.NoError(t, err)
	st := &task.Savestate{}
	require.NoError(t, json.Unmarshal(data, st))
	assert.Equal(t, "resume", st.Job)
	assert.Equal(t, int32(2400), st.Step)
	assert.Equal(t, int64(len(fullLines)), st.EventSeq)
}

func TestResumeWithoutSavestateStartsFresh(t *testing.T) {
	dir := t.TempDir()
	c := ringConfig(t, 50)
	c.Output.Events = filepath.Join(dir, "events.jsonl")
	c.Output.Savestate = config.SavestateOutput{Dir: filepath.Join(dir, "missing")}

	require.NoError(t, flag.Set("savestate.resume", "true"))
	defer flag.Set("savestate.resume", "false")
	ctx := task.NewContext("fresh", "", c)
	ctx.Init()
	assert.Equal(t, int32(0), ctx.Clock().InternalStep)
	for i := 0; i < 3; i++ {
		ctx.Step()
	}
	ctx.Close()

	lines := readEventLines(t, c.Output.Events)
	require.NotEmpty(t, lines)
	first := parseEvent(t, lines[0])
	assert.Equal(t, int64(0), first.Seq)
	assert.Equal(t, entity.EventTripStarted, first.Kind)
}

// TestTimedStepEarlyExit 验证按模拟时长推进仿真与提前退出条件
func TestTimedStepEarlyExit(t *testing.T) {
	c := ringConfig(t, 2400)
	ctx := task.NewContext("timed", "", c)
	ctx.Init()

	// 精确推进1秒即10步
	done := ctx.TimedStep(geom.NewDuration(1.0), nil)
	require.Equal(t, int32(10), done)
	require.Equal(t, int32(10), ctx.Clock().InternalStep)

	// 三个行程全部结束即提前退出，环路场景远早于240秒完成
	allDone := func() bool {
		r := ctx.AgentManager().TripReport()
		return r.Finished+r.Failed+r.Cancelled == r.Scheduled
	}
	done = ctx.TimedStep(geom.NewDuration(240.0), allDone)
	require.Greater(t, done, int32(0))
	assert.Less(t, done, int32(2390))
	assert.Equal(t, int32(10)+done, ctx.Clock().InternalStep)

	report := ctx.AgentManager().TripReport()
	assert.Equal(t, 3, report.Finished)
	assert.Zero(t, report.Failed)
	assert.Empty(t, ctx.AgentManager().ActiveIDs())
	ctx.Close()
}
