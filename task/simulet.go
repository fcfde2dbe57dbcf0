package task

import (
	"flag"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/geom"
)

var (
	heartBeatInterval = flag.Int("log.heartbeat_interval", 100, "心跳日志间隔步数")
	resume            = flag.Bool("savestate.resume", false, "从存档目录中最新的存档继续运行")
)

// prepare 准备阶段，每步执行一次
// 功能：在每个仿真步骤开始时进行准备工作
// 算法说明：
// 1. 心跳日志：定期输出系统状态信息
// 2. 主体管理器先串行处理行程链推进产生的结构变化
// 3. 并行准备：并发执行主体与路口管理器的快照准备
//
// 说明：确保所有组件在更新阶段前都基于同一份上一步快照
func (ctx *Context) prepare() {
	if ctx.clock.InternalStep%int32(*heartBeatInterval) == 0 {
		hour, minute, second := ctx.clock.GetHourMinuteSecond()
		log.Infof(
			"STEP: %d(%d:%d:%.2f)",
			ctx.clock.InternalStep,
			hour, minute, second,
		)
	}

	// Prepare
	ctx.agentManager.PrepareNode()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ctx.agentManager.Prepare() // agent
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		ctx.junctionManager.Prepare() // junction
	}()
	wg.Wait()
}

// update 更新阶段，每步执行一次
// 功能：在每个仿真步骤中执行主要的仿真逻辑
// 算法说明：
// 1. 路口管理器：更新信号灯与让行控制状态
// 2. 主体管理器按固定顺序执行：
//   - 发车：到达出发时刻的行程进入路网
//   - 物理更新：车辆、行人、公交的运动积分
//   - 到达判定：处理到达终点的行程与停车落位
//   - 停滞治理：发车重试、死锁检测与行程取消
//
// 说明：各阶段严格串行，保证逐步结果可复现
func (ctx *Context) update() {
	now := ctx.clock.T
	dt := ctx.clock.DT

	ctx.junctionManager.Update(dt)
	ctx.agentManager.SpawnTrips(now)
	ctx.agentManager.UpdatePhysics(dt)
	ctx.agentManager.UpdateArrivals(now)
	ctx.agentManager.EnforceStallPolicy(now)
}

// Step 执行一个完整的仿真步
// 说明：步末推进时钟，随后按配置周期落盘存档，
// 存档代表下一步开始前的完整状态
func (ctx *Context) Step() {
	ctx.prepare()
	ctx.update()
	ctx.clock.Tick()

	savestate := ctx.runtimeConfig.All.Output.Savestate
	if savestate.Every > 0 && savestate.Dir != "" &&
		ctx.clock.InternalStep%savestate.Every == 0 {
		ctx.writeSavestate()
	}
}

// TimedStep 按模拟时长推进仿真
// 功能：重复执行仿真步，直到累计推进指定的模拟时长、提前退出
// 条件满足或到达仿真区间终点，结束时输出实际墙上耗时
// 参数：duration-要推进的模拟时长；earlyExit-提前退出条件，
// 每步结束后判定一次，nil表示不判定
// 返回：实际执行的步数
// 说明：调用前须已完成Init
func (ctx *Context) TimedStep(duration geom.Duration, earlyExit func() bool) int32 {
	steps := ctx.clock.StepsUntil(duration)
	start := time.Now()
	var done int32
	for done < steps && ctx.clock.InternalStep < ctx.clock.END_STEP {
		ctx.Step()
		done++
		if ctx.closed.Load() {
			break
		}
		if earlyExit != nil && earlyExit() {
			log.Infof("timed step: early exit at step %d", ctx.clock.InternalStep)
			break
		}
	}
	log.Infof(
		"timed step: %d steps (%.1fs simulated) in %v",
		done, float64(done)*ctx.clock.DT.Seconds(), time.Since(start),
	)
	return done
}

// Run 运行
// 功能：初始化并执行完整的仿真区间，结束后输出行程统计
func (ctx *Context) Run() {
	// 初始化
	ctx.Init()
	for ctx.clock.InternalStep < ctx.clock.END_STEP {
		ctx.Step()
		if ctx.closed.Load() {
			break
		}
	}
	ctx.events.flush()
	ctx.logReport()
	log.Infof("engine complete")
	ctx.Close()
}

// logReport 输出行程统计日志
func (ctx *Context) logReport() {
	report := ctx.agentManager.TripReport()
	log.Infof(
		"trips: finished=%d failed=%d cancelled=%d",
		report.Finished, report.Failed, report.Cancelled,
	)
	if report.Finished > 0 {
		log.Infof(
			"average travel time: %.2fs",
			report.TotalTravelTime/float64(report.Finished),
		)
	}
	reasons := lo.Keys(report.ByReason)
	sort.Strings(reasons)
	for _, reason := range reasons {
		log.Infof("trips ended by %s: %d", reason, report.ByReason[reason])
	}
	if active := ctx.agentManager.ActiveIDs(); len(active) > 0 {
		log.Warnf("%d trips still active at end of simulation", len(active))
	}
}
