package task

import (
	"sync/atomic"

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

// Context 仿真任务上下文
// 功能：包含一次仿真任务的所有变量和状态，替代原来的全局变量
// 说明：管理仿真系统的所有组件，包括时钟、管理器、配置、输出等；
// 管理器字段保留具体类型以便存档导出，对外访问器返回接口
type Context struct {

	// 任务名
	job string
	// 关闭指令
	closed atomic.Bool

	// 时钟
	clock *clock.Clock
	// 缓存文件夹
	cacheDir string

	// Lane管理器
	laneManager *lane.LaneManager
	// Road管理器
	roadManager *road.RoadManager
	// Junction管理器
	junctionManager *junction.JunctionManager
	// Parking管理器
	parkingManager *parking.ParkingManager
	// Transit管理器
	transitManager *transit.TransitManager
	// Agent管理器
	agentManager *agent.AgentManager

	// 运行时配置文件
	runtimeConfig *config.RuntimeConfig
	// 导航服务
	router *routing.Router
	// 全局随机数引擎
	rand *randengine.Engine
	// 事件输出
	events *eventWriter

	// 用于初始化的输入
	initRes *input.Input
}

// NewContext 创建新的仿真任务上下文
// 功能：初始化仿真系统的所有组件和配置
// 参数：
//   - job: 任务名称
//   - cacheDir: 缓存目录
//   - c: 配置对象
//
// 返回：初始化完成的Context实例
// 算法说明：
// 1. 创建Context实例并设置基本属性
// 2. 初始化时钟与全局随机数引擎
// 3. 下载和初始化地图与场景数据
// 4. 创建各种管理器（车道、道路、路口、停车场、公交、主体）
func NewContext(
	job string,
	cacheDir string,
	c config.Config,
) *Context {
	ctx := &Context{
		job:      job,
		cacheDir: cacheDir,
	}
	ctx.clock = clock.New(c.Control.Step)

	// 下载所有模拟器启动所需的数据
	ctx.initRes = input.Init(c, ctx.cacheDir)

	ctx.runtimeConfig = config.NewRuntimeConfig(c)
	ctx.rand = randengine.New(c.Control.Seed)
	ctx.events = newEventWriter(ctx.clock, c.Output.Events)

	// 新建各类模拟对象
	ctx.laneManager = lane.NewManager(ctx)
	ctx.roadManager = road.NewManager(ctx)
	ctx.junctionManager = junction.NewManager(ctx)
	ctx.parkingManager = parking.NewManager(ctx)
	ctx.transitManager = transit.NewManager(ctx)
	ctx.agentManager = agent.NewManager(ctx)

	return ctx
}

func (ctx *Context) GetInput() *input.Input {
	return ctx.initRes
}

func (ctx *Context) Clock() *clock.Clock {
	return ctx.clock
}

func (ctx *Context) LaneManager() entity.ILaneManager {
	return ctx.laneManager
}

func (ctx *Context) RoadManager() entity.IRoadManager {
	return ctx.roadManager
}

func (ctx *Context) JunctionManager() entity.IJunctionManager {
	return ctx.junctionManager
}

func (ctx *Context) ParkingManager() entity.IParkingManager {
	return ctx.parkingManager
}

func (ctx *Context) TransitManager() entity.ITransitManager {
	return ctx.transitManager
}

func (ctx *Context) AgentManager() entity.IAgentManager {
	return ctx.agentManager
}

func (ctx *Context) RuntimeConfig() *config.RuntimeConfig {
	return ctx.runtimeConfig
}

func (ctx *Context) Router() entity.IRouter {
	return ctx.router
}

func (ctx *Context) Rand() *randengine.Engine {
	return ctx.rand
}

func (ctx *Context) Events() entity.IEventSink {
	return ctx.events
}

// Init 初始化仿真世界
// 算法说明：
//  1. 按依赖顺序初始化路网：车道→道路→路口→车道侧向关系→道路连接
//  2. 初始化停车场并按配置播撒初始占用
//  3. 初始化公交线路并在路网上构建导航图
//  4. 最后构建主体并解析其行程链
//  5. 若开启续跑且存档存在，恢复到存档时刻并以追加方式打开事件流
func (ctx *Context) Init() {
	ctx.clock.Init()

	initRes := ctx.initRes
	// 数据加载
	mapData := initRes.Map
	persons := initRes.Scenario.Persons

	log.Infof("Lane: %v", len(mapData.Lanes))
	log.Infof("Road: %v", len(mapData.Roads))
	log.Infof("Junction: %v", len(mapData.Junctions))
	log.Infof("Person: %v", len(persons))

	ctx.laneManager.Init(mapData.Lanes) // 先完成lane的所有初始化
	// road初始化
	ctx.roadManager.Init(mapData.Roads, ctx.laneManager)
	// junction初始化
	ctx.junctionManager.Init(mapData.Junctions, ctx.laneManager, ctx.roadManager)
	// lane初始化其中的侧向关系与黑洞标记
	ctx.laneManager.InitAfterNetwork(ctx.roadManager, ctx.junctionManager)
	// road初始化其中的前驱后继路口
	ctx.roadManager.InitAfterJunction(ctx.junctionManager)

	// 停车场初始化与初始占用播撒
	ctx.parkingManager.Init(mapData.Lots, ctx.laneManager)
	if ratio := ctx.runtimeConfig.C.Parking.SeedOccupancy; ratio > 0 {
		ctx.parkingManager.SeedOccupancy(ratio, ctx.rand)
	}
	// 公交初始化
	ctx.transitManager.Init(mapData.TransitRoutes, mapData.TransitStops, ctx.laneManager)

	// router
	ctx.router = routing.New(ctx.laneManager, ctx.junctionManager, ctx.transitManager)

	// 完成地图构建后，开始构建agent
	ctx.agentManager.Init(
		persons,
		ctx.laneManager, ctx.junctionManager,
		ctx.parkingManager, ctx.transitManager,
	)

	if *resume {
		dir := ctx.runtimeConfig.All.Output.Savestate.Dir
		if path, ok := latestSavestate(dir, ctx.job); ok {
			if err := ctx.restoreSavestate(path); err != nil {
				log.Fatalf("failed to resume: %v", err)
			}
			log.Infof("resumed from %s at step %d", path, ctx.clock.InternalStep)
			ctx.events.open(true)
			return
		}
		log.Warnf("savestate.resume is set but no savestate found in %s, starting fresh", dir)
	}
	ctx.events.open(false)
}

func (ctx *Context) Close() {
	if !ctx.closed.CompareAndSwap(false, true) {
		return
	}
	ctx.events.close()
}
