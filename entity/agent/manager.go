package agent

import (
	"fmt"
	"sort"

	"git.fiblab.net/general/common/v2/parallel"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/microsim-oss/entity"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/container"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/geom"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/input"
)

// AgentManager 主体管理器
// 功能：管理所有主体及车辆队列，驱动行程生成、移动推进、到达
// 处置与堵死处置的各更新子阶段
// 说明：所有跨主体的状态修改都在串行子阶段按主体ID升序执行，
// 并行子阶段只做各主体自身的只读推算，保证同种子结果可复现
type AgentManager struct {
	ctx entity.ITaskContext

	data map[int32]*Agent
	as   []*Agent // 按ID升序，生成扫描按此序

	laneM     entity.ILaneManager
	junctionM entity.IJunctionManager
	parkingM  entity.IParkingManager
	transitM  entity.ITransitManager

	// 车辆队列：行车道/公交道/非机动车道与非步行转向各一条
	queues    map[int32]*queue
	queueList []*queue // 按单元ID升序

	// 在网主体（含候车与乘车行人），增删延迟到下一拍提交
	active *container.IncrementalArray[*Agent]

	// 上一拍快照统计的各单元在网主体数
	queueCounts map[int32]int
}

// NewManager 创建主体管理器实例
// 功能：初始化主体管理器，创建内部数据结构
// 参数：ctx-任务上下文
// 返回：新创建的主体管理器实例
func NewManager(ctx entity.ITaskContext) *AgentManager {
	return &AgentManager{
		ctx:         ctx,
		data:        make(map[int32]*Agent),
		as:          make([]*Agent, 0),
		queues:      make(map[int32]*queue),
		queueList:   make([]*queue, 0),
		active:      container.NewIncrementalArray[*Agent](),
		queueCounts: make(map[int32]int),
	}
}

// Init 初始化所有主体
// 功能：为车辆可通行的单元建立队列，并行解析人员输入
// 算法说明：队列建在行车道/公交道/非机动车道与非步行转向上；
// 人员解析彼此独立可并行，ID重复视为数据错误
func (m *AgentManager) Init(
	persons []*input.PersonData,
	laneManager entity.ILaneManager,
	junctionManager entity.IJunctionManager,
	parkingManager entity.IParkingManager,
	transitManager entity.ITransitManager,
) {
	m.laneM = laneManager
	m.junctionM = junctionManager
	m.parkingM = parkingManager
	m.transitM = transitManager
	for _, l := range laneManager.Lanes() {
		switch l.Type() {
		case entity.LaneTypeDriving, entity.LaneTypeBus, entity.LaneTypeBike:
			q := newQueue(l)
			m.queues[l.ID()] = q
			m.queueList = append(m.queueList, q)
		}
	}
	for _, j := range junctionManager.Junctions() {
		for _, t := range j.Turns() {
			if t.Type().IsWalk() {
				continue
			}
			q := newQueue(t)
			m.queues[t.ID()] = q
			m.queueList = append(m.queueList, q)
		}
	}
	agents := parallel.GoMap(persons, func(pb *input.PersonData) *Agent {
		return newAgent(m, pb)
	})
	for _, a := range agents {
		if _, ok := m.data[a.id]; ok {
			log.Fatalf("duplicated person id %d", a.id)
		}
		m.data[a.id] = a
	}
	m.as = agents
	sort.Slice(m.as, func(i, j int) bool { return m.as[i].id < m.as[j].id })
	log.Infof("agent: %d persons with %d trips loaded, %d vehicle queues",
		len(m.as), lo.SumBy(m.as, func(a *Agent) int { return len(a.trips) }), len(m.queueList))
}

// Get 根据ID获取主体实例，不存在则panic
func (m *AgentManager) Get(id int32) entity.IAgent {
	return m.mustGet(id)
}

// GetOrError 根据ID获取主体实例，不存在则返回错误
func (m *AgentManager) GetOrError(id int32) (entity.IAgent, error) {
	if a, ok := m.data[id]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("no id %d in agent data", id)
}

func (m *AgentManager) mustGet(id int32) *Agent {
	a, ok := m.data[id]
	if !ok {
		log.Panicf("no id %d in agent data", id)
	}
	return a
}

// ActiveIDs 当前在网主体ID（升序）
func (m *AgentManager) ActiveIDs() []int32 {
	ids := lo.Map(m.active.Data(), func(a *Agent, _ int) int32 { return a.id })
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// PrepareNode 准备阶段：提交在网集合增删并同步链表节点键值
func (m *AgentManager) PrepareNode() {
	m.active.Prepare()
	parallel.GoFor(m.active.Data(), func(a *Agent) {
		if a.node != nil {
			a.node.S = a.runtime.Front.Meters()
		}
	})
}

// Prepare 准备阶段：并行构建快照，再汇总各单元在网主体数
func (m *AgentManager) Prepare() {
	parallel.GoFor(m.active.Data(), func(a *Agent) { a.prepare() })
	counts := make(map[int32]int)
	for _, a := range m.active.Data() {
		if id := a.snapshot.TraversableID; id >= 0 {
			counts[id]++
		}
	}
	m.queueCounts = counts
	log.Debug("AgentManager: prepare done")
}

// SpawnTrips 更新阶段(a)：生成到时行程
// 算法说明：按主体ID升序扫描；主体空闲且当前行程到时即尝试生成，
// 入网空间不足时按固定间隔推迟重试；位置链中断后隐式起点的行程
// 直接作废
func (m *AgentManager) SpawnTrips(now geom.Time) {
	for _, a := range m.as {
		t := a.curTrip()
		if t == nil || t.outcome != outcomePending {
			continue
		}
		if now < t.departure || now < t.nextAttempt {
			continue
		}
		m.trySpawn(a, t, now)
	}
}

func (m *AgentManager) trySpawn(a *Agent, t *trip, now geom.Time) {
	if t.implicitStart && !a.chainOK {
		m.failTrip(a, now, reasonPredecessorFailed)
		return
	}
	if !t.routed {
		if err := m.buildLegs(a, t); err != nil {
			log.Warnf("agent %d trip %d: %v", a.id, t.idx, err)
			m.failTrip(a, now, reasonNoPath)
			return
		}
	}
	switch t.mode {
	case modeDriving:
		m.spawnVehicleLeg(a, t, a.vehicleKind, now)
	case modeBike:
		m.spawnVehicleLeg(a, t, entity.AgentKindBike, now)
	case modeWalking:
		m.spawnWalkTrip(a, t, now)
	case modeServeBus:
		m.spawnVehicleLeg(a, t, entity.AgentKindBus, now)
	}
}

// spawnVehicleLeg 车辆类行程入网
// 算法说明：已停放的汽车先驶出车位（计时结束后汇入，见(c)）；
// 其余在路径起点直接入网，起点队列有空间且插入点留有跟车间隙
// 才成行，否则推迟重试
func (m *AgentManager) spawnVehicleLeg(a *Agent, t *trip, kind entity.AgentKind, now geom.Time) {
	rt := &a.runtime
	if t.mode == modeDriving && a.parkedSpot >= 0 {
		rt.Kind = kind
		rt.State = unparkingState(now, a.parkedSpot, m.parkingM.Get(a.parkedSpot).IsLot())
		m.activate(a, t, now)
		return
	}
	path := t.legs[0].path
	first := path.Steps[0].Traversable()
	q := m.queues[first.ID()]
	attr := a.attrFor(kind)
	s := geom.NewDistance(path.StartS)
	if !q.room(attr.Length) || !q.fitsAt(s, attr.Length) {
		t.nextAttempt = now.Add(spawnRetryInterval)
		return
	}
	rt.Kind = kind
	rt.Trav = first
	rt.StepIdx = 0
	rt.Front = s
	rt.KinFront = s
	q.reserveEntry(attr.Length)
	m.insertIntoQueue(a, q, s)
	rt.State = crossingState(now, first, s, m.vehicleCrossingTarget(a), 0, attr)
	m.activate(a, t, now)
	m.emit(travEvent(entity.EventAgentEntered, a.id, first))
}

// spawnWalkTrip 步行行程入网（起点恰在候车点时直接候车）
func (m *AgentManager) spawnWalkTrip(a *Agent, t *trip, now geom.Time) {
	m.activate(a, t, now)
	if l := t.legs[0]; l.kind == legRide {
		a.runtime.Kind = entity.AgentKindPedestrian
		a.runtime.State = waitingForBusState(l.board.ID())
		m.transitM.AddWaiting(l.board.ID(), a.id)
		return
	}
	m.beginWalkLeg(a, now)
}

func (m *AgentManager) activate(a *Agent, t *trip, now geom.Time) {
	t.outcome = outcomeActive
	t.startedAt = now
	m.active.Add(a)
	m.emit(entity.Event{Kind: entity.EventTripStarted, AgentID: a.id, TripID: int32(t.idx)})
}

// UpdatePhysics 更新阶段(b)：运动学推进与移动状态机
// 算法说明：相位1a并行推算各主体的无约束运动学进度（只写自身）；
// 相位1b并行重算各队列成员的受约束前端（只依赖1a结果与上一拍的
// 队列结构）；相位2按主体ID升序串行执行状态转移与单元切换
func (m *AgentManager) UpdatePhysics(dt geom.Duration) {
	now := m.ctx.Clock().T
	parallel.GoFor(m.active.Data(), func(a *Agent) { a.computeKinematicFront(now) })
	parallel.GoFor(m.queueList, func(q *queue) { q.recomputeFronts() })
	for _, a := range m.activeByID() {
		rt := &a.runtime
		if rt.Kind == entity.AgentKindPedestrian {
			if rt.State.Kind == StateCrossing || rt.State.Kind == StateWaitingToAdvance {
				m.updatePedestrian(a, now)
			}
		} else if vehicleMoving(rt.State.Kind) {
			m.updateVehicle(a, now)
		}
	}
}

func vehicleMoving(k StateKind) bool {
	return k == StateCrossing || k == StateQueued || k == StateWaitingToAdvance
}

// UpdateArrivals 更新阶段(c)：伪状态推进与到达处置
func (m *AgentManager) UpdateArrivals(now geom.Time) {
	for _, a := range m.activeByID() {
		m.updateArrival(a, now)
	}
}

// EnforceStallPolicy 更新阶段(d)：堵死超时处置
// 算法说明：排队/待进入状态下阻塞时长达到阈值的主体整行程取消
// 并离网（有实际推进即重置计时，蠕行车辆不会被误杀）；候车与
// 乘车不计阻塞；被取消公交车上的乘客连带处置；阈值为0表示关闭
func (m *AgentManager) EnforceStallPolicy(now geom.Time) {
	timeout := geom.NewDuration(m.ctx.RuntimeConfig().C.GridlockTimeout)
	if timeout <= 0 {
		return
	}
	for _, a := range m.activeByID() {
		st := &a.runtime.State
		if !st.Kind.IsBlocked() || now.Sub(st.BlockedSince) < timeout {
			continue
		}
		if a.runtime.Kind == entity.AgentKindBus {
			for _, pid := range a.runtime.Passengers {
				p := m.mustGet(pid)
				m.despawnFromNetwork(p)
				m.cancelTrip(p, now, reasonGridlock)
			}
			a.runtime.Passengers = nil
		}
		m.despawnFromNetwork(a)
		m.cancelTrip(a, now, reasonGridlock)
	}
}

// QueueCount 指定单元上按上一拍快照统计的在网主体数
func (m *AgentManager) QueueCount(traversableID int32) int {
	return m.queueCounts[traversableID]
}

// TripReport 汇总行程结果统计
func (m *AgentManager) TripReport() entity.TripReport {
	r := entity.TripReport{ByReason: make(map[string]int)}
	for _, a := range m.as {
		for _, t := range a.trips {
			r.Scheduled++
			switch t.outcome {
			case outcomeActive:
				r.Active++
			case outcomeFinished:
				r.Finished++
				r.TotalTravelTime += t.endedAt.Sub(t.startedAt).Seconds()
			case outcomeFailed:
				r.Failed++
				r.ByReason[t.reason]++
			case outcomeCancelled:
				r.Cancelled++
				r.ByReason[t.reason]++
			}
		}
	}
	return r
}

// activeByID 在网主体的ID升序副本（串行子阶段的处理顺序）
func (m *AgentManager) activeByID() []*Agent {
	as := make([]*Agent, len(m.active.Data()))
	copy(as, m.active.Data())
	sort.Slice(as, func(i, j int) bool { return as[i].id < as[j].id })
	return as
}

func (m *AgentManager) emit(e entity.Event) {
	m.ctx.Events().Emit(e)
}
