package agent

import (
	"fmt"

	"github.com/tsinghua-fib-lab/microsim-oss/entity"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/container"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/geom"
)

// 存档与恢复
// 说明：主体的静态部分（属性抽样、行程计划解析）由同种子初始化
// 重建，存档只记录可变状态；路径以单元ID序列入档，恢复时重新
// 解析为实体引用；队列结构与空间占用由各主体的运行态推导重建

// TravRef 可通行单元的存档引用
type TravRef struct {
	ID     int32 `json:"id"`
	IsTurn bool  `json:"is_turn,omitempty"`
}

// StepState 路径步骤的存档
type StepState struct {
	Kind     int8  `json:"kind"`
	ID       int32 `json:"id,omitempty"`
	RouteID  int32 `json:"route_id,omitempty"`
	BoardID  int32 `json:"board_id,omitempty"`
	AlightID int32 `json:"alight_id,omitempty"`
}

// MarkState 公交停靠点的存档
type MarkState struct {
	StepIndex int     `json:"step_index"`
	S         float64 `json:"s"`
	StopID    int32   `json:"stop_id"`
}

// PathState 路径的存档
type PathState struct {
	Steps    []StepState `json:"steps"`
	StartS   float64     `json:"start_s"`
	EndS     float64     `json:"end_s"`
	BusStops []MarkState `json:"bus_stops,omitempty"`
}

// LegState 行程段的存档
type LegState struct {
	Kind     int8       `json:"kind"`
	Path     *PathState `json:"path,omitempty"`
	RouteID  int32      `json:"route_id,omitempty"`
	BoardID  int32      `json:"board_id,omitempty"`
	AlightID int32      `json:"alight_id,omitempty"`
}

// TripState 行程执行状态的存档
type TripState struct {
	Outcome     int8       `json:"outcome"`
	Reason      string     `json:"reason,omitempty"`
	StartedAt   geom.Time  `json:"started_at"`
	EndedAt     geom.Time  `json:"ended_at"`
	NextAttempt geom.Time  `json:"next_attempt"`
	Cur         int        `json:"cur"`
	Routed      bool       `json:"routed"`
	Legs        []LegState `json:"legs,omitempty"`
}

// AgentState 单个主体可变状态的存档
type AgentState struct {
	ID         int32       `json:"id"`
	TripIdx    int         `json:"trip_idx"`
	ParkedSpot int32       `json:"parked_spot"`
	ChainOK    bool        `json:"chain_ok"`
	Trips      []TripState `json:"trips"`

	Kind          int8       `json:"agent_kind"`
	State         agentState `json:"state"`
	Trav          *TravRef   `json:"trav,omitempty"`
	Front         float64    `json:"front"`
	Backward      bool       `json:"backward,omitempty"`
	Lags          []TravRef  `json:"lags,omitempty"`
	BlockRefFront float64    `json:"block_ref_front"`
	StepIdx       int        `json:"step_idx"`
	StopIdx       int        `json:"stop_idx"`
	Passengers    []int32    `json:"passengers,omitempty"`
	ReservedSpot  int32      `json:"reserved_spot"`
}

// Checkpoint 主体管理器的存档
type Checkpoint struct {
	Agents []AgentState `json:"agents"`
}

// Checkpoint 导出全部主体的可变状态（按ID升序）
func (m *AgentManager) Checkpoint() *Checkpoint {
	chk := &Checkpoint{Agents: make([]AgentState, 0, len(m.as))}
	for _, a := range m.as {
		chk.Agents = append(chk.Agents, exportAgent(a))
	}
	return chk
}

func exportAgent(a *Agent) AgentState {
	rt := &a.runtime
	st := AgentState{
		ID:            a.id,
		TripIdx:       a.tripIdx,
		ParkedSpot:    a.parkedSpot,
		ChainOK:       a.chainOK,
		Trips:         make([]TripState, 0, len(a.trips)),
		Kind:          int8(rt.Kind),
		State:         rt.State,
		Front:         rt.Front.Meters(),
		Backward:      rt.Backward,
		BlockRefFront: rt.BlockRefFront.Meters(),
		StepIdx:       rt.StepIdx,
		StopIdx:       rt.StopIdx,
		ReservedSpot:  rt.ReservedSpot,
	}
	if rt.Trav != nil {
		st.Trav = &TravRef{ID: rt.Trav.ID(), IsTurn: rt.Trav.IsTurn()}
	}
	for _, lag := range rt.Lags {
		st.Lags = append(st.Lags, TravRef{ID: lag.ID(), IsTurn: lag.IsTurn()})
	}
	if len(rt.Passengers) > 0 {
		st.Passengers = append([]int32(nil), rt.Passengers...)
	}
	for _, t := range a.trips {
		st.Trips = append(st.Trips, exportTrip(t))
	}
	return st
}

func exportTrip(t *trip) TripState {
	ts := TripState{
		Outcome:     int8(t.outcome),
		Reason:      t.reason,
		StartedAt:   t.startedAt,
		EndedAt:     t.endedAt,
		NextAttempt: t.nextAttempt,
		Cur:         t.cur,
		Routed:      t.routed,
	}
	for _, l := range t.legs {
		ls := LegState{Kind: int8(l.kind)}
		if l.path != nil {
			ls.Path = exportPath(l.path)
		}
		if l.route != nil {
			ls.RouteID = l.route.ID()
		}
		if l.board != nil {
			ls.BoardID = l.board.ID()
		}
		if l.alight != nil {
			ls.AlightID = l.alight.ID()
		}
		ts.Legs = append(ts.Legs, ls)
	}
	return ts
}

func exportPath(p *entity.Path) *PathState {
	ps := &PathState{StartS: p.StartS, EndS: p.EndS, Steps: make([]StepState, 0, len(p.Steps))}
	for _, s := range p.Steps {
		ss := StepState{Kind: int8(s.Kind)}
		switch s.Kind {
		case entity.StepLane, entity.StepContraflowLane:
			ss.ID = s.Lane.ID()
		case entity.StepTurn:
			ss.ID = s.Turn.ID()
		default:
			ss.RouteID = s.Route.ID()
			ss.BoardID = s.BoardStop.ID()
			ss.AlightID = s.AlightStop.ID()
		}
		ps.Steps = append(ps.Steps, ss)
	}
	for _, mk := range p.BusStops {
		ps.BusStops = append(ps.BusStops, MarkState{StepIndex: mk.StepIndex, S: mk.S, StopID: mk.Stop.ID()})
	}
	return ps
}

// RestoreCheckpoint 从存档恢复全部主体状态并重建车辆队列
//
// 恢复是原子的：先把整份存档解析校验为中间结果，任何引用未知
// 实体或自相矛盾的数据都返回错误且原状态保持不变，校验全部通过
// 后才整体落盘。
func (m *AgentManager) RestoreCheckpoint(chk *Checkpoint) error {
	if chk == nil {
		return fmt.Errorf("agent savestate is nil")
	}
	if len(chk.Agents) != len(m.as) {
		return fmt.Errorf("savestate covers %d agents, scenario has %d", len(chk.Agents), len(m.as))
	}
	type agentPatch struct {
		a    *Agent
		st   *AgentState
		rt   runtime
		legs [][]*leg
	}
	patches := make([]*agentPatch, 0, len(chk.Agents))
	seen := make(map[int32]bool)
	lagClaim := make(map[int32]int32)
	for i := range chk.Agents {
		st := &chk.Agents[i]
		a, ok := m.data[st.ID]
		if !ok {
			return fmt.Errorf("savestate references unknown agent %d", st.ID)
		}
		if seen[st.ID] {
			return fmt.Errorf("savestate lists agent %d twice", st.ID)
		}
		seen[st.ID] = true
		if len(st.Trips) != len(a.trips) {
			return fmt.Errorf("savestate has %d trips for agent %d, scenario has %d",
				len(st.Trips), st.ID, len(a.trips))
		}
		if st.TripIdx < 0 || st.TripIdx > len(a.trips) {
			return fmt.Errorf("savestate trip index %d out of range for agent %d", st.TripIdx, st.ID)
		}
		p := &agentPatch{a: a, st: st}
		for ti := range st.Trips {
			legs, err := m.resolveLegs(st.ID, &st.Trips[ti])
			if err != nil {
				return err
			}
			p.legs = append(p.legs, legs)
		}
		rt, err := m.resolveRuntime(st)
		if err != nil {
			return err
		}
		for _, lag := range rt.Lags {
			if other, claimed := lagClaim[lag.ID()]; claimed {
				return fmt.Errorf("savestate assigns queue %d two laggy heads (%d, %d)",
					lag.ID(), other, st.ID)
			}
			lagClaim[lag.ID()] = st.ID
		}
		p.rt = rt
		patches = append(patches, p)
	}

	// 校验全部通过，整体落盘
	for _, q := range m.queueList {
		q.list = entity.VehicleList{ID: fmt.Sprintf("queue-%d", q.trav.ID())}
		q.reserved = 0
		q.laggyHead = nil
	}
	m.active = container.NewIncrementalArray[*Agent]()
	for _, p := range patches {
		a := p.a
		a.tripIdx = p.st.TripIdx
		a.parkedSpot = p.st.ParkedSpot
		a.chainOK = p.st.ChainOK
		a.arrived = false
		a.node = nil
		for ti, t := range a.trips {
			ts := &p.st.Trips[ti]
			t.outcome = tripOutcome(ts.Outcome)
			t.reason = ts.Reason
			t.startedAt = ts.StartedAt
			t.endedAt = ts.EndedAt
			t.nextAttempt = ts.NextAttempt
			t.cur = ts.Cur
			t.routed = ts.Routed
			t.legs = p.legs[ti]
		}
		a.runtime = p.rt
		if t := a.curTrip(); t != nil && t.outcome == outcomeActive {
			m.active.Add(a)
		}
		if inQueue(&a.runtime) {
			m.insertIntoQueue(a, m.queues[a.runtime.Trav.ID()], a.runtime.Front)
		}
		for _, lag := range a.runtime.Lags {
			m.queues[lag.ID()].laggyHead = a
		}
	}
	for _, q := range m.queueList {
		var reserved geom.Distance
		for node := q.list.First(); node != nil; node = node.Next() {
			reserved += node.Value.(*Agent).attr().Length + geom.FollowingDistance
		}
		if q.laggyHead != nil {
			reserved += q.laggyHead.attr().Length + geom.FollowingDistance
		}
		q.reserved = reserved
	}
	m.active.Prepare()
	return nil
}

// inQueue 该运行态是否对应队列成员（车辆在网且未离网）
func inQueue(rt *runtime) bool {
	if rt.Kind == entity.AgentKindPedestrian || rt.Trav == nil {
		return false
	}
	switch rt.State.Kind {
	case StateCrossing, StateQueued, StateWaitingToAdvance, StateParking, StateIdlingAtStop:
		return true
	}
	return false
}

func (m *AgentManager) resolveRuntime(st *AgentState) (runtime, error) {
	rt := runtime{
		Kind:          entity.AgentKind(st.Kind),
		State:         st.State,
		Front:         geom.NewDistance(st.Front),
		KinFront:      geom.NewDistance(st.Front),
		Backward:      st.Backward,
		BlockRefFront: geom.NewDistance(st.BlockRefFront),
		StepIdx:       st.StepIdx,
		StopIdx:       st.StopIdx,
		ReservedSpot:  st.ReservedSpot,
	}
	if rt.Kind < entity.AgentKindCar || rt.Kind > entity.AgentKindPedestrian {
		return rt, fmt.Errorf("savestate agent %d has invalid kind %d", st.ID, st.Kind)
	}
	if rt.State.Kind < StateOffMap || rt.State.Kind > StateRiding {
		return rt, fmt.Errorf("savestate agent %d has invalid state %d", st.ID, st.State.Kind)
	}
	if st.Trav != nil {
		trav, err := m.resolveTrav(*st.Trav)
		if err != nil {
			return rt, fmt.Errorf("savestate agent %d: %w", st.ID, err)
		}
		rt.Trav = trav
		if rt.Kind != entity.AgentKindPedestrian {
			if _, ok := m.queues[trav.ID()]; !ok {
				return rt, fmt.Errorf("savestate agent %d stands on unit %d without a vehicle queue", st.ID, trav.ID())
			}
		}
	}
	for _, ref := range st.Lags {
		lag, err := m.resolveTrav(ref)
		if err != nil {
			return rt, fmt.Errorf("savestate agent %d: %w", st.ID, err)
		}
		if _, ok := m.queues[lag.ID()]; !ok {
			return rt, fmt.Errorf("savestate agent %d lags on unit %d without a vehicle queue", st.ID, lag.ID())
		}
		rt.Lags = append(rt.Lags, lag)
	}
	for _, pid := range st.Passengers {
		if _, ok := m.data[pid]; !ok {
			return rt, fmt.Errorf("savestate agent %d carries unknown passenger %d", st.ID, pid)
		}
	}
	if len(st.Passengers) > 0 {
		rt.Passengers = append([]int32(nil), st.Passengers...)
	}
	if st.ReservedSpot >= 0 {
		if _, err := m.parkingM.GetOrError(st.ReservedSpot); err != nil {
			return rt, fmt.Errorf("savestate agent %d: %w", st.ID, err)
		}
	}
	return rt, nil
}

func (m *AgentManager) resolveTrav(ref TravRef) (entity.ITraversable, error) {
	if ref.IsTurn {
		t, err := m.junctionM.GetTurnOrError(ref.ID)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
	l, err := m.laneM.GetOrError(ref.ID)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (m *AgentManager) resolveLegs(agentID int32, ts *TripState) ([]*leg, error) {
	if ts.Outcome < int8(outcomePending) || ts.Outcome > int8(outcomeCancelled) {
		return nil, fmt.Errorf("savestate agent %d has invalid trip outcome %d", agentID, ts.Outcome)
	}
	if len(ts.Legs) == 0 {
		return nil, nil
	}
	legs := make([]*leg, 0, len(ts.Legs))
	for i := range ts.Legs {
		ls := &ts.Legs[i]
		l := &leg{kind: legKind(ls.Kind)}
		if l.kind < legWalk || l.kind > legServeRoute {
			return nil, fmt.Errorf("savestate agent %d has invalid leg kind %d", agentID, ls.Kind)
		}
		if ls.Path != nil {
			p, err := m.resolvePath(agentID, ls.Path)
			if err != nil {
				return nil, err
			}
			l.path = p
		}
		switch l.kind {
		case legRide:
			route, err := m.transitM.GetRouteOrError(ls.RouteID)
			if err != nil {
				return nil, fmt.Errorf("savestate agent %d: %w", agentID, err)
			}
			board, err := m.transitM.GetStopOrError(ls.BoardID)
			if err != nil {
				return nil, fmt.Errorf("savestate agent %d: %w", agentID, err)
			}
			alight, err := m.transitM.GetStopOrError(ls.AlightID)
			if err != nil {
				return nil, fmt.Errorf("savestate agent %d: %w", agentID, err)
			}
			l.route, l.board, l.alight = route, board, alight
		case legServeRoute:
			route, err := m.transitM.GetRouteOrError(ls.RouteID)
			if err != nil {
				return nil, fmt.Errorf("savestate agent %d: %w", agentID, err)
			}
			l.route = route
		}
		legs = append(legs, l)
	}
	return legs, nil
}

func (m *AgentManager) resolvePath(agentID int32, ps *PathState) (*entity.Path, error) {
	p := &entity.Path{StartS: ps.StartS, EndS: ps.EndS, Steps: make([]entity.PathStep, 0, len(ps.Steps))}
	for _, ss := range ps.Steps {
		step := entity.PathStep{Kind: entity.PathStepKind(ss.Kind)}
		switch step.Kind {
		case entity.StepLane, entity.StepContraflowLane:
			lane, err := m.laneM.GetOrError(ss.ID)
			if err != nil {
				return nil, fmt.Errorf("savestate agent %d: %w", agentID, err)
			}
			step.Lane = lane
		case entity.StepTurn:
			turn, err := m.junctionM.GetTurnOrError(ss.ID)
			if err != nil {
				return nil, fmt.Errorf("savestate agent %d: %w", agentID, err)
			}
			step.Turn = turn
		case entity.StepRideBus:
			route, err := m.transitM.GetRouteOrError(ss.RouteID)
			if err != nil {
				return nil, fmt.Errorf("savestate agent %d: %w", agentID, err)
			}
			board, err := m.transitM.GetStopOrError(ss.BoardID)
			if err != nil {
				return nil, fmt.Errorf("savestate agent %d: %w", agentID, err)
			}
			alight, err := m.transitM.GetStopOrError(ss.AlightID)
			if err != nil {
				return nil, fmt.Errorf("savestate agent %d: %w", agentID, err)
			}
			step.Route, step.BoardStop, step.AlightStop = route, board, alight
		default:
			return nil, fmt.Errorf("savestate agent %d has invalid path step kind %d", agentID, ss.Kind)
		}
		p.Steps = append(p.Steps, step)
	}
	for _, mk := range ps.BusStops {
		stop, err := m.transitM.GetStopOrError(mk.StopID)
		if err != nil {
			return nil, fmt.Errorf("savestate agent %d: %w", agentID, err)
		}
		p.BusStops = append(p.BusStops, entity.BusStopMark{StepIndex: mk.StepIndex, S: mk.S, Stop: stop})
	}
	return p, nil
}
