package entity

import (
	"fmt"
)

// PathStepKind 路径步骤类型
type PathStepKind int8

const (
	StepLane           PathStepKind = iota // 沿车道正向通行
	StepContraflowLane                     // 沿车道反向通行（仅步行）
	StepTurn                               // 经路口转向通行
	StepRideBus                            // 乘公交（仅步行路径）
)

func (k PathStepKind) String() string {
	switch k {
	case StepLane:
		return "lane"
	case StepContraflowLane:
		return "contraflow"
	case StepTurn:
		return "turn"
	default:
		return "ride_bus"
	}
}

// PathStep 路径中的一个步骤
type PathStep struct {
	Kind PathStepKind
	Lane ILane // StepLane/StepContraflowLane时有效
	Turn ITurn // StepTurn时有效

	// StepRideBus时有效
	Route      ITransitRoute
	BoardStop  ITransitStop
	AlightStop ITransitStop
}

// Traversable 步骤对应的可通行单元，乘车步骤返回nil
func (s PathStep) Traversable() ITraversable {
	switch s.Kind {
	case StepLane, StepContraflowLane:
		return s.Lane
	case StepTurn:
		return s.Turn
	default:
		return nil
	}
}

func (s PathStep) String() string {
	switch s.Kind {
	case StepLane:
		return fmt.Sprintf("lane(%d)", s.Lane.ID())
	case StepContraflowLane:
		return fmt.Sprintf("contraflow(%d)", s.Lane.ID())
	case StepTurn:
		return fmt.Sprintf("turn(%d)", s.Turn.ID())
	default:
		return fmt.Sprintf("ride_bus(route=%d,%d->%d)", s.Route.ID(), s.BoardStop.ID(), s.AlightStop.ID())
	}
}

// BusStopMark 公交车服务路径上的一个停靠点
type BusStopMark struct {
	StepIndex int          // 停靠点所在步骤下标（必为StepLane）
	S         float64      // 停靠点在车道上的s坐标
	Stop      ITransitStop // 对应公交站
}

// Path 一次出行腿的完整路径
type Path struct {
	Steps  []PathStep
	StartS float64 // 起点在首步骤单元上的s坐标
	EndS   float64 // 终点在末步骤单元上的s坐标

	BusStops []BusStopMark // 公交车服务路径的停靠点序列，按步骤顺序
}

// Validate 校验路径的连续性
// 算法说明：
//  1. 路径非空，首末步骤不得为转向或乘车；
//  2. 车道步骤之后的转向必须以该车道为源，转向之后的车道必须为其目标；
//  3. 乘车步骤的上车站候车车道衔接前一步骤，下车站候车车道衔接后一步骤
func (p *Path) Validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("path: empty step list")
	}
	if k := p.Steps[0].Kind; k == StepTurn || k == StepRideBus {
		return fmt.Errorf("path: starts with %v", k)
	}
	if k := p.Steps[len(p.Steps)-1].Kind; k == StepTurn || k == StepRideBus {
		return fmt.Errorf("path: ends with %v", k)
	}
	for i := 0; i+1 < len(p.Steps); i++ {
		a, b := p.Steps[i], p.Steps[i+1]
		switch {
		case a.Kind == StepTurn && b.Kind == StepTurn:
			return fmt.Errorf("path: turn %d directly followed by turn %d", a.Turn.ID(), b.Turn.ID())
		case a.Kind != StepRideBus && b.Kind == StepTurn:
			if b.Turn.SrcLane().ID() != a.Lane.ID() {
				return fmt.Errorf("path: turn %d does not start from lane %d", b.Turn.ID(), a.Lane.ID())
			}
		case a.Kind == StepTurn && b.Kind != StepRideBus:
			if a.Turn.DstLane().ID() != b.Lane.ID() {
				return fmt.Errorf("path: turn %d does not end at lane %d", a.Turn.ID(), b.Lane.ID())
			}
		case a.Kind != StepRideBus && b.Kind == StepRideBus:
			if b.BoardStop.WalkingPos().Lane.ID() != a.Lane.ID() {
				return fmt.Errorf("path: board stop %d is not on lane %d", b.BoardStop.ID(), a.Lane.ID())
			}
		case a.Kind == StepRideBus && b.Kind != StepRideBus:
			if a.AlightStop.WalkingPos().Lane.ID() != b.Lane.ID() {
				return fmt.Errorf("path: alight stop %d is not on lane %d", a.AlightStop.ID(), b.Lane.ID())
			}
		case a.Kind != StepRideBus && b.Kind != StepRideBus &&
			a.Kind != StepTurn && b.Kind != StepTurn:
			return fmt.Errorf("path: lane %d directly followed by lane %d", a.Lane.ID(), b.Lane.ID())
		}
	}
	return nil
}
