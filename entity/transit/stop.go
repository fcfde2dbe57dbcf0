package transit

import (
	"fmt"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/microsim-oss/entity"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/input"
)

// Stop 公交站实体
// 功能：表示公交车停靠与乘客候车的位置，持有按到达先后排列的候车队列
// 说明：候车队列只在主体的串行处理阶段修改，无需加锁
type Stop struct {
	id   int32
	name string

	drivingPos entity.Position // 公交车停靠的位置（行车道/公交道）
	walkingPos entity.Position // 乘客候车的位置，无人行道时Lane为nil

	waiting []int32 // 候车行人ID，按到达先后
}

// newStop 创建并初始化一个新的Stop实例
// 功能：根据基础数据创建Stop对象，校验停靠车道并推导候车位置
// 参数：base-基础公交站数据，laneManager-车道管理器
// 返回：初始化完成的Stop实例
func newStop(base *input.TransitStopData, laneManager entity.ILaneManager) *Stop {
	lane := laneManager.Get(base.Lane)
	if lane.Type() != entity.LaneTypeDriving && lane.Type() != entity.LaneTypeBus {
		log.Panicf("transit stop %d lane %d is not a driving lane", base.ID, base.Lane)
	}
	if lane.ParentRoad() == nil {
		log.Panicf("transit stop %d lane %d belongs to no road", base.ID, base.Lane)
	}
	if base.S < 0 || base.S > lane.Length().Meters() {
		log.Panicf("transit stop %d s=%.2f is outside lane %d", base.ID, base.S, base.Lane)
	}
	drivingPos := entity.Position{Lane: lane, S: base.S}
	s := &Stop{
		id:         base.ID,
		name:       base.Name,
		drivingPos: drivingPos,
	}
	if pos, ok := lane.ParentRoad().ProjectToSidewalk(drivingPos); ok {
		s.walkingPos = pos
	}
	return s
}

// addWaiting 行人加入候车队列尾部
func (s *Stop) addWaiting(pedID int32) {
	if lo.Contains(s.waiting, pedID) {
		log.Warnf("pedestrian %d is already waiting at stop %d", pedID, s.id)
		return
	}
	s.waiting = append(s.waiting, pedID)
}

// removeWaiting 行人离开候车队列（上车或取消行程）
func (s *Stop) removeWaiting(pedID int32) {
	for i, id := range s.waiting {
		if id == pedID {
			s.waiting = append(s.waiting[:i], s.waiting[i+1:]...)
			return
		}
	}
	log.Errorf("pedestrian %d is not waiting at stop %d", pedID, s.id)
}

func (s *Stop) String() string {
	return fmt.Sprintf("Stop{id=%d, name=%s, lane=%d}", s.id, s.name, s.drivingPos.Lane.ID())
}

// getter

func (s *Stop) ID() int32 {
	return s.id
}

func (s *Stop) Name() string {
	return s.name
}

func (s *Stop) DrivingPos() entity.Position {
	return s.drivingPos
}

func (s *Stop) WalkingPos() entity.Position {
	return s.walkingPos
}
