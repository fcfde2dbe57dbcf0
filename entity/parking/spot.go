package parking

import (
	"fmt"

	"github.com/tsinghua-fib-lab/microsim-oss/entity"
)

// SpotLength 单个车位沿停车道方向占用的长度（米）
const SpotLength = 8.0

// Spot 车位实体
// 功能：表示路内停车道或路外停车场中的一个车位
// 说明：占用状态由管理器集中持有，车位本身只提供静态定位信息；
// 车位ID独立编号，与路网的车道/转向ID空间无关
type Spot struct {
	id          int32
	lotID       int32        // 所属停车场ID，路内车位为-1
	parkingLane entity.ILane // 路内车位所在的停车道，路外车位为nil

	drivingPos entity.Position // 驶入/驶出车位时在行车道上的停靠点
	walkingPos entity.Position // 步行到达车位的位置，无人行道时Lane为nil
}

// newOnstreetSpot 创建路内车位
// 功能：按停车道上的锚点位置推导行车道停靠点与人行道步行点
// 参数：id-车位ID，parkingLane-停车道，anchorS-锚点在停车道上的s坐标
// 返回：初始化完成的车位实例
// 算法说明：行车停靠点为锚点坐标在旁侧行车道中心线上的投影，
// 步行点为停靠点在道路人行道上的投影
func newOnstreetSpot(id int32, parkingLane entity.ILane, anchorS float64) *Spot {
	driving := parkingLane.SideDrivingLane()
	if driving == nil {
		log.Panicf("parking lane %d has no side driving lane", parkingLane.ID())
	}
	if driving.ParentRoad() == nil {
		log.Panicf("parking lane %d's side driving lane %d belongs to no road", parkingLane.ID(), driving.ID())
	}
	anchor := parkingLane.Line().GetPositionByS(anchorS)
	drivingPos := entity.Position{Lane: driving, S: driving.Line().ProjectToLine(anchor)}
	return &Spot{
		id:          id,
		lotID:       -1,
		parkingLane: parkingLane,
		drivingPos:  drivingPos,
		walkingPos:  walkingPosOf(drivingPos),
	}
}

// newLotSpot 创建路外停车场车位
// 功能：同一停车场的全部车位共用出入口的行车停靠点与步行点
// 参数：id-车位ID，lotID-停车场ID，entrance-出入口在行车道上的位置
// 返回：初始化完成的车位实例
func newLotSpot(id int32, lotID int32, entrance entity.Position) *Spot {
	return &Spot{
		id:         id,
		lotID:      lotID,
		drivingPos: entrance,
		walkingPos: walkingPosOf(entrance),
	}
}

// walkingPosOf 车位步行位置，即行车停靠点在道路人行道上的投影
func walkingPosOf(drivingPos entity.Position) entity.Position {
	if pos, ok := drivingPos.Lane.ParentRoad().ProjectToSidewalk(drivingPos); ok {
		return pos
	}
	return entity.Position{}
}

func (s *Spot) String() string {
	if s.IsLot() {
		return fmt.Sprintf("Spot{id=%d, lot=%d}", s.id, s.lotID)
	}
	return fmt.Sprintf("Spot{id=%d, lane=%d}", s.id, s.parkingLane.ID())
}

// getter

func (s *Spot) ID() int32 {
	return s.id
}

// IsLot 是否属于路外停车场
func (s *Spot) IsLot() bool {
	return s.lotID >= 0
}

func (s *Spot) LotID() int32 {
	return s.lotID
}

func (s *Spot) ParkingLane() entity.ILane {
	return s.parkingLane
}

func (s *Spot) DrivingPos() entity.Position {
	return s.drivingPos
}

func (s *Spot) WalkingPos() entity.Position {
	return s.walkingPos
}
