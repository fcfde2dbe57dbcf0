package entity

import (
	"fmt"

	"git.fiblab.net/general/common/v2/geometry"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/container"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/geom"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/input"
)

// LaneType 车道类型
type LaneType int8

const (
	LaneTypeUnspecified LaneType = iota
	LaneTypeDriving              // 行车道
	LaneTypeParking              // 路内停车道
	LaneTypeSidewalk             // 人行道
	LaneTypeBike                 // 自行车道
	LaneTypeBus                  // 公交专用道
)

func (t LaneType) String() string {
	switch t {
	case LaneTypeDriving:
		return "driving"
	case LaneTypeParking:
		return "parking"
	case LaneTypeSidewalk:
		return "sidewalk"
	case LaneTypeBike:
		return "bike"
	case LaneTypeBus:
		return "bus"
	default:
		return "unspecified"
	}
}

// TurnType 路口转向类型
type TurnType int8

const (
	TurnTypeUnspecified TurnType = iota
	TurnTypeStraight             // 直行
	TurnTypeLeft                 // 左转
	TurnTypeRight                // 右转
	TurnTypeUTurn                // 掉头
	TurnTypeCrosswalk            // 人行横道
	TurnTypeCorner               // 路口转角（人行道间的连接，不进入路面）
)

func (t TurnType) String() string {
	switch t {
	case TurnTypeStraight:
		return "straight"
	case TurnTypeLeft:
		return "left"
	case TurnTypeRight:
		return "right"
	case TurnTypeUTurn:
		return "uturn"
	case TurnTypeCrosswalk:
		return "crosswalk"
	case TurnTypeCorner:
		return "corner"
	default:
		return "unspecified"
	}
}

// IsWalk 判断转向是否属于步行网络
func (t TurnType) IsWalk() bool {
	return t == TurnTypeCrosswalk || t == TurnTypeCorner
}

// ControlKind 路口信控类型
type ControlKind int8

const (
	ControlStopSign      ControlKind = iota // 停车让行标志
	ControlTrafficSignal                    // 信号灯
)

// AgentKind 仿真主体类型
type AgentKind int8

const (
	AgentKindCar        AgentKind = iota // 小汽车
	AgentKindBike                        // 自行车
	AgentKindBus                         // 公交车
	AgentKindPedestrian                  // 行人
)

func (k AgentKind) String() string {
	switch k {
	case AgentKindCar:
		return "car"
	case AgentKindBike:
		return "bike"
	case AgentKindBus:
		return "bus"
	default:
		return "pedestrian"
	}
}

// IsVehicle 判断是否为占用行车道队列的车辆类主体
func (k AgentKind) IsVehicle() bool {
	return k != AgentKindPedestrian
}

// VehicleAttr 车辆物理属性
type VehicleAttr struct {
	Length   geom.Distance     // 车长
	MaxA     geom.Acceleration // 最大加速度
	MaxBrake geom.Acceleration // 最大制动减速度（取正值）
	MaxV     geom.Speed        // 最高车速，0表示不限（只受车道限速约束）
}

// Position 路网上的一个定位（车道+s坐标）
type Position struct {
	Lane ILane
	S    float64
}

func (p Position) String() string {
	if p.Lane == nil {
		return "Position{nil}"
	}
	return fmt.Sprintf("Position{Lane=%d, S=%.2f}", p.Lane.ID(), p.S)
}

// XYZ 获取定位对应的坐标
func (p Position) XYZ() geometry.Point {
	return p.Lane.Line().GetPositionByS(p.S)
}

// TurnRequest 队列引擎向路口控制器发起的通行请求
// 说明：控制器只依据请求中携带的事实做决策，不反向查询主体状态
type TurnRequest struct {
	AgentID int32
	Turn    ITurn
	AtEnd   bool // 是否已到达车道末端
	Stopped bool // 是否已经停稳
	// 以自由流速度通过该转向所需的时间，由队列引擎计算后携带
	CrossingTime geom.Duration
}

// ITraversable 可通行单元（车道或转向）
type ITraversable interface {
	ID() int32
	IsTurn() bool
	Length() geom.Distance
	Line() *geom.PolyLine
	// 给定车辆最高车速下本单元的通行速度上限
	MaxSpeedFor(vehMaxV geom.Speed) geom.Speed
}

// ILane 车道实体接口
type ILane interface {
	ITraversable

	// 初始化

	SetParentRoadWhenInit(parent IRoad)    // 设置lane所在road的指针
	AddTurnWhenInit(turn ITurn)            // 注册与本车道相连的转向并认领端点路口
	AddBusStopWhenInit(stopID int32, s float64) // 注册车道上的公交站

	// Print

	String() string

	// getter

	Type() LaneType
	MaxV() geom.Speed
	Width() float64
	ParentRoad() IRoad
	SrcJunctionID() int32 // 车道起点路口，-1表示边界
	DstJunctionID() int32 // 车道终点路口，-1表示边界

	PredecessorTurnIDs() []int32 // 驶入本车道的机动转向（升序）
	SuccessorTurnIDs() []int32   // 离开本车道的机动转向（升序）

	SideParkingLane() ILane // 行车道旁的停车道，无则为nil
	SideDrivingLane() ILane // 停车道/人行道对应的行车道，无则为nil
	SideWalkingLane() ILane // 行车道对应的人行道，无则为nil

	ParkingCapacity() int32 // 停车道的显式车位数配置，0表示按长度推算

	BusStopIDs() []int32 // 车道上的公交站（按s升序）

	IsBlackhole() bool // 是否不在行车网络的最大强连通分量内
}

// ITurn 路口转向实体接口
type ITurn interface {
	ITraversable

	Type() TurnType
	Junction() IJunction
	SrcLane() ILane
	DstLane() ILane
	// 转向起点是否位于源车道的s=length端（机动转向恒为true）
	SrcAtLaneEnd() bool
	// 转向终点是否位于目标车道的s=0端（机动转向恒为true）
	DstAtLaneStart() bool
	ConflictIDs() []int32            // 冲突转向ID集合（升序）
	ConflictsWith(turnID int32) bool // 判断与指定转向是否冲突
}

// IRoad 道路实体接口
type IRoad interface {
	// 初始化

	SetMustStopWhenInit() // 标记本道路来车在终点路口必须停车

	// Print

	String() string

	// getter

	ID() int32
	Name() string
	Lanes() []ILane        // 全部车道（从左到右）
	DrivingLanes() []ILane // 行车道（含公交道，从左到右）
	RightestDrivingLane() ILane
	Sidewalk() ILane // 道路人行道，无则为nil

	SrcJunctionID() int32
	DstJunctionID() int32
	NextRoads() []IRoad // 经由终点路口可达的后继道路（按ID升序）

	MustStop() bool // 停车让行控制下本道路来车是否必须停车
	MaxV() geom.Speed
	// 行车道平均长度（米），找车位与路径规划的距离度量
	AvgDrivingLength() float64

	// 将道路内任一车道上的位置投影到人行道，无人行道时ok为false
	ProjectToSidewalk(pos Position) (Position, bool)
	// 将道路内任一车道上的位置投影到最右侧行车道，无行车道时ok为false
	ProjectToDriving(pos Position) (Position, bool)
}

// IJunction 路口实体接口
type IJunction interface {
	ID() int32
	ControlKind() ControlKind
	Turns() []ITurn            // 全部转向（按ID升序）
	GetTurn(id int32) ITurn    // 不存在则panic
	TurnsFrom(lane ILane) []ITurn

	// 队列引擎使用的唯一通行询问接口
	CanProceed(req TurnRequest, now geom.Time) bool
	// 主体离开路口（转向走完），释放其通行授权
	OnExit(agentID int32)
	// 主体取消请求并释放未使用的通行授权（改道、行程被取消）
	CancelRequest(agentID int32)

	// 查询API：当前信号灯阶段，无信号灯时ok为false
	SignalStage() (stage int, remaining geom.Duration, ok bool)
	// 运行期修改信号灯配时（缓冲到下个准备阶段生效），非信号灯路口或非法配时返回error
	Retime(stages []*input.StageData, offset float64) error

	String() string
}

// ISpot 停车位实体接口
type ISpot interface {
	ID() int32
	IsLot() bool        // 是否属于路外停车场
	LotID() int32       // 所属停车场ID，路内车位为-1
	ParkingLane() ILane // 路内车位所在的停车道，路外车位为nil
	DrivingPos() Position // 驶入/驶出车位时在行车道上的停靠点
	WalkingPos() Position // 步行到达车位的位置，无人行道时Lane为nil
}

// ITransitRoute 公交线路实体接口
type ITransitRoute interface {
	ID() int32
	Name() string
	StopIDs() []int32 // 按行驶顺序
	// 环线上某站的下一站下标
	NextStopIdx(i int) int
	// 指定车站在线路上首次出现的下标，不在线路上则返回-1
	IndexOf(stopID int32) int
}

// ITransitStop 公交站实体接口
type ITransitStop interface {
	ID() int32
	Name() string
	DrivingPos() Position // 公交车停靠的位置
	WalkingPos() Position // 乘客候车的位置
}

// IAgent 仿真主体实体接口
// 说明：V与Length返回float64以满足车辆链表的排序元素接口
type IAgent interface {
	ID() int32
	Kind() AgentKind
	V() float64      // 当前速度（米/秒）
	Length() float64 // 车长（米），行人为0

	// 当前位置（快照）；乘车中的行人返回所乘公交车的位置
	Snapshot() AgentSnapshot
	// 当前行程段的路径与当前步骤下标，不在行程中时路径为nil
	CurrentPath() (*Path, int)

	String() string
}

// AgentSnapshot 主体的对外位置快照
type AgentSnapshot struct {
	TraversableID int32    // 所在可通行单元ID，-1表示不在路网上（已停车/候车/乘车）
	IsTurn        bool     // 所在单元是否为转向
	S             float64  // 前端在单元上的s坐标
	V             geom.Speed
	Status        string   // 行为状态名（排队、行驶等）
	XYZ           geometry.Point
}

// VehicleNode 车辆链表节点类型
type VehicleNode = container.ListNode[IAgent, struct{}]

// VehicleList 车辆链表类型
type VehicleList = container.List[IAgent, struct{}]

// ParseLaneType 解析车道类型字符串
func ParseLaneType(s string) (LaneType, error) {
	switch s {
	case "driving":
		return LaneTypeDriving, nil
	case "parking":
		return LaneTypeParking, nil
	case "sidewalk":
		return LaneTypeSidewalk, nil
	case "bike":
		return LaneTypeBike, nil
	case "bus":
		return LaneTypeBus, nil
	default:
		return LaneTypeUnspecified, fmt.Errorf("unknown lane type %s", s)
	}
}

// ParseTurnType 解析转向类型字符串
func ParseTurnType(s string) (TurnType, error) {
	switch s {
	case "straight":
		return TurnTypeStraight, nil
	case "left":
		return TurnTypeLeft, nil
	case "right":
		return TurnTypeRight, nil
	case "uturn":
		return TurnTypeUTurn, nil
	case "crosswalk":
		return TurnTypeCrosswalk, nil
	case "corner":
		return TurnTypeCorner, nil
	default:
		return TurnTypeUnspecified, fmt.Errorf("unknown turn type %s", s)
	}
}

// ParseAgentKind 解析车辆类型字符串
func ParseAgentKind(s string) (AgentKind, error) {
	switch s {
	case "car":
		return AgentKindCar, nil
	case "bike":
		return AgentKindBike, nil
	case "bus":
		return AgentKindBus, nil
	default:
		return AgentKindCar, fmt.Errorf("unknown vehicle kind %s", s)
	}
}
