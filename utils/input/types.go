package input

// Point 三维坐标点
type Point struct {
	X float64 `json:"x" bson:"x"`
	Y float64 `json:"y" bson:"y"`
	Z float64 `json:"z,omitempty" bson:"z,omitempty"`
}

// LaneData 车道输入数据
// 说明：车道ID与转向ID共用一个全局ID空间，均为正数
type LaneData struct {
	ID       int32   `json:"id" bson:"id"`
	Type     string  `json:"type" bson:"type"`             // driving|parking|sidewalk|bike|bus
	MaxSpeed float64 `json:"max_speed" bson:"max_speed"`   // 限速（米/秒），人行道可省略
	Width    float64 `json:"width,omitempty" bson:"width,omitempty"`
	Points   []Point `json:"points" bson:"points"` // 中心线折线，沿行驶方向
	// 所属道路ID
	ParentRoad int32 `json:"parent_road" bson:"parent_road"`
	// 停车道/人行道对应的行车道ID，0表示无
	SideDrivingLane int32 `json:"side_driving_lane,omitempty" bson:"side_driving_lane,omitempty"`
	// 停车道的显式车位数，0表示按车道长度推算
	ParkingCapacity int32 `json:"parking_capacity,omitempty" bson:"parking_capacity,omitempty"`
}

// RoadData 道路输入数据
type RoadData struct {
	ID    int32   `json:"id" bson:"id"`
	Name  string  `json:"name,omitempty" bson:"name,omitempty"`
	Lanes []int32 `json:"lanes" bson:"lanes"` // 车道ID，从左到右
}

// TurnData 路口转向输入数据
type TurnData struct {
	ID       int32   `json:"id" bson:"id"`
	Type     string  `json:"type" bson:"type"` // straight|left|right|uturn|crosswalk|corner
	SrcLane  int32   `json:"src_lane" bson:"src_lane"`
	DstLane  int32   `json:"dst_lane" bson:"dst_lane"`
	MaxSpeed float64 `json:"max_speed,omitempty" bson:"max_speed,omitempty"` // 0表示取两端车道限速较小值
	Points   []Point `json:"points,omitempty" bson:"points,omitempty"`       // 省略时由两端车道端点连线生成
}

// StageData 信号灯阶段输入数据
type StageData struct {
	Duration  float64 `json:"duration" bson:"duration"` // 阶段时长（秒）
	Protected []int32 `json:"protected" bson:"protected"`
	Yield     []int32 `json:"yield,omitempty" bson:"yield,omitempty"`
}

// SignalData 信号灯输入数据
type SignalData struct {
	Offset   float64      `json:"offset,omitempty" bson:"offset,omitempty"` // 起始相位偏移（秒）
	Adaptive bool         `json:"adaptive,omitempty" bson:"adaptive,omitempty"`
	Stages   []*StageData `json:"stages" bson:"stages"`
}

// JunctionData 路口输入数据
type JunctionData struct {
	ID      int32       `json:"id" bson:"id"`
	Turns   []*TurnData `json:"turns" bson:"turns"`
	Control string      `json:"control" bson:"control"` // stop_sign|signal
	Signal  *SignalData `json:"signal,omitempty" bson:"signal,omitempty"`
	// 停车让行控制下必须停稳的来路
	MustStopRoads []int32 `json:"must_stop_roads,omitempty" bson:"must_stop_roads,omitempty"`
}

// LotData 路外停车场输入数据
type LotData struct {
	ID       int32   `json:"id" bson:"id"`
	Name     string  `json:"name,omitempty" bson:"name,omitempty"`
	Lane     int32   `json:"lane" bson:"lane"` // 出入口所在行车道
	S        float64 `json:"s" bson:"s"`       // 出入口在行车道上的s坐标
	Capacity int32   `json:"capacity" bson:"capacity"`
}

// TransitStopData 公交站输入数据
type TransitStopData struct {
	ID   int32   `json:"id" bson:"id"`
	Name string  `json:"name,omitempty" bson:"name,omitempty"`
	Lane int32   `json:"lane" bson:"lane"` // 停靠的行车道/公交道
	S    float64 `json:"s" bson:"s"`
}

// TransitRouteData 公交线路输入数据
type TransitRouteData struct {
	ID    int32   `json:"id" bson:"id"`
	Name  string  `json:"name,omitempty" bson:"name,omitempty"`
	Stops []int32 `json:"stops" bson:"stops"` // 按行驶顺序，视为环线
}

// HeaderData 地图元信息
type HeaderData struct {
	Name string `json:"name,omitempty" bson:"name,omitempty"`
}

// MapData 地图输入数据
type MapData struct {
	Header        HeaderData          `json:"header" bson:"header"`
	Lanes         []*LaneData         `json:"lanes" bson:"lanes"`
	Roads         []*RoadData         `json:"roads" bson:"roads"`
	Junctions     []*JunctionData     `json:"junctions" bson:"junctions"`
	Lots          []*LotData          `json:"parking_lots,omitempty" bson:"parking_lots,omitempty"`
	TransitRoutes []*TransitRouteData `json:"transit_routes,omitempty" bson:"transit_routes,omitempty"`
	TransitStops  []*TransitStopData  `json:"transit_stops,omitempty" bson:"transit_stops,omitempty"`
}

// PositionData 路网定位输入数据
type PositionData struct {
	Lane int32   `json:"lane" bson:"lane"`
	S    float64 `json:"s" bson:"s"`
}

// VehicleData 车辆属性输入数据，数值为0表示按车型抽样
type VehicleData struct {
	Kind     string  `json:"kind" bson:"kind"` // car|bike|bus
	Length   float64 `json:"length,omitempty" bson:"length,omitempty"`
	MaxSpeed float64 `json:"max_speed,omitempty" bson:"max_speed,omitempty"`
	MaxAccel float64 `json:"max_accel,omitempty" bson:"max_accel,omitempty"`
	MaxBrake float64 `json:"max_brake,omitempty" bson:"max_brake,omitempty"`
}

// TripData 行程输入数据
type TripData struct {
	Mode      string        `json:"mode" bson:"mode"`           // driving|bike|walking|serve_bus
	Departure float64       `json:"departure" bson:"departure"` // 预定出发时刻（秒）
	// 起点，省略时取上一行程终点（首个行程取home）
	Start *PositionData `json:"start,omitempty" bson:"start,omitempty"`
	End   *PositionData `json:"end,omitempty" bson:"end,omitempty"`
	Route int32         `json:"route,omitempty" bson:"route,omitempty"` // serve_bus的服务线路
}

// PersonData 人员输入数据
type PersonData struct {
	ID      int32         `json:"id" bson:"id"`
	Home    PositionData  `json:"home" bson:"home"`
	Vehicle *VehicleData  `json:"vehicle,omitempty" bson:"vehicle,omitempty"`
	Trips   []*TripData   `json:"trips" bson:"trips"`
}

// Scenario 仿真场景输入数据
type Scenario struct {
	Persons []*PersonData `json:"persons" bson:"persons"`
}
