package parking

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/microsim-oss/entity"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/input"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/randengine"
)

// ErrNoParkingFound 搜索策略范围内没有空闲车位
var ErrNoParkingFound = errors.New("no free parking spot found within the search policy")

// backgroundAgentID 初始占用播种写入的环境车辆占用者ID
const backgroundAgentID = -1

// spotHold 车位的占用记录
type spotHold struct {
	agentID  int32
	reserved bool // true为预定中（车辆驶向车位途中），false为已停放
}

// ParkingManager 停车管理器
// 功能：管理所有车位，集中持有占用状态，提供初始占用播种、找车位搜索、
// 预定/占用/释放的完整生命周期
// 说明：占用状态只在主体的串行处理阶段修改，无需加锁；
// 同一车位同一时刻至多被一个主体持有，违反即panic
type ParkingManager struct {
	ctx entity.ITaskContext

	data  map[int32]*Spot
	spots []*Spot // 按ID升序

	laneSpots map[int32][]*Spot // 停车道ID→车位列表（按ID升序）
	lotSpots  map[int32][]*Spot // 停车场ID→车位列表（按ID升序）
	roadSpots map[int32][]*Spot // 行车停靠点所在道路ID→车位列表（按ID升序）

	holds   map[int32]*spotHold // 车位ID→占用记录，空闲车位无表项
	byAgent map[int32]int32     // 主体ID→持有（预定或占用）的车位ID
}

// NewManager 创建停车管理器实例
// 功能：初始化停车管理器，创建内部数据结构
// 参数：ctx-任务上下文
// 返回：新创建的停车管理器实例
func NewManager(ctx entity.ITaskContext) *ParkingManager {
	return &ParkingManager{
		ctx:       ctx,
		data:      make(map[int32]*Spot),
		spots:     make([]*Spot, 0),
		laneSpots: make(map[int32][]*Spot),
		lotSpots:  make(map[int32][]*Spot),
		roadSpots: make(map[int32][]*Spot),
		holds:     make(map[int32]*spotHold),
		byAgent:   make(map[int32]int32),
	}
}

// Init 初始化所有车位
// 功能：枚举路内停车道生成车位，再按停车场配置生成路外车位
// 参数：lots-停车场输入数据，laneManager-车道管理器
// 算法说明：
//  1. 车位ID独立编号，从1开始；先按车道ID升序处理停车道，再按停车场ID升序
//     处理停车场，保证同一地图的编号在任何环境下一致；
//  2. 停车道车位数默认为floor(长度/8)-2（不小于0），即车道两端不放车位；
//     第idx个车位的锚点在停车道s=8*(2+idx)处；
//  3. 停车场车位共用出入口，行车停靠点取配置的行车道与s坐标
func (m *ParkingManager) Init(lots []*input.LotData, laneManager entity.ILaneManager) {
	nextID := int32(1)
	for _, l := range laneManager.Lanes() {
		if l.Type() != entity.LaneTypeParking {
			continue
		}
		count := onstreetSpotCount(l)
		for idx := 0; idx < count; idx++ {
			m.addSpot(newOnstreetSpot(nextID, l, SpotLength*float64(2+idx)))
			nextID++
		}
	}
	sorted := make([]*input.LotData, len(lots))
	copy(sorted, lots)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	for _, lot := range sorted {
		if lot.ID <= 0 {
			log.Panicf("parking lot id %d must be positive", lot.ID)
		}
		if _, ok := m.lotSpots[lot.ID]; ok {
			log.Panicf("duplicated parking lot id %d", lot.ID)
		}
		if lot.Capacity <= 0 {
			log.Panicf("parking lot %d has non-positive capacity %d", lot.ID, lot.Capacity)
		}
		lane := laneManager.Get(lot.Lane)
		if lane.Type() != entity.LaneTypeDriving && lane.Type() != entity.LaneTypeBus {
			log.Panicf("parking lot %d entrance lane %d is not a driving lane", lot.ID, lot.Lane)
		}
		if lane.ParentRoad() == nil {
			log.Panicf("parking lot %d entrance lane %d belongs to no road", lot.ID, lot.Lane)
		}
		if lot.S < 0 || lot.S > lane.Length().Meters() {
			log.Panicf("parking lot %d entrance s=%.2f is outside lane %d", lot.ID, lot.S, lot.Lane)
		}
		entrance := entity.Position{Lane: lane, S: lot.S}
		for idx := int32(0); idx < lot.Capacity; idx++ {
			m.addSpot(newLotSpot(nextID, lot.ID, entrance))
			nextID++
		}
	}
	log.Debugf("parking: %d spots loaded (%d lots)", len(m.spots), len(sorted))
}

// onstreetSpotCount 停车道上的车位数
// 算法说明：默认floor(长度/8)-2且不小于0；地图给出显式车位数时以其为准，
// 但末一车位必须完整落在车道长度内
func onstreetSpotCount(l entity.ILane) int {
	length := l.Length().Meters()
	if override := l.ParkingCapacity(); override > 0 {
		if SpotLength*float64(override+1) > length {
			log.Panicf("lane %d: parking capacity %d does not fit length %.2fm", l.ID(), override, length)
		}
		return int(override)
	}
	count := int(math.Floor(length/SpotLength)) - 2
	if count < 0 {
		count = 0
	}
	return count
}

func (m *ParkingManager) addSpot(s *Spot) {
	m.data[s.id] = s
	m.spots = append(m.spots, s)
	if s.parkingLane != nil {
		m.laneSpots[s.parkingLane.ID()] = append(m.laneSpots[s.parkingLane.ID()], s)
	}
	if s.IsLot() {
		m.lotSpots[s.lotID] = append(m.lotSpots[s.lotID], s)
	}
	roadID := s.drivingPos.Lane.ParentRoad().ID()
	m.roadSpots[roadID] = append(m.roadSpots[roadID], s)
}

// SeedOccupancy 按比例随机占用车位
// 功能：初始化时把一部分车位标记为被环境车辆占用，使停车资源非空载
// 参数：ratio-目标占用比例[0,1]，rng-全局随机数生成器
// 算法说明：按车位ID升序逐个抽样PTrue(ratio)，命中则记为环境车辆占用
// （占用者ID为-1）；行车停靠点位于黑洞车道的车位不参与抽样；
// 抽样顺序固定，保证同种子的播种结果一致
func (m *ParkingManager) SeedOccupancy(ratio float64, rng *randengine.Engine) {
	if ratio <= 0 {
		return
	}
	seeded := 0
	for _, s := range m.spots {
		if s.drivingPos.Lane.IsBlackhole() {
			continue
		}
		if !rng.PTrue(ratio) {
			continue
		}
		if _, held := m.holds[s.id]; held {
			continue
		}
		m.holds[s.id] = &spotHold{agentID: backgroundAgentID}
		seeded++
	}
	log.Infof("parking: seeded %d of %d spots as occupied", seeded, len(m.spots))
}

// Get 根据ID获取车位实例
// 功能：通过车位ID查找对应的车位对象，如果不存在则panic
// 参数：id-车位的唯一标识符
// 返回：对应的车位实例，如果不存在则panic
func (m *ParkingManager) Get(id int32) entity.ISpot {
	return m.get(id)
}

// GetOrError 根据ID获取车位实例（带错误处理）
// 功能：通过车位ID查找对应的车位对象，如果不存在则返回错误
// 参数：id-车位的唯一标识符
// 返回：车位实例和错误信息，如果不存在则返回nil和错误
func (m *ParkingManager) GetOrError(id int32) (entity.ISpot, error) {
	if s, ok := m.data[id]; !ok {
		return nil, fmt.Errorf("no id %d in spot data", id)
	} else {
		return s, nil
	}
}

func (m *ParkingManager) get(id int32) *Spot {
	if s, ok := m.data[id]; !ok {
		log.Panicf("no id %d in spot data", id)
		return nil
	} else {
		return s
	}
}

// Spots 全部车位（按ID升序）
func (m *ParkingManager) Spots() []entity.ISpot {
	return lo.Map(m.spots, func(s *Spot, _ int) entity.ISpot { return s })
}

// FindSpotNear 从给定行车道位置沿行车网络搜索最近的空闲车位
// 功能：车辆接近目的地时选定泊位，找不到则返回ErrNoParkingFound由行程层处置
// 参数：pos-行车道上的当前位置，excluded-本次搜索要跳过的车位ID集合
// 返回：选中的车位；策略范围内无空闲车位时返回ErrNoParkingFound
// 算法说明：
//  1. 先扫描当前道路上位于前方（s不小于当前位置，平行车道按s近似等价）的
//     车位，取距离最近者，距离相同取ID较小者；
//  2. 无果则沿后继道路广度优先搜索（后继已按道路ID升序），每条道路内取
//     ID最小的空闲车位；
//  3. 超过最大跳数或累计行驶距离上限仍无空闲车位时返回ErrNoParkingFound；
//  4. 黑洞车道上的车位不参与搜索
func (m *ParkingManager) FindSpotNear(pos entity.Position, excluded map[int32]bool) (entity.ISpot, error) {
	if pos.Lane == nil || pos.Lane.ParentRoad() == nil {
		return nil, ErrNoParkingFound
	}
	start := pos.Lane.ParentRoad()
	policy := m.ctx.RuntimeConfig().C.Parking

	usable := func(s *Spot) bool {
		if excluded[s.id] || s.drivingPos.Lane.IsBlackhole() {
			return false
		}
		_, held := m.holds[s.id]
		return !held
	}

	var best *Spot
	for _, s := range m.roadSpots[start.ID()] {
		if !usable(s) || s.drivingPos.S < pos.S {
			continue
		}
		if best == nil || s.drivingPos.S < best.drivingPos.S {
			best = s
		}
	}
	if best != nil {
		return best, nil
	}

	type searchItem struct {
		road entity.IRoad
		hops int
		dist float64 // 从当前位置到该道路起点的累计行驶距离
	}
	startRemaining := start.AvgDrivingLength() - pos.S
	if startRemaining < 0 {
		startRemaining = 0
	}
	visited := map[int32]bool{start.ID(): true}
	queue := []searchItem{{road: start}}
	for len(queue) > 0 {
		it := queue[0]
		queue = queue[1:]
		if it.road.ID() != start.ID() {
			for _, s := range m.roadSpots[it.road.ID()] {
				if usable(s) {
					return s, nil
				}
			}
		}
		if it.hops >= policy.SearchMaxHops {
			continue
		}
		step := it.road.AvgDrivingLength()
		if it.road.ID() == start.ID() {
			step = startRemaining
		}
		for _, next := range it.road.NextRoads() {
			if visited[next.ID()] {
				continue
			}
			dist := it.dist + step
			if dist > policy.SearchMaxDistance {
				continue
			}
			visited[next.ID()] = true
			queue = append(queue, searchItem{road: next, hops: it.hops + 1, dist: dist})
		}
	}
	return nil, ErrNoParkingFound
}

// Reserve 预定车位
// 功能：车辆确定泊位后驶向途中持有预定，阻止其他车辆选中同一车位
// 参数：spotID-车位ID，agentID-主体ID
// 说明：预定非空闲车位或一个主体同时持有两个车位属于程序缺陷，直接panic
func (m *ParkingManager) Reserve(spotID int32, agentID int32) {
	mustValidAgent(agentID)
	s := m.get(spotID)
	if hold, held := m.holds[s.id]; held {
		log.Panicf("reserve spot %d for agent %d: already held by agent %d", spotID, agentID, hold.agentID)
	}
	if other, ok := m.byAgent[agentID]; ok {
		log.Panicf("agent %d reserves spot %d while holding spot %d", agentID, spotID, other)
	}
	m.holds[s.id] = &spotHold{agentID: agentID, reserved: true}
	m.byAgent[agentID] = s.id
}

// Claim 占用车位
// 功能：车辆完成停车动作后把预定转为占用，未经预定的空闲车位也可直接占用
// 参数：spotID-车位ID，agentID-主体ID
// 说明：车位已被他人持有或已处于占用状态时panic，
// 容量守恒被破坏说明问题出在搜索或预定环节
func (m *ParkingManager) Claim(spotID int32, agentID int32) {
	mustValidAgent(agentID)
	s := m.get(spotID)
	if hold, held := m.holds[s.id]; held {
		if hold.agentID != agentID || !hold.reserved {
			log.Panicf("claim spot %d for agent %d: already held by agent %d", spotID, agentID, hold.agentID)
		}
		hold.reserved = false
		return
	}
	if other, ok := m.byAgent[agentID]; ok {
		log.Panicf("agent %d claims spot %d while holding spot %d", agentID, spotID, other)
	}
	m.holds[s.id] = &spotHold{agentID: agentID}
	m.byAgent[agentID] = s.id
}

// Release 释放车位
// 功能：预定取消（改道、行程撤销）或车辆驶离时归还车位
// 参数：spotID-车位ID，agentID-主体ID
// 说明：释放空闲车位或他人持有的车位属于程序缺陷，直接panic
func (m *ParkingManager) Release(spotID int32, agentID int32) {
	mustValidAgent(agentID)
	s := m.get(spotID)
	hold, held := m.holds[s.id]
	if !held {
		log.Panicf("release free spot %d for agent %d", spotID, agentID)
	}
	if hold.agentID != agentID {
		log.Panicf("release spot %d for agent %d: held by agent %d", spotID, agentID, hold.agentID)
	}
	delete(m.holds, s.id)
	delete(m.byAgent, agentID)
}

// IsFree 车位是否空闲（未被占用且未被预定）
func (m *ParkingManager) IsFree(spotID int32) bool {
	s := m.get(spotID)
	_, held := m.holds[s.id]
	return !held
}

// SpotOfAgent 主体当前持有（预定或占用）的车位
func (m *ParkingManager) SpotOfAgent(agentID int32) (entity.ISpot, bool) {
	if id, ok := m.byAgent[agentID]; ok {
		return m.data[id], true
	}
	return nil, false
}

// LaneOccupancy 指定停车道上的车位总数与空闲数
func (m *ParkingManager) LaneOccupancy(laneID int32) (total int, free int) {
	return m.occupancyOf(m.laneSpots[laneID])
}

// LotOccupancy 指定停车场的车位总数与空闲数
func (m *ParkingManager) LotOccupancy(lotID int32) (total int, free int) {
	return m.occupancyOf(m.lotSpots[lotID])
}

func (m *ParkingManager) occupancyOf(spots []*Spot) (total int, free int) {
	for _, s := range spots {
		total++
		if _, held := m.holds[s.id]; !held {
			free++
		}
	}
	return total, free
}

// mustValidAgent 环境车辆的占用只能由播种写入，外部接口要求真实主体ID
func mustValidAgent(agentID int32) {
	if agentID < 0 {
		log.Panicf("invalid agent id %d", agentID)
	}
}
