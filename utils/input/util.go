package input

import (
	"fmt"
	"os"
)

// mapIDs 地图ID集合
// 功能：存储各种地图元素的ID集合，用于位置验证
// 说明：使用map[int32]struct{}结构实现高效的ID查找
type mapIDs struct {
	drivingLaneIDs map[int32]struct{} // 机动车道ID集合
	bikeLaneIDs    map[int32]struct{} // 自行车道ID集合
	walkLaneIDs    map[int32]struct{} // 人行道ID集合
	routeIDs       map[int32]struct{} // 公交线路ID集合
}

// buildMapIDs 构建地图ID集合
func buildMapIDs(m *MapData) mapIDs {
	ids := mapIDs{
		drivingLaneIDs: make(map[int32]struct{}),
		bikeLaneIDs:    make(map[int32]struct{}),
		walkLaneIDs:    make(map[int32]struct{}),
		routeIDs:       make(map[int32]struct{}),
	}
	for _, l := range m.Lanes {
		switch l.Type {
		case "driving", "bus":
			ids.drivingLaneIDs[l.ID] = struct{}{}
		case "bike":
			ids.bikeLaneIDs[l.ID] = struct{}{}
		case "sidewalk":
			ids.walkLaneIDs[l.ID] = struct{}{}
		}
	}
	for _, r := range m.TransitRoutes {
		ids.routeIDs[r.ID] = struct{}{}
	}
	return ids
}

// checkPositionValid 检查位置有效性
// 功能：验证位置信息是否符合出行模式和地图约束
// 参数：pos-位置信息，ids-地图ID集合，mode-出行模式
// 返回：位置无效时返回错误
// 算法说明：
// 1. 机动车行程的位置必须在行车道上
// 2. 自行车行程的位置可在自行车道或行车道上
// 3. 步行行程的位置必须在人行道上
// 说明：确保位置信息与出行模式和地图数据的一致性
func checkPositionValid(pos *PositionData, ids mapIDs, mode string) error {
	if pos == nil {
		return fmt.Errorf("missing position")
	}
	if pos.S < 0 {
		return fmt.Errorf("position s=%v is negative", pos.S)
	}
	switch mode {
	case "driving", "serve_bus":
		if _, ok := ids.drivingLaneIDs[pos.Lane]; !ok {
			return fmt.Errorf("lane %d is not a driving lane", pos.Lane)
		}
	case "bike":
		_, bike := ids.bikeLaneIDs[pos.Lane]
		_, driving := ids.drivingLaneIDs[pos.Lane]
		if !bike && !driving {
			return fmt.Errorf("lane %d is not a bike or driving lane", pos.Lane)
		}
	case "walking":
		if _, ok := ids.walkLaneIDs[pos.Lane]; !ok {
			return fmt.Errorf("lane %d is not a sidewalk", pos.Lane)
		}
	default:
		return fmt.Errorf("unknown trip mode %s", mode)
	}
	return nil
}

// checkPersonValid 检查人员数据有效性
// 功能：验证人员的位置、车辆与行程是否与地图一致
// 返回：数据无效时返回错误
func checkPersonValid(p *PersonData, ids mapIDs) error {
	if len(p.Trips) == 0 {
		return fmt.Errorf("no trips")
	}
	for i, trip := range p.Trips {
		if trip.Departure < 0 {
			return fmt.Errorf("trip %d: departure %v is negative", i, trip.Departure)
		}
		if trip.Mode == "serve_bus" {
			if _, ok := ids.routeIDs[trip.Route]; !ok {
				return fmt.Errorf("trip %d: transit route %d not found", i, trip.Route)
			}
			continue
		}
		if i == 0 && trip.Start == nil {
			if err := checkPositionValid(&p.Home, ids, trip.Mode); err != nil {
				return fmt.Errorf("home: %v", err)
			}
		}
		if trip.Start != nil {
			if err := checkPositionValid(trip.Start, ids, trip.Mode); err != nil {
				return fmt.Errorf("trip %d start: %v", i, err)
			}
		}
		if err := checkPositionValid(trip.End, ids, trip.Mode); err != nil {
			return fmt.Errorf("trip %d end: %v", i, err)
		}
	}
	if p.Vehicle != nil {
		switch p.Vehicle.Kind {
		case "car", "bike", "bus":
		default:
			return fmt.Errorf("unknown vehicle kind %s", p.Vehicle.Kind)
		}
	}
	return nil
}

// checkMapValid 检查地图数据结构有效性
// 功能：地图级的快速失败校验，发现结构性问题直接panic
// 算法说明：
// 1. 车道与转向共用ID空间，全部ID必须为正且全局唯一
// 2. 道路、路口、停车场、公交站、公交线路的ID各自唯一
// 3. 所有引用（车道→道路、转向→车道、信号阶段→转向等）必须可解析
// 4. 信号阶段时长必须为正，控制类型与信号配置必须匹配
// 说明：几何与连接性的深度校验由各实体管理器在初始化时完成
func checkMapValid(m *MapData) {
	laneIDs := make(map[int32]struct{})
	travIDs := make(map[int32]struct{})
	for _, l := range m.Lanes {
		if l.ID <= 0 {
			log.Panicf("lane id %d is not positive", l.ID)
		}
		if _, ok := travIDs[l.ID]; ok {
			log.Panicf("duplicated traversable id %d", l.ID)
		}
		travIDs[l.ID] = struct{}{}
		laneIDs[l.ID] = struct{}{}
		if len(l.Points) < 2 {
			log.Panicf("lane %d has %d points, at least 2 required", l.ID, len(l.Points))
		}
		switch l.Type {
		case "driving", "bike", "bus":
			if l.MaxSpeed <= 0 {
				log.Panicf("lane %d of type %s has non-positive max_speed", l.ID, l.Type)
			}
		case "parking", "sidewalk":
		default:
			log.Panicf("lane %d has unknown type %s", l.ID, l.Type)
		}
	}
	roadIDs := make(map[int32]struct{})
	for _, r := range m.Roads {
		if r.ID <= 0 {
			log.Panicf("road id %d is not positive", r.ID)
		}
		if _, ok := roadIDs[r.ID]; ok {
			log.Panicf("duplicated road id %d", r.ID)
		}
		roadIDs[r.ID] = struct{}{}
		if len(r.Lanes) == 0 {
			log.Panicf("road %d has no lanes", r.ID)
		}
		for _, id := range r.Lanes {
			if _, ok := laneIDs[id]; !ok {
				log.Panicf("road %d references unknown lane %d", r.ID, id)
			}
		}
	}
	for _, l := range m.Lanes {
		if _, ok := roadIDs[l.ParentRoad]; !ok {
			log.Panicf("lane %d references unknown parent road %d", l.ID, l.ParentRoad)
		}
		if l.SideDrivingLane != 0 {
			if _, ok := laneIDs[l.SideDrivingLane]; !ok {
				log.Panicf("lane %d references unknown side driving lane %d", l.ID, l.SideDrivingLane)
			}
		}
	}
	junctionIDs := make(map[int32]struct{})
	for _, j := range m.Junctions {
		if j.ID <= 0 {
			log.Panicf("junction id %d is not positive", j.ID)
		}
		if _, ok := junctionIDs[j.ID]; ok {
			log.Panicf("duplicated junction id %d", j.ID)
		}
		junctionIDs[j.ID] = struct{}{}
		turnIDs := make(map[int32]struct{})
		for _, t := range j.Turns {
			if t.ID <= 0 {
				log.Panicf("turn id %d is not positive", t.ID)
			}
			if _, ok := travIDs[t.ID]; ok {
				log.Panicf("duplicated traversable id %d", t.ID)
			}
			travIDs[t.ID] = struct{}{}
			turnIDs[t.ID] = struct{}{}
			if _, ok := laneIDs[t.SrcLane]; !ok {
				log.Panicf("turn %d references unknown src lane %d", t.ID, t.SrcLane)
			}
			if _, ok := laneIDs[t.DstLane]; !ok {
				log.Panicf("turn %d references unknown dst lane %d", t.ID, t.DstLane)
			}
		}
		switch j.Control {
		case "stop_sign":
			if j.Signal != nil {
				log.Panicf("junction %d is stop_sign but has signal config", j.ID)
			}
			for _, id := range j.MustStopRoads {
				if _, ok := roadIDs[id]; !ok {
					log.Panicf("junction %d must_stop references unknown road %d", j.ID, id)
				}
			}
		case "signal":
			if j.Signal == nil || len(j.Signal.Stages) == 0 {
				log.Panicf("junction %d is signal-controlled but has no stages", j.ID)
			}
			for k, stage := range j.Signal.Stages {
				if stage.Duration <= 0 {
					log.Panicf("junction %d stage %d has non-positive duration", j.ID, k)
				}
				for _, id := range append(append([]int32{}, stage.Protected...), stage.Yield...) {
					if _, ok := turnIDs[id]; !ok {
						log.Panicf("junction %d stage %d references unknown turn %d", j.ID, k, id)
					}
				}
			}
		default:
			log.Panicf("junction %d has unknown control %s", j.ID, j.Control)
		}
	}
	lotIDs := make(map[int32]struct{})
	for _, lot := range m.Lots {
		if lot.ID <= 0 {
			log.Panicf("parking lot id %d is not positive", lot.ID)
		}
		if _, ok := lotIDs[lot.ID]; ok {
			log.Panicf("duplicated parking lot id %d", lot.ID)
		}
		lotIDs[lot.ID] = struct{}{}
		if _, ok := laneIDs[lot.Lane]; !ok {
			log.Panicf("parking lot %d references unknown lane %d", lot.ID, lot.Lane)
		}
		if lot.Capacity <= 0 {
			log.Panicf("parking lot %d has non-positive capacity", lot.ID)
		}
	}
	stopIDs := make(map[int32]struct{})
	for _, s := range m.TransitStops {
		if s.ID <= 0 {
			log.Panicf("transit stop id %d is not positive", s.ID)
		}
		if _, ok := stopIDs[s.ID]; ok {
			log.Panicf("duplicated transit stop id %d", s.ID)
		}
		stopIDs[s.ID] = struct{}{}
		if _, ok := laneIDs[s.Lane]; !ok {
			log.Panicf("transit stop %d references unknown lane %d", s.ID, s.Lane)
		}
	}
	routeIDs := make(map[int32]struct{})
	for _, r := range m.TransitRoutes {
		if r.ID <= 0 {
			log.Panicf("transit route id %d is not positive", r.ID)
		}
		if _, ok := routeIDs[r.ID]; ok {
			log.Panicf("duplicated transit route id %d", r.ID)
		}
		routeIDs[r.ID] = struct{}{}
		if len(r.Stops) < 2 {
			log.Panicf("transit route %d has %d stops, at least 2 required", r.ID, len(r.Stops))
		}
		for _, id := range r.Stops {
			if _, ok := stopIDs[id]; !ok {
				log.Panicf("transit route %d references unknown stop %d", r.ID, id)
			}
		}
	}
}

// preCheckCache 预检查缓存目录
// 功能：验证输入缓存目录的有效性，决定是否启用缓存功能
// 参数：cacheDir-缓存目录路径
// 返回：true表示启用缓存，false表示禁用缓存
// 算法说明：
// 1. 检查缓存目录是否为空：空则禁用缓存
// 2. 检查目录是否存在：使用os.Stat检查路径状态
// 3. 验证是否为目录：确保路径指向的是目录而不是文件
// 4. 记录日志：根据检查结果输出相应的日志信息
// 说明：确保缓存功能的正确配置，避免因无效路径导致的错误
func preCheckCache(cacheDir string) bool {
	if cacheDir == "" {
		log.Info("disable input cache")
		return false
	} else {
		if stat, err := os.Stat(cacheDir); err == nil && stat.IsDir() {
			// 文件夹存在
			log.Infof("enable input cache at %s", cacheDir)
			return true
		} else {
			log.Errorf("disable input cache because invalid dir %s (not exist or file)", cacheDir)
			return false
		}
	}
}
