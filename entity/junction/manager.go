package junction

import (
	"fmt"
	"sort"

	"git.fiblab.net/general/common/v2/parallel"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/microsim-oss/entity"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/geom"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/input"
)

// JunctionManager Junction管理器
// 功能：管理所有Junction实体与全局转向索引，提供创建、查找、推进等功能
type JunctionManager struct {
	ctx entity.ITaskContext

	data      map[int32]*Junction
	junctions []*Junction // 按ID升序
	turns     map[int32]*Turn
}

// NewManager 创建Junction管理器实例
// 功能：初始化Junction管理器，创建内部数据结构
// 参数：ctx-任务上下文
// 返回：新创建的Junction管理器实例
func NewManager(ctx entity.ITaskContext) *JunctionManager {
	return &JunctionManager{
		ctx:       ctx,
		data:      make(map[int32]*Junction),
		junctions: make([]*Junction, 0),
		turns:     make(map[int32]*Turn),
	}
}

// Init 初始化所有Junction及其控制器
// 功能：根据输入数据初始化所有Junction对象，建立全局转向索引，
// 并把转向注册到两端车道、把必停标记落到对应道路
// 参数：data-Junction的输入数据列表，laneManager-车道管理器，roadManager-道路管理器
// 说明：路口创建相互独立，并行处理；转向注册会修改共享的车道与
// 道路状态，按路口ID升序、转向ID升序串行执行
func (m *JunctionManager) Init(data []*input.JunctionData, laneManager entity.ILaneManager, roadManager entity.IRoadManager) {
	m.junctions = parallel.GoMap(data, func(base *input.JunctionData) *Junction {
		return newJunction(m.ctx, base, laneManager)
	})
	sort.Slice(m.junctions, func(i, j int) bool { return m.junctions[i].id < m.junctions[j].id })
	m.data = lo.SliceToMap(m.junctions, func(j *Junction) (int32, *Junction) {
		return j.id, j
	})
	turnCount := 0
	for _, j := range m.junctions {
		for _, it := range j.turns {
			t := j.turnsByID[it.ID()]
			m.turns[t.id] = t
			t.srcLane.AddTurnWhenInit(t)
			t.dstLane.AddTurnWhenInit(t)
			turnCount++
		}
		for _, roadID := range j.mustStopRoadIDs {
			roadManager.Get(roadID).SetMustStopWhenInit()
		}
	}
	log.Debugf("junction: %d junctions with %d turns loaded", len(m.junctions), turnCount)
}

// Get 根据ID获取Junction实例
// 功能：通过Junction ID查找对应的Junction对象，如果不存在则panic
// 参数：id-Junction的唯一标识符
// 返回：对应的Junction实例，如果不存在则panic
func (m *JunctionManager) Get(id int32) entity.IJunction {
	if junction, ok := m.data[id]; !ok {
		log.Panicf("no id %d in junction data", id)
		return nil
	} else {
		return junction
	}
}

// GetOrError 根据ID获取Junction实例（带错误处理）
// 功能：通过Junction ID查找对应的Junction对象，如果不存在则返回错误
// 参数：id-Junction的唯一标识符
// 返回：Junction实例和错误信息，如果不存在则返回nil和错误
func (m *JunctionManager) GetOrError(id int32) (entity.IJunction, error) {
	if junction, ok := m.data[id]; !ok {
		return nil, fmt.Errorf("no id %d in junction data", id)
	} else {
		return junction, nil
	}
}

// GetTurn 根据ID获取Turn实例
// 功能：通过Turn ID在全局索引中查找对应的Turn对象，如果不存在则panic
// 参数：id-Turn的唯一标识符
// 返回：对应的Turn实例，如果不存在则panic
func (m *JunctionManager) GetTurn(id int32) entity.ITurn {
	if turn, ok := m.turns[id]; !ok {
		log.Panicf("no id %d in turn data", id)
		return nil
	} else {
		return turn
	}
}

// GetTurnOrError 根据ID获取Turn实例（带错误处理）
// 功能：通过Turn ID在全局索引中查找对应的Turn对象，如果不存在则返回错误
// 参数：id-Turn的唯一标识符
// 返回：Turn实例和错误信息，如果不存在则返回nil和错误
func (m *JunctionManager) GetTurnOrError(id int32) (entity.ITurn, error) {
	if turn, ok := m.turns[id]; !ok {
		return nil, fmt.Errorf("no id %d in turn data", id)
	} else {
		return turn, nil
	}
}

// Junctions 全部路口（按ID升序）
func (m *JunctionManager) Junctions() []entity.IJunction {
	return lo.Map(m.junctions, func(j *Junction, _ int) entity.IJunction { return j })
}

// Prepare 准备阶段，处理所有Junction的准备工作
// 功能：对所有Junction执行准备阶段，提交缓冲的信号灯配时修改
// 说明：使用并行处理提高性能
func (m *JunctionManager) Prepare() {
	parallel.GoFor(m.junctions, func(j *Junction) { j.prepare() })
}

// Update 更新阶段，执行所有Junction的模拟逻辑
// 功能：对所有Junction执行更新阶段，推进信号灯配时
// 参数：dt-时间步长
// 说明：使用并行处理提高性能；自适应信控读取的主体统计来自
// 上一拍快照，与路口间的处理顺序无关
func (m *JunctionManager) Update(dt geom.Duration) {
	parallel.GoFor(m.junctions, func(j *Junction) { j.update(dt) })
}

// Checkpoints 导出全部路口的可变状态（按ID升序）
func (m *JunctionManager) Checkpoints() []*Checkpoint {
	return lo.Map(m.junctions, func(j *Junction, _ int) *Checkpoint { return j.Checkpoint() })
}

// RestoreCheckpoints 从存档恢复全部路口的可变状态
// 功能：存档中缺失的路口重置为初始状态，引用未知路口时返回错误
func (m *JunctionManager) RestoreCheckpoints(chks []*Checkpoint) error {
	byID := make(map[int32]*Checkpoint)
	for _, chk := range chks {
		if _, ok := m.data[chk.ID]; !ok {
			return fmt.Errorf("savestate references unknown junction %d", chk.ID)
		}
		byID[chk.ID] = chk
	}
	for _, j := range m.junctions {
		j.Restore(byID[j.id])
	}
	return nil
}
