package junction

import (
	"flag"

	"github.com/tsinghua-fib-lab/microsim-oss/entity"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/geom"
)

var (
	stopWaitTime = flag.Float64("ss.stop_wait_time", 1.5, "停车让行进入路口前的最短停稳等待时间（秒）")
)

// 请求优先级类别，数值大者优先
const (
	classStop        = 0 // 停车让行：须停稳并等待
	classRollthrough = 1 // 直接通行：无冲突即可进入
)

// stopSign 停车让行控制器
// 功能：按道路优先级与到达顺序裁决路口通行
// 说明：标记为必停的道路来车须停稳等待后方可请求进入；未标记的
// 道路来车与行人可直接通行；同级冲突请求按到达先后裁决（先到先过），
// 低级请求让行于任何在等的高级冲突请求
type stopSign struct {
	j    *Junction
	wait *waitTable
}

func newStopSign(j *Junction) *stopSign {
	return &stopSign{j: j, wait: newWaitTable()}
}

// requestClass 请求的优先级类别
// 说明：步行转向不受必停标记影响，始终为直接通行类
func requestClass(w *waitEntry) int {
	if w.turn.typ.IsWalk() {
		return classRollthrough
	}
	road := w.turn.srcLane.ParentRoad()
	if road != nil && road.MustStop() {
		return classStop
	}
	return classRollthrough
}

// canProceed 裁决一条通行请求
// 算法说明：
//  1. 登记到达事实（首次请求分配到达序号、记录停稳时刻）；
//  2. 与既有授权冲突时不授权；
//  3. 必停类请求须已停稳且停稳时间达到阈值；
//  4. 存在更高优先级的在等冲突请求时让行；
//  5. 同级在等冲突请求中存在更早到达者时让行；
//  6. 授权通过后移出等待表
func (s *stopSign) canProceed(req entity.TurnRequest, now geom.Time, blockedByAccepted bool) bool {
	w := s.wait.observe(s.j.turnsByID[req.Turn.ID()], req, now)
	if blockedByAccepted {
		return false
	}
	myClass := requestClass(w)
	if myClass == classStop {
		if !w.stopped || now.Sub(w.stoppedAt).Seconds() < *stopWaitTime {
			return false
		}
	}
	for _, o := range s.wait.entries {
		if o.agentID == w.agentID || !w.turn.ConflictsWith(o.turn.id) {
			continue
		}
		oClass := requestClass(o)
		if oClass > myClass {
			return false
		}
		if oClass == myClass && o.seq < w.seq {
			return false
		}
	}
	s.wait.remove(w.agentID)
	return true
}

func (s *stopSign) cancel(agentID int32) {
	s.wait.remove(agentID)
}

func (s *stopSign) prepare() {}

func (s *stopSign) update(dt geom.Duration) {}

func (s *stopSign) stage() (int, geom.Duration, bool) {
	return 0, 0, false
}

func (s *stopSign) checkpoint(chk *Checkpoint) {
	s.wait.checkpoint(chk)
}

func (s *stopSign) restore(chk *Checkpoint) {
	s.wait.restore(s.j, chk)
}

func (s *stopSign) reset() {
	s.wait = newWaitTable()
}
