package task

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tsinghua-fib-lab/microsim-oss/entity/agent"
	"github.com/tsinghua-fib-lab/microsim-oss/entity/junction"
	"github.com/tsinghua-fib-lab/microsim-oss/entity/parking"
	"github.com/tsinghua-fib-lab/microsim-oss/entity/transit"
)

// Savestate 一次完整的仿真存档
// 功能：承载恢复一次仿真所需的全部演化状态
// 说明：路网等静态数据不入档，恢复时由同一份输入重建；
// 同一输入、同一存档恢复后的推进与原仿真逐字节一致
type Savestate struct {
	Job      string `json:"job"`
	Step     int32  `json:"step"`
	EventSeq int64  `json:"event_seq"`
	// 随机数源内部状态
	Rand []byte `json:"rand"`

	Junctions []*junction.Checkpoint `json:"junctions"`
	Parking   *parking.Checkpoint    `json:"parking"`
	Transit   *transit.Checkpoint    `json:"transit"`
	Agents    *agent.Checkpoint      `json:"agents"`
}

// buildSavestate 从当前状态构造存档
func (ctx *Context) buildSavestate() *Savestate {
	randState, err := ctx.rand.MarshalState()
	if err != nil {
		log.Panicf("failed to marshal random engine state: %v", err)
	}
	return &Savestate{
		Job:       ctx.job,
		Step:      ctx.clock.InternalStep,
		EventSeq:  ctx.events.Seq(),
		Rand:      randState,
		Junctions: ctx.junctionManager.Checkpoints(),
		Parking:   ctx.parkingManager.Checkpoint(),
		Transit:   ctx.transitManager.Checkpoint(),
		Agents:    ctx.agentManager.Checkpoint(),
	}
}

// savestateName 存档文件名，步数固定宽度便于字典序排序
func savestateName(job string, step int32) string {
	return fmt.Sprintf("%s-%09d.json", job, step)
}

// writeSavestate 把当前状态写入存档目录
// 说明：先冲刷事件流，保证落盘事件覆盖到存档时刻
func (ctx *Context) writeSavestate() {
	ctx.events.flush()
	dir := ctx.runtimeConfig.All.Output.Savestate.Dir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Fatalf("failed to create savestate dir %s: %v", dir, err)
	}
	st := ctx.buildSavestate()
	data, err := json.Marshal(st)
	if err != nil {
		log.Panicf("failed to marshal savestate: %v", err)
	}
	path := filepath.Join(dir, savestateName(ctx.job, st.Step))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Fatalf("failed to write savestate %s: %v", path, err)
	}
	log.Infof("savestate written to %s", path)
}

// latestSavestate 目录中该任务最新的存档文件
// 返回：文件路径与是否找到
func latestSavestate(dir, job string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	prefix := job + "-"
	best, bestStep := "", int64(-1)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		step, err := strconv.ParseInt(strings.TrimSuffix(name[len(prefix):], ".json"), 10, 32)
		if err != nil {
			continue
		}
		if step > bestStep {
			bestStep = step
			best = filepath.Join(dir, name)
		}
	}
	return best, bestStep >= 0
}

// restoreSavestate 从存档文件恢复仿真状态
// 算法说明：按停车场→公交→路口→主体的顺序恢复，保证主体引用的
// 车位与候车状态先行就绪；任何一步校验失败都直接返回错误，
// 调用方决定终止还是重新初始化
func (ctx *Context) restoreSavestate(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read savestate: %w", err)
	}
	st := &Savestate{}
	if err := json.Unmarshal(data, st); err != nil {
		return fmt.Errorf("decode savestate %s: %w", path, err)
	}
	if st.Job != ctx.job {
		return fmt.Errorf("savestate %s belongs to job %q, current job is %q", path, st.Job, ctx.job)
	}
	ctx.clock.SetStep(st.Step)
	if err := ctx.rand.UnmarshalState(st.Rand); err != nil {
		return fmt.Errorf("restore random engine: %w", err)
	}
	if err := ctx.parkingManager.RestoreCheckpoint(st.Parking); err != nil {
		return fmt.Errorf("restore parking: %w", err)
	}
	if err := ctx.transitManager.RestoreCheckpoint(st.Transit); err != nil {
		return fmt.Errorf("restore transit: %w", err)
	}
	if err := ctx.junctionManager.RestoreCheckpoints(st.Junctions); err != nil {
		return fmt.Errorf("restore junctions: %w", err)
	}
	if err := ctx.agentManager.RestoreCheckpoint(st.Agents); err != nil {
		return fmt.Errorf("restore agents: %w", err)
	}
	ctx.events.SetSeq(st.EventSeq)
	return nil
}
