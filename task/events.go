package task

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"

	"github.com/tsinghua-fib-lab/microsim-oss/clock"
	"github.com/tsinghua-fib-lab/microsim-oss/entity"
)

// eventWriter JSONL事件输出
// 功能：接收各实体产生的仿真事件，补齐时序字段后逐行写出
// 说明：Seq为全局因果序号，由本写出端统一分配；Step/T取自时钟，
// 各实体只负责业务字段；输出路径为空时只计数不落盘
type eventWriter struct {
	clk  *clock.Clock
	path string

	mtx sync.Mutex
	f   *os.File
	w   *bufio.Writer
	seq int64
}

func newEventWriter(clk *clock.Clock, path string) *eventWriter {
	return &eventWriter{clk: clk, path: path}
}

// open 打开输出文件
// 参数：resume-续跑时追加写入，否则清空重写
func (s *eventWriter) open(resume bool) {
	if s.path == "" {
		return
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if resume {
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}
	f, err := os.OpenFile(s.path, flags, 0o644)
	if err != nil {
		log.Fatalf("failed to open event output %s: %v", s.path, err)
	}
	s.f = f
	s.w = bufio.NewWriter(f)
}

// Emit 接收一条事件并写出
func (s *eventWriter) Emit(e entity.Event) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	e.Seq = s.seq
	s.seq++
	e.Step = s.clk.InternalStep
	e.T = s.clk.T
	if s.w == nil {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		log.Panicf("failed to marshal event: %v", err)
	}
	s.w.Write(data)
	s.w.WriteByte('\n')
}

// Seq 已分配的事件序号个数
func (s *eventWriter) Seq() int64 {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.seq
}

// SetSeq 存档恢复时对齐事件序号
func (s *eventWriter) SetSeq(seq int64) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.seq = seq
}

func (s *eventWriter) flush() {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.w != nil {
		s.w.Flush()
	}
}

func (s *eventWriter) close() {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.w != nil {
		s.w.Flush()
		s.f.Close()
		s.w = nil
		s.f = nil
	}
}
