package clock

import (
	"github.com/tsinghua-fib-lab/microsim-oss/utils/config"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/geom"
)

// Clock 仿真时钟管理器
// 功能：管理仿真系统的时间推进
// 说明：维护当前仿真时刻与步数，时间只由步数与步长推导，
// 与真实墙上时钟完全无关，保证复跑结果一致
type Clock struct {
	DT         geom.Duration // 每个模拟步时间间隔（秒）
	START_STEP int32         // 起始步
	END_STEP   int32         // 结束步，模拟区间[START, END)

	T            geom.Time // 当前时刻（秒）
	InternalStep int32     // 当前步数
}

// New 根据配置创建新的时钟实例
// 功能：根据全局配置初始化时钟信息
// 参数：stepConfig-控制步配置，包含时间间隔、起止步数
// 返回：初始化完成的时钟实例
func New(stepConfig config.ControlStep) *Clock {
	c := &Clock{
		DT:         geom.NewDuration(stepConfig.Interval),
		START_STEP: stepConfig.Start,
		END_STEP:   stepConfig.Start + stepConfig.Total,
	}
	c.Init()
	return c
}

// Init 初始化时钟状态
// 功能：重置步数为起始步，重新计算当前时刻
func (c *Clock) Init() {
	c.InternalStep = c.START_STEP
	c.T = geom.Time(float64(c.InternalStep) * c.DT.Seconds())
}

// Tick 推进一个模拟步
// 功能：步数加一并由步数推导当前时刻
// 说明：时刻由步数乘以步长推导而不是累加，避免浮点误差积累
func (c *Clock) Tick() {
	c.InternalStep++
	c.T = geom.Time(float64(c.InternalStep) * c.DT.Seconds())
}

// SetStep 将时钟跳转到指定步数
// 功能：存档恢复时将时钟状态对齐到存档时刻
// 参数：step-目标步数
func (c *Clock) SetStep(step int32) {
	c.InternalStep = step
	c.T = geom.Time(float64(c.InternalStep) * c.DT.Seconds())
}

// String 获取时钟的字符串表示
// 返回：格式化的时刻字符串（HH:MM:SS.S）
func (c *Clock) String() string {
	return c.T.String()
}

// GetHourMinuteSecond 获取当前时刻的小时、分钟、秒
// 返回：小时、分钟、秒（秒为浮点数，支持亚秒级精度）
func (c *Clock) GetHourMinuteSecond() (int, int, float64) {
	t := c.T.Seconds()
	hour := int(t) / 3600
	minute := int(t) % 3600 / 60
	second := t - float64(hour*3600+minute*60)
	return hour, minute, second
}

// StepsUntil 计算到指定时长结束还需要的步数
// 参数：d-时长
// 返回：步数（向上取整）
func (c *Clock) StepsUntil(d geom.Duration) int32 {
	n := d.Seconds() / c.DT.Seconds()
	steps := int32(n)
	if float64(steps) < n {
		steps++
	}
	return steps
}
