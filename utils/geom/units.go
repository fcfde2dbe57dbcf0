// 单位运算内核，提供带校验的定点精度物理量类型
// 说明：所有构造函数将输入舍入到1/10000并拒绝非有限值，
// 保证跨平台下的数值可复现性
package geom

import (
	"fmt"
	"log"
	"math"
)

const (
	// 定点精度：所有单位量舍入到1/10000
	trimScale = 1e4
	// EpsilonDistance 距离精度下限（米），小于该值的距离视为重合
	EpsilonDistance = Distance(0.01)
	// EpsilonSpeed 速度精度下限（米/秒），小于该值的速度视为静止
	EpsilonSpeed = Speed(1e-8)
)

// trim 将浮点数舍入到定点精度
// 功能：非有限值直接panic，否则舍入到1/10000
// 说明：单位量只能通过构造函数产生，保证所有输入数据进入仿真前已定点化
func trim(v float64, unit string) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		log.Panicf("geom: non-finite %s value %v", unit, v)
	}
	return math.Round(v*trimScale) / trimScale
}

// Distance 距离（米）
type Distance float64

// NewDistance 构造距离
// 参数：meters-距离（米）
// 返回：定点化的距离值
func NewDistance(meters float64) Distance {
	return Distance(trim(meters, "distance"))
}

// Meters 获取距离的米数
func (d Distance) Meters() float64 {
	return float64(d)
}

// Abs 获取距离绝对值
func (d Distance) Abs() Distance {
	if d < 0 {
		return -d
	}
	return d
}

// DivV 距离除以速度得到通过时间
// 参数：v-速度（米/秒）
// 返回：通过时间（秒）
// 说明：速度必须为正，否则panic（调用方需保证已做静止判断）
func (d Distance) DivV(v Speed) Duration {
	if v <= 0 {
		log.Panicf("geom: %v / %v: non-positive speed", d, v)
	}
	return Duration(float64(d) / float64(v))
}

// DivT 距离除以时间得到平均速度
func (d Distance) DivT(t Duration) Speed {
	if t <= 0 {
		log.Panicf("geom: %v / %v: non-positive duration", d, t)
	}
	return Speed(float64(d) / float64(t))
}

func (d Distance) String() string {
	return fmt.Sprintf("%.4fm", float64(d))
}

// Speed 速度（米/秒）
type Speed float64

// NewSpeed 构造速度
func NewSpeed(mps float64) Speed {
	return Speed(trim(mps, "speed"))
}

// MPS 获取速度的米/秒数值
func (v Speed) MPS() float64 {
	return float64(v)
}

// MulT 速度乘以时间得到距离
func (v Speed) MulT(t Duration) Distance {
	return Distance(float64(v) * float64(t))
}

// IsZero 判断速度在一个步长内是否等效于静止
// 功能：速度乘以步长所得位移小于距离精度下限时视为静止
// 参数：dt-步长（秒）
func (v Speed) IsZero(dt Duration) bool {
	return v.MulT(dt) <= EpsilonDistance
}

func (v Speed) String() string {
	return fmt.Sprintf("%.4fm/s", float64(v))
}

// Acceleration 加速度（米/秒²）
type Acceleration float64

// NewAcceleration 构造加速度
func NewAcceleration(mps2 float64) Acceleration {
	return Acceleration(trim(mps2, "acceleration"))
}

// MulT 加速度乘以时间得到速度增量
func (a Acceleration) MulT(t Duration) Speed {
	return Speed(float64(a) * float64(t))
}

func (a Acceleration) String() string {
	return fmt.Sprintf("%.4fm/s²", float64(a))
}

// Duration 时间间隔（秒）
type Duration float64

// NewDuration 构造时间间隔
func NewDuration(seconds float64) Duration {
	return Duration(trim(seconds, "duration"))
}

// Seconds 获取时间间隔的秒数
func (t Duration) Seconds() float64 {
	return float64(t)
}

func (t Duration) String() string {
	return fmt.Sprintf("%.1fs", float64(t))
}

// Time 仿真时刻（自仿真起点的秒数）
type Time float64

// NewTime 构造时刻
func NewTime(seconds float64) Time {
	return Time(trim(seconds, "time"))
}

// Seconds 获取时刻的秒数
func (t Time) Seconds() float64 {
	return float64(t)
}

// Add 时刻加上间隔得到新时刻
func (t Time) Add(d Duration) Time {
	return Time(float64(t) + float64(d))
}

// Sub 两时刻之差
// 说明：被减时刻不能晚于当前时刻，时间在仿真中只会前进
func (t Time) Sub(o Time) Duration {
	if o > t {
		log.Panicf("geom: %v - %v: time goes backwards", t, o)
	}
	return Duration(float64(t) - float64(o))
}

// String 格式化为时钟字符串（HH:MM:SS.S）
func (t Time) String() string {
	v := float64(t)
	h := int(v / 3600)
	v -= float64(h * 3600)
	m := int(v / 60)
	v -= float64(m * 60)
	return fmt.Sprintf("%02d:%02d:%04.1f", h, m, v)
}

// TimeInterval 时刻区间[Start, End]
// 说明：用于描述跨越一段路程或执行一个固定时长动作的起止时刻
type TimeInterval struct {
	Start Time `json:"start"`
	End   Time `json:"end"`
}

// NewTimeInterval 构造时刻区间
// 说明：终点早于起点为编程错误，直接panic
func NewTimeInterval(start, end Time) TimeInterval {
	if end < start {
		log.Panicf("geom: time interval [%v, %v] ends before it starts", start, end)
	}
	return TimeInterval{Start: start, End: end}
}

// Duration 获取区间时长
func (i TimeInterval) Duration() Duration {
	return Duration(float64(i.End) - float64(i.Start))
}

// Percent 计算时刻在区间内的进度比例
// 返回：[0,1]内的比例，区间外取边界值
func (i TimeInterval) Percent(t Time) float64 {
	if i.End == i.Start {
		return 1
	}
	p := float64(t-i.Start) / float64(i.End-i.Start)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// DistanceInterval 距离区间[Start, End]
type DistanceInterval struct {
	Start Distance `json:"start"`
	End   Distance `json:"end"`
}

// NewDistanceInterval 构造距离区间
func NewDistanceInterval(start, end Distance) DistanceInterval {
	if end < start {
		log.Panicf("geom: distance interval [%v, %v] ends before it starts", start, end)
	}
	return DistanceInterval{Start: start, End: end}
}

// Length 获取区间长度
func (i DistanceInterval) Length() Distance {
	return i.End - i.Start
}

// Lerp 按比例在区间内插值
func (i DistanceInterval) Lerp(p float64) Distance {
	if p < 0 || p > 1 {
		log.Panicf("geom: lerp percent %v out of [0, 1]", p)
	}
	return i.Start + Distance(p)*(i.End-i.Start)
}
