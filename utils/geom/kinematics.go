package geom

import (
	"log"
	"math"
)

// 车辆运动学常量与通过时长求解

const (
	// FollowingDistance 安全跟车间距（米），前车尾部与后车头部之间的最小空隙
	FollowingDistance = Distance(1.0)

	// 小汽车属性采样范围
	MinCarLength = Distance(4.5)
	MaxCarLength = Distance(6.5)
	MinCarAccel  = Acceleration(2.4)
	MaxCarAccel  = Acceleration(2.8)
	MinCarBrake  = Acceleration(2.4) // 制动減速度取正值
	MaxCarBrake  = Acceleration(2.8)

	// 自行车属性采样范围
	MinBikeLength = Distance(1.7)
	MaxBikeLength = Distance(2.0)
	MinBikeSpeed  = Speed(3.13)
	MaxBikeSpeed  = Speed(4.47)
	MinBikeAccel  = Acceleration(0.2)
	MaxBikeAccel  = Acceleration(0.3)
	MinBikeBrake  = Acceleration(1.2)
	MaxBikeBrake  = Acceleration(1.3)

	// 公交车属性
	BusLength = Distance(12.5)

	// PedestrianSpeed 行人步行速度（米/秒）
	PedestrianSpeed = Speed(1.4)
)

// SolveCrossing 计算从起步速度出发通过给定距离所需的时间
// 功能：从v0以恒定加速度a提速到vmax后匀速走完剩余距离
// 参数：dist-通过距离，v0-起步速度，vmax-本段限速（必须为正），a-最大加速度
// 返回：通过时长与到达终点时的速度
// 算法说明：
//  1. v0已达限速时全程匀速（不建模减速回落）；
//  2. 加速段长度d1=(vmax²-v0²)/2a覆盖全程时，末速度v=√(v0²+2a·dist)，
//     时长t=(v-v0)/a，否则t=(vmax-v0)/a+(dist-d1)/vmax
func SolveCrossing(dist Distance, v0, vmax Speed, a Acceleration) (Duration, Speed) {
	if vmax <= 0 {
		log.Panicf("geom: solve crossing with non-positive speed limit %v", vmax)
	}
	if dist <= 0 {
		return 0, v0
	}
	if v0 >= vmax || a <= 0 {
		return dist.DivV(vmax), vmax
	}
	d1 := Distance((float64(vmax)*float64(vmax) - float64(v0)*float64(v0)) / (2 * float64(a)))
	if d1 >= dist {
		endV := Speed(math.Sqrt(float64(v0)*float64(v0) + 2*float64(a)*float64(dist)))
		return Duration((float64(endV) - float64(v0)) / float64(a)), endV
	}
	t1 := Duration((float64(vmax) - float64(v0)) / float64(a))
	return t1 + (dist - d1).DivV(vmax), vmax
}
