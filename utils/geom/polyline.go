package geom

import (
	"fmt"
	"math"
	"sort"

	"git.fiblab.net/general/common/v2/geometry"
)

// PolyLine 折线
// 功能：包装中心线点列，预计算累计长度与分段方向，
// 提供s坐标与xy坐标之间的互相转换
// 说明：构造后不可变，被车道、路口转向等静态实体共享
type PolyLine struct {
	points     []geometry.Point             // 折线点列
	lengths    []float64                    // 每个点的累计长度
	directions []geometry.PolylineDirection // 每一段的方向（atan2）
	length     Distance                     // 总长度
}

// NewPolyLine 构造折线
// 参数：points-折线点列（至少两个点）
// 返回：折线对象与校验错误
// 算法说明：
// 1. 校验点数与相邻点重合（相邻点距离小于EpsilonDistance视为损坏数据）
// 2. 预计算累计长度与分段方向
func NewPolyLine(points []geometry.Point) (*PolyLine, error) {
	if len(points) < 2 {
		return nil, fmt.Errorf("polyline needs at least 2 points, got %d", len(points))
	}
	for i := 1; i < len(points); i++ {
		if EuclideanDistance(points[i-1], points[i]) < EpsilonDistance {
			return nil, fmt.Errorf("polyline has duplicate adjacent points at %d: %+v", i, points[i])
		}
	}
	lengths := geometry.GetPolylineLengths2D(points)
	return &PolyLine{
		points:     points,
		lengths:    lengths,
		directions: geometry.GetPolylineDirections(points),
		length:     NewDistance(lengths[len(lengths)-1]),
	}, nil
}

// Points 获取折线点列
func (pl *PolyLine) Points() []geometry.Point {
	return pl.points
}

// Length 获取折线总长度
func (pl *PolyLine) Length() Distance {
	return pl.length
}

// FirstPoint 获取折线起点
func (pl *PolyLine) FirstPoint() geometry.Point {
	return pl.points[0]
}

// LastPoint 获取折线终点
func (pl *PolyLine) LastPoint() geometry.Point {
	return pl.points[len(pl.points)-1]
}

// GetPositionByS 将s坐标转换为xy(z)坐标
// 算法说明：二分查找所在分段后线性插值，s越界时截断到折线范围
func (pl *PolyLine) GetPositionByS(s float64) geometry.Point {
	if s < pl.lengths[0] {
		s = pl.lengths[0]
	} else if s > pl.lengths[len(pl.lengths)-1] {
		s = pl.lengths[len(pl.lengths)-1]
	}
	i := sort.SearchFloat64s(pl.lengths, s)
	if i == 0 {
		return pl.points[0]
	}
	sHigh, sLow := pl.lengths[i], pl.lengths[i-1]
	k := (s - sLow) / (sHigh - sLow)
	return geometry.Blend(pl.points[i-1], pl.points[i], k)
}

// GetDirectionByS 根据s坐标计算切向角度
func (pl *PolyLine) GetDirectionByS(s float64) geometry.PolylineDirection {
	if s < pl.lengths[0] {
		s = pl.lengths[0]
	} else if s > pl.lengths[len(pl.lengths)-1] {
		s = pl.lengths[len(pl.lengths)-1]
	}
	if i := sort.SearchFloat64s(pl.lengths, s); i > 0 {
		return pl.directions[i-1]
	}
	return pl.directions[0]
}

// ProjectToLine 将xy坐标投影到折线上
// 返回：折线范围内的s坐标
func (pl *PolyLine) ProjectToLine(pos geometry.Point) float64 {
	s := geometry.GetClosestPolylineSToPoint2D(pl.points, pl.lengths, pos)
	if s < 0 {
		return 0
	}
	if max := float64(pl.length); s > max {
		return max
	}
	return s
}

// Intersects 判断两条折线是否相交
// 功能：逐段做2D线段相交检测，用于路口转向冲突集的预计算
func (pl *PolyLine) Intersects(other *PolyLine) bool {
	for i := 1; i < len(pl.points); i++ {
		for j := 1; j < len(other.points); j++ {
			if segmentsIntersect(
				pl.points[i-1], pl.points[i],
				other.points[j-1], other.points[j],
			) {
				return true
			}
		}
	}
	return false
}

// EuclideanDistance 两点间的2D欧氏距离
func EuclideanDistance(a, b geometry.Point) Distance {
	return Distance(math.Hypot(a.X-b.X, a.Y-b.Y))
}

// cross 向量叉积 (b-a)×(c-a)
func cross(a, b, c geometry.Point) float64 {
	return (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
}

// onSegment 共线前提下判断c是否落在线段ab上
func onSegment(a, b, c geometry.Point) bool {
	return math.Min(a.X, b.X) <= c.X && c.X <= math.Max(a.X, b.X) &&
		math.Min(a.Y, b.Y) <= c.Y && c.Y <= math.Max(a.Y, b.Y)
}

// segmentsIntersect 判断线段p1p2与p3p4是否相交
// 算法说明：方向叉积符号判定，含共线重叠与端点接触的情形
func segmentsIntersect(p1, p2, p3, p4 geometry.Point) bool {
	d1 := cross(p3, p4, p1)
	d2 := cross(p3, p4, p2)
	d3 := cross(p1, p2, p3)
	d4 := cross(p1, p2, p4)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	if d1 == 0 && onSegment(p3, p4, p1) {
		return true
	}
	if d2 == 0 && onSegment(p3, p4, p2) {
		return true
	}
	if d3 == 0 && onSegment(p1, p2, p3) {
		return true
	}
	if d4 == 0 && onSegment(p1, p2, p4) {
		return true
	}
	return false
}
