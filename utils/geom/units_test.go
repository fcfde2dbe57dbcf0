package geom_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/geom"
)

func TestTrimToFixedPrecision(t *testing.T) {
	assert.Equal(t, 1.2346, geom.NewDistance(1.23456789).Meters())
	assert.Equal(t, -1.2346, geom.NewDistance(-1.23456789).Meters())
	assert.Equal(t, 0.0, geom.NewSpeed(0.00004).MPS())
	assert.Equal(t, 0.0001, geom.NewSpeed(0.00006).MPS())
}

func TestNonFinitePanics(t *testing.T) {
	assert.Panics(t, func() { geom.NewDistance(math.NaN()) })
	assert.Panics(t, func() { geom.NewSpeed(math.Inf(1)) })
	assert.Panics(t, func() { geom.NewDuration(math.Inf(-1)) })
	assert.Panics(t, func() { geom.NewAcceleration(math.NaN()) })
}

func TestUnitArithmetic(t *testing.T) {
	v := geom.NewSpeed(10)
	dt := geom.NewDuration(0.1)
	assert.Equal(t, geom.Distance(1), v.MulT(dt))
	assert.Equal(t, geom.Duration(2), geom.NewDistance(20).DivV(v))
	assert.Equal(t, geom.Speed(5), geom.NewDistance(10).DivT(geom.NewDuration(2)))
	assert.Equal(t, geom.Speed(0.5), geom.NewAcceleration(5).MulT(dt))

	assert.Panics(t, func() { geom.NewDistance(1).DivV(0) })
	assert.Panics(t, func() { geom.NewDistance(1).DivT(0) })
}

func TestSpeedIsZero(t *testing.T) {
	dt := geom.NewDuration(0.1)
	// 0.05m/s * 0.1s = 0.005m < 0.01m
	assert.True(t, geom.NewSpeed(0.05).IsZero(dt))
	assert.False(t, geom.NewSpeed(0.2).IsZero(dt))
}

func TestTime(t *testing.T) {
	t0 := geom.NewTime(30)
	t1 := t0.Add(geom.NewDuration(45.5))
	assert.Equal(t, geom.Time(75.5), t1)
	assert.Equal(t, geom.Duration(45.5), t1.Sub(t0))
	assert.Panics(t, func() { t0.Sub(t1) })
	assert.Equal(t, "01:01:05.5", geom.NewTime(3665.5).String())
}

func TestTimeInterval(t *testing.T) {
	i := geom.NewTimeInterval(geom.NewTime(10), geom.NewTime(20))
	assert.Equal(t, geom.Duration(10), i.Duration())
	assert.Equal(t, 0.0, i.Percent(geom.NewTime(5)))
	assert.Equal(t, 0.5, i.Percent(geom.NewTime(15)))
	assert.Equal(t, 1.0, i.Percent(geom.NewTime(25)))
	assert.Panics(t, func() { geom.NewTimeInterval(geom.NewTime(20), geom.NewTime(10)) })

	// 零长区间视为已完成
	z := geom.NewTimeInterval(geom.NewTime(10), geom.NewTime(10))
	assert.Equal(t, 1.0, z.Percent(geom.NewTime(10)))
}

func TestDistanceInterval(t *testing.T) {
	i := geom.NewDistanceInterval(geom.NewDistance(5), geom.NewDistance(25))
	assert.Equal(t, geom.Distance(20), i.Length())
	assert.Equal(t, geom.Distance(5), i.Lerp(0))
	assert.Equal(t, geom.Distance(15), i.Lerp(0.5))
	assert.Equal(t, geom.Distance(25), i.Lerp(1))
	assert.Panics(t, func() { i.Lerp(1.1) })
}

func TestSolveCrossing(t *testing.T) {
	// 全程加速：d1=(20²-0)/2/2=100m ≥ 50m → v=√(2·2·50)≈14.142, t=v/a
	d, v := geom.SolveCrossing(geom.NewDistance(50), 0, geom.NewSpeed(20), geom.NewAcceleration(2))
	assert.InDelta(t, 14.142135, v.MPS(), 1e-5)
	assert.InDelta(t, 7.071068, d.Seconds(), 1e-5)

	// 加速后匀速：d1=100m，剩余100m按20m/s → t=10+5
	d, v = geom.SolveCrossing(geom.NewDistance(200), 0, geom.NewSpeed(20), geom.NewAcceleration(2))
	assert.Equal(t, geom.Speed(20), v)
	assert.InDelta(t, 15.0, d.Seconds(), 1e-9)

	// 已达限速：全程匀速
	d, v = geom.SolveCrossing(geom.NewDistance(40), geom.NewSpeed(20), geom.NewSpeed(20), geom.NewAcceleration(2))
	assert.Equal(t, geom.Speed(20), v)
	assert.InDelta(t, 2.0, d.Seconds(), 1e-9)

	// 零距离立即完成
	d, v = geom.SolveCrossing(0, geom.NewSpeed(5), geom.NewSpeed(20), geom.NewAcceleration(2))
	assert.Equal(t, geom.Duration(0), d)
	assert.Equal(t, geom.Speed(5), v)

	assert.Panics(t, func() { geom.SolveCrossing(geom.NewDistance(10), 0, 0, geom.NewAcceleration(2)) })
}
