package geom_test

import (
	"testing"

	"git.fiblab.net/general/common/v2/geometry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/geom"
)

func mustPolyLine(t *testing.T, points ...geometry.Point) *geom.PolyLine {
	pl, err := geom.NewPolyLine(points)
	require.NoError(t, err)
	return pl
}

func TestPolyLineValidation(t *testing.T) {
	_, err := geom.NewPolyLine([]geometry.Point{{X: 0, Y: 0}})
	assert.Error(t, err)

	_, err = geom.NewPolyLine([]geometry.Point{{X: 0, Y: 0}, {X: 0.001, Y: 0}})
	assert.Error(t, err)
}

func TestPolyLinePositionByS(t *testing.T) {
	// L形折线：(0,0)→(10,0)→(10,10)
	pl := mustPolyLine(t, geometry.Point{X: 0, Y: 0}, geometry.Point{X: 10, Y: 0}, geometry.Point{X: 10, Y: 10})
	assert.Equal(t, geom.Distance(20), pl.Length())

	p := pl.GetPositionByS(5)
	assert.InDelta(t, 5, p.X, 1e-9)
	assert.InDelta(t, 0, p.Y, 1e-9)

	p = pl.GetPositionByS(15)
	assert.InDelta(t, 10, p.X, 1e-9)
	assert.InDelta(t, 5, p.Y, 1e-9)

	// 越界截断
	p = pl.GetPositionByS(-1)
	assert.InDelta(t, 0, p.X, 1e-9)
	p = pl.GetPositionByS(100)
	assert.InDelta(t, 10, p.X, 1e-9)
	assert.InDelta(t, 10, p.Y, 1e-9)
}

func TestPolyLineProject(t *testing.T) {
	pl := mustPolyLine(t, geometry.Point{X: 0, Y: 0}, geometry.Point{X: 10, Y: 0})
	assert.InDelta(t, 5, pl.ProjectToLine(geometry.Point{X: 5, Y: 3}), 1e-9)
	assert.InDelta(t, 0, pl.ProjectToLine(geometry.Point{X: -5, Y: 0}), 1e-9)
	assert.InDelta(t, 10, pl.ProjectToLine(geometry.Point{X: 15, Y: 1}), 1e-9)
}

func TestPolyLineIntersects(t *testing.T) {
	// 十字交叉
	a := mustPolyLine(t, geometry.Point{X: -5, Y: 0}, geometry.Point{X: 5, Y: 0})
	b := mustPolyLine(t, geometry.Point{X: 0, Y: -5}, geometry.Point{X: 0, Y: 5})
	assert.True(t, a.Intersects(b))
	assert.True(t, b.Intersects(a))

	// 平行不相交
	c := mustPolyLine(t, geometry.Point{X: -5, Y: 1}, geometry.Point{X: 5, Y: 1})
	assert.False(t, a.Intersects(c))

	// 端点接触
	d := mustPolyLine(t, geometry.Point{X: 5, Y: 0}, geometry.Point{X: 10, Y: 3})
	assert.True(t, a.Intersects(d))
}

func TestEuclideanDistance(t *testing.T) {
	assert.Equal(t, geom.Distance(5),
		geom.EuclideanDistance(geometry.Point{X: 0, Y: 0}, geometry.Point{X: 3, Y: 4}))
}
