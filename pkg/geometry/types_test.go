package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRectContains(t *testing.T) {
	r := NewRect(10, 10, 100, 50)

	assert.True(t, r.Contains(Point2D{X: 60, Y: 35}))
	assert.True(t, r.Contains(Point2D{X: 10, Y: 10}))
	assert.False(t, r.Contains(Point2D{X: 111, Y: 35}))
	assert.False(t, r.Contains(Point2D{X: 60, Y: 61}))
}

func TestRectCenterAndUnion(t *testing.T) {
	a := NewRect(0, 0, 10, 10)
	b := NewRect(20, 20, 10, 10)

	assert.Equal(t, Point2D{X: 5, Y: 5}, a.Center())

	u := a.Union(b)
	assert.Equal(t, NewRect(0, 0, 30, 30), u)
	assert.False(t, a.Intersects(b))
	assert.True(t, a.Intersects(NewRect(5, 5, 10, 10)))
}

func TestGenerateCirclePoints(t *testing.T) {
	pts := GenerateCirclePoints(50, 50, 10, 36)
	assert.Len(t, pts, 36)

	center := Point2D{X: 50, Y: 50}
	for _, p := range pts {
		assert.InDelta(t, 10, p.Distance(center), 1e-9)
	}

	c := Centroid(pts)
	assert.InDelta(t, 50, c.X, 1e-9)
	assert.InDelta(t, 50, c.Y, 1e-9)
}

func TestBoundingBox(t *testing.T) {
	pts := []Point2D{{1, 2}, {5, -3}, {-2, 7}}
	box := BoundingBox(pts)

	assert.Equal(t, Rect{X: -2, Y: -3, Width: 7, Height: 10}, box)
	assert.Equal(t, Rect{}, BoundingBox(nil))
}

func TestPointDistance(t *testing.T) {
	assert.InDelta(t, 5, Point2D{0, 0}.Distance(Point2D{3, 4}), 1e-9)
	assert.InDelta(t, math.Sqrt2, Point2D{1, 1}.Distance(Point2D{2, 2}), 1e-9)
}
