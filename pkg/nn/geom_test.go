package nn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIOU(t *testing.T) {
	a := MakeRect(0, 0, 10, 10)
	b := MakeRect(5, 5, 10, 10)
	require.InDelta(t, 25.0/175.0, a.IOU(b), 1e-6)
	require.Equal(t, float32(1), a.IOU(a))
	require.Equal(t, float32(0), a.IOU(MakeRect(20, 20, 5, 5)))
	require.Equal(t, float32(0), Rect{}.IOU(Rect{}))
}

func TestIntersectionUnion(t *testing.T) {
	a := MakeRect(0, 0, 10, 10)
	b := MakeRect(5, 5, 10, 10)
	require.Equal(t, MakeRect(5, 5, 5, 5), a.Intersection(b))
	require.Equal(t, MakeRect(0, 0, 15, 15), a.Union(b))
	require.True(t, a.Intersection(MakeRect(50, 50, 1, 1)).IsEmpty())
}

func TestCenterDistance(t *testing.T) {
	r := MakeRect(10, 20, 30, 40)
	require.Equal(t, Point{X: 25, Y: 40}, r.Center())
	require.Equal(t, float32(5), Point{X: 0, Y: 0}.Distance(Point{X: 3, Y: 4}))
	r.Offset(-10, 5)
	require.Equal(t, MakeRect(0, 25, 30, 40), r)
	require.Equal(t, int32(30), r.X2())
	require.Equal(t, int32(65), r.Y2())
}
