package perfstats

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimeAccumulator(t *testing.T) {
	a := TimeAccumulator{}
	require.Equal(t, time.Duration(0), a.Average())
	a.AddSample(10 * time.Millisecond)
	a.AddSample(30 * time.Millisecond)
	a.AddSample(20 * time.Millisecond)
	require.Equal(t, 20*time.Millisecond, a.Average())
	require.Equal(t, 30*time.Millisecond, a.Max)
	require.Equal(t, 20*time.Millisecond, a.Last)
	s := a.Summary()
	require.Equal(t, int64(3), s.Samples)
	require.Equal(t, 20.0, s.AvgMS)
	require.Equal(t, 30.0, s.MaxMS)
	a.Reset()
	require.Equal(t, int64(0), a.Samples)
}

func TestMovingAverage(t *testing.T) {
	var v atomic.Int64
	UpdateMovingAverage(&v, 6400)
	require.Equal(t, int64(6400), v.Load())
	UpdateMovingAverage(&v, 0)
	require.Equal(t, int64(6300), v.Load())
}
