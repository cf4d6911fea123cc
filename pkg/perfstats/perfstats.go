// Package perfstats holds small accumulators for timing the stages of the detection pipeline.
// None of these types are thread safe. Callers guard them with their own lock.
package perfstats

import (
	"sync/atomic"
	"time"
)

// Accumulate samples of how long something took
type TimeAccumulator struct {
	Samples int64
	Total   time.Duration
	Max     time.Duration
	Last    time.Duration
}

func (a *TimeAccumulator) Reset() {
	*a = TimeAccumulator{}
}

func (a *TimeAccumulator) AddSample(v time.Duration) {
	a.Samples++
	a.Total += v
	a.Last = v
	if v > a.Max {
		a.Max = v
	}
}

func (a *TimeAccumulator) Average() time.Duration {
	if a.Samples == 0 {
		return 0
	}
	return time.Duration(a.Total.Nanoseconds() / a.Samples)
}

// Summary is a JSON friendly view of a TimeAccumulator, in milliseconds
type Summary struct {
	Samples int64   `json:"samples"`
	AvgMS   float64 `json:"avgMS"`
	MaxMS   float64 `json:"maxMS"`
	LastMS  float64 `json:"lastMS"`
}

func (a *TimeAccumulator) Summary() Summary {
	return Summary{
		Samples: a.Samples,
		AvgMS:   float64(a.Average().Microseconds()) / 1000,
		MaxMS:   float64(a.Max.Microseconds()) / 1000,
		LastMS:  float64(a.Last.Microseconds()) / 1000,
	}
}

// UpdateMovingAverage folds 'value' into an exponential moving average with weight 1/64.
// The first sample initializes the average.
func UpdateMovingAverage(stat *atomic.Int64, value int64) {
	// We don't bother about strict correctness here with CompareAndSwap,
	// because these are sampled stats, and it's OK to miss one or two samples.
	if old := stat.Load(); old == 0 {
		stat.Store(value)
	} else {
		stat.Store((old*63 + value) >> 6)
	}
}
