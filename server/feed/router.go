package feed

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cyclopcam/syncdetect/pkg/perfstats"
	"github.com/cyclopcam/syncdetect/pkg/sensor"
)

// Topics are the names of our three input feeds
type Topics struct {
	Color string
	Depth string
	Cloud string
}

func (t Topics) All() []string {
	return []string{t.Color, t.Depth, t.Cloud}
}

// extends returns true if 'topic' is not one of ours, but starts with one of ours.
// A zmq subscription to "camera" also delivers "camera_info".
func (t Topics) extends(topic string) bool {
	for _, our := range t.All() {
		if our != "" && topic != our && strings.HasPrefix(topic, our) {
			return true
		}
	}
	return false
}

// Router decodes raw transport messages and hands them to the right feed.
// Color frames go into the Mailbox. Depth and cloud go straight to their handlers,
// which are expected to be quick (they only update a cache).
type Router struct {
	Topics  Topics
	Mailbox *Mailbox
	OnDepth func(img *sensor.Image)
	OnCloud func(cloud *sensor.PointCloud)

	avgDecodeNS atomic.Int64
	nColor      atomic.Int64
	nDepth      atomic.Int64
	nCloud      atomic.Int64
	nIgnored    atomic.Int64
}

type RouterStats struct {
	Color       int64   `json:"color"`
	Depth       int64   `json:"depth"`
	Cloud       int64   `json:"cloud"`
	Ignored     int64   `json:"ignored"` // Other topics that our subscriptions matched by prefix
	AvgDecodeMS float64 `json:"avgDecodeMS"`
}

// Route decodes 'payload' according to 'topic'.
// Returns an error if the topic is unknown or the payload cannot be decoded.
// A topic that merely starts with one of ours is counted and ignored.
func (r *Router) Route(topic string, payload []byte) error {
	start := time.Now()
	switch topic {
	case r.Topics.Color:
		img, err := sensor.UnmarshalImage(payload)
		if err != nil {
			return fmt.Errorf("Color message on '%v': %w", topic, err)
		}
		r.decoded(start, &r.nColor)
		return r.Mailbox.Put(img)
	case r.Topics.Depth:
		img, err := sensor.UnmarshalImage(payload)
		if err != nil {
			return fmt.Errorf("Depth message on '%v': %w", topic, err)
		}
		r.decoded(start, &r.nDepth)
		r.OnDepth(img)
	case r.Topics.Cloud:
		cloud, err := sensor.UnmarshalPointCloud(payload)
		if err != nil {
			return fmt.Errorf("Cloud message on '%v': %w", topic, err)
		}
		r.decoded(start, &r.nCloud)
		r.OnCloud(cloud)
	default:
		if r.Topics.extends(topic) {
			r.nIgnored.Add(1)
			return nil
		}
		return fmt.Errorf("Unexpected topic '%v'", topic)
	}
	return nil
}

func (r *Router) decoded(start time.Time, counter *atomic.Int64) {
	perfstats.UpdateMovingAverage(&r.avgDecodeNS, time.Since(start).Nanoseconds())
	counter.Add(1)
}

func (r *Router) Stats() RouterStats {
	return RouterStats{
		Color:       r.nColor.Load(),
		Depth:       r.nDepth.Load(),
		Cloud:       r.nCloud.Load(),
		Ignored:     r.nIgnored.Load(),
		AvgDecodeMS: float64(r.avgDecodeNS.Load()) / 1e6,
	}
}
