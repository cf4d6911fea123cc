// Package streamcache holds the most recent depth image and point cloud, so that
// they can be paired with a color frame when that frame is dispatched for detection.
package streamcache

import (
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/syncdetect/pkg/sensor"
)

// Snapshot is a consistent pair of depth + cloud, copied out of the cache.
// The caller owns the contents of a Snapshot.
type Snapshot struct {
	Depth *sensor.Image
	Cloud *sensor.PointCloud
}

// Stats of a single stream kind
type StreamStats struct {
	Updates    int64     `json:"updates"`
	LastUpdate time.Time `json:"lastUpdate"`
	LastStamp  time.Time `json:"lastStamp"` // Header stamp of the most recent message
}

type Stats struct {
	Depth StreamStats `json:"depth"`
	Cloud StreamStats `json:"cloud"`
}

// Cache holds the latest depth image and point cloud.
// Every Update replaces the previous value, regardless of stamps.
type Cache struct {
	log logs.Log

	lock  sync.Mutex
	depth *sensor.Image
	cloud *sensor.PointCloud
	stats Stats
}

func NewCache(log logs.Log) *Cache {
	return &Cache{
		log:   logs.NewPrefixLogger(log, "StreamCache"),
		depth: &sensor.Image{},
		cloud: &sensor.PointCloud{},
	}
}

// UpdateDepth stores a copy of 'img'. The caller may reuse 'img' afterwards.
func (c *Cache) UpdateDepth(img *sensor.Image) {
	if img == nil {
		return
	}
	cp := img.Clone()

	c.lock.Lock()
	defer c.lock.Unlock()
	if c.stats.Depth.Updates == 0 {
		c.log.Infof("First depth image %v x %v %v", cp.Width, cp.Height, cp.Encoding)
	}
	c.depth = cp
	c.stats.Depth.Updates++
	c.stats.Depth.LastUpdate = time.Now()
	c.stats.Depth.LastStamp = cp.Header.Time()
}

// UpdateCloud stores a copy of 'cloud'. The caller may reuse 'cloud' afterwards.
func (c *Cache) UpdateCloud(cloud *sensor.PointCloud) {
	if cloud == nil {
		return
	}
	cp := cloud.Clone()

	c.lock.Lock()
	defer c.lock.Unlock()
	if c.stats.Cloud.Updates == 0 {
		c.log.Infof("First point cloud, %v points", cp.NumPoints())
	}
	c.cloud = cp
	c.stats.Cloud.Updates++
	c.stats.Cloud.LastUpdate = time.Now()
	c.stats.Cloud.LastStamp = cp.Header.Time()
}

// Snapshot returns deep copies of the current depth image and point cloud.
// Both copies are made under the same lock, so they are never torn by a concurrent update.
// Before the first arrival of a stream, its value is empty but non-nil.
func (c *Cache) Snapshot() Snapshot {
	c.lock.Lock()
	defer c.lock.Unlock()
	return Snapshot{
		Depth: c.depth.Clone(),
		Cloud: c.cloud.Clone(),
	}
}

func (c *Cache) Stats() Stats {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.stats
}
