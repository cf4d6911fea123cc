package streamcache

import (
	"sync"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/syncdetect/pkg/sensor"
	"github.com/stretchr/testify/require"
)

// Every byte of the depth image is 'seq', and the cloud is filled with 'seq' too, so a
// torn copy is detectable.
func makeDepth(seq uint32) *sensor.Image {
	img := &sensor.Image{
		Header:   sensor.Header{Seq: seq, Stamp: int64(seq) * 1000, FrameID: "depth"},
		Width:    16,
		Height:   8,
		Encoding: sensor.EncodingDepth16,
		Step:     32,
		Data:     make([]byte, 32*8),
	}
	for i := range img.Data {
		img.Data[i] = byte(seq)
	}
	return img
}

func makeCloud(seq uint32) *sensor.PointCloud {
	pts := make([][3]float32, 10)
	for i := range pts {
		pts[i] = [3]float32{float32(seq), float32(seq), float32(seq)}
	}
	return sensor.NewPointCloudXYZ(sensor.Header{Seq: seq, FrameID: "cloud"}, pts)
}

func TestEmptyBeforeFirstArrival(t *testing.T) {
	c := NewCache(logs.NewTestingLog(t))
	snap := c.Snapshot()
	require.NotNil(t, snap.Depth)
	require.NotNil(t, snap.Cloud)
	require.True(t, snap.Depth.IsEmpty())
	require.True(t, snap.Cloud.IsEmpty())
	require.Equal(t, int64(0), c.Stats().Depth.Updates)
}

func TestLastWriteWins(t *testing.T) {
	c := NewCache(logs.NewTestingLog(t))
	c.UpdateDepth(makeDepth(5))
	c.UpdateDepth(makeDepth(3)) // older stamp still replaces
	c.UpdateCloud(makeCloud(7))
	snap := c.Snapshot()
	require.Equal(t, uint32(3), snap.Depth.Header.Seq)
	require.Equal(t, uint32(7), snap.Cloud.Header.Seq)
	stats := c.Stats()
	require.Equal(t, int64(2), stats.Depth.Updates)
	require.Equal(t, int64(1), stats.Cloud.Updates)
	require.Equal(t, time.Unix(0, 3000), stats.Depth.LastStamp)
}

func TestCacheOwnsItsCopy(t *testing.T) {
	c := NewCache(logs.NewTestingLog(t))
	in := makeDepth(1)
	c.UpdateDepth(in)
	// Mutating the caller's buffer must not reach the cache
	in.Data[0] = 99
	snap := c.Snapshot()
	require.Equal(t, byte(1), snap.Depth.Data[0])
}

func TestSnapshotIsImmutable(t *testing.T) {
	c := NewCache(logs.NewTestingLog(t))
	c.UpdateDepth(makeDepth(1))
	c.UpdateCloud(makeCloud(1))
	snap := c.Snapshot()

	c.UpdateDepth(makeDepth(2))
	c.UpdateCloud(makeCloud(2))
	require.Equal(t, uint32(1), snap.Depth.Header.Seq)
	require.Equal(t, byte(1), snap.Depth.Data[0])
	x, _, _, err := snap.Cloud.XYZ(0)
	require.NoError(t, err)
	require.Equal(t, float32(1), x)

	// Mutating a snapshot must not reach the cache
	snap.Depth.Data[0] = 200
	require.Equal(t, byte(2), c.Snapshot().Depth.Data[0])
}

func TestConcurrentUpdatesNeverTear(t *testing.T) {
	c := NewCache(logs.NewTestingLog(t))
	const n = 500
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 1; i <= n; i++ {
			c.UpdateDepth(makeDepth(uint32(i)))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 1; i <= n; i++ {
			c.UpdateCloud(makeCloud(uint32(i)))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			snap := c.Snapshot()
			if !snap.Depth.IsEmpty() {
				seq := byte(snap.Depth.Header.Seq)
				for _, b := range snap.Depth.Data {
					if b != seq {
						t.Errorf("Torn depth image: header %v, byte %v", seq, b)
						return
					}
				}
			}
			if !snap.Cloud.IsEmpty() {
				for i := 0; i < snap.Cloud.NumPoints(); i++ {
					x, _, _, _ := snap.Cloud.XYZ(i)
					if x != float32(snap.Cloud.Header.Seq) {
						t.Errorf("Torn point cloud: header %v, x %v", snap.Cloud.Header.Seq, x)
						return
					}
				}
			}
		}
	}()
	wg.Wait()

	snap := c.Snapshot()
	require.Equal(t, uint32(n), snap.Depth.Header.Seq)
	require.Equal(t, uint32(n), snap.Cloud.Header.Seq)
}
