// Package dispatch pairs every color frame with the latest depth image and point cloud,
// runs object detection on it, and publishes the synchronized result.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/syncdetect/pkg/nn"
	"github.com/cyclopcam/syncdetect/pkg/perfstats"
	"github.com/cyclopcam/syncdetect/pkg/sensor"
	"github.com/cyclopcam/syncdetect/server/engine"
	"github.com/cyclopcam/syncdetect/server/feed"
	"github.com/cyclopcam/syncdetect/server/streamcache"
)

var ErrDetectTimeout = errors.New("Object detection timed out")

// Repeated errors of the same kind are logged at most this often
const errorLogInterval = 15 * time.Second

// Publisher sends our output messages to downstream consumers.
// Each method is fire-and-forget. The dispatcher never retries a failed publish.
type Publisher interface {
	PublishDepth(img *sensor.Image) error
	PublishCloud(cloud *sensor.PointCloud) error
	PublishDetections(msg *sensor.DetectionArray) error
	PublishImage(img *sensor.Image) error
}

// Observer is notified of every published bundle.
// OnBundle is called on the dispatch goroutine, so it must return quickly.
// The bundle is shared between observers, and must be treated as read-only.
type Observer interface {
	OnBundle(b *Bundle)
}

// Bundle is everything that was published for a single color frame
type Bundle struct {
	Header     sensor.Header // Header of the color frame
	Detections *sensor.DetectionArray
	Labels     *nn.LabelIndex
	Annotated  *cimg.Image        // Color frame with detections drawn on it
	Depth      *sensor.Image      // Depth image that was current when the color frame was dispatched
	Cloud      *sensor.PointCloud // Point cloud that was current when the color frame was dispatched
	SkewDepth  time.Duration      // Color stamp minus depth stamp. Zero if either is unknown.
	SkewCloud  time.Duration      // Color stamp minus cloud stamp. Zero if either is unknown.
	DetectTime time.Duration
}

type Options struct {
	// If non-zero, a detection that takes longer than this is abandoned, and the frame is dropped
	DetectTimeout time.Duration
}

type errorKind int

const (
	errorKindDecode errorKind = iota
	errorKindDetect
	errorKindVisualize
	errorKindPublishDepth
	errorKindPublishCloud
	errorKindPublishDetections
	errorKindPublishImage
	numErrorKinds
)

// Dispatcher runs the color frame pipeline.
// OnColorFrame calls are serialized, so at most one frame is in flight.
type Dispatcher struct {
	log    logs.Log
	cache  *streamcache.Cache
	engine engine.Engine
	pub    Publisher
	opt    Options

	// Held for the duration of OnColorFrame
	frameLock sync.Mutex

	// Single slot semaphore, held for every call into the engine. A detection that has
	// timed out keeps the slot until it returns, so the engine is never called concurrently,
	// and at most one abandoned detection is ever outstanding.
	engineBusy chan struct{}

	lock          sync.Mutex // Guards everything below
	observers     []Observer
	counters      counters
	detectLatency perfstats.TimeAccumulator
	lastErrAt     [numErrorKinds]time.Time
}

func NewDispatcher(log logs.Log, cache *streamcache.Cache, eng engine.Engine, pub Publisher, opt Options) *Dispatcher {
	return &Dispatcher{
		log:        logs.NewPrefixLogger(log, "Dispatch"),
		cache:      cache,
		engine:     eng,
		pub:        pub,
		opt:        opt,
		engineBusy: make(chan struct{}, 1),
	}
}

// AddObserver registers an observer of published bundles
func (d *Dispatcher) AddObserver(o Observer) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.observers = append(d.observers, o)
}

// OnDepthFrame is the handler for the depth feed
func (d *Dispatcher) OnDepthFrame(img *sensor.Image) {
	d.cache.UpdateDepth(img)
}

// OnCloud is the handler for the point cloud feed
func (d *Dispatcher) OnCloud(cloud *sensor.PointCloud) {
	d.cache.UpdateCloud(cloud)
}

// Run takes frames out of the mailbox and dispatches them, until the mailbox is closed
// or the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context, mailbox *feed.Mailbox) {
	d.log.Infof("Dispatch loop started")
	for {
		frame, err := mailbox.Take(ctx)
		if err != nil {
			d.log.Infof("Dispatch loop stopped (%v)", err)
			return
		}
		// Errors have already been logged and counted
		d.OnColorFrame(frame)
	}
}

// OnColorFrame processes a single color frame.
// The depth image and point cloud are snapshotted before anything else happens, so
// depth or cloud messages that arrive during detection are not part of this frame's output.
// If decoding, detection, or visualization fails, nothing is published.
// Publish failures are independent of each other: a failure on one channel does not
// prevent the others. All publish failures are returned, joined.
func (d *Dispatcher) OnColorFrame(frame *sensor.Image) error {
	d.frameLock.Lock()
	defer d.frameLock.Unlock()

	snap := d.cache.Snapshot()
	d.count(func(c *counters) { c.Frames++ })

	rgb, err := sensor.DecodeColor(frame)
	if err != nil {
		d.count(func(c *counters) { c.DecodeErrors++ })
		d.logError(errorKindDecode, "Failed to decode color frame %v (%v): %v", frame.Header.Seq, frame.Encoding, err)
		return fmt.Errorf("Decode: %w", err)
	}

	start := time.Now()
	result, labels, err := d.detect(rgb)
	detectTime := time.Since(start)
	if err == nil && (result == nil || labels == nil) {
		err = errors.New("Engine returned no result")
	}
	if err != nil {
		d.count(func(c *counters) {
			c.DetectErrors++
			if errors.Is(err, ErrDetectTimeout) {
				c.DetectTimeouts++
			}
		})
		d.logError(errorKindDetect, "Error detecting objects in frame %v: %v", frame.Header.Seq, err)
		return fmt.Errorf("Detect: %w", err)
	}
	d.lock.Lock()
	d.detectLatency.AddSample(detectTime)
	d.lock.Unlock()
	result.FramePTS = frame.Header.Time()

	detections := sensor.MakeDetectionArray(frame.Header, result, labels)

	annotated, err := d.engine.Visualize(rgb, result)
	if err != nil {
		d.count(func(c *counters) { c.DetectErrors++ })
		d.logError(errorKindVisualize, "Error drawing detections on frame %v: %v", frame.Header.Seq, err)
		return fmt.Errorf("Visualize: %w", err)
	}
	annotatedMsg := sensor.EncodeRGB(frame.Header, annotated)

	var errs []error
	if err := d.pub.PublishDepth(snap.Depth); err != nil {
		errs = append(errs, d.publishFailed(errorKindPublishDepth, ChannelDepth, err))
	}
	if err := d.pub.PublishCloud(snap.Cloud); err != nil {
		errs = append(errs, d.publishFailed(errorKindPublishCloud, ChannelCloud, err))
	}
	if err := d.pub.PublishDetections(detections); err != nil {
		errs = append(errs, d.publishFailed(errorKindPublishDetections, ChannelDetections, err))
	}
	if err := d.pub.PublishImage(annotatedMsg); err != nil {
		errs = append(errs, d.publishFailed(errorKindPublishImage, ChannelImage, err))
	}

	bundle := &Bundle{
		Header:     frame.Header,
		Detections: detections,
		Labels:     labels,
		Annotated:  annotated,
		Depth:      snap.Depth,
		Cloud:      snap.Cloud,
		SkewDepth:  skew(frame.Header, snap.Depth.Header),
		SkewCloud:  skew(frame.Header, snap.Cloud.Header),
		DetectTime: detectTime,
	}

	d.lock.Lock()
	d.counters.Bundles++
	observers := d.observers
	d.lock.Unlock()

	for _, o := range observers {
		o.OnBundle(bundle)
	}

	return errors.Join(errs...)
}

type detectOutput struct {
	result *nn.DetectionResult
	labels *nn.LabelIndex
	err    error
}

func (d *Dispatcher) detect(rgb *cimg.Image) (*nn.DetectionResult, *nn.LabelIndex, error) {
	if d.opt.DetectTimeout <= 0 {
		d.engineBusy <- struct{}{}
		defer func() { <-d.engineBusy }()
		return d.engine.Detect(rgb)
	}

	timer := time.NewTimer(d.opt.DetectTimeout)
	defer timer.Stop()

	// The wait for a previous, abandoned detection counts against our own timeout.
	// No goroutine is started until we own the engine.
	select {
	case d.engineBusy <- struct{}{}:
	case <-timer.C:
		return nil, nil, fmt.Errorf("%w after %v: engine is still busy with an earlier frame", ErrDetectTimeout, d.opt.DetectTimeout)
	}

	// Buffered, so that an abandoned detection can always deliver its result and exit
	done := make(chan detectOutput, 1)
	go func() {
		defer func() { <-d.engineBusy }()
		r, l, err := d.engine.Detect(rgb)
		done <- detectOutput{r, l, err}
	}()

	select {
	case out := <-done:
		return out.result, out.labels, out.err
	case <-timer.C:
		return nil, nil, fmt.Errorf("%w after %v", ErrDetectTimeout, d.opt.DetectTimeout)
	}
}

func (d *Dispatcher) publishFailed(kind errorKind, channel Channel, err error) error {
	d.count(func(c *counters) { c.PublishErrors[channel]++ })
	d.logError(kind, "Failed to publish %v: %v", channel, err)
	return fmt.Errorf("Publish %v: %w", channel, err)
}

func (d *Dispatcher) count(f func(c *counters)) {
	d.lock.Lock()
	f(&d.counters)
	d.lock.Unlock()
}

func (d *Dispatcher) logError(kind errorKind, format string, args ...any) {
	d.lock.Lock()
	now := time.Now()
	emit := now.Sub(d.lastErrAt[kind]) > errorLogInterval
	if emit {
		d.lastErrAt[kind] = now
	}
	d.lock.Unlock()
	if emit {
		d.log.Errorf(format, args...)
	}
}

func skew(color, other sensor.Header) time.Duration {
	if color.Stamp == 0 || other.Stamp == 0 {
		return 0
	}
	return time.Duration(color.Stamp - other.Stamp)
}
