// Package engine turns a decoded color frame into object detections, and draws
// those detections back onto the frame.
package engine

import (
	"errors"
	"fmt"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/syncdetect/pkg/nn"
	"github.com/cyclopcam/syncdetect/pkg/render"
)

var ErrNoResult = errors.New("No detection result to visualize")

// Engine is the contract between the dispatcher and the detection model.
// Implementations must tolerate being called from a single goroutine at a time,
// but must not assume it is always the same goroutine.
type Engine interface {
	// Detect runs the model on an RGB image
	Detect(img *cimg.Image) (*nn.DetectionResult, *nn.LabelIndex, error)

	// Visualize returns a copy of img with the detections drawn onto it
	Visualize(img *cimg.Image, result *nn.DetectionResult) (*cimg.Image, error)
}

// If a truck and a car overlap by this much, then we keep only the car
const DefaultMergeIoU = 0.8

// DefaultMergeMap collapses the vehicle confusions that COCO models commonly produce
var DefaultMergeMap = map[string]string{
	"truck": "car",
}

type Options struct {
	ProbabilityThreshold float32           // Zero uses nn.DefaultProbabilityThreshold
	NmsIouThreshold      float32           // Zero uses nn.DefaultNmsIouThreshold
	NumWorkers           int               // Threads used for tiled inference
	Tiled                bool              // Split large frames into NN-sized tiles
	MergeMap             map[string]string // Nil means no merging
	MergeIoU             float32
	Render               render.Options
}

func DefaultOptions() Options {
	return Options{
		ProbabilityThreshold: nn.DefaultProbabilityThreshold,
		NmsIouThreshold:      nn.DefaultNmsIouThreshold,
		NumWorkers:           1,
		MergeMap:             DefaultMergeMap,
		MergeIoU:             DefaultMergeIoU,
		Render:               render.DefaultOptions(),
	}
}

// NNEngine runs an nn.ObjectDetector
type NNEngine struct {
	log      logs.Log
	detector nn.ObjectDetector
	labels   *nn.LabelIndex
	params   *nn.DetectionParams
	opt      Options
}

func NewNNEngine(log logs.Log, detector nn.ObjectDetector, labels *nn.LabelIndex, opt Options) (*NNEngine, error) {
	if detector == nil {
		return nil, fmt.Errorf("No object detector")
	}
	if labels == nil || labels.NumClasses() == 0 {
		return nil, fmt.Errorf("Label index is empty")
	}
	if opt.NumWorkers < 1 {
		opt.NumWorkers = 1
	}
	params := nn.NewDetectionParams()
	if opt.ProbabilityThreshold != 0 {
		params.ProbabilityThreshold = opt.ProbabilityThreshold
	}
	if opt.NmsIouThreshold != 0 {
		params.NmsIouThreshold = opt.NmsIouThreshold
	}
	if opt.MergeIoU == 0 {
		opt.MergeIoU = DefaultMergeIoU
	}
	opt.MergeMap = usableMergeMap(log, opt.MergeMap, labels)
	cfg := detector.Config()
	log.Infof("Detection engine: %v %v x %v, %v classes, %v workers, tiled: %v", cfg.Architecture, cfg.Width, cfg.Height, labels.NumClasses(), opt.NumWorkers, opt.Tiled)
	return &NNEngine{
		log:      log,
		detector: detector,
		labels:   labels,
		params:   params,
		opt:      opt,
	}, nil
}

// usableMergeMap drops the pairs that name a class which the model doesn't have
func usableMergeMap(log logs.Log, mergeMap map[string]string, labels *nn.LabelIndex) map[string]string {
	usable := map[string]string{}
	for from, to := range mergeMap {
		if labels.ClassOf(from) < 0 || labels.ClassOf(to) < 0 {
			log.Warnf("Ignoring merge of '%v' into '%v', because the model doesn't detect both classes", from, to)
			continue
		}
		usable[from] = to
	}
	return usable
}

func (e *NNEngine) Labels() *nn.LabelIndex {
	return e.labels
}

func (e *NNEngine) Detect(img *cimg.Image) (*nn.DetectionResult, *nn.LabelIndex, error) {
	if img == nil || img.Width <= 0 || img.Height <= 0 {
		return nil, nil, fmt.Errorf("Empty image")
	}
	if img.NChan() != 3 {
		img = img.ToRGB()
	}
	whole := nn.WholeImage(img)

	var objects []nn.ObjectDetection
	var err error
	if e.opt.Tiled {
		objects, err = nn.TiledInference(e.detector, whole, e.params, e.opt.NumWorkers)
	} else {
		objects, err = e.detector.DetectObjects(whole, e.params)
	}
	if err != nil {
		return nil, nil, err
	}
	objects = nn.MergeSimilarObjects(objects, e.opt.MergeMap, e.labels, e.opt.MergeIoU)

	return &nn.DetectionResult{
		ImageWidth:  img.Width,
		ImageHeight: img.Height,
		Objects:     objects,
	}, e.labels, nil
}

func (e *NNEngine) Visualize(img *cimg.Image, result *nn.DetectionResult) (*cimg.Image, error) {
	if result == nil {
		return nil, ErrNoResult
	}
	if img == nil {
		return nil, fmt.Errorf("Empty image")
	}
	if result.ImageWidth != img.Width || result.ImageHeight != img.Height {
		return nil, fmt.Errorf("Detection result is for a %v x %v image, but image is %v x %v", result.ImageWidth, result.ImageHeight, img.Width, img.Height)
	}
	return render.DrawDetections(img, result.Objects, e.labels, e.opt.Render), nil
}
