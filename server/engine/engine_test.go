package engine

import (
	"errors"
	"testing"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/syncdetect/pkg/nn"
	"github.com/stretchr/testify/require"
)

type fakeDetector struct {
	config  nn.ModelConfig
	objects []nn.ObjectDetection
	err     error
	lastImg nn.ImageCrop
}

func (d *fakeDetector) Close() {}

func (d *fakeDetector) Config() *nn.ModelConfig {
	return &d.config
}

func (d *fakeDetector) DetectObjects(img nn.ImageCrop, params *nn.DetectionParams) ([]nn.ObjectDetection, error) {
	d.lastImg = img
	return d.objects, d.err
}

func newEngine(t *testing.T, det *fakeDetector) *NNEngine {
	e, err := NewNNEngine(logs.NewTestingLog(t), det, nn.NewLabelIndex(nn.COCOClasses, 80), DefaultOptions())
	require.NoError(t, err)
	return e
}

func TestDetect(t *testing.T) {
	det := &fakeDetector{
		config: nn.ModelConfig{Architecture: "yolov8", Width: 320, Height: 256},
		objects: []nn.ObjectDetection{
			{Class: 0, Confidence: 0.9, Box: nn.MakeRect(10, 10, 20, 40)},
		},
	}
	e := newEngine(t, det)
	img := cimg.NewImage(64, 48, cimg.PixelFormatRGB)
	result, labels, err := e.Detect(img)
	require.NoError(t, err)
	require.Equal(t, 64, result.ImageWidth)
	require.Equal(t, 48, result.ImageHeight)
	require.Len(t, result.Objects, 1)
	require.Equal(t, "person", labels.Name(result.Objects[0].Class))
	require.True(t, det.lastImg.IsWhole())
	require.Equal(t, 3, det.lastImg.Image.NChan())
}

func TestDetectMergesTruckIntoCar(t *testing.T) {
	labels := nn.NewLabelIndex(nn.COCOClasses, 80)
	car := labels.ClassOf("car")
	truck := labels.ClassOf("truck")
	det := &fakeDetector{
		config: nn.ModelConfig{Width: 320, Height: 256},
		objects: []nn.ObjectDetection{
			{Class: car, Confidence: 0.8, Box: nn.MakeRect(10, 10, 100, 50)},
			{Class: truck, Confidence: 0.7, Box: nn.MakeRect(11, 10, 100, 50)},
		},
	}
	e := newEngine(t, det)
	result, _, err := e.Detect(cimg.NewImage(200, 100, cimg.PixelFormatRGB))
	require.NoError(t, err)
	require.Len(t, result.Objects, 1)
	require.Equal(t, car, result.Objects[0].Class)
}

func TestMergeMapWithoutClasses(t *testing.T) {
	labels := nn.NewLabelIndex([]string{"person", "car"}, 2)
	opt := DefaultOptions()
	opt.MergeMap = map[string]string{"truck": "car", "person": "car"}
	e, err := NewNNEngine(logs.NewTestingLog(t), &fakeDetector{config: nn.ModelConfig{Width: 320, Height: 256}}, labels, opt)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"person": "car"}, e.opt.MergeMap)
	// The caller's map is untouched
	require.Len(t, opt.MergeMap, 2)
}

func TestDetectError(t *testing.T) {
	det := &fakeDetector{err: errors.New("model exploded")}
	e := newEngine(t, det)
	result, labels, err := e.Detect(cimg.NewImage(64, 48, cimg.PixelFormatRGB))
	require.Error(t, err)
	require.Nil(t, result)
	require.Nil(t, labels)
}

func TestVisualize(t *testing.T) {
	det := &fakeDetector{}
	e := newEngine(t, det)
	img := cimg.NewImage(64, 48, cimg.PixelFormatRGB)
	result := &nn.DetectionResult{
		ImageWidth:  64,
		ImageHeight: 48,
		Objects:     []nn.ObjectDetection{{Class: 2, Confidence: 0.9, Box: nn.MakeRect(10, 20, 30, 20)}},
	}
	out, err := e.Visualize(img, result)
	require.NoError(t, err)
	require.Equal(t, 64, out.Width)
	require.Equal(t, 48, out.Height)
	require.NotEqual(t, img.Pixels, out.Pixels)

	_, err = e.Visualize(img, nil)
	require.ErrorIs(t, err, ErrNoResult)

	_, err = e.Visualize(cimg.NewImage(32, 32, cimg.PixelFormatRGB), result)
	require.Error(t, err)
}

func TestNewNNEngineValidates(t *testing.T) {
	_, err := NewNNEngine(logs.NewTestingLog(t), nil, nn.NewLabelIndex(nn.COCOClasses, 0), DefaultOptions())
	require.Error(t, err)
	_, err = NewNNEngine(logs.NewTestingLog(t), &fakeDetector{}, nn.NewLabelIndex(nil, 0), DefaultOptions())
	require.Error(t, err)
}
