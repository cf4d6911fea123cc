package nn

import (
	"sync/atomic"
	"testing"

	"github.com/bmharper/cimg/v2"
	"github.com/stretchr/testify/require"
)

// fixedDetector returns one box in the center of every crop it is given
type fixedDetector struct {
	config ModelConfig
	calls  atomic.Int32
}

func (d *fixedDetector) Close() {}

func (d *fixedDetector) Config() *ModelConfig {
	return &d.config
}

func (d *fixedDetector) DetectObjects(img ImageCrop, params *DetectionParams) ([]ObjectDetection, error) {
	d.calls.Add(1)
	return []ObjectDetection{
		{Class: 0, Confidence: 0.9, Box: MakeRect(img.Width()/2-5, img.Height()/2-5, 10, 10)},
	}, nil
}

func TestTiledInferenceSingleTile(t *testing.T) {
	det := &fixedDetector{config: ModelConfig{Width: 320, Height: 256}}
	img := cimg.NewImage(320, 256, cimg.PixelFormatRGB)
	objects, err := TiledInference(det, WholeImage(img), NewDetectionParams(), 4)
	require.NoError(t, err)
	require.EqualValues(t, 1, det.calls.Load())
	require.Len(t, objects, 1)
	require.Equal(t, MakeRect(155, 123, 10, 10), objects[0].Box)
}

func TestTiledInferenceManyTiles(t *testing.T) {
	det := &fixedDetector{config: ModelConfig{Width: 320, Height: 256}}
	img := cimg.NewImage(1280, 720, cimg.PixelFormatRGB)
	objects, err := TiledInference(det, WholeImage(img), NewDetectionParams(), 3)
	require.NoError(t, err)
	require.Greater(t, int(det.calls.Load()), 1)
	require.NotEmpty(t, objects)
	bounds := MakeRect(0, 0, 1280, 720)
	for _, obj := range objects {
		require.Equal(t, obj.Box, obj.Box.Intersection(bounds))
	}
}
