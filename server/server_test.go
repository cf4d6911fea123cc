package server

import (
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/syncdetect/pkg/nn"
	"github.com/cyclopcam/syncdetect/pkg/sensor"
	"github.com/cyclopcam/syncdetect/server/config"
	"github.com/cyclopcam/syncdetect/server/dispatch"
	"github.com/pebbe/zmq4"
	"github.com/stretchr/testify/require"
)

type fakeDetector struct {
	closed bool
}

func (d *fakeDetector) Close() {
	d.closed = true
}

func (d *fakeDetector) Config() *nn.ModelConfig {
	return &nn.ModelConfig{Architecture: "yolov8", Width: 32, Height: 32}
}

func (d *fakeDetector) DetectObjects(img nn.ImageCrop, params *nn.DetectionParams) ([]nn.ObjectDetection, error) {
	return []nn.ObjectDetection{
		{Class: 0, Confidence: 0.8, Box: nn.MakeRect(2, 2, 8, 8)},
	}, nil
}

func testConfig(name string) *config.Config {
	c := config.DefaultConfig()
	c.ModelName = "fake"
	c.InferenceURL = "http://localhost:1"
	c.NumClasses = 80
	c.LabelFile = "builtin:coco"
	c.CameraTopic = "color"
	c.DepthTopic = "depth"
	c.CloudTopic = "cloud"
	c.NumWorkers = 1
	c.InputEndpoint = "inproc://" + name + "-in"
	c.OutputEndpoint = "inproc://" + name + "-out"
	c.HTTPPort = 0
	return c
}

func colorFrame(seq uint32) *sensor.Image {
	img := &sensor.Image{
		Header:   sensor.MakeHeader(seq, time.Now(), "camera"),
		Width:    16,
		Height:   16,
		Encoding: sensor.EncodingRGB8,
		Step:     16 * 3,
	}
	img.Data = make([]byte, img.Step*img.Height)
	return img
}

func TestNewServerRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig("invalid")
	cfg.CameraTopic = ""
	_, err := NewServer(logs.NewTestingLog(t), cfg, &fakeDetector{}, nn.NewLabelIndex(nn.COCOClasses, 80))
	require.Error(t, err)
}

func TestEndToEnd(t *testing.T) {
	cfg := testConfig("server-e2e")

	// Sensor side
	in, err := zmq4.NewSocket(zmq4.PUB)
	require.NoError(t, err)
	defer in.Close()
	require.NoError(t, in.Bind(cfg.InputEndpoint))

	det := &fakeDetector{}
	s, err := NewServer(logs.NewTestingLog(t), cfg, det, nn.NewLabelIndex(nn.COCOClasses, 80))
	require.NoError(t, err)
	require.NoError(t, s.Run())

	// Consumer side
	out, err := zmq4.NewSocket(zmq4.SUB)
	require.NoError(t, err)
	defer out.Close()
	require.NoError(t, out.SetSubscribe(""))
	require.NoError(t, out.SetRcvtimeo(20*time.Millisecond))
	require.NoError(t, out.Connect(cfg.OutputEndpoint))

	colorMsg, err := sensor.Marshal(colorFrame(1))
	require.NoError(t, err)

	got := map[string][]byte{}
	require.Eventually(t, func() bool {
		in.SendMessage(cfg.CameraTopic, colorMsg)
		for {
			parts, err := out.RecvMessageBytes(0)
			if err != nil {
				break
			}
			if len(parts) == 2 {
				got[string(parts[0])] = parts[1]
			}
		}
		return len(got) == 4
	}, 10*time.Second, 50*time.Millisecond)

	for _, topic := range []string{dispatch.TopicDetections, dispatch.TopicDetectionsImage, dispatch.TopicDepthSynced, dispatch.TopicCloudSynced} {
		require.Contains(t, got, topic)
	}
	detections, err := sensor.UnmarshalDetectionArray(got[dispatch.TopicDetections])
	require.NoError(t, err)
	require.Len(t, detections.Detections, 1)
	require.Equal(t, "person", detections.Detections[0].Label)

	status := s.Status()
	require.Equal(t, s.NodeID.String(), status.NodeID)
	require.GreaterOrEqual(t, status.Dispatch.Bundles, int64(1))
	require.Nil(t, status.History)

	s.Shutdown()
	<-s.ShutdownComplete
	require.True(t, det.closed)
	// Idempotent
	s.Shutdown()
}
