package main

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/cyclopcam/syncdetect/pkg/nn"
	"github.com/cyclopcam/syncdetect/pkg/sensor"
	"github.com/stretchr/testify/require"
)

func TestObjectDepths(t *testing.T) {
	msg := &sensor.DetectionArray{
		Header:      sensor.MakeHeader(7, time.Unix(1700000000, 0), "camera"),
		ImageWidth:  640,
		ImageHeight: 480,
		Detections: []sensor.Detection{
			{Label: "person", Confidence: 0.9, Box: nn.MakeRect(90, 40, 20, 20)},
			{Label: "car", Confidence: 0.5, Box: nn.MakeRect(300, 300, 40, 40)},
		},
	}
	// Half the resolution of the color frame
	depth := &sensor.Image{Width: 320, Height: 240, Encoding: sensor.EncodingDepth16, Step: 640, Data: make([]byte, 640*240)}
	binary.LittleEndian.PutUint16(depth.Data[25*640+50*2:], 1500)

	z := objectDepths(msg, depth)
	require.Len(t, z, 2)
	require.Equal(t, float32(1.5), z[0])
	require.True(t, math.IsNaN(float64(z[1])))

	line := formatDetections(msg, depth)
	require.Contains(t, line, "person 0.90 @ 1.50m")
	require.Contains(t, line, "car 0.50")
	require.NotContains(t, line, "car 0.50 @")

	// No depth has arrived yet
	z = objectDepths(msg, nil)
	require.True(t, math.IsNaN(float64(z[0])))
	z = objectDepths(msg, &sensor.Image{})
	require.True(t, math.IsNaN(float64(z[0])))

	empty := &sensor.DetectionArray{Header: msg.Header, ImageWidth: 640, ImageHeight: 480}
	require.Contains(t, formatDetections(empty, depth), "nothing")
}
