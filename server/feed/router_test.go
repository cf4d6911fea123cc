package feed

import (
	"testing"

	"github.com/cyclopcam/syncdetect/pkg/sensor"
	"github.com/stretchr/testify/require"
)

func TestRouter(t *testing.T) {
	var depth *sensor.Image
	var cloud *sensor.PointCloud
	r := &Router{
		Topics:  Topics{Color: "/camera/color", Depth: "/camera/depth", Cloud: "/camera/points"},
		Mailbox: NewMailbox(),
		OnDepth: func(img *sensor.Image) { depth = img },
		OnCloud: func(c *sensor.PointCloud) { cloud = c },
	}

	colorMsg, err := sensor.Marshal(frame(4))
	require.NoError(t, err)
	require.NoError(t, r.Route("/camera/color", colorMsg))
	require.Equal(t, int64(1), r.Mailbox.Stats().Received)

	depthMsg, err := sensor.Marshal(&sensor.Image{Header: sensor.Header{Seq: 5}, Width: 1, Height: 1, Encoding: sensor.EncodingDepth16, Step: 2, Data: []byte{1, 2}})
	require.NoError(t, err)
	require.NoError(t, r.Route("/camera/depth", depthMsg))
	require.Equal(t, uint32(5), depth.Header.Seq)

	cloudMsg, err := sensor.Marshal(sensor.NewPointCloudXYZ(sensor.Header{Seq: 6}, [][3]float32{{1, 2, 3}}))
	require.NoError(t, err)
	require.NoError(t, r.Route("/camera/points", cloudMsg))
	require.Equal(t, uint32(6), cloud.Header.Seq)

	require.Error(t, r.Route("/camera/color", []byte{0xff, 0x00}))
	require.Error(t, r.Route("/somewhere/else", colorMsg))

	// Delivered only because zmq matches subscriptions by prefix
	require.NoError(t, r.Route("/camera/color_info", []byte{0xff, 0x00}))
	require.NoError(t, r.Route("/camera/depth/compressed", depthMsg))

	stats := r.Stats()
	require.Equal(t, int64(2), stats.Ignored)
	require.Equal(t, uint32(5), depth.Header.Seq)
	require.Equal(t, int64(1), stats.Color)
	require.Equal(t, int64(1), stats.Depth)
	require.Equal(t, int64(1), stats.Cloud)
}
