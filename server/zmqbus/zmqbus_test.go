package zmqbus

import (
	"context"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/syncdetect/pkg/sensor"
	"github.com/cyclopcam/syncdetect/server/dispatch"
	"github.com/cyclopcam/syncdetect/server/feed"
	"github.com/pebbe/zmq4"
	"github.com/stretchr/testify/require"
)

func testImage(seq uint32) *sensor.Image {
	return &sensor.Image{Header: sensor.Header{Seq: seq}, Width: 1, Height: 1, Encoding: sensor.EncodingRGB8, Step: 3, Data: []byte{1, 2, 3}}
}

func TestSubscriberRoutesMessages(t *testing.T) {
	pub, err := zmq4.NewSocket(zmq4.PUB)
	require.NoError(t, err)
	defer pub.Close()
	require.NoError(t, pub.Bind("inproc://syncdetect-test-in"))

	var depthSeq uint32
	depthCh := make(chan uint32, 10)
	router := &feed.Router{
		Topics:  feed.Topics{Color: "color", Depth: "depth", Cloud: "cloud"},
		Mailbox: feed.NewMailbox(),
		OnDepth: func(img *sensor.Image) { depthCh <- img.Header.Seq },
		OnCloud: func(c *sensor.PointCloud) {},
	}
	sub, err := NewSubscriber(logs.NewTestingLog(t), "inproc://syncdetect-test-in", router)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan bool)
	go func() {
		sub.Run(ctx)
		close(stopped)
	}()

	colorMsg, _ := sensor.Marshal(testImage(1))
	depthMsg, _ := sensor.Marshal(testImage(2))
	// The subscription takes a moment to reach the publisher, so keep sending until something arrives
	require.Eventually(t, func() bool {
		pub.SendMessage("depth_info", []byte{0xff, 0x00})
		pub.SendMessage("color", colorMsg)
		pub.SendMessage("depth", depthMsg)
		select {
		case depthSeq = <-depthCh:
			return true
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, uint32(2), depthSeq)
	// depth_info matched the "depth" subscription, and was dropped without reaching OnDepth
	require.Greater(t, router.Stats().Ignored, int64(0))

	frame, err := router.Mailbox.Take(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint32(1), frame.Header.Seq)

	cancel()
	<-stopped
}

func TestPublisherTopics(t *testing.T) {
	p, err := NewPublisher(logs.NewTestingLog(t), "inproc://syncdetect-test-out")
	require.NoError(t, err)
	defer p.Close()

	sub, err := zmq4.NewSocket(zmq4.SUB)
	require.NoError(t, err)
	defer sub.Close()
	require.NoError(t, sub.SetSubscribe(dispatch.TopicDetections))
	require.NoError(t, sub.SetRcvtimeo(20*time.Millisecond))
	require.NoError(t, sub.Connect("inproc://syncdetect-test-out"))

	msg := &sensor.DetectionArray{Header: sensor.Header{Seq: 77}, ImageWidth: 10, ImageHeight: 10}
	var parts [][]byte
	require.Eventually(t, func() bool {
		p.PublishDetections(msg)
		// Not subscribed to this one, so it must never show up
		p.PublishImage(testImage(3))
		var recvErr error
		parts, recvErr = sub.RecvMessageBytes(0)
		return recvErr == nil
	}, 5*time.Second, 10*time.Millisecond)

	require.Len(t, parts, 2)
	require.Equal(t, dispatch.TopicDetections, string(parts[0]))
	got, err := sensor.UnmarshalDetectionArray(parts[1])
	require.NoError(t, err)
	require.Equal(t, uint32(77), got.Header.Seq)

	p.Close()
	require.Error(t, p.PublishDepth(testImage(1)))
}
