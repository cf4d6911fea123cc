package main

import (
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/syncdetect/pkg/sensor"
	"github.com/cyclopcam/syncdetect/server/dispatch"
	"github.com/pebbe/zmq4"
)

// Print the detections published by a syncdetect node, together with the distance
// to the center of each object, taken from the depth image that was published alongside it.

func check(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	parser := argparse.NewParser("detectdump", "Print detections from a syncdetect node")
	endpoint := parser.String("e", "endpoint", &argparse.Options{Help: "Output endpoint of the node", Default: "tcp://127.0.0.1:5556"})
	count := parser.Int("n", "count", &argparse.Options{Help: "Stop after this many detection messages (0 = forever)", Default: 0})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	sock, err := zmq4.NewSocket(zmq4.SUB)
	check(err)
	defer sock.Close()
	// "detections" is also a prefix of "detections_image", so topics are matched exactly below
	check(sock.SetSubscribe(dispatch.TopicDepthSynced))
	check(sock.SetSubscribe(dispatch.TopicDetections))
	check(sock.Connect(*endpoint))

	// depth_synced is published before detections for the same color frame
	var depth *sensor.Image
	for n := 0; *count == 0 || n < *count; {
		parts, err := sock.RecvMessageBytes(0)
		check(err)
		if len(parts) != 2 {
			continue
		}
		switch string(parts[0]) {
		case dispatch.TopicDepthSynced:
			img, err := sensor.UnmarshalImage(parts[1])
			if err != nil {
				fmt.Printf("Bad depth message: %v\n", err)
				continue
			}
			depth = img
		case dispatch.TopicDetections:
			msg, err := sensor.UnmarshalDetectionArray(parts[1])
			if err != nil {
				fmt.Printf("Bad detection message: %v\n", err)
				continue
			}
			fmt.Println(formatDetections(msg, depth))
			n++
		}
	}
}

// objectDepths returns the depth at the center of each detection, or NaN where it is unknown.
// The depth image may have a different resolution to the color frame.
func objectDepths(msg *sensor.DetectionArray, depth *sensor.Image) []float32 {
	out := make([]float32, len(msg.Detections))
	for i, d := range msg.Detections {
		out[i] = float32(math.NaN())
		if depth == nil || depth.IsEmpty() || msg.ImageWidth <= 0 || msg.ImageHeight <= 0 {
			continue
		}
		c := d.Box.Center()
		x := int(c.X) * depth.Width / msg.ImageWidth
		y := int(c.Y) * depth.Height / msg.ImageHeight
		out[i] = depth.DepthAt(x, y)
	}
	return out
}

func formatDetections(msg *sensor.DetectionArray, depth *sensor.Image) string {
	s := strings.Builder{}
	fmt.Fprintf(&s, "%v [%v]:", msg.Header.Seq, msg.Header.Time().Format("15:04:05.000"))
	if len(msg.Detections) == 0 {
		s.WriteString(" nothing")
	}
	for i, z := range objectDepths(msg, depth) {
		d := msg.Detections[i]
		fmt.Fprintf(&s, " %v %.2f", d.Label, d.Confidence)
		if !math.IsNaN(float64(z)) {
			fmt.Fprintf(&s, " @ %.2fm", z)
		}
		s.WriteString(",")
	}
	return strings.TrimSuffix(s.String(), ",")
}
