package dispatch

import (
	"github.com/cyclopcam/syncdetect/pkg/perfstats"
)

// Channel identifies one of our four outputs
type Channel int

const (
	ChannelDepth Channel = iota
	ChannelCloud
	ChannelDetections
	ChannelImage
	NumChannels
)

// Topic names of the output channels
const (
	TopicDetections      = "detections"
	TopicDetectionsImage = "detections_image"
	TopicDepthSynced     = "depth_synced"
	TopicCloudSynced     = "cloud_synced"
)

func (c Channel) String() string {
	switch c {
	case ChannelDepth:
		return TopicDepthSynced
	case ChannelCloud:
		return TopicCloudSynced
	case ChannelDetections:
		return TopicDetections
	case ChannelImage:
		return TopicDetectionsImage
	}
	return "unknown"
}

type counters struct {
	Frames         int64
	DecodeErrors   int64
	DetectErrors   int64 // Includes timeouts and visualization errors
	DetectTimeouts int64
	Bundles        int64 // Frames that made it to the publish stage
	PublishErrors  [NumChannels]int64
}

// Stats is a snapshot of the dispatcher's counters
type Stats struct {
	Frames         int64             `json:"frames"`
	DecodeErrors   int64             `json:"decodeErrors"`
	DetectErrors   int64             `json:"detectErrors"`
	DetectTimeouts int64             `json:"detectTimeouts"`
	Bundles        int64             `json:"bundles"`
	PublishErrors  map[string]int64  `json:"publishErrors"` // Keyed by topic
	DetectLatency  perfstats.Summary `json:"detectLatency"`
}

func (d *Dispatcher) Stats() Stats {
	d.lock.Lock()
	defer d.lock.Unlock()
	s := Stats{
		Frames:         d.counters.Frames,
		DecodeErrors:   d.counters.DecodeErrors,
		DetectErrors:   d.counters.DetectErrors,
		DetectTimeouts: d.counters.DetectTimeouts,
		Bundles:        d.counters.Bundles,
		PublishErrors:  map[string]int64{},
		DetectLatency:  d.detectLatency.Summary(),
	}
	for ch := Channel(0); ch < NumChannels; ch++ {
		s.PublishErrors[ch.String()] = d.counters.PublishErrors[ch]
	}
	return s
}
