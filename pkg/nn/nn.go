// Package nn defines the contract between the node and an object detection model.
// To resolve a model by name, use the nnload package.
package nn

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

const DefaultProbabilityThreshold = 0.5
const DefaultNmsIouThreshold = 0.45

// ObjectDetector finds objects in an RGB image
type ObjectDetector interface {
	Close()

	// Boxes are relative to img, not to the frame that img was cropped out of.
	// If params is nil, NewDetectionParams() is used.
	DetectObjects(img ImageCrop, params *DetectionParams) ([]ObjectDetection, error)

	// The returned config must not change during the life of the detector
	Config() *ModelConfig
}

// DetectionResult is the output of one detection run over a whole frame
type DetectionResult struct {
	ImageWidth  int               `json:"imageWidth"`
	ImageHeight int               `json:"imageHeight"`
	Objects     []ObjectDetection `json:"objects"`
	FramePTS    time.Time         `json:"framePTS"` // Stamp of the frame that was analyzed
}

type DetectionParams struct {
	ProbabilityThreshold float32 // 0..1. Lower values find more objects.
	NmsIouThreshold      float32 // 0..1. Lower values merge more overlapping boxes into one.
	Unclipped            bool    // Allow boxes to extend beyond the edges of the input
}

func NewDetectionParams() *DetectionParams {
	return &DetectionParams{
		ProbabilityThreshold: DefaultProbabilityThreshold,
		NmsIouThreshold:      DefaultNmsIouThreshold,
	}
}

// ModelConfig describes the input and output of a model.
// The inference server publishes it alongside each model.
type ModelConfig struct {
	Architecture string   `json:"architecture"` // eg "yolov8"
	Width        int      `json:"width"`        // NN input width, eg 320
	Height       int      `json:"height"`       // NN input height, eg 256
	Classes      []string `json:"classes"`      // Class names, in class index order
}

// LoadModelConfig reads a ModelConfig from a JSON file
func LoadModelConfig(filename string) (*ModelConfig, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	config := &ModelConfig{}
	if err := json.NewDecoder(f).Decode(config); err != nil {
		return nil, fmt.Errorf("Invalid model config %v: %w", filename, err)
	}
	if config.Width <= 0 || config.Height <= 0 {
		return nil, fmt.Errorf("Model config %v has invalid input size %v x %v", filename, config.Width, config.Height)
	}
	return config, nil
}
