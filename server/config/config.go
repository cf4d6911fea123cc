// Package config holds the node's startup configuration.
// It is read once, and never changes while the node is running.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Archive types
const (
	ArchiveFilesystem = "filesystem"
	ArchiveGCS        = "gcs"
)

// Archive is where annotated frames are stored, for later review
type Archive struct {
	Type   string `json:"type"`   // "filesystem" or "gcs"
	Path   string `json:"path"`   // Root directory, when Type is "filesystem"
	Bucket string `json:"bucket"` // Bucket name, when Type is "gcs"
	Prefix string `json:"prefix"` // Optional prefix of every object name
	EveryN int    `json:"everyN"` // Store every Nth frame that has at least one detection
}

type Config struct {
	ModelName            string   `json:"modelName"`            // eg "yolov8m"
	ModelDir             string   `json:"modelDir"`             // Directory where model configs are cached
	InferenceURL         string   `json:"inferenceURL"`         // Base URL of the inference server, eg http://localhost:8000
	NumClasses           int      `json:"numClasses"`           // Number of classes that the model can detect
	LabelFile            string   `json:"labelFile"`            // Text file with one class name per line, or "builtin:coco"
	CameraTopic          string   `json:"cameraTopic"`          // Color frames
	DepthTopic           string   `json:"depthTopic"`           // Depth images
	CloudTopic           string   `json:"cloudTopic"`           // Point clouds
	NumWorkers           int      `json:"numWorkers"`           // Threads used by the detection engine
	InputEndpoint        string   `json:"inputEndpoint"`        // ZMQ endpoint that we connect to for sensor feeds, eg tcp://127.0.0.1:5555
	OutputEndpoint       string   `json:"outputEndpoint"`       // ZMQ endpoint that we bind to for our outputs, eg tcp://*:5556
	HTTPPort             int      `json:"httpPort"`             // Status and live feed. Zero disables the HTTP server.
	DetectTimeoutMS      int      `json:"detectTimeoutMS"`      // Abandon detections that take longer than this. Zero means wait forever.
	ProbabilityThreshold float32  `json:"probabilityThreshold"` // Zero uses the model default
	NmsIouThreshold      float32  `json:"nmsIouThreshold"`      // Zero uses the model default
	Tiled                bool     `json:"tiled"`                // Split frames that are larger than the NN input into tiles
	JPEGQuality          int      `json:"jpegQuality"`          // Quality of JPEGs served by the live feed and written to the archive
	HistoryDB            string   `json:"historyDB"`            // SQLite file for detection history. Empty disables history.
	Archive              *Archive `json:"archive"`              // Nil disables the archive
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "/var/lib"
	}
	return &Config{
		ModelDir:    home + "/syncdetect/models",
		HTTPPort:    8090,
		JPEGQuality: 85,
	}
}

// LoadConfig reads a JSON config file. Fields that are absent from the file keep their defaults.
func LoadConfig(filename string) (*Config, error) {
	if filename == "" {
		filename = "syncdetect.json"
	}
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("Error loading %v: %w", filename, err)
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("Error loading as JSON %v: %w", filename, err)
	}
	return cfg, nil
}

// Validate returns a single error that lists every problem with the config
func (c *Config) Validate() error {
	missing := []string{}
	if c.ModelName == "" {
		missing = append(missing, "modelName")
	}
	if c.NumClasses <= 0 {
		missing = append(missing, "numClasses")
	}
	if c.LabelFile == "" {
		missing = append(missing, "labelFile")
	}
	if c.CameraTopic == "" {
		missing = append(missing, "cameraTopic")
	}
	if c.DepthTopic == "" {
		missing = append(missing, "depthTopic")
	}
	if c.CloudTopic == "" {
		missing = append(missing, "cloudTopic")
	}
	if c.NumWorkers < 1 {
		missing = append(missing, "numWorkers")
	}
	if c.InputEndpoint == "" {
		missing = append(missing, "inputEndpoint")
	}
	if c.OutputEndpoint == "" {
		missing = append(missing, "outputEndpoint")
	}
	if c.InferenceURL == "" {
		missing = append(missing, "inferenceURL")
	}

	problems := []string{}
	if len(missing) != 0 {
		problems = append(problems, "missing "+strings.Join(missing, ", "))
	}
	problems = append(problems, topicProblems([]string{c.CameraTopic, c.DepthTopic, c.CloudTopic})...)
	if c.ProbabilityThreshold < 0 || c.ProbabilityThreshold > 1 {
		problems = append(problems, fmt.Sprintf("probabilityThreshold %v is outside of [0,1]", c.ProbabilityThreshold))
	}
	if c.NmsIouThreshold < 0 || c.NmsIouThreshold > 1 {
		problems = append(problems, fmt.Sprintf("nmsIouThreshold %v is outside of [0,1]", c.NmsIouThreshold))
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		problems = append(problems, fmt.Sprintf("jpegQuality %v is outside of [1,100]", c.JPEGQuality))
	}
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		problems = append(problems, fmt.Sprintf("httpPort %v is invalid", c.HTTPPort))
	}
	if c.DetectTimeoutMS < 0 {
		problems = append(problems, "detectTimeoutMS may not be negative")
	}
	if c.Archive != nil {
		switch c.Archive.Type {
		case ArchiveFilesystem:
			if c.Archive.Path == "" {
				problems = append(problems, "archive.path is required for a filesystem archive")
			}
		case ArchiveGCS:
			if c.Archive.Bucket == "" {
				problems = append(problems, "archive.bucket is required for a gcs archive")
			}
		default:
			problems = append(problems, fmt.Sprintf("archive.type '%v' must be '%v' or '%v'", c.Archive.Type, ArchiveFilesystem, ArchiveGCS))
		}
		if c.HistoryDB == "" {
			problems = append(problems, "archive requires historyDB")
		}
	}

	if len(problems) != 0 {
		return fmt.Errorf("Invalid configuration: %v", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) DetectTimeout() time.Duration {
	return time.Duration(c.DetectTimeoutMS) * time.Millisecond
}

// ArchiveEveryN returns how often frames are archived, which is at least 1
func (c *Config) ArchiveEveryN() int {
	if c.Archive == nil || c.Archive.EveryN < 1 {
		return 1
	}
	return c.Archive.EveryN
}

// Subscriptions match by prefix, so no topic may be a prefix of another
func topicProblems(topics []string) []string {
	problems := []string{}
	for i, a := range topics {
		for j, b := range topics {
			if i == j || a == "" || b == "" {
				continue
			}
			if a == b {
				if i < j {
					problems = append(problems, fmt.Sprintf("topics must be distinct ('%v' is used twice)", a))
				}
			} else if strings.HasPrefix(b, a) {
				problems = append(problems, fmt.Sprintf("topic '%v' is a prefix of '%v', so its subscription would also receive '%v'", a, b, b))
			}
		}
	}
	return problems
}
