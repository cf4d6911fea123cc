// Package nnload resolves a model name into a concrete nn.ObjectDetector, so that callers
// can load a model with one function call, and not need to know where it runs.
//
// Model configs are cached in modelDir. If a config is not yet cached, it is downloaded
// from the inference server.
package nnload

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/syncdetect/pkg/nn"
	"github.com/cyclopcam/syncdetect/pkg/nnremote"
)

// Model describes which model to load, and how to interpret its output
type Model struct {
	Name         string        // eg "yolov8m"
	Dir          string        // Cache directory for model configs
	InferenceURL string        // Base URL of the inference server
	NumClasses   int           // Number of classes to expose
	LabelFile    string        // Label file path, or eg "builtin:coco"
	Timeout      time.Duration // HTTP timeout of a single detection
}

func downloadFile(srcUrl, targetFile string) error {
	tempFile := targetFile + ".tmp"
	if err := os.MkdirAll(filepath.Dir(targetFile), 0755); err != nil {
		return err
	}
	resp, err := http.DefaultClient.Get(srcUrl)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return fmt.Errorf("HTTP error %v", resp.Status)
	}
	file, err := os.Create(tempFile)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = io.Copy(file, resp.Body)
	if err != nil {
		return err
	}
	file.Close()
	return os.Rename(tempFile, targetFile)
}

// ConfigPath returns the path of the cached config of a model
func ConfigPath(modelDir, modelName string) string {
	return filepath.Join(modelDir, modelName+".json")
}

// If the model config is not yet cached, then download it now.
// Returns immediately if the config is already cached.
func DownloadModelConfig(logs logs.Log, m Model) error {
	diskPath := ConfigPath(m.Dir, m.Name)
	if _, err := os.Stat(diskPath); os.IsNotExist(err) {
		networkUrl := nnremote.ModelURL(m.InferenceURL, m.Name)
		logs.Infof("Downloading %v to %v", networkUrl, diskPath)
		return downloadFile(networkUrl, diskPath)
	} else {
		return err
	}
}

// LoadModel returns the detector and the label index of the model.
func LoadModel(logs logs.Log, m Model) (nn.ObjectDetector, *nn.LabelIndex, error) {
	labels, err := nn.LoadLabelIndex(m.LabelFile, m.NumClasses)
	if err != nil {
		return nil, nil, err
	}

	if err := DownloadModelConfig(logs, m); err != nil {
		return nil, nil, fmt.Errorf("Download failed: %w", err)
	}
	config, err := nn.LoadModelConfig(ConfigPath(m.Dir, m.Name))
	if err != nil {
		return nil, nil, err
	}
	if len(config.Classes) != 0 && len(config.Classes) != labels.NumClasses() {
		logs.Warnf("Model '%v' has %v classes, but the label index has %v", m.Name, len(config.Classes), labels.NumClasses())
	}

	detector, err := nnremote.NewDetector(m.InferenceURL, m.Name, config, m.Timeout)
	if err != nil {
		return nil, nil, err
	}
	return detector, labels, nil
}

// Ping checks that the inference server knows about the model
func Ping(ctx context.Context, m Model) error {
	_, err := nnremote.FetchModelConfig(ctx, m.InferenceURL, m.Name)
	return err
}
