// Package nnremote is an nn.ObjectDetector that runs on a separate inference server.
//
// The protocol is plain HTTP:
//
//	GET  {base}/v1/models/{model}         -> nn.ModelConfig (JSON)
//	POST {base}/v1/models/{model}/detect  <- image/jpeg, -> {"objects": [nn.ObjectDetection...]}
//
// Detection parameters are sent as query parameters. Boxes in the response are in the
// pixel space of the image that was sent.
package nnremote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/syncdetect/pkg/nn"
)

// JPEG quality of the images that we send to the server
const DefaultJPEGQuality = 95

const DefaultTimeout = 10 * time.Second

type detectResponse struct {
	Objects []nn.ObjectDetection `json:"objects"`
}

type Detector struct {
	client      *http.Client
	detectURL   string
	config      nn.ModelConfig
	jpegQuality int
}

var _ nn.ObjectDetector = (*Detector)(nil)

// ModelURL returns the URL of a model's config
func ModelURL(baseURL, modelName string) string {
	return baseURL + "/v1/models/" + url.PathEscape(modelName)
}

// NewDetector creates a detector for 'modelName' on the server at 'baseURL'.
// If timeout is zero, DefaultTimeout is used.
func NewDetector(baseURL, modelName string, config *nn.ModelConfig, timeout time.Duration) (*Detector, error) {
	if config == nil || config.Width <= 0 || config.Height <= 0 {
		return nil, fmt.Errorf("Model config for '%v' has no input size", modelName)
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("Invalid inference URL '%v': %w", baseURL, err)
	}
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Detector{
		client:      &http.Client{Timeout: timeout},
		detectURL:   ModelURL(baseURL, modelName) + "/detect",
		config:      *config,
		jpegQuality: DefaultJPEGQuality,
	}, nil
}

// FetchModelConfig asks the server for the config of 'modelName'
func FetchModelConfig(ctx context.Context, baseURL, modelName string) (*nn.ModelConfig, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", ModelURL(baseURL, modelName), nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		respB, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("HTTP error %v (%v)", resp.Status, string(respB))
	}
	cfg := &nn.ModelConfig{}
	if err := json.NewDecoder(resp.Body).Decode(cfg); err != nil {
		return nil, fmt.Errorf("Invalid model config: %w", err)
	}
	return cfg, nil
}

func (d *Detector) Close() {
	d.client.CloseIdleConnections()
}

func (d *Detector) Config() *nn.ModelConfig {
	return &d.config
}

func (d *Detector) DetectObjects(img nn.ImageCrop, params *nn.DetectionParams) ([]nn.ObjectDetection, error) {
	if img.Image.NChan() != 3 {
		return nil, fmt.Errorf("Expected 3 channels, but image has %v", img.Image.NChan())
	}
	if params == nil {
		params = nn.NewDetectionParams()
	}
	jpg, err := cimg.Compress(img.ToCImage(), cimg.MakeCompressParams(cimg.Sampling420, d.jpegQuality, 0))
	if err != nil {
		return nil, fmt.Errorf("Failed to compress image: %w", err)
	}

	q := url.Values{}
	q.Set("threshold", strconv.FormatFloat(float64(params.ProbabilityThreshold), 'f', -1, 32))
	q.Set("nms", strconv.FormatFloat(float64(params.NmsIouThreshold), 'f', -1, 32))
	if params.Unclipped {
		q.Set("unclipped", "1")
	}
	req, err := http.NewRequest("POST", d.detectURL+"?"+q.Encode(), bytes.NewReader(jpg))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		respB, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("HTTP error %v (%v)", resp.Status, string(respB))
	}
	result := detectResponse{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("Invalid detection response: %w", err)
	}
	if result.Objects == nil {
		result.Objects = []nn.ObjectDetection{}
	}
	return result.Objects, nil
}
