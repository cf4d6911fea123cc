package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/akamensky/argparse"
	"github.com/coreos/go-systemd/daemon"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/syncdetect/pkg/nnload"
	"github.com/cyclopcam/syncdetect/server"
	"github.com/cyclopcam/syncdetect/server/config"
)

func main() {
	parser := argparse.NewParser("syncdetect", "Object detection, synchronized with depth and point cloud")
	configFile := parser.String("c", "config", &argparse.Options{Help: "JSON configuration file (if absent, everything must be specified on the command line)", Default: ""})
	modelName := parser.String("", "model", &argparse.Options{Help: "Neural network for object detection, eg yolov8m", Default: ""})
	inferenceURL := parser.String("", "inference", &argparse.Options{Help: "Base URL of the inference server", Default: ""})
	numClasses := parser.Int("", "classes", &argparse.Options{Help: "Number of classes that the model detects", Default: 0})
	labelFile := parser.String("", "labels", &argparse.Options{Help: "Label file, one class per line, or builtin:coco", Default: ""})
	cameraTopic := parser.String("", "camera", &argparse.Options{Help: "Topic of color frames", Default: ""})
	depthTopic := parser.String("", "depth", &argparse.Options{Help: "Topic of depth images", Default: ""})
	cloudTopic := parser.String("", "cloud", &argparse.Options{Help: "Topic of point clouds", Default: ""})
	numWorkers := parser.Int("", "workers", &argparse.Options{Help: "Threads used by the detection engine", Default: 0})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	cfg := config.DefaultConfig()
	if *configFile != "" {
		cfg, err = config.LoadConfig(*configFile)
		if err != nil {
			logger.Errorf("%v", err)
			os.Exit(1)
		}
	}

	// Command line overrides the config file
	overrideString := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	overrideInt := func(dst *int, v int) {
		if v != 0 {
			*dst = v
		}
	}
	overrideString(&cfg.ModelName, *modelName)
	overrideString(&cfg.InferenceURL, *inferenceURL)
	overrideInt(&cfg.NumClasses, *numClasses)
	overrideString(&cfg.LabelFile, *labelFile)
	overrideString(&cfg.CameraTopic, *cameraTopic)
	overrideString(&cfg.DepthTopic, *depthTopic)
	overrideString(&cfg.CloudTopic, *cloudTopic)
	overrideInt(&cfg.NumWorkers, *numWorkers)

	if err := cfg.Validate(); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}

	model := nnload.Model{
		Name:         cfg.ModelName,
		Dir:          cfg.ModelDir,
		InferenceURL: cfg.InferenceURL,
		NumClasses:   cfg.NumClasses,
		LabelFile:    cfg.LabelFile,
		Timeout:      30 * time.Second,
	}
	if cfg.DetectTimeout() != 0 {
		model.Timeout = cfg.DetectTimeout()
	}
	detector, labels, err := nnload.LoadModel(logger, model)
	if err != nil {
		logger.Errorf("Failed to load model '%v': %v", cfg.ModelName, err)
		os.Exit(1)
	}

	// The inference server may come up after us, so this is not fatal
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := nnload.Ping(ctx, model); err != nil {
		logger.Warnf("Inference server is not responding yet: %v", err)
	}
	cancel()

	srv, err := server.NewServer(logger, cfg, detector, labels)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	srv.ListenForKillSignals()
	if err := srv.Run(); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}

	// Tell systemd that we're alive
	daemon.SdNotify(false, daemon.SdNotifyReady)

	<-srv.ShutdownComplete
	logger.Close()
}
