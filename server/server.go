// Package server wires the node together: transport, stream cache, dispatcher, and the optional
// live feed and detection history.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/syncdetect/pkg/blobstore"
	"github.com/cyclopcam/syncdetect/pkg/nn"
	"github.com/cyclopcam/syncdetect/server/config"
	"github.com/cyclopcam/syncdetect/server/detectiondb"
	"github.com/cyclopcam/syncdetect/server/dispatch"
	"github.com/cyclopcam/syncdetect/server/engine"
	"github.com/cyclopcam/syncdetect/server/feed"
	"github.com/cyclopcam/syncdetect/server/livefeed"
	"github.com/cyclopcam/syncdetect/server/streamcache"
	"github.com/cyclopcam/syncdetect/server/zmqbus"
	"github.com/google/uuid"
)

type Server struct {
	Log       logs.Log
	Config    *config.Config
	NodeID    uuid.UUID // Unique to this process
	StartedAt time.Time

	// ShutdownComplete is closed when Shutdown has finished
	ShutdownComplete chan bool

	detector    nn.ObjectDetector
	engine      *engine.NNEngine
	cache       *streamcache.Cache
	mailbox     *feed.Mailbox
	router      *feed.Router
	dispatcher  *dispatch.Dispatcher
	subscriber  *zmqbus.Subscriber
	publisher   *zmqbus.Publisher
	liveFeed    *livefeed.LiveFeed
	detectionDB *detectiondb.DetectionDB // nil if history is disabled
	gcs         *blobstore.GCS           // nil unless the archive is on GCS
	httpServer  *http.Server             // nil if HTTP is disabled

	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	signalIn     chan os.Signal
	shutdownOnce sync.Once
}

// NewServer creates all of the node's components, but does not start receiving.
// The server takes ownership of 'detector', and closes it during Shutdown.
func NewServer(logger logs.Log, cfg *config.Config, detector nn.ObjectDetector, labels *nn.LabelIndex) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		Log:              logger,
		Config:           cfg,
		NodeID:           uuid.New(),
		StartedAt:        time.Now(),
		ShutdownComplete: make(chan bool),
		detector:         detector,
		cache:            streamcache.NewCache(logger),
		mailbox:          feed.NewMailbox(),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	logger.Infof("Node %v starting", s.NodeID)

	engOpt := engine.DefaultOptions()
	engOpt.NumWorkers = cfg.NumWorkers
	engOpt.Tiled = cfg.Tiled
	if cfg.ProbabilityThreshold != 0 {
		engOpt.ProbabilityThreshold = cfg.ProbabilityThreshold
	}
	if cfg.NmsIouThreshold != 0 {
		engOpt.NmsIouThreshold = cfg.NmsIouThreshold
	}
	eng, err := engine.NewNNEngine(logger, detector, labels, engOpt)
	if err != nil {
		return nil, err
	}
	s.engine = eng

	// From here on, any failure must release what we've already created
	ok := false
	defer func() {
		if !ok {
			s.closeResources()
		}
	}()

	if s.publisher, err = zmqbus.NewPublisher(logger, cfg.OutputEndpoint); err != nil {
		return nil, fmt.Errorf("Failed to create publisher: %w", err)
	}

	s.dispatcher = dispatch.NewDispatcher(logger, s.cache, eng, s.publisher, dispatch.Options{
		DetectTimeout: cfg.DetectTimeout(),
	})

	s.router = &feed.Router{
		Topics: feed.Topics{
			Color: cfg.CameraTopic,
			Depth: cfg.DepthTopic,
			Cloud: cfg.CloudTopic,
		},
		Mailbox: s.mailbox,
		OnDepth: s.dispatcher.OnDepthFrame,
		OnCloud: s.dispatcher.OnCloud,
	}
	if s.subscriber, err = zmqbus.NewSubscriber(logger, cfg.InputEndpoint, s.router); err != nil {
		return nil, fmt.Errorf("Failed to create subscriber: %w", err)
	}

	if cfg.HistoryDB != "" {
		if err := s.openDetectionDB(); err != nil {
			return nil, err
		}
		s.dispatcher.AddObserver(s.detectionDB)
	}

	if cfg.HTTPPort != 0 {
		feedOpt := livefeed.DefaultOptions()
		feedOpt.JPEGQuality = cfg.JPEGQuality
		feedOpt.Status = func() any { return s.Status() }
		if s.detectionDB != nil {
			feedOpt.History = func(limit int) (any, error) {
				return s.detectionDB.Recent(limit)
			}
		}
		s.liveFeed = livefeed.New(logger, feedOpt)
		s.dispatcher.AddObserver(s.liveFeed)
		s.httpServer = &http.Server{
			Addr:    fmt.Sprintf(":%v", cfg.HTTPPort),
			Handler: s.liveFeed.Handler(),
		}
	}

	ok = true
	return s, nil
}

func (s *Server) openDetectionDB() error {
	cfg := s.Config
	var archive blobstore.Store
	if cfg.Archive != nil {
		switch cfg.Archive.Type {
		case config.ArchiveFilesystem:
			fs, err := blobstore.NewFS(s.Log, cfg.Archive.Path)
			if err != nil {
				return fmt.Errorf("Failed to open archive: %w", err)
			}
			archive = fs
		case config.ArchiveGCS:
			gcs, err := blobstore.NewGCS(s.ctx, s.Log, cfg.Archive.Bucket, cfg.Archive.Prefix, false)
			if err != nil {
				return fmt.Errorf("Failed to open archive: %w", err)
			}
			s.gcs = gcs
			archive = gcs
		}
	}

	opt := detectiondb.DefaultOptions()
	opt.ArchiveEveryN = cfg.ArchiveEveryN()
	opt.JPEGQuality = cfg.JPEGQuality
	db, err := detectiondb.Open(s.Log, cfg.HistoryDB, archive, opt)
	if err != nil {
		return fmt.Errorf("Failed to open detection history %v: %w", cfg.HistoryDB, err)
	}
	s.detectionDB = db
	return nil
}

// Run starts the receive loop, the dispatch loop, and the HTTP server, and returns immediately.
func (s *Server) Run() error {
	if s.httpServer != nil {
		s.Log.Infof("Listening on %v", s.httpServer.Addr)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Log.Errorf("HTTP server stopped: %v", err)
			}
		}()
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.dispatcher.Run(s.ctx, s.mailbox)
	}()
	go func() {
		defer s.wg.Done()
		s.subscriber.Run(s.ctx)
	}()
	return nil
}

func (s *Server) ListenForKillSignals() {
	s.Log.Infof("ListenForKillSignals starting")
	s.signalIn = make(chan os.Signal, 1)
	signal.Notify(s.signalIn, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig, ok := <-s.signalIn
		if ok {
			s.Log.Infof("Received OS signal '%v'. ListenForKillSignals will exit after shutdown", sig.String())
			s.Shutdown()
		} else {
			// Shutdown was called by something other than ourselves
			s.Log.Infof("signalIn closed. ListenForKillSignals will exit now")
		}
	}()
}

// Shutdown stops receiving, waits for the frame in flight, and then closes everything.
// It is safe to call Shutdown more than once.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.Log.Infof("Shutdown")
		if s.signalIn != nil {
			signal.Stop(s.signalIn)
			close(s.signalIn)
		}

		s.cancel()
		s.mailbox.Close()

		if s.httpServer != nil {
			s.Log.Infof("Closing HTTP server")
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := s.httpServer.Shutdown(ctx); err != nil {
				s.Log.Warnf("HTTP server shutdown: %v", err)
			}
			cancel()
		}

		s.wg.Wait()
		s.closeResources()
		s.Log.Infof("Shutdown complete")
		close(s.ShutdownComplete)
	})
}

// closeResources releases everything that NewServer created.
// The receive and dispatch loops must not be running.
func (s *Server) closeResources() {
	if s.subscriber != nil {
		s.subscriber.Close()
	}
	if s.publisher != nil {
		s.publisher.Close()
	}
	if s.detectionDB != nil {
		s.detectionDB.Close()
	}
	if s.gcs != nil {
		if err := s.gcs.Close(); err != nil {
			s.Log.Warnf("Error closing GCS client: %v", err)
		}
	}
	if s.detector != nil {
		s.detector.Close()
	}
}
