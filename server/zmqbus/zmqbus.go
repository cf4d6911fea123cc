// Package zmqbus connects the node to its sensor feeds and consumers over ZeroMQ.
// Every message is two frames: [topic, CBOR payload].
package zmqbus

import (
	"context"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/syncdetect/pkg/sensor"
	"github.com/cyclopcam/syncdetect/server/dispatch"
	"github.com/cyclopcam/syncdetect/server/feed"
	"github.com/pebbe/zmq4"
)

// How often the receive loop wakes up to check for cancellation
const recvPollInterval = 250 * time.Millisecond

const errorLogInterval = 15 * time.Second

// Subscriber receives the color, depth, and cloud feeds on a single SUB socket
type Subscriber struct {
	log      logs.Log
	endpoint string
	router   *feed.Router
	sock     *zmq4.Socket

	closeOnce sync.Once
}

// NewSubscriber connects to 'endpoint' and subscribes to every topic of the router.
// zmq matches subscriptions by prefix, so the router also sees longer topics that start
// with one of ours (eg "camera_info" for "camera"). The router ignores those.
func NewSubscriber(log logs.Log, endpoint string, router *feed.Router) (*Subscriber, error) {
	sock, err := zmq4.NewSocket(zmq4.SUB)
	if err != nil {
		return nil, err
	}
	if err := sock.SetRcvtimeo(recvPollInterval); err != nil {
		sock.Close()
		return nil, err
	}
	for _, topic := range router.Topics.All() {
		if err := sock.SetSubscribe(topic); err != nil {
			sock.Close()
			return nil, fmt.Errorf("Failed to subscribe to '%v': %w", topic, err)
		}
	}
	if err := sock.Connect(endpoint); err != nil {
		sock.Close()
		return nil, fmt.Errorf("Failed to connect to %v: %w", endpoint, err)
	}
	return &Subscriber{
		log:      logs.NewPrefixLogger(log, "ZMQ"),
		endpoint: endpoint,
		router:   router,
		sock:     sock,
	}, nil
}

// Run receives messages until ctx is cancelled. The socket is closed when Run returns.
// A zmq socket may only be used by one thread, so all receiving happens here.
func (s *Subscriber) Run(ctx context.Context) {
	defer s.Close()
	s.log.Infof("Receiving %v from %v", s.router.Topics.All(), s.endpoint)
	lastErrAt := time.Time{}
	logError := func(format string, args ...any) {
		if time.Since(lastErrAt) > errorLogInterval {
			s.log.Errorf(format, args...)
			lastErrAt = time.Now()
		}
	}

	for ctx.Err() == nil {
		parts, err := s.sock.RecvMessageBytes(0)
		if err != nil {
			if zmq4.AsErrno(err) == zmq4.Errno(syscall.EAGAIN) {
				continue
			}
			if ctx.Err() != nil {
				break
			}
			logError("Receive error: %v", err)
			continue
		}
		if len(parts) != 2 {
			logError("Expected 2 message parts, but got %v", len(parts))
			continue
		}
		if err := s.router.Route(string(parts[0]), parts[1]); err != nil {
			logError("%v", err)
		}
	}
	s.log.Infof("Receive loop stopped")
}

// Close the socket. Only call this if Run was never started, or after Run has returned.
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		s.sock.Close()
	})
}

// Publisher sends our four outputs on a PUB socket.
// "detections" is a prefix of "detections_image", so a consumer that only wants
// detections must compare the topic frame exactly.
type Publisher struct {
	log  logs.Log
	lock sync.Mutex // zmq sockets are not thread safe
	sock *zmq4.Socket
}

var _ dispatch.Publisher = (*Publisher)(nil)

// NewPublisher binds a PUB socket to 'endpoint'
func NewPublisher(log logs.Log, endpoint string) (*Publisher, error) {
	sock, err := zmq4.NewSocket(zmq4.PUB)
	if err != nil {
		return nil, err
	}
	// Don't hang on Close if a subscriber is slow
	if err := sock.SetLinger(0); err != nil {
		sock.Close()
		return nil, err
	}
	if err := sock.Bind(endpoint); err != nil {
		sock.Close()
		return nil, fmt.Errorf("Failed to bind %v: %w", endpoint, err)
	}
	log = logs.NewPrefixLogger(log, "ZMQ")
	log.Infof("Publishing on %v", endpoint)
	return &Publisher{
		log:  log,
		sock: sock,
	}, nil
}

func (p *Publisher) send(topic string, msg any) error {
	payload, err := sensor.Marshal(msg)
	if err != nil {
		return err
	}
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.sock == nil {
		return fmt.Errorf("Publisher is closed")
	}
	_, err = p.sock.SendMessageDontwait(topic, payload)
	return err
}

func (p *Publisher) PublishDepth(img *sensor.Image) error {
	return p.send(dispatch.TopicDepthSynced, img)
}

func (p *Publisher) PublishCloud(cloud *sensor.PointCloud) error {
	return p.send(dispatch.TopicCloudSynced, cloud)
}

func (p *Publisher) PublishDetections(msg *sensor.DetectionArray) error {
	return p.send(dispatch.TopicDetections, msg)
}

func (p *Publisher) PublishImage(img *sensor.Image) error {
	return p.send(dispatch.TopicDetectionsImage, img)
}

func (p *Publisher) Close() {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.sock != nil {
		p.sock.Close()
		p.sock = nil
	}
}
