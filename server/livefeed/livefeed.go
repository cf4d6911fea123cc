// Package livefeed serves the node's status and its detections over HTTP and websockets.
package livefeed

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/bmharper/ringbuffer"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/syncdetect/pkg/sensor"
	"github.com/cyclopcam/syncdetect/server/dispatch"
	"github.com/cyclopcam/www"
	"github.com/go-chi/httprate"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

// Number of messages that may be waiting to be sent to a single websocket client
const WebSocketSendBufferSize = 50

type Options struct {
	BacklogSize int                          // Number of recent detection arrays kept in memory
	JPEGQuality int                          // Quality of /api/image/latest
	Status      func() any                   // Builds the response of /api/status
	History     func(limit int) (any, error) // Builds the response of /api/history. Nil disables the route.
}

func DefaultOptions() Options {
	return Options{
		BacklogSize: 100,
		JPEGQuality: 85,
	}
}

// LiveFeed is a dispatch.Observer that keeps the most recent detections in memory,
// and pushes every new detection array to websocket clients.
type LiveFeed struct {
	log      logs.Log
	opt      Options
	router   *httprouter.Router
	upgrader websocket.Upgrader

	lock         sync.Mutex
	backlog      ringbuffer.RingP[*sensor.DetectionArray]
	latestImage  *cimg.Image
	latestHeader sensor.Header
	clients      map[*client]bool
}

var _ dispatch.Observer = (*LiveFeed)(nil)

func New(logger logs.Log, opt Options) *LiveFeed {
	if opt.BacklogSize < 1 {
		opt.BacklogSize = 1
	}
	if opt.JPEGQuality < 1 {
		opt.JPEGQuality = 85
	}
	f := &LiveFeed{
		log:     logs.NewPrefixLogger(logger, "LiveFeed"),
		opt:     opt,
		router:  httprouter.New(),
		backlog: ringbuffer.NewRingP[*sensor.DetectionArray](opt.BacklogSize),
		clients: map[*client]bool{},
	}
	f.setupRoutes()
	return f
}

// Handler returns the HTTP handler of all our routes
func (f *LiveFeed) Handler() http.Handler {
	return f.router
}

func (f *LiveFeed) OnBundle(b *dispatch.Bundle) {
	msg, err := json.Marshal(b.Detections)
	if err != nil {
		f.log.Errorf("Failed to encode detections: %v", err)
		return
	}

	f.lock.Lock()
	defer f.lock.Unlock()
	f.backlog.Add(b.Detections)
	f.latestImage = b.Annotated
	f.latestHeader = b.Header
	for c := range f.clients {
		c.enqueue(msg)
	}
}

// Recent returns up to n of the most recent detection arrays, oldest first
func (f *LiveFeed) Recent(n int) []*sensor.DetectionArray {
	f.lock.Lock()
	defer f.lock.Unlock()
	total := f.backlog.Len()
	if n <= 0 || n > total {
		n = total
	}
	out := make([]*sensor.DetectionArray, 0, n)
	for i := total - n; i < total; i++ {
		out = append(out, f.backlog.Peek(i))
	}
	return out
}

// NumClients returns the number of connected websocket clients
func (f *LiveFeed) NumClients() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return len(f.clients)
}

func (f *LiveFeed) setupRoutes() {
	ratelimited := func(method, route string, handle httprouter.Handle, requestLimit int, windowLength time.Duration) {
		limited := httprate.Limit(requestLimit, windowLength, httprate.WithKeyFuncs(httprate.KeyByIP))
		www.Handle(f.log, f.router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			limited(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handle(w, r, params)
			})).ServeHTTP(w, r)
		})
	}

	ratelimited("GET", "/api/status", f.httpStatus, 20, time.Second)
	ratelimited("GET", "/api/detections/recent", f.httpRecent, 20, time.Second)
	ratelimited("GET", "/api/image/latest", f.httpLatestImage, 10, time.Second)
	ratelimited("GET", "/api/ws", f.httpWebSocket, 5, time.Second)
	if f.opt.History != nil {
		ratelimited("GET", "/api/history", f.httpHistory, 5, time.Second)
	}
}
