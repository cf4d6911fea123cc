package livefeed

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

type webSocketJSON struct {
	Command string `json:"command"`
}

// A single websocket client
type client struct {
	sendQueue   chan []byte
	paused      atomic.Bool
	closeOnce   sync.Once
	nDropped    atomic.Int64
	lastDropMsg atomic.Int64 // Unix nanoseconds
}

func newClient(queueSize int) *client {
	return &client{
		sendQueue: make(chan []byte, queueSize),
	}
}

// enqueue never blocks. If the client is too slow, messages are dropped.
// Must be called with LiveFeed.lock held, so that it cannot race with close.
func (c *client) enqueue(msg []byte) {
	if c.paused.Load() {
		return
	}
	select {
	case c.sendQueue <- msg:
	default:
		c.nDropped.Add(1)
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.sendQueue)
	})
}

func (f *LiveFeed) runClient(conn *websocket.Conn) {
	defer conn.Close()
	// Room for the whole backlog, so that a new client starts from the newest messages
	c := newClient(max(WebSocketSendBufferSize, f.opt.BacklogSize))

	// Register and queue the backlog under the same lock, so that no message is missed or duplicated
	f.lock.Lock()
	for i := max(0, f.backlog.Len()-cap(c.sendQueue)); i < f.backlog.Len(); i++ {
		if msg, err := json.Marshal(f.backlog.Peek(i)); err == nil {
			c.enqueue(msg)
		}
	}
	f.clients[c] = true
	nClients := len(f.clients)
	f.lock.Unlock()
	f.log.Infof("Websocket client connected (%v clients)", nClients)

	writerDone := make(chan bool)
	go f.webSocketWriter(conn, c, writerDone)
	f.webSocketReader(conn, c)

	f.lock.Lock()
	delete(f.clients, c)
	c.close()
	f.lock.Unlock()
	<-writerDone
	f.log.Infof("Websocket client disconnected. %v messages dropped", c.nDropped.Load())
}

// Read commands from the client until the connection is closed
func (f *LiveFeed) webSocketReader(conn *websocket.Conn, c *client) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		msg := webSocketJSON{}
		if err := json.Unmarshal(data, &msg); err != nil {
			f.log.Infof("Failed to decode websocket JSON: %v", err)
			continue
		}
		switch msg.Command {
		case "pause":
			c.paused.Store(true)
		case "resume":
			c.paused.Store(false)
		default:
			f.log.Infof("Unknown websocket message from client: '%v'", msg.Command)
		}
	}
}

func (f *LiveFeed) webSocketWriter(conn *websocket.Conn, c *client, done chan bool) {
	defer close(done)
	for msg := range c.sendQueue {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			f.log.Infof("Websocket write failed: %v", err)
			// Unblock the reader, which will then unregister us
			conn.Close()
			// Drain, so that the sender can close sendQueue
			for range c.sendQueue {
			}
			return
		}
	}
}
