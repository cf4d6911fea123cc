// Package feed delivers color frames from the transport to the dispatcher.
package feed

import (
	"context"
	"errors"
	"sync"

	"github.com/cyclopcam/syncdetect/pkg/sensor"
)

var ErrClosed = errors.New("Mailbox is closed")

type MailboxStats struct {
	Received int64 `json:"received"`
	Taken    int64 `json:"taken"`
	Dropped  int64 `json:"dropped"` // Frames that were overwritten before anybody took them
}

// Mailbox is a single-slot holder of the most recent color frame.
// Put never blocks. If the consumer is slow, older frames are overwritten and counted
// as dropped, so the consumer always works on the newest frame.
type Mailbox struct {
	lock   sync.Mutex
	cond   *sync.Cond
	frame  *sensor.Image
	closed bool
	stats  MailboxStats
}

func NewMailbox() *Mailbox {
	m := &Mailbox{}
	m.cond = sync.NewCond(&m.lock)
	return m
}

// Put replaces the frame in the slot. The mailbox takes ownership of 'frame'.
func (m *Mailbox) Put(frame *sensor.Image) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.frame != nil {
		m.stats.Dropped++
	}
	m.frame = frame
	m.stats.Received++
	m.cond.Signal()
	return nil
}

// Take blocks until a frame is available, and removes it from the slot.
// Returns ErrClosed after Close, or ctx.Err() if the context is cancelled first.
func (m *Mailbox) Take(ctx context.Context) (*sensor.Image, error) {
	stop := context.AfterFunc(ctx, func() {
		m.lock.Lock()
		m.cond.Broadcast()
		m.lock.Unlock()
	})
	defer stop()

	m.lock.Lock()
	defer m.lock.Unlock()
	for m.frame == nil && !m.closed && ctx.Err() == nil {
		m.cond.Wait()
	}
	if m.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	frame := m.frame
	m.frame = nil
	m.stats.Taken++
	return frame, nil
}

// Close wakes up any waiting consumer. A pending frame is discarded.
func (m *Mailbox) Close() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.closed = true
	m.frame = nil
	m.cond.Broadcast()
}

func (m *Mailbox) Stats() MailboxStats {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.stats
}
