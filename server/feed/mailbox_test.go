package feed

import (
	"context"
	"testing"
	"time"

	"github.com/cyclopcam/syncdetect/pkg/sensor"
	"github.com/stretchr/testify/require"
)

func frame(seq uint32) *sensor.Image {
	return &sensor.Image{Header: sensor.Header{Seq: seq}, Width: 1, Height: 1, Encoding: sensor.EncodingMono8, Step: 1, Data: []byte{byte(seq)}}
}

func TestLastFrameWins(t *testing.T) {
	m := NewMailbox()
	require.NoError(t, m.Put(frame(1)))
	require.NoError(t, m.Put(frame(2)))
	require.NoError(t, m.Put(frame(3)))
	f, err := m.Take(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint32(3), f.Header.Seq)
	require.Equal(t, MailboxStats{Received: 3, Taken: 1, Dropped: 2}, m.Stats())
}

func TestTakeWaitsForPut(t *testing.T) {
	m := NewMailbox()
	got := make(chan uint32)
	go func() {
		f, err := m.Take(context.Background())
		if err == nil {
			got <- f.Header.Seq
		}
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, m.Put(frame(9)))
	select {
	case seq := <-got:
		require.Equal(t, uint32(9), seq)
	case <-time.After(2 * time.Second):
		t.Fatal("Take did not wake up")
	}
}

func TestTakeCancelled(t *testing.T) {
	m := NewMailbox()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.Take(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClose(t *testing.T) {
	m := NewMailbox()
	done := make(chan error)
	go func() {
		_, err := m.Take(context.Background())
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	m.Close()
	require.ErrorIs(t, <-done, ErrClosed)
	require.ErrorIs(t, m.Put(frame(1)), ErrClosed)
}
