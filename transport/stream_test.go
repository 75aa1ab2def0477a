package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/meshlink/connection"
	"github.com/opd-ai/meshlink/packet"
)

// fakeRadio is the far end of a link. It collects every frame the client
// writes.
type fakeRadio struct {
	conn     net.Conn
	received chan []byte
}

func newFakeRadio(conn net.Conn) *fakeRadio {
	r := &fakeRadio{conn: conn, received: make(chan []byte, 16)}
	go func() {
		defer close(r.received)
		fr := NewFrameReader(conn)
		for {
			b, err := fr.ReadFrame()
			if err != nil {
				return
			}
			r.received <- b
		}
	}()
	return r
}

func (r *fakeRadio) send(t *testing.T, payload []byte) {
	t.Helper()
	_, err := r.conn.Write(mustFrame(t, payload))
	require.NoError(t, err)
}

func (r *fakeRadio) next(t *testing.T) []byte {
	t.Helper()
	select {
	case b, ok := <-r.received:
		require.True(t, ok, "link closed")
		return b
	case <-time.After(time.Second):
		t.Fatal("no frame from client")
		return nil
	}
}

func receiveFrame(t *testing.T, frames <-chan []byte) []byte {
	t.Helper()
	select {
	case b, ok := <-frames:
		require.True(t, ok, "frames closed")
		return b
	case <-time.After(time.Second):
		t.Fatal("no frame from radio")
		return nil
	}
}

func TestStreamExchangesFrames(t *testing.T) {
	client, server := net.Pipe()
	radio := newFakeRadio(server)
	s := NewStream(client)
	assert.Equal(t, connection.Disconnected, s.State().Get())

	done := s.Start(context.Background())
	defer s.Close()
	assert.Equal(t, connection.Connected, s.State().Get())

	radio.send(t, []byte("from radio"))
	assert.Equal(t, []byte("from radio"), receiveFrame(t, s.Frames()))

	require.NoError(t, s.SendToRadio(context.Background(), []byte("to radio")))
	assert.Equal(t, []byte("to radio"), radio.next(t))

	require.NoError(t, server.Close())
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream did not stop")
	}
	assert.Equal(t, connection.Disconnected, s.State().Get())
	_, open := <-s.Frames()
	assert.False(t, open)

	err := s.SendToRadio(context.Background(), []byte("late"))
	assert.ErrorIs(t, err, packet.ErrNotConnected)
}

func TestStreamStopsWithContext(t *testing.T) {
	client, server := net.Pipe()
	newFakeRadio(server)
	s := NewStream(client)

	ctx, cancel := context.WithCancel(context.Background())
	done := s.Start(ctx)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream did not stop")
	}
	assert.Equal(t, connection.Disconnected, s.State().Get())
}

func TestStreamStartTwice(t *testing.T) {
	client, server := net.Pipe()
	newFakeRadio(server)
	s := NewStream(client)
	defer s.Close()

	s.Start(context.Background())
	second := s.Start(context.Background())
	select {
	case <-second:
	default:
		t.Fatal("second Start should return a closed channel")
	}
}
