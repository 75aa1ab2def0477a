package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshlink/connection"
	"github.com/opd-ai/meshlink/flow"
	"github.com/opd-ai/meshlink/packet"
)

// frameBuffer is the depth of the Frames channel.
const frameBuffer = 64

// Stream is a Transport over one io.ReadWriteCloser. It reports Connected
// once started and Disconnected when the stream fails or is closed; it
// does not reopen the stream.
type Stream struct {
	rwc    io.ReadWriteCloser
	frames chan []byte
	state  *flow.Value[connection.State]

	started   bool
	closed    bool
	closeOnce sync.Once

	writeMu sync.Mutex
	mu      sync.Mutex
}

// NewStream wraps rwc. Nothing is read until Start.
func NewStream(rwc io.ReadWriteCloser) *Stream {
	return &Stream{
		rwc:    rwc,
		frames: make(chan []byte, frameBuffer),
		state:  flow.NewComparable(connection.Disconnected),
	}
}

// Start wakes the radio and reads frames until the stream ends or ctx is
// done. The returned channel is closed when reading stops.
func (s *Stream) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})

	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		close(done)
		return done
	}
	s.started = true
	s.mu.Unlock()

	if err := s.write(wakeBytes); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Start",
			"error":    err.Error(),
		}).Warn("Failed to wake radio")
	}
	s.state.Set(connection.Connected)

	stop := context.AfterFunc(ctx, func() { s.Close() })
	go func() {
		defer close(done)
		defer stop()
		err := pump(ctx, s.rwc, s.frames)
		s.finish(err)
	}()
	return done
}

func (s *Stream) finish(err error) {
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
		logrus.WithFields(logrus.Fields{
			"function": "Stream",
			"error":    err.Error(),
		}).Warn("Radio stream failed")
	}
	s.Close()
	s.state.Set(connection.Disconnected)
	close(s.frames)
}

// SendToRadio frames payload and writes it.
func (s *Stream) SendToRadio(ctx context.Context, payload []byte) error {
	frame, err := EncodeFrame(payload)
	if err != nil {
		return err
	}
	if s.state.Get() != connection.Connected {
		return fmt.Errorf("stream: %w", packet.ErrNotConnected)
	}
	return s.write(frame)
}

func (s *Stream) write(b []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.rwc.Write(b); err != nil {
		return fmt.Errorf("stream write: %w", err)
	}
	return nil
}

// Frames delivers received frame payloads. It is closed when the stream ends.
func (s *Stream) Frames() <-chan []byte { return s.frames }

// State publishes the link state.
func (s *Stream) State() *flow.Value[connection.State] { return s.state }

// Close closes the underlying stream.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		err = s.rwc.Close()
	})
	return err
}
