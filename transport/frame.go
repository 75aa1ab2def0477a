package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshlink/connection"
	"github.com/opd-ai/meshlink/flow"
	"github.com/opd-ai/meshlink/limits"
)

const (
	start1    = 0x94
	start2    = 0xc3
	headerLen = 4

	// maxDebugLine bounds a console line held while waiting for its newline.
	maxDebugLine = 256
)

// wakeBytes are written when a link opens so a sleeping radio notices the
// client before the first real frame.
var wakeBytes = bytes.Repeat([]byte{start2}, 32)

// Transport is a framed link to the radio.
type Transport interface {
	SendToRadio(ctx context.Context, frame []byte) error
	Frames() <-chan []byte
	State() *flow.Value[connection.State]
}

// EncodeFrame prefixes payload with the frame header.
func EncodeFrame(payload []byte) ([]byte, error) {
	if err := limits.ValidateFramePayload(payload); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	out := make([]byte, headerLen+len(payload))
	out[0] = start1
	out[1] = start2
	out[2] = byte(len(payload) >> 8)
	out[3] = byte(len(payload))
	copy(out[headerLen:], payload)
	return out, nil
}

// FrameReader splits a byte stream into frame payloads. Bytes outside a
// frame are collected into console lines and logged. A header announcing
// more than limits.MaxFramePayload bytes is treated as noise and the reader
// looks for the next header.
type FrameReader struct {
	r       *bufio.Reader
	console []byte
}

// NewFrameReader reads frames from r.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: bufio.NewReaderSize(r, limits.MaxFramePayload+headerLen)}
}

// ReadFrame returns the next frame payload. It returns the underlying read
// error, io.EOF included, once the stream ends.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	for {
		b, err := fr.r.ReadByte()
		if err != nil {
			fr.flushConsole()
			return nil, err
		}
		if b != start1 {
			fr.consoleByte(b)
			continue
		}

		b, err = fr.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != start2 {
			fr.consoleByte(start1)
			if err := fr.r.UnreadByte(); err != nil {
				return nil, err
			}
			continue
		}
		fr.flushConsole()

		var size [2]byte
		if _, err := io.ReadFull(fr.r, size[:]); err != nil {
			return nil, err
		}
		n := int(size[0])<<8 | int(size[1])
		if n == 0 || n > limits.MaxFramePayload {
			logrus.WithFields(logrus.Fields{
				"function": "ReadFrame",
				"length":   n,
			}).Warn("Discarding frame header with bad length")
			continue
		}

		payload := make([]byte, n)
		if _, err := io.ReadFull(fr.r, payload); err != nil {
			return nil, err
		}
		return payload, nil
	}
}

func (fr *FrameReader) consoleByte(b byte) {
	switch {
	case b == '\n':
		fr.flushConsole()
	case b == '\r' || b == start2:
	default:
		fr.console = append(fr.console, b)
		if len(fr.console) >= maxDebugLine {
			fr.flushConsole()
		}
	}
}

func (fr *FrameReader) flushConsole() {
	if len(fr.console) == 0 {
		return
	}
	logrus.WithField("function", "ReadFrame").Debug("Radio console: " + string(fr.console))
	fr.console = fr.console[:0]
}

// pump copies frames from r to out until r fails or ctx is done.
func pump(ctx context.Context, r io.Reader, out chan<- []byte) error {
	fr := NewFrameReader(r)
	for {
		payload, err := fr.ReadFrame()
		if err != nil {
			return err
		}
		select {
		case out <- payload:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
