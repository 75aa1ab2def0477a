package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshlink/connection"
	"github.com/opd-ai/meshlink/flow"
	"github.com/opd-ai/meshlink/packet"
)

const (
	// DefaultTCPPort is the port network-attached radios listen on.
	DefaultTCPPort = 4403
	// DefaultReconnectInterval is the pause between dial attempts.
	DefaultReconnectInterval = 5 * time.Second
	// DefaultDialTimeout bounds one dial attempt.
	DefaultDialTimeout = 10 * time.Second
	// DefaultWriteTimeout bounds one frame write when ctx has no deadline.
	DefaultWriteTimeout = 5 * time.Second
)

// DialFunc opens a connection to address.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// TCPOptions configures NewTCP.
type TCPOptions struct {
	// Address is host or host:port; the port defaults to DefaultTCPPort.
	Address           string
	ReconnectInterval time.Duration
	DialTimeout       time.Duration
	WriteTimeout      time.Duration
	// Dial replaces net.Dialer for tests.
	Dial DialFunc
}

// TCP is a Transport to a network-attached radio that redials whenever the
// connection drops.
type TCP struct {
	address string
	opts    TCPOptions
	frames  chan []byte
	state   *flow.Value[connection.State]

	conn net.Conn

	writeMu sync.Mutex
	mu      sync.Mutex
}

// NewTCP creates a transport for opts.Address. Nothing is dialed until Run.
func NewTCP(opts TCPOptions) *TCP {
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = DefaultReconnectInterval
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.Dial == nil {
		d := &net.Dialer{}
		opts.Dial = d.DialContext
	}
	return &TCP{
		address: WithDefaultPort(opts.Address),
		opts:    opts,
		frames:  make(chan []byte, frameBuffer),
		state:   flow.NewComparable(connection.Disconnected),
	}
}

// WithDefaultPort appends DefaultTCPPort to an address that has none.
func WithDefaultPort(address string) string {
	if _, _, err := net.SplitHostPort(address); err == nil {
		return address
	}
	return net.JoinHostPort(address, strconv.Itoa(DefaultTCPPort))
}

// Address is the dialed host:port.
func (t *TCP) Address() string { return t.address }

// Run keeps the radio connected until ctx is done, then closes Frames.
func (t *TCP) Run(ctx context.Context) error {
	defer close(t.frames)
	for {
		conn, err := t.dial(ctx)
		if err == nil {
			t.serve(ctx, conn)
		} else if ctx.Err() == nil {
			logrus.WithFields(logrus.Fields{
				"function": "Run",
				"address":  t.address,
				"error":    err.Error(),
				"retry_in": t.opts.ReconnectInterval.String(),
			}).Warn("Failed to reach radio")
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		timer := time.NewTimer(t.opts.ReconnectInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (t *TCP) dial(ctx context.Context) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, t.opts.DialTimeout)
	defer cancel()
	conn, err := t.opts.Dial(dialCtx, "tcp", t.address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", t.address, err)
	}
	return conn, nil
}

// serve reads one connection until it fails.
func (t *TCP) serve(ctx context.Context, conn net.Conn) {
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "serve",
		"address":  t.address,
	}).Info("Connected to radio")

	if err := t.writeConn(ctx, conn, wakeBytes); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "serve",
			"error":    err.Error(),
		}).Warn("Failed to wake radio")
	}
	t.state.Set(connection.Connected)

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	err := pump(ctx, conn, t.frames)
	stop()

	t.mu.Lock()
	t.conn = nil
	t.mu.Unlock()
	conn.Close()

	if err != nil && !errors.Is(err, io.EOF) && ctx.Err() == nil {
		logrus.WithFields(logrus.Fields{
			"function": "serve",
			"address":  t.address,
			"error":    err.Error(),
		}).Warn("Radio connection lost")
	} else {
		logrus.WithFields(logrus.Fields{
			"function": "serve",
			"address":  t.address,
		}).Info("Radio connection closed")
	}
	t.state.Set(connection.Disconnected)
}

// SendToRadio frames payload and writes it to the current connection.
func (t *TCP) SendToRadio(ctx context.Context, payload []byte) error {
	frame, err := EncodeFrame(payload)
	if err != nil {
		return err
	}
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("tcp %s: %w", t.address, packet.ErrNotConnected)
	}
	return t.writeConn(ctx, conn, frame)
}

func (t *TCP) writeConn(ctx context.Context, conn net.Conn, b []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(t.opts.WriteTimeout)
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("tcp %s: %w", t.address, err)
	}
	if _, err := conn.Write(b); err != nil {
		conn.Close()
		return fmt.Errorf("tcp %s: %w", t.address, err)
	}
	return nil
}

// Frames delivers received frame payloads. It is closed when Run returns.
func (t *TCP) Frames() <-chan []byte { return t.frames }

// State publishes the link state.
func (t *TCP) State() *flow.Value[connection.State] { return t.state }
