package transport

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/meshlink/connection"
	"github.com/opd-ai/meshlink/packet"
)

func TestWithDefaultPort(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"192.168.4.1", "192.168.4.1:4403"},
		{"radio.local:5000", "radio.local:5000"},
		{"fe80::1", "[fe80::1]:4403"},
		{"[fe80::1]:4404", "[fe80::1]:4404"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, WithDefaultPort(tt.in))
		})
	}
}

func TestTCPReconnectsAfterDrop(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	tcp := NewTCP(TCPOptions{Address: ln.Addr().String(), ReconnectInterval: 10 * time.Millisecond})
	require.Equal(t, ln.Addr().String(), tcp.Address())

	err = tcp.SendToRadio(context.Background(), []byte("early"))
	assert.ErrorIs(t, err, packet.ErrNotConnected)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- tcp.Run(ctx) }()

	first, err := ln.Accept()
	require.NoError(t, err)
	radio := newFakeRadio(first)
	require.Eventually(t, func() bool {
		return tcp.State().Get() == connection.Connected
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, tcp.SendToRadio(context.Background(), []byte("hello")))
	assert.Equal(t, []byte("hello"), radio.next(t))
	radio.send(t, []byte("welcome"))
	assert.Equal(t, []byte("welcome"), receiveFrame(t, tcp.Frames()))

	require.NoError(t, first.Close())

	second, err := ln.Accept()
	require.NoError(t, err)
	radio = newFakeRadio(second)
	radio.send(t, []byte("again"))
	assert.Equal(t, []byte("again"), receiveFrame(t, tcp.Frames()))
	assert.Equal(t, connection.Connected, tcp.State().Get())

	cancel()
	select {
	case err := <-runErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, connection.Disconnected, tcp.State().Get())
	_, open := <-tcp.Frames()
	assert.False(t, open)
}

func TestTCPRetriesFailedDials(t *testing.T) {
	var attempts atomic.Int32
	tcp := NewTCP(TCPOptions{
		Address:           "radio.invalid",
		ReconnectInterval: 5 * time.Millisecond,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			attempts.Add(1)
			assert.Equal(t, "radio.invalid:4403", address)
			return nil, errors.New("connection refused")
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- tcp.Run(ctx) }()

	require.Eventually(t, func() bool { return attempts.Load() >= 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, connection.Disconnected, tcp.State().Get())
	cancel()
	assert.ErrorIs(t, <-runErr, context.Canceled)
}
