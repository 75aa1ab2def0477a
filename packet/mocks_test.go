package packet

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/opd-ai/meshlink/wire"
)

var errLinkDown = errors.New("link down")

// mockTransport records every frame written to it.
type mockTransport struct {
	mu     sync.Mutex
	frames [][]byte
	fail   bool
}

func (m *mockTransport) SendToRadio(ctx context.Context, frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errLinkDown
	}
	m.frames = append(m.frames, frame)
	return nil
}

func (m *mockTransport) setFail(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fail
}

// packetIDs decodes the IDs of the mesh packets written so far.
func (m *mockTransport) packetIDs() []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uint32
	for _, f := range m.frames {
		msg, err := wire.DecodeToRadio(f)
		if err != nil {
			continue
		}
		if p, ok := msg.Variant.(*wire.MeshPacket); ok {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

func (m *mockTransport) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.frames)
}

// mockState is a switchable connection state.
type mockState struct {
	connected atomic.Bool
}

func (m *mockState) IsConnected() bool { return m.connected.Load() }
