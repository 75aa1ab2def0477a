package configsync

import (
	"context"
	"errors"
	"sync"

	"github.com/opd-ai/meshlink/wire"
)

type sentAdmin struct {
	dest, id     uint32
	wantResponse bool
	msg          *wire.AdminMessage
}

// mockAdminSender hands out sequential IDs and records every admin message.
type mockAdminSender struct {
	mu     sync.Mutex
	nextID uint32
	sent   []sentAdmin
	fail   bool
}

func (m *mockAdminSender) GeneratePacketID() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	return m.nextID
}

func (m *mockAdminSender) SendAdmin(ctx context.Context, dest, requestID uint32, wantResponse bool, msg *wire.AdminMessage) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return 0, errors.New("link down")
	}
	m.sent = append(m.sent, sentAdmin{dest: dest, id: requestID, wantResponse: wantResponse, msg: msg})
	return requestID, nil
}

func (m *mockAdminSender) last() sentAdmin {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[len(m.sent)-1]
}

func adminReply(from, requestID uint32, msg *wire.AdminMessage) *wire.MeshPacket {
	return &wire.MeshPacket{
		From:    from,
		Decoded: &wire.Data{PortNum: wire.PortAdmin, Payload: msg.Marshal(), RequestID: requestID},
	}
}

func routingReply(from, requestID uint32, reason wire.RoutingError) *wire.MeshPacket {
	r := &wire.Routing{ErrorReason: reason}
	return &wire.MeshPacket{
		From:    from,
		Decoded: &wire.Data{PortNum: wire.PortRouting, Payload: r.Marshal(), RequestID: requestID},
	}
}
