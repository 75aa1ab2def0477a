// Package history asks a store-and-forward server to replay the messages
// the client missed while it was away.
package history

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshlink/model"
	"github.com/opd-ai/meshlink/wire"
)

const (
	// DefaultWindowMinutes is the replay window used when none is configured.
	DefaultWindowMinutes = 1440
	// DefaultMaxMessages is the replay size used when none is configured.
	DefaultMaxMessages = 100
)

// BuildStoreForwardHistoryRequest builds a CLIENT_HISTORY request.
// Non-positive parameters are sent as 0.
func BuildStoreForwardHistoryRequest(lastRequest, window, max int) *wire.StoreAndForward {
	return &wire.StoreAndForward{
		RR: wire.SFClientHistory,
		History: &wire.StoreForwardHistory{
			HistoryMessages: clamp(max),
			Window:          clamp(window),
			LastRequest:     clamp(lastRequest),
		},
	}
}

func clamp(v int) uint32 {
	if v <= 0 {
		return 0
	}
	return uint32(v)
}

// ResolveHistoryRequestParameters returns window and max unchanged when
// both are positive and the defaults otherwise.
func ResolveHistoryRequestParameters(window, max int) (int, int) {
	if window > 0 && max > 0 {
		return window, max
	}
	return DefaultWindowMinutes, DefaultMaxMessages
}

// DataSender sends application packets.
type DataSender interface {
	SendData(ctx context.Context, p *model.DataPacket) error
}

// Manager tracks replay state per transport.
type Manager struct {
	sender DataSender

	// lastRequest is keyed by transport so switching radios does not skip
	// history.
	lastRequest map[string]uint32
	server      uint32

	mu sync.Mutex
}

// NewManager creates a Manager that sends requests through sender.
func NewManager(sender DataSender) *Manager {
	return &Manager{
		sender:      sender,
		lastRequest: make(map[string]uint32),
	}
}

// SetServer records the node that last identified as a store-and-forward
// server. Replays are addressed to it instead of the local node.
func (m *Manager) SetServer(num uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.server = num
}

// Server returns the last known store-and-forward server, or 0.
func (m *Manager) Server() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.server
}

// LastRequest returns the replay cursor for a transport.
func (m *Manager) LastRequest(transportKey string) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRequest[transportKey]
}

// UpdateStoreForwardLastRequest moves the replay cursor of a transport.
// Zero cursors are ignored.
func (m *Manager) UpdateStoreForwardLastRequest(source string, lastRequest uint32, transportKey string) {
	if lastRequest == 0 {
		return
	}
	m.mu.Lock()
	prev := m.lastRequest[transportKey]
	m.lastRequest[transportKey] = lastRequest
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":     "UpdateStoreForwardLastRequest",
		"source":       source,
		"transport":    transportKey,
		"last_request": lastRequest,
		"previous":     prev,
	}).Debug("Updated store-and-forward cursor")
}

// RequestHistoryReplay asks for missed messages when the store-and-forward
// module is enabled. It does nothing otherwise.
func (m *Manager) RequestHistoryReplay(ctx context.Context, trigger string, myNodeNum uint32, cfg *wire.StoreForwardConfig, transportKey string) error {
	if myNodeNum == 0 || cfg == nil || !cfg.Enabled {
		logrus.WithFields(logrus.Fields{
			"function": "RequestHistoryReplay",
			"trigger":  trigger,
		}).Debug("Store-and-forward disabled, skipping history replay")
		return nil
	}

	window, max := ResolveHistoryRequestParameters(int(cfg.HistoryReturnWindow), int(cfg.HistoryReturnMax))
	m.mu.Lock()
	last := m.lastRequest[transportKey]
	dest := m.server
	m.mu.Unlock()
	if dest == 0 {
		dest = myNodeNum
	}

	req := BuildStoreForwardHistoryRequest(int(last), window, max)
	logrus.WithFields(logrus.Fields{
		"function":     "RequestHistoryReplay",
		"trigger":      trigger,
		"dest":         dest,
		"window":       window,
		"max":          max,
		"last_request": last,
	}).Info("Requesting history replay")

	return m.sender.SendData(ctx, &model.DataPacket{
		To:       model.DefaultNodeID(dest),
		DataType: wire.PortStoreForward,
		Bytes:    req.Marshal(),
	})
}
