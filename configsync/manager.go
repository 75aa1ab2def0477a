package configsync

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshlink/flow"
	"github.com/opd-ai/meshlink/wire"
)

// AdminSender sends admin messages and hands out packet IDs. It is
// satisfied by *command.Sender.
type AdminSender interface {
	GeneratePacketID() uint32
	SendAdmin(ctx context.Context, dest, requestID uint32, wantResponse bool, msg *wire.AdminMessage) (uint32, error)
}

// Manager runs at most one Session at a time and publishes its State.
type Manager struct {
	sender  AdminSender
	session *Session
	state   *flow.Value[State]

	mu sync.Mutex
}

// NewManager creates a Manager with an Empty state.
func NewManager(sender AdminSender) *Manager {
	return &Manager{
		sender: sender,
		state:  flow.NewValue(State{Status: StatusEmpty}, nil),
	}
}

// State publishes a snapshot after every change.
func (m *Manager) State() *flow.Value[State] { return m.state }

// Start begins a sync against dest requesting sections. A sync that is
// still loading must be cleared first.
func (m *Manager) Start(ctx context.Context, dest uint32, sections ...Section) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil && m.session.state.Status == StatusLoading {
		return ErrBusy
	}
	if len(sections) == 0 {
		sections = AllSections()
	}

	m.session = newSession(dest)
	logrus.WithFields(logrus.Fields{
		"function": "Start",
		"dest":     dest,
		"sections": len(sections),
	}).Info("Starting config sync")

	for _, sec := range sections {
		if err := m.requestLocked(ctx, sec, getRequest(sec, 0)); err != nil {
			return err
		}
	}
	m.publishLocked()
	return nil
}

// Apply sends a set request to dest and tracks it until the destination
// acknowledges it. When no sync is loading a new session is started for the
// write alone.
func (m *Manager) Apply(ctx context.Context, dest uint32, msg *wire.AdminMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil || m.session.state.Status != StatusLoading {
		m.session = newSession(dest)
	} else if m.session.dest != dest {
		return ErrBusy
	}
	if err := m.requestLocked(ctx, Section{Kind: SectionSetting}, msg); err != nil {
		return err
	}
	m.publishLocked()
	return nil
}

// Clear drops the current session and resets the state to Empty.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	m.state.Set(State{Status: StatusEmpty})
}

// HandleResponse feeds a received packet to the session. Packets that do
// not answer one of the session's requests are ignored. It reports whether
// the packet was consumed.
func (m *Manager) HandleResponse(ctx context.Context, p *wire.MeshPacket) bool {
	if p == nil || p.Decoded == nil || p.Decoded.RequestID == 0 {
		return false
	}
	d := p.Decoded

	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.session
	if s == nil || s.state.Status != StatusLoading {
		return false
	}
	if _, ok := s.requests[d.RequestID]; !ok {
		return false
	}

	fields := logrus.Fields{
		"function":   "HandleResponse",
		"from":       p.From,
		"request_id": d.RequestID,
		"port":       d.PortNum.String(),
	}

	switch d.PortNum {
	case wire.PortRouting:
		var r wire.Routing
		if err := r.Unmarshal(d.Payload); err != nil {
			logrus.WithFields(fields).WithError(err).Warn("Dropping malformed routing response")
			return true
		}
		s.handleRouting(d.RequestID, p.From, &r)
	case wire.PortAdmin:
		var a wire.AdminMessage
		if err := a.Unmarshal(d.Payload); err != nil {
			logrus.WithFields(fields).WithError(err).Warn("Dropping malformed admin response")
			return true
		}
		if next := s.handleAdmin(d.RequestID, p.From, &a); next >= 0 {
			sec := Section{Kind: SectionChannels}
			if err := m.requestLocked(ctx, sec, getRequest(sec, next)); err != nil {
				s.fail(err)
			}
		}
	default:
		return false
	}

	if s.state.Status == StatusError {
		logrus.WithFields(fields).WithError(s.state.Err).Warn("Config sync failed")
	} else if s.state.Status == StatusSuccess {
		logrus.WithFields(fields).Info("Config sync complete")
	}
	m.publishLocked()
	return true
}

// requestLocked tracks the request before sending so a fast response is
// never missed.
func (m *Manager) requestLocked(ctx context.Context, sec Section, msg *wire.AdminMessage) error {
	s := m.session
	id := m.sender.GeneratePacketID()
	s.track(id, sec)

	if _, err := m.sender.SendAdmin(ctx, s.dest, id, sec.Kind != SectionSetting, msg); err != nil {
		delete(s.requests, id)
		err = fmt.Errorf("request %s from %08x: %w", sec, s.dest, err)
		s.fail(err)
		m.publishLocked()
		return err
	}
	return nil
}

func (m *Manager) publishLocked() {
	m.state.Set(m.session.state.clone())
}

// getRequest builds the admin get request for sec. channel selects the
// channel slot for SectionChannels.
func getRequest(sec Section, channel int) *wire.AdminMessage {
	switch sec.Kind {
	case SectionOwner:
		return &wire.AdminMessage{Kind: wire.AdminGetOwnerRequest, Value: 1}
	case SectionMetadata:
		return &wire.AdminMessage{Kind: wire.AdminGetDeviceMetadataRequest, Value: 1}
	case SectionChannels:
		return &wire.AdminMessage{Kind: wire.AdminGetChannelRequest, Value: uint32(channel) + 1}
	case SectionConfig:
		return &wire.AdminMessage{Kind: wire.AdminGetConfigRequest, Value: sec.Type}
	case SectionModuleConfig:
		return &wire.AdminMessage{Kind: wire.AdminGetModuleConfigRequest, Value: sec.Type}
	default:
		return nil
	}
}
