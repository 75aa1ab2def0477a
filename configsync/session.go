// Package configsync pulls and pushes configuration of a (possibly remote)
// node over admin messages and tracks the outstanding requests.
//
// A Session correlates responses to the admin packets it sent by request
// ID. Responses from a node other than the session's destination and
// routing errors put the session in the Error state; every other response
// advances its completed count until nothing is outstanding.
package configsync

import (
	"errors"
	"fmt"

	"github.com/opd-ai/meshlink/wire"
)

var (
	// ErrSenderMismatch marks a response that came from the wrong node.
	ErrSenderMismatch = errors.New("unexpected sender")
	// ErrRouting marks a request the mesh reported as undeliverable.
	ErrRouting = errors.New("routing error")
	// ErrEmptySection marks a config response without a section.
	ErrEmptySection = errors.New("empty config section")
	// ErrBusy is returned when a session is started while another runs.
	ErrBusy = errors.New("config sync already in progress")
)

// Status is the lifecycle of a Session.
type Status int

const (
	StatusEmpty Status = iota
	StatusLoading
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusEmpty:
		return "Empty"
	case StatusLoading:
		return "Loading"
	case StatusSuccess:
		return "Success"
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// SectionKind names what a request asks for.
type SectionKind int

const (
	SectionOwner SectionKind = iota
	SectionMetadata
	SectionChannels
	SectionConfig
	SectionModuleConfig
	// SectionSetting is a write; it completes on the routing ACK.
	SectionSetting
)

// Section is one unit of a sync. Type selects the config or module config
// section and is ignored for other kinds.
type Section struct {
	Kind SectionKind
	Type uint32
}

func (s Section) String() string {
	switch s.Kind {
	case SectionOwner:
		return "owner"
	case SectionMetadata:
		return "metadata"
	case SectionChannels:
		return "channels"
	case SectionConfig:
		return wire.ConfigType(s.Type).String()
	case SectionModuleConfig:
		return fmt.Sprintf("module_%d", s.Type)
	default:
		return "setting"
	}
}

// AllSections lists a full pull: owner, metadata, channels and every
// config and module config section.
func AllSections() []Section {
	out := []Section{{Kind: SectionOwner}, {Kind: SectionMetadata}, {Kind: SectionChannels}}
	for _, t := range wire.AllConfigTypes {
		out = append(out, Section{Kind: SectionConfig, Type: uint32(t)})
	}
	for _, t := range wire.AllModuleConfigTypes {
		out = append(out, Section{Kind: SectionModuleConfig, Type: uint32(t)})
	}
	return out
}

// State is a snapshot of a session. Collected values are filled in as
// responses arrive.
type State struct {
	Status    Status
	Dest      uint32
	Total     int
	Completed int
	Err       error

	Owner        *wire.User
	Metadata     *wire.DeviceMetadata
	Config       *wire.LocalConfig
	ModuleConfig *wire.LocalModuleConfig
	Channels     []*wire.Channel
}

// clone copies the collected values so snapshots never alias session state.
func (s State) clone() State {
	c := s
	if s.Owner != nil {
		c.Owner = s.Owner.Clone()
	}
	if s.Config != nil {
		c.Config = s.Config.Clone()
	}
	if s.ModuleConfig != nil {
		c.ModuleConfig = s.ModuleConfig.Clone()
	}
	c.Channels = append([]*wire.Channel(nil), s.Channels...)
	return c
}

// Session is one sync against a destination node. It is not safe for
// concurrent use; Manager serializes access.
type Session struct {
	dest     uint32
	requests map[uint32]Section
	state    State
}

func newSession(dest uint32) *Session {
	return &Session{
		dest:     dest,
		requests: make(map[uint32]Section),
		state: State{
			Status:       StatusLoading,
			Dest:         dest,
			Config:       &wire.LocalConfig{},
			ModuleConfig: &wire.LocalModuleConfig{},
		},
	}
}

// Outstanding returns the number of requests without a response.
func (s *Session) Outstanding() int { return len(s.requests) }

func (s *Session) track(id uint32, sec Section) {
	s.requests[id] = sec
	if n := s.state.Completed + len(s.requests); n > s.state.Total {
		s.state.Total = n
	}
}

func (s *Session) fail(err error) {
	s.state.Status = StatusError
	s.state.Err = err
}

func (s *Session) complete(id uint32) {
	delete(s.requests, id)
	if s.state.Status != StatusLoading {
		return
	}
	s.state.Completed++
	if len(s.requests) == 0 {
		s.state.Status = StatusSuccess
	}
}

// handleRouting processes a ROUTING_APP response to one of our requests.
func (s *Session) handleRouting(id, from uint32, r *wire.Routing) {
	if r.ErrorReason != wire.RoutingNone {
		delete(s.requests, id)
		s.fail(fmt.Errorf("%w: %s", ErrRouting, r.ErrorReason))
		return
	}
	if sec := s.requests[id]; sec.Kind == SectionSetting && from == s.dest {
		s.complete(id)
	}
}

// handleAdmin processes an ADMIN_APP response. It returns the channel
// index to request next, or -1.
func (s *Session) handleAdmin(id, from uint32, m *wire.AdminMessage) int {
	if from != s.dest {
		delete(s.requests, id)
		s.fail(fmt.Errorf("%w: %08x instead of %08x", ErrSenderMismatch, from, s.dest))
		return -1
	}

	next := -1
	switch m.Kind {
	case wire.AdminGetOwnerResponse:
		s.state.Owner = m.User.Clone()
	case wire.AdminGetDeviceMetadataResp:
		s.state.Metadata = m.Metadata
	case wire.AdminGetConfigResponse:
		if m.Config.IsEmpty() {
			s.fail(ErrEmptySection)
			break
		}
		s.state.Config.Merge(m.Config)
	case wire.AdminGetModuleConfigResponse:
		if m.ModuleConfig.IsEmpty() {
			s.fail(ErrEmptySection)
			break
		}
		s.state.ModuleConfig.Merge(m.ModuleConfig)
	case wire.AdminGetChannelResponse:
		ch := m.Channel
		if ch == nil || ch.Role == wire.ChannelDisabled {
			break
		}
		s.state.Channels = append(s.state.Channels, ch)
		if int(ch.Index)+1 < wire.MaxChannels {
			next = int(ch.Index) + 1
		}
	}
	s.complete(id)
	if s.state.Status != StatusLoading {
		return -1
	}
	return next
}
