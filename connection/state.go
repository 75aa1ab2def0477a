// Package connection holds the logical connection state shared by every
// component of the runtime.
package connection

import (
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshlink/flow"
)

// State is the logical link state to the radio.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	DeviceSleep
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case DeviceSleep:
		return "DeviceSleep"
	default:
		return "Unknown"
	}
}

// StateHandler is the single source of truth for the connection state.
// Transitions are never rejected and have no side effects.
type StateHandler struct {
	state *flow.Value[State]
}

// NewStateHandler starts in Disconnected.
func NewStateHandler() *StateHandler {
	return &StateHandler{state: flow.NewComparable(Disconnected)}
}

// SetState moves to s and notifies subscribers when the state changed.
func (h *StateHandler) SetState(s State) {
	if h.state.Set(s) {
		logrus.WithFields(logrus.Fields{
			"function": "SetState",
			"state":    s.String(),
		}).Debug("Connection state changed")
	}
}

// State returns the current state.
func (h *StateHandler) State() State {
	return h.state.Get()
}

// Observe exposes the state stream.
func (h *StateHandler) Observe() *flow.Value[State] {
	return h.state
}

// IsConnected is shorthand for State() == Connected.
func (h *StateHandler) IsConnected() bool {
	return h.state.Get() == Connected
}
