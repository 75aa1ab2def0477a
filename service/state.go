package service

import (
	"github.com/opd-ai/meshlink/flow"
	"github.com/opd-ai/meshlink/wire"
)

// ServiceState holds the user-facing status of the runtime.
type ServiceState struct {
	statusMessage      *flow.Value[string]
	errorMessage       *flow.Value[string]
	clientNotification *flow.Value[*wire.ClientNotification]
	tracerouteResponse *flow.Value[string]
	neighborResponse   *flow.Value[string]
}

// NewServiceState creates an empty state.
func NewServiceState() *ServiceState {
	return &ServiceState{
		statusMessage:      flow.NewComparable(""),
		errorMessage:       flow.NewComparable(""),
		clientNotification: flow.NewValue[*wire.ClientNotification](nil, nil),
		tracerouteResponse: flow.NewValue("", nil),
		neighborResponse:   flow.NewValue("", nil),
	}
}

// StatusMessage is a short progress line such as "Device config (3 / 8)".
func (s *ServiceState) StatusMessage() *flow.Value[string] { return s.statusMessage }

func (s *ServiceState) SetStatusMessage(msg string) { s.statusMessage.Set(msg) }

// ErrorMessage is the last error the radio or mesh reported.
func (s *ServiceState) ErrorMessage() *flow.Value[string] { return s.errorMessage }

func (s *ServiceState) SetErrorMessage(msg string) { s.errorMessage.Set(msg) }

func (s *ServiceState) ClientNotification() *flow.Value[*wire.ClientNotification] {
	return s.clientNotification
}

func (s *ServiceState) SetClientNotification(n *wire.ClientNotification) {
	s.clientNotification.Set(n)
}

// ClearClientNotification drops the notification once it was shown.
func (s *ServiceState) ClearClientNotification() { s.clientNotification.Set(nil) }

// TracerouteResponse is the formatted result of the last traceroute.
func (s *ServiceState) TracerouteResponse() *flow.Value[string] { return s.tracerouteResponse }

// NeighborInfoResponse is the formatted result of the last neighbor info request.
func (s *ServiceState) NeighborInfoResponse() *flow.Value[string] { return s.neighborResponse }
