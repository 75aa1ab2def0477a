package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshlink/wire"
)

// LocationManager feeds the host's position to the mesh while the local
// node has no GPS of its own.
type LocationManager interface {
	Start(ctx context.Context, send func(pos *wire.Position))
	Stop()
}

// MQTTManager bridges MQTT traffic for a radio that proxies it through the
// client.
type MQTTManager interface {
	Start(ctx context.Context, enabled, proxyToClient bool)
	Stop()
	HandleProxyMessage(msg *wire.MqttClientProxyMessage)
}

// NopLocation never reports a position.
type NopLocation struct{}

func (NopLocation) Start(ctx context.Context, send func(pos *wire.Position)) {}
func (NopLocation) Stop()                                                    {}

// NopMQTT logs proxied MQTT messages and otherwise does nothing.
type NopMQTT struct{}

func (NopMQTT) Start(ctx context.Context, enabled, proxyToClient bool) {
	if enabled && proxyToClient {
		logrus.WithField("function", "Start").Info("Radio requests MQTT proxying, no MQTT bridge configured")
	}
}

func (NopMQTT) Stop() {}

func (NopMQTT) HandleProxyMessage(msg *wire.MqttClientProxyMessage) {
	logrus.WithFields(logrus.Fields{
		"function": "HandleProxyMessage",
		"topic":    msg.Topic,
	}).Debug("Dropping MQTT proxy message")
}
