package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshlink/wire"
)

// QueueStatusHandler consumes the radio's transmit queue reports.
type QueueStatusHandler interface {
	HandleQueueStatus(ctx context.Context, s *wire.QueueStatus)
	RemoveResponse(id uint32, success bool) bool
}

// FromRadioHandler dispatches every non-packet FromRadio variant.
type FromRadioHandler struct {
	configFlow    *ConfigFlowManager
	configHandler *ConfigHandler
	packets       QueueStatusHandler
	mqtt          MQTTManager
	state         *ServiceState
	notifications Notifications
}

// NewFromRadioHandler wires the dispatcher to its targets.
func NewFromRadioHandler(configFlow *ConfigFlowManager, configHandler *ConfigHandler, packets QueueStatusHandler,
	mqtt MQTTManager, state *ServiceState, notifications Notifications) *FromRadioHandler {
	if mqtt == nil {
		mqtt = NopMQTT{}
	}
	return &FromRadioHandler{
		configFlow:    configFlow,
		configHandler: configHandler,
		packets:       packets,
		mqtt:          mqtt,
		state:         state,
		notifications: notifications,
	}
}

// HandleFromRadio routes msg to exactly one target. Envelopes with no
// variant are ignored.
func (h *FromRadioHandler) HandleFromRadio(ctx context.Context, msg *wire.FromRadio) {
	if msg == nil {
		return
	}
	switch v := msg.Variant.(type) {
	case nil:
	case *wire.MyNodeInfo:
		h.configFlow.HandleMyInfo(ctx, v)
	case *wire.DeviceMetadata:
		h.configFlow.HandleLocalMetadata(ctx, v)
	case *wire.NodeInfo:
		h.configFlow.HandleNodeInfo(v)
		h.state.SetStatusMessage(fmt.Sprintf("Nodes (%d)", h.configFlow.NewNodeCount()))
	case *wire.QueueStatus:
		h.packets.HandleQueueStatus(ctx, v)
	case *wire.Config:
		h.configHandler.HandleDeviceConfig(ctx, v)
	case *wire.ModuleConfig:
		h.configHandler.HandleModuleConfig(ctx, v)
	case *wire.Channel:
		h.configHandler.HandleChannel(ctx, v)
	case wire.ConfigCompleteID:
		h.configFlow.HandleConfigComplete(ctx, uint32(v))
	case *wire.ClientNotification:
		h.handleClientNotification(v)
	case *wire.MqttClientProxyMessage:
		h.mqtt.HandleProxyMessage(v)
	case *wire.LogRecord:
		logrus.WithFields(logrus.Fields{
			"function": "HandleFromRadio",
			"source":   v.Source,
			"level":    uint32(v.Level),
		}).Debug("Radio log: " + v.Message)
	case wire.Rebooted:
		logrus.WithField("function", "HandleFromRadio").Info("Radio rebooted")
	case *wire.MeshPacket:
		logrus.WithFields(logrus.Fields{
			"function":  "HandleFromRadio",
			"packet_id": v.ID,
		}).Warn("Mesh packet reached the FromRadio dispatcher")
	case *wire.Opaque:
		logrus.WithFields(logrus.Fields{
			"function": "HandleFromRadio",
			"field":    v.Field,
		}).Debug("Ignoring unsupported FromRadio variant")
	}
}

func (h *FromRadioHandler) handleClientNotification(n *wire.ClientNotification) {
	h.state.SetClientNotification(n)
	if h.notifications != nil {
		h.notifications.ShowClientNotification(n)
	}
	if n.ReplyID != 0 {
		h.packets.RemoveResponse(n.ReplyID, false)
	}
}
