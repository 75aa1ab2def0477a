package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshlink/repository"
	"github.com/opd-ai/meshlink/wire"
)

// ConfigHandler stores the configuration sections the radio streams during
// the config download and reports progress on the service state.
type ConfigHandler struct {
	radioConfig repository.RadioConfigRepository
	state       *ServiceState
}

// NewConfigHandler creates a handler writing to radioConfig.
func NewConfigHandler(radioConfig repository.RadioConfigRepository, state *ServiceState) *ConfigHandler {
	return &ConfigHandler{radioConfig: radioConfig, state: state}
}

// HandleDeviceConfig merges one device config section.
func (h *ConfigHandler) HandleDeviceConfig(ctx context.Context, c *wire.Config) {
	if c == nil || c.IsEmpty() {
		return
	}
	if err := h.radioConfig.SetLocalConfig(ctx, c); err != nil {
		h.logStoreError("HandleDeviceConfig", err)
		return
	}
	count := len(h.radioConfig.LocalConfig().Get().Sections())
	logrus.WithFields(logrus.Fields{
		"function": "HandleDeviceConfig",
		"section":  c.Type().String(),
	}).Debug("Stored device config")
	h.state.SetStatusMessage(fmt.Sprintf("Device config (%d / %d)", count, len(wire.AllConfigTypes)))
}

// HandleModuleConfig merges one module config section.
func (h *ConfigHandler) HandleModuleConfig(ctx context.Context, c *wire.ModuleConfig) {
	if c == nil || c.IsEmpty() {
		return
	}
	if err := h.radioConfig.SetLocalModuleConfig(ctx, c); err != nil {
		h.logStoreError("HandleModuleConfig", err)
		return
	}
	count := len(h.radioConfig.ModuleConfig().Get().Sections())
	logrus.WithFields(logrus.Fields{
		"function": "HandleModuleConfig",
		"section":  uint32(c.Type()),
	}).Debug("Stored module config")
	h.state.SetStatusMessage(fmt.Sprintf("Module config (%d / %d)", count, len(wire.AllModuleConfigTypes)))
}

// HandleChannel stores a channel slot. Disabled slots are not stored.
func (h *ConfigHandler) HandleChannel(ctx context.Context, ch *wire.Channel) {
	if ch == nil {
		return
	}
	if ch.Role != wire.ChannelDisabled {
		if err := h.radioConfig.UpdateChannel(ctx, ch); err != nil {
			h.logStoreError("HandleChannel", err)
			return
		}
	}
	h.state.SetStatusMessage(fmt.Sprintf("Channels (%d / %d)", ch.Index+1, wire.MaxChannels))
}

func (h *ConfigHandler) logStoreError(function string, err error) {
	logrus.WithFields(logrus.Fields{
		"function": function,
		"error":    err.Error(),
	}).Error("Failed to store radio config")
}
