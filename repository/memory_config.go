package repository

import (
	"context"
	"sync"

	"github.com/opd-ai/meshlink/flow"
	"github.com/opd-ai/meshlink/wire"
)

// MemoryRadioConfig is an in-memory RadioConfigRepository. Every published
// value is a fresh copy, so readers may keep it.
type MemoryRadioConfig struct {
	local    *wire.LocalConfig
	module   *wire.LocalModuleConfig
	channels []*wire.Channel

	localFlow    *flow.Value[*wire.LocalConfig]
	moduleFlow   *flow.Value[*wire.LocalModuleConfig]
	channelsFlow *flow.Value[[]*wire.Channel]

	mu sync.Mutex
}

// NewMemoryRadioConfig creates an empty config store.
func NewMemoryRadioConfig() *MemoryRadioConfig {
	return &MemoryRadioConfig{
		local:        &wire.LocalConfig{},
		module:       &wire.LocalModuleConfig{},
		localFlow:    flow.NewValue(&wire.LocalConfig{}, nil),
		moduleFlow:   flow.NewValue(&wire.LocalModuleConfig{}, nil),
		channelsFlow: flow.NewValue[[]*wire.Channel](nil, nil),
	}
}

func (r *MemoryRadioConfig) SetLocalConfig(ctx context.Context, c *wire.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.local.Merge(c)
	r.localFlow.Set(r.local.Clone())
	return nil
}

func (r *MemoryRadioConfig) SetLocalModuleConfig(ctx context.Context, c *wire.ModuleConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.module.Merge(c)
	r.moduleFlow.Set(r.module.Clone())
	return nil
}

// UpdateChannel stores ch in its slot, growing the channel list as needed.
func (r *MemoryRadioConfig) UpdateChannel(ctx context.Context, ch *wire.Channel) error {
	if ch.Index < 0 || ch.Index >= wire.MaxChannels {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.channels) <= int(ch.Index) {
		r.channels = append(r.channels, &wire.Channel{Index: int32(len(r.channels))})
	}
	r.channels[ch.Index] = cloneChannel(ch)
	r.publishChannelsLocked()
	return nil
}

func (r *MemoryRadioConfig) ClearLocalConfig(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.local = &wire.LocalConfig{}
	r.localFlow.Set(&wire.LocalConfig{})
	return nil
}

func (r *MemoryRadioConfig) ClearLocalModuleConfig(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.module = &wire.LocalModuleConfig{}
	r.moduleFlow.Set(&wire.LocalModuleConfig{})
	return nil
}

func (r *MemoryRadioConfig) ClearChannelSet(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels = nil
	r.publishChannelsLocked()
	return nil
}

func (r *MemoryRadioConfig) publishChannelsLocked() {
	out := make([]*wire.Channel, len(r.channels))
	for i, ch := range r.channels {
		out[i] = cloneChannel(ch)
	}
	r.channelsFlow.Set(out)
}

func (r *MemoryRadioConfig) LocalConfig() *flow.Value[*wire.LocalConfig] { return r.localFlow }

func (r *MemoryRadioConfig) ModuleConfig() *flow.Value[*wire.LocalModuleConfig] { return r.moduleFlow }

func (r *MemoryRadioConfig) ChannelSet() *flow.Value[[]*wire.Channel] { return r.channelsFlow }

func cloneChannel(ch *wire.Channel) *wire.Channel {
	var c wire.Channel
	if err := c.Unmarshal(ch.Marshal()); err != nil {
		c = *ch
	}
	return &c
}
