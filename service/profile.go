package service

import (
	"encoding/base64"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/opd-ai/meshlink/wire"
)

// ErrEmptyProfile is returned when an imported profile carries nothing to apply.
var ErrEmptyProfile = errors.New("profile carries no settings")

// DeviceProfile is a portable snapshot of a radio's owner, configuration
// and channels. Security keys are never exported.
type DeviceProfile struct {
	LongName     string              `yaml:"long_name,omitempty"`
	ShortName    string              `yaml:"short_name,omitempty"`
	Config       ProfileConfig       `yaml:"config,omitempty"`
	ModuleConfig ProfileModuleConfig `yaml:"module_config,omitempty"`
	Channels     []ProfileChannel    `yaml:"channels,omitempty"`
}

// ProfileConfig holds the exported device config sections.
type ProfileConfig struct {
	Device   *wire.DeviceConfig   `yaml:"device,omitempty"`
	Position *wire.PositionConfig `yaml:"position,omitempty"`
	Power    *wire.PowerConfig    `yaml:"power,omitempty"`
	LoRa     *wire.LoRaConfig     `yaml:"lora,omitempty"`
}

// ProfileModuleConfig holds the exported module config sections.
type ProfileModuleConfig struct {
	MQTT         *wire.MQTTConfig         `yaml:"mqtt,omitempty"`
	StoreForward *wire.StoreForwardConfig `yaml:"store_forward,omitempty"`
	Telemetry    *wire.TelemetryConfig    `yaml:"telemetry,omitempty"`
	NeighborInfo *wire.NeighborInfoConfig `yaml:"neighbor_info,omitempty"`
}

// ProfileChannel is one enabled channel slot. PSK is base64.
type ProfileChannel struct {
	Index    int32  `yaml:"index"`
	Primary  bool   `yaml:"primary,omitempty"`
	Name     string `yaml:"name,omitempty"`
	PSK      string `yaml:"psk,omitempty"`
	ID       uint32 `yaml:"id,omitempty"`
	Uplink   bool   `yaml:"uplink,omitempty"`
	Downlink bool   `yaml:"downlink,omitempty"`
}

// BuildProfile snapshots the given owner, config and channels.
func BuildProfile(owner *wire.User, lc *wire.LocalConfig, mc *wire.LocalModuleConfig, channels []*wire.Channel) *DeviceProfile {
	p := &DeviceProfile{}
	if owner != nil {
		p.LongName = owner.LongName
		p.ShortName = owner.ShortName
	}
	if lc != nil {
		p.Config = ProfileConfig{Device: lc.Device, Position: lc.Position, Power: lc.Power, LoRa: lc.LoRa}
	}
	if mc != nil {
		p.ModuleConfig = ProfileModuleConfig{
			MQTT:         mc.MQTT,
			StoreForward: mc.StoreForward,
			Telemetry:    mc.Telemetry,
			NeighborInfo: mc.NeighborInfo,
		}
	}
	for _, ch := range channels {
		if ch == nil || ch.Role == wire.ChannelDisabled {
			continue
		}
		pc := ProfileChannel{Index: ch.Index, Primary: ch.Role == wire.ChannelPrimary}
		if s := ch.Settings; s != nil {
			pc.Name = s.Name
			pc.PSK = base64.StdEncoding.EncodeToString(s.PSK)
			pc.ID = s.ID
			pc.Uplink = s.UplinkEnabled
			pc.Downlink = s.DownlinkEnabled
		}
		p.Channels = append(p.Channels, pc)
	}
	return p
}

// MarshalProfile renders p as YAML.
func MarshalProfile(p *DeviceProfile) ([]byte, error) {
	b, err := yaml.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode profile: %w", err)
	}
	return b, nil
}

// UnmarshalProfile parses a YAML profile.
func UnmarshalProfile(b []byte) (*DeviceProfile, error) {
	var p DeviceProfile
	if err := yaml.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &p, nil
}

// AdminMessages returns the admin writes that apply p, in the order the
// radio expects them: owner, config, module config, channels. The caller
// brackets them with a settings transaction.
func (p *DeviceProfile) AdminMessages() ([]*wire.AdminMessage, error) {
	var out []*wire.AdminMessage
	if p.LongName != "" || p.ShortName != "" {
		out = append(out, &wire.AdminMessage{
			Kind: wire.AdminSetOwner,
			User: &wire.User{LongName: p.LongName, ShortName: p.ShortName},
		})
	}

	c := p.Config
	for _, section := range []*wire.Config{
		{Device: c.Device}, {Position: c.Position}, {Power: c.Power}, {LoRa: c.LoRa},
	} {
		if !section.IsEmpty() {
			out = append(out, &wire.AdminMessage{Kind: wire.AdminSetConfig, Config: section})
		}
	}

	mc := p.ModuleConfig
	for _, section := range []*wire.ModuleConfig{
		{MQTT: mc.MQTT}, {StoreForward: mc.StoreForward}, {Telemetry: mc.Telemetry}, {NeighborInfo: mc.NeighborInfo},
	} {
		if !section.IsEmpty() {
			out = append(out, &wire.AdminMessage{Kind: wire.AdminSetModuleConfig, ModuleConfig: section})
		}
	}

	for _, pc := range p.Channels {
		if pc.Index < 0 || pc.Index >= wire.MaxChannels {
			return nil, fmt.Errorf("channel index %d out of range", pc.Index)
		}
		psk, err := base64.StdEncoding.DecodeString(pc.PSK)
		if err != nil {
			return nil, fmt.Errorf("channel %d psk: %w", pc.Index, err)
		}
		role := wire.ChannelSecondary
		if pc.Primary {
			role = wire.ChannelPrimary
		}
		out = append(out, &wire.AdminMessage{
			Kind: wire.AdminSetChannel,
			Channel: &wire.Channel{
				Index: pc.Index,
				Role:  role,
				Settings: &wire.ChannelSettings{
					PSK:             psk,
					Name:            pc.Name,
					ID:              pc.ID,
					UplinkEnabled:   pc.Uplink,
					DownlinkEnabled: pc.Downlink,
				},
			},
		})
	}

	if len(out) == 0 {
		return nil, ErrEmptyProfile
	}
	return out, nil
}
