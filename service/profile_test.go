package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/meshlink/wire"
)

func TestProfileSurvivesYAML(t *testing.T) {
	lc := &wire.LocalConfig{
		Device:   &wire.DeviceConfig{Role: wire.RoleRouter},
		LoRa:     &wire.LoRaConfig{HopLimit: 5},
		Security: &wire.SecurityConfig{},
	}
	mc := &wire.LocalModuleConfig{MQTT: &wire.MQTTConfig{Enabled: true}}
	channels := []*wire.Channel{
		{Index: 0, Role: wire.ChannelPrimary, Settings: &wire.ChannelSettings{Name: "Ops", PSK: []byte{1}}},
		{Index: 1, Role: wire.ChannelDisabled},
		{Index: 2, Role: wire.ChannelSecondary, Settings: &wire.ChannelSettings{Name: "Admin", PSK: []byte{0xde, 0xad}, UplinkEnabled: true}},
	}
	p := BuildProfile(&wire.User{LongName: "Ridge relay", ShortName: "RR"}, lc, mc, channels)

	b, err := MarshalProfile(p)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "security")

	got, err := UnmarshalProfile(b)
	require.NoError(t, err)
	assert.Equal(t, "Ridge relay", got.LongName)
	require.NotNil(t, got.Config.Device)
	assert.Equal(t, wire.RoleRouter, got.Config.Device.Role)
	require.NotNil(t, got.Config.LoRa)
	assert.Equal(t, uint32(5), got.Config.LoRa.HopLimit)
	assert.Nil(t, got.Config.Power)
	require.NotNil(t, got.ModuleConfig.MQTT)
	assert.True(t, got.ModuleConfig.MQTT.Enabled)
	require.Len(t, got.Channels, 2, "disabled slots are skipped")
	assert.Equal(t, p.Channels, got.Channels)
	assert.Equal(t, "3q0=", got.Channels[1].PSK)
}

func TestProfileAdminMessageOrder(t *testing.T) {
	p := &DeviceProfile{
		LongName: "Ridge relay",
		Config:   ProfileConfig{Device: &wire.DeviceConfig{}, LoRa: &wire.LoRaConfig{HopLimit: 3}},
		ModuleConfig: ProfileModuleConfig{
			Telemetry: &wire.TelemetryConfig{},
		},
		Channels: []ProfileChannel{{Index: 0, Primary: true, Name: "Ops", PSK: "AQ=="}},
	}

	msgs, err := p.AdminMessages()
	require.NoError(t, err)

	kinds := make([]wire.AdminKind, len(msgs))
	for i, m := range msgs {
		kinds[i] = m.Kind
	}
	assert.Equal(t, []wire.AdminKind{
		wire.AdminSetOwner,
		wire.AdminSetConfig,
		wire.AdminSetConfig,
		wire.AdminSetModuleConfig,
		wire.AdminSetChannel,
	}, kinds)
	assert.Equal(t, wire.ChannelPrimary, msgs[4].Channel.Role)
	assert.Equal(t, []byte{1}, msgs[4].Channel.Settings.PSK)
}

func TestProfileRejectsBadInput(t *testing.T) {
	tests := []struct {
		name    string
		profile *DeviceProfile
		wantErr error
	}{
		{"empty", &DeviceProfile{}, ErrEmptyProfile},
		{"index out of range", &DeviceProfile{Channels: []ProfileChannel{{Index: 8}}}, nil},
		{"bad psk", &DeviceProfile{Channels: []ProfileChannel{{Index: 1, PSK: "not base64!"}}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.profile.AdminMessages()
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestUnmarshalProfileRejectsMalformedYAML(t *testing.T) {
	_, err := UnmarshalProfile([]byte("channels: [unterminated"))
	assert.Error(t, err)
}
