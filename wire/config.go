package wire

import (
	pb "github.com/lmatte7/gomesh/github.com/meshtastic/gomeshproto"
)

// ConfigType selects one section of the device Config. The section's field
// number inside Config is ConfigType+1.
type ConfigType uint32

const (
	ConfigDevice ConfigType = iota
	ConfigPosition
	ConfigPower
	ConfigNetwork
	ConfigDisplay
	ConfigLoRa
	ConfigBluetooth
	ConfigSecurity
	ConfigSessionKey
	ConfigDeviceUI
)

var configTypeNames = []string{
	"DEVICE_CONFIG", "POSITION_CONFIG", "POWER_CONFIG", "NETWORK_CONFIG", "DISPLAY_CONFIG",
	"LORA_CONFIG", "BLUETOOTH_CONFIG", "SECURITY_CONFIG", "SESSIONKEY_CONFIG", "DEVICEUI_CONFIG",
}

func (t ConfigType) String() string {
	if int(t) < len(configTypeNames) {
		return configTypeNames[t]
	}
	return "CONFIG_UNKNOWN"
}

// AllConfigTypes lists every section the radio reports during a config pull.
var AllConfigTypes = []ConfigType{
	ConfigDevice, ConfigPosition, ConfigPower, ConfigNetwork, ConfigDisplay,
	ConfigLoRa, ConfigBluetooth, ConfigSecurity,
}

// Opaque keeps a section this client does not interpret so it can be
// stored and written back unchanged.
type Opaque struct {
	Field uint32
	Raw   []byte
}

// Config is a oneof over the device configuration sections. Exactly one
// member is set on a decoded value.
type Config struct {
	Device   *DeviceConfig
	Position *PositionConfig
	Power    *PowerConfig
	LoRa     *LoRaConfig
	Security *SecurityConfig
	Other    *Opaque
}

// IsEmpty reports whether no section is set.
func (c *Config) IsEmpty() bool {
	return c == nil || (c.Device == nil && c.Position == nil && c.Power == nil &&
		c.LoRa == nil && c.Security == nil && c.Other == nil)
}

// Type reports which section c carries.
func (c *Config) Type() ConfigType {
	switch {
	case c.Device != nil:
		return ConfigDevice
	case c.Position != nil:
		return ConfigPosition
	case c.Power != nil:
		return ConfigPower
	case c.LoRa != nil:
		return ConfigLoRa
	case c.Security != nil:
		return ConfigSecurity
	case c.Other != nil && c.Other.Field > 0:
		return ConfigType(c.Other.Field - 1)
	}
	return ConfigDevice
}

func (c *Config) toPB() *pb.Config {
	p := &pb.Config{}
	switch {
	case c.Device != nil:
		p.PayloadVariant = &pb.Config_Device{Device: c.Device.toPB()}
	case c.Position != nil:
		p.PayloadVariant = &pb.Config_Position{Position: c.Position.toPB()}
	case c.Power != nil:
		p.PayloadVariant = &pb.Config_Power{Power: c.Power.toPB()}
	case c.LoRa != nil:
		p.PayloadVariant = &pb.Config_Lora{Lora: c.LoRa.toPB()}
	case c.Security != nil:
		attach(p, func(e *encoder) { e.embedded(configSecurityField, c.Security.Marshal()) })
	case c.Other != nil:
		attach(p, func(e *encoder) { e.embedded(protoNum(c.Other.Field), c.Other.Raw) })
	}
	return p
}

// configSecurityField is the Config member the generated schema predates.
const configSecurityField = 8

func configFromPB(p *pb.Config) (*Config, error) {
	c := &Config{}
	var err error
	switch v := p.PayloadVariant.(type) {
	case *pb.Config_Device:
		c.Device, err = deviceConfigFromPB(orEmpty(v.Device))
	case *pb.Config_Position:
		c.Position = positionConfigFromPB(orEmpty(v.Position))
	case *pb.Config_Power:
		c.Power = powerConfigFromPB(orEmpty(v.Power))
	case *pb.Config_Lora:
		c.LoRa, err = loraConfigFromPB(orEmpty(v.Lora))
	case nil:
		err = unknown("Config", p, func(f field) error {
			if !f.isBytes() {
				return nil
			}
			var err error
			if f.num == configSecurityField {
				c.Security, err = sub[SecurityConfig](f)
			} else {
				c.Other = &Opaque{Field: uint32(f.num), Raw: f.bytes()}
			}
			return err
		})
	default:
		c.Other = opaqueOf(p, "payload_variant")
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Marshal() []byte {
	if c == nil {
		return nil
	}
	return encodePB(c.toPB())
}

func (c *Config) Unmarshal(b []byte) error {
	return unmarshalPB("Config", b, c, configFromPB)
}

// RebroadcastMode controls which packets a node relays.
type RebroadcastMode uint32

const (
	RebroadcastAll RebroadcastMode = iota
	RebroadcastAllSkipDecoding
	RebroadcastLocalOnly
	RebroadcastKnownOnly
	RebroadcastNone
	RebroadcastCorePortnumsOnly
)

type DeviceConfig struct {
	Role                   Role
	RebroadcastMode        RebroadcastMode
	NodeInfoBroadcastSecs  uint32
	DoubleTapAsButtonPress bool
	IsManaged              bool
	Tzdef                  string
	LedHeartbeatDisabled   bool
}

func (m *DeviceConfig) toPB() *pb.Config_DeviceConfig {
	p := &pb.Config_DeviceConfig{
		Role:                   pb.Config_DeviceConfig_Role(m.Role),
		RebroadcastMode:        pb.Config_DeviceConfig_RebroadcastMode(m.RebroadcastMode),
		NodeInfoBroadcastSecs:  m.NodeInfoBroadcastSecs,
		DoubleTapAsButtonPress: m.DoubleTapAsButtonPress,
		IsManaged:              m.IsManaged,
	}
	attach(p, func(e *encoder) {
		e.string(11, m.Tzdef)
		e.bool(12, m.LedHeartbeatDisabled)
	})
	return p
}

func deviceConfigFromPB(p *pb.Config_DeviceConfig) (*DeviceConfig, error) {
	m := &DeviceConfig{
		Role:                   Role(p.Role),
		RebroadcastMode:        RebroadcastMode(p.RebroadcastMode),
		NodeInfoBroadcastSecs:  p.NodeInfoBroadcastSecs,
		DoubleTapAsButtonPress: p.DoubleTapAsButtonPress,
		IsManaged:              p.IsManaged,
	}
	err := unknown("DeviceConfig", p, func(f field) error {
		switch f.num {
		case 11:
			m.Tzdef = f.string()
		case 12:
			m.LedHeartbeatDisabled = f.bool()
		}
		return nil
	})
	return m, err
}

func (m *DeviceConfig) Marshal() []byte {
	if m == nil {
		return nil
	}
	return encodePB(m.toPB())
}

func (m *DeviceConfig) Unmarshal(b []byte) error {
	return unmarshalPB("DeviceConfig", b, m, deviceConfigFromPB)
}

// GPSMode reports whether the receiver is present and enabled.
type GPSMode uint32

const (
	GPSDisabled GPSMode = iota
	GPSEnabled
	GPSNotPresent
)

type PositionConfig struct {
	PositionBroadcastSecs         uint32
	PositionBroadcastSmartEnabled bool
	FixedPosition                 bool
	GPSUpdateInterval             uint32
	PositionFlags                 uint32
	GPSMode                       GPSMode
}

func (m *PositionConfig) toPB() *pb.Config_PositionConfig {
	return &pb.Config_PositionConfig{
		PositionBroadcastSecs:         m.PositionBroadcastSecs,
		PositionBroadcastSmartEnabled: m.PositionBroadcastSmartEnabled,
		FixedPosition:                 m.FixedPosition,
		GpsUpdateInterval:             m.GPSUpdateInterval,
		PositionFlags:                 m.PositionFlags,
		GpsMode:                       pb.Config_PositionConfig_GpsMode(m.GPSMode),
	}
}

func positionConfigFromPB(p *pb.Config_PositionConfig) *PositionConfig {
	return &PositionConfig{
		PositionBroadcastSecs:         p.PositionBroadcastSecs,
		PositionBroadcastSmartEnabled: p.PositionBroadcastSmartEnabled,
		FixedPosition:                 p.FixedPosition,
		GPSUpdateInterval:             p.GpsUpdateInterval,
		PositionFlags:                 p.PositionFlags,
		GPSMode:                       GPSMode(p.GpsMode),
	}
}

func (m *PositionConfig) Marshal() []byte {
	if m == nil {
		return nil
	}
	return encodePB(m.toPB())
}

func (m *PositionConfig) Unmarshal(b []byte) error {
	return unmarshalPB("PositionConfig", b, m, infallible(positionConfigFromPB))
}

type PowerConfig struct {
	IsPowerSaving              bool
	OnBatteryShutdownAfterSecs uint32
	AdcMultiplierOverride      float32
	WaitBluetoothSecs          uint32
	SdsSecs                    uint32
	LsSecs                     uint32
	MinWakeSecs                uint32
}

func (m *PowerConfig) toPB() *pb.Config_PowerConfig {
	return &pb.Config_PowerConfig{
		IsPowerSaving:              m.IsPowerSaving,
		OnBatteryShutdownAfterSecs: m.OnBatteryShutdownAfterSecs,
		AdcMultiplierOverride:      m.AdcMultiplierOverride,
		WaitBluetoothSecs:          m.WaitBluetoothSecs,
		SdsSecs:                    m.SdsSecs,
		LsSecs:                     m.LsSecs,
		MinWakeSecs:                m.MinWakeSecs,
	}
}

func powerConfigFromPB(p *pb.Config_PowerConfig) *PowerConfig {
	return &PowerConfig{
		IsPowerSaving:              p.IsPowerSaving,
		OnBatteryShutdownAfterSecs: p.OnBatteryShutdownAfterSecs,
		AdcMultiplierOverride:      p.AdcMultiplierOverride,
		WaitBluetoothSecs:          p.WaitBluetoothSecs,
		SdsSecs:                    p.SdsSecs,
		LsSecs:                     p.LsSecs,
		MinWakeSecs:                p.MinWakeSecs,
	}
}

func (m *PowerConfig) Marshal() []byte {
	if m == nil {
		return nil
	}
	return encodePB(m.toPB())
}

func (m *PowerConfig) Unmarshal(b []byte) error {
	return unmarshalPB("PowerConfig", b, m, infallible(powerConfigFromPB))
}

type LoRaConfig struct {
	UsePreset         bool
	ModemPreset       uint32
	Bandwidth         uint32
	SpreadFactor      uint32
	CodingRate        uint32
	FrequencyOffset   float32
	Region            uint32
	HopLimit          uint32
	TxEnabled         bool
	TxPower           int32
	ChannelNum        uint32
	OverrideDutyCycle bool
	IgnoreMQTT        bool
	ConfigOkToMQTT    bool
}

func (m *LoRaConfig) toPB() *pb.Config_LoRaConfig {
	p := &pb.Config_LoRaConfig{
		UsePreset:         m.UsePreset,
		ModemPreset:       pb.Config_LoRaConfig_ModemPreset(m.ModemPreset),
		Bandwidth:         m.Bandwidth,
		SpreadFactor:      m.SpreadFactor,
		CodingRate:        m.CodingRate,
		FrequencyOffset:   m.FrequencyOffset,
		Region:            pb.Config_LoRaConfig_RegionCode(m.Region),
		HopLimit:          m.HopLimit,
		TxEnabled:         m.TxEnabled,
		TxPower:           m.TxPower,
		ChannelNum:        m.ChannelNum,
		OverrideDutyCycle: m.OverrideDutyCycle,
		IgnoreMqtt:        m.IgnoreMQTT,
	}
	attach(p, func(e *encoder) { e.bool(105, m.ConfigOkToMQTT) })
	return p
}

func loraConfigFromPB(p *pb.Config_LoRaConfig) (*LoRaConfig, error) {
	m := &LoRaConfig{
		UsePreset:         p.UsePreset,
		ModemPreset:       uint32(p.ModemPreset),
		Bandwidth:         p.Bandwidth,
		SpreadFactor:      p.SpreadFactor,
		CodingRate:        p.CodingRate,
		FrequencyOffset:   p.FrequencyOffset,
		Region:            uint32(p.Region),
		HopLimit:          p.HopLimit,
		TxEnabled:         p.TxEnabled,
		TxPower:           p.TxPower,
		ChannelNum:        p.ChannelNum,
		OverrideDutyCycle: p.OverrideDutyCycle,
		IgnoreMQTT:        p.IgnoreMqtt,
	}
	err := unknown("LoRaConfig", p, func(f field) error {
		if f.num == 105 {
			m.ConfigOkToMQTT = f.bool()
		}
		return nil
	})
	return m, err
}

func (m *LoRaConfig) Marshal() []byte {
	if m == nil {
		return nil
	}
	return encodePB(m.toPB())
}

func (m *LoRaConfig) Unmarshal(b []byte) error {
	return unmarshalPB("LoRaConfig", b, m, loraConfigFromPB)
}

// SecurityConfig is the PKI section. The generated schema predates it, so
// it keeps a hand-written codec.
type SecurityConfig struct {
	PublicKey           []byte
	PrivateKey          []byte
	AdminKey            [][]byte
	IsManaged           bool
	SerialEnabled       bool
	DebugLogAPIEnabled  bool
	AdminChannelEnabled bool
}

func (m *SecurityConfig) Marshal() []byte {
	if m == nil {
		return nil
	}
	var e encoder
	e.bytes(1, m.PublicKey)
	e.bytes(2, m.PrivateKey)
	for _, k := range m.AdminKey {
		e.embedded(3, k)
	}
	e.bool(4, m.IsManaged)
	e.bool(5, m.SerialEnabled)
	e.bool(6, m.DebugLogAPIEnabled)
	e.bool(8, m.AdminChannelEnabled)
	return e.buf
}

func (m *SecurityConfig) Unmarshal(b []byte) error {
	*m = SecurityConfig{}
	return decodeInto("SecurityConfig", b, func(f field) error {
		switch f.num {
		case 1:
			m.PublicKey = f.bytes()
		case 2:
			m.PrivateKey = f.bytes()
		case 3:
			m.AdminKey = append(m.AdminKey, f.bytes())
		case 4:
			m.IsManaged = f.bool()
		case 5:
			m.SerialEnabled = f.bool()
		case 6:
			m.DebugLogAPIEnabled = f.bool()
		case 8:
			m.AdminChannelEnabled = f.bool()
		}
		return nil
	})
}

// LocalConfig is the merged view of every Config section the radio reported.
type LocalConfig struct {
	Device   *DeviceConfig
	Position *PositionConfig
	Power    *PowerConfig
	LoRa     *LoRaConfig
	Security *SecurityConfig
	Other    map[uint32][]byte
}

// Merge stores the section carried by c, replacing any earlier value.
func (l *LocalConfig) Merge(c *Config) {
	switch {
	case c.Device != nil:
		l.Device = c.Device
	case c.Position != nil:
		l.Position = c.Position
	case c.Power != nil:
		l.Power = c.Power
	case c.LoRa != nil:
		l.LoRa = c.LoRa
	case c.Security != nil:
		l.Security = c.Security
	case c.Other != nil:
		if l.Other == nil {
			l.Other = make(map[uint32][]byte)
		}
		l.Other[c.Other.Field] = c.Other.Raw
	}
}

// Sections returns one Config per section present, in field order.
func (l *LocalConfig) Sections() []*Config {
	var out []*Config
	if l.Device != nil {
		out = append(out, &Config{Device: l.Device})
	}
	if l.Position != nil {
		out = append(out, &Config{Position: l.Position})
	}
	if l.Power != nil {
		out = append(out, &Config{Power: l.Power})
	}
	if l.LoRa != nil {
		out = append(out, &Config{LoRa: l.LoRa})
	}
	if l.Security != nil {
		out = append(out, &Config{Security: l.Security})
	}
	for num, raw := range l.Other {
		out = append(out, &Config{Other: &Opaque{Field: num, Raw: raw}})
	}
	return out
}

// Clone returns a deep copy obtained through the wire form.
func (l *LocalConfig) Clone() *LocalConfig {
	out := &LocalConfig{}
	if l == nil {
		return out
	}
	for _, s := range l.Sections() {
		var c Config
		if err := c.Unmarshal(s.Marshal()); err == nil {
			out.Merge(&c)
		}
	}
	return out
}

// ModuleConfigType selects one module section. The field number inside
// ModuleConfig is ModuleConfigType+1.
type ModuleConfigType uint32

const (
	ModuleMQTT ModuleConfigType = iota
	ModuleSerial
	ModuleExtNotification
	ModuleStoreForward
	ModuleRangeTest
	ModuleTelemetry
	ModuleCannedMessage
	ModuleAudio
	ModuleRemoteHardware
	ModuleNeighborInfo
	ModuleAmbientLighting
	ModuleDetectionSensor
	ModulePaxcounter
)

// AllModuleConfigTypes lists every module section the radio reports.
var AllModuleConfigTypes = []ModuleConfigType{
	ModuleMQTT, ModuleSerial, ModuleExtNotification, ModuleStoreForward, ModuleRangeTest,
	ModuleTelemetry, ModuleCannedMessage, ModuleAudio, ModuleRemoteHardware, ModuleNeighborInfo,
	ModuleAmbientLighting, ModuleDetectionSensor, ModulePaxcounter,
}

// ModuleConfig is a oneof over module configuration sections.
type ModuleConfig struct {
	MQTT         *MQTTConfig
	StoreForward *StoreForwardConfig
	Telemetry    *TelemetryConfig
	NeighborInfo *NeighborInfoConfig
	Other        *Opaque
}

// IsEmpty reports whether no module section is set.
func (c *ModuleConfig) IsEmpty() bool {
	return c == nil || (c.MQTT == nil && c.StoreForward == nil && c.Telemetry == nil &&
		c.NeighborInfo == nil && c.Other == nil)
}

// Type reports which module section c carries.
func (c *ModuleConfig) Type() ModuleConfigType {
	switch {
	case c.MQTT != nil:
		return ModuleMQTT
	case c.StoreForward != nil:
		return ModuleStoreForward
	case c.Telemetry != nil:
		return ModuleTelemetry
	case c.NeighborInfo != nil:
		return ModuleNeighborInfo
	case c.Other != nil && c.Other.Field > 0:
		return ModuleConfigType(c.Other.Field - 1)
	}
	return ModuleMQTT
}

func (c *ModuleConfig) toPB() *pb.ModuleConfig {
	p := &pb.ModuleConfig{}
	switch {
	case c.MQTT != nil:
		p.PayloadVariant = &pb.ModuleConfig_Mqtt{Mqtt: c.MQTT.toPB()}
	case c.StoreForward != nil:
		p.PayloadVariant = &pb.ModuleConfig_StoreForward{StoreForward: c.StoreForward.toPB()}
	case c.Telemetry != nil:
		p.PayloadVariant = &pb.ModuleConfig_Telemetry{Telemetry: c.Telemetry.toPB()}
	case c.NeighborInfo != nil:
		p.PayloadVariant = &pb.ModuleConfig_NeighborInfo{NeighborInfo: c.NeighborInfo.toPB()}
	case c.Other != nil:
		attach(p, func(e *encoder) { e.embedded(protoNum(c.Other.Field), c.Other.Raw) })
	}
	return p
}

func moduleConfigFromPB(p *pb.ModuleConfig) (*ModuleConfig, error) {
	c := &ModuleConfig{}
	var err error
	switch v := p.PayloadVariant.(type) {
	case *pb.ModuleConfig_Mqtt:
		c.MQTT = mqttConfigFromPB(orEmpty(v.Mqtt))
	case *pb.ModuleConfig_StoreForward:
		c.StoreForward, err = storeForwardConfigFromPB(orEmpty(v.StoreForward))
	case *pb.ModuleConfig_Telemetry:
		c.Telemetry = telemetryConfigFromPB(orEmpty(v.Telemetry))
	case *pb.ModuleConfig_NeighborInfo:
		c.NeighborInfo, err = neighborInfoConfigFromPB(orEmpty(v.NeighborInfo))
	case nil:
		err = unknown("ModuleConfig", p, func(f field) error {
			if f.isBytes() {
				c.Other = &Opaque{Field: uint32(f.num), Raw: f.bytes()}
			}
			return nil
		})
	default:
		c.Other = opaqueOf(p, "payload_variant")
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (c *ModuleConfig) Marshal() []byte {
	if c == nil {
		return nil
	}
	return encodePB(c.toPB())
}

func (c *ModuleConfig) Unmarshal(b []byte) error {
	return unmarshalPB("ModuleConfig", b, c, moduleConfigFromPB)
}

type MQTTConfig struct {
	Enabled              bool
	Address              string
	Username             string
	Password             string
	EncryptionEnabled    bool
	JSONEnabled          bool
	TLSEnabled           bool
	Root                 string
	ProxyToClientEnabled bool
	MapReportingEnabled  bool
}

func (m *MQTTConfig) toPB() *pb.ModuleConfig_MQTTConfig {
	return &pb.ModuleConfig_MQTTConfig{
		Enabled:              m.Enabled,
		Address:              text(m.Address),
		Username:             text(m.Username),
		Password:             text(m.Password),
		EncryptionEnabled:    m.EncryptionEnabled,
		JsonEnabled:          m.JSONEnabled,
		TlsEnabled:           m.TLSEnabled,
		Root:                 text(m.Root),
		ProxyToClientEnabled: m.ProxyToClientEnabled,
		MapReportingEnabled:  m.MapReportingEnabled,
	}
}

func mqttConfigFromPB(p *pb.ModuleConfig_MQTTConfig) *MQTTConfig {
	return &MQTTConfig{
		Enabled:              p.Enabled,
		Address:              p.Address,
		Username:             p.Username,
		Password:             p.Password,
		EncryptionEnabled:    p.EncryptionEnabled,
		JSONEnabled:          p.JsonEnabled,
		TLSEnabled:           p.TlsEnabled,
		Root:                 p.Root,
		ProxyToClientEnabled: p.ProxyToClientEnabled,
		MapReportingEnabled:  p.MapReportingEnabled,
	}
}

func (m *MQTTConfig) Marshal() []byte {
	if m == nil {
		return nil
	}
	return encodePB(m.toPB())
}

func (m *MQTTConfig) Unmarshal(b []byte) error {
	return unmarshalPB("MQTTConfig", b, m, infallible(mqttConfigFromPB))
}

type StoreForwardConfig struct {
	Enabled             bool
	Heartbeat           bool
	Records             uint32
	HistoryReturnMax    uint32
	HistoryReturnWindow uint32
	IsServer            bool
}

func (m *StoreForwardConfig) toPB() *pb.ModuleConfig_StoreForwardConfig {
	p := &pb.ModuleConfig_StoreForwardConfig{
		Enabled:             m.Enabled,
		Heartbeat:           m.Heartbeat,
		Records:             m.Records,
		HistoryReturnMax:    m.HistoryReturnMax,
		HistoryReturnWindow: m.HistoryReturnWindow,
	}
	attach(p, func(e *encoder) { e.bool(6, m.IsServer) })
	return p
}

func storeForwardConfigFromPB(p *pb.ModuleConfig_StoreForwardConfig) (*StoreForwardConfig, error) {
	m := &StoreForwardConfig{
		Enabled:             p.Enabled,
		Heartbeat:           p.Heartbeat,
		Records:             p.Records,
		HistoryReturnMax:    p.HistoryReturnMax,
		HistoryReturnWindow: p.HistoryReturnWindow,
	}
	err := unknown("StoreForwardConfig", p, func(f field) error {
		if f.num == 6 {
			m.IsServer = f.bool()
		}
		return nil
	})
	return m, err
}

func (m *StoreForwardConfig) Marshal() []byte {
	if m == nil {
		return nil
	}
	return encodePB(m.toPB())
}

func (m *StoreForwardConfig) Unmarshal(b []byte) error {
	return unmarshalPB("StoreForwardConfig", b, m, storeForwardConfigFromPB)
}

type TelemetryConfig struct {
	DeviceUpdateInterval          uint32
	EnvironmentUpdateInterval     uint32
	EnvironmentMeasurementEnabled bool
	PowerMeasurementEnabled       bool
	PowerUpdateInterval           uint32
}

func (m *TelemetryConfig) toPB() *pb.ModuleConfig_TelemetryConfig {
	return &pb.ModuleConfig_TelemetryConfig{
		DeviceUpdateInterval:          m.DeviceUpdateInterval,
		EnvironmentUpdateInterval:     m.EnvironmentUpdateInterval,
		EnvironmentMeasurementEnabled: m.EnvironmentMeasurementEnabled,
		PowerMeasurementEnabled:       m.PowerMeasurementEnabled,
		PowerUpdateInterval:           m.PowerUpdateInterval,
	}
}

func telemetryConfigFromPB(p *pb.ModuleConfig_TelemetryConfig) *TelemetryConfig {
	return &TelemetryConfig{
		DeviceUpdateInterval:          p.DeviceUpdateInterval,
		EnvironmentUpdateInterval:     p.EnvironmentUpdateInterval,
		EnvironmentMeasurementEnabled: p.EnvironmentMeasurementEnabled,
		PowerMeasurementEnabled:       p.PowerMeasurementEnabled,
		PowerUpdateInterval:           p.PowerUpdateInterval,
	}
}

func (m *TelemetryConfig) Marshal() []byte {
	if m == nil {
		return nil
	}
	return encodePB(m.toPB())
}

func (m *TelemetryConfig) Unmarshal(b []byte) error {
	return unmarshalPB("TelemetryConfig", b, m, infallible(telemetryConfigFromPB))
}

type NeighborInfoConfig struct {
	Enabled          bool
	UpdateInterval   uint32
	TransmitOverLoRa bool
}

func (m *NeighborInfoConfig) toPB() *pb.ModuleConfig_NeighborInfoConfig {
	p := &pb.ModuleConfig_NeighborInfoConfig{Enabled: m.Enabled, UpdateInterval: m.UpdateInterval}
	attach(p, func(e *encoder) { e.bool(3, m.TransmitOverLoRa) })
	return p
}

func neighborInfoConfigFromPB(p *pb.ModuleConfig_NeighborInfoConfig) (*NeighborInfoConfig, error) {
	m := &NeighborInfoConfig{Enabled: p.Enabled, UpdateInterval: p.UpdateInterval}
	err := unknown("NeighborInfoConfig", p, func(f field) error {
		if f.num == 3 {
			m.TransmitOverLoRa = f.bool()
		}
		return nil
	})
	return m, err
}

func (m *NeighborInfoConfig) Marshal() []byte {
	if m == nil {
		return nil
	}
	return encodePB(m.toPB())
}

func (m *NeighborInfoConfig) Unmarshal(b []byte) error {
	return unmarshalPB("NeighborInfoConfig", b, m, neighborInfoConfigFromPB)
}

// LocalModuleConfig is the merged view of every ModuleConfig section.
type LocalModuleConfig struct {
	MQTT         *MQTTConfig
	StoreForward *StoreForwardConfig
	Telemetry    *TelemetryConfig
	NeighborInfo *NeighborInfoConfig
	Other        map[uint32][]byte
}

func (l *LocalModuleConfig) Merge(c *ModuleConfig) {
	switch {
	case c.MQTT != nil:
		l.MQTT = c.MQTT
	case c.StoreForward != nil:
		l.StoreForward = c.StoreForward
	case c.Telemetry != nil:
		l.Telemetry = c.Telemetry
	case c.NeighborInfo != nil:
		l.NeighborInfo = c.NeighborInfo
	case c.Other != nil:
		if l.Other == nil {
			l.Other = make(map[uint32][]byte)
		}
		l.Other[c.Other.Field] = c.Other.Raw
	}
}

func (l *LocalModuleConfig) Sections() []*ModuleConfig {
	var out []*ModuleConfig
	if l.MQTT != nil {
		out = append(out, &ModuleConfig{MQTT: l.MQTT})
	}
	if l.StoreForward != nil {
		out = append(out, &ModuleConfig{StoreForward: l.StoreForward})
	}
	if l.Telemetry != nil {
		out = append(out, &ModuleConfig{Telemetry: l.Telemetry})
	}
	if l.NeighborInfo != nil {
		out = append(out, &ModuleConfig{NeighborInfo: l.NeighborInfo})
	}
	for num, raw := range l.Other {
		out = append(out, &ModuleConfig{Other: &Opaque{Field: num, Raw: raw}})
	}
	return out
}

func (l *LocalModuleConfig) Clone() *LocalModuleConfig {
	out := &LocalModuleConfig{}
	if l == nil {
		return out
	}
	for _, s := range l.Sections() {
		var c ModuleConfig
		if err := c.Unmarshal(s.Marshal()); err == nil {
			out.Merge(&c)
		}
	}
	return out
}

// ChannelRole marks a channel slot as primary, secondary or unused.
type ChannelRole uint32

const (
	ChannelDisabled ChannelRole = iota
	ChannelPrimary
	ChannelSecondary
)

// Channel is one of the radio's eight channel slots.
type Channel struct {
	Index    int32
	Settings *ChannelSettings
	Role     ChannelRole
}

type ChannelSettings struct {
	PSK             []byte
	Name            string
	ID              uint32
	UplinkEnabled   bool
	DownlinkEnabled bool
}

func (m *Channel) toPB() *pb.Channel {
	if m == nil {
		return nil
	}
	return &pb.Channel{
		Index:    m.Index,
		Settings: m.Settings.toPB(),
		Role:     pb.Channel_Role(m.Role),
	}
}

func channelFromPB(p *pb.Channel) *Channel {
	if p == nil {
		return nil
	}
	return &Channel{
		Index:    p.Index,
		Settings: channelSettingsFromPB(p.Settings),
		Role:     ChannelRole(p.Role),
	}
}

func (m *Channel) Marshal() []byte {
	if m == nil {
		return nil
	}
	return encodePB(m.toPB())
}

func (m *Channel) Unmarshal(b []byte) error {
	return unmarshalPB("Channel", b, m, infallible(channelFromPB))
}

func (m *ChannelSettings) toPB() *pb.ChannelSettings {
	if m == nil {
		return nil
	}
	return &pb.ChannelSettings{
		Psk:             m.PSK,
		Name:            text(m.Name),
		Id:              m.ID,
		UplinkEnabled:   m.UplinkEnabled,
		DownlinkEnabled: m.DownlinkEnabled,
	}
}

func channelSettingsFromPB(p *pb.ChannelSettings) *ChannelSettings {
	if p == nil {
		return nil
	}
	return &ChannelSettings{
		PSK:             p.Psk,
		Name:            p.Name,
		ID:              p.Id,
		UplinkEnabled:   p.UplinkEnabled,
		DownlinkEnabled: p.DownlinkEnabled,
	}
}

func (m *ChannelSettings) Marshal() []byte {
	if m == nil {
		return nil
	}
	return encodePB(m.toPB())
}

func (m *ChannelSettings) Unmarshal(b []byte) error {
	return unmarshalPB("ChannelSettings", b, m, infallible(channelSettingsFromPB))
}

// MaxChannels is the number of channel slots on a radio.
const MaxChannels = 8
