package wire

import (
	"fmt"

	pb "github.com/lmatte7/gomesh/github.com/meshtastic/gomeshproto"
)

// FromRadioVariant is the sealed set of payloads a FromRadio envelope can
// carry. Consumers switch on the concrete type.
type FromRadioVariant interface {
	isFromRadioVariant()
}

// ConfigCompleteID echoes the want_config_id nonce once a config stage ends.
type ConfigCompleteID uint32

// Rebooted reports that the radio restarted while the link stayed up.
type Rebooted bool

func (*MeshPacket) isFromRadioVariant()             {}
func (*MyNodeInfo) isFromRadioVariant()             {}
func (*NodeInfo) isFromRadioVariant()               {}
func (*Config) isFromRadioVariant()                 {}
func (*LogRecord) isFromRadioVariant()              {}
func (ConfigCompleteID) isFromRadioVariant()        {}
func (Rebooted) isFromRadioVariant()                {}
func (*ModuleConfig) isFromRadioVariant()           {}
func (*Channel) isFromRadioVariant()                {}
func (*QueueStatus) isFromRadioVariant()            {}
func (*DeviceMetadata) isFromRadioVariant()         {}
func (*MqttClientProxyMessage) isFromRadioVariant() {}
func (*ClientNotification) isFromRadioVariant()     {}
func (*Opaque) isFromRadioVariant()                 {}

// FromRadio is the envelope for every frame the radio sends.
type FromRadio struct {
	ID      uint32
	Variant FromRadioVariant
}

const (
	fromRadioNodeInfoField     = 4
	fromRadioNotificationField = 16
	toRadioHeartbeatField      = 7
)

func (m *FromRadio) toPB() *pb.FromRadio {
	p := &pb.FromRadio{Id: m.ID}
	switch v := m.Variant.(type) {
	case *MeshPacket:
		p.PayloadVariant = &pb.FromRadio_Packet{Packet: orEmpty(v.toPB())}
	case *MyNodeInfo:
		p.PayloadVariant = &pb.FromRadio_MyInfo{MyInfo: orEmpty(v.toPB())}
	case *NodeInfo:
		p.PayloadVariant = &pb.FromRadio_NodeInfo{NodeInfo: orEmpty(v.toPB())}
	case *Config:
		p.PayloadVariant = &pb.FromRadio_Config{Config: orEmpty(v).toPB()}
	case *LogRecord:
		p.PayloadVariant = &pb.FromRadio_LogRecord{LogRecord: orEmpty(v.toPB())}
	case ConfigCompleteID:
		p.PayloadVariant = &pb.FromRadio_ConfigCompleteId{ConfigCompleteId: uint32(v)}
	case Rebooted:
		p.PayloadVariant = &pb.FromRadio_Rebooted{Rebooted: bool(v)}
	case *ModuleConfig:
		p.PayloadVariant = &pb.FromRadio_ModuleConfig{ModuleConfig: orEmpty(v).toPB()}
	case *Channel:
		p.PayloadVariant = &pb.FromRadio_Channel{Channel: orEmpty(v.toPB())}
	case *QueueStatus:
		p.PayloadVariant = &pb.FromRadio_QueueStatus{QueueStatus: orEmpty(v.toPB())}
	case *DeviceMetadata:
		p.PayloadVariant = &pb.FromRadio_Metadata{Metadata: orEmpty(v.toPB())}
	case *MqttClientProxyMessage:
		p.PayloadVariant = &pb.FromRadio_MqttClientProxyMessage{MqttClientProxyMessage: orEmpty(v.toPB())}
	case *ClientNotification:
		attach(p, func(e *encoder) { e.embedded(fromRadioNotificationField, v.Marshal()) })
	case *Opaque:
		attach(p, func(e *encoder) { e.embedded(protoNum(v.Field), v.Raw) })
	}
	return p
}

func fromRadioFromPB(p *pb.FromRadio) (*FromRadio, error) {
	m := &FromRadio{ID: p.Id}
	var err error
	switch v := p.PayloadVariant.(type) {
	case *pb.FromRadio_Packet:
		m.Variant, err = meshPacketFromPB(orEmpty(v.Packet))
	case *pb.FromRadio_MyInfo:
		m.Variant, err = myNodeInfoFromPB(orEmpty(v.MyInfo))
	case *pb.FromRadio_NodeInfo:
		m.Variant, err = nodeInfoFromPB(orEmpty(v.NodeInfo))
	case *pb.FromRadio_Config:
		m.Variant, err = configFromPB(orEmpty(v.Config))
	case *pb.FromRadio_LogRecord:
		m.Variant = logRecordFromPB(orEmpty(v.LogRecord))
	case *pb.FromRadio_ConfigCompleteId:
		m.Variant = ConfigCompleteID(v.ConfigCompleteId)
	case *pb.FromRadio_Rebooted:
		m.Variant = Rebooted(v.Rebooted)
	case *pb.FromRadio_ModuleConfig:
		m.Variant, err = moduleConfigFromPB(orEmpty(v.ModuleConfig))
	case *pb.FromRadio_Channel:
		m.Variant = channelFromPB(orEmpty(v.Channel))
	case *pb.FromRadio_QueueStatus:
		m.Variant = queueStatusFromPB(orEmpty(v.QueueStatus))
	case *pb.FromRadio_Metadata:
		m.Variant, err = deviceMetadataFromPB(orEmpty(v.Metadata))
	case *pb.FromRadio_MqttClientProxyMessage:
		m.Variant = mqttProxyFromPB(orEmpty(v.MqttClientProxyMessage))
	case nil:
		err = unknown("FromRadio", p, func(f field) error {
			if !f.isBytes() {
				return nil
			}
			if f.num == fromRadioNotificationField {
				n, err := sub[ClientNotification](f)
				if err != nil {
					return err
				}
				m.Variant = n
				return nil
			}
			m.Variant = &Opaque{Field: uint32(f.num), Raw: f.bytes()}
			return nil
		})
	default:
		if o := opaqueOf(p, "payload_variant"); o != nil {
			m.Variant = o
		}
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *FromRadio) Marshal() []byte {
	if m == nil {
		return nil
	}
	return encodePB(m.toPB())
}

func (m *FromRadio) Unmarshal(b []byte) error {
	return unmarshalPB("FromRadio", b, m, func(p *pb.FromRadio) (*FromRadio, error) {
		env, err := fromRadioFromPB(p)
		if err != nil {
			return nil, err
		}
		if n, ok := env.Variant.(*NodeInfo); ok && n.HopsAway == nil &&
			hasField(b, fromRadioNodeInfoField, nodeInfoHopsAwayField) {
			n.HopsAway = new(uint32)
		}
		return env, nil
	})
}

// DecodeFromRadio parses one frame received from the radio. An envelope
// with no recognized member decodes to a nil Variant.
func DecodeFromRadio(b []byte) (*FromRadio, error) {
	var m FromRadio
	if err := m.Unmarshal(b); err != nil {
		return nil, err
	}
	return &m, nil
}

// ToRadioVariant is the sealed set of payloads a ToRadio envelope can carry.
type ToRadioVariant interface {
	isToRadioVariant()
}

// WantConfigID starts a config pull; the radio echoes it in ConfigCompleteID.
type WantConfigID uint32

// Disconnect tells the radio the client is going away.
type Disconnect bool

func (*MeshPacket) isToRadioVariant()             {}
func (WantConfigID) isToRadioVariant()            {}
func (Disconnect) isToRadioVariant()              {}
func (*MqttClientProxyMessage) isToRadioVariant() {}
func (*Heartbeat) isToRadioVariant()              {}

// ToRadio is the envelope for every frame sent to the radio.
type ToRadio struct {
	Variant ToRadioVariant
}

func (m *ToRadio) toPB() *pb.ToRadio {
	p := &pb.ToRadio{}
	switch v := m.Variant.(type) {
	case *MeshPacket:
		p.PayloadVariant = &pb.ToRadio_Packet{Packet: orEmpty(v.toPB())}
	case WantConfigID:
		p.PayloadVariant = &pb.ToRadio_WantConfigId{WantConfigId: uint32(v)}
	case Disconnect:
		p.PayloadVariant = &pb.ToRadio_Disconnect{Disconnect: bool(v)}
	case *MqttClientProxyMessage:
		p.PayloadVariant = &pb.ToRadio_MqttClientProxyMessage{MqttClientProxyMessage: orEmpty(v.toPB())}
	case *Heartbeat:
		attach(p, func(e *encoder) { e.embedded(toRadioHeartbeatField, v.Marshal()) })
	}
	return p
}

func toRadioFromPB(p *pb.ToRadio) (*ToRadio, error) {
	m := &ToRadio{}
	var err error
	switch v := p.PayloadVariant.(type) {
	case *pb.ToRadio_Packet:
		m.Variant, err = meshPacketFromPB(orEmpty(v.Packet))
	case *pb.ToRadio_WantConfigId:
		m.Variant = WantConfigID(v.WantConfigId)
	case *pb.ToRadio_Disconnect:
		m.Variant = Disconnect(v.Disconnect)
	case *pb.ToRadio_MqttClientProxyMessage:
		m.Variant = mqttProxyFromPB(orEmpty(v.MqttClientProxyMessage))
	case nil:
		err = unknown("ToRadio", p, func(f field) error {
			if f.num != toRadioHeartbeatField {
				return nil
			}
			hb, err := sub[Heartbeat](f)
			if err != nil {
				return err
			}
			m.Variant = hb
			return nil
		})
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *ToRadio) Marshal() []byte {
	if m == nil {
		return nil
	}
	return encodePB(m.toPB())
}

func (m *ToRadio) Unmarshal(b []byte) error {
	return unmarshalPB("ToRadio", b, m, toRadioFromPB)
}

// EncodeToRadio serializes t, refusing envelopes with no payload.
func EncodeToRadio(t *ToRadio) ([]byte, error) {
	if t == nil || t.Variant == nil {
		return nil, fmt.Errorf("encode ToRadio: %w", ErrUnknownVariant)
	}
	return t.Marshal(), nil
}

// DecodeToRadio parses a client frame. Used by radio simulators and tests.
func DecodeToRadio(b []byte) (*ToRadio, error) {
	var m ToRadio
	if err := m.Unmarshal(b); err != nil {
		return nil, err
	}
	if m.Variant == nil {
		return nil, fmt.Errorf("decode ToRadio: %w", ErrUnknownVariant)
	}
	return &m, nil
}
