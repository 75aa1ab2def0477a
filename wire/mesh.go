package wire

import (
	pb "github.com/lmatte7/gomesh/github.com/meshtastic/gomeshproto"
)

// MeshPacket is a packet as seen on the mesh, either decoded or still encrypted.
type MeshPacket struct {
	From         uint32
	To           uint32
	Channel      uint32
	Decoded      *Data
	Encrypted    []byte
	ID           uint32
	RxTime       uint32
	RxSNR        float32
	HopLimit     uint32
	WantAck      bool
	Priority     Priority
	RxRSSI       int32
	ViaMQTT      bool
	HopStart     uint32
	PublicKey    []byte
	PKIEncrypted bool
	NextHop      uint32
	RelayNode    uint32
}

func (m *MeshPacket) toPB() *pb.MeshPacket {
	if m == nil {
		return nil
	}
	p := &pb.MeshPacket{
		From:     m.From,
		To:       m.To,
		Channel:  m.Channel,
		Id:       m.ID,
		RxTime:   m.RxTime,
		RxSnr:    m.RxSNR,
		HopLimit: m.HopLimit,
		WantAck:  m.WantAck,
		Priority: pb.MeshPacket_Priority(m.Priority),
		RxRssi:   m.RxRSSI,
		ViaMqtt:  m.ViaMQTT,
		HopStart: m.HopStart,
	}
	if m.Decoded != nil {
		p.PayloadVariant = &pb.MeshPacket_Decoded{Decoded: m.Decoded.toPB()}
	} else if len(m.Encrypted) > 0 {
		p.PayloadVariant = &pb.MeshPacket_Encrypted{Encrypted: m.Encrypted}
	}
	attach(p, func(e *encoder) {
		e.bytes(16, m.PublicKey)
		e.bool(17, m.PKIEncrypted)
		e.uint32(18, m.NextHop)
		e.uint32(19, m.RelayNode)
	})
	return p
}

func meshPacketFromPB(p *pb.MeshPacket) (*MeshPacket, error) {
	if p == nil {
		return nil, nil
	}
	m := &MeshPacket{
		From:     p.From,
		To:       p.To,
		Channel:  p.Channel,
		ID:       p.Id,
		RxTime:   p.RxTime,
		RxSNR:    p.RxSnr,
		HopLimit: p.HopLimit,
		WantAck:  p.WantAck,
		Priority: Priority(p.Priority),
		RxRSSI:   p.RxRssi,
		ViaMQTT:  p.ViaMqtt,
		HopStart: p.HopStart,
	}
	var err error
	switch v := p.PayloadVariant.(type) {
	case *pb.MeshPacket_Decoded:
		m.Decoded, err = dataFromPB(orEmpty(v.Decoded))
	case *pb.MeshPacket_Encrypted:
		if len(v.Encrypted) > 0 {
			m.Encrypted = v.Encrypted
		}
	}
	if err != nil {
		return nil, err
	}
	err = unknown("MeshPacket", p, func(f field) error {
		switch f.num {
		case 16:
			m.PublicKey = f.bytes()
		case 17:
			m.PKIEncrypted = f.bool()
		case 18:
			m.NextHop = f.uint32()
		case 19:
			m.RelayNode = f.uint32()
		}
		return nil
	})
	return m, err
}

// Marshal encodes the packet.
func (m *MeshPacket) Marshal() []byte {
	if m == nil {
		return nil
	}
	return encodePB(m.toPB())
}

// Unmarshal decodes b into the packet.
func (m *MeshPacket) Unmarshal(b []byte) error {
	return unmarshalPB("MeshPacket", b, m, meshPacketFromPB)
}

// Data is the decoded application payload of a MeshPacket.
type Data struct {
	PortNum      PortNum
	Payload      []byte
	WantResponse bool
	Dest         uint32
	Source       uint32
	RequestID    uint32
	ReplyID      uint32
	Emoji        uint32
	Bitfield     uint32
}

func (m *Data) toPB() *pb.Data {
	if m == nil {
		return nil
	}
	p := &pb.Data{
		Portnum:      pb.PortNum(m.PortNum),
		Payload:      m.Payload,
		WantResponse: m.WantResponse,
		Dest:         m.Dest,
		Source:       m.Source,
		RequestId:    m.RequestID,
		ReplyId:      m.ReplyID,
		Emoji:        m.Emoji,
	}
	attach(p, func(e *encoder) { e.uint32(9, m.Bitfield) })
	return p
}

func dataFromPB(p *pb.Data) (*Data, error) {
	if p == nil {
		return nil, nil
	}
	m := &Data{
		PortNum:      PortNum(p.Portnum),
		Payload:      p.Payload,
		WantResponse: p.WantResponse,
		Dest:         p.Dest,
		Source:       p.Source,
		RequestID:    p.RequestId,
		ReplyID:      p.ReplyId,
		Emoji:        p.Emoji,
	}
	err := unknown("Data", p, func(f field) error {
		if f.num == 9 {
			m.Bitfield = f.uint32()
		}
		return nil
	})
	return m, err
}

func (m *Data) Marshal() []byte {
	if m == nil {
		return nil
	}
	return encodePB(m.toPB())
}

func (m *Data) Unmarshal(b []byte) error {
	return unmarshalPB("Data", b, m, dataFromPB)
}

// User is the owner information a node broadcasts on NODEINFO_APP.
type User struct {
	ID         string
	LongName   string
	ShortName  string
	HWModel    HardwareModel
	IsLicensed bool
	Role       Role
	PublicKey  []byte
}

func (m *User) toPB() *pb.User {
	if m == nil {
		return nil
	}
	p := &pb.User{
		Id:         text(m.ID),
		LongName:   text(m.LongName),
		ShortName:  text(m.ShortName),
		HwModel:    pb.HardwareModel(m.HWModel),
		IsLicensed: m.IsLicensed,
		Role:       pb.Config_DeviceConfig_Role(m.Role),
	}
	attach(p, func(e *encoder) { e.bytes(8, m.PublicKey) })
	return p
}

func userFromPB(p *pb.User) (*User, error) {
	if p == nil {
		return nil, nil
	}
	m := &User{
		ID:         p.Id,
		LongName:   p.LongName,
		ShortName:  p.ShortName,
		HWModel:    HardwareModel(p.HwModel),
		IsLicensed: p.IsLicensed,
		Role:       Role(p.Role),
	}
	err := unknown("User", p, func(f field) error {
		if f.num == 8 {
			m.PublicKey = f.bytes()
		}
		return nil
	})
	return m, err
}

func (m *User) Marshal() []byte {
	if m == nil {
		return nil
	}
	return encodePB(m.toPB())
}

func (m *User) Unmarshal(b []byte) error {
	return unmarshalPB("User", b, m, userFromPB)
}

// Clone returns a deep copy of the user.
func (m *User) Clone() *User {
	if m == nil {
		return nil
	}
	c := *m
	c.PublicKey = append([]byte(nil), m.PublicKey...)
	return &c
}

// Position is a fixed-point location report. Latitude and longitude are
// degrees scaled by 1e7.
type Position struct {
	LatitudeI     int32
	LongitudeI    int32
	Altitude      int32
	Time          uint32
	GroundSpeed   uint32
	GroundTrack   uint32
	SatsInView    uint32
	PrecisionBits uint32
}

func (m *Position) toPB() *pb.Position {
	if m == nil {
		return nil
	}
	return &pb.Position{
		LatitudeI:     m.LatitudeI,
		LongitudeI:    m.LongitudeI,
		Altitude:      m.Altitude,
		Time:          m.Time,
		GroundSpeed:   m.GroundSpeed,
		GroundTrack:   m.GroundTrack,
		SatsInView:    m.SatsInView,
		PrecisionBits: m.PrecisionBits,
	}
}

func positionFromPB(p *pb.Position) *Position {
	if p == nil {
		return nil
	}
	return &Position{
		LatitudeI:     p.LatitudeI,
		LongitudeI:    p.LongitudeI,
		Altitude:      p.Altitude,
		Time:          p.Time,
		GroundSpeed:   p.GroundSpeed,
		GroundTrack:   p.GroundTrack,
		SatsInView:    p.SatsInView,
		PrecisionBits: p.PrecisionBits,
	}
}

func (m *Position) Marshal() []byte {
	if m == nil {
		return nil
	}
	return encodePB(m.toPB())
}

func (m *Position) Unmarshal(b []byte) error {
	return unmarshalPB("Position", b, m, infallible(positionFromPB))
}

// NodeInfo is one entry of the radio's node database sent during config sync.
type NodeInfo struct {
	Num           uint32
	User          *User
	Position      *Position
	SNR           float32
	LastHeard     uint32
	DeviceMetrics *DeviceMetrics
	Channel       uint32
	ViaMQTT       bool
	// HopsAway is nil when the radio does not know the hop distance.
	HopsAway              *uint32
	IsFavorite            bool
	IsIgnored             bool
	IsKeyManuallyVerified bool
}

const nodeInfoHopsAwayField = 9

func (m *NodeInfo) toPB() *pb.NodeInfo {
	if m == nil {
		return nil
	}
	p := &pb.NodeInfo{
		Num:           m.Num,
		User:          m.User.toPB(),
		Position:      m.Position.toPB(),
		Snr:           m.SNR,
		LastHeard:     m.LastHeard,
		DeviceMetrics: m.DeviceMetrics.toPB(),
		Channel:       m.Channel,
		ViaMqtt:       m.ViaMQTT,
	}
	if m.HopsAway != nil {
		p.HopsAway = *m.HopsAway
	}
	attach(p, func(e *encoder) {
		// A known distance of zero must still reach the wire.
		if m.HopsAway != nil && *m.HopsAway == 0 {
			e.forceUvarint(nodeInfoHopsAwayField, 0)
		}
		e.bool(10, m.IsFavorite)
		e.bool(11, m.IsIgnored)
		e.bool(12, m.IsKeyManuallyVerified)
	})
	return p
}

// nodeInfoFromPB converts p. A zero hop distance is indistinguishable from
// an absent one here; callers holding the raw frame restore it with hasField.
func nodeInfoFromPB(p *pb.NodeInfo) (*NodeInfo, error) {
	if p == nil {
		return nil, nil
	}
	m := &NodeInfo{
		Num:           p.Num,
		Position:      positionFromPB(p.Position),
		SNR:           p.Snr,
		LastHeard:     p.LastHeard,
		Channel:       p.Channel,
		ViaMQTT:       p.ViaMqtt,
	}
	if p.HopsAway != 0 {
		hops := p.HopsAway
		m.HopsAway = &hops
	}
	var err error
	if m.User, err = userFromPB(p.User); err != nil {
		return nil, err
	}
	if m.DeviceMetrics, err = deviceMetricsFromPB(p.DeviceMetrics); err != nil {
		return nil, err
	}
	err = unknown("NodeInfo", p, func(f field) error {
		switch f.num {
		case 10:
			m.IsFavorite = f.bool()
		case 11:
			m.IsIgnored = f.bool()
		case 12:
			m.IsKeyManuallyVerified = f.bool()
		}
		return nil
	})
	return m, err
}

func (m *NodeInfo) Marshal() []byte {
	if m == nil {
		return nil
	}
	return encodePB(m.toPB())
}

func (m *NodeInfo) Unmarshal(b []byte) error {
	return unmarshalPB("NodeInfo", b, m, func(p *pb.NodeInfo) (*NodeInfo, error) {
		n, err := nodeInfoFromPB(p)
		if err != nil {
			return nil, err
		}
		if n.HopsAway == nil && hasField(b, nodeInfoHopsAwayField) {
			n.HopsAway = new(uint32)
		}
		return n, nil
	})
}

// MyNodeInfo identifies the radio the client is attached to.
type MyNodeInfo struct {
	MyNodeNum     uint32
	RebootCount   uint32
	MinAppVersion uint32
	DeviceID      []byte
	PioEnv        string
}

func (m *MyNodeInfo) toPB() *pb.MyNodeInfo {
	if m == nil {
		return nil
	}
	p := &pb.MyNodeInfo{
		MyNodeNum:     m.MyNodeNum,
		RebootCount:   m.RebootCount,
		MinAppVersion: m.MinAppVersion,
	}
	attach(p, func(e *encoder) {
		e.bytes(12, m.DeviceID)
		e.string(13, m.PioEnv)
	})
	return p
}

func myNodeInfoFromPB(p *pb.MyNodeInfo) (*MyNodeInfo, error) {
	if p == nil {
		return nil, nil
	}
	m := &MyNodeInfo{
		MyNodeNum:     p.MyNodeNum,
		RebootCount:   p.RebootCount,
		MinAppVersion: p.MinAppVersion,
	}
	err := unknown("MyNodeInfo", p, func(f field) error {
		switch f.num {
		case 12:
			m.DeviceID = f.bytes()
		case 13:
			m.PioEnv = f.string()
		}
		return nil
	})
	return m, err
}

func (m *MyNodeInfo) Marshal() []byte {
	if m == nil {
		return nil
	}
	return encodePB(m.toPB())
}

func (m *MyNodeInfo) Unmarshal(b []byte) error {
	return unmarshalPB("MyNodeInfo", b, m, myNodeInfoFromPB)
}

// DeviceMetadata describes firmware and hardware capabilities of a node.
type DeviceMetadata struct {
	FirmwareVersion    string
	DeviceStateVersion uint32
	CanShutdown        bool
	HasWifi            bool
	HasBluetooth       bool
	HasEthernet        bool
	Role               Role
	PositionFlags      uint32
	HWModel            HardwareModel
	HasRemoteHardware  bool
	HasPKC             bool
}

func (m *DeviceMetadata) toPB() *pb.DeviceMetadata {
	if m == nil {
		return nil
	}
	p := &pb.DeviceMetadata{
		FirmwareVersion:    text(m.FirmwareVersion),
		DeviceStateVersion: m.DeviceStateVersion,
		CanShutdown:        m.CanShutdown,
		HasWifi:            m.HasWifi,
		HasBluetooth:       m.HasBluetooth,
		HasEthernet:        m.HasEthernet,
		Role:               pb.Config_DeviceConfig_Role(m.Role),
		PositionFlags:      m.PositionFlags,
		HwModel:            pb.HardwareModel(m.HWModel),
		HasRemoteHardware:  m.HasRemoteHardware,
	}
	attach(p, func(e *encoder) { e.bool(11, m.HasPKC) })
	return p
}

func deviceMetadataFromPB(p *pb.DeviceMetadata) (*DeviceMetadata, error) {
	if p == nil {
		return nil, nil
	}
	m := &DeviceMetadata{
		FirmwareVersion:    p.FirmwareVersion,
		DeviceStateVersion: p.DeviceStateVersion,
		CanShutdown:        p.CanShutdown,
		HasWifi:            p.HasWifi,
		HasBluetooth:       p.HasBluetooth,
		HasEthernet:        p.HasEthernet,
		Role:               Role(p.Role),
		PositionFlags:      p.PositionFlags,
		HWModel:            HardwareModel(p.HwModel),
		HasRemoteHardware:  p.HasRemoteHardware,
	}
	err := unknown("DeviceMetadata", p, func(f field) error {
		if f.num == 11 {
			m.HasPKC = f.bool()
		}
		return nil
	})
	return m, err
}

func (m *DeviceMetadata) Marshal() []byte {
	if m == nil {
		return nil
	}
	return encodePB(m.toPB())
}

func (m *DeviceMetadata) Unmarshal(b []byte) error {
	return unmarshalPB("DeviceMetadata", b, m, deviceMetadataFromPB)
}

// QueueStatus reports acceptance of a packet and the radio's free TX slots.
type QueueStatus struct {
	Res          int32
	Free         uint32
	Maxlen       uint32
	MeshPacketID uint32
}

func (m *QueueStatus) toPB() *pb.QueueStatus {
	if m == nil {
		return nil
	}
	return &pb.QueueStatus{Res: m.Res, Free: m.Free, Maxlen: m.Maxlen, MeshPacketId: m.MeshPacketID}
}

func queueStatusFromPB(p *pb.QueueStatus) *QueueStatus {
	if p == nil {
		return nil
	}
	return &QueueStatus{Res: p.Res, Free: p.Free, Maxlen: p.Maxlen, MeshPacketID: p.MeshPacketId}
}

func (m *QueueStatus) Marshal() []byte {
	if m == nil {
		return nil
	}
	return encodePB(m.toPB())
}

func (m *QueueStatus) Unmarshal(b []byte) error {
	return unmarshalPB("QueueStatus", b, m, infallible(queueStatusFromPB))
}

// ClientNotification is a human readable message the firmware wants shown.
// The generated schema predates it, so it keeps a hand-written codec.
type ClientNotification struct {
	ReplyID uint32
	Time    uint32
	Level   LogLevel
	Message string
}

func (m *ClientNotification) Marshal() []byte {
	if m == nil {
		return nil
	}
	var e encoder
	e.fixed32(1, m.ReplyID)
	e.fixed32(2, m.Time)
	e.uint32(3, uint32(m.Level))
	e.string(4, m.Message)
	return e.buf
}

func (m *ClientNotification) Unmarshal(b []byte) error {
	*m = ClientNotification{}
	return decodeInto("ClientNotification", b, func(f field) error {
		switch f.num {
		case 1:
			m.ReplyID = f.uint32()
		case 2:
			m.Time = f.uint32()
		case 3:
			m.Level = LogLevel(f.uint32())
		case 4:
			m.Message = f.string()
		}
		return nil
	})
}

// LogRecord is a firmware debug log line.
type LogRecord struct {
	Message string
	Time    uint32
	Source  string
	Level   LogLevel
}

func (m *LogRecord) toPB() *pb.LogRecord {
	if m == nil {
		return nil
	}
	return &pb.LogRecord{
		Message: text(m.Message),
		Time:    m.Time,
		Source:  text(m.Source),
		Level:   pb.LogRecord_Level(m.Level),
	}
}

func logRecordFromPB(p *pb.LogRecord) *LogRecord {
	if p == nil {
		return nil
	}
	return &LogRecord{Message: p.Message, Time: p.Time, Source: p.Source, Level: LogLevel(p.Level)}
}

func (m *LogRecord) Marshal() []byte {
	if m == nil {
		return nil
	}
	return encodePB(m.toPB())
}

func (m *LogRecord) Unmarshal(b []byte) error {
	return unmarshalPB("LogRecord", b, m, infallible(logRecordFromPB))
}

// Heartbeat keeps serial and TCP links alive between config stages. The
// generated schema predates it.
type Heartbeat struct {
	Nonce uint32
}

func (m *Heartbeat) Marshal() []byte {
	if m == nil {
		return nil
	}
	var e encoder
	e.uint32(1, m.Nonce)
	return e.buf
}

func (m *Heartbeat) Unmarshal(b []byte) error {
	*m = Heartbeat{}
	return decodeInto("Heartbeat", b, func(f field) error {
		if f.num == 1 {
			m.Nonce = f.uint32()
		}
		return nil
	})
}

// MqttClientProxyMessage carries MQTT traffic between the radio and a
// client-side broker connection.
type MqttClientProxyMessage struct {
	Topic    string
	Data     []byte
	Text     string
	Retained bool
}

func (m *MqttClientProxyMessage) toPB() *pb.MqttClientProxyMessage {
	if m == nil {
		return nil
	}
	p := &pb.MqttClientProxyMessage{Topic: text(m.Topic), Retained: m.Retained}
	if m.Data != nil {
		p.PayloadVariant = &pb.MqttClientProxyMessage_Data{Data: m.Data}
	} else if m.Text != "" {
		p.PayloadVariant = &pb.MqttClientProxyMessage_Text{Text: text(m.Text)}
	}
	return p
}

func mqttProxyFromPB(p *pb.MqttClientProxyMessage) *MqttClientProxyMessage {
	if p == nil {
		return nil
	}
	m := &MqttClientProxyMessage{Topic: p.Topic, Retained: p.Retained}
	switch v := p.PayloadVariant.(type) {
	case *pb.MqttClientProxyMessage_Data:
		m.Data = v.Data
	case *pb.MqttClientProxyMessage_Text:
		m.Text = v.Text
	}
	return m
}

func (m *MqttClientProxyMessage) Marshal() []byte {
	if m == nil {
		return nil
	}
	return encodePB(m.toPB())
}

func (m *MqttClientProxyMessage) Unmarshal(b []byte) error {
	return unmarshalPB("MqttClientProxyMessage", b, m, infallible(mqttProxyFromPB))
}
