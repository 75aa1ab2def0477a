package model

import (
	"time"
	"unicode/utf8"

	"github.com/opd-ai/meshlink/wire"
)

// MessageStatus tracks delivery of a DataPacket.
type MessageStatus int

const (
	StatusUnknown MessageStatus = iota
	StatusReceived
	StatusQueued
	StatusEnroute
	StatusDelivered
	StatusSFPPRouting
	StatusSFPPConfirmed
	StatusError
)

var statusNames = []string{
	"UNKNOWN", "RECEIVED", "QUEUED", "ENROUTE", "DELIVERED", "SFPP_ROUTING", "SFPP_CONFIRMED", "ERROR",
}

func (s MessageStatus) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "UNKNOWN"
}

// DataPacket is the application-level view of a MeshPacket carrying Data.
type DataPacket struct {
	To           string
	From         string
	Bytes        []byte
	DataType     wire.PortNum
	Time         int64 // milliseconds since the epoch
	ID           uint32
	Status       MessageStatus
	HopLimit     uint32
	Channel      uint32
	WantAck      bool
	HopStart     uint32
	SNR          float32
	RSSI         int32
	ReplyID      uint32
	RelayNode    uint32
	ViaMQTT      bool
	Relays       int
	RetryCount   int
	Emoji        uint32
	SFPPHash     []byte
	ErrorMessage string
}

// NewTextPacket builds an outgoing text message.
func NewTextPacket(to string, channel uint32, text string, replyID uint32) *DataPacket {
	return &DataPacket{
		To:       to,
		From:     IDLocal,
		Bytes:    []byte(text),
		DataType: wire.PortTextMessage,
		Channel:  channel,
		ReplyID:  replyID,
		WantAck:  true,
		Time:     time.Now().UnixMilli(),
	}
}

// Text returns the payload of a text or alert packet.
func (p *DataPacket) Text() (string, bool) {
	if p.DataType != wire.PortTextMessage && p.DataType != wire.PortAlert {
		return "", false
	}
	if !utf8.Valid(p.Bytes) {
		return "", false
	}
	return string(p.Bytes), true
}

// HopsAway derives the hop distance, or -1 when it cannot be known.
func (p *DataPacket) HopsAway() int32 {
	if p.HopStart == 0 || p.HopLimit > p.HopStart {
		return -1
	}
	return int32(p.HopStart - p.HopLimit)
}

// Clone returns a copy that shares no byte slices with p.
func (p *DataPacket) Clone() *DataPacket {
	c := *p
	c.Bytes = append([]byte(nil), p.Bytes...)
	c.SFPPHash = append([]byte(nil), p.SFPPHash...)
	return &c
}

// Reaction is an emoji reply to an earlier message.
type Reaction struct {
	ReplyID      uint32
	UserID       string
	Emoji        string
	Time         int64
	PacketID     uint32
	Status       MessageStatus
	Channel      uint32
	To           string
	SNR          float32
	RSSI         int32
	HopsAway     int32
	RetryCount   int
	RelayNode    uint32
	Relays       int
	RoutingError wire.RoutingError
}
