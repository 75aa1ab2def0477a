package model

import (
	"bytes"
	"math"
	"time"

	"github.com/opd-ai/meshlink/wire"
)

// Node is one entry of the node database. Sub-messages are replaced, never
// mutated in place, so copies may share them.
type Node struct {
	Num                  uint32
	User                 *wire.User
	LongName             string
	ShortName            string
	Position             *wire.Position
	Latitude             float64
	Longitude            float64
	SNR                  float32
	RSSI                 int32
	LastHeard            uint32
	DeviceTelemetry      *wire.Telemetry
	EnvironmentTelemetry *wire.Telemetry
	PowerTelemetry       *wire.Telemetry
	Paxcounter           *wire.Paxcount
	Channel              uint32
	ViaMQTT              bool
	HopsAway             int32
	IsFavorite           bool
	IsIgnored            bool
	IsMuted              bool
	PublicKey            []byte
	Notes                string
	ManuallyVerified     bool
	Status               string
}

// NewNode creates a node with a synthesized default user.
func NewNode(num, channel uint32) *Node {
	id := DefaultNodeID(num)
	last4 := id[len(id)-4:]
	user := &wire.User{
		ID:        id,
		LongName:  "Meshtastic " + last4,
		ShortName: last4,
		HWModel:   wire.HardwareUnset,
	}
	return &Node{
		Num:       num,
		User:      user,
		LongName:  user.LongName,
		ShortName: user.ShortName,
		Channel:   channel,
		SNR:       math.MaxFloat32,
		RSSI:      math.MaxInt32,
		HopsAway:  -1,
	}
}

// Clone returns a copy whose user and key can be modified independently.
func (n *Node) Clone() *Node {
	c := *n
	c.User = n.User.Clone()
	c.PublicKey = append([]byte(nil), n.PublicKey...)
	return &c
}

// IsUnknownUser reports whether the node never sent its hardware model.
func (n *Node) IsUnknownUser() bool {
	return n.User == nil || n.User.HWModel == wire.HardwareUnset
}

// Key returns the pinned public key, falling back to the user's key.
func (n *Node) Key() []byte {
	if len(n.PublicKey) > 0 {
		return n.PublicKey
	}
	if n.User == nil {
		return nil
	}
	return n.User.PublicKey
}

// HasPKC reports whether a public key is known for the node.
func (n *Node) HasPKC() bool {
	return len(n.Key()) > 0
}

// KeyMatches reports whether key equals the known public key.
func (n *Node) KeyMatches(key []byte) bool {
	return bytes.Equal(n.Key(), key)
}

// SetPosition stores p, filling in its time when the radio left it unset.
func (n *Node) SetPosition(p *wire.Position, defaultTime uint32) {
	pos := *p
	if pos.Time == 0 {
		pos.Time = defaultTime
	}
	n.Position = &pos
	n.Latitude = DegD(p.LatitudeI)
	n.Longitude = DegD(p.LongitudeI)
}

// DeviceMetrics returns the last device telemetry, or nil.
func (n *Node) DeviceMetrics() *wire.DeviceMetrics {
	if n.DeviceTelemetry == nil {
		return nil
	}
	return n.DeviceTelemetry.DeviceMetrics
}

// IsOnline reports whether the node was heard within OnlineThreshold of now.
func (n *Node) IsOnline(now time.Time) bool {
	return int64(n.LastHeard) > now.Add(-OnlineThreshold).Unix()
}

// Role returns the node's reported device role.
func (n *Node) Role() wire.Role {
	if n.User == nil {
		return wire.RoleClient
	}
	return n.User.Role
}

// MyNodeInfo describes the radio the client is attached to.
type MyNodeInfo struct {
	MyNodeNum          uint32
	HasGPS             bool
	Model              string
	FirmwareVersion    string
	CouldUpdate        bool
	ShouldUpdate       bool
	CurrentPacketID    uint64
	MessageTimeoutMsec int
	MinAppVersion      uint32
	MaxChannels        int
	HasWifi            bool
	ChannelUtilization float32
	AirUtilTx          float32
	DeviceID           string
	PioEnv             string
}

// MeshLog is one raw FromRadio frame recorded for diagnostics.
type MeshLog struct {
	UUID         string
	MessageType  string
	ReceivedDate int64 // milliseconds since the epoch
	FromNum      uint32
	PortNum      wire.PortNum
	FromRadio    *wire.FromRadio
}
