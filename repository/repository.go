// Package repository declares the storage boundary of the runtime and ships
// in-memory implementations used by the daemon and by tests.
//
// Components never touch storage directly; they call these interfaces. All
// methods take a context so a persistent backend can honor cancellation.
package repository

import (
	"context"
	"errors"

	"github.com/opd-ai/meshlink/flow"
	"github.com/opd-ai/meshlink/model"
	"github.com/opd-ai/meshlink/wire"
)

// ErrNotFound is returned by lookups that match nothing.
var ErrNotFound = errors.New("not found")

// NodeRepository persists the node database and the local radio identity.
type NodeRepository interface {
	Upsert(ctx context.Context, node *model.Node) error
	InstallConfig(ctx context.Context, myInfo *model.MyNodeInfo, nodes []*model.Node) error
	InsertMetadata(ctx context.Context, num uint32, metadata *wire.DeviceMetadata) error
	Metadata(ctx context.Context, num uint32) (*wire.DeviceMetadata, error)
	DeleteNode(ctx context.Context, num uint32) error
	DeleteNodes(ctx context.Context, nums []uint32) error
	ClearNodeDB(ctx context.Context, preserveFavorites bool) error
	NodeDBByNum(ctx context.Context) (map[uint32]*model.Node, error)
	UnknownNodes(ctx context.Context) ([]*model.Node, error)
	NodesOlderThan(ctx context.Context, lastHeard uint32) ([]*model.Node, error)
	ClearMyNodeInfo(ctx context.Context) error
	MyNodeInfo() *flow.Value[*model.MyNodeInfo]
}

// Packet is a stored application message. UUID is assigned by Insert.
type Packet struct {
	UUID         int64
	MyNodeNum    uint32
	PacketID     uint32
	PortNum      wire.PortNum
	ContactKey   string
	ReceivedTime int64
	Read         bool
	Data         *model.DataPacket
	RoutingError wire.RoutingError
}

// Clone returns a copy whose data packet is independent of p.
func (p *Packet) Clone() *Packet {
	c := *p
	if p.Data != nil {
		c.Data = p.Data.Clone()
	}
	return &c
}

// ContactSettings are per-conversation preferences.
type ContactSettings struct {
	ContactKey string
	Muted      bool
}

// PacketRepository persists messages, reactions and delivery state.
type PacketRepository interface {
	Insert(ctx context.Context, p *Packet) error
	Update(ctx context.Context, p *Packet) error
	PacketByID(ctx context.Context, packetID uint32) (*Packet, error)
	Messages(ctx context.Context, contactKey string) ([]*Packet, error)
	InsertReaction(ctx context.Context, r *model.Reaction) error
	UpdateReaction(ctx context.Context, r *model.Reaction) error
	ReactionByPacketID(ctx context.Context, packetID uint32) (*model.Reaction, error)
	ContactSettings(ctx context.Context, contactKey string) (ContactSettings, error)
	SetMuted(ctx context.Context, contactKey string, muted bool) error
	UpdateSFPPStatus(ctx context.Context, packetID, from, to uint32, hash []byte,
		status model.MessageStatus, rxTime, myNodeNum uint32) error
}

// RadioConfigRepository holds the configuration pulled from the radio.
type RadioConfigRepository interface {
	SetLocalConfig(ctx context.Context, c *wire.Config) error
	SetLocalModuleConfig(ctx context.Context, c *wire.ModuleConfig) error
	UpdateChannel(ctx context.Context, ch *wire.Channel) error
	ClearLocalConfig(ctx context.Context) error
	ClearLocalModuleConfig(ctx context.Context) error
	ClearChannelSet(ctx context.Context) error
	LocalConfig() *flow.Value[*wire.LocalConfig]
	ModuleConfig() *flow.Value[*wire.LocalModuleConfig]
	ChannelSet() *flow.Value[[]*wire.Channel]
}

// MeshLogRepository records raw radio traffic.
type MeshLogRepository interface {
	Insert(ctx context.Context, entry *model.MeshLog) error
	Recent(ctx context.Context, limit int) ([]*model.MeshLog, error)
	DeleteAll(ctx context.Context) error
}
