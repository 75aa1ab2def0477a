package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/opd-ai/meshlink/model"
)

// MemoryPackets is an in-memory PacketRepository. Packets keep insertion order.
type MemoryPackets struct {
	nextUUID  int64
	packets   []*Packet
	reactions []*model.Reaction
	contacts  map[string]ContactSettings

	mu sync.RWMutex
}

// NewMemoryPackets creates an empty message store.
func NewMemoryPackets() *MemoryPackets {
	return &MemoryPackets{contacts: make(map[string]ContactSettings)}
}

func (r *MemoryPackets) Insert(ctx context.Context, p *Packet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextUUID++
	c := p.Clone()
	c.UUID = r.nextUUID
	p.UUID = c.UUID
	r.packets = append(r.packets, c)
	return nil
}

// Update replaces the stored row with p.UUID. A retried message changes its
// packet ID, so rows are matched by UUID rather than packet ID.
func (r *MemoryPackets) Update(ctx context.Context, p *Packet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, old := range r.packets {
		if old.UUID == p.UUID {
			r.packets[i] = p.Clone()
			return nil
		}
	}
	return ErrNotFound
}

func (r *MemoryPackets) PacketByID(ctx context.Context, packetID uint32) (*Packet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.packets) - 1; i >= 0; i-- {
		if r.packets[i].PacketID == packetID {
			return r.packets[i].Clone(), nil
		}
	}
	return nil, ErrNotFound
}

// Messages returns the packets of one conversation, or of all
// conversations when contactKey is empty, oldest first.
func (r *MemoryPackets) Messages(ctx context.Context, contactKey string) ([]*Packet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Packet
	for _, p := range r.packets {
		if contactKey == "" || p.ContactKey == contactKey {
			out = append(out, p.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ReceivedTime < out[j].ReceivedTime })
	return out, nil
}

func (r *MemoryPackets) InsertReaction(ctx context.Context, reaction *model.Reaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *reaction
	r.reactions = append(r.reactions, &c)
	return nil
}

// UpdateReaction replaces the reaction with the same reply ID, author and emoji.
func (r *MemoryPackets) UpdateReaction(ctx context.Context, reaction *model.Reaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, old := range r.reactions {
		if old.ReplyID == reaction.ReplyID && old.UserID == reaction.UserID && old.Emoji == reaction.Emoji {
			c := *reaction
			r.reactions[i] = &c
			return nil
		}
	}
	return ErrNotFound
}

func (r *MemoryPackets) ReactionByPacketID(ctx context.Context, packetID uint32) (*model.Reaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, reaction := range r.reactions {
		if reaction.PacketID == packetID && packetID != 0 {
			c := *reaction
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryPackets) ContactSettings(ctx context.Context, contactKey string) (ContactSettings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.contacts[contactKey]; ok {
		return s, nil
	}
	return ContactSettings{ContactKey: contactKey}, nil
}

func (r *MemoryPackets) SetMuted(ctx context.Context, contactKey string, muted bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contacts[contactKey] = ContactSettings{ContactKey: contactKey, Muted: muted}
	return nil
}

// UpdateSFPPStatus marks every stored copy of packetID sent from -> to with
// the store-and-forward status and chain hash. A confirmed packet is never
// moved back to routing.
func (r *MemoryPackets) UpdateSFPPStatus(ctx context.Context, packetID, from, to uint32, hash []byte,
	status model.MessageStatus, rxTime, myNodeNum uint32) error {
	fromIDs := []string{model.DefaultNodeID(from)}
	if from == myNodeNum {
		fromIDs = append(fromIDs, model.IDLocal)
	}
	toIDs := []string{model.DefaultNodeID(to)}
	if to == model.NodeNumBroadcast {
		toIDs = append(toIDs, model.IDBroadcast)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.packets {
		if p.PacketID != packetID || p.Data == nil {
			continue
		}
		if !contains(fromIDs, p.Data.From) || !contains(toIDs, p.Data.To) {
			continue
		}
		if p.Data.Status == model.StatusSFPPConfirmed && status == model.StatusSFPPRouting {
			continue
		}
		p.Data.Status = status
		p.Data.SFPPHash = append([]byte(nil), hash...)
		if rxTime != 0 && p.Data.Time == 0 {
			p.Data.Time = int64(rxTime) * 1000
		}
	}
	return nil
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
