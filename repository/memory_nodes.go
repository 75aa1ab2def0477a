package repository

import (
	"context"
	"sync"

	"github.com/opd-ai/meshlink/flow"
	"github.com/opd-ai/meshlink/model"
	"github.com/opd-ai/meshlink/wire"
)

// MemoryNodes is an in-memory NodeRepository.
type MemoryNodes struct {
	nodes    map[uint32]*model.Node
	metadata map[uint32]*wire.DeviceMetadata
	myInfo   *flow.Value[*model.MyNodeInfo]

	mu sync.RWMutex
}

// NewMemoryNodes creates an empty node store.
func NewMemoryNodes() *MemoryNodes {
	return &MemoryNodes{
		nodes:    make(map[uint32]*model.Node),
		metadata: make(map[uint32]*wire.DeviceMetadata),
		myInfo:   flow.NewValue[*model.MyNodeInfo](nil, nil),
	}
}

func (r *MemoryNodes) Upsert(ctx context.Context, node *model.Node) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[node.Num] = node.Clone()
	return nil
}

func (r *MemoryNodes) InstallConfig(ctx context.Context, myInfo *model.MyNodeInfo, nodes []*model.Node) error {
	r.mu.Lock()
	for _, n := range nodes {
		r.nodes[n.Num] = n.Clone()
	}
	r.mu.Unlock()

	if myInfo != nil {
		info := *myInfo
		r.myInfo.Set(&info)
	}
	return nil
}

func (r *MemoryNodes) InsertMetadata(ctx context.Context, num uint32, metadata *wire.DeviceMetadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metadata[num] = metadata
	return nil
}

func (r *MemoryNodes) Metadata(ctx context.Context, num uint32) (*wire.DeviceMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	md, ok := r.metadata[num]
	if !ok {
		return nil, ErrNotFound
	}
	return md, nil
}

func (r *MemoryNodes) DeleteNode(ctx context.Context, num uint32) error {
	return r.DeleteNodes(ctx, []uint32{num})
}

func (r *MemoryNodes) DeleteNodes(ctx context.Context, nums []uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, num := range nums {
		delete(r.nodes, num)
		delete(r.metadata, num)
	}
	return nil
}

// ClearNodeDB removes every node except the local one and, when asked,
// the favorites.
func (r *MemoryNodes) ClearNodeDB(ctx context.Context, preserveFavorites bool) error {
	var myNum uint32
	hasMine := false
	if mi := r.myInfo.Get(); mi != nil {
		myNum, hasMine = mi.MyNodeNum, true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for num, n := range r.nodes {
		if hasMine && num == myNum {
			continue
		}
		if preserveFavorites && n.IsFavorite {
			continue
		}
		delete(r.nodes, num)
	}
	return nil
}

func (r *MemoryNodes) NodeDBByNum(ctx context.Context) (map[uint32]*model.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[uint32]*model.Node, len(r.nodes))
	for num, n := range r.nodes {
		out[num] = n.Clone()
	}
	return out, nil
}

func (r *MemoryNodes) UnknownNodes(ctx context.Context) ([]*model.Node, error) {
	return r.filter(func(n *model.Node) bool { return n.IsUnknownUser() }), nil
}

func (r *MemoryNodes) NodesOlderThan(ctx context.Context, lastHeard uint32) ([]*model.Node, error) {
	return r.filter(func(n *model.Node) bool { return n.LastHeard < lastHeard && !n.IsFavorite }), nil
}

func (r *MemoryNodes) filter(keep func(*model.Node) bool) []*model.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.Node
	for _, n := range r.nodes {
		if keep(n) {
			out = append(out, n.Clone())
		}
	}
	return out
}

func (r *MemoryNodes) ClearMyNodeInfo(ctx context.Context) error {
	r.myInfo.Set(nil)
	return nil
}

func (r *MemoryNodes) MyNodeInfo() *flow.Value[*model.MyNodeInfo] {
	return r.myInfo
}
