package node

import (
	"sync"

	"github.com/opd-ai/meshlink/model"
)

// recordingBroadcaster captures node change broadcasts.
type recordingBroadcaster struct {
	mu      sync.Mutex
	changes []*model.Node
}

func (r *recordingBroadcaster) BroadcastNodeChange(n *model.Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, n)
}

func (r *recordingBroadcaster) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.changes)
}

// recordingNotifier captures new-node notifications.
type recordingNotifier struct {
	mu   sync.Mutex
	seen []uint32
}

func (r *recordingNotifier) ShowNewNodeSeen(n *model.Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, n.Num)
}

func (r *recordingNotifier) nums() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint32(nil), r.seen...)
}
