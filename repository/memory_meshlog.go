package repository

import (
	"context"
	"sync"

	"github.com/opd-ai/meshlink/model"
)

// DefaultMeshLogCapacity bounds the in-memory mesh log.
const DefaultMeshLogCapacity = 1000

// MemoryMeshLog keeps the most recent mesh log entries in a ring.
type MemoryMeshLog struct {
	entries  []*model.MeshLog
	capacity int

	mu sync.Mutex
}

// NewMemoryMeshLog creates a log holding at most capacity entries.
// A non-positive capacity uses DefaultMeshLogCapacity.
func NewMemoryMeshLog(capacity int) *MemoryMeshLog {
	if capacity <= 0 {
		capacity = DefaultMeshLogCapacity
	}
	return &MemoryMeshLog{capacity: capacity}
}

func (r *MemoryMeshLog) Insert(ctx context.Context, entry *model.MeshLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	if over := len(r.entries) - r.capacity; over > 0 {
		r.entries = append([]*model.MeshLog(nil), r.entries[over:]...)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (r *MemoryMeshLog) Recent(ctx context.Context, limit int) ([]*model.MeshLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 || limit > len(r.entries) {
		limit = len(r.entries)
	}
	out := make([]*model.MeshLog, 0, limit)
	for i := len(r.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.entries[i])
	}
	return out, nil
}

func (r *MemoryMeshLog) DeleteAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
	return nil
}
