package history

import (
	"context"
	"sync"

	"github.com/opd-ai/meshlink/model"
)

// recordingSender keeps every packet passed to SendData.
type recordingSender struct {
	mu      sync.Mutex
	packets []*model.DataPacket
}

func (r *recordingSender) SendData(ctx context.Context, p *model.DataPacket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packets = append(r.packets, p)
	return nil
}
