package command

import (
	"context"
	"errors"
	"sync"

	"github.com/opd-ai/meshlink/wire"
)

var errRadioGone = errors.New("radio gone")

// recordingTransport decodes every frame written to it.
type recordingTransport struct {
	mu      sync.Mutex
	packets []*wire.MeshPacket
	fail    bool
}

func (r *recordingTransport) SendToRadio(ctx context.Context, frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errRadioGone
	}
	msg, err := wire.DecodeToRadio(frame)
	if err != nil {
		return err
	}
	if p, ok := msg.Variant.(*wire.MeshPacket); ok {
		r.packets = append(r.packets, p)
	}
	return nil
}

func (r *recordingTransport) sent() []*wire.MeshPacket {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*wire.MeshPacket(nil), r.packets...)
}

func (r *recordingTransport) setFail(fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = fail
}
