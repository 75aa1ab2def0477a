// Package packet owns the outbound path to the radio.
//
// Handler keeps a FIFO of mesh packets that cannot be written yet, tracks
// every written packet until the radio reports its queue status, and stops
// writing while the radio says its transmit queue is full. All writes go
// through one send lock so direct sends and queue drains never reorder.
package packet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshlink/wire"
)

// DefaultResponseTimeout is how long a written packet waits for its queue
// status before it is considered failed.
const DefaultResponseTimeout = 2 * time.Minute

var (
	// ErrNotConnected reports a packet that could not be held for a link.
	ErrNotConnected = errors.New("radio not connected")
	// ErrQueueStopped fails packets abandoned by StopPacketQueue.
	ErrQueueStopped = errors.New("packet queue stopped")
	// ErrResponseTimeout fails packets the radio never accounted for.
	ErrResponseTimeout = errors.New("no response from radio")
)

// Transport writes one encoded ToRadio frame.
type Transport interface {
	SendToRadio(ctx context.Context, frame []byte) error
}

// ConnectionState reports whether the radio link is fully up.
type ConnectionState interface {
	IsConnected() bool
}

type queuedPacket struct {
	packet     *wire.MeshPacket
	completion *Completion
}

// Handler is the outbound packet queue.
type Handler struct {
	transport Transport
	state     ConnectionState
	timeout   time.Duration

	queue   []queuedPacket
	pending map[uint32]*Completion
	// free is the radio's last reported free slot count; -1 while unknown.
	free int

	sendMu sync.Mutex
	mu     sync.Mutex
}

// NewHandler creates a Handler. A non-positive timeout selects
// DefaultResponseTimeout.
func NewHandler(transport Transport, state ConnectionState, timeout time.Duration) *Handler {
	if timeout <= 0 {
		timeout = DefaultResponseTimeout
	}
	return &Handler{
		transport: transport,
		state:     state,
		timeout:   timeout,
		pending:   make(map[uint32]*Completion),
		free:      -1,
	}
}

// SendToRadio encodes and writes a control frame immediately, bypassing
// the packet queue.
func (h *Handler) SendToRadio(ctx context.Context, msg *wire.ToRadio) error {
	frame, err := wire.EncodeToRadio(msg)
	if err != nil {
		return err
	}

	h.sendMu.Lock()
	defer h.sendMu.Unlock()
	if err := h.transport.SendToRadio(ctx, frame); err != nil {
		return fmt.Errorf("send to radio: %w", err)
	}
	return nil
}

// SendPacket writes p now when the link is up, the radio has room and no
// older packet is waiting. Otherwise p joins the queue. The returned
// Completion resolves when the radio accounts for the packet.
func (h *Handler) SendPacket(ctx context.Context, p *wire.MeshPacket) (*Completion, error) {
	h.sendMu.Lock()
	defer h.sendMu.Unlock()

	c := newCompletion(p.ID)

	h.mu.Lock()
	if !h.canSendLocked() || len(h.queue) > 0 {
		h.queue = append(h.queue, queuedPacket{packet: p, completion: c})
		depth := len(h.queue)
		h.mu.Unlock()

		logrus.WithFields(logrus.Fields{
			"function":    "SendPacket",
			"packet_id":   p.ID,
			"queue_depth": depth,
		}).Debug("Queued packet for later delivery")
		return c, nil
	}
	h.trackLocked(c)
	h.mu.Unlock()

	if err := h.write(ctx, p); err != nil {
		h.release(c)
		return nil, err
	}
	h.armTimeout(c)
	return c, nil
}

// ProcessQueuedPackets drains the queue in FIFO order while the link is up
// and the radio has room. A write failure puts the packet back at the head
// of the queue and ends the drain.
func (h *Handler) ProcessQueuedPackets(ctx context.Context) error {
	h.sendMu.Lock()
	defer h.sendMu.Unlock()

	sent := 0
	for {
		h.mu.Lock()
		if len(h.queue) == 0 || !h.canSendLocked() {
			remaining := len(h.queue)
			h.mu.Unlock()
			if sent > 0 || remaining > 0 {
				logrus.WithFields(logrus.Fields{
					"function":  "ProcessQueuedPackets",
					"sent":      sent,
					"remaining": remaining,
				}).Debug("Packet queue drain finished")
			}
			return nil
		}
		next := h.queue[0]
		h.queue = h.queue[1:]
		h.trackLocked(next.completion)
		h.mu.Unlock()

		if err := h.write(ctx, next.packet); err != nil {
			h.mu.Lock()
			delete(h.pending, next.completion.ID())
			if h.free >= 0 {
				h.free++
			}
			h.queue = append([]queuedPacket{next}, h.queue...)
			h.mu.Unlock()
			return err
		}
		h.armTimeout(next.completion)
		sent++
	}
}

// HandleQueueStatus resolves the completion named by s and records the
// radio's free slot count. Unknown or zero packet IDs only update the
// count. When room opens up the queue is drained.
func (h *Handler) HandleQueueStatus(ctx context.Context, s *wire.QueueStatus) {
	h.mu.Lock()
	h.free = int(s.Free)
	c, ok := h.pending[s.MeshPacketID]
	if ok {
		delete(h.pending, s.MeshPacketID)
	}
	backlog := len(h.queue)
	h.mu.Unlock()

	fields := logrus.Fields{
		"function":  "HandleQueueStatus",
		"packet_id": s.MeshPacketID,
		"res":       s.Res,
		"free":      s.Free,
		"max_len":   s.Maxlen,
	}
	switch {
	case ok:
		c.resolve(s.Res == 0)
		logrus.WithFields(fields).Debug("Resolved packet from queue status")
	case s.MeshPacketID != 0:
		logrus.WithFields(fields).Debug("Ignoring queue status for unknown packet")
	}

	if s.Free > 0 && backlog > 0 {
		if err := h.ProcessQueuedPackets(ctx); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "HandleQueueStatus",
				"error":    err.Error(),
			}).Warn("Failed to drain packet queue")
		}
	}
}

// RemoveResponse resolves the completion for id, typically from a routing
// ACK/NAK or a client notification. It reports whether one was pending.
func (h *Handler) RemoveResponse(id uint32, success bool) bool {
	h.mu.Lock()
	c, ok := h.pending[id]
	delete(h.pending, id)
	h.mu.Unlock()

	if !ok {
		return false
	}
	return c.resolve(success)
}

// StopPacketQueue fails every queued and in-flight packet and forgets the
// radio's queue state. Nothing is retried across the stop.
func (h *Handler) StopPacketQueue() {
	h.mu.Lock()
	queued := h.queue
	pending := h.pending
	h.queue = nil
	h.pending = make(map[uint32]*Completion)
	h.free = -1
	h.mu.Unlock()

	for _, q := range queued {
		q.completion.settle(false, ErrQueueStopped)
	}
	for _, c := range pending {
		c.settle(false, ErrQueueStopped)
	}

	if len(queued) > 0 || len(pending) > 0 {
		logrus.WithFields(logrus.Fields{
			"function":  "StopPacketQueue",
			"queued":    len(queued),
			"in_flight": len(pending),
		}).Info("Stopped packet queue")
	}
}

// QueueLen returns the number of packets waiting to be written.
func (h *Handler) QueueLen() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queue)
}

// PendingLen returns the number of written packets awaiting a response.
func (h *Handler) PendingLen() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}

func (h *Handler) canSendLocked() bool {
	return h.state.IsConnected() && h.free != 0
}

// trackLocked records c as in flight and spends one free slot.
func (h *Handler) trackLocked(c *Completion) {
	if c.ID() != 0 {
		h.pending[c.ID()] = c
	}
	if h.free > 0 {
		h.free--
	}
}

func (h *Handler) release(c *Completion) {
	h.mu.Lock()
	if h.pending[c.ID()] == c {
		delete(h.pending, c.ID())
	}
	if h.free >= 0 {
		h.free++
	}
	h.mu.Unlock()
	c.resolve(false)
}

func (h *Handler) write(ctx context.Context, p *wire.MeshPacket) error {
	frame, err := wire.EncodeToRadio(&wire.ToRadio{Variant: p})
	if err != nil {
		return err
	}
	if err := h.transport.SendToRadio(ctx, frame); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "write",
			"packet_id": p.ID,
			"error":     err.Error(),
		}).Warn("Transport rejected packet")
		return fmt.Errorf("send packet %d: %w", p.ID, err)
	}
	return nil
}

// armTimeout fails c if nothing resolves it within the response timeout.
func (h *Handler) armTimeout(c *Completion) {
	if c.ID() == 0 {
		c.resolve(true)
		return
	}
	c.setTimer(time.AfterFunc(h.timeout, func() {
		h.mu.Lock()
		ok := h.pending[c.ID()] == c
		if ok {
			delete(h.pending, c.ID())
		}
		h.mu.Unlock()
		if ok && c.settle(false, ErrResponseTimeout) {
			logrus.WithFields(logrus.Fields{
				"function":  "armTimeout",
				"packet_id": c.ID(),
			}).Warn("Timed out waiting for queue status")
		}
	}))
}
