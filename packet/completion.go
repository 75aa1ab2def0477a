package packet

import (
	"context"
	"sync"
	"time"
)

// Completion is the deferred result of a submitted packet. It resolves
// exactly once, with success or failure, when the radio reports the
// packet's queue status, when a routing response arrives, when the queue
// is stopped or when the response timeout fires.
type Completion struct {
	id   uint32
	done chan struct{}
	ok   bool
	err  error

	once  sync.Once
	timer *time.Timer
	mu    sync.Mutex
}

func newCompletion(id uint32) *Completion {
	return &Completion{id: id, done: make(chan struct{})}
}

// ID is the packet ID this completion tracks.
func (c *Completion) ID() uint32 { return c.id }

// Done is closed once the completion resolved.
func (c *Completion) Done() <-chan struct{} { return c.done }

// Success reports the resolved outcome. It is false until Done is closed.
func (c *Completion) Success() bool {
	select {
	case <-c.done:
		return c.ok
	default:
		return false
	}
}

// Err explains a failure caused by the queue itself rather than by the
// radio: ErrQueueStopped or ErrResponseTimeout. It is nil otherwise.
func (c *Completion) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Wait blocks until the completion resolves or ctx ends.
func (c *Completion) Wait(ctx context.Context) (bool, error) {
	select {
	case <-c.done:
		return c.ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// resolve settles the completion. It reports false if it was already settled.
func (c *Completion) resolve(ok bool) bool {
	return c.settle(ok, nil)
}

func (c *Completion) settle(ok bool, err error) bool {
	resolved := false
	c.once.Do(func() {
		c.ok = ok
		c.err = err
		close(c.done)
		resolved = true
	})
	if resolved {
		c.mu.Lock()
		if c.timer != nil {
			c.timer.Stop()
		}
		c.mu.Unlock()
	}
	return resolved
}

func (c *Completion) setTimer(t *time.Timer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timer = t
}
