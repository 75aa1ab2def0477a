package connection

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateHandlerTransitionsUnconditionally(t *testing.T) {
	h := NewStateHandler()
	assert.Equal(t, Disconnected, h.State())

	ch, unsubscribe := h.Observe().Subscribe()
	defer unsubscribe()
	assert.Equal(t, Disconnected, <-ch)

	for _, s := range []State{DeviceSleep, Connected, Connecting, Disconnected} {
		h.SetState(s)
		assert.Equal(t, s, h.State())
		assert.Equal(t, s, <-ch)
	}
}

func TestStateHandlerDoesNotReemitSameState(t *testing.T) {
	h := NewStateHandler()
	ch, unsubscribe := h.Observe().Subscribe()
	defer unsubscribe()
	<-ch

	h.SetState(Disconnected)
	select {
	case s := <-ch:
		t.Fatalf("unexpected emission %v", s)
	default:
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "DeviceSleep", DeviceSleep.String())
	assert.Equal(t, "Unknown", State(42).String())
	assert.False(t, NewStateHandler().IsConnected())
}
