package flow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesCurrentValue(t *testing.T) {
	v := NewComparable(7)
	ch, unsubscribe := v.Subscribe()
	defer unsubscribe()

	assert.Equal(t, 7, <-ch)
}

func TestSetSkipsEqualValues(t *testing.T) {
	v := NewComparable("idle")
	assert.False(t, v.Set("idle"))
	assert.True(t, v.Set("busy"))
	assert.Equal(t, "busy", v.Get())
}

func TestSubscribersAreConflated(t *testing.T) {
	v := NewComparable(0)
	ch, unsubscribe := v.Subscribe()
	defer unsubscribe()

	for i := 1; i <= 5; i++ {
		v.Set(i)
	}

	assert.Equal(t, 5, <-ch, "a slow reader observes only the latest value")
	select {
	case x := <-ch:
		t.Fatalf("unexpected extra value %d", x)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	v := NewComparable(false)
	ch, unsubscribe := v.Subscribe()
	<-ch
	unsubscribe()
	unsubscribe()

	_, ok := <-ch
	assert.False(t, ok)
	assert.True(t, v.Set(true), "setting after unsubscribe must not block")
}

func TestUpdateIsAtomic(t *testing.T) {
	v := NewValue(0, nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v.Update(func(n int) int { return n + 1 })
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, v.Get())
}

func TestWatchRecoversFromPanics(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	v := NewComparable(0)

	var mu sync.Mutex
	var seen []int
	done := v.Watch(ctx, "test", func(n int) {
		if n == 1 {
			panic("boom")
		}
		mu.Lock()
		seen = append(seen, n)
		mu.Unlock()
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, time.Second, 5*time.Millisecond)

	v.Set(1)
	time.Sleep(20 * time.Millisecond)
	v.Set(2)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2 && seen[1] == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop after cancel")
	}
}
