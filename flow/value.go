// Package flow provides Value, a mutex guarded value that fans out every
// change to subscribers.
//
// Subscriber channels hold one element and are conflated: a slow reader
// misses intermediate values but always observes the latest one. A new
// subscriber immediately receives the current value.
package flow

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Value is a single-writer, multi-reader observable.
type Value[T any] struct {
	mu     sync.RWMutex
	value  T
	equal  func(a, b T) bool
	subs   map[uint64]chan T
	nextID uint64
}

// NewValue creates a Value. When equal is non-nil, Set skips notification
// for values equal to the current one.
func NewValue[T any](initial T, equal func(a, b T) bool) *Value[T] {
	return &Value[T]{
		value: initial,
		equal: equal,
		subs:  make(map[uint64]chan T),
	}
}

// NewComparable creates a Value that suppresses repeated equal values.
func NewComparable[T comparable](initial T) *Value[T] {
	return NewValue(initial, func(a, b T) bool { return a == b })
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.value
}

// Set stores x and notifies subscribers. It reports whether subscribers
// were notified.
func (v *Value[T]) Set(x T) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.setLocked(x)
}

// Update applies fn to the current value atomically and stores the result.
func (v *Value[T]) Update(fn func(T) T) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.setLocked(fn(v.value))
}

func (v *Value[T]) setLocked(x T) bool {
	if v.equal != nil && v.equal(v.value, x) {
		return false
	}
	v.value = x
	for _, ch := range v.subs {
		offer(ch, x)
	}
	return true
}

// offer replaces any unread element with x. Callers hold the write lock, so
// they are the only sender.
func offer[T any](ch chan T, x T) {
	select {
	case <-ch:
	default:
	}
	ch <- x
}

// Subscribe returns a conflated channel primed with the current value and a
// function that unsubscribes and closes it.
func (v *Value[T]) Subscribe() (<-chan T, func()) {
	v.mu.Lock()
	defer v.mu.Unlock()

	ch := make(chan T, 1)
	ch <- v.value
	id := v.nextID
	v.nextID++
	v.subs[id] = ch

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			v.mu.Lock()
			defer v.mu.Unlock()
			delete(v.subs, id)
			close(ch)
		})
	}
	return ch, unsubscribe
}

// Watch runs fn for the current value and every later change until ctx is
// done. fn runs on a single goroutine; a panic in fn is logged and does not
// end the subscription. The returned channel closes once the watcher exits.
func (v *Value[T]) Watch(ctx context.Context, name string, fn func(T)) <-chan struct{} {
	ch, unsubscribe := v.Subscribe()
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case x, ok := <-ch:
				if !ok {
					return
				}
				safeCall(name, fn, x)
			}
		}
	}()
	return done
}

func safeCall[T any](name string, fn func(T), x T) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"function":   "Watch",
				"subscriber": name,
				"panic":      r,
			}).Error("Subscriber panicked, continuing")
		}
	}()
	fn(x)
}
