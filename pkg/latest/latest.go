// Package latest provides a single-slot broadcast cell: writers publish
// values, any number of readers observe the most recent one without locking.
package latest

import (
	"context"
	"sync"

	"go.uber.org/atomic"
)

// snapshot pairs a value with the version it was stored under so a reader
// never sees one without the other.
type snapshot[T any] struct {
	value   *T
	version uint64
}

// Value holds the latest published *T.
//
// Concurrent Stores are serialized: versions are assigned in publish order
// and observers see them in that order. Load and Wait never block on a Store.
type Value[T any] struct {
	cur     atomic.Pointer[snapshot[T]]
	storeMu sync.Mutex

	mu        sync.Mutex
	nextID    int
	observers map[int]func(*T, uint64)
	changed   chan struct{} // closed and replaced on every Store
}

// New creates a cell holding initial at version 0.
func New[T any](initial *T) *Value[T] {
	v := &Value[T]{
		observers: make(map[int]func(*T, uint64)),
		changed:   make(chan struct{}),
	}
	v.cur.Store(&snapshot[T]{value: initial})
	return v
}

// Load returns the current value and its version.
func (v *Value[T]) Load() (*T, uint64) {
	s := v.cur.Load()
	return s.value, s.version
}

// Version returns the current version.
func (v *Value[T]) Version() uint64 {
	return v.cur.Load().version
}

// Store publishes val, replacing the previous value, and notifies observers.
// It returns the new version. Observers must not call Store.
func (v *Value[T]) Store(val *T) uint64 {
	v.storeMu.Lock()
	defer v.storeMu.Unlock()

	next := &snapshot[T]{value: val, version: v.cur.Load().version + 1}
	v.cur.Store(next)

	v.mu.Lock()
	close(v.changed)
	v.changed = make(chan struct{})
	fns := make([]func(*T, uint64), 0, len(v.observers))
	for _, fn := range v.observers {
		fns = append(fns, fn)
	}
	v.mu.Unlock()

	for _, fn := range fns {
		fn(val, next.version)
	}
	return next.version
}

// Subscribe registers fn to be called after every Store with the new value.
// Observers run on the storing goroutine and must not block.
// The returned function removes the observer.
func (v *Value[T]) Subscribe(fn func(*T, uint64)) (unsubscribe func()) {
	v.mu.Lock()
	id := v.nextID
	v.nextID++
	v.observers[id] = fn
	v.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			v.mu.Lock()
			delete(v.observers, id)
			v.mu.Unlock()
		})
	}
}

// Wait blocks until the version is greater than after, then returns the
// value at that point. It returns ctx.Err() if ctx ends first.
func (v *Value[T]) Wait(ctx context.Context, after uint64) (*T, uint64, error) {
	for {
		v.mu.Lock()
		ch := v.changed
		v.mu.Unlock()

		if val, ver := v.Load(); ver > after {
			return val, ver, nil
		}

		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case <-ch:
		}
	}
}
