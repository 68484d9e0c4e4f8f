package capture

import (
	"context"
	"sync"

	"go.uber.org/atomic"
)

// Slot is a single-frame mailbox between a producer (the camera read loop)
// and one delivery goroutine.
//
//   - Offer never blocks. A frame still waiting for delivery is released and
//     replaced, so frames are dropped, never queued.
//   - Run hands one frame at a time to the handler and waits for its Release
//     before taking the next one.
type Slot struct {
	mu      sync.Mutex
	pending *Frame
	closed  bool
	ready   chan struct{}

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewSlot creates an empty slot.
func NewSlot() *Slot {
	return &Slot{ready: make(chan struct{}, 1)}
}

// Offer stores f as the next frame to deliver. It reports whether an older
// undelivered frame was dropped to make room. Offering to a closed slot
// releases f immediately.
func (s *Slot) Offer(f *Frame) (dropped bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		f.Release()
		return false
	}
	old := s.pending
	s.pending = f
	s.mu.Unlock()

	if old != nil {
		old.Release()
		s.dropped.Inc()
		dropped = true
	}

	select {
	case s.ready <- struct{}{}:
	default:
	}
	return dropped
}

// Run delivers frames to h until ctx ends or the slot is closed.
func (s *Slot) Run(ctx context.Context, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			s.Close()
			return ctx.Err()
		case <-s.ready:
		}

		s.mu.Lock()
		f, closed := s.pending, s.closed
		s.pending = nil
		s.mu.Unlock()
		if closed {
			return nil
		}
		if f == nil {
			continue
		}

		s.delivered.Inc()
		h(f)

		select {
		case <-f.Released():
		case <-ctx.Done():
			s.Close()
			return ctx.Err()
		}
	}
}

// Close stops delivery and releases any pending frame.
func (s *Slot) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	old := s.pending
	s.pending = nil
	s.mu.Unlock()

	if old != nil {
		old.Release()
	}
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// Delivered returns how many frames reached the handler.
func (s *Slot) Delivered() uint64 { return s.delivered.Load() }

// Dropped returns how many frames were replaced before delivery.
func (s *Slot) Dropped() uint64 { return s.dropped.Load() }
