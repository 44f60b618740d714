// Package broadcast implements a generic lossy pub/sub hub. Grounded on
// the teacher's internal/adapter/broadcaster.go (map-of-channels,
// non-blocking fan-out, "slow consumers get messages dropped"),
// generalized from a fixed BookUpdate payload to any type T and from a
// silent drop to a lag-visible contract: a subscriber that falls behind
// gets its oldest buffered message evicted and is told so on its next
// receive via ErrLagged, rather than losing data without being told.
package broadcast

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrLagged is returned by Subscription.Recv exactly once after the hub
// has evicted one or more buffered messages for that subscriber. The
// subscriber's stream is intact going forward; resubscribing is not
// required to keep receiving, but callers that need a contiguous stream
// should treat it as a signal to resync from a fresh snapshot.
var ErrLagged = errors.New("broadcast: subscriber lagged, messages dropped")

// ErrClosed is returned by Recv once the hub has been closed.
var ErrClosed = errors.New("broadcast: hub closed")

// Hub is a many-to-many fan-out for values of type T. The zero value is
// not usable; construct with NewHub. Safe for concurrent Publish and
// Subscribe calls from any number of goroutines.
type Hub[T any] struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscription[T]
	nextID uint64
	closed bool
}

// NewHub constructs an empty Hub.
func NewHub[T any]() *Hub[T] {
	return &Hub[T]{subs: make(map[uint64]*subscription[T])}
}

type subscription[T any] struct {
	hub    *Hub[T]
	id     uint64
	ch     chan T
	lagged atomic.Bool
	closed atomic.Bool
}

// Subscribe registers a new subscriber with a fixed-capacity buffer. The
// returned Subscription must eventually be closed with Close to release
// its slot.
func (h *Hub[T]) Subscribe(bufferSize int) *Subscription[T] {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &subscription[T]{hub: h, id: h.nextID, ch: make(chan T, bufferSize)}
	h.subs[sub.id] = sub
	return &Subscription[T]{inner: sub}
}

// Publish fans v out to every current subscriber. A subscriber whose
// buffer is full has its oldest message evicted to make room; that
// subscriber's next Recv returns ErrLagged instead of a value. Publish
// never blocks on a slow subscriber.
func (h *Hub[T]) Publish(v T) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for _, sub := range h.subs {
		select {
		case sub.ch <- v:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- v:
			default:
			}
			sub.lagged.Store(true)
		}
	}
}

// Close shuts down the hub, closing every subscriber's channel. Further
// Publish calls are no-ops and pending/future Recv calls return
// ErrClosed once each subscriber's buffer drains.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, sub := range h.subs {
		sub.closed.Store(true)
		close(sub.ch)
	}
}

func (h *Hub[T]) unsubscribe(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
}

// SubscriberCount reports the number of currently registered subscribers.
// Intended for tests and diagnostics.
func (h *Hub[T]) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Subscription is a single subscriber's view onto a Hub.
type Subscription[T any] struct {
	inner *subscription[T]
}

// Recv blocks until a value is available, ctx is cancelled, the hub is
// closed, or this subscriber has lagged. A lagged subscriber receives
// ErrLagged exactly once before resuming normal delivery.
func (s *Subscription[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	if s.inner.lagged.CompareAndSwap(true, false) {
		return zero, ErrLagged
	}
	select {
	case v, ok := <-s.inner.ch:
		if !ok {
			return zero, ErrClosed
		}
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Close releases this subscription's slot on the hub. Safe to call more
// than once.
func (s *Subscription[T]) Close() {
	s.inner.hub.unsubscribe(s.inner.id)
}
