package broadcast

import (
	"context"
	"testing"
	"time"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	h := NewHub[int]()
	a := h.Subscribe(4)
	b := h.Subscribe(4)
	defer a.Close()
	defer b.Close()

	h.Publish(7)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	va, err := a.Recv(ctx)
	if err != nil || va != 7 {
		t.Fatalf("subscriber a: got (%v, %v)", va, err)
	}
	vb, err := b.Recv(ctx)
	if err != nil || vb != 7 {
		t.Fatalf("subscriber b: got (%v, %v)", vb, err)
	}
}

func TestRecvBlocksUntilPublish(t *testing.T) {
	h := NewHub[string]()
	sub := h.Subscribe(1)
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		v, err := sub.Recv(ctx)
		if err != nil || v != "hi" {
			t.Errorf("got (%q, %v)", v, err)
		}
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	h.Publish("hi")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Recv never unblocked after Publish")
	}
}

func TestLaggedSubscriberGetsErrLaggedOnce(t *testing.T) {
	h := NewHub[int]()
	sub := h.Subscribe(2)
	defer sub.Close()

	// Overflow the buffer: capacity 2, publish 5 values without draining.
	for i := 0; i < 5; i++ {
		h.Publish(i)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := sub.Recv(ctx)
	if err != ErrLagged {
		t.Fatalf("expected ErrLagged on first receive after overflow, got %v", err)
	}

	// After the lag signal, delivery resumes normally with whatever is
	// still buffered (the two most recent values).
	v, err := sub.Recv(ctx)
	if err != nil {
		t.Fatalf("expected normal delivery after the lag signal, got err %v", err)
	}
	if v != 3 {
		t.Fatalf("expected the oldest-surviving value 3, got %d", v)
	}
}

func TestNonLaggedSubscriberNeverSeesErrLagged(t *testing.T) {
	h := NewHub[int]()
	sub := h.Subscribe(4)
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	h.Publish(1)
	v, err := sub.Recv(ctx)
	if err != nil || v != 1 {
		t.Fatalf("got (%d, %v)", v, err)
	}
}

func TestCloseCausesErrClosed(t *testing.T) {
	h := NewHub[int]()
	sub := h.Subscribe(1)

	h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := sub.Recv(ctx)
	if err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestSubscriberCountTracksSubscribeAndClose(t *testing.T) {
	h := NewHub[int]()
	if h.SubscriberCount() != 0 {
		t.Fatal("expected a fresh hub to have no subscribers")
	}
	sub := h.Subscribe(1)
	if h.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", h.SubscriberCount())
	}
	sub.Close()
	if h.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers after Close, got %d", h.SubscriberCount())
	}
}

func TestRecvRespectsContextCancellation(t *testing.T) {
	h := NewHub[int]()
	sub := h.Subscribe(1)
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := sub.Recv(ctx)
	if err != context.DeadlineExceeded {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}
