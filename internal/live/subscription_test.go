package live

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type counterSource struct {
	mu  sync.Mutex
	val int
	err error
}

func (c *counterSource) set(v int) {
	c.mu.Lock()
	c.val = v
	c.mu.Unlock()
}

func (c *counterSource) load(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	return c.val, nil
}

func recv(t *testing.T, ch <-chan int) int {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("subscription closed unexpectedly")
		}
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for snapshot")
	}
	return 0
}

func TestSubscribeDeliversInitialAndChangedSnapshots(t *testing.T) {
	hub := NewHub()
	src := &counterSource{val: 1}
	sub := Subscribe[int](context.Background(), hub, "t", src.load)
	defer sub.Cancel()

	if got := recv(t, sub.C()); got != 1 {
		t.Fatalf("initial snapshot = %d, want 1", got)
	}
	src.set(2)
	hub.Notify("t")
	if got := recv(t, sub.C()); got != 2 {
		t.Fatalf("snapshot after notify = %d, want 2", got)
	}
}

func TestNotifyOtherTopicIsIgnored(t *testing.T) {
	hub := NewHub()
	src := &counterSource{val: 1}
	sub := Subscribe[int](context.Background(), hub, "a", src.load)
	defer sub.Cancel()
	recv(t, sub.C())

	hub.Notify("b")
	select {
	case v := <-sub.C():
		t.Fatalf("unexpected snapshot %d for unrelated topic", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNotificationsCoalesceToLatest(t *testing.T) {
	hub := NewHub()
	src := &counterSource{val: 0}
	sub := Subscribe[int](context.Background(), hub, "t", src.load)
	defer sub.Cancel()
	recv(t, sub.C())

	for i := 1; i <= 5; i++ {
		src.set(i)
		hub.Notify("t")
	}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case v := <-sub.C():
			if v == 5 {
				return
			}
		case <-deadline:
			t.Fatalf("never observed latest snapshot")
		}
	}
}

func TestCancelClosesChannelAndUnregisters(t *testing.T) {
	hub := NewHub()
	src := &counterSource{val: 1}
	sub := Subscribe[int](context.Background(), hub, "t", src.load)
	recv(t, sub.C())
	if n := hub.Watchers("t"); n != 1 {
		t.Fatalf("watchers = %d, want 1", n)
	}

	sub.Cancel()
	sub.Cancel()
	if _, ok := <-sub.C(); ok {
		t.Fatalf("expected closed channel after cancel")
	}
	if n := hub.Watchers("t"); n != 0 {
		t.Fatalf("watchers after cancel = %d, want 0", n)
	}
	hub.Notify("t")
}

func TestContextCancelEndsSubscription(t *testing.T) {
	hub := NewHub()
	src := &counterSource{val: 1}
	ctx, cancel := context.WithCancel(context.Background())
	sub := Subscribe[int](ctx, hub, "t", src.load)
	recv(t, sub.C())
	cancel()
	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("subscription did not stop on context cancel")
	}
}

func TestLoadErrorsAreSkipped(t *testing.T) {
	hub := NewHub()
	src := &counterSource{err: errors.New("boom")}
	sub := Subscribe[int](context.Background(), hub, "t", src.load)
	defer sub.Cancel()

	select {
	case v := <-sub.C():
		t.Fatalf("unexpected snapshot %d while load fails", v)
	case <-time.After(50 * time.Millisecond):
	}

	src.mu.Lock()
	src.err = nil
	src.val = 7
	src.mu.Unlock()
	hub.Notify("t")
	if got := recv(t, sub.C()); got != 7 {
		t.Fatalf("snapshot after recovery = %d, want 7", got)
	}
}

func TestWatchStopsCallbacksAfterCancel(t *testing.T) {
	hub := NewHub()
	src := &counterSource{val: 0}
	sub := Subscribe[int](context.Background(), hub, "t", src.load)

	var calls atomic.Int32
	first := make(chan struct{}, 1)
	cancel := Watch(sub, func(int) {
		calls.Add(1)
		select {
		case first <- struct{}{}:
		default:
		}
	})
	select {
	case <-first:
	case <-time.After(2 * time.Second):
		t.Fatalf("no initial callback")
	}

	cancel()
	after := calls.Load()
	for i := 0; i < 10; i++ {
		src.set(i + 1)
		hub.Notify("t")
	}
	time.Sleep(50 * time.Millisecond)
	if got := calls.Load(); got != after {
		t.Fatalf("callbacks after cancel: before=%d after=%d", after, got)
	}
	cancel()
}

func TestStreamDeliversUntilCancel(t *testing.T) {
	started := make(chan struct{})
	sub := Stream[int](context.Background(), "remote", func(ctx context.Context, emit func(int) bool) error {
		close(started)
		for i := 1; ; i++ {
			if !emit(i) {
				return ctx.Err()
			}
		}
	})
	<-started
	if got := recv(t, sub.C()); got != 1 {
		t.Fatalf("first value = %d", got)
	}
	if got := recv(t, sub.C()); got != 2 {
		t.Fatalf("second value = %d", got)
	}
	sub.Cancel()
	select {
	case <-sub.Done():
	default:
		t.Fatalf("Cancel must wait for the source to stop")
	}
}

func TestStreamClosesWhenSourceEnds(t *testing.T) {
	sub := Stream[int](context.Background(), "remote", func(ctx context.Context, emit func(int) bool) error {
		emit(5)
		return errors.New("feed closed")
	})
	if got := recv(t, sub.C()); got != 5 {
		t.Fatalf("value = %d", got)
	}
	select {
	case _, ok := <-sub.C():
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("channel not closed after source ended")
	}
}
