package live

import (
	"context"
	"log"
	"sync"
)

// Loader produces the full result set of a live query.
type Loader[T any] func(ctx context.Context) (T, error)

// Subscription is a standing query: it delivers a fresh snapshot on C after creation
// and after every change of its topic, until cancelled.
type Subscription[T any] struct {
	topic  string
	ch     chan T
	cancel context.CancelFunc
	done   chan struct{}
}

// Subscribe starts a live query on topic. The subscription ends when Cancel is called
// or ctx is done; either way C is closed and no snapshot is delivered afterwards.
func Subscribe[T any](ctx context.Context, hub *Hub, topic string, load Loader[T]) *Subscription[T] {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription[T]{
		topic:  topic,
		ch:     make(chan T),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	w := hub.register(topic)
	go s.run(ctx, hub, w, load)
	return s
}

func (s *Subscription[T]) run(ctx context.Context, hub *Hub, w *watcher, load Loader[T]) {
	defer close(s.done)
	defer close(s.ch)
	defer hub.unregister(s.topic, w)
	for {
		snap, err := load(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("live query %s: %v", s.topic, err)
		} else {
			select {
			case <-ctx.Done():
				return
			case s.ch <- snap:
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-w.notify:
		}
	}
}

// C returns the snapshot channel.
func (s *Subscription[T]) C() <-chan T { return s.ch }

// Topic returns the topic the subscription listens on.
func (s *Subscription[T]) Topic() string { return s.topic }

// Cancel stops the subscription and waits for its goroutine to exit. Safe to call more than once.
func (s *Subscription[T]) Cancel() {
	s.cancel()
	<-s.done
}

// Done is closed once the subscription has fully stopped.
func (s *Subscription[T]) Done() <-chan struct{} { return s.done }

// Watch invokes fn for every snapshot of sub. The returned cancel stops the
// subscription and blocks until any in-flight fn has returned; fn must not call it.
func Watch[T any](sub *Subscription[T], fn func(T)) (cancel func()) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for snap := range sub.C() {
			fn(snap)
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			sub.Cancel()
			<-done
		})
	}
}

// Stream adapts a push source, such as a remote feed, to a Subscription. source
// runs on its own goroutine and hands snapshots to emit, which reports false once
// the subscription has been cancelled.
func Stream[T any](ctx context.Context, topic string, source func(ctx context.Context, emit func(T) bool) error) *Subscription[T] {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription[T]{
		topic:  topic,
		ch:     make(chan T),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		defer close(s.ch)
		emit := func(v T) bool {
			select {
			case <-ctx.Done():
				return false
			case s.ch <- v:
				return true
			}
		}
		if err := source(ctx, emit); err != nil && ctx.Err() == nil {
			log.Printf("live stream %s: %v", topic, err)
		}
	}()
	return s
}
