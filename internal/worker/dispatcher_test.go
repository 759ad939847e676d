package worker

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDoRunsJob(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{MinWorkers: 1, MaxWorkers: 2, QueueSize: 4})
	defer d.Close()

	var ran atomic.Bool
	if err := d.Do(context.Background(), "u1", func(context.Context) { ran.Store(true) }); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !ran.Load() {
		t.Fatalf("job did not run")
	}
}

func TestDoReportsPanickedJob(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{MinWorkers: 1, MaxWorkers: 1, QueueSize: 4})
	defer d.Close()

	err := d.Do(context.Background(), "u1", func(context.Context) { panic("model exploded") })
	if !errors.Is(err, ErrPanicked) {
		t.Fatalf("expected ErrPanicked, got %v", err)
	}
	// the worker survives the panic
	var ran atomic.Bool
	if err := d.Do(context.Background(), "u1", func(context.Context) { ran.Store(true) }); err != nil || !ran.Load() {
		t.Fatalf("follow-up job: err=%v ran=%v", err, ran.Load())
	}
}

func TestPoolGrowsToMaxUnderLoad(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{MinWorkers: 0, MaxWorkers: 3, QueueSize: 16})
	defer d.Close()

	gate := make(chan struct{})
	var (
		wg      sync.WaitGroup
		running atomic.Int32
		peak    atomic.Int32
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			_ = d.Do(context.Background(), key, func(context.Context) {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				<-gate
				running.Add(-1)
			})
		}(string(rune('a' + i)))
	}
	deadline := time.Now().Add(2 * time.Second)
	for peak.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	close(gate)
	wg.Wait()
	if got := peak.Load(); got != 3 {
		t.Fatalf("peak concurrency = %d, want 3", got)
	}
	if got := d.Workers(); got > 3 {
		t.Fatalf("workers = %d, exceeds max", got)
	}
}

func TestNextRoundRobinsAcrossKeys(t *testing.T) {
	d := &Dispatcher{
		queues:    make(map[string]*keyQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
	}
	for _, key := range []string{"a", "a", "a", "b", "c"} {
		d.enqueueJob(Job{Key: key})
	}
	if d.Pending("a") != 3 {
		t.Fatalf("pending a = %d", d.Pending("a"))
	}
	var order []string
	for {
		job, ok := d.next()
		if !ok {
			break
		}
		order = append(order, job.Key)
	}
	want := []string{"a", "b", "c", "a", "a"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
	if d.Pending("a") != 0 {
		t.Fatalf("queue for a not cleared")
	}
}

func TestQueueFullIsReported(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{MinWorkers: 1, MaxWorkers: 1, QueueSize: 1})
	defer d.Close()

	gate := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = d.Do(context.Background(), "busy", func(context.Context) {
			close(started)
			<-gate
		})
	}()
	<-started
	defer close(gate)

	// one job held by the dispatcher waiting for a worker, one buffered, the rest rejected
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	var full atomic.Bool
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.Do(ctx, "x", func(context.Context) {}); errors.Is(err, ErrQueueFull) {
				full.Store(true)
			}
		}()
	}
	wg.Wait()
	if !full.Load() {
		t.Fatalf("expected ErrQueueFull when the queue is saturated")
	}
}

func TestCancelledCallerSkipsJob(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{MinWorkers: 1, MaxWorkers: 1, QueueSize: 4})
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var ran atomic.Bool
	err := d.Do(ctx, "u", func(context.Context) { ran.Store(true) })
	if err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if ran.Load() {
		t.Fatalf("job for a cancelled caller must not run")
	}
}

func TestCloseRejectsNewJobs(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{MinWorkers: 2, MaxWorkers: 2})
	deadline := time.Now().Add(time.Second)
	for idleCount(d.pool) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	d.Close()
	d.Close()
	if err := d.Do(context.Background(), "u", func(context.Context) {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	deadline = time.Now().Add(time.Second)
	for d.Workers() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := d.Workers(); n != 0 {
		t.Fatalf("idle workers not retired after Close: %d", n)
	}
}

func TestShutdownExpiredKeepsMinimum(t *testing.T) {
	p := newJobChannelPool(1, 3, time.Minute)
	defer close(p.quit)
	for i := 0; i < 3; i++ {
		p.spawnWorker()
	}
	deadline := time.Now().Add(time.Second)
	for idleCount(p) < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	p.shutdownExpired(time.Now().Add(2*time.Minute), p.min)
	deadline = time.Now().Add(time.Second)
	for p.Running() > 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := p.Running(); n != 1 {
		t.Fatalf("running = %d, want 1", n)
	}
}

func idleCount(p *jobChannelPool) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}
