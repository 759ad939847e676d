package worker

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrQueueFull = errors.New("worker queue full")
	ErrClosed    = errors.New("dispatcher closed")
	ErrPanicked  = errors.New("job panicked")
)

type DispatcherConfig struct {
	MinWorkers        int
	MaxWorkers        int
	QueueSize         int
	WorkerIdleTimeout time.Duration
}

type keyQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher runs jobs on an elastic worker pool, round-robin across keys so
// one busy caller cannot starve the others.
type Dispatcher struct {
	pool     *jobChannelPool
	jobQueue chan Job

	mu        sync.Mutex
	queues    map[string]*keyQueue
	ready     *list.List // keys with pending jobs, least recently served first
	positions map[string]*list.Element

	quit      chan struct{}
	closeOnce sync.Once
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	pool := newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.WorkerIdleTimeout)
	d := &Dispatcher{
		pool:      pool,
		jobQueue:  make(chan Job, cfg.QueueSize),
		queues:    make(map[string]*keyQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
		quit:      make(chan struct{}),
	}

	for i := 0; i < pool.min; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Do queues fn under key and waits until it has run or ctx is done. fn receives
// ctx; a job whose caller gave up before it started is skipped. A panic in fn
// is recovered and reported as an error wrapping ErrPanicked.
func (d *Dispatcher) Do(ctx context.Context, key string, fn func(ctx context.Context)) error {
	job := Job{Key: key, Ctx: ctx, Run: fn, done: make(chan error, 1)}
	select {
	case <-d.quit:
		return ErrClosed
	default:
	}
	select {
	case d.jobQueue <- job:
	default:
		return ErrQueueFull
	}
	select {
	case err := <-job.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops dispatching and retires idle workers. Queued jobs are abandoned.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.quit)
		close(d.pool.quit)
		d.pool.shutdownExpired(time.Now().Add(d.pool.expiry), 0)
	})
}

// Workers reports the number of live workers.
func (d *Dispatcher) Workers() int {
	return d.pool.Running()
}

func (d *Dispatcher) run() {
	for {
		d.drain()
		if !d.dispatchOne() {
			select {
			case job := <-d.jobQueue:
				d.enqueueJob(job)
			case <-d.quit:
				return
			}
			continue
		}
		select {
		case <-d.quit:
			return
		default:
		}
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.Key]
	if q == nil {
		q = &keyQueue{}
		d.queues[job.Key] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[job.Key] = d.ready.PushBack(job.Key)
}

// dispatchOne hands the next job to a worker, waiting for one to free up.
func (d *Dispatcher) dispatchOne() bool {
	job, ok := d.next()
	if !ok {
		return false
	}
	workerChan := d.pool.acquire()
	debugLog("[dispatcher] assign job for %s to worker-%d", job.Key, d.pool.workerID(workerChan))
	workerChan <- job
	return true
}

// next pops the oldest job of the least recently served key.
func (d *Dispatcher) next() (Job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	elem := d.ready.Front()
	if elem == nil {
		return Job{}, false
	}
	key := elem.Value.(string)
	q := d.queues[key]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, key)
		delete(d.queues, key)
	} else {
		d.ready.MoveToBack(elem)
	}
	return job, true
}

// drain moves every job already submitted into the per-key queues.
func (d *Dispatcher) drain() {
	for {
		select {
		case job := <-d.jobQueue:
			d.enqueueJob(job)
		default:
			return
		}
	}
}

// Pending reports how many jobs are waiting for a worker under key.
func (d *Dispatcher) Pending(key string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if q := d.queues[key]; q != nil {
		return len(q.jobs)
	}
	return 0
}
