package worker

import (
	"context"
	"fmt"
	"log"
)

// Job is one unit of work. Jobs sharing a Key are served in submission order,
// and distinct keys take turns.
type Job struct {
	Key string
	Ctx context.Context
	Run func(ctx context.Context)

	done chan error // buffered, receives exactly one result
	stop bool
}

type Worker struct {
	id         int
	pool       *jobChannelPool
	jobChannel chan Job
}

func newWorker(id int, pool *jobChannelPool) *Worker {
	return &Worker{
		id:         id,
		pool:       pool,
		jobChannel: make(chan Job),
	}
}

// Start parks the worker in the idle queue and serves jobs until told to stop.
func (w *Worker) Start() {
	go func() {
		for {
			w.pool.Release(w.jobChannel)
			job := <-w.jobChannel
			if job.stop {
				debugLog("[worker-%d] stop", w.id)
				w.pool.retire(w.jobChannel)
				return
			}
			w.run(job)
		}
	}()
}

func (w *Worker) run(job Job) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			log.Printf("worker-%d: job for %s panicked: %v", w.id, job.Key, r)
			err = fmt.Errorf("%w: %v", ErrPanicked, r)
		}
		job.done <- err
	}()
	ctx := job.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err = ctx.Err(); err != nil {
		// caller already gave up
		return
	}
	job.Run(ctx)
}
