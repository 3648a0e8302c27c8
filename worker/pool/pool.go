package pool

import (
	"context"
	"sync"

	"recollector/api/models"
)

// Handle tracks one submitted job until its handler returns.
type Handle struct {
	TaskID string
	done   chan struct{}
	err    error
}

// Done is closed once the job's handler has returned.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the handler's error. Only meaningful after Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until the job finishes or ctx ends.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type WorkerPool struct {
	sem chan struct{}
	wg  sync.WaitGroup
}

func NewWorkerPool(maxWorkers int) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &WorkerPool{
		sem: make(chan struct{}, maxWorkers),
	}
}

// Submit runs handler for job once a worker slot is free. If ctx ends while
// waiting for a slot the handler still runs, with the cancelled context, so
// it can record the failure and release the job's resources.
func (p *WorkerPool) Submit(ctx context.Context, job *models.Job, handler func(context.Context, *models.Job) error) *Handle {
	h := &Handle{TaskID: job.TaskID, done: make(chan struct{})}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(h.done)

		select {
		case p.sem <- struct{}{}:
			defer func() { <-p.sem }()
		case <-ctx.Done():
		}
		h.err = handler(ctx, job)
	}()

	return h
}

func (p *WorkerPool) Wait() {
	p.wg.Wait()
}
