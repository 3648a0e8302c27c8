package service

import (
	"context"

	"go.uber.org/zap"

	"recollector/api/models"
	"recollector/worker/pool"
)

// Runner schedules task lifecycles on the worker pool under the service's
// root context. Cancelling that context interrupts every running task.
type Runner struct {
	ctx       context.Context
	pool      *pool.WorkerPool
	processor *Processor
	logger    *zap.Logger
}

func NewRunner(ctx context.Context, workers *pool.WorkerPool, processor *Processor, logger *zap.Logger) *Runner {
	return &Runner{
		ctx:       ctx,
		pool:      workers,
		processor: processor,
		logger:    logger,
	}
}

func (r *Runner) Dispatch(job *models.Job) *pool.Handle {
	r.logger.Debug("Dispatching task", zap.String("task_id", job.TaskID))
	return r.pool.Submit(r.ctx, job, r.processor.Process)
}

// Wait blocks until every dispatched task has reached a terminal state.
func (r *Runner) Wait() {
	r.pool.Wait()
}
