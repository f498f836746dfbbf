// Package worker runs review tasks in the background on a fixed number of
// goroutines fed by a bounded queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/joescharf/prreview/internal/daemon"
	"github.com/joescharf/prreview/internal/models"
	"github.com/joescharf/prreview/internal/pipeline"
	"github.com/joescharf/prreview/internal/store"
)

var (
	ErrStopped   = errors.New("dispatcher stopped")
	ErrQueueFull = errors.New("review queue is full")
)

// InterruptedMessage is recorded on tasks a previous process left processing.
const InterruptedMessage = pipeline.KindCancelled + ": interrupted before completion"

// Orchestrator is the part of the pipeline the dispatcher drives.
type Orchestrator interface {
	Submit(ctx context.Context, req pipeline.SubmitRequest) (*models.ReviewTask, error)
	Run(ctx context.Context, taskID, token string) error
}

// Job is one queued task. The token lives only in memory.
type Job struct {
	TaskID string
	Token  string
}

// Options configures a Dispatcher.
type Options struct {
	Workers   int
	QueueSize int
	// Alive reports whether the process that owns a processing task still
	// runs. Defaults to daemon.ProcessAlive.
	Alive func(pid int) bool
}

// Dispatcher accepts submissions and runs them on Workers goroutines.
type Dispatcher struct {
	orch   Orchestrator
	store  store.Store
	opts   Options
	logger *slog.Logger

	jobs    chan Job
	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Dispatcher. Call Start before submitting.
func New(orch Orchestrator, s store.Store, opts Options, logger *slog.Logger) *Dispatcher {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 1
	}
	if opts.Alive == nil {
		opts.Alive = daemon.ProcessAlive
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{
		orch:   orch,
		store:  s,
		opts:   opts,
		logger: logger,
		jobs:   make(chan Job, opts.QueueSize),
	}
}

// Start launches the workers. They stop when ctx is done or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.stopped {
		return
	}
	d.started = true

	ctx, d.cancel = context.WithCancel(ctx)
	for i := 0; i < d.opts.Workers; i++ {
		d.wg.Add(1)
		go d.work(ctx, i)
	}
	d.logger.Info("worker.started", "workers", d.opts.Workers, "queue_size", d.opts.QueueSize)
}

// Stop cancels in-flight runs and waits for the workers to exit. Cancelled runs
// end failed; tasks still queued stay pending for Recover on the next start.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	if d.cancel != nil {
		d.cancel()
	}
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info("worker.stopped")
}

// Submit validates and records a new task, then queues it. The returned task is
// pending. When the queue is full the task is failed and ErrQueueFull returned.
func (d *Dispatcher) Submit(ctx context.Context, req pipeline.SubmitRequest) (*models.ReviewTask, error) {
	if d.isStopped() {
		return nil, ErrStopped
	}
	task, err := d.orch.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := d.enqueue(Job{TaskID: task.ID, Token: req.GitHubToken}); err != nil {
		msg := pipeline.KindInternal + ": " + err.Error()
		if uerr := d.store.UpdateTask(context.WithoutCancel(ctx), task.ID, store.TaskUpdate{
			Status: models.TaskStatusFailed,
			Error:  msg,
		}); uerr != nil {
			d.logger.Error("worker.reject_failed", "task_id", task.ID, "error", uerr)
		}
		return nil, err
	}
	return task, nil
}

// Recover repairs tasks left behind by a previous process: processing tasks
// whose owner is gone are failed and pending tasks are queued again with the
// default credential. Tasks owned by a live process are left to it.
func (d *Dispatcher) Recover(ctx context.Context) (requeued, interrupted int, err error) {
	processing, err := d.store.ListTasks(ctx, store.TaskListFilter{Status: models.TaskStatusProcessing})
	if err != nil {
		return 0, 0, fmt.Errorf("list processing tasks: %w", err)
	}
	for _, t := range processing {
		if t.OwnerPID != 0 && d.opts.Alive(t.OwnerPID) {
			d.logger.Info("worker.recover_skipped", "task_id", t.ID, "owner_pid", t.OwnerPID)
			continue
		}
		err := d.store.UpdateTask(ctx, t.ID, store.TaskUpdate{Status: models.TaskStatusFailed, Error: InterruptedMessage})
		switch {
		case err == nil:
			interrupted++
		case errors.Is(err, store.ErrInvalidTransition):
			// finished since it was listed
		default:
			return requeued, interrupted, fmt.Errorf("fail interrupted task %s: %w", t.ID, err)
		}
	}

	pending, err := d.store.ListTasks(ctx, store.TaskListFilter{Status: models.TaskStatusPending})
	if err != nil {
		return requeued, interrupted, fmt.Errorf("list pending tasks: %w", err)
	}
	// Oldest first.
	for i := len(pending) - 1; i >= 0; i-- {
		select {
		case d.jobs <- Job{TaskID: pending[i].ID}:
			requeued++
		case <-ctx.Done():
			return requeued, interrupted, ctx.Err()
		}
	}

	if requeued > 0 || interrupted > 0 {
		d.logger.Info("worker.recovered", "requeued", requeued, "interrupted", interrupted)
	}
	return requeued, interrupted, nil
}

func (d *Dispatcher) enqueue(job Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return ErrStopped
	}
	select {
	case d.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

func (d *Dispatcher) isStopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopped
}

func (d *Dispatcher) work(ctx context.Context, id int) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-d.jobs:
			if err := d.orch.Run(ctx, job.TaskID, job.Token); err != nil {
				d.logger.Debug("worker.run_finished", "worker", id, "task_id", job.TaskID, "error", err)
			}
		}
	}
}
