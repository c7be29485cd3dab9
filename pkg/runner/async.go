package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stepflow/engine/internal/queue"
	"github.com/stepflow/engine/pkg/workflow"
)

// ErrWaitTimeout is returned by Async.Wait when the execution has not
// reached a stopping status before the deadline.
var ErrWaitTimeout = errors.New("runner: wait timeout")

// Async is the queue-backed runner. Start and Resume never touch the
// Engine directly: they save the caller's intent to the Store and
// Queue, returning immediately, and a separate Worker goroutine (often
// in another process) drains the Queue against the Engine.
type Async struct {
	engine    *workflow.Engine
	store     workflow.Store
	queue     queue.Queue
	workflows map[string]*workflow.WorkflowDef
	newID     func() string
}

// NewAsync wires an Async runner. workflows resolves a Job's WorkflowID
// back to a WorkflowDef when a Worker dequeues it; it should be the same
// registry the Engine itself was configured with.
func NewAsync(engine *workflow.Engine, store workflow.Store, q queue.Queue, workflows map[string]*workflow.WorkflowDef) *Async {
	return &Async{engine: engine, store: store, queue: q, workflows: workflows, newID: uuid.NewString}
}

// Start pre-saves a pending Execution and enqueues a start Job, returning
// the execution id a caller polls via Status or Wait.
func (a *Async) Start(ctx context.Context, def *workflow.WorkflowDef, input map[string]any) (string, error) {
	id := a.newID()
	now := time.Now().UTC()
	exec := &workflow.Execution{
		ID:         id,
		WorkflowID: def.ID,
		Status:     workflow.StatusPending,
		Input:      input,
		Ctx:        map[string]any{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := a.store.Save(ctx, exec); err != nil {
		return "", fmt.Errorf("runner: save pending execution: %w", err)
	}

	job := queue.Job{Action: queue.ActionStart, WorkflowID: def.ID, ExecutionID: id, Input: input}
	if err := a.queue.Enqueue(ctx, job); err != nil {
		return "", fmt.Errorf("runner: enqueue start job: %w", err)
	}
	queuePending.WithLabelValues(def.ID).Inc()
	return id, nil
}

// Resume re-saves a halted execution as pending and enqueues a resume Job
// for it. response and approved are carried through to Engine.Resume
// unchanged.
func (a *Async) Resume(ctx context.Context, workflowID, executionID string, response any, approved *bool) error {
	exec, err := a.store.Load(ctx, executionID)
	if err != nil {
		return fmt.Errorf("runner: load execution: %w", err)
	}
	if exec != nil && exec.Status == workflow.StatusHalted {
		exec.Status = workflow.StatusPending
		exec.UpdatedAt = time.Now().UTC()
		if err := a.store.Save(ctx, exec); err != nil {
			return fmt.Errorf("runner: save pending execution: %w", err)
		}
	}

	job := queue.Job{Action: queue.ActionResume, WorkflowID: workflowID, ExecutionID: executionID, Response: response, Approved: approved}
	if err := a.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("runner: enqueue resume job: %w", err)
	}
	queuePending.WithLabelValues(workflowID).Inc()
	return nil
}

// Status returns the execution's current persisted state, or (nil, nil)
// if it does not exist (yet, if the enqueue race hasn't been picked up).
func (a *Async) Status(ctx context.Context, executionID string) (*workflow.Execution, error) {
	return a.store.Load(ctx, executionID)
}

// Wait polls the Store every interval until the execution reaches a
// stopping status (completed, failed, or halted) or timeout elapses. A
// non-positive timeout waits until ctx is done.
func (a *Async) Wait(ctx context.Context, executionID string, timeout, interval time.Duration) (*workflow.Execution, error) {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		exec, err := a.store.Load(ctx, executionID)
		if err != nil {
			return nil, err
		}
		if exec != nil && isStopped(exec.Status) {
			return exec, nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return exec, ErrWaitTimeout
		}

		select {
		case <-ctx.Done():
			return exec, ctx.Err()
		case <-ticker.C:
		}
	}
}

func isStopped(s workflow.Status) bool {
	return s == workflow.StatusCompleted || s == workflow.StatusFailed || s == workflow.StatusHalted
}

// Worker drains the Queue until ctx is done, running each Job against the
// Engine. Run several concurrently (in one process or many) to scale out
// execution throughput; each Job runs to completion or halt before the
// worker dequeues the next one.
func (a *Async) Worker(ctx context.Context) error {
	for {
		job, err := a.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrEmpty) && ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		a.process(ctx, job)
	}
}

func (a *Async) process(ctx context.Context, job queue.Job) {
	queuePending.WithLabelValues(job.WorkflowID).Dec()

	def, ok := a.workflows[job.WorkflowID]
	if !ok {
		return
	}

	start := time.Now()
	var result workflow.ExecutionResult
	if job.Action == queue.ActionResume {
		result, _ = a.engine.Resume(ctx, def, job.ExecutionID, job.Response, job.Approved)
	} else {
		result, _ = a.engine.Run(ctx, def, job.Input, job.ExecutionID)
	}
	recordRun(job.WorkflowID, result.Status, time.Since(start))
}
