package queue

import "context"

// MemoryQueue is an in-process Queue backed by a buffered channel. It is
// the runner's default, mirroring the engine's MemoryStore as the
// zero-configuration backend.
type MemoryQueue struct {
	ch chan Job
}

var _ Queue = (*MemoryQueue)(nil)

// NewMemoryQueue returns a MemoryQueue with the given channel capacity.
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 64
	}
	return &MemoryQueue{ch: make(chan Job, capacity)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) error {
	select {
	case q.ch <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (Job, error) {
	select {
	case job := <-q.ch:
		return job, nil
	case <-ctx.Done():
		return Job{}, ErrEmpty
	}
}
