// Package queue abstracts the work queue that feeds the asynchronous
// runner: a pending execution's (workflow, execution, resume) triple
// waiting for a worker to pick it up.
package queue

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrEmpty is returned by Dequeue when no item is available within the
// caller's context deadline.
var ErrEmpty = errors.New("queue: empty")

// Action distinguishes a fresh-start job from a resume-a-halt job.
type Action string

const (
	ActionStart  Action = "start"
	ActionResume Action = "resume"
)

// Job is one unit of work: either start a fresh execution or resume a
// halted one.
type Job struct {
	Action      Action         `json:"action"`
	WorkflowID  string         `json:"workflow_id"`
	ExecutionID string         `json:"execution_id"`
	Input       map[string]any `json:"input,omitempty"`
	Response    any            `json:"response,omitempty"`
	Approved    *bool          `json:"approved,omitempty"`
}

// Queue is the minimal contract the async runner needs: push a job,
// block for the next one.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	// Dequeue blocks until a job is available or ctx is done, returning
	// ErrEmpty if ctx expired first.
	Dequeue(ctx context.Context) (Job, error)
}

func encode(job Job) (string, error) {
	b, err := json.Marshal(job)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decode(s string) (Job, error) {
	var job Job
	err := json.Unmarshal([]byte(s), &job)
	return job, err
}
