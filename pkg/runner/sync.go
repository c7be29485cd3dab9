// Package runner implements the three ways a host process drives a
// WorkflowDef through an Engine: Sync blocks until a terminal status,
// Async hands the work to a queue for a separate worker pool, and Stream
// wraps the Engine with a subscribable event feed.
package runner

import (
	"context"
	"time"

	"github.com/stepflow/engine/pkg/workflow"
)

// HaltCallback decides how a Sync run responds to a halt. Returning
// resume=false stops RunUntilComplete and hands the caller the halted
// result instead of resuming.
type HaltCallback func(ctx context.Context, result workflow.ExecutionResult) (response any, approved *bool, resume bool)

// Sync blocks its caller until an execution reaches a terminal status,
// optionally auto-responding to halts along the way. It is the simplest
// runner: no queue, no subscribers, just Engine.Run/Resume in a loop.
type Sync struct {
	engine *workflow.Engine
}

// NewSync wraps engine for synchronous, blocking execution.
func NewSync(engine *workflow.Engine) *Sync {
	return &Sync{engine: engine}
}

// RunUntilComplete starts def and, each time it halts, calls onHalt (if
// non-nil) to decide whether to resume. It returns as soon as the
// execution reaches Completed or Failed, onHalt declines to resume, or
// onHalt is nil and the execution halts.
func (s *Sync) RunUntilComplete(ctx context.Context, def *workflow.WorkflowDef, input map[string]any, onHalt HaltCallback) (workflow.ExecutionResult, error) {
	start := time.Now()
	result, err := s.engine.Run(ctx, def, input, "")
	if err != nil {
		return result, err
	}

	for result.Status == workflow.StatusHalted {
		if onHalt == nil {
			break
		}
		response, approved, resume := onHalt(ctx, result)
		if !resume {
			break
		}
		result, err = s.engine.Resume(ctx, def, result.ExecutionID, response, approved)
		if err != nil {
			return result, err
		}
	}

	recordRun(def.ID, result.Status, time.Since(start))
	return result, nil
}
