package workflow

import (
	"context"
	"fmt"
	"time"

	engineerrors "github.com/stepflow/engine/pkg/errors"
)

// ConfigWorkflow is the workflow (sub-workflow) step's configuration.
type ConfigWorkflow struct {
	WorkflowID string
	Input      any
	OutputKey  string
}

// subWorkflowExecutor looks up another WorkflowDef by id in the engine's
// process-wide workflow registry and runs it to completion with the same
// engine and store.
//
// Halt semantics: a halted sub-workflow bubbles a halt to the parent
// whose resume_step is the parent's own step id, but resuming the parent
// *re-runs the sub-workflow from scratch* rather than resuming the
// child's own halted execution — the parent never retains a handle to
// the child's execution_id across its own halt/resume boundary.
type subWorkflowExecutor struct {
	engine *Engine
}

func newSubWorkflowExecutor(e *Engine) Executor {
	return &subWorkflowExecutor{engine: e}
}

func (x *subWorkflowExecutor) Call(ctx context.Context, step *StepDef, state *State) (StepOutcome, error) {
	cfg, _ := step.Config.(*ConfigWorkflow)
	if cfg == nil {
		return StepOutcome{}, &engineerrors.ConfigError{Reason: "workflow step missing configuration"}
	}

	child, ok := x.engine.workflows[cfg.WorkflowID]
	if !ok {
		return StepOutcome{}, &engineerrors.ExecutionError{Step: step.ID, Message: fmt.Sprintf("unknown sub-workflow %q", cfg.WorkflowID)}
	}

	input, _ := resolveValue(state, cfg.Input).(map[string]any)
	if input == nil {
		input = map[string]any{}
	}

	callCtx := ctx
	if child.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, time.Duration(child.TimeoutSeconds*float64(time.Second)))
		defer cancel()
	}

	result, err := x.engine.Run(callCtx, child, input, "")
	if err != nil {
		return StepOutcome{}, &engineerrors.ExecutionError{Step: step.ID, Message: fmt.Sprintf("Sub-workflow failed: %v", err), Cause: err}
	}

	switch result.Status {
	case StatusCompleted:
		key := cfg.OutputKey
		if key == "" {
			key = "output"
		}
		next := state.WithCtx(key, result.Result)
		return StepOutcome{State: next, Continue: &ContinueResult{}}, nil

	case StatusHalted:
		return StepOutcome{
			State: state,
			Halt: &HaltResult{
				Data:       result.HaltData,
				ResumeStep: step.ID,
			},
		}, nil

	default:
		return StepOutcome{}, &engineerrors.ExecutionError{Step: step.ID, Message: fmt.Sprintf("Sub-workflow failed: %s", result.Error)}
	}
}
