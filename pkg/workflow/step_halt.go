package workflow

import (
	"context"
	"time"
)

// ConfigHalt is the halt step's configuration.
type ConfigHalt struct {
	Reason string
	Data   map[string]any

	// ResumeStep, if set, overrides StepDef.Next as the step a future
	// resume restarts at.
	ResumeStep string
}

// haltExecutor unconditionally suspends the execution, carrying a
// caller-supplied reason and data payload.
type haltExecutor struct{}

func (x *haltExecutor) Call(ctx context.Context, step *StepDef, state *State) (StepOutcome, error) {
	cfg, _ := step.Config.(*ConfigHalt)

	data := map[string]any{
		"halted_at": time.Now().UTC().Format(time.RFC3339),
	}
	resumeStep := step.Next

	if cfg != nil {
		if cfg.Reason != "" {
			data["reason"] = resolveValue(state, cfg.Reason)
		}
		for k, v := range cfg.Data {
			data[k] = resolveValue(state, v)
		}
		if cfg.ResumeStep != "" {
			resumeStep = cfg.ResumeStep
		}
	}

	return StepOutcome{
		State: state,
		Halt: &HaltResult{
			Data:       data,
			ResumeStep: resumeStep,
		},
	}, nil
}
