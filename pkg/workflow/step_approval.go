package workflow

import (
	"context"
	"time"

	engineerrors "github.com/stepflow/engine/pkg/errors"
)

// ConfigApproval is the approval step's configuration: a halt with a
// resume contract keyed on ctx["approved"].
type ConfigApproval struct {
	Prompt    string
	Context   map[string]any
	Approvers []string
	// TimeoutSeconds bounds how long the halt may remain outstanding
	// before a resume is treated as timed out.
	TimeoutSeconds float64

	OnReject  string
	OnTimeout string
}

// approvalExecutor halts on first entry with an approval prompt. On
// resume, it inspects ctx["approved"] (injected by the engine's Resume)
// and the elapsed time since the halt was requested to decide whether to
// continue, reject, or time out.
type approvalExecutor struct{}

func (x *approvalExecutor) Call(ctx context.Context, step *StepDef, state *State) (StepOutcome, error) {
	cfg, _ := step.Config.(*ConfigApproval)

	approved, consumed := state.Ctx["approved"]
	if !consumed {
		return x.requestApproval(step, state, cfg)
	}

	requestedAt, _ := state.Ctx["_approval_requested_at"].(string)
	next := state.DeleteCtx("approved", "_approval_requested_at")

	if cfg != nil && cfg.TimeoutSeconds > 0 && requestedAt != "" {
		if t, err := time.Parse(time.RFC3339, requestedAt); err == nil {
			if time.Since(t) > time.Duration(cfg.TimeoutSeconds*float64(time.Second)) {
				if cfg.OnTimeout != "" {
					return StepOutcome{State: next, Continue: &ContinueResult{NextStep: cfg.OnTimeout}}, nil
				}
				return StepOutcome{}, &engineerrors.ExecutionError{Step: step.ID, Message: "Approval timeout"}
			}
		}
	}

	if b, ok := approved.(bool); ok && b {
		return StepOutcome{State: next, Continue: &ContinueResult{NextStep: step.Next}}, nil
	}

	if cfg != nil && cfg.OnReject != "" {
		return StepOutcome{State: next, Continue: &ContinueResult{NextStep: cfg.OnReject}}, nil
	}
	return StepOutcome{}, &engineerrors.ExecutionError{Step: step.ID, Message: "Rejected"}
}

func (x *approvalExecutor) requestApproval(step *StepDef, state *State, cfg *ConfigApproval) (StepOutcome, error) {
	requestedAt := time.Now().UTC().Format(time.RFC3339)

	data := map[string]any{
		"type":         "approval",
		"requested_at": requestedAt,
	}
	var prompt string
	if cfg != nil {
		prompt = resolveValueAsString(state, cfg.Prompt)
		data["prompt"] = prompt
		if cfg.Context != nil {
			data["context"] = resolveValue(state, cfg.Context)
		}
		if cfg.Approvers != nil {
			data["approvers"] = cfg.Approvers
		}
		if cfg.TimeoutSeconds > 0 {
			data["timeout"] = cfg.TimeoutSeconds
		}
	}

	next := state.WithCtx("_approval_requested_at", requestedAt)

	return StepOutcome{
		State: next,
		Halt: &HaltResult{
			Data:       data,
			ResumeStep: step.ID,
			Prompt:     prompt,
		},
	}, nil
}

func resolveValueAsString(state *State, v string) string {
	if v == "" {
		return ""
	}
	resolved := resolveValue(state, v)
	if s, ok := resolved.(string); ok {
		return s
	}
	return v
}
