package workflow

import "context"

// ConfigEnd is the end step's configuration. Output, when set, is the
// workflow's final output: it is resolved against the finishing state and
// stored at ctx["result"]. Writing "result" is the engine's privilege —
// user assign steps may not touch it — so the end step is the one
// sanctioned place a workflow shapes its own result.
type ConfigEnd struct {
	Output any
}

// endExecutor resolves the configured final output (if any) into
// ctx["result"] and terminates the run. A bare end step leaves ctx
// untouched; the engine then derives the result from the user-visible
// ctx keys instead.
type endExecutor struct{}

func (x *endExecutor) Call(ctx context.Context, step *StepDef, state *State) (StepOutcome, error) {
	cfg, _ := step.Config.(*ConfigEnd)

	next := state
	if cfg != nil && cfg.Output != nil {
		next = state.WithCtx("result", resolveValue(state, cfg.Output))
	}

	return StepOutcome{
		State:    next,
		Continue: &ContinueResult{NextStep: Finished},
	}, nil
}
