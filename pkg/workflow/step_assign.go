package workflow

import "context"

// ConfigAssign is the assign step's configuration: an ordered set of
// ctx-key to $path-or-literal mappings.
type ConfigAssign struct {
	// Set holds the assignment keys in declaration order, since each
	// value is resolved against the progressively updated state and order
	// is observable (a later assignment can reference an earlier one in
	// the same step).
	Set []AssignEntry
}

// AssignEntry is one "key: value" pair from an assign step's set mapping.
type AssignEntry struct {
	Key   string
	Value any
}

// assignExecutor resolves each configured value against the state as it
// stands *after* prior entries in the same step have been applied, then
// writes it to ctx.
type assignExecutor struct{}

func (x *assignExecutor) Call(ctx context.Context, step *StepDef, state *State) (StepOutcome, error) {
	cfg, _ := step.Config.(*ConfigAssign)
	if cfg == nil {
		return StepOutcome{State: state, Continue: &ContinueResult{}}, nil
	}

	current := state
	written := make(map[string]any, len(cfg.Set))
	for _, entry := range cfg.Set {
		resolved := resolveValue(current, entry.Value)
		current = current.WithCtx(entry.Key, resolved)
		written[entry.Key] = resolved
	}

	return StepOutcome{State: current, Continue: &ContinueResult{Output: written}}, nil
}
