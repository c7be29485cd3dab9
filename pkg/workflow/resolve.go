package workflow

import "github.com/stepflow/engine/pkg/workflow/expression"

// rootsFor builds the expression.Roots the resolver and condition
// evaluator need from a State.
func rootsFor(state *State) expression.Roots {
	return expression.Roots{
		Input:   state.Input,
		Ctx:     state.Ctx,
		History: entriesAsAny(state.History),
	}
}

func entriesAsAny(entries []*Entry) any {
	if entries == nil {
		return []any{}
	}
	out := make([]any, len(entries))
	for i, e := range entries {
		out[i] = map[string]any{
			"step_id":   e.StepID,
			"step_type": e.StepType,
			"action":    string(e.Action),
			"output":    e.Output,
			"error":     e.Error,
		}
	}
	return out
}

// resolveValue resolves a single config value ($path strings, or a nested
// map/sequence of them) against state.
func resolveValue(state *State, value any) any {
	return expression.Resolve(rootsFor(state), value)
}

// evalCondition resolves and evaluates a router condition against state.
func evalCondition(state *State, c *expression.Condition) bool {
	return expression.Evaluate(rootsFor(state), c)
}
