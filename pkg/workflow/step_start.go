package workflow

import (
	"context"
	"fmt"

	engineerrors "github.com/stepflow/engine/pkg/errors"
)

// startExecutor validates the frozen Input against the workflow's InputDef
// list, applies defaults, and mirrors Input into ctx["input"] so "$input.X"
// resolves the same way whether looked up as a root or as a ctx key.
type startExecutor struct{}

func (x *startExecutor) Call(ctx context.Context, step *StepDef, state *State) (StepOutcome, error) {
	defs, _ := step.Config.([]InputDef)

	merged := make(map[string]any, len(state.Input))
	for k, v := range state.Input {
		merged[k] = v
	}

	for _, def := range defs {
		v, present := merged[def.Name]
		if !present {
			if def.Required {
				return StepOutcome{}, &engineerrors.ValidationError{
					Field:   def.Name,
					Message: "required input is missing",
				}
			}
			if def.Default != nil {
				merged[def.Name] = def.Default
			}
			continue
		}
		if !matchesInputType(def.Type, v) {
			return StepOutcome{}, &engineerrors.ValidationError{
				Field:   def.Name,
				Message: fmt.Sprintf("expected %s, got %T", def.Type, v),
			}
		}
	}

	next := state.WithCtx("input", merged)
	return StepOutcome{
		State:    next,
		Continue: &ContinueResult{},
	}, nil
}

func matchesInputType(t InputType, v any) bool {
	switch t {
	case InputString:
		_, ok := v.(string)
		return ok
	case InputBoolean:
		_, ok := v.(bool)
		return ok
	case InputInteger:
		switch n := v.(type) {
		case int, int32, int64:
			return true
		case float64:
			return n == float64(int64(n))
		default:
			return false
		}
	case InputNumber:
		switch v.(type) {
		case int, int32, int64, float32, float64:
			return true
		default:
			return false
		}
	case InputArray:
		_, ok := v.([]any)
		return ok
	case InputObject:
		_, ok := v.(map[string]any)
		return ok
	default:
		return true
	}
}
