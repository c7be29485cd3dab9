package workflow

import (
	"context"

	engineerrors "github.com/stepflow/engine/pkg/errors"
	"github.com/stepflow/engine/pkg/workflow/expression"
)

// ConfigRouter is the router step's configuration: an ordered list of
// routes evaluated in order, plus an optional fallback.
type ConfigRouter struct {
	Routes  []*expression.Route
	Default string
}

// routerExecutor evaluates routes in order and advances to the first
// match's target, falling back to Default, failing if neither exists.
type routerExecutor struct{}

func (x *routerExecutor) Call(ctx context.Context, step *StepDef, state *State) (StepOutcome, error) {
	cfg, _ := step.Config.(*ConfigRouter)
	if cfg == nil {
		return StepOutcome{}, &engineerrors.ExecutionError{Step: step.ID, Message: "no matching route"}
	}

	if route := expression.FindRoute(rootsFor(state), cfg.Routes); route != nil {
		return StepOutcome{
			State:    state,
			Continue: &ContinueResult{NextStep: route.Then},
		}, nil
	}

	if cfg.Default != "" {
		return StepOutcome{
			State:    state,
			Continue: &ContinueResult{NextStep: cfg.Default},
		}, nil
	}

	return StepOutcome{}, &engineerrors.ExecutionError{Step: step.ID, Message: "no matching route"}
}
