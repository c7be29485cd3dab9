package workflow

import (
	"context"
	"fmt"

	engineerrors "github.com/stepflow/engine/pkg/errors"
	"github.com/stepflow/engine/pkg/workflow/expression"
)

const defaultLoopMax = 100

// LoopMode selects between the loop step's two mutually exclusive
// iteration strategies.
type LoopMode string

const (
	LoopForeach LoopMode = "foreach"
	LoopWhile   LoopMode = "while"
)

// ConfigLoop is the loop step's configuration.
type ConfigLoop struct {
	Mode LoopMode

	// foreach mode
	Over    any
	As      string
	IndexAs string

	// while mode
	While string

	// common
	Max         int
	OnExhausted string
	Do          []*StepDef
	OutputKey   string
}

// loopExecutor implements bounded iteration (foreach over a sequence, or
// while a condition holds), running a nested step sequence per iteration.
type loopExecutor struct {
	engine *Engine
}

func newLoopExecutor(e *Engine) Executor {
	return &loopExecutor{engine: e}
}

func (x *loopExecutor) Call(ctx context.Context, step *StepDef, state *State) (StepOutcome, error) {
	cfg, _ := step.Config.(*ConfigLoop)
	if cfg == nil {
		return StepOutcome{}, &engineerrors.ConfigError{Reason: "loop step missing configuration"}
	}

	max := cfg.Max
	if max <= 0 {
		max = defaultLoopMax
	}

	switch cfg.Mode {
	case LoopWhile:
		return x.runWhile(ctx, step, state, cfg, max)
	default:
		return x.runForeach(ctx, step, state, cfg, max)
	}
}

func (x *loopExecutor) runForeach(ctx context.Context, step *StepDef, state *State, cfg *ConfigLoop, max int) (StepOutcome, error) {
	seq, _ := resolveValue(state, cfg.Over).([]any)
	if len(seq) > max {
		return StepOutcome{}, &engineerrors.ExecutionError{
			Step:    step.ID,
			Message: fmt.Sprintf("loop exceeded max iterations (%d)", max),
		}
	}

	results := make([]any, 0, len(seq))
	current := state

	for i, el := range seq {
		iterState := current.WithCtx(cfg.As, el)
		if cfg.IndexAs != "" {
			iterState = iterState.WithCtx(cfg.IndexAs, i)
		}

		outcome, lastOutput, halted, err := x.runBody(ctx, step.ID, cfg.Do, iterState)
		if err != nil {
			return StepOutcome{}, err
		}
		if halted != nil {
			return StepOutcome{State: outcome, Halt: halted}, nil
		}

		results = append(results, iterationValue(lastOutput))
		current = outcome
	}

	current = current.DeleteCtx(cfg.As, cfg.IndexAs)
	key := cfg.OutputKey
	if key == "" {
		key = "output"
	}
	current = current.WithCtx(key, results)

	return StepOutcome{State: current, Continue: &ContinueResult{}}, nil
}

func (x *loopExecutor) runWhile(ctx context.Context, step *StepDef, state *State, cfg *ConfigLoop, max int) (StepOutcome, error) {
	results := make([]any, 0)
	current := state

	for i := 0; i < max; i++ {
		env := expression.PredicateEnv(current.Input, current.WithCtx("iteration", i).Ctx)
		cond, err := x.engine.predicates.EvalBool(cfg.While, env)
		if err != nil {
			return StepOutcome{}, &engineerrors.ExecutionError{Step: step.ID, Message: "while condition failed", Cause: err}
		}
		if !cond {
			key := cfg.OutputKey
			if key == "" {
				key = "output"
			}
			current = current.DeleteCtx("iteration").WithCtx(key, results)
			return StepOutcome{State: current, Continue: &ContinueResult{}}, nil
		}

		iterState := current.WithCtx("iteration", i)
		outcome, lastOutput, halted, err := x.runBody(ctx, step.ID, cfg.Do, iterState)
		if err != nil {
			return StepOutcome{}, err
		}
		if halted != nil {
			return StepOutcome{State: outcome, Halt: halted}, nil
		}

		results = append(results, iterationValue(lastOutput))
		current = outcome
	}

	if cfg.OnExhausted != "" {
		key := cfg.OutputKey
		if key == "" {
			key = "output"
		}
		current = current.DeleteCtx("iteration").WithCtx(key, results)
		return StepOutcome{State: current, Continue: &ContinueResult{NextStep: cfg.OnExhausted}}, nil
	}

	return StepOutcome{}, &engineerrors.ExecutionError{Step: step.ID, Message: "loop exhausted without reaching condition"}
}

// runBody executes body's steps in list order, ignoring each step's own
// Next link (the body always proceeds top to bottom). Nested Entries are
// recorded under the composite key "{loopID}:{stepID}". If any step
// halts, the halt bubbles up unchanged with ResumeStep pointing at the
// halting inner step, so a future resume replays the loop from there.
func (x *loopExecutor) runBody(ctx context.Context, loopID string, body []*StepDef, state *State) (current *State, lastOutput map[string]any, halt *HaltResult, err error) {
	current = state

	for _, inner := range body {
		outcome, stepErr, elapsed := x.engine.runNested(ctx, inner, current)
		entryID := loopID + ":" + inner.ID

		if stepErr != nil {
			x.engine.record(ctx, current.ExecutionID, entryID, inner.Type, ActionFailed, elapsed, current, nil, stepErr)

			if inner.OnError != "" {
				current = current.WithCtx("_last_error", map[string]any{
					"step":    inner.ID,
					"message": stepErr.Error(),
					"class":   fmt.Sprintf("%T", stepErr),
				})
				continue
			}
			return nil, nil, nil, stepErr
		}

		current = outcome.State

		if outcome.Halt != nil {
			x.engine.record(ctx, current.ExecutionID, entryID, inner.Type, ActionHalted, elapsed, current, outcome.Halt.Data, nil)
			return current, nil, &HaltResult{
				Data:       outcome.Halt.Data,
				ResumeStep: inner.ID,
				Prompt:     outcome.Halt.Prompt,
			}, nil
		}

		x.engine.record(ctx, current.ExecutionID, entryID, inner.Type, ActionCompleted, elapsed, current, outcome.Continue.Output, nil)
		lastOutput = outcome.Continue.Output
	}

	return current, lastOutput, nil, nil
}

// iterationValue derives the single value an iteration contributes to the
// loop's results sequence from the final body step's Output: a
// single-keyed output map contributes its value, otherwise the map itself.
func iterationValue(out map[string]any) any {
	if len(out) == 1 {
		for _, v := range out {
			return v
		}
	}
	if out != nil {
		return out
	}
	return nil
}
