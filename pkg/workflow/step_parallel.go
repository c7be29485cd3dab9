package workflow

import (
	"context"
	"fmt"
	"sync"

	engineerrors "github.com/stepflow/engine/pkg/errors"
)

// ConfigParallel is the parallel step's configuration. Wait is either
// "all" (default), "any", or a string-encoded positive integer N.
type ConfigParallel struct {
	Branches []*StepDef
	Wait     string
	Output   string
}

type branchResult struct {
	index   int
	state   *State
	output  map[string]any
	err     error
	skipped bool
}

// parallelExecutor runs every branch in its own goroutine against an
// isolated copy of the incoming State, waits according to the configured
// mode, then merges completed branches' ctx back into the base state in
// branch-declaration order (last writer wins).
type parallelExecutor struct {
	engine *Engine
}

func newParallelExecutor(e *Engine) Executor {
	return &parallelExecutor{engine: e}
}

func (x *parallelExecutor) Call(ctx context.Context, step *StepDef, state *State) (StepOutcome, error) {
	cfg, _ := step.Config.(*ConfigParallel)
	if cfg == nil || len(cfg.Branches) == 0 {
		return StepOutcome{}, &engineerrors.ConfigError{Reason: "parallel step has no branches"}
	}

	n := len(cfg.Branches)
	needed := n
	switch cfg.Wait {
	case "any":
		needed = 1
	case "", "all":
		needed = n
	default:
		var want int
		if _, err := fmt.Sscanf(cfg.Wait, "%d", &want); err == nil && want > 0 {
			if want < n {
				needed = want
			} else {
				needed = n
			}
		}
	}

	branchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]branchResult, n)
	var wg sync.WaitGroup
	var mu sync.Mutex
	completed := 0
	done := make(chan struct{})

	for i, branch := range cfg.Branches {
		wg.Add(1)
		go func(i int, branch *StepDef) {
			defer wg.Done()

			branchState := state.clone()
			outcome, err, elapsed := x.engine.runNested(branchCtx, branch, branchState)
			entryID := step.ID + ":" + branch.ID

			mu.Lock()
			defer mu.Unlock()

			select {
			case <-branchCtx.Done():
				results[i] = branchResult{index: i, skipped: true}
				return
			default:
			}

			if err != nil {
				x.engine.record(ctx, state.ExecutionID, entryID, branch.Type, ActionFailed, elapsed, branchState, nil, err)
				results[i] = branchResult{index: i, err: err}
			} else if outcome.Halt != nil {
				x.engine.record(ctx, state.ExecutionID, entryID, branch.Type, ActionHalted, elapsed, branchState, outcome.Halt.Data, nil)
				results[i] = branchResult{index: i, err: &engineerrors.ExecutionError{Step: branch.ID, Message: "halt inside parallel branch is not supported"}}
			} else {
				x.engine.record(ctx, state.ExecutionID, entryID, branch.Type, ActionCompleted, elapsed, branchState, outcome.Continue.Output, nil)
				results[i] = branchResult{index: i, state: outcome.State, output: outcome.Continue.Output}
			}

			completed++
			if completed >= needed {
				select {
				case <-done:
				default:
					close(done)
				}
			}
		}(i, branch)
	}

	go func() {
		wg.Wait()
		select {
		case <-done:
		default:
			close(done)
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}

	if cfg.Wait == "any" || (cfg.Wait != "" && cfg.Wait != "all") {
		cancel()
	}
	wg.Wait()

	merged := state.clone()
	outputs := make([]any, n)
	failures := 0
	finished := 0

	for _, r := range results {
		if r.skipped {
			outputs[r.index] = nil
			continue
		}
		if r.err != nil {
			failures++
			outputs[r.index] = nil
			continue
		}
		if r.state == nil {
			outputs[r.index] = nil
			continue
		}
		finished++
		for k, v := range r.state.Ctx {
			merged.Ctx[k] = v
		}
		if r.output != nil {
			outputs[r.index] = r.output
		}
	}

	key := cfg.Output
	if key == "" {
		key = "output"
	}
	merged = merged.WithCtx(key, outputs)

	switch cfg.Wait {
	case "", "all":
		if failures > 0 {
			return StepOutcome{}, &engineerrors.ExecutionError{
				Step:    step.ID,
				Message: fmt.Sprintf("Parallel failed: %d errors", failures),
			}
		}
	case "any":
		if finished == 0 {
			return StepOutcome{}, &engineerrors.ExecutionError{Step: step.ID, Message: "Parallel failed: 0 branches completed"}
		}
	default:
		if finished < needed {
			return StepOutcome{}, &engineerrors.ExecutionError{Step: step.ID, Message: "Insufficient completions"}
		}
	}

	return StepOutcome{State: merged, Continue: &ContinueResult{}}, nil
}
