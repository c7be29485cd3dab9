package workflow

import "context"

// ContinueResult advances the interpreter loop. NextStep, when empty,
// defers to the owning StepDef's Next; executors that compute their own
// successor (router, approval, end, and loop on exhaustion) set it
// explicitly.
type ContinueResult struct {
	NextStep string
	Output   map[string]any
}

// HaltResult suspends the execution durably. Prompt is an optional
// human-facing message carried alongside Data for approval-style halts.
type HaltResult struct {
	Data       map[string]any
	ResumeStep string
	Prompt     string
}

// StepOutcome is what every Executor.Call returns: the State to carry
// forward and exactly one of ContinueResult or HaltResult (Halt non-nil
// means the step suspended; otherwise Continue applies).
type StepOutcome struct {
	State    *State
	Continue *ContinueResult
	Halt     *HaltResult
}

// Executor implements one step type's semantics. Implementations are pure
// apart from their authorized side effects (a service call, a sub-workflow
// run): they never mutate the State handed to them, only construct new
// ones via its With* methods.
type Executor interface {
	// Call executes step against state and returns the resulting outcome,
	// or an error (see pkg/errors for the error kinds the engine expects:
	// ValidationError, ExecutionError).
	Call(ctx context.Context, step *StepDef, state *State) (StepOutcome, error)
}

// ExecutorFactory builds an Executor for a given step, bound to whatever
// shared dependencies (service resolver, registry, store, predicate
// evaluator) the engine was configured with. Keeping construction behind a
// factory lets every executor type close over the Engine's collaborators
// without the registry itself needing to know their shapes.
type ExecutorFactory func(e *Engine) Executor

// Registry maps a StepDef.Type name to the factory that builds its
// Executor. Step semantics are a closed set the engine ships with, but the
// registry is open: a host process may register additional step types at
// configuration time.
type Registry struct {
	factories map[string]ExecutorFactory
}

// NewRegistry returns a Registry pre-populated with the eleven built-in
// step executors.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]ExecutorFactory)}
	r.Register("start", func(e *Engine) Executor { return &startExecutor{} })
	r.Register("end", func(e *Engine) Executor { return &endExecutor{} })
	r.Register("assign", func(e *Engine) Executor { return &assignExecutor{} })
	r.Register("call", func(e *Engine) Executor { return newCallExecutor(e) })
	r.Register("router", func(e *Engine) Executor { return &routerExecutor{} })
	r.Register("loop", func(e *Engine) Executor { return newLoopExecutor(e) })
	r.Register("parallel", func(e *Engine) Executor { return newParallelExecutor(e) })
	r.Register("halt", func(e *Engine) Executor { return &haltExecutor{} })
	r.Register("approval", func(e *Engine) Executor { return &approvalExecutor{} })
	r.Register("transform", func(e *Engine) Executor { return newTransformExecutor(e) })
	r.Register("workflow", func(e *Engine) Executor { return newSubWorkflowExecutor(e) })
	return r
}

// Register adds or replaces the factory bound to stepType.
func (r *Registry) Register(stepType string, factory ExecutorFactory) {
	r.factories[stepType] = factory
}

// Known reports whether stepType is registered.
func (r *Registry) Known(stepType string) bool {
	_, ok := r.factories[stepType]
	return ok
}

// Build constructs the Executor for stepType, or (nil, false) if unknown.
func (r *Registry) Build(e *Engine, stepType string) (Executor, bool) {
	factory, ok := r.factories[stepType]
	if !ok {
		return nil, false
	}
	return factory(e), true
}
