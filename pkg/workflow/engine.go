package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	internallog "github.com/stepflow/engine/internal/log"
	engineerrors "github.com/stepflow/engine/pkg/errors"
	"github.com/stepflow/engine/pkg/service"
	"github.com/stepflow/engine/pkg/workflow/expression"
)

// ExecutionResult is what Run and Resume return: the terminal or
// suspended outcome of one interpreter pass.
type ExecutionResult struct {
	ExecutionID string
	Status      Status
	Result      map[string]any
	HaltData    map[string]any
	RecoverTo   string
	Error       string
}

// EventType identifies the kind of lifecycle notification an EventSink
// receives. Names mirror the Status/EntryAction vocabulary so a Stream
// runner's subscribers can filter on the same words the rest of the API
// uses.
type EventType string

const (
	EventWorkflowStarted   EventType = "workflow.started"
	EventWorkflowCompleted EventType = "workflow.completed"
	EventWorkflowHalted    EventType = "workflow.halted"
	EventWorkflowFailed    EventType = "workflow.failed"
	EventWorkflowResumed   EventType = "workflow.resumed"
	EventStepStarted       EventType = "step.started"
	EventStepCompleted     EventType = "step.completed"
	EventStepHalted        EventType = "step.halted"
	EventStepFailed        EventType = "step.failed"
)

// Event is one lifecycle notification the Engine publishes to its
// EventSink, if configured.
type Event struct {
	Type        EventType
	ExecutionID string
	WorkflowID  string
	StepID      string
	StepType    string
	Timestamp   time.Time
	Data        map[string]any
	Error       string
}

// EventSink receives Events as the Engine drives an execution. Emit must
// return quickly and never block: a slow sink stalls the step it is
// reporting on.
type EventSink interface {
	Emit(Event)
}

// Engine is the interpreter: it drives a WorkflowDef's steps through an
// immutable State, persisting an Execution after every step via Store.
type Engine struct {
	store      Store
	registry   *Registry
	services   service.Resolver
	workflows  map[string]*WorkflowDef
	predicates *expression.PredicateEvaluator
	tracer     trace.Tracer
	events     EventSink
	logger     *slog.Logger

	newID func() string
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithStore injects the durability backend. Required.
func WithStore(s Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithServiceResolver injects the call step's service lookup.
func WithServiceResolver(r service.Resolver) Option {
	return func(e *Engine) { e.services = r }
}

// WithRegistry overrides the default executor registry, letting a host
// register additional step types.
func WithRegistry(r *Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithWorkflowRegistry supplies the process-wide map of sub-workflows the
// workflow step can look up by id.
func WithWorkflowRegistry(workflows map[string]*WorkflowDef) Option {
	return func(e *Engine) { e.workflows = workflows }
}

// WithTracer overrides the OpenTelemetry tracer used for per-run and
// per-step spans. Defaults to the global tracer provider.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithLogger overrides the structured logger the Engine uses for step and
// execution lifecycle events. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithEventSink registers a sink that receives workflow.* and step.*
// lifecycle Events, letting a Stream runner observe an Engine it didn't
// construct. See also SetEventSink for wiring one onto an already-built
// Engine.
func WithEventSink(sink EventSink) Option {
	return func(e *Engine) { e.events = sink }
}

// SetEventSink installs sink on an already-constructed Engine, replacing
// any previous one. A Stream runner calls this to start observing an
// Engine handed to it after NewEngine.
func (e *Engine) SetEventSink(sink EventSink) {
	e.events = sink
}

func (e *Engine) emit(evt Event) {
	if e.events == nil {
		return
	}
	evt.Timestamp = time.Now().UTC()
	e.events.Emit(evt)
}

// NewEngine constructs an Engine. A Store must be supplied via WithStore;
// everything else has a usable default.
func NewEngine(opts ...Option) (*Engine, error) {
	e := &Engine{
		registry:   NewRegistry(),
		workflows:  make(map[string]*WorkflowDef),
		predicates: expression.NewPredicateEvaluator(),
		tracer:     otel.Tracer("github.com/stepflow/engine/pkg/workflow"),
		logger:     slog.Default(),
		newID:      func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.store == nil {
		return nil, &engineerrors.ConfigError{Reason: "no store configured"}
	}
	return e, nil
}

// Run starts a new execution of def with the given input, optionally
// pinned to executionID (a fresh UUID is generated when empty).
func (e *Engine) Run(ctx context.Context, def *WorkflowDef, input map[string]any, executionID string) (ExecutionResult, error) {
	if executionID == "" {
		executionID = e.newID()
	}

	ctx, span := e.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("workflow.id", def.ID),
		attribute.String("execution.id", executionID),
	))
	defer span.End()

	first := def.FirstStep()
	if first == nil {
		return ExecutionResult{}, &engineerrors.ValidationError{Message: "workflow has no steps"}
	}

	now := time.Now().UTC()
	exec := &Execution{
		ID:          executionID,
		WorkflowID:  def.ID,
		Status:      StatusPending,
		Input:       input,
		Ctx:         map[string]any{},
		CurrentStep: first.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.store.Save(ctx, exec); err != nil {
		return ExecutionResult{}, err
	}
	e.emit(Event{Type: EventWorkflowStarted, ExecutionID: executionID, WorkflowID: def.ID})

	state := &State{
		ExecutionID: executionID,
		WorkflowID:  def.ID,
		Input:       input,
		Ctx:         map[string]any{},
		CurrentStep: first.ID,
	}

	if def.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(def.TimeoutSeconds*float64(time.Second)))
		defer cancel()
	}

	return e.loop(ctx, def, exec, state, first.ID)
}

// Resume re-enters a halted execution. If response is non-nil it is
// injected at ctx["response"]; if approved is non-nil (including false) it
// is injected at ctx["approved"].
func (e *Engine) Resume(ctx context.Context, def *WorkflowDef, executionID string, response any, approved *bool) (ExecutionResult, error) {
	exec, err := e.store.Load(ctx, executionID)
	if err != nil {
		return ExecutionResult{}, err
	}
	if exec == nil {
		return ExecutionResult{}, &engineerrors.ExecutionError{Message: fmt.Sprintf("execution not found: %s", executionID)}
	}

	if exec.Status == StatusCompleted || exec.Status == StatusFailed {
		return terminalResult(exec), nil
	}

	ctx, span := e.tracer.Start(ctx, "workflow.resume", trace.WithAttributes(
		attribute.String("workflow.id", def.ID),
		attribute.String("execution.id", executionID),
	))
	defer span.End()

	ctxVars := make(map[string]any, len(exec.Ctx)+2)
	for k, v := range exec.Ctx {
		ctxVars[k] = v
	}
	if response != nil {
		ctxVars["response"] = response
	}
	if approved != nil {
		ctxVars["approved"] = *approved
	}

	startAt := exec.RecoverTo
	if startAt == "" {
		startAt = exec.CurrentStep
	}

	state := &State{
		ExecutionID: executionID,
		WorkflowID:  def.ID,
		Input:       exec.Input,
		Ctx:         ctxVars,
		CurrentStep: startAt,
	}

	exec.Status = StatusRunning
	exec.RecoverTo = ""
	exec.HaltData = nil
	if err := e.store.Save(ctx, exec); err != nil {
		return ExecutionResult{}, err
	}
	e.emit(Event{Type: EventWorkflowResumed, ExecutionID: executionID, WorkflowID: def.ID, StepID: startAt})

	return e.loop(ctx, def, exec, state, startAt)
}

// finalResult derives the completed execution's Result from ctx. An end
// step that resolved an output owns ctx["result"]; without one, the
// result is the user-visible ctx — everything except the frozen input
// mirror and the engine's "_"-prefixed bookkeeping keys.
func finalResult(ctx map[string]any) map[string]any {
	if v, ok := ctx["result"]; ok {
		if m, ok := v.(map[string]any); ok {
			return m
		}
		return map[string]any{"result": v}
	}

	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		if k == "input" || strings.HasPrefix(k, "_") {
			continue
		}
		out[k] = v
	}
	return out
}

func terminalResult(exec *Execution) ExecutionResult {
	return ExecutionResult{
		ExecutionID: exec.ID,
		Status:      exec.Status,
		Result:      exec.Result,
		Error:       exec.Error,
	}
}

// loop drives the interpreter from startStep until a terminal or halted
// outcome, persisting the Execution after every step.
func (e *Engine) loop(ctx context.Context, def *WorkflowDef, exec *Execution, state *State, startStep string) (ExecutionResult, error) {
	currentStepID := startStep
	runLogger := internallog.WithExecutionContext(e.logger, exec.ID, def.ID)

	for {
		select {
		case <-ctx.Done():
			exec.Status = StatusFailed
			exec.Error = fmt.Sprintf("Workflow timeout after %gs", def.TimeoutSeconds)
			runLogger.Warn("workflow timed out", "timeout_seconds", def.TimeoutSeconds, "step_id", currentStepID)
			_ = e.store.Save(context.Background(), exec)
			e.emit(Event{Type: EventWorkflowFailed, ExecutionID: exec.ID, WorkflowID: def.ID, Error: exec.Error})
			return ExecutionResult{}, &engineerrors.ExecutionError{Message: exec.Error}
		default:
		}

		state = state.WithCurrentStep(currentStepID)
		exec.Status = StatusRunning
		exec.CurrentStep = currentStepID
		exec.Ctx = state.Ctx
		if err := e.store.Save(ctx, exec); err != nil {
			return ExecutionResult{}, err
		}

		step, ok := def.Step(currentStepID)
		if !ok {
			err := &engineerrors.ExecutionError{Message: "Step not found"}
			exec.Status = StatusFailed
			exec.Error = err.Error()
			_ = e.store.Save(ctx, exec)
			return ExecutionResult{}, err
		}

		stepLogger := internallog.WithStepContext(runLogger, exec.ID, step.ID)
		stepLogger.Debug("executing step", "step_type", step.Type)

		e.emit(Event{Type: EventStepStarted, ExecutionID: exec.ID, WorkflowID: def.ID, StepID: step.ID, StepType: step.Type})

		outcome, stepErr, elapsed := e.invoke(ctx, step, state)

		if stepErr != nil {
			retryable := false
			errType := fmt.Sprintf("%T", stepErr)
			if classifier, ok := stepErr.(engineerrors.ErrorClassifier); ok {
				errType = classifier.ErrorType()
				retryable = classifier.IsRetryable()
			}
			stepLogger.Error("step failed", internallog.Error(stepErr), "error_type", errType, "retryable", retryable, slog.Int64(internallog.DurationKey, elapsed.Milliseconds()))

			e.record(ctx, exec.ID, step.ID, step.Type, ActionFailed, elapsed, state, nil, stepErr)
			e.emit(Event{Type: EventStepFailed, ExecutionID: exec.ID, WorkflowID: def.ID, StepID: step.ID, StepType: step.Type, Error: stepErr.Error()})

			if step.OnError != "" {
				state = state.WithCtx("_last_error", map[string]any{
					"step":    step.ID,
					"message": stepErr.Error(),
					"class":   fmt.Sprintf("%T", stepErr),
				})
				currentStepID = step.OnError
				continue
			}

			exec.Status = StatusFailed
			exec.Error = stepErr.Error()
			exec.Ctx = state.Ctx
			_ = e.store.Save(ctx, exec)
			runLogger.Error("workflow failed", "step_id", step.ID, internallog.Error(stepErr))
			e.emit(Event{Type: EventWorkflowFailed, ExecutionID: exec.ID, WorkflowID: def.ID, StepID: step.ID, Error: stepErr.Error()})
			return ExecutionResult{}, stepErr
		}

		state = outcome.State

		if outcome.Halt != nil {
			stepLogger.Info("step halted, execution suspended", "resume_step", outcome.Halt.ResumeStep)
			e.record(ctx, exec.ID, step.ID, step.Type, ActionHalted, elapsed, state, outcome.Halt.Data, nil)
			e.emit(Event{Type: EventStepHalted, ExecutionID: exec.ID, WorkflowID: def.ID, StepID: step.ID, StepType: step.Type, Data: outcome.Halt.Data})

			exec.Status = StatusHalted
			exec.Ctx = state.Ctx
			exec.RecoverTo = outcome.Halt.ResumeStep
			exec.HaltData = outcome.Halt.Data
			if err := e.store.Save(ctx, exec); err != nil {
				return ExecutionResult{}, err
			}
			e.emit(Event{Type: EventWorkflowHalted, ExecutionID: exec.ID, WorkflowID: def.ID, StepID: step.ID, Data: outcome.Halt.Data})
			return ExecutionResult{
				ExecutionID: exec.ID,
				Status:      StatusHalted,
				HaltData:    outcome.Halt.Data,
				RecoverTo:   outcome.Halt.ResumeStep,
			}, nil
		}

		stepLogger.Debug("step completed", slog.Int64(internallog.DurationKey, elapsed.Milliseconds()))
		e.record(ctx, exec.ID, step.ID, step.Type, ActionCompleted, elapsed, state, outcome.Continue.Output, nil)
		e.emit(Event{Type: EventStepCompleted, ExecutionID: exec.ID, WorkflowID: def.ID, StepID: step.ID, StepType: step.Type, Data: outcome.Continue.Output})

		next := outcome.Continue.NextStep
		if next == "" {
			next = step.Next
		}

		if next == Finished {
			result := finalResult(state.Ctx)
			runLogger.Info("workflow completed")
			exec.Status = StatusCompleted
			exec.Ctx = state.Ctx
			exec.Result = result
			if err := e.store.Save(ctx, exec); err != nil {
				return ExecutionResult{}, err
			}
			e.emit(Event{Type: EventWorkflowCompleted, ExecutionID: exec.ID, WorkflowID: def.ID, Data: result})
			return ExecutionResult{
				ExecutionID: exec.ID,
				Status:      StatusCompleted,
				Result:      result,
			}, nil
		}

		currentStepID = next
	}
}

// invoke builds the step's executor and calls it, timing the call.
func (e *Engine) invoke(ctx context.Context, step *StepDef, state *State) (StepOutcome, error, time.Duration) {
	start := time.Now()

	exec, ok := e.registry.Build(e, step.Type)
	if !ok {
		return StepOutcome{}, &engineerrors.ExecutionError{Step: step.ID, Message: fmt.Sprintf("unknown step type %q", step.Type)}, time.Since(start)
	}

	ctx, span := e.tracer.Start(ctx, "workflow.step", trace.WithAttributes(
		attribute.String("step.id", step.ID),
		attribute.String("step.type", step.Type),
	))
	outcome, err := exec.Call(ctx, step, state)
	span.End()

	return outcome, err, time.Since(start)
}

// runNested executes one step outside the main loop's entry bookkeeping,
// for use by loop/parallel/sub-workflow bodies that record their own
// composite-keyed Entries. It returns the raw outcome without touching
// exec or persisting anything; the caller is responsible for recording.
func (e *Engine) runNested(ctx context.Context, step *StepDef, state *State) (StepOutcome, error, time.Duration) {
	return e.invoke(ctx, step, state)
}

// record appends an Entry both to the in-memory State.History and to the
// Store, under stepID (which may be a composite "loop:inner" key for
// nested steps).
func (e *Engine) record(ctx context.Context, executionID, stepID, stepType string, action EntryAction, elapsed time.Duration, state *State, output map[string]any, errVal error) {
	entry := &Entry{
		ID:          e.newID(),
		ExecutionID: executionID,
		StepID:      stepID,
		StepType:    stepType,
		Action:      action,
		DurationMS:  elapsed.Milliseconds(),
		Input:       state.Input,
		Output:      output,
		Timestamp:   time.Now().UTC(),
	}
	if errVal != nil {
		entry.Error = errVal.Error()
	}

	state.History = append(state.History, entry)
	_ = e.store.Record(ctx, entry)
}
