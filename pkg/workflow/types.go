// Package workflow implements a durable workflow engine: it interprets
// declarative workflow definitions as directed graphs of typed steps,
// persisting an Execution record after every step so that a workflow can be
// reloaded and resumed across process restarts, operator interventions, and
// human approvals.
package workflow

import "time"

// Finished is the reserved successor name meaning normal termination of a
// workflow. A StepDef.Next or any other step-target field set to Finished
// ends the run.
const Finished = "__FINISHED__"

// ReservedCtxKeys are ctx keys that user-authored assign steps must not
// write to. The engine and specific executors (halt, approval, error
// routing, loop, sub-workflow handoff) own these names exclusively.
var ReservedCtxKeys = map[string]bool{
	"result":             true,
	"response":           true,
	"approved":           true,
	"_last_error":        true,
	"_halt":              true,
	"_current_agent":     true,
	"_handoff_to":        true,
	"_guardrail_failure": true,
	"iteration":          true,
	"break_loop":         true,
}

// InputType enumerates the primitive types a workflow input may declare.
type InputType string

const (
	InputString  InputType = "string"
	InputInteger InputType = "integer"
	InputNumber  InputType = "number"
	InputBoolean InputType = "boolean"
	InputArray   InputType = "array"
	InputObject  InputType = "object"
)

// InputDef declares one named workflow input.
type InputDef struct {
	Name        string
	Type        InputType
	Required    bool
	Default     any
	Description string
}

// WorkflowDef is an immutable, parsed workflow: inputs, the ordered steps
// that form its graph, and opaque extension data the core treats as
// pass-through.
type WorkflowDef struct {
	ID             string
	Name           string
	Version        string
	Description    string
	TimeoutSeconds float64

	Inputs []InputDef
	Steps  []*StepDef

	// Extensions carries per-extension opaque data (e.g. agent or tool
	// definitions) that the engine never interprets.
	Extensions map[string]any

	// stepIndex maps step ID to its StepDef for O(1) lookup. Built once by
	// the parser/registry and not exposed.
	stepIndex map[string]*StepDef
}

// FirstStep returns the workflow's entry point, or nil if it has no steps.
func (w *WorkflowDef) FirstStep() *StepDef {
	if len(w.Steps) == 0 {
		return nil
	}
	return w.Steps[0]
}

// Step looks up a step by ID, building the lookup index lazily on first use.
func (w *WorkflowDef) Step(id string) (*StepDef, bool) {
	if w.stepIndex == nil {
		w.stepIndex = make(map[string]*StepDef, len(w.Steps))
		for _, s := range w.Steps {
			w.stepIndex[s.ID] = s
		}
	}
	s, ok := w.stepIndex[id]
	return s, ok
}

// StepDef is one node in a workflow graph.
type StepDef struct {
	ID   string
	Type string

	// Config is the type-specific configuration, one of the Config*
	// structs defined alongside each executor (ConfigEnd, ConfigAssign,
	// ConfigCall, ConfigRouter, ConfigLoop, ConfigParallel, ConfigHalt,
	// ConfigApproval, ConfigTransform, ConfigWorkflow). start carries the
	// workflow's InputDef list; a bare end may carry no config at all.
	Config any

	// Next names the successor step, or Finished. Empty means "no explicit
	// successor" (only valid for step types, like router or loop, that
	// compute their own successor).
	Next string

	// OnError names a step to route to when this step fails. Empty means
	// failures propagate.
	OnError string
}

// State is the immutable runtime variable environment carried between
// steps. Every executor receives one and returns a new one; nothing
// mutates a State in place.
type State struct {
	ExecutionID string
	WorkflowID  string

	// Input is frozen at run() and never mutated afterward.
	Input map[string]any

	// Ctx is the mutable variable namespace: user variables plus the
	// small set of engine-owned reserved keys.
	Ctx map[string]any

	CurrentStep string

	// History is the ordered list of Entries recorded so far in this
	// execution, available to the resolver under the "history" root.
	History []*Entry
}

// clone returns a shallow-but-independent copy of s: Ctx is copied one
// level deep so that a mutation made while building the next State never
// aliases the caller's map.
func (s *State) clone() *State {
	ctx := make(map[string]any, len(s.Ctx))
	for k, v := range s.Ctx {
		ctx[k] = v
	}
	return &State{
		ExecutionID: s.ExecutionID,
		WorkflowID:  s.WorkflowID,
		Input:       s.Input,
		Ctx:         ctx,
		CurrentStep: s.CurrentStep,
		History:     s.History,
	}
}

// WithCtx returns a copy of s with key set to value in Ctx.
func (s *State) WithCtx(key string, value any) *State {
	next := s.clone()
	next.Ctx[key] = value
	return next
}

// WithCtxMerged returns a copy of s with every key in updates applied to
// Ctx, in map-iteration order is not guaranteed by Go; callers needing
// ordered writes (assign) should call WithCtx repeatedly instead.
func (s *State) WithCtxMerged(updates map[string]any) *State {
	next := s.clone()
	for k, v := range updates {
		next.Ctx[k] = v
	}
	return next
}

// DeleteCtx returns a copy of s with the named keys removed from Ctx.
func (s *State) DeleteCtx(keys ...string) *State {
	next := s.clone()
	for _, k := range keys {
		delete(next.Ctx, k)
	}
	return next
}

// WithCurrentStep returns a copy of s with CurrentStep set.
func (s *State) WithCurrentStep(id string) *State {
	next := s.clone()
	next.CurrentStep = id
	return next
}

// Status is the lifecycle state of an Execution.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusHalted    Status = "halted"
	StatusFailed    Status = "failed"
)

// Execution is the durable persistence unit: everything the Store must
// preserve across process restarts to reload and resume a run.
type Execution struct {
	ID         string
	WorkflowID string
	Status     Status

	Input       map[string]any
	Ctx         map[string]any
	CurrentStep string

	// Result is the final output, set when Status == StatusCompleted.
	Result map[string]any

	// RecoverTo is the step a future Resume restarts at, set when
	// Status == StatusHalted.
	RecoverTo string

	// HaltData is the opaque payload the halting executor produced, set
	// when Status == StatusHalted.
	HaltData map[string]any

	// Error is the failure message, set when Status == StatusFailed.
	Error string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EntryAction classifies how a single step invocation ended.
type EntryAction string

const (
	ActionCompleted EntryAction = "completed"
	ActionHalted    EntryAction = "halted"
	ActionFailed    EntryAction = "failed"
)

// Entry is one append-only audit record for a single step invocation.
type Entry struct {
	ID          string
	ExecutionID string
	StepID      string
	StepType    string
	Action      EntryAction
	DurationMS  int64
	Input       map[string]any
	Output      map[string]any
	Error       string
	Timestamp   time.Time
}
