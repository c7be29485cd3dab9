package runner

import (
	"context"
	"sync"

	"github.com/stepflow/engine/pkg/workflow"
)

// Stream wraps an Engine with a fan-out event feed: every Run/Resume it
// drives publishes workflow.* and step.* Events to whichever subscribers
// asked for them. It installs itself as the Engine's EventSink, so an
// Engine already wired with WithEventSink should not also be wrapped in a
// Stream (the later SetEventSink wins).
type Stream struct {
	engine *workflow.Engine

	mu          sync.RWMutex
	subscribers map[int]*subscription
	nextID      int
}

type subscription struct {
	types map[workflow.EventType]bool
	ch    chan workflow.Event
}

// NewStream wraps engine and subscribes to its lifecycle Events.
func NewStream(engine *workflow.Engine) *Stream {
	s := &Stream{engine: engine, subscribers: make(map[int]*subscription)}
	engine.SetEventSink(s)
	return s
}

// Emit implements workflow.EventSink. It must not block: subscribers with
// a full channel silently miss the event rather than stall the step.
func (s *Stream) Emit(evt workflow.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subscribers {
		if len(sub.types) > 0 && !sub.types[evt.Type] {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
		}
	}
}

// Subscribe returns a channel of Events, optionally filtered to the given
// types (no types subscribes to everything). Call the returned function
// once done reading or the subscription's channel leaks.
func (s *Stream) Subscribe(types ...workflow.EventType) (<-chan workflow.Event, func()) {
	set := make(map[workflow.EventType]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	sub := &subscription{types: set, ch: make(chan workflow.Event, 64)}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subscribers[id] = sub
	s.mu.Unlock()

	return sub.ch, func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
		close(sub.ch)
	}
}

// Run drives a fresh execution through the wrapped Engine.
func (s *Stream) Run(ctx context.Context, def *workflow.WorkflowDef, input map[string]any, executionID string) (workflow.ExecutionResult, error) {
	return s.engine.Run(ctx, def, input, executionID)
}

// Resume re-enters a halted execution through the wrapped Engine.
func (s *Stream) Resume(ctx context.Context, def *workflow.WorkflowDef, executionID string, response any, approved *bool) (workflow.ExecutionResult, error) {
	return s.engine.Resume(ctx, def, executionID, response, approved)
}
