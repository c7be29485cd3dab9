package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepflow/engine/pkg/workflow"
)

func TestStream_SubscribeReceivesWorkflowEvents(t *testing.T) {
	engine, err := workflow.NewEngine(workflow.WithStore(workflow.NewMemoryStore()))
	require.NoError(t, err)

	stream := NewStream(engine)
	ch, unsubscribe := stream.Subscribe(workflow.EventWorkflowStarted, workflow.EventWorkflowCompleted)
	defer unsubscribe()

	def := straightThroughWorkflow()
	_, err = stream.Run(context.Background(), def, map[string]any{}, "")
	require.NoError(t, err)

	var seen []workflow.EventType
	timeout := time.After(time.Second)
	for len(seen) < 2 {
		select {
		case evt := <-ch:
			seen = append(seen, evt.Type)
		case <-timeout:
			t.Fatalf("timed out waiting for events, got %v", seen)
		}
	}

	assert.Contains(t, seen, workflow.EventWorkflowStarted)
	assert.Contains(t, seen, workflow.EventWorkflowCompleted)
}

func TestStream_SubscribeFiltersByType(t *testing.T) {
	engine, err := workflow.NewEngine(workflow.WithStore(workflow.NewMemoryStore()))
	require.NoError(t, err)

	stream := NewStream(engine)
	ch, unsubscribe := stream.Subscribe(workflow.EventWorkflowCompleted)
	defer unsubscribe()

	def := straightThroughWorkflow()
	_, err = stream.Run(context.Background(), def, map[string]any{}, "")
	require.NoError(t, err)

	select {
	case evt := <-ch:
		assert.Equal(t, workflow.EventWorkflowCompleted, evt.Type)
	case <-time.After(time.Second):
		t.Fatal("expected a filtered workflow.completed event")
	}

	select {
	case evt, ok := <-ch:
		if ok {
			t.Fatalf("unexpected additional event delivered: %v", evt.Type)
		}
	default:
	}
}
