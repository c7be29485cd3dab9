package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func approvalWorkflowWithHandlers(cfg *ConfigApproval) *WorkflowDef {
	return &WorkflowDef{
		ID:      "gated",
		Name:    "gated",
		Version: "1",
		Steps: []*StepDef{
			{ID: "start", Type: "start", Config: []InputDef{}, Next: "gate"},
			{ID: "gate", Type: "approval", Config: cfg, Next: "accepted"},
			{ID: "accepted", Type: "end", Config: &ConfigEnd{Output: map[string]any{"outcome": "accepted"}}},
			{ID: "declined", Type: "end", Config: &ConfigEnd{Output: map[string]any{"outcome": "declined"}}},
			{ID: "expired", Type: "end", Config: &ConfigEnd{Output: map[string]any{"outcome": "expired"}}},
		},
	}
}

func TestApproval_FirstEntryHaltsWithPromptAndContext(t *testing.T) {
	engine, err := NewEngine(WithStore(NewMemoryStore()))
	require.NoError(t, err)

	def := approvalWorkflowWithHandlers(&ConfigApproval{
		Prompt:    "release the order?",
		Context:   map[string]any{"order_id": "o-1"},
		Approvers: []string{"ops"},
	})

	result, err := engine.Run(context.Background(), def, map[string]any{}, "")
	require.NoError(t, err)
	require.Equal(t, StatusHalted, result.Status)
	assert.Equal(t, "gate", result.RecoverTo)
	assert.Equal(t, "approval", result.HaltData["type"])
	assert.Equal(t, "release the order?", result.HaltData["prompt"])
	assert.NotEmpty(t, result.HaltData["requested_at"])
}

func TestApproval_ApprovedContinuesToNext(t *testing.T) {
	engine, err := NewEngine(WithStore(NewMemoryStore()))
	require.NoError(t, err)

	def := approvalWorkflowWithHandlers(&ConfigApproval{Prompt: "ok?", OnReject: "declined"})

	halted, err := engine.Run(context.Background(), def, map[string]any{}, "")
	require.NoError(t, err)
	require.Equal(t, StatusHalted, halted.Status)

	approved := true
	result, err := engine.Resume(context.Background(), def, halted.ExecutionID, nil, &approved)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, "accepted", result.Result["outcome"])
}

func TestApproval_RejectedRoutesToOnReject(t *testing.T) {
	engine, err := NewEngine(WithStore(NewMemoryStore()))
	require.NoError(t, err)

	def := approvalWorkflowWithHandlers(&ConfigApproval{Prompt: "ok?", OnReject: "declined"})

	halted, err := engine.Run(context.Background(), def, map[string]any{}, "")
	require.NoError(t, err)

	approved := false
	result, err := engine.Resume(context.Background(), def, halted.ExecutionID, nil, &approved)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, "declined", result.Result["outcome"])
}

func TestApproval_RejectedWithoutOnRejectFails(t *testing.T) {
	engine, err := NewEngine(WithStore(NewMemoryStore()))
	require.NoError(t, err)

	def := approvalWorkflowWithHandlers(&ConfigApproval{Prompt: "ok?"})

	halted, err := engine.Run(context.Background(), def, map[string]any{}, "")
	require.NoError(t, err)

	approved := false
	_, err = engine.Resume(context.Background(), def, halted.ExecutionID, nil, &approved)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Rejected")
}

func TestApproval_ExpiredRoutesToOnTimeout(t *testing.T) {
	engine, err := NewEngine(WithStore(NewMemoryStore()))
	require.NoError(t, err)

	def := approvalWorkflowWithHandlers(&ConfigApproval{
		Prompt:         "ok?",
		TimeoutSeconds: 0.01,
		OnTimeout:      "expired",
	})

	halted, err := engine.Run(context.Background(), def, map[string]any{}, "")
	require.NoError(t, err)

	time.Sleep(1100 * time.Millisecond)

	approved := true
	result, err := engine.Resume(context.Background(), def, halted.ExecutionID, nil, &approved)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, "expired", result.Result["outcome"])
}
