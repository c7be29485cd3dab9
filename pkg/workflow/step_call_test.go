package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepflow/engine/pkg/service"
)

func callWorkflow() *WorkflowDef {
	return &WorkflowDef{
		ID:      "lookup-account",
		Name:    "lookup-account",
		Version: "1",
		Steps: []*StepDef{
			{ID: "start", Type: "start", Config: []InputDef{{Name: "account_id", Type: InputString, Required: true}}, Next: "lookup"},
			{ID: "lookup", Type: "call", Config: &ConfigCall{
				Service:   "accounts",
				Method:    "get",
				Input:     map[string]any{"id": "$input.account_id"},
				OutputKey: "account",
			}, Next: "end"},
			{ID: "end", Type: "end"},
		},
	}
}

func TestCall_InvokesResolvedServiceAndStoresOutput(t *testing.T) {
	registry := service.NewRegistry()
	registry.Register("accounts", func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return map[string]any{"id": input["id"], "balance": 100.0}, nil
	})

	engine, err := NewEngine(WithStore(NewMemoryStore()), WithServiceResolver(registry))
	require.NoError(t, err)

	result, err := engine.Run(context.Background(), callWorkflow(), map[string]any{"account_id": "acct-1"}, "")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)

	account, ok := result.Result["account"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "acct-1", account["id"])
	assert.Equal(t, 100.0, account["balance"])
}

func TestCall_UnknownServiceFails(t *testing.T) {
	registry := service.NewRegistry()
	engine, err := NewEngine(WithStore(NewMemoryStore()), WithServiceResolver(registry))
	require.NoError(t, err)

	_, err = engine.Run(context.Background(), callWorkflow(), map[string]any{"account_id": "acct-1"}, "")
	assert.Error(t, err)
}

func TestCall_NoResolverConfiguredFails(t *testing.T) {
	engine, err := NewEngine(WithStore(NewMemoryStore()))
	require.NoError(t, err)

	_, err = engine.Run(context.Background(), callWorkflow(), map[string]any{"account_id": "acct-1"}, "")
	assert.Error(t, err)
}

func TestCall_RetriesThenSucceeds(t *testing.T) {
	attempts := 0
	registry := service.NewRegistry()
	registry.Register("accounts", func(ctx context.Context, input map[string]any) (map[string]any, error) {
		attempts++
		if attempts < 2 {
			return nil, assert.AnError
		}
		return map[string]any{"id": input["id"], "balance": 5.0}, nil
	})

	engine, err := NewEngine(WithStore(NewMemoryStore()), WithServiceResolver(registry))
	require.NoError(t, err)

	def := callWorkflow()
	def.Steps[1].Config.(*ConfigCall).Retries = 2

	result, err := engine.Run(context.Background(), def, map[string]any{"account_id": "acct-2"}, "")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 2, attempts)
}

func TestCall_OutputSchemaViolationFails(t *testing.T) {
	registry := service.NewRegistry()
	registry.Register("accounts", func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return map[string]any{"id": 12345}, nil
	})

	engine, err := NewEngine(WithStore(NewMemoryStore()), WithServiceResolver(registry))
	require.NoError(t, err)

	def := callWorkflow()
	def.Steps[1].Config.(*ConfigCall).OutputSchema = map[string]any{
		"type":       "object",
		"properties": map[string]any{"id": map[string]any{"type": "string"}},
	}

	_, err = engine.Run(context.Background(), def, map[string]any{"account_id": "acct-3"}, "")
	assert.Error(t, err)
}
