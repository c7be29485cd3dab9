package expression

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate_Operators(t *testing.T) {
	roots := Roots{Input: map[string]any{
		"amount": 42.0,
		"tier":   "gold",
		"tags":   []any{"vip", "priority"},
		"name":   "",
	}}

	tests := []struct {
		name string
		c    *Condition
		want bool
	}{
		{"eq match", &Condition{Field: "input.tier", Op: "eq", Value: "gold"}, true},
		{"eq mismatch", &Condition{Field: "input.tier", Op: "eq", Value: "silver"}, false},
		{"neq", &Condition{Field: "input.tier", Op: "neq", Value: "silver"}, true},
		{"gt true", &Condition{Field: "input.amount", Op: "gt", Value: 10}, true},
		{"gt false", &Condition{Field: "input.amount", Op: "gt", Value: 100}, false},
		{"gte equal", &Condition{Field: "input.amount", Op: "gte", Value: 42}, true},
		{"lt", &Condition{Field: "input.amount", Op: "lt", Value: 100}, true},
		{"lte", &Condition{Field: "input.amount", Op: "lte", Value: 42}, true},
		{"contains string", &Condition{Field: "input.tier", Op: "contains", Value: "gol"}, true},
		{"contains slice", &Condition{Field: "input.tags", Op: "contains", Value: "vip"}, true},
		{"contains slice miss", &Condition{Field: "input.tags", Op: "contains", Value: "nope"}, false},
		{"starts_with", &Condition{Field: "input.tier", Op: "starts_with", Value: "go"}, true},
		{"ends_with", &Condition{Field: "input.tier", Op: "ends_with", Value: "ld"}, true},
		{"matches", &Condition{Field: "input.tier", Op: "matches", Value: "^go.d$"}, true},
		{"in match", &Condition{Field: "input.tier", Op: "in", Value: []any{"gold", "platinum"}}, true},
		{"not_in", &Condition{Field: "input.tier", Op: "not_in", Value: []any{"silver", "bronze"}}, true},
		{"exists true", &Condition{Field: "input.tier", Op: "exists", Value: nil}, true},
		{"exists false", &Condition{Field: "input.missing", Op: "exists", Value: nil}, false},
		{"empty true", &Condition{Field: "input.name", Op: "empty", Value: nil}, true},
		{"empty false", &Condition{Field: "input.tier", Op: "empty", Value: nil}, false},
		{"truthy", &Condition{Field: "input.tier", Op: "truthy", Value: nil}, true},
		{"falsy", &Condition{Field: "input.name", Op: "falsy", Value: nil}, true},
		{"unknown op is false", &Condition{Field: "input.tier", Op: "frobnicate", Value: "gold"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(roots, tt.c))
		})
	}
}

func TestFindRoute_ReturnsFirstMatchOrNil(t *testing.T) {
	roots := Roots{Input: map[string]any{"tier": "silver"}}
	routes := []*Route{
		{When: &Condition{Field: "input.tier", Op: "eq", Value: "gold"}, Then: "gold_path"},
		{When: &Condition{Field: "input.tier", Op: "eq", Value: "silver"}, Then: "silver_path"},
		{When: &Condition{Field: "input.tier", Op: "eq", Value: "silver"}, Then: "unreachable_duplicate"},
	}

	route := FindRoute(roots, routes)
	if assert.NotNil(t, route) {
		assert.Equal(t, "silver_path", route.Then)
	}
}

func TestFindRoute_NoMatchReturnsNil(t *testing.T) {
	roots := Roots{Input: map[string]any{"tier": "bronze"}}
	routes := []*Route{
		{When: &Condition{Field: "input.tier", Op: "eq", Value: "gold"}, Then: "gold_path"},
	}
	assert.Nil(t, FindRoute(roots, routes))
}

func TestTruthy(t *testing.T) {
	assert.False(t, Truthy(nil))
	assert.False(t, Truthy(false))
	assert.False(t, Truthy(""))
	assert.False(t, Truthy(0.0))
	assert.False(t, Truthy([]any{}))
	assert.True(t, Truthy(true))
	assert.True(t, Truthy("hi"))
	assert.True(t, Truthy(1.0))
	assert.True(t, Truthy([]any{1}))
}
