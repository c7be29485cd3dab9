package expression

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRoots() Roots {
	return Roots{
		Input: map[string]any{
			"customer_id": "c-42",
			"amount":      150.0,
		},
		Ctx: map[string]any{
			"greeting": "hello",
			"order": map[string]any{
				"id":    "o-1",
				"items": []any{"widget", "gadget"},
			},
			"scores": []any{10.0, 20.0, 30.0},
		},
	}
}

func TestResolve_ValueWithoutReferencesIsIdentity(t *testing.T) {
	roots := testRoots()

	values := []any{
		"plain string",
		42,
		3.14,
		true,
		nil,
		[]any{"a", 1.0, map[string]any{"k": "v"}},
		map[string]any{"nested": []any{false}},
	}
	for _, v := range values {
		assert.Equal(t, v, Resolve(roots, v))
	}
}

func TestResolve_WholeReferencePreservesType(t *testing.T) {
	roots := testRoots()

	assert.Equal(t, 150.0, Resolve(roots, "$input.amount"))
	assert.Equal(t, []any{10.0, 20.0, 30.0}, Resolve(roots, "$scores"))
	assert.Equal(t, map[string]any{
		"id":    "o-1",
		"items": []any{"widget", "gadget"},
	}, Resolve(roots, "$order"))
}

func TestResolve_EmbeddedReferenceInterpolatesAsString(t *testing.T) {
	roots := testRoots()

	assert.Equal(t, "customer c-42 owes 150", Resolve(roots, "customer $input.customer_id owes $input.amount"))
	assert.Equal(t, "hello there", Resolve(roots, "$greeting there"))
}

func TestResolve_SequenceIndexTraversal(t *testing.T) {
	roots := testRoots()

	assert.Equal(t, "gadget", Resolve(roots, "$order.items.1"))
	assert.Nil(t, Resolve(roots, "$order.items.9"))
}

func TestResolve_MissingIntermediateIsNilNotError(t *testing.T) {
	roots := testRoots()

	assert.Nil(t, Resolve(roots, "$order.shipping.address"))
	assert.Nil(t, Resolve(roots, "$no_such_root"))
	assert.Nil(t, Resolve(roots, "$input.no_such_field"))
}

func TestResolve_MapsAndSequencesResolveRecursively(t *testing.T) {
	roots := testRoots()

	resolved := Resolve(roots, map[string]any{
		"who":   "$input.customer_id",
		"inner": []any{"$greeting", "literal"},
	})

	m, ok := resolved.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "c-42", m["who"])
	assert.Equal(t, []any{"hello", "literal"}, m["inner"])
}

func TestResolve_NowRootIsTimestamp(t *testing.T) {
	roots := testRoots()

	v := Resolve(roots, "$now")
	s, ok := v.(string)
	require.True(t, ok)
	_, err := time.Parse(time.RFC3339, s)
	assert.NoError(t, err)
}

func TestResolve_HistoryRoot(t *testing.T) {
	roots := testRoots()
	roots.History = []any{
		map[string]any{"step_id": "start", "action": "completed"},
	}

	assert.Equal(t, "start", Resolve(roots, "$history.0.step_id"))
}
