package workflow

import (
	"context"
	"sort"

	"github.com/stepflow/engine/pkg/workflow/expression"
)

// ConfigTransform is the transform step's configuration: an optional
// resolved input (the whole ctx is used when unset) run through an ordered
// pipeline of operator/argument pairs, stored at OutputKey.
type ConfigTransform struct {
	Input     any
	Pipeline  []TransformOp
	OutputKey string
}

// TransformOp is one "op: argument" step of a transform pipeline.
type TransformOp struct {
	Op  string
	Arg any
}

// transformExecutor applies a small collection-operator pipeline,
// left to right, each operator receiving the previous result.
type transformExecutor struct {
	predicates *expression.PredicateEvaluator
}

func newTransformExecutor(e *Engine) Executor {
	return &transformExecutor{predicates: e.predicates}
}

func (x *transformExecutor) Call(ctx context.Context, step *StepDef, state *State) (StepOutcome, error) {
	cfg, _ := step.Config.(*ConfigTransform)
	if cfg == nil {
		return StepOutcome{State: state, Continue: &ContinueResult{}}, nil
	}

	var current any
	if cfg.Input != nil {
		current = resolveValue(state, cfg.Input)
	} else {
		current = ctxAsAny(state.Ctx)
	}

	for _, op := range cfg.Pipeline {
		current = x.apply(state, op, current)
	}

	key := cfg.OutputKey
	if key == "" {
		key = "output"
	}
	next := state.WithCtx(key, current)
	return StepOutcome{State: next, Continue: &ContinueResult{}}, nil
}

func ctxAsAny(ctx map[string]any) any {
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		out[k] = v
	}
	return out
}

func (x *transformExecutor) apply(state *State, op TransformOp, value any) any {
	seq, isSeq := toSlice(value)

	switch op.Op {
	case "map":
		expr, ok := op.Arg.(string)
		if !ok || !isSeq {
			return value
		}
		out := make([]any, len(seq))
		for i, el := range seq {
			out[i] = x.evalElement(state, expr, el)
		}
		return out

	case "select":
		expr, ok := op.Arg.(string)
		if !ok || !isSeq {
			return value
		}
		out := make([]any, 0, len(seq))
		for _, el := range seq {
			if expression.Truthy(x.evalElement(state, expr, el)) {
				out = append(out, el)
			}
		}
		return out

	case "reject":
		expr, ok := op.Arg.(string)
		if !ok || !isSeq {
			return value
		}
		out := make([]any, 0, len(seq))
		for _, el := range seq {
			if !expression.Truthy(x.evalElement(state, expr, el)) {
				out = append(out, el)
			}
		}
		return out

	case "pluck":
		field, ok := op.Arg.(string)
		if !ok || !isSeq {
			return value
		}
		out := make([]any, len(seq))
		for i, el := range seq {
			out[i] = fieldOf(el, field)
		}
		return out

	case "first":
		if !isSeq || len(seq) == 0 {
			return nil
		}
		return seq[0]

	case "last":
		if !isSeq || len(seq) == 0 {
			return nil
		}
		return seq[len(seq)-1]

	case "flatten":
		if !isSeq {
			return value
		}
		out := make([]any, 0, len(seq))
		for _, el := range seq {
			if inner, ok := toSlice(el); ok {
				out = append(out, inner...)
			} else {
				out = append(out, el)
			}
		}
		return out

	case "compact":
		if !isSeq {
			return value
		}
		out := make([]any, 0, len(seq))
		for _, el := range seq {
			if el != nil {
				out = append(out, el)
			}
		}
		return out

	case "uniq":
		if !isSeq {
			return value
		}
		out := make([]any, 0, len(seq))
		seen := make(map[any]bool)
		for _, el := range seq {
			if key, hashable := asHashable(el); hashable {
				if seen[key] {
					continue
				}
				seen[key] = true
			}
			out = append(out, el)
		}
		return out

	case "reverse":
		if !isSeq {
			return value
		}
		out := make([]any, len(seq))
		for i, el := range seq {
			out[len(seq)-1-i] = el
		}
		return out

	case "sort":
		if !isSeq {
			return value
		}
		out := append([]any{}, seq...)
		sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
		return out

	case "count":
		if !isSeq {
			return 0
		}
		return len(seq)

	case "sum":
		if !isSeq {
			return 0.0
		}
		total := 0.0
		for _, el := range seq {
			if f, ok := toFloatForSum(el); ok {
				total += f
			}
		}
		return total

	case "keys":
		m, ok := value.(map[string]any)
		if !ok {
			return []any{}
		}
		out := make([]any, 0, len(m))
		for k := range m {
			out = append(out, k)
		}
		return out

	case "values":
		m, ok := value.(map[string]any)
		if !ok {
			return []any{}
		}
		out := make([]any, 0, len(m))
		for _, v := range m {
			out = append(out, v)
		}
		return out

	case "pick":
		m, ok := value.(map[string]any)
		fields, fok := toStringSlice(op.Arg)
		if !ok || !fok {
			return value
		}
		out := make(map[string]any, len(fields))
		for _, f := range fields {
			if v, present := m[f]; present {
				out[f] = v
			}
		}
		return out

	case "omit":
		m, ok := value.(map[string]any)
		fields, fok := toStringSlice(op.Arg)
		if !ok || !fok {
			return value
		}
		omit := make(map[string]bool, len(fields))
		for _, f := range fields {
			omit[f] = true
		}
		out := make(map[string]any, len(m))
		for k, v := range m {
			if !omit[k] {
				out[k] = v
			}
		}
		return out

	case "merge":
		m, ok := value.(map[string]any)
		other, _ := op.Arg.(map[string]any)
		if !ok {
			return value
		}
		out := make(map[string]any, len(m)+len(other))
		for k, v := range m {
			out[k] = v
		}
		for k, v := range other {
			out[k] = v
		}
		return out

	default:
		// Unknown operators are identity.
		return value
	}
}

func (x *transformExecutor) evalElement(state *State, expr string, el any) any {
	env := expression.ElementEnv(state.Input, state.Ctx, el)
	result, err := x.predicates.Eval(expr, env)
	if err != nil {
		return nil
	}
	return result
}

func toSlice(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}

func fieldOf(v any, field string) any {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return m[field]
}

func asHashable(v any) (any, bool) {
	switch v.(type) {
	case string, bool, int, int64, float64:
		return v, true
	default:
		return nil, false
	}
}

func less(a, b any) bool {
	af, aok := toFloatForSum(a)
	bf, bok := toFloatForSum(b)
	if aok && bok {
		return af < bf
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as < bs
	}
	return false
}

func toFloatForSum(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func toStringSlice(v any) ([]string, bool) {
	switch arr := v.(type) {
	case []string:
		return arr, true
	case []any:
		out := make([]string, 0, len(arr))
		for _, el := range arr {
			s, ok := el.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}
