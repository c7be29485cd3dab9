package expression

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// PredicateEvaluator compiles and caches expr-lang boolean expressions, used
// by the loop step's while condition and by the transform step's
// select/reject pipeline operators — extension points the fixed Condition
// Evaluator deliberately does not cover.
type PredicateEvaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewPredicateEvaluator returns a ready-to-use evaluator with an empty
// compile cache.
func NewPredicateEvaluator() *PredicateEvaluator {
	return &PredicateEvaluator{cache: make(map[string]*vm.Program)}
}

// EvalBool compiles (or reuses a cached compilation of) expression and runs
// it against env, coercing the result to bool. Undefined variables resolve
// to nil rather than failing compilation, matching the resolver's
// missing-path-is-nil behaviour.
func (p *PredicateEvaluator) EvalBool(expression string, env map[string]any) (bool, error) {
	program, err := p.compile(expression)
	if err != nil {
		return false, fmt.Errorf("compiling expression %q: %w", expression, err)
	}

	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("evaluating expression %q: %w", expression, err)
	}

	return Truthy(out), nil
}

// Eval compiles and runs expression against env without a boolean
// coercion, for the transform pipeline's predicate-taking operators that
// need the raw result (e.g. map's element expression).
func (p *PredicateEvaluator) Eval(expression string, env map[string]any) (any, error) {
	program, err := p.compile(expression)
	if err != nil {
		return nil, fmt.Errorf("compiling expression %q: %w", expression, err)
	}
	return expr.Run(program, env)
}

func (p *PredicateEvaluator) compile(expression string) (*vm.Program, error) {
	p.mu.RLock()
	if prog, ok := p.cache[expression]; ok {
		p.mu.RUnlock()
		return prog, nil
	}
	p.mu.RUnlock()

	prog, err := expr.Compile(
		expression,
		expr.AllowUndefinedVariables(),
		expr.Function("contains", containsFunc),
		expr.Function("len", lenFunc),
	)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.cache[expression] = prog
	p.mu.Unlock()

	return prog, nil
}
