package expression

import (
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

// Condition is a single {field, op, value} predicate, as used by router
// routes.
type Condition struct {
	Field string
	Op    string
	Value any
}

// Route pairs a Condition with its target step.
type Route struct {
	When *Condition
	Then string
}

// predicate is a binary operator on (actual, expected).
type predicate func(actual, expected any) bool

// operators is the fixed table backing the Condition Evaluator. It is
// deliberately closed: the engine never evaluates a general-purpose
// expression for routing decisions, only one of these named predicates, so
// routing stays deterministic and auditable.
var operators = map[string]predicate{
	"eq":          opEq,
	"neq":         func(a, e any) bool { return !opEq(a, e) },
	"gt":          func(a, e any) bool { return numCompare(a, e, func(x, y float64) bool { return x > y }) },
	"gte":         func(a, e any) bool { return numCompare(a, e, func(x, y float64) bool { return x >= y }) },
	"lt":          func(a, e any) bool { return numCompare(a, e, func(x, y float64) bool { return x < y }) },
	"lte":         func(a, e any) bool { return numCompare(a, e, func(x, y float64) bool { return x <= y }) },
	"contains":    opContains,
	"starts_with": opStartsWith,
	"ends_with":   opEndsWith,
	"matches":     opMatches,
	"in":          opIn,
	"not_in":      func(a, e any) bool { return !opIn(a, e) },
	"exists":      func(a, _ any) bool { return a != nil },
	"empty":       opEmpty,
	"truthy":      func(a, _ any) bool { return Truthy(a) },
	"falsy":       func(a, _ any) bool { return !Truthy(a) },
}

// Evaluate resolves field and value against roots, then applies the named
// operator. An unknown field (resolves to nil) or any resolution failure
// yields false rather than an error — conditions never throw.
func Evaluate(roots Roots, c *Condition) bool {
	op, ok := operators[c.Op]
	if !ok {
		return false
	}
	actual := lookup(roots, c.Field)
	expected := Resolve(roots, c.Value)
	return op(actual, expected)
}

// FindRoute returns the first route in routes whose condition matches, or
// nil if none do.
func FindRoute(roots Roots, routes []*Route) *Route {
	for _, r := range routes {
		if Evaluate(roots, r.When) {
			return r
		}
	}
	return nil
}

func opEq(a, e any) bool {
	if af, aok := toFloat(a); aok {
		if ef, eok := toFloat(e); eok {
			return af == ef
		}
	}
	return reflect.DeepEqual(a, e)
}

func numCompare(a, e any, cmp func(x, y float64) bool) bool {
	af, aok := toFloat(a)
	ef, eok := toFloat(e)
	if !aok || !eok {
		return false
	}
	return cmp(af, ef)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func opContains(a, e any) bool {
	if as, ok := asString(a); ok {
		if es, ok := asString(e); ok {
			return strings.Contains(as, es)
		}
		return false
	}
	rv := reflect.ValueOf(a)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if reflect.DeepEqual(rv.Index(i).Interface(), e) {
				return true
			}
		}
		return false
	case reflect.Map:
		if es, ok := asString(e); ok {
			v := rv.MapIndex(reflect.ValueOf(es))
			return v.IsValid()
		}
		return false
	default:
		return false
	}
}

func opStartsWith(a, e any) bool {
	as, aok := asString(a)
	es, eok := asString(e)
	if !aok || !eok {
		return false
	}
	return len(as) >= len(es) && as[:len(es)] == es
}

func opEndsWith(a, e any) bool {
	as, aok := asString(a)
	es, eok := asString(e)
	if !aok || !eok {
		return false
	}
	return len(as) >= len(es) && as[len(as)-len(es):] == es
}

func opMatches(a, e any) bool {
	as, aok := asString(a)
	es, eok := asString(e)
	if !aok || !eok {
		return false
	}
	re, err := regexp.Compile(es)
	if err != nil {
		return false
	}
	return re.MatchString(as)
}

func opIn(a, e any) bool {
	rv := reflect.ValueOf(e)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if opEq(a, rv.Index(i).Interface()) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func opEmpty(a, _ any) bool {
	if a == nil {
		return true
	}
	rv := reflect.ValueOf(a)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
		return rv.Len() == 0
	default:
		return false
	}
}

// Truthy implements the engine-wide notion of truthiness used by the
// truthy/falsy operators and by loop/transform predicates: nil, false,
// zero numbers, and empty strings/collections are falsy; everything else
// is truthy.
func Truthy(v any) bool {
	if v == nil {
		return false
	}
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val != ""
	case float64:
		return val != 0
	case int:
		return val != 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() > 0
	default:
		return true
	}
}
