package expression

// PredicateEnv builds the environment an expr-lang predicate evaluates
// against: the execution's frozen input under "input" and the variable
// namespace under "ctx". The maps are shared, not copied — predicate
// evaluation never writes to its environment.
func PredicateEnv(input, ctx map[string]any) map[string]any {
	env := make(map[string]any, 2)
	if input != nil {
		env["input"] = input
	} else {
		env["input"] = map[string]any{}
	}
	if ctx != nil {
		env["ctx"] = ctx
	} else {
		env["ctx"] = map[string]any{}
	}
	return env
}

// ElementEnv extends PredicateEnv with one sequence element bound at
// "item", for per-element pipeline expressions (map/select/reject).
func ElementEnv(input, ctx map[string]any, item any) map[string]any {
	env := PredicateEnv(input, ctx)
	env["item"] = item
	return env
}
