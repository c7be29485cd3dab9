package workflow

import (
	"fmt"
	"regexp"
	"strings"

	engineerrors "github.com/stepflow/engine/pkg/errors"
)

// embeddedRefPattern matches every $path occurrence in a string, the same
// grammar the resolver uses.
var embeddedRefPattern = regexp.MustCompile(`\$[A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*|\.\d+)*`)

// Validate runs every static check the engine requires before a workflow
// may be executed: unique step IDs, known step types, full reference
// resolution, variable reachability, schema-path compatibility, and
// graph reachability from the first step. It is total — every defect is
// collected, not just the first — and returns a single *ValidationError
// whose Message is a bulleted list when the workflow is invalid.
func Validate(def *WorkflowDef, registry *Registry) error {
	var problems []string

	problems = append(problems, checkUniqueIDs(def)...)
	problems = append(problems, checkKnownTypes(def, registry)...)
	problems = append(problems, checkReservedKeys(def)...)
	problems = append(problems, checkReferences(def)...)
	problems = append(problems, checkReachability(def)...)
	problems = append(problems, checkVariableReachability(def)...)
	problems = append(problems, checkSchemaPaths(def)...)

	if len(problems) == 0 {
		return nil
	}
	return &engineerrors.ValidationError{
		Message: "workflow failed validation:\n- " + strings.Join(problems, "\n- "),
	}
}

func checkUniqueIDs(def *WorkflowDef) []string {
	var problems []string
	seen := make(map[string]bool)
	for _, s := range def.Steps {
		if seen[s.ID] {
			problems = append(problems, fmt.Sprintf("duplicate step id %q", s.ID))
		}
		seen[s.ID] = true
	}
	return problems
}

func checkKnownTypes(def *WorkflowDef, registry *Registry) []string {
	var problems []string
	for _, s := range def.Steps {
		if !registry.Known(s.Type) {
			problems = append(problems, fmt.Sprintf("step %q has unknown type %q", s.ID, s.Type))
		}
	}
	return problems
}

// checkReservedKeys rejects user assign.set writes to engine-owned ctx
// names: anything in ReservedCtxKeys, or any "_"-prefixed key. Catching
// these at validation time means a bad document fails before any
// execution is attempted.
func checkReservedKeys(def *WorkflowDef) []string {
	var problems []string

	var checkStep func(id string, s *StepDef)
	checkStep = func(id string, s *StepDef) {
		switch cfg := s.Config.(type) {
		case *ConfigAssign:
			for _, e := range cfg.Set {
				if ReservedCtxKeys[e.Key] || strings.HasPrefix(e.Key, "_") {
					problems = append(problems, fmt.Sprintf("step %q: assign writes to reserved ctx key %q", id, e.Key))
				}
			}
		case *ConfigLoop:
			for _, inner := range cfg.Do {
				checkStep(id+"."+inner.ID, inner)
			}
		case *ConfigParallel:
			for _, b := range cfg.Branches {
				checkStep(id+"."+b.ID, b)
			}
		}
	}

	for _, s := range def.Steps {
		checkStep(s.ID, s)
	}
	return problems
}

// targetOK reports whether target names an existing step or Finished. An
// empty target is never itself an error here — emptiness is only
// meaningful in context (e.g. a router step with no routes and no
// default), which other checks catch.
func targetOK(def *WorkflowDef, target string) bool {
	if target == "" || target == Finished {
		return true
	}
	_, ok := def.Step(target)
	return ok
}

func checkReferences(def *WorkflowDef) []string {
	var problems []string

	check := func(stepID, field, target string) {
		if target != "" && !targetOK(def, target) {
			problems = append(problems, fmt.Sprintf("step %q: %s references unknown step %q", stepID, field, target))
		}
	}

	for _, s := range def.Steps {
		check(s.ID, "next", s.Next)
		check(s.ID, "on_error", s.OnError)

		switch cfg := s.Config.(type) {
		case *ConfigRouter:
			for i, r := range cfg.Routes {
				check(s.ID, fmt.Sprintf("routes[%d].then", i), r.Then)
			}
			check(s.ID, "default", cfg.Default)
		case *ConfigLoop:
			check(s.ID, "on_exhausted", cfg.OnExhausted)
			for _, inner := range cfg.Do {
				check(s.ID+"."+inner.ID, "next", inner.Next)
				check(s.ID+"."+inner.ID, "on_error", inner.OnError)
			}
		case *ConfigParallel:
			for _, b := range cfg.Branches {
				check(s.ID+"."+b.ID, "next", b.Next)
				check(s.ID+"."+b.ID, "on_error", b.OnError)
			}
		case *ConfigHalt:
			check(s.ID, "resume_step", cfg.ResumeStep)
		case *ConfigApproval:
			check(s.ID, "on_reject", cfg.OnReject)
			check(s.ID, "on_timeout", cfg.OnTimeout)
		case *ConfigWorkflow:
			// WorkflowID names a separately-registered workflow, not a
			// step in this one; nothing to check here.
		}
	}

	return problems
}

// successors returns every step ID s can forward control to, across every
// branching construct the step type supports.
func successors(s *StepDef) []string {
	var out []string
	if s.Next != "" {
		out = append(out, s.Next)
	}
	if s.OnError != "" {
		out = append(out, s.OnError)
	}

	switch cfg := s.Config.(type) {
	case *ConfigRouter:
		for _, r := range cfg.Routes {
			out = append(out, r.Then)
		}
		if cfg.Default != "" {
			out = append(out, cfg.Default)
		}
	case *ConfigLoop:
		if cfg.OnExhausted != "" {
			out = append(out, cfg.OnExhausted)
		}
	case *ConfigHalt:
		if cfg.ResumeStep != "" {
			out = append(out, cfg.ResumeStep)
		}
	case *ConfigApproval:
		if cfg.OnReject != "" {
			out = append(out, cfg.OnReject)
		}
		if cfg.OnTimeout != "" {
			out = append(out, cfg.OnTimeout)
		}
	}

	return out
}

func checkReachability(def *WorkflowDef) []string {
	first := def.FirstStep()
	if first == nil {
		return nil
	}

	visited := map[string]bool{first.ID: true}
	queue := []string{first.ID}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		step, ok := def.Step(id)
		if !ok {
			continue
		}
		for _, next := range successors(step) {
			if next == Finished || visited[next] {
				continue
			}
			visited[next] = true
			queue = append(queue, next)
		}
		if cfg, ok := step.Config.(*ConfigParallel); ok {
			for _, b := range cfg.Branches {
				if !visited[b.ID] {
					visited[b.ID] = true
				}
			}
		}
	}

	var problems []string
	for _, s := range def.Steps {
		if !visited[s.ID] {
			problems = append(problems, fmt.Sprintf("step %q is unreachable", s.ID))
		}
	}
	return problems
}

// availableRoots is always resolvable, independent of preceding steps:
// the resolver's fixed roots plus the ctx keys the engine itself injects
// (error routing, resume responses, approval decisions).
var availableRoots = map[string]bool{
	"input":       true,
	"now":         true,
	"history":     true,
	"_last_error": true,
	"response":    true,
	"approved":    true,
}

// checkVariableReachability performs a symbolic forward walk from the
// first step, accumulating the set of ctx keys any executed prefix could
// have assigned, and flags every $root.* reference whose root is never in
// that accumulating set. The walk is optimistic: it unions contributions
// across branches rather than intersecting, so a variable set by only one
// branch of a router is still considered available afterward.
func checkVariableReachability(def *WorkflowDef) []string {
	first := def.FirstStep()
	if first == nil {
		return nil
	}

	available := map[string]bool{}
	var problems []string
	visited := map[string]bool{}

	var walk func(id string)
	walk = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true

		step, ok := def.Step(id)
		if !ok {
			return
		}

		for _, ref := range collectRefs(step) {
			root := strings.SplitN(strings.TrimPrefix(ref, "$"), ".", 2)[0]
			if availableRoots[root] || available[root] {
				continue
			}
			problems = append(problems, fmt.Sprintf("step %q references undefined variable %q", step.ID, ref))
		}

		widenAvailable(step, available)

		for _, next := range successors(step) {
			if next != Finished {
				walk(next)
			}
		}
	}

	walk(first.ID)
	return problems
}

// widenAvailable records every ctx key step could assign: assign's set
// keys, and any step's configured output key.
func widenAvailable(step *StepDef, available map[string]bool) {
	switch cfg := step.Config.(type) {
	case *ConfigAssign:
		for _, e := range cfg.Set {
			available[e.Key] = true
		}
	case *ConfigCall:
		if cfg.OutputKey != "" {
			available[cfg.OutputKey] = true
		} else {
			available[step.ID] = true
		}
	case *ConfigLoop:
		key := cfg.OutputKey
		if key == "" {
			key = "output"
		}
		available[key] = true
	case *ConfigParallel:
		key := cfg.Output
		if key == "" {
			key = "output"
		}
		available[key] = true
	case *ConfigTransform:
		key := cfg.OutputKey
		if key == "" {
			key = "output"
		}
		available[key] = true
	case *ConfigWorkflow:
		key := cfg.OutputKey
		if key == "" {
			key = "output"
		}
		available[key] = true
	case *ConfigHalt:
		// halt contributes no ctx keys reachable by later steps in this
		// branch (the branch terminates here until resume).
	case *ConfigApproval:
		// nothing permanent; "approved"/"response" are reserved engine
		// keys, not user-visible assignable state.
	}
}

// collectRefs extracts every "$ident..." style reference appearing in a
// step's resolvable configuration fields, for the variable-reachability
// check. It is intentionally shallow (string leaves only) — nested
// literal structures are walked the same way the resolver walks them.
func collectRefs(step *StepDef) []string {
	var refs []string
	var walkValue func(v any)
	walkValue = func(v any) {
		switch val := v.(type) {
		case string:
			for _, ref := range extractRefs(val) {
				refs = append(refs, ref)
			}
		case map[string]any:
			for _, el := range val {
				walkValue(el)
			}
		case []any:
			for _, el := range val {
				walkValue(el)
			}
		}
	}

	switch cfg := step.Config.(type) {
	case *ConfigAssign:
		for _, e := range cfg.Set {
			walkValue(e.Value)
		}
	case *ConfigCall:
		walkValue(cfg.Input)
	case *ConfigRouter:
		for _, r := range cfg.Routes {
			if r.When != nil {
				refs = append(refs, "$"+r.When.Field)
				walkValue(r.When.Value)
			}
		}
	case *ConfigLoop:
		walkValue(cfg.Over)
	case *ConfigHalt:
		walkValue(cfg.Reason)
		walkValue(cfg.Data)
	case *ConfigApproval:
		walkValue(cfg.Prompt)
		walkValue(cfg.Context)
	case *ConfigTransform:
		walkValue(cfg.Input)
	case *ConfigWorkflow:
		walkValue(cfg.Input)
	case *ConfigEnd:
		walkValue(cfg.Output)
	}

	return refs
}

func extractRefs(s string) []string {
	var out []string
	for _, m := range embeddedRefPattern.FindAllString(s, -1) {
		out = append(out, m)
	}
	return out
}

func checkSchemaPaths(def *WorkflowDef) []string {
	// The call executor's schema-path compatibility: later references
	// that dig into a call step's declared output schema are checked
	// against the schema's "properties" keys. Collect {stepOutputKey:
	// schema} pairs, then re-walk every step's refs for a matching dotted
	// path.
	schemas := make(map[string]map[string]any)
	for _, s := range def.Steps {
		cfg, ok := s.Config.(*ConfigCall)
		if !ok || cfg.OutputSchema == nil {
			continue
		}
		key := cfg.OutputKey
		if key == "" {
			key = s.ID
		}
		schemas[key] = cfg.OutputSchema
	}
	if len(schemas) == 0 {
		return nil
	}

	var problems []string
	for _, s := range def.Steps {
		for _, ref := range collectRefs(s) {
			path := strings.Split(strings.TrimPrefix(ref, "$"), ".")
			if len(path) < 2 {
				continue
			}
			schema, ok := schemas[path[0]]
			if !ok {
				continue
			}
			props, _ := schema["properties"].(map[string]any)
			if props == nil {
				continue
			}
			if _, ok := props[path[1]]; !ok {
				available := make([]string, 0, len(props))
				for k := range props {
					available = append(available, k)
				}
				problems = append(problems, fmt.Sprintf(
					"step %q: %q is not a declared property of %q's output schema (available: %s)",
					s.ID, path[1], path[0], strings.Join(available, ", ")))
			}
		}
	}
	return problems
}
