package workflow

import (
	"fmt"

	"gopkg.in/yaml.v3"

	engineerrors "github.com/stepflow/engine/pkg/errors"
	"github.com/stepflow/engine/pkg/workflow/expression"
)

// Parse turns a serialized YAML workflow document into a WorkflowDef.
// This is the one seam the core treats as an external, pure function
// from text to a typed AST — nothing downstream depends on the
// document's textual shape, only on the resulting WorkflowDef.
func Parse(data []byte) (*WorkflowDef, error) {
	var raw rawDocument
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &engineerrors.ValidationError{Message: fmt.Sprintf("parsing workflow document: %v", err)}
	}

	def := &WorkflowDef{
		ID:             raw.ID,
		Name:           raw.Name,
		Version:        raw.Version,
		Description:    raw.Description,
		TimeoutSeconds: raw.TimeoutSeconds,
		Extensions:     raw.Extensions,
	}

	for _, ri := range raw.Inputs {
		def.Inputs = append(def.Inputs, InputDef{
			Name:        ri.Name,
			Type:        InputType(ri.Type),
			Required:    ri.Required,
			Default:     ri.Default,
			Description: ri.Description,
		})
	}

	for _, rs := range raw.Steps {
		step, err := rs.toStepDef()
		if err != nil {
			return nil, err
		}
		def.Steps = append(def.Steps, step)
	}

	// The start step's configuration is the workflow's own input
	// declarations, so it can validate/default them without the executor
	// needing a back-reference to the WorkflowDef.
	for _, s := range def.Steps {
		if s.Type == "start" {
			s.Config = def.Inputs
		}
	}

	return def, nil
}

type rawDocument struct {
	ID             string         `yaml:"id"`
	Name           string         `yaml:"name"`
	Version        string         `yaml:"version"`
	Description    string         `yaml:"description"`
	TimeoutSeconds float64        `yaml:"timeout"`
	Inputs         []rawInput     `yaml:"inputs"`
	Steps          []rawStep      `yaml:"steps"`
	Extensions     map[string]any `yaml:"extensions"`
}

type rawInput struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Required    bool   `yaml:"required"`
	Default     any    `yaml:"default"`
	Description string `yaml:"description"`
}

type rawStep struct {
	ID      string `yaml:"id"`
	Type    string `yaml:"type"`
	Next    string `yaml:"next"`
	OnError string `yaml:"on_error"`

	// assign
	Set orderedSet `yaml:"set"`

	// call
	Service        string         `yaml:"service"`
	Method         string         `yaml:"method"`
	Input          map[string]any `yaml:"input"`
	TimeoutSeconds float64        `yaml:"timeout_seconds"`
	Retries        int            `yaml:"retries"`
	RetryDelay     float64        `yaml:"retry_delay"`
	RetryBackoff   float64        `yaml:"retry_backoff"`
	Output         rawOutput      `yaml:"output"`

	// router
	Routes  []rawRoute `yaml:"routes"`
	Default string     `yaml:"default"`

	// loop
	Mode        string         `yaml:"mode"`
	Over        any            `yaml:"over"`
	As          string         `yaml:"as"`
	IndexAs     string         `yaml:"index_as"`
	While       string         `yaml:"while"`
	Max         int            `yaml:"max"`
	OnExhausted string         `yaml:"on_exhausted"`
	Do          []rawStep      `yaml:"do"`
	OutputKey   string         `yaml:"output_key"`

	// parallel
	Branches []rawStep `yaml:"branches"`
	Wait     string    `yaml:"wait"`

	// halt
	Reason     string         `yaml:"reason"`
	Data       map[string]any `yaml:"data"`
	ResumeStep string         `yaml:"resume_step"`

	// approval
	Prompt         string         `yaml:"prompt"`
	Context        map[string]any `yaml:"context"`
	Approvers      []string       `yaml:"approvers"`
	OnReject       string         `yaml:"on_reject"`
	OnTimeout      string         `yaml:"on_timeout"`

	// transform
	TransformInput any              `yaml:"input_value"`
	Expression     []rawTransformOp `yaml:"expression"`

	// workflow
	WorkflowID string `yaml:"workflow_id"`
}

type rawOutput struct {
	Key    string         `yaml:"key"`
	Schema map[string]any `yaml:"schema"`

	// Raw keeps the undecoded value for step types (end) whose output is
	// an arbitrary resolvable mapping rather than a key/schema pair.
	Raw any `yaml:"-"`
}

// UnmarshalYAML allows `output: key_name` as a shorthand for
// `output: {key: key_name}`, and retains the raw value for the end step.
func (o *rawOutput) UnmarshalYAML(node *yaml.Node) error {
	if err := node.Decode(&o.Raw); err != nil {
		return err
	}
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&o.Key)
	}
	type alias rawOutput
	return node.Decode((*alias)(o))
}

type rawRoute struct {
	When rawCondition `yaml:"when"`
	Then string       `yaml:"then"`
}

type rawCondition struct {
	Field string `yaml:"field"`
	Op    string `yaml:"op"`
	Value any    `yaml:"value"`
}

type rawTransformOp map[string]any

// orderedSet preserves the declaration order of an assign step's "set"
// mapping, which Go's default map decoding would otherwise discard.
type orderedSet []AssignEntry

func (o *orderedSet) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("set: expected a mapping, got %v", node.Kind)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		var key string
		if err := node.Content[i].Decode(&key); err != nil {
			return err
		}
		var value any
		if err := node.Content[i+1].Decode(&value); err != nil {
			return err
		}
		*o = append(*o, AssignEntry{Key: key, Value: value})
	}
	return nil
}

func (rs rawStep) toStepDef() (*StepDef, error) {
	step := &StepDef{
		ID:      rs.ID,
		Type:    rs.Type,
		Next:    rs.Next,
		OnError: rs.OnError,
	}

	switch rs.Type {
	case "start":
		// start's Config is filled in by Parse from the workflow inputs.

	case "end":
		if rs.Output.Raw != nil {
			step.Config = &ConfigEnd{Output: rs.Output.Raw}
		}

	case "assign":
		step.Config = &ConfigAssign{Set: rs.Set}

	case "call":
		step.Config = &ConfigCall{
			Service:        rs.Service,
			Method:         rs.Method,
			Input:          rs.Input,
			TimeoutSeconds: rs.TimeoutSeconds,
			Retries:        rs.Retries,
			RetryDelay:     rs.RetryDelay,
			RetryBackoff:   rs.RetryBackoff,
			OutputKey:      rs.Output.Key,
			OutputSchema:   rs.Output.Schema,
		}

	case "router":
		routes := make([]*expression.Route, 0, len(rs.Routes))
		for _, r := range rs.Routes {
			routes = append(routes, &expression.Route{
				When: &expression.Condition{Field: r.When.Field, Op: r.When.Op, Value: r.When.Value},
				Then: r.Then,
			})
		}
		step.Config = &ConfigRouter{Routes: routes, Default: rs.Default}

	case "loop":
		body := make([]*StepDef, 0, len(rs.Do))
		for _, inner := range rs.Do {
			innerStep, err := inner.toStepDef()
			if err != nil {
				return nil, err
			}
			body = append(body, innerStep)
		}
		mode := LoopForeach
		if rs.Mode == string(LoopWhile) || rs.While != "" {
			mode = LoopWhile
		}
		step.Config = &ConfigLoop{
			Mode:        mode,
			Over:        rs.Over,
			As:          rs.As,
			IndexAs:     rs.IndexAs,
			While:       rs.While,
			Max:         rs.Max,
			OnExhausted: rs.OnExhausted,
			Do:          body,
			OutputKey:   rs.OutputKey,
		}

	case "parallel":
		branches := make([]*StepDef, 0, len(rs.Branches))
		for _, b := range rs.Branches {
			branchStep, err := b.toStepDef()
			if err != nil {
				return nil, err
			}
			branches = append(branches, branchStep)
		}
		step.Config = &ConfigParallel{Branches: branches, Wait: rs.Wait, Output: rs.OutputKey}

	case "halt":
		step.Config = &ConfigHalt{Reason: rs.Reason, Data: rs.Data, ResumeStep: rs.ResumeStep}

	case "approval":
		step.Config = &ConfigApproval{
			Prompt:         rs.Prompt,
			Context:        rs.Context,
			Approvers:      rs.Approvers,
			TimeoutSeconds: rs.TimeoutSeconds,
			OnReject:       rs.OnReject,
			OnTimeout:      rs.OnTimeout,
		}

	case "transform":
		pipeline := make([]TransformOp, 0, len(rs.Expression))
		for _, opMap := range rs.Expression {
			for k, v := range opMap {
				pipeline = append(pipeline, TransformOp{Op: k, Arg: v})
			}
		}
		step.Config = &ConfigTransform{Input: rs.TransformInput, Pipeline: pipeline, OutputKey: rs.OutputKey}

	case "workflow":
		step.Config = &ConfigWorkflow{WorkflowID: rs.WorkflowID, Input: rs.Input, OutputKey: rs.OutputKey}

	default:
		// Unknown step types are left with a nil Config; the validator's
		// known-step-type check reports them, the registry simply won't
		// have a factory for them.
	}

	return step, nil
}
