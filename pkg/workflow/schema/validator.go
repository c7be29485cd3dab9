// Package schema validates step outputs against a declared JSON Schema
// (a draft-7 subset) before they are stored into ctx.
package schema

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// Validator checks a value against a JSON-schema-shaped map. The call
// executor runs one of these over a service result whenever the step's
// output declares a schema.
type Validator interface {
	Validate(schema map[string]any, data any) error
}

// NewValidator returns the built-in keyword validator. Supported
// keywords: type, properties, required, items, enum, pattern,
// minimum/maximum, minLength/maxLength. Unknown keywords are ignored,
// and properties not named by the schema pass through unchecked.
func NewValidator() Validator {
	return keywordValidator{}
}

type keywordValidator struct{}

func (v keywordValidator) Validate(schema map[string]any, data any) error {
	return v.check(schema, data, "$")
}

func (v keywordValidator) check(schema map[string]any, data any, path string) error {
	typeName, hasType := schema["type"].(string)
	if hasType {
		if err := checkType(typeName, data, path); err != nil {
			return err
		}
	}

	if enum, ok := schema["enum"].([]any); ok {
		if err := checkEnum(enum, data, path); err != nil {
			return err
		}
	}

	switch value := data.(type) {
	case map[string]any:
		return v.checkObject(schema, value, path)
	case []any:
		return v.checkArray(schema, value, path)
	case string:
		return checkString(schema, value, path)
	default:
		if f, ok := asNumber(data); ok {
			return checkBounds(schema, f, path)
		}
	}
	return nil
}

func checkType(typeName string, data any, path string) error {
	switch typeName {
	case "object":
		if _, ok := data.(map[string]any); !ok {
			return violation(path, "type", "expected object, got %T", data)
		}
	case "array":
		if _, ok := data.([]any); !ok {
			return violation(path, "type", "expected array, got %T", data)
		}
	case "string":
		if _, ok := data.(string); !ok {
			return violation(path, "type", "expected string, got %T", data)
		}
	case "boolean":
		if _, ok := data.(bool); !ok {
			return violation(path, "type", "expected boolean, got %T", data)
		}
	case "number":
		if _, ok := asNumber(data); !ok {
			return violation(path, "type", "expected number, got %T", data)
		}
	case "integer":
		f, ok := asNumber(data)
		if !ok {
			return violation(path, "type", "expected integer, got %T", data)
		}
		if f != float64(int64(f)) {
			return violation(path, "type", "expected integer, got %v", data)
		}
	default:
		return fmt.Errorf("schema: unsupported type %q at %s", typeName, path)
	}
	return nil
}

func (v keywordValidator) checkObject(schema map[string]any, obj map[string]any, path string) error {
	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			name, ok := r.(string)
			if !ok {
				continue
			}
			if _, present := obj[name]; !present {
				return violation(path, "required", "missing required field: %s", name)
			}
		}
	}

	props, _ := schema["properties"].(map[string]any)
	for name, value := range obj {
		propSchema, ok := props[name].(map[string]any)
		if !ok {
			continue
		}
		if err := v.check(propSchema, value, path+"."+name); err != nil {
			return err
		}
	}
	return nil
}

func (v keywordValidator) checkArray(schema map[string]any, arr []any, path string) error {
	items, ok := schema["items"].(map[string]any)
	if !ok {
		return nil
	}
	for i, el := range arr {
		if err := v.check(items, el, fmt.Sprintf("%s[%d]", path, i)); err != nil {
			return err
		}
	}
	return nil
}

func checkString(schema map[string]any, str string, path string) error {
	if min, ok := asNumber(schema["minLength"]); ok && len(str) < int(min) {
		return violation(path, "minLength", "string shorter than %d", int(min))
	}
	if max, ok := asNumber(schema["maxLength"]); ok && len(str) > int(max) {
		return violation(path, "maxLength", "string longer than %d", int(max))
	}
	if pattern, ok := schema["pattern"].(string); ok {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("schema: invalid pattern %q at %s: %w", pattern, path, err)
		}
		if !re.MatchString(str) {
			return violation(path, "pattern", "value %q does not match %q", str, pattern)
		}
	}
	return nil
}

func checkBounds(schema map[string]any, f float64, path string) error {
	if min, ok := asNumber(schema["minimum"]); ok && f < min {
		return violation(path, "minimum", "%v is below minimum %v", f, min)
	}
	if max, ok := asNumber(schema["maximum"]); ok && f > max {
		return violation(path, "maximum", "%v is above maximum %v", f, max)
	}
	return nil
}

func checkEnum(enum []any, data any, path string) error {
	for _, allowed := range enum {
		if allowed == data {
			return nil
		}
		af, aok := asNumber(allowed)
		df, dok := asNumber(data)
		if aok && dok && af == df {
			return nil
		}
	}
	allowedJSON, _ := json.Marshal(enum)
	return violation(path, "enum", "value %v not in allowed values: %s", data, allowedJSON)
}

func asNumber(v any) (float64, bool) {
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
