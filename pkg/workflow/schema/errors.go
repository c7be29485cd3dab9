package schema

import "fmt"

// ValidationError reports one schema violation: where it happened, which
// keyword failed, and why.
type ValidationError struct {
	// Path locates the failing value, e.g. "$.items[0].name".
	Path string

	// Keyword is the schema keyword that rejected it (type, required,
	// enum, pattern, minimum, ...).
	Keyword string

	Message string
}

func violation(path, keyword, format string, args ...any) *ValidationError {
	return &ValidationError{Path: path, Keyword: keyword, Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed at %s (%s): %s", e.Path, e.Keyword, e.Message)
}

// Is matches two ValidationErrors on location and keyword, so tests can
// assert which constraint fired without comparing message text.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	if !ok {
		return false
	}
	return e.Path == t.Path && e.Keyword == t.Keyword
}
