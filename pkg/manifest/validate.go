package manifest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrValidationFailed indicates the manifest failed validation.
var ErrValidationFailed = errors.New("manifest validation failed")

// ValidationError represents a single validation issue.
type ValidationError struct {
	// Path is the JSON pointer to the problematic field (e.g., "/inputs/includes").
	Path string

	// Message describes the validation failure.
	Message string
}

// Error implements error interface.
func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "manifest validation failed with %d errors:\n", len(e))
	for i, err := range e {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("  - ")
		b.WriteString(err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error type.
func (e ValidationErrors) Unwrap() error {
	return ErrValidationFailed
}

// Validate checks m and returns every problem found as ValidationErrors.
func Validate(m *Manifest) error {
	var errs ValidationErrors
	add := func(path, format string, args ...any) {
		errs = append(errs, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if m.Version != DefaultVersion {
		add("/version", "must be %q, got %q", DefaultVersion, m.Version)
	}
	if len(m.Inputs.Includes) == 0 && len(m.Inputs.Texts) == 0 {
		add("/inputs", "at least one include pattern or inline text is required")
	}
	for i, p := range m.Inputs.Includes {
		if strings.TrimSpace(p) == "" || !doublestar.ValidatePattern(p) {
			add(fmt.Sprintf("/inputs/includes/%d", i), "invalid glob pattern %q", p)
		}
	}
	for i, p := range m.Inputs.Excludes {
		if !doublestar.ValidatePattern(p) {
			add(fmt.Sprintf("/inputs/excludes/%d", i), "invalid glob pattern %q", p)
		}
	}
	if m.Iteration < 0 {
		add("/iteration", "must be >= 0, got %d", m.Iteration)
	}

	cfg := m.Clustering
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		add("/clustering", "%s", errors.Unwrap(err))
	}

	if d := m.Output.Destination; d != "" && d != "stdout" {
		if !strings.HasPrefix(d, "file:") || strings.TrimPrefix(d, "file:") == "" {
			add("/output/destination", "must be \"stdout\" or \"file:<path>\", got %q", d)
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}
