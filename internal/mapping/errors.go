package mapping

import (
	"errors"
	"fmt"
)

// ErrConfigShape indicates a configuration that is missing a required
// sub-field or violates a rule-set invariant. It is fatal to a submission.
var ErrConfigShape = errors.New("invalid mapping configuration")

// ShapeError describes one configuration shape problem.
type ShapeError struct {
	Rule      int    // index in the rule list, -1 for top-level settings
	FieldCode string // rule field code when known
	Field     string // offending attribute, e.g. "mapFromUntil"
	Reason    string
}

func (e *ShapeError) Error() string {
	if e.Rule < 0 {
		return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
	}
	if e.FieldCode != "" {
		return fmt.Sprintf("rule %d (%s) %s: %s", e.Rule, e.FieldCode, e.Field, e.Reason)
	}
	return fmt.Sprintf("rule %d %s: %s", e.Rule, e.Field, e.Reason)
}

func (e *ShapeError) Unwrap() error {
	return ErrConfigShape
}

func topLevelError(field, reason string) *ShapeError {
	return &ShapeError{Rule: -1, Field: field, Reason: reason}
}
