package master

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when every lookup step came back empty.
var ErrNotFound = errors.New("master record not found")

// ValidationError is a caller mistake. Allowed lists the valid values when
// the field is an enumeration.
type ValidationError struct {
	Field   string   `json:"field"`
	Message string   `json:"message"`
	Allowed []string `json:"allowed,omitempty"`
}

func (e *ValidationError) Error() string {
	if len(e.Allowed) > 0 {
		return fmt.Sprintf("%s: %s (allowed: %s)", e.Field, e.Message, strings.Join(e.Allowed, ", "))
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalidValue(field, got string, allowed []string) error {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("invalid value %q", got),
		Allowed: allowed,
	}
}

func required(field string) error {
	return &ValidationError{Field: field, Message: "is required"}
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
