package research

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a task or batch id does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidState is returned for operations that are illegal in the record's
// current status, e.g. cancelling a terminal task.
var ErrInvalidState = errors.New("invalid state")

// ValidationError rejects a malformed request before any task is created.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ConfigurationError marks a wiring fault, such as a requested section with no
// registered agent. It fails the task immediately with no retries.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string { return "configuration error: " + e.Msg }

// IsConfiguration reports whether err is (or wraps) a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
