// Package errs defines the error taxonomy shared by the ingestion paths.
package errs

import (
    "errors"
    "fmt"
)

// ErrNotInitialized is returned when a broadcast is requested before the
// hub has been set up. Sequencing error; should not occur in steady state.
var ErrNotInitialized = errors.New("hub not initialized")

// ValidationError marks malformed or missing required input. 4xx-equivalent.
type ValidationError struct {
    Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func Validationf(format string, args ...any) error {
    return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ReferenceError marks a telemetry event pointing at a bus or stop that
// does not exist in the reference tables. 4xx-equivalent.
type ReferenceError struct {
    Entity string // "bus" or "parada"
    ID     string
}

func (e *ReferenceError) Error() string {
    return fmt.Sprintf("%s '%s' no existe", e.Entity, e.ID)
}

// ConflictError marks a genuine uniqueness conflict (duplicate reference
// ids). Dedup conflicts on msg_id are absorbed before reaching callers.
type ConflictError struct {
    Msg string
}

func (e *ConflictError) Error() string { return e.Msg }

// TransientError wraps infrastructure failures (database, broker) that are
// retryable and must not be surfaced to callers as data loss.
type TransientError struct {
    Op  string
    Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

func IsValidation(err error) bool {
    var v *ValidationError
    return errors.As(err, &v)
}

func IsReference(err error) bool {
    var r *ReferenceError
    return errors.As(err, &r)
}

func IsConflict(err error) bool {
    var c *ConflictError
    return errors.As(err, &c)
}
