/*
errors.go - Error types for the procurement core

CATEGORIES:
  1. Validation   - malformed or incomplete payloads (ErrValidation)
  2. State        - the record was not in the state the operation requires
                    (ErrPreconditionFailed)
  3. Lookup       - referenced record does not exist (ErrNotFound)
  4. Arguments    - bad enum values or amounts (ErrInvalidArgument)
  5. Authority    - actor role or project scope disallows the call (ErrForbidden)

  Transport layers map these to status codes with errors.Is. Nothing in the
  core retries on ErrPreconditionFailed; the caller decides.

SEE ALSO:
  - api/handlers.go: HTTP status mapping
*/
package procurement

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned when a request payload fails sanitization.
	ErrValidation = errors.New("validation failed")

	// ErrPreconditionFailed is returned when a transition finds the record in
	// a state other than the one it expects. No mutation happens.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrNotFound is returned when a request or project doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument is returned for unknown cost types or bad amounts.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrForbidden is returned when the actor may not perform the operation.
	ErrForbidden = errors.New("forbidden")

	// ErrDuplicateProject is returned when a project number is already taken.
	ErrDuplicateProject = errors.New("project already exists")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending payload field.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Field, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is lets errors.Is(err, ErrValidation) match every ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalidField(field, msg string) *ValidationError {
	return &ValidationError{Field: field, Message: msg}
}

// PreconditionError describes a rejected transition.
type PreconditionError struct {
	RequestID string
	Operation Operation
	Actual    Status
	Expected  []Status
}

func (e *PreconditionError) Error() string {
	want := make([]string, len(e.Expected))
	for i, s := range e.Expected {
		want[i] = string(s)
	}
	return fmt.Sprintf("%s on request %s: status is %q, want one of [%s]",
		e.Operation, e.RequestID, e.Actual, strings.Join(want, ", "))
}

func (e *PreconditionError) Unwrap() error {
	return ErrPreconditionFailed
}

// MissingRequest is the error for a transition on an unknown request id.
// It matches both ErrPreconditionFailed and ErrNotFound.
func MissingRequest(id string) error {
	return fmt.Errorf("%w: request %s: %w", ErrPreconditionFailed, id, ErrNotFound)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError reports whether err was caused by the caller's input or the
// record's state rather than by infrastructure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrPreconditionFailed) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrDuplicateProject)
}
