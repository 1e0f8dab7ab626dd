/*
errors.go - Centralized error types for the record engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages return these (or wrap them) and the API boundary maps
  them to HTTP statuses with StatusCode.

ERROR CATEGORIES:
  1. NotFound   - Missing record by id (404)
  2. Conflict   - Duplicate key, e.g. email on registration (409)
  3. Forbidden  - Role not allowed to perform an operation (403)
  4. Validation - Missing or malformed input (400)
  5. Unauthorized - Missing or bad credentials (401)

USAGE:
  if errors.Is(err, generic.ErrNotFound) {
      // skip best-effort side effect
  }

SEE ALSO:
  - store.go: Stores return NotFoundError / ConflictError
  - api/handlers.go: writeError uses StatusCode
*/
package generic

import (
	"errors"
	"fmt"
	"net/http"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a write would violate a uniqueness rule.
	ErrConflict = errors.New("conflict")

	// ErrForbidden is returned when the caller's role does not allow the operation.
	ErrForbidden = errors.New("forbidden")

	// ErrValidation is returned when input is missing or malformed.
	ErrValidation = errors.New("validation failed")

	// ErrUnauthorized is returned when credentials are missing or wrong.
	ErrUnauthorized = errors.New("unauthorized")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError identifies the missing record.
type NotFoundError struct {
	Collection Collection
	ID         ID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Collection, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ConflictError identifies the duplicated value.
type ConflictError struct {
	Collection Collection
	Field      string
	Value      string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s with %s %q already exists", e.Collection, e.Field, e.Value)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// ValidationError describes a rejected field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ForbiddenError names the role and the action it attempted.
type ForbiddenError struct {
	Role   string
	Action string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("role %q may not %s", e.Role, e.Action)
}

func (e *ForbiddenError) Unwrap() error { return ErrForbidden }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsClientError returns true if the error is due to the caller's input or rights.
func IsClientError(err error) bool {
	return StatusCode(err) < http.StatusInternalServerError
}

// StatusCode maps an error to the HTTP-like status it surfaces as.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
