// Package apperror defines the typed error taxonomy shared by the domain
// services. Handlers use errors.As to translate these into HTTP status codes
// and FHIR OperationOutcome payloads.
package apperror

import "fmt"

// NotFoundError indicates a referenced code, mapping, or entry is absent or
// inactive.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// NotFound creates a NotFoundError for the given resource and identifier.
func NotFound(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ConflictError indicates a duplicate active mapping in the single-create path.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// Conflict creates a ConflictError with a formatted message.
func Conflict(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// ValidationError indicates malformed input: a missing required field, an
// out-of-range confidence, or an unsupported enum value.
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

// Invalid creates a ValidationError for the given field.
func Invalid(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// UpstreamError indicates a best-effort external lookup failed. Callers treat
// it as non-fatal and fall back to local data.
type UpstreamError struct {
	Service string
	Err     error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Service, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Upstream wraps err as an UpstreamError for the named service.
func Upstream(service string, err error) *UpstreamError {
	return &UpstreamError{Service: service, Err: err}
}
