package platform

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds shared by the phpIPAM and NetBox clients. Callers classify
// failures with errors.Is.
var (
	ErrAuth       = errors.New("authentication failed")
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrTransient  = errors.New("transient failure")
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// Unwrap maps the HTTP status onto one of the error kinds.
func (e *StatusError) Unwrap() error {
	return classifyStatus(e.Status)
}

func classifyStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ErrAuth
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusTooManyRequests, status >= 500:
		return ErrTransient
	case status >= 400:
		return ErrValidation
	}
	return nil
}

// ValidationError reports a record that was rejected at a client boundary,
// either a source record that failed to decode or a payload the target refused.
type ValidationError struct {
	SourceID string
	Err      error
}

func (e *ValidationError) Error() string {
	if e.SourceID == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("record %s: %v", e.SourceID, e.Err)
}

func (e *ValidationError) Unwrap() []error {
	return []error{ErrValidation, e.Err}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
