// record.go defines the canonical classified failure and the raw error
// payload it is built from.

package faultline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Kind categorizes a classified failure.
type Kind string

const (
	// KindValidation indicates a field-level validation failure.
	KindValidation Kind = "validation"

	// KindNetwork indicates a transport-level failure with no HTTP status.
	KindNetwork Kind = "network"

	// KindAPI indicates an HTTP-level failure from a backend API.
	KindAPI Kind = "api"

	// KindAuth indicates a missing or expired credential (HTTP 401).
	KindAuth Kind = "auth"

	// KindPermission indicates a denied operation (HTTP 403).
	KindPermission Kind = "permission"

	// KindRenderFailure indicates a failure caught inside a UI subtree.
	KindRenderFailure Kind = "render_failure"

	// KindTimeout indicates an operation that exceeded its deadline.
	KindTimeout Kind = "timeout"

	// KindRateLimited indicates a throttled request (HTTP 429).
	KindRateLimited Kind = "rate_limited"

	// KindUnknown is the default for anything unrecognized.
	KindUnknown Kind = "unknown"
)

// Severity indicates the severity of an error record.
type Severity string

const (
	// SeverityWarning indicates a non-fatal issue that may need attention.
	SeverityWarning Severity = "warning"

	// SeverityError indicates a recoverable error that caused an operation to fail.
	SeverityError Severity = "error"

	// SeverityFatal indicates an unrecoverable failure such as a panic or a
	// pipeline-internal invariant violation.
	SeverityFatal Severity = "fatal"
)

// RawError is the original failure payload, opaque to everything
// downstream of the classifier. Zero values mean "absent".
type RawError struct {
	// Message is the original error text.
	Message string

	// StackText is the optional stack trace text.
	StackText string

	// Status is the HTTP status code, or 0 when no response was received.
	Status int

	// Header carries response headers when Status is set (Retry-After etc.).
	Header http.Header

	// FieldErrors carries field-level validation messages, keyed by field.
	FieldErrors map[string][]string

	// KindTag preserves a kind assigned by an upstream caller.
	KindTag Kind

	// NetworkFailure marks a transport-level failure with no response.
	NetworkFailure bool

	// Timeout marks a deadline or I/O timeout.
	Timeout bool
}

// ErrorRecord is the canonical classified failure. Records are created
// by the classifier, consumed exactly once by the queue, and never
// mutated afterward.
type ErrorRecord struct {
	// ID is a unique identifier for this record (UUID).
	ID string

	// Kind categorizes the failure. Always set; defaults to KindUnknown.
	Kind Kind

	// Message is the human-readable summary, never a raw stack.
	Message string

	// Raw is the original failure payload.
	Raw RawError

	// Context holds caller-supplied diagnostic fields (JSON-safe values).
	Context map[string]any

	// Severity is derived from Kind at classification time.
	Severity Severity

	// OccurredAt is when the failure was classified.
	OccurredAt time.Time

	// Source identifies where the failure was caught (http, panic, render, ...).
	Source string

	// Fingerprint is a hash for grouping similar failures.
	Fingerprint string

	// HandledLocally is true when the caller already surfaced a message,
	// suppressing duplicate user-facing output.
	HandledLocally bool
}

// HTTPError is a failure carrying an HTTP response status. The hooks
// package produces these from failed responses; host code may return
// them from its own API clients.
type HTTPError struct {
	StatusCode int
	Header     http.Header
	Body       string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("http %d", e.StatusCode)
}

// ValidationError carries field-level validation messages.
type ValidationError struct {
	FieldErrors map[string][]string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %d field(s)", len(e.FieldErrors))
}

// Tagged is implemented by errors that already know their kind.
// The classifier preserves the tag instead of re-deriving it.
type Tagged interface {
	ErrorKind() Kind
}

// timeouter matches net.Error and friends without importing net.
type timeouter interface {
	Timeout() bool
}

// RawFromError builds a RawError from a Go error, unwrapping the
// shapes the classifier understands. A nil error yields an empty
// RawError (classified as KindUnknown).
func RawFromError(err error) RawError {
	if err == nil {
		return RawError{}
	}

	raw := RawError{Message: err.Error()}

	var tagged Tagged
	if errors.As(err, &tagged) {
		raw.KindTag = tagged.ErrorKind()
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		raw.Status = httpErr.StatusCode
		raw.Header = httpErr.Header
	}

	var valErr *ValidationError
	if errors.As(err, &valErr) {
		raw.FieldErrors = valErr.FieldErrors
	}

	var to timeouter
	if errors.Is(err, context.DeadlineExceeded) {
		raw.Timeout = true
	} else if errors.As(err, &to) && to.Timeout() {
		raw.Timeout = true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && raw.Status == 0 {
		raw.NetworkFailure = true
	}

	return raw
}
