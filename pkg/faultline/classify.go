// classify.go maps raw failures into typed ErrorRecords and decides
// the user-facing outcome.

package faultline

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/faultline/faultline-go/pkg/faultline/ringlog"
)

// Action is the recovery hint handed back to the caller.
type Action string

const (
	// ActionRetry means the operation may succeed if repeated, after
	// RetryDelay when one is set.
	ActionRetry Action = "retry"

	// ActionRedirect means the user should be sent elsewhere (sign-in).
	ActionRedirect Action = "redirect"

	// ActionFail means the operation failed for good.
	ActionFail Action = "fail"

	// ActionNone means no recovery is needed; the failure was surfaced
	// in place (validation messages).
	ActionNone Action = "none"
)

// Well-known source hints. Any string is accepted; these are the ones
// the hooks package emits.
const (
	SourceManual    = "manual"
	SourceHTTP      = "http"
	SourcePanic     = "panic"
	SourceGoroutine = "goroutine"
	SourceRender    = "render"
)

// Classification is the full result of classifying one raw failure.
type Classification struct {
	Record      ErrorRecord
	UserMessage string
	Action      Action
	RetryDelay  time.Duration
}

// UserMessageSink surfaces a user-facing message (a toast or banner).
// Implemented by the host application; the pipeline never renders UI.
type UserMessageSink interface {
	Show(message string, severity Severity)
}

// retrySeed is the retry delay used for rate-limited responses that
// carry no Retry-After header.
const retrySeed = 2 * time.Second

// maxFieldSummary caps how many field errors the validation user
// message enumerates.
const maxFieldSummary = 3

// ClassifierOption configures a Classifier.
type ClassifierOption func(*Classifier)

// WithClassifierLogger sets the local log sink (default: ringlog.Default()).
func WithClassifierLogger(log *ringlog.Logger) ClassifierOption {
	return func(c *Classifier) {
		c.log = log
	}
}

// WithUserMessageSink sets the sink user messages are surfaced through.
// Without one, messages are returned in the Classification only.
func WithUserMessageSink(sink UserMessageSink) ClassifierOption {
	return func(c *Classifier) {
		c.sink = sink
	}
}

// Classifier maps raw failures into ErrorRecords. It never panics; a
// failure while classifying degrades to the Unknown path.
type Classifier struct {
	log  *ringlog.Logger
	sink UserMessageSink
	now  func() time.Time
}

// NewClassifier creates a Classifier with the given options.
func NewClassifier(opts ...ClassifierOption) *Classifier {
	c := &Classifier{
		log: ringlog.Default(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ClassifyError is Classify over a Go error, unwrapping the shapes
// RawFromError understands. A nil error classifies as KindUnknown.
func (c *Classifier) ClassifyError(err error, source string, handledLocally bool) Classification {
	return c.Classify(RawFromError(err), source, handledLocally)
}

// Classify produces a record and user-facing outcome for a raw
// failure. Rules apply in order, first match wins:
//
//  1. a kind tag set upstream is preserved
//  2. HTTP status shape (401/403/429/5xx/4xx), then status-less
//     timeouts and network failures
//  3. field-level validation payload
//  4. render-source failures
//  5. KindUnknown
//
// Side effects: the record is always logged locally, and the user
// message is surfaced through the sink unless handledLocally is set.
func (c *Classifier) Classify(raw RawError, source string, handledLocally bool) (out Classification) {
	defer func() {
		if r := recover(); r != nil {
			out = c.fallback(raw, source, handledLocally, r)
		}
	}()

	out = Classification{
		Record: ErrorRecord{
			ID:             uuid.NewString(),
			Raw:            raw,
			OccurredAt:     c.now(),
			Source:         source,
			HandledLocally: handledLocally,
		},
	}

	switch {
	case raw.KindTag != "":
		out.Record.Kind = raw.KindTag
		out.Action, out.UserMessage = defaultOutcome(raw.KindTag)

	case raw.Status != 0:
		c.classifyStatus(raw, &out)

	case raw.Timeout:
		out.Record.Kind = KindTimeout
		out.Action = ActionRetry
		out.UserMessage = "The operation timed out. Please try again."

	case raw.NetworkFailure:
		out.Record.Kind = KindNetwork
		out.Action = ActionRetry
		out.UserMessage = "Connection problem. Check your network and try again."

	case len(raw.FieldErrors) > 0:
		out.Record.Kind = KindValidation
		out.Action = ActionNone
		out.UserMessage = "Please check your input: " + summarizeFields(raw.FieldErrors, maxFieldSummary)

	case source == SourceRender:
		out.Record.Kind = KindRenderFailure
		out.Action = ActionFail
		// The record ID correlates the report with the fallback view.
		out.UserMessage = fmt.Sprintf("Something went wrong displaying this page (ref %s).", out.Record.ID)

	default:
		out.Record.Kind = KindUnknown
		out.Action = ActionFail
		out.UserMessage = "Something went wrong. Please try again."
	}

	out.Record.Severity = severityFor(out.Record.Kind)
	out.Record.Message = recordMessage(raw, out.Record.Kind)
	out.Record.Fingerprint = FingerprintRecord(out.Record)

	c.logRecord(out.Record)

	if c.sink != nil && !handledLocally {
		c.sink.Show(out.UserMessage, out.Record.Severity)
	}

	return out
}

// classifyStatus applies the HTTP status mapping.
func (c *Classifier) classifyStatus(raw RawError, out *Classification) {
	switch {
	case raw.Status == 401:
		out.Record.Kind = KindAuth
		out.Action = ActionRedirect
		out.UserMessage = "Your session has expired. Please sign in again."

	case raw.Status == 403:
		out.Record.Kind = KindPermission
		out.Action = ActionFail
		out.UserMessage = "You don't have permission to perform this action."

	case raw.Status == 429:
		out.Record.Kind = KindRateLimited
		out.Action = ActionRetry
		out.RetryDelay = retryAfterDelay(raw, c.now())
		out.UserMessage = "Too many requests. Waiting before retrying."

	case raw.Status >= 500:
		out.Record.Kind = KindAPI
		out.Action = ActionRetry
		out.UserMessage = "The server had a problem. Please try again."

	default:
		out.Record.Kind = KindAPI
		out.Action = ActionFail
		out.UserMessage = "The request could not be completed."
	}
}

// retryAfterDelay reads Retry-After as delta-seconds or an HTTP date,
// falling back to the backoff seed when absent or unparseable.
func retryAfterDelay(raw RawError, now time.Time) time.Duration {
	v := raw.Header.Get("Retry-After")
	if v == "" {
		return retrySeed
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := time.Parse(time.RFC1123, v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return retrySeed
}

// defaultOutcome maps a preserved upstream kind tag to its action and
// generic user message.
func defaultOutcome(kind Kind) (Action, string) {
	switch kind {
	case KindValidation:
		return ActionNone, "Please check your input."
	case KindNetwork, KindTimeout, KindRateLimited:
		return ActionRetry, "A temporary problem occurred. Please try again."
	case KindAuth:
		return ActionRedirect, "Your session has expired. Please sign in again."
	case KindPermission:
		return ActionFail, "You don't have permission to perform this action."
	default:
		return ActionFail, "Something went wrong. Please try again."
	}
}

// severityFor derives the log/record severity from the kind.
func severityFor(kind Kind) Severity {
	if kind == KindValidation {
		return SeverityWarning
	}
	return SeverityError
}

// recordMessage builds the human-readable summary. It never returns a
// bare stack trace.
func recordMessage(raw RawError, kind Kind) string {
	if raw.Message != "" {
		return raw.Message
	}
	if raw.Status != 0 {
		return fmt.Sprintf("%s failure (http %d)", kind, raw.Status)
	}
	return fmt.Sprintf("%s failure", kind)
}

// logRecord mirrors the record into the local ring log at the
// kind-derived severity.
func (c *Classifier) logRecord(rec ErrorRecord) {
	fields := map[string]any{
		"error_id":    rec.ID,
		"kind":        string(rec.Kind),
		"source":      rec.Source,
		"fingerprint": rec.Fingerprint,
	}
	if rec.Raw.Status != 0 {
		fields["status"] = rec.Raw.Status
	}
	switch rec.Severity {
	case SeverityWarning:
		c.log.Warn(rec.Message, nil, fields)
	default:
		c.log.Error(rec.Message, nil, fields)
	}
}

// fallback is the degraded path when classification itself panics.
// SeverityFatal is reserved for exactly this invariant violation.
func (c *Classifier) fallback(raw RawError, source string, handledLocally bool, cause any) Classification {
	// time.Now directly: the panic may have come from anything the
	// classifier was wired with, including its clock.
	rec := ErrorRecord{
		ID:             uuid.NewString(),
		Kind:           KindUnknown,
		Message:        bestEffortMessage(raw),
		Raw:            raw,
		Severity:       SeverityError,
		OccurredAt:     time.Now(),
		Source:         source,
		HandledLocally: handledLocally,
	}
	c.log.Fatal("classifier panicked", fmt.Errorf("%v", cause), map[string]any{"error_id": rec.ID})
	return Classification{
		Record:      rec,
		UserMessage: "Something went wrong. Please try again.",
		Action:      ActionFail,
	}
}

func bestEffortMessage(raw RawError) string {
	if raw.Message != "" {
		return raw.Message
	}
	return "unclassifiable failure"
}
