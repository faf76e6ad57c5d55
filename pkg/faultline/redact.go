// redact.go applies privacy rules to batches before transmission:
// secret/PII scrubbing of free text, sensitive-key redaction in
// context maps, and the configured user-identity flags.

package faultline

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/faultline/faultline-go/pkg/faultline/config"
)

// maxRedactedValueSize caps free-text fields after scrubbing.
const maxRedactedValueSize = 4096

// Compiled patterns for message scrubbing (compiled once at package init)
var messageScrubPatterns = []*regexp.Regexp{
	// API keys and tokens
	regexp.MustCompile(`(?i)(api[_-]?key|token)[=:\s]+['"]?[\w\-\.]+['"]?`),
	regexp.MustCompile(`(?i)(authorization|bearer)[=:\s]+['"]?[\w\-\.]+['"]?`),
	regexp.MustCompile(`(?i)eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`), // JWT

	// Credentials
	regexp.MustCompile(`(?i)password[=:\s]+['"]?[^\s'"",]+['"]?`),
	regexp.MustCompile(`(?i)secret[=:\s]+['"]?[^\s'"",]+['"]?`),
	regexp.MustCompile(`(?i)credential[=:\s]+['"]?[^\s'"",]+['"]?`),

	// PII
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),                      // SSN
	regexp.MustCompile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`), // Credit card
}

// ipPattern matches IPv4 addresses for AnonymizeIP.
var ipPattern = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)

// Sensitive context key patterns (case-insensitive substring match)
var sensitiveKeyPatterns = []string{
	"token",
	"secret",
	"password",
	"credential",
	"auth",
	"passwd",
	"apikey",
	"api_key",
}

// Redactor applies privacy rules to outgoing batches.
type Redactor struct {
	privacy config.Privacy
}

// NewRedactor creates a redactor with the given privacy flags.
// When IncludeUsername is off, username and email are dropped from the
// transmitted user context; the opaque user and session IDs remain.
func NewRedactor(p config.Privacy) *Redactor {
	return &Redactor{privacy: p}
}

// ApplyBatch redacts a batch in place before it is handed to the
// dispatcher. The batch has not been shared yet, so mutating it here
// does not violate batch immutability.
func (r *Redactor) ApplyBatch(b *Batch) {
	for i := range b.Records {
		r.applyRecord(&b.Records[i])
	}
	b.User = r.applyUser(b.User)
	if r.privacy.AnonymizeIP {
		b.Environment.Hostname = ""
	}
}

func (r *Redactor) applyRecord(rec *ErrorRecord) {
	rec.Message = r.ScrubText(rec.Message)
	rec.Raw.Message = r.ScrubText(rec.Raw.Message)
	if rec.Context != nil {
		rec.Context = r.scrubContext(rec.Context)
	}
}

func (r *Redactor) applyUser(u UserContext) UserContext {
	if !r.privacy.IncludeUsername {
		u.Username = ""
		u.Email = ""
	}
	return u
}

// ScrubText redacts secrets and PII from free text and caps its size.
func (r *Redactor) ScrubText(s string) string {
	if s == "" {
		return s
	}
	if len(s) > maxRedactedValueSize {
		s = truncateWithMarker(s, maxRedactedValueSize)
	}
	for _, pattern := range messageScrubPatterns {
		s = pattern.ReplaceAllString(s, "[REDACTED]")
	}
	if r.privacy.AnonymizeIP {
		s = ipPattern.ReplaceAllString(s, "[IP]")
	}
	return s
}

// scrubContext redacts sensitive keys and scrubs string values.
func (r *Redactor) scrubContext(ctx map[string]any) map[string]any {
	out := make(map[string]any, len(ctx))
	for key, value := range ctx {
		if isSensitiveKey(key) {
			out[key] = "[REDACTED]"
			continue
		}
		if s, ok := value.(string); ok {
			out[key] = r.ScrubText(s)
			continue
		}
		out[key] = value
	}
	return out
}

// isSensitiveKey checks if a context key matches sensitive patterns.
func isSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(keyLower, pattern) {
			return true
		}
	}
	return false
}

// truncateWithMarker truncates a string and adds a truncation marker.
func truncateWithMarker(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	marker := "...[TRUNCATED]"
	if maxLen <= len(marker) {
		return marker[:maxLen]
	}
	return s[:maxLen-len(marker)] + marker
}

// summarizeFields builds a short human summary of the first n field
// errors, used by the classifier's validation path.
func summarizeFields(fieldErrors map[string][]string, n int) string {
	if len(fieldErrors) == 0 {
		return "validation failed"
	}
	keys := make([]string, 0, len(fieldErrors))
	for k := range fieldErrors {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		if len(parts) >= n {
			break
		}
		msgs := fieldErrors[k]
		if len(msgs) > 0 {
			parts = append(parts, fmt.Sprintf("%s: %s", k, msgs[0]))
		} else {
			parts = append(parts, k)
		}
	}
	summary := strings.Join(parts, "; ")
	if len(fieldErrors) > n {
		summary += fmt.Sprintf(" (+%d more)", len(fieldErrors)-n)
	}
	return summary
}
