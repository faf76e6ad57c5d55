// fingerprint.go generates stable hashes for grouping similar failures.

package faultline

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
)

// FingerprintRecord generates a hash for grouping similar failures.
// The fingerprint is based on:
//   - kind, source, HTTP status
//   - First 3 stack frames (function names only, normalized)
//
// It ignores variable data like timestamps, record IDs, messages,
// line numbers, and memory addresses.
func FingerprintRecord(rec ErrorRecord) string {
	var parts []string
	parts = append(parts, string(rec.Kind))
	parts = append(parts, rec.Source)
	if rec.Raw.Status != 0 {
		parts = append(parts, strconv.Itoa(rec.Raw.Status))
	}

	frames := normalizeStackTrace(rec.Raw.StackText)
	parts = append(parts, frames...)

	input := strings.Join(parts, "|")
	hash := sha256.Sum256([]byte(input))

	// Hex-encoded first 16 bytes (32 hex chars).
	return hex.EncodeToString(hash[:16])
}

// Regex patterns for stack trace parsing
var (
	// Match function names like "main.doSomething" or "pkg/subpkg.Function"
	funcNamePattern = regexp.MustCompile(`^([a-zA-Z0-9_./]+\.[a-zA-Z0-9_]+)`)

	// Match memory addresses like "0x1234abcd"
	memAddrPattern = regexp.MustCompile(`0x[0-9a-fA-F]+`)

	// Match offset patterns like "+0x123"
	offsetPattern = regexp.MustCompile(`\+0x[0-9a-fA-F]+`)
)

// normalizeStackTrace extracts the first 3 function names from a stack
// trace, stripping line numbers, memory addresses, and other variable
// data.
func normalizeStackTrace(trace string) []string {
	if trace == "" {
		return nil
	}

	var frames []string
	lines := strings.Split(trace, "\n")

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		// Skip header lines like "goroutine 1 [running]:"
		if strings.HasPrefix(line, "goroutine ") {
			continue
		}

		// Skip file path lines (start with tab or contain .go:)
		if strings.HasPrefix(line, "\t") || strings.HasPrefix(line, "/") {
			continue
		}

		funcLine := line
		funcLine = memAddrPattern.ReplaceAllString(funcLine, "")
		funcLine = offsetPattern.ReplaceAllString(funcLine, "")

		// Remove parentheses and arguments
		if idx := strings.Index(funcLine, "("); idx > 0 {
			funcLine = funcLine[:idx]
		}

		funcLine = strings.TrimSpace(funcLine)
		if funcLine == "" {
			continue
		}

		if match := funcNamePattern.FindString(funcLine); match != "" {
			frames = append(frames, match)
			if len(frames) >= 3 {
				break
			}
		}
	}

	return frames
}
