// Package ringlog provides a leveled, ring-buffered local log sink for
// pipeline diagnostics. Entries are kept in a bounded in-memory buffer
// and mirrored best-effort to a zerolog writer; a logging failure is
// never allowed to reach the caller.
package ringlog

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level is the log severity, ordered RFC-5424 style: Trace is the
// least severe, Fatal the most.
type Level int8

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// String returns the lowercase level name.
func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "trace"
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	case LevelFatal:
		return "fatal"
	default:
		return fmt.Sprintf("level(%d)", int8(l))
	}
}

// zerologLevel maps a Level to its zerolog counterpart for mirroring.
func (l Level) zerologLevel() zerolog.Level {
	switch l {
	case LevelTrace:
		return zerolog.TraceLevel
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	case LevelFatal:
		// zerolog's Fatal exits the process; mirror at Error instead.
		return zerolog.ErrorLevel
	default:
		return zerolog.NoLevel
	}
}

// ParseLevel parses a level name. Unknown names map to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// Entry is one buffered log entry.
type Entry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Err     string         `json:"error,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Option configures a Logger.
type Option func(*Logger)

// WithCapacity sets the ring buffer capacity (default: 300).
func WithCapacity(n int) Option {
	return func(l *Logger) {
		if n > 0 {
			l.capacity = n
		}
	}
}

// WithLevel sets the minimum level kept in the buffer and mirrored.
func WithLevel(level Level) Option {
	return func(l *Logger) {
		l.min = level
	}
}

// WithMirror sets the writer the mirror logger emits to (default: stderr).
func WithMirror(w io.Writer) Option {
	return func(l *Logger) {
		l.mirror = zerolog.New(w).With().Timestamp().Logger()
	}
}

// WithoutMirror disables mirroring entirely; entries only reach the buffer.
func WithoutMirror() Option {
	return func(l *Logger) {
		l.mirror = zerolog.Nop()
	}
}

// Logger is a bounded in-memory log sink with a best-effort mirror.
// All methods are safe for concurrent use and never panic.
type Logger struct {
	mu       sync.Mutex
	entries  []Entry
	start    int
	count    int
	capacity int
	min      Level
	mirror   zerolog.Logger
	now      func() time.Time
}

// New creates a Logger with the given options.
func New(opts ...Option) *Logger {
	l := &Logger{
		capacity: 300,
		min:      LevelTrace,
		mirror:   zerolog.New(os.Stderr).With().Timestamp().Logger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.entries = make([]Entry, l.capacity)
	return l
}

var (
	defaultOnce sync.Once
	defaultLog  *Logger
)

// Default returns the process-wide logger, creating it on first call.
// Subsequent calls reuse the same instance.
func Default() *Logger {
	defaultOnce.Do(func() {
		defaultLog = New()
	})
	return defaultLog
}

// Log appends an entry at the given level. err and fields may be nil.
// A failure inside Log itself is swallowed; logging never crashes the
// caller.
func (l *Logger) Log(level Level, msg string, err error, fields map[string]any) {
	defer func() {
		_ = recover()
	}()

	if level < l.min {
		return
	}

	e := Entry{
		Time:    l.now(),
		Level:   level.String(),
		Message: msg,
	}
	if err != nil {
		e.Err = err.Error()
	}
	if len(fields) > 0 {
		e.Fields = make(map[string]any, len(fields))
		for k, v := range fields {
			e.Fields[k] = v
		}
	}

	l.mu.Lock()
	idx := (l.start + l.count) % l.capacity
	if l.count == l.capacity {
		// Full: overwrite the oldest entry.
		l.entries[l.start] = e
		l.start = (l.start + 1) % l.capacity
	} else {
		l.entries[idx] = e
		l.count++
	}
	l.mu.Unlock()

	ev := l.mirror.WithLevel(level.zerologLevel())
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Fields(fields).Msg(msg)
}

// Trace logs at trace level.
func (l *Logger) Trace(msg string, fields map[string]any) {
	l.Log(LevelTrace, msg, nil, fields)
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, fields map[string]any) {
	l.Log(LevelDebug, msg, nil, fields)
}

// Info logs at info level.
func (l *Logger) Info(msg string, fields map[string]any) {
	l.Log(LevelInfo, msg, nil, fields)
}

// Warn logs at warn level.
func (l *Logger) Warn(msg string, err error, fields map[string]any) {
	l.Log(LevelWarn, msg, err, fields)
}

// Error logs at error level.
func (l *Logger) Error(msg string, err error, fields map[string]any) {
	l.Log(LevelError, msg, err, fields)
}

// Fatal logs at fatal severity. Unlike zerolog, it does not exit the
// process; fatal is a severity reserved for pipeline-internal
// invariant violations.
func (l *Logger) Fatal(msg string, err error, fields map[string]any) {
	l.Log(LevelFatal, msg, err, fields)
}

// Entries returns a copy of the buffered entries, oldest first.
func (l *Logger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, 0, l.count)
	for i := 0; i < l.count; i++ {
		out = append(out, l.entries[(l.start+i)%l.capacity])
	}
	return out
}

// ExportJSON renders the buffer as a JSON array.
func (l *Logger) ExportJSON() ([]byte, error) {
	return json.Marshal(l.Entries())
}

// ExportText renders the buffer as one line per entry.
func (l *Logger) ExportText() string {
	var b strings.Builder
	for _, e := range l.Entries() {
		b.WriteString(e.Time.Format(time.RFC3339))
		b.WriteString(" ")
		b.WriteString(strings.ToUpper(e.Level))
		b.WriteString(" ")
		b.WriteString(e.Message)
		if e.Err != "" {
			b.WriteString(" error=")
			b.WriteString(e.Err)
		}
		for k, v := range e.Fields {
			fmt.Fprintf(&b, " %s=%v", k, v)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// WriteTo writes the text export to w, for download-style diagnostics.
func (l *Logger) WriteTo(w io.Writer) (int64, error) {
	n, err := io.WriteString(w, l.ExportText())
	return int64(n), err
}
