// pipeline.go wires the components into the facade the host
// application talks to, with a lazy process-wide default instance.

package faultline

import (
	"context"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/faultline/faultline-go/pkg/faultline/config"
	"github.com/faultline/faultline-go/pkg/faultline/ringlog"
)

// Option configures a Pipeline.
type Option func(*pipelineConfig)

type pipelineConfig struct {
	cfg      *config.Config
	manager  *config.Manager
	log      *ringlog.Logger
	backends []Backend
	sink     UserMessageSink
}

// WithConfig starts the pipeline from a fixed configuration, typically
// one of the presets in package config.
func WithConfig(cfg config.Config) Option {
	return func(p *pipelineConfig) {
		p.cfg = &cfg
	}
}

// WithConfigManager attaches an existing manager, sharing live config
// with other consumers.
func WithConfigManager(m *config.Manager) Option {
	return func(p *pipelineConfig) {
		p.manager = m
	}
}

// WithLogger sets the local log sink shared by all components.
func WithLogger(log *ringlog.Logger) Option {
	return func(p *pipelineConfig) {
		p.log = log
	}
}

// WithBackends sets the backend fallback chain, attempted in order.
func WithBackends(backends ...Backend) Option {
	return func(p *pipelineConfig) {
		p.backends = backends
	}
}

// WithMessageSink sets the host-supplied sink for user-facing messages.
func WithMessageSink(sink UserMessageSink) Option {
	return func(p *pipelineConfig) {
		p.sink = sink
	}
}

// Pipeline is the wired error pipeline. Create one with New, or use
// the process-wide Default.
type Pipeline struct {
	manager    *config.Manager
	log        *ringlog.Logger
	crumbs     *BreadcrumbRecorder
	contexts   *ContextCollector
	classifier *Classifier
	queue      *Queue

	// reporting tracks goroutines currently inside report. A report
	// issued from within another report's dispatch path on the same
	// goroutine (a message sink that itself fails, say) degrades to a
	// local-log-only path instead of recursing; reports from other
	// goroutines are unaffected.
	reporting sync.Map
}

// New creates a fully wired pipeline.
func New(opts ...Option) *Pipeline {
	pc := &pipelineConfig{}
	for _, opt := range opts {
		opt(pc)
	}

	log := pc.log
	if log == nil {
		log = ringlog.Default()
	}

	manager := pc.manager
	if manager == nil {
		base := config.FromEnv()
		if pc.cfg != nil {
			base = *pc.cfg
		}
		manager = config.NewManager(base, config.WithLogger(log))
	}

	cfg := manager.Get()

	p := &Pipeline{
		manager:  manager,
		log:      log,
		crumbs:   NewBreadcrumbRecorder(cfg.MaxBreadcrumbs),
		contexts: NewContextCollector(),
	}
	p.classifier = NewClassifier(
		WithClassifierLogger(log),
		WithUserMessageSink(pc.sink),
	)
	p.queue = NewQueue(manager, p.crumbs, p.contexts,
		WithQueueLogger(log),
		WithQueueBackends(pc.backends...),
	)

	manager.Subscribe(func(c config.Config) {
		p.crumbs.SetLimit(c.MaxBreadcrumbs)
	})

	return p
}

var (
	defaultOnce sync.Once
	defaultPipe *Pipeline
)

// Default returns the process-wide pipeline, creating it on first use
// from the FAULTLINE_ENV preset. There is no implicit reinitialization.
func Default() *Pipeline {
	defaultOnce.Do(func() {
		defaultPipe = New()
	})
	return defaultPipe
}

// Report classifies and enqueues a failure, returning the record ID
// for correlation. It never panics and never propagates a failure back
// to the caller; a nil error still yields a KindUnknown record.
func (p *Pipeline) Report(err error, source string, extra map[string]any) string {
	return p.report(RawFromError(err), source, extra, false)
}

// ReportHandled is Report for failures the caller has already surfaced
// to the user; the user message sink is not invoked again.
func (p *Pipeline) ReportHandled(err error, source string, extra map[string]any) string {
	return p.report(RawFromError(err), source, extra, true)
}

// ReportRaw reports a pre-shaped raw payload, for callers intercepting
// failures outside the Go error system.
func (p *Pipeline) ReportRaw(raw RawError, source string, extra map[string]any) string {
	return p.report(raw, source, extra, false)
}

// Classify runs classification without enqueueing, for callers that
// only need the recovery hint.
func (p *Pipeline) Classify(err error, source string) Classification {
	return p.classifier.ClassifyError(err, source, true)
}

func (p *Pipeline) report(raw RawError, source string, extra map[string]any, handled bool) (id string) {
	defer func() {
		if r := recover(); r != nil {
			// Shield the host: a pipeline failure becomes a log entry.
			id = uuid.NewString()
			p.log.Fatal("report pipeline panicked", nil, map[string]any{"error_id": id, "cause": r})
		}
	}()

	gid := goroutineID()
	if _, nested := p.reporting.LoadOrStore(gid, struct{}{}); nested {
		// This goroutine is already inside report: route to the local
		// log only, breaking any self-reporting loop.
		id = uuid.NewString()
		p.log.Error("reentrant report, recorded locally only", nil, map[string]any{
			"error_id": id,
			"source":   source,
			"message":  raw.Message,
		})
		return id
	}
	defer p.reporting.Delete(gid)

	cls := p.classifier.Classify(raw, source, handled)
	rec := cls.Record
	if len(extra) > 0 {
		rec.Context = make(map[string]any, len(extra))
		for k, v := range extra {
			rec.Context[k] = v
		}
	}

	p.queue.Offer(rec)
	return rec.ID
}

// goroutineID parses the current goroutine's id from its stack header
// ("goroutine N [running]:"). Reports are rare, so the runtime.Stack
// cost is acceptable.
func goroutineID() uint64 {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	fields := strings.Fields(string(buf[:n]))
	if len(fields) < 2 {
		return 0
	}
	id, _ := strconv.ParseUint(fields[1], 10, 64)
	return id
}

// AddBreadcrumb records an event on the diagnostic trail.
func (p *Pipeline) AddBreadcrumb(message string, category Category, data map[string]any) {
	p.crumbs.Record(category, message, data)
}

// SetUser merges fields into the held user context.
func (p *Pipeline) SetUser(u UserContext) {
	p.contexts.SetUser(u)
}

// SetEnvironmentHints merges host-supplied environment fields.
func (p *Pipeline) SetEnvironmentHints(h EnvironmentHints) {
	p.contexts.SetEnvironmentHints(h)
}

// AddTiming appends a performance sample.
func (p *Pipeline) AddTiming(s TimingSample) {
	p.contexts.AddTiming(s)
}

// Flush ships everything pending, bounded by ctx. Call from teardown
// hooks; it never hangs teardown past the deadline.
func (p *Pipeline) Flush(ctx context.Context) error {
	return p.queue.Flush(ctx)
}

// Config returns a copy of the live configuration.
func (p *Pipeline) Config() config.Config {
	return p.manager.Get()
}

// UpdateConfig merges a validated patch into the live configuration.
func (p *Pipeline) UpdateConfig(patch config.Patch) {
	p.manager.Update(patch)
}

// Manager exposes the config manager, for file-watch wiring.
func (p *Pipeline) Manager() *config.Manager {
	return p.manager
}

// Logger exposes the local ring log for diagnostics export.
func (p *Pipeline) Logger() *ringlog.Logger {
	return p.log
}

// SetBackends replaces the backend fallback chain at runtime.
func (p *Pipeline) SetBackends(backends ...Backend) {
	p.queue.SetBackends(backends)
}

// Statistics returns the queue's local diagnostic counters.
func (p *Pipeline) Statistics() Statistics {
	return p.queue.Statistics()
}

// closeFlushWindow bounds how long Close waits for the final flush.
const closeFlushWindow = 2 * time.Second

// Close flushes best-effort within a bounded window and stops the
// dispatcher.
func (p *Pipeline) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeFlushWindow)
	defer cancel()
	err := p.queue.Flush(ctx)
	p.queue.Close()
	return err
}
