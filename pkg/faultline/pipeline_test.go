package faultline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/faultline/faultline-go/pkg/faultline/config"
)

func newTestPipeline(t *testing.T, backend Backend, opts ...Option) *Pipeline {
	t.Helper()
	base := []Option{
		WithConfig(config.Config{
			BatchSize:       100,
			BatchTimeout:    time.Hour,
			MaxQueueSize:    1000,
			MaxBreadcrumbs:  50,
			DispatchTimeout: time.Second,
			Privacy:         config.Privacy{IncludeUsername: true},
		}),
		WithLogger(testLogger()),
	}
	if backend != nil {
		base = append(base, WithBackends(backend))
	}
	p := New(append(base, opts...)...)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func flushPipeline(t *testing.T, p *Pipeline) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func TestPipeline_ReportDeliversRecord(t *testing.T) {
	backend := &testBackend{name: "a"}
	p := newTestPipeline(t, backend)

	id := p.Report(errors.New("boom"), SourceManual, map[string]any{"order": 7})
	if id == "" {
		t.Fatal("Report should return a record ID")
	}

	flushPipeline(t, p)

	batches := backend.delivered()
	if len(batches) != 1 || len(batches[0].Records) != 1 {
		t.Fatalf("delivered = %+v, want one batch with one record", batches)
	}
	rec := batches[0].Records[0]
	if rec.ID != id {
		t.Errorf("record ID = %q, want returned %q", rec.ID, id)
	}
	if rec.Context["order"] != 7 {
		t.Errorf("extra context missing, got %v", rec.Context)
	}
}

func TestPipeline_ReportNilError(t *testing.T) {
	backend := &testBackend{name: "a"}
	p := newTestPipeline(t, backend)

	id := p.Report(nil, SourceManual, nil)
	if id == "" {
		t.Fatal("nil error still yields an ID")
	}

	flushPipeline(t, p)

	rec := backend.delivered()[0].Records[0]
	if rec.Kind != KindUnknown {
		t.Errorf("Kind = %s, want unknown", rec.Kind)
	}
}

func TestPipeline_ReentrantReportDegradesToLocalLog(t *testing.T) {
	backend := &testBackend{name: "a"}
	log := testLogger()

	var p *Pipeline
	var innerID string
	sink := sinkFunc(func(msg string, sev Severity) {
		// A message sink that itself fails and reports must not recurse.
		innerID = p.Report(errors.New("sink blew up"), SourceManual, nil)
	})
	p = newTestPipeline(t, backend, WithLogger(log), WithMessageSink(sink))

	outerID := p.Report(errors.New("boom"), SourceManual, nil)

	if innerID == "" || innerID == outerID {
		t.Errorf("inner report should get its own ID, got %q vs %q", innerID, outerID)
	}

	found := false
	for _, e := range log.Entries() {
		if strings.Contains(e.Message, "reentrant report") {
			found = true
		}
	}
	if !found {
		t.Error("reentrant report should be logged locally")
	}

	flushPipeline(t, p)
	if got := len(backend.delivered()[0].Records); got != 1 {
		t.Errorf("transmitted records = %d, want only the outer report", got)
	}
}

func TestPipeline_ConcurrentReportsAllQueued(t *testing.T) {
	backend := &testBackend{name: "a"}

	// The sink parks the first report mid-dispatch so a second report
	// from another goroutine arrives while it is still in flight.
	entered := make(chan struct{})
	release := make(chan struct{})
	first := true
	sink := sinkFunc(func(msg string, sev Severity) {
		if first {
			first = false
			close(entered)
			<-release
		}
	})
	p := newTestPipeline(t, backend, WithMessageSink(sink))

	go p.Report(errors.New("request one failed"), SourceHTTP, nil)
	<-entered

	p.Report(errors.New("request two failed"), SourceHTTP, nil)
	close(release)

	waitFor(t, func() bool { return p.Statistics().QueueDepth == 2 },
		"both reports should reach the queue")
	flushPipeline(t, p)
	if got := len(backend.delivered()[0].Records); got != 2 {
		t.Errorf("transmitted records = %d, want both concurrent reports", got)
	}
}

func TestPipeline_SequentialReportsAllQueued(t *testing.T) {
	backend := &testBackend{name: "a"}
	p := newTestPipeline(t, backend)

	// The reentrancy guard must not suppress ordinary back-to-back use.
	for i := 0; i < 3; i++ {
		p.Report(errors.New("boom"), SourceManual, nil)
	}

	flushPipeline(t, p)
	if got := len(backend.delivered()[0].Records); got != 3 {
		t.Errorf("records = %d, want 3", got)
	}
}

func TestPipeline_ReportHandledSuppressesSink(t *testing.T) {
	shown := 0
	sink := sinkFunc(func(msg string, sev Severity) { shown++ })
	p := newTestPipeline(t, &testBackend{name: "a"}, WithMessageSink(sink))

	p.ReportHandled(errors.New("already surfaced"), SourceManual, nil)
	if shown != 0 {
		t.Error("handled reports must not show another user message")
	}

	p.Report(errors.New("not yet surfaced"), SourceManual, nil)
	if shown != 1 {
		t.Errorf("sink invocations = %d, want 1", shown)
	}
}

func TestPipeline_BatchCarriesBreadcrumbsAndUser(t *testing.T) {
	backend := &testBackend{name: "a"}
	p := newTestPipeline(t, backend)

	p.SetUser(UserContext{UserID: "u9"})
	p.AddBreadcrumb("clicked checkout", CategoryUserAction, nil)
	p.AddTiming(TimingSample{Kind: TimingAPI, Endpoint: "POST /checkout", Duration: 80 * time.Millisecond})
	p.Report(errors.New("boom"), SourceManual, nil)

	flushPipeline(t, p)

	b := backend.delivered()[0]
	if b.User.UserID != "u9" {
		t.Errorf("User = %+v", b.User)
	}
	if len(b.Breadcrumbs) != 1 || b.Breadcrumbs[0].Category != CategoryUserAction {
		t.Errorf("Breadcrumbs = %+v", b.Breadcrumbs)
	}
	if len(b.Performance.API) != 1 {
		t.Errorf("Performance.API = %+v", b.Performance.API)
	}
}

func TestPipeline_UpdateConfigRejectsInvalid(t *testing.T) {
	p := newTestPipeline(t, nil)

	bad := 0
	p.UpdateConfig(config.Patch{BatchSize: &bad})
	if p.Config().BatchSize != 100 {
		t.Errorf("BatchSize = %d, invalid update should be ignored", p.Config().BatchSize)
	}

	good := 25
	p.UpdateConfig(config.Patch{BatchSize: &good})
	if p.Config().BatchSize != 25 {
		t.Errorf("BatchSize = %d, want 25", p.Config().BatchSize)
	}
}

func TestPipeline_ConfigUpdateResizesBreadcrumbs(t *testing.T) {
	p := newTestPipeline(t, &testBackend{name: "a"})

	for i := 0; i < 50; i++ {
		p.AddBreadcrumb("x", CategoryCustom, nil)
	}

	limit := 5
	p.UpdateConfig(config.Patch{MaxBreadcrumbs: &limit})
	p.Report(errors.New("boom"), SourceManual, nil)

	flushPipeline(t, p)
	// Flush happens after the resize took effect.
	if got := p.Statistics().QueueDepth; got != 0 {
		t.Fatalf("queue depth = %d", got)
	}
	if got := len(p.crumbs.Snapshot()); got != 5 {
		t.Errorf("breadcrumb trail = %d after resize, want 5", got)
	}
}

func TestPipeline_CloseFlushesPending(t *testing.T) {
	backend := &testBackend{name: "a"}
	p := New(
		WithConfig(config.Config{
			BatchSize:       100,
			BatchTimeout:    time.Hour,
			MaxQueueSize:    1000,
			MaxBreadcrumbs:  50,
			DispatchTimeout: time.Second,
		}),
		WithLogger(testLogger()),
		WithBackends(backend),
	)

	p.Report(errors.New("boom"), SourceManual, nil)
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if len(backend.delivered()) != 1 {
		t.Error("Close should flush pending records")
	}
}

func TestPipeline_StatisticsCountSent(t *testing.T) {
	backend := &testBackend{name: "a"}
	p := newTestPipeline(t, backend)

	p.Report(errors.New("boom"), SourceManual, nil)
	flushPipeline(t, p)

	stats := p.Statistics()
	if stats.BatchesSent != 1 {
		t.Errorf("BatchesSent = %d, want 1", stats.BatchesSent)
	}
	if !stats.LastFlush.After(time.Time{}) {
		t.Error("LastFlush should be set")
	}
}
