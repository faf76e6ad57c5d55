package faultline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/faultline/faultline-go/pkg/faultline/config"
)

// testBackend records delivered batches and can be told to fail.
type testBackend struct {
	mu      sync.Mutex
	name    string
	batches []*Batch
	sendErr error
	calls   int
}

func (b *testBackend) Name() string {
	return b.name
}

func (b *testBackend) Send(ctx context.Context, batch *Batch) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.sendErr != nil {
		return b.sendErr
	}
	b.batches = append(b.batches, batch)
	return nil
}

func (b *testBackend) delivered() []*Batch {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Batch, len(b.batches))
	copy(out, b.batches)
	return out
}

func (b *testBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func testConfig(mutate func(*config.Config)) *config.Manager {
	cfg := config.Config{
		BatchSize:       100,
		BatchTimeout:    time.Hour,
		MaxQueueSize:    1000,
		MaxBreadcrumbs:  50,
		MaxRetries:      0,
		DispatchTimeout: time.Second,
		Privacy:         config.Privacy{IncludeUsername: true},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return config.NewManager(cfg, config.WithLogger(testLogger()))
}

func newTestQueue(t *testing.T, mgr *config.Manager, backends ...Backend) *Queue {
	t.Helper()
	q := NewQueue(mgr, NewBreadcrumbRecorder(10), NewContextCollector(),
		WithQueueLogger(testLogger()),
		WithQueueBackends(backends...),
	)
	t.Cleanup(q.Close)
	return q
}

func record(id string) ErrorRecord {
	return ErrorRecord{ID: id, Kind: KindUnknown, Message: "m-" + id, Severity: SeverityError}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestQueue_SizeTriggerFlushesOnce(t *testing.T) {
	backend := &testBackend{name: "a"}
	mgr := testConfig(func(c *config.Config) { c.BatchSize = 3 })
	q := newTestQueue(t, mgr, backend)

	for i := 0; i < 3; i++ {
		q.Offer(record(fmt.Sprintf("r%d", i)))
	}

	waitFor(t, func() bool { return len(backend.delivered()) == 1 }, "size trigger should flush exactly one batch")

	batches := backend.delivered()
	if len(batches[0].Records) != 3 {
		t.Errorf("batch records = %d, want 3", len(batches[0].Records))
	}
	if q.Statistics().QueueDepth != 0 {
		t.Errorf("queue depth = %d after flush, want 0", q.Statistics().QueueDepth)
	}
}

func TestQueue_TimeoutTriggerFlushes(t *testing.T) {
	backend := &testBackend{name: "a"}
	mgr := testConfig(func(c *config.Config) {
		c.BatchSize = 10
		c.BatchTimeout = 50 * time.Millisecond
	})
	q := newTestQueue(t, mgr, backend)

	// batchSize-1 records: only the window timer can flush these.
	for i := 0; i < 9; i++ {
		q.Offer(record(fmt.Sprintf("r%d", i)))
	}

	waitFor(t, func() bool { return len(backend.delivered()) == 1 }, "timeout trigger should flush one batch")

	if got := len(backend.delivered()[0].Records); got != 9 {
		t.Errorf("batch records = %d, want 9", got)
	}
}

func TestQueue_TimerNotResetByTrickle(t *testing.T) {
	backend := &testBackend{name: "a"}
	mgr := testConfig(func(c *config.Config) {
		c.BatchSize = 1000
		c.BatchTimeout = 80 * time.Millisecond
	})
	q := newTestQueue(t, mgr, backend)

	// A steady trickle faster than the timeout must not starve the flush.
	stop := time.Now().Add(200 * time.Millisecond)
	i := 0
	for time.Now().Before(stop) {
		q.Offer(record(fmt.Sprintf("r%d", i)))
		i++
		time.Sleep(20 * time.Millisecond)
	}

	waitFor(t, func() bool { return len(backend.delivered()) >= 1 }, "trickle should not starve the window timer")
}

func TestQueue_ExplicitFlushCarriesSnapshots(t *testing.T) {
	backend := &testBackend{name: "a"}
	mgr := testConfig(nil)

	crumbs := NewBreadcrumbRecorder(10)
	contexts := NewContextCollector()
	contexts.SetUser(UserContext{UserID: "u1"})
	crumbs.Record(CategoryNavigation, "/orders", nil)

	q := NewQueue(mgr, crumbs, contexts,
		WithQueueLogger(testLogger()),
		WithQueueBackends(backend),
	)
	t.Cleanup(q.Close)

	for i := 0; i < 3; i++ {
		q.Offer(record(fmt.Sprintf("r%d", i)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := q.Flush(ctx); err != nil {
		t.Fatalf("Flush returned error: %v", err)
	}

	batches := backend.delivered()
	if len(batches) != 1 {
		t.Fatalf("batches = %d, want 1", len(batches))
	}
	b := batches[0]
	if len(b.Records) != 3 {
		t.Errorf("records = %d, want exactly the 3 pending", len(b.Records))
	}
	if len(b.Breadcrumbs) != 1 || b.Breadcrumbs[0].Message != "/orders" {
		t.Errorf("breadcrumb snapshot missing, got %+v", b.Breadcrumbs)
	}
	if b.User.UserID != "u1" {
		t.Errorf("user snapshot missing, got %+v", b.User)
	}
	if b.BatchID == "" {
		t.Error("batch should carry an ID")
	}
}

func TestQueue_FlushEmptyResolvesImmediately(t *testing.T) {
	q := newTestQueue(t, testConfig(nil), &testBackend{name: "a"})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := q.Flush(ctx); err != nil {
		t.Errorf("empty flush should resolve, got %v", err)
	}
}

func TestQueue_FallbackChainOrder(t *testing.T) {
	failing := &testBackend{name: "primary", sendErr: errors.New("down")}
	succeeding := &testBackend{name: "secondary"}
	q := newTestQueue(t, testConfig(nil), failing, succeeding)

	q.Offer(record("r1"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := q.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if failing.callCount() != 1 {
		t.Errorf("primary attempts = %d, want 1 (tried first)", failing.callCount())
	}
	if len(succeeding.delivered()) != 1 {
		t.Fatalf("secondary should deliver the same batch")
	}

	stats := q.Statistics()
	if stats.BatchesSent != 1 || stats.BatchesDropped != 0 {
		t.Errorf("stats = %+v, want one sent, none dropped", stats)
	}
}

func TestQueue_AllBackendsFailDropsAfterRetryCap(t *testing.T) {
	failing := &testBackend{name: "only", sendErr: errors.New("down")}
	mgr := testConfig(func(c *config.Config) { c.MaxRetries = 2 })
	q := newTestQueue(t, mgr, failing)

	q.Offer(record("r1"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = q.Flush(ctx)

	// First attempt plus two retries.
	if failing.callCount() != 3 {
		t.Errorf("attempts = %d, want 3", failing.callCount())
	}

	stats := q.Statistics()
	if stats.BatchesDropped != 1 {
		t.Errorf("BatchesDropped = %d, want 1", stats.BatchesDropped)
	}
	if stats.DispatchRetries != 2 {
		t.Errorf("DispatchRetries = %d, want 2", stats.DispatchRetries)
	}
}

func TestQueue_DropBound(t *testing.T) {
	const maxQueue = 10
	log := testLogger()
	mgr := testConfig(func(c *config.Config) {
		c.MaxQueueSize = maxQueue
		c.BatchSize = 1000
	})
	q := NewQueue(mgr, NewBreadcrumbRecorder(10), NewContextCollector(),
		WithQueueLogger(log),
	)
	t.Cleanup(q.Close)

	for i := 0; i < maxQueue+5; i++ {
		q.Offer(record(fmt.Sprintf("r%d", i)))
	}

	stats := q.Statistics()
	if stats.QueueDepth != maxQueue {
		t.Errorf("QueueDepth = %d, want bound %d", stats.QueueDepth, maxQueue)
	}
	if stats.RecordsDropped != 5 {
		t.Errorf("RecordsDropped = %d, want 5", stats.RecordsDropped)
	}

	dropLogs := 0
	for _, e := range log.Entries() {
		if strings.Contains(e.Message, "dropping oldest record") {
			dropLogs++
		}
	}
	if dropLogs != 5 {
		t.Errorf("drop log entries = %d, want 5", dropLogs)
	}

	// The oldest five are gone; the flush carries r5..r14.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	backend := &testBackend{name: "a"}
	q.SetBackends([]Backend{backend})
	_ = q.Flush(ctx)

	batches := backend.delivered()
	if len(batches) != 1 {
		t.Fatalf("batches = %d, want 1", len(batches))
	}
	if batches[0].Records[0].ID != "r5" {
		t.Errorf("oldest surviving record = %s, want r5", batches[0].Records[0].ID)
	}
}

func TestQueue_LogsBatchLifecycleStates(t *testing.T) {
	log := testLogger()

	failing := &testBackend{name: "flaky", sendErr: errors.New("down")}
	mgr := testConfig(func(c *config.Config) {
		c.BatchSize = 1
		c.MaxRetries = 1
	})
	q := NewQueue(mgr, NewBreadcrumbRecorder(10), NewContextCollector(),
		WithQueueLogger(log),
		WithQueueBackends(failing),
	)
	t.Cleanup(q.Close)

	q.Offer(record("r1"))
	waitFor(t, func() bool { return q.Statistics().BatchesDropped == 1 },
		"batch should run its full lifecycle")

	// Then a healthy delivery.
	q.SetBackends([]Backend{&testBackend{name: "ok"}})
	q.Offer(record("r2"))
	waitFor(t, func() bool { return q.Statistics().BatchesSent == 1 },
		"second batch should deliver")

	seen := map[string]bool{}
	for _, e := range log.Entries() {
		if s, ok := e.Fields["state"].(string); ok {
			seen[s] = true
		}
	}
	for _, want := range []BatchState{BatchAccumulating, BatchFlushing, BatchRetrying, BatchDropped, BatchDelivered} {
		if !seen[string(want)] {
			t.Errorf("no log entry carries state %q, saw %v", want, seen)
		}
	}
}

func TestQueue_SamplingExcludesFromTransmission(t *testing.T) {
	backend := &testBackend{name: "a"}
	mgr := testConfig(func(c *config.Config) {
		c.Sampling = config.Sampling{Enabled: true, Rate: 0.5}
	})

	draw := 0.0
	q := NewQueue(mgr, NewBreadcrumbRecorder(10), NewContextCollector(),
		WithQueueLogger(testLogger()),
		WithQueueBackends(backend),
		withRand(func() float64 { v := draw; return v }),
	)
	t.Cleanup(q.Close)

	draw = 0.9 // above rate: sampled out
	if q.Offer(record("out")) {
		t.Error("draw above rate should be sampled out")
	}
	draw = 0.1 // below rate: kept
	if !q.Offer(record("in")) {
		t.Error("draw below rate should be queued")
	}

	stats := q.Statistics()
	if stats.RecordsSampledOut != 1 {
		t.Errorf("RecordsSampledOut = %d, want 1", stats.RecordsSampledOut)
	}
	if stats.QueueDepth != 1 {
		t.Errorf("QueueDepth = %d, want 1", stats.QueueDepth)
	}
}

func TestQueue_RetryingBatchDoesNotBlockNextBatch(t *testing.T) {
	// Primary fails slowly via retries; a healthy second flush must
	// still form and queue behind it without Offer blocking.
	failing := &testBackend{name: "flaky", sendErr: errors.New("down")}
	mgr := testConfig(func(c *config.Config) {
		c.BatchSize = 1
		c.MaxRetries = 1
	})
	q := newTestQueue(t, mgr, failing)

	start := time.Now()
	q.Offer(record("r1"))
	q.Offer(record("r2"))
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Offer blocked for %v while a batch was retrying", elapsed)
	}

	waitFor(t, func() bool { return q.Statistics().BatchesDropped == 2 },
		"both batches should eventually run their course")
}

func TestQueue_NoBackendsCountsAsSent(t *testing.T) {
	q := newTestQueue(t, testConfig(nil))
	q.Offer(record("r1"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := q.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if q.Statistics().BatchesSent != 1 {
		t.Error("local-only deployments should still account batches")
	}
}

func TestQueue_OfferAfterCloseIsSafe(t *testing.T) {
	q := NewQueue(testConfig(nil), NewBreadcrumbRecorder(10), NewContextCollector(),
		WithQueueLogger(testLogger()))
	q.Close()

	if q.Offer(record("r1")) {
		t.Error("Offer after Close should report not queued")
	}
	// Close again is a no-op.
	q.Close()
}
