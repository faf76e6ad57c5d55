// queue.go batches classified records and dispatches them to backends
// with sampling, drop-oldest bounding, a fallback chain, and bounded
// retry. Enqueue and classification are synchronous; backend dispatch
// is the only operation that waits on I/O.

package faultline

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/faultline/faultline-go/pkg/faultline/config"
	"github.com/faultline/faultline-go/pkg/faultline/ringlog"
)

// Backend is one telemetry receiver. Implementations are attempted in
// configured order until one accepts the batch.
type Backend interface {
	// Name identifies the backend in logs and statistics.
	Name() string

	// Send delivers a batch. The batch must not be retained or mutated.
	Send(ctx context.Context, batch *Batch) error
}

// ConfigSource serves the live configuration. *config.Manager
// satisfies this.
type ConfigSource interface {
	Get() config.Config
}

// Statistics is a local diagnostic snapshot of queue activity. It is
// never transmitted.
type Statistics struct {
	QueueDepth        int
	BatchesSent       int64
	BatchesDropped    int64
	RecordsDropped    int64
	RecordsSampledOut int64
	DispatchRetries   int64
	LastFlush         time.Time
}

// dispatchItem pairs a batch with an optional completion signal used
// by explicit Flush calls.
type dispatchItem struct {
	batch *Batch
	done  chan struct{}
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithQueueLogger sets the local log sink (default: ringlog.Default()).
func WithQueueLogger(log *ringlog.Logger) QueueOption {
	return func(q *Queue) {
		q.log = log
	}
}

// WithQueueBackends sets the fallback chain, attempted in slice order.
func WithQueueBackends(backends ...Backend) QueueOption {
	return func(q *Queue) {
		q.backends = backends
	}
}

// withRand overrides the sampling draw, for tests.
func withRand(fn func() float64) QueueOption {
	return func(q *Queue) {
		q.randFloat = fn
	}
}

// Queue accumulates records and flushes them as immutable batches.
// A batch flushes when the pending count reaches BatchSize, when the
// accumulation window exceeds BatchTimeout, or on an explicit Flush.
// Batches dispatch in flush order; a batch waiting out a retry backoff
// does not block formation of the next batch.
type Queue struct {
	cfg      ConfigSource
	log      *ringlog.Logger
	crumbs   *BreadcrumbRecorder
	contexts *ContextCollector

	mu          sync.Mutex
	backends    []Backend
	pending     []ErrorRecord
	windowTimer *time.Timer
	closed      bool

	dispatchCh chan dispatchItem
	done       chan struct{}
	wg         sync.WaitGroup

	randFloat func() float64

	statsMu sync.Mutex
	stats   Statistics
}

// dispatchBuffer bounds how many flushed batches may wait on the
// dispatcher before new flushes are dropped.
const dispatchBuffer = 16

// NewQueue creates a queue and starts its dispatcher. crumbs and
// contexts supply the snapshots included in every batch.
func NewQueue(cfg ConfigSource, crumbs *BreadcrumbRecorder, contexts *ContextCollector, opts ...QueueOption) *Queue {
	q := &Queue{
		cfg:        cfg,
		log:        ringlog.Default(),
		crumbs:     crumbs,
		contexts:   contexts,
		dispatchCh: make(chan dispatchItem, dispatchBuffer),
		done:       make(chan struct{}),
		randFloat:  rand.Float64,
	}
	for _, opt := range opts {
		opt(q)
	}

	q.wg.Add(1)
	go q.dispatchLoop()

	return q
}

// SetBackends replaces the fallback chain. Batches already handed to
// the dispatcher keep the chain they were dispatched with.
func (q *Queue) SetBackends(backends []Backend) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.backends = backends
}

// Offer applies sampling and enqueues the record. It reports whether
// the record was queued for transmission; sampled-out records are
// counted but not queued. Offer never blocks on I/O.
func (q *Queue) Offer(rec ErrorRecord) bool {
	cfg := q.cfg.Get()

	if cfg.Sampling.Enabled && q.randFloat() >= cfg.Sampling.Rate {
		q.statsMu.Lock()
		q.stats.RecordsSampledOut++
		q.statsMu.Unlock()
		q.log.Debug("record sampled out", map[string]any{"error_id": rec.ID})
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.log.Warn("record offered after close", nil, map[string]any{"error_id": rec.ID})
		return false
	}

	// Bound memory under error storms: evict the oldest pending record.
	if cfg.MaxQueueSize > 0 && len(q.pending) >= cfg.MaxQueueSize {
		dropped := q.pending[0]
		q.pending = q.pending[1:]
		q.statsMu.Lock()
		q.stats.RecordsDropped++
		q.statsMu.Unlock()
		q.log.Warn("queue full, dropping oldest record", nil, map[string]any{
			"dropped_id": dropped.ID,
			"max_queue":  cfg.MaxQueueSize,
		})
	}

	q.pending = append(q.pending, rec)

	// The accumulation timer starts when a window opens (first record
	// after a flush) and is not reset by later enqueues, so a steady
	// trickle cannot starve flushing.
	if len(q.pending) == 1 {
		q.log.Trace("accumulation window opened", map[string]any{
			"state": string(BatchAccumulating),
		})
		if cfg.BatchTimeout > 0 {
			q.windowTimer = time.AfterFunc(cfg.BatchTimeout, q.timeoutFlush)
		}
	}

	if cfg.BatchSize > 0 && len(q.pending) >= cfg.BatchSize {
		q.flushLocked(nil)
	}

	return true
}

// timeoutFlush fires when the accumulation window expires.
func (q *Queue) timeoutFlush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(q.pending) == 0 {
		return
	}
	q.flushLocked(nil)
}

// Flush builds a batch from everything pending and waits until the
// dispatcher has finished with it, or ctx expires. Intended for
// teardown hooks: it never hangs past ctx.
func (q *Queue) Flush(ctx context.Context) error {
	done := make(chan struct{})

	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		close(done)
	} else {
		q.flushLocked(done)
		q.mu.Unlock()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// flushLocked moves the pending records into an immutable batch and
// hands it to the dispatcher. Callers hold q.mu.
func (q *Queue) flushLocked(done chan struct{}) {
	if q.windowTimer != nil {
		q.windowTimer.Stop()
		q.windowTimer = nil
	}

	if len(q.pending) == 0 {
		if done != nil {
			close(done)
		}
		return
	}

	records := q.pending
	q.pending = nil

	cfg := q.cfg.Get()
	batch := newBatch(
		records,
		q.crumbs.Snapshot(),
		q.contexts.CollectUser(),
		q.contexts.CollectEnvironment(),
		q.contexts.CollectPerformance(),
	)
	NewRedactor(cfg.Privacy).ApplyBatch(batch)

	q.statsMu.Lock()
	q.stats.LastFlush = batch.CreatedAt
	q.statsMu.Unlock()

	q.log.Debug("batch flushed", map[string]any{
		"batch_id": batch.BatchID,
		"records":  len(batch.Records),
		"state":    string(BatchFlushing),
	})

	select {
	case q.dispatchCh <- dispatchItem{batch: batch, done: done}:
	default:
		// Dispatcher is saturated; losing telemetry beats blocking.
		q.statsMu.Lock()
		q.stats.BatchesDropped++
		q.statsMu.Unlock()
		q.log.Error("dispatch backlog full, dropping batch", nil, map[string]any{
			"batch_id": batch.BatchID,
			"records":  len(batch.Records),
			"state":    string(BatchDropped),
		})
		if done != nil {
			close(done)
		}
	}
}

// dispatchLoop delivers batches in flush order.
func (q *Queue) dispatchLoop() {
	defer q.wg.Done()
	for {
		select {
		case item := <-q.dispatchCh:
			q.deliver(item.batch)
			if item.done != nil {
				close(item.done)
			}
		case <-q.done:
			// Drain whatever was flushed before close.
			for {
				select {
				case item := <-q.dispatchCh:
					q.deliver(item.batch)
					if item.done != nil {
						close(item.done)
					}
				default:
					return
				}
			}
		}
	}
}

// deliver walks the fallback chain, retrying the whole chain with
// exponential backoff up to the configured cap, then drops the batch.
func (q *Queue) deliver(batch *Batch) {
	cfg := q.cfg.Get()

	q.mu.Lock()
	backends := append([]Backend(nil), q.backends...)
	q.mu.Unlock()

	if len(backends) == 0 {
		// No backends configured: local-only deployment, not a failure.
		q.statsMu.Lock()
		q.stats.BatchesSent++
		q.statsMu.Unlock()
		return
	}

	bo := backoff.NewExponentialBackOff()

retry:
	for attempt := 0; ; attempt++ {
		if q.attemptChain(batch, backends, cfg.DispatchTimeout) {
			q.statsMu.Lock()
			q.stats.BatchesSent++
			q.statsMu.Unlock()
			q.log.Debug("batch delivered", map[string]any{
				"batch_id": batch.BatchID,
				"state":    string(BatchDelivered),
			})
			return
		}

		if attempt >= cfg.MaxRetries {
			break
		}

		q.statsMu.Lock()
		q.stats.DispatchRetries++
		q.statsMu.Unlock()
		q.log.Debug("batch delivery retrying", map[string]any{
			"batch_id": batch.BatchID,
			"attempt":  attempt + 1,
			"state":    string(BatchRetrying),
		})

		select {
		case <-time.After(bo.NextBackOff()):
		case <-q.done:
			// Teardown abandons the retry wait.
			break retry
		}
	}

	q.statsMu.Lock()
	q.stats.BatchesDropped++
	q.statsMu.Unlock()
	q.log.Error("batch dropped after retries exhausted", nil, map[string]any{
		"batch_id": batch.BatchID,
		"records":  len(batch.Records),
		"retries":  cfg.MaxRetries,
		"state":    string(BatchDropped),
	})
}

// attemptChain tries each backend once, in order. The same batch moves
// down the chain; the first acceptance wins.
func (q *Queue) attemptChain(batch *Batch, backends []Backend, timeout time.Duration) bool {
	for _, b := range backends {
		ctx := context.Background()
		cancel := func() {}
		if timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, timeout)
		}
		err := b.Send(ctx, batch)
		cancel()

		if err == nil {
			return true
		}
		q.log.Warn("backend rejected batch", err, map[string]any{
			"backend":  b.Name(),
			"batch_id": batch.BatchID,
		})
	}
	return false
}

// Statistics returns a snapshot for local diagnostics.
func (q *Queue) Statistics() Statistics {
	q.mu.Lock()
	depth := len(q.pending)
	q.mu.Unlock()

	q.statsMu.Lock()
	defer q.statsMu.Unlock()
	s := q.stats
	s.QueueDepth = depth
	return s
}

// Close stops the dispatcher after draining already-flushed batches.
// Pending unflushed records are discarded; call Flush first for
// best-effort delivery.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	if q.windowTimer != nil {
		q.windowTimer.Stop()
		q.windowTimer = nil
	}
	q.mu.Unlock()

	close(q.done)
	q.wg.Wait()
}
