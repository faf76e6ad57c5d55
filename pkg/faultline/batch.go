// batch.go defines the immutable report batch and its delivery states.

package faultline

import (
	"time"

	"github.com/google/uuid"
)

// BatchState tracks a batch through its delivery lifecycle.
type BatchState string

const (
	// BatchAccumulating is the implicit state of the queue's pending
	// records before a batch exists.
	BatchAccumulating BatchState = "accumulating"

	// BatchFlushing means the batch is being dispatched to backends.
	BatchFlushing BatchState = "flushing"

	// BatchDelivered means some backend accepted the batch.
	BatchDelivered BatchState = "delivered"

	// BatchRetrying means every backend failed and the batch is waiting
	// out a backoff interval.
	BatchRetrying BatchState = "retrying"

	// BatchDropped means the retry cap was exhausted; the batch is lost.
	BatchDropped BatchState = "dropped"
)

// Batch is an immutable group of error records plus contextual
// snapshots, sent together to a backend. It is either fully delivered,
// fully retried, or fully dropped; it is never mutated after the queue
// hands it to the dispatcher.
type Batch struct {
	BatchID     string             `json:"batch_id"`
	CreatedAt   time.Time          `json:"created_at"`
	Records     []ErrorRecord      `json:"records"`
	Breadcrumbs []Breadcrumb       `json:"breadcrumbs"`
	User        UserContext        `json:"user"`
	Environment EnvironmentContext `json:"environment"`
	Performance PerformanceContext `json:"performance"`
}

// newBatch assembles a batch from the pending records and current
// snapshots. The records slice is owned by the batch from here on.
func newBatch(records []ErrorRecord, crumbs []Breadcrumb, user UserContext, env EnvironmentContext, perf PerformanceContext) *Batch {
	return &Batch{
		BatchID:     uuid.NewString(),
		CreatedAt:   time.Now(),
		Records:     records,
		Breadcrumbs: crumbs,
		User:        user,
		Environment: env,
		Performance: perf,
	}
}
