// watchdog.go detects long-running tasks and records them as
// performance breadcrumbs. Diagnostic only: a slow task is never
// classified as an error.

package hooks

import (
	"time"

	"github.com/faultline/faultline-go/pkg/faultline"
)

// DefaultLongTaskThreshold flags tasks slower than this.
const DefaultLongTaskThreshold = 5 * time.Second

// Watchdog times named tasks and breadcrumbs the slow ones.
type Watchdog struct {
	pipeline  *faultline.Pipeline
	threshold time.Duration
	now       func() time.Time
}

// NewWatchdog creates a watchdog. A non-positive threshold falls back
// to DefaultLongTaskThreshold.
func NewWatchdog(p *faultline.Pipeline, threshold time.Duration) *Watchdog {
	if threshold <= 0 {
		threshold = DefaultLongTaskThreshold
	}
	return &Watchdog{
		pipeline:  p,
		threshold: threshold,
		now:       time.Now,
	}
}

// Track runs fn, recording a performance breadcrumb when it exceeds
// the threshold. The task's outcome is untouched.
func (w *Watchdog) Track(name string, fn func()) {
	start := w.now()
	fn()
	elapsed := w.now().Sub(start)

	if elapsed >= w.threshold {
		w.pipeline.AddBreadcrumb("long task: "+name, faultline.CategoryPerformance, map[string]any{
			"task":         name,
			"duration_ms":  elapsed.Milliseconds(),
			"threshold_ms": w.threshold.Milliseconds(),
		})
	}
}
