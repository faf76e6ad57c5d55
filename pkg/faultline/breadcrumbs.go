// breadcrumbs.go keeps a bounded FIFO trail of recent events for
// reconstructing what led up to a failure.

package faultline

import (
	"sync"
	"time"
)

// Category classifies a breadcrumb.
type Category string

const (
	CategoryConsole     Category = "console"
	CategoryHTTP        Category = "http"
	CategoryNavigation  Category = "navigation"
	CategoryUserAction  Category = "user-action"
	CategoryPerformance Category = "performance"
	CategoryCustom      Category = "custom"
)

// Breadcrumb is one recorded event.
type Breadcrumb struct {
	Timestamp time.Time      `json:"timestamp"`
	Category  Category       `json:"category"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

// BreadcrumbRecorder holds at most limit breadcrumbs, evicting the
// oldest once full. Recording is O(1) amortized and never blocks or
// panics.
type BreadcrumbRecorder struct {
	mu     sync.Mutex
	crumbs []Breadcrumb
	start  int
	count  int
	limit  int
	now    func() time.Time
}

// DefaultBreadcrumbLimit is used when no limit is configured.
const DefaultBreadcrumbLimit = 50

// NewBreadcrumbRecorder creates a recorder holding at most limit
// entries. Non-positive limits fall back to DefaultBreadcrumbLimit.
func NewBreadcrumbRecorder(limit int) *BreadcrumbRecorder {
	if limit <= 0 {
		limit = DefaultBreadcrumbLimit
	}
	return &BreadcrumbRecorder{
		crumbs: make([]Breadcrumb, limit),
		limit:  limit,
		now:    time.Now,
	}
}

// Record appends a breadcrumb. data may be nil.
func (r *BreadcrumbRecorder) Record(category Category, message string, data map[string]any) {
	defer func() {
		_ = recover()
	}()

	b := Breadcrumb{
		Timestamp: r.now(),
		Category:  category,
		Message:   message,
	}
	if len(data) > 0 {
		b.Data = make(map[string]any, len(data))
		for k, v := range data {
			b.Data[k] = v
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == r.limit {
		r.crumbs[r.start] = b
		r.start = (r.start + 1) % r.limit
	} else {
		r.crumbs[(r.start+r.count)%r.limit] = b
		r.count++
	}
}

// Snapshot returns a copy of the trail, oldest first. The copy is
// never shared with the recorder's internal buffer.
func (r *BreadcrumbRecorder) Snapshot() []Breadcrumb {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Breadcrumb, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.crumbs[(r.start+i)%r.limit])
	}
	return out
}

// Len returns the current trail length.
func (r *BreadcrumbRecorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// SetLimit resizes the trail, keeping the most recent entries. Used
// when a runtime config update changes the breadcrumb cap.
func (r *BreadcrumbRecorder) SetLimit(limit int) {
	if limit <= 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if limit == r.limit {
		return
	}

	kept := r.count
	if kept > limit {
		kept = limit
	}
	next := make([]Breadcrumb, limit)
	for i := 0; i < kept; i++ {
		// Copy the newest `kept` entries, preserving order.
		next[i] = r.crumbs[(r.start+r.count-kept+i)%r.limit]
	}
	r.crumbs = next
	r.start = 0
	r.count = kept
	r.limit = limit
}
