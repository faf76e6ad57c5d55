// Package multi provides a backend that mirrors every batch to several
// backends. Use it when a deployment wants parallel shipping rather
// than the queue's fallback chain; errors are aggregated.
package multi

import (
	"context"
	"errors"
	"fmt"

	"github.com/faultline/faultline-go/pkg/faultline"
)

// backend fans out to multiple backends.
type backend struct {
	targets []faultline.Backend
}

// New creates a backend that sends every batch to all targets. The
// send fails only if every target fails, so a single healthy mirror
// keeps the batch delivered.
func New(targets ...faultline.Backend) faultline.Backend {
	return &backend{targets: targets}
}

// Name identifies the backend in logs and statistics.
func (b *backend) Name() string {
	return "multi"
}

// Send delivers to all targets, even when some fail.
func (b *backend) Send(ctx context.Context, batch *faultline.Batch) error {
	var errs []error
	delivered := false
	for _, t := range b.targets {
		if err := t.Send(ctx, batch); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
		} else {
			delivered = true
		}
	}
	if delivered {
		return nil
	}
	return errors.Join(errs...)
}
