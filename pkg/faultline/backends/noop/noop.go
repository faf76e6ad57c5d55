// Package noop provides a backend that discards every batch. Useful
// for disabling transmission without rewiring the pipeline.
package noop

import (
	"context"

	"github.com/faultline/faultline-go/pkg/faultline"
)

type backend struct{}

// New creates a backend that accepts and discards all batches.
func New() faultline.Backend {
	return backend{}
}

// Name identifies the backend in logs and statistics.
func (backend) Name() string {
	return "noop"
}

// Send discards the batch.
func (backend) Send(ctx context.Context, batch *faultline.Batch) error {
	return nil
}
