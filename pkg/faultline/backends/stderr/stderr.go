// Package stderr provides a backend that prints report batches to
// stderr in human-readable form. Useful for development and debugging.
package stderr

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/faultline/faultline-go/pkg/faultline"
)

// Option configures the stderr backend.
type Option func(*backendConfig)

type backendConfig struct {
	verbose bool
	out     io.Writer
}

// WithVerbose enables per-record detail including breadcrumbs.
func WithVerbose() Option {
	return func(c *backendConfig) {
		c.verbose = true
	}
}

// WithWriter redirects output, for tests.
func WithWriter(w io.Writer) Option {
	return func(c *backendConfig) {
		if w != nil {
			c.out = w
		}
	}
}

// backend writes batches to stderr.
type backend struct {
	verbose bool
	out     io.Writer
}

// New creates a backend that writes to stderr.
func New(opts ...Option) faultline.Backend {
	cfg := &backendConfig{out: os.Stderr}
	for _, opt := range opts {
		opt(cfg)
	}
	return &backend{
		verbose: cfg.verbose,
		out:     cfg.out,
	}
}

// Name identifies the backend in logs and statistics.
func (b *backend) Name() string {
	return "stderr"
}

// Send formats and prints the batch.
func (b *backend) Send(ctx context.Context, batch *faultline.Batch) error {
	fmt.Fprintf(b.out, "[FAULTLINE] %s batch %s: %d record(s)\n",
		batch.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), batch.BatchID, len(batch.Records))

	for _, rec := range batch.Records {
		severity := strings.ToUpper(string(rec.Severity))
		fmt.Fprintf(b.out, "        %s %s [%s] %s\n", severity, rec.Kind, rec.Source, rec.Message)
		if b.verbose && rec.Fingerprint != "" {
			fmt.Fprintf(b.out, "          fingerprint: %s id: %s\n", rec.Fingerprint, rec.ID)
		}
	}

	if b.verbose && len(batch.Breadcrumbs) > 0 {
		fmt.Fprintf(b.out, "        Trail:\n")
		for _, crumb := range batch.Breadcrumbs {
			fmt.Fprintf(b.out, "          %s %s %s\n",
				crumb.Timestamp.Format("15:04:05.000"), crumb.Category, crumb.Message)
		}
	}

	return nil
}
