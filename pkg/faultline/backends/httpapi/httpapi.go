// Package httpapi provides a backend that ships report batches as JSON
// to a custom HTTP ingestion endpoint.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/faultline/faultline-go/pkg/faultline"
)

// Option configures the HTTP backend.
type Option func(*backendConfig)

type backendConfig struct {
	name   string
	client *http.Client
}

// WithName overrides the backend name used in logs (default: "httpapi").
func WithName(name string) Option {
	return func(c *backendConfig) {
		if name != "" {
			c.name = name
		}
	}
}

// WithHTTPClient sets the client used for delivery. The default client
// has no timeout of its own; the queue bounds each send with a context.
func WithHTTPClient(client *http.Client) Option {
	return func(c *backendConfig) {
		if client != nil {
			c.client = client
		}
	}
}

// backend POSTs batches to a single endpoint.
type backend struct {
	name     string
	endpoint string
	apiKey   string
	client   *http.Client
}

// New creates a backend delivering to endpoint. apiKey may be empty;
// when set it is sent as a bearer token.
func New(endpoint, apiKey string, opts ...Option) faultline.Backend {
	cfg := &backendConfig{
		name:   "httpapi",
		client: &http.Client{},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return &backend{
		name:     cfg.name,
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   cfg.client,
	}
}

// Name identifies the backend in logs and statistics.
func (b *backend) Name() string {
	return b.name
}

// Send POSTs the batch as JSON. Any non-2xx response is a failure, so
// the queue can move down the fallback chain.
func (b *backend) Send(ctx context.Context, batch *faultline.Batch) error {
	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver batch: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("ingest endpoint returned %d", resp.StatusCode)
	}
	return nil
}
