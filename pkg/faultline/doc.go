// Package faultline provides client-side error classification, local
// diagnostics, and batched error reporting for Go applications.
//
// faultline captures failures from anywhere in a host application,
// classifies them into a typed ErrorRecord with a recommended recovery
// action, keeps a bounded breadcrumb trail of recent events, and ships
// batches of records to one or more telemetry backends with sampling,
// fallback, and bounded retry.
//
// # Core Components
//
// The library is organized around these concepts:
//
//   - ErrorRecord: The canonical classified failure with kind, severity, and context
//   - Classifier: Maps a raw failure into an ErrorRecord plus a user-facing outcome
//   - Queue: Batches records and dispatches them across a backend fallback chain
//   - Backend: Destination for report batches (httpapi, stderr, multi, noop)
//   - Pipeline: The wired-together facade the host application talks to
//
// # Quick Start
//
//	p := faultline.New(
//	    faultline.WithConfig(config.Production()),
//	    faultline.WithBackends(httpapi.New("https://errors.example.com/ingest", "key")),
//	)
//	defer p.Close()
//
//	id := p.Report(err, "checkout", map[string]any{"order": orderID})
//
// For panic capture in handlers and goroutines, see package hooks.
//
// # Design Principles
//
//   - The pipeline never propagates a failure back into host code: classification
//     and dispatch errors degrade to local-only logging
//   - Batches are immutable once built: delivered, retried, or dropped whole
//   - Telemetry loss is acceptable; blocking the host application is not
package faultline
