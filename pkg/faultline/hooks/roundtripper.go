// roundtripper.go intercepts outbound HTTP calls: every response gets
// an http breadcrumb and an API timing sample, and failures are
// classified and reported.

package hooks

import (
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/faultline/faultline-go/pkg/faultline"
)

// maxCapturedBody bounds how much of an error response body is kept
// for classification.
const maxCapturedBody = 2048

// roundTripper wraps a transport with pipeline instrumentation.
type roundTripper struct {
	pipeline *faultline.Pipeline
	next     http.RoundTripper
}

// NewRoundTripper wraps next with error interception. Success
// responses still record breadcrumbs, since they aid diagnosis of the
// failures that follow them.
func NewRoundTripper(p *faultline.Pipeline, next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &roundTripper{pipeline: p, next: next}
}

var instrumentOnce sync.Once

// InstrumentDefaultClient wraps http.DefaultClient's transport once;
// later calls are no-ops.
func InstrumentDefaultClient(p *faultline.Pipeline) {
	instrumentOnce.Do(func() {
		http.DefaultClient.Transport = NewRoundTripper(p, http.DefaultClient.Transport)
	})
}

// RoundTrip implements http.RoundTripper. The response and error are
// returned to the caller unchanged; interception never alters the
// call's outcome.
func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := rt.next.RoundTrip(req)
	elapsed := time.Since(start)

	endpoint := req.Method + " " + req.URL.Path
	crumbData := map[string]any{
		"method":      req.Method,
		"url":         req.URL.Redacted(),
		"duration_ms": elapsed.Milliseconds(),
	}

	status := 0
	if resp != nil {
		status = resp.StatusCode
		crumbData["status"] = status
	}
	if err != nil {
		crumbData["error"] = err.Error()
	}

	rt.pipeline.AddBreadcrumb(endpoint, faultline.CategoryHTTP, crumbData)
	rt.pipeline.AddTiming(faultline.TimingSample{
		Kind:       faultline.TimingAPI,
		Endpoint:   endpoint,
		Duration:   elapsed,
		StatusCode: status,
	})

	if err != nil {
		rt.pipeline.Report(err, faultline.SourceHTTP, map[string]any{"endpoint": endpoint})
		return resp, err
	}

	if status >= 400 {
		rt.pipeline.ReportRaw(faultline.RawError{
			Message: endpoint + " returned " + resp.Status,
			Status:  status,
			Header:  resp.Header,
		}, faultline.SourceHTTP, map[string]any{"endpoint": endpoint, "body": peekBody(resp)})
	}

	return resp, err
}

// peekBody reads a bounded prefix of an error response body and puts
// it back, so the caller still sees the full body.
func peekBody(resp *http.Response) string {
	if resp.Body == nil {
		return ""
	}
	buf := make([]byte, maxCapturedBody)
	n, _ := io.ReadFull(resp.Body, buf)
	rest := resp.Body
	resp.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(strings.NewReader(string(buf[:n])), rest), rest}
	return string(buf[:n])
}
