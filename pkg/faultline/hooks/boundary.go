// boundary.go catches synchronous failures inside a UI subtree and
// swaps in a fallback view keyed by the report's error ID.

package hooks

import (
	"fmt"

	"github.com/faultline/faultline-go/pkg/faultline"
)

// FallbackRenderer shows a degraded view for a failed subtree. The
// errorID is visible to the user for support correlation.
type FallbackRenderer func(errorID string)

// Boundary guards a render subtree. A failure (returned error or
// panic) inside Render is classified as a render failure, reported,
// and routed to the fallback renderer; it never escapes the boundary.
type Boundary struct {
	pipeline  *faultline.Pipeline
	component string
	fallback  FallbackRenderer
}

// NewBoundary creates a boundary for the named component. fallback may
// be nil, in which case failures are reported without a degraded view.
func NewBoundary(p *faultline.Pipeline, component string, fallback FallbackRenderer) *Boundary {
	return &Boundary{
		pipeline:  p,
		component: component,
		fallback:  fallback,
	}
}

// Render runs the render func inside the boundary. The returned
// errorID is empty on success.
func (b *Boundary) Render(render func() error) (errorID string) {
	defer func() {
		if r := recover(); r != nil {
			errorID = b.caught(fmt.Errorf("render panic: %v", r))
		}
	}()

	if err := render(); err != nil {
		return b.caught(err)
	}
	return ""
}

// Catch reports an externally observed render failure, for UI layers
// that do their own recovery. componentStack augments the component
// name configured on the boundary.
func (b *Boundary) Catch(err error, componentStack string) string {
	raw := faultline.RawFromError(err)
	raw.StackText = componentStack
	id := b.pipeline.ReportRaw(raw, faultline.SourceRender, map[string]any{"component": b.component})
	if b.fallback != nil {
		b.fallback(id)
	}
	return id
}

func (b *Boundary) caught(err error) string {
	id := b.pipeline.Report(err, faultline.SourceRender, map[string]any{"component": b.component})
	b.pipeline.AddTiming(faultline.TimingSample{
		Kind:      faultline.TimingRender,
		Component: b.component,
	})
	if b.fallback != nil {
		b.fallback(id)
	}
	return id
}
