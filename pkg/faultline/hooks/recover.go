// Package hooks wires the global interception points into the error
// pipeline: panic capture, detached-goroutine capture, an HTTP client
// interceptor, a render-failure boundary, and long-task detection.
// Every attachment is idempotent and none of them ever re-panics into
// host code.
package hooks

import (
	"fmt"
	"runtime/debug"

	"github.com/faultline/faultline-go/pkg/faultline"
)

// Recover captures a panic, reports it through the pipeline, and
// returns the recovered value. It does NOT re-panic. It must be
// deferred directly; inside a deferred closure recover() no longer
// sees the panic, so use RecoverValue there instead.
//
// Use in defer:
//
//	func handler() {
//	    defer hooks.Recover(pipeline)
//	    // code that might panic
//	}
func Recover(p *faultline.Pipeline) any {
	r := recover()
	if r == nil {
		return nil
	}
	reportPanic(p, r, faultline.SourcePanic)
	return r
}

// RecoverValue reports an already-recovered panic value and returns
// it. It is the form for deferred closures, which must call recover()
// themselves:
//
//	func handler() (err error) {
//	    defer func() {
//	        if r := hooks.RecoverValue(pipeline, recover()); r != nil {
//	            err = fmt.Errorf("panic: %v", r)
//	        }
//	    }()
//	    // code that might panic
//	}
func RecoverValue(p *faultline.Pipeline, recovered any) any {
	if recovered == nil {
		return nil
	}
	reportPanic(p, recovered, faultline.SourcePanic)
	return recovered
}

// Go runs fn on a new goroutine, reporting any panic that escapes it.
// This is the capture point for failures nothing else is positioned to
// observe, tagged source=goroutine.
func Go(p *faultline.Pipeline, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				reportPanic(p, r, faultline.SourceGoroutine)
			}
		}()
		fn()
	}()
}

func reportPanic(p *faultline.Pipeline, recovered any, source string) {
	raw := faultline.RawError{
		Message:   formatRecovered(recovered),
		StackText: string(debug.Stack()),
	}
	p.ReportRaw(raw, source, nil)
}

// formatRecovered formats a recovered panic value as a string.
func formatRecovered(recovered any) string {
	if recovered == nil {
		return "<nil>"
	}
	if err, ok := recovered.(error); ok {
		return err.Error()
	}
	return fmt.Sprintf("%v", recovered)
}
