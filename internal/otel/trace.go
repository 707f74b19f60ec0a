package otel

import (
	"os"
	"sync/atomic"
)

// traceEnabled is set once at package init. Atomic so tests can flip it
// while the UI goroutine reads it.
var traceEnabled atomic.Bool

func init() {
	traceEnabled.Store(os.Getenv("FEDLINE_TRACE") != "")
}

// TraceEnabled reports whether FEDLINE_TRACE is set. High-frequency events
// (one per scroll step) are only emitted when it is.
func TraceEnabled() bool {
	return traceEnabled.Load()
}

// SetTraceEnabled overrides the flag. For tests and the CLI.
func SetTraceEnabled(v bool) {
	traceEnabled.Store(v)
}
