// Package otel provides structured observability for fedline.
//
// Events are typed structs serialized as JSONL lines. The Logger writes
// events asynchronously via a buffered channel and background drain
// goroutine, so emitting from the UI thread never blocks on disk.
package otel

import (
	"encoding/json"
	"time"
)

// Level defines event severity for filtering.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// EventKind identifies the category of an observability event.
// Dot-delimited: "<subsystem>.<action>".
type EventKind string

const (
	// Refresh controller
	KindRefreshStart    EventKind = "refresh.start"
	KindRefreshComplete EventKind = "refresh.complete"
	KindRefreshStale    EventKind = "refresh.stale"
	KindRefreshCancel   EventKind = "refresh.cancel"
	KindFetchError      EventKind = "fetch.error"

	// Timeline mutations
	KindMergeBuffer EventKind = "merge.buffer"
	KindRemove      EventKind = "timeline.remove"

	// Pagination
	KindPageStart EventKind = "page.start"
	KindPageLoad  EventKind = "page.load"
	KindPageError EventKind = "page.error"

	// Position tracking
	KindAnchorRestore EventKind = "anchor.restore"
	KindAnchorPersist EventKind = "anchor.persist"

	// System events
	KindStartup  EventKind = "sys.startup"
	KindShutdown EventKind = "sys.shutdown"
	KindError    EventKind = "sys.error"
)

// Event is the universal observability record. Every field except Kind and
// Time is optional. Serialized as a single JSONL line.
type Event struct {
	Time       time.Time      `json:"t"`
	Level      Level          `json:"level,omitempty"`
	Kind       EventKind      `json:"kind"`
	Comp       string         `json:"comp,omitempty"`       // component: "refresh", "paging", "engine", "ui"
	SessionID  string         `json:"session_id,omitempty"` // one per aggregation session
	Generation uint64         `json:"gen,omitempty"`        // refresh generation
	Dur        time.Duration  `json:"-"`                    // not serialized directly
	DurMs      float64        `json:"dur_ms,omitempty"`     // computed from Dur at marshal time
	Count      int            `json:"count,omitempty"`
	Account    string         `json:"account,omitempty"`
	EntryID    string         `json:"entry_id,omitempty"`
	Err        string         `json:"err,omitempty"`
	Msg        string         `json:"msg,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// MarshalJSON implements json.Marshaler, converting Dur to DurMs.
func (e Event) MarshalJSON() ([]byte, error) {
	type Alias Event
	a := struct {
		Alias
	}{Alias: Alias(e)}
	if e.Dur > 0 {
		a.DurMs = float64(e.Dur) / float64(time.Millisecond)
	}
	return json.Marshal(a)
}
