// Package ui provides the Bubble Tea TUI for fedline.
package ui

import (
	"github.com/abelbrown/fedline/internal/paging"
	"github.com/abelbrown/fedline/internal/refresh"
)

// RefreshDone is sent when a refresh job finishes fetching.
type RefreshDone struct {
	Result refresh.Result
}

// PageLoaded is sent when a pagination job finishes.
type PageLoaded struct {
	Result paging.Result
}

// RefreshTick triggers a periodic refresh. Ignored while one is in flight.
type RefreshTick struct{}

// RefreshRequested forces a refresh, superseding any in flight.
type RefreshRequested struct{}

// MergeRequested asks for the buffer to be merged into view.
type MergeRequested struct{}

// AnchorReported moves the reading position to an entry, as if the reader
// had scrolled it to the top of the viewport.
type AnchorReported struct {
	ID     string
	Offset int
}

// RemoveRequested drops entries that were deleted or muted upstream.
type RemoveRequested struct {
	IDs []string
}
