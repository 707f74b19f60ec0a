package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/abelbrown/fedline/internal/otel"
)

// debugPanelChrome is the number of terminal lines consumed by DebugPanel's
// border (top + bottom = 2) and vertical padding (top + bottom = 2).
// Must be updated if DebugPanel style changes.
const debugPanelChrome = 4

// debugOverlay renders engine stats and recent events from the ring.
// Returns empty string if ring is nil.
func debugOverlay(ring *otel.RingBuffer, now time.Time, width, height int) string {
	if ring == nil {
		return ""
	}

	stats := ring.Stats()
	recent := ring.Last(20)

	var lines []string
	lines = append(lines, DebugHeaderStyle.Render("Engine"))
	lines = append(lines, fmt.Sprintf("  Refreshes:  %d started, %d complete, %d stale, %d canceled",
		stats[otel.KindRefreshStart], stats[otel.KindRefreshComplete], stats[otel.KindRefreshStale], stats[otel.KindRefreshCancel]))
	lines = append(lines, fmt.Sprintf("  Fetches:    %d errors", stats[otel.KindFetchError]))
	lines = append(lines, fmt.Sprintf("  Pages:      %d started, %d loaded, %d errors",
		stats[otel.KindPageStart], stats[otel.KindPageLoad], stats[otel.KindPageError]))
	lines = append(lines, fmt.Sprintf("  Timeline:   %d merges, %d removals",
		stats[otel.KindMergeBuffer], stats[otel.KindRemove]))
	lines = append(lines, fmt.Sprintf("  Anchor:     %d restores, %d persisted",
		stats[otel.KindAnchorRestore], stats[otel.KindAnchorPersist]))
	lines = append(lines, fmt.Sprintf("  Ring:       %d / %d events", ring.Len(), ring.Cap()))
	lines = append(lines, "")

	lines = append(lines, DebugHeaderStyle.Render("Recent Events"))
	for _, e := range recent {
		line := fmt.Sprintf("  %6s  %-16s", formatAge(now.Sub(e.Time)), string(e.Kind))
		if e.Generation > 0 {
			line += fmt.Sprintf("  gen:%d", e.Generation)
		}
		if e.Account != "" {
			line += "  " + runewidth.Truncate(e.Account, 24, "…")
		}
		if e.Msg != "" {
			line += "  " + runewidth.Truncate(e.Msg, 40, "…")
		}
		if e.Err != "" {
			line += "  ERR:" + runewidth.Truncate(e.Err, 30, "…")
		}
		lines = append(lines, line)
	}

	maxHeight := max(height-debugPanelChrome, 1)
	if len(lines) > maxHeight {
		lines = lines[:maxHeight]
	}

	panelWidth := min(96, width-4)
	if panelWidth < 20 {
		panelWidth = 20
	}
	return DebugPanel.Width(panelWidth).Render(strings.Join(lines, "\n"))
}

// formatAge formats a duration as a compact human string.
// Handles negative durations from clock skew by clamping to "0ms".
func formatAge(d time.Duration) string {
	if d < 0 {
		return "0ms"
	}
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return fmt.Sprintf("%.0fm", d.Minutes())
	}
}

// debugStatusBar renders the status bar for the debug overlay.
func debugStatusBar(width int) string {
	keys := StatusBarKey.Render("D") + StatusBarText.Render(":close")
	return StatusBar.Width(width).Render("  [DEBUG]  " + keys)
}
