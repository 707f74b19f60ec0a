package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/abelbrown/fedline/internal/refresh"
	"github.com/abelbrown/fedline/internal/source"
	"github.com/abelbrown/fedline/internal/timeline"
)

// TimeBand returns a display string for grouping entries by age.
func TimeBand(now, created time.Time) string {
	age := now.Sub(created)
	switch {
	case age < 15*time.Minute:
		return "Just Now"
	case age < 1*time.Hour:
		return "Past Hour"
	case age < 24*time.Hour:
		return "Today"
	case age < 48*time.Hour:
		return "Yesterday"
	default:
		return "Older"
	}
}

// viewport is everything RenderStream needs to lay out one frame.
type viewport struct {
	Top    int // first entry on screen; the reading anchor
	Cursor int
	Unread int // entries above this index are unread
	Width  int
	Height int
	Now    time.Time
}

func entryLines(o Options) int {
	if o.Compact {
		return 1
	}
	return 2
}

// startsBand reports whether entry i gets a band header when the screen
// starts at top.
func startsBand(entries timeline.Seq, i, top int, now time.Time) bool {
	if i == top {
		return true
	}
	return TimeBand(now, entries[i].CreatedAt) != TimeBand(now, entries[i-1].CreatedAt)
}

// fit returns how many entries starting at top fit in height lines. At
// least one entry is always reported so scrolling makes progress on tiny
// terminals.
func fit(entries timeline.Seq, top, height int, o Options, now time.Time) int {
	lines, n := 0, 0
	for i := top; i < len(entries); i++ {
		need := entryLines(o)
		if o.TimeBands && startsBand(entries, i, top, now) {
			need++
		}
		if lines+need > height {
			break
		}
		lines += need
		n++
	}
	if n == 0 && top < len(entries) {
		n = 1
	}
	return n
}

// RenderStream renders the entries from vp.Top down, with time band headers
// when enabled.
func RenderStream(entries timeline.Seq, vp viewport, o Options) string {
	if len(entries) == 0 {
		return HelpStyle.Render("Nothing here yet. Press 'r' to refresh.")
	}

	var b strings.Builder
	n := fit(entries, vp.Top, vp.Height, o, vp.Now)
	for i := vp.Top; i < vp.Top+n; i++ {
		if o.TimeBands && startsBand(entries, i, vp.Top, vp.Now) {
			b.WriteString(TimeBandHeader.Render(TimeBand(vp.Now, entries[i].CreatedAt)))
			b.WriteString("\n")
		}
		for _, line := range renderEntry(entries[i], i == vp.Cursor, i < vp.Unread, vp.Width, o, vp.Now) {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return b.String()
}

var platformBadges = map[source.Platform]string{
	source.PlatformMastodon: "masto",
	source.PlatformBluesky:  "bsky",
	source.PlatformFeed:     "feed",
}

func badge(p source.Platform) string {
	if s, ok := platformBadges[p]; ok {
		return s
	}
	return string(p)
}

// marker prefixes an entry with what kind of observation it is.
func marker(e timeline.Entry) string {
	switch e.Kind {
	case timeline.KindBoost:
		return "↻ " + e.BoostedBy + " boosted"
	case timeline.KindReply:
		return "↳ reply"
	}
	return ""
}

// flatten collapses content onto one line.
func flatten(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// renderEntry renders one entry as one line (compact) or two (comfortable).
func renderEntry(e timeline.Entry, selected, unread bool, width int, o Options, now time.Time) []string {
	if width < 20 {
		width = 20
	}
	post := e.Post
	age := formatAgeShort(now, e.CreatedAt)
	dot := " "
	if unread {
		dot = "•"
	}

	if o.Compact {
		left := fmt.Sprintf("%s %s %s: ", dot, badge(post.Platform), post.AuthorHandle)
		if m := marker(e); m != "" {
			left = fmt.Sprintf("%s %s %s (%s): ", dot, badge(post.Platform), post.AuthorHandle, m)
		}
		avail := width - runewidth.StringWidth(left) - runewidth.StringWidth(age) - 1
		body := runewidth.Truncate(flatten(post.Content), max(avail, 0), "…")
		pad := width - runewidth.StringWidth(left+body) - runewidth.StringWidth(age)
		line := left + body + strings.Repeat(" ", max(pad, 1)) + age
		return []string{styleLine(line, selected, unread, width)}
	}

	meta := fmt.Sprintf("%s %s", dot, SourceBadge.Render(badge(post.Platform)))
	who := " " + post.AuthorHandle + " · " + age
	if m := marker(e); m != "" {
		style := MetaItem
		switch e.Kind {
		case timeline.KindBoost:
			style = BoostMarker
		case timeline.KindReply:
			style = ReplyMarker
		}
		who += "  " + style.Render(m)
	}
	body := "  " + runewidth.Truncate(flatten(post.Content), width-3, "…")

	if selected {
		plainMeta := runewidth.Truncate(fmt.Sprintf("%s [%s]%s", dot, badge(post.Platform), stripMarkup(who)), width, "…")
		return []string{styleLine(plainMeta, true, unread, width), styleLine(body, true, unread, width)}
	}
	return []string{meta + MetaItem.Render(who), styleLine(body, false, unread, width)}
}

func styleLine(line string, selected, unread bool, width int) string {
	switch {
	case selected:
		return SelectedItem.Width(width).Render(line)
	case unread:
		return UnreadItem.Render(line)
	default:
		return NormalItem.Render(line)
	}
}

// stripMarkup removes ANSI escape sequences so a line can be restyled.
func stripMarkup(s string) string {
	var b strings.Builder
	inEsc := false
	for _, r := range s {
		switch {
		case r == 0x1b:
			inEsc = true
		case inEsc && r == 'm':
			inEsc = false
		case !inEsc:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func formatAgeShort(now, created time.Time) string {
	age := now.Sub(created)
	switch {
	case age < time.Minute:
		return "now"
	case age < time.Hour:
		return fmt.Sprintf("%dm", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh", int(age.Hours()))
	default:
		return fmt.Sprintf("%dd", int(age.Hours()/24))
	}
}

// RenderHeader renders the top line: the new-posts pill when entries are
// buffered, otherwise the refresh state.
func RenderHeader(bufferCount int, state refresh.State, spin string, width int) string {
	if bufferCount > 0 {
		noun := "posts"
		if bufferCount == 1 {
			noun = "post"
		}
		pill := NewPostsPill.Render(fmt.Sprintf("↑ %d new %s · n to show", bufferCount, noun))
		return lipgloss.PlaceHorizontal(width, lipgloss.Center, pill)
	}
	text := "fedline"
	if state == refresh.StateFetching {
		text = spin + " refreshing…"
	}
	return HeaderBar.Width(width).Render(text)
}

// statusLine is the data shown in the bottom bar.
type statusLine struct {
	Pos, Total  int
	Unread      int
	LoadingPage bool
	HasNext     bool
	PageRetry   bool
	Spinner     string
	Hints       string
}

// RenderStatusBar renders the bottom status bar with position and key hints.
func RenderStatusBar(s statusLine, width int) string {
	left := fmt.Sprintf(" %d/%d ", s.Pos+1, s.Total)
	if s.Total == 0 {
		left = " 0/0 "
	}
	if s.Unread > 0 {
		left += StatusBarKey.Render(fmt.Sprintf("↑%d unread ", s.Unread))
	}
	switch {
	case s.LoadingPage:
		left += StatusBarText.Render(s.Spinner + " loading older ")
	case s.PageRetry:
		left += StatusBarText.Render("older posts unavailable, retrying ")
	case !s.HasNext && s.Total > 0:
		left += StatusBarText.Render("· end ")
	}

	padding := width - lipgloss.Width(left) - lipgloss.Width(s.Hints) - 2
	if padding < 0 {
		padding = 0
	}
	return StatusBar.Width(width).Render(left + strings.Repeat(" ", padding) + s.Hints)
}
