package ui

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/abelbrown/fedline/internal/refresh"
	"github.com/abelbrown/fedline/internal/source"
	"github.com/abelbrown/fedline/internal/timeline"
)

var streamNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// makeEntries creates n entries one minute apart, newest first.
func makeEntries(n int) timeline.Seq {
	seq := make(timeline.Seq, n)
	for i := range seq {
		at := streamNow.Add(-time.Duration(i) * time.Minute)
		seq[i] = timeline.Entry{
			ID:        fmt.Sprintf("e%02d", i),
			CreatedAt: at,
			Post: timeline.Post{
				Platform:     source.PlatformMastodon,
				AuthorHandle: "author",
				Content:      fmt.Sprintf("entry %d", i),
				CreatedAt:    at,
			},
		}
	}
	return seq
}

// makeEntriesWithBands spreads entries across bands: the first 5 are
// "Just Now", the next 10 "Past Hour", the rest "Today".
func makeEntriesWithBands(n int) timeline.Seq {
	seq := makeEntries(n)
	for i := range seq {
		var at time.Time
		switch {
		case i < 5:
			at = streamNow.Add(-time.Duration(i) * time.Minute)
		case i < 15:
			at = streamNow.Add(-20*time.Minute - time.Duration(i)*time.Minute)
		default:
			at = streamNow.Add(-2*time.Hour - time.Duration(i)*time.Minute)
		}
		seq[i].CreatedAt = at
		seq[i].Post.CreatedAt = at
	}
	return seq
}

func TestTimeBand(t *testing.T) {
	tests := []struct {
		age  time.Duration
		want string
	}{
		{time.Minute, "Just Now"},
		{30 * time.Minute, "Past Hour"},
		{5 * time.Hour, "Today"},
		{30 * time.Hour, "Yesterday"},
		{72 * time.Hour, "Older"},
	}
	for _, tt := range tests {
		if got := TimeBand(streamNow, streamNow.Add(-tt.age)); got != tt.want {
			t.Errorf("TimeBand(-%v) = %q, want %q", tt.age, got, tt.want)
		}
	}
}

func TestFit(t *testing.T) {
	entries := makeEntries(50)
	tests := []struct {
		name   string
		top    int
		height int
		opts   Options
		want   int
	}{
		{"compact", 0, 10, Options{Compact: true}, 10},
		{"comfortable", 0, 10, Options{}, 5},
		{"comfortable odd height", 0, 11, Options{}, 5},
		{"near tail", 45, 10, Options{Compact: true}, 5},
		{"tiny terminal", 0, 1, Options{}, 1},
		{"bands add one header", 0, 10, Options{Compact: true, TimeBands: true}, 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fit(entries, tt.top, tt.height, tt.opts, streamNow); got != tt.want {
				t.Errorf("fit = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFitCountsBandHeaders(t *testing.T) {
	entries := makeEntriesWithBands(30)
	o := Options{Compact: true, TimeBands: true}

	// header + 5 "Just Now", header + 4 "Past Hour"
	if got := fit(entries, 0, 11, o, streamNow); got != 9 {
		t.Errorf("fit from 0 = %d, want 9", got)
	}
	// starting mid-band still shows the band header
	if got := fit(entries, 7, 5, o, streamNow); got != 4 {
		t.Errorf("fit from 7 = %d, want 4", got)
	}
}

func TestRenderStreamEmpty(t *testing.T) {
	out := RenderStream(nil, viewport{Width: 80, Height: 10, Now: streamNow}, Options{})
	if !strings.Contains(out, "refresh") {
		t.Errorf("empty stream should hint at refresh, got %q", out)
	}
}

func TestRenderStreamBandsAndWindow(t *testing.T) {
	entries := makeEntriesWithBands(30)
	vp := viewport{Top: 3, Cursor: 4, Width: 80, Height: 8, Now: streamNow}
	out := RenderStream(entries, vp, Options{Compact: true, TimeBands: true})

	if !strings.Contains(out, "Just Now") || !strings.Contains(out, "Past Hour") {
		t.Errorf("missing band headers:\n%s", out)
	}
	if strings.Contains(out, "entry 2\n") || strings.Contains(out, "entry 2 ") {
		t.Error("entries above top should not render")
	}
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) > vp.Height {
		t.Errorf("rendered %d lines into height %d", len(lines), vp.Height)
	}
}

func TestRenderEntryMarkers(t *testing.T) {
	boost := makeEntries(1)[0]
	boost.Kind = timeline.KindBoost
	boost.BoostedBy = "friend"
	reply := makeEntries(1)[0]
	reply.Kind = timeline.KindReply

	for _, o := range []Options{{}, {Compact: true}} {
		b := strings.Join(renderEntry(boost, false, false, 80, o, streamNow), "\n")
		if !strings.Contains(b, "↻ friend boosted") {
			t.Errorf("boost marker missing (compact=%v): %q", o.Compact, b)
		}
		r := strings.Join(renderEntry(reply, false, false, 80, o, streamNow), "\n")
		if !strings.Contains(r, "↳ reply") {
			t.Errorf("reply marker missing (compact=%v): %q", o.Compact, r)
		}
	}
}

func TestRenderEntryTruncatesWideContent(t *testing.T) {
	e := makeEntries(1)[0]
	e.Post.Content = strings.Repeat("日本語", 40)
	for _, o := range []Options{{}, {Compact: true}} {
		for _, line := range renderEntry(e, false, false, 40, o, streamNow) {
			if w := runewidth.StringWidth(stripMarkup(line)); w > 40 {
				t.Errorf("line width %d exceeds 40 (compact=%v): %q", w, o.Compact, line)
			}
		}
	}
}

func TestRenderEntryUnreadDot(t *testing.T) {
	e := makeEntries(1)[0]
	line := renderEntry(e, false, true, 80, Options{Compact: true}, streamNow)[0]
	if !strings.Contains(line, "•") {
		t.Errorf("unread entry should carry a dot: %q", line)
	}
}

func TestFormatAgeShort(t *testing.T) {
	tests := []struct {
		age  time.Duration
		want string
	}{
		{10 * time.Second, "now"},
		{5 * time.Minute, "5m"},
		{3 * time.Hour, "3h"},
		{50 * time.Hour, "2d"},
	}
	for _, tt := range tests {
		if got := formatAgeShort(streamNow, streamNow.Add(-tt.age)); got != tt.want {
			t.Errorf("formatAgeShort(%v) = %q, want %q", tt.age, got, tt.want)
		}
	}
}

func TestRenderHeader(t *testing.T) {
	if got := RenderHeader(1, refresh.StateBuffered, "", 60); !strings.Contains(got, "1 new post ") {
		t.Errorf("singular pill: %q", got)
	}
	if got := RenderHeader(4, refresh.StateBuffered, "", 60); !strings.Contains(got, "4 new posts") {
		t.Errorf("plural pill: %q", got)
	}
	if got := RenderHeader(0, refresh.StateFetching, "*", 60); !strings.Contains(got, "refreshing") {
		t.Errorf("fetching header: %q", got)
	}
}

func TestRenderStatusBar(t *testing.T) {
	out := RenderStatusBar(statusLine{Pos: 4, Total: 20, Unread: 2, HasNext: true}, 80)
	if !strings.Contains(out, "5/20") || !strings.Contains(out, "↑2 unread") {
		t.Errorf("status = %q", out)
	}
	if out := RenderStatusBar(statusLine{Total: 3}, 80); !strings.Contains(out, "end") {
		t.Errorf("exhausted timeline should say so: %q", out)
	}
	if out := RenderStatusBar(statusLine{Total: 3, LoadingPage: true, Spinner: "~"}, 80); !strings.Contains(out, "loading older") {
		t.Errorf("loading page: %q", out)
	}
	if out := RenderStatusBar(statusLine{Total: 3, HasNext: true, PageRetry: true}, 80); !strings.Contains(out, "older posts unavailable") {
		t.Errorf("page retry hint: %q", out)
	}
}
