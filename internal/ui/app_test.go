package ui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/abelbrown/fedline/internal/engine"
	"github.com/abelbrown/fedline/internal/normalize"
	"github.com/abelbrown/fedline/internal/refresh"
	"github.com/abelbrown/fedline/internal/source"
)

var (
	testAcct = source.Account{Platform: source.PlatformMastodon, Handle: "@me@example.social"}
	base     = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

// backend serves canned pages per cursor.
type backend struct {
	mu    sync.Mutex
	pages map[source.Cursor]source.Page
	err   error
}

func (b *backend) set(cursor source.Cursor, page source.Page) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pages[cursor] = page
}

func (b *backend) FetchPage(_ context.Context, _ source.Account, _ source.Credentials, cursor source.Cursor) (source.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return source.Page{}, b.err
	}
	return b.pages[cursor], nil
}

type openCreds struct{}

func (openCreds) EnsureValid(context.Context, source.Account) (source.Credentials, error) {
	return source.Credentials{}, nil
}

func rawPost(pid string, minute int) source.RawPost {
	return source.RawPost{
		PlatformID:   pid,
		AuthorHandle: "author",
		Content:      "post " + pid,
		CreatedAt:    base.Add(time.Duration(minute) * time.Minute),
	}
}

// rawPosts returns p<from>..p<from+n-1>, newest first.
func rawPosts(from, n int) []source.RawPost {
	out := make([]source.RawPost, n)
	for i := range out {
		k := from + i
		out[i] = rawPost(fmt.Sprintf("p%d", k), -k)
	}
	return out
}

func entryID(pid string) string { return normalize.StableID(source.PlatformMastodon, pid) }

type testApp struct {
	App
	backend *backend
	now     time.Time
}

// newTestApp returns an App over 30 loaded entries on a terminal showing
// ten compact entries.
func newTestApp(t *testing.T) *testApp {
	t.Helper()
	ta := &testApp{backend: &backend{pages: map[source.Cursor]source.Page{}}, now: base}
	ta.backend.set("", source.Page{Posts: rawPosts(0, 30), Next: "c1", HasMore: true})

	opts := engine.Options{
		Accounts:     []source.Account{testAcct},
		Adapters:     source.Registry{source.PlatformMastodon: ta.backend},
		Credentials:  openCreds{},
		LockDuration: 100 * time.Millisecond,
		Now:          func() time.Time { return ta.now },
	}
	opts.Fetch.NetworkRetries = -1
	opts.Paging.Threshold = 3
	eng := engine.New(opts)

	ta.App = NewApp(context.Background(), eng, nil, Options{Compact: true, Now: func() time.Time { return ta.now }})
	ta.send(tea.WindowSizeMsg{Width: 100, Height: 12})
	ta.run(ta.startRefresh())
	ta.now = ta.now.Add(time.Second) // past the restore lock
	return ta
}

// send delivers msg and returns the resulting command.
func (ta *testApp) send(msg tea.Msg) tea.Cmd {
	m, cmd := ta.App.Update(msg)
	ta.App = m.(App)
	return cmd
}

// run executes cmd synchronously and feeds its message back.
func (ta *testApp) run(cmd tea.Cmd) tea.Cmd {
	if cmd == nil {
		return nil
	}
	return ta.send(cmd())
}

func (ta *testApp) press(keys string) tea.Cmd {
	var cmd tea.Cmd
	for _, r := range keys {
		cmd = ta.send(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	return cmd
}

func TestAppInitialLoad(t *testing.T) {
	ta := newTestApp(t)
	snap := ta.eng.Latest()
	if !snap.Loaded || len(snap.Visible) != 30 {
		t.Fatalf("loaded=%v visible=%d", snap.Loaded, len(snap.Visible))
	}
	if ta.Cursor() != 0 || ta.Top() != 0 {
		t.Errorf("cursor=%d top=%d", ta.Cursor(), ta.Top())
	}
	view := ta.View()
	if !strings.Contains(view, "post p0") {
		t.Errorf("view missing first entry:\n%s", view)
	}
	if strings.Contains(view, "post p10") {
		t.Error("only ten entries fit on screen")
	}
}

func TestAppInitReturnsCommand(t *testing.T) {
	ta := newTestApp(t)
	if ta.Init() == nil {
		t.Fatal("Init should return a command")
	}
}

func TestAppNavigationScrollsAndReportsAnchor(t *testing.T) {
	ta := newTestApp(t)

	ta.press("j")
	if ta.Cursor() != 1 || ta.Top() != 0 {
		t.Errorf("after j: cursor=%d top=%d", ta.Cursor(), ta.Top())
	}
	ta.press("k")
	ta.press("k")
	if ta.Cursor() != 0 {
		t.Errorf("k at top should keep cursor at 0, got %d", ta.Cursor())
	}

	ta.press(strings.Repeat("j", 12))
	if ta.Cursor() != 12 || ta.Top() != 3 {
		t.Errorf("cursor=%d top=%d, want 12/3", ta.Cursor(), ta.Top())
	}
	if got := ta.eng.Latest().AnchorID; got != entryID("p3") {
		t.Errorf("anchor = %s, want p3", got)
	}

	ta.press("g")
	if ta.Cursor() != 0 || ta.Top() != 0 {
		t.Errorf("g: cursor=%d top=%d", ta.Cursor(), ta.Top())
	}
}

func TestAppBottomLoadsNextPage(t *testing.T) {
	ta := newTestApp(t)
	ta.backend.set("c1", source.Page{Posts: rawPosts(30, 10)})

	cmd := ta.press("G")
	if ta.Cursor() != 29 || ta.Top() != 20 {
		t.Fatalf("cursor=%d top=%d", ta.Cursor(), ta.Top())
	}
	if cmd == nil {
		t.Fatal("reaching the tail should start a page load")
	}
	if !ta.eng.Latest().LoadingNextPage {
		t.Error("snapshot should report the page load")
	}

	if next := ta.run(cmd); next != nil {
		t.Error("no further load expected once the tail is far away")
	}
	snap := ta.eng.Latest()
	if len(snap.Visible) != 40 {
		t.Errorf("visible = %d, want 40", len(snap.Visible))
	}
	if snap.HasNextPage {
		t.Error("last page should end pagination")
	}
	if ta.Top() != 20 || snap.AnchorID != entryID("p20") {
		t.Errorf("appending older history moved the anchor: top=%d anchor=%s", ta.Top(), snap.AnchorID)
	}
}

func TestAppMergeKeepsReadingPosition(t *testing.T) {
	ta := newTestApp(t)
	ta.press(strings.Repeat("j", 14))
	if ta.Top() != 5 {
		t.Fatalf("top = %d, want 5", ta.Top())
	}

	newer := []source.RawPost{rawPost("n1", 3), rawPost("n2", 2), rawPost("n3", 1)}
	ta.backend.set("", source.Page{Posts: append(newer, rawPosts(0, 30)...), Next: "c1", HasMore: true})

	ta.run(ta.send(RefreshRequested{}))
	snap := ta.eng.Latest()
	if snap.BufferCount != 3 || len(snap.Visible) != 30 {
		t.Fatalf("buffer=%d visible=%d", snap.BufferCount, len(snap.Visible))
	}
	if !strings.Contains(ta.View(), "3 new posts") {
		t.Errorf("pill missing:\n%s", ta.View())
	}

	ta.press("n")
	snap = ta.eng.Latest()
	if snap.BufferCount != 0 || len(snap.Visible) != 33 {
		t.Fatalf("after merge buffer=%d visible=%d", snap.BufferCount, len(snap.Visible))
	}
	if ta.Top() != 8 || snap.AnchorID != entryID("p5") {
		t.Errorf("top=%d anchor=%s, want 8/p5", ta.Top(), snap.AnchorID)
	}
	if ta.Cursor() != 17 {
		t.Errorf("cursor = %d, want 17 (still on p14)", ta.Cursor())
	}
	if snap.UnreadAbove != 3 {
		t.Errorf("unread = %d, want 3", snap.UnreadAbove)
	}
	if !strings.Contains(ta.View(), "↑3 unread") {
		t.Error("status bar should show unread count")
	}
}

func TestAppMergeAtHeadPinsTop(t *testing.T) {
	ta := newTestApp(t)
	ta.backend.set("", source.Page{Posts: append([]source.RawPost{rawPost("n1", 1)}, rawPosts(0, 30)...)})
	ta.run(ta.send(RefreshRequested{}))

	ta.send(MergeRequested{})
	snap := ta.eng.Latest()
	if ta.Top() != 0 || ta.Cursor() != 0 {
		t.Errorf("top=%d cursor=%d", ta.Top(), ta.Cursor())
	}
	if snap.Visible[0].ID != entryID("n1") || snap.UnreadAbove != 0 {
		t.Errorf("head=%s unread=%d", snap.Visible[0].ID, snap.UnreadAbove)
	}
}

func TestAppRefreshTickSkippedWhileFetching(t *testing.T) {
	ta := newTestApp(t)
	pending := ta.send(RefreshRequested{})
	if ta.eng.Latest().RefreshState != refresh.StateFetching {
		t.Fatal("refresh should be in flight")
	}
	if cmd := ta.send(RefreshTick{}); cmd != nil {
		t.Error("tick should not supersede a refresh in flight")
	}
	ta.run(pending)
	if cmd := ta.send(RefreshTick{}); cmd == nil {
		t.Error("tick should start a refresh when idle")
	}
}

func TestAppHideRemovesEntry(t *testing.T) {
	ta := newTestApp(t)
	ta.press("jj")
	ta.press("x")
	snap := ta.eng.Latest()
	if len(snap.Visible) != 29 {
		t.Fatalf("visible = %d", len(snap.Visible))
	}
	for _, e := range snap.Visible {
		if e.ID == entryID("p2") {
			t.Fatal("hidden entry still visible")
		}
	}
	if ta.Cursor() != ta.Top() {
		t.Errorf("cursor=%d top=%d", ta.Cursor(), ta.Top())
	}
}

func TestAppAnchorReportedMovesViewport(t *testing.T) {
	ta := newTestApp(t)
	ta.send(AnchorReported{ID: entryID("p7")})
	if ta.Top() != 7 || ta.Cursor() != 7 {
		t.Errorf("top=%d cursor=%d", ta.Top(), ta.Cursor())
	}
	if ta.eng.Latest().AnchorID != entryID("p7") {
		t.Error("engine anchor not updated")
	}
}

func TestAppTotalFailureShowsError(t *testing.T) {
	ta := newTestApp(t)
	ta.backend.mu.Lock()
	ta.backend.err = source.Errorf(source.KindNetwork, "fetch", "connection refused")
	ta.backend.mu.Unlock()

	ta.run(ta.send(RefreshRequested{}))
	if !strings.Contains(ta.View(), "Error:") {
		t.Errorf("error bar missing:\n%s", ta.View())
	}
	ta.press("j")
	if strings.Contains(ta.View(), "Error:") {
		t.Error("any key should dismiss the error")
	}
	if len(ta.eng.Latest().Visible) != 30 {
		t.Error("a failed refresh must not touch the visible timeline")
	}
}

func TestAppPageFailureShowsRetryHint(t *testing.T) {
	ta := newTestApp(t)
	ta.backend.mu.Lock()
	ta.backend.err = source.Errorf(source.KindNetwork, "fetch", "connection refused")
	ta.backend.mu.Unlock()

	cmd := ta.press("G")
	if cmd == nil {
		t.Fatal("reaching the tail should start a page load")
	}
	ta.run(cmd)

	view := ta.View()
	if strings.Contains(view, "Error:") {
		t.Errorf("page failures must not use the error bar:\n%s", view)
	}
	if !strings.Contains(view, "older posts unavailable") {
		t.Errorf("retry hint missing:\n%s", view)
	}
	if len(ta.eng.Latest().Visible) != 30 {
		t.Error("a failed page load must not touch the visible timeline")
	}
}

func TestAppDiscardDropsBuffer(t *testing.T) {
	ta := newTestApp(t)
	ta.backend.set("", source.Page{Posts: append([]source.RawPost{rawPost("n1", 1)}, rawPosts(0, 30)...)})
	ta.run(ta.send(RefreshRequested{}))
	ta.press("X")
	if ta.eng.Latest().BufferCount != 0 {
		t.Error("X should drop buffered entries")
	}
}

func TestAppQuit(t *testing.T) {
	ta := newTestApp(t)
	cmd := ta.press("q")
	if cmd == nil {
		t.Fatal("q should return a command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}
}

func TestAppViewBeforeReady(t *testing.T) {
	app := NewApp(context.Background(), engine.New(engine.Options{}), nil, Options{})
	if app.View() != "Loading..." {
		t.Errorf("view = %q", app.View())
	}
}

func TestAppCommandPaletteRunsCommand(t *testing.T) {
	ta := newTestApp(t)
	ta.press(":")
	if !strings.Contains(ta.View(), "enter run") {
		t.Fatal("':' should open the command palette")
	}

	// keys typed into the palette must not reach the timeline bindings
	ta.press("density")
	if ta.Cursor() != 0 || ta.eng.Latest().BufferCount != 0 {
		t.Fatalf("palette input leaked: cursor=%d", ta.Cursor())
	}
	ta.send(tea.KeyMsg{Type: tea.KeyEnter})

	if ta.Compact() {
		t.Error("density should switch to comfortable entries")
	}
	if strings.Contains(ta.View(), "enter run") {
		t.Error("palette should close after running a command")
	}
}

func TestAppCommandPaletteQuit(t *testing.T) {
	ta := newTestApp(t)
	ta.press(":")
	ta.press("quit")
	cmd := ta.send(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("quit should return a command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error(":quit should quit")
	}
}

func TestAppCommandPaletteEscape(t *testing.T) {
	ta := newTestApp(t)
	ta.press(":")
	ta.press("merge")
	ta.send(tea.KeyMsg{Type: tea.KeyEsc})
	ta.press("j")
	if ta.Cursor() != 1 {
		t.Errorf("cursor = %d; keys should reach the timeline after esc", ta.Cursor())
	}
}
