package ui

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/abelbrown/fedline/internal/anchor"
	"github.com/abelbrown/fedline/internal/engine"
	"github.com/abelbrown/fedline/internal/logging"
	"github.com/abelbrown/fedline/internal/otel"
	"github.com/abelbrown/fedline/internal/paging"
	"github.com/abelbrown/fedline/internal/refresh"
	"github.com/abelbrown/fedline/internal/timeline"
	"github.com/abelbrown/fedline/internal/ui/command"
)

// App is the root Bubble Tea model.
// Update is the engine's writer goroutine: every engine mutation happens
// here, and fetch jobs run as commands whose results come back as messages.
// View reads only the published snapshot.
type App struct {
	eng  *engine.Engine
	ctx  context.Context
	ring *otel.RingBuffer // optional; feeds the debug overlay
	opts Options

	keys    keyMap
	help    help.Model
	spinner spinner.Model
	palette command.Palette

	top       int // first entry on screen
	cursor    int
	width     int
	height    int
	ready     bool
	showDebug bool
	err       error

	pageRetry bool // last page load failed for every account
}

// NewApp creates an App driving eng. Jobs started from the UI are bound to
// ctx.
func NewApp(ctx context.Context, eng *engine.Engine, ring *otel.RingBuffer, opts Options) App {
	sp := spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(StatusBarKey))
	return App{
		eng:     eng,
		ctx:     ctx,
		ring:    ring,
		opts:    opts,
		keys:    defaultKeys(),
		help:    help.New(),
		spinner: sp,
		palette: command.New(),
	}
}

// Init starts the spinner and the initial load.
func (a App) Init() tea.Cmd {
	return tea.Batch(a.spinner.Tick, a.startRefresh())
}

func (a App) startRefresh() tea.Cmd {
	return runRefresh(a.eng.StartRefresh(a.ctx))
}

func runRefresh(job *refresh.Job) tea.Cmd {
	return func() tea.Msg {
		return RefreshDone{Result: job.Run()}
	}
}

func runPage(ctx context.Context, job *paging.Job) tea.Cmd {
	return func() tea.Msg {
		return PageLoaded{Result: job.Run(ctx)}
	}
}

// Update handles messages and returns the updated model and any commands.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if a.palette.IsActive() {
			return a.handlePalette(msg)
		}
		return a.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.help.Width = msg.Width
		a.palette.SetWidth(msg.Width)
		a.ready = true
		a.follow()
		return a, a.maybeLoadNext()

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case RefreshDone:
		cursorID := a.cursorID()
		out := a.eng.ApplyRefresh(msg.Result)
		switch out.Status {
		case refresh.StatusOK:
			a.err = nil
		case refresh.StatusPartial, refresh.StatusTotal:
			a.err = out.Err
		}
		if out.Restored {
			a.applyRestore(out.Restore, cursorID)
		}
		return a, a.maybeLoadNext()

	case PageLoaded:
		cursorID := a.cursorID()
		out := a.eng.ApplyPage(msg.Result)
		if !out.Stale {
			a.pageRetry = out.Err != nil
			if out.Err != nil {
				logging.Warn("ui: older posts unavailable", "error", out.Err)
			}
		}
		if out.Restored {
			a.applyRestore(out.Restore, cursorID)
		}
		return a, a.maybeLoadNext()

	case RefreshTick:
		if a.eng.Latest().RefreshState == refresh.StateFetching {
			return a, nil
		}
		return a, a.startRefresh()

	case RefreshRequested:
		return a, a.startRefresh()

	case MergeRequested:
		return a.merge()

	case AnchorReported:
		if a.eng.RecordAnchor(msg.ID, msg.Offset) {
			if i := timeline.IndexOf(a.visible(), msg.ID); i >= 0 {
				a.top, a.cursor = i, i
			}
		}
		return a, a.maybeLoadNext()

	case RemoveRequested:
		cursorID := a.cursorID()
		if r, ok := a.eng.Remove(msg.IDs...); ok {
			a.applyRestore(r, cursorID)
		}
		return a, nil
	}

	if a.palette.IsActive() {
		// cursor blink and other textinput traffic
		return a.handlePalette(msg)
	}
	return a, nil
}

func (a App) handlePalette(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	var name string
	a.palette, cmd, name = a.palette.Update(msg)
	if name == "" {
		return a, cmd
	}
	return a.runCommand(name)
}

// runCommand executes a palette command by name.
func (a App) runCommand(name string) (tea.Model, tea.Cmd) {
	switch name {
	case "refresh":
		return a, a.startRefresh()
	case "merge":
		return a.merge()
	case "discard":
		a.eng.DiscardBuffer()
	case "top":
		a.moveCursor(-len(a.visible()))
		a.reportAnchor()
	case "bottom":
		a.moveCursor(len(a.visible()))
		a.reportAnchor()
		return a, a.maybeLoadNext()
	case "hide":
		if id := a.cursorID(); id != "" {
			return a.Update(RemoveRequested{IDs: []string{id}})
		}
	case "density":
		a.opts.Compact = !a.opts.Compact
		a.follow()
		return a, a.maybeLoadNext()
	case "bands":
		a.opts.TimeBands = !a.opts.TimeBands
		a.follow()
	case "debug":
		a.showDebug = !a.showDebug
	case "help":
		a.help.ShowAll = !a.help.ShowAll
	case "quit":
		return a, tea.Quit
	}
	return a, nil
}

// handleKeyMsg processes keyboard input.
func (a App) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Any key dismisses the error bar
	a.err = nil

	switch {
	case key.Matches(msg, a.keys.Quit):
		return a, tea.Quit
	case key.Matches(msg, a.keys.Down):
		a.moveCursor(1)
	case key.Matches(msg, a.keys.Up):
		a.moveCursor(-1)
	case key.Matches(msg, a.keys.PageDown):
		a.moveCursor(a.rows())
	case key.Matches(msg, a.keys.PageUp):
		a.moveCursor(-a.rows())
	case key.Matches(msg, a.keys.Top):
		a.moveCursor(-len(a.visible()))
	case key.Matches(msg, a.keys.Bottom):
		a.moveCursor(len(a.visible()))
	case key.Matches(msg, a.keys.Merge):
		return a.merge()
	case key.Matches(msg, a.keys.Refresh):
		return a, a.startRefresh()
	case key.Matches(msg, a.keys.Discard):
		a.eng.DiscardBuffer()
		return a, nil
	case key.Matches(msg, a.keys.Hide):
		if id := a.cursorID(); id != "" {
			return a.Update(RemoveRequested{IDs: []string{id}})
		}
		return a, nil
	case key.Matches(msg, a.keys.Debug):
		a.showDebug = !a.showDebug
		return a, nil
	case key.Matches(msg, a.keys.Help):
		a.help.ShowAll = !a.help.ShowAll
		return a, nil
	case key.Matches(msg, a.keys.Command):
		return a, a.palette.Activate()
	default:
		return a, nil
	}

	a.reportAnchor()
	return a, a.maybeLoadNext()
}

func (a *App) merge() (tea.Model, tea.Cmd) {
	cursorID := a.cursorID()
	if r, ok := a.eng.MergeBuffer(); ok {
		a.applyRestore(r, cursorID)
	}
	return *a, a.maybeLoadNext()
}

// applyRestore scrolls so the restored entry is at the top. The cursor
// stays on the entry it was on when that entry is still on screen.
func (a *App) applyRestore(r anchor.Restore, cursorID string) {
	vis := a.visible()
	if r.Top || len(vis) == 0 {
		a.top, a.cursor = 0, 0
		return
	}
	a.top = min(max(r.Index, 0), len(vis)-1)
	if i := timeline.IndexOf(vis, cursorID); i >= a.top && i < a.top+a.rows() {
		a.cursor = i
	} else {
		a.cursor = a.top
	}
}

func (a *App) moveCursor(delta int) {
	n := len(a.visible())
	if n == 0 {
		return
	}
	a.cursor = min(max(a.cursor+delta, 0), n-1)
	a.follow()
}

// follow scrolls the minimum amount that keeps the cursor on screen.
func (a *App) follow() {
	n := len(a.visible())
	if n == 0 {
		a.top, a.cursor = 0, 0
		return
	}
	a.cursor = min(a.cursor, n-1)
	a.top = min(a.top, n-1)
	if a.cursor < a.top {
		a.top = a.cursor
	}
	for a.cursor >= a.top+a.rows() {
		a.top++
	}
}

// reportAnchor tells the engine which entry is at the top of the viewport.
func (a *App) reportAnchor() {
	vis := a.visible()
	if a.top < len(vis) {
		a.eng.RecordAnchor(vis[a.top].ID, 0)
	}
}

// maybeLoadNext starts a page load when the bottom of the screen nears the
// tail of the timeline.
func (a *App) maybeLoadNext() tea.Cmd {
	if !a.ready {
		return nil
	}
	distance := len(a.visible()) - (a.top + a.rows())
	job := a.eng.MaybeLoadNext(max(distance, 0))
	if job == nil {
		return nil
	}
	return runPage(a.ctx, job)
}

func (a *App) visible() timeline.Seq { return a.eng.Latest().Visible }

func (a *App) cursorID() string {
	vis := a.visible()
	if a.cursor >= 0 && a.cursor < len(vis) {
		return vis[a.cursor].ID
	}
	return ""
}

// streamHeight is the number of lines left for entries.
func (a *App) streamHeight() int {
	h := a.height - 2 // header + status bar
	if a.err != nil {
		h--
	}
	if len(a.eng.Latest().Degraded) > 0 {
		h--
	}
	if a.help.ShowAll {
		h -= strings.Count(a.help.View(a.keys), "\n") + 1
	}
	if a.palette.IsActive() {
		h -= lipgloss.Height(a.palette.View())
	}
	return max(h, 1)
}

// rows is the number of entries on screen from the current top.
func (a *App) rows() int {
	return fit(a.visible(), a.top, a.streamHeight(), a.opts, a.opts.now())
}

// View renders the UI.
func (a App) View() string {
	if !a.ready {
		return "Loading..."
	}
	if a.showDebug {
		if overlay := debugOverlay(a.ring, a.opts.now(), a.width, a.height-1); overlay != "" {
			return overlay + "\n" + debugStatusBar(a.width)
		}
	}

	snap := a.eng.Latest()
	var b strings.Builder
	b.WriteString(RenderHeader(snap.BufferCount, snap.RefreshState, a.spinner.View(), a.width))
	b.WriteString("\n")

	vp := viewport{
		Top:    a.top,
		Cursor: a.cursor,
		Unread: snap.UnreadAbove,
		Width:  a.width,
		Height: a.streamHeight(),
		Now:    a.opts.now(),
	}
	if !snap.Loaded && snap.RefreshState == refresh.StateFetching {
		b.WriteString(HelpStyle.Render(a.spinner.View() + " loading timeline…"))
		b.WriteString("\n")
	} else {
		b.WriteString(RenderStream(snap.Visible, vp, a.opts))
	}

	if len(snap.Degraded) > 0 {
		b.WriteString(WarnStyle.Width(a.width).Render("sign in again: " + strings.Join(snap.Degraded, ", ")))
		b.WriteString("\n")
	}
	if a.err != nil {
		b.WriteString(ErrorStyle.Width(a.width).Render("Error: " + a.err.Error() + " (press any key to dismiss)"))
		b.WriteString("\n")
	}

	hints := a.help.ShortHelpView(a.keys.ShortHelp())
	b.WriteString(RenderStatusBar(statusLine{
		Pos:         a.cursor,
		Total:       len(snap.Visible),
		Unread:      snap.UnreadAbove,
		LoadingPage: snap.LoadingNextPage,
		HasNext:     snap.HasNextPage,
		PageRetry:   a.pageRetry,
		Spinner:     a.spinner.View(),
		Hints:       hints,
	}, a.width))
	if a.palette.IsActive() {
		b.WriteString("\n")
		b.WriteString(a.palette.View())
	} else if a.help.ShowAll {
		b.WriteString("\n")
		b.WriteString(a.help.FullHelpView(a.keys.FullHelp()))
	}
	return b.String()
}

// Cursor returns the current cursor position (for testing).
func (a App) Cursor() int {
	return a.cursor
}

// Top returns the index of the first entry on screen (for testing).
func (a App) Top() int {
	return a.top
}

// Compact reports whether entries render on one line (for testing).
func (a App) Compact() bool {
	return a.opts.Compact
}
