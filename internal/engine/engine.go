// Package engine owns the timeline state of one session. It is the only
// code path that mutates the visible sequence or the new-post buffer.
//
// Goroutine safety:
// Every method except Latest must be called from one writer goroutine (the
// Bubble Tea update loop, or the caller's goroutine in the CLI). Fetching
// happens in Jobs returned by StartRefresh and MaybeLoadNext; their Run
// methods may execute anywhere, and their results come back through
// ApplyRefresh and ApplyPage on the writer goroutine. Latest may be called
// from any goroutine.
package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/abelbrown/fedline/internal/anchor"
	"github.com/abelbrown/fedline/internal/fetch"
	"github.com/abelbrown/fedline/internal/logging"
	"github.com/abelbrown/fedline/internal/otel"
	"github.com/abelbrown/fedline/internal/paging"
	"github.com/abelbrown/fedline/internal/refresh"
	"github.com/abelbrown/fedline/internal/source"
	"github.com/abelbrown/fedline/internal/timeline"
)

const defaultLockDuration = 400 * time.Millisecond

// AnchorStore persists the last known position per session.
type AnchorStore interface {
	SaveAnchor(session, id string) error
	LoadAnchor(session string) (string, error)
}

// Options configures an Engine.
type Options struct {
	Accounts    []source.Account
	Adapters    source.Registry
	Credentials source.CredentialProvider
	Fetch       fetch.Options
	Paging      paging.Options

	// LockDuration is how long presentation-layer anchor reports are
	// ignored after a restore.
	LockDuration time.Duration

	// AutoMergeAtTop merges a finished refresh immediately when the reader
	// is at the head of the timeline.
	AutoMergeAtTop bool

	Anchors AnchorStore // optional
	Session string      // key under which the anchor is persisted
	Now     func() time.Time
	Events  *otel.Logger
}

// reportingStore reports anchor writes: failures always, successes only
// when tracing.
type reportingStore struct {
	AnchorStore
	events *otel.Logger
}

func (s reportingStore) SaveAnchor(session, id string) error {
	err := s.AnchorStore.SaveAnchor(session, id)
	ev := otel.Event{Level: otel.LevelDebug, Kind: otel.KindAnchorPersist, Comp: "anchor", EntryID: id}
	switch {
	case err != nil:
		ev.Level = otel.LevelWarn
		ev.Err = err.Error()
	case !otel.TraceEnabled():
		return nil
	}
	s.events.Emit(ev)
	return err
}

// Snapshot is a read-only view of the engine state.
type Snapshot struct {
	Visible         timeline.Seq
	BufferCount     int
	HasNextPage     bool
	LoadingNextPage bool
	UnreadAbove     int
	RefreshState    refresh.State
	Generation      uint64
	AnchorID        string
	Degraded        []string
	LastStatus      refresh.Status
	LastError       string
	Loaded          bool
}

// RefreshOutcome is the result of applying a refresh. Restore is set when
// the visible sequence changed (initial load or auto-merge).
type RefreshOutcome struct {
	refresh.Outcome
	Restore  anchor.Restore
	Restored bool
}

// PageOutcome is the result of applying a page load.
type PageOutcome struct {
	paging.Outcome
	Added    int
	Restore  anchor.Restore
	Restored bool
}

// Engine is the single-writer timeline owner.
type Engine struct {
	opts    Options
	fetcher *fetch.Fetcher
	refresh *refresh.Controller
	paging  *paging.Controller
	tracker *anchor.Tracker
	events  *otel.Logger

	visible  timeline.Seq
	unread   int
	loaded   bool
	degraded []string

	latest atomic.Pointer[Snapshot]
}

// New creates an empty engine. A persisted anchor for opts.Session becomes
// the restore target of the first load.
func New(opts Options) *Engine {
	if opts.LockDuration <= 0 {
		opts.LockDuration = defaultLockDuration
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Credentials == nil {
		opts.Credentials = source.StaticCredentials{}
	}
	fo := opts.Fetch
	fo.Events = opts.Events
	po := opts.Paging
	po.Events = opts.Events
	if po.Now == nil {
		po.Now = opts.Now
	}

	f := fetch.New(opts.Adapters, opts.Credentials, fo)
	e := &Engine{
		opts:    opts,
		fetcher: f,
		refresh: refresh.New(f, opts.Accounts, opts.Events),
		paging:  paging.New(f, opts.Accounts, po),
		events:  opts.Events,
	}

	trackerOpts := []anchor.Option{anchor.WithClock(opts.Now)}
	if opts.Anchors != nil {
		trackerOpts = append(trackerOpts, anchor.WithPersister(reportingStore{opts.Anchors, opts.Events}, opts.Session))
	}
	e.tracker = anchor.New(trackerOpts...)
	if opts.Anchors != nil {
		id, err := opts.Anchors.LoadAnchor(opts.Session)
		if err != nil {
			logging.Warn("engine: could not load persisted anchor", "session", opts.Session, "error", err)
		} else if id != "" {
			e.tracker.Seed(id)
			logging.Debug("engine: restoring persisted anchor", "session", opts.Session, "id", id)
		}
	}

	e.publish()
	return e
}

// Latest returns the most recently published snapshot. Safe from any
// goroutine.
func (e *Engine) Latest() Snapshot {
	return *e.latest.Load()
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() Snapshot {
	last := e.refresh.Last()
	s := Snapshot{
		Visible:         timeline.Clone(e.visible),
		BufferCount:     e.refresh.BufferCount(),
		HasNextPage:     e.paging.HasNextPage(),
		LoadingNextPage: e.paging.Loading(),
		UnreadAbove:     e.unread,
		RefreshState:    e.refresh.State(),
		Generation:      e.refresh.Generation(),
		AnchorID:        e.tracker.ID(),
		Degraded:        append([]string(nil), e.degraded...),
		LastStatus:      last.Status,
		Loaded:          e.loaded,
	}
	if last.Err != nil {
		s.LastError = last.Err.Error()
	}
	return s
}

func (e *Engine) publish() {
	s := e.Snapshot()
	e.latest.Store(&s)
}

// InitialLoad fetches the first page of every account, seeds pagination
// cursors and shows the result, restoring the persisted anchor if it is
// present.
func (e *Engine) InitialLoad(ctx context.Context) RefreshOutcome {
	return e.Refresh(ctx)
}

// Refresh runs a full refresh cycle synchronously.
func (e *Engine) Refresh(ctx context.Context) RefreshOutcome {
	job := e.StartRefresh(ctx)
	return e.ApplyRefresh(job.Run())
}

// StartRefresh begins a refresh generation, canceling any refresh in
// flight. Run the returned job off the writer goroutine.
func (e *Engine) StartRefresh(ctx context.Context) *refresh.Job {
	job := e.refresh.Begin(ctx)
	e.publish()
	return job
}

// ApplyRefresh delivers a finished refresh. Until the first successful
// load the results go straight to the visible sequence; afterwards they
// wait in the buffer for MergeBuffer.
func (e *Engine) ApplyRefresh(res refresh.Result) RefreshOutcome {
	defer e.publish()

	initial := !e.loaded
	out := RefreshOutcome{Outcome: e.refresh.Complete(res, e.visible)}
	switch out.Status {
	case refresh.StatusStale, refresh.StatusCanceled:
		return out
	}
	e.degraded = out.Degraded

	if initial {
		e.paging.Seed(res.Accounts)
		if out.Status == refresh.StatusTotal {
			return out
		}
		e.loaded = true
		out.Restore, out.Restored = e.showInitial()
		out.BufferCount = e.refresh.BufferCount()
		return out
	}

	if e.opts.AutoMergeAtTop && e.atHead() && e.refresh.State() == refresh.StateBuffered {
		out.Restore, out.Restored = e.MergeBuffer()
		out.BufferCount = e.refresh.BufferCount()
	}
	return out
}

// showInitial moves the first load into view and restores the persisted
// anchor, or the top when it is gone.
func (e *Engine) showInitial() (anchor.Restore, bool) {
	fresh, upgrades, ok := e.refresh.Take()
	if !ok {
		return anchor.Restore{}, false
	}
	target := e.tracker.ID()
	e.tracker.Lock(e.opts.LockDuration)
	if target == "" {
		e.tracker.PrepareTop()
	} else {
		e.tracker.PrepareRestore(target, e.visible)
	}
	e.visible = timeline.Merge(e.visible, append(fresh, upgrades...))
	r, _ := e.tracker.ResolveRestore(e.visible)
	e.unread = r.Index
	e.emitRestore(r)
	return r, true
}

// MergeBuffer folds buffered entries into the visible sequence while
// keeping the reader's anchor in place. A reader at the head is pinned to
// the new head and has nothing unread; otherwise the anchor is restored and
// the unread count grows by the entries inserted above it. Reports false
// when there is nothing to merge.
func (e *Engine) MergeBuffer() (anchor.Restore, bool) {
	if e.refresh.State() != refresh.StateBuffered {
		return anchor.Restore{}, false
	}
	fresh, upgrades, ok := e.refresh.Take()
	if !ok {
		return anchor.Restore{}, false
	}
	defer e.publish()

	start := time.Now()
	head := e.atHead()
	target := e.tracker.ID()

	e.tracker.Lock(e.opts.LockDuration)
	if head {
		e.tracker.PrepareTop()
	} else {
		e.tracker.PrepareRestore(target, e.visible)
	}

	e.visible = timeline.Merge(e.visible, append(fresh, upgrades...))

	if head {
		e.unread = 0
	} else if newIdx := timeline.IndexOf(e.visible, target); newIdx >= 0 {
		e.unread = min(e.unread+timeline.CountAbove(e.visible, target, fresh), newIdx)
	}

	r, _ := e.tracker.ResolveRestore(e.visible)
	if r.Fallback && !r.Top {
		e.unread = min(e.unread, r.Index)
	}

	e.events.Emit(otel.Event{
		Level:      otel.LevelInfo,
		Kind:       otel.KindMergeBuffer,
		Comp:       "engine",
		Generation: e.refresh.Generation(),
		Dur:        time.Since(start),
		Count:      len(fresh),
		EntryID:    r.ID,
		Extra:      map[string]any{"upgrades": len(upgrades), "unread": e.unread, "at_head": head},
	})
	e.emitRestore(r)
	return r, true
}

// MaybeLoadNext starts a page load when the reader is within the paging
// threshold of the tail. distance is the number of entries below the last
// one on screen. Returns nil when no load should start.
func (e *Engine) MaybeLoadNext(distance int) *paging.Job {
	if !e.loaded {
		return nil
	}
	job, ok := e.paging.MaybeLoad(distance)
	if !ok {
		return nil
	}
	e.publish()
	return job
}

// LoadNext runs a page load synchronously if one is due.
func (e *Engine) LoadNext(ctx context.Context, distance int) (PageOutcome, bool) {
	job := e.MaybeLoadNext(distance)
	if job == nil {
		return PageOutcome{}, false
	}
	return e.ApplyPage(job.Run(ctx)), true
}

// ApplyPage merges a finished page load. Entries already visible or
// already waiting in the buffer are dropped. Older history lands at the
// tail; if an account's first page sorts above the anchor, the anchor is
// restored.
func (e *Engine) ApplyPage(res paging.Result) PageOutcome {
	defer e.publish()

	out := PageOutcome{Outcome: e.paging.Complete(res)}
	if out.Stale || len(out.Entries) == 0 {
		return out
	}

	fresh, upgrades := timeline.Split(e.visible, out.Entries)
	fresh = timeline.Without(fresh, timeline.IDs(e.refresh.Buffer())...)
	if len(fresh) == 0 && len(upgrades) == 0 {
		return out
	}

	target := e.tracker.ID()
	oldIdx := timeline.IndexOf(e.visible, target)
	if oldIdx >= 0 {
		e.tracker.Lock(e.opts.LockDuration)
		e.tracker.PrepareRestore(target, e.visible)
	}

	before := len(e.visible)
	e.visible = timeline.Merge(e.visible, append(fresh, upgrades...))
	out.Added = len(e.visible) - before

	if oldIdx >= 0 {
		if newIdx := timeline.IndexOf(e.visible, target); newIdx > oldIdx {
			e.unread = min(e.unread+newIdx-oldIdx, newIdx)
		}
		out.Restore, out.Restored = e.tracker.ResolveRestore(e.visible)
		if out.Restore.Index != oldIdx {
			e.emitRestore(out.Restore)
		}
	}
	e.refresh.Reconcile(e.visible)
	return out
}

// RecordAnchor is the presentation layer reporting the topmost visible
// entry. Ignored while a restore lock is open. Scrolling up reveals unread
// entries, so the unread count never exceeds the anchor's index.
func (e *Engine) RecordAnchor(id string, offset int) bool {
	if !e.tracker.Record(id, offset) {
		return false
	}
	if i := timeline.IndexOf(e.visible, id); i >= 0 && i < e.unread {
		e.unread = i
	}
	e.publish()
	return true
}

// Remove drops entries (deleted or muted upstream) from the visible
// sequence and the buffer. If the anchor was removed, the closest surviving
// entry takes its place. Reports false when nothing visible changed.
func (e *Engine) Remove(ids ...string) (anchor.Restore, bool) {
	defer e.publish()
	e.refresh.Forget(ids...)

	present := false
	for _, id := range ids {
		if timeline.IndexOf(e.visible, id) >= 0 {
			present = true
			break
		}
	}
	if !present {
		return anchor.Restore{}, false
	}

	target := e.tracker.ID()
	e.tracker.Lock(e.opts.LockDuration)
	if target == "" {
		e.tracker.PrepareTop()
	} else {
		e.tracker.PrepareRestore(target, e.visible)
	}
	e.visible = timeline.Without(e.visible, ids...)
	r, _ := e.tracker.ResolveRestore(e.visible)
	e.unread = min(e.unread, r.Index)

	e.events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindRemove, Comp: "engine", Count: len(ids), EntryID: r.ID})
	e.emitRestore(r)
	return r, true
}

// DiscardBuffer drops buffered entries and cancels any refresh in flight.
func (e *Engine) DiscardBuffer() {
	e.refresh.Discard()
	e.publish()
}

// Visible returns a copy of the visible sequence.
func (e *Engine) Visible() timeline.Seq { return timeline.Clone(e.visible) }

// Entry looks up a visible entry by id.
func (e *Engine) Entry(id string) (timeline.Entry, bool) {
	i := timeline.IndexOf(e.visible, id)
	if i < 0 {
		return timeline.Entry{}, false
	}
	return e.visible[i], true
}

// Accounts returns the configured accounts.
func (e *Engine) Accounts() []source.Account {
	return append([]source.Account(nil), e.opts.Accounts...)
}

// atHead reports whether the reader is at the top: no anchor, an anchor
// that is not visible, or the first entry.
func (e *Engine) atHead() bool {
	return timeline.IndexOf(e.visible, e.tracker.ID()) <= 0
}

func (e *Engine) emitRestore(r anchor.Restore) {
	e.events.Emit(otel.Event{
		Level:   otel.LevelDebug,
		Kind:    otel.KindAnchorRestore,
		Comp:    "engine",
		EntryID: r.ID,
		Msg:     fmt.Sprintf("index=%d fallback=%t top=%t", r.Index, r.Fallback, r.Top),
	})
}
