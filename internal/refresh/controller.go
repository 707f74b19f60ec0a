// Package refresh runs the "pull for newer posts" cycle.
//
// A refresh never touches the visible timeline. New entries land in a
// buffer that is kept disjoint from what the reader sees; the engine folds
// it in on an explicit merge. Only the latest refresh may deliver: each
// Begin bumps a generation counter and cancels the refresh in flight, and
// Complete ignores results from any older generation.
//
// The controller is driven from the engine's single writer goroutine. The
// only part that runs elsewhere is Job.Run, which touches no controller
// state.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abelbrown/fedline/internal/fetch"
	"github.com/abelbrown/fedline/internal/logging"
	"github.com/abelbrown/fedline/internal/otel"
	"github.com/abelbrown/fedline/internal/source"
	"github.com/abelbrown/fedline/internal/timeline"
)

// State of the refresh cycle.
type State uint8

const (
	StateIdle State = iota
	StateFetching
	StateBuffered
)

func (s State) String() string {
	switch s {
	case StateFetching:
		return "fetching"
	case StateBuffered:
		return "buffered"
	default:
		return "idle"
	}
}

// Status summarizes how a refresh ended.
type Status uint8

const (
	StatusOK       Status = iota // every account answered
	StatusPartial                // some accounts failed, the rest were buffered
	StatusTotal                  // nothing usable came back
	StatusStale                  // superseded by a newer refresh; discarded
	StatusCanceled               // canceled before completion; discarded
)

func (s Status) String() string {
	switch s {
	case StatusPartial:
		return "partial"
	case StatusTotal:
		return "failed"
	case StatusStale:
		return "stale"
	case StatusCanceled:
		return "canceled"
	default:
		return "ok"
	}
}

// AccountFailure describes one account that did not contribute.
type AccountFailure struct {
	Account    string
	Kind       source.Kind
	RetryAfter time.Duration
	Err        error
}

// Outcome is reported after Complete.
type Outcome struct {
	Status      Status
	Generation  uint64
	New         int // entries added to the buffer by this refresh
	BufferCount int
	Failures    []AccountFailure // every account that did not contribute
	Degraded    []string         // accounts skipped for the cycle (auth)
	Err         error            // set for Partial and Total
}

// Result is what a Job produces off the writer goroutine.
type Result struct {
	Generation uint64
	Accounts   []fetch.Result
	Canceled   bool
	Dur        time.Duration
}

// Job is one in-flight refresh.
type Job struct {
	gen      uint64
	ctx      context.Context
	fetcher  *fetch.Fetcher
	accounts []source.Account
}

// Generation returns the job's generation number.
func (j *Job) Generation() uint64 { return j.gen }

// Run fetches the most recent page of every account. Safe to call from any
// goroutine.
func (j *Job) Run() Result {
	start := time.Now()
	results := j.fetcher.All(j.ctx, j.accounts, nil)
	return Result{
		Generation: j.gen,
		Accounts:   results,
		Canceled:   errors.Is(j.ctx.Err(), context.Canceled),
		Dur:        time.Since(start),
	}
}

// Controller owns the refresh state machine and the new-post buffer.
type Controller struct {
	fetcher  *fetch.Fetcher
	accounts []source.Account
	events   *otel.Logger

	state    State
	gen      uint64
	cancel   context.CancelFunc
	buffer   timeline.Seq
	upgrades []timeline.Entry
	last     Outcome
}

// New creates an idle Controller for accounts.
func New(f *fetch.Fetcher, accounts []source.Account, events *otel.Logger) *Controller {
	accts := make([]source.Account, len(accounts))
	copy(accts, accounts)
	return &Controller{fetcher: f, accounts: accts, events: events}
}

// State returns the current state.
func (c *Controller) State() State { return c.state }

// Generation returns the generation of the most recent Begin.
func (c *Controller) Generation() uint64 { return c.gen }

// BufferCount is the number of entries waiting to be merged. Upgrades of
// already-visible entries are not counted.
func (c *Controller) BufferCount() int { return len(c.buffer) }

// Buffer returns a copy of the buffered entries.
func (c *Controller) Buffer() timeline.Seq { return timeline.Clone(c.buffer) }

// Last returns the outcome of the most recent completed refresh.
func (c *Controller) Last() Outcome { return c.last }

// Begin starts a new refresh generation, canceling any refresh in flight.
// The returned Job must be Run and its Result passed to Complete.
func (c *Controller) Begin(parent context.Context) *Job {
	if c.cancel != nil {
		c.cancel()
		c.events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindRefreshCancel, Comp: "refresh", Generation: c.gen, Msg: "superseded"})
	}
	c.gen++
	ctx, cancel := context.WithCancel(parent)
	c.cancel = cancel
	c.state = StateFetching
	c.events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindRefreshStart, Comp: "refresh", Generation: c.gen, Count: len(c.accounts)})
	return &Job{gen: c.gen, ctx: ctx, fetcher: c.fetcher, accounts: c.accounts}
}

// Cancel aborts the refresh in flight, if any. Its result will be
// discarded by Complete.
func (c *Controller) Cancel() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	c.cancel = nil
	c.gen++ // anything still running is now stale
	c.settle()
	c.events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindRefreshCancel, Comp: "refresh", Generation: c.gen})
}

// Complete applies a Job's result against the currently visible sequence.
// Results from a superseded generation are discarded without touching
// state.
func (c *Controller) Complete(res Result, visible timeline.Seq) Outcome {
	if res.Generation != c.gen {
		c.events.Emit(otel.Event{Level: otel.LevelDebug, Kind: otel.KindRefreshStale, Comp: "refresh", Generation: res.Generation})
		return Outcome{Status: StatusStale, Generation: res.Generation, BufferCount: len(c.buffer)}
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}

	if res.Canceled {
		c.settle()
		out := Outcome{Status: StatusCanceled, Generation: res.Generation, BufferCount: len(c.buffer)}
		c.last = out
		return out
	}

	var (
		incoming  []timeline.Entry
		succeeded int
		surfaced  int
		out       = Outcome{Generation: res.Generation}
	)
	for _, r := range res.Accounts {
		if r.OK() {
			succeeded++
			incoming = append(incoming, r.Entries...)
			continue
		}
		f := AccountFailure{
			Account:    r.Account.Key(),
			Kind:       r.Kind(),
			RetryAfter: source.RetryAfterOf(r.Err),
			Err:        r.Err,
		}
		out.Failures = append(out.Failures, f)
		switch f.Kind {
		case source.KindAuthExpired:
			out.Degraded = append(out.Degraded, f.Account)
			logging.Warn("refresh: account degraded for this cycle", "account", f.Account, "error", r.Err)
		case source.KindMalformedResponse:
			logging.Warn("refresh: dropped malformed page", "account", f.Account, "error", r.Err)
		default:
			surfaced++
		}
	}

	fresh, upgrades := timeline.Split(visible, incoming)
	before := len(c.buffer)
	c.buffer = timeline.Merge(c.buffer, fresh)
	c.upgrades = mergeUpgrades(c.upgrades, upgrades)
	out.New = len(c.buffer) - before

	switch {
	case len(res.Accounts) > 0 && succeeded == 0:
		out.Status = StatusTotal
		out.Err = failureError(out.Failures)
	case surfaced > 0:
		out.Status = StatusPartial
		out.Err = failureError(out.Failures)
	default:
		out.Status = StatusOK
	}

	c.settle()
	out.BufferCount = len(c.buffer)
	c.last = out

	ev := otel.Event{
		Level:      otel.LevelInfo,
		Kind:       otel.KindRefreshComplete,
		Comp:       "refresh",
		Generation: res.Generation,
		Dur:        res.Dur,
		Count:      out.New,
		Msg:        out.Status.String(),
	}
	if out.Err != nil {
		ev.Level = otel.LevelWarn
		ev.Err = out.Err.Error()
	}
	c.events.Emit(ev)
	return out
}

// Run is Begin, Job.Run and Complete in one blocking call.
func (c *Controller) Run(ctx context.Context, visible func() timeline.Seq) Outcome {
	job := c.Begin(ctx)
	res := job.Run()
	return c.Complete(res, visible())
}

// Take hands the buffer and pending upgrades to the caller and returns the
// controller to Idle. Reports false unless the controller is Buffered.
func (c *Controller) Take() (fresh timeline.Seq, upgrades []timeline.Entry, ok bool) {
	if c.state != StateBuffered {
		return nil, nil, false
	}
	fresh, upgrades = c.buffer, c.upgrades
	c.buffer, c.upgrades = nil, nil
	c.state = StateIdle
	return fresh, upgrades, true
}

// Reconcile restores disjointness after the visible sequence grew by some
// other route: buffered entries that are now visible are dropped, or kept
// as upgrades when they outrank the visible copy.
func (c *Controller) Reconcile(visible timeline.Seq) {
	if len(c.buffer) == 0 {
		return
	}
	fresh, upgrades := timeline.Split(visible, c.buffer)
	c.buffer = timeline.Merge(nil, fresh)
	c.upgrades = mergeUpgrades(c.upgrades, upgrades)
	if c.state != StateFetching {
		c.settle()
	}
}

// Forget drops ids from the buffer and from pending upgrades.
func (c *Controller) Forget(ids ...string) {
	c.buffer = timeline.Without(c.buffer, ids...)
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := c.upgrades[:0]
	for _, e := range c.upgrades {
		if !drop[e.ID] {
			kept = append(kept, e)
		}
	}
	c.upgrades = kept
	if c.state != StateFetching {
		c.settle()
	}
}

// Discard empties the buffer and cancels any refresh in flight.
func (c *Controller) Discard() {
	c.Cancel()
	c.buffer, c.upgrades = nil, nil
	c.state = StateIdle
}

func (c *Controller) settle() {
	if len(c.buffer) > 0 || len(c.upgrades) > 0 {
		c.state = StateBuffered
	} else {
		c.state = StateIdle
	}
}

// mergeUpgrades keeps one upgrade per id, highest precedence first seen.
func mergeUpgrades(have, add []timeline.Entry) []timeline.Entry {
	if len(add) == 0 {
		return have
	}
	idx := make(map[string]int, len(have))
	for i, e := range have {
		idx[e.ID] = i
	}
	for _, e := range add {
		if i, ok := idx[e.ID]; ok {
			if timeline.Supersedes(e, have[i]) {
				have[i] = e
			}
			continue
		}
		idx[e.ID] = len(have)
		have = append(have, e)
	}
	return have
}

func failureError(fs []AccountFailure) error {
	if len(fs) == 0 {
		return nil
	}
	errs := make([]error, 0, len(fs))
	for _, f := range fs {
		errs = append(errs, fmt.Errorf("%s: %s", f.Account, f.Kind))
	}
	return errors.Join(errs...)
}
