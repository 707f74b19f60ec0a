// Package paging loads older posts when the reader nears the end of the
// timeline. It owns the per-account continuation cursors; nothing else
// advances them.
package paging

import (
	"context"
	"errors"
	"time"

	"github.com/abelbrown/fedline/internal/fetch"
	"github.com/abelbrown/fedline/internal/logging"
	"github.com/abelbrown/fedline/internal/otel"
	"github.com/abelbrown/fedline/internal/source"
	"github.com/abelbrown/fedline/internal/timeline"
)

const (
	defaultThreshold   = 5
	defaultBackoffBase = time.Second
	defaultBackoffCap  = 30 * time.Second
)

// Options tunes a Controller.
type Options struct {
	// Threshold is how many entries from the tail the reader must be
	// before a load is triggered.
	Threshold   int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	Now         func() time.Time
	Events      *otel.Logger
}

// SourceState tracks one account's position in its own history.
type SourceState struct {
	Account   source.Account
	Next      source.Cursor
	Exhausted bool
	Seeded    bool // a page has been loaded for this account
}

// Controller is driven from the engine's writer goroutine.
type Controller struct {
	fetcher *fetch.Fetcher
	opts    Options

	order    []string
	sources  map[string]*SourceState
	hasNext  bool
	loading  bool
	seq      uint64
	failures int
	retryAt  time.Time
}

// New creates a Controller. Until cursors are seeded every account is
// assumed to have more history.
func New(f *fetch.Fetcher, accounts []source.Account, opts Options) *Controller {
	if opts.Threshold <= 0 {
		opts.Threshold = defaultThreshold
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = defaultBackoffBase
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = defaultBackoffCap
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	c := &Controller{
		fetcher: f,
		opts:    opts,
		sources: make(map[string]*SourceState, len(accounts)),
		hasNext: len(accounts) > 0,
	}
	for _, a := range accounts {
		if _, dup := c.sources[a.Key()]; dup {
			continue
		}
		c.order = append(c.order, a.Key())
		c.sources[a.Key()] = &SourceState{Account: a}
	}
	return c
}

// HasNextPage reports whether any account may still have older posts.
func (c *Controller) HasNextPage() bool { return c.hasNext }

// Loading reports whether a page load is in flight.
func (c *Controller) Loading() bool { return c.loading }

// RetryAt is when a load may be attempted again after failures; zero when
// not backing off.
func (c *Controller) RetryAt() time.Time { return c.retryAt }

// Source returns a copy of one account's cursor state.
func (c *Controller) Source(key string) (SourceState, bool) {
	s, ok := c.sources[key]
	if !ok {
		return SourceState{}, false
	}
	return *s, true
}

// Seed records cursors from the initial load's first pages. Failed
// accounts stay unseeded; their first page is fetched by the next load.
func (c *Controller) Seed(results []fetch.Result) {
	for _, r := range results {
		if r.OK() {
			c.advance(r)
		}
	}
	c.recompute()
}

// Job is one in-flight page load.
type Job struct {
	seq     uint64
	fetcher *fetch.Fetcher
	targets []source.Account
	cursors map[string]source.Cursor
}

// Accounts returns the accounts this job will fetch.
func (j *Job) Accounts() []source.Account { return j.targets }

// Result is a finished Job.
type Result struct {
	seq      uint64
	Accounts []fetch.Result
	Dur      time.Duration
}

// Run fetches the next page of every targeted account concurrently. Safe to
// call from any goroutine.
func (j *Job) Run(ctx context.Context) Result {
	start := time.Now()
	results := j.fetcher.All(ctx, j.targets, func(a source.Account) source.Cursor {
		return j.cursors[a.Key()]
	})
	return Result{seq: j.seq, Accounts: results, Dur: time.Since(start)}
}

// MaybeLoad starts a page load if the reader is within the threshold of the
// tail, more history exists, nothing is already loading and no failure
// backoff is pending. Calls while a load is in flight are no-ops, so each
// account is fetched at most once per load.
func (c *Controller) MaybeLoad(distance int) (*Job, bool) {
	if distance > c.opts.Threshold || !c.hasNext || c.loading {
		return nil, false
	}
	if !c.retryAt.IsZero() && c.opts.Now().Before(c.retryAt) {
		return nil, false
	}

	job := &Job{fetcher: c.fetcher, cursors: make(map[string]source.Cursor)}
	for _, key := range c.order {
		s := c.sources[key]
		if s.Exhausted {
			continue
		}
		job.targets = append(job.targets, s.Account)
		job.cursors[key] = s.Next
	}
	if len(job.targets) == 0 {
		c.hasNext = false
		return nil, false
	}

	c.seq++
	job.seq = c.seq
	c.loading = true
	c.opts.Events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindPageStart, Comp: "paging", Count: len(job.targets)})
	return job, true
}

// Outcome of a page load.
type Outcome struct {
	Entries []timeline.Entry // to be merged at the tail
	Failed  []string         // accounts whose page failed; cursors unchanged
	Err     error            // set when every account failed
	Stale   bool
}

// Complete applies a finished load. Successful accounts advance their
// cursors; failed ones keep theirs for the next attempt. When every account
// fails HasNextPage is left unchanged and further loads back off.
func (c *Controller) Complete(res Result) Outcome {
	if res.seq != c.seq || !c.loading {
		return Outcome{Stale: true}
	}
	c.loading = false

	var out Outcome
	var errs []error
	for _, r := range res.Accounts {
		if !r.OK() {
			out.Failed = append(out.Failed, r.Account.Key())
			errs = append(errs, r.Err)
			continue
		}
		c.advance(r)
		out.Entries = append(out.Entries, r.Entries...)
	}

	if len(res.Accounts) > 0 && len(out.Failed) == len(res.Accounts) {
		c.failures++
		c.retryAt = c.opts.Now().Add(c.backoff())
		out.Err = errors.Join(errs...)
		logging.Warn("paging: page load failed", "failures", c.failures, "retry_at", c.retryAt, "error", out.Err)
		c.opts.Events.Emit(otel.Event{Level: otel.LevelWarn, Kind: otel.KindPageError, Comp: "paging", Dur: res.Dur, Err: out.Err.Error()})
		return out
	}

	c.failures = 0
	c.retryAt = time.Time{}
	c.recompute()
	c.opts.Events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindPageLoad, Comp: "paging", Dur: res.Dur, Count: len(out.Entries)})
	return out
}

// backoff grows quadratically with consecutive failures, capped.
func (c *Controller) backoff() time.Duration {
	d := time.Duration(c.failures*c.failures) * c.opts.BackoffBase
	if d > c.opts.BackoffCap {
		d = c.opts.BackoffCap
	}
	return d
}

func (c *Controller) advance(r fetch.Result) {
	s, ok := c.sources[r.Account.Key()]
	if !ok {
		return
	}
	s.Seeded = true
	s.Next = r.Page.Next
	s.Exhausted = !r.Page.HasMore || r.Page.Next == ""
}

func (c *Controller) recompute() {
	c.hasNext = false
	for _, s := range c.sources {
		if !s.Exhausted {
			c.hasNext = true
			return
		}
	}
}
