// Package fetch runs adapter calls for configured accounts and applies the
// per-account retry policy. It never touches timeline state: callers get
// normalized entries back and decide what to do with them.
package fetch

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/abelbrown/fedline/internal/logging"
	"github.com/abelbrown/fedline/internal/normalize"
	"github.com/abelbrown/fedline/internal/otel"
	"github.com/abelbrown/fedline/internal/source"
	"github.com/abelbrown/fedline/internal/timeline"
)

const (
	defaultTimeout       = 30 * time.Second
	defaultMaxConcurrent = 5
	defaultRetries       = 2
	defaultRetryBackoff  = 500 * time.Millisecond
)

// Options tunes a Fetcher. Zero values take defaults; NetworkRetries < 0
// disables retries.
type Options struct {
	Timeout        time.Duration // per account task, retries included
	MaxConcurrent  int
	NetworkRetries int
	RetryBackoff   time.Duration
	Events         *otel.Logger
}

// Fetcher fetches pages for accounts. Safe for concurrent use.
type Fetcher struct {
	adapters source.Registry
	creds    source.CredentialProvider
	opts     Options
	sleep    func(ctx context.Context, d time.Duration) error
}

// New creates a Fetcher.
func New(adapters source.Registry, creds source.CredentialProvider, opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = defaultMaxConcurrent
	}
	if opts.NetworkRetries == 0 {
		opts.NetworkRetries = defaultRetries
	}
	if opts.NetworkRetries < 0 {
		opts.NetworkRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaultRetryBackoff
	}
	return &Fetcher{adapters: adapters, creds: creds, opts: opts, sleep: sleepCtx}
}

// Result is the outcome of fetching one page for one account.
type Result struct {
	Account  source.Account
	Cursor   source.Cursor // the cursor that was requested
	Page     source.Page
	Entries  []timeline.Entry
	Err      error
	Attempts int
	Dur      time.Duration
}

// OK reports whether the page was fetched.
func (r Result) OK() bool { return r.Err == nil }

// Kind classifies r.Err.
func (r Result) Kind() source.Kind { return source.KindOf(r.Err) }

// Account fetches one page. Credentials are ensured first. An AuthExpired
// failure invalidates cached credentials and retries once; Network failures
// are retried up to NetworkRetries times with linear backoff. RateLimited,
// MalformedResponse and unknown failures are returned as-is.
func (f *Fetcher) Account(ctx context.Context, acct source.Account, cursor source.Cursor) (res Result) {
	start := time.Now()
	res = Result{Account: acct, Cursor: cursor}
	defer func() {
		if r := recover(); r != nil {
			logging.Error("fetch: adapter panic", "account", acct.Key(), "panic", r, "stack", string(debug.Stack()))
			res.Err = &source.Error{Kind: source.KindNetwork, Account: acct.Key(), Op: "fetch", Err: fmt.Errorf("adapter panic: %v", r)}
			res.Entries = nil
		}
		res.Dur = time.Since(start)
		if res.Err != nil {
			f.opts.Events.Emit(otel.Event{
				Level:   otel.LevelWarn,
				Kind:    otel.KindFetchError,
				Comp:    "fetch",
				Account: acct.Key(),
				Err:     res.Err.Error(),
				Dur:     res.Dur,
				Extra:   map[string]any{"kind": res.Kind().String(), "attempts": res.Attempts},
			})
		}
	}()

	adapter, err := f.adapters.Lookup(acct)
	if err != nil {
		res.Err = source.WithAccount(err, acct)
		return res
	}

	taskCtx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	creds, err := f.creds.EnsureValid(taskCtx, acct)
	if err != nil {
		res.Err = source.WithAccount(err, acct)
		return res
	}

	authRetried := false
	netRetries := 0
	for {
		res.Attempts++
		page, err := adapter.FetchPage(taskCtx, acct, creds, cursor)
		if err == nil {
			res.Page = page
			res.Entries = normalize.Page(page, acct)
			return res
		}
		err = source.WithAccount(err, acct)
		if ctx.Err() != nil {
			res.Err = ctx.Err()
			return res
		}

		switch {
		case source.KindOf(err) == source.KindAuthExpired:
			if authRetried {
				res.Err = err
				return res
			}
			authRetried = true
			if inv, ok := f.creds.(source.Invalidator); ok {
				inv.Invalidate(acct)
			}
			creds, err = f.creds.EnsureValid(taskCtx, acct)
			if err != nil {
				res.Err = source.WithAccount(err, acct)
				return res
			}
			logging.Debug("fetch: retrying after credential refresh", "account", acct.Key())
		case source.IsRetryable(err):
			if netRetries >= f.opts.NetworkRetries {
				res.Err = err
				return res
			}
			netRetries++
			if serr := f.sleep(taskCtx, f.opts.RetryBackoff*time.Duration(netRetries)); serr != nil {
				res.Err = err
				return res
			}
			logging.Debug("fetch: retrying after network failure", "account", acct.Key(), "attempt", netRetries)
		default:
			res.Err = err
			return res
		}
	}
}

// All fetches one page for every account concurrently, bounded by
// MaxConcurrent, and waits for all of them. cursor picks the page per
// account; nil means the most recent page everywhere. Results are in
// account order. Accounts not yet started when ctx is canceled report
// ctx.Err().
func (f *Fetcher) All(ctx context.Context, accounts []source.Account, cursor func(source.Account) source.Cursor) []Result {
	results := make([]Result, len(accounts))

	var g errgroup.Group
	g.SetLimit(f.opts.MaxConcurrent)

	for i, acct := range accounts {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = Result{Account: acct, Err: err}
				return nil
			}
			var cur source.Cursor
			if cursor != nil {
				cur = cursor(acct)
			}
			results[i] = f.Account(ctx, acct, cur)
			return nil // errors are reported per account
		})
	}

	_ = g.Wait()
	return results
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
