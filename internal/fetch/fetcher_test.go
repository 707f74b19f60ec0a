package fetch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/abelbrown/fedline/internal/source"
)

// mockAdapter answers FetchPage from a function.
type mockAdapter struct {
	calls atomic.Int32
	fn    func(call int, acct source.Account, creds source.Credentials, cursor source.Cursor) (source.Page, error)
}

func (m *mockAdapter) FetchPage(ctx context.Context, acct source.Account, creds source.Credentials, cursor source.Cursor) (source.Page, error) {
	n := int(m.calls.Add(1))
	return m.fn(n, acct, creds, cursor)
}

// mockCreds hands out "tok-N" and counts invalidations.
type mockCreds struct {
	mu          sync.Mutex
	issued      int
	invalidated int
	err         error
}

func (m *mockCreds) EnsureValid(ctx context.Context, acct source.Account) (source.Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return source.Credentials{}, m.err
	}
	m.issued++
	return source.Credentials{AccessToken: "tok-" + string(rune('0'+m.issued))}, nil
}

func (m *mockCreds) Invalidate(acct source.Account) {
	m.mu.Lock()
	m.invalidated++
	m.mu.Unlock()
}

var acctA = source.Account{Platform: source.PlatformMastodon, Handle: "@a@example.social"}
var acctB = source.Account{Platform: source.PlatformMastodon, Handle: "@b@example.social"}

func onePost(id string) source.Page {
	return source.Page{
		Posts: []source.RawPost{{
			PlatformID: id,
			Platform:   source.PlatformMastodon,
			Content:    "hello",
			CreatedAt:  time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		}},
		Next:    "next-" + source.Cursor(id),
		HasMore: true,
	}
}

func newTestFetcher(a source.Adapter, c source.CredentialProvider, opts Options) *Fetcher {
	f := New(source.Registry{source.PlatformMastodon: a}, c, opts)
	f.sleep = func(context.Context, time.Duration) error { return nil }
	return f
}

func TestAccountSuccessNormalizes(t *testing.T) {
	a := &mockAdapter{fn: func(int, source.Account, source.Credentials, source.Cursor) (source.Page, error) {
		return onePost("1"), nil
	}}
	f := newTestFetcher(a, &mockCreds{}, Options{})

	res := f.Account(context.Background(), acctA, "")
	if !res.OK() {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if len(res.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(res.Entries))
	}
	if res.Entries[0].Post.Account != acctA.Key() {
		t.Errorf("entry account = %q", res.Entries[0].Post.Account)
	}
	if res.Page.Next != "next-1" {
		t.Errorf("cursor not passed through: %q", res.Page.Next)
	}
	if res.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", res.Attempts)
	}
}

func TestAccountAuthExpiredRetriesOnce(t *testing.T) {
	var seen []string
	var mu sync.Mutex
	a := &mockAdapter{fn: func(call int, _ source.Account, creds source.Credentials, _ source.Cursor) (source.Page, error) {
		mu.Lock()
		seen = append(seen, creds.AccessToken)
		mu.Unlock()
		if call == 1 {
			return source.Page{}, &source.Error{Kind: source.KindAuthExpired}
		}
		return onePost("1"), nil
	}}
	creds := &mockCreds{}
	f := newTestFetcher(a, creds, Options{})

	res := f.Account(context.Background(), acctA, "")
	if !res.OK() {
		t.Fatalf("expected success after refresh, got %v", res.Err)
	}
	if creds.invalidated != 1 {
		t.Errorf("invalidated = %d, want 1", creds.invalidated)
	}
	if len(seen) != 2 || seen[0] == seen[1] {
		t.Errorf("expected second attempt with fresh token, got %v", seen)
	}
}

func TestAccountAuthExpiredTwiceDegrades(t *testing.T) {
	a := &mockAdapter{fn: func(int, source.Account, source.Credentials, source.Cursor) (source.Page, error) {
		return source.Page{}, &source.Error{Kind: source.KindAuthExpired}
	}}
	f := newTestFetcher(a, &mockCreds{}, Options{})

	res := f.Account(context.Background(), acctA, "")
	if res.Kind() != source.KindAuthExpired {
		t.Fatalf("kind = %v, want auth_expired", res.Kind())
	}
	if got := a.calls.Load(); got != 2 {
		t.Errorf("adapter calls = %d, want 2", got)
	}
}

func TestAccountNetworkRetriesBounded(t *testing.T) {
	a := &mockAdapter{fn: func(int, source.Account, source.Credentials, source.Cursor) (source.Page, error) {
		return source.Page{}, &source.Error{Kind: source.KindNetwork, Err: errors.New("connection reset")}
	}}
	f := newTestFetcher(a, &mockCreds{}, Options{NetworkRetries: 3})

	res := f.Account(context.Background(), acctA, "")
	if res.Kind() != source.KindNetwork {
		t.Fatalf("kind = %v", res.Kind())
	}
	if got := a.calls.Load(); got != 4 {
		t.Errorf("adapter calls = %d, want 4 (1 + 3 retries)", got)
	}
}

func TestAccountNetworkRecovers(t *testing.T) {
	a := &mockAdapter{fn: func(call int, _ source.Account, _ source.Credentials, _ source.Cursor) (source.Page, error) {
		if call < 3 {
			return source.Page{}, &source.Error{Kind: source.KindNetwork}
		}
		return onePost("1"), nil
	}}
	f := newTestFetcher(a, &mockCreds{}, Options{NetworkRetries: 2})

	res := f.Account(context.Background(), acctA, "")
	if !res.OK() {
		t.Fatalf("expected recovery, got %v", res.Err)
	}
	if res.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", res.Attempts)
	}
}

func TestAccountRateLimitedNotRetried(t *testing.T) {
	a := &mockAdapter{fn: func(int, source.Account, source.Credentials, source.Cursor) (source.Page, error) {
		return source.Page{}, &source.Error{Kind: source.KindRateLimited, RetryAfter: time.Minute}
	}}
	f := newTestFetcher(a, &mockCreds{}, Options{})

	res := f.Account(context.Background(), acctA, "")
	if res.Kind() != source.KindRateLimited {
		t.Fatalf("kind = %v", res.Kind())
	}
	if source.RetryAfterOf(res.Err) != time.Minute {
		t.Errorf("retry-after lost: %v", source.RetryAfterOf(res.Err))
	}
	if got := a.calls.Load(); got != 1 {
		t.Errorf("adapter calls = %d, want 1", got)
	}
}

func TestAccountMalformedNotRetried(t *testing.T) {
	a := &mockAdapter{fn: func(int, source.Account, source.Credentials, source.Cursor) (source.Page, error) {
		return source.Page{}, &source.Error{Kind: source.KindMalformedResponse}
	}}
	f := newTestFetcher(a, &mockCreds{}, Options{})

	res := f.Account(context.Background(), acctA, "")
	if res.Kind() != source.KindMalformedResponse {
		t.Fatalf("kind = %v", res.Kind())
	}
	if got := a.calls.Load(); got != 1 {
		t.Errorf("adapter calls = %d, want 1", got)
	}
}

func TestAccountCredentialFailure(t *testing.T) {
	a := &mockAdapter{fn: func(int, source.Account, source.Credentials, source.Cursor) (source.Page, error) {
		t.Error("adapter should not be called without credentials")
		return source.Page{}, nil
	}}
	f := newTestFetcher(a, &mockCreds{err: &source.Error{Kind: source.KindAuthExpired}}, Options{})

	res := f.Account(context.Background(), acctA, "")
	if res.Kind() != source.KindAuthExpired {
		t.Errorf("kind = %v, want auth_expired", res.Kind())
	}
}

func TestAccountRecoversPanic(t *testing.T) {
	a := &mockAdapter{fn: func(int, source.Account, source.Credentials, source.Cursor) (source.Page, error) {
		panic("boom")
	}}
	f := newTestFetcher(a, &mockCreds{}, Options{})

	res := f.Account(context.Background(), acctA, "")
	if res.OK() {
		t.Fatal("expected error from panicking adapter")
	}
}

func TestAccountUnknownPlatform(t *testing.T) {
	f := newTestFetcher(&mockAdapter{}, &mockCreds{}, Options{})
	res := f.Account(context.Background(), source.Account{Platform: "gopher", Handle: "x"}, "")
	if res.OK() {
		t.Fatal("expected error for unregistered platform")
	}
}

func TestAllKeepsAccountOrderAndIsolatesFailures(t *testing.T) {
	a := &mockAdapter{fn: func(_ int, acct source.Account, _ source.Credentials, cursor source.Cursor) (source.Page, error) {
		if acct == acctB {
			return source.Page{}, &source.Error{Kind: source.KindRateLimited}
		}
		return onePost(string(cursor) + "x"), nil
	}}
	f := newTestFetcher(a, &mockCreds{}, Options{})

	results := f.All(context.Background(), []source.Account{acctA, acctB}, func(acct source.Account) source.Cursor {
		if acct == acctA {
			return "c1"
		}
		return ""
	})
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Account != acctA || !results[0].OK() {
		t.Errorf("first result = %+v", results[0])
	}
	if results[0].Cursor != "c1" {
		t.Errorf("cursor = %q, want c1", results[0].Cursor)
	}
	if results[1].Account != acctB || results[1].Kind() != source.KindRateLimited {
		t.Errorf("second result = %+v", results[1])
	}
}

func TestAllRespectsConcurrencyLimit(t *testing.T) {
	var inflight, peak atomic.Int32
	a := &mockAdapter{fn: func(int, source.Account, source.Credentials, source.Cursor) (source.Page, error) {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inflight.Add(-1)
		return source.Page{}, nil
	}}
	f := newTestFetcher(a, &mockCreds{}, Options{MaxConcurrent: 2})

	accts := make([]source.Account, 8)
	for i := range accts {
		accts[i] = source.Account{Platform: source.PlatformMastodon, Handle: string(rune('a' + i))}
	}
	f.All(context.Background(), accts, nil)

	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", p)
	}
}

func TestAllCanceledContext(t *testing.T) {
	a := &mockAdapter{fn: func(int, source.Account, source.Credentials, source.Cursor) (source.Page, error) {
		return onePost("1"), nil
	}}
	f := newTestFetcher(a, &mockCreds{}, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := f.All(ctx, []source.Account{acctA, acctB}, nil)
	for _, r := range results {
		if !errors.Is(r.Err, context.Canceled) {
			t.Errorf("%s: err = %v, want canceled", r.Account, r.Err)
		}
	}
	if a.calls.Load() != 0 {
		t.Errorf("adapter called %d times after cancel", a.calls.Load())
	}
}
