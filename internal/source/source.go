// Package source defines the paginated fetch contract that every backend
// adapter implements.
//
// Adapters are stateless with respect to the timeline: they return one page
// of raw posts for an account and never decide how results are merged.
package source

import (
	"context"
	"fmt"
	"time"
)

// Platform tags the backend network a post or account belongs to.
type Platform string

const (
	PlatformMastodon Platform = "mastodon"
	PlatformBluesky  Platform = "bluesky"
	PlatformFeed     Platform = "feed" // RSS/Atom export of an account
)

// Account identifies one configured account on one backend.
type Account struct {
	Platform Platform
	Handle   string
	BaseURL  string // instance / PDS / AppView base URL
	FeedURL  string // only for PlatformFeed
}

// Key is the account's identity within a session ("mastodon/@me@example.social").
func (a Account) Key() string {
	return string(a.Platform) + "/" + a.Handle
}

func (a Account) String() string { return a.Key() }

// Cursor is an opaque continuation token for older pages. Empty means
// "most recent page".
type Cursor string

// Credentials are whatever an adapter needs to authorize a request.
type Credentials struct {
	AccessToken string
}

// Attachment is display payload; the engine never looks inside.
type Attachment struct {
	URL         string
	Kind        string // "image", "video", "link", ...
	Description string
}

// RawPost is one item as returned by an adapter, already mapped onto the
// shared shape but not yet given a stable identity.
type RawPost struct {
	PlatformID   string
	Platform     Platform
	AuthorHandle string
	Content      string
	Attachments  []Attachment
	CreatedAt    time.Time
	InReplyToID  string
	URL          string

	// Reblog is non-nil when this item is a boost/repost wrapper. The wrapper's
	// own PlatformID identifies the boost action, not the content.
	Reblog    *RawPost
	BoostedBy string    // handle of the booster (wrapper author)
	BoostedAt time.Time // when the boost happened; zero if unknown
}

// IsBoost reports whether the item wraps another post.
func (p RawPost) IsBoost() bool { return p.Reblog != nil }

// Page is the result of one FetchPage call.
type Page struct {
	Posts   []RawPost
	Next    Cursor
	HasMore bool
}

// Adapter fetches home-timeline pages from one backend.
// FetchPage must be idempotent and side-effect free.
type Adapter interface {
	FetchPage(ctx context.Context, acct Account, creds Credentials, cursor Cursor) (Page, error)
}

// CredentialProvider hands out credentials that are valid at call time.
// Token acquisition and refresh live behind this interface.
type CredentialProvider interface {
	EnsureValid(ctx context.Context, acct Account) (Credentials, error)
}

// Invalidator is optionally implemented by a CredentialProvider that caches
// tokens. It is called when an adapter reports KindAuthExpired so the next
// EnsureValid call fetches fresh credentials.
type Invalidator interface {
	Invalidate(acct Account)
}

// Registry maps each platform to its adapter.
type Registry map[Platform]Adapter

// Lookup returns the adapter for an account's platform.
func (r Registry) Lookup(acct Account) (Adapter, error) {
	a, ok := r[acct.Platform]
	if !ok || a == nil {
		return nil, fmt.Errorf("no adapter for platform %q", acct.Platform)
	}
	return a, nil
}

// StaticCredentials serves tokens from configuration, keyed by Account.Key.
// Feed accounts need no token.
type StaticCredentials map[string]string

// EnsureValid implements CredentialProvider.
func (s StaticCredentials) EnsureValid(_ context.Context, acct Account) (Credentials, error) {
	if acct.Platform == PlatformFeed {
		return Credentials{}, nil
	}
	tok, ok := s[acct.Key()]
	if !ok || tok == "" {
		return Credentials{}, &Error{Kind: KindAuthExpired, Account: acct.Key(), Op: "credentials", Err: fmt.Errorf("no token configured")}
	}
	return Credentials{AccessToken: tok}, nil
}
