// Package feed reads an account's RSS/Atom export as a single-page source.
//
// Mastodon publishes /@user.rss and most Bluesky mirrors publish Atom; neither
// carries boosts or pagination, so every fetch returns one page with
// HasMore=false.
package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/abelbrown/fedline/internal/source"
)

// Adapter fetches and parses feeds.
type Adapter struct {
	client *http.Client
	now    func() time.Time
}

var _ source.Adapter = (*Adapter)(nil)

// New creates an Adapter with the given HTTP client timeout.
func New(timeout time.Duration) *Adapter {
	return &Adapter{
		client: &http.Client{Transport: source.Transport(), Timeout: timeout},
		now:    time.Now,
	}
}

// FetchPage implements source.Adapter. Cursors are ignored: a non-empty
// cursor returns an empty, exhausted page.
func (a *Adapter) FetchPage(ctx context.Context, acct source.Account, _ source.Credentials, cursor source.Cursor) (source.Page, error) {
	if cursor != "" {
		return source.Page{}, nil
	}
	if acct.FeedURL == "" {
		return source.Page{}, source.WithAccount(source.Errorf(source.KindUnknown, "feed.fetch", "no feed url"), acct)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, acct.FeedURL, nil)
	if err != nil {
		return source.Page{}, source.WithAccount(source.Errorf(source.KindUnknown, "feed.fetch", "create request: %w", err), acct)
	}
	req.Header.Set("User-Agent", source.UserAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		kind := source.KindNetwork
		if errors.Is(ctx.Err(), context.Canceled) {
			kind = source.KindUnknown
		}
		return source.Page{}, source.WithAccount(&source.Error{Kind: kind, Op: "feed.fetch", Err: err}, acct)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		e := &source.Error{Kind: source.ClassifyStatus(resp.StatusCode), Op: "feed.fetch", Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
		if e.Kind == source.KindRateLimited {
			e.RetryAfter = source.ParseRetryAfter(resp.Header, a.now())
		}
		return source.Page{}, source.WithAccount(e, acct)
	}

	parsed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return source.Page{}, source.WithAccount(source.Errorf(source.KindMalformedResponse, "feed.parse", "parse feed: %w", err), acct)
	}

	fetched := a.now()
	posts := make([]source.RawPost, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		p, ok := convertFeedItem(item, acct, fetched)
		if ok {
			posts = append(posts, p)
		}
	}
	return source.Page{Posts: posts}, nil
}

// convertFeedItem maps a gofeed item onto RawPost. Items with neither GUID
// nor link have no usable identity and are skipped.
func convertFeedItem(item *gofeed.Item, acct source.Account, fetched time.Time) (source.RawPost, bool) {
	id := item.GUID
	if id == "" {
		id = item.Link
	}
	if id == "" {
		return source.RawPost{}, false
	}

	published := fetched
	if item.PublishedParsed != nil {
		published = *item.PublishedParsed
	} else if item.UpdatedParsed != nil {
		published = *item.UpdatedParsed
	}

	author := acct.Handle
	if item.Author != nil && item.Author.Name != "" {
		author = item.Author.Name
	}

	content := item.Description
	if content == "" {
		content = item.Content
	}
	if content == "" {
		content = item.Title
	}

	p := source.RawPost{
		PlatformID:   id,
		Platform:     source.PlatformFeed,
		AuthorHandle: author,
		Content:      strings.TrimSpace(content),
		CreatedAt:    published,
		URL:          item.Link,
	}
	for _, enc := range item.Enclosures {
		if enc == nil || enc.URL == "" {
			continue
		}
		p.Attachments = append(p.Attachments, source.Attachment{URL: enc.URL, Kind: enc.Type})
	}
	return p, true
}
