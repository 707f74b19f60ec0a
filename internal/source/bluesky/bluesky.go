// Package bluesky adapts app.bsky.feed.getTimeline to source.Adapter.
package bluesky

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/abelbrown/fedline/internal/source"
)

const (
	defaultPageSize = 30
	maxPageSize     = 100

	repostReason = "app.bsky.feed.defs#reasonRepost"
)

// Adapter fetches the authenticated user's following timeline via XRPC.
type Adapter struct {
	client   *source.Client
	pageSize int
}

var _ source.Adapter = (*Adapter)(nil)

// New creates an Adapter. pageSize <= 0 uses the default.
func New(client *source.Client, pageSize int) *Adapter {
	if client == nil {
		client = source.NewClient(300 * time.Millisecond)
	}
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = defaultPageSize
	}
	return &Adapter{client: client, pageSize: pageSize}
}

type profile struct {
	Handle string `json:"handle"`
}

type postView struct {
	URI    string  `json:"uri"`
	Author profile `json:"author"`
	Record struct {
		Text      string    `json:"text"`
		CreatedAt time.Time `json:"createdAt"`
		Reply     *struct {
			Parent struct {
				URI string `json:"uri"`
			} `json:"parent"`
		} `json:"reply"`
	} `json:"record"`
	IndexedAt time.Time `json:"indexedAt"`
	Embed     *struct {
		Type   string `json:"$type"`
		Images []struct {
			Fullsize string `json:"fullsize"`
			Alt      string `json:"alt"`
		} `json:"images"`
		External *struct {
			URI   string `json:"uri"`
			Title string `json:"title"`
		} `json:"external"`
	} `json:"embed"`
}

type feedItem struct {
	Post   postView `json:"post"`
	Reason *struct {
		Type      string    `json:"$type"`
		By        profile   `json:"by"`
		IndexedAt time.Time `json:"indexedAt"`
	} `json:"reason"`
}

type timelineResponse struct {
	Feed   []feedItem `json:"feed"`
	Cursor string     `json:"cursor"`
}

// FetchPage implements source.Adapter.
func (a *Adapter) FetchPage(ctx context.Context, acct source.Account, creds source.Credentials, cursor source.Cursor) (source.Page, error) {
	base := strings.TrimRight(acct.BaseURL, "/")
	if base == "" {
		base = "https://bsky.social"
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(a.pageSize))
	if cursor != "" {
		q.Set("cursor", string(cursor))
	}
	endpoint := base + "/xrpc/app.bsky.feed.getTimeline?" + q.Encode()

	var resp timelineResponse
	if _, err := a.client.GetJSON(ctx, "bluesky.timeline", endpoint, creds.AccessToken, &resp); err != nil {
		return source.Page{}, source.WithAccount(reclassify(err), acct)
	}

	posts := make([]source.RawPost, 0, len(resp.Feed))
	for _, item := range resp.Feed {
		if item.Post.URI == "" {
			return source.Page{}, source.WithAccount(source.Errorf(source.KindMalformedResponse, "bluesky.timeline", "feed item without uri"), acct)
		}
		posts = append(posts, convertItem(item))
	}

	return source.Page{
		Posts:   posts,
		Next:    source.Cursor(resp.Cursor),
		HasMore: resp.Cursor != "" && len(resp.Feed) > 0,
	}, nil
}

// reclassify turns XRPC's "400 ExpiredToken" into KindAuthExpired.
func reclassify(err error) error {
	var se *source.Error
	if errors.As(err, &se) && se.Kind == source.KindMalformedResponse && se.Err != nil &&
		(strings.Contains(se.Err.Error(), "ExpiredToken") || strings.Contains(se.Err.Error(), "InvalidToken")) {
		cp := *se
		cp.Kind = source.KindAuthExpired
		return &cp
	}
	return err
}

func convertPost(pv postView) source.RawPost {
	created := pv.Record.CreatedAt
	if created.IsZero() {
		created = pv.IndexedAt
	}
	p := source.RawPost{
		PlatformID:   pv.URI,
		Platform:     source.PlatformBluesky,
		AuthorHandle: pv.Author.Handle,
		Content:      pv.Record.Text,
		CreatedAt:    created,
		URL:          webURL(pv),
	}
	if pv.Record.Reply != nil {
		p.InReplyToID = pv.Record.Reply.Parent.URI
	}
	if pv.Embed != nil {
		for _, img := range pv.Embed.Images {
			p.Attachments = append(p.Attachments, source.Attachment{URL: img.Fullsize, Kind: "image", Description: img.Alt})
		}
		if pv.Embed.External != nil {
			p.Attachments = append(p.Attachments, source.Attachment{URL: pv.Embed.External.URI, Kind: "link", Description: pv.Embed.External.Title})
		}
	}
	return p
}

func convertItem(item feedItem) source.RawPost {
	post := convertPost(item.Post)
	if item.Reason == nil || item.Reason.Type != repostReason {
		return post
	}
	// Reposts have no record of their own in the timeline view; the wrapper id
	// is synthesized from booster + content so it is stable across fetches.
	return source.RawPost{
		PlatformID:   "repost:" + item.Reason.By.Handle + ":" + post.PlatformID,
		Platform:     source.PlatformBluesky,
		AuthorHandle: item.Reason.By.Handle,
		CreatedAt:    item.Reason.IndexedAt,
		Reblog:       &post,
		BoostedBy:    item.Reason.By.Handle,
		BoostedAt:    item.Reason.IndexedAt,
	}
}

// webURL maps at://did/app.bsky.feed.post/rkey to the bsky.app permalink.
func webURL(pv postView) string {
	const prefix = "at://"
	if !strings.HasPrefix(pv.URI, prefix) {
		return ""
	}
	parts := strings.Split(strings.TrimPrefix(pv.URI, prefix), "/")
	if len(parts) != 3 {
		return ""
	}
	return "https://bsky.app/profile/" + pv.Author.Handle + "/post/" + parts[2]
}
