// Package mastodon adapts the Mastodon home-timeline API to source.Adapter.
package mastodon

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/abelbrown/fedline/internal/source"
)

// Mastodon's own default page size, and the API's cap.
const (
	defaultPageSize = 20
	maxPageSize     = 40
)

// Adapter fetches /api/v1/timelines/home.
type Adapter struct {
	client   *source.Client
	pageSize int
}

var _ source.Adapter = (*Adapter)(nil)

// New creates an Adapter. pageSize <= 0 uses the server default.
func New(client *source.Client, pageSize int) *Adapter {
	if client == nil {
		client = source.NewClient(300 * time.Millisecond)
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	pageSize = min(pageSize, maxPageSize)
	return &Adapter{client: client, pageSize: pageSize}
}

type status struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	InReplyToID *string   `json:"in_reply_to_id"`
	URL         string    `json:"url"`
	URI         string    `json:"uri"`
	Content     string    `json:"content"`
	SpoilerText string    `json:"spoiler_text"`
	Account     struct {
		Acct string `json:"acct"`
	} `json:"account"`
	Reblog           *status `json:"reblog"`
	MediaAttachments []struct {
		Type        string `json:"type"`
		URL         string `json:"url"`
		Description string `json:"description"`
	} `json:"media_attachments"`
}

// FetchPage implements source.Adapter.
func (a *Adapter) FetchPage(ctx context.Context, acct source.Account, creds source.Credentials, cursor source.Cursor) (source.Page, error) {
	endpoint, err := a.endpoint(acct, cursor)
	if err != nil {
		return source.Page{}, source.WithAccount(err, acct)
	}

	var statuses []status
	hdr, err := a.client.GetJSON(ctx, "mastodon.home", endpoint, creds.AccessToken, &statuses)
	if err != nil {
		return source.Page{}, source.WithAccount(err, acct)
	}

	posts := make([]source.RawPost, 0, len(statuses))
	for _, st := range statuses {
		if st.ID == "" {
			return source.Page{}, source.WithAccount(source.Errorf(source.KindMalformedResponse, "mastodon.home", "status without id"), acct)
		}
		posts = append(posts, convertStatus(st))
	}

	page := source.Page{Posts: posts}
	link := hdr.Get("Link")
	switch next := nextMaxID(link); {
	case next != "" && len(statuses) > 0:
		page.Next = source.Cursor(next)
		page.HasMore = true
	case link == "" && len(statuses) == a.pageSize:
		// some proxies strip Link; a full page implies more history
		page.Next = source.Cursor(statuses[len(statuses)-1].ID)
		page.HasMore = true
	}
	return page, nil
}

func (a *Adapter) endpoint(acct source.Account, cursor source.Cursor) (string, error) {
	base := strings.TrimRight(acct.BaseURL, "/")
	if base == "" {
		return "", source.Errorf(source.KindUnknown, "mastodon.home", "account %s has no instance URL", acct.Handle)
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(a.pageSize))
	if cursor != "" {
		q.Set("max_id", string(cursor))
	}
	return base + "/api/v1/timelines/home?" + q.Encode(), nil
}

func convertStatus(st status) source.RawPost {
	if st.Reblog != nil {
		inner := convertStatus(*st.Reblog)
		return source.RawPost{
			PlatformID:   st.ID,
			Platform:     source.PlatformMastodon,
			AuthorHandle: st.Account.Acct,
			CreatedAt:    st.CreatedAt,
			URL:          st.URL,
			Reblog:       &inner,
			BoostedBy:    st.Account.Acct,
			BoostedAt:    st.CreatedAt,
		}
	}

	p := source.RawPost{
		PlatformID:   st.ID,
		Platform:     source.PlatformMastodon,
		AuthorHandle: st.Account.Acct,
		Content:      plainText(st.Content),
		CreatedAt:    st.CreatedAt,
		URL:          st.URL,
	}
	if st.SpoilerText != "" {
		p.Content = "CW: " + st.SpoilerText + "\n" + p.Content
	}
	if st.InReplyToID != nil {
		p.InReplyToID = *st.InReplyToID
	}
	for _, m := range st.MediaAttachments {
		p.Attachments = append(p.Attachments, source.Attachment{URL: m.URL, Kind: m.Type, Description: m.Description})
	}
	return p
}

// linkNextRe matches the rel="next" entry of a Link header.
var linkNextRe = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

// nextMaxID extracts max_id from the Link header's next URL.
func nextMaxID(link string) string {
	m := linkNextRe.FindStringSubmatch(link)
	if m == nil {
		return ""
	}
	u, err := url.Parse(m[1])
	if err != nil {
		return ""
	}
	return u.Query().Get("max_id")
}

var (
	paragraphRe = regexp.MustCompile(`(?i)</p>\s*<p>|<br\s*/?>`)
	tagRe       = regexp.MustCompile(`<[^>]*>`)
)

// plainText flattens status HTML into display text.
func plainText(s string) string {
	s = paragraphRe.ReplaceAllString(s, "\n")
	s = tagRe.ReplaceAllString(s, "")
	return strings.TrimSpace(html.UnescapeString(s))
}

// String is used in logs.
func (a *Adapter) String() string {
	return fmt.Sprintf("mastodon(limit=%d)", a.pageSize)
}
