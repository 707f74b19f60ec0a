// Package normalize turns adapter RawPosts into timeline Posts and Entries
// with a stable cross-refresh identity.
//
// Identity is derived from (platform, platform id) of the *content*: a boost
// wrapper takes the wrapped post's identity, so a boost and a plain
// observation of the same post always collide.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/abelbrown/fedline/internal/logging"
	"github.com/abelbrown/fedline/internal/source"
	"github.com/abelbrown/fedline/internal/timeline"
)

// StableID derives the canonical identity of a piece of content.
func StableID(platform source.Platform, platformID string) string {
	h := sha256.Sum256([]byte(string(platform) + ":" + platformID))
	return hex.EncodeToString(h[:8])
}

// Normalize converts one page of raw items observed by account into Posts.
// Items without a usable platform id are dropped and logged. raw is not
// modified.
func Normalize(raw []source.RawPost, platform source.Platform, account string) []timeline.Post {
	posts := make([]timeline.Post, 0, len(raw))
	for i := range raw {
		p, ok := normalizeOne(raw[i], platform, account)
		if !ok {
			logging.Warn("normalize: dropping item without id", "account", account, "index", i)
			continue
		}
		posts = append(posts, p)
	}
	return posts
}

func normalizeOne(r source.RawPost, platform source.Platform, account string) (timeline.Post, bool) {
	if r.Platform == "" {
		r.Platform = platform
	}
	if r.Reblog == nil {
		if r.PlatformID == "" {
			return timeline.Post{}, false
		}
		return plain(r, account), true
	}

	inner := *r.Reblog
	if inner.Platform == "" {
		inner.Platform = r.Platform
	}
	if inner.PlatformID == "" {
		return timeline.Post{}, false
	}

	original := plain(inner, account)
	boosted := original
	boosted.BoostOf = &original
	boosted.BoostedBy = r.BoostedBy
	if boosted.BoostedBy == "" {
		boosted.BoostedBy = r.AuthorHandle
	}
	boosted.BoostedAt = r.BoostedAt
	if boosted.BoostedAt.IsZero() {
		boosted.BoostedAt = r.CreatedAt
	}
	return boosted, true
}

func plain(r source.RawPost, account string) timeline.Post {
	var atts []source.Attachment
	if len(r.Attachments) > 0 {
		atts = make([]source.Attachment, len(r.Attachments))
		copy(atts, r.Attachments)
	}
	return timeline.Post{
		PlatformID:   r.PlatformID,
		Platform:     r.Platform,
		StableID:     StableID(r.Platform, r.PlatformID),
		CreatedAt:    r.CreatedAt,
		AuthorHandle: r.AuthorHandle,
		Content:      r.Content,
		Attachments:  atts,
		InReplyToID:  r.InReplyToID,
		URL:          r.URL,
		Account:      account,
	}
}

// ToEntry builds the timeline entry for a post. Boosts order by boost time
// when known; replies record their parent's stable id.
func ToEntry(p timeline.Post) timeline.Entry {
	e := timeline.Entry{
		ID:        p.StableID,
		Kind:      timeline.KindNormal,
		Post:      p,
		CreatedAt: p.CreatedAt,
	}
	switch {
	case p.BoostOf != nil:
		e.Kind = timeline.KindBoost
		e.BoostedBy = p.BoostedBy
		if !p.BoostedAt.IsZero() {
			e.CreatedAt = p.BoostedAt
		}
	case p.InReplyToID != "":
		e.Kind = timeline.KindReply
		e.ParentID = StableID(p.Platform, p.InReplyToID)
	}
	return e
}

// Entries maps ToEntry over posts.
func Entries(posts []timeline.Post) []timeline.Entry {
	out := make([]timeline.Entry, len(posts))
	for i, p := range posts {
		out[i] = ToEntry(p)
	}
	return out
}

// Page normalizes a raw page straight to entries.
func Page(page source.Page, acct source.Account) []timeline.Entry {
	return Entries(Normalize(page.Posts, acct.Platform, acct.Key()))
}
