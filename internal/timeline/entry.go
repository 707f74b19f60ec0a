// Package timeline holds the canonical post model and the pure merge/dedup
// engine that keeps a sequence strictly ordered and duplicate-free.
//
// # Ordering
//
// A Seq is sorted descending by (CreatedAt, ID): newer first, and for equal
// timestamps the larger ID first. Every function in this package preserves
// that invariant and none of them mutates its inputs.
package timeline

import (
	"time"

	"github.com/abelbrown/fedline/internal/source"
)

// Post is one piece of normalized content. Values are never mutated after
// the normalizer creates them.
type Post struct {
	PlatformID   string
	Platform     source.Platform
	StableID     string
	CreatedAt    time.Time
	AuthorHandle string
	Content      string
	Attachments  []source.Attachment
	InReplyToID  string
	URL          string
	Account      string // key of the account that observed it

	// BoostOf is set on a boost observation and points at the wrapped post.
	// StableID then equals BoostOf.StableID.
	BoostOf   *Post
	BoostedBy string
	BoostedAt time.Time
}

// Kind is how an entry is presented.
type Kind uint8

const (
	KindNormal Kind = iota
	KindReply
	KindBoost
)

func (k Kind) String() string {
	switch k {
	case KindReply:
		return "reply"
	case KindBoost:
		return "boost"
	default:
		return "normal"
	}
}

// rank orders kinds for dedup. A boost carries strictly more information
// than a plain or reply observation of the same content.
func (k Kind) rank() int {
	if k == KindBoost {
		return 1
	}
	return 0
}

// Entry is the unit the engine orders and renders. Exactly one Entry exists
// per ID in a Seq.
type Entry struct {
	ID        string // = Post.StableID
	Kind      Kind
	ParentID  string // KindReply only
	BoostedBy string // KindBoost only
	Post      Post   // the displayed content (the wrapped post for boosts)
	CreatedAt time.Time
}

// Seq is an ordered, duplicate-free entry sequence.
type Seq []Entry

// Less reports whether a sorts before b.
func Less(a, b Entry) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// Supersedes reports whether incoming should replace existing for the same ID.
func Supersedes(incoming, existing Entry) bool {
	return incoming.Kind.rank() > existing.Kind.rank()
}

// IsSorted reports whether seq is strictly ordered (which also implies no
// two adjacent entries share an ID).
func IsSorted(seq []Entry) bool {
	for i := 1; i < len(seq); i++ {
		if !Less(seq[i-1], seq[i]) {
			return false
		}
	}
	return true
}

// IndexOf returns the position of id in seq, or -1.
func IndexOf(seq []Entry, id string) int {
	if id == "" {
		return -1
	}
	for i := range seq {
		if seq[i].ID == id {
			return i
		}
	}
	return -1
}

// IDs returns the entry IDs in order.
func IDs(seq []Entry) []string {
	ids := make([]string, len(seq))
	for i, e := range seq {
		ids[i] = e.ID
	}
	return ids
}

// Clone returns a copy of seq that shares no backing array with it.
func Clone(seq Seq) Seq {
	if seq == nil {
		return nil
	}
	out := make(Seq, len(seq))
	copy(out, seq)
	return out
}
