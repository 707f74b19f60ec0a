// Package anchor tracks which timeline entry must stay visually fixed across
// mutations of the ordered sequence, and tells the presentation layer how
// to put it back afterwards.
//
// The presentation layer reports the topmost visible entry with Record.
// Around a mutation the engine calls Lock, PrepareRestore, mutates, then
// ResolveRestore. While the lock window is open Record is ignored, so the
// scroll adjustment caused by a restore can never overwrite the anchor it is
// restoring.
package anchor

import (
	"time"

	"github.com/abelbrown/fedline/internal/logging"
	"github.com/abelbrown/fedline/internal/timeline"
)

// Persister durably stores the anchor for a session.
type Persister interface {
	SaveAnchor(session, id string) error
}

// Restore instructs the presentation layer to re-establish an entry.
// Restores are never animated.
type Restore struct {
	ID       string // "" when the sequence is empty
	Index    int    // position of ID in the new sequence
	Offset   int    // screen offset recorded with the anchor
	Animated bool
	Fallback bool // the requested entry was gone; ID is the closest survivor
	Top      bool // pinned to the head of the sequence
}

type pending struct {
	target  string
	origIdx int
	oldIDs  []string
	top     bool
}

// Tracker is owned by the engine and used from its single writer goroutine.
type Tracker struct {
	now         func() time.Time
	id          string
	offset      int
	lockedUntil time.Time
	pending     *pending

	persist Persister
	session string
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the wall clock used for lock windows.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithPersister saves every accepted anchor under session.
func WithPersister(p Persister, session string) Option {
	return func(t *Tracker) {
		t.persist = p
		t.session = session
	}
}

// New creates a Tracker with no anchor.
func New(opts ...Option) *Tracker {
	t := &Tracker{now: time.Now}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Seed sets the anchor from persisted state without writing it back.
func (t *Tracker) Seed(id string) {
	t.id = id
	t.offset = 0
}

// ID returns the current anchor, or "".
func (t *Tracker) ID() string { return t.id }

// Offset returns the screen offset recorded with the anchor.
func (t *Tracker) Offset() int { return t.offset }

// Record sets the anchor unless a lock window is open. Reports whether the
// update was accepted.
func (t *Tracker) Record(id string, offset int) bool {
	if t.Locked() {
		return false
	}
	changed := id != t.id
	t.id = id
	t.offset = offset
	if changed {
		t.save()
	}
	return true
}

// Lock suppresses Record for d from now. Overlapping locks extend, never
// shorten, the window.
func (t *Tracker) Lock(d time.Duration) {
	until := t.now().Add(d)
	if until.After(t.lockedUntil) {
		t.lockedUntil = until
	}
}

// Locked reports whether a lock window is open.
func (t *Tracker) Locked() bool {
	return t.now().Before(t.lockedUntil)
}

// Unlock closes any lock window immediately.
func (t *Tracker) Unlock() {
	t.lockedUntil = time.Time{}
}

// PrepareRestore remembers targetID and its index in seq ahead of a mutation.
func (t *Tracker) PrepareRestore(targetID string, seq timeline.Seq) {
	t.pending = &pending{
		target:  targetID,
		origIdx: timeline.IndexOf(seq, targetID),
		oldIDs:  timeline.IDs(seq),
	}
}

// PrepareTop arranges for the next ResolveRestore to pin the head of the
// new sequence, for readers already sitting at the top.
func (t *Tracker) PrepareTop() {
	t.pending = &pending{top: true}
}

// Pending reports whether a restore has been prepared but not resolved.
func (t *Tracker) Pending() bool { return t.pending != nil }

// ResolveRestore computes where the presentation layer must put the view
// after a mutation. If the target is gone it falls back to the closest entry
// of the old sequence (by original index) that survived, else to the top.
// The resolved entry becomes the anchor. Reports false if nothing was
// prepared.
func (t *Tracker) ResolveRestore(seq timeline.Seq) (Restore, bool) {
	p := t.pending
	if p == nil {
		return Restore{}, false
	}
	t.pending = nil

	if p.top {
		r := top(seq)
		r.Fallback = false
		t.adopt(r.ID, 0)
		return r, true
	}

	if i := timeline.IndexOf(seq, p.target); i >= 0 {
		t.adopt(p.target, t.offset)
		return Restore{ID: p.target, Index: i, Offset: t.offset}, true
	}

	if id, i := closestSurvivor(p, seq); i >= 0 {
		t.adopt(id, t.offset)
		return Restore{ID: id, Index: i, Offset: t.offset, Fallback: true}, true
	}

	r := top(seq)
	t.adopt(r.ID, 0)
	return r, true
}

// closestSurvivor walks outward from the target's original index, checking
// the following (older) neighbour before the preceding one at each distance.
func closestSurvivor(p *pending, seq timeline.Seq) (string, int) {
	if p.origIdx < 0 || len(seq) == 0 {
		return "", -1
	}
	where := make(map[string]int, len(seq))
	for i, e := range seq {
		where[e.ID] = i
	}
	for d := 1; d < len(p.oldIDs); d++ {
		for _, k := range []int{p.origIdx + d, p.origIdx - d} {
			if k < 0 || k >= len(p.oldIDs) {
				continue
			}
			if i, ok := where[p.oldIDs[k]]; ok {
				return p.oldIDs[k], i
			}
		}
	}
	return "", -1
}

func top(seq timeline.Seq) Restore {
	if len(seq) == 0 {
		return Restore{Top: true, Fallback: true}
	}
	return Restore{ID: seq[0].ID, Index: 0, Top: true, Fallback: true}
}

// adopt moves the anchor as a consequence of a restore. It bypasses the lock
// (it is not a presentation-layer report) but still persists.
func (t *Tracker) adopt(id string, offset int) {
	changed := id != t.id
	t.id = id
	t.offset = offset
	if changed {
		t.save()
	}
}

func (t *Tracker) save() {
	if t.persist == nil {
		return
	}
	if err := t.persist.SaveAnchor(t.session, t.id); err != nil {
		logging.Warn("anchor: persist failed", "session", t.session, "error", err)
	}
}
