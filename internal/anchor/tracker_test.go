package anchor

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/abelbrown/fedline/internal/timeline"
)

// fakeClock is a manually advanced clock.
type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type recordingPersister struct {
	saved []string
	err   error
}

func (p *recordingPersister) SaveAnchor(session, id string) error {
	p.saved = append(p.saved, session+"="+id)
	return p.err
}

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// seqOf builds a sorted sequence from ids, first id newest.
func seqOf(ids ...string) timeline.Seq {
	seq := make(timeline.Seq, len(ids))
	for i, id := range ids {
		seq[i] = timeline.Entry{ID: id, CreatedAt: t0.Add(-time.Duration(i) * time.Minute)}
	}
	return seq
}

func numbered(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return out
}

func TestRecordAndLock(t *testing.T) {
	clk := &fakeClock{now: t0}
	tr := New(WithClock(clk.Now))

	if !tr.Record("a", 3) || tr.ID() != "a" || tr.Offset() != 3 {
		t.Fatal("record outside lock should be accepted")
	}

	tr.Lock(100 * time.Millisecond)
	if tr.Record("b", 0) {
		t.Error("record inside lock should be rejected")
	}
	if tr.ID() != "a" {
		t.Errorf("anchor = %q, want a", tr.ID())
	}

	clk.Advance(100 * time.Millisecond)
	if !tr.Record("b", 0) {
		t.Error("record after lock expiry should be accepted")
	}
}

func TestLockNeverShortens(t *testing.T) {
	clk := &fakeClock{now: t0}
	tr := New(WithClock(clk.Now))
	tr.Lock(time.Second)
	tr.Lock(10 * time.Millisecond)
	clk.Advance(500 * time.Millisecond)
	if !tr.Locked() {
		t.Error("shorter lock shortened the window")
	}
	tr.Unlock()
	if tr.Locked() {
		t.Error("Unlock should close the window")
	}
}

func TestRestoreAfterInsertAbove(t *testing.T) {
	old := seqOf(numbered("p", 10)...)
	tr := New()
	tr.Record("p5", 20)

	tr.PrepareRestore("p5", old)
	grown := seqOf(append([]string{"n0", "n1"}, numbered("p", 10)...)...)
	r, ok := tr.ResolveRestore(grown)
	if !ok {
		t.Fatal("restore not prepared")
	}
	if r.ID != "p5" || r.Index != 7 || r.Offset != 20 || r.Fallback || r.Animated {
		t.Errorf("restore = %+v, want p5 at 7", r)
	}
	if tr.Pending() {
		t.Error("restore should be consumed")
	}
}

func TestRestoreFallbackPrefersOlderNeighbour(t *testing.T) {
	old := seqOf("a", "b", "c", "d", "e")
	tr := New()
	tr.Record("c", 0)
	tr.PrepareRestore("c", old)

	r, _ := tr.ResolveRestore(seqOf("a", "b", "d", "e"))
	if r.ID != "d" || r.Index != 2 || !r.Fallback || r.Top {
		t.Errorf("restore = %+v, want d at 2", r)
	}
	if tr.ID() != "d" {
		t.Errorf("anchor should move to the survivor, got %q", tr.ID())
	}
}

func TestRestoreFallbackSearchesOutward(t *testing.T) {
	old := seqOf("a", "b", "c", "d", "e")
	tr := New()
	tr.PrepareRestore("d", old)

	// d and e gone; c is the nearest survivor
	r, _ := tr.ResolveRestore(seqOf("a", "b", "c"))
	if r.ID != "c" || !r.Fallback {
		t.Errorf("restore = %+v, want c", r)
	}
}

func TestRestoreFallsBackToTop(t *testing.T) {
	tr := New()
	tr.PrepareRestore("x", seqOf("x", "y"))

	r, _ := tr.ResolveRestore(seqOf("new"))
	if !r.Top || r.ID != "new" || r.Index != 0 {
		t.Errorf("restore = %+v, want top", r)
	}

	tr.PrepareRestore("new", seqOf("new"))
	r, _ = tr.ResolveRestore(nil)
	if !r.Top || r.ID != "" {
		t.Errorf("empty sequence restore = %+v", r)
	}
}

func TestPrepareTopPinsHead(t *testing.T) {
	tr := New()
	tr.Record("old-head", 5)
	tr.PrepareTop()
	r, _ := tr.ResolveRestore(seqOf("n", "old-head"))
	if r.ID != "n" || !r.Top || r.Fallback || r.Offset != 0 {
		t.Errorf("restore = %+v", r)
	}
}

func TestResolveWithoutPrepare(t *testing.T) {
	if _, ok := New().ResolveRestore(seqOf("a")); ok {
		t.Error("resolve without prepare should report false")
	}
}

func TestRestoreIgnoresLock(t *testing.T) {
	clk := &fakeClock{now: t0}
	tr := New(WithClock(clk.Now))
	tr.Record("c", 0)
	tr.Lock(time.Minute)
	tr.PrepareRestore("c", seqOf("a", "b", "c", "d"))
	tr.ResolveRestore(seqOf("a", "b", "d"))
	if tr.ID() != "d" {
		t.Errorf("restore should move the anchor even while locked, got %q", tr.ID())
	}
}

func TestPersistsOnChange(t *testing.T) {
	p := &recordingPersister{}
	tr := New(WithPersister(p, "s1"))
	tr.Record("a", 0)
	tr.Record("a", 10) // offset only
	tr.Record("b", 0)

	if fmt.Sprint(p.saved) != "[s1=a s1=b]" {
		t.Errorf("saved = %v", p.saved)
	}
}

func TestSeedDoesNotPersist(t *testing.T) {
	p := &recordingPersister{}
	tr := New(WithPersister(p, "s1"))
	tr.Seed("restored")
	if tr.ID() != "restored" || len(p.saved) != 0 {
		t.Errorf("id=%q saved=%v", tr.ID(), p.saved)
	}
}

func TestPersistFailureKeepsAnchor(t *testing.T) {
	p := &recordingPersister{err: errors.New("disk full")}
	tr := New(WithPersister(p, "s1"))
	if !tr.Record("a", 0) || tr.ID() != "a" {
		t.Error("a failed save must not reject the anchor")
	}
}
