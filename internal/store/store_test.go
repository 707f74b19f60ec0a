package store

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	st, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() {
		st.mu.Lock()
		st.db.Exec("DELETE FROM anchors")
		st.mu.Unlock()
		st.Close()
	})
	return st
}

func TestOpen(t *testing.T) {
	st := openMemory(t)

	var name string
	err := st.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='anchors'").Scan(&name)
	if err != nil {
		t.Fatalf("anchors table not created: %v", err)
	}
	if name != "anchors" {
		t.Errorf("expected table name 'anchors', got %q", name)
	}
}

func TestOpenFileCreatesDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fedline.db")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer st.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestLoadAnchorMissing(t *testing.T) {
	st := openMemory(t)

	id, err := st.LoadAnchor("home")
	if err != nil {
		t.Fatalf("LoadAnchor: %v", err)
	}
	if id != "" {
		t.Errorf("expected empty anchor, got %q", id)
	}
}

func TestSaveAnchorUpserts(t *testing.T) {
	st := openMemory(t)

	if err := st.SaveAnchor("home", "aaaa"); err != nil {
		t.Fatalf("SaveAnchor: %v", err)
	}
	if err := st.SaveAnchor("home", "bbbb"); err != nil {
		t.Fatalf("SaveAnchor: %v", err)
	}

	id, err := st.LoadAnchor("home")
	if err != nil {
		t.Fatalf("LoadAnchor: %v", err)
	}
	if id != "bbbb" {
		t.Errorf("expected bbbb, got %q", id)
	}

	all, err := st.Anchors()
	if err != nil {
		t.Fatalf("Anchors: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("expected exactly one row per session, got %d", len(all))
	}
}

func TestAnchorsAreScopedBySession(t *testing.T) {
	st := openMemory(t)

	st.SaveAnchor("home", "h1")
	st.SaveAnchor("work", "w1")

	if id, _ := st.LoadAnchor("home"); id != "h1" {
		t.Errorf("home anchor = %q", id)
	}
	if id, _ := st.LoadAnchor("work"); id != "w1" {
		t.Errorf("work anchor = %q", id)
	}
}

func TestAnchorsOrderedByRecency(t *testing.T) {
	st := openMemory(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	st.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	st.SaveAnchor("old", "1")
	st.SaveAnchor("new", "2")

	all, err := st.Anchors()
	if err != nil {
		t.Fatalf("Anchors: %v", err)
	}
	if len(all) != 2 || all[0].Session != "new" {
		t.Errorf("expected most recent first, got %+v", all)
	}
}

func TestSaveEmptyAnchorClears(t *testing.T) {
	st := openMemory(t)

	st.SaveAnchor("home", "x")
	if err := st.SaveAnchor("home", ""); err != nil {
		t.Fatalf("SaveAnchor empty: %v", err)
	}
	if id, _ := st.LoadAnchor("home"); id != "" {
		t.Errorf("expected cleared anchor, got %q", id)
	}
}

func TestConcurrentSaves(t *testing.T) {
	st := openMemory(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := st.SaveAnchor("home", string(rune('a'+i))); err != nil {
				t.Errorf("SaveAnchor: %v", err)
			}
		}(i)
	}
	wg.Wait()

	id, err := st.LoadAnchor("home")
	if err != nil || id == "" {
		t.Errorf("expected some anchor after concurrent saves, got %q (%v)", id, err)
	}
}
