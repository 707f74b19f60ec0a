// Package app assembles a fedline runtime from configuration: data
// directory, logs, event log, anchor store, source adapters and engine.
// Both the terminal UI and the fl CLI start here.
package app

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/abelbrown/fedline/internal/config"
	"github.com/abelbrown/fedline/internal/engine"
	"github.com/abelbrown/fedline/internal/fetch"
	"github.com/abelbrown/fedline/internal/logging"
	"github.com/abelbrown/fedline/internal/otel"
	"github.com/abelbrown/fedline/internal/paging"
	"github.com/abelbrown/fedline/internal/source"
	"github.com/abelbrown/fedline/internal/source/bluesky"
	"github.com/abelbrown/fedline/internal/source/feed"
	"github.com/abelbrown/fedline/internal/source/mastodon"
	"github.com/abelbrown/fedline/internal/store"
)

// requestInterval spaces requests to a single API backend.
const requestInterval = 250 * time.Millisecond

// Runtime owns everything a session needs. Close releases it.
type Runtime struct {
	Config *config.Config
	Store  *store.Store
	Events *otel.Logger
	Ring   *otel.RingBuffer
	Engine *engine.Engine

	eventsFile *os.File
}

// DBPath returns the anchor database under dataDir.
func DBPath(dataDir string) string {
	return filepath.Join(dataDir, "fedline.db")
}

// EventLogPath returns the JSONL event log under dataDir.
func EventLogPath(dataDir string) string {
	return filepath.Join(dataDir, "fedline.events.jsonl")
}

// Open creates the data directory and wires a Runtime. The engine is
// empty until the caller runs the initial load.
func Open(cfg *config.Config) (*Runtime, error) {
	dir := cfg.Dir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	f, err := os.OpenFile(EventLogPath(dir), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}

	st, err := store.Open(DBPath(dir))
	if err != nil {
		f.Close()
		return nil, err
	}

	events := otel.NewLogger(f, "")
	ring := otel.NewRingBuffer(otel.DefaultRingSize)
	events.SetRing(ring)

	rt := &Runtime{
		Config:     cfg,
		Store:      st,
		Events:     events,
		Ring:       ring,
		eventsFile: f,
	}
	rt.Engine = engine.New(EngineOptions(cfg, st, events))

	events.Emit(otel.Event{
		Level: otel.LevelInfo,
		Kind:  otel.KindStartup,
		Comp:  "app",
		Count: len(cfg.Accounts),
		Msg:   "session " + cfg.SessionKey(),
	})
	logging.Info("app: runtime ready", "accounts", len(cfg.Accounts), "session", cfg.SessionKey(), "dir", dir)
	return rt, nil
}

// Close flushes the event log and closes the store.
func (r *Runtime) Close() error {
	r.Events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindShutdown, Comp: "app"})
	r.Events.Close()
	if err := r.eventsFile.Close(); err != nil {
		logging.Warn("app: close event log", "error", err)
	}
	return r.Store.Close()
}

// Adapters returns one adapter per platform. Each API backend gets its own
// rate-limited client.
func Adapters(cfg *config.Config) source.Registry {
	pageSize := cfg.Engine.PageSize
	return source.Registry{
		source.PlatformMastodon: mastodon.New(source.NewClient(requestInterval), pageSize),
		source.PlatformBluesky:  bluesky.New(source.NewClient(requestInterval), pageSize),
		source.PlatformFeed:     feed.New(cfg.Engine.FetchTimeout()),
	}
}

// EngineOptions maps configuration onto engine options. Pass a nil
// interface, not a nil *store.Store, to run without persistence.
func EngineOptions(cfg *config.Config, anchors engine.AnchorStore, events *otel.Logger) engine.Options {
	e := cfg.Engine
	opts := engine.Options{
		Accounts:    cfg.SourceAccounts(),
		Adapters:    Adapters(cfg),
		Credentials: cfg.Credentials(),
		Fetch: fetch.Options{
			Timeout:        e.FetchTimeout(),
			MaxConcurrent:  e.MaxConcurrentFetches,
			NetworkRetries: e.NetworkRetries,
		},
		Paging: paging.Options{
			Threshold:  e.PagingThreshold,
			BackoffCap: e.PageBackoffCap(),
		},
		LockDuration:   e.AnchorLock(),
		AutoMergeAtTop: e.AutoMergeAtTop,
		Anchors:        anchors,
		Session:        cfg.SessionKey(),
		Events:         events,
	}
	return opts
}
