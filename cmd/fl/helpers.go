package main

import (
	"log"
	"os"

	"github.com/mattn/go-runewidth"

	"github.com/abelbrown/fedline/internal/app"
	"github.com/abelbrown/fedline/internal/config"
	"github.com/abelbrown/fedline/internal/logging"
	"github.com/abelbrown/fedline/internal/store"
)

// loadConfig reads the config or fatals. CLI logs go to stderr.
func loadConfig() *config.Config {
	cfg, err := config.Load(config.ConfigPath())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logging.InitWriter(os.Stderr, logging.ParseLevel(cfg.LogLevel))
	return cfg
}

// openDB opens the anchor store or fatals.
func openDB(cfg *config.Config) *store.Store {
	if err := os.MkdirAll(cfg.Dir(), 0755); err != nil {
		log.Fatalf("failed to create data directory: %v", err)
	}
	st, err := store.Open(app.DBPath(cfg.Dir()))
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	return st
}

// truncate shortens s to width terminal cells, appending "..." if truncated.
func truncate(s string, width int) string {
	return runewidth.Truncate(s, width, "...")
}
