// Command fedline is the terminal timeline reader.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/abelbrown/fedline/internal/api"
	"github.com/abelbrown/fedline/internal/app"
	"github.com/abelbrown/fedline/internal/config"
	"github.com/abelbrown/fedline/internal/coord"
	"github.com/abelbrown/fedline/internal/logging"
	"github.com/abelbrown/fedline/internal/ui"
)

func main() {
	cfgPath := flag.String("config", config.ConfigPath(), "config file (.json or .yaml)")
	listen := flag.String("listen", "", "serve the local HTTP API on this address (overrides config)")
	flag.Parse()

	if err := run(*cfgPath, *listen); err != nil {
		fmt.Fprintf(os.Stderr, "fedline: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath, listen string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if len(cfg.Accounts) == 0 {
		return fmt.Errorf("no accounts configured in %s", cfgPath)
	}
	if listen != "" {
		cfg.API.Enabled = true
		cfg.API.Listen = listen
	}

	if err := logging.Init(cfg.Dir(), logging.ParseLevel(cfg.LogLevel)); err != nil {
		return err
	}
	defer logging.Close()

	rt, err := app.Open(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	model := ui.NewApp(ctx, rt.Engine, rt.Ring, ui.Options{
		Compact:   cfg.UI.DensityMode == "compact",
		TimeBands: cfg.UI.TimeBands,
	})
	program := tea.NewProgram(model, tea.WithAltScreen())

	var ticker *coord.Coordinator
	if iv := cfg.Engine.RefreshInterval(); iv > 0 {
		ticker = coord.New(iv, program)
		ticker.Start(ctx)
	}

	apiDone := make(chan error, 1)
	if cfg.API.Enabled {
		srv := api.NewServer(cfg.API.Listen, rt.Engine, program)
		go func() { apiDone <- srv.Run(ctx) }()
	} else {
		close(apiDone)
	}

	// Run UI (blocks until quit)
	_, runErr := program.Run()
	if runErr != nil {
		logging.Error("ui exited with error", "error", runErr)
	}

	// Graceful shutdown
	cancel()
	if ticker != nil {
		ticker.Wait()
	}
	if err := <-apiDone; err != nil {
		logging.Warn("api: stopped with error", "error", err)
	}
	logging.Info("fedline stopped", "dropped_events", rt.Events.Dropped())
	return runErr
}
