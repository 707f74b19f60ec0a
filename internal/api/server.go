// Package api exposes the engine over a small local HTTP interface: reads
// come from the published snapshot, writes are forwarded to the program as
// messages so the engine keeps a single writer.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/abelbrown/fedline/internal/engine"
	"github.com/abelbrown/fedline/internal/logging"
)

// Sender delivers a message to the engine's writer loop. *tea.Program
// satisfies it.
type Sender interface {
	Send(msg tea.Msg)
}

// Snapshots reads the latest engine state from any goroutine.
type Snapshots interface {
	Latest() engine.Snapshot
}

// Server is a thin wrapper over chi + stdlib http.Server.
type Server struct {
	addr string
	mux  *chi.Mux
	srv  *http.Server
}

// NewServer wires the routes. opts receive the mux so callers can mount
// extra routes or middleware.
func NewServer(addr string, snaps Snapshots, send Sender, opts ...func(*chi.Mux)) *Server {
	h := &handlers{snaps: snaps, send: send}

	m := chi.NewRouter()
	m.Use(chimw.RequestID)
	m.Use(chimw.Recoverer)
	m.Use(accessLog(500 * time.Millisecond))
	for _, o := range opts {
		o(m)
	}

	m.Get("/timeline", h.timeline)
	m.Get("/status", h.status)
	m.Get("/entries/{id}", h.entry)
	m.Group(func(r chi.Router) {
		r.Use(chimw.AllowContentType("application/json"))
		r.Post("/anchor", h.anchor)
		r.Post("/remove", h.remove)
	})
	m.Post("/refresh", h.refresh)
	m.Post("/merge", h.merge)

	return &Server{
		addr: addr,
		mux:  m,
		srv: &http.Server{
			Addr:              addr,
			Handler:           m,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.mux }

// Addr returns the listening address.
func (s *Server) Addr() string { return s.addr }

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info("api: listening", "addr", s.addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutCtx)
	}
}

// captureWriter records the status code for the access log.
type captureWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (cw *captureWriter) WriteHeader(code int) {
	cw.status = code
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	n, err := cw.ResponseWriter.Write(b)
	cw.bytes += n
	return n, err
}

// accessLog logs method, path, status and elapsed time; requests slower
// than slow are logged at warn.
func accessLog(slow time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cw := &captureWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			next.ServeHTTP(cw, r)

			elapsed := time.Since(start)
			kv := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", cw.status,
				"elapsed", elapsed,
				"bytes", cw.bytes,
				"req_id", chimw.GetReqID(r.Context()),
			}
			if slow > 0 && elapsed >= slow {
				logging.Warn("api: slow request", kv...)
				return
			}
			logging.Debug("api: request", kv...)
		})
	}
}
