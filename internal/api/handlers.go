package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/abelbrown/fedline/internal/engine"
	"github.com/abelbrown/fedline/internal/timeline"
	"github.com/abelbrown/fedline/internal/ui"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type handlers struct {
	snaps Snapshots
	send  Sender
}

// entryView is the wire form of a timeline entry.
type entryView struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Platform  string    `json:"platform"`
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	BoostedBy string    `json:"boosted_by,omitempty"`
	ParentID  string    `json:"parent_id,omitempty"`
	Account   string    `json:"account,omitempty"`
}

func toView(e timeline.Entry) entryView {
	return entryView{
		ID:        e.ID,
		Kind:      e.Kind.String(),
		Platform:  string(e.Post.Platform),
		Author:    e.Post.AuthorHandle,
		Content:   e.Post.Content,
		URL:       e.Post.URL,
		CreatedAt: e.CreatedAt,
		BoostedBy: e.BoostedBy,
		ParentID:  e.ParentID,
		Account:   e.Post.Account,
	}
}

type timelineResponse struct {
	Entries     []entryView `json:"entries"`
	Total       int         `json:"total"`
	Offset      int         `json:"offset"`
	AnchorID    string      `json:"anchor_id,omitempty"`
	UnreadAbove int         `json:"unread_above"`
	BufferCount int         `json:"buffer_count"`
}

type statusResponse struct {
	Loaded          bool     `json:"loaded"`
	Generation      uint64   `json:"generation"`
	RefreshState    string   `json:"refresh_state"`
	LastStatus      string   `json:"last_status"`
	LastError       string   `json:"last_error,omitempty"`
	Visible         int      `json:"visible"`
	BufferCount     int      `json:"buffer_count"`
	UnreadAbove     int      `json:"unread_above"`
	AnchorID        string   `json:"anchor_id,omitempty"`
	HasNextPage     bool     `json:"has_next_page"`
	LoadingNextPage bool     `json:"loading_next_page"`
	Degraded        []string `json:"degraded,omitempty"`
}

type anchorRequest struct {
	ID     string `json:"id" validate:"required"`
	Offset int    `json:"offset" validate:"gte=0"`
}

type removeRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,dive,required"`
}

// GET /timeline?offset=N&limit=M
func (h *handlers) timeline(w http.ResponseWriter, r *http.Request) {
	offset, err := intParam(r, "offset", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	limit, err := intParam(r, "limit", defaultLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	limit = min(max(limit, 1), maxLimit)

	snap := h.snaps.Latest()
	start := min(max(offset, 0), len(snap.Visible))
	end := min(start+limit, len(snap.Visible))

	resp := timelineResponse{
		Entries:     make([]entryView, 0, end-start),
		Total:       len(snap.Visible),
		Offset:      start,
		AnchorID:    snap.AnchorID,
		UnreadAbove: snap.UnreadAbove,
		BufferCount: snap.BufferCount,
	}
	for _, e := range snap.Visible[start:end] {
		resp.Entries = append(resp.Entries, toView(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /entries/{id}
func (h *handlers) entry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap := h.snaps.Latest()
	i := timeline.IndexOf(snap.Visible, id)
	if i < 0 {
		writeError(w, http.StatusNotFound, fmt.Errorf("entry %s not visible", id))
		return
	}
	writeJSON(w, http.StatusOK, toView(snap.Visible[i]))
}

// GET /status
func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusOf(h.snaps.Latest()))
}

func statusOf(s engine.Snapshot) statusResponse {
	return statusResponse{
		Loaded:          s.Loaded,
		Generation:      s.Generation,
		RefreshState:    s.RefreshState.String(),
		LastStatus:      s.LastStatus.String(),
		LastError:       s.LastError,
		Visible:         len(s.Visible),
		BufferCount:     s.BufferCount,
		UnreadAbove:     s.UnreadAbove,
		AnchorID:        s.AnchorID,
		HasNextPage:     s.HasNextPage,
		LoadingNextPage: s.LoadingNextPage,
		Degraded:        s.Degraded,
	}
}

// POST /refresh
func (h *handlers) refresh(w http.ResponseWriter, r *http.Request) {
	h.send.Send(ui.RefreshRequested{})
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// POST /merge
func (h *handlers) merge(w http.ResponseWriter, r *http.Request) {
	h.send.Send(ui.MergeRequested{})
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// POST /anchor {"id": "...", "offset": 0}
func (h *handlers) anchor(w http.ResponseWriter, r *http.Request) {
	var req anchorRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if timeline.IndexOf(h.snaps.Latest().Visible, req.ID) < 0 {
		writeError(w, http.StatusNotFound, fmt.Errorf("entry %s not visible", req.ID))
		return
	}
	h.send.Send(ui.AnchorReported{ID: req.ID, Offset: req.Offset})
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// POST /remove {"ids": ["..."]}
func (h *handlers) remove(w http.ResponseWriter, r *http.Request) {
	var req removeRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.send.Send(ui.RemoveRequested{IDs: req.IDs})
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("invalid body: %w", err)
	}
	return nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: not an integer", name)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
