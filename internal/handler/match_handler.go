package handler

import (
	"io"
	"net/http"
	"slices"

	"github.com/rs/zerolog/log"

	"github.com/mrvl/livesync/internal/auth"
	"github.com/mrvl/livesync/internal/model"
	"github.com/mrvl/livesync/internal/service"
)

const maxBroadcastSize = 1 << 20

// MatchHandler exposes live match state and the scorer controls.
type MatchHandler struct {
	sync *service.Sync
}

// NewMatchHandler creates a MatchHandler.
func NewMatchHandler(s *service.Sync) *MatchHandler {
	return &MatchHandler{sync: s}
}

// GetSnapshot handles GET /api/v1/matches/{id}/snapshot
func (h *MatchHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	id := model.ResourceID(r.PathValue("id"))
	u := h.sync.Snapshot(r.Context(), id)
	if u == nil {
		writeError(w, http.StatusNotFound, "no live state for match")
		return
	}
	writeUpdate(w, http.StatusOK, *u)
}

// Broadcast handles POST /api/v1/matches/{id}/broadcast
func (h *MatchHandler) Broadcast(w http.ResponseWriter, r *http.Request) {
	id := model.ResourceID(r.PathValue("id"))
	if h.sync.State() == service.StateDestroyed {
		writeError(w, http.StatusServiceUnavailable, "live sync is shut down")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBroadcastSize))
	r.Body.Close()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	snap, err := model.DecodeSnapshot(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	u := h.sync.Broadcast(r.Context(), id, snap)
	log.Info().Str("matchId", string(id)).Str("userId", auth.UserIDFromContext(r.Context())).
		Int64("timestamp", u.Timestamp).Msg("Match update broadcast")
	writeUpdate(w, http.StatusAccepted, u)
}

// ClearSnapshot handles DELETE /api/v1/matches/{id}/snapshot
func (h *MatchHandler) ClearSnapshot(w http.ResponseWriter, r *http.Request) {
	id := model.ResourceID(r.PathValue("id"))
	h.sync.Clear(r.Context(), id)
	log.Info().Str("matchId", string(id)).Str("userId", auth.UserIDFromContext(r.Context())).Msg("Match live state cleared")
	w.WriteHeader(http.StatusNoContent)
}

// Pause handles POST /api/v1/sync/pause
func (h *MatchHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.sync.Pause()
	w.WriteHeader(http.StatusNoContent)
}

// Resume handles POST /api/v1/sync/resume
func (h *MatchHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.sync.Resume()
	w.WriteHeader(http.StatusNoContent)
}

// Status handles GET /api/v1/sync/status
func (h *MatchHandler) Status(w http.ResponseWriter, r *http.Request) {
	matches := h.sync.Registry().Matches()
	slices.Sort(matches)
	writeJSON(w, http.StatusOK, map[string]any{
		"state":    h.sync.State().String(),
		"paused":   h.sync.Paused(),
		"instance": h.sync.Instance(),
		"pollers":  h.sync.Registry().PollerCount(),
		"matches":  matches,
	})
}
