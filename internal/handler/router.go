package handler

import (
	"net/http"

	"github.com/mrvl/livesync/internal/auth"
	"github.com/mrvl/livesync/internal/middleware"
	"github.com/mrvl/livesync/internal/service"
)

// NewRouter wires every endpoint of the consumer service.
func NewRouter(s *service.Sync, jwtMgr *auth.JWTManager, allowedOrigin string) http.Handler {
	hub := NewHub(s)
	matchHandler := NewMatchHandler(s)
	wsHandler := NewWSHandler(hub, jwtMgr)

	mux := http.NewServeMux()
	authMw := auth.Middleware(jwtMgr)
	scorer := auth.RequireRole(auth.RoleScorer)

	// Health
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if s.State() == service.StateDestroyed {
			writeError(w, http.StatusServiceUnavailable, "live sync is shut down")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Protected API routes
	api := http.NewServeMux()
	api.HandleFunc("GET /matches/{id}/snapshot", matchHandler.GetSnapshot)
	api.HandleFunc("GET /sync/status", matchHandler.Status)
	api.Handle("POST /matches/{id}/broadcast", scorer(http.HandlerFunc(matchHandler.Broadcast)))
	api.Handle("DELETE /matches/{id}/snapshot", scorer(http.HandlerFunc(matchHandler.ClearSnapshot)))
	api.Handle("POST /sync/pause", scorer(http.HandlerFunc(matchHandler.Pause)))
	api.Handle("POST /sync/resume", scorer(http.HandlerFunc(matchHandler.Resume)))

	mux.Handle("/api/v1/", http.StripPrefix("/api/v1", authMw(api)))

	// WebSocket (auth via query param, not middleware)
	mux.HandleFunc("GET /api/v1/ws", wsHandler.ServeWS)

	return middleware.Chain(mux, middleware.Recover, middleware.Logger, middleware.CORS(allowedOrigin), middleware.JSON)
}
