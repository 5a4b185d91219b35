package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mrvl/livesync/internal/model"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Error encoding response")
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeUpdate writes a stamped update. The stamp is repeated in headers so
// clients can compare versions without decoding the body.
func writeUpdate(w http.ResponseWriter, status int, u model.StampedUpdate) {
	h := w.Header()
	h.Set("Last-Modified", time.UnixMilli(u.Timestamp).UTC().Format(http.TimeFormat))
	h.Set("X-Update-Timestamp", strconv.FormatInt(u.Timestamp, 10))
	h.Set("X-Update-Origin", string(u.Origin))
	writeJSON(w, status, u)
}
