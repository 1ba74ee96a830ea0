package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/koopa0/nimbus/internal/store"
)

type sessionHandler struct {
	logger *slog.Logger
	store  Storage
}

// list handles GET /api/v1/sessions. Without an id query parameter it
// returns the user's session summaries, newest first; with one it returns
// that full session or 404.
func (h *sessionHandler) list(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing user identity")
		return
	}

	if sessionID := r.URL.Query().Get("id"); sessionID != "" {
		session, err := h.store.Session(r.Context(), userID, sessionID)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		if err != nil {
			h.logger.Error("loading session", "user", userID, "session", sessionID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		writeJSON(w, http.StatusOK, session)
		return
	}

	summaries, err := h.store.ListSessionSummaries(r.Context(), userID, store.MaxSessionSummaries)
	if err != nil {
		h.logger.Error("listing sessions", "user", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": summaries})
}
