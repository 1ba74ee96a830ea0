package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/koopa0/nimbus/internal/chat"
	"github.com/koopa0/nimbus/internal/store"
)

// genericFailure is the user-facing text for any model-side failure. The
// underlying cause goes to the log only.
const genericFailure = "Failed to generate response"

// ConversationRunner drives one chat turn. Satisfied by *chat.Loop.
type ConversationRunner interface {
	Run(ctx context.Context, history []store.Message, message string, facts map[string]any, onChunk func(string) error) (*chat.Result, error)
}

// Memorizer schedules background fact extraction. Satisfied by
// *memory.Extractor.
type Memorizer interface {
	Launch(userID, userMessage, assistantReply string, existing map[string]any)
}

// Storage is the persistence surface the handlers need. Satisfied by
// *store.Store.
type Storage interface {
	Profile(ctx context.Context, userID string) (*store.UserProfile, error)
	CreateProfileIfAbsent(ctx context.Context, userID, email, name string) error
	Session(ctx context.Context, userID, sessionID string) (*store.ChatSession, error)
	AppendMessage(ctx context.Context, userID, sessionID string, msg store.Message) error
	ListSessionSummaries(ctx context.Context, userID string, limit int) ([]store.SessionSummary, error)
}

type chatHandler struct {
	logger *slog.Logger
	loop   ConversationRunner
	store  Storage
	memory Memorizer
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

type chatResponse struct {
	Reply     string `json:"reply"`
	SessionID string `json:"sessionId"`
}

// turnState is everything loaded before the model runs.
type turnState struct {
	facts   map[string]any
	history []store.Message
}

// prepare validates the request, loads state, provisions the profile if
// absent, and persists the user message. On failure it has already written
// the response and returns ok=false.
func (h *chatHandler) prepare(w http.ResponseWriter, r *http.Request) (userID string, req chatRequest, st *turnState, ok bool) {
	userID, found := userIDFromContext(r.Context())
	if !found {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing user identity")
		return "", req, nil, false
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return "", req, nil, false
	}
	if req.Message == "" || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "message and sessionId required")
		return "", req, nil, false
	}

	ctx := r.Context()
	st, err := h.loadState(ctx, userID, req.SessionID)
	if err != nil {
		h.logger.Error("loading chat state", "user", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return "", req, nil, false
	}

	if st.facts == nil {
		// First contact: provision the profile from the identity headers.
		st.facts = map[string]any{}
		if err := h.store.CreateProfileIfAbsent(ctx, userID,
			r.Header.Get("X-User-Email"), r.Header.Get("X-User-Name")); err != nil {
			h.logger.Error("provisioning profile", "user", userID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			return "", req, nil, false
		}
	}

	userMsg := store.Message{Role: store.RoleUser, Content: req.Message, Timestamp: time.Now().UnixMilli()}
	if err := h.store.AppendMessage(ctx, userID, req.SessionID, userMsg); err != nil {
		h.logger.Error("appending user message", "user", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return "", req, nil, false
	}

	return userID, req, st, true
}

// loadState fetches the profile and session in parallel. A missing profile
// comes back with nil facts; a missing session with empty history.
func (h *chatHandler) loadState(ctx context.Context, userID, sessionID string) (*turnState, error) {
	type profileResult struct {
		profile *store.UserProfile
		err     error
	}
	type sessionResult struct {
		session *store.ChatSession
		err     error
	}

	profCh := make(chan profileResult, 1)
	sessCh := make(chan sessionResult, 1)
	go func() {
		p, err := h.store.Profile(ctx, userID)
		profCh <- profileResult{p, err}
	}()
	go func() {
		s, err := h.store.Session(ctx, userID, sessionID)
		sessCh <- sessionResult{s, err}
	}()

	prof := <-profCh
	sess := <-sessCh

	st := &turnState{}
	switch {
	case prof.err == nil:
		st.facts = prof.profile.Facts
		if st.facts == nil {
			st.facts = map[string]any{}
		}
	case errors.Is(prof.err, store.ErrNotFound):
		// nil facts marks the profile as missing.
	default:
		return nil, fmt.Errorf("loading profile: %w", prof.err)
	}

	switch {
	case sess.err == nil:
		st.history = sess.session.Messages
	case errors.Is(sess.err, store.ErrNotFound):
		st.history = nil
	default:
		return nil, fmt.Errorf("loading session: %w", sess.err)
	}

	return st, nil
}

// recordFailure persists an error marker so the transcript shows the
// failed turn. Best-effort: the user already has their error.
func (h *chatHandler) recordFailure(ctx context.Context, userID, sessionID string) {
	msg := store.Message{Role: store.RoleError, Content: genericFailure, Timestamp: time.Now().UnixMilli()}
	if err := h.store.AppendMessage(ctx, userID, sessionID, msg); err != nil {
		h.logger.Error("recording failed turn", "user", userID, "error", err)
	}
}

// send handles POST /api/v1/chat: run the full turn, respond once with the
// final reply.
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	userID, req, st, ok := h.prepare(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	res, err := h.loop.Run(ctx, st.history, req.Message, st.facts, nil)
	if err != nil {
		h.logger.Error("conversation turn failed", "user", userID, "session", req.SessionID, "error", err)
		h.recordFailure(ctx, userID, req.SessionID)
		writeError(w, http.StatusInternalServerError, "model_failure", genericFailure)
		return
	}

	assistantMsg := store.Message{Role: store.RoleAssistant, Content: res.Reply, Timestamp: time.Now().UnixMilli()}
	if err := h.store.AppendMessage(ctx, userID, req.SessionID, assistantMsg); err != nil {
		h.logger.Error("appending assistant message", "user", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	h.memory.Launch(userID, req.Message, res.Reply, st.facts)

	writeJSON(w, http.StatusOK, chatResponse{Reply: res.Reply, SessionID: req.SessionID})
}

// stream handles POST /api/v1/chat/stream: same turn, delivered as SSE.
// Each text delta becomes one `data: {"chunk":...}` frame; the reply is
// persisted once after production completes, then the [DONE] sentinel is
// sent. On failure exactly one `data: {"error":...}` frame closes the
// stream, and nothing from the turn is persisted as an assistant message.
func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	userID, req, st, ok := h.prepare(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	onChunk := func(chunk string) error {
		return writeSSEJSON(w, flusher, map[string]string{"chunk": chunk})
	}

	res, err := h.loop.Run(ctx, st.history, req.Message, st.facts, onChunk)
	if err != nil {
		h.logger.Error("streaming turn failed", "user", userID, "session", req.SessionID, "error", err)
		h.recordFailure(ctx, userID, req.SessionID)
		h.writeSSEError(w, flusher)
		return
	}

	assistantMsg := store.Message{Role: store.RoleAssistant, Content: res.Reply, Timestamp: time.Now().UnixMilli()}
	if err := h.store.AppendMessage(ctx, userID, req.SessionID, assistantMsg); err != nil {
		h.logger.Error("appending assistant message", "user", userID, "error", err)
		h.writeSSEError(w, flusher)
		return
	}

	h.memory.Launch(userID, req.Message, res.Reply, st.facts)

	if _, err := fmt.Fprint(w, "data: [DONE]\n\n"); err != nil {
		h.logger.Debug("writing sentinel", "error", err)
		return
	}
	flusher.Flush()
}

func (h *chatHandler) writeSSEError(w http.ResponseWriter, flusher http.Flusher) {
	if err := writeSSEJSON(w, flusher, map[string]string{"error": genericFailure}); err != nil {
		h.logger.Debug("writing error frame", "error", err)
	}
}

// writeSSEJSON writes one SSE data frame and flushes it so the client sees
// the delta immediately. A write failure is the client-gone signal.
func writeSSEJSON(w http.ResponseWriter, flusher http.Flusher, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	flusher.Flush()
	return nil
}
