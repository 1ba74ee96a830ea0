// Package api serves the HTTP interface: buffered and streaming chat,
// session listings, quiz generation, and health probes.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ServerConfig contains everything needed to build the API server.
type ServerConfig struct {
	Logger      *slog.Logger
	Loop        ConversationRunner // Required
	Store       Storage            // Required
	Memory      Memorizer          // Required
	Quiz        QuizGenerator      // Optional: nil disables the quiz endpoint
	Pool        *pgxpool.Pool      // Optional: nil degrades /ready to liveness
	CORSOrigins []string           // Allowed origins for CORS
	TrustProxy  bool               // Trust X-Real-IP/X-Forwarded-For (behind reverse proxy)
	RateBurst   int                // Rate limiter burst size per IP (0 = default 60)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates the server with all routes and middleware configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Loop == nil {
		return nil, errors.New("conversation runner is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Memory == nil {
		return nil, errors.New("memorizer is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ch := &chatHandler{logger: logger, loop: cfg.Loop, store: cfg.Store, memory: cfg.Memory}
	sh := &sessionHandler{logger: logger, store: cfg.Store}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/chat", ch.send)
	mux.HandleFunc("POST /api/v1/chat/stream", ch.stream)
	mux.HandleFunc("GET /api/v1/sessions", sh.list)

	if cfg.Quiz != nil {
		qh := &quizHandler{logger: logger, quiz: cfg.Quiz}
		mux.HandleFunc("POST /api/v1/quiz", qh.generate)
	}

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack, outermost first:
	//   Recovery → RequestID → Logging → CORS → RateLimit → Identity → Routes
	// RequestID precedes Logging so request_id appears in log attributes.
	// CORS precedes RateLimit so preflight OPTIONS gets proper headers.
	var handler http.Handler = mux
	handler = identityMiddleware(logger)(handler)
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w)
		handler.ServeHTTP(w, r)
	})

	// Health probes bypass the middleware stack via a top-level mux.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool))
	topMux.Handle("/", final)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
