package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/koopa0/nimbus/db"
	"github.com/koopa0/nimbus/internal/api"
	"github.com/koopa0/nimbus/internal/chat"
	"github.com/koopa0/nimbus/internal/config"
	"github.com/koopa0/nimbus/internal/gemini"
	"github.com/koopa0/nimbus/internal/log"
	"github.com/koopa0/nimbus/internal/memory"
	"github.com/koopa0/nimbus/internal/observability"
	"github.com/koopa0/nimbus/internal/quiz"
	"github.com/koopa0/nimbus/internal/store"
	"github.com/koopa0/nimbus/internal/tools"
)

// Server timeout configuration. WriteTimeout is generous because SSE
// streams stay open for the whole turn.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 2 * time.Minute
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	logger := log.New(log.Config{Level: level, JSON: flagJSONLog})

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting nimbus", "version", Version, "config", cfg)

	if cfg.TraceEnabled {
		shutdownTracing, err := observability.Setup(ctx, observability.Config{
			Endpoint:    cfg.TraceEndpoint,
			Environment: cfg.Environment,
			ServiceName: "nimbus",
		}, logger)
		if err != nil {
			return fmt.Errorf("setting up tracing: %w", err)
		}
		defer func() {
			flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer flushCancel()
			if err := shutdownTracing(flushCtx); err != nil {
				logger.Warn("flushing traces", "error", err)
			}
		}()
	}

	if err := db.Migrate(cfg.ConnString()); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.ConnString())
	if err != nil {
		return fmt.Errorf("creating connection pool: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}

	st, err := store.New(pool, logger.With("component", "store"))
	if err != nil {
		return fmt.Errorf("creating store: %w", err)
	}

	model, err := gemini.New(ctx, cfg, logger.With("component", "gemini"))
	if err != nil {
		return fmt.Errorf("creating model client: %w", err)
	}

	registry, err := buildToolRegistry(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("building tool registry: %w", err)
	}
	logger.Info("tools registered", "count", registry.Len())

	loop, err := chat.NewLoop(model, registry, cfg.Model, cfg.MaxRounds, logger.With("component", "chat"))
	if err != nil {
		return fmt.Errorf("creating conversation loop: %w", err)
	}

	// The extractor outlives the signal context so extractions from the
	// last turns can land during graceful shutdown; each one is bounded
	// by its own timeout.
	extractor, err := memory.NewExtractor(context.WithoutCancel(ctx), model, st, cfg.FlashModel, logger.With("component", "memory"))
	if err != nil {
		return fmt.Errorf("creating extractor: %w", err)
	}

	quizSvc, err := quiz.NewService(model, cfg.FlashModel, logger.With("component", "quiz"))
	if err != nil {
		return fmt.Errorf("creating quiz service: %w", err)
	}

	apiServer, err := api.NewServer(api.ServerConfig{
		Logger:      logger.With("component", "api"),
		Loop:        loop,
		Store:       st,
		Memory:      extractor,
		Quiz:        quizSvc,
		Pool:        pool,
		CORSOrigins: cfg.CORSOrigins,
		TrustProxy:  cfg.TrustProxy,
		RateBurst:   cfg.RateBurst,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	logger.Info("HTTP server ready",
		"addr", cfg.Addr,
		"api", "/api/v1/*",
		"health", "/health, /ready",
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down HTTP server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		<-errCh
		// Let in-flight fact extractions land before the pool closes.
		extractor.Wait()
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server: %w", err)
	}
}

func buildToolRegistry(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*tools.Registry, error) {
	httpClient, err := tools.NewAuthenticatedClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating authenticated client: %w", err)
	}

	gcp, err := tools.NewGCPToolset(httpClient, cfg.Project, cfg.Location,
		tools.DefaultEndpoints(), logger.With("component", "tools"))
	if err != nil {
		return nil, err
	}
	docs := tools.NewDocsToolset(logger.With("component", "tools"))

	registry := tools.NewRegistry(logger.With("component", "tools"))
	if err := registry.Register(gcp.Tools()...); err != nil {
		return nil, err
	}
	if err := registry.Register(docs.Tools()...); err != nil {
		return nil, err
	}
	return registry, nil
}
