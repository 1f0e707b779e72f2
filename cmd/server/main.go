package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/p-n-ai/pai-quest/internal/curriculum"
	"github.com/p-n-ai/pai-quest/internal/game"
	"github.com/p-n-ai/pai-quest/internal/platform/cache"
	"github.com/p-n-ai/pai-quest/internal/platform/config"
	"github.com/p-n-ai/pai-quest/internal/platform/database"
	"github.com/p-n-ai/pai-quest/internal/play"
	"github.com/p-n-ai/pai-quest/internal/progress"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	var checks []readinessCheck

	loader, err := curriculum.NewLoader(cfg.Content.CurriculumPath, curriculum.WithValidation(cfg.Content.Validate))
	if err != nil {
		slog.Error("failed to load content", "path", cfg.Content.CurriculumPath, "error", err)
		os.Exit(1)
	}
	slog.Info("content loaded", "path", cfg.Content.CurriculumPath, "courses", loader.Courses())

	var source curriculum.Source = loader
	if c, err := cache.New(ctx, cfg.Cache.URL); err != nil {
		slog.Warn("cache unavailable, serving content from disk", "error", err)
	} else {
		defer c.Close()
		source = curriculum.NewCachedSource(loader, c, cfg.Content.CacheTTL)
		checks = append(checks, readinessCheck{name: "cache", check: c.HealthCheck})
	}

	var (
		store  progress.Store
		events game.EventLogger = game.NopEventLogger{}
	)
	switch cfg.Sync.Backend {
	case config.BackendPostgres:
		db, err := database.New(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			slog.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		pg, err := progress.NewPostgresStore(db.Pool, cfg.Game.XPPerLevel)
		if err != nil {
			slog.Error("failed to create progress store", "error", err)
			os.Exit(1)
		}
		store = pg
		events = game.NewPostgresEventLogger(db.Pool)
		checks = append(checks, readinessCheck{name: "database", check: db.HealthCheck})
	default:
		slog.Warn("using in-memory progress store; progress is lost on restart")
		store = progress.NewMemoryStore(cfg.Game.XPPerLevel)
	}

	crediting, err := game.ParseCrediting(cfg.Game.Crediting)
	if err != nil {
		slog.Error("invalid crediting", "error", err)
		os.Exit(1)
	}

	handler := play.NewHandler(play.HandlerConfig{
		Source:       source,
		Store:        store,
		Events:       events,
		SyncTimeout:  cfg.Sync.Timeout,
		XPPerCorrect: cfg.Game.XPPerCorrect,
		Thresholds: game.Thresholds{
			Excellent: cfg.Game.ExcellentThreshold,
			Good:      cfg.Game.GoodThreshold,
		},
		Crediting:      crediting,
		TickInterval:   cfg.Server.TickInterval,
		OriginPatterns: cfg.Server.AllowedOrigins,
	})

	mux := newMux(handler, checks...)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
		// No WriteTimeout: play connections are long-lived WebSockets.
	}

	go func() {
		slog.Info("server starting", "addr", srv.Addr, "sync_backend", cfg.Sync.Backend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	// Play connections are hijacked, so Shutdown does not wait for them.
	// Their progress writes must land before the pool closes.
	if err := handler.Shutdown(shutdownCtx); err != nil {
		slog.Error("play sessions did not drain", "error", err)
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type readinessCheck struct {
	name  string
	check func(context.Context) error
}

// newMux creates the HTTP router with the play endpoint and health checks.
func newMux(playHandler http.Handler, checks ...readinessCheck) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", handleReadyz(checks))
	if playHandler != nil {
		mux.Handle("GET /play/{course}", playHandler)
	}
	return mux
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func handleReadyz(checks []readinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		failed := map[string]string{}
		for _, c := range checks {
			if err := c.check(ctx); err != nil {
				slog.Warn("readiness check failed", "check", c.name, "error", err)
				failed[c.name] = err.Error()
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if len(failed) > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]any{"status": "unavailable", "failed": failed})
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}
}
