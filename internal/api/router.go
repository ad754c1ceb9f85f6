package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/allfoodsicily/draftdesk/internal/auth"
	"github.com/allfoodsicily/draftdesk/internal/sources"
)

// HealthFunc checks a backing dependency, e.g. the history database.
type HealthFunc func(ctx context.Context) error

// SetupRoutes configures all API routes. health may be nil.
func SetupRoutes(mux *http.ServeMux, supervisor Supervisor, registry *sources.Registry, authConfig auth.Config, health HealthFunc, logger *slog.Logger) {
	runHandler := NewRunHandler(supervisor, registry, logger)
	authHandler := NewAuthHandler(authConfig, logger)
	requireAuth := auth.Middleware(authConfig)

	mux.HandleFunc("GET /healthz", healthHandler(health, logger))

	mux.HandleFunc("POST /api/login", authHandler.Login)
	mux.HandleFunc("GET /api/sources", runHandler.ListSources)

	// Run control (admin only)
	mux.Handle("POST /api/runs", requireAuth(http.HandlerFunc(runHandler.StartRun)))
	mux.Handle("GET /api/runs/last", requireAuth(http.HandlerFunc(runHandler.LastRun)))
	mux.Handle("GET /api/runs/current", requireAuth(http.HandlerFunc(runHandler.CurrentRun)))
}

func healthHandler(health HealthFunc, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := health(ctx); err != nil {
				logger.Warn("health check failed", "error", err)
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"}, logger)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, logger)
	}
}
