package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/magnus-suite/magnus-sync/internal/config"
)

// NewRouter builds the full HTTP handler: middleware stack, REST routes, the
// websocket endpoint, and OTel request instrumentation around everything.
func NewRouter(h *Handlers, cfg config.Server, wsHandler http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(CORS(cfg.CORSOrigin))

	r.Get("/health", h.Health)
	if wsHandler != nil {
		r.Handle("/ws", wsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Connections
		r.Get("/connections", h.ListConnections)
		r.Post("/connections", h.CreateConnection)
		r.Get("/connections/{id}", h.GetConnection)
		r.Put("/connections/{id}", h.UpdateConnection)
		r.Delete("/connections/{id}", h.DeleteConnection)
		r.Post("/connections/{id}/test", h.TestConnection)

		// Bulk sync triggers
		r.Post("/connections/{id}/sync/projects", h.SyncProjects)
		r.Post("/connections/{id}/sync/tasks", h.SyncTasks)

		// Targeted single-task sync
		r.Post("/tasks/{id}/sync", h.SyncSingleTask)

		// Conflicts
		r.Get("/conflicts", h.ListConflicts)
		r.Post("/conflicts/{id}/resolve", h.ResolveConflict)

		// Status and registry
		r.Get("/sync/status", h.SyncStatus)
		r.Get("/tools", h.ListTools)
	})

	return otelhttp.NewHandler(r, "magnus-sync")
}
