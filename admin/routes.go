// Package admin is the operational HTTP surface: stream inspection,
// per-tablet checkpoints and Prometheus metrics.
package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/naanagon/yugabyte-db/telemetry"
)

// NewRouter builds the admin router.
func NewRouter(handlers *Handlers) http.Handler {
	r := chi.NewRouter()

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", handlers.handleStatus)

		r.Route("/streams", func(r chi.Router) {
			r.Get("/", handlers.handleListStreams)
			r.Post("/", handlers.handleCreateStream)
			r.Get("/{streamID}", handlers.handleGetStream)
			r.Delete("/{streamID}", handlers.handleDeleteStream)
		})

		r.Get("/tablets/{tabletID}/checkpoint", handlers.handleTabletCheckpoint)
	})

	if metrics := telemetry.GetMetricsHandler(); metrics != nil {
		r.Handle("/metrics", metrics)
	}

	return r
}
