// Package api exposes the HTTP control surface: session mode
// transitions, trust introspection, anomaly resolution and the
// websocket stream. Handlers are a thin translation layer; every
// decision lives in the session manager, trust engine or pipeline.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trustd/internal/broadcast"
	"trustd/internal/pipeline"
	"trustd/internal/session"
	"trustd/internal/trust"
)

// Server holds the handler dependencies.
type Server struct {
	sessions *session.Manager
	trust    *trust.Engine
	pipe     *pipeline.Pipeline
	hub      *broadcast.Hub

	metricsEnabled bool
}

// NewServer wires the control surface. The hub may be nil when
// broadcasting is disabled.
func NewServer(sessions *session.Manager, trustEngine *trust.Engine, pipe *pipeline.Pipeline, hub *broadcast.Hub, metricsEnabled bool) *Server {
	return &Server{
		sessions:       sessions,
		trust:          trustEngine,
		pipe:           pipe,
		hub:            hub,
		metricsEnabled: metricsEnabled,
	}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", s.handleHealth)
	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if s.hub != nil {
		r.Get("/ws", s.hub.ServeWS)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/train/start", s.handleTrainStart)
		r.Post("/train/stop", s.handleTrainStop)
		r.Get("/train/status", s.handleTrainStatus)

		r.Post("/live/start", s.handleLiveStart)
		r.Post("/live/stop", s.handleLiveStop)
		r.Get("/live/status", s.handleLiveStatus)
		r.Get("/live/trust", s.handleLiveTrust)
		r.Get("/live/stats", s.handleLiveStats)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/anomalies/{id}/resolve", s.handleResolveAnomaly)
			r.Post("/reset", s.handleReset)
		})
	})

	return r
}
