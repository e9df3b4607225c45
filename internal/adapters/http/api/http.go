// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"

	"github.com/okian/intelsync/internal/domain/model"
	"github.com/okian/intelsync/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MatchQueue accepts match batches for asynchronous sighting handling.
type MatchQueue interface {
	// TryEnqueue must not block; a full queue is reported as an error.
	TryEnqueue(ctx context.Context, e model.MatchEvent) error
}

// Server wires HTTP routes for the operational API.
type Server struct {
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
	matchesHandler *MatchesHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(q MatchQueue, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:  NewHealthHandler(),
		statsHandler:   NewStatsHandler(statsProvider),
		matchesHandler: NewMatchesHandler(q),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	metricsHandler := promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{})

	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/metrics", MetricsMiddleware(metricsHandler.ServeHTTP, "metrics"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/matches", MetricsMiddleware(s.matchesHandler.HandlePostMatch, "matches"))
}
