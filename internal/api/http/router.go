package http

import (
	"net/http"

	"github.com/pegacorn/hestia/internal/export"
	"github.com/pegacorn/hestia/internal/observability"
	"github.com/pegacorn/hestia/internal/repository"
	"github.com/pegacorn/hestia/internal/server"
)

// Dependencies are the components the HTTP API serves. Only Repos is
// required.
type Dependencies struct {
	Repos    *repository.Set
	Store    Pinger
	Exporter *export.Exporter
	Metrics  *observability.Metrics
	Shutdown *server.ShutdownManager
}

// NewRouter builds the full HTTP API wrapped in the default middleware.
// When a shutdown manager is given, requests arriving after shutdown has
// begun are rejected with 503.
func NewRouter(deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /health", NewHealthHandler(deps.Store, 0))
	mux.Handle("POST /v1/export/{kind}", NewExportHandler(deps.Repos, deps.Exporter))

	var stats *observability.QueryStats
	if deps.Metrics != nil {
		stats = deps.Metrics.Stats()
		mux.Handle("GET /metrics", deps.Metrics.Handler())
	}
	mux.Handle("GET /v1/stats", NewStatsHandler(stats))

	NewRecordHandler(deps.Repos).Register(mux)

	var handler http.Handler = mux
	if deps.Shutdown != nil {
		handler = server.ShutdownMiddleware(deps.Shutdown)(handler)
	}
	return DefaultMiddleware()(handler)
}
