package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/pegacorn/hestia/internal/export"
	"github.com/pegacorn/hestia/internal/observability"
	"github.com/pegacorn/hestia/internal/repository"
)

// DefaultTopParams is the number of parameters /v1/stats reports when the
// request does not say.
const DefaultTopParams = 20

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Error   string `json:"error,omitempty"`
}

// HealthHandler handles GET /health by pinging the store.
type HealthHandler struct {
	pinger  Pinger
	timeout time.Duration
}

// NewHealthHandler creates a health handler. A zero timeout means 2s.
func NewHealthHandler(pinger Pinger, timeout time.Duration) *HealthHandler {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthHandler{pinger: pinger, timeout: timeout}
}

// ServeHTTP handles the health check request.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy", Service: "hestia"}
	if h.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()
		if err := h.pinger.Ping(ctx); err != nil {
			resp.Status = "unavailable"
			resp.Error = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ExportHandler handles POST /v1/export/{kind}.
type ExportHandler struct {
	repos    *repository.Set
	exporter *export.Exporter
}

// NewExportHandler creates an export handler. A nil exporter answers 503.
func NewExportHandler(repos *repository.Set, exporter *export.Exporter) *ExportHandler {
	return &ExportHandler{repos: repos, exporter: exporter}
}

// ServeHTTP runs a full export of one kind and reports the totals.
func (h *ExportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	if h.exporter == nil {
		writeError(w, http.StatusServiceUnavailable, "export is not configured", requestID)
		return
	}

	repo, err := h.repos.Lookup(r.PathValue("kind"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	res, err := h.exporter.Export(r.Context(), repo.Kind())
	if err != nil && res.Exported == 0 {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// StatsResponse is the body of GET /v1/stats.
type StatsResponse struct {
	Kinds  []observability.KindStats  `json:"kinds"`
	Params []observability.ParamStats `json:"params"`
}

// StatsHandler handles GET /v1/stats?top=N.
type StatsHandler struct {
	stats *observability.QueryStats
}

// NewStatsHandler creates a stats handler. A nil tracker reports nothing.
func NewStatsHandler(stats *observability.QueryStats) *StatsHandler {
	return &StatsHandler{stats: stats}
}

// ServeHTTP reports search totals per kind and the most used parameters.
func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	top := DefaultTopParams
	if s := r.URL.Query().Get("top"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "top must be a non-negative integer", GetRequestID(r.Context()))
			return
		}
		top = n
	}

	resp := StatsResponse{
		Kinds:  []observability.KindStats{},
		Params: []observability.ParamStats{},
	}
	if h.stats != nil {
		resp.Kinds = h.stats.GetKindStats()
		resp.Params = h.stats.GetTopParams(top)
	}
	writeJSON(w, http.StatusOK, resp)
}
