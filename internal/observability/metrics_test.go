package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pegacorn/hestia/internal/repository"
	"github.com/pegacorn/hestia/pkg/types"
)

func TestMetrics_ObserveWrite(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry(), nil)

	m.ObserveWrite(types.KindTask, repository.StatusSuccess, 3)
	m.ObserveWrite(types.KindTask, repository.StatusInvalid, 1)
	m.ObserveWrite(types.KindTask, repository.StatusSuccess, 2)

	if got := testutil.ToFloat64(m.writes.WithLabelValues("Task", "success")); got != 5 {
		t.Errorf("expected 5 successful writes, got %v", got)
	}
	if got := testutil.ToFloat64(m.writes.WithLabelValues("Task", "invalid")); got != 1 {
		t.Errorf("expected 1 invalid write, got %v", got)
	}
}

func TestMetrics_ObserveSearch(t *testing.T) {
	stats := NewQueryStats(time.Hour)
	m := NewMetrics(nil, stats)

	m.ObserveSearch(types.KindAuditEvent, []string{"site"}, repository.SearchOK, 20*time.Millisecond, 4)
	m.ObserveSearch(types.KindAuditEvent, nil, repository.SearchEmpty, 0, 0)
	m.ObserveSearch(types.KindAuditEvent, nil, repository.SearchFailed, 0, 0)

	if got := testutil.ToFloat64(m.searches.WithLabelValues("AuditEvent", "ok")); got != 1 {
		t.Errorf("expected 1 ok search, got %v", got)
	}
	if got := testutil.ToFloat64(m.searches.WithLabelValues("AuditEvent", "empty")); got != 1 {
		t.Errorf("expected 1 empty search, got %v", got)
	}
	if got := testutil.ToFloat64(m.searchResults.WithLabelValues("AuditEvent")); got != 4 {
		t.Errorf("expected 4 results, got %v", got)
	}
	if n := testutil.CollectAndCount(m.searchDuration); n != 1 {
		t.Errorf("expected one duration series, got %d", n)
	}

	kinds := stats.GetKindStats()
	if len(kinds) != 1 || kinds[0].Searches != 2 || kinds[0].Empty != 1 {
		t.Errorf("unexpected kind stats: %+v", kinds)
	}
}

func TestMetrics_ObserveExport(t *testing.T) {
	m := NewMetrics(nil, nil)
	m.ObserveExport(types.KindDevice, 7, 1, time.Second)

	if got := testutil.ToFloat64(m.exported.WithLabelValues("Device", "success")); got != 7 {
		t.Errorf("expected 7 exported, got %v", got)
	}
	if got := testutil.ToFloat64(m.exported.WithLabelValues("Device", "failed")); got != 1 {
		t.Errorf("expected 1 failed, got %v", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics(nil, nil)
	m.ObserveWrite(types.KindTask, repository.StatusSuccess, 1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `hestia_writes_total{kind="Task",status="success"} 1`) {
		t.Errorf("metrics output missing write counter:\n%s", rec.Body.String())
	}
}
