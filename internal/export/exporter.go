package export

import (
	"context"
	"log/slog"
	"net/url"
	"path"
	"time"

	"github.com/pegacorn/hestia/internal/repository"
	"github.com/pegacorn/hestia/pkg/types"
)

// Observer receives the result of each kind's export.
type Observer interface {
	ObserveExport(kind types.Kind, exported, failed int, d time.Duration)
}

// Result summarizes the export of one kind.
type Result struct {
	Kind     types.Kind    `json:"kind"`
	Exported int           `json:"exported"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// Exporter copies every stored record of a kind to a sink.
type Exporter struct {
	repos    *repository.Set
	sink     Sink
	observer Observer
	logger   *slog.Logger
}

// NewExporter creates an exporter. observer may be nil.
func NewExporter(repos *repository.Set, sink Sink, observer Observer) *Exporter {
	return &Exporter{
		repos:    repos,
		sink:     sink,
		observer: observer,
		logger:   slog.Default().With("component", "export"),
	}
}

// DocumentName returns the sink name of a record: <kind>/<id>, with the id
// escaped so it stays a single path segment.
func DocumentName(kind types.Kind, id string) string {
	return path.Join(string(kind), url.PathEscape(id))
}

// Export scans every row of the kind and writes each body to the sink. A
// failed write is counted and logged and the export carries on; the first
// write error is returned along with the totals. A scan failure stops the
// export.
func (e *Exporter) Export(ctx context.Context, kind types.Kind) (Result, error) {
	start := time.Now()
	res := Result{Kind: kind}

	repo, err := e.repos.Get(kind)
	if err != nil {
		return res, err
	}

	var firstErr error
	for entry, err := range repo.ScanAll(ctx) {
		if err != nil {
			firstErr = err
			break
		}
		if err := e.sink.Write(ctx, DocumentName(kind, entry.ID), []byte(entry.Body)); err != nil {
			res.Failed++
			e.logger.Warn("export write failed", "kind", kind, "id", entry.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		res.Exported++
	}

	res.Duration = time.Since(start)
	if e.observer != nil {
		e.observer.ObserveExport(kind, res.Exported, res.Failed, res.Duration)
	}
	e.logger.Info("export finished",
		"kind", kind,
		"exported", res.Exported,
		"failed", res.Failed,
		"duration", res.Duration,
	)
	return res, firstErr
}

// ExportAll exports each kind in turn. Every kind is attempted; the first
// error is returned.
func (e *Exporter) ExportAll(ctx context.Context, kinds []types.Kind) ([]Result, error) {
	results := make([]Result, 0, len(kinds))
	var firstErr error
	for _, kind := range kinds {
		res, err := e.Export(ctx, kind)
		results = append(results, res)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return results, firstErr
}
