package export

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/pegacorn/hestia/internal/repository"
	"github.com/pegacorn/hestia/internal/storage"
	"github.com/pegacorn/hestia/pkg/types"
)

// ImportResult summarizes the import of one kind.
type ImportResult struct {
	Kind     types.Kind    `json:"kind"`
	Imported int           `json:"imported"`
	Invalid  int           `json:"invalid"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// ImporterConfig configures an Importer.
type ImporterConfig struct {
	// Prefix is the object prefix of the dump. Defaults to DefaultPrefix.
	Prefix string

	// Concurrency bounds parallel object reads. Defaults to 8.
	Concurrency int

	// BatchSize is the number of records written per store call. Defaults to 100.
	BatchSize int
}

// Importer loads a dump written by an ObjectSink back into the store.
type Importer struct {
	storage storage.ObjectStorage
	fetcher *storage.BatchFetcher
	repos   *repository.Set
	config  ImporterConfig
	logger  *slog.Logger
}

// NewImporter creates an importer.
func NewImporter(st storage.ObjectStorage, repos *repository.Set, cfg ImporterConfig) *Importer {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Importer{
		storage: st,
		fetcher: storage.NewBatchFetcher(st, cfg.Concurrency),
		repos:   repos,
		config:  cfg,
		logger:  slog.Default().With("component", "import"),
	}
}

// Import reads every document under <prefix>/<kind>/ and writes it to the
// store. Documents are written in object path order, batch by batch.
// Unreadable or invalid documents are counted and skipped.
func (i *Importer) Import(ctx context.Context, kind types.Kind) (ImportResult, error) {
	start := time.Now()
	res := ImportResult{Kind: kind}

	repo, err := i.repos.Get(kind)
	if err != nil {
		return res, err
	}

	paths, err := i.storage.ListObjects(ctx, path.Join(i.config.Prefix, string(kind))+"/")
	if err != nil {
		return res, fmt.Errorf("list %s dump: %w", kind, err)
	}
	docs := paths[:0]
	for _, p := range paths {
		if IsDocument(p) {
			docs = append(docs, p)
		}
	}

	for offset := 0; offset < len(docs); offset += i.config.BatchSize {
		end := min(offset+i.config.BatchSize, len(docs))
		batch := docs[offset:end]

		fetched, err := i.fetcher.Fetch(ctx, batch)
		if err != nil {
			return res, err
		}

		recs := make([]*types.Record, 0, len(batch))
		for _, p := range batch {
			if ferr, ok := fetched.Errors[p]; ok {
				res.Failed++
				i.logger.Warn("import read failed", "object", p, "error", ferr)
				continue
			}
			body, err := DecodeObject(p, fetched.Objects[p])
			if err == nil {
				var rec *types.Record
				rec, err = types.NewRecord(kind, body)
				if err == nil {
					recs = append(recs, rec)
					continue
				}
			}
			res.Invalid++
			i.logger.Warn("import skipped invalid document", "object", p, "error", err)
		}
		if len(recs) == 0 {
			continue
		}

		outcomes, _ := repo.CreateBatch(ctx, recs)
		for _, o := range outcomes {
			switch o.Status {
			case repository.StatusSuccess:
				res.Imported++
			case repository.StatusInvalid:
				res.Invalid++
			default:
				res.Failed++
			}
		}
	}

	res.Duration = time.Since(start)
	i.logger.Info("import finished",
		"kind", kind,
		"imported", res.Imported,
		"invalid", res.Invalid,
		"failed", res.Failed,
		"duration", res.Duration,
	)
	return res, nil
}
