package storage

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// BatchFetcher reads many objects in parallel with bounded concurrency.
type BatchFetcher struct {
	storage     ObjectStorage
	concurrency int
}

// BatchResult holds the outcome of a batch fetch. Every requested path
// appears in exactly one of Objects or Errors.
type BatchResult struct {
	Objects map[string][]byte
	Errors  map[string]error
}

// NewBatchFetcher creates a fetcher. concurrency below 1 is treated as 1.
func NewBatchFetcher(storage ObjectStorage, concurrency int) *BatchFetcher {
	return &BatchFetcher{storage: storage, concurrency: max(concurrency, 1)}
}

// Fetch reads every path. A failed read is recorded against its path and
// does not stop the others. Paths not yet started when ctx ends are recorded
// with the context error, which is also returned.
func (b *BatchFetcher) Fetch(ctx context.Context, paths []string) (*BatchResult, error) {
	result := &BatchResult{
		Objects: make(map[string][]byte, len(paths)),
		Errors:  make(map[string]error),
	}
	var mu sync.Mutex
	record := func(p string, data []byte, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			result.Errors[p] = err
			return
		}
		result.Objects[p] = data
	}

	var g errgroup.Group
	g.SetLimit(b.concurrency)
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			record(p, nil, err)
			continue
		}
		g.Go(func() error {
			data, err := b.storage.GetObject(ctx, p)
			record(p, data, err)
			return nil
		})
	}
	g.Wait()
	return result, ctx.Err()
}
