// Package observability tracks search parameter usage and exposes Prometheus
// metrics for writes, searches and exports.
package observability

import (
	"sort"
	"sync"
	"time"

	"github.com/pegacorn/hestia/pkg/types"
)

// QueryStats tracks how often each search parameter of each kind is used.
// Frequently used parameters are the candidates for a secondary index.
type QueryStats struct {
	mu       sync.RWMutex
	params   map[paramKey]*ParamStats
	searches map[types.Kind]*KindStats
	window   time.Duration
}

type paramKey struct {
	kind  types.Kind
	param string
}

// ParamStats holds usage statistics for one parameter of one kind.
type ParamStats struct {
	Kind      types.Kind `json:"kind"`
	Param     string     `json:"param"`
	Frequency int64      `json:"frequency"`
	LastSeen  time.Time  `json:"last_seen"`
	// Companions counts how often each other parameter was used alongside.
	Companions map[string]int `json:"companions,omitempty"`
}

// KindStats holds search totals for one kind.
type KindStats struct {
	Kind     types.Kind `json:"kind"`
	Searches int64      `json:"searches"`
	Empty    int64      `json:"empty"`
	Results  int64      `json:"results"`
	LastSeen time.Time  `json:"last_seen"`
}

// NewQueryStats creates a new query statistics tracker.
// window: time duration for pruning old entries (e.g., 1 hour)
func NewQueryStats(window time.Duration) *QueryStats {
	return &QueryStats{
		params:   make(map[paramKey]*ParamStats),
		searches: make(map[types.Kind]*KindStats),
		window:   window,
	}
}

// RecordSearch records one search of a kind with the parameters that
// contributed a filter. A search with no parameters counts as empty.
func (q *QueryStats) RecordSearch(kind types.Kind, params []string, results int) {
	now := time.Now()

	q.mu.Lock()
	defer q.mu.Unlock()

	ks, ok := q.searches[kind]
	if !ok {
		ks = &KindStats{Kind: kind}
		q.searches[kind] = ks
	}
	ks.Searches++
	ks.Results += int64(results)
	ks.LastSeen = now
	if len(params) == 0 {
		ks.Empty++
		return
	}

	for _, p := range params {
		key := paramKey{kind: kind, param: p}
		stats, exists := q.params[key]
		if !exists {
			stats = &ParamStats{
				Kind:       kind,
				Param:      p,
				Companions: make(map[string]int),
			}
			q.params[key] = stats
		}
		stats.Frequency++
		stats.LastSeen = now
		for _, other := range params {
			if other != p {
				stats.Companions[other]++
			}
		}
	}
}

// GetTopParams returns the top N parameters by frequency across all kinds.
// Returns copies sorted by frequency (descending), then kind and name.
func (q *QueryStats) GetTopParams(n int) []ParamStats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if n <= 0 || len(q.params) == 0 {
		return []ParamStats{}
	}

	stats := make([]ParamStats, 0, len(q.params))
	for _, s := range q.params {
		c := *s
		c.Companions = make(map[string]int, len(s.Companions))
		for k, v := range s.Companions {
			c.Companions[k] = v
		}
		stats = append(stats, c)
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Frequency != stats[j].Frequency {
			return stats[i].Frequency > stats[j].Frequency
		}
		if stats[i].Kind != stats[j].Kind {
			return stats[i].Kind < stats[j].Kind
		}
		return stats[i].Param < stats[j].Param
	})

	if n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}

// GetKindStats returns search totals per kind, sorted by kind.
func (q *QueryStats) GetKindStats() []KindStats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]KindStats, 0, len(q.searches))
	for _, s := range q.searches {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// Prune removes entries where time.Since(LastSeen) > window.
// This should be called periodically (e.g., every 5 minutes).
func (q *QueryStats) Prune() {
	q.mu.Lock()
	defer q.mu.Unlock()

	threshold := time.Now().Add(-q.window)

	for key, stats := range q.params {
		if stats.LastSeen.Before(threshold) {
			delete(q.params, key)
		}
	}
	for kind, stats := range q.searches {
		if stats.LastSeen.Before(threshold) {
			delete(q.searches, kind)
		}
	}
}
