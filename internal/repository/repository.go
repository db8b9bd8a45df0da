// Package repository implements reads, writes and searches of one record
// kind over a shared store connection. A Repository is parameterized by the
// kind's codec and filter spec; nothing else differs between kinds.
package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/pegacorn/hestia/internal/codec"
	herrors "github.com/pegacorn/hestia/internal/errors"
	"github.com/pegacorn/hestia/internal/query"
	"github.com/pegacorn/hestia/internal/store"
	"github.com/pegacorn/hestia/pkg/types"
)

// Status is the outcome of a write.
type Status string

const (
	StatusSuccess      Status = "success"
	StatusInvalid      Status = "invalid"
	StatusConnectivity Status = "connectivity"
	StatusFailed       Status = "failed"
)

// Outcome reports the result of writing one record.
type Outcome struct {
	ID     string     `json:"id"`
	Kind   types.Kind `json:"kind"`
	Status Status     `json:"status"`
	Error  string     `json:"error,omitempty"`
}

// StatusOf classifies an error into a write status.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusSuccess
	case herrors.IsInvalidParameter(err):
		return StatusInvalid
	case herrors.IsConnectivity(err):
		return StatusConnectivity
	default:
		return StatusFailed
	}
}

// Search result statuses reported to observers.
const (
	SearchOK     = "ok"
	SearchEmpty  = "empty"
	SearchFailed = "failed"
)

// Observer receives write and search events. Implementations must be safe
// for concurrent use.
type Observer interface {
	ObserveWrite(kind types.Kind, status Status, n int)
	ObserveSearch(kind types.Kind, params []string, status string, d time.Duration, results int)
}

type nopObserver struct{}

func (nopObserver) ObserveWrite(types.Kind, Status, int) {}

func (nopObserver) ObserveSearch(types.Kind, []string, string, time.Duration, int) {}

// Option configures a Repository.
type Option func(*Repository)

// WithObserver sets the observer notified of writes and searches.
func WithObserver(o Observer) Option {
	return func(r *Repository) {
		if o != nil {
			r.observer = o
		}
	}
}

// WithIDGenerator replaces the generator used for records created without id.
func WithIDGenerator(gen func() string) Option {
	return func(r *Repository) {
		if gen != nil {
			r.newID = gen
		}
	}
}

// Repository reads, writes and searches records of one kind.
type Repository struct {
	conn     store.Conn
	codec    codec.Codec
	spec     *query.FilterSpec
	observer Observer
	newID    func() string
	logger   *slog.Logger
}

// New creates a repository for the codec's kind.
func New(conn store.Conn, c codec.Codec, spec *query.FilterSpec, opts ...Option) *Repository {
	if spec == nil {
		spec = query.NewFilterSpec(c.Kind())
	}
	r := &Repository{
		conn:     conn,
		codec:    c,
		spec:     spec,
		observer: nopObserver{},
		newID:    uuid.NewString,
		logger:   slog.Default().With("component", "repository", "kind", string(c.Kind())),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Kind returns the record kind.
func (r *Repository) Kind() types.Kind { return r.codec.Kind() }

// Params returns the recognized search parameter names.
func (r *Repository) Params() []string { return r.spec.Names() }

// Create writes a new record, assigning an id when the record has none.
func (r *Repository) Create(ctx context.Context, rec *types.Record) (Outcome, error) {
	if rec != nil && strings.TrimSpace(rec.ID) == "" {
		if err := rec.SetID(r.newID()); err != nil {
			err = herrors.NewInvalidParameterError(herrors.CodeInvalidRecord, err.Error())
			return r.outcome(rec, err), err
		}
	}
	return r.writeOne(ctx, rec)
}

// Update overwrites the record's row unconditionally. The record must carry
// an id.
func (r *Repository) Update(ctx context.Context, rec *types.Record) (Outcome, error) {
	return r.writeOne(ctx, rec)
}

func (r *Repository) writeOne(ctx context.Context, rec *types.Record) (Outcome, error) {
	put, err := r.codec.Encode(rec)
	if err != nil {
		r.observer.ObserveWrite(r.Kind(), StatusInvalid, 1)
		return r.outcome(rec, err), err
	}
	err = r.write(ctx, []*store.Put{put})
	r.observer.ObserveWrite(r.Kind(), StatusOf(err), 1)
	return r.outcome(rec, err), err
}

// CreateBatch writes many records in one store call. Records that fail to
// encode are reported invalid and left out of the batch. The batch has no
// cross-row atomicity: on a store failure every submitted row is reported
// with the failure even though some may have been written. The returned
// error is the first failure, if any.
func (r *Repository) CreateBatch(ctx context.Context, recs []*types.Record) ([]Outcome, error) {
	outcomes := make([]Outcome, len(recs))
	puts := make([]*store.Put, 0, len(recs))
	index := make([]int, 0, len(recs))
	var firstErr error

	for i, rec := range recs {
		var err error
		if rec != nil && strings.TrimSpace(rec.ID) == "" {
			if idErr := rec.SetID(r.newID()); idErr != nil {
				err = herrors.NewInvalidParameterError(herrors.CodeInvalidRecord, idErr.Error())
			}
		}
		var put *store.Put
		if err == nil {
			put, err = r.codec.Encode(rec)
		}
		if err != nil {
			outcomes[i] = r.outcome(rec, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		puts = append(puts, put)
		index = append(index, i)
	}
	if invalid := len(recs) - len(puts); invalid > 0 {
		r.observer.ObserveWrite(r.Kind(), StatusInvalid, invalid)
	}
	if len(puts) == 0 {
		return outcomes, firstErr
	}

	err := r.write(ctx, puts)
	r.observer.ObserveWrite(r.Kind(), StatusOf(err), len(puts))
	for _, i := range index {
		outcomes[i] = r.outcome(recs[i], err)
	}
	if firstErr == nil {
		firstErr = err
	}
	return outcomes, firstErr
}

// Delete is not supported by the store; it always fails.
func (r *Repository) Delete(ctx context.Context, id string) error {
	return herrors.NewUnsupportedOperationError(
		fmt.Sprintf("delete of %s %q is not supported: records are never removed", r.Kind(), id))
}

// Read returns the body of the record with the given id by point lookup.
func (r *Repository) Read(ctx context.Context, id string) (string, error) {
	if strings.TrimSpace(id) == "" {
		return "", herrors.NewNotFoundError(herrors.CodeRowNotFound, fmt.Sprintf("%s id is empty", r.Kind()))
	}
	tbl, err := r.conn.Table(ctx, r.codec.Table())
	if err != nil {
		return "", r.storeError("open table", err)
	}
	defer tbl.Close()

	res, err := tbl.Get(ctx, []byte(id))
	if errors.Is(err, store.ErrTableNotFound) {
		return "", herrors.NewNotFoundError(herrors.CodeRowNotFound,
			fmt.Sprintf("%s %q not found", r.Kind(), id))
	}
	if err != nil {
		return "", r.storeError("get", err)
	}
	return r.codec.Decode(res)
}

// Search runs a search whose limit, if any, is taken from the parameters.
// See SearchWithOptions.
func (r *Repository) Search(ctx context.Context, params query.Params) (iter.Seq2[string, error], error) {
	opts, err := query.ParseOptions(params)
	if err != nil {
		return nil, err
	}
	return r.SearchWithOptions(ctx, params, opts)
}

// SearchWithOptions returns the bodies of rows matching every recognized,
// non-blank parameter. Parameter errors are returned before the store is
// touched. With no usable parameters the sequence is empty and the store is
// never contacted. The sequence is lazy and single-use: the scan runs when it
// is iterated, and a second iteration yields a query error.
func (r *Repository) SearchWithOptions(ctx context.Context, params query.Params, opts query.Options) (iter.Seq2[string, error], error) {
	filters, used, err := r.spec.Build(params)
	if err != nil {
		r.observer.ObserveSearch(r.Kind(), nil, SearchFailed, 0, 0)
		return nil, err
	}
	if filters.Len() == 0 {
		r.logger.Debug("search skipped, no usable parameters")
		r.observer.ObserveSearch(r.Kind(), nil, SearchEmpty, 0, 0)
		return singleUse(func(func(string, error) bool) {}), nil
	}

	scan := &store.Scan{Filter: filters, Reversed: opts.Reverse, Limit: opts.Limit}
	return singleUse(func(yield func(string, error) bool) {
		start := time.Now()
		count := 0
		status := SearchOK
		r.logger.Debug("search started", "params", used, "limit", opts.Limit, "reverse", opts.Reverse)
		defer func() {
			r.observer.ObserveSearch(r.Kind(), used, status, time.Since(start), count)
			r.logger.Debug("search finished", "results", count, "status", status, "duration", time.Since(start))
		}()

		for res, err := range r.rows(ctx, scan) {
			if err != nil {
				status = SearchFailed
				yield("", err)
				return
			}
			body, err := r.codec.Decode(res)
			if err != nil {
				r.logger.Warn("skipping row without body", "row", string(res.Row))
				continue
			}
			count++
			if !yield(body, nil) {
				return
			}
		}
	}), nil
}

// SearchAll collects a search into a slice.
func (r *Repository) SearchAll(ctx context.Context, params query.Params) ([]string, error) {
	seq, err := r.Search(ctx, params)
	if err != nil {
		return nil, err
	}
	bodies := []string{}
	for body, err := range seq {
		if err != nil {
			return nil, err
		}
		bodies = append(bodies, body)
	}
	return bodies, nil
}

// Entry is a stored record returned by a full scan.
type Entry struct {
	ID   string
	Body string
}

// ScanAll walks every row of the kind in write order. It is a deliberate full
// scan for bulk export and bypasses the empty-parameter guard of Search.
func (r *Repository) ScanAll(ctx context.Context) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		for res, err := range r.rows(ctx, &store.Scan{}) {
			if err != nil {
				yield(Entry{}, err)
				return
			}
			body, err := r.codec.Decode(res)
			if err != nil {
				r.logger.Warn("skipping row without body", "row", string(res.Row))
				continue
			}
			if !yield(Entry{ID: string(res.Row), Body: body}, nil) {
				return
			}
		}
	}
}

// rows opens the table and a scanner and yields raw results. Both are closed
// on every exit path, including when the consumer stops early. A table that
// was never created holds no rows.
func (r *Repository) rows(ctx context.Context, scan *store.Scan) iter.Seq2[*store.Result, error] {
	return func(yield func(*store.Result, error) bool) {
		tbl, err := r.conn.Table(ctx, r.codec.Table())
		if err != nil {
			yield(nil, r.scanError("open table", err))
			return
		}
		defer tbl.Close()

		sc, err := tbl.Scan(ctx, scan)
		if errors.Is(err, store.ErrTableNotFound) {
			return
		}
		if err != nil {
			yield(nil, r.scanError("open scanner", err))
			return
		}
		defer sc.Close()

		for {
			res, err := sc.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, r.scanError("next", err))
				return
			}
			if !yield(res, nil) {
				return
			}
		}
	}
}

// write runs the write state machine Pending -> TableEnsured -> Written ->
// Acknowledged, or -> Failed. A failure after the table was ensured leaves
// the table in place.
func (r *Repository) write(ctx context.Context, puts []*store.Put) error {
	log := r.logger.With("rows", len(puts))
	log.Debug("write state", "state", "pending")

	if err := store.EnsureTable(ctx, r.conn.Admin(), r.codec.Descriptor()); err != nil {
		log.Debug("write state", "state", "failed", "error", err)
		return err
	}
	log.Debug("write state", "state", "table_ensured")

	tbl, err := r.conn.Table(ctx, r.codec.Table())
	if err != nil {
		err = r.storeError("open table", err)
		log.Debug("write state", "state", "failed", "error", err)
		return err
	}
	defer tbl.Close()

	if len(puts) == 1 {
		err = tbl.Put(ctx, puts[0])
	} else {
		err = tbl.PutBatch(ctx, puts)
	}
	if err != nil {
		err = r.storeError("put", err)
		log.Debug("write state", "state", "failed", "error", err)
		return err
	}
	log.Debug("write state", "state", "written")
	log.Debug("write state", "state", "acknowledged")
	return nil
}

func (r *Repository) outcome(rec *types.Record, err error) Outcome {
	o := Outcome{Kind: r.Kind(), Status: StatusOf(err)}
	if rec != nil {
		o.ID = rec.ID
	}
	if err != nil {
		o.Error = err.Error()
	}
	return o
}

// storeError classifies a store failure on a write or point read.
func (r *Repository) storeError(op string, err error) error {
	var he *herrors.HestiaError
	if errors.As(err, &he) {
		return err
	}
	msg := fmt.Sprintf("%s %s", op, r.codec.Table())
	if errors.Is(err, store.ErrUnknownFamily) {
		return herrors.NewSchemaError(herrors.CodeFamilyMismatch, msg, err)
	}
	return herrors.NewStoreIOError(msg, err)
}

// scanError wraps a scan failure as a query error. The cause is classified
// as connectivity when the store itself is unavailable.
func (r *Repository) scanError(op string, err error) error {
	cause := err
	if errors.Is(err, store.ErrClosed) {
		cause = herrors.NewConnectivityError("store connection closed", err)
	}
	return herrors.NewQueryError(herrors.CodeScanFailed,
		fmt.Sprintf("search %s: %s", r.codec.Table(), op), cause)
}

// singleUse makes a sequence fail on every iteration after the first.
func singleUse(seq iter.Seq2[string, error]) iter.Seq2[string, error] {
	var used atomic.Bool
	return func(yield func(string, error) bool) {
		if !used.CompareAndSwap(false, true) {
			yield("", herrors.NewQueryError(herrors.CodeSequenceReused,
				"search results can only be iterated once", nil))
			return
		}
		seq(yield)
	}
}
