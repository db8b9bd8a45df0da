// Package store provides the wide-column store abstraction used by hestia.
//
// A store holds named tables. A table holds rows keyed by raw bytes; each row
// holds cells addressed by (family, qualifier). The set of families is fixed
// when the table is created. Two backends are provided: an in-process memory
// store that evaluates filters client-side, and a SQLite store that compiles
// filters into SQL so that selection happens inside the database.
package store

import (
	"bytes"
	"context"
	"errors"
	"sort"
)

var (
	// ErrTableExists is returned by CreateTable when the table is already present.
	ErrTableExists = errors.New("store: table already exists")

	// ErrTableNotFound is returned when a table operation names a missing table.
	ErrTableNotFound = errors.New("store: table not found")

	// ErrUnknownFamily is returned when a put addresses a family the table lacks.
	ErrUnknownFamily = errors.New("store: unknown column family")

	// ErrClosed is returned by operations on a closed connection.
	ErrClosed = errors.New("store: connection closed")

	errEmptyRow  = errors.New("store: empty row key")
	errNoColumns = errors.New("store: put has no columns")
)

// Conn is a goroutine-safe handle to a store. One Conn is opened at process
// start and shared by every component.
type Conn interface {
	// Admin returns the table administration interface.
	Admin() Admin

	// Table returns a handle to the named table. Handles are cheap and must be
	// closed by the caller. A missing table is reported by the first operation
	// on the handle, not here.
	Table(ctx context.Context, name string) (Table, error)

	// Ping verifies that the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the connection.
	Close() error
}

// Admin manages table definitions.
type Admin interface {
	TableExists(ctx context.Context, name string) (bool, error)

	// CreateTable creates a table with the descriptor's families.
	// It returns ErrTableExists if the table is already present.
	CreateTable(ctx context.Context, desc TableDescriptor) error

	// DescribeTable returns the descriptor a table was created with.
	DescribeTable(ctx context.Context, name string) (TableDescriptor, error)
}

// Table is a per-call handle to a single table.
type Table interface {
	Name() string

	// Put replaces the row with the put's cells.
	Put(ctx context.Context, p *Put) error

	// PutBatch applies many puts. Each row is replaced atomically; the batch
	// as a whole is not atomic.
	PutBatch(ctx context.Context, puts []*Put) error

	// Get performs a point lookup. A missing row yields an empty Result.
	Get(ctx context.Context, row []byte) (*Result, error)

	// Scan opens a scanner over rows selected by the scan's filter.
	Scan(ctx context.Context, s *Scan) (Scanner, error)

	Close() error
}

// Scanner iterates scan results. Next returns io.EOF when exhausted.
type Scanner interface {
	Next(ctx context.Context) (*Result, error)
	Close() error
}

// TableDescriptor names a table and its column families.
type TableDescriptor struct {
	Name     string
	Families []string
}

// Cell is a single column value.
type Cell struct {
	Family    string
	Qualifier string
	Value     []byte
}

// Put is a full-row write.
type Put struct {
	Row   []byte
	Cells []Cell
}

// NewPut creates a put for the given row key.
func NewPut(row []byte) *Put {
	return &Put{Row: row}
}

// AddColumn appends a cell. A later cell with the same family and qualifier
// replaces an earlier one.
func (p *Put) AddColumn(family, qualifier string, value []byte) *Put {
	for i := range p.Cells {
		if p.Cells[i].Family == family && p.Cells[i].Qualifier == qualifier {
			p.Cells[i].Value = value
			return p
		}
	}
	p.Cells = append(p.Cells, Cell{Family: family, Qualifier: qualifier, Value: value})
	return p
}

// Result is a row returned by Get or Scan. Cells are sorted by family then
// qualifier.
type Result struct {
	Row   []byte
	Cells []Cell
}

// IsEmpty reports whether the row has no cells.
func (r *Result) IsEmpty() bool {
	return r == nil || len(r.Cells) == 0
}

// Value returns the value of a cell and whether it is present.
func (r *Result) Value(family, qualifier string) ([]byte, bool) {
	if r == nil {
		return nil, false
	}
	for _, c := range r.Cells {
		if c.Family == family && c.Qualifier == qualifier {
			return c.Value, true
		}
	}
	return nil, false
}

// Scan describes a table scan.
type Scan struct {
	// Filter restricts the rows returned. Nil selects every row.
	Filter Filter

	// Reversed returns rows most-recently-written first.
	Reversed bool

	// Limit caps the number of rows returned. Zero means no limit.
	Limit int
}

// sortCells orders cells by family then qualifier.
func sortCells(cells []Cell) {
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].Family != cells[j].Family {
			return cells[i].Family < cells[j].Family
		}
		return cells[i].Qualifier < cells[j].Qualifier
	})
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return bytes.Clone(b)
}
