package store

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
)

// MemoryConn is an in-process store. Filters are evaluated client-side over
// a full table walk.
type MemoryConn struct {
	mu     sync.RWMutex
	tables map[string]*memTable
	seq    uint64
	closed atomic.Bool
}

type memTable struct {
	families map[string]struct{}
	order    []string
	rows     map[string]*memRow
}

type memRow struct {
	seq   uint64
	cells []Cell
}

// NewMemoryConn creates an empty in-process store.
func NewMemoryConn() *MemoryConn {
	return &MemoryConn{tables: make(map[string]*memTable)}
}

// Admin implements Conn.
func (c *MemoryConn) Admin() Admin { return memAdmin{c} }

// Table implements Conn.
func (c *MemoryConn) Table(ctx context.Context, name string) (Table, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	return &memTableHandle{conn: c, name: name}, nil
}

// Ping implements Conn.
func (c *MemoryConn) Ping(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

// Close implements Conn.
func (c *MemoryConn) Close() error {
	c.closed.Store(true)
	return nil
}

type memAdmin struct{ c *MemoryConn }

func (a memAdmin) TableExists(ctx context.Context, name string) (bool, error) {
	if a.c.closed.Load() {
		return false, ErrClosed
	}
	a.c.mu.RLock()
	defer a.c.mu.RUnlock()
	_, ok := a.c.tables[name]
	return ok, nil
}

func (a memAdmin) CreateTable(ctx context.Context, desc TableDescriptor) error {
	if a.c.closed.Load() {
		return ErrClosed
	}
	if err := ValidateDescriptor(desc); err != nil {
		return err
	}
	a.c.mu.Lock()
	defer a.c.mu.Unlock()
	if _, ok := a.c.tables[desc.Name]; ok {
		return ErrTableExists
	}
	t := &memTable{
		families: make(map[string]struct{}, len(desc.Families)),
		order:    append([]string(nil), desc.Families...),
		rows:     make(map[string]*memRow),
	}
	for _, f := range desc.Families {
		t.families[f] = struct{}{}
	}
	a.c.tables[desc.Name] = t
	return nil
}

func (a memAdmin) DescribeTable(ctx context.Context, name string) (TableDescriptor, error) {
	if a.c.closed.Load() {
		return TableDescriptor{}, ErrClosed
	}
	a.c.mu.RLock()
	defer a.c.mu.RUnlock()
	t, ok := a.c.tables[name]
	if !ok {
		return TableDescriptor{}, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	return TableDescriptor{Name: name, Families: append([]string(nil), t.order...)}, nil
}

type memTableHandle struct {
	conn *MemoryConn
	name string
}

func (h *memTableHandle) Name() string { return h.name }

func (h *memTableHandle) Close() error { return nil }

func (h *memTableHandle) Put(ctx context.Context, p *Put) error {
	return h.PutBatch(ctx, []*Put{p})
}

func (h *memTableHandle) PutBatch(ctx context.Context, puts []*Put) error {
	if h.conn.closed.Load() {
		return ErrClosed
	}
	h.conn.mu.Lock()
	defer h.conn.mu.Unlock()
	t, ok := h.conn.tables[h.name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTableNotFound, h.name)
	}
	for _, p := range puts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := checkPut(t.families, p); err != nil {
			return err
		}
		cells := make([]Cell, len(p.Cells))
		for i, c := range p.Cells {
			cells[i] = Cell{Family: c.Family, Qualifier: c.Qualifier, Value: cloneBytes(c.Value)}
		}
		sortCells(cells)
		h.conn.seq++
		t.rows[string(p.Row)] = &memRow{seq: h.conn.seq, cells: cells}
	}
	return nil
}

func checkPut(families map[string]struct{}, p *Put) error {
	if len(p.Row) == 0 {
		return errEmptyRow
	}
	if len(p.Cells) == 0 {
		return fmt.Errorf("%w: %q", errNoColumns, p.Row)
	}
	for _, c := range p.Cells {
		if _, ok := families[c.Family]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownFamily, c.Family)
		}
	}
	return nil
}

func (h *memTableHandle) Get(ctx context.Context, row []byte) (*Result, error) {
	if h.conn.closed.Load() {
		return nil, ErrClosed
	}
	h.conn.mu.RLock()
	defer h.conn.mu.RUnlock()
	t, ok := h.conn.tables[h.name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, h.name)
	}
	r, ok := t.rows[string(row)]
	if !ok {
		return &Result{Row: cloneBytes(row)}, nil
	}
	return r.result(row), nil
}

func (r *memRow) result(key []byte) *Result {
	cells := make([]Cell, len(r.cells))
	for i, c := range r.cells {
		cells[i] = Cell{Family: c.Family, Qualifier: c.Qualifier, Value: cloneBytes(c.Value)}
	}
	return &Result{Row: cloneBytes(key), Cells: cells}
}

// Scan takes a snapshot of the matching rows under the read lock; later
// writes are not observed by an open scanner.
func (h *memTableHandle) Scan(ctx context.Context, s *Scan) (Scanner, error) {
	if h.conn.closed.Load() {
		return nil, ErrClosed
	}
	if s == nil {
		s = &Scan{}
	}
	h.conn.mu.RLock()
	defer h.conn.mu.RUnlock()
	t, ok := h.conn.tables[h.name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, h.name)
	}

	type entry struct {
		key string
		row *memRow
	}
	entries := make([]entry, 0, len(t.rows))
	for k, r := range t.rows {
		entries = append(entries, entry{k, r})
	}
	sort.Slice(entries, func(i, j int) bool {
		if s.Reversed {
			return entries[i].row.seq > entries[j].row.seq
		}
		return entries[i].row.seq < entries[j].row.seq
	})

	var results []*Result
	for _, e := range entries {
		res := e.row.result([]byte(e.key))
		if s.Filter != nil && !s.Filter.Matches(res) {
			continue
		}
		results = append(results, res)
		if s.Limit > 0 && len(results) >= s.Limit {
			break
		}
	}
	return &sliceScanner{results: results}, nil
}

type sliceScanner struct {
	results []*Result
	pos     int
	closed  bool
}

func (s *sliceScanner) Next(ctx context.Context) (*Result, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.results) {
		return nil, io.EOF
	}
	r := s.results[s.pos]
	s.pos++
	return r, nil
}

func (s *sliceScanner) Close() error {
	s.closed = true
	s.results = nil
	return nil
}
