package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/pegacorn/hestia/internal/bloom"
)

const driverName = "sqlite3_hestia"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("hestia_regexp", sqlRegexp, true)
		},
	})
}

// SQLiteConfig configures the SQLite backend.
type SQLiteConfig struct {
	// Path is the database file. ":memory:" keeps everything in one
	// connection and is intended for tests.
	Path string

	// ReadConns is the size of the read pool.
	ReadConns int

	// BusyTimeout is how long a connection waits on a locked database.
	BusyTimeout time.Duration

	// KeyFilterFPR is the target false positive rate of the per-table row
	// key filters. Zero uses bloom.DefaultFPR; a negative value disables them.
	KeyFilterFPR float64
}

// SQLiteConn is a store backed by a SQLite database. Writes go through a
// single-connection pool serialized by a mutex; reads use a separate pool.
type SQLiteConn struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool
	mu     sync.Mutex
	config SQLiteConfig
	logger *slog.Logger
	closed atomic.Bool

	tablesMu sync.Mutex
	tables   map[string]*sqliteTable
}

// sqliteTable caches what is known about a table once it has been seen.
// Tables are never dropped, so the families never go stale. The key filter
// covers only the rows counted in rows; Get revalidates it on a miss.
type sqliteTable struct {
	families map[string]struct{}

	mu   sync.RWMutex
	keys *bloom.KeyFilter // nil when disabled or unavailable
	rows int64            // row count covered by keys
}

func (t *sqliteTable) keyFilter() *bloom.KeyFilter {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.keys
}

// NewSQLiteConn opens a database and creates the backing schema.
func NewSQLiteConn(ctx context.Context, config SQLiteConfig) (*SQLiteConn, error) {
	if config.ReadConns <= 0 {
		config.ReadConns = 4
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = 5 * time.Second
	}

	busy := config.BusyTimeout.Milliseconds()
	inMemory := config.Path == ":memory:"

	var db, readDB *sql.DB
	var err error
	if inMemory {
		db, err = sql.Open(driverName, ":memory:")
		if err != nil {
			return nil, fmt.Errorf("store: failed to open database: %w", err)
		}
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		readDB = db
	} else {
		db, err = sql.Open(driverName, fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=%d", config.Path, busy))
		if err != nil {
			return nil, fmt.Errorf("store: failed to open database: %w", err)
		}
		db.SetMaxOpenConns(1) // Single writer
		db.SetMaxIdleConns(1)

		readDB, err = sql.Open(driverName, fmt.Sprintf("%s?_busy_timeout=%d", config.Path, busy))
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("store: failed to open read database: %w", err)
		}
		readDB.SetMaxOpenConns(config.ReadConns)
		readDB.SetMaxIdleConns(config.ReadConns)
		readDB.SetConnMaxLifetime(5 * time.Minute)
	}

	c := &SQLiteConn{
		db:     db,
		readDB: readDB,
		config: config,
		logger: slog.Default().With("component", "store.sqlite"),
		tables: make(map[string]*sqliteTable),
	}

	if err := c.initSchema(ctx); err != nil {
		c.closeDBs()
		return nil, err
	}

	c.logger.Info("SQLite store opened",
		"path", config.Path,
		"read_conns", config.ReadConns,
		"key_filters", config.KeyFilterFPR >= 0,
	)
	return c, nil
}

func (c *SQLiteConn) initSchema(ctx context.Context) error {
	stmts := append([]string{createTablesSQL, createRowsSQL, createCellsSQL}, createIndexesSQL...)
	for _, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: failed to create schema: %w", err)
		}
	}
	return nil
}

// Admin implements Conn.
func (c *SQLiteConn) Admin() Admin { return sqliteAdmin{c} }

// Table implements Conn.
func (c *SQLiteConn) Table(ctx context.Context, name string) (Table, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	return &sqliteTableHandle{conn: c, name: name}, nil
}

// Ping implements Conn.
func (c *SQLiteConn) Ping(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := c.db.PingContext(ctx); err != nil {
		return err
	}
	return c.readDB.PingContext(ctx)
}

// Close persists the row key filters and closes both pools.
func (c *SQLiteConn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.saveKeyFilters()
	return c.closeDBs()
}

func (c *SQLiteConn) closeDBs() error {
	var errs []error
	if c.readDB != c.db {
		errs = append(errs, c.readDB.Close())
	}
	errs = append(errs, c.db.Close())
	return errors.Join(errs...)
}

// saveKeyFilters takes the writer lock, then the table cache lock, then each
// table's lock; PutBatch follows the same order.
func (c *SQLiteConn) saveKeyFilters() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tablesMu.Lock()
	defer c.tablesMu.Unlock()

	for name, t := range c.tables {
		t.mu.RLock()
		keys, rows := t.keys, t.rows
		t.mu.RUnlock()
		if keys == nil {
			continue
		}
		data, err := keys.MarshalBinary()
		if err != nil {
			c.logger.Warn("failed to encode key filter", "table", name, "error", err)
			continue
		}
		_, err = c.db.Exec(`UPDATE hestia_tables SET key_filter = ?, key_filter_rows = ? WHERE name = ?`,
			data, rows, name)
		if err != nil {
			c.logger.Warn("failed to save key filter", "table", name, "error", err)
		}
	}
}

// table returns the cached metadata for a table, loading it on first use.
func (c *SQLiteConn) table(ctx context.Context, name string) (*sqliteTable, error) {
	c.tablesMu.Lock()
	defer c.tablesMu.Unlock()
	if t, ok := c.tables[name]; ok {
		return t, nil
	}

	var families string
	var snapshot []byte
	var snapshotRows sql.NullInt64
	err := c.readDB.QueryRowContext(ctx,
		`SELECT families, key_filter, key_filter_rows FROM hestia_tables WHERE name = ?`, name,
	).Scan(&families, &snapshot, &snapshotRows)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("store: describe %s: %w", name, err)
	}

	t := &sqliteTable{families: make(map[string]struct{})}
	for _, f := range strings.Split(families, ",") {
		t.families[f] = struct{}{}
	}
	if c.config.KeyFilterFPR >= 0 {
		keys, rows, err := c.loadKeyFilter(ctx, name, snapshot, snapshotRows)
		if err != nil {
			c.logger.Warn("key filter unavailable", "table", name, "error", err)
		} else {
			t.keys, t.rows = keys, rows
		}
	}
	c.tables[name] = t
	return t, nil
}

// loadKeyFilter restores a table's filter from its snapshot when the
// snapshot covers the current row count, and rebuilds it otherwise. Rows are
// never deleted, so equal counts mean equal key sets.
func (c *SQLiteConn) loadKeyFilter(ctx context.Context, name string, snapshot []byte, snapshotRows sql.NullInt64) (*bloom.KeyFilter, int64, error) {
	count, err := c.rowCount(ctx, name)
	if err != nil {
		return nil, 0, err
	}

	if len(snapshot) > 0 && snapshotRows.Valid && snapshotRows.Int64 == count {
		keys, err := bloom.Load(snapshot)
		if err == nil {
			c.logger.Debug("key filter restored", "table", name, "rows", count)
			return keys, count, nil
		}
		c.logger.Warn("discarding corrupt key filter snapshot", "table", name, "error", err)
	}
	return c.buildKeyFilter(ctx, name, count)
}

// buildKeyFilter reads every row key of a table into a new filter sized at
// twice the expected count.
func (c *SQLiteConn) buildKeyFilter(ctx context.Context, name string, expected int64) (*bloom.KeyFilter, int64, error) {
	capacity := int(expected * 2)
	if capacity < 1024 {
		capacity = 1024
	}
	keys := bloom.NewKeyFilter(capacity, c.config.KeyFilterFPR)

	rows, err := c.readDB.QueryContext(ctx, `SELECT row_key FROM hestia_rows WHERE table_name = ?`, name)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var n int64
	for rows.Next() {
		var key []byte
		if err := rows.Scan(&key); err != nil {
			return nil, 0, err
		}
		keys.Add(key)
		n++
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	c.logger.Debug("key filter built", "table", name, "rows", n, "capacity", capacity)
	return keys, n, nil
}

// currentKeyFilter returns the table's filter after checking that it covers
// every row in the database. Another connection on the same file may have
// added rows; the filter is then rebuilt. Rows are never deleted, so an
// unchanged count means an unchanged key set. A nil filter means point reads
// must query.
func (c *SQLiteConn) currentKeyFilter(ctx context.Context, name string, t *sqliteTable) (*bloom.KeyFilter, error) {
	count, err := c.rowCount(ctx, name)
	if err != nil {
		return nil, err
	}
	t.mu.RLock()
	keys, rows := t.keys, t.rows
	t.mu.RUnlock()
	if keys == nil || count == rows {
		return keys, nil
	}

	// Hold the writer lock so no local put lands between the recount and
	// the rebuild.
	c.mu.Lock()
	defer c.mu.Unlock()
	t.mu.Lock()
	defer t.mu.Unlock()

	if count, err = c.rowCount(ctx, name); err != nil {
		return nil, err
	}
	if t.keys == nil || count == t.rows {
		return t.keys, nil
	}
	rebuilt, n, err := c.buildKeyFilter(ctx, name, count)
	if err != nil {
		c.logger.Warn("key filter rebuild failed, point reads fall back to queries", "table", name, "error", err)
		t.keys = nil
		return nil, nil
	}
	c.logger.Debug("key filter refreshed after external writes", "table", name, "rows", n, "previous", t.rows)
	t.keys, t.rows = rebuilt, n
	return rebuilt, nil
}

func (c *SQLiteConn) rowCount(ctx context.Context, name string) (int64, error) {
	var count int64
	err := c.readDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM hestia_rows WHERE table_name = ?`, name).Scan(&count)
	return count, err
}

type sqliteAdmin struct{ c *SQLiteConn }

func (a sqliteAdmin) TableExists(ctx context.Context, name string) (bool, error) {
	if a.c.closed.Load() {
		return false, ErrClosed
	}
	var n int
	err := a.c.readDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM hestia_tables WHERE name = ?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("store: table exists %s: %w", name, err)
	}
	return n > 0, nil
}

func (a sqliteAdmin) CreateTable(ctx context.Context, desc TableDescriptor) error {
	if a.c.closed.Load() {
		return ErrClosed
	}
	if err := ValidateDescriptor(desc); err != nil {
		return err
	}
	a.c.mu.Lock()
	defer a.c.mu.Unlock()

	res, err := a.c.db.ExecContext(ctx,
		`INSERT INTO hestia_tables (name, families, created_at) VALUES (?, ?, ?) ON CONFLICT (name) DO NOTHING`,
		desc.Name, strings.Join(desc.Families, ","), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: create table %s: %w", desc.Name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTableExists
	}
	a.c.logger.Info("table created", "table", desc.Name, "families", desc.Families)
	return nil
}

func (a sqliteAdmin) DescribeTable(ctx context.Context, name string) (TableDescriptor, error) {
	if a.c.closed.Load() {
		return TableDescriptor{}, ErrClosed
	}
	var families string
	err := a.c.readDB.QueryRowContext(ctx, `SELECT families FROM hestia_tables WHERE name = ?`, name).Scan(&families)
	if errors.Is(err, sql.ErrNoRows) {
		return TableDescriptor{}, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	if err != nil {
		return TableDescriptor{}, fmt.Errorf("store: describe %s: %w", name, err)
	}
	return TableDescriptor{Name: name, Families: strings.Split(families, ",")}, nil
}

type sqliteTableHandle struct {
	conn *SQLiteConn
	name string
}

func (h *sqliteTableHandle) Name() string { return h.name }

func (h *sqliteTableHandle) Close() error { return nil }

func (h *sqliteTableHandle) Put(ctx context.Context, p *Put) error {
	return h.PutBatch(ctx, []*Put{p})
}

// PutBatch writes each row in its own transaction so that a failure part way
// through leaves earlier rows written.
func (h *sqliteTableHandle) PutBatch(ctx context.Context, puts []*Put) error {
	c := h.conn
	if c.closed.Load() {
		return ErrClosed
	}
	t, err := c.table(ctx, h.name)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range puts {
		if err := checkPut(t.families, p); err != nil {
			return err
		}
		fresh, err := h.putRow(ctx, p)
		if err != nil {
			return err
		}
		t.mu.Lock()
		if t.keys != nil {
			t.keys.Add(p.Row)
			if fresh {
				t.rows++
			}
		}
		t.mu.Unlock()
	}

	if keys := t.keyFilter(); keys != nil && keys.Saturated() {
		t.mu.Lock()
		defer t.mu.Unlock()
		rebuilt, rows, err := c.buildKeyFilter(ctx, h.name, t.rows)
		if err != nil {
			c.logger.Warn("key filter rebuild failed, point reads fall back to queries", "table", h.name, "error", err)
			t.keys = nil
			return nil
		}
		t.keys, t.rows = rebuilt, rows
	}
	return nil
}

// putRow replaces one row and reports whether the key is new to the table.
func (h *sqliteTableHandle) putRow(ctx context.Context, p *Put) (bool, error) {
	tx, err := h.conn.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("store: begin put: %w", err)
	}
	defer tx.Rollback()

	var existing int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM hestia_rows WHERE table_name = ? AND row_key = ?`, h.name, p.Row,
	).Scan(&existing); err != nil {
		return false, fmt.Errorf("store: put %s: %w", h.name, err)
	}
	if _, err := tx.ExecContext(ctx, upsertRowSQL, h.name, p.Row, h.name); err != nil {
		return false, fmt.Errorf("store: put %s: %w", h.name, err)
	}
	if _, err := tx.ExecContext(ctx, deleteCellsSQL, h.name, p.Row); err != nil {
		return false, fmt.Errorf("store: put %s: %w", h.name, err)
	}
	stmt, err := tx.PrepareContext(ctx, insertCellSQL)
	if err != nil {
		return false, fmt.Errorf("store: put %s: %w", h.name, err)
	}
	defer stmt.Close()
	for _, cell := range p.Cells {
		value := cell.Value
		if value == nil {
			value = []byte{}
		}
		if _, err := stmt.ExecContext(ctx, h.name, p.Row, cell.Family, cell.Qualifier, value); err != nil {
			return false, fmt.Errorf("store: put %s: %w", h.name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("store: commit put: %w", err)
	}
	return existing == 0, nil
}

func (h *sqliteTableHandle) Get(ctx context.Context, row []byte) (*Result, error) {
	c := h.conn
	if c.closed.Load() {
		return nil, ErrClosed
	}
	t, err := c.table(ctx, h.name)
	if err != nil {
		return nil, err
	}
	if keys := t.keyFilter(); keys != nil && !keys.MayContain(row) {
		keys, err = c.currentKeyFilter(ctx, h.name, t)
		if err != nil {
			return nil, fmt.Errorf("store: get %s: %w", h.name, err)
		}
		if keys != nil && !keys.MayContain(row) {
			return &Result{Row: cloneBytes(row)}, nil
		}
	}

	rows, err := c.readDB.QueryContext(ctx, getRowSQL, h.name, row)
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", h.name, err)
	}
	defer rows.Close()

	res := &Result{Row: cloneBytes(row)}
	for rows.Next() {
		var cell Cell
		if err := rows.Scan(&cell.Family, &cell.Qualifier, &cell.Value); err != nil {
			return nil, fmt.Errorf("store: get %s: %w", h.name, err)
		}
		res.Cells = append(res.Cells, cell)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: get %s: %w", h.name, err)
	}
	return res, nil
}

// Scan pushes the filter, order and limit down into SQL. A filter that cannot
// be compiled is evaluated client-side instead, and the limit with it.
func (h *sqliteTableHandle) Scan(ctx context.Context, s *Scan) (Scanner, error) {
	c := h.conn
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if s == nil {
		s = &Scan{}
	}
	if _, err := c.table(ctx, h.name); err != nil {
		return nil, err
	}

	where, args, err := compileFilter(s.Filter)
	var clientFilter Filter
	if errors.Is(err, errNotCompilable) {
		where, args, clientFilter = "1", nil, s.Filter
	} else if err != nil {
		return nil, err
	}

	order := "ASC"
	if s.Reversed {
		order = "DESC"
	}
	limit := -1
	if s.Limit > 0 && clientFilter == nil {
		limit = s.Limit
	}

	query := fmt.Sprintf(`
SELECT r.row_key, c.family, c.qualifier, c.value
FROM (SELECT r.table_name, r.row_key, r.seq FROM hestia_rows r
      WHERE r.table_name = ? AND %s
      ORDER BY r.seq %s LIMIT ?) r
JOIN hestia_cells c ON c.table_name = r.table_name AND c.row_key = r.row_key
ORDER BY r.seq %s, c.family, c.qualifier`, where, order, order)

	queryArgs := append([]interface{}{h.name}, args...)
	queryArgs = append(queryArgs, limit)

	rows, err := c.readDB.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("store: scan %s: %w", h.name, err)
	}
	return &sqliteScanner{rows: rows, filter: clientFilter, limit: s.Limit}, nil
}

type pendingCell struct {
	row  []byte
	cell Cell
}

type sqliteScanner struct {
	rows     *sql.Rows
	head     *pendingCell
	filter   Filter
	limit    int
	returned int
	closed   bool
}

func (s *sqliteScanner) Next(ctx context.Context) (*Result, error) {
	if s.closed {
		return nil, ErrClosed
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.limit > 0 && s.returned >= s.limit {
			return nil, io.EOF
		}
		res, err := s.nextRow()
		if err != nil {
			return nil, err
		}
		if s.filter != nil && !s.filter.Matches(res) {
			continue
		}
		s.returned++
		return res, nil
	}
}

// nextRow groups consecutive cells of one row key into a Result.
func (s *sqliteScanner) nextRow() (*Result, error) {
	var res *Result
	if s.head != nil {
		res = &Result{Row: s.head.row, Cells: []Cell{s.head.cell}}
		s.head = nil
	}
	for s.rows.Next() {
		var key []byte
		var cell Cell
		if err := s.rows.Scan(&key, &cell.Family, &cell.Qualifier, &cell.Value); err != nil {
			return nil, fmt.Errorf("store: scan row: %w", err)
		}
		if res == nil {
			res = &Result{Row: key, Cells: []Cell{cell}}
			continue
		}
		if !bytes.Equal(key, res.Row) {
			s.head = &pendingCell{row: key, cell: cell}
			return res, nil
		}
		res.Cells = append(res.Cells, cell)
	}
	if err := s.rows.Err(); err != nil {
		return nil, fmt.Errorf("store: scan: %w", err)
	}
	if res == nil {
		return nil, io.EOF
	}
	return res, nil
}

func (s *sqliteScanner) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.rows.Close()
}
