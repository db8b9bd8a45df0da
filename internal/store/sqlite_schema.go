package store

// The SQLite backend emulates a wide-column store with three tables:
// hestia_tables holds table descriptors, hestia_rows holds one entry per row
// with a per-table write sequence used for scan order, and hestia_cells holds
// the column values.

const createTablesSQL = `
CREATE TABLE IF NOT EXISTS hestia_tables (
    name TEXT PRIMARY KEY,
    families TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    key_filter BLOB,
    key_filter_rows INTEGER
)`

const createRowsSQL = `
CREATE TABLE IF NOT EXISTS hestia_rows (
    table_name TEXT NOT NULL,
    row_key BLOB NOT NULL,
    seq INTEGER NOT NULL,
    PRIMARY KEY (table_name, row_key)
)`

const createCellsSQL = `
CREATE TABLE IF NOT EXISTS hestia_cells (
    table_name TEXT NOT NULL,
    row_key BLOB NOT NULL,
    family TEXT NOT NULL,
    qualifier TEXT NOT NULL,
    value BLOB NOT NULL,
    PRIMARY KEY (table_name, row_key, family, qualifier)
)`

var createIndexesSQL = []string{
	// Scan order and the next-sequence lookup.
	`CREATE INDEX IF NOT EXISTS idx_hestia_rows_seq ON hestia_rows(table_name, seq)`,

	// Column predicates probe cells by column then value.
	`CREATE INDEX IF NOT EXISTS idx_hestia_cells_column ON hestia_cells(table_name, family, qualifier, value)`,
}

const upsertRowSQL = `
INSERT INTO hestia_rows (table_name, row_key, seq)
VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM hestia_rows WHERE table_name = ?))
ON CONFLICT (table_name, row_key) DO UPDATE SET seq = excluded.seq`

const deleteCellsSQL = `DELETE FROM hestia_cells WHERE table_name = ? AND row_key = ?`

const insertCellSQL = `
INSERT INTO hestia_cells (table_name, row_key, family, qualifier, value)
VALUES (?, ?, ?, ?, ?)`

const getRowSQL = `
SELECT family, qualifier, value FROM hestia_cells
WHERE table_name = ? AND row_key = ?
ORDER BY family, qualifier`
