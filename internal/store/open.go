package store

import (
	"context"
	"fmt"
	"time"

	herrors "github.com/pegacorn/hestia/internal/errors"
)

// Backend types accepted by Open.
const (
	TypeSQLite = "sqlite"
	TypeMemory = "memory"
)

// Config holds the coordinates of the store deployment.
type Config struct {
	// Type selects the backend: "sqlite" or "memory".
	Type string

	// DSN locates the store. For SQLite it is the database path.
	DSN string

	// ReadConns sizes the SQLite read pool.
	ReadConns int

	// BusyTimeout bounds how long SQLite waits on a locked database.
	BusyTimeout time.Duration

	// KeyFilterFPR is the row-key filter false positive rate; negative disables.
	KeyFilterFPR float64

	// PingTimeout bounds the reachability check performed by Open.
	PingTimeout time.Duration
}

// Open establishes the process-wide store connection and verifies that the
// store is reachable. Any failure is a connectivity error; nothing is cached
// on failure, so a later Open may succeed.
func Open(ctx context.Context, cfg Config) (Conn, error) {
	var conn Conn
	switch cfg.Type {
	case TypeMemory:
		conn = NewMemoryConn()
	case TypeSQLite, "":
		if cfg.DSN == "" {
			return nil, herrors.NewConnectivityError("store DSN is not configured", nil)
		}
		c, err := NewSQLiteConn(ctx, SQLiteConfig{
			Path:         cfg.DSN,
			ReadConns:    cfg.ReadConns,
			BusyTimeout:  cfg.BusyTimeout,
			KeyFilterFPR: cfg.KeyFilterFPR,
		})
		if err != nil {
			return nil, herrors.NewConnectivityError(fmt.Sprintf("open store %s", cfg.DSN), err)
		}
		conn = c
	default:
		return nil, herrors.NewConnectivityError(fmt.Sprintf("unknown store type %q", cfg.Type), nil)
	}

	pingCtx := ctx
	if cfg.PingTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.PingTimeout)
		defer cancel()
	}
	if err := conn.Ping(pingCtx); err != nil {
		conn.Close()
		return nil, herrors.NewConnectivityError("store is unreachable", err)
	}
	return conn, nil
}
