// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// pragmas is applied to every connection before the store's OnConnect
// callback runs. The set is fixed: stores depend on these semantics
// and must not override them per-connection.
var pragmas = []string{
	// Concurrent readers with a single writer, no reader blocking.
	"PRAGMA journal_mode=WAL",
	// WAL survives process crashes at NORMAL; every Custodia table is
	// either advisory (audit) or re-creatable (revocations, records).
	"PRAGMA synchronous=NORMAL",
	// Deleted pages are zeroed on free. Purged vault ciphertext and
	// swept revocation hashes must not linger in freelist pages.
	"PRAGMA secure_delete=ON",
	"PRAGMA busy_timeout=5000",
	// Stores manage referential integrity explicitly.
	"PRAGMA foreign_keys=OFF",
	"PRAGMA cache_size=-8192",
	// Vault and audit files stay small; 64 MiB of mmap covers them.
	"PRAGMA mmap_size=67108864",
	"PRAGMA temp_store=MEMORY",
}

// Config holds the parameters for opening a SQLite connection pool.
// Path is required; everything else has a default.
type Config struct {
	// Path is the filesystem path to the database file, created on
	// first open. The parent directory must exist. ":memory:" gives
	// an in-memory database; pair it with PoolSize 1, since each
	// in-memory connection is independent.
	Path string

	// PoolSize is the number of connections. Zero or negative means
	// max(runtime.NumCPU(), 4). SQLite serializes writes regardless
	// of pool size; extra connections only help concurrent reads.
	PoolSize int

	// Logger receives operational messages (pool open/close). Nil
	// means discard.
	Logger *slog.Logger

	// OnConnect runs once per connection after the standard pragmas.
	// The vault store, the revocation registry, and the audit store
	// each use it to create their schema. A non-nil error discards
	// the connection and surfaces from Take.
	OnConnect func(conn *sqlite.Conn) error
}

// Pool is a fixed-size pool of SQLite connections with the pragma set
// above applied. Pool is safe for concurrent use; the connections it
// hands out are not. Each goroutine must Take its own connection and
// Put it back when done.
type Pool struct {
	inner  *sqlitex.Pool
	logger *slog.Logger
	path   string
}

// Open creates the pool. Connections are established lazily on first
// Take, so a bad OnConnect surfaces there rather than here. The caller
// owns the pool and must Close it.
func Open(cfg Config) (*Pool, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlitepool: Path is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	size := cfg.PoolSize
	if size <= 0 {
		size = max(runtime.NumCPU(), 4)
	}

	inner, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize: size,
		PrepareConn: func(conn *sqlite.Conn) error {
			for _, pragma := range pragmas {
				if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
					return fmt.Errorf("sqlitepool: %s: %w", pragma, err)
				}
			}
			if cfg.OnConnect == nil {
				return nil
			}
			if err := cfg.OnConnect(conn); err != nil {
				return fmt.Errorf("sqlitepool: OnConnect: %w", err)
			}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: opening %s: %w", cfg.Path, err)
	}

	logger.Info("sqlite pool opened",
		"path", cfg.Path,
		"pool_size", size,
	)

	return &Pool{
		inner:  inner,
		logger: logger,
		path:   cfg.Path,
	}, nil
}

// Take borrows a connection, blocking until one is free or ctx is
// cancelled. The caller MUST return it with Put, typically deferred:
//
//	conn, err := pool.Take(ctx)
//	if err != nil {
//	    return err
//	}
//	defer pool.Put(conn)
func (p *Pool) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: take: %w", err)
	}
	return conn, nil
}

// Put returns a connection to the pool. Nil is a no-op. The caller
// must not touch the connection afterwards.
func (p *Pool) Put(conn *sqlite.Conn) {
	p.inner.Put(conn)
}

// Close closes every connection, blocking until all borrowed ones are
// returned. Take errors after Close.
func (p *Pool) Close() error {
	if err := p.inner.Close(); err != nil {
		p.logger.Error("sqlite pool close error",
			"path", p.path,
			"error", err,
		)
		return fmt.Errorf("sqlitepool: closing %s: %w", p.path, err)
	}
	p.logger.Info("sqlite pool closed", "path", p.path)
	return nil
}
