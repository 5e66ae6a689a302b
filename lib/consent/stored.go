// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

package consent

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zeebo/blake3"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/custodia-foundation/custodia/lib/sqlitepool"
)

// registrySchema creates the persisted revocation table. Only BLAKE3
// hashes of wire strings are stored, never the tokens themselves: a
// leaked registry database must not be a token archive.
const registrySchema = `
	CREATE TABLE IF NOT EXISTS revoked_tokens (
		token_hash TEXT PRIMARY KEY,
		expires_at INTEGER NOT NULL DEFAULT 0
	);
`

// registryKey returns the full BLAKE3-256 hash of a wire string as
// lowercase hex. This is the persisted registry key; it is
// intentionally longer than audit.Fingerprint, which truncates for
// log readability.
func registryKey(wire string) string {
	sum := blake3.Sum256([]byte(wire))
	return hex.EncodeToString(sum[:])
}

// StoredRegistry is a revocation registry with SQLite persistence.
// All reads are served from an in-memory mirror keyed by token hash;
// writes go to the database first and update the mirror on success.
// Revocations therefore survive process restarts.
//
// The pool is borrowed: the caller owns it and closes it.
type StoredRegistry struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]int64 // token hash → natural expiry ms
}

// OpenStoredRegistry prepares the revocation table and loads all
// surviving rows into memory.
func OpenStoredRegistry(ctx context.Context, pool *sqlitepool.Pool, logger *slog.Logger) (*StoredRegistry, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	conn, err := pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("consent: opening stored registry: %w", err)
	}
	defer pool.Put(conn)

	if err := sqlitex.ExecuteScript(conn, registrySchema, nil); err != nil {
		return nil, fmt.Errorf("consent: creating revocation table: %w", err)
	}

	entries := make(map[string]int64)
	err = sqlitex.Execute(conn, `SELECT token_hash, expires_at FROM revoked_tokens`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			entries[stmt.ColumnText(0)] = stmt.ColumnInt64(1)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("consent: loading revocations: %w", err)
	}

	logger.Info("revocation registry loaded", "entries", len(entries))

	return &StoredRegistry{
		pool:    pool,
		logger:  logger,
		entries: entries,
	}, nil
}

// Revoke persists the revocation and then updates the in-memory
// mirror. If the write fails, the mirror is left untouched and the
// error is returned: a revocation must not be reported as durable
// when it is not.
func (r *StoredRegistry) Revoke(ctx context.Context, wire string, expiresAt int64) error {
	key := registryKey(wire)

	conn, err := r.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("consent: revoking: %w", err)
	}
	defer r.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO revoked_tokens (token_hash, expires_at) VALUES (?, ?)
		ON CONFLICT(token_hash) DO UPDATE SET expires_at = excluded.expires_at`,
		&sqlitex.ExecOptions{
			Args: []any{key, expiresAt},
		})
	if err != nil {
		return fmt.Errorf("consent: persisting revocation: %w", err)
	}

	r.mu.Lock()
	r.entries[key] = expiresAt
	r.mu.Unlock()
	return nil
}

// IsRevoked checks the in-memory mirror. No database I/O on the
// validation hot path.
func (r *StoredRegistry) IsRevoked(wire string) bool {
	key := registryKey(wire)
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.entries[key]
	return exists
}

// Cleanup deletes rows whose token's natural expiry has passed, then
// prunes the mirror. Entries with unknown expiry (0) are kept.
// Returns the number of entries dropped.
func (r *StoredRegistry) Cleanup(ctx context.Context, nowMs int64) (int, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("consent: registry cleanup: %w", err)
	}
	defer r.pool.Put(conn)

	err = sqlitex.Execute(conn, `DELETE FROM revoked_tokens WHERE expires_at != 0 AND expires_at < ?`,
		&sqlitex.ExecOptions{
			Args: []any{nowMs},
		})
	if err != nil {
		return 0, fmt.Errorf("consent: registry cleanup: %w", err)
	}

	r.mu.Lock()
	removed := 0
	for key, expiresAt := range r.entries {
		if expiresAt != 0 && nowMs > expiresAt {
			delete(r.entries, key)
			removed++
		}
	}
	r.mu.Unlock()

	if removed > 0 {
		r.logger.Info("revocation registry cleaned", "removed", removed)
	}
	return removed, nil
}

// Len returns the current number of entries in the mirror.
func (r *StoredRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
