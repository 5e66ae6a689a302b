// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/custodia-foundation/custodia/lib/clock"
	"github.com/custodia-foundation/custodia/lib/codec"
	"github.com/custodia-foundation/custodia/lib/scope"
	"github.com/custodia-foundation/custodia/lib/sqlitepool"
)

// auditSchema creates the event table. Detail maps are stored as CBOR
// blobs; everything else is directly queryable columns.
const auditSchema = `
	CREATE TABLE IF NOT EXISTS audit_events (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		at         INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		severity   INTEGER NOT NULL,
		user_id    TEXT NOT NULL DEFAULT '',
		agent_id   TEXT NOT NULL DEFAULT '',
		scope      TEXT NOT NULL DEFAULT '',
		token_fp   TEXT NOT NULL DEFAULT '',
		reason     TEXT NOT NULL DEFAULT '',
		detail     BLOB
	);
	CREATE INDEX IF NOT EXISTS idx_audit_events_at ON audit_events(at);
	CREATE INDEX IF NOT EXISTS idx_audit_events_type ON audit_events(event_type, at);
	CREATE INDEX IF NOT EXISTS idx_audit_events_user ON audit_events(user_id, at);
`

// StoreRecorder persists audit events to SQLite. It satisfies
// Recorder for the write path and adds Query for privacy-audit
// readback.
type StoreRecorder struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

// StoreConfig holds the parameters for opening an audit store.
type StoreConfig struct {
	// Path is the filesystem path to the SQLite database file. The
	// parent directory must exist.
	Path string

	// PoolSize is the connection pool size. Defaults to 4.
	PoolSize int

	// Clock provides timestamps for events recorded without one.
	// Defaults to the real clock.
	Clock clock.Clock

	// Logger receives operational messages. Defaults to a no-op
	// logger.
	Logger *slog.Logger
}

// OpenStoreRecorder opens (creating if needed) the audit event store.
// The caller must Close it when done.
func OpenStoreRecorder(cfg StoreConfig) (*StoreRecorder, error) {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: poolSize,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, auditSchema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("audit store: %w", err)
	}

	return &StoreRecorder{pool: pool, clock: clk, logger: logger}, nil
}

// Close closes the underlying connection pool.
func (r *StoreRecorder) Close() error {
	return r.pool.Close()
}

// Record inserts the event. An event without a timestamp gets the
// current time.
func (r *StoreRecorder) Record(ctx context.Context, event Event) error {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("audit store: record: %w", err)
	}
	defer r.pool.Put(conn)

	at := event.At
	if at == 0 {
		at = r.clock.Now().UnixMilli()
	}

	var detail any
	if len(event.Detail) > 0 {
		blob, err := codec.Marshal(event.Detail)
		if err != nil {
			return fmt.Errorf("audit store: encoding detail: %w", err)
		}
		detail = blob
	}

	err = sqlitex.Execute(conn, `
		INSERT INTO audit_events (at, event_type, severity, user_id, agent_id, scope, token_fp, reason, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				at,
				string(event.Type),
				int(SeverityFor(event.Type)),
				event.UserID,
				event.AgentID,
				string(event.Scope),
				event.TokenFP,
				event.Reason,
				detail,
			},
		})
	if err != nil {
		return fmt.Errorf("audit store: insert: %w", err)
	}
	return nil
}

// Filter specifies criteria for querying audit events. Zero fields
// are ignored.
type Filter struct {
	// Type restricts results to one event type.
	Type EventType

	// UserID restricts results to events for one user.
	UserID string

	// AgentID restricts results to events for one agent.
	AgentID string

	// Since restricts results to events at or after this Unix
	// millisecond timestamp.
	Since int64

	// Limit caps the number of results. Defaults to 100.
	Limit int
}

// Query returns events matching the filter, newest first.
func (r *StoreRecorder) Query(ctx context.Context, filter Filter) ([]Event, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit store: query: %w", err)
	}
	defer r.pool.Put(conn)

	var conditions []string
	var args []any

	if filter.Type != "" {
		conditions = append(conditions, "event_type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.AgentID != "" {
		conditions = append(conditions, "agent_id = ?")
		args = append(args, filter.AgentID)
	}
	if filter.Since > 0 {
		conditions = append(conditions, "at >= ?")
		args = append(args, filter.Since)
	}

	query := `SELECT at, event_type, user_id, agent_id, scope, token_fp, reason, detail FROM audit_events`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY at DESC, id DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT %d", limit)

	var events []Event
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			event := Event{
				At:      stmt.ColumnInt64(0),
				Type:    EventType(stmt.ColumnText(1)),
				UserID:  stmt.ColumnText(2),
				AgentID: stmt.ColumnText(3),
				Scope:   scope.Scope(stmt.ColumnText(4)),
				TokenFP: stmt.ColumnText(5),
				Reason:  stmt.ColumnText(6),
			}
			if stmt.ColumnLen(7) > 0 {
				blob := make([]byte, stmt.ColumnLen(7))
				stmt.ColumnBytes(7, blob)
				if err := codec.Unmarshal(blob, &event.Detail); err != nil {
					return fmt.Errorf("decoding detail: %w", err)
				}
			}
			events = append(events, event)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("audit store: query: %w", err)
	}
	return events, nil
}
