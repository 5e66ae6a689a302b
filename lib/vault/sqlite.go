// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/custodia-foundation/custodia/lib/aead"
	"github.com/custodia-foundation/custodia/lib/audit"
	"github.com/custodia-foundation/custodia/lib/clock"
	"github.com/custodia-foundation/custodia/lib/codec"
	"github.com/custodia-foundation/custodia/lib/consent"
	"github.com/custodia-foundation/custodia/lib/metrics"
	"github.com/custodia-foundation/custodia/lib/scope"
	"github.com/custodia-foundation/custodia/lib/sqlitepool"
)

// vaultSchema creates the record table. The AEAD payload and the
// metadata block are deterministic CBOR blobs; the remaining fields
// are queryable columns. One row per (user, scope).
const vaultSchema = `
	CREATE TABLE IF NOT EXISTS vault_records (
		user_id    TEXT NOT NULL,
		scope      TEXT NOT NULL,
		payload    BLOB NOT NULL,
		agent_id   TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL DEFAULT 0,
		deleted    INTEGER NOT NULL DEFAULT 0,
		meta       BLOB NOT NULL,
		PRIMARY KEY (user_id, scope)
	);
	CREATE INDEX IF NOT EXISTS idx_vault_records_expiry
		ON vault_records(expires_at) WHERE expires_at > 0 AND deleted = 0;
`

// SQLiteConfig holds the parameters for opening a durable store.
type SQLiteConfig struct {
	// Path is the filesystem path to the SQLite database file. The
	// parent directory must exist.
	Path string

	// PoolSize is the connection pool size. Defaults to 4.
	PoolSize int

	// Consent validates the tokens presented with every operation.
	// Required.
	Consent *consent.Service

	// Cipher seals and opens record payloads. Required.
	Cipher *aead.Cipher

	// Clock provides the current time. Defaults to the real clock.
	Clock clock.Clock

	// Logger receives operational messages. Defaults to a no-op
	// logger.
	Logger *slog.Logger

	// Audit receives record lifecycle events. Defaults to
	// audit.NopRecorder.
	Audit audit.Recorder

	// Metrics counts operations and outcomes. Optional.
	Metrics *metrics.Metrics
}

// SQLiteStore persists records in SQLite. Read-modify-write sequences
// run inside savepoint transactions, so concurrent deletes and sweeps
// on the same key cannot interleave.
type SQLiteStore struct {
	access

	pool *sqlitepool.Pool
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLiteStore opens (creating if needed) the record store. The
// caller must Close it when done.
func OpenSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	a, err := newAccess(Config{
		Consent: cfg.Consent,
		Cipher:  cfg.Cipher,
		Clock:   cfg.Clock,
		Logger:  cfg.Logger,
		Audit:   cfg.Audit,
		Metrics: cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: poolSize,
		Logger:   a.logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, vaultSchema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("vault store: %w", err)
	}

	return &SQLiteStore{access: a, pool: pool}, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.pool.Close()
}

// Store implements Store. An empty agentID records the token's agent
// as the writer.
func (s *SQLiteStore) Store(ctx context.Context, key Key, plaintext []byte, agentID, tokenWire string, ttl time.Duration) (Record, error) {
	token, err := s.writeToken(ctx, key, tokenWire)
	if err != nil {
		return Record{}, s.fail(metrics.OpStore, err)
	}
	if agentID == "" {
		agentID = token.AgentID
	}

	payload, err := s.cipher.Encrypt(plaintext)
	if err != nil {
		return Record{}, s.fail(metrics.OpStore, fmt.Errorf("vault: sealing record: %w", err))
	}

	now := s.now()
	rec := Record{
		Key:       key,
		Data:      payload,
		AgentID:   agentID,
		CreatedAt: now,
		UpdatedAt: now,
		Meta: Metadata{
			TokenFP:     audit.Fingerprint(token.Wire),
			SizeBytes:   int64(len(plaintext)),
			EncryptedAt: now,
		},
	}
	if ttl > 0 {
		rec.ExpiresAt = now + ttl.Milliseconds()
	}

	if err := s.upsert(ctx, &rec); err != nil {
		return Record{}, s.fail(metrics.OpStore, err)
	}

	s.record(ctx, audit.Event{
		Type:    audit.EventVaultStored,
		UserID:  key.UserID,
		AgentID: agentID,
		Scope:   key.Scope,
		TokenFP: rec.Meta.TokenFP,
	})
	s.ok(metrics.OpStore)
	return rec, nil
}

// upsert writes the record, preserving the original creation time when
// a row already exists at the key. Adjusts rec.CreatedAt to the stored
// value.
func (s *SQLiteStore) upsert(ctx context.Context, rec *Record) (err error) {
	payloadBlob, err := codec.Marshal(rec.Data)
	if err != nil {
		return fmt.Errorf("vault: encoding payload: %w", err)
	}
	metaBlob, err := codec.Marshal(rec.Meta)
	if err != nil {
		return fmt.Errorf("vault: encoding metadata: %w", err)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("vault store: %w", err)
	}
	defer s.pool.Put(conn)

	release := sqlitex.Save(conn)
	defer release(&err)

	err = sqlitex.Execute(conn, `
		SELECT created_at FROM vault_records WHERE user_id = ? AND scope = ?`,
		&sqlitex.ExecOptions{
			Args: []any{rec.Key.UserID, string(rec.Key.Scope)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				rec.CreatedAt = stmt.ColumnInt64(0)
				return nil
			},
		})
	if err != nil {
		return fmt.Errorf("vault store: reading creation time: %w", err)
	}

	err = sqlitex.Execute(conn, `
		INSERT INTO vault_records (user_id, scope, payload, agent_id, created_at, updated_at, expires_at, deleted, meta)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT (user_id, scope) DO UPDATE SET
			payload    = excluded.payload,
			agent_id   = excluded.agent_id,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at,
			deleted    = 0,
			meta       = excluded.meta`,
		&sqlitex.ExecOptions{
			Args: []any{
				rec.Key.UserID,
				string(rec.Key.Scope),
				payloadBlob,
				rec.AgentID,
				rec.CreatedAt,
				rec.UpdatedAt,
				rec.ExpiresAt,
				metaBlob,
			},
		})
	if err != nil {
		return fmt.Errorf("vault store: upsert: %w", err)
	}
	return nil
}

// Retrieve implements Store.
func (s *SQLiteStore) Retrieve(ctx context.Context, key Key, tokenWire string) ([]byte, Record, error) {
	token, err := s.readToken(ctx, key, tokenWire)
	if err != nil {
		return nil, Record{}, s.fail(metrics.OpRetrieve, err)
	}

	rec, err := s.load(ctx, key)
	if err != nil {
		return nil, Record{}, s.fail(metrics.OpRetrieve, err)
	}
	switch {
	case rec.Deleted:
		return nil, Record{}, s.fail(metrics.OpRetrieve, ErrDeleted)
	case rec.expired(s.now()):
		return nil, Record{}, s.fail(metrics.OpRetrieve, ErrExpired)
	}

	plaintext, err := s.cipher.Decrypt(rec.Data)
	if err != nil {
		if errors.Is(err, aead.ErrInvalidTag) {
			s.noteTamper(ctx, key, audit.Fingerprint(token.Wire))
		}
		return nil, Record{}, s.fail(metrics.OpRetrieve, fmt.Errorf("vault: opening record: %w", err))
	}

	s.record(ctx, audit.Event{
		Type:    audit.EventVaultRetrieved,
		UserID:  key.UserID,
		AgentID: token.AgentID,
		Scope:   key.Scope,
		TokenFP: audit.Fingerprint(token.Wire),
	})
	s.ok(metrics.OpRetrieve)
	return plaintext, rec, nil
}

// load reads one record row. Missing rows are ErrNotFound.
func (s *SQLiteStore) load(ctx context.Context, key Key) (Record, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("vault store: %w", err)
	}
	defer s.pool.Put(conn)

	rec := Record{Key: key}
	found := false
	err = sqlitex.Execute(conn, `
		SELECT payload, agent_id, created_at, updated_at, expires_at, deleted, meta
		FROM vault_records WHERE user_id = ? AND scope = ?`,
		&sqlitex.ExecOptions{
			Args: []any{key.UserID, string(key.Scope)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				return scanRecord(stmt, &rec)
			},
		})
	if err != nil {
		return Record{}, fmt.Errorf("vault store: load: %w", err)
	}
	if !found {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// scanRecord fills rec from a row with columns payload, agent_id,
// created_at, updated_at, expires_at, deleted, meta.
func scanRecord(stmt *sqlite.Stmt, rec *Record) error {
	payload := make([]byte, stmt.ColumnLen(0))
	stmt.ColumnBytes(0, payload)
	if err := codec.Unmarshal(payload, &rec.Data); err != nil {
		return fmt.Errorf("decoding payload: %w", err)
	}
	rec.AgentID = stmt.ColumnText(1)
	rec.CreatedAt = stmt.ColumnInt64(2)
	rec.UpdatedAt = stmt.ColumnInt64(3)
	rec.ExpiresAt = stmt.ColumnInt64(4)
	rec.Deleted = stmt.ColumnInt64(5) != 0
	meta := make([]byte, stmt.ColumnLen(6))
	stmt.ColumnBytes(6, meta)
	if err := codec.Unmarshal(meta, &rec.Meta); err != nil {
		return fmt.Errorf("decoding metadata: %w", err)
	}
	return nil
}

// SoftDelete implements Store.
func (s *SQLiteStore) SoftDelete(ctx context.Context, key Key, tokenWire string) error {
	token, err := s.writeToken(ctx, key, tokenWire)
	if err != nil {
		return s.fail(metrics.OpSoftDelete, err)
	}

	fingerprint := audit.Fingerprint(token.Wire)
	if err := s.markDeleted(ctx, key, s.now(), fingerprint); err != nil {
		return s.fail(metrics.OpSoftDelete, err)
	}

	s.record(ctx, audit.Event{
		Type:    audit.EventVaultSoftDeleted,
		UserID:  key.UserID,
		AgentID: token.AgentID,
		Scope:   key.Scope,
		TokenFP: fingerprint,
	})
	s.ok(metrics.OpSoftDelete)
	return nil
}

// markDeleted flips the deleted flag inside one savepoint, stamping
// the metadata block. The payload column is left untouched.
func (s *SQLiteStore) markDeleted(ctx context.Context, key Key, nowMs int64, deletedBy string) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("vault store: %w", err)
	}
	defer s.pool.Put(conn)

	release := sqlitex.Save(conn)
	defer release(&err)

	var meta Metadata
	found := false
	deleted := false
	err = sqlitex.Execute(conn, `
		SELECT deleted, meta FROM vault_records WHERE user_id = ? AND scope = ?`,
		&sqlitex.ExecOptions{
			Args: []any{key.UserID, string(key.Scope)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				deleted = stmt.ColumnInt64(0) != 0
				blob := make([]byte, stmt.ColumnLen(1))
				stmt.ColumnBytes(1, blob)
				return codec.Unmarshal(blob, &meta)
			},
		})
	if err != nil {
		return fmt.Errorf("vault store: reading record: %w", err)
	}
	if !found {
		return ErrNotFound
	}
	if deleted {
		return ErrDeleted
	}

	meta.DeletedAt = nowMs
	meta.DeletedBy = deletedBy
	meta.DeletionReason = DeletionReasonUser
	metaBlob, err := codec.Marshal(meta)
	if err != nil {
		return fmt.Errorf("vault: encoding metadata: %w", err)
	}

	err = sqlitex.Execute(conn, `
		UPDATE vault_records SET deleted = 1, updated_at = ?, meta = ?
		WHERE user_id = ? AND scope = ?`,
		&sqlitex.ExecOptions{
			Args: []any{nowMs, metaBlob, key.UserID, string(key.Scope)},
		})
	if err != nil {
		return fmt.Errorf("vault store: marking deleted: %w", err)
	}
	return nil
}

// SweepExpired implements Store.
func (s *SQLiteStore) SweepExpired(ctx context.Context) (int, error) {
	now := s.now()
	swept, err := s.sweep(ctx, now)
	if err != nil {
		return 0, err
	}

	if swept > 0 {
		s.metrics.RecordsSwept(swept)
		s.record(ctx, audit.Event{
			Type:   audit.EventVaultSwept,
			Detail: map[string]string{"count": strconv.Itoa(swept)},
		})
	}
	return swept, nil
}

// sweep marks every live record past its expiry inside one savepoint,
// so a concurrent sweep sees either unmarked or fully marked rows.
func (s *SQLiteStore) sweep(ctx context.Context, nowMs int64) (swept int, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("vault store: %w", err)
	}
	defer s.pool.Put(conn)

	release := sqlitex.Save(conn)
	defer release(&err)

	type dueRow struct {
		userID string
		scope  string
		meta   Metadata
	}
	var due []dueRow
	err = sqlitex.Execute(conn, `
		SELECT user_id, scope, meta FROM vault_records
		WHERE deleted = 0 AND expires_at > 0 AND expires_at < ?`,
		&sqlitex.ExecOptions{
			Args: []any{nowMs},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				row := dueRow{
					userID: stmt.ColumnText(0),
					scope:  stmt.ColumnText(1),
				}
				blob := make([]byte, stmt.ColumnLen(2))
				stmt.ColumnBytes(2, blob)
				if err := codec.Unmarshal(blob, &row.meta); err != nil {
					return fmt.Errorf("decoding metadata: %w", err)
				}
				due = append(due, row)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("vault store: finding expired records: %w", err)
	}

	for _, row := range due {
		row.meta.DeletedAt = nowMs
		row.meta.DeletionReason = DeletionReasonExpired
		metaBlob, err := codec.Marshal(row.meta)
		if err != nil {
			return swept, fmt.Errorf("vault: encoding metadata: %w", err)
		}
		err = sqlitex.Execute(conn, `
			UPDATE vault_records SET deleted = 1, updated_at = ?, meta = ?
			WHERE user_id = ? AND scope = ? AND deleted = 0`,
			&sqlitex.ExecOptions{
				Args: []any{nowMs, metaBlob, row.userID, row.scope},
			})
		if err != nil {
			return swept, fmt.Errorf("vault store: marking expired: %w", err)
		}
		swept += conn.Changes()
	}
	return swept, nil
}

// Purge implements Store.
func (s *SQLiteStore) Purge(ctx context.Context, key Key, tokenWire string) error {
	token, err := s.writeToken(ctx, key, tokenWire)
	if err != nil {
		return s.fail(metrics.OpPurge, err)
	}

	if err := s.deleteRow(ctx, key); err != nil {
		return s.fail(metrics.OpPurge, err)
	}

	s.record(ctx, audit.Event{
		Type:    audit.EventVaultPurged,
		UserID:  key.UserID,
		AgentID: token.AgentID,
		Scope:   key.Scope,
		TokenFP: audit.Fingerprint(token.Wire),
	})
	s.ok(metrics.OpPurge)
	return nil
}

func (s *SQLiteStore) deleteRow(ctx context.Context, key Key) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("vault store: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		DELETE FROM vault_records WHERE user_id = ? AND scope = ?`,
		&sqlitex.ExecOptions{
			Args: []any{key.UserID, string(key.Scope)},
		})
	if err != nil {
		return fmt.Errorf("vault store: purge: %w", err)
	}
	if conn.Changes() == 0 {
		return ErrNotFound
	}
	return nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, userID, tokenWire string) ([]Entry, error) {
	if _, err := s.ownerToken(ctx, userID, tokenWire); err != nil {
		return nil, s.fail(metrics.OpList, err)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, s.fail(metrics.OpList, fmt.Errorf("vault store: %w", err))
	}
	defer s.pool.Put(conn)

	var entries []Entry
	err = sqlitex.Execute(conn, `
		SELECT scope, agent_id, created_at, updated_at, expires_at, meta
		FROM vault_records WHERE user_id = ? AND deleted = 0 ORDER BY scope`,
		&sqlitex.ExecOptions{
			Args: []any{userID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var meta Metadata
				blob := make([]byte, stmt.ColumnLen(5))
				stmt.ColumnBytes(5, blob)
				if err := codec.Unmarshal(blob, &meta); err != nil {
					return fmt.Errorf("decoding metadata: %w", err)
				}
				entries = append(entries, Entry{
					Scope:     scope.Scope(stmt.ColumnText(0)),
					AgentID:   stmt.ColumnText(1),
					CreatedAt: stmt.ColumnInt64(2),
					UpdatedAt: stmt.ColumnInt64(3),
					ExpiresAt: stmt.ColumnInt64(4),
					SizeBytes: meta.SizeBytes,
				})
				return nil
			},
		})
	if err != nil {
		return nil, s.fail(metrics.OpList, fmt.Errorf("vault store: list: %w", err))
	}

	s.ok(metrics.OpList)
	return entries, nil
}

// Export implements Store.
func (s *SQLiteStore) Export(ctx context.Context, userID, tokenWire string) ([]ExportRecord, error) {
	token, err := s.ownerToken(ctx, userID, tokenWire)
	if err != nil {
		return nil, s.fail(metrics.OpExport, err)
	}

	live, err := s.loadLive(ctx, userID, s.now())
	if err != nil {
		return nil, s.fail(metrics.OpExport, err)
	}

	records := make([]ExportRecord, 0, len(live))
	for _, rec := range live {
		plaintext, err := s.cipher.Decrypt(rec.Data)
		if err != nil {
			if errors.Is(err, aead.ErrInvalidTag) {
				s.noteTamper(ctx, rec.Key, audit.Fingerprint(token.Wire))
			}
			return nil, s.fail(metrics.OpExport, fmt.Errorf("vault: opening %q record: %w", rec.Key.Scope, err))
		}
		records = append(records, ExportRecord{
			Scope:     rec.Key.Scope,
			AgentID:   rec.AgentID,
			CreatedAt: rec.CreatedAt,
			UpdatedAt: rec.UpdatedAt,
			Plaintext: plaintext,
		})
	}

	s.record(ctx, audit.Event{
		Type:    audit.EventExportCreated,
		UserID:  userID,
		AgentID: token.AgentID,
		TokenFP: audit.Fingerprint(token.Wire),
		Detail:  map[string]string{"records": strconv.Itoa(len(records))},
	})
	s.ok(metrics.OpExport)
	return records, nil
}

// loadLive reads every non-deleted, unexpired record owned by the
// user, ordered by scope.
func (s *SQLiteStore) loadLive(ctx context.Context, userID string, nowMs int64) ([]Record, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("vault store: %w", err)
	}
	defer s.pool.Put(conn)

	var live []Record
	err = sqlitex.Execute(conn, `
		SELECT payload, agent_id, created_at, updated_at, expires_at, deleted, meta, scope
		FROM vault_records
		WHERE user_id = ? AND deleted = 0 AND (expires_at = 0 OR expires_at >= ?)
		ORDER BY scope`,
		&sqlitex.ExecOptions{
			Args: []any{userID, nowMs},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				rec := Record{Key: Key{
					UserID: userID,
					Scope:  scope.Scope(stmt.ColumnText(7)),
				}}
				if err := scanRecord(stmt, &rec); err != nil {
					return err
				}
				live = append(live, rec)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("vault store: export: %w", err)
	}
	return live, nil
}
