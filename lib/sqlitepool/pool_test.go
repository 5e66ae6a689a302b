// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/custodia-foundation/custodia/lib/sqlitepool"
)

func TestStandardPragmas(t *testing.T) {
	pool := openTestPool(t, nil)

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	// SQLite renders integer pragma results as decimal text, so one
	// string-valued table covers both text and numeric pragmas.
	tests := []struct {
		pragma string
		want   string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"},
		{"secure_delete", "1"},
		{"foreign_keys", "0"},
	}
	for _, tt := range tests {
		var got string
		err := sqlitex.Execute(conn, "PRAGMA "+tt.pragma, &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				got = stmt.ColumnText(0)
				return nil
			},
		})
		if err != nil {
			t.Fatalf("PRAGMA %s: %v", tt.pragma, err)
		}
		if got != tt.want {
			t.Errorf("PRAGMA %s = %q, want %q", tt.pragma, got, tt.want)
		}
	}
}

func TestOnConnectCreatesSchema(t *testing.T) {
	var calls int
	pool := openTestPool(t, func(conn *sqlite.Conn) error {
		calls++
		return sqlitex.ExecuteScript(conn, `
			CREATE TABLE IF NOT EXISTS revocations (
				token_hash TEXT PRIMARY KEY,
				expires_at INTEGER NOT NULL
			);
		`, nil)
	})

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	if calls == 0 {
		t.Error("OnConnect was not called")
	}

	err = sqlitex.Execute(conn,
		"INSERT INTO revocations (token_hash, expires_at) VALUES (?, ?)",
		&sqlitex.ExecOptions{Args: []any{"ab12", int64(1700000000000)}})
	if err != nil {
		t.Fatalf("INSERT into OnConnect schema: %v", err)
	}
}

func TestConcurrentReaders(t *testing.T) {
	pool := openTestPool(t, func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteScript(conn, `
			CREATE TABLE IF NOT EXISTS revocations (
				token_hash TEXT PRIMARY KEY,
				expires_at INTEGER NOT NULL
			);
		`, nil)
	})

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take for setup: %v", err)
	}
	for i := range 5 {
		err := sqlitex.Execute(conn,
			"INSERT INTO revocations (token_hash, expires_at) VALUES (?, ?)",
			&sqlitex.ExecOptions{Args: []any{fmt.Sprintf("hash-%d", i), int64(i)}})
		if err != nil {
			pool.Put(conn)
			t.Fatalf("INSERT: %v", err)
		}
	}
	pool.Put(conn)

	const readers = 8
	var wg sync.WaitGroup
	errs := make(chan error, readers)

	for range readers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			conn, err := pool.Take(context.Background())
			if err != nil {
				errs <- err
				return
			}
			defer pool.Put(conn)

			var count int
			err = sqlitex.Execute(conn, "SELECT COUNT(*) FROM revocations", &sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					count = stmt.ColumnInt(0)
					return nil
				},
			})
			if err != nil {
				errs <- err
				return
			}
			if count != 5 {
				errs <- fmt.Errorf("count = %d, want 5", count)
			}
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := sqlitepool.Open(sqlitepool.Config{}); err == nil {
		t.Fatal("Open with empty Path: expected error")
	}
}

func TestTakeHonorsCancellation(t *testing.T) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     filepath.Join(t.TempDir(), "cancel.db"),
		PoolSize: 1,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pool.Close()

	// Hold the only connection so the second Take has to wait.
	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := pool.Take(ctx); err == nil {
		t.Fatal("Take with cancelled context: expected error")
	}

	pool.Put(conn)
}

// openTestPool creates a pool backed by a temporary database file and
// closes it when the test completes.
func openTestPool(t *testing.T, onConnect func(*sqlite.Conn) error) *sqlitepool.Pool {
	t.Helper()

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:      filepath.Join(t.TempDir(), "pool.db"),
		PoolSize:  4,
		OnConnect: onConnect,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := pool.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return pool
}
