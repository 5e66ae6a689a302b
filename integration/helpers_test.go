// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

// Package integration_test exercises the full Custodia stack the way a
// deployment runs it: consent service over a stored revocation
// registry, the SQLite record store, the audit trail, and export
// escrow, all over real database files in a temp directory. No
// external services are required; restarts are simulated by closing
// the stack and reopening it over the same files.
package integration_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/custodia-foundation/custodia/lib/aead"
	"github.com/custodia-foundation/custodia/lib/audit"
	"github.com/custodia-foundation/custodia/lib/clock"
	"github.com/custodia-foundation/custodia/lib/consent"
	"github.com/custodia-foundation/custodia/lib/metrics"
	"github.com/custodia-foundation/custodia/lib/scope"
	"github.com/custodia-foundation/custodia/lib/secret"
	"github.com/custodia-foundation/custodia/lib/signing"
	"github.com/custodia-foundation/custodia/lib/sqlitepool"
	"github.com/custodia-foundation/custodia/lib/vault"
)

// baseMs anchors the fake clock so timestamps in assertions are
// stable.
const baseMs = 1700000000000

// stack is one Custodia deployment. Opening a second stack over the
// same directory simulates a process restart: the signing secret and
// vault key are fixed, so previously issued tokens and stored records
// must still work.
type stack struct {
	dir     string
	clock   *clock.FakeClock
	tokens  *consent.Service
	store   vault.Store
	trail   *audit.StoreRecorder
	closers []func() error
}

// openStack wires a full stack over dir's database files, creating
// them on first open. The clock starts at nowMs so a reopened stack
// can resume where the previous one stopped.
func openStack(t *testing.T, dir string, nowMs int64) *stack {
	t.Helper()
	ctx := context.Background()

	s := &stack{dir: dir, clock: clock.Fake(time.UnixMilli(nowMs))}

	trail, err := audit.OpenStoreRecorder(audit.StoreConfig{
		Path:  dir + "/audit.db",
		Clock: s.clock,
	})
	if err != nil {
		t.Fatalf("opening audit store: %v", err)
	}
	s.trail = trail
	s.closers = append(s.closers, trail.Close)

	signingSecret, err := secret.NewFromBytes(bytes.Repeat([]byte{0x42}, 32))
	if err != nil {
		t.Fatalf("building signing secret: %v", err)
	}
	s.closers = append(s.closers, signingSecret.Close)
	signer, err := signing.New(signingSecret)
	if err != nil {
		t.Fatalf("building signer: %v", err)
	}

	registryPool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     dir + "/registry.db",
		PoolSize: 2,
	})
	if err != nil {
		t.Fatalf("opening registry pool: %v", err)
	}
	s.closers = append(s.closers, registryPool.Close)
	registry, err := consent.OpenStoredRegistry(ctx, registryPool, nil)
	if err != nil {
		t.Fatalf("opening stored registry: %v", err)
	}

	tokens, err := consent.NewService(consent.Config{
		Signer:   signer,
		Registry: registry,
		Clock:    s.clock,
		Audit:    trail,
		Metrics:  metrics.Nop(),
	})
	if err != nil {
		t.Fatalf("building consent service: %v", err)
	}
	s.tokens = tokens

	vaultKey, err := secret.NewFromBytes(bytes.Repeat([]byte{0x17}, 32))
	if err != nil {
		t.Fatalf("building vault key: %v", err)
	}
	s.closers = append(s.closers, vaultKey.Close)
	cipher, err := aead.New(vaultKey)
	if err != nil {
		t.Fatalf("building cipher: %v", err)
	}

	store, err := vault.OpenSQLiteStore(vault.SQLiteConfig{
		Path:     dir + "/vault.db",
		PoolSize: 2,
		Consent:  tokens,
		Cipher:   cipher,
		Clock:    s.clock,
		Audit:    trail,
		Metrics:  metrics.Nop(),
	})
	if err != nil {
		t.Fatalf("opening record store: %v", err)
	}
	s.store = store
	s.closers = append(s.closers, store.Close)

	return s
}

// close shuts the stack down in reverse open order.
func (s *stack) close(t *testing.T) {
	t.Helper()
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			t.Fatalf("closing stack: %v", err)
		}
	}
	s.closers = nil
}

// issue mints a token on the stack's clock with the default lifetime.
func (s *stack) issue(t *testing.T, userID, agentID string, sc scope.Scope) consent.Token {
	t.Helper()
	token, err := s.tokens.Issue(context.Background(), userID, agentID, sc, 0)
	if err != nil {
		t.Fatalf("issuing %s token for %s: %v", sc, userID, err)
	}
	return token
}
