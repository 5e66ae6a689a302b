// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

package integration_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"filippo.io/age"

	"github.com/custodia-foundation/custodia/lib/consent"
	"github.com/custodia-foundation/custodia/lib/export"
	"github.com/custodia-foundation/custodia/lib/scope"
	"github.com/custodia-foundation/custodia/lib/vault"
)

// TestSweepThenSealedExport ages one record past its expiry, sweeps,
// and exports what is left through the full escrow path: bundle,
// seal to a generated recipient, open with the matching identity.
func TestSweepThenSealedExport(t *testing.T) {
	s := openStack(t, t.TempDir(), baseMs)
	defer s.close(t)
	ctx := context.Background()

	stores := []struct {
		write scope.Scope
		read  scope.Scope
		data  string
		ttl   time.Duration
	}{
		{scope.WriteEmail, scope.ReadEmail, "inbox", time.Hour},
		{scope.WritePhone, scope.ReadPhone, "555-0100", 0},
		{scope.WriteFinance, scope.ReadFinance, "ledger", 2 * time.Hour},
	}
	for _, st := range stores {
		token := s.issue(t, "user_alice", "agent_data_manager", st.write)
		key := vault.Key{UserID: "user_alice", Scope: st.read}
		if _, err := s.store.Store(ctx, key, []byte(st.data), "", token.Wire, st.ttl); err != nil {
			t.Fatalf("storing %s: %v", st.read, err)
		}
	}

	// One millisecond past the email record's expiry.
	s.clock.Advance(time.Hour + time.Millisecond)

	swept, err := s.store.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if swept != 1 {
		t.Fatalf("swept = %d, want 1", swept)
	}

	session := s.issue(t, "user_alice", "agent_data_manager", scope.SessionRead)
	records, err := s.store.Export(ctx, "user_alice", session.Wire)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("exported %d records, want 2 (swept record excluded)", len(records))
	}
	if records[0].Scope != scope.ReadFinance || records[1].Scope != scope.ReadPhone {
		t.Errorf("export scopes = %s, %s; want finance, phone", records[0].Scope, records[1].Scope)
	}

	bundle := export.New("user_alice", s.clock.Now().UnixMilli(), records)
	keypair, err := export.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	defer keypair.Close()

	recipients, err := export.ParseRecipients([]string{keypair.PublicKey})
	if err != nil {
		t.Fatalf("ParseRecipients: %v", err)
	}
	sealed, err := export.SealToRecipients(bundle, recipients)
	if err != nil {
		t.Fatalf("SealToRecipients: %v", err)
	}

	identity, err := age.ParseX25519Identity(keypair.PrivateKey.String())
	if err != nil {
		t.Fatalf("parsing private key: %v", err)
	}
	opened, err := export.OpenWithIdentity(sealed, identity)
	if err != nil {
		t.Fatalf("OpenWithIdentity: %v", err)
	}
	if !reflect.DeepEqual(opened, bundle) {
		t.Error("escrow roundtrip mangled the bundle")
	}
	if string(opened.Records[1].Plaintext) != "555-0100" {
		t.Errorf("phone plaintext = %q, want 555-0100", opened.Records[1].Plaintext)
	}
}

// TestTokenExpiryBoundary checks the expiry rule end to end on the
// stack clock: a token is valid at its expiry instant and dead one
// millisecond later.
func TestTokenExpiryBoundary(t *testing.T) {
	s := openStack(t, t.TempDir(), baseMs)
	defer s.close(t)
	ctx := context.Background()

	token, err := s.tokens.Issue(ctx, "user_alice", "agent_data_manager", scope.ReadEmail, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	s.clock.Advance(time.Hour)
	if _, err := s.tokens.Validate(ctx, token.Wire); err != nil {
		t.Fatalf("Validate at expiry instant: %v", err)
	}

	s.clock.Advance(time.Millisecond)
	if _, err := s.tokens.Validate(ctx, token.Wire); !errors.Is(err, consent.ErrExpired) {
		t.Errorf("Validate past expiry = %v, want ErrExpired", err)
	}
}
