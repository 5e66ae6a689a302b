// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/custodia-foundation/custodia/lib/clock"
)

// openTestStore opens a store backed by a temporary database file.
func openTestStore(t *testing.T) *StoreRecorder {
	t.Helper()

	store, err := OpenStoreRecorder(StoreConfig{
		Path:  filepath.Join(t.TempDir(), "audit.db"),
		Clock: clock.Fake(time.UnixMilli(1700000000000)),
	})
	if err != nil {
		t.Fatalf("OpenStoreRecorder: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return store
}

func TestStoreRecordAndQuery(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	events := []Event{
		{Type: EventTokenIssued, At: 100, UserID: "user_alice", AgentID: "agent_a", TokenFP: "fp1"},
		{Type: EventTokenDenied, At: 200, UserID: "user_alice", AgentID: "agent_b", TokenFP: "fp2", Reason: "expired"},
		{Type: EventVaultStored, At: 300, UserID: "user_bob", AgentID: "agent_a"},
	}
	for _, event := range events {
		if err := store.Record(ctx, event); err != nil {
			t.Fatalf("Record(%s): %v", event.Type, err)
		}
	}

	got, err := store.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}

	// Newest first.
	if got[0].At != 300 || got[2].At != 100 {
		t.Errorf("order wrong: at = %d, %d, %d", got[0].At, got[1].At, got[2].At)
	}

	if got[1].Type != EventTokenDenied {
		t.Errorf("middle event type = %s, want %s", got[1].Type, EventTokenDenied)
	}
	if got[1].Reason != "expired" {
		t.Errorf("reason = %q, want expired", got[1].Reason)
	}
	if got[1].TokenFP != "fp2" {
		t.Errorf("token_fp = %q, want fp2", got[1].TokenFP)
	}
}

func TestStoreQueryFilters(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	seed := []Event{
		{Type: EventTokenIssued, At: 100, UserID: "user_alice"},
		{Type: EventTokenIssued, At: 200, UserID: "user_bob"},
		{Type: EventTokenDenied, At: 300, UserID: "user_alice"},
		{Type: EventVaultStored, At: 400, UserID: "user_alice", AgentID: "agent_x"},
	}
	for _, event := range seed {
		if err := store.Record(ctx, event); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"by type", Filter{Type: EventTokenIssued}, 2},
		{"by user", Filter{UserID: "user_alice"}, 3},
		{"by agent", Filter{AgentID: "agent_x"}, 1},
		{"by since", Filter{Since: 300}, 2},
		{"type and user", Filter{Type: EventTokenIssued, UserID: "user_bob"}, 1},
		{"limit", Filter{Limit: 2}, 2},
		{"no match", Filter{UserID: "user_carol"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.Query(ctx, tt.filter)
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("got %d events, want %d", len(got), tt.want)
			}
		})
	}
}

func TestStoreDetailRoundtrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	detail := map[string]string{"records": "4", "deletion_reason": "expired"}
	err := store.Record(ctx, Event{Type: EventVaultSwept, At: 500, Detail: detail})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := store.Query(ctx, Filter{Type: EventVaultSwept})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	if got[0].Detail["records"] != "4" || got[0].Detail["deletion_reason"] != "expired" {
		t.Errorf("detail = %v, want %v", got[0].Detail, detail)
	}
}

func TestStoreFillsMissingTimestamp(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Record(ctx, Event{Type: EventTokenIssued}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := store.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	if got[0].At != 1700000000000 {
		t.Errorf("at = %d, want clock time 1700000000000", got[0].At)
	}
}

func TestStoreEmptyDetailStaysNil(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Record(ctx, Event{Type: EventTokenIssued, At: 1}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := store.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got[0].Detail != nil {
		t.Errorf("detail = %v, want nil", got[0].Detail)
	}
}
