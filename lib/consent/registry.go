// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

package consent

import (
	"context"
	"sync"
)

// RevocationStore is the registry surface the Service needs. Both
// Registry and StoredRegistry satisfy it.
type RevocationStore interface {
	// Revoke marks a wire string revoked. The expiresAt parameter is
	// the token's natural expiry in epoch milliseconds (0 when
	// unknown); it lets the registry age the entry out once the token
	// would be rejected as expired anyway. Idempotent.
	Revoke(ctx context.Context, wire string, expiresAt int64) error

	// IsRevoked reports whether a wire string has been revoked.
	IsRevoked(wire string) bool
}

// Registry is a thread-safe in-memory set of revoked tokens. It keys
// on the exact wire string: revoking one token never affects another,
// even for the same user, agent, and scope.
//
// The registry auto-cleans: entries whose token's natural expiry has
// passed are removed during Cleanup. Dropping them is safe because
// validation rejects expired tokens regardless of the registry.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]int64 // wire → natural expiry ms (0 = unknown)
}

// NewRegistry creates an empty revocation registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]int64),
	}
}

// Revoke adds a wire string to the registry. The ctx is unused; it
// exists so Registry and StoredRegistry share the RevocationStore
// interface.
func (r *Registry) Revoke(ctx context.Context, wire string, expiresAt int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[wire] = expiresAt
	return nil
}

// IsRevoked checks whether a wire string has been revoked.
func (r *Registry) IsRevoked(wire string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.entries[wire]
	return exists
}

// Cleanup removes entries whose token's natural expiry has passed.
// An entry with unknown expiry (0) is never removed. Returns the
// number of entries dropped.
//
// A token is valid at its expiry instant, so entries are kept until
// nowMs is strictly past expiresAt.
func (r *Registry) Cleanup(nowMs int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for wire, expiresAt := range r.entries {
		if expiresAt != 0 && nowMs > expiresAt {
			delete(r.entries, wire)
			removed++
		}
	}
	return removed
}

// Len returns the current number of entries in the registry.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
