// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"context"
	"errors"
	"time"

	"github.com/custodia-foundation/custodia/lib/aead"
	"github.com/custodia-foundation/custodia/lib/scope"
)

// Errors returned by store operations. Consent failures (revoked,
// expired token, scope mismatch, ...) pass through from the consent
// package unchanged.
var (
	ErrNotFound     = errors.New("vault: record not found")
	ErrDeleted      = errors.New("vault: record deleted")
	ErrExpired      = errors.New("vault: record expired")
	ErrUserMismatch = errors.New("vault: token user does not match record user")
	ErrNotStorable  = errors.New("vault: scope is not a storable category")
)

// Deletion reasons recorded in Metadata.
const (
	DeletionReasonUser    = "user"
	DeletionReasonExpired = "expired"
)

// Key identifies a record: one slot per user and storable category
// scope. The scope is the category's canonical read scope.
type Key struct {
	UserID string
	Scope  scope.Scope
}

// Metadata is the record's bookkeeping block, persisted alongside the
// ciphertext.
type Metadata struct {
	// TokenFP is the fingerprint of the token that stored the record.
	TokenFP string `cbor:"token_fp"`

	// SizeBytes is the plaintext length.
	SizeBytes int64 `cbor:"size_bytes"`

	// EncryptedAt is when the payload was sealed, epoch milliseconds.
	EncryptedAt int64 `cbor:"encrypted_at"`

	// DeletedAt, DeletedBy, and DeletionReason are set on soft delete.
	// DeletedBy is a token fingerprint; sweeps leave it empty.
	DeletedAt      int64  `cbor:"deleted_at,omitempty"`
	DeletedBy      string `cbor:"deleted_by,omitempty"`
	DeletionReason string `cbor:"deletion_reason,omitempty"`
}

// Record is a stored vault entry. Data is always ciphertext.
type Record struct {
	Key       Key
	Data      aead.Payload
	AgentID   string
	CreatedAt int64 // epoch milliseconds
	UpdatedAt int64 // epoch milliseconds
	ExpiresAt int64 // epoch milliseconds, 0 = never
	Deleted   bool
	Meta      Metadata
}

// expired reports whether the record is past its expiry at now. A
// record is live at the expiry instant, the same boundary tokens use.
func (r *Record) expired(nowMs int64) bool {
	return r.ExpiresAt != 0 && r.ExpiresAt < nowMs
}

// Entry is one row of a List result: record shape without payload.
type Entry struct {
	Scope     scope.Scope `json:"scope"`
	AgentID   string      `json:"agent_id"`
	CreatedAt int64       `json:"created_at"`
	UpdatedAt int64       `json:"updated_at"`
	ExpiresAt int64       `json:"expires_at,omitempty"`
	SizeBytes int64       `json:"size_bytes"`
}

// ExportRecord is one decrypted record of a portability export.
type ExportRecord struct {
	Scope     scope.Scope `json:"scope"`
	AgentID   string      `json:"agent_id"`
	CreatedAt int64       `json:"created_at"`
	UpdatedAt int64       `json:"updated_at"`
	Plaintext []byte      `json:"plaintext"`
}

// Store is the record store contract. Both backends enforce the same
// authorization, error taxonomy, audit events, and metrics.
type Store interface {
	// Store encrypts plaintext and inserts or overwrites the record at
	// key. Requires the category's write scope and a token for the
	// key's user. A ttl <= 0 stores without expiry. Overwrites replace
	// the whole record but preserve CreatedAt.
	Store(ctx context.Context, key Key, plaintext []byte, agentID, tokenWire string, ttl time.Duration) (Record, error)

	// Retrieve decrypts the record at key. Requires the key's scope
	// (the canonical read scope) and a token for the key's user.
	Retrieve(ctx context.Context, key Key, tokenWire string) ([]byte, Record, error)

	// SoftDelete marks the record deleted, keeping its ciphertext.
	// Requires the category's write scope. Deleting an already-deleted
	// record returns ErrDeleted.
	SoftDelete(ctx context.Context, key Key, tokenWire string) error

	// SweepExpired marks every live record past its expiry as deleted
	// with DeletionReasonExpired and returns the count marked. It
	// needs no token and is safe to run concurrently with any other
	// operation.
	SweepExpired(ctx context.Context) (int, error)

	// Purge removes the record outright. Requires the category's write
	// scope. This is the only operation that erases payload bytes;
	// it works on soft-deleted records too.
	Purge(ctx context.Context, key Key, tokenWire string) error

	// List returns the user's non-deleted entries without payloads,
	// ordered by scope. Requires the session read scope.
	List(ctx context.Context, userID, tokenWire string) ([]Entry, error)

	// Export decrypts every live record owned by the user, ordered by
	// scope. Requires the session read scope.
	Export(ctx context.Context, userID, tokenWire string) ([]ExportRecord, error)

	// Close releases the backend's resources.
	Close() error
}
