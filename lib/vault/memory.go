// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/custodia-foundation/custodia/lib/aead"
	"github.com/custodia-foundation/custodia/lib/audit"
	"github.com/custodia-foundation/custodia/lib/metrics"
)

// MemoryStore keeps records in a mutex-guarded map. Encryption and
// decryption run outside the critical section; only map access and
// record mutation hold the lock, so per-key read-modify-write
// sequences are serialized by the single map lock.
type MemoryStore struct {
	access

	mu      sync.RWMutex
	records map[Key]*Record
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(cfg Config) (*MemoryStore, error) {
	a, err := newAccess(cfg)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{access: a, records: make(map[Key]*Record)}, nil
}

// Store implements Store. An empty agentID records the token's agent
// as the writer.
func (s *MemoryStore) Store(ctx context.Context, key Key, plaintext []byte, agentID, tokenWire string, ttl time.Duration) (Record, error) {
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

	s.mu.Lock()
	if existing, found := s.records[key]; found {
		rec.CreatedAt = existing.CreatedAt
	}
	stored := rec
	s.records[key] = &stored
	s.mu.Unlock()

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

// Retrieve implements Store.
func (s *MemoryStore) Retrieve(ctx context.Context, key Key, tokenWire string) ([]byte, Record, error) {
	token, err := s.readToken(ctx, key, tokenWire)
	if err != nil {
		return nil, Record{}, s.fail(metrics.OpRetrieve, err)
	}

	s.mu.RLock()
	rec, found := s.records[key]
	var snapshot Record
	if found {
		snapshot = *rec
	}
	s.mu.RUnlock()

	switch {
	case !found:
		return nil, Record{}, s.fail(metrics.OpRetrieve, ErrNotFound)
	case snapshot.Deleted:
		return nil, Record{}, s.fail(metrics.OpRetrieve, ErrDeleted)
	case snapshot.expired(s.now()):
		return nil, Record{}, s.fail(metrics.OpRetrieve, ErrExpired)
	}

	plaintext, err := s.cipher.Decrypt(snapshot.Data)
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
	return plaintext, snapshot, nil
}

// SoftDelete implements Store.
func (s *MemoryStore) SoftDelete(ctx context.Context, key Key, tokenWire string) error {
	token, err := s.writeToken(ctx, key, tokenWire)
	if err != nil {
		return s.fail(metrics.OpSoftDelete, err)
	}

	now := s.now()
	fingerprint := audit.Fingerprint(token.Wire)

	s.mu.Lock()
	rec, found := s.records[key]
	switch {
	case !found:
		err = ErrNotFound
	case rec.Deleted:
		err = ErrDeleted
	default:
		rec.Deleted = true
		rec.UpdatedAt = now
		rec.Meta.DeletedAt = now
		rec.Meta.DeletedBy = fingerprint
		rec.Meta.DeletionReason = DeletionReasonUser
	}
	s.mu.Unlock()

	if err != nil {
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

// SweepExpired implements Store.
func (s *MemoryStore) SweepExpired(ctx context.Context) (int, error) {
	now := s.now()

	s.mu.Lock()
	swept := 0
	for _, rec := range s.records {
		if rec.Deleted || !rec.expired(now) {
			continue
		}
		rec.Deleted = true
		rec.UpdatedAt = now
		rec.Meta.DeletedAt = now
		rec.Meta.DeletionReason = DeletionReasonExpired
		swept++
	}
	s.mu.Unlock()

	if swept > 0 {
		s.metrics.RecordsSwept(swept)
		s.record(ctx, audit.Event{
			Type:   audit.EventVaultSwept,
			Detail: map[string]string{"count": strconv.Itoa(swept)},
		})
	}
	return swept, nil
}

// Purge implements Store.
func (s *MemoryStore) Purge(ctx context.Context, key Key, tokenWire string) error {
	token, err := s.writeToken(ctx, key, tokenWire)
	if err != nil {
		return s.fail(metrics.OpPurge, err)
	}

	s.mu.Lock()
	_, found := s.records[key]
	delete(s.records, key)
	s.mu.Unlock()

	if !found {
		return s.fail(metrics.OpPurge, ErrNotFound)
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

// List implements Store.
func (s *MemoryStore) List(ctx context.Context, userID, tokenWire string) ([]Entry, error) {
	if _, err := s.ownerToken(ctx, userID, tokenWire); err != nil {
		return nil, s.fail(metrics.OpList, err)
	}

	s.mu.RLock()
	var entries []Entry
	for key, rec := range s.records {
		if key.UserID != userID || rec.Deleted {
			continue
		}
		entries = append(entries, Entry{
			Scope:     key.Scope,
			AgentID:   rec.AgentID,
			CreatedAt: rec.CreatedAt,
			UpdatedAt: rec.UpdatedAt,
			ExpiresAt: rec.ExpiresAt,
			SizeBytes: rec.Meta.SizeBytes,
		})
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].Scope < entries[j].Scope })
	s.ok(metrics.OpList)
	return entries, nil
}

// Export implements Store.
func (s *MemoryStore) Export(ctx context.Context, userID, tokenWire string) ([]ExportRecord, error) {
	token, err := s.ownerToken(ctx, userID, tokenWire)
	if err != nil {
		return nil, s.fail(metrics.OpExport, err)
	}

	now := s.now()
	s.mu.RLock()
	var live []Record
	for key, rec := range s.records {
		if key.UserID != userID || rec.Deleted || rec.expired(now) {
			continue
		}
		live = append(live, *rec)
	}
	s.mu.RUnlock()

	sort.Slice(live, func(i, j int) bool { return live[i].Key.Scope < live[j].Key.Scope })

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

// Close implements Store. The in-memory backend holds no resources.
func (s *MemoryStore) Close() error { return nil }
