// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

// Package vault stores encrypted user records keyed by (user, scope).
//
// Every operation is gated by a consent token checked through the
// injected consent service: writes need the category's write scope,
// reads the category's canonical read scope, and the cross-category
// list/export operations the session read scope. Read and write
// scopes pair through the scope package's explicit table; nothing in
// this package derives one scope from another.
//
// Records hold an AEAD payload, never plaintext. A user-initiated
// delete is soft: the record is marked deleted and its ciphertext kept
// for the audit trail. Only Purge physically erases. Expiry works the
// same way: the sweeper marks records past their ExpiresAt, and a read
// reports expiry even before a sweep has marked it. A record is still
// live at the expiry instant.
//
// Two backends satisfy Store: MemoryStore for tests and single-process
// use, and SQLiteStore for durable storage. Both enforce identical
// authorization and produce identical errors, metrics, and audit
// events.
package vault
