// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

// Package consent implements HMAC-signed scoped consent tokens: the
// proof a user granted an agent access to one scope of their data.
//
// # Wire format
//
// A token is a single string:
//
//	HCT:<base64url(payload)>.<hex signature>
//
// The payload is the canonical five-field form (lib/canonical):
// user_id|agent_id|scope|issued_at|expires_at, with millisecond
// timestamps. The signature is HMAC-SHA256 over exactly those payload
// bytes (lib/signing). Base64url uses the padded URL-safe alphabet.
//
// # Validation order
//
// Validate applies its checks in a frozen order, and the first failure
// wins:
//
//	1. revocation registry membership  → ErrRevoked
//	2. structural parse                → ErrMalformed
//	3. prefix                          → ErrInvalidPrefix
//	4. HMAC verification               → ErrInvalidSignature
//	5. scope equality (when expected)  → ErrScopeMismatch
//	6. expiry                          → ErrExpired
//
// Revocation is checked before anything else so that a revoked token
// stays revoked even if it would also fail a later check. A token is
// valid at its expiry instant and rejected one millisecond after.
// Scope comparison is exact string equality; broader-implies-narrower
// is never inferred.
//
// # Revocation
//
// A [Registry] holds revoked wire strings with the token's natural
// expiry, so entries can be dropped once the token would be rejected
// by the expiry check anyway. [StoredRegistry] adds SQLite
// persistence: it stores BLAKE3 hashes of wire strings (never the
// tokens themselves), loads surviving rows at startup, and writes
// through on every revoke.
//
// Raw wire strings never appear in logs or audit events; use
// audit.Fingerprint for any token-derived output.
package consent
