// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

// Package signing computes and verifies the HMAC-SHA256 signatures
// that protect consent tokens and trust links.
//
// One process-wide secret signs everything; there is no key rotation
// and no per-token keying. The secret lives in a locked secret.Buffer
// and must be at least 32 bytes — anything shorter is rejected at
// construction rather than silently weakening every signature issued
// afterwards.
//
// Verify compares digests in constant time. It deliberately returns a
// bare bool: a verifier that explains which byte failed is a timing
// and content oracle.
package signing
