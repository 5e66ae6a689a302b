// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds key material in memory that cannot leak through
// swap or core dumps.
//
// [Buffer] allocates outside the Go heap via mmap(MAP_ANONYMOUS),
// locks the pages with mlock, and marks them MADV_DONTDUMP. On Close
// the memory is zeroed, unlocked, and unmapped. Because the region is
// invisible to the garbage collector it is never copied or relocated,
// so zeroing on Close genuinely destroys the secret.
//
// The package also owns the key-material rules for this module:
// [LoadSigningSecret] enforces the minimum HMAC secret length and
// [LoadVaultKey] the exact 64-hex-char vault key format, both
// preferring environment variables over configured file paths.
//
// Depends on golang.org/x/sys/unix only.
package secret
