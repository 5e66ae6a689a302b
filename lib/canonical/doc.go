// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

// Package canonical renders token and trust-link fields into the exact
// byte strings that get signed.
//
// Signatures are only as stable as the bytes under them, so the rules
// here are deliberately rigid: fixed field order, a single delimiter
// that no field may contain, base-10 integer timestamps, and strict
// parsing that rejects wrong field counts, non-integer timestamps, and
// scopes outside the closed set. Anything that fails to parse is
// treated as malformed by the caller; nothing in this package guesses.
package canonical
