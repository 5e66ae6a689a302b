// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

// Package scope defines the closed vocabulary of consent scopes and
// the explicit read/write pairing between vault categories.
//
// A scope is the unit of permission a consent token carries: vault
// categories come in read/write pairs (email, phone, finance,
// contacts, calendar, plus the general session pair), and four agent
// action scopes authorize operations outside the vault.
//
// The read/write pairing is an exhaustive table, not a naming
// convention. Code that needs "the write scope for this category"
// calls [ReadToWrite]; inspecting the scope string is never correct,
// because a future scope whose name happens to contain "read" or
// "write" must not silently acquire vault permissions.
//
// No dependencies outside the standard library.
package scope
