// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Custodia's standard CBOR encoding configuration.
//
// Custodia uses two serialization formats with a clear boundary:
//
//   - JSON for external interfaces: CLI output (record listings, token
//     inspection) and human-facing diagnostics.
//   - CBOR for internal storage: vault record metadata blobs, audit
//     event detail blobs, export bundles, and the persisted revocation
//     registry rows.
//
// This package provides the shared CBOR encoding and decoding modes so
// that every Custodia package encodes identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces identical
// bytes, which is what lets export bundles be compared and deduplicated
// by digest.
//
// For buffer-oriented operations (database blobs, bundles):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (files, pipes):
//
//	encoder := codec.NewEncoder(w)
//	decoder := codec.NewDecoder(r)
//
// # Struct Tag Rules
//
// The struct tag on a type documents its serialization format:
//
//   - `cbor` tag: this type is ONLY ever serialized as CBOR. It will
//     never be marshaled to JSON or interact with CLI tooling.
//     Examples: stored registry rows, audit detail envelopes.
//   - `json` tag: this type may be serialized as BOTH JSON and CBOR.
//     fxamacker/cbor v2 reads `json` tags as fallback when `cbor`
//     tags are absent, so a single `json` tag controls field naming
//     and omitempty for both formats. Examples: vault record metadata
//     and export bundles, which CLI --json output also renders.
//
// Never use both `cbor` and `json` tags on the same field. The tag
// choice documents the contract; doubling up is noise that obscures
// whether a type participates in JSON serialization.
package codec
