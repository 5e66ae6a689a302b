// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit records security-relevant Custodia events: token
// issuance, denied validations, revocations, trust link creation, and
// vault activity.
//
// Events carry identifiers and token fingerprints, never raw token
// strings and never plaintext record data. [Fingerprint] is the only
// token-derived value that may leave the consent layer.
//
// A [Recorder] receives events. Four implementations cover the
// configured backends: [NopRecorder] discards, [LogRecorder] writes
// structured log lines with a severity per event type, [StoreRecorder]
// persists to SQLite and supports filtered readback via
// [StoreRecorder.Query], and [MultiRecorder] fans out to several
// recorders at once.
//
// Recording is advisory: callers log a failed Record and carry on.
// An audit outage must never block consent decisions or vault
// operations.
package audit
