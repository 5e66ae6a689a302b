// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// FingerprintHexChars is the length of a token fingerprint: the first
// 8 bytes of a BLAKE3-256 hash as lowercase hex.
const FingerprintHexChars = 16

// Fingerprint returns the loggable identifier for a token wire string.
// The fingerprint is one-way: it identifies a token across audit
// events and registry rows without revealing the token itself.
func Fingerprint(wire string) string {
	sum := blake3.Sum256([]byte(wire))
	return hex.EncodeToString(sum[:FingerprintHexChars/2])
}
