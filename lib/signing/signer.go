// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/custodia-foundation/custodia/lib/secret"
)

// DigestHexChars is the length of a signature in its wire form:
// a SHA-256 digest as lowercase hex.
const DigestHexChars = 2 * sha256.Size

// ErrSecretTooShort is returned by New when the signing secret is
// shorter than the module minimum.
var ErrSecretTooShort = errors.New("signing: secret shorter than minimum")

// Signer computes HMAC-SHA256 signatures over canonical byte strings.
// It borrows the secret buffer for its lifetime and never closes it;
// the owner of the secret decides when key material is destroyed.
//
// Signer is safe for concurrent use: every call constructs a fresh
// HMAC state from the (immutable) secret.
type Signer struct {
	secret *secret.Buffer
}

// New returns a Signer over the given secret. The secret must be at
// least secret.MinSigningSecretBytes long.
func New(signingSecret *secret.Buffer) (*Signer, error) {
	if signingSecret == nil {
		return nil, fmt.Errorf("signing: nil secret")
	}
	if signingSecret.Len() < secret.MinSigningSecretBytes {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d",
			ErrSecretTooShort, signingSecret.Len(), secret.MinSigningSecretBytes)
	}
	return &Signer{secret: signingSecret}, nil
}

// Sign returns the HMAC-SHA256 digest of data as lowercase hex,
// always DigestHexChars characters.
func (s *Signer) Sign(data []byte) string {
	mac := hmac.New(sha256.New, s.secret.Bytes())
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether hexSignature is the signature of data.
// The comparison is constant-time over the hex form; malformed or
// truncated signatures are plain false, never a distinguishable
// error.
func (s *Signer) Verify(data []byte, hexSignature string) bool {
	expected := s.Sign(data)
	return hmac.Equal([]byte(hexSignature), []byte(expected))
}
