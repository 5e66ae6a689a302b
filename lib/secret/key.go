// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
)

const (
	// MinSigningSecretBytes is the smallest HMAC signing secret the
	// module accepts.
	MinSigningSecretBytes = 32

	// VaultKeyBytes is the AES-256 / ChaCha20 key size.
	VaultKeyBytes = 32

	// VaultKeyHexChars is the on-disk representation of a vault key:
	// 64 lowercase hex characters decoding to 32 bytes.
	VaultKeyHexChars = 64

	// SigningSecretEnv and VaultKeyEnv override the configured file
	// paths when set.
	SigningSecretEnv = "CUSTODIA_SIGNING_SECRET"
	VaultKeyEnv      = "CUSTODIA_VAULT_KEY"
)

// Generate returns n cryptographically random bytes in a locked
// buffer.
func Generate(n int) (*Buffer, error) {
	buffer, err := New(n)
	if err != nil {
		return nil, err
	}
	if _, err := rand.Read(buffer.Bytes()); err != nil {
		buffer.Close()
		return nil, fmt.Errorf("secret: generating random bytes: %w", err)
	}
	return buffer, nil
}

// FromHex decodes a hex string into a locked buffer.
func FromHex(encoded string) (*Buffer, error) {
	if len(encoded) == 0 || len(encoded)%2 != 0 {
		return nil, fmt.Errorf("secret: hex input has odd or zero length %d", len(encoded))
	}
	buffer, err := New(len(encoded) / 2)
	if err != nil {
		return nil, err
	}
	if _, err := hex.Decode(buffer.Bytes(), []byte(encoded)); err != nil {
		buffer.Close()
		return nil, fmt.Errorf("secret: decoding hex: %w", err)
	}
	return buffer, nil
}

// LoadSigningSecret loads the HMAC signing secret, preferring the
// CUSTODIA_SIGNING_SECRET environment variable over the given file
// path. The secret must be at least MinSigningSecretBytes after
// whitespace trimming; shorter secrets make forgery feasible and are
// rejected outright.
func LoadSigningSecret(path string) (*Buffer, error) {
	buffer, err := loadRaw(SigningSecretEnv, path)
	if err != nil {
		return nil, fmt.Errorf("secret: loading signing secret: %w", err)
	}
	if buffer.Len() < MinSigningSecretBytes {
		length := buffer.Len()
		buffer.Close()
		return nil, fmt.Errorf("secret: signing secret is %d bytes, need at least %d", length, MinSigningSecretBytes)
	}
	return buffer, nil
}

// LoadVaultKey loads the vault encryption key, preferring the
// CUSTODIA_VAULT_KEY environment variable over the given file path.
// The key must be exactly VaultKeyHexChars hex characters; the decoded
// 32 bytes land in a locked buffer and the hex source is zeroed.
func LoadVaultKey(path string) (*Buffer, error) {
	raw, err := loadRaw(VaultKeyEnv, path)
	if err != nil {
		return nil, fmt.Errorf("secret: loading vault key: %w", err)
	}
	defer raw.Close()

	if raw.Len() != VaultKeyHexChars {
		return nil, fmt.Errorf("secret: vault key is %d hex chars, need exactly %d", raw.Len(), VaultKeyHexChars)
	}

	key, err := New(VaultKeyBytes)
	if err != nil {
		return nil, err
	}
	if _, err := hex.Decode(key.Bytes(), raw.Bytes()); err != nil {
		key.Close()
		return nil, fmt.Errorf("secret: vault key is not valid hex: %w", err)
	}
	return key, nil
}

// loadRaw reads from the environment variable if set, otherwise from
// the file path.
func loadRaw(envName, path string) (*Buffer, error) {
	if value := os.Getenv(envName); value != "" {
		return NewFromBytes([]byte(value))
	}
	if path == "" {
		return nil, fmt.Errorf("%s unset and no file path configured", envName)
	}
	return ReadFromPath(path)
}
