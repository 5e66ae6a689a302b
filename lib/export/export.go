// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

// Package export builds portability bundles from vault records. A
// bundle is deterministic CBOR behind a one-byte compression tag, so
// two exports of the same records are byte-identical. Bundles carry
// decrypted record plaintext: they exist to leave the system, and the
// Seal variants are how they do so safely — Seal for at-rest storage
// under the vault key, SealToRecipients for handing a user their data
// encrypted to keys only they hold.
package export

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"filippo.io/age"

	"github.com/custodia-foundation/custodia/lib/aead"
	"github.com/custodia-foundation/custodia/lib/codec"
	"github.com/custodia-foundation/custodia/lib/vault"
)

// BundleVersion is written into every bundle and checked on decode.
const BundleVersion = "1"

// ErrMalformedBundle reports data that is not a decodable bundle.
var ErrMalformedBundle = errors.New("export: malformed bundle")

// Bundle is one user's exported records.
type Bundle struct {
	Version   string               `json:"version"`
	UserID    string               `json:"user_id"`
	CreatedAt int64                `json:"created_at"` // epoch milliseconds
	Records   []vault.ExportRecord `json:"records"`
}

// New builds a bundle at the current version.
func New(userID string, nowMs int64, records []vault.ExportRecord) Bundle {
	return Bundle{
		Version:   BundleVersion,
		UserID:    userID,
		CreatedAt: nowMs,
		Records:   records,
	}
}

// Encode serializes and compresses the bundle with zstd, storing it
// uncompressed when compression does not help.
func Encode(b Bundle) ([]byte, error) {
	return EncodeWith(b, CompressionZstd)
}

// EncodeWith serializes the bundle with an explicit compression
// choice. The first byte of the result is the compression tag.
func EncodeWith(b Bundle, comp Compression) ([]byte, error) {
	raw, err := codec.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("export: encoding bundle: %w", err)
	}

	compressed, err := compress(raw, comp)
	if errors.Is(err, errIncompressible) {
		comp = CompressionNone
		compressed = raw
	} else if err != nil {
		return nil, err
	}

	out := make([]byte, 1+len(compressed))
	out[0] = byte(comp)
	copy(out[1:], compressed)
	return out, nil
}

// Decode is the inverse of Encode, dispatching on the leading
// compression tag.
func Decode(data []byte) (Bundle, error) {
	if len(data) < 2 {
		return Bundle{}, ErrMalformedBundle
	}

	raw, err := decompress(data[1:], Compression(data[0]))
	if err != nil {
		return Bundle{}, err
	}

	var b Bundle
	if err := codec.Unmarshal(raw, &b); err != nil {
		return Bundle{}, fmt.Errorf("%w: %v", ErrMalformedBundle, err)
	}
	if b.Version != BundleVersion {
		return Bundle{}, fmt.Errorf("export: unsupported bundle version %q", b.Version)
	}
	return b, nil
}

// Seal encodes the bundle and encrypts it under the vault key, for
// exports that stay within the system at rest.
func Seal(b Bundle, cipher *aead.Cipher) (aead.Payload, error) {
	encoded, err := Encode(b)
	if err != nil {
		return aead.Payload{}, err
	}
	payload, err := cipher.Encrypt(encoded)
	if err != nil {
		return aead.Payload{}, fmt.Errorf("export: sealing bundle: %w", err)
	}
	return payload, nil
}

// Open decrypts and decodes a bundle sealed with Seal.
func Open(p aead.Payload, cipher *aead.Cipher) (Bundle, error) {
	encoded, err := cipher.Decrypt(p)
	if err != nil {
		return Bundle{}, fmt.Errorf("export: opening bundle: %w", err)
	}
	return Decode(encoded)
}

// ParseRecipients parses age public key strings (age1... format) into
// recipients for SealToRecipients. Config files and CLI flags carry
// recipients as strings; this is the one place they become typed.
func ParseRecipients(keys []string) ([]age.Recipient, error) {
	recipients := make([]age.Recipient, 0, len(keys))
	for _, key := range keys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("export: parsing recipient key %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}
	return recipients, nil
}

// SealToRecipients encodes the bundle and encrypts it to the given
// age recipients, returning base64 text safe to hand over any
// channel. This is the delivery format: the system keeps no key that
// can open it.
func SealToRecipients(b Bundle, recipients []age.Recipient) (string, error) {
	if len(recipients) == 0 {
		return "", fmt.Errorf("export: at least one recipient is required")
	}

	encoded, err := Encode(b)
	if err != nil {
		return "", err
	}

	var sealed bytes.Buffer
	writer, err := age.Encrypt(&sealed, recipients...)
	if err != nil {
		return "", fmt.Errorf("export: creating age encryptor: %w", err)
	}
	if _, err := writer.Write(encoded); err != nil {
		return "", fmt.Errorf("export: writing bundle: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("export: finalizing encryption: %w", err)
	}

	return base64.StdEncoding.EncodeToString(sealed.Bytes()), nil
}

// OpenWithIdentity decrypts and decodes a bundle sealed with
// SealToRecipients.
func OpenWithIdentity(sealed string, identity age.Identity) (Bundle, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return Bundle{}, fmt.Errorf("%w: %v", ErrMalformedBundle, err)
	}

	reader, err := age.Decrypt(bytes.NewReader(raw), identity)
	if err != nil {
		return Bundle{}, fmt.Errorf("export: opening sealed bundle: %w", err)
	}
	encoded, err := io.ReadAll(reader)
	if err != nil {
		return Bundle{}, fmt.Errorf("export: reading sealed bundle: %w", err)
	}
	return Decode(encoded)
}
