// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

// Package aead provides the authenticated encryption used for vault
// records and export bundles.
//
// Ciphertext travels as a [Payload]: ciphertext, IV, and
// authentication tag as separately encoded string fields, plus the
// encoding and algorithm names. Carrying the tag apart from the
// ciphertext keeps the stored form self-describing and lets tampering
// with any single field be reported as an authentication failure
// rather than a parse error.
//
// Decryption distinguishes two failure classes and never conflates
// them: [ErrMalformedPayload] for structural problems (unknown
// algorithm or encoding, undecodable fields, wrong IV or tag size)
// and [ErrInvalidTag] for authentication failure (wrong key or
// tampered data).
package aead

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/custodia-foundation/custodia/lib/secret"
)

const (
	// KeySize is the key length in bytes for both supported
	// algorithms.
	KeySize = 32

	// IVSize is the nonce length in bytes. Both AES-256-GCM and the
	// 12-byte-nonce ChaCha20-Poly1305 variant use it.
	IVSize = 12

	// TagSize is the authentication tag length in bytes.
	TagSize = 16
)

// Supported values for Payload.Algorithm.
const (
	AlgorithmAESGCM           = "aes-256-gcm"
	AlgorithmChaCha20Poly1305 = "chacha20-poly1305"
)

// Supported values for Payload.Encoding. Encryption always emits
// base64; decryption accepts both.
const (
	EncodingBase64 = "base64"
	EncodingHex    = "hex"
)

var (
	// ErrInvalidKeySize is returned by New when the key is not
	// exactly KeySize bytes.
	ErrInvalidKeySize = errors.New("aead: key must be 32 bytes")

	// ErrMalformedPayload is returned by Decrypt when the payload is
	// structurally invalid: unknown algorithm or encoding, fields
	// that do not decode, or an IV or tag of the wrong length.
	ErrMalformedPayload = errors.New("aead: malformed payload")

	// ErrInvalidTag is returned by Decrypt when authentication fails:
	// wrong key, or any field tampered with after encryption.
	ErrInvalidTag = errors.New("aead: authentication failed")
)

// Payload is the stored form of an encrypted value. All binary fields
// are encoded per Encoding. The json tags serve both JSON and CBOR
// serialization (see lib/codec).
type Payload struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	Tag        string `json:"tag"`
	Encoding   string `json:"encoding"`
	Algorithm  string `json:"algorithm"`
}

// Cipher encrypts and decrypts payloads under a single 32-byte key.
// It borrows the key buffer for its lifetime and never closes it; the
// owner of the key decides when the material is destroyed.
//
// Cipher is safe for concurrent use: every call constructs a fresh
// AEAD state from the (immutable) key.
type Cipher struct {
	key *secret.Buffer
}

// New returns a Cipher over the given key. The key must be exactly
// KeySize bytes.
func New(key *secret.Buffer) (*Cipher, error) {
	if key == nil {
		return nil, fmt.Errorf("aead: nil key")
	}
	if key.Len() != KeySize {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidKeySize, key.Len())
	}
	return &Cipher{key: key}, nil
}

// Encrypt encrypts plaintext with AES-256-GCM under a fresh random
// 12-byte IV. Empty plaintext is legal; the payload then carries only
// the authentication tag.
func (c *Cipher) Encrypt(plaintext []byte) (Payload, error) {
	block, err := aes.NewCipher(c.key.Bytes())
	if err != nil {
		return Payload{}, fmt.Errorf("aead: creating AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return Payload{}, fmt.Errorf("aead: creating GCM mode: %w", err)
	}
	return seal(gcm, AlgorithmAESGCM, plaintext)
}

// EncryptChaCha encrypts plaintext with ChaCha20-Poly1305 (12-byte
// nonce variant). The payload shape is identical to Encrypt's; only
// the Algorithm field differs.
func (c *Cipher) EncryptChaCha(plaintext []byte) (Payload, error) {
	aead, err := chacha20poly1305.New(c.key.Bytes())
	if err != nil {
		return Payload{}, fmt.Errorf("aead: creating ChaCha20-Poly1305 cipher: %w", err)
	}
	return seal(aead, AlgorithmChaCha20Poly1305, plaintext)
}

// Decrypt authenticates and decrypts a payload produced by Encrypt or
// EncryptChaCha. Structural problems return ErrMalformedPayload;
// authentication failure returns ErrInvalidTag.
func (c *Cipher) Decrypt(p Payload) ([]byte, error) {
	ciphertext, err := decodeField("ciphertext", p.Encoding, p.Ciphertext)
	if err != nil {
		return nil, err
	}
	iv, err := decodeField("iv", p.Encoding, p.IV)
	if err != nil {
		return nil, err
	}
	tag, err := decodeField("tag", p.Encoding, p.Tag)
	if err != nil {
		return nil, err
	}

	if len(iv) != IVSize {
		return nil, fmt.Errorf("%w: iv is %d bytes, want %d", ErrMalformedPayload, len(iv), IVSize)
	}
	if len(tag) != TagSize {
		return nil, fmt.Errorf("%w: tag is %d bytes, want %d", ErrMalformedPayload, len(tag), TagSize)
	}

	var aead cipher.AEAD
	switch p.Algorithm {
	case AlgorithmAESGCM:
		block, err := aes.NewCipher(c.key.Bytes())
		if err != nil {
			return nil, fmt.Errorf("aead: creating AES cipher: %w", err)
		}
		aead, err = cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("aead: creating GCM mode: %w", err)
		}
	case AlgorithmChaCha20Poly1305:
		aead, err = chacha20poly1305.New(c.key.Bytes())
		if err != nil {
			return nil, fmt.Errorf("aead: creating ChaCha20-Poly1305 cipher: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: unknown algorithm %q", ErrMalformedPayload, p.Algorithm)
	}

	// Open expects ciphertext||tag; the payload carries them apart.
	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTag, p.Algorithm)
	}
	return plaintext, nil
}

// seal encrypts plaintext under a fresh random IV and splits the AEAD
// output into separate ciphertext and tag fields.
func seal(aead cipher.AEAD, algorithm string, plaintext []byte) (Payload, error) {
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return Payload{}, fmt.Errorf("aead: generating random IV: %w", err)
	}

	sealed := aead.Seal(nil, iv, plaintext, nil)
	boundary := len(sealed) - TagSize

	return Payload{
		Ciphertext: base64.StdEncoding.EncodeToString(sealed[:boundary]),
		IV:         base64.StdEncoding.EncodeToString(iv),
		Tag:        base64.StdEncoding.EncodeToString(sealed[boundary:]),
		Encoding:   EncodingBase64,
		Algorithm:  algorithm,
	}, nil
}

// decodeField decodes one payload field per the payload's declared
// encoding.
func decodeField(name, encoding, value string) ([]byte, error) {
	switch encoding {
	case EncodingBase64:
		data, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s is not valid base64", ErrMalformedPayload, name)
		}
		return data, nil
	case EncodingHex:
		data, err := hex.DecodeString(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s is not valid hex", ErrMalformedPayload, name)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: unknown encoding %q", ErrMalformedPayload, encoding)
	}
}
