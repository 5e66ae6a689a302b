// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

package export

import (
	"fmt"

	"filippo.io/age"

	"github.com/custodia-foundation/custodia/lib/secret"
)

// Keypair holds an age x25519 escrow keypair. The private key is stored
// in a secret.Buffer (mmap-backed, locked against swap, excluded from
// core dumps). The public key is a plain string, safe to publish and to
// list in the export.escrow_recipients config field.
//
// The caller must call Close when the keypair is no longer needed.
type Keypair struct {
	// PrivateKey is the secret key in AGE-SECRET-KEY-1... format,
	// stored in mmap memory outside the Go heap. Must never be logged
	// or included in CLI arguments. Whoever holds it can open every
	// bundle sealed to the matching public key.
	PrivateKey *secret.Buffer

	// PublicKey is the corresponding public key in age1... format.
	PublicKey string
}

// Close releases the private key memory (zeros, unlocks, unmaps).
// Idempotent — safe to call multiple times.
func (k *Keypair) Close() error {
	if k.PrivateKey != nil {
		return k.PrivateKey.Close()
	}
	return nil
}

// GenerateKeypair generates a new age x25519 keypair for export escrow.
// The public key goes into the recipient list; the private key stays
// with the user or operator who will open delivered bundles.
//
// The caller must call Close on the returned Keypair when done.
func GenerateKeypair() (*Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age keypair: %w", err)
	}

	// Move the private key string into mmap-backed memory immediately.
	privateKeyBytes := []byte(identity.String())
	privateKey, err := secret.NewFromBytes(privateKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("protecting private key: %w", err)
	}
	// privateKeyBytes is zeroed by NewFromBytes. The string returned by
	// identity.String() is on the heap and will be GC'd — unavoidable
	// since age returns a struct with string methods. The mmap buffer
	// is the durable copy.

	return &Keypair{
		PrivateKey: privateKey,
		PublicKey:  identity.Recipient().String(),
	}, nil
}
