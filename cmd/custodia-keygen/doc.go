// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

// Custodia-keygen generates the secrets a Custodia deployment needs:
// the HMAC signing secret behind consent tokens and trust links, the
// vault encryption key, and age keypairs for export escrow. Keys print
// to stdout as hex; private key material that must not land in shell
// history or logs prints to stderr.
// Subcommands: signing, vault, escrow, version.
package main
