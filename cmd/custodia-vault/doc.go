// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

// Custodia-vault is the operator CLI for a Custodia deployment. It
// wires the consent service and record store described by a config
// file (--config or CUSTODIA_CONFIG) and runs one operation against
// them: record subcommands move plaintext between stdin/stdout and
// encrypted records, token subcommands issue, revoke, and inspect
// consent tokens. Every record operation presents a consent token
// (--token or CUSTODIA_TOKEN) and is audited like any other caller.
// Subcommands: store, retrieve, delete, purge, list, export, sweep,
// token issue, token revoke, token inspect, version.
package main
