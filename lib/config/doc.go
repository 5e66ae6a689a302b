// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for Custodia
// components.
//
// Configuration is loaded from a single file specified by either the
// CUSTODIA_CONFIG environment variable (via [LoadFromEnv]) or a
// --config flag (via [Load]). There are no fallbacks, no ~/.config
// discovery, and no automatic file search. This ensures deterministic,
// auditable configuration with no hidden overrides.
//
// Secret material is the one exception: the CUSTODIA_SIGNING_SECRET
// and CUSTODIA_VAULT_KEY environment variables override the configured
// secret files, so that deployments can inject keys without writing
// them to disk. That override lives in lib/secret, not here; this
// package only carries the file paths.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${CUSTODIA_ROOT}, and ${VAR:-default} patterns are
// expanded. No other environment variables override config values.
//
// Key exports:
//
//   - [Config] -- master struct with Secrets, Consent, Trust, Vault,
//     Audit, Export
//   - [Default] -- returns a Config with development defaults
//   - [Load] and [LoadFromEnv] -- the two entry points for loading
//
// This package depends on no other Custodia packages.
package config
