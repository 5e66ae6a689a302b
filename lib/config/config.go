// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Fallback durations used when a duration field is empty. Validate
// rejects malformed values, so these only apply to omitted fields.
const (
	defaultTokenTTL      = 7 * 24 * time.Hour
	defaultLinkTTL       = 30 * 24 * time.Hour
	defaultSweepInterval = 5 * time.Minute
)

// Config is the master configuration for Custodia.
type Config struct {
	// Environment identifies the deployment type (development,
	// staging, production).
	Environment Environment `yaml:"environment"`

	// Secrets configures where key material is read from.
	Secrets SecretsConfig `yaml:"secrets"`

	// Consent configures token issuance and the revocation registry.
	Consent ConsentConfig `yaml:"consent"`

	// Trust configures agent-to-agent trust links.
	Trust TrustConfig `yaml:"trust"`

	// Vault configures the encrypted record store.
	Vault VaultConfig `yaml:"vault"`

	// Audit configures the audit trail backend.
	Audit AuditConfig `yaml:"audit"`

	// Export configures consent-gated data export.
	Export ExportConfig `yaml:"export"`
}

// SecretsConfig configures key material locations. Both files hold
// hex-encoded 32-byte keys. The CUSTODIA_SIGNING_SECRET and
// CUSTODIA_VAULT_KEY environment variables take precedence over these
// paths (see lib/secret).
type SecretsConfig struct {
	// SigningSecretFile is the path to the HMAC signing secret used
	// for consent tokens and trust links.
	SigningSecretFile string `yaml:"signing_secret_file"`

	// VaultKeyFile is the path to the AES-256 vault encryption key.
	VaultKeyFile string `yaml:"vault_key_file"`
}

// ConsentConfig configures consent token issuance.
type ConsentConfig struct {
	// DefaultTokenTTL is the token lifetime applied when issuance does
	// not specify one. Go duration syntax. Default: 168h (7 days).
	DefaultTokenTTL string `yaml:"default_token_ttl"`

	// RegistryDB is the SQLite database path for the persisted
	// revocation registry. Empty means revocations are held in memory
	// only and are lost on restart.
	RegistryDB string `yaml:"registry_db"`
}

// TokenTTL returns the parsed default token lifetime. A validated
// config always parses; an empty or malformed value falls back to
// 168h.
func (c ConsentConfig) TokenTTL() time.Duration {
	d, err := time.ParseDuration(c.DefaultTokenTTL)
	if err != nil || d <= 0 {
		return defaultTokenTTL
	}
	return d
}

// TrustConfig configures agent-to-agent trust links.
type TrustConfig struct {
	// DefaultLinkTTL is the link lifetime applied when creation does
	// not specify one. Go duration syntax. Default: 720h (30 days).
	DefaultLinkTTL string `yaml:"default_link_ttl"`
}

// LinkTTL returns the parsed default link lifetime. A validated
// config always parses; an empty or malformed value falls back to
// 720h.
func (c TrustConfig) LinkTTL() time.Duration {
	d, err := time.ParseDuration(c.DefaultLinkTTL)
	if err != nil || d <= 0 {
		return defaultLinkTTL
	}
	return d
}

// VaultConfig configures the encrypted record store.
type VaultConfig struct {
	// DB is the SQLite database path for vault records. Empty means
	// records are held in memory only.
	DB string `yaml:"db"`

	// SweepInterval is how often the expiry sweeper runs. Go duration
	// syntax. Default: 5m.
	SweepInterval string `yaml:"sweep_interval"`
}

// Interval returns the parsed sweep interval. A validated config
// always parses; an empty or malformed value falls back to 5m.
func (c VaultConfig) Interval() time.Duration {
	d, err := time.ParseDuration(c.SweepInterval)
	if err != nil || d <= 0 {
		return defaultSweepInterval
	}
	return d
}

// AuditConfig configures the audit trail.
type AuditConfig struct {
	// Backend selects where audit events go: "log" (structured log
	// output), "sqlite" (persistent store, requires DB), or "none".
	Backend string `yaml:"backend"`

	// DB is the SQLite database path for the sqlite backend.
	DB string `yaml:"db"`
}

// ExportConfig configures consent-gated data export.
type ExportConfig struct {
	// Compression selects the bundle compression codec: "zstd" or
	// "lz4".
	Compression string `yaml:"compression"`

	// EscrowRecipients are age public keys. When non-empty, export
	// bundles are sealed to these recipients instead of the vault key.
	EscrowRecipients []string `yaml:"escrow_recipients"`
}

// Default returns the default configuration. These defaults are used
// as a base before loading the config file, so that all fields have
// sensible zero-values. The config file is still required for
// anything beyond local development.
func Default() *Config {
	return &Config{
		Environment: Development,
		Consent: ConsentConfig{
			DefaultTokenTTL: "168h",
		},
		Trust: TrustConfig{
			DefaultLinkTTL: "720h",
		},
		Vault: VaultConfig{
			SweepInterval: "5m",
		},
		Audit: AuditConfig{
			Backend: "log",
		},
		Export: ExportConfig{
			Compression: "zstd",
		},
	}
}

// LoadFromEnv loads configuration from the CUSTODIA_CONFIG environment
// variable.
//
// This is the only way to load configuration without an explicit path.
// There are no fallbacks or defaults - if CUSTODIA_CONFIG is not set,
// this fails. This ensures deterministic, auditable configuration with
// no hidden overrides.
func LoadFromEnv() (*Config, error) {
	configPath := os.Getenv("CUSTODIA_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("CUSTODIA_CONFIG environment variable not set; " +
			"set it to the path of your custodia.yaml config file, or use --config flag")
	}

	return Load(configPath)
}

// Load loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables
// do not override config values (the secret overrides in lib/secret
// are the documented exception). The only expansion performed is
// ${HOME} and similar path variables for portability.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	// Expand ${HOME} and similar variables in paths for portability.
	cfg.expandVariables()

	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in path
// fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Secrets.SigningSecretFile = expandVars(c.Secrets.SigningSecretFile, vars)
	c.Secrets.VaultKeyFile = expandVars(c.Secrets.VaultKeyFile, vars)
	c.Consent.RegistryDB = expandVars(c.Consent.RegistryDB, vars)
	c.Vault.DB = expandVars(c.Vault.DB, vars)
	c.Audit.DB = expandVars(c.Audit.DB, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors. All problems are
// reported together via errors.Join so a bad file is fixed in one
// pass.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if err := validateDuration("consent.default_token_ttl", c.Consent.DefaultTokenTTL); err != nil {
		errs = append(errs, err)
	}
	if err := validateDuration("trust.default_link_ttl", c.Trust.DefaultLinkTTL); err != nil {
		errs = append(errs, err)
	}
	if err := validateDuration("vault.sweep_interval", c.Vault.SweepInterval); err != nil {
		errs = append(errs, err)
	}

	switch c.Audit.Backend {
	case "log", "none":
	case "sqlite":
		if c.Audit.DB == "" {
			errs = append(errs, fmt.Errorf("audit.db is required when audit.backend is sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("audit.backend must be one of: log, sqlite, none (got %q)", c.Audit.Backend))
	}

	switch c.Export.Compression {
	case "zstd", "lz4":
	default:
		errs = append(errs, fmt.Errorf("export.compression must be one of: zstd, lz4 (got %q)", c.Export.Compression))
	}

	// Production deployments must name their key material explicitly.
	// Development and staging may rely on the environment variable
	// overrides in lib/secret.
	if c.Environment == Production {
		if c.Secrets.SigningSecretFile == "" {
			errs = append(errs, fmt.Errorf("secrets.signing_secret_file is required in production"))
		}
		if c.Secrets.VaultKeyFile == "" {
			errs = append(errs, fmt.Errorf("secrets.vault_key_file is required in production"))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// validateDuration checks that value is empty (fallback applies) or a
// positive Go duration.
func validateDuration(field, value string) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive (got %s)", field, value)
	}
	return nil
}
