// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/custodia-foundation/custodia/lib/aead"
	"github.com/custodia-foundation/custodia/lib/audit"
	"github.com/custodia-foundation/custodia/lib/config"
	"github.com/custodia-foundation/custodia/lib/consent"
	"github.com/custodia-foundation/custodia/lib/secret"
	"github.com/custodia-foundation/custodia/lib/signing"
	"github.com/custodia-foundation/custodia/lib/sqlitepool"
	"github.com/custodia-foundation/custodia/lib/vault"
)

// services is the wired stack a subcommand runs against: the consent
// service and record store built from one config file, plus everything
// that has to be closed again afterwards.
type services struct {
	cfg    *config.Config
	logger *slog.Logger
	tokens *consent.Service
	store  vault.Store

	closers []func() error
}

// openServices loads the config (from path, or CUSTODIA_CONFIG when
// path is empty) and wires the full stack: audit recorder, signing
// secret, revocation registry, consent service, vault cipher, and
// record store. The caller must Close the result.
func openServices(ctx context.Context, configPath string) (*services, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &services{
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
	}

	// Unwind partially opened resources when any later step fails.
	opened := false
	defer func() {
		if !opened {
			s.Close()
		}
	}()

	recorder, err := s.openAudit()
	if err != nil {
		return nil, err
	}

	s.tokens, err = s.openConsent(ctx, recorder)
	if err != nil {
		return nil, err
	}

	s.store, err = s.openStore(recorder)
	if err != nil {
		return nil, err
	}

	opened = true
	return s, nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.LoadFromEnv()
}

// openAudit builds the recorder named by audit.backend.
func (s *services) openAudit() (audit.Recorder, error) {
	switch s.cfg.Audit.Backend {
	case "log":
		// Audit events print at info level even though operational
		// logging stays at warn: the log backend was asked for.
		auditLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
		return audit.NewLogRecorder(auditLogger, nil), nil
	case "sqlite":
		recorder, err := audit.OpenStoreRecorder(audit.StoreConfig{
			Path:   s.cfg.Audit.DB,
			Logger: s.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("opening audit store: %w", err)
		}
		s.closers = append(s.closers, recorder.Close)
		return recorder, nil
	case "none":
		return audit.NopRecorder{}, nil
	default:
		return nil, fmt.Errorf("unknown audit backend %q", s.cfg.Audit.Backend)
	}
}

// openConsent loads the signing secret and revocation registry and
// wires them into a consent service.
func (s *services) openConsent(ctx context.Context, recorder audit.Recorder) (*consent.Service, error) {
	signingSecret, err := secret.LoadSigningSecret(s.cfg.Secrets.SigningSecretFile)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, signingSecret.Close)

	signer, err := signing.New(signingSecret)
	if err != nil {
		return nil, err
	}

	var registry consent.RevocationStore
	if s.cfg.Consent.RegistryDB == "" {
		registry = consent.NewRegistry()
	} else {
		pool, err := sqlitepool.Open(sqlitepool.Config{
			Path:     s.cfg.Consent.RegistryDB,
			PoolSize: 2,
			Logger:   s.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("opening revocation registry: %w", err)
		}
		s.closers = append(s.closers, pool.Close)

		registry, err = consent.OpenStoredRegistry(ctx, pool, s.logger)
		if err != nil {
			return nil, err
		}
	}

	return consent.NewService(consent.Config{
		Signer:   signer,
		Registry: registry,
		TTL:      s.cfg.Consent.TokenTTL(),
		Logger:   s.logger,
		Audit:    recorder,
	})
}

// openStore loads the vault key and opens the record store named by
// vault.db. An empty path means records live only for this process.
func (s *services) openStore(recorder audit.Recorder) (vault.Store, error) {
	vaultKey, err := secret.LoadVaultKey(s.cfg.Secrets.VaultKeyFile)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, vaultKey.Close)

	cipher, err := aead.New(vaultKey)
	if err != nil {
		return nil, err
	}

	if s.cfg.Vault.DB == "" {
		return vault.NewMemoryStore(vault.Config{
			Consent: s.tokens,
			Cipher:  cipher,
			Logger:  s.logger,
			Audit:   recorder,
		})
	}

	store, err := vault.OpenSQLiteStore(vault.SQLiteConfig{
		Path:    s.cfg.Vault.DB,
		Consent: s.tokens,
		Cipher:  cipher,
		Logger:  s.logger,
		Audit:   recorder,
	})
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, store.Close)
	return store, nil
}

// Close releases everything openServices acquired, in reverse order.
// The first error wins; later closers still run.
func (s *services) Close() error {
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}
