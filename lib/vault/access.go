// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/custodia-foundation/custodia/lib/aead"
	"github.com/custodia-foundation/custodia/lib/audit"
	"github.com/custodia-foundation/custodia/lib/clock"
	"github.com/custodia-foundation/custodia/lib/consent"
	"github.com/custodia-foundation/custodia/lib/metrics"
	"github.com/custodia-foundation/custodia/lib/scope"
)

// Config holds the collaborators a store backend needs.
type Config struct {
	// Consent validates the tokens presented with every operation.
	// Required.
	Consent *consent.Service

	// Cipher seals and opens record payloads. Required.
	Cipher *aead.Cipher

	// Clock provides the current time. Defaults to the real clock.
	Clock clock.Clock

	// Logger receives operational messages. Defaults to a no-op
	// logger.
	Logger *slog.Logger

	// Audit receives record lifecycle events. Defaults to
	// audit.NopRecorder.
	Audit audit.Recorder

	// Metrics counts operations and outcomes. Optional.
	Metrics *metrics.Metrics
}

// access bundles the collaborators shared by every backend and owns
// the authorization rules, so the two backends cannot drift apart.
type access struct {
	consent *consent.Service
	cipher  *aead.Cipher
	clock   clock.Clock
	logger  *slog.Logger
	audit   audit.Recorder
	metrics *metrics.Metrics
}

func newAccess(cfg Config) (access, error) {
	if cfg.Consent == nil {
		return access{}, fmt.Errorf("vault: Consent is required")
	}
	if cfg.Cipher == nil {
		return access{}, fmt.Errorf("vault: Cipher is required")
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	recorder := cfg.Audit
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}

	return access{
		consent: cfg.Consent,
		cipher:  cfg.Cipher,
		clock:   clk,
		logger:  logger,
		audit:   recorder,
		metrics: cfg.Metrics,
	}, nil
}

func (a access) now() int64 {
	return a.clock.Now().UnixMilli()
}

// writeToken authorizes a mutating operation on key: the token must
// validate for the category's write scope and belong to the key's
// user.
func (a access) writeToken(ctx context.Context, key Key, wire string) (consent.Token, error) {
	writeScope, ok := scope.ReadToWrite(key.Scope)
	if !ok {
		return consent.Token{}, fmt.Errorf("%w: %q", ErrNotStorable, key.Scope)
	}
	token, err := a.consent.ValidateForScope(ctx, wire, writeScope)
	if err != nil {
		return consent.Token{}, err
	}
	return token, a.matchUser(ctx, token, key.UserID, key.Scope)
}

// readToken authorizes a read of key: the token must validate for the
// key's scope itself and belong to the key's user.
func (a access) readToken(ctx context.Context, key Key, wire string) (consent.Token, error) {
	if !scope.Storable(key.Scope) {
		return consent.Token{}, fmt.Errorf("%w: %q", ErrNotStorable, key.Scope)
	}
	token, err := a.consent.ValidateForScope(ctx, wire, key.Scope)
	if err != nil {
		return consent.Token{}, err
	}
	return token, a.matchUser(ctx, token, key.UserID, key.Scope)
}

// ownerToken authorizes a cross-category operation (list, export): the
// token must carry the session read scope and belong to the user.
func (a access) ownerToken(ctx context.Context, userID, wire string) (consent.Token, error) {
	token, err := a.consent.ValidateForScope(ctx, wire, scope.SessionRead)
	if err != nil {
		return consent.Token{}, err
	}
	return token, a.matchUser(ctx, token, userID, scope.SessionRead)
}

// matchUser enforces that the token's subject owns the touched data.
// A mismatch is an authorization denial and is audited like one.
func (a access) matchUser(ctx context.Context, token consent.Token, userID string, sc scope.Scope) error {
	if token.UserID == userID {
		return nil
	}
	a.record(ctx, audit.Event{
		Type:    audit.EventTokenDenied,
		UserID:  userID,
		AgentID: token.AgentID,
		Scope:   sc,
		TokenFP: audit.Fingerprint(token.Wire),
		Reason:  "user_mismatch",
	})
	return fmt.Errorf("%w: token is for %q", ErrUserMismatch, token.UserID)
}

// noteTamper audits and counts an authentication failure on a stored
// payload.
func (a access) noteTamper(ctx context.Context, key Key, tokenFP string) {
	a.metrics.Tamper()
	a.record(ctx, audit.Event{
		Type:    audit.EventVaultTamper,
		UserID:  key.UserID,
		Scope:   key.Scope,
		TokenFP: tokenFP,
		Reason:  "invalid_tag",
	})
}

// record delivers an audit event. Audit failures are logged and
// swallowed: an audit outage must never block a vault operation.
func (a access) record(ctx context.Context, event audit.Event) {
	if event.At == 0 {
		event.At = a.now()
	}
	if err := a.audit.Record(ctx, event); err != nil {
		a.logger.Error("audit record failed",
			"event", string(event.Type),
			"error", err,
		)
	}
}

// fail counts a failed operation and passes the error through.
func (a access) fail(op string, err error) error {
	a.metrics.VaultOp(op, outcomeFor(err))
	return err
}

// ok counts a successful operation.
func (a access) ok(op string) {
	a.metrics.VaultOp(op, metrics.OutcomeOK)
}

// outcomeFor classifies an operation error for the outcome metric
// label: authorization failures are denied, everything else is error.
func outcomeFor(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, consent.ErrRevoked),
		errors.Is(err, consent.ErrMalformed),
		errors.Is(err, consent.ErrInvalidPrefix),
		errors.Is(err, consent.ErrInvalidSignature),
		errors.Is(err, consent.ErrScopeMismatch),
		errors.Is(err, consent.ErrExpired),
		errors.Is(err, ErrUserMismatch),
		errors.Is(err, ErrNotStorable):
		return metrics.OutcomeDenied
	default:
		return metrics.OutcomeError
	}
}
