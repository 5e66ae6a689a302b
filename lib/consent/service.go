// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

package consent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/custodia-foundation/custodia/lib/audit"
	"github.com/custodia-foundation/custodia/lib/canonical"
	"github.com/custodia-foundation/custodia/lib/clock"
	"github.com/custodia-foundation/custodia/lib/metrics"
	"github.com/custodia-foundation/custodia/lib/scope"
	"github.com/custodia-foundation/custodia/lib/signing"
)

// DefaultTokenTTL is the token lifetime applied when issuance does
// not specify one.
const DefaultTokenTTL = 7 * 24 * time.Hour

// Errors returned by Validate and related functions, in validation
// order.
var (
	ErrRevoked          = errors.New("consent: token revoked")
	ErrMalformed        = errors.New("consent: malformed token")
	ErrInvalidPrefix    = errors.New("consent: invalid token prefix")
	ErrInvalidSignature = errors.New("consent: invalid signature")
	ErrScopeMismatch    = errors.New("consent: scope mismatch")
	ErrExpired          = errors.New("consent: token expired")
)

// Config holds the parameters for creating a consent Service.
type Config struct {
	// Signer signs and verifies token payloads. Required.
	Signer *signing.Signer

	// Registry tracks revoked tokens. Defaults to a fresh in-memory
	// Registry.
	Registry RevocationStore

	// Clock provides the current time. Defaults to the real clock.
	Clock clock.Clock

	// TTL is the default token lifetime for Issue calls that pass
	// zero. Defaults to DefaultTokenTTL.
	TTL time.Duration

	// Logger receives operational messages. Defaults to a no-op
	// logger.
	Logger *slog.Logger

	// Audit receives token lifecycle events. Defaults to
	// audit.NopRecorder.
	Audit audit.Recorder

	// Metrics counts issues, denials, and revocations. Optional.
	Metrics *metrics.Metrics
}

// Service issues, validates, and revokes consent tokens. All methods
// are safe for concurrent use.
type Service struct {
	signer   *signing.Signer
	registry RevocationStore
	clock    clock.Clock
	ttl      time.Duration
	logger   *slog.Logger
	audit    audit.Recorder
	metrics  *metrics.Metrics
}

// NewService creates a consent Service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Signer == nil {
		return nil, fmt.Errorf("consent: Signer is required")
	}

	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	recorder := cfg.Audit
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}

	return &Service{
		signer:   cfg.Signer,
		registry: registry,
		clock:    clk,
		ttl:      ttl,
		logger:   logger,
		audit:    recorder,
		metrics:  cfg.Metrics,
	}, nil
}

// Issue mints a signed token granting agentID access to one scope of
// userID's data. A zero ttl uses the service default. A negative ttl
// is permitted and produces an already-expired token: expiry is the
// validator's concern, not the issuer's.
func (s *Service) Issue(ctx context.Context, userID, agentID string, sc scope.Scope, ttl time.Duration) (Token, error) {
	if userID == "" {
		return Token{}, fmt.Errorf("consent: user id is required")
	}
	if agentID == "" {
		return Token{}, fmt.Errorf("consent: agent id is required")
	}
	if ttl == 0 {
		ttl = s.ttl
	}

	now := s.clock.Now().UnixMilli()
	fields := canonical.TokenFields{
		UserID:    userID,
		AgentID:   agentID,
		Scope:     sc,
		IssuedAt:  now,
		ExpiresAt: now + ttl.Milliseconds(),
	}

	payload, err := canonical.TokenPayload(fields)
	if err != nil {
		return Token{}, fmt.Errorf("consent: issuing token: %w", err)
	}

	signature := s.signer.Sign(payload)
	wire := encodeWire(payload, signature)

	token := Token{
		Wire:      wire,
		UserID:    userID,
		AgentID:   agentID,
		Scope:     sc,
		IssuedAt:  fields.IssuedAt,
		ExpiresAt: fields.ExpiresAt,
		Signature: signature,
	}

	s.metrics.TokenIssued()
	s.record(ctx, audit.Event{
		Type:    audit.EventTokenIssued,
		UserID:  userID,
		AgentID: agentID,
		Scope:   sc,
		TokenFP: audit.Fingerprint(wire),
	})

	return token, nil
}

// Validate checks a wire string against every rule except scope.
// See the package documentation for the check order.
func (s *Service) Validate(ctx context.Context, wire string) (Token, error) {
	return s.validate(ctx, wire, "")
}

// ValidateForScope is Validate plus an exact scope equality check.
func (s *Service) ValidateForScope(ctx context.Context, wire string, expected scope.Scope) (Token, error) {
	return s.validate(ctx, wire, expected)
}

func (s *Service) validate(ctx context.Context, wire string, expected scope.Scope) (Token, error) {
	// 1. Revocation first: a revoked token stays revoked even when it
	// would also fail a later check.
	if s.registry.IsRevoked(wire) {
		s.deny(ctx, wire, nil, expected, ErrRevoked)
		return Token{}, ErrRevoked
	}

	// 2. Structural parse. The prefix is split here but judged in
	// step 3.
	parsed, err := parseWire(wire)
	if err != nil {
		s.deny(ctx, wire, nil, expected, err)
		return Token{}, err
	}
	token := parsed.token(wire)

	// 3. Prefix.
	if parsed.prefix != TokenPrefix {
		err := fmt.Errorf("%w: got %q", ErrInvalidPrefix, parsed.prefix)
		s.deny(ctx, wire, &token, expected, err)
		return Token{}, err
	}

	// 4. Signature (constant-time comparison inside).
	if !s.signer.Verify(parsed.payload, parsed.signature) {
		s.deny(ctx, wire, &token, expected, ErrInvalidSignature)
		return Token{}, ErrInvalidSignature
	}

	// 5. Scope, when the caller expects one. Exact equality only.
	if expected != "" && token.Scope != expected {
		err := fmt.Errorf("%w: token grants %q, expected %q", ErrScopeMismatch, token.Scope, expected)
		s.deny(ctx, wire, &token, expected, err)
		return Token{}, err
	}

	// 6. Expiry. A token is valid at its expiry instant.
	if s.clock.Now().UnixMilli() > token.ExpiresAt {
		s.deny(ctx, wire, &token, expected, ErrExpired)
		return Token{}, ErrExpired
	}

	return token, nil
}

// Decision is the agent-facing validation result.
type Decision struct {
	// Valid reports whether the token passed every check.
	Valid bool

	// Reason is the failure message when Valid is false, empty
	// otherwise.
	Reason string

	// Token is the decoded token when Valid is true, nil otherwise.
	Token *Token
}

// Decide validates a wire string and folds the outcome into a
// Decision instead of an error. An empty expected scope skips the
// scope check.
func (s *Service) Decide(ctx context.Context, wire string, expected scope.Scope) Decision {
	token, err := s.validate(ctx, wire, expected)
	if err != nil {
		return Decision{Reason: err.Error()}
	}
	return Decision{Valid: true, Token: &token}
}

// Revoke inserts the exact wire string into the registry. Idempotent:
// revoking an already-revoked token succeeds. The token's expiry is
// parsed best-effort so the registry can age the entry out once the
// token would be rejected as expired anyway; unparseable input is
// registered with unknown expiry.
func (s *Service) Revoke(ctx context.Context, wire string) error {
	var expiresAt int64
	if parsed, err := parseWire(wire); err == nil {
		expiresAt = parsed.fields.ExpiresAt
	}

	if err := s.registry.Revoke(ctx, wire, expiresAt); err != nil {
		return fmt.Errorf("consent: revoking token: %w", err)
	}

	s.metrics.Revocation()
	s.record(ctx, audit.Event{
		Type:    audit.EventTokenRevoked,
		TokenFP: audit.Fingerprint(wire),
	})
	return nil
}

// deny counts and audits a failed validation. The raw wire string is
// reduced to a fingerprint; the token's parsed fields are attributed
// when parsing got that far.
func (s *Service) deny(ctx context.Context, wire string, token *Token, expected scope.Scope, cause error) {
	reason := reasonFor(cause)
	s.metrics.ValidationFailure(reason)

	event := audit.Event{
		Type:    audit.EventTokenDenied,
		TokenFP: audit.Fingerprint(wire),
		Reason:  reason,
	}
	if token != nil {
		event.UserID = token.UserID
		event.AgentID = token.AgentID
		event.Scope = token.Scope
	}
	if expected != "" {
		event.Detail = map[string]string{"expected_scope": expected.String()}
	}
	s.record(ctx, event)
}

// record delivers an audit event. Audit failures are logged and
// swallowed: an audit outage must never block a consent decision.
func (s *Service) record(ctx context.Context, event audit.Event) {
	if event.At == 0 {
		event.At = s.clock.Now().UnixMilli()
	}
	if err := s.audit.Record(ctx, event); err != nil {
		s.logger.Error("audit record failed",
			"event", string(event.Type),
			"error", err,
		)
	}
}

// reasonFor maps a validation error to its stable metric and audit
// label.
func reasonFor(err error) string {
	switch {
	case errors.Is(err, ErrRevoked):
		return "revoked"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrInvalidPrefix):
		return "invalid_prefix"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrScopeMismatch):
		return "scope_mismatch"
	case errors.Is(err, ErrExpired):
		return "expired"
	default:
		return "error"
	}
}
