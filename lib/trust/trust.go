// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

// Package trust creates and verifies agent-to-agent trust links.
//
// A link is a user-signed delegation: SignedByUser vouches that
// FromAgent may pass data to ToAgent under a single scope until the
// link expires. All six fields sit under the signature, so swapping
// the endpoints or reassigning the signing user invalidates it.
//
// Links have no revocation list; lifetime is TTL-only. Unlike consent
// tokens, a link is already invalid at its expiry instant.
package trust

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/custodia-foundation/custodia/lib/audit"
	"github.com/custodia-foundation/custodia/lib/canonical"
	"github.com/custodia-foundation/custodia/lib/clock"
	"github.com/custodia-foundation/custodia/lib/scope"
	"github.com/custodia-foundation/custodia/lib/signing"
)

// DefaultLinkTTL is the link lifetime applied when creation does not
// specify one.
const DefaultLinkTTL = 30 * 24 * time.Hour

// Link is a signed delegation between two agents.
type Link struct {
	FromAgent    string
	ToAgent      string
	Scope        scope.Scope
	CreatedAt    int64 // epoch milliseconds
	ExpiresAt    int64 // epoch milliseconds
	SignedByUser string
	Signature    string
}

// Config holds the parameters for creating a trust Service.
type Config struct {
	// Signer signs and verifies link payloads. Required.
	Signer *signing.Signer

	// Clock provides the current time. Defaults to the real clock.
	Clock clock.Clock

	// TTL is the default link lifetime for Create calls that pass
	// zero. Defaults to DefaultLinkTTL.
	TTL time.Duration

	// Logger receives operational messages. Defaults to a no-op
	// logger.
	Logger *slog.Logger

	// Audit receives link lifecycle events. Defaults to
	// audit.NopRecorder.
	Audit audit.Recorder
}

// Service creates and verifies trust links. All methods are safe for
// concurrent use.
type Service struct {
	signer *signing.Signer
	clock  clock.Clock
	ttl    time.Duration
	logger *slog.Logger
	audit  audit.Recorder
}

// NewService creates a trust Service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Signer == nil {
		return nil, fmt.Errorf("trust: Signer is required")
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultLinkTTL
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
		signer: cfg.Signer,
		clock:  clk,
		ttl:    ttl,
		logger: logger,
		audit:  recorder,
	}, nil
}

// Create signs a link from one agent to another on behalf of a user.
// A zero ttl uses the service default; a negative ttl is permitted and
// produces an already-expired link. Field values containing the
// canonical delimiter are rejected.
func (s *Service) Create(ctx context.Context, from, to string, sc scope.Scope, signedBy string, ttl time.Duration) (Link, error) {
	if from == "" || to == "" {
		return Link{}, fmt.Errorf("trust: both agent ids are required")
	}
	if signedBy == "" {
		return Link{}, fmt.Errorf("trust: signing user id is required")
	}
	if ttl == 0 {
		ttl = s.ttl
	}

	now := s.clock.Now().UnixMilli()
	fields := canonical.LinkFields{
		FromAgent: from,
		ToAgent:   to,
		Scope:     sc,
		CreatedAt: now,
		ExpiresAt: now + ttl.Milliseconds(),
		SignedBy:  signedBy,
	}

	payload, err := canonical.LinkPayload(fields)
	if err != nil {
		return Link{}, fmt.Errorf("trust: creating link: %w", err)
	}

	link := Link{
		FromAgent:    from,
		ToAgent:      to,
		Scope:        sc,
		CreatedAt:    fields.CreatedAt,
		ExpiresAt:    fields.ExpiresAt,
		SignedByUser: signedBy,
		Signature:    s.signer.Sign(payload),
	}

	if err := s.audit.Record(ctx, audit.Event{
		Type:    audit.EventLinkCreated,
		At:      now,
		UserID:  signedBy,
		AgentID: from,
		Scope:   sc,
		Detail:  map[string]string{"to_agent": to},
	}); err != nil {
		s.logger.Error("audit record failed",
			"event", string(audit.EventLinkCreated),
			"error", err,
		)
	}

	return link, nil
}

// Verify reports whether the link is unexpired and carries a valid
// signature over its six canonical fields. Expiry is strict: a link
// is invalid at its expiry instant.
func (s *Service) Verify(link Link) bool {
	if s.clock.Now().UnixMilli() >= link.ExpiresAt {
		return false
	}

	payload, err := canonical.LinkPayload(canonical.LinkFields{
		FromAgent: link.FromAgent,
		ToAgent:   link.ToAgent,
		Scope:     link.Scope,
		CreatedAt: link.CreatedAt,
		ExpiresAt: link.ExpiresAt,
		SignedBy:  link.SignedByUser,
	})
	if err != nil {
		return false
	}

	return s.signer.Verify(payload, link.Signature)
}

// TrustedForScope reports whether the link verifies and grants exactly
// the required scope. There is no scope hierarchy.
func (s *Service) TrustedForScope(link Link, required scope.Scope) bool {
	return s.Verify(link) && link.Scope == required
}
