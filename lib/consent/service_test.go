// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

package consent

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/custodia-foundation/custodia/lib/audit"
	"github.com/custodia-foundation/custodia/lib/clock"
	"github.com/custodia-foundation/custodia/lib/metrics"
	"github.com/custodia-foundation/custodia/lib/scope"
	"github.com/custodia-foundation/custodia/lib/secret"
	"github.com/custodia-foundation/custodia/lib/signing"
)

const issuedMs = 1700000000000

func testSigner(t *testing.T, fill byte) *signing.Signer {
	t.Helper()
	buffer, err := secret.NewFromBytes(bytes.Repeat([]byte{fill}, 32))
	if err != nil {
		t.Fatalf("creating secret: %v", err)
	}
	t.Cleanup(func() { buffer.Close() })
	signer, err := signing.New(buffer)
	if err != nil {
		t.Fatalf("signing.New: %v", err)
	}
	return signer
}

type captureRecorder struct {
	events []audit.Event
}

func (c *captureRecorder) Record(ctx context.Context, event audit.Event) error {
	c.events = append(c.events, event)
	return nil
}

func (c *captureRecorder) last(t *testing.T) audit.Event {
	t.Helper()
	if len(c.events) == 0 {
		t.Fatal("no audit events recorded")
	}
	return c.events[len(c.events)-1]
}

func testService(t *testing.T) (*Service, *clock.FakeClock, *captureRecorder) {
	t.Helper()
	clk := clock.Fake(time.UnixMilli(issuedMs))
	capture := &captureRecorder{}
	service, err := NewService(Config{
		Signer:  testSigner(t, 0x42),
		Clock:   clk,
		Audit:   capture,
		Metrics: metrics.Nop(),
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return service, clk, capture
}

func TestNewServiceRequiresSigner(t *testing.T) {
	if _, err := NewService(Config{}); err == nil {
		t.Error("NewService without signer: expected error")
	}
}

func TestIssueAndValidate(t *testing.T) {
	service, _, _ := testService(t)
	ctx := context.Background()

	token, err := service.Issue(ctx, "user_alice", "agent_data_manager", scope.ReadEmail, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if token.UserID != "user_alice" {
		t.Errorf("UserID = %q, want user_alice", token.UserID)
	}
	if token.AgentID != "agent_data_manager" {
		t.Errorf("AgentID = %q, want agent_data_manager", token.AgentID)
	}
	if token.Scope != scope.ReadEmail {
		t.Errorf("Scope = %q, want %q", token.Scope, scope.ReadEmail)
	}
	if token.IssuedAt != issuedMs {
		t.Errorf("IssuedAt = %d, want %d", token.IssuedAt, issuedMs)
	}
	if token.ExpiresAt != issuedMs+time.Hour.Milliseconds() {
		t.Errorf("ExpiresAt = %d, want %d", token.ExpiresAt, issuedMs+time.Hour.Milliseconds())
	}

	validated, err := service.Validate(ctx, token.Wire)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if validated != token {
		t.Errorf("Validate = %+v, want %+v", validated, token)
	}

	if _, err := service.ValidateForScope(ctx, token.Wire, scope.ReadEmail); err != nil {
		t.Errorf("ValidateForScope matching scope: %v", err)
	}
}

func TestIssueWireShape(t *testing.T) {
	service, _, _ := testService(t)

	token, err := service.Issue(context.Background(), "user_alice", "agent_data_manager", scope.ReadEmail, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	parsed, err := parseWire(token.Wire)
	if err != nil {
		t.Fatalf("parseWire: %v", err)
	}
	if parsed.prefix != TokenPrefix {
		t.Errorf("prefix = %q, want %q", parsed.prefix, TokenPrefix)
	}
	if string(parsed.payload) != goldenPayload {
		t.Errorf("payload = %q, want %q", parsed.payload, goldenPayload)
	}
	if len(parsed.signature) != signing.DigestHexChars {
		t.Errorf("signature length = %d, want %d", len(parsed.signature), signing.DigestHexChars)
	}
	for _, c := range parsed.signature {
		if !strings.ContainsRune("0123456789abcdef", c) {
			t.Errorf("signature contains non-hex character %q", c)
			break
		}
	}
}

func TestIssueRejectsEmptyIDs(t *testing.T) {
	service, _, _ := testService(t)
	ctx := context.Background()

	if _, err := service.Issue(ctx, "", "agent", scope.ReadEmail, time.Hour); err == nil {
		t.Error("Issue with empty user id: expected error")
	}
	if _, err := service.Issue(ctx, "user", "", scope.ReadEmail, time.Hour); err == nil {
		t.Error("Issue with empty agent id: expected error")
	}
}

func TestIssueTTLDefaults(t *testing.T) {
	service, _, _ := testService(t)

	token, err := service.Issue(context.Background(), "user", "agent", scope.ReadEmail, 0)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if got := token.ExpiresAt - token.IssuedAt; got != DefaultTokenTTL.Milliseconds() {
		t.Errorf("default lifetime = %dms, want %dms", got, DefaultTokenTTL.Milliseconds())
	}

	short, err := NewService(Config{Signer: testSigner(t, 0x42), TTL: time.Minute})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	token, err = short.Issue(context.Background(), "user", "agent", scope.ReadEmail, 0)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if got := token.ExpiresAt - token.IssuedAt; got != time.Minute.Milliseconds() {
		t.Errorf("configured lifetime = %dms, want %dms", got, time.Minute.Milliseconds())
	}
}

// A negative TTL mints an already-expired token. Issuance does not
// police expiry; validation does.
func TestIssueNegativeTTL(t *testing.T) {
	service, _, _ := testService(t)
	ctx := context.Background()

	token, err := service.Issue(ctx, "user", "agent", scope.ReadEmail, -time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if token.ExpiresAt >= token.IssuedAt {
		t.Errorf("ExpiresAt = %d, want before IssuedAt %d", token.ExpiresAt, token.IssuedAt)
	}

	if _, err := service.Validate(ctx, token.Wire); !errors.Is(err, ErrExpired) {
		t.Errorf("Validate: got %v, want ErrExpired", err)
	}
}

// A token is valid at its expiry instant and invalid one millisecond
// later.
func TestValidateExpiryBoundary(t *testing.T) {
	service, clk, _ := testService(t)
	ctx := context.Background()

	token, err := service.Issue(ctx, "user", "agent", scope.ReadEmail, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	clk.Advance(time.Hour)
	if _, err := service.Validate(ctx, token.Wire); err != nil {
		t.Errorf("Validate at expiry instant: %v", err)
	}

	clk.Advance(time.Millisecond)
	if _, err := service.Validate(ctx, token.Wire); !errors.Is(err, ErrExpired) {
		t.Errorf("Validate past expiry: got %v, want ErrExpired", err)
	}
}

func TestValidateRevoked(t *testing.T) {
	service, _, _ := testService(t)
	ctx := context.Background()

	token, err := service.Issue(ctx, "user", "agent", scope.ReadEmail, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := service.Revoke(ctx, token.Wire); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	if _, err := service.Validate(ctx, token.Wire); !errors.Is(err, ErrRevoked) {
		t.Errorf("Validate revoked token: got %v, want ErrRevoked", err)
	}
}

func TestValidateMalformed(t *testing.T) {
	service, _, _ := testService(t)

	if _, err := service.Validate(context.Background(), "garbage"); !errors.Is(err, ErrMalformed) {
		t.Errorf("Validate garbage: got %v, want ErrMalformed", err)
	}
}

func TestValidateWrongPrefix(t *testing.T) {
	service, _, _ := testService(t)
	ctx := context.Background()

	token, err := service.Issue(ctx, "user", "agent", scope.ReadEmail, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	wrong := "ABC" + strings.TrimPrefix(token.Wire, TokenPrefix)
	if _, err := service.Validate(ctx, wrong); !errors.Is(err, ErrInvalidPrefix) {
		t.Errorf("Validate wrong prefix: got %v, want ErrInvalidPrefix", err)
	}
}

func TestValidateTamperedSignature(t *testing.T) {
	service, _, _ := testService(t)
	ctx := context.Background()

	token, err := service.Issue(ctx, "user", "agent", scope.ReadEmail, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	tampered := flipLastChar(token.Wire)
	if _, err := service.Validate(ctx, tampered); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("Validate tampered signature: got %v, want ErrInvalidSignature", err)
	}
}

// Splicing one token's signature onto another's payload must fail:
// the signature binds the exact payload bytes.
func TestValidateSplicedPayload(t *testing.T) {
	service, _, _ := testService(t)
	ctx := context.Background()

	alice, err := service.Issue(ctx, "user_alice", "agent", scope.ReadEmail, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	bob, err := service.Issue(ctx, "user_bob", "agent", scope.ReadEmail, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	bobPayload := bob.Wire[:strings.LastIndex(bob.Wire, ".")]
	aliceSignature := alice.Wire[strings.LastIndex(alice.Wire, ".")+1:]
	spliced := bobPayload + "." + aliceSignature

	if _, err := service.Validate(ctx, spliced); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("Validate spliced token: got %v, want ErrInvalidSignature", err)
	}
}

func TestValidateForScopeMismatch(t *testing.T) {
	service, _, _ := testService(t)
	ctx := context.Background()

	token, err := service.Issue(ctx, "user", "agent", scope.ReadEmail, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	_, err = service.ValidateForScope(ctx, token.Wire, scope.ReadPhone)
	if !errors.Is(err, ErrScopeMismatch) {
		t.Errorf("ValidateForScope wrong scope: got %v, want ErrScopeMismatch", err)
	}

	// No hierarchy: a write scope does not satisfy its read scope.
	_, err = service.ValidateForScope(ctx, token.Wire, scope.WriteEmail)
	if !errors.Is(err, ErrScopeMismatch) {
		t.Errorf("ValidateForScope write scope: got %v, want ErrScopeMismatch", err)
	}
}

// The check order is fixed. Each case below constructs a token that
// fails two checks and asserts the earlier one wins.
func TestValidationOrder(t *testing.T) {
	service, _, _ := testService(t)
	other, err := NewService(Config{
		Signer: testSigner(t, 0x99),
		Clock:  clock.Fake(time.UnixMilli(issuedMs)),
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	ctx := context.Background()

	// Revocation beats malformedness: even unparseable input can be
	// revoked and stays revoked.
	if err := service.Revoke(ctx, "garbage"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := service.Validate(ctx, "garbage"); !errors.Is(err, ErrRevoked) {
		t.Errorf("revoked+malformed: got %v, want ErrRevoked", err)
	}

	// Malformedness beats the prefix: an undecodable payload fails
	// structurally before the prefix is judged.
	if _, err := service.Validate(ctx, "XYZ:!!!.zzz"); !errors.Is(err, ErrMalformed) {
		t.Errorf("malformed+prefix: got %v, want ErrMalformed", err)
	}

	// The prefix beats the signature.
	token, err := service.Issue(ctx, "user", "agent", scope.ReadEmail, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	mangled := "ABC" + strings.TrimPrefix(flipLastChar(token.Wire), TokenPrefix)
	if _, err := service.Validate(ctx, mangled); !errors.Is(err, ErrInvalidPrefix) {
		t.Errorf("prefix+signature: got %v, want ErrInvalidPrefix", err)
	}

	// The signature beats the scope: a token signed under another
	// secret reports forgery, not scope mismatch.
	foreign, err := other.Issue(ctx, "user", "agent", scope.ReadEmail, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := service.ValidateForScope(ctx, foreign.Wire, scope.ReadPhone); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("signature+scope: got %v, want ErrInvalidSignature", err)
	}

	// The scope beats expiry: an expired token for the wrong scope
	// reports the mismatch.
	expired, err := service.Issue(ctx, "user", "agent", scope.ReadEmail, -time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := service.ValidateForScope(ctx, expired.Wire, scope.ReadPhone); !errors.Is(err, ErrScopeMismatch) {
		t.Errorf("scope+expiry: got %v, want ErrScopeMismatch", err)
	}
}

func TestDecide(t *testing.T) {
	service, _, _ := testService(t)
	ctx := context.Background()

	token, err := service.Issue(ctx, "user", "agent", scope.ReadEmail, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	decision := service.Decide(ctx, token.Wire, scope.ReadEmail)
	if !decision.Valid {
		t.Errorf("Decide valid token: Valid = false, Reason = %q", decision.Reason)
	}
	if decision.Token == nil || decision.Token.UserID != "user" {
		t.Errorf("Decide Token = %+v, want decoded token", decision.Token)
	}
	if decision.Reason != "" {
		t.Errorf("Decide Reason = %q, want empty", decision.Reason)
	}

	// An empty expected scope skips the scope check.
	if decision := service.Decide(ctx, token.Wire, ""); !decision.Valid {
		t.Errorf("Decide without scope: Valid = false, Reason = %q", decision.Reason)
	}

	decision = service.Decide(ctx, token.Wire, scope.ReadPhone)
	if decision.Valid {
		t.Error("Decide wrong scope: Valid = true")
	}
	if decision.Token != nil {
		t.Errorf("Decide wrong scope: Token = %+v, want nil", decision.Token)
	}
	if !strings.Contains(decision.Reason, "scope mismatch") {
		t.Errorf("Decide Reason = %q, want scope mismatch", decision.Reason)
	}
}

func TestRevokeIdempotent(t *testing.T) {
	service, _, _ := testService(t)
	ctx := context.Background()

	token, err := service.Issue(ctx, "user", "agent", scope.ReadEmail, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if err := service.Revoke(ctx, token.Wire); err != nil {
		t.Fatalf("first Revoke: %v", err)
	}
	if err := service.Revoke(ctx, token.Wire); err != nil {
		t.Fatalf("second Revoke: %v", err)
	}

	if _, err := service.Validate(ctx, token.Wire); !errors.Is(err, ErrRevoked) {
		t.Errorf("Validate: got %v, want ErrRevoked", err)
	}
}

// Cleanup may drop a revocation entry once the token is past expiry;
// the token must still be rejected, now as expired.
func TestCleanupDoesNotResurrectTokens(t *testing.T) {
	registry := NewRegistry()
	clk := clock.Fake(time.UnixMilli(issuedMs))
	service, err := NewService(Config{
		Signer:   testSigner(t, 0x42),
		Registry: registry,
		Clock:    clk,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	ctx := context.Background()

	token, err := service.Issue(ctx, "user", "agent", scope.ReadEmail, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := service.Revoke(ctx, token.Wire); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	clk.Advance(2 * time.Hour)
	if removed := registry.Cleanup(clk.Now().UnixMilli()); removed != 1 {
		t.Errorf("Cleanup removed %d, want 1", removed)
	}

	if _, err := service.Validate(ctx, token.Wire); !errors.Is(err, ErrExpired) {
		t.Errorf("Validate after cleanup: got %v, want ErrExpired", err)
	}
}

func TestAuditTrail(t *testing.T) {
	service, clk, capture := testService(t)
	ctx := context.Background()

	token, err := service.Issue(ctx, "user_alice", "agent_data_manager", scope.ReadEmail, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	issued := capture.last(t)
	if issued.Type != audit.EventTokenIssued {
		t.Errorf("event type = %q, want %q", issued.Type, audit.EventTokenIssued)
	}
	if issued.UserID != "user_alice" || issued.AgentID != "agent_data_manager" {
		t.Errorf("event attribution = %q/%q, want user_alice/agent_data_manager", issued.UserID, issued.AgentID)
	}
	if issued.TokenFP != audit.Fingerprint(token.Wire) {
		t.Errorf("TokenFP = %q, want %q", issued.TokenFP, audit.Fingerprint(token.Wire))
	}
	if issued.At != issuedMs {
		t.Errorf("At = %d, want %d", issued.At, issuedMs)
	}

	// Successful validations are not audited.
	before := len(capture.events)
	if _, err := service.Validate(ctx, token.Wire); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(capture.events) != before {
		t.Errorf("successful validation recorded %d extra events", len(capture.events)-before)
	}

	// A scope denial carries the stable reason and the expected scope.
	if _, err := service.ValidateForScope(ctx, token.Wire, scope.ReadPhone); err == nil {
		t.Fatal("ValidateForScope: expected error")
	}
	denied := capture.last(t)
	if denied.Type != audit.EventTokenDenied {
		t.Errorf("event type = %q, want %q", denied.Type, audit.EventTokenDenied)
	}
	if denied.Reason != "scope_mismatch" {
		t.Errorf("Reason = %q, want scope_mismatch", denied.Reason)
	}
	if denied.Detail["expected_scope"] != scope.ReadPhone.String() {
		t.Errorf("Detail[expected_scope] = %q, want %q", denied.Detail["expected_scope"], scope.ReadPhone)
	}

	// An expiry denial after the clock moves carries the moved
	// timestamp.
	clk.Advance(2 * time.Hour)
	if _, err := service.Validate(ctx, token.Wire); !errors.Is(err, ErrExpired) {
		t.Fatalf("Validate: got %v, want ErrExpired", err)
	}
	expired := capture.last(t)
	if expired.Reason != "expired" {
		t.Errorf("Reason = %q, want expired", expired.Reason)
	}
	if expired.At != clk.Now().UnixMilli() {
		t.Errorf("At = %d, want %d", expired.At, clk.Now().UnixMilli())
	}

	if err := service.Revoke(ctx, token.Wire); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	revoked := capture.last(t)
	if revoked.Type != audit.EventTokenRevoked {
		t.Errorf("event type = %q, want %q", revoked.Type, audit.EventTokenRevoked)
	}
	if revoked.TokenFP != audit.Fingerprint(token.Wire) {
		t.Errorf("TokenFP = %q, want %q", revoked.TokenFP, audit.Fingerprint(token.Wire))
	}

	// No event anywhere carries the raw wire string.
	for i, event := range capture.events {
		if event.TokenFP == token.Wire {
			t.Errorf("event %d leaked the wire string", i)
		}
		if len(event.TokenFP) != audit.FingerprintHexChars {
			t.Errorf("event %d TokenFP length = %d, want %d", i, len(event.TokenFP), audit.FingerprintHexChars)
		}
	}
}

// flipLastChar changes the final character of a wire string, keeping
// it within the hex alphabet so only the signature value changes.
func flipLastChar(wire string) string {
	last := wire[len(wire)-1]
	replacement := byte('0')
	if last == '0' {
		replacement = '1'
	}
	return wire[:len(wire)-1] + string(replacement)
}
