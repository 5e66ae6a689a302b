// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

package consent

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/custodia-foundation/custodia/lib/canonical"
	"github.com/custodia-foundation/custodia/lib/scope"
)

// TokenPrefix marks a consent token wire string. Anything else in the
// prefix position is rejected with ErrInvalidPrefix.
const TokenPrefix = "HCT"

// Token is a decoded consent token. Wire holds the full encoded form;
// the remaining fields are its parsed contents. Treat Wire as a
// credential: it never belongs in logs or audit events.
type Token struct {
	Wire      string
	UserID    string
	AgentID   string
	Scope     scope.Scope
	IssuedAt  int64 // epoch milliseconds
	ExpiresAt int64 // epoch milliseconds
	Signature string
}

// parsedToken is the structural decomposition of a wire string. The
// prefix is carried, not judged: parse errors and prefix errors are
// distinct validation steps.
type parsedToken struct {
	prefix    string
	payload   []byte
	signature string
	fields    canonical.TokenFields
}

// encodeWire assembles the wire string from signed payload bytes and
// their hex signature.
func encodeWire(payload []byte, signature string) string {
	return TokenPrefix + ":" + base64.URLEncoding.EncodeToString(payload) + "." + signature
}

// parseWire splits and decodes a wire string. Every structural
// failure (missing separators, undecodable base64, wrong field count,
// non-integer timestamps, unknown scope) wraps ErrMalformed. The
// prefix value is not checked here.
func parseWire(wire string) (parsedToken, error) {
	prefix, rest, found := strings.Cut(wire, ":")
	if !found {
		return parsedToken{}, fmt.Errorf("%w: missing prefix separator", ErrMalformed)
	}

	// The signature follows the last dot; base64 and hex alphabets
	// contain no dots.
	dot := strings.LastIndex(rest, ".")
	if dot < 0 {
		return parsedToken{}, fmt.Errorf("%w: missing signature separator", ErrMalformed)
	}
	encoded, signature := rest[:dot], rest[dot+1:]

	payload, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return parsedToken{}, fmt.Errorf("%w: payload is not valid base64url", ErrMalformed)
	}

	fields, err := canonical.ParseTokenPayload(payload)
	if err != nil {
		return parsedToken{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return parsedToken{
		prefix:    prefix,
		payload:   payload,
		signature: signature,
		fields:    fields,
	}, nil
}

// Parse decodes a wire string without judging it. The returned fields
// are what the wire claims, nothing more: Parse checks no signature,
// no registry, no expiry. Display and debugging only; authorization
// goes through Validate.
func Parse(wire string) (Token, error) {
	parsed, err := parseWire(wire)
	if err != nil {
		return Token{}, err
	}
	return parsed.token(wire), nil
}

// token materializes a Token from a parsed wire string.
func (p parsedToken) token(wire string) Token {
	return Token{
		Wire:      wire,
		UserID:    p.fields.UserID,
		AgentID:   p.fields.AgentID,
		Scope:     p.fields.Scope,
		IssuedAt:  p.fields.IssuedAt,
		ExpiresAt: p.fields.ExpiresAt,
		Signature: p.signature,
	}
}
