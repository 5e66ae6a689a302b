// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

package canonical

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/custodia-foundation/custodia/lib/scope"
)

// Delimiter separates fields in the canonical byte form. Field values
// must never contain it; Join is the single place that rule is
// enforced.
const Delimiter = "|"

const (
	tokenFieldCount = 5
	linkFieldCount  = 6
)

// Join builds the canonical byte string for signing: fields in the
// given order, separated by the delimiter. Any field containing the
// delimiter is rejected, since it would shift every later field and
// let two different inputs canonicalize identically.
func Join(fields ...string) ([]byte, error) {
	for i, field := range fields {
		if strings.Contains(field, Delimiter) {
			return nil, fmt.Errorf("canonical: field %d contains the delimiter: %q", i, field)
		}
	}
	return []byte(strings.Join(fields, Delimiter)), nil
}

// Split is the exact inverse of Join for a known field count. The
// input must contain exactly want fields.
func Split(data []byte, want int) ([]string, error) {
	fields := strings.Split(string(data), Delimiter)
	if len(fields) != want {
		return nil, fmt.Errorf("canonical: got %d fields, want %d", len(fields), want)
	}
	return fields, nil
}

// TokenFields is the signed content of a consent token, in canonical
// field order.
type TokenFields struct {
	UserID    string
	AgentID   string
	Scope     scope.Scope
	IssuedAt  int64 // epoch milliseconds
	ExpiresAt int64 // epoch milliseconds
}

// TokenPayload renders the five token fields in frozen order:
//
//	user_id|agent_id|scope|issued_at|expires_at
//
// Timestamps are base-10 integers with no padding. The same fields
// always produce the same bytes.
func TokenPayload(f TokenFields) ([]byte, error) {
	if !f.Scope.Valid() {
		return nil, fmt.Errorf("canonical: invalid scope %q", f.Scope)
	}
	return Join(
		f.UserID,
		f.AgentID,
		f.Scope.String(),
		strconv.FormatInt(f.IssuedAt, 10),
		strconv.FormatInt(f.ExpiresAt, 10),
	)
}

// ParseTokenPayload is the strict inverse of TokenPayload: exactly
// five fields, integer timestamps, a scope from the closed set.
func ParseTokenPayload(data []byte) (TokenFields, error) {
	fields, err := Split(data, tokenFieldCount)
	if err != nil {
		return TokenFields{}, err
	}

	sc, err := scope.Parse(fields[2])
	if err != nil {
		return TokenFields{}, fmt.Errorf("canonical: token payload: %w", err)
	}
	issuedAt, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return TokenFields{}, fmt.Errorf("canonical: token issued_at: %w", err)
	}
	expiresAt, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return TokenFields{}, fmt.Errorf("canonical: token expires_at: %w", err)
	}

	return TokenFields{
		UserID:    fields[0],
		AgentID:   fields[1],
		Scope:     sc,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}

// LinkFields is the signed content of a trust link, in canonical field
// order.
type LinkFields struct {
	FromAgent string
	ToAgent   string
	Scope     scope.Scope
	CreatedAt int64 // epoch milliseconds
	ExpiresAt int64 // epoch milliseconds
	SignedBy  string
}

// LinkPayload renders the six link fields in frozen order:
//
//	from_agent|to_agent|scope|created_at|expires_at|signed_by
//
// All six fields are under the signature, so swapping the endpoints or
// reassigning the signing user invalidates it.
func LinkPayload(f LinkFields) ([]byte, error) {
	if !f.Scope.Valid() {
		return nil, fmt.Errorf("canonical: invalid scope %q", f.Scope)
	}
	return Join(
		f.FromAgent,
		f.ToAgent,
		f.Scope.String(),
		strconv.FormatInt(f.CreatedAt, 10),
		strconv.FormatInt(f.ExpiresAt, 10),
		f.SignedBy,
	)
}
