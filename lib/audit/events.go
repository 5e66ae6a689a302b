// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"github.com/custodia-foundation/custodia/lib/scope"
)

// Severity represents syslog severity levels per RFC 5424.
type Severity int

const (
	SeverityWarning Severity = 4
	SeverityNotice  Severity = 5
	SeverityInfo    Severity = 6
)

// String returns the human-readable name for a severity level.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityNotice:
		return "NOTICE"
	case SeverityWarning:
		return "WARNING"
	default:
		return "UNKNOWN"
	}
}

// EventType identifies a security-relevant audit event.
type EventType string

const (
	EventTokenIssued      EventType = "token.issued"
	EventTokenDenied      EventType = "token.denied"
	EventTokenRevoked     EventType = "token.revoked"
	EventLinkCreated      EventType = "link.created"
	EventVaultStored      EventType = "vault.stored"
	EventVaultRetrieved   EventType = "vault.retrieved"
	EventVaultSoftDeleted EventType = "vault.soft_deleted"
	EventVaultPurged      EventType = "vault.purged"
	EventVaultSwept       EventType = "vault.swept"
	EventVaultTamper      EventType = "vault.tamper"
	EventExportCreated    EventType = "export.created"
)

// AllEventTypes returns every defined event type for iteration and
// validation.
func AllEventTypes() []EventType {
	return []EventType{
		EventTokenIssued,
		EventTokenDenied,
		EventTokenRevoked,
		EventLinkCreated,
		EventVaultStored,
		EventVaultRetrieved,
		EventVaultSoftDeleted,
		EventVaultPurged,
		EventVaultSwept,
		EventVaultTamper,
		EventExportCreated,
	}
}

// severityMap maps each event type to its syslog severity.
var severityMap = map[EventType]Severity{
	EventTokenIssued:      SeverityNotice,  // 5
	EventTokenDenied:      SeverityWarning, // 4
	EventTokenRevoked:     SeverityWarning, // 4
	EventLinkCreated:      SeverityNotice,  // 5
	EventVaultStored:      SeverityInfo,    // 6
	EventVaultRetrieved:   SeverityInfo,    // 6
	EventVaultSoftDeleted: SeverityNotice,  // 5
	EventVaultPurged:      SeverityWarning, // 4
	EventVaultSwept:       SeverityInfo,    // 6
	EventVaultTamper:      SeverityWarning, // 4
	EventExportCreated:    SeverityNotice,  // 5
}

// SeverityFor returns the syslog severity for a given event type.
// Unknown event types return SeverityWarning (fail-secure: treat
// unknowns as concerning).
func SeverityFor(eventType EventType) Severity {
	if s, ok := severityMap[eventType]; ok {
		return s
	}
	return SeverityWarning
}

// Event is one security-relevant occurrence. TokenFP is a fingerprint
// (see Fingerprint), never a raw token. Detail carries event-specific
// fields; keys and values must not contain secret material.
type Event struct {
	Type    EventType
	At      int64 // Unix milliseconds; recorders fill it when zero
	UserID  string
	AgentID string
	Scope   scope.Scope
	TokenFP string
	Reason  string
	Detail  map[string]string
}
