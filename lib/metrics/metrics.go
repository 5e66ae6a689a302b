// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics exposes Custodia's operational counters as
// Prometheus collectors behind a small struct, so that the consent
// and vault layers never import prometheus directly.
//
// All methods are safe on a nil receiver: components that were wired
// without metrics simply count nothing. Use [Nop] for unregistered
// collectors in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Vault operation names for the op label.
const (
	OpStore      = "store"
	OpRetrieve   = "retrieve"
	OpSoftDelete = "soft_delete"
	OpPurge      = "purge"
	OpList       = "list"
	OpExport     = "export"
)

// Outcomes for the outcome label.
const (
	OutcomeOK     = "ok"
	OutcomeDenied = "denied"
	OutcomeError  = "error"
)

// Metrics holds Custodia's counters. Construct with New or Nop.
type Metrics struct {
	tokensIssued       prometheus.Counter
	validationFailures *prometheus.CounterVec
	revocations        prometheus.Counter
	vaultOps           *prometheus.CounterVec
	tamperDetected     prometheus.Counter
	recordsSwept       prometheus.Counter
}

// New creates the collectors and registers them with registerer. A
// nil registerer creates the collectors without registering them.
func New(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)

	return &Metrics{
		tokensIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "custodia_tokens_issued_total",
			Help: "Consent tokens issued.",
		}),
		validationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "custodia_validation_failures_total",
			Help: "Token validations rejected, by reason.",
		}, []string{"reason"}),
		revocations: factory.NewCounter(prometheus.CounterOpts{
			Name: "custodia_revocations_total",
			Help: "Consent tokens revoked.",
		}),
		vaultOps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "custodia_vault_operations_total",
			Help: "Vault operations, by operation and outcome.",
		}, []string{"op", "outcome"}),
		tamperDetected: factory.NewCounter(prometheus.CounterOpts{
			Name: "custodia_tamper_detected_total",
			Help: "Stored payloads that failed authentication on read.",
		}),
		recordsSwept: factory.NewCounter(prometheus.CounterOpts{
			Name: "custodia_records_swept_total",
			Help: "Records marked deleted by the expiry sweeper.",
		}),
	}
}

// Nop returns collectors that are not registered anywhere. Counts are
// still kept, which lets tests read them back.
func Nop() *Metrics {
	return New(nil)
}

// TokenIssued counts one issued token.
func (m *Metrics) TokenIssued() {
	if m == nil {
		return
	}
	m.tokensIssued.Inc()
}

// ValidationFailure counts one rejected validation. The reason is the
// stable failure name (revoked, malformed, invalid_prefix,
// invalid_signature, scope_mismatch, expired).
func (m *Metrics) ValidationFailure(reason string) {
	if m == nil {
		return
	}
	m.validationFailures.WithLabelValues(reason).Inc()
}

// Revocation counts one revoked token.
func (m *Metrics) Revocation() {
	if m == nil {
		return
	}
	m.revocations.Inc()
}

// VaultOp counts one vault operation with its outcome.
func (m *Metrics) VaultOp(op, outcome string) {
	if m == nil {
		return
	}
	m.vaultOps.WithLabelValues(op, outcome).Inc()
}

// Tamper counts one authentication failure on a stored payload.
func (m *Metrics) Tamper() {
	if m == nil {
		return
	}
	m.tamperDetected.Inc()
}

// RecordsSwept counts records marked deleted by a sweep pass.
func (m *Metrics) RecordsSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.recordsSwept.Add(float64(n))
}
