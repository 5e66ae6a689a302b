// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"errors"
	"log/slog"

	"github.com/custodia-foundation/custodia/lib/clock"
)

// Recorder receives audit events. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Record(ctx context.Context, event Event) error
}

// NopRecorder discards every event. Used when the audit backend is
// configured off.
type NopRecorder struct{}

// Record discards the event.
func (NopRecorder) Record(ctx context.Context, event Event) error { return nil }

// LogRecorder writes each event as a structured log line. Warnings
// log at slog's warn level, everything else at info.
type LogRecorder struct {
	logger *slog.Logger
	clock  clock.Clock
}

// NewLogRecorder returns a LogRecorder. A nil logger discards output;
// a nil clock uses the real one.
func NewLogRecorder(logger *slog.Logger, clk clock.Clock) *LogRecorder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &LogRecorder{logger: logger, clock: clk}
}

// Record logs the event with its mapped severity.
func (r *LogRecorder) Record(ctx context.Context, event Event) error {
	severity := SeverityFor(event.Type)

	level := slog.LevelInfo
	if severity == SeverityWarning {
		level = slog.LevelWarn
	}

	at := event.At
	if at == 0 {
		at = r.clock.Now().UnixMilli()
	}

	attrs := []any{
		"event", string(event.Type),
		"severity", severity.String(),
		"at", at,
	}
	if event.UserID != "" {
		attrs = append(attrs, "user", event.UserID)
	}
	if event.AgentID != "" {
		attrs = append(attrs, "agent", event.AgentID)
	}
	if event.Scope != "" {
		attrs = append(attrs, "scope", string(event.Scope))
	}
	if event.TokenFP != "" {
		attrs = append(attrs, "token_fp", event.TokenFP)
	}
	if event.Reason != "" {
		attrs = append(attrs, "reason", event.Reason)
	}
	for key, value := range event.Detail {
		attrs = append(attrs, "detail."+key, value)
	}

	r.logger.Log(ctx, level, "audit", attrs...)
	return nil
}

// MultiRecorder fans an event out to every recorder in order. All
// recorders receive the event even when an earlier one fails; the
// errors are joined.
type MultiRecorder []Recorder

// Record delivers the event to every recorder.
func (m MultiRecorder) Record(ctx context.Context, event Event) error {
	var errs []error
	for _, recorder := range m {
		if err := recorder.Record(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
