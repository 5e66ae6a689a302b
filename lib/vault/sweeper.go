// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"context"
	"log/slog"
	"time"

	"github.com/custodia-foundation/custodia/lib/clock"
)

// DefaultSweepInterval is how often the sweeper marks expired records
// when no interval is configured.
const DefaultSweepInterval = 5 * time.Minute

// Sweeper periodically marks expired records as deleted. SweepExpired
// emits its own metrics and audit events, so a one-shot sweep and the
// loop produce identical signals.
type Sweeper struct {
	// Store is the record store to sweep. Required.
	Store Store

	// Clock drives the ticks. Defaults to the real clock.
	Clock clock.Clock

	// Interval between sweeps. Defaults to DefaultSweepInterval.
	Interval time.Duration

	// Logger receives sweep results. Defaults to a no-op logger.
	Logger *slog.Logger
}

// Run sweeps on every tick until ctx is cancelled. Sweep failures are
// logged and the loop keeps going.
func (s *Sweeper) Run(ctx context.Context) {
	clk := s.Clock
	if clk == nil {
		clk = clock.Real()
	}
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	ticker := clk.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept, err := s.Store.SweepExpired(ctx)
			if err != nil {
				logger.Error("expiry sweep failed", "error", err)
				continue
			}
			if swept > 0 {
				logger.Info("expiry sweep", "records", swept)
			}
		}
	}
}
