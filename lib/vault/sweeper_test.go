// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/custodia-foundation/custodia/lib/clock"
	"github.com/custodia-foundation/custodia/lib/scope"
)

// storeDelegate aliases Store for embedding: an embedded field named
// Store would shadow the interface's Store method, so the spies would
// not satisfy the interface.
type storeDelegate = Store

// sweepSpy forwards to the wrapped store and reports each sweep's
// count, so tests can wait for a sweep instead of polling.
type sweepSpy struct {
	storeDelegate
	swept chan int
}

func (s *sweepSpy) SweepExpired(ctx context.Context) (int, error) {
	n, err := s.storeDelegate.SweepExpired(ctx)
	s.swept <- n
	return n, err
}

// failingSweepStore fails every sweep and reports the attempt.
type failingSweepStore struct {
	storeDelegate
	calls chan struct{}
}

func (s *failingSweepStore) SweepExpired(context.Context) (int, error) {
	s.calls <- struct{}{}
	return 0, errors.New("sweep failed")
}

func waitSweep(t *testing.T, swept chan int) int {
	t.Helper()
	select {
	case n := <-swept:
		return n
	case <-time.After(5 * time.Second):
		t.Fatal("sweeper did not run after a tick")
		return 0
	}
}

func TestSweeperSweepsOnTick(t *testing.T) {
	env := newMemoryEnv(t)
	key := Key{UserID: "user_alice", Scope: scope.ReadEmail}
	mustStore(t, env, key, "inbox", 30*time.Minute)

	spy := &sweepSpy{storeDelegate: env.store, swept: make(chan int, 8)}
	sweeper := &Sweeper{Store: spy, Clock: env.clock, Interval: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	env.clock.WaitForTimers(1)
	env.clock.Advance(time.Hour)

	if n := waitSweep(t, spy.swept); n != 1 {
		t.Errorf("swept = %d, want 1", n)
	}
	rec, found := env.peek(t, key)
	if !found || !rec.Deleted {
		t.Error("expired record not marked after tick")
	}
	if rec.Meta.DeletionReason != DeletionReasonExpired {
		t.Errorf("DeletionReason = %q, want %q", rec.Meta.DeletionReason, DeletionReasonExpired)
	}

	env.clock.Advance(time.Hour)
	if n := waitSweep(t, spy.swept); n != 0 {
		t.Errorf("second sweep = %d, want 0", n)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not exit on context cancel")
	}
	if pending := env.clock.PendingCount(); pending != 0 {
		t.Errorf("pending timers after Run = %d, want 0 (ticker stopped)", pending)
	}
}

func TestSweeperKeepsRunningAfterError(t *testing.T) {
	store := &failingSweepStore{calls: make(chan struct{}, 8)}
	clk := clock.Fake(time.UnixMilli(storeNowMs))
	sweeper := &Sweeper{Store: store, Clock: clk, Interval: time.Minute}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	clk.WaitForTimers(1)
	for i := 0; i < 2; i++ {
		clk.Advance(time.Minute)
		select {
		case <-store.calls:
		case <-time.After(5 * time.Second):
			t.Fatalf("sweep %d never attempted", i+1)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not exit on context cancel")
	}
}

func TestSweeperDefaultInterval(t *testing.T) {
	env := newMemoryEnv(t)
	spy := &sweepSpy{storeDelegate: env.store, swept: make(chan int, 8)}
	sweeper := &Sweeper{Store: spy, Clock: env.clock}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	env.clock.WaitForTimers(1)
	env.clock.Advance(DefaultSweepInterval)
	waitSweep(t, spy.swept)

	cancel()
	<-done
}
