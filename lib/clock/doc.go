// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction.
//
// Consent tokens and vault records live or die on wall-clock
// comparisons, so every component that reads time (token validation,
// trust-link verification, registry cleanup, the vault sweeper) takes
// a Clock instead of calling the time package. Real() is the standard
// library; Fake() is a deterministic clock for tests that moves only
// when Advance is called.
//
// The fake makes expiry boundaries exact: pin the clock at issue time,
// advance to the expiry instant, assert the token still validates,
// advance one more millisecond, assert it is expired. WaitForTimers
// closes the race between a goroutine registering its ticker and the
// test advancing time past the first tick.
package clock
