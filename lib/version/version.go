// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

// Package version carries the build identity stamped into Custodia
// binaries. Release builds inject the variables below with -ldflags:
//
//	go build -ldflags "-X github.com/custodia-foundation/custodia/lib/version.GitCommit=$(git rev-parse --short HEAD)"
package version

import (
	"fmt"
	"runtime"
)

// Set at build time via -ldflags. The defaults identify a local
// development build.
var (
	// Version is the semantic version, set manually for releases.
	Version = "0.1.0-dev"

	// GitCommit is the short git SHA of the build.
	GitCommit = "unknown"

	// GitDirty is "true" when the build had uncommitted changes.
	GitDirty = "false"

	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"
)

// Info renders the one-line form printed by --version: semantic
// version, commit (with a -dirty marker), build time, and the Go
// toolchain the binary was compiled with.
func Info() string {
	dirty := ""
	if GitDirty == "true" {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s, %s)",
		Version, GitCommit, dirty, BuildTime, runtime.Version())
}
