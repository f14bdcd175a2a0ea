// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

// Package version exposes the build version, set at link time.
package version

// Version is overridden with -ldflags "-X .../pkg/version.Version=...".
var Version = "0.1.0-devel"

// Commit is the source revision the binary was built from.
var Commit = ""

// Full returns the version with the commit suffix when known.
func Full() string {
	if Commit == "" {
		return Version
	}
	return Version + "+" + Commit
}
