// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

// Main package for the donkey server binary.
package main

import (
	"os"

	"github.com/donkeyengine/donkey/cmd/donkey/command"
)

func main() {
	if err := command.MakeRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
