// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

// Package command implements the donkey CLI.
package command

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/donkeyengine/donkey/pkg/config"
	"github.com/donkeyengine/donkey/pkg/donkey/engine"
	"github.com/donkeyengine/donkey/pkg/donkey/store"
	"github.com/donkeyengine/donkey/pkg/util/log"
	"github.com/donkeyengine/donkey/pkg/version"
)

const stopTimeout = 30 * time.Second

// MakeRootCommand builds the donkey command tree.
func MakeRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "donkey",
		Short:        "Donkey message integration engine",
		SilenceUsage: true,
	}
	root.AddCommand(makeRunCommand())
	root.AddCommand(makeVersionCommand())
	return root
}

func makeRunCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the engine with the configured channels",
		RunE: func(*cobra.Command, []string) error {
			return run(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "donkey.yaml", "path to the server configuration file")
	return cmd
}

func makeVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(*cobra.Command, []string) {
			fmt.Println(version.Full())
		},
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := setupLogging(cfg.Log); err != nil {
		return err
	}
	defer log.Flush()

	if cfg.ServerID == "" {
		cfg.ServerID = uuid.NewString()
		log.Infof("no server id configured, generated %s", cfg.ServerID)
	}

	st, err := store.Open(cfg.Store.Path, cfg.Store.Takeover)
	if err != nil {
		return err
	}

	eng, err := engine.New(cfg, st, nil)
	if err != nil {
		st.Close() //nolint:errcheck
		return err
	}

	ctx := context.Background()
	if err := eng.DeployAll(ctx); err != nil {
		return err
	}
	if err := eng.StartAll(ctx); err != nil {
		stopCtx, cancel := context.WithTimeout(ctx, stopTimeout)
		defer cancel()
		eng.Shutdown(stopCtx) //nolint:errcheck
		return err
	}
	log.Infof("donkey %s started with %d channels", version.Full(), len(cfg.Channels))

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signals
	log.Infof("received %s, shutting down", sig)

	stopCtx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()
	return eng.Shutdown(stopCtx)
}

func setupLogging(cfg config.LogConfig) error {
	level := cfg.Level
	if level == "" {
		level = "info"
	}
	if cfg.File != "" {
		return log.SetupFileLogger(cfg.File, level)
	}
	return log.SetupDefaultLogger(level)
}
