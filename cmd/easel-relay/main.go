// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

// easel-relay runs the TURN relay peers fall back to when no direct
// path exists between them. It accepts the time-limited credentials
// minted from relay.secret_file by "easel host" and "easel
// credentials".
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/easel-collab/easel/internal/cli"
	"github.com/easel-collab/easel/lib/process"
	"github.com/easel-collab/easel/lib/version"
	"github.com/easel-collab/easel/relay"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		showVersion bool
	)
	flags := pflag.NewFlagSet("easel-relay", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "path to easel.yaml (default $EASEL_CONFIG)")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		version.Print("easel-relay")
		return nil
	}

	cfg, err := cli.LoadConfig(configPath, true)
	if err != nil {
		return err
	}
	logger, err := cli.LoggerFor(cfg)
	if err != nil {
		return err
	}
	if cfg.Relay.SecretFile == "" {
		return errors.New("relay.secret_file is required")
	}
	secret, err := relay.LoadSecret(cfg.Relay.SecretFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("easel-relay starting", "version", version.Info(), "url", cfg.Relay.URL)
	return relay.Serve(ctx, relay.ServerConfigFromConfig(cfg.Relay, secret, logger))
}
