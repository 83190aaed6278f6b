// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/easel-collab/easel/internal/cli"
	"github.com/easel-collab/easel/relay"
)

func credentialsCommand() *cli.Command {
	var (
		configPath string
		ttl        time.Duration
	)
	return &cli.Command{
		Name:    "credentials",
		Summary: "Mint time-limited relay credentials",
		Description: `Print a username and password accepted by easel-relay until they
expire. They are derived from relay.secret_file, so minting needs no
contact with the relay. Useful for negotiation.static_relay.`,
		Usage: "easel credentials [flags]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("credentials", pflag.ContinueOnError)
			flags.StringVar(&configPath, "config", "", "path to easel.yaml (default $EASEL_CONFIG)")
			flags.DurationVar(&ttl, "ttl", 0, "validity, overriding relay.credential_ttl")
			return flags
		},
		Run: func(_ context.Context, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			cfg, err := cli.LoadConfig(configPath, true)
			if err != nil {
				return err
			}
			if cfg.Relay.SecretFile == "" {
				return errors.New("relay.secret_file is required")
			}
			if ttl <= 0 {
				ttl = cfg.Relay.CredentialTTL
			}
			secret, err := relay.LoadSecret(cfg.Relay.SecretFile)
			if err != nil {
				return err
			}
			credentials, err := relay.MintCredentials(secret, ttl)
			if err != nil {
				return err
			}
			printCredentials(os.Stdout, cfg.Relay.URL, credentials)
			return nil
		},
	}
}

func printCredentials(w io.Writer, url string, credentials relay.Credentials) {
	if url != "" {
		fmt.Fprintf(w, "url:      %s\n", url)
	}
	fmt.Fprintf(w, "username: %s\n", credentials.Username)
	fmt.Fprintf(w, "password: %s\n", credentials.Password)
	fmt.Fprintf(w, "expires:  %s\n", credentials.Expires.UTC().Format(time.RFC3339))
}
