// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

// easel is the whiteboard peer: it hosts or joins a board, and carries
// the small operator tools around the discovery service and relay.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/easel-collab/easel/internal/cli"
	"github.com/easel-collab/easel/lib/process"
	"github.com/easel-collab/easel/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return root().Execute(ctx, os.Args[1:])
}

func root() *cli.Command {
	return &cli.Command{
		Name: "easel",
		Description: `Easel connects peers drawing on a shared whiteboard. A host registers
with the discovery service; guests look it up, negotiate a channel
(direct, else through a relay), and exchange drawing actions.`,
		Subcommands: []*cli.Command{
			hostCommand(),
			joinCommand(),
			lookupCommand(),
			credentialsCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(context.Context, []string) error {
					version.Print("easel")
					return nil
				},
			},
		},
	}
}
