// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/easel-collab/easel/discovery"
	"github.com/easel-collab/easel/internal/cli"
	"github.com/easel-collab/easel/transport"
)

type joinOptions struct {
	commonOptions
	id     string
	host   string
	script string
	linger time.Duration
}

func joinCommand() *cli.Command {
	var options joinOptions
	return &cli.Command{
		Name:    "join",
		Summary: "Join a hosted board",
		Description: `Look up the host in the discovery service, negotiate a channel to it
(direct first, then through a relay), and synchronize the board.

With --script, the steps of a JSONC action script are drawn once the
channel is up. The command runs until interrupted or the host leaves;
--linger exits that long after the script finishes instead.`,
		Usage: "easel join --id ID --host HOST [flags]",
		Examples: []cli.Example{
			{Description: "Join alice's board as bob", Command: "easel join --id bob --host alice --discovery 10.0.0.2:5005"},
			{Description: "Draw a script and leave after two seconds", Command: "easel join --id bob --host alice --script sketch.jsonc --linger 2s"},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("join", pflag.ContinueOnError)
			options.bind(flags)
			flags.StringVar(&options.id, "id", "", "local peer id (required)")
			flags.StringVar(&options.host, "host", "", "id of the hosting peer (required)")
			flags.StringVar(&options.script, "script", "", "JSONC action script to draw after connecting")
			flags.DurationVar(&options.linger, "linger", 0, "exit this long after the script finishes (0 waits for interrupt)")
			return flags
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			return runJoin(ctx, options)
		},
	}
}

func runJoin(ctx context.Context, options joinOptions) error {
	if err := discovery.ValidateID(options.id); err != nil {
		return fmt.Errorf("--id: %w", err)
	}
	if err := discovery.ValidateID(options.host); err != nil {
		return fmt.Errorf("--host: %w", err)
	}
	if options.id == options.host {
		return errors.New("--id and --host name the same peer")
	}
	var steps []Step
	if options.script != "" {
		var err error
		if steps, err = ReadScript(options.script); err != nil {
			return err
		}
	}
	cfg, logger, err := options.load()
	if err != nil {
		return err
	}
	logger = logger.With("peer", options.id)

	client, err := directory(ctx, cfg, logger)
	if err != nil {
		return err
	}
	record, err := client.Lookup(ctx, options.host)
	if err != nil {
		if discovery.IsNotFound(err) {
			return fmt.Errorf("%s is not registered with %s", options.host, client.Address)
		}
		return err
	}
	logger.Info("found host", "host", record.ID, "endpoint", record.HostPort(), "relay", record.Relay.URL)

	signaler, err := transport.DialSignaler(ctx, "ws://"+record.HostPort()+cfg.Signaling.Path, options.id, logger)
	if err != nil {
		return err
	}
	defer signaler.Close()

	negotiator, err := newNegotiator(cfg, options.id, options.loopback, nil, logger)
	if err != nil {
		return err
	}
	defer negotiator.Close()

	board, surface, err := newBoard(cfg, options.id, false, logger)
	if err != nil {
		return err
	}
	boardCtx, stopBoard := context.WithCancel(context.WithoutCancel(ctx))
	defer stopBoard()
	boardDone := make(chan error, 1)
	go func() { boardDone <- board.Run(boardCtx) }()
	go watch(ctx, negotiator, board, logger)

	channel, err := negotiator.Connect(ctx, transport.EndpointFromRecord(record), signaler)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", options.host, err)
	}
	if err := board.AddPeer(channel); err != nil {
		channel.Close()
		return err
	}

	if len(steps) > 0 {
		if err := Play(ctx, board, steps, logger); err != nil {
			summarize(board, surface.Primitives, logger)
			return nil
		}
	}

	var linger <-chan time.Time
	if options.linger > 0 {
		timer := time.NewTimer(options.linger)
		defer timer.Stop()
		linger = timer.C
	}
	var result error
	select {
	case <-ctx.Done():
	case <-linger:
	case <-channel.Done():
		logger.Info("host left", "host", options.host, "error", channel.Err())
	case err := <-boardDone:
		result = fmt.Errorf("board stopped: %w", err)
	}
	summarize(board, surface.Primitives, logger)
	return result
}
