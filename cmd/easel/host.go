// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/spf13/pflag"

	"github.com/easel-collab/easel/boardsync"
	"github.com/easel-collab/easel/discovery"
	"github.com/easel-collab/easel/internal/cli"
	"github.com/easel-collab/easel/lib/config"
	"github.com/easel-collab/easel/relay"
	"github.com/easel-collab/easel/transport"
)

type hostOptions struct {
	commonOptions
	id      string
	listen  string
	refresh time.Duration
}

func hostCommand() *cli.Command {
	var options hostOptions
	return &cli.Command{
		Name:    "host",
		Summary: "Host a board and accept peers",
		Description: `Register this peer with the discovery service and accept peers that
look it up. Every action a guest sends is applied here and relayed to
the other guests, so guests only need a path to the host.

When relay.url and relay.secret_file are configured, the registration
carries freshly minted relay credentials that guests use when no
direct path exists.`,
		Usage: "easel host --id ID [flags]",
		Examples: []cli.Example{
			{Description: "Host as alice through a known directory", Command: "easel host --id alice --discovery 10.0.0.2:5005"},
			{Description: "Host on the LAN, finding the directory over mDNS", Command: "easel host --id alice"},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("host", pflag.ContinueOnError)
			options.bind(flags)
			flags.StringVar(&options.id, "id", "", "peer id to register (required)")
			flags.StringVar(&options.listen, "listen", "", "signaling listen address, overriding signaling.listen")
			flags.DurationVar(&options.refresh, "refresh", time.Minute, "interval between re-registrations")
			return flags
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			return runHost(ctx, options)
		},
	}
}

// registration publishes this host's record, re-minting relay
// credentials on every refresh. published follows the latest record so
// answers hand out the credentials the directory advertises.
type registration struct {
	client    *discovery.Client
	id        string
	address   string
	port      int
	relay     config.RelayConfig
	secret    string
	published transport.PublishedRelay
	logger    *slog.Logger
}

func (r *registration) record() (discovery.PeerRecord, error) {
	record := discovery.PeerRecord{ID: r.id, Address: r.address, Port: r.port}
	if r.secret == "" {
		return record, nil
	}
	credentials, err := relay.MintCredentials(r.secret, r.relay.CredentialTTL)
	if err != nil {
		return discovery.PeerRecord{}, err
	}
	record.Relay = credentials.RelayInfo(r.relay.URL)
	return record, nil
}

func (r *registration) register(ctx context.Context) (discovery.PeerRecord, error) {
	record, err := r.record()
	if err != nil {
		return discovery.PeerRecord{}, err
	}
	if err := r.client.Register(ctx, record); err != nil {
		return discovery.PeerRecord{}, fmt.Errorf("registering %s with %s: %w", r.id, r.client.Address, err)
	}
	r.published.Publish(record.Relay)
	return record, nil
}

// keepRegistered re-registers every interval until ctx ends, so the
// record outlives a lease and its relay credentials stay current.
func (r *registration) keepRegistered(ctx context.Context, interval time.Duration) {
	if r.secret != "" && r.relay.CredentialTTL > 0 && r.relay.CredentialTTL/2 < interval {
		interval = r.relay.CredentialTTL / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.register(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("re-registration failed", "error", err)
			}
		}
	}
}

func (r *registration) deregister(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.client.Deregister(ctx, r.id); err != nil {
		r.logger.Warn("deregistration failed", "error", err)
		return
	}
	r.logger.Info("deregistered", "id", r.id)
}

func runHost(ctx context.Context, options hostOptions) error {
	if err := discovery.ValidateID(options.id); err != nil {
		return fmt.Errorf("--id: %w", err)
	}
	if options.refresh <= 0 {
		return errors.New("--refresh must be positive")
	}
	cfg, logger, err := options.load()
	if err != nil {
		return err
	}
	if options.listen != "" {
		cfg.Signaling.Listen = options.listen
	}
	logger = logger.With("peer", options.id)

	var secret string
	if cfg.Relay.SecretFile != "" && cfg.Relay.URL != "" {
		if secret, err = relay.LoadSecret(cfg.Relay.SecretFile); err != nil {
			return err
		}
	}

	client, err := directory(ctx, cfg, logger)
	if err != nil {
		return err
	}
	listener, err := net.Listen("tcp", cfg.Signaling.Listen)
	if err != nil {
		return fmt.Errorf("listening for signaling: %w", err)
	}
	defer listener.Close()

	publisher := &registration{
		client:  client,
		id:      options.id,
		address: cfg.Signaling.AdvertiseAddress,
		port:    listener.Addr().(*net.TCPAddr).Port,
		relay:   cfg.Relay,
		secret:  secret,
		logger:  logger,
	}
	record, err := publisher.register(ctx)
	if err != nil {
		return err
	}
	defer publisher.deregister(ctx)

	negotiator, err := newNegotiator(cfg, options.id, options.loopback, &publisher.published, logger)
	if err != nil {
		return err
	}
	defer negotiator.Close()

	board, surface, err := newBoard(cfg, options.id, true, logger)
	if err != nil {
		return err
	}
	boardCtx, stopBoard := context.WithCancel(context.WithoutCancel(ctx))
	defer stopBoard()
	boardDone := make(chan error, 1)
	go func() { boardDone <- board.Run(boardCtx) }()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	signaling := transport.NewSignalingServer(transport.SignalingServerConfig{Path: cfg.Signaling.Path, Logger: logger})
	go func() {
		if err := signaling.Serve(ctx, listener); err != nil {
			cancel(fmt.Errorf("signaling server: %w", err))
		}
	}()
	go watch(ctx, negotiator, board, logger)
	go publisher.keepRegistered(ctx, options.refresh)

	logger.Info("hosting board",
		"signaling", listener.Addr().String(),
		"discovery", client.Address,
		"relay", record.Relay.URL,
	)

serve:
	for {
		select {
		case incoming := <-signaling.Accepted():
			go admit(ctx, negotiator, board, incoming, logger)
		case err := <-boardDone:
			cancel(fmt.Errorf("board stopped: %w", err))
			break serve
		case <-ctx.Done():
			break serve
		}
	}

	summarize(board, surface.Primitives, logger)
	if err := context.Cause(ctx); !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// admit negotiates a channel over an accepted signaling link and hands
// it to the board. The signaling link stays open while the peer is
// connected.
func admit(ctx context.Context, negotiator *transport.Negotiator, board *boardsync.Synchronizer, incoming transport.IncomingSignaler, logger *slog.Logger) {
	defer incoming.Signaler.Close()
	channel, err := negotiator.Accept(ctx, incoming.Signaler)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("peer did not connect", "remote", incoming.Peer, "error", err)
		}
		return
	}
	if err := board.AddPeer(channel); err != nil {
		channel.Close()
		logger.Warn("peer not added", "remote", incoming.Peer, "error", err)
		return
	}
	select {
	case <-channel.Done():
	case <-ctx.Done():
	}
}
