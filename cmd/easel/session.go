// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/pflag"

	"github.com/easel-collab/easel/boardsync"
	"github.com/easel-collab/easel/canvas"
	"github.com/easel-collab/easel/discovery"
	"github.com/easel-collab/easel/internal/cli"
	"github.com/easel-collab/easel/lib/config"
	"github.com/easel-collab/easel/transport"
)

// browseTimeout bounds the mDNS search when discovery.address is unset.
const browseTimeout = 5 * time.Second

// commonOptions are the flags every networked subcommand accepts.
type commonOptions struct {
	configPath string
	discovery  string
	loopback   bool
}

func (o *commonOptions) bind(flags *pflag.FlagSet) {
	flags.StringVar(&o.configPath, "config", "", "path to easel.yaml (default $EASEL_CONFIG, else built-in defaults)")
	flags.StringVar(&o.discovery, "discovery", "", "discovery service host:port, overriding discovery.address")
	flags.BoolVar(&o.loopback, "loopback", false, "gather loopback ICE candidates (both peers on one machine)")
}

func (o *commonOptions) load() (*config.Config, *slog.Logger, error) {
	cfg, err := cli.LoadConfig(o.configPath, false)
	if err != nil {
		return nil, nil, err
	}
	logger, err := cli.LoggerFor(cfg)
	if err != nil {
		return nil, nil, err
	}
	if o.discovery != "" {
		cfg.Discovery.Address = o.discovery
	}
	return cfg, logger, nil
}

// directory returns a client for the configured discovery service, or
// for the first one advertised on the LAN when none is configured.
func directory(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*discovery.Client, error) {
	address := cfg.Discovery.Address
	if address == "" {
		browseCtx, cancel := context.WithTimeout(ctx, browseTimeout)
		defer cancel()
		found, err := discovery.Browse(browseCtx)
		if err != nil {
			return nil, fmt.Errorf("discovery.address is unset: %w", err)
		}
		logger.Info("found discovery service over mDNS", "address", found)
		address = found
	}
	return &discovery.Client{Address: address, Logger: logger}, nil
}

// newNegotiator builds the negotiator for localID. answer supplies the
// relay this peer advertised to peers that dial it; nil answers with
// STUN only.
func newNegotiator(cfg *config.Config, localID string, loopback bool, answer transport.RelayStrategy, logger *slog.Logger) (*transport.Negotiator, error) {
	strategy, err := transport.RelayStrategyFromConfig(cfg.Negotiation, logger)
	if err != nil {
		return nil, err
	}
	return transport.NewNegotiator(transport.NegotiatorConfig{
		LocalID:     localID,
		Links:       &transport.WebRTCLinkFactory{IncludeLoopback: loopback},
		Policy:      transport.RetryPolicyFromConfig(cfg.Negotiation),
		STUNServers: transport.STUNServers(cfg.Negotiation.STUNServers),
		Relay:       strategy,
		Answer:      answer,
		QueueDepth:  cfg.Sync.QueueDepth,
		Logger:      logger,
	}), nil
}

// newBoard builds a synchronizer drawing on an in-memory canvas.
func newBoard(cfg *config.Config, localID string, forward bool, logger *slog.Logger) (*boardsync.Synchronizer, *canvas.Memory, error) {
	surface := canvas.NewMemory()
	settings, err := boardsync.ConfigFromSync(localID, canvas.Logging{Model: surface, Logger: logger}, cfg.Sync)
	if err != nil {
		return nil, nil, err
	}
	settings.Forward = forward
	settings.Logger = logger
	return boardsync.New(settings), surface, nil
}

// watch logs negotiation and board events until ctx ends.
func watch(ctx context.Context, negotiator *transport.Negotiator, board *boardsync.Synchronizer, logger *slog.Logger) {
	states, unsubscribe := negotiator.Events()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case state := <-states:
			if state.State == transport.StateFailed {
				logger.Warn("connection failed", "peer", state.Peer, "session", state.SessionID, "error", state.Err)
				continue
			}
			logger.Info("connection state",
				"peer", state.Peer,
				"mode", string(state.Mode),
				"attempt", state.Attempt,
				"state", state.State.String(),
			)
		case event := <-board.Events():
			switch event.Kind {
			case boardsync.EventApplied:
				logger.Info("remote action", "peer", event.Peer, "action", event.Action.Ref().String(), "kind", event.Action.Kind)
			case boardsync.EventReplayFailed:
				logger.Warn("remote action skipped", "peer", event.Peer, "error", event.Err)
			default:
				logger.Info(event.Kind.String(), "peer", event.Peer, "error", event.Err)
			}
		}
	}
}

// summarize prints the final canvas to stdout and logs the board's
// counters.
func summarize(board *boardsync.Synchronizer, snapshot func() []canvas.Primitive, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var primitives []canvas.Primitive
	if err := board.Do(ctx, func() { primitives = snapshot() }); err != nil {
		logger.Warn("canvas unavailable", "error", err)
		return
	}
	stats := board.Stats()
	logger.Info("board closed",
		"primitives", len(primitives),
		"applied", stats.Applied,
		"echoes", stats.Echoes,
		"duplicates", stats.Duplicates,
		"rejected", stats.Rejected,
		"skipped", stats.Skipped,
		"restarts", stats.Restarts,
	)
	for _, p := range primitives {
		fmt.Println(p.String())
	}
}
