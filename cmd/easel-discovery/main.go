// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

// easel-discovery serves the peer directory: a line protocol over TCP
// mapping peer ids to the endpoint (and optional relay) at which they
// can be reached. Records live in the configured store backend.
//
// Usage:
//
//	easel-discovery --config /etc/easel/easel.yaml [--listen :5005]
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/easel-collab/easel/discovery"
	"github.com/easel-collab/easel/internal/cli"
	"github.com/easel-collab/easel/lib/process"
	"github.com/easel-collab/easel/lib/version"
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
		listen      string
		showVersion bool
	)
	flags := pflag.NewFlagSet("easel-discovery", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "path to easel.yaml (default $EASEL_CONFIG)")
	flags.StringVar(&listen, "listen", "", "TCP listen address, overriding discovery.listen")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		version.Print("easel-discovery")
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
	if listen != "" {
		cfg.Discovery.Listen = listen
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := discovery.OpenStore(ctx, cfg.Discovery.Store, logger)
	if err != nil {
		return fmt.Errorf("opening %s store: %w", cfg.Discovery.Store.Backend, err)
	}
	defer store.Close()

	policy, err := discovery.PolicyFromConfig(cfg.Discovery)
	if err != nil {
		return err
	}
	var tlsConfig *tls.Config
	if cfg.Discovery.TLSCert != "" {
		certificate, err := tls.LoadX509KeyPair(cfg.Discovery.TLSCert, cfg.Discovery.TLSKey)
		if err != nil {
			return fmt.Errorf("loading TLS key pair: %w", err)
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{certificate}, MinVersion: tls.VersionTLS12}
	}

	server := discovery.NewServer(discovery.ServerConfig{
		Store:       store,
		Policy:      policy,
		IdleTimeout: cfg.Discovery.IdleTimeout,
		TLS:         tlsConfig,
		Logger:      logger,
	})

	if cfg.Discovery.MDNS {
		go func() {
			select {
			case <-server.Ready():
			case <-ctx.Done():
				return
			}
			instance, _ := os.Hostname()
			port := server.Addr().(*net.TCPAddr).Port
			if err := discovery.Advertise(ctx, "easel-"+instance, port, logger); err != nil {
				logger.Warn("mDNS advertisement failed", "error", err)
			}
		}()
	}

	logger.Info("easel-discovery starting",
		"version", version.Info(),
		"store", cfg.Discovery.Store.Backend,
		"conflict_policy", string(policy.Mode),
	)
	return server.ListenAndServe(ctx, cfg.Discovery.Listen)
}
