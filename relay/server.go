// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

// Package relay runs the TURN server peers fall back to when no direct
// path exists, and mints the time-limited credentials hosts publish
// for it.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/easel-collab/easel/lib/config"
	"github.com/easel-collab/easel/lib/pionlog"
	"github.com/pion/turn/v4"
)

// ServerConfig configures a relay Server.
type ServerConfig struct {
	// Listen is the UDP address to serve on.
	Listen string

	// PublicIP is the address written into relayed allocations. Empty
	// means the listen address, which must then be specific.
	PublicIP string

	Realm  string
	Secret string
	Logger *slog.Logger
}

// ServerConfigFromConfig combines the relay section of the
// configuration file with the loaded shared secret.
func ServerConfigFromConfig(relay config.RelayConfig, secret string, logger *slog.Logger) ServerConfig {
	return ServerConfig{
		Listen:   relay.Listen,
		PublicIP: relay.PublicIP,
		Realm:    relay.Realm,
		Secret:   secret,
		Logger:   logger,
	}
}

// Server is a running TURN relay.
type Server struct {
	turn   *turn.Server
	conn   net.PacketConn
	logger *slog.Logger
}

// NewServer binds the UDP socket and starts relaying.
func NewServer(config ServerConfig) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if config.Secret == "" {
		return nil, errors.New("relay: shared secret is required")
	}

	conn, err := net.ListenPacket("udp4", config.Listen)
	if err != nil {
		return nil, fmt.Errorf("relay: listening on %s: %w", config.Listen, err)
	}
	relayIP, err := relayAddress(config.PublicIP, conn.LocalAddr())
	if err != nil {
		conn.Close()
		return nil, err
	}

	loggers := pionlog.Factory{Logger: logger}
	server, err := turn.NewServer(turn.ServerConfig{
		Realm:         config.Realm,
		AuthHandler:   turn.NewLongTermAuthHandler(config.Secret, loggers.NewLogger("turn-auth")),
		LoggerFactory: loggers,
		PacketConnConfigs: []turn.PacketConnConfig{{
			PacketConn: conn,
			RelayAddressGenerator: &turn.RelayAddressGeneratorStatic{
				RelayAddress: relayIP,
				Address:      "0.0.0.0",
			},
		}},
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("relay: starting TURN server: %w", err)
	}

	logger.Info("relay listening", "address", conn.LocalAddr().String(), "relay_ip", relayIP.String(), "realm", config.Realm)
	return &Server{turn: server, conn: conn, logger: logger}, nil
}

func relayAddress(public string, local net.Addr) (net.IP, error) {
	if public != "" {
		ip := net.ParseIP(public)
		if ip == nil {
			return nil, fmt.Errorf("relay: public_ip %q is not an IP address", public)
		}
		return ip, nil
	}
	udp, ok := local.(*net.UDPAddr)
	if !ok || udp.IP.IsUnspecified() {
		return nil, fmt.Errorf("relay: listening on %s requires public_ip", local)
	}
	return udp.IP, nil
}

// Addr returns the bound UDP address.
func (s *Server) Addr() net.Addr { return s.conn.LocalAddr() }

// Close stops relaying and releases every allocation.
func (s *Server) Close() error {
	s.logger.Info("relay stopping")
	return s.turn.Close()
}

// Serve starts a Server and runs it until ctx is done.
func Serve(ctx context.Context, config ServerConfig) error {
	server, err := NewServer(config)
	if err != nil {
		return err
	}
	<-ctx.Done()
	return server.Close()
}
