// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/easel-collab/easel/lib/clock"
	"github.com/easel-collab/easel/lib/netutil"
)

// writeTimeout bounds writing one response line.
const writeTimeout = 10 * time.Second

// ServerConfig configures a directory Server.
type ServerConfig struct {
	Store  Store
	Policy ConflictPolicy

	// IdleTimeout closes a connection that sends nothing for this
	// long. Zero means two minutes.
	IdleTimeout time.Duration

	// TLS, when set, wraps every accepted connection.
	TLS *tls.Config

	Clock  clock.Clock
	Logger *slog.Logger
}

// Server serves the directory line protocol. Each connection is
// handled by its own goroutine and may carry any number of commands;
// all connections share one Store.
type Server struct {
	store       Store
	policy      ConflictPolicy
	idleTimeout time.Duration
	tlsConfig   *tls.Config
	clock       clock.Clock
	logger      *slog.Logger

	ready    chan struct{}
	addrOnce sync.Once
	addr     net.Addr

	mu          sync.Mutex
	connections map[net.Conn]struct{}
	active      sync.WaitGroup
}

// NewServer returns a Server. Call Serve or ListenAndServe to start
// it.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 2 * time.Minute
	}
	if cfg.Policy.Mode == "" {
		cfg.Policy.Mode = LastWriteWins
	}
	return &Server{
		store:       cfg.Store,
		policy:      cfg.Policy,
		idleTimeout: cfg.IdleTimeout,
		tlsConfig:   cfg.TLS,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		ready:       make(chan struct{}),
		connections: make(map[net.Conn]struct{}),
	}
}

// Ready is closed once the server is accepting connections.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the listening address. Valid after Ready is closed.
func (s *Server) Addr() net.Addr { return s.addr }

// ListenAndServe listens on address and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", address, err)
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections until ctx is cancelled, then closes the
// listener and every open connection and waits for their handlers to
// return.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	if s.tlsConfig != nil {
		listener = tls.NewListener(listener, s.tlsConfig)
	}
	defer listener.Close()

	stop := context.AfterFunc(ctx, func() {
		listener.Close()
		s.closeConnections()
	})
	defer stop()

	s.addrOnce.Do(func() {
		s.addr = listener.Addr()
		close(s.ready)
	})
	s.logger.Info("discovery server listening",
		"address", listener.Addr().String(),
		"conflict_policy", string(s.policy.Mode),
		"tls", s.tlsConfig != nil,
	)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}
		if !s.track(conn) {
			conn.Close()
			break
		}
		s.active.Add(1)
		go func() {
			defer s.active.Done()
			defer s.untrack(conn)
			s.handleConnection(ctx, conn)
		}()
	}

	s.closeConnections()
	s.active.Wait()
	s.logger.Info("discovery server stopped")
	return nil
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connections == nil {
		return false
	}
	s.connections[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.connections, conn)
}

func (s *Server) closeConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.connections {
		conn.Close()
	}
	s.connections = nil
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	logger := s.logger.With("remote", remote)

	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error("connection handler panicked", "panic", recovered)
		}
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 512), MaxLineLength)

	for {
		conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
		if !scanner.Scan() {
			err := scanner.Err()
			switch {
			case errors.Is(err, bufio.ErrTooLong):
				s.writeLine(logger, conn, ResponseErrorPrefix+"line too long")
			case err != nil && !netutil.IsExpectedCloseError(err):
				logger.Debug("connection read ended", "error", err)
			}
			return
		}

		command, err := ParseCommand(scanner.Text())
		if err != nil {
			var protocolError *ProtocolError
			reason := "malformed request"
			if errors.As(err, &protocolError) {
				reason = protocolError.Reason
			}
			logger.Debug("rejecting malformed request", "reason", reason)
			s.writeLine(logger, conn, ResponseErrorPrefix+reason)
			return
		}
		if command.Verb == VerbRegister && command.Address == "" {
			command.Address = observedHost(conn.RemoteAddr())
		}

		response, rejected := s.execute(ctx, logger, command)
		if !s.writeLine(logger, conn, response) || rejected {
			return
		}
	}
}

// execute runs one command. Store failures become ERROR:internal so
// the client sees a response code and the connection stays open. A
// request the server refuses to act on reports rejected, and the
// connection closes after the response, like a malformed line.
func (s *Server) execute(ctx context.Context, logger *slog.Logger, command Command) (response string, rejected bool) {
	switch command.Verb {
	case VerbPing:
		return ResponsePong, false

	case VerbRegister:
		record := PeerRecord{
			ID:       command.ID,
			Address:  command.Address,
			Port:     command.Port,
			Relay:    command.Relay,
			LastSeen: s.clock.Now().UTC(),
		}
		if err := record.Validate(); err != nil {
			logger.Debug("rejecting invalid registration", "peer", command.ID, "error", err)
			return ResponseErrorPrefix + err.Error(), true
		}
		err := s.store.Upsert(ctx, record, s.policy)
		var conflict *RegistrationConflict
		switch {
		case errors.As(err, &conflict):
			logger.Info("registration rejected",
				"peer", command.ID,
				"holder", conflict.Holder,
				"expires", conflict.Expires,
			)
			return ResponseAlreadyRegistered, false
		case err != nil:
			logger.Error("registration failed", "peer", command.ID, "error", err)
			return ResponseErrorPrefix + "internal", false
		}
		logger.Info("peer registered",
			"peer", record.ID,
			"endpoint", record.HostPort(),
			"relay", record.Relay.URL,
		)
		return ResponseOK, false

	case VerbLookup:
		record, err := s.store.Get(ctx, command.ID)
		switch {
		case IsNotFound(err):
			return ResponseNotFound, false
		case err != nil:
			logger.Error("lookup failed", "peer", command.ID, "error", err)
			return ResponseErrorPrefix + "internal", false
		}
		return FormatLookup(record), false

	case VerbDeregister:
		err := s.store.Delete(ctx, command.ID)
		switch {
		case IsNotFound(err):
			return ResponseErrorPrefix + "not found", false
		case err != nil:
			logger.Error("deregistration failed", "peer", command.ID, "error", err)
			return ResponseErrorPrefix + "internal", false
		}
		logger.Info("peer deregistered", "peer", command.ID)
		return ResponseOK, false
	}
	return ResponseErrorPrefix + "unknown command", true
}

func (s *Server) writeLine(logger *slog.Logger, conn net.Conn, line string) bool {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		logger.Debug("failed to write response", "error", err)
		return false
	}
	return true
}

func observedHost(addr net.Addr) string {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
