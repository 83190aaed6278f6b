// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/easel-collab/easel/discovery"
	"github.com/easel-collab/easel/lib/netutil"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	signalWriteTimeout = 10 * time.Second
	signalPingInterval = 30 * time.Second
	signalReadLimit    = 64 << 10
)

var _ Signaler = (*WebSocketSignaler)(nil)

// WebSocketSignaler carries signaling messages as JSON text frames.
type WebSocketSignaler struct {
	conn     *websocket.Conn
	incoming chan SignalMessage
	done     chan struct{}
	once     sync.Once
	writeMu  sync.Mutex
	logger   *slog.Logger
}

// DialSignaler opens a signaling link to the SignalingServer at url
// (ws:// or wss://), identifying the caller as localID.
func DialSignaler(ctx context.Context, url, localID string, logger *slog.Logger) (*WebSocketSignaler, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	target := url + "/" + localID
	conn, response, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		if response != nil {
			return nil, fmt.Errorf("dialing signaling %s: %w (status %s)", target, err, response.Status)
		}
		return nil, fmt.Errorf("dialing signaling %s: %w", target, err)
	}
	return newWebSocketSignaler(conn, logger.With("signaling", target)), nil
}

func newWebSocketSignaler(conn *websocket.Conn, logger *slog.Logger) *WebSocketSignaler {
	s := &WebSocketSignaler{
		conn:     conn,
		incoming: make(chan SignalMessage, memorySignalBuffer),
		done:     make(chan struct{}),
		logger:   logger,
	}
	conn.SetReadLimit(signalReadLimit)
	go s.readLoop()
	go s.pingLoop()
	return s
}

func (s *WebSocketSignaler) readLoop() {
	defer s.shutdown()
	for {
		var msg SignalMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			if netutil.IsExpectedCloseError(err) {
				s.logger.Debug("signaling link closed", "error", err)
			} else {
				s.logger.Warn("signaling read failed", "error", err)
			}
			return
		}
		if err := msg.Validate(); err != nil {
			s.logger.Warn("dropping malformed signal message", "error", err)
			continue
		}
		select {
		case s.incoming <- msg:
		case <-s.done:
			return
		}
	}
}

func (s *WebSocketSignaler) pingLoop() {
	ticker := time.NewTicker(signalPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(signalWriteTimeout))
			s.writeMu.Unlock()
			if err != nil {
				s.shutdown()
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *WebSocketSignaler) Send(ctx context.Context, msg SignalMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	select {
	case <-s.done:
		return ErrSignalingClosed
	default:
	}

	deadline := time.Now().Add(signalWriteTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(deadline)
	if err := s.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("sending %s: %w", msg.Type, err)
	}
	return nil
}

func (s *WebSocketSignaler) Messages() <-chan SignalMessage { return s.incoming }

func (s *WebSocketSignaler) Done() <-chan struct{} { return s.done }

// Close sends a normal close frame and tears the link down.
func (s *WebSocketSignaler) Close() error {
	s.writeMu.Lock()
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()
	s.shutdown()
	return nil
}

func (s *WebSocketSignaler) shutdown() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// IncomingSignaler is a signaling link opened by a remote peer.
type IncomingSignaler struct {
	Peer     string
	Signaler Signaler
}

// SignalingServerConfig configures a SignalingServer.
type SignalingServerConfig struct {
	// Path is the route prefix; links are accepted at Path/{peer}.
	Path string

	Logger *slog.Logger
}

// SignalingServer accepts signaling links from peers that found this
// host in discovery. Each upgraded websocket becomes one
// IncomingSignaler on Accepted.
type SignalingServer struct {
	router   *mux.Router
	upgrader websocket.Upgrader
	accepted chan IncomingSignaler
	done     chan struct{}
	once     sync.Once
	logger   *slog.Logger
}

// NewSignalingServer builds the routes. Serve it with Serve or mount
// Handler on an existing server.
func NewSignalingServer(config SignalingServerConfig) *SignalingServer {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	path := config.Path
	if path == "" {
		path = "/signal"
	}
	s := &SignalingServer{
		router:   mux.NewRouter(),
		accepted: make(chan IncomingSignaler),
		done:     make(chan struct{}),
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.router.HandleFunc(path+"/{peer}", s.handleSignal).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok\n"))
	}).Methods(http.MethodGet)
	return s
}

// Handler returns the server's routes.
func (s *SignalingServer) Handler() http.Handler { return s.router }

// Accepted delivers each new signaling link. Links nobody receives
// within the handshake are closed.
func (s *SignalingServer) Accepted() <-chan IncomingSignaler { return s.accepted }

func (s *SignalingServer) handleSignal(w http.ResponseWriter, r *http.Request) {
	peer := mux.Vars(r)["peer"]
	if err := discovery.ValidateID(peer); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("signaling upgrade failed", "peer", peer, "error", err)
		return
	}
	signaler := newWebSocketSignaler(conn, s.logger.With("peer", peer))
	s.logger.Info("signaling link opened", "peer", peer, "remote", r.RemoteAddr)

	select {
	case s.accepted <- IncomingSignaler{Peer: peer, Signaler: signaler}:
	case <-s.done:
		signaler.Close()
	case <-r.Context().Done():
		signaler.Close()
	}
}

// Serve runs the HTTP server on listener until ctx is cancelled.
func (s *SignalingServer) Serve(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	stop := context.AfterFunc(ctx, func() {
		s.once.Do(func() { close(s.done) })
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	})
	defer stop()

	err := server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
