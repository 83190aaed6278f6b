// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package boardsync_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/easel-collab/easel/boardsync"
	"github.com/easel-collab/easel/canvas"
	"github.com/easel-collab/easel/discovery"
	"github.com/easel-collab/easel/lib/testutil"
	"github.com/easel-collab/easel/transport"
	"github.com/pion/webrtc/v4"
)

const waitTimeout = 10 * time.Second

// pipeLinks pairs offering and answering links through in-memory
// pipes, standing in for ICE.
type pipeLinks struct {
	mu     sync.Mutex
	offers map[string]net.Conn
	next   int
}

func (f *pipeLinks) NewLink(_ context.Context, config transport.LinkConfig) (transport.Link, error) {
	return &pipeLink{factory: f, events: make(chan transport.LinkEvent, 8)}, nil
}

type pipeLink struct {
	factory *pipeLinks
	events  chan transport.LinkEvent
	conn    net.Conn
}

func (l *pipeLink) CreateOffer(context.Context) (string, error) {
	local, remote := net.Pipe()
	l.conn = local
	l.factory.mu.Lock()
	defer l.factory.mu.Unlock()
	l.factory.next++
	token := strconv.Itoa(l.factory.next)
	if l.factory.offers == nil {
		l.factory.offers = make(map[string]net.Conn)
	}
	l.factory.offers[token] = remote
	return "pipe " + token, nil
}

func (l *pipeLink) CreateAnswer(_ context.Context, offer string) (string, error) {
	token := strings.TrimPrefix(offer, "pipe ")
	l.factory.mu.Lock()
	conn, ok := l.factory.offers[token]
	delete(l.factory.offers, token)
	l.factory.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("no pipe for offer %q", offer)
	}
	l.conn = conn
	l.open()
	return "pipe answer", nil
}

func (l *pipeLink) SetRemoteAnswer(string) error {
	l.open()
	return nil
}

func (l *pipeLink) open() {
	l.events <- transport.LinkEvent{Kind: transport.LinkConnected}
	l.events <- transport.LinkEvent{Kind: transport.LinkChannelOpen, Conn: l.conn}
}

func (l *pipeLink) AddRemoteCandidate(webrtc.ICECandidateInit) error { return nil }

func (l *pipeLink) Events() <-chan transport.LinkEvent { return l.events }

func (l *pipeLink) Close() error {
	if l.conn != nil {
		return l.conn.Close()
	}
	return nil
}

func startDirectory(t *testing.T, logger *slog.Logger) *discovery.Client {
	t.Helper()
	server := discovery.NewServer(discovery.ServerConfig{Store: discovery.NewMemoryStore(), Logger: logger})
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, listener) }()
	t.Cleanup(func() {
		cancel()
		testutil.RequireReceive(t, done, waitTimeout, "directory did not stop")
	})
	testutil.RequireClosed(t, server.Ready(), waitTimeout, "directory not ready")
	return &discovery.Client{Address: server.Addr().String(), Timeout: waitTimeout}
}

func startBoard(t *testing.T, id string, logger *slog.Logger) (*boardsync.Synchronizer, *canvas.Memory) {
	t.Helper()
	model := canvas.NewMemory()
	board := boardsync.New(boardsync.Config{LocalID: id, Model: model, Logger: logger})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- board.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		testutil.RequireReceive(t, done, waitTimeout, "%s did not stop", id)
	})
	return board, model
}

func awaitApplied(t *testing.T, board *boardsync.Synchronizer, ref boardsync.ActionRef) {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case event := <-board.Events():
			if event.Kind == boardsync.EventApplied && event.Action.Ref() == ref {
				return
			}
		case <-deadline:
			t.Fatalf("%s never reached %s", ref, board.LocalID())
		}
	}
}

// TestHostGuestSession walks the whole path: the host registers its
// signaling endpoint, the guest looks it up, the two negotiate a
// channel, and the guest's stroke and its undo replicate to the host.
func TestHostGuestSession(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	directory := startDirectory(t, logger)
	links := &pipeLinks{}

	// Host side.
	signaling := transport.NewSignalingServer(transport.SignalingServerConfig{Logger: logger})
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go signaling.Serve(ctx, listener)
	port := listener.Addr().(*net.TCPAddr).Port
	if err := directory.Register(ctx, discovery.PeerRecord{ID: "host", Address: "127.0.0.1", Port: port}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	hostNegotiator := transport.NewNegotiator(transport.NegotiatorConfig{LocalID: "host", Links: links, Logger: logger})
	defer hostNegotiator.Close()
	host, hostCanvas := startBoard(t, "host", logger)
	hostStroke, err := host.SubmitLocalAction(ctx, boardsync.Action{
		Kind:   boardsync.KindStrokeDraw,
		Stroke: &boardsync.Stroke{Points: []canvas.Point{{X: 1, Y: 1}, {X: 2, Y: 2}}},
	})
	if err != nil {
		t.Fatal(err)
	}

	accepted := make(chan error, 1)
	go func() {
		incoming := <-signaling.Accepted()
		channel, err := hostNegotiator.Accept(ctx, incoming.Signaler)
		if err == nil {
			err = host.AddPeer(channel)
		}
		accepted <- err
	}()

	// Guest side.
	record, err := directory.Lookup(ctx, "host")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if _, err := directory.Lookup(ctx, "bob"); !discovery.IsNotFound(err) {
		t.Errorf("Lookup(bob) = %v, want not found", err)
	}
	signaler, err := transport.DialSignaler(ctx, "ws://"+record.HostPort()+"/signal", "guest", logger)
	if err != nil {
		t.Fatalf("DialSignaler: %v", err)
	}
	defer signaler.Close()
	guestNegotiator := transport.NewNegotiator(transport.NegotiatorConfig{LocalID: "guest", Links: links, Logger: logger})
	defer guestNegotiator.Close()
	channel, err := guestNegotiator.Connect(ctx, transport.EndpointFromRecord(record), signaler)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	guest, _ := startBoard(t, "guest", logger)
	if err := guest.AddPeer(channel); err != nil {
		t.Fatal(err)
	}
	if err := testutil.RequireReceive(t, accepted, waitTimeout, "host never accepted"); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	drawn, err := guest.SubmitLocalAction(ctx, boardsync.Action{
		Kind:   boardsync.KindStrokeDraw,
		Stroke: &boardsync.Stroke{Points: []canvas.Point{{X: 40, Y: 40}, {X: 45, Y: 50}}, Color: "#ff0000", Width: 3},
	})
	if err != nil {
		t.Fatal(err)
	}
	awaitApplied(t, host, drawn.Ref())
	var ids []string
	host.Do(ctx, func() {
		for _, p := range hostCanvas.Primitives() {
			ids = append(ids, p.ID)
		}
	})
	if len(ids) != 2 || !slices.Contains(ids, drawn.PrimitiveID()) {
		t.Fatalf("host canvas after guest stroke = %v", ids)
	}

	undo, err := guest.Undo(ctx, "guest")
	if err != nil {
		t.Fatal(err)
	}
	awaitApplied(t, host, undo.Ref())
	var remaining []canvas.Primitive
	host.Do(ctx, func() { remaining = hostCanvas.Primitives() })
	if len(remaining) != 1 || remaining[0].ID != hostStroke.PrimitiveID() {
		t.Errorf("host canvas after guest undo = %v, want only the host's stroke", remaining)
	}

	if err := directory.Deregister(ctx, "host"); err != nil {
		t.Fatal(err)
	}
	if _, err := directory.Lookup(ctx, "host"); !discovery.IsNotFound(err) {
		t.Errorf("Lookup after Deregister = %v", err)
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		t.Fatal("scenario ran out of time")
	}
}
