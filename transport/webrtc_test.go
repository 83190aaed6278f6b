// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/easel-collab/easel/lib/testutil"
)

// TestWebRTCLoopback negotiates a real pion connection between two
// negotiators in one process. Empty ICE server lists mean host
// candidates only, over loopback.
func TestWebRTCLoopback(t *testing.T) {
	if testing.Short() {
		t.Skip("pion loopback negotiation")
	}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	links := &WebRTCLinkFactory{IncludeLoopback: true}
	policy := RetryPolicy{Attempts: 2, Timeout: 15 * time.Second}

	alice := NewNegotiator(NegotiatorConfig{LocalID: "alice", Links: links, Policy: policy, Logger: logger})
	defer alice.Close()
	bob := NewNegotiator(NegotiatorConfig{LocalID: "bob", Links: links, Policy: policy, Logger: logger})
	defer bob.Close()

	aliceSide, bobSide := NewMemorySignalerPair()
	defer aliceSide.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	accepted := make(chan connectResult, 1)
	go func() {
		channel, err := bob.Accept(ctx, bobSide)
		accepted <- connectResult{channel, err}
	}()

	aliceChannel, err := alice.Connect(ctx, Endpoint{ID: "bob"}, aliceSide)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer aliceChannel.Close()
	outcome := testutil.RequireReceive(t, accepted, 30*time.Second, "Accept did not return")
	if outcome.err != nil {
		t.Fatalf("Accept: %v", outcome.err)
	}
	bobChannel := outcome.channel
	defer bobChannel.Close()

	if bobChannel.Peer() != "alice" || aliceChannel.Peer() != "bob" {
		t.Errorf("peers = %q / %q", bobChannel.Peer(), aliceChannel.Peer())
	}

	large := make([]byte, 100_000)
	for index := range large {
		large[index] = byte(index)
	}
	for _, payload := range [][]byte{[]byte("stroke"), large} {
		if err := aliceChannel.Send(payload); err != nil {
			t.Fatal(err)
		}
		got := testutil.RequireReceive(t, bobChannel.Messages(), 10*time.Second, "payload lost")
		if len(got) != len(payload) {
			t.Fatalf("received %d bytes, want %d", len(got), len(payload))
		}
	}
	if err := bobChannel.Send([]byte("ack")); err != nil {
		t.Fatal(err)
	}
	if got := testutil.RequireReceive(t, aliceChannel.Messages(), 10*time.Second, "reply lost"); string(got) != "ack" {
		t.Errorf("reply = %q", got)
	}

	aliceChannel.Close()
	testutil.RequireClosed(t, bobChannel.Done(), 30*time.Second, "remote close not observed")
}
