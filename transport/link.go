// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"log/slog"
	"net"

	"github.com/pion/webrtc/v4"
)

// LinkEventKind tags a LinkEvent.
type LinkEventKind int

const (
	// LinkCandidate carries a locally gathered candidate to trickle.
	LinkCandidate LinkEventKind = iota + 1

	// LinkChecking reports that ICE connectivity checks started.
	LinkChecking

	// LinkConnected reports that ICE found a working pair.
	LinkConnected

	// LinkChannelOpen carries the open data channel.
	LinkChannelOpen

	// LinkFailed reports that ICE failed, disconnected or closed.
	LinkFailed
)

func (k LinkEventKind) String() string {
	switch k {
	case LinkCandidate:
		return "candidate"
	case LinkChecking:
		return "checking"
	case LinkConnected:
		return "connected"
	case LinkChannelOpen:
		return "channel-open"
	case LinkFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// LinkEvent is one asynchronous occurrence on a Link.
type LinkEvent struct {
	Kind      LinkEventKind
	Candidate webrtc.ICECandidateInit
	Conn      net.Conn
	Err       error
}

// LinkConfig parameterizes one connection attempt.
type LinkConfig struct {
	Mode       Mode
	ICEServers []ICEServer

	// LocalID and PeerID label the data channel's addresses.
	LocalID string
	PeerID  string

	Logger *slog.Logger
}

// Link is one peer connection attempt. Methods other than Events and
// Close are called from a single goroutine.
type Link interface {
	// CreateOffer opens the data channel and returns the local offer.
	CreateOffer(ctx context.Context) (string, error)

	// CreateAnswer applies a remote offer and returns the local
	// answer.
	CreateAnswer(ctx context.Context, offer string) (string, error)

	// SetRemoteAnswer applies the answer to our offer.
	SetRemoteAnswer(answer string) error

	// AddRemoteCandidate applies a trickled remote candidate. The
	// remote description must already be set.
	AddRemoteCandidate(candidate webrtc.ICECandidateInit) error

	Events() <-chan LinkEvent

	// Close releases the attempt. After the channel opened, closing
	// the Link also ends the channel.
	Close() error
}

// LinkFactory creates Links.
type LinkFactory interface {
	NewLink(ctx context.Context, config LinkConfig) (Link, error)
}
