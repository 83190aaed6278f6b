// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"fmt"
)

// ErrNegotiationTimeout marks a wait that ran out of time: no answer,
// no ICE connectivity, or no open data channel within the policy
// timeout.
var ErrNegotiationTimeout = errors.New("negotiation timed out")

// ErrSignalingClosed is returned when the signaling link goes away
// while a negotiation still depends on it.
var ErrSignalingClosed = errors.New("signaling link closed")

// ErrNegotiatorClosed is returned by Connect and Accept after Close.
var ErrNegotiatorClosed = errors.New("negotiator closed")

// ErrQueueFull is the cause of a TransportError when a channel's
// outbound queue has no room.
var ErrQueueFull = errors.New("outbound queue full")

// NegotiationError is the single terminal failure of Connect. It wraps
// the cause of the last attempt, so errors.Is(err,
// ErrNegotiationTimeout) holds when that attempt timed out.
type NegotiationError struct {
	Peer     string
	Attempts int
	Last     error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation with %s failed after %d attempts: %v", e.Peer, e.Attempts, e.Last)
}

func (e *NegotiationError) Unwrap() error { return e.Last }

// NegotiationStateError describes a signaling message that does not fit
// the session's state, such as an answer after the session is already
// stable or an answer for a session that is not in flight. The
// negotiator logs and counts these and carries on.
type NegotiationStateError struct {
	Session string
	State   ConnectionState
	Message MessageType
}

func (e *NegotiationStateError) Error() string {
	return fmt.Sprintf("unexpected %s for session %s in state %s", e.Message, e.Session, e.State)
}

// TransportError is a send or receive failure on an established
// channel.
type TransportError struct {
	Peer string
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Peer, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
