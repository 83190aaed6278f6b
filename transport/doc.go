// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport establishes message channels between two Easel
// peers that may sit behind NATs or firewalls.
//
// A [Negotiator] runs the offer/answer exchange over a [Signaler] (a
// websocket to the hosting peer's [SignalingServer], or an in-process
// [MemorySignaler] pair in tests) and drives a [Link], normally a pion
// PeerConnection made by [WebRTCLinkFactory]. Each attempt is a
// [Session] that moves NEW → HAVE_LOCAL_OFFER → STABLE → CHECKING →
// CONNECTED. Remote candidates that arrive before the answer wait in
// the session's FIFO and are applied in order once it lands.
//
// Connect makes up to [RetryPolicy].Attempts direct attempts, each wait
// bounded by the policy timeout, then repeats the same policy with
// ICE restricted to TURN relay candidates from a [RelayStrategy].
// Failed attempts are logged; only the final failure is returned (as a
// [NegotiationError]) and published as a FAILED [StateEvent].
//
// The result is a [Channel]: a framed, non-blocking-send message link
// over the detached data channel ([DataChannelConn]). [NewConnChannel]
// builds the same framing over any net.Conn.
package transport
