// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Session is one negotiation attempt with one remote peer. It tracks the
// offer/answer state and queues remote candidates that arrive before
// the remote description. A Session performs no I/O and is owned by the
// goroutine driving the attempt.
type Session struct {
	ID      string
	Peer    string
	Mode    Mode
	Attempt int

	state        ConnectionState
	local        string
	remote       string
	remoteSet    bool
	pending      []webrtc.ICECandidateInit
	stateErrors  int
	failureCause error
}

func newSession(id, peer string, mode Mode, attempt int) *Session {
	return &Session{ID: id, Peer: peer, Mode: mode, Attempt: attempt, state: StateNew}
}

// State returns the current state.
func (s *Session) State() ConnectionState { return s.state }

// StateErrors returns how many out-of-state messages were rejected.
func (s *Session) StateErrors() int { return s.stateErrors }

// Err returns the cause recorded by Fail.
func (s *Session) Err() error { return s.failureCause }

// SetLocalOffer records the offer this side sent.
func (s *Session) SetLocalOffer(sdp string) error {
	if s.state != StateNew {
		return fmt.Errorf("session %s: local offer in state %s", s.ID, s.state)
	}
	s.local = sdp
	s.state = StateHaveLocalOffer
	return nil
}

// ApplyAnswer accepts the remote answer to our offer. An answer in any
// state other than HAVE_LOCAL_OFFER is rejected with a
// *NegotiationStateError and changes nothing.
func (s *Session) ApplyAnswer(sdp string) error {
	if s.state != StateHaveLocalOffer {
		s.stateErrors++
		return &NegotiationStateError{Session: s.ID, State: s.state, Message: MessageAnswer}
	}
	s.remote = sdp
	s.remoteSet = true
	s.state = StateStable
	return nil
}

// ApplyOffer records a remote offer and the answer produced for it.
// This is the answering side's path from NEW to STABLE.
func (s *Session) ApplyOffer(offer, answer string) error {
	if s.state != StateNew {
		s.stateErrors++
		return &NegotiationStateError{Session: s.ID, State: s.state, Message: MessageOffer}
	}
	s.remote = offer
	s.local = answer
	s.remoteSet = true
	s.state = StateStable
	return nil
}

// AddRemoteCandidate queues candidate until the remote description is
// set. It returns the candidates that may be applied now, in arrival
// order; the result is empty while the candidate is queued.
func (s *Session) AddRemoteCandidate(candidate webrtc.ICECandidateInit) []webrtc.ICECandidateInit {
	if s.state.Terminal() {
		return nil
	}
	s.pending = append(s.pending, candidate)
	if !s.remoteSet {
		return nil
	}
	return s.TakePending()
}

// TakePending drains the candidate queue once the remote description
// is set.
func (s *Session) TakePending() []webrtc.ICECandidateInit {
	if !s.remoteSet {
		return nil
	}
	ready := s.pending
	s.pending = nil
	return ready
}

// PendingCandidates returns the number of queued candidates.
func (s *Session) PendingCandidates() int { return len(s.pending) }

// BeginChecking records that ICE started connectivity checks.
func (s *Session) BeginChecking() bool {
	if s.state != StateStable {
		return false
	}
	s.state = StateChecking
	return true
}

// MarkConnected records a usable channel.
func (s *Session) MarkConnected() error {
	if s.state != StateStable && s.state != StateChecking {
		return fmt.Errorf("session %s: connected in state %s", s.ID, s.state)
	}
	s.state = StateConnected
	return nil
}

// Fail moves a non-terminal session to FAILED.
func (s *Session) Fail(cause error) {
	if s.state.Terminal() {
		return
	}
	s.state = StateFailed
	s.failureCause = cause
	s.pending = nil
}

// Close releases queued candidates. A session that never connected or
// failed ends up CLOSED.
func (s *Session) Close() {
	s.pending = nil
	if !s.state.Terminal() {
		s.state = StateClosed
	}
}
