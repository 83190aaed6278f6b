// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// MessageType is the type field of a signaling message.
type MessageType string

const (
	MessageOffer     MessageType = "offer"
	MessageAnswer    MessageType = "answer"
	MessageCandidate MessageType = "ice-candidate"
	MessageBye       MessageType = "bye"
)

// SignalMessage is one JSON message on a signaling link.
type SignalMessage struct {
	Type      MessageType              `json:"type"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
	Session   string                   `json:"session"`
	From      string                   `json:"from,omitempty"`

	// Mode tells the answering side which transport policy the
	// offer was made under.
	Mode Mode `json:"mode,omitempty"`
}

// Validate checks that the fields required by the message type are
// present.
func (m SignalMessage) Validate() error {
	if m.Session == "" {
		return errors.New("signal message without session")
	}
	switch m.Type {
	case MessageOffer, MessageAnswer:
		if m.SDP == "" {
			return fmt.Errorf("%s without sdp", m.Type)
		}
	case MessageCandidate:
		if m.Candidate == nil {
			return errors.New("ice-candidate without candidate")
		}
	case MessageBye:
	default:
		return fmt.Errorf("unknown signal message type %q", m.Type)
	}
	return nil
}

// Signaler is a bidirectional message link to exactly one remote peer,
// used to exchange descriptions and candidates before a direct channel
// exists. Messages arrive in the order the remote sent them.
type Signaler interface {
	// Send delivers msg to the remote peer. It blocks until the
	// message is handed to the link, ctx is done, or the link closes.
	Send(ctx context.Context, msg SignalMessage) error

	// Messages delivers incoming messages. It is never closed; watch
	// Done instead.
	Messages() <-chan SignalMessage

	// Done is closed when the link ends from either side.
	Done() <-chan struct{}

	Close() error
}
