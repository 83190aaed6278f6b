// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package transport

// ConnectionState is the position of one negotiation attempt.
type ConnectionState int

const (
	StateNew ConnectionState = iota
	StateHaveLocalOffer
	StateStable
	StateChecking
	StateConnected
	StateFailed
	StateClosed
)

var stateNames = [...]string{
	StateNew:            "NEW",
	StateHaveLocalOffer: "HAVE_LOCAL_OFFER",
	StateStable:         "STABLE",
	StateChecking:       "CHECKING",
	StateConnected:      "CONNECTED",
	StateFailed:         "FAILED",
	StateClosed:         "CLOSED",
}

func (s ConnectionState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition is possible.
func (s ConnectionState) Terminal() bool {
	return s == StateConnected || s == StateFailed || s == StateClosed
}

// Mode selects how ICE may connect.
type Mode string

const (
	// ModeDirect allows host, server-reflexive and relay candidates.
	ModeDirect Mode = "direct"

	// ModeRelay restricts ICE to TURN relay candidates.
	ModeRelay Mode = "relay"
)
