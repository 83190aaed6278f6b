// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/easel-collab/easel/discovery"
	"github.com/easel-collab/easel/lib/config"
	"github.com/pion/webrtc/v4"
)

// ICEServer is one STUN or TURN server handed to pion.
type ICEServer = webrtc.ICEServer

// Endpoint is the remote side of a negotiation as discovery reported
// it.
type Endpoint struct {
	ID      string
	Address string
	Relay   discovery.RelayInfo
}

// EndpointFromRecord converts a discovery record.
func EndpointFromRecord(record discovery.PeerRecord) Endpoint {
	return Endpoint{ID: record.ID, Address: record.HostPort(), Relay: record.Relay}
}

// STUNServers returns one ICEServer per STUN URL. An empty list means
// host candidates only, which is enough on one machine or one LAN.
func STUNServers(urls []string) []ICEServer {
	if len(urls) == 0 {
		return nil
	}
	return []ICEServer{{URLs: urls}}
}

// ICEConfigFromRelay converts the relay a peer published in discovery.
// It returns nil when no relay was published.
func ICEConfigFromRelay(relay discovery.RelayInfo) []ICEServer {
	if relay.IsZero() {
		return nil
	}
	return []ICEServer{{
		URLs:       []string{relay.URL},
		Username:   relay.Username,
		Credential: relay.Secret,
	}}
}

// ErrNoRelay is returned by a RelayStrategy that has no server for a
// peer.
var ErrNoRelay = errors.New("no relay available")

// RelayStrategy picks the TURN servers used once direct attempts are
// exhausted.
type RelayStrategy interface {
	RelayServers(ctx context.Context, peer Endpoint) ([]ICEServer, error)
}

// NoRelay disables the relay phase.
type NoRelay struct{}

func (NoRelay) RelayServers(context.Context, Endpoint) ([]ICEServer, error) {
	return nil, ErrNoRelay
}

// StaticRelay always offers the same servers.
type StaticRelay struct {
	Servers []ICEServer
}

func (s StaticRelay) RelayServers(context.Context, Endpoint) ([]ICEServer, error) {
	if len(s.Servers) == 0 {
		return nil, ErrNoRelay
	}
	return s.Servers, nil
}

// PeerRelay uses the relay credentials the remote peer published in
// its discovery record.
type PeerRelay struct{}

func (PeerRelay) RelayServers(_ context.Context, peer Endpoint) ([]ICEServer, error) {
	servers := ICEConfigFromRelay(peer.Relay)
	if servers == nil {
		return nil, fmt.Errorf("%s published no relay: %w", peer.ID, ErrNoRelay)
	}
	return servers, nil
}

// PublishedRelay offers the relay this peer most recently published in
// discovery. It is safe for concurrent use; call Publish after every
// re-registration.
type PublishedRelay struct {
	mu    sync.Mutex
	relay discovery.RelayInfo
}

// Publish replaces the relay. A zero RelayInfo withdraws it.
func (p *PublishedRelay) Publish(relay discovery.RelayInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.relay = relay
}

func (p *PublishedRelay) RelayServers(context.Context, Endpoint) ([]ICEServer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.relay.IsZero() {
		return nil, ErrNoRelay
	}
	return ICEConfigFromRelay(p.relay), nil
}

// FirstRelay returns the servers of the first strategy that has any.
type FirstRelay []RelayStrategy

func (f FirstRelay) RelayServers(ctx context.Context, peer Endpoint) ([]ICEServer, error) {
	var errs []error
	for _, strategy := range f {
		servers, err := strategy.RelayServers(ctx, peer)
		if err == nil && len(servers) > 0 {
			return servers, nil
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil, ErrNoRelay
	}
	return nil, errors.Join(errs...)
}

// RelayStrategyFromConfig builds the strategy named by
// negotiation.relay_strategy.
func RelayStrategyFromConfig(negotiation config.NegotiationConfig, logger *slog.Logger) (RelayStrategy, error) {
	var static RelayStrategy = NoRelay{}
	if negotiation.StaticRelay.URL != "" {
		static = StaticRelay{Servers: []ICEServer{{
			URLs:       []string{negotiation.StaticRelay.URL},
			Username:   negotiation.StaticRelay.Username,
			Credential: negotiation.StaticRelay.Credential,
		}}}
	}
	switch negotiation.RelayStrategy {
	case "none":
		return NoRelay{}, nil
	case "static":
		if negotiation.StaticRelay.URL == "" {
			return nil, errors.New("relay_strategy static requires static_relay.url")
		}
		return static, nil
	case "peer":
		return PeerRelay{}, nil
	case "", "auto":
		if logger != nil && negotiation.StaticRelay.URL == "" {
			logger.Debug("no static relay configured, relay fallback uses peer records only")
		}
		return FirstRelay{PeerRelay{}, static}, nil
	default:
		return nil, fmt.Errorf("unknown relay_strategy %q", negotiation.RelayStrategy)
	}
}
