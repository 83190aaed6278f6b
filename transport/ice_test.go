// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/easel-collab/easel/discovery"
	"github.com/easel-collab/easel/lib/config"
)

var bobWithRelay = Endpoint{
	ID:      "bob",
	Address: "10.0.0.7:5006",
	Relay:   discovery.RelayInfo{URL: "turn:relay.example:3478", Username: "1767225600:bob", Secret: "c2VjcmV0"},
}

func TestICEConfigFromRelay(t *testing.T) {
	if servers := ICEConfigFromRelay(discovery.RelayInfo{}); servers != nil {
		t.Errorf("no relay -> %+v", servers)
	}
	servers := ICEConfigFromRelay(bobWithRelay.Relay)
	if len(servers) != 1 || servers[0].URLs[0] != "turn:relay.example:3478" ||
		servers[0].Username != "1767225600:bob" || servers[0].Credential != "c2VjcmV0" {
		t.Errorf("ICEConfigFromRelay = %+v", servers)
	}
}

func TestRelayStrategies(t *testing.T) {
	ctx := context.Background()
	static := StaticRelay{Servers: testRelay}
	bobWithout := Endpoint{ID: "bob"}

	if _, err := (NoRelay{}).RelayServers(ctx, bobWithRelay); !errors.Is(err, ErrNoRelay) {
		t.Errorf("NoRelay = %v", err)
	}
	if _, err := (PeerRelay{}).RelayServers(ctx, bobWithout); !errors.Is(err, ErrNoRelay) {
		t.Errorf("PeerRelay without published relay = %v", err)
	}

	first := FirstRelay{PeerRelay{}, static}
	servers, err := first.RelayServers(ctx, bobWithRelay)
	if err != nil || servers[0].URLs[0] != "turn:relay.example:3478" || servers[0].Username != "1767225600:bob" {
		t.Errorf("FirstRelay prefers the peer relay: %+v %v", servers, err)
	}
	servers, err = first.RelayServers(ctx, bobWithout)
	if err != nil || servers[0].Username != "u" {
		t.Errorf("FirstRelay falls back to static: %+v %v", servers, err)
	}
	if _, err := (FirstRelay{NoRelay{}, PeerRelay{}}).RelayServers(ctx, bobWithout); !errors.Is(err, ErrNoRelay) {
		t.Errorf("FirstRelay with nothing = %v", err)
	}
}

func TestRelayStrategyFromConfig(t *testing.T) {
	staticRelay := config.StaticRelayConfig{URL: "turn:static:3478", Username: "u", Credential: "p"}
	tests := []struct {
		name    string
		config  config.NegotiationConfig
		wantErr bool
		check   func(RelayStrategy) bool
	}{
		{"none", config.NegotiationConfig{RelayStrategy: "none"}, false,
			func(s RelayStrategy) bool { _, ok := s.(NoRelay); return ok }},
		{"peer", config.NegotiationConfig{RelayStrategy: "peer"}, false,
			func(s RelayStrategy) bool { _, ok := s.(PeerRelay); return ok }},
		{"static", config.NegotiationConfig{RelayStrategy: "static", StaticRelay: staticRelay}, false,
			func(s RelayStrategy) bool { _, ok := s.(StaticRelay); return ok }},
		{"static without url", config.NegotiationConfig{RelayStrategy: "static"}, true, nil},
		{"auto", config.NegotiationConfig{RelayStrategy: "auto", StaticRelay: staticRelay}, false,
			func(s RelayStrategy) bool { first, ok := s.(FirstRelay); return ok && len(first) == 2 }},
		{"unknown", config.NegotiationConfig{RelayStrategy: "carrier-pigeon"}, true, nil},
	}
	for _, test := range tests {
		strategy, err := RelayStrategyFromConfig(test.config, nil)
		if (err != nil) != test.wantErr {
			t.Errorf("%s: error = %v, wantErr %v", test.name, err, test.wantErr)
			continue
		}
		if test.check != nil && !test.check(strategy) {
			t.Errorf("%s: strategy = %#v", test.name, strategy)
		}
	}
}

func TestEndpointFromRecord(t *testing.T) {
	endpoint := EndpointFromRecord(discovery.PeerRecord{ID: "bob", Address: "::1", Port: 5006})
	if endpoint.Address != "[::1]:5006" || endpoint.ID != "bob" {
		t.Errorf("EndpointFromRecord = %+v", endpoint)
	}
}
