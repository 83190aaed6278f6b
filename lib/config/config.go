// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment selects which override section applies.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Config is the root of an easel.yaml file.
type Config struct {
	Environment Environment `yaml:"environment"`

	Discovery   DiscoveryConfig   `yaml:"discovery"`
	Signaling   SignalingConfig   `yaml:"signaling"`
	Negotiation NegotiationConfig `yaml:"negotiation"`
	Relay       RelayConfig       `yaml:"relay"`
	Sync        SyncConfig        `yaml:"sync"`
	Logging     LoggingConfig     `yaml:"logging"`

	Development *Overrides `yaml:"development,omitempty"`
	Staging     *Overrides `yaml:"staging,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides are per-environment replacements. Only non-zero fields
// replace the base value.
type Overrides struct {
	Discovery   *DiscoveryConfig   `yaml:"discovery,omitempty"`
	Negotiation *NegotiationConfig `yaml:"negotiation,omitempty"`
	Logging     *LoggingConfig     `yaml:"logging,omitempty"`
}

// DiscoveryConfig configures both the directory daemon (Listen, Store,
// ConflictPolicy, Lease) and its clients (Address).
type DiscoveryConfig struct {
	// Listen is the daemon's TCP listen address.
	Listen string `yaml:"listen"`

	// Address is where clients reach the directory. Empty means
	// browse the LAN for an mDNS advertisement.
	Address string `yaml:"address"`

	Store StoreConfig `yaml:"store"`

	// ConflictPolicy is "last-write-wins" or "lease".
	ConflictPolicy string `yaml:"conflict_policy"`

	// Lease is how long a record is protected from takeover under
	// the lease policy.
	Lease time.Duration `yaml:"lease"`

	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// MDNS enables LAN advertisement of the directory.
	MDNS bool `yaml:"mdns"`

	TLSCert string `yaml:"tls_cert"`
	TLSKey  string `yaml:"tls_key"`
}

// StoreConfig selects the registry backend.
type StoreConfig struct {
	// Backend is one of memory, sqlite, redis, postgres.
	Backend string `yaml:"backend"`

	// Path is the SQLite database file.
	Path string `yaml:"path"`

	// DSN is the redis address or the postgres connection URL.
	DSN string `yaml:"dsn"`

	// SealIdentity is an age identity file. When set, relay secrets
	// are stored sealed to its recipient.
	SealIdentity string `yaml:"seal_identity"`
}

// SignalingConfig configures the websocket signaling endpoint a
// hosting peer exposes.
type SignalingConfig struct {
	Listen string `yaml:"listen"`

	// AdvertiseAddress is the host published in discovery. Empty
	// means the listener's own address.
	AdvertiseAddress string `yaml:"advertise_address"`

	Path string `yaml:"path"`
}

// NegotiationConfig is the retry and relay policy of the negotiator.
type NegotiationConfig struct {
	Attempts int           `yaml:"attempts"`
	Timeout  time.Duration `yaml:"timeout"`

	// RelayStrategy is one of none, static, peer, auto. auto tries
	// the peer's published relay first, then the static one.
	RelayStrategy string `yaml:"relay_strategy"`

	STUNServers []string `yaml:"stun_servers"`

	StaticRelay StaticRelayConfig `yaml:"static_relay"`
}

// StaticRelayConfig is a TURN server configured out of band.
type StaticRelayConfig struct {
	URL        string `yaml:"url"`
	Username   string `yaml:"username"`
	Credential string `yaml:"credential"`
}

// RelayConfig configures easel-relay and the credentials hosts mint
// for it.
type RelayConfig struct {
	Listen   string `yaml:"listen"`
	PublicIP string `yaml:"public_ip"`
	Realm    string `yaml:"realm"`

	// URL is the turn: URL advertised to peers.
	URL string `yaml:"url"`

	// SecretFile holds the shared secret used for time-limited
	// credentials.
	SecretFile string `yaml:"secret_file"`

	CredentialTTL time.Duration `yaml:"credential_ttl"`
}

// SyncConfig tunes the action synchronizer.
type SyncConfig struct {
	Compression          string `yaml:"compression"`
	CompressionThreshold int    `yaml:"compression_threshold"`
	QueueDepth           int    `yaml:"queue_depth"`
	ReorderWindow        int    `yaml:"reorder_window"`
}

// LoggingConfig holds the slog level name.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used for every field the file
// leaves unset.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Environment: Development,
		Discovery: DiscoveryConfig{
			Listen:         ":5005",
			Address:        "",
			ConflictPolicy: "last-write-wins",
			Lease:          5 * time.Minute,
			IdleTimeout:    2 * time.Minute,
			Store: StoreConfig{
				Backend: "sqlite",
				Path:    filepath.Join(homeDir, ".local", "share", "easel", "discovery.db"),
			},
		},
		Signaling: SignalingConfig{
			Listen: ":5006",
			Path:   "/signal",
		},
		Negotiation: NegotiationConfig{
			Attempts:      3,
			Timeout:       10 * time.Second,
			RelayStrategy: "auto",
			STUNServers:   []string{"stun:stun.l.google.com:19302"},
		},
		Relay: RelayConfig{
			Listen:        "0.0.0.0:3478",
			Realm:         "easel",
			CredentialTTL: 12 * time.Hour,
		},
		Sync: SyncConfig{
			Compression:          "zstd",
			CompressionThreshold: 512,
			QueueDepth:           256,
			ReorderWindow:        1024,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads the file named by EASEL_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv("EASEL_CONFIG")
	if path == "" {
		return nil, errors.New("EASEL_CONFIG environment variable not set; " +
			"set it to the path of your easel.yaml, or pass --config")
	}
	return LoadFile(path)
}

// LoadFile reads and post-processes one configuration file.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		if overrides == nil {
			overrides = &Overrides{
				Discovery: &DiscoveryConfig{ConflictPolicy: "lease"},
				Logging:   &LoggingConfig{Level: "warn"},
			}
		}
	}
	if overrides == nil {
		return
	}

	if discovery := overrides.Discovery; discovery != nil {
		setString(&c.Discovery.Listen, discovery.Listen)
		setString(&c.Discovery.Address, discovery.Address)
		setString(&c.Discovery.ConflictPolicy, discovery.ConflictPolicy)
		setString(&c.Discovery.Store.Backend, discovery.Store.Backend)
		setString(&c.Discovery.Store.Path, discovery.Store.Path)
		setString(&c.Discovery.Store.DSN, discovery.Store.DSN)
		setString(&c.Discovery.Store.SealIdentity, discovery.Store.SealIdentity)
		if discovery.Lease > 0 {
			c.Discovery.Lease = discovery.Lease
		}
		if discovery.MDNS {
			c.Discovery.MDNS = true
		}
	}
	if negotiation := overrides.Negotiation; negotiation != nil {
		if negotiation.Attempts > 0 {
			c.Negotiation.Attempts = negotiation.Attempts
		}
		if negotiation.Timeout > 0 {
			c.Negotiation.Timeout = negotiation.Timeout
		}
		setString(&c.Negotiation.RelayStrategy, negotiation.RelayStrategy)
		if len(negotiation.STUNServers) > 0 {
			c.Negotiation.STUNServers = negotiation.STUNServers
		}
	}
	if overrides.Logging != nil {
		setString(&c.Logging.Level, overrides.Logging.Level)
	}
}

func setString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{"HOME": os.Getenv("HOME")}
	for _, field := range []*string{
		&c.Discovery.Store.Path,
		&c.Discovery.Store.SealIdentity,
		&c.Discovery.TLSCert,
		&c.Discovery.TLSKey,
		&c.Relay.SecretFile,
	} {
		*field = expandVars(*field, vars)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default}. vars wins over the
// process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, fallback := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return fallback
	})
}

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	if !slices.Contains([]Environment{Development, Staging, Production}, c.Environment) {
		errs = append(errs, fmt.Errorf("invalid environment: %q", c.Environment))
	}

	backends := []string{"memory", "sqlite", "redis", "postgres"}
	if !slices.Contains(backends, c.Discovery.Store.Backend) {
		errs = append(errs, fmt.Errorf("discovery.store.backend must be one of %v", backends))
	}
	switch c.Discovery.Store.Backend {
	case "sqlite":
		if c.Discovery.Store.Path == "" {
			errs = append(errs, errors.New("discovery.store.path is required for the sqlite backend"))
		}
	case "redis", "postgres":
		if c.Discovery.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("discovery.store.dsn is required for the %s backend", c.Discovery.Store.Backend))
		}
	}
	if !slices.Contains([]string{"last-write-wins", "lease"}, c.Discovery.ConflictPolicy) {
		errs = append(errs, fmt.Errorf("discovery.conflict_policy must be last-write-wins or lease, got %q", c.Discovery.ConflictPolicy))
	}
	if c.Discovery.ConflictPolicy == "lease" && c.Discovery.Lease <= 0 {
		errs = append(errs, errors.New("discovery.lease must be positive under the lease policy"))
	}
	if (c.Discovery.TLSCert == "") != (c.Discovery.TLSKey == "") {
		errs = append(errs, errors.New("discovery.tls_cert and discovery.tls_key must be set together"))
	}

	if c.Negotiation.Attempts < 1 {
		errs = append(errs, errors.New("negotiation.attempts must be at least 1"))
	}
	if c.Negotiation.Timeout <= 0 {
		errs = append(errs, errors.New("negotiation.timeout must be positive"))
	}
	strategies := []string{"none", "static", "peer", "auto"}
	if !slices.Contains(strategies, c.Negotiation.RelayStrategy) {
		errs = append(errs, fmt.Errorf("negotiation.relay_strategy must be one of %v", strategies))
	}
	if c.Negotiation.RelayStrategy == "static" && c.Negotiation.StaticRelay.URL == "" {
		errs = append(errs, errors.New("negotiation.static_relay.url is required for the static relay strategy"))
	}

	if !slices.Contains([]string{"none", "lz4", "zstd"}, c.Sync.Compression) {
		errs = append(errs, fmt.Errorf("sync.compression must be none, lz4, or zstd, got %q", c.Sync.Compression))
	}
	if c.Sync.QueueDepth < 1 {
		errs = append(errs, errors.New("sync.queue_depth must be at least 1"))
	}
	if c.Sync.ReorderWindow < 1 {
		errs = append(errs, errors.New("sync.reorder_window must be at least 1"))
	}

	if _, err := c.Logging.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// SlogLevel parses Level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("logging.level: %w", err)
	}
	return level, nil
}
