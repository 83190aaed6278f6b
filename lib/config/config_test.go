// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "easel.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if cfg.Negotiation.Attempts != 3 || cfg.Negotiation.Timeout != 10*time.Second {
		t.Errorf("negotiation defaults = %d x %s, want 3 x 10s", cfg.Negotiation.Attempts, cfg.Negotiation.Timeout)
	}
	if cfg.Discovery.ConflictPolicy != "last-write-wins" {
		t.Errorf("conflict policy = %q", cfg.Discovery.ConflictPolicy)
	}
}

func TestLoadRequiresEaselConfig(t *testing.T) {
	t.Setenv("EASEL_CONFIG", "")
	_, err := Load()
	if err == nil {
		t.Fatal("Load() succeeded without EASEL_CONFIG")
	}
	if !strings.HasPrefix(err.Error(), "EASEL_CONFIG environment variable not set") {
		t.Errorf("error = %q", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
environment: staging
discovery:
  listen: ":7000"
  store:
    backend: memory
negotiation:
  attempts: 5
  timeout: 2s
sync:
  compression: lz4
staging:
  logging:
    level: debug
`)
	t.Setenv("EASEL_CONFIG", path)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Discovery.Listen != ":7000" || cfg.Discovery.Store.Backend != "memory" {
		t.Errorf("discovery = %+v", cfg.Discovery)
	}
	if cfg.Negotiation.Attempts != 5 || cfg.Negotiation.Timeout != 2*time.Second {
		t.Errorf("negotiation = %+v", cfg.Negotiation)
	}
	if cfg.Negotiation.RelayStrategy != "auto" {
		t.Errorf("unset relay_strategy = %q, want default auto", cfg.Negotiation.RelayStrategy)
	}
	if cfg.Sync.Compression != "lz4" {
		t.Errorf("compression = %q", cfg.Sync.Compression)
	}
	level, err := cfg.Logging.SlogLevel()
	if err != nil || level != slog.LevelDebug {
		t.Errorf("staging override level = %v, %v", level, err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestProductionDefaults(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "environment: production\n"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Discovery.ConflictPolicy != "lease" {
		t.Errorf("production conflict policy = %q, want lease", cfg.Discovery.ConflictPolicy)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("production level = %q, want warn", cfg.Logging.Level)
	}
}

func TestExpandVars(t *testing.T) {
	tests := []struct {
		input    string
		vars     map[string]string
		expected string
	}{
		{"${HOME}/easel.db", map[string]string{"HOME": "/home/ada"}, "/home/ada/easel.db"},
		{"${EASEL_TEST_MISSING:-fallback}", map[string]string{}, "fallback"},
		{"${PRESENT:-fallback}", map[string]string{"PRESENT": "value"}, "value"},
		{"plain", nil, "plain"},
	}
	for _, test := range tests {
		if got := expandVars(test.input, test.vars); got != test.expected {
			t.Errorf("expandVars(%q) = %q, want %q", test.input, got, test.expected)
		}
	}
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Environment = "moon"
	cfg.Discovery.Store.Backend = "postgres"
	cfg.Negotiation.Attempts = 0
	cfg.Negotiation.RelayStrategy = "static"
	cfg.Sync.Compression = "brotli"
	cfg.Logging.Level = "loud"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil")
	}
	for _, fragment := range []string{
		"invalid environment",
		"discovery.store.dsn",
		"negotiation.attempts",
		"static_relay.url",
		"sync.compression",
		"logging.level",
	} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("Validate() error missing %q:\n%v", fragment, err)
		}
	}
}
