// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/easel-collab/easel/lib/config"
	"github.com/easel-collab/easel/lib/sealed"
)

// OpenStore opens the backend named in the store configuration. When
// a seal identity is configured, relay secrets are sealed at rest.
func OpenStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (Store, error) {
	var box *sealed.Box
	if cfg.SealIdentity != "" {
		var err error
		if box, err = sealed.LoadBox(cfg.SealIdentity); err != nil {
			return nil, fmt.Errorf("loading seal identity: %w", err)
		}
	}

	switch cfg.Backend {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return OpenSQLiteStore(ctx, SQLiteConfig{Path: cfg.Path, Box: box, Logger: logger})
	case "redis":
		return OpenRedisStore(ctx, cfg.DSN, box)
	case "postgres":
		return OpenPostgresStore(ctx, cfg.DSN, box)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// PolicyFromConfig builds the conflict policy from the discovery
// configuration.
func PolicyFromConfig(cfg config.DiscoveryConfig) (ConflictPolicy, error) {
	mode, err := ParseConflictMode(cfg.ConflictPolicy)
	if err != nil {
		return ConflictPolicy{}, err
	}
	return ConflictPolicy{Mode: mode, Duration: cfg.Lease}, nil
}
