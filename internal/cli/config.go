// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"log/slog"
	"os"

	"github.com/easel-collab/easel/lib/config"
)

// LoadConfig reads the file named by path, or by EASEL_CONFIG when
// path is empty. Daemons pass required; the interactive commands fall
// back to the defaults when neither is set. The result is validated.
func LoadConfig(path string, required bool) (*config.Config, error) {
	var cfg *config.Config
	var err error
	switch {
	case path != "":
		cfg, err = config.LoadFile(path)
	case os.Getenv("EASEL_CONFIG") != "" || required:
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoggerFor returns the stderr logger at the configured level.
func LoggerFor(cfg *config.Config) (*slog.Logger, error) {
	level, err := cfg.Logging.SlogLevel()
	if err != nil {
		return nil, err
	}
	return NewLogger(level), nil
}
