// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads Easel's YAML configuration.
//
// There is exactly one source: the file named by --config or by the
// EASEL_CONFIG environment variable. No search paths, no layered
// fallbacks. Values not present in the file keep the defaults from
// Default, then the section for the selected environment is applied
// on top.
package config
