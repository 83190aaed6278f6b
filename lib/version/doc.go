// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

// Package version carries build metadata stamped in with -ldflags:
//
//	go build -ldflags "-X github.com/easel-collab/easel/lib/version.GitCommit=$(git rev-parse --short HEAD)"
package version
