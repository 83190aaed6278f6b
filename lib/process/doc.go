// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds entrypoint helpers shared by the Easel
// binaries.
package process
