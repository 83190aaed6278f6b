// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens SQLite connection pools with the pragmas
// every Easel database uses and applies a schema before first use.
package sqlitepool
