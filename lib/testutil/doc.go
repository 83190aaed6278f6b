// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds channel helpers for tests that coordinate
// goroutines. The timeouts guard against hangs only; they are never
// used to wait for behavior to happen.
package testutil
