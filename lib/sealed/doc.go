// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed encrypts small secrets (relay passwords) with age so
// registry backends never hold them in plaintext. Ciphertext is
// base64 so it fits a TEXT column or a redis hash field.
package sealed
