// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the CBOR configuration shared by every Easel
// wire format. Encoding is Core Deterministic (RFC 8949 §4.2), so two
// peers that encode the same action produce identical bytes.
package codec
