// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

// Package discovery implements the Easel directory: a service mapping
// a participant identity to the endpoint its signaling listener is
// reachable at, plus the TURN relay credentials other peers may use to
// reach it.
//
// The directory is a line protocol over TCP (see ParseCommand) served
// by Server on top of a Store. Four stores are provided:
//
//   - MemoryStore for tests and single-process deployments
//   - SQLiteStore, the default, persisting to one file
//   - RedisStore and PostgresStore for several daemons sharing a
//     directory
//
// Every store implements the same atomic per-id upsert, and the
// ConflictPolicy passed with each Upsert decides what happens when an
// id is already registered: LastWriteWins replaces the record, Lease
// rejects a different endpoint while the holder's lease is live.
//
// Client is the peer side. Advertise and Browse publish and find a
// directory on the local network over mDNS.
package discovery
