// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

// Package boardsync replicates edits to a shared canvas between peers.
//
// Every edit is an [Action] stamped with its author and a per-author
// sequence number. Local edits are applied immediately and broadcast
// to every connected peer as one compressed CBOR frame; remote edits
// are replayed in per-author sequence order. There is no ordering
// across authors: concurrent edits land in whatever order they arrive.
//
// Each author keeps an undo and a redo stack ([AuthorHistory]). Peers
// mirror remote authors' stacks as shadows, so an Undo action names the
// edit it reverses and every peer reverses the same recorded effect.
// Only the author of an edit can undo it.
//
// A [Synchronizer] serializes all of this through one inbox consumed by
// [Synchronizer.Run]. Broadcasts never block: a slow or failed peer
// misses actions and is not caught up later.
package boardsync
