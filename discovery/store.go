// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Store is the directory's backing key-value store.
//
// Upsert is atomic per id: two registrations of the same id never
// interleave their read-check-write, while registrations of different
// ids proceed in parallel. Get never waits on a write to a different
// id.
type Store interface {
	// Upsert replaces the whole record for record.ID, or rejects it
	// with a *RegistrationConflict when policy says so.
	Upsert(ctx context.Context, record PeerRecord, policy ConflictPolicy) error

	// Get returns the record or a *NotFoundError.
	Get(ctx context.Context, id string) (PeerRecord, error)

	// Delete removes the record or returns a *NotFoundError.
	Delete(ctx context.Context, id string) error

	Close() error
}

// ConflictMode names how a registration for an existing id is handled.
type ConflictMode string

const (
	// LastWriteWins replaces the existing record unconditionally.
	LastWriteWins ConflictMode = "last-write-wins"

	// Lease rejects a registration from a different endpoint while the
	// existing record is younger than the lease duration. The same
	// endpoint may always refresh.
	Lease ConflictMode = "lease"
)

// ConflictPolicy is passed on every Upsert so the server owns the
// policy and stores only enforce it atomically.
type ConflictPolicy struct {
	Mode     ConflictMode
	Duration time.Duration
}

// ParseConflictMode parses the configuration spelling.
func ParseConflictMode(name string) (ConflictMode, error) {
	switch ConflictMode(name) {
	case LastWriteWins, "":
		return LastWriteWins, nil
	case Lease:
		return Lease, nil
	default:
		return "", fmt.Errorf("unknown conflict policy %q", name)
	}
}

// admit decides whether incoming may replace existing. existing is nil
// when the id is free.
func (p ConflictPolicy) admit(existing *PeerRecord, incoming PeerRecord) error {
	if p.Mode != Lease || existing == nil || existing.sameEndpoint(incoming) {
		return nil
	}
	expires := existing.LastSeen.Add(p.Duration)
	if incoming.LastSeen.Before(expires) {
		return &RegistrationConflict{
			ID:      incoming.ID,
			Holder:  existing.HostPort(),
			Expires: expires,
		}
	}
	return nil
}

// MemoryStore keeps records in process memory. Reads go through a
// sync.Map and never take a lock; writes take a lock scoped to the id.
type MemoryStore struct {
	records sync.Map // id -> PeerRecord
	locks   keyedMutex
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{locks: keyedMutex{held: make(map[string]*refMutex)}}
}

func (s *MemoryStore) Upsert(ctx context.Context, record PeerRecord, policy ConflictPolicy) error {
	unlock := s.locks.lock(record.ID)
	defer unlock()

	var existing *PeerRecord
	if value, ok := s.records.Load(record.ID); ok {
		current := value.(PeerRecord)
		existing = &current
	}
	if err := policy.admit(existing, record); err != nil {
		return err
	}
	s.records.Store(record.ID, record)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (PeerRecord, error) {
	value, ok := s.records.Load(id)
	if !ok {
		return PeerRecord{}, &NotFoundError{ID: id}
	}
	return value.(PeerRecord), nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	unlock := s.locks.lock(id)
	defer unlock()

	if _, loaded := s.records.LoadAndDelete(id); !loaded {
		return &NotFoundError{ID: id}
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// keyedMutex hands out one mutex per key and forgets it when the last
// holder releases it.
type keyedMutex struct {
	mu   sync.Mutex
	held map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	entry, ok := k.held[key]
	if !ok {
		entry = &refMutex{}
		k.held[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.Lock()
	return func() {
		entry.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.held, key)
		}
		k.mu.Unlock()
	}
}
