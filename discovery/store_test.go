// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/easel-collab/easel/lib/sealed"
	"github.com/easel-collab/easel/lib/testutil"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var lastWriteWins = ConflictPolicy{Mode: LastWriteWins}

// storeFactories returns every backend available in this environment.
// Redis and Postgres run only when a test server is configured.
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	factories := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store {
			store, err := OpenSQLiteStore(context.Background(), SQLiteConfig{
				Path: filepath.Join(t.TempDir(), "discovery.db"),
			})
			if err != nil {
				t.Fatalf("OpenSQLiteStore: %v", err)
			}
			return store
		},
	}
	if address := os.Getenv("EASEL_TEST_REDIS_ADDR"); address != "" {
		factories["redis"] = func(t *testing.T) Store {
			store, err := OpenRedisStore(context.Background(), address, nil)
			if err != nil {
				t.Fatalf("OpenRedisStore: %v", err)
			}
			return store
		}
	}
	if url := os.Getenv("EASEL_TEST_POSTGRES_URL"); url != "" {
		factories["postgres"] = func(t *testing.T) Store {
			store, err := OpenPostgresStore(context.Background(), url, nil)
			if err != nil {
				t.Fatalf("OpenPostgresStore: %v", err)
			}
			return store
		}
	}
	return factories
}

func forEachStore(t *testing.T, test func(t *testing.T, store Store)) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			t.Cleanup(func() { store.Close() })
			test(t, store)
		})
	}
}

func TestStoreUpsertGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		id := testutil.UniqueID("alice")
		record := PeerRecord{
			ID:       id,
			Address:  "10.0.0.5",
			Port:     5050,
			Relay:    RelayInfo{URL: "turn:relay.example:3478", Username: "1767225600:alice", Secret: "c2VjcmV0"},
			LastSeen: epoch,
		}
		if err := store.Upsert(ctx, record, lastWriteWins); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		got, err := store.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.HostPort() != "10.0.0.5:5050" {
			t.Errorf("HostPort() = %q, want 10.0.0.5:5050", got.HostPort())
		}
		if got.Relay != record.Relay {
			t.Errorf("Relay = %+v, want %+v", got.Relay, record.Relay)
		}
		if !got.LastSeen.Equal(epoch) {
			t.Errorf("LastSeen = %v, want %v", got.LastSeen, epoch)
		}
	})
}

func TestStoreGetMissing(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		_, err := store.Get(context.Background(), testutil.UniqueID("bob"))
		var notFound *NotFoundError
		if !errors.As(err, &notFound) {
			t.Fatalf("Get(unregistered) error = %v, want *NotFoundError", err)
		}
	})
}

func TestStoreReregisterOverwrites(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		id := testutil.UniqueID("alice")
		first := PeerRecord{ID: id, Address: "10.0.0.5", Port: 5050, LastSeen: epoch,
			Relay: RelayInfo{URL: "turn:a", Username: "u", Secret: "s"}}
		second := PeerRecord{ID: id, Address: "10.0.0.9", Port: 6060, LastSeen: epoch.Add(time.Second)}
		if err := store.Upsert(ctx, first, lastWriteWins); err != nil {
			t.Fatal(err)
		}
		if err := store.Upsert(ctx, second, lastWriteWins); err != nil {
			t.Fatal(err)
		}
		got, err := store.Get(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if got.HostPort() != "10.0.0.9:6060" || !got.Relay.IsZero() {
			t.Errorf("after re-register got %s relay=%+v, want 10.0.0.9:6060 with no relay", got.HostPort(), got.Relay)
		}
	})
}

func TestStoreDelete(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		id := testutil.UniqueID("carol")
		if err := store.Upsert(ctx, PeerRecord{ID: id, Address: "h", Port: 1, LastSeen: epoch}, lastWriteWins); err != nil {
			t.Fatal(err)
		}
		if err := store.Delete(ctx, id); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := store.Get(ctx, id); !IsNotFound(err) {
			t.Errorf("Get after Delete = %v, want not found", err)
		}
		if err := store.Delete(ctx, id); !IsNotFound(err) {
			t.Errorf("second Delete = %v, want not found", err)
		}
	})
}

func TestStoreLeasePolicy(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		policy := ConflictPolicy{Mode: Lease, Duration: time.Minute}
		id := testutil.UniqueID("dana")
		holder := PeerRecord{ID: id, Address: "10.0.0.1", Port: 5050, LastSeen: epoch}
		if err := store.Upsert(ctx, holder, policy); err != nil {
			t.Fatal(err)
		}

		intruder := PeerRecord{ID: id, Address: "10.0.0.2", Port: 5050, LastSeen: epoch.Add(30 * time.Second)}
		var conflict *RegistrationConflict
		if err := store.Upsert(ctx, intruder, policy); !errors.As(err, &conflict) {
			t.Fatalf("Upsert during lease = %v, want *RegistrationConflict", err)
		}
		if conflict.Holder != "10.0.0.1:5050" {
			t.Errorf("conflict holder = %q", conflict.Holder)
		}

		refresh := holder
		refresh.LastSeen = epoch.Add(40 * time.Second)
		if err := store.Upsert(ctx, refresh, policy); err != nil {
			t.Fatalf("holder refresh rejected: %v", err)
		}

		takeover := intruder
		takeover.LastSeen = refresh.LastSeen.Add(time.Minute)
		if err := store.Upsert(ctx, takeover, policy); err != nil {
			t.Fatalf("takeover after expiry rejected: %v", err)
		}
		got, err := store.Get(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if got.Address != "10.0.0.2" {
			t.Errorf("after takeover address = %q", got.Address)
		}
	})
}

func TestStoreConcurrentRegistrations(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		prefix := testutil.UniqueID("peer")
		const peers = 16
		const rounds = 8

		var wait sync.WaitGroup
		errs := make(chan error, peers*rounds)
		for peer := range peers {
			wait.Add(1)
			go func() {
				defer wait.Done()
				for round := range rounds {
					record := PeerRecord{
						ID:       fmt.Sprintf("%s-%d", prefix, peer),
						Address:  "10.1.0.1",
						Port:     1000 + round,
						LastSeen: epoch.Add(time.Duration(round) * time.Second),
					}
					if err := store.Upsert(ctx, record, lastWriteWins); err != nil {
						errs <- err
					}
				}
			}()
		}
		wait.Wait()
		close(errs)
		for err := range errs {
			t.Fatalf("concurrent Upsert: %v", err)
		}

		for peer := range peers {
			got, err := store.Get(ctx, fmt.Sprintf("%s-%d", prefix, peer))
			if err != nil {
				t.Fatalf("Get peer %d: %v", peer, err)
			}
			if got.Port != 1000+rounds-1 {
				t.Errorf("peer %d port = %d, want last write %d", peer, got.Port, 1000+rounds-1)
			}
		}
	})
}

func TestMemoryStoreGetDoesNotWaitOnOtherKeys(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.Upsert(ctx, PeerRecord{ID: "reader", Address: "h", Port: 1, LastSeen: epoch}, lastWriteWins); err != nil {
		t.Fatal(err)
	}

	unlock := store.locks.lock("writer")
	defer unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := store.Get(ctx, "reader"); err != nil {
			t.Errorf("Get: %v", err)
		}
		if _, err := store.Get(ctx, "writer"); !IsNotFound(err) {
			t.Errorf("Get(writer) = %v, want not found", err)
		}
	}()
	testutil.RequireClosed(t, done, 5*time.Second, "Get blocked behind a held write lock")
}

func TestSQLiteStoreSealsSecrets(t *testing.T) {
	identity, err := sealed.GenerateIdentity()
	if err != nil {
		t.Fatal(err)
	}
	box, err := sealed.NewBox(identity)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	store, err := OpenSQLiteStore(ctx, SQLiteConfig{Path: filepath.Join(t.TempDir(), "sealed.db"), Box: box})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	record := PeerRecord{ID: "erin", Address: "10.0.0.3", Port: 7000, LastSeen: epoch,
		Relay: RelayInfo{URL: "turn:relay:3478", Username: "erin", Secret: "plain-secret"}}
	if err := store.Upsert(ctx, record, lastWriteWins); err != nil {
		t.Fatal(err)
	}

	conn, err := store.pool.Take(ctx)
	if err != nil {
		t.Fatal(err)
	}
	raw, _, err := store.selectRecord(conn, "erin")
	store.pool.Put(conn)
	if err != nil {
		t.Fatal(err)
	}
	if raw.Relay.Secret == "plain-secret" || raw.Relay.Secret == "" {
		t.Fatalf("stored secret = %q, want sealed ciphertext", raw.Relay.Secret)
	}

	got, err := store.Get(ctx, "erin")
	if err != nil {
		t.Fatal(err)
	}
	if got.Relay.Secret != "plain-secret" {
		t.Errorf("Get() secret = %q, want plain-secret", got.Relay.Secret)
	}
}
