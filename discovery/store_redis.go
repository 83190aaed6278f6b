// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/easel-collab/easel/lib/sealed"
)

const redisKeyPrefix = "easel:peer:"

// redisWatchRetries bounds optimistic-lock retries when two writers
// race on the same id.
const redisWatchRetries = 16

// RedisStore keeps one hash per peer. Upserts use WATCH/MULTI on the
// peer's key, so same-id writers retry while different ids never
// contend.
type RedisStore struct {
	client *redis.Client
	box    *sealed.Box
}

// OpenRedisStore connects to dsn, which is either a redis:// URL or a
// bare host:port.
func OpenRedisStore(ctx context.Context, dsn string, box *sealed.Box) (*RedisStore, error) {
	options := &redis.Options{Addr: dsn}
	if strings.Contains(dsn, "://") {
		parsed, err := redis.ParseURL(dsn)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		options = parsed
	}
	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", options.Addr, err)
	}
	return &RedisStore{client: client, box: box}, nil
}

func (s *RedisStore) Upsert(ctx context.Context, record PeerRecord, policy ConflictPolicy) error {
	secret, err := seal(s.box, record.Relay.Secret)
	if err != nil {
		return err
	}
	key := redisKeyPrefix + record.ID

	transaction := func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		var current *PeerRecord
		if len(fields) > 0 {
			existing, err := recordFromHash(record.ID, fields)
			if err != nil {
				return err
			}
			current = &existing
		}
		if err := policy.admit(current, record); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, map[string]any{
				"address":        record.Address,
				"port":           record.Port,
				"relay_url":      record.Relay.URL,
				"relay_username": record.Relay.Username,
				"relay_secret":   secret,
				"last_seen":      record.LastSeen.UnixNano(),
			})
			return nil
		})
		return err
	}

	for range redisWatchRetries {
		err := s.client.Watch(ctx, transaction, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			var conflict *RegistrationConflict
			if errors.As(err, &conflict) {
				return err
			}
			return fmt.Errorf("writing peer %q: %w", record.ID, err)
		}
		return nil
	}
	return fmt.Errorf("writing peer %q: gave up after %d contended attempts", record.ID, redisWatchRetries)
}

func (s *RedisStore) Get(ctx context.Context, id string) (PeerRecord, error) {
	fields, err := s.client.HGetAll(ctx, redisKeyPrefix+id).Result()
	if err != nil {
		return PeerRecord{}, fmt.Errorf("reading peer %q: %w", id, err)
	}
	if len(fields) == 0 {
		return PeerRecord{}, &NotFoundError{ID: id}
	}
	record, err := recordFromHash(id, fields)
	if err != nil {
		return PeerRecord{}, err
	}
	record.Relay.Secret, err = open(s.box, record.Relay.Secret)
	if err != nil {
		return PeerRecord{}, fmt.Errorf("opening relay secret of %q: %w", id, err)
	}
	return record, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	removed, err := s.client.Del(ctx, redisKeyPrefix+id).Result()
	if err != nil {
		return fmt.Errorf("deleting peer %q: %w", id, err)
	}
	if removed == 0 {
		return &NotFoundError{ID: id}
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func recordFromHash(id string, fields map[string]string) (PeerRecord, error) {
	port, err := strconv.Atoi(fields["port"])
	if err != nil {
		return PeerRecord{}, fmt.Errorf("peer %q has a corrupt port field: %w", id, err)
	}
	lastSeen, err := strconv.ParseInt(fields["last_seen"], 10, 64)
	if err != nil {
		return PeerRecord{}, fmt.Errorf("peer %q has a corrupt last_seen field: %w", id, err)
	}
	return PeerRecord{
		ID:      id,
		Address: fields["address"],
		Port:    port,
		Relay: RelayInfo{
			URL:      fields["relay_url"],
			Username: fields["relay_username"],
			Secret:   fields["relay_secret"],
		},
		LastSeen: time.Unix(0, lastSeen).UTC(),
	}, nil
}
