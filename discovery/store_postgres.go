// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/easel-collab/easel/lib/sealed"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS easel_peers (
	id             TEXT PRIMARY KEY,
	address        TEXT NOT NULL,
	port           INTEGER NOT NULL,
	relay_url      TEXT NOT NULL DEFAULT '',
	relay_username TEXT NOT NULL DEFAULT '',
	relay_secret   TEXT NOT NULL DEFAULT '',
	last_seen      TIMESTAMPTZ NOT NULL
)`

// PostgresStore shares one directory between several discovery
// daemons. Same-id upserts serialize on a transaction-scoped advisory
// lock keyed by the id, which also covers ids with no row yet.
type PostgresStore struct {
	pool *pgxpool.Pool
	box  *sealed.Box
}

// OpenPostgresStore connects to the database at url and creates the
// table if it is missing.
func OpenPostgresStore(ctx context.Context, url string, box *sealed.Box) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating easel_peers: %w", err)
	}
	return &PostgresStore{pool: pool, box: box}, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, record PeerRecord, policy ConflictPolicy) error {
	secret, err := seal(s.box, record.Relay.Secret)
	if err != nil {
		return err
	}
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, record.ID); err != nil {
			return err
		}
		existing, found, err := selectPostgres(ctx, tx, record.ID)
		if err != nil {
			return err
		}
		var current *PeerRecord
		if found {
			current = &existing
		}
		if err := policy.admit(current, record); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO easel_peers (id, address, port, relay_url, relay_username, relay_secret, last_seen)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET
				address = EXCLUDED.address,
				port = EXCLUDED.port,
				relay_url = EXCLUDED.relay_url,
				relay_username = EXCLUDED.relay_username,
				relay_secret = EXCLUDED.relay_secret,
				last_seen = EXCLUDED.last_seen`,
			record.ID, record.Address, record.Port,
			record.Relay.URL, record.Relay.Username, secret, record.LastSeen)
		return err
	})
	if err != nil {
		var conflict *RegistrationConflict
		if errors.As(err, &conflict) {
			return err
		}
		return fmt.Errorf("writing peer %q: %w", record.ID, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (PeerRecord, error) {
	record, found, err := selectPostgres(ctx, s.pool, id)
	if err != nil {
		return PeerRecord{}, fmt.Errorf("reading peer %q: %w", id, err)
	}
	if !found {
		return PeerRecord{}, &NotFoundError{ID: id}
	}
	record.Relay.Secret, err = open(s.box, record.Relay.Secret)
	if err != nil {
		return PeerRecord{}, fmt.Errorf("opening relay secret of %q: %w", id, err)
	}
	return record, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM easel_peers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting peer %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{ID: id}
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func selectPostgres(ctx context.Context, querier rowQuerier, id string) (PeerRecord, bool, error) {
	record := PeerRecord{ID: id}
	var lastSeen time.Time
	err := querier.QueryRow(ctx, `
		SELECT address, port, relay_url, relay_username, relay_secret, last_seen
		FROM easel_peers WHERE id = $1`, id).Scan(
		&record.Address, &record.Port,
		&record.Relay.URL, &record.Relay.Username, &record.Relay.Secret,
		&lastSeen)
	if errors.Is(err, pgx.ErrNoRows) {
		return PeerRecord{}, false, nil
	}
	if err != nil {
		return PeerRecord{}, false, err
	}
	record.LastSeen = lastSeen.UTC()
	return record, true, nil
}
