// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/easel-collab/easel/lib/sealed"
	"github.com/easel-collab/easel/lib/sqlitepool"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS peers (
	id             TEXT PRIMARY KEY,
	address        TEXT NOT NULL,
	port           INTEGER NOT NULL,
	relay_url      TEXT NOT NULL DEFAULT '',
	relay_username TEXT NOT NULL DEFAULT '',
	relay_secret   TEXT NOT NULL DEFAULT '',
	last_seen      INTEGER NOT NULL
);`

const selectPeerSQL = `SELECT address, port, relay_url, relay_username, relay_secret, last_seen FROM peers WHERE id = ?`

const upsertPeerSQL = `
INSERT INTO peers (id, address, port, relay_url, relay_username, relay_secret, last_seen)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	address = excluded.address,
	port = excluded.port,
	relay_url = excluded.relay_url,
	relay_username = excluded.relay_username,
	relay_secret = excluded.relay_secret,
	last_seen = excluded.last_seen`

// SQLiteStore persists the directory in a SQLite database. Each
// Upsert runs in an immediate transaction, which serializes writers
// through SQLite's write lock; readers use WAL snapshots and never
// wait on writers.
type SQLiteStore struct {
	pool *sqlitepool.Pool
	box  *sealed.Box
}

// SQLiteConfig configures OpenSQLiteStore.
type SQLiteConfig struct {
	Path string

	// Box seals relay secrets at rest. Nil stores them as given.
	Box *sealed.Box

	Logger *slog.Logger
}

// OpenSQLiteStore opens (creating if needed) the database at cfg.Path.
func OpenSQLiteStore(ctx context.Context, cfg SQLiteConfig) (*SQLiteStore, error) {
	pool, err := sqlitepool.Open(ctx, sqlitepool.Config{
		Path:   cfg.Path,
		Schema: sqliteSchema,
		Logger: cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{pool: pool, box: cfg.Box}, nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, record PeerRecord, policy ConflictPolicy) (err error) {
	secret, err := seal(s.box, record.Relay.Secret)
	if err != nil {
		return err
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("beginning registration of %q: %w", record.ID, err)
	}
	defer endTransaction(&err)

	existing, found, err := s.selectRecord(conn, record.ID)
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

	err = sqlitex.Execute(conn, upsertPeerSQL, &sqlitex.ExecOptions{
		Args: []any{
			record.ID,
			record.Address,
			record.Port,
			record.Relay.URL,
			record.Relay.Username,
			secret,
			record.LastSeen.UnixNano(),
		},
	})
	if err != nil {
		return fmt.Errorf("writing peer %q: %w", record.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (PeerRecord, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return PeerRecord{}, err
	}
	defer s.pool.Put(conn)

	record, found, err := s.selectRecord(conn, id)
	if err != nil {
		return PeerRecord{}, err
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

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	if err := sqlitex.Execute(conn, `DELETE FROM peers WHERE id = ?`, &sqlitex.ExecOptions{
		Args: []any{id},
	}); err != nil {
		return fmt.Errorf("deleting peer %q: %w", id, err)
	}
	if conn.Changes() == 0 {
		return &NotFoundError{ID: id}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.pool.Close()
}

// selectRecord returns the stored row with the secret still sealed.
func (s *SQLiteStore) selectRecord(conn *sqlite.Conn, id string) (PeerRecord, bool, error) {
	var record PeerRecord
	found := false
	err := sqlitex.Execute(conn, selectPeerSQL, &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			record = PeerRecord{
				ID:      id,
				Address: stmt.ColumnText(0),
				Port:    stmt.ColumnInt(1),
				Relay: RelayInfo{
					URL:      stmt.ColumnText(2),
					Username: stmt.ColumnText(3),
					Secret:   stmt.ColumnText(4),
				},
				LastSeen: time.Unix(0, stmt.ColumnInt64(5)).UTC(),
			}
			return nil
		},
	})
	if err != nil {
		return PeerRecord{}, false, fmt.Errorf("reading peer %q: %w", id, err)
	}
	return record, found, nil
}

func seal(box *sealed.Box, secret string) (string, error) {
	if box == nil {
		return secret, nil
	}
	sealedSecret, err := box.Seal(secret)
	if err != nil {
		return "", fmt.Errorf("sealing relay secret: %w", err)
	}
	return sealedSecret, nil
}

func open(box *sealed.Box, secret string) (string, error) {
	if box == nil {
		return secret, nil
	}
	return box.Open(secret)
}
