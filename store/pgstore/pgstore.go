// SpacePanda - privacy-first peer-to-peer encrypted group messaging
// Copyright (C) 2025 spacepanda-project
//
// This file is part of SpacePanda.
//
// SpacePanda is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SpacePanda is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SpacePanda. If not, see <https://www.gnu.org/licenses/>.

// Package pgstore implements store.Backend against PostgreSQL via
// pgx/v5, for deployments that want the commit log and snapshots
// durable across hosts rather than on a single node's disk.
package pgstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spacepanda/core/crdt"
	"github.com/spacepanda/core/store"
)

// Schema is the DDL a deployment must apply before using Backend. It
// is exposed as a constant rather than run automatically: migrations
// are an operational concern the caller owns.
const Schema = `
CREATE TABLE IF NOT EXISTS commit_log (
	channel_id     TEXT NOT NULL,
	seq_no         BIGINT NOT NULL,
	schema_version SMALLINT NOT NULL,
	vc             JSONB NOT NULL,
	nonce          BYTEA NOT NULL,
	ciphertext     BYTEA NOT NULL,
	PRIMARY KEY (channel_id, seq_no)
);

CREATE TABLE IF NOT EXISTS store_snapshots (
	channel_id     TEXT PRIMARY KEY,
	seq_no         BIGINT NOT NULL,
	schema_version SMALLINT NOT NULL,
	vc             JSONB NOT NULL,
	nonce          BYTEA NOT NULL,
	ciphertext     BYTEA NOT NULL
);
`

// Backend implements store.Backend for a single channel's commit log
// and snapshot, scoped by channelID within shared tables.
type Backend struct {
	pool      *pgxpool.Pool
	channelID string
}

// Config holds the PostgreSQL connection settings, matching the
// shape config.StoreConfig.PostgresDSN feeds into.
type Config struct {
	DSN string
}

// New connects to PostgreSQL and returns a Backend scoped to
// channelID. Callers sharing one channel id across backends will
// share one commit log, so channelID should match the channel this
// Backend backs.
func New(ctx context.Context, cfg Config, channelID string) (*Backend, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgstore: create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	return &Backend{pool: pool, channelID: channelID}, nil
}

// Close releases the underlying connection pool.
func (b *Backend) Close() {
	b.pool.Close()
}

func (b *Backend) AppendEntry(entry store.Entry) error {
	vc, err := json.Marshal(map[string]uint64(entry.VC))
	if err != nil {
		return fmt.Errorf("pgstore: marshal vector clock: %w", err)
	}

	query := `
		INSERT INTO commit_log (channel_id, seq_no, schema_version, vc, nonce, ciphertext)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (channel_id, seq_no) DO NOTHING
	`
	_, err = b.pool.Exec(context.Background(), query,
		b.channelID, entry.SeqNo, entry.SchemaVersion, vc, entry.Nonce, entry.Ciphertext)
	if err != nil {
		return fmt.Errorf("pgstore: append entry: %w", err)
	}
	return nil
}

func (b *Backend) EntriesAfter(seqNo uint64) ([]store.Entry, error) {
	query := `
		SELECT seq_no, schema_version, vc, nonce, ciphertext
		FROM commit_log
		WHERE channel_id = $1 AND seq_no > $2
		ORDER BY seq_no ASC
	`
	rows, err := b.pool.Query(context.Background(), query, b.channelID, seqNo)
	if err != nil {
		return nil, fmt.Errorf("pgstore: query entries: %w", err)
	}
	defer rows.Close()

	var out []store.Entry
	for rows.Next() {
		var e store.Entry
		var vcJSON []byte
		if err := rows.Scan(&e.SeqNo, &e.SchemaVersion, &vcJSON, &e.Nonce, &e.Ciphertext); err != nil {
			return nil, fmt.Errorf("pgstore: scan entry: %w", err)
		}
		var vc map[string]uint64
		if err := json.Unmarshal(vcJSON, &vc); err != nil {
			return nil, fmt.Errorf("pgstore: unmarshal vector clock: %w", err)
		}
		e.VC = vc
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: iterate entries: %w", err)
	}
	return out, nil
}

func (b *Backend) WriteSnapshot(snap store.Snapshot) error {
	vc, err := json.Marshal(map[string]uint64(snap.VC))
	if err != nil {
		return fmt.Errorf("pgstore: marshal vector clock: %w", err)
	}

	query := `
		INSERT INTO store_snapshots (channel_id, seq_no, schema_version, vc, nonce, ciphertext)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (channel_id) DO UPDATE
		SET seq_no = EXCLUDED.seq_no, schema_version = EXCLUDED.schema_version,
		    vc = EXCLUDED.vc, nonce = EXCLUDED.nonce, ciphertext = EXCLUDED.ciphertext
	`
	_, err = b.pool.Exec(context.Background(), query,
		b.channelID, snap.SeqNo, snap.SchemaVersion, vc, snap.Nonce, snap.Ciphertext)
	if err != nil {
		return fmt.Errorf("pgstore: write snapshot: %w", err)
	}
	return nil
}

func (b *Backend) LatestSnapshot() (store.Snapshot, bool, error) {
	query := `
		SELECT seq_no, schema_version, vc, nonce, ciphertext
		FROM store_snapshots
		WHERE channel_id = $1
	`
	var snap store.Snapshot
	var vcJSON []byte
	err := b.pool.QueryRow(context.Background(), query, b.channelID).
		Scan(&snap.SeqNo, &snap.SchemaVersion, &vcJSON, &snap.Nonce, &snap.Ciphertext)
	if err == pgx.ErrNoRows {
		return store.Snapshot{}, false, nil
	}
	if err != nil {
		return store.Snapshot{}, false, fmt.Errorf("pgstore: read snapshot: %w", err)
	}
	var vc map[string]uint64
	if err := json.Unmarshal(vcJSON, &vc); err != nil {
		return store.Snapshot{}, false, fmt.Errorf("pgstore: unmarshal vector clock: %w", err)
	}
	snap.VC = vc
	return snap, true, nil
}

func (b *Backend) TruncateBefore(seqNo uint64) error {
	query := `DELETE FROM commit_log WHERE channel_id = $1 AND seq_no <= $2`
	_, err := b.pool.Exec(context.Background(), query, b.channelID, seqNo)
	if err != nil {
		return fmt.Errorf("pgstore: truncate commit log: %w", err)
	}
	return nil
}

var _ store.Backend = (*Backend)(nil)
var _ = crdt.VectorClock{} // pgstore's vc columns round-trip through crdt.VectorClock via store.Entry/Snapshot
