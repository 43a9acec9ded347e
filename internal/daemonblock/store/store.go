// Package store implements the ipwall daemon's block-record persistence,
// adapted from the teacher's internal/db.Connect + internal/repository
// pattern (BasePostgresRepo-style CRUD over a *sql.DB) onto a local
// sqlite file rather than a shared Postgres server, per the
// "Persistence gap (daemon)" design note: a root-owned daemon should not
// depend on a system libsqlite or a network database just to survive a
// restart, so this uses the pure-Go modernc.org/sqlite driver.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/m2osw/ipload/internal/model"
	_ "modernc.org/sqlite"
)

// Store persists the block collection so ipwall can reload its state
// across a restart without waiting out every ban from scratch.
type Store struct {
	db *sql.DB
}

// Open connects to (creating if necessary) the sqlite database at path
// and ensures its schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open block store: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers anyway

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping block store: %w", err)
	}
	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS blocks (
			ip           TEXT PRIMARY KEY,
			scheme       TEXT NOT NULL,
			block_until  INTEGER NOT NULL,
			reason       TEXT NOT NULL DEFAULT '',
			status       INTEGER NOT NULL,
			ban_count    INTEGER NOT NULL DEFAULT 0,
			packet_count INTEGER NOT NULL DEFAULT 0,
			byte_count   INTEGER NOT NULL DEFAULT 0
		)
	`)
	return err
}

// Save upserts one record, keyed by IP.
func (s *Store) Save(ctx context.Context, rec *model.BlockRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blocks (ip, scheme, block_until, reason, status, ban_count, packet_count, byte_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ip) DO UPDATE SET
			scheme = excluded.scheme,
			block_until = excluded.block_until,
			reason = excluded.reason,
			status = excluded.status,
			ban_count = excluded.ban_count,
			packet_count = excluded.packet_count,
			byte_count = excluded.byte_count
	`,
		rec.IP, rec.Scheme, rec.BlockUntil.Unix(), rec.Reason, int(rec.Status),
		rec.BanCount, rec.PacketCount, rec.ByteCount,
	)
	return err
}

// Delete removes a record, used once an unblock has been applied and
// there is no further reason to keep it around for restart recovery.
func (s *Store) Delete(ctx context.Context, ip string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM blocks WHERE ip = ?`, ip)
	return err
}

// LoadAll reads every persisted record, for seeding the in-memory
// collection on daemon startup.
func (s *Store) LoadAll(ctx context.Context) ([]*model.BlockRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ip, scheme, block_until, reason, status, ban_count, packet_count, byte_count
		FROM blocks
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.BlockRecord
	for rows.Next() {
		var rec model.BlockRecord
		var blockUntil int64
		var status int
		if err := rows.Scan(&rec.IP, &rec.Scheme, &blockUntil, &rec.Reason, &status,
			&rec.BanCount, &rec.PacketCount, &rec.ByteCount); err != nil {
			return nil, err
		}
		rec.BlockUntil = time.Unix(blockUntil, 0).UTC()
		rec.Status = model.BlockStatus(status)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
