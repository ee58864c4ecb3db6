// Package sqlitestore persists matrix snapshots and op journals in SQLite.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/phroun/cellrope"
	"github.com/phroun/cellrope/storage/sqlitestore/migrations"
)

const migrationTable = "schema_migrations"

// ErrBusy reports that the database stayed locked past the busy timeout.
var ErrBusy = errors.New("sqlitestore: database is busy")

// Store implements cellrope.SnapshotStore and cellrope.OpLog on SQLite.
type Store struct {
	sqlDB *sql.DB
}

var (
	_ cellrope.SnapshotStore = (*Store)(nil)
	_ cellrope.OpLog         = (*Store)(nil)
)

// Open opens the database at path and applies the embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// PutSnapshot inserts or replaces the snapshot for snap.ID.
func (s *Store) PutSnapshot(ctx context.Context, snap cellrope.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := cellrope.EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO snapshots (id, seq, data, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET seq = excluded.seq, data = excluded.data, updated_at = excluded.updated_at`,
		snap.ID, snap.Seq, data, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("put snapshot %s: %w", snap.ID, mapError(err))
	}
	return nil
}

// GetSnapshot returns the snapshot for id.
func (s *Store) GetSnapshot(ctx context.Context, id string) (cellrope.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return cellrope.Snapshot{}, err
	}
	var data []byte
	err := s.sqlDB.QueryRowContext(ctx, `SELECT data FROM snapshots WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return cellrope.Snapshot{}, fmt.Errorf("%w: %s", cellrope.ErrSnapshotNotFound, id)
	}
	if err != nil {
		return cellrope.Snapshot{}, fmt.Errorf("get snapshot %s: %w", id, mapError(err))
	}
	return cellrope.DecodeSnapshot(data)
}

// DeleteSnapshot removes the snapshot and journal for id in one transaction.
func (s *Store) DeleteSnapshot(ctx context.Context, id string) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete %s: %w", id, mapError(err))
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete snapshot %s: %w", id, mapError(err))
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM ops WHERE matrix_id = ?`, id); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete journal %s: %w", id, mapError(err))
	}
	return tx.Commit()
}

// ListSnapshots returns the stored ids in sorted order.
func (s *Store) ListSnapshots(ctx context.Context) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT id FROM snapshots`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", mapError(err))
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Go ordering, not the database collation.
	sort.Strings(ids)
	return ids, nil
}

// AppendOp journals op for id. The row's pos column is its journal position.
func (s *Store) AppendOp(ctx context.Context, id string, op cellrope.Op) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	data, err := cellrope.EncodeOp(op)
	if err != nil {
		return 0, err
	}
	res, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO ops (matrix_id, seq, client_id, data) VALUES (?, ?, ?, ?)`,
		id, op.Seq, op.ClientID, data,
	)
	if err != nil {
		return 0, fmt.Errorf("append op %s: %w", id, mapError(err))
	}
	pos, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append op %s: %w", id, err)
	}
	return pos, nil
}

// OpsSince returns the journal entries for id after pos, in position order.
func (s *Store) OpsSince(ctx context.Context, id string, pos int64) ([]cellrope.JournalEntry, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT pos, data FROM ops WHERE matrix_id = ? AND pos > ? ORDER BY pos`,
		id, pos,
	)
	if err != nil {
		return nil, fmt.Errorf("read journal %s: %w", id, mapError(err))
	}
	defer rows.Close()

	var entries []cellrope.JournalEntry
	for rows.Next() {
		var (
			at   int64
			data []byte
		)
		if err := rows.Scan(&at, &data); err != nil {
			return nil, err
		}
		op, err := cellrope.DecodeOp(data)
		if err != nil {
			return nil, fmt.Errorf("journal %s row %d: %w", id, at, err)
		}
		entries = append(entries, cellrope.JournalEntry{Pos: at, Op: op})
	}
	return entries, rows.Err()
}

// mapError turns SQLite busy and locked results into ErrBusy.
func mapError(err error) error {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED:
			return fmt.Errorf("%w: %v", ErrBusy, err)
		}
	}
	return err
}

// applyMigrations runs each embedded .sql file at most once, recording it in
// the migration table.
func applyMigrations(sqlDB *sql.DB, migrationFS fs.FS) error {
	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	if _, err := sqlDB.Exec(`CREATE TABLE IF NOT EXISTS ` + migrationTable + ` (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, file := range files {
		var found int
		err := sqlDB.QueryRow(`SELECT 1 FROM `+migrationTable+` WHERE name = ?`, file).Scan(&found)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check migration %s: %w", file, err)
		}

		content, err := fs.ReadFile(migrationFS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		upSQL := upMigration(string(content))
		if strings.TrimSpace(upSQL) == "" {
			continue
		}

		tx, err := sqlDB.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", file, err)
		}
		if _, err := tx.Exec(upSQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", file, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO `+migrationTable+` (name, applied_at) VALUES (?, ?)`,
			file, time.Now().UTC().UnixMilli(),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
	}
	return nil
}

// upMigration returns the SQL in the -- +migrate Up section.
func upMigration(content string) string {
	const up, down = "-- +migrate Up", "-- +migrate Down"
	upIdx := strings.Index(content, up)
	if upIdx == -1 {
		return content
	}
	rest := content[upIdx+len(up):]
	if downIdx := strings.Index(rest, down); downIdx != -1 {
		return rest[:downIdx]
	}
	return rest
}
