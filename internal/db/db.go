// Package db persists the controller's side-state that must survive a
// restart: toolchain registrations, the working-copy client list, and a job
// history/audit trail. The content-addressed object cache itself stays a
// plain directory tree per spec.md §4.1; this package never stores file
// content, only metadata about it — mirroring how the teacher's boxer.go
// uses sqlite for Box bookkeeping rather than container filesystem content.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// DB wraps the controller's sqlite-backed side-state store.
type DB struct {
	sql *sql.DB
}

// Open opens (creating if necessary) a WAL-mode sqlite database at path and
// migrates it to the latest schema version.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("db: open %s: %w", path, err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("db: enable WAL mode: %w", err)
	}

	if err := migrateSchema(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return &DB{sql: sqlDB}, nil
}

func migrateSchema(sqlDB *sql.DB) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("db: load migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(sqlDB, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("db: sqlite3 migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("db: init migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("db: run migrations: %w", err)
	}
	return nil
}

// Close releases the underlying sqlite connection.
func (d *DB) Close() error {
	return d.sql.Close()
}

// UpsertToolchain records or refreshes last_seen for a registered toolchain.
func (d *DB) UpsertToolchain(ctx context.Context, hash, typ, version string, languages, triplets []string) error {
	_, err := d.sql.ExecContext(ctx, `
		INSERT INTO toolchains (hash, type, version, languages, triplets, last_seen)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET last_seen = excluded.last_seen`,
		hash, typ, version, strings.Join(languages, ","), strings.Join(triplets, ","), time.Now())
	if err != nil {
		return fmt.Errorf("db: upsert toolchain %s: %w", hash, err)
	}
	return nil
}

// ToolchainRecord mirrors one row of the toolchains table.
type ToolchainRecord struct {
	Hash      string
	Type      string
	Version   string
	Languages []string
	Triplets  []string
	LastSeen  time.Time
}

// ListToolchains returns every persisted toolchain record, most recently
// seen first.
func (d *DB) ListToolchains(ctx context.Context) ([]ToolchainRecord, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT hash, type, version, languages, triplets, last_seen
		FROM toolchains ORDER BY last_seen DESC`)
	if err != nil {
		return nil, fmt.Errorf("db: list toolchains: %w", err)
	}
	defer rows.Close()

	var out []ToolchainRecord
	for rows.Next() {
		var r ToolchainRecord
		var languages, triplets string
		if err := rows.Scan(&r.Hash, &r.Type, &r.Version, &languages, &triplets, &r.LastSeen); err != nil {
			return nil, fmt.Errorf("db: scan toolchain row: %w", err)
		}
		r.Languages = splitNonEmpty(languages)
		r.Triplets = splitNonEmpty(triplets)
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertClient records or refreshes a connected client's last_seen time.
func (d *DB) UpsertClient(ctx context.Context, uuid, hostname, role string) error {
	_, err := d.sql.ExecContext(ctx, `
		INSERT INTO clients (uuid, hostname, role, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(uuid) DO UPDATE SET hostname = excluded.hostname, role = excluded.role, last_seen = excluded.last_seen`,
		uuid, hostname, role, time.Now(), time.Now())
	if err != nil {
		return fmt.Errorf("db: upsert client %s: %w", uuid, err)
	}
	return nil
}

// RecordJob appends one row to the job history/audit trail.
func (d *DB) RecordJob(ctx context.Context, nodeHash, nodePath, worker string, ok bool, started, finished time.Time) error {
	_, err := d.sql.ExecContext(ctx, `
		INSERT INTO job_history (node_hash, node_path, worker, ok, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		nodeHash, nodePath, worker, ok, started, finished)
	if err != nil {
		return fmt.Errorf("db: record job for %s: %w", nodePath, err)
	}
	return nil
}

// JobHistory returns the most recent job records for a given node hash,
// newest first.
func (d *DB) JobHistory(ctx context.Context, nodeHash string, limit int) ([]JobRecord, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT node_hash, node_path, worker, ok, started_at, finished_at
		FROM job_history WHERE node_hash = ? ORDER BY id DESC LIMIT ?`, nodeHash, limit)
	if err != nil {
		return nil, fmt.Errorf("db: job history for %s: %w", nodeHash, err)
	}
	defer rows.Close()

	var out []JobRecord
	for rows.Next() {
		var r JobRecord
		if err := rows.Scan(&r.NodeHash, &r.NodePath, &r.Worker, &r.OK, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("db: scan job row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// JobRecord mirrors one row of the job_history table.
type JobRecord struct {
	NodeHash   string
	NodePath   string
	Worker     string
	OK         bool
	StartedAt  time.Time
	FinishedAt time.Time
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
