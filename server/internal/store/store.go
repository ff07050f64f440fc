// Package store provides persistent server state backed by an embedded
// SQLite database: the settings key/value table (Session Config JSON, last
// OpenVR Config JSON) and the Client Registry.
//
// Migration design: SQL statements are kept in the [migrations] slice as
// ordered strings. Each is applied exactly once; the applied version is
// tracked in the schema_migrations table. To add a migration, append a new
// string — never edit or reorder existing entries.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// migrations holds the ordered list of DDL/DML statements that bring the
// schema up to date. Index i corresponds to version i+1.
var migrations = []string{
	// v1 — settings key/value store
	`CREATE TABLE IF NOT EXISTS settings (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	// v2 — client registry
	`CREATE TABLE IF NOT EXISTS clients (
		hostname     TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		trusted      INTEGER NOT NULL DEFAULT 0,
		created_at   INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
	// v3 — manual IP candidates per registry entry
	`CREATE TABLE IF NOT EXISTS client_manual_ips (
		hostname TEXT NOT NULL,
		ip       TEXT NOT NULL,
		PRIMARY KEY (hostname, ip)
	)`,
	// v4 — enable WAL mode for concurrent readers
	`PRAGMA journal_mode=WAL`,
}

// Store persists server state in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and applies any
// pending migrations. Use ":memory:" for ephemeral in-process storage.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		slog.Warn("set busy_timeout", "err", err)
	}

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info("sqlite store opened", "path", path)
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`,
	).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i, stmt := range migrations {
		v := i + 1
		if v <= current {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", v, err)
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO schema_migrations(version) VALUES(?)`, v,
		); err != nil {
			return fmt.Errorf("record migration %d: %w", v, err)
		}
		slog.Debug("applied migration", "version", v)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Settings (Session Config JSON, last OpenVR Config JSON)
// ---------------------------------------------------------------------------

const (
	// SessionConfigKey is the settings row holding the persisted Session Config JSON.
	SessionConfigKey = "session_config"
	// LastOpenvrConfigKey is the settings row holding the last OpenvrConfig JSON
	// handed to the driver, used to decide whether a restart is required.
	LastOpenvrConfigKey = "last_openvr_config"
)

// GetSetting returns the value stored under key. The second return value is
// false when the key does not exist; an error is only returned for real I/O
// failures.
func (s *Store) GetSetting(key string) (string, bool, error) {
	var val string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&val)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// SetSetting upserts key → value in the settings table.
func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO settings(key, value) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// ---------------------------------------------------------------------------
// Client Registry
// ---------------------------------------------------------------------------

// ClientRow is one Client Registry entry: hostname -> {display name,
// trusted, manual IPs}, per spec.md §3.
type ClientRow struct {
	Hostname    string
	DisplayName string
	Trusted     bool
	ManualIPs   []string
}

// UpsertClientSeen adds a new registry entry with trusted=false if hostname
// is unknown; for a known entry it only refreshes the display name and never
// changes the trusted flag. This is the write path used by Discovery on each
// received broadcast.
func (s *Store) UpsertClientSeen(hostname, displayName string) error {
	_, err := s.db.Exec(
		`INSERT INTO clients(hostname, display_name, trusted) VALUES(?, ?, 0)
		 ON CONFLICT(hostname) DO UPDATE SET display_name = excluded.display_name`,
		hostname, displayName,
	)
	return err
}

// SetClientTrusted mutates the trusted flag for a registry entry. This is
// the "mutated by UI" operation named in spec.md §3, exposed over the REST
// surface in internal/api.
func (s *Store) SetClientTrusted(hostname string, trusted bool) error {
	res, err := s.db.Exec(`UPDATE clients SET trusted = ? WHERE hostname = ?`, trusted, hostname)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// AddManualIP records a manually-configured IP candidate for a hostname.
func (s *Store) AddManualIP(hostname, ip string) error {
	_, err := s.db.Exec(
		`INSERT INTO client_manual_ips(hostname, ip) VALUES(?, ?)
		 ON CONFLICT(hostname, ip) DO NOTHING`,
		hostname, ip,
	)
	return err
}

// GetClient returns one registry entry, or sql.ErrNoRows if unknown.
func (s *Store) GetClient(hostname string) (ClientRow, error) {
	var row ClientRow
	var trusted int
	err := s.db.QueryRow(
		`SELECT hostname, display_name, trusted FROM clients WHERE hostname = ?`, hostname,
	).Scan(&row.Hostname, &row.DisplayName, &trusted)
	if err != nil {
		return ClientRow{}, err
	}
	row.Trusted = trusted != 0
	row.ManualIPs, err = s.manualIPs(hostname)
	return row, err
}

func (s *Store) manualIPs(hostname string) ([]string, error) {
	rows, err := s.db.Query(`SELECT ip FROM client_manual_ips WHERE hostname = ?`, hostname)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ips []string
	for rows.Next() {
		var ip string
		if err := rows.Scan(&ip); err != nil {
			return nil, err
		}
		ips = append(ips, ip)
	}
	return ips, rows.Err()
}

// AllClients returns every Client Registry entry.
func (s *Store) AllClients() ([]ClientRow, error) {
	rows, err := s.db.Query(`SELECT hostname, display_name, trusted FROM clients ORDER BY hostname`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ClientRow
	for rows.Next() {
		var row ClientRow
		var trusted int
		if err := rows.Scan(&row.Hostname, &row.DisplayName, &trusted); err != nil {
			return nil, err
		}
		row.Trusted = trusted != 0
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		ips, err := s.manualIPs(out[i].Hostname)
		if err != nil {
			return nil, err
		}
		out[i].ManualIPs = ips
	}
	return out, nil
}

// AllManualIPs returns the union of manual IPs across every registry entry.
// The handshake's candidate list does not use it: the lifecycle engine
// passes only the dialed hostname's own manual IPs to
// discovery.CandidateIPs.
func (s *Store) AllManualIPs() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT ip FROM client_manual_ips`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ips []string
	for rows.Next() {
		var ip string
		if err := rows.Scan(&ip); err != nil {
			return nil, err
		}
		ips = append(ips, ip)
	}
	return ips, rows.Err()
}

// Optimize runs PRAGMA optimize for the SQLite query planner's statistics.
func (s *Store) Optimize() error {
	_, err := s.db.Exec(`PRAGMA optimize`)
	return err
}

// Backup creates a copy of the database at the given path.
func (s *Store) Backup(destPath string) error {
	_, err := s.db.Exec(`VACUUM INTO ?`, destPath)
	return err
}
