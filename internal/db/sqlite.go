package db

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	_ "modernc.org/sqlite"
)

const (
	maxRetries     = 5
	initialBackoff = 10 * time.Millisecond
	maxBackoff     = 250 * time.Millisecond
)

type DB struct {
	conn *sql.DB
}

func New(path string) (*DB, error) {
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)" +
		"&_txlock=immediate&_time_format=sqlite"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks storage connectivity.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		is_admin BOOLEAN DEFAULT FALSE,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS policies (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		password_required BOOLEAN NOT NULL DEFAULT FALSE,
		password_min_length INTEGER NOT NULL DEFAULT 0,
		password_quality TEXT NOT NULL DEFAULT 'unspecified',
		restrictions TEXT NOT NULL DEFAULT '{}',
		wifi_configs TEXT NOT NULL DEFAULT '[]',
		kiosk TEXT NOT NULL DEFAULT '{}',
		status_bar_disabled BOOLEAN NOT NULL DEFAULT FALSE,
		disabled_system_apps TEXT NOT NULL DEFAULT '[]',
		is_default BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_policies_user_id ON policies(user_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_policies_one_default ON policies(user_id) WHERE is_default = 1;

	CREATE TABLE IF NOT EXISTS enrollment_tokens (
		id TEXT PRIMARY KEY,
		token TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL REFERENCES users(id),
		policy_id TEXT NOT NULL REFERENCES policies(id) ON DELETE CASCADE,
		server_url TEXT NOT NULL,
		apk_version TEXT NOT NULL,
		apk_id TEXT REFERENCES dpc_apks(id),
		used BOOLEAN NOT NULL DEFAULT FALSE,
		used_at DATETIME,
		used_by TEXT,
		expires_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_enrollment_tokens_user_id ON enrollment_tokens(user_id);
	CREATE INDEX IF NOT EXISTS idx_enrollment_tokens_used_by ON enrollment_tokens(used_by);

	CREATE TABLE IF NOT EXISTS physical_devices (
		id TEXT PRIMARY KEY,
		ssaid TEXT,
		serial_number TEXT,
		brand TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		manufacturer TEXT NOT NULL DEFAULT '',
		build_fingerprint TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_physical_devices_ssaid ON physical_devices(ssaid) WHERE ssaid IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_physical_devices_serial ON physical_devices(serial_number, brand, model);

	CREATE TABLE IF NOT EXISTS enrollments (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		android_id TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL,
		manufacturer TEXT NOT NULL,
		android_version TEXT NOT NULL DEFAULT '',
		is_device_owner BOOLEAN NOT NULL DEFAULT FALSE,
		policy_id TEXT REFERENCES policies(id),
		api_token TEXT NOT NULL UNIQUE,
		ping_interval INTEGER NOT NULL DEFAULT 15 CHECK (ping_interval BETWEEN 1 AND 180),
		last_heartbeat DATETIME,
		physical_device_id TEXT REFERENCES physical_devices(id),
		pending_removal BOOLEAN NOT NULL DEFAULT FALSE,
		registered_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_enrollments_user_id ON enrollments(user_id);
	CREATE INDEX IF NOT EXISTS idx_enrollments_policy_id ON enrollments(policy_id);

	CREATE TABLE IF NOT EXISTS commands (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		enrollment_id TEXT NOT NULL REFERENCES enrollments(id) ON DELETE CASCADE,
		type TEXT NOT NULL,
		parameters TEXT NOT NULL DEFAULT '{}',
		status TEXT NOT NULL DEFAULT 'pending',
		error TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		executed_at DATETIME,
		completed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_commands_enrollment_status ON commands(enrollment_id, status);
	CREATE INDEX IF NOT EXISTS idx_commands_completed_at ON commands(status, completed_at);

	CREATE TABLE IF NOT EXISTS dpc_apks (
		id TEXT PRIMARY KEY,
		version TEXT NOT NULL,
		package_name TEXT NOT NULL,
		storage_key TEXT NOT NULL,
		signature_checksum TEXT NOT NULL,
		size_bytes INTEGER NOT NULL DEFAULT 0,
		is_current BOOLEAN NOT NULL DEFAULT FALSE,
		download_count INTEGER NOT NULL DEFAULT 0,
		uploaded_by TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_dpc_apks_current ON dpc_apks(is_current) WHERE is_current = 1;
	`

	if _, err := db.conn.Exec(schema); err != nil {
		return err
	}

	// Columns added after the first release.
	return db.addColumn("enrollment_tokens", "apk_id", "TEXT REFERENCES dpc_apks(id)")
}

func (db *DB) addColumn(table, column, decl string) error {
	var n int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&n)
	if err != nil || n > 0 {
		return err
	}
	_, err = db.conn.Exec(`ALTER TABLE ` + table + ` ADD COLUMN ` + column + ` ` + decl)
	return err
}

// withTx runs fn in a write transaction, retrying the whole transaction
// while SQLite reports the database busy. Other errors end the loop.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var final error
	err := retry.Do(func() error {
		final = nil
		err := db.runTx(ctx, fn)
		if isBusy(err) {
			return err
		}
		final = err
		return nil
	}, retry.Attempts(maxRetries), retry.Delay(initialBackoff), retry.MaxDelay(maxBackoff))
	if err != nil {
		return fmt.Errorf("database busy: %w", err)
	}
	return final
}

func (db *DB) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// ErrConflict is returned by conditional updates whose precondition no
// longer holds.
var ErrConflict = errors.New("concurrent modification")

// User operations

func (db *DB) UpsertUser(ctx context.Context, id, email, name string, isAdmin bool) (*User, error) {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO users (id, email, name, is_admin) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET email = excluded.email, name = excluded.name, is_admin = excluded.is_admin
	`, id, email, name, isAdmin)
	if err != nil {
		return nil, err
	}
	return db.GetUser(ctx, id)
}

func (db *DB) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	err := db.conn.QueryRowContext(ctx, `SELECT id, email, name, is_admin, created_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Email, &u.Name, &u.IsAdmin, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
