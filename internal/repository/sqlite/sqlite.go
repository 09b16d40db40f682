// Package sqlite implements the repository interfaces and a durable audit
// store on SQLite (modernc.org/sqlite, pure Go, no cgo).
//
// LAYOUT:
//
//	DB.Users()  → *UserDB   (repository.UserRepository)
//	DB.Repos()  → *RepoDB   (repository.RepoRepository)
//	DB.Audits() → *AuditDB  (audit.Store, used when AUDIT_STORE=sqlite)
//
// All three share one *sql.DB. The schema is created by migrate() on every
// New with CREATE ... IF NOT EXISTS, so opening an existing file is safe.
//
// ERROR MAPPING:
//   - no row                        → apperror.ErrNotFound
//   - UNIQUE constraint violation   → apperror.ErrConflict
//   - zero rows affected by UPDATE  → apperror.ErrNotFound
//
// Anything else is wrapped with the operation name and returned as is.
//
// IDs are xids (20 chars, sortable by creation time). Repositories also
// carry GitHub's numeric repo_id, unique per user.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DB wraps the connection pool. Use Users, Repos and Audits for the
// per-entity stores.
type DB struct {
	conn *sql.DB
}

// New opens the database at dbPath (":memory:" for tests) and migrates it.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Every new connection to ":memory:" is a separate empty database.
	if dbPath == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting busy timeout: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}
	return db, nil
}

// Close closes the underlying connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Users returns the user store.
func (db *DB) Users() *UserDB { return &UserDB{conn: db.conn} }

// Repos returns the repository store.
func (db *DB) Repos() *RepoDB { return &RepoDB{conn: db.conn} }

// Audits returns the durable audit store.
func (db *DB) Audits() *AuditDB { return &AuditDB{conn: db.conn} }

// migrate is idempotent; every statement uses IF NOT EXISTS.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id              TEXT PRIMARY KEY,
			email           TEXT NOT NULL COLLATE NOCASE UNIQUE,
			name            TEXT NOT NULL DEFAULT '',
			password_hash   TEXT NOT NULL DEFAULT '',
			provider        TEXT NOT NULL,
			github_id       TEXT UNIQUE,
			google_id       TEXT UNIQUE,
			avatar_url      TEXT NOT NULL DEFAULT '',
			github_token    TEXT NOT NULL DEFAULT '',
			google_token    TEXT NOT NULL DEFAULT '',
			installation_id INTEGER NOT NULL DEFAULT 0,
			created_at      DATETIME NOT NULL,
			updated_at      DATETIME NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS repositories (
			id             TEXT PRIMARY KEY,
			user_id        TEXT NOT NULL REFERENCES users(id),
			repo_id        INTEGER NOT NULL,
			name           TEXT NOT NULL,
			full_name      TEXT NOT NULL,
			description    TEXT NOT NULL DEFAULT '',
			language       TEXT NOT NULL DEFAULT '',
			topics         TEXT NOT NULL DEFAULT '[]',
			stars          INTEGER NOT NULL DEFAULT 0,
			forks          INTEGER NOT NULL DEFAULT 0,
			owner          TEXT NOT NULL DEFAULT '',
			visibility     TEXT NOT NULL DEFAULT 'public',
			default_branch TEXT NOT NULL DEFAULT 'main',
			last_analyzed  DATETIME,
			health_score   INTEGER NOT NULL DEFAULT 0,
			findings       INTEGER NOT NULL DEFAULT 0,
			status         TEXT NOT NULL DEFAULT 'audit_active',
			created_at     DATETIME NOT NULL,
			updated_at     DATETIME NOT NULL,
			UNIQUE (user_id, repo_id),
			UNIQUE (user_id, full_name)
		);
		CREATE INDEX IF NOT EXISTS idx_repositories_user_id ON repositories(user_id);
	`)
	if err != nil {
		return fmt.Errorf("creating repositories table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS audits (
			key         TEXT PRIMARY KEY,
			repo        TEXT NOT NULL,
			pr_number   INTEGER NOT NULL,
			title       TEXT NOT NULL DEFAULT '',
			timestamp   DATETIME NOT NULL,
			result      TEXT NOT NULL,
			diff        TEXT NOT NULL DEFAULT '',
			source      TEXT NOT NULL DEFAULT '',
			delivery_id TEXT NOT NULL DEFAULT '',
			seq         INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_audits_repo ON audits(repo);
	`)
	if err != nil {
		return fmt.Errorf("creating audits table: %w", err)
	}

	return nil
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY constraint failure.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

// nullString maps "" to SQL NULL so optional UNIQUE columns allow many empties.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
