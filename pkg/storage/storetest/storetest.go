// Package storetest provides databases for store tests: an in-memory
// SQLite database carrying the production schema, and an optional
// PostgreSQL database taken from the environment.
package storetest

import (
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// sqliteSchema mirrors the tables created by the postgres migrations
const sqliteSchema = `
	CREATE TABLE users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT NOT NULL UNIQUE,
		display_name TEXT,
		password TEXT NOT NULL,
		secret TEXT UNIQUE,
		created_at TIMESTAMP NOT NULL,
		confirmed_at TIMESTAMP,
		blocked_at TIMESTAMP
	);

	CREATE TABLE roles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		parent_id INTEGER REFERENCES roles(id) ON DELETE SET NULL,
		title TEXT NOT NULL UNIQUE
	);

	CREATE TABLE permissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		role_id INTEGER NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
		resource TEXT,
		action TEXT
	);

	CREATE TABLE user_roles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		role_id INTEGER NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
		UNIQUE(user_id, role_id)
	);

	CREATE TABLE sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		token TEXT NOT NULL UNIQUE,
		user_id INTEGER REFERENCES users(id) ON DELETE CASCADE,
		payload TEXT NOT NULL DEFAULT '{}',
		info TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE audit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TIMESTAMP NOT NULL,
		event_type TEXT NOT NULL,
		status TEXT NOT NULL,
		user_id INTEGER,
		email TEXT,
		ip_address TEXT,
		user_agent TEXT,
		request_id TEXT,
		method TEXT,
		path TEXT,
		message TEXT,
		metadata TEXT
	);
`

// OpenSQLite returns an in-memory database with the schema applied. The
// pool is limited to one connection because every connection to
// ":memory:" is a separate database.
func OpenSQLite(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		t.Fatalf("Failed to create schema: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

// RequirePostgres connects to TEST_POSTGRES_PRIMARY or skips the test when
// it is unset or unreachable.
func RequirePostgres(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := os.Getenv("TEST_POSTGRES_PRIMARY")
	if dbURL == "" {
		t.Skip("Skipping test: TEST_POSTGRES_PRIMARY environment variable not set (database not available)")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Skipf("Failed to connect to database: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("Database not reachable: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}
