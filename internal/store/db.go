// Package store is the embedded storage engine: a schema-versioned
// SQLite database holding observations, capsules, summaries, and pins,
// with full-text indexes kept in sync on the write path.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection to the capsa SQLite database.
// One *DB serializes all writers through its single handle; processes
// that share a database file must share the owning *DB (the API
// server holds it), never open a second write handle.
type DB struct {
	*sql.DB
	Path string
}

// DefaultDBPath returns the default database path: ~/.capsa/capsa.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".capsa", "capsa.db"), nil
}

// dsn builds a file: URI that carries the per-connection pragmas, so
// any connection the pool hands out is configured identically. WAL
// keeps readers and writers from blocking each other; busy_timeout
// bounds lock waits so a contended write fails after a few seconds
// instead of hanging.
func dsn(path string) string {
	return "file:" + path +
		"?_pragma=journal_mode(wal)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(5000)"
}

// open wires the single-connection discipline shared by both backends:
// SQLite allows one writer at a time regardless, and capping the pool
// at one connection is what makes a :memory: database hold together
// (each extra pooled connection would get its own private database).
func open(path, dbPath string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	db := &DB{DB: sqlDB, Path: dbPath}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Open opens (or creates) the SQLite database at the given path,
// configures pragmas, and runs migrations.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	return open(path, path)
}

// OpenMemory opens an in-memory database: the portable backend. Same
// logical schema, same migration sequence, no file — exported bundles
// move freely between file and memory stores.
func OpenMemory() (*DB, error) {
	return open(":memory:", ":memory:")
}
