package store

import (
	"path/filepath"
	"testing"
	"time"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenMemory(t *testing.T) {
	db := testDB(t)
	if db.Path != ":memory:" {
		t.Errorf("Path = %q, want :memory:", db.Path)
	}
}

func TestSchemaVersion(t *testing.T) {
	db := testDB(t)

	v, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != 4 {
		t.Errorf("SchemaVersion = %d, want 4", v)
	}
}

func TestTablesExist(t *testing.T) {
	db := testDB(t)

	tables := []string{
		"schema_versions", "observations", "observations_fts",
		"capsules", "capsule_observations",
		"summaries", "summaries_fts", "pins",
	}
	for _, table := range tables {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}
}

func TestObservationKindConstraint(t *testing.T) {
	db := testDB(t)

	_, err := db.Exec(`
		INSERT INTO observations (id, kind, content, ts)
		VALUES ('o1', 'command', 'ls', 1000)
	`)
	if err != nil {
		t.Fatalf("valid insert failed: %v", err)
	}

	_, err = db.Exec(`
		INSERT INTO observations (id, kind, content, ts)
		VALUES ('o2', 'daydream', 'x', 1000)
	`)
	if err == nil {
		t.Error("expected error for invalid kind, got nil")
	}
}

func TestSummaryConfidenceConstraint(t *testing.T) {
	db := testDB(t)

	_, err := db.Exec(`
		INSERT INTO capsules (id, type, status, opened_at)
		VALUES ('c1', 'session', 'open', 1000)
	`)
	if err != nil {
		t.Fatalf("insert capsule: %v", err)
	}

	_, err = db.Exec(`
		INSERT INTO summaries (id, capsule_id, content, confidence, created_at)
		VALUES ('s1', 'c1', 'ok', 1.5, 1000)
	`)
	if err == nil {
		t.Error("expected error for confidence > 1, got nil")
	}
}

func TestPoolCappedAtOneConnection(t *testing.T) {
	db := testDB(t)
	if got := db.Stats().MaxOpenConnections; got != 1 {
		t.Errorf("memory MaxOpenConnections = %d, want 1", got)
	}

	path := filepath.Join(t.TempDir(), "capsa.db")
	fdb, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { fdb.Close() })
	if got := fdb.Stats().MaxOpenConnections; got != 1 {
		t.Errorf("file MaxOpenConnections = %d, want 1", got)
	}
}

func TestMemorySchemaVisibleAroundTransaction(t *testing.T) {
	db := testDB(t)

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO observations (id, kind, content, ts)
		VALUES ('o1', 'command', 'ls', 1000)
	`); err != nil {
		t.Fatalf("insert in tx: %v", err)
	}

	// A statement issued while the transaction holds the connection
	// must queue for the same database, not land on a fresh
	// schema-less one.
	done := make(chan struct {
		n   int
		err error
	}, 1)
	go func() {
		var n int
		err := db.QueryRow("SELECT COUNT(*) FROM observations").Scan(&n)
		done <- struct {
			n   int
			err error
		}{n, err}
	}()

	time.Sleep(50 * time.Millisecond)
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got := <-done
	if got.err != nil {
		t.Fatalf("concurrent query: %v", got.err)
	}
	if got.n != 1 {
		t.Errorf("count = %d, want 1", got.n)
	}
}

func TestConnectionPragmas(t *testing.T) {
	db := testDB(t)

	var fk int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("read foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}

	var timeout int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatalf("read busy_timeout: %v", err)
	}
	if timeout != 5000 {
		t.Errorf("busy_timeout = %d, want 5000", timeout)
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	db := testDB(t)

	// Running migrate again must be a no-op.
	if err := db.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	v, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != 4 {
		t.Errorf("SchemaVersion after re-migrate = %d, want 4", v)
	}
}
