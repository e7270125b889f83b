package store

import (
	"testing"
	"time"

	"github.com/capsa-dev/capsa/internal/memory"
)

func seedStore(t *testing.T, db *DB) {
	t.Helper()
	now := time.Now().UnixMilli()
	insertObsAt(t, db, "o1", "ran migrations", now, memory.ScopeIDs{SessionID: "s1"})
	insertObsAt(t, db, "o2", "wrote the parser", now, memory.ScopeIDs{SessionID: "s1"})
	mustOpenCapsule(t, db, "c1", "s1")
	if _, err := db.CloseCapsule("c1"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := db.InsertSummary(memory.Summary{
		ID: "sum1", CapsuleID: "c1", Content: "session wrapped",
		Confidence: 0.8, CreatedAt: now, EvidenceRefs: []string{"o1"},
	}); err != nil {
		t.Fatalf("summary: %v", err)
	}
	if err := db.InsertPin(memory.Pin{
		ID: "p1", TargetType: memory.PinObservation, TargetID: "o1", CreatedAt: now,
	}); err != nil {
		t.Fatalf("pin: %v", err)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	src := testDB(t)
	seedStore(t, src)

	ds, err := src.ExportDataset(memory.ScopeIDs{}, false, 0)
	if err != nil {
		t.Fatalf("ExportDataset: %v", err)
	}
	if len(ds.Observations) != 2 || len(ds.Capsules) != 1 || len(ds.Summaries) != 1 || len(ds.Pins) != 1 {
		t.Fatalf("export counts = %d/%d/%d/%d", len(ds.Observations), len(ds.Capsules), len(ds.Summaries), len(ds.Pins))
	}

	dst := testDB(t)
	res, err := dst.ImportDataset(ds)
	if err != nil {
		t.Fatalf("ImportDataset: %v", err)
	}
	if len(res.Errors) != 0 {
		t.Fatalf("import errors: %v", res.Errors)
	}
	if res.Observations.Imported != 2 || res.Capsules.Imported != 1 ||
		res.Summaries.Imported != 1 || res.Pins.Imported != 1 {
		t.Errorf("import counts = %+v", res)
	}

	// Imported content is searchable in the destination.
	hits, err := dst.SearchObservations("parser", memory.ScopeIDs{}, nil, false, time.Now().UnixMilli())
	if err != nil {
		t.Fatalf("search after import: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "o2" {
		t.Errorf("hits = %v, want o2", hits)
	}
}

func TestReimportSkipsDuplicates(t *testing.T) {
	db := testDB(t)
	seedStore(t, db)

	ds, err := db.ExportDataset(memory.ScopeIDs{}, false, 0)
	if err != nil {
		t.Fatalf("ExportDataset: %v", err)
	}

	res, err := db.ImportDataset(ds)
	if err != nil {
		t.Fatalf("ImportDataset: %v", err)
	}
	if len(res.Errors) != 0 {
		t.Fatalf("import errors: %v", res.Errors)
	}
	if res.Observations.Imported != 0 || res.Observations.Skipped != 2 {
		t.Errorf("observations = %+v, want all skipped", res.Observations)
	}
	if res.Capsules.Skipped != 1 || res.Summaries.Skipped != 1 || res.Pins.Skipped != 1 {
		t.Errorf("counts = %+v, want all skipped", res)
	}

	if n, _ := db.CountObservations(); n != 2 {
		t.Errorf("observation count after re-import = %d, want 2", n)
	}
}

func TestImportPartialFailure(t *testing.T) {
	db := testDB(t)

	ds := &Dataset{
		Version: 4,
		Observations: []memory.Observation{
			{ID: "good", Kind: memory.KindCommand, Content: "ok", Provenance: map[string]any{}, Ts: 1},
			{ID: "bad", Kind: "impossible", Content: "x", Provenance: map[string]any{}, Ts: 1},
		},
		Capsules:  []memory.Capsule{},
		Summaries: []memory.Summary{},
		Pins:      []memory.Pin{},
	}

	res, err := db.ImportDataset(ds)
	if err != nil {
		t.Fatalf("ImportDataset: %v", err)
	}
	if res.Observations.Imported != 1 {
		t.Errorf("imported = %d, want 1", res.Observations.Imported)
	}
	if len(res.Errors) != 1 || res.Errors[0].ID != "bad" {
		t.Errorf("errors = %v, want one for 'bad'", res.Errors)
	}

	// The good row survived the bad one.
	if _, err := db.GetObservation("good"); err != nil {
		t.Errorf("good row missing after partial import: %v", err)
	}
}

func TestExportScoped(t *testing.T) {
	db := testDB(t)
	now := time.Now().UnixMilli()
	insertObsAt(t, db, "o1", "session one work", now, memory.ScopeIDs{SessionID: "s1"})
	insertObsAt(t, db, "o2", "session two work", now, memory.ScopeIDs{SessionID: "s2"})

	ds, err := db.ExportDataset(memory.ScopeIDs{SessionID: "s1"}, false, 0)
	if err != nil {
		t.Fatalf("ExportDataset: %v", err)
	}
	if len(ds.Observations) != 1 || ds.Observations[0].ID != "o1" {
		t.Errorf("scoped export = %v", ds.Observations)
	}
	if ds.Scope == nil || ds.Scope.SessionID != "s1" {
		t.Errorf("Scope = %v, want s1", ds.Scope)
	}
}
