package capsule

import (
	"errors"
	"testing"

	"github.com/capsa-dev/capsa/internal/memory"
	"github.com/capsa-dev/capsa/internal/store"
)

func testManager(t *testing.T) (*Manager, *store.DB) {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewManager(db), db
}

func TestOpenAssignsDefaults(t *testing.T) {
	m, _ := testManager(t)

	c, err := m.Open(memory.CapsuleSession, "debug the importer", memory.ScopeIDs{SessionID: "s1"}, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if c.ID == "" {
		t.Error("ID not generated")
	}
	if c.Status != memory.StatusOpen {
		t.Errorf("Status = %q, want open", c.Status)
	}
	if c.OpenedAt == 0 {
		t.Error("OpenedAt not set")
	}
}

func TestOpenDuplicateSessionConflict(t *testing.T) {
	m, _ := testManager(t)

	first, err := m.Open(memory.CapsuleSession, "", memory.ScopeIDs{SessionID: "s1"}, "")
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}

	_, err = m.Open(memory.CapsuleSession, "", memory.ScopeIDs{SessionID: "s1"}, "")
	var dup *memory.DuplicateOpenCapsuleError
	if !errors.As(err, &dup) {
		t.Fatalf("err = %v, want DuplicateOpenCapsuleError", err)
	}
	if dup.ExistingID != first.ID {
		t.Errorf("ExistingID = %q, want %q", dup.ExistingID, first.ID)
	}
	if !memory.IsConflict(err) {
		t.Error("IsConflict = false")
	}
}

func TestOpenInvalidType(t *testing.T) {
	m, _ := testManager(t)
	_, err := m.Open("sprint", "", memory.ScopeIDs{}, "")
	if !memory.IsValidation(err) {
		t.Errorf("err = %v, want ValidationError", err)
	}
}

func TestCloseWithSummary(t *testing.T) {
	m, db := testManager(t)
	c, err := m.Open(memory.CapsuleSession, "", memory.ScopeIDs{SessionID: "s1"}, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	closed, err := m.Close(c.ID, &CloseSignals{
		Summary:      "fixed the importer and added tests",
		EvidenceRefs: []string{"o1", "o2"},
	})
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if closed.Status != memory.StatusClosed || closed.ClosedAt == nil {
		t.Errorf("closed = %+v", closed)
	}

	sum, err := db.LatestSummaryForCapsule(c.ID)
	if err != nil {
		t.Fatalf("LatestSummaryForCapsule: %v", err)
	}
	if sum == nil {
		t.Fatal("summary not recorded")
	}
	if sum.Confidence != DefaultConfidence {
		t.Errorf("Confidence = %v, want default %v", sum.Confidence, DefaultConfidence)
	}
	if len(sum.EvidenceRefs) != 2 {
		t.Errorf("EvidenceRefs = %v", sum.EvidenceRefs)
	}
}

func TestCloseWithoutSummary(t *testing.T) {
	m, db := testManager(t)
	c, _ := m.Open(memory.CapsuleSession, "", memory.ScopeIDs{SessionID: "s1"}, "")

	if _, err := m.Close(c.ID, nil); err != nil {
		t.Fatalf("Close: %v", err)
	}

	sum, err := db.LatestSummaryForCapsule(c.ID)
	if err != nil {
		t.Fatalf("LatestSummaryForCapsule: %v", err)
	}
	if sum != nil {
		t.Errorf("summary = %v, want none without content", sum)
	}
}

func TestCloseTwice(t *testing.T) {
	m, _ := testManager(t)
	c, _ := m.Open(memory.CapsuleSession, "", memory.ScopeIDs{SessionID: "s1"}, "")

	if _, err := m.Close(c.ID, nil); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	_, err := m.Close(c.ID, nil)
	if err == nil {
		t.Fatal("second close succeeded, want error")
	}
	if !memory.IsConflict(err) && !memory.IsNotFound(err) {
		t.Errorf("err = %v, want conflict or not-found", err)
	}
}

func TestCloseNotFound(t *testing.T) {
	m, _ := testManager(t)
	_, err := m.Close("ghost", nil)
	if !memory.IsNotFound(err) {
		t.Errorf("err = %v, want NotFoundError", err)
	}
}

func TestCloseBadConfidence(t *testing.T) {
	m, db := testManager(t)
	c, _ := m.Open(memory.CapsuleSession, "", memory.ScopeIDs{SessionID: "s1"}, "")

	bad := 1.5
	_, err := m.Close(c.ID, &CloseSignals{Summary: "done", Confidence: &bad})
	if !memory.IsValidation(err) {
		t.Fatalf("err = %v, want ValidationError", err)
	}

	// Validation failed before the status transition.
	got, err := db.GetCapsule(c.ID)
	if err != nil {
		t.Fatalf("GetCapsule: %v", err)
	}
	if got.Status != memory.StatusOpen {
		t.Errorf("Status = %q, want still open", got.Status)
	}
}

func TestCloseSummaryFailureDropsCachedSnapshot(t *testing.T) {
	m, db := testManager(t)

	c, err := m.Open(memory.CapsuleSession, "", memory.ScopeIDs{SessionID: "s-stale"}, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	// Occupy the capsule's one summary slot so the close-time insert
	// fails after the status transition has committed.
	s, err := memory.ValidateSummary(memory.Summary{
		CapsuleID:  c.ID,
		Content:    "recorded earlier",
		Confidence: 0.5,
	})
	if err != nil {
		t.Fatalf("ValidateSummary: %v", err)
	}
	if err := db.InsertSummary(s); err != nil {
		t.Fatalf("InsertSummary: %v", err)
	}

	if _, err := m.Close(c.ID, &CloseSignals{Summary: "second summary"}); err == nil {
		t.Fatal("Close: error = nil, want summary insert failure")
	}

	got, err := m.Get(c.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != memory.StatusClosed {
		t.Errorf("Status = %q, want closed (store is the source of truth)", got.Status)
	}
}

func TestGetFallsBackToStore(t *testing.T) {
	m, db := testManager(t)
	c, _ := m.Open(memory.CapsuleSession, "", memory.ScopeIDs{SessionID: "s1"}, "")

	// Simulate a cold cache — the store remains the source of truth.
	m.Evict(c.ID)
	got, err := m.Get(c.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != c.ID {
		t.Errorf("ID = %q, want %q", got.ID, c.ID)
	}

	// Store-side mutation wins over any stale cache copy after evict.
	if _, err := db.CloseCapsule(c.ID); err != nil {
		t.Fatalf("CloseCapsule: %v", err)
	}
	m.Evict(c.ID)
	got, _ = m.Get(c.ID)
	if got.Status != memory.StatusClosed {
		t.Errorf("Status = %q, want closed from store", got.Status)
	}
}

func TestGetOpenRequiresSession(t *testing.T) {
	m, _ := testManager(t)

	if _, err := m.GetOpen(memory.ScopeIDs{RepoID: "r1"}); err == nil {
		t.Error("GetOpen without sessionId must error")
	}

	c, _ := m.Open(memory.CapsuleSession, "", memory.ScopeIDs{SessionID: "s1"}, "")
	got, err := m.GetOpen(memory.ScopeIDs{SessionID: "s1"})
	if err != nil {
		t.Fatalf("GetOpen: %v", err)
	}
	if got == nil || got.ID != c.ID {
		t.Errorf("got %v, want %s", got, c.ID)
	}
}
