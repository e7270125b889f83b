package rank

import (
	"strings"
	"testing"
	"time"

	"github.com/capsa-dev/capsa/internal/memory"
	"github.com/capsa-dev/capsa/internal/store"
)

func testProvider(t *testing.T) (*StoreProvider, *store.DB) {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStoreProvider(db), db
}

func addObs(t *testing.T, db *store.DB, id, content string, ts int64) {
	t.Helper()
	err := db.InsertObservation(memory.Observation{
		ID: id, Kind: memory.KindCommand, Content: content,
		Provenance: map[string]any{}, Ts: ts,
	})
	if err != nil {
		t.Fatalf("insert %s: %v", id, err)
	}
}

func TestRankMergesPools(t *testing.T) {
	p, db := testProvider(t)
	now := time.Now().UnixMilli()

	addObs(t, db, "o1", "upgraded the billing client", now)
	if err := db.OpenCapsule(memory.Capsule{
		ID: "c1", Type: memory.CapsuleSession, Status: memory.StatusOpen, OpenedAt: now,
	}); err != nil {
		t.Fatalf("open capsule: %v", err)
	}
	if err := db.InsertSummary(memory.Summary{
		ID: "sum1", CapsuleID: "c1", Content: "billing migration finished",
		Confidence: 0.9, CreatedAt: now, EvidenceRefs: []string{},
	}); err != nil {
		t.Fatalf("insert summary: %v", err)
	}

	got, err := p.Rank("billing", memory.ScopeIDs{}, nil, false, 10)
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("candidates = %d, want 2 (both pools)", len(got))
	}
	types := map[string]bool{}
	for _, c := range got {
		types[c.EntityType] = true
		if c.Score < 0 || c.Score > 1 {
			t.Errorf("score %v out of [0,1]", c.Score)
		}
	}
	if !types["observation"] || !types["summary"] {
		t.Errorf("entity types = %v, want both pools", types)
	}
}

func TestRankSortedAndTruncated(t *testing.T) {
	p, db := testProvider(t)
	now := time.Now().UnixMilli()
	day := int64(24 * 60 * 60 * 1000)

	// Same lexical match, increasing age: newest must rank first.
	addObs(t, db, "fresh", "tweak the cache layer", now)
	addObs(t, db, "older", "tweak the cache layer", now-5*day)
	addObs(t, db, "oldest", "tweak the cache layer", now-20*day)

	got, err := p.Rank("cache", memory.ScopeIDs{}, nil, false, 2)
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("candidates = %d, want 2 (truncated)", len(got))
	}
	if got[0].ID != "fresh" || got[1].ID != "older" {
		t.Errorf("order = %s, %s; want fresh, older", got[0].ID, got[1].ID)
	}
	if got[0].Score <= got[1].Score {
		t.Errorf("scores not descending: %v, %v", got[0].Score, got[1].Score)
	}
}

func TestRankMalformedQueryReturnsEmpty(t *testing.T) {
	p, db := testProvider(t)
	addObs(t, db, "o1", "perfectly fine content", time.Now().UnixMilli())

	got, err := p.Rank(`"unterminated`, memory.ScopeIDs{}, nil, false, 10)
	if err != nil {
		t.Fatalf("malformed query must not error, got: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("candidates = %v, want empty", got)
	}
}

func TestRankExcludes(t *testing.T) {
	p, db := testProvider(t)
	now := time.Now().UnixMilli()
	addObs(t, db, "o1", "retry logic added", now)
	addObs(t, db, "o2", "retry logic removed", now)

	got, err := p.Rank("retry", memory.ScopeIDs{}, map[string]bool{"o1": true}, false, 10)
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if len(got) != 1 || got[0].ID != "o2" {
		t.Errorf("candidates = %v, want only o2", got)
	}
}

func TestMatchContextTruncation(t *testing.T) {
	long := strings.Repeat("x", 150)
	got := matchContext(long)
	if len([]rune(got)) != matchContextChars+1 { // 100 chars + ellipsis
		t.Errorf("len = %d, want %d", len([]rune(got)), matchContextChars+1)
	}
	if !strings.HasSuffix(got, "…") {
		t.Errorf("missing ellipsis: %q", got)
	}

	short := "short content"
	if matchContext(short) != short {
		t.Errorf("short content must pass through unchanged")
	}
}
