package bundle

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capsa-dev/capsa/internal/memory"
	"github.com/capsa-dev/capsa/internal/store"
)

func testStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seed(t *testing.T, db *store.DB, obsIDs ...string) {
	t.Helper()
	now := time.Now().UnixMilli()
	for _, id := range obsIDs {
		require.NoError(t, db.InsertObservation(memory.Observation{
			ID: id, Kind: memory.KindCommand, Content: "content of " + id,
			Provenance: map[string]any{}, Ts: now,
		}))
	}
}

func obsBundle(ids ...string) *Bundle {
	b := &Bundle{
		BundleVersion: Version,
		ExportedAt:    time.Now().UnixMilli(),
		Dataset: store.Dataset{
			Version:      4,
			Observations: []memory.Observation{},
			Capsules:     []memory.Capsule{},
			Summaries:    []memory.Summary{},
			Pins:         []memory.Pin{},
		},
	}
	for _, id := range ids {
		b.Dataset.Observations = append(b.Dataset.Observations, memory.Observation{
			ID: id, Kind: memory.KindCommand, Content: "content of " + id,
			Provenance: map[string]any{}, Ts: 1000,
		})
	}
	return b
}

func TestCreateAndValidate(t *testing.T) {
	db := testStore(t)
	seed(t, db, "o1", "o2")

	b, err := Create(db, memory.ScopeIDs{}, false, 0, map[string]any{"description": "nightly"})
	require.NoError(t, err)

	assert.Equal(t, Version, b.BundleVersion)
	assert.Greater(t, b.ExportedAt, int64(0))
	assert.Len(t, b.Dataset.Observations, 2)
	assert.Empty(t, Validate(b))
}

func TestValidateBadVersion(t *testing.T) {
	b := obsBundle("o1")
	b.BundleVersion = "2.0"

	errs := Validate(b)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "unsupported bundleVersion")
}

func TestValidateRawMissingCollections(t *testing.T) {
	raw := []byte(`{"bundleVersion":"1.0","exportedAt":123,"dataset":{"version":4,"observations":[]}}`)
	_, errs := ValidateRaw(raw)
	assert.NotEmpty(t, errs, "missing collections must be a validation error, not a crash")

	raw = []byte(`{"bundleVersion":"1.0"`)
	_, errs = ValidateRaw(raw)
	assert.NotEmpty(t, errs)
}

func TestBundleJSONRoundTrip(t *testing.T) {
	b := obsBundle("o1")
	data, err := json.Marshal(b)
	require.NoError(t, err)

	got, errs := ValidateRaw(data)
	require.Empty(t, errs)
	assert.Equal(t, b.Dataset.Observations[0].ID, got.Dataset.Observations[0].ID)
}

func TestRestoreRoundTrip(t *testing.T) {
	src := testStore(t)
	seed(t, src, "o1", "o2", "o3")
	b, err := Create(src, memory.ScopeIDs{}, false, 0, nil)
	require.NoError(t, err)

	dst := testStore(t)
	res, err := Restore(dst, b, RestoreOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Observations.Imported)
	assert.Empty(t, res.Errors)

	// Re-import into the same store: everything skips, nothing errors.
	res, err = Restore(dst, b, RestoreOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Observations.Imported)
	assert.Equal(t, 3, res.Observations.Skipped)
}

func TestRestoreDryRun(t *testing.T) {
	db := testStore(t)
	b := obsBundle("o1", "o2")

	res, err := Restore(db, b, RestoreOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Observations.Imported)

	n, err := db.CountObservations()
	require.NoError(t, err)
	assert.Equal(t, 0, n, "dry-run must not mutate the store")
}

func TestRestoreRejectsInvalid(t *testing.T) {
	db := testStore(t)
	b := obsBundle("o1")
	b.BundleVersion = "0.9"

	_, err := Restore(db, b, RestoreOptions{})
	require.Error(t, err)
	var inv *InvalidError
	require.ErrorAs(t, err, &inv)
	assert.NotEmpty(t, inv.Errors)

	// SkipValidation lets it through.
	_, err = Restore(db, b, RestoreOptions{SkipValidation: true})
	assert.NoError(t, err)
}

func TestMergeFirstSeenWins(t *testing.T) {
	a := obsBundle("shared", "only-a")
	a.Dataset.Observations[0].Content = "A's copy"
	b := obsBundle("shared", "only-b")
	b.Dataset.Observations[0].Content = "B's copy"

	merged := Merge(a, b)
	require.Len(t, merged.Dataset.Observations, 3)

	byID := map[string]memory.Observation{}
	for _, o := range merged.Dataset.Observations {
		byID[o.ID] = o
	}
	assert.Equal(t, "A's copy", byID["shared"].Content, "first occurrence wins")

	// Compared against either input, the shared id is common.
	diff := Compare(merged, a)
	assert.Len(t, diff.Observations.Common, 2)

	diff = Compare(a, b)
	assert.Equal(t, []string{"shared"}, diff.Observations.Common)
	assert.Equal(t, []string{"only-b"}, diff.Observations.Added)
	assert.Equal(t, []string{"only-a"}, diff.Observations.Removed)
}

func TestCompareEmptyCollections(t *testing.T) {
	diff := Compare(obsBundle(), obsBundle())
	assert.Empty(t, diff.Observations.Added)
	assert.Empty(t, diff.Observations.Removed)
	assert.Empty(t, diff.Observations.Common)
}
