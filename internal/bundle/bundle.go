// Package bundle builds, validates, merges, diffs, and restores
// portable JSON snapshots of the full dataset. Bundles move between
// stores and between backends: the file store and the in-memory store
// produce interchangeable bundles.
package bundle

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/capsa-dev/capsa/internal/memory"
	"github.com/capsa-dev/capsa/internal/store"
)

// Version is the bundle format version this build writes and accepts.
const Version = "1.0"

// Bundle wraps a dataset snapshot with format versioning and export
// metadata.
type Bundle struct {
	BundleVersion string         `json:"bundleVersion"`
	ExportedAt    int64          `json:"exportedAt"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Dataset       store.Dataset  `json:"dataset"`
}

// InvalidError reports structural bundle problems as a list.
type InvalidError struct {
	Errors []string
}

func (e *InvalidError) Error() string {
	return "invalid bundle: " + strings.Join(e.Errors, "; ")
}

// RestoreOptions control Restore behavior.
type RestoreOptions struct {
	SkipValidation bool
	DryRun         bool
}

// Create exports a bundle from the store. scope narrows the snapshot;
// limit caps each collection (0 = all).
func Create(s store.Engine, scope memory.ScopeIDs, includeRedacted bool, limit int, metadata map[string]any) (*Bundle, error) {
	ds, err := s.ExportDataset(scope, includeRedacted, limit)
	if err != nil {
		return nil, fmt.Errorf("export dataset: %w", err)
	}
	return &Bundle{
		BundleVersion: Version,
		ExportedAt:    time.Now().UnixMilli(),
		Metadata:      metadata,
		Dataset:       *ds,
	}, nil
}

// Validate structurally checks a bundle: version tag, then the
// embedded JSON Schema (presence and array-typing of all four
// collections). It returns every problem found, not just the first.
func Validate(b *Bundle) []string {
	var errs []string
	if b == nil {
		return []string{"bundle is empty"}
	}
	if b.BundleVersion != Version {
		errs = append(errs, fmt.Sprintf("unsupported bundleVersion %q (want %q)", b.BundleVersion, Version))
	}

	sch, err := schema()
	if err != nil {
		return append(errs, err.Error())
	}

	// Round-trip through JSON so the schema sees the wire shape.
	raw, err := json.Marshal(b)
	if err != nil {
		return append(errs, fmt.Sprintf("encode bundle: %v", err))
	}
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return append(errs, fmt.Sprintf("decode bundle: %v", err))
	}

	if err := sch.Validate(instance); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			flattenCauses(ve, &errs)
		} else {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

// ValidateRaw decodes and validates bundle JSON without importing it.
func ValidateRaw(data []byte) (*Bundle, []string) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, []string{fmt.Sprintf("decode bundle: %v", err)}
	}
	return &b, Validate(&b)
}

// Restore imports a bundle into the store. Dry-run reports would-be
// counts without touching the store. Imports are partial-failure
// tolerant: the result carries row-level errors alongside whatever
// succeeded, and nothing rolls back.
func Restore(s store.Engine, b *Bundle, opts RestoreOptions) (*store.ImportResult, error) {
	if !opts.SkipValidation {
		if errs := Validate(b); len(errs) > 0 {
			return nil, &InvalidError{Errors: errs}
		}
	}

	if opts.DryRun {
		return &store.ImportResult{
			Observations: store.ImportCounts{Imported: len(b.Dataset.Observations)},
			Capsules:     store.ImportCounts{Imported: len(b.Dataset.Capsules)},
			Summaries:    store.ImportCounts{Imported: len(b.Dataset.Summaries)},
			Pins:         store.ImportCounts{Imported: len(b.Dataset.Pins)},
		}, nil
	}

	res, err := s.ImportDataset(&b.Dataset)
	if err != nil {
		return nil, fmt.Errorf("import dataset: %w", err)
	}
	return res, nil
}

// Merge concatenates the collections of every input bundle and
// deduplicates by id, keeping the first occurrence encountered —
// bundle order matters. Callers who treat bundles as successive
// snapshots of one store should pass the newest first.
func Merge(bundles ...*Bundle) *Bundle {
	out := &Bundle{
		BundleVersion: Version,
		ExportedAt:    time.Now().UnixMilli(),
		Dataset: store.Dataset{
			Observations: []memory.Observation{},
			Capsules:     []memory.Capsule{},
			Summaries:    []memory.Summary{},
			Pins:         []memory.Pin{},
		},
	}

	seenObs := map[string]bool{}
	seenCap := map[string]bool{}
	seenSum := map[string]bool{}
	seenPin := map[string]bool{}

	for _, b := range bundles {
		if b == nil {
			continue
		}
		if b.Dataset.Version > out.Dataset.Version {
			out.Dataset.Version = b.Dataset.Version
		}
		for _, o := range b.Dataset.Observations {
			if !seenObs[o.ID] {
				seenObs[o.ID] = true
				out.Dataset.Observations = append(out.Dataset.Observations, o)
			}
		}
		for _, c := range b.Dataset.Capsules {
			if !seenCap[c.ID] {
				seenCap[c.ID] = true
				out.Dataset.Capsules = append(out.Dataset.Capsules, c)
			}
		}
		for _, s := range b.Dataset.Summaries {
			if !seenSum[s.ID] {
				seenSum[s.ID] = true
				out.Dataset.Summaries = append(out.Dataset.Summaries, s)
			}
		}
		for _, p := range b.Dataset.Pins {
			if !seenPin[p.ID] {
				seenPin[p.ID] = true
				out.Dataset.Pins = append(out.Dataset.Pins, p)
			}
		}
	}
	return out
}

// CollectionDiff is the id-set difference of one collection.
type CollectionDiff struct {
	Added   []string `json:"added"`   // in b, not in a
	Removed []string `json:"removed"` // in a, not in b
	Common  []string `json:"common"`
}

// Diff is a per-collection comparison of two bundles.
type Diff struct {
	Observations CollectionDiff `json:"observations"`
	Capsules     CollectionDiff `json:"capsules"`
	Summaries    CollectionDiff `json:"summaries"`
	Pins         CollectionDiff `json:"pins"`
}

// Compare diffs two bundles by id only — pure set arithmetic,
// independent of content equality.
func Compare(a, b *Bundle) Diff {
	obsA := make([]string, 0, len(a.Dataset.Observations))
	for _, o := range a.Dataset.Observations {
		obsA = append(obsA, o.ID)
	}
	obsB := make([]string, 0, len(b.Dataset.Observations))
	for _, o := range b.Dataset.Observations {
		obsB = append(obsB, o.ID)
	}
	capA := make([]string, 0, len(a.Dataset.Capsules))
	for _, c := range a.Dataset.Capsules {
		capA = append(capA, c.ID)
	}
	capB := make([]string, 0, len(b.Dataset.Capsules))
	for _, c := range b.Dataset.Capsules {
		capB = append(capB, c.ID)
	}
	sumA := make([]string, 0, len(a.Dataset.Summaries))
	for _, s := range a.Dataset.Summaries {
		sumA = append(sumA, s.ID)
	}
	sumB := make([]string, 0, len(b.Dataset.Summaries))
	for _, s := range b.Dataset.Summaries {
		sumB = append(sumB, s.ID)
	}
	pinA := make([]string, 0, len(a.Dataset.Pins))
	for _, p := range a.Dataset.Pins {
		pinA = append(pinA, p.ID)
	}
	pinB := make([]string, 0, len(b.Dataset.Pins))
	for _, p := range b.Dataset.Pins {
		pinB = append(pinB, p.ID)
	}

	return Diff{
		Observations: diffIDs(obsA, obsB),
		Capsules:     diffIDs(capA, capB),
		Summaries:    diffIDs(sumA, sumB),
		Pins:         diffIDs(pinA, pinB),
	}
}

func diffIDs(a, b []string) CollectionDiff {
	inA := make(map[string]bool, len(a))
	for _, id := range a {
		inA[id] = true
	}
	inB := make(map[string]bool, len(b))
	for _, id := range b {
		inB[id] = true
	}

	d := CollectionDiff{Added: []string{}, Removed: []string{}, Common: []string{}}
	for id := range inB {
		if inA[id] {
			d.Common = append(d.Common, id)
		} else {
			d.Added = append(d.Added, id)
		}
	}
	for id := range inA {
		if !inB[id] {
			d.Removed = append(d.Removed, id)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Common)
	return d
}
