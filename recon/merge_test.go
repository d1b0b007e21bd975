package recon

import (
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/regsync_backend/models"
	"github.com/shopspring/decimal"
)

func TestResolveMerge_OnlyEmptyInvariant(t *testing.T) {
	// Under the default policy, no incoming value ever changes a non-empty
	// local field, whatever its kind.
	local := map[string]any{
		"name":         "Existing Name",
		"total_amount": decimal.NewFromInt(500),
		"agent_ids":    models.StringList{"A1"},
	}
	incoming := map[string]any{
		"name":         "Remote Name",
		"total_amount": decimal.NewFromInt(999),
		"agent_ids":    models.StringList{"A2", "A3"},
	}

	diff := ResolveMerge(local, incoming, PolicyMergeOnlyEmpty, nil)
	if !diff.Empty() {
		t.Fatalf("expected empty diff, got changes %v", diff.Changes)
	}
	if len(diff.Skipped) != 3 {
		t.Fatalf("expected all 3 fields skipped, got %v", diff.Skipped)
	}
}

func TestResolveMerge_FillsEmptyLocal(t *testing.T) {
	local := map[string]any{
		"name":        "Existing",
		"email":       "",
		"customer_id": nil,
	}
	incoming := map[string]any{
		"name":        "Remote",
		"email":       "x@example.com",
		"customer_id": "C1",
	}

	diff := ResolveMerge(local, incoming, PolicyMergeOnlyEmpty, nil)
	if diff.Changes["email"] != "x@example.com" {
		t.Fatalf("expected empty email filled, got %v", diff.Changes)
	}
	if diff.Changes["customer_id"] != "C1" {
		t.Fatalf("expected null customer_id filled, got %v", diff.Changes)
	}
	if _, ok := diff.Changes["name"]; ok {
		t.Fatal("non-empty name must not be overwritten")
	}
}

func TestResolveMerge_EmptyIncomingNeverClears(t *testing.T) {
	local := map[string]any{"email": "keep@example.com"}
	incoming := map[string]any{"email": ""}

	diff := ResolveMerge(local, incoming, PolicyFullOverwrite, nil)
	if !diff.Empty() {
		t.Fatalf("empty incoming must be skipped even under fullOverwrite, got %v", diff.Changes)
	}
}

func TestResolveMerge_FullOverwrite(t *testing.T) {
	local := map[string]any{"name": "Old", "status": "draft"}
	incoming := map[string]any{"name": "New", "status": "draft"}

	diff := ResolveMerge(local, incoming, PolicyFullOverwrite, nil)
	if diff.Changes["name"] != "New" {
		t.Fatalf("expected overwrite, got %v", diff.Changes)
	}
	// Equal values are skipped so repeated runs stay write-free.
	if _, ok := diff.Changes["status"]; ok {
		t.Fatal("equal value must not produce a change")
	}
}

func TestResolveMerge_ForceBypassesEmptinessChecks(t *testing.T) {
	local := map[string]any{"notes": "precious local note"}
	incoming := map[string]any{"notes": ""}

	diff := ResolveMerge(local, incoming, PolicyMergeOnlyEmpty, []string{"notes"})
	if v, ok := diff.Changes["notes"]; !ok || v != "" {
		t.Fatalf("forced field must be written unconditionally, got %v", diff.Changes)
	}
}

func TestResolveMerge_AuditColumnsExcluded(t *testing.T) {
	incoming := map[string]any{
		"id":             99,
		"external_id":    "X1",
		"created_at":     time.Now(),
		"last_synced_at": time.Now(),
		"name":           "Real Field",
	}
	diff := ResolveMerge(nil, incoming, PolicyFullOverwrite, nil)
	if len(diff.Changes) != 1 {
		t.Fatalf("expected only name in diff, got %v", diff.Changes)
	}
	if diff.Changes["name"] != "Real Field" {
		t.Fatalf("expected name change, got %v", diff.Changes)
	}
}

func TestIsEmptyValue(t *testing.T) {
	empties := []any{nil, "", "  ", []string{}, models.StringList{}, []byte("null"), []byte("[]"), (*time.Time)(nil)}
	for _, v := range empties {
		if !IsEmptyValue(v) {
			t.Fatalf("expected %#v to be empty", v)
		}
	}
	// Zero numbers are NOT empty.
	nonEmpties := []any{0, 0.0, decimal.Zero, "x", models.StringList{"a"}, false}
	for _, v := range nonEmpties {
		if IsEmptyValue(v) {
			t.Fatalf("expected %#v to be non-empty", v)
		}
	}
}

func TestValuesEqual_NormalizedForms(t *testing.T) {
	// Storage hands decimals and lists back as text.
	if !valuesEqual([]byte("1000.0000"), decimal.NewFromInt(1000)) {
		t.Fatal("decimal text and decimal should compare equal")
	}
	if !valuesEqual([]byte(`["a","b"]`), models.StringList{"a", "b"}) {
		t.Fatal("list text and StringList should compare equal")
	}
	if valuesEqual([]byte(`["a"]`), models.StringList{"a", "b"}) {
		t.Fatal("different lists must not compare equal")
	}
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	local := ts
	incoming := &ts
	if !valuesEqual(local, incoming) {
		t.Fatal("equal times should compare equal across value/pointer forms")
	}
}
