package store

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "specsync.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func rec(specID, tagID, title, status string, deps ...string) *TaskRecord {
	now := time.Now().UTC().Truncate(time.Second)
	return &TaskRecord{
		DisplayID:     DisplayID(specID, tagID),
		SpecID:        specID,
		TagID:         tagID,
		Title:         title,
		Status:        status,
		DependencyIDs: deps,
		Origin:        OriginSpec,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestSQLite_UpsertAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r := rec("SPEC-S-001", "TAG-001", "first", "pending", "TAG-000")
	if err := s.UpsertTask(ctx, r); err != nil {
		t.Fatalf("UpsertTask: %v", err)
	}

	got, err := s.GetTasksBySpec(ctx, "SPEC-S-001")
	if err != nil {
		t.Fatalf("GetTasksBySpec: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d records", len(got))
	}
	if got[0].Title != "first" || got[0].Status != "pending" {
		t.Errorf("record = %+v", got[0])
	}
	if !reflect.DeepEqual(got[0].DependencyIDs, []string{"TAG-000"}) {
		t.Errorf("deps = %v", got[0].DependencyIDs)
	}
	if !got[0].CreatedAt.Equal(r.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got[0].CreatedAt, r.CreatedAt)
	}
}

// TestSQLite_UpsertPreservesIdentity verifies that updating a record keeps
// its origin and creation timestamp.
func TestSQLite_UpsertPreservesIdentity(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := rec("SPEC-S-001", "TAG-001", "first", "pending")
	if err := s.UpsertTask(ctx, first); err != nil {
		t.Fatal(err)
	}

	updated := rec("SPEC-S-001", "TAG-001", "renamed", "complete")
	updated.CreatedAt = first.CreatedAt.Add(time.Hour) // must be ignored
	updated.UpdatedAt = first.UpdatedAt.Add(time.Hour)
	if err := s.UpsertTask(ctx, updated); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetTasksBySpec(ctx, "SPEC-S-001")
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1 (no duplicate)", len(got))
	}
	if got[0].Title != "renamed" || got[0].Status != "complete" {
		t.Errorf("update not applied: %+v", got[0])
	}
	if !got[0].CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("created_at changed on update: %v", got[0].CreatedAt)
	}
	if !got[0].UpdatedAt.Equal(updated.UpdatedAt) {
		t.Errorf("updated_at not refreshed: %v", got[0].UpdatedAt)
	}
}

func TestSQLite_GetOrderedByTagID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"TAG-003", "TAG-001", "TAG-002"} {
		if err := s.UpsertTask(ctx, rec("SPEC-S-001", id, id, "pending")); err != nil {
			t.Fatal(err)
		}
	}

	got, _ := s.GetTasksBySpec(ctx, "SPEC-S-001")
	var ids []string
	for _, r := range got {
		ids = append(ids, r.TagID)
	}
	if !reflect.DeepEqual(ids, []string{"TAG-001", "TAG-002", "TAG-003"}) {
		t.Errorf("order = %v", ids)
	}
}

func TestSQLite_DeleteTasks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"TAG-001", "TAG-002", "TAG-003"} {
		if err := s.UpsertTask(ctx, rec("SPEC-S-001", id, id, "pending")); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.UpsertTask(ctx, rec("SPEC-S-002", "TAG-001", "other spec", "pending")); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteTasks(ctx, "SPEC-S-001", []string{"TAG-002", "TAG-404"}); err != nil {
		t.Fatalf("DeleteTasks: %v", err)
	}

	got, _ := s.GetTasksBySpec(ctx, "SPEC-S-001")
	if len(got) != 2 {
		t.Errorf("got %d records, want 2", len(got))
	}
	other, _ := s.GetTasksBySpec(ctx, "SPEC-S-002")
	if len(other) != 1 {
		t.Error("delete leaked into another spec")
	}

	// Deleting nothing is fine.
	if err := s.DeleteTasks(ctx, "SPEC-S-001", nil); err != nil {
		t.Errorf("empty delete: %v", err)
	}
}

func TestSQLite_SyncState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	got, err := s.GetSyncState(ctx, "SPEC-S-001")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("state before any sync = %+v, want nil", got)
	}

	when := time.Now().UTC().Truncate(time.Second)
	if err := s.PutSyncState(ctx, &SyncState{
		SpecID: "SPEC-S-001", ContentHash: "abc", LastSyncedAt: when,
	}); err != nil {
		t.Fatal(err)
	}

	got, err = s.GetSyncState(ctx, "SPEC-S-001")
	if err != nil || got == nil {
		t.Fatalf("GetSyncState: %v, %+v", err, got)
	}
	if got.ContentHash != "abc" || !got.LastSyncedAt.Equal(when) {
		t.Errorf("state = %+v", got)
	}

	// Overwrite.
	if err := s.PutSyncState(ctx, &SyncState{
		SpecID: "SPEC-S-001", ContentHash: "def", LastSyncedAt: when,
	}); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetSyncState(ctx, "SPEC-S-001")
	if got.ContentHash != "def" {
		t.Errorf("hash = %q after overwrite", got.ContentHash)
	}

	if err := s.DeleteSyncState(ctx, "SPEC-S-001"); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetSyncState(ctx, "SPEC-S-001")
	if got != nil {
		t.Error("state should be gone after delete")
	}
}

func TestSQLite_ValidateRejected(t *testing.T) {
	s := openTestStore(t)
	bad := &TaskRecord{DisplayID: "x", SpecID: "SPEC-S-001"} // no tag id
	if err := s.UpsertTask(context.Background(), bad); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestWriteJSONL(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.UpsertTask(ctx, rec("SPEC-S-001", "TAG-001", "a", "complete")); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertTask(ctx, rec("SPEC-S-002", "TAG-001", "b", "pending", "TAG-000")); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	n, err := WriteJSONL(ctx, s, &buf)
	if err != nil {
		t.Fatalf("WriteJSONL: %v", err)
	}
	if n != 2 {
		t.Errorf("written = %d, want 2", n)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines", len(lines))
	}
	var first TaskRecord
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("line 0 not valid JSON: %v", err)
	}
	if first.DisplayID != "SPEC-S-001.TAG-001" {
		t.Errorf("first line = %+v", first)
	}
}

func TestMemory_Counts(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.UpsertTask(ctx, rec("SPEC-S-001", "TAG-001", "a", "pending")); err != nil {
		t.Fatal(err)
	}
	if err := m.UpsertTask(ctx, rec("SPEC-S-001", "TAG-001", "a2", "pending")); err != nil {
		t.Fatal(err)
	}
	if err := m.DeleteTasks(ctx, "SPEC-S-001", []string{"TAG-001", "TAG-404"}); err != nil {
		t.Fatal(err)
	}

	upserts, deletes := m.Counts()
	if upserts != 2 {
		t.Errorf("upserts = %d, want 2", upserts)
	}
	if deletes != 1 {
		t.Errorf("deletes = %d, want 1 (missing ids don't count)", deletes)
	}
}
