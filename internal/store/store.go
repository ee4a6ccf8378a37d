// Package store persists the TaskRecord projection of SPEC task graphs.
//
// The store is deliberately narrow: upsert, fetch-by-spec, delete-by-ids,
// plus the per-spec sync checkpoint. No multi-row transactional guarantee
// is assumed; the sync engine compensates by being idempotent, so a sync
// interrupted mid-write is repaired by the next run.
//
// Two implementations are provided: the SQLite store used in production
// (WAL mode, shared across all sync workers) and an in-memory store for
// tests that also counts writes.
package store

import (
	"context"
	"fmt"
	"time"
)

// Origin records how a TaskRecord came to exist.
const (
	// OriginSpec marks records projected from a SPEC document by the
	// sync engine. This is the only origin the engine ever writes.
	OriginSpec = "spec"
	// OriginManual marks records created outside the sync path by some
	// external collaborator. The engine updates but never creates these.
	OriginManual = "manual"
)

// TaskRecord is the persisted projection of one TagItem. Its lifecycle is
// entirely driven by the sync engine: created when the TagItem first
// appears, updated on field change, removed when the TagItem disappears
// from the source.
type TaskRecord struct {
	// DisplayID is the derived primary key, SpecID + "." + TagID.
	DisplayID string `json:"display_id"`

	SpecID string `json:"spec_id"`
	TagID  string `json:"tag_id"`

	Title  string `json:"title"`
	Scope  string `json:"scope,omitempty"`
	Status string `json:"status"` // pending | complete

	// DependencyIDs is denormalized from the source document.
	DependencyIDs []string `json:"dependency_ids,omitempty"`

	Origin string `json:"origin"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DisplayID derives the primary key for a spec/tag pair.
func DisplayID(specID, tagID string) string {
	return specID + "." + tagID
}

// Validate checks required fields before a write.
func (r *TaskRecord) Validate() error {
	if r.DisplayID == "" {
		return fmt.Errorf("display id is required")
	}
	if r.SpecID == "" {
		return fmt.Errorf("spec id is required")
	}
	if r.TagID == "" {
		return fmt.Errorf("tag id is required")
	}
	if r.Origin != OriginSpec && r.Origin != OriginManual {
		return fmt.Errorf("unknown origin %q", r.Origin)
	}
	return nil
}

// SyncState is the per-spec checkpoint: the content hash and timestamp of
// the last successful sync. It makes re-sync idempotent and lets the
// engine recognize its own write echoes.
type SyncState struct {
	SpecID       string    `json:"spec_id"`
	ContentHash  string    `json:"content_hash"`
	LastSyncedAt time.Time `json:"last_synced_at"`
}

// Store is the persistence contract the sync engine consumes.
//
// Each operation is applied independently and must be idempotent; the
// engine never relies on two operations being atomic together.
type Store interface {
	// UpsertTask inserts or replaces a record keyed by DisplayID.
	UpsertTask(ctx context.Context, rec *TaskRecord) error

	// GetTasksBySpec returns all records for a spec, ordered by TagID.
	GetTasksBySpec(ctx context.Context, specID string) ([]*TaskRecord, error)

	// DeleteTasks removes the given TagIDs for a spec. Missing ids are
	// not an error.
	DeleteTasks(ctx context.Context, specID string, tagIDs []string) error

	// GetSyncState returns the checkpoint for a spec, or nil if the
	// spec has never synced.
	GetSyncState(ctx context.Context, specID string) (*SyncState, error)

	// PutSyncState records a checkpoint.
	PutSyncState(ctx context.Context, state *SyncState) error

	// DeleteSyncState removes a spec's checkpoint, used when the spec
	// itself is removed.
	DeleteSyncState(ctx context.Context, specID string) error

	// Close releases the underlying resources.
	Close() error
}
