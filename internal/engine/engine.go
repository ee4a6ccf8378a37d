// Package engine reconciles parsed task graphs against the persistent
// store.
//
// The source files are the source of truth and the store is a projection:
// items present in the graph but absent from the store are created, store
// records whose TagItem disappeared from the source are deleted, and items
// present in both are updated only when their content fingerprint differs.
//
// Every operation is idempotent. Running Sync twice in a row with no
// intervening file change yields an all-zero delta on the second run, and
// a sync aborted mid-way by a store error or deadline is repaired by the
// next run. Callers are expected to serialize Sync per spec id (the
// registry does this); the engine itself holds no locks.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/specsync/specsync/internal/graph"
	"github.com/specsync/specsync/internal/specdoc"
	"github.com/specsync/specsync/internal/store"
)

// ErrInvalidGraph is returned when a graph failed dependency validation.
// Invalid graphs are excluded from sync until the document is fixed.
var ErrInvalidGraph = errors.New("graph failed validation")

// SyncResult is the diff a sync applied to the store.
type SyncResult struct {
	SpecID    string `json:"spec_id"`
	Created   int    `json:"created"`
	Updated   int    `json:"updated"`
	Deleted   int    `json:"deleted"`
	Unchanged int    `json:"unchanged"`
}

// Empty reports whether the sync changed nothing.
func (r *SyncResult) Empty() bool {
	return r.Created == 0 && r.Updated == 0 && r.Deleted == 0
}

func (r *SyncResult) String() string {
	return fmt.Sprintf("%s: created=%d updated=%d deleted=%d unchanged=%d",
		r.SpecID, r.Created, r.Updated, r.Deleted, r.Unchanged)
}

// Engine applies graphs to a store.
type Engine struct {
	store  store.Store
	logger *log.Logger

	// now is swappable for tests.
	now func() time.Time
}

// New creates an Engine. If logger is nil, a default logger writing to
// stderr is used.
func New(st store.Store, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	return &Engine{store: st, logger: logger, now: time.Now}
}

// Sync reconciles the graph for specID against the store and reports the
// diff. A nil graph means the spec was removed from the source: all of its
// records and its checkpoint are deleted.
//
// The context carries the caller's deadline; store operations attempted so
// far are not rolled back on abort, which is safe because a re-run repairs
// any partial state.
func (e *Engine) Sync(ctx context.Context, specID string, g *graph.Graph) (*SyncResult, error) {
	if g == nil {
		return e.syncRemoved(ctx, specID)
	}
	if !g.Valid() {
		return nil, fmt.Errorf("%s: %w: %v", specID, ErrInvalidGraph, g.Errors())
	}

	result := &SyncResult{SpecID: specID}

	// Checkpoint short-circuit: if the source content hash matches the
	// last successful sync, nothing can have changed. This is also what
	// absorbs the watcher echo of a toggle write, since the explicit
	// post-toggle sync records the new hash first.
	if hash := g.ContentHash(); hash != "" {
		state, err := e.store.GetSyncState(ctx, specID)
		if err != nil {
			return nil, fmt.Errorf("load checkpoint: %w", err)
		}
		if state != nil && state.ContentHash == hash {
			result.Unchanged = g.Len()
			return result, nil
		}
	}

	existing, err := e.store.GetTasksBySpec(ctx, specID)
	if err != nil {
		return nil, fmt.Errorf("fetch records: %w", err)
	}
	byTag := make(map[string]*store.TaskRecord, len(existing))
	for _, rec := range existing {
		byTag[rec.TagID] = rec
	}

	now := e.now().UTC()

	// Creates and updates, in document order.
	for _, item := range g.Items() {
		prev, ok := byTag[item.TagID]
		if !ok {
			rec := recordFromItem(specID, item, now, now)
			if err := e.store.UpsertTask(ctx, rec); err != nil {
				return nil, fmt.Errorf("create %s: %w", rec.DisplayID, err)
			}
			result.Created++
			continue
		}
		delete(byTag, item.TagID)

		if fingerprint(prev) == itemFingerprint(item) {
			result.Unchanged++
			continue
		}
		rec := recordFromItem(specID, item, prev.CreatedAt, now)
		rec.Origin = prev.Origin
		if err := e.store.UpsertTask(ctx, rec); err != nil {
			return nil, fmt.Errorf("update %s: %w", rec.DisplayID, err)
		}
		result.Updated++
	}

	// Whatever is left in byTag has no TagItem in the source anymore.
	if len(byTag) > 0 {
		stale := make([]string, 0, len(byTag))
		for tagID := range byTag {
			stale = append(stale, tagID)
		}
		if err := e.store.DeleteTasks(ctx, specID, stale); err != nil {
			return nil, fmt.Errorf("delete stale records: %w", err)
		}
		result.Deleted = len(stale)
	}

	if hash := g.ContentHash(); hash != "" {
		if err := e.store.PutSyncState(ctx, &store.SyncState{
			SpecID:       specID,
			ContentHash:  hash,
			LastSyncedAt: now,
		}); err != nil {
			return nil, fmt.Errorf("record checkpoint: %w", err)
		}
	}

	if !result.Empty() {
		e.logger.Printf("Synced %s", result)
	}
	return result, nil
}

// syncRemoved clears every record and the checkpoint for a spec whose
// source directory disappeared.
func (e *Engine) syncRemoved(ctx context.Context, specID string) (*SyncResult, error) {
	existing, err := e.store.GetTasksBySpec(ctx, specID)
	if err != nil {
		return nil, fmt.Errorf("fetch records: %w", err)
	}

	result := &SyncResult{SpecID: specID}
	if len(existing) > 0 {
		tagIDs := make([]string, 0, len(existing))
		for _, rec := range existing {
			tagIDs = append(tagIDs, rec.TagID)
		}
		if err := e.store.DeleteTasks(ctx, specID, tagIDs); err != nil {
			return nil, fmt.Errorf("delete records: %w", err)
		}
		result.Deleted = len(tagIDs)
	}
	if err := e.store.DeleteSyncState(ctx, specID); err != nil {
		return nil, fmt.Errorf("clear checkpoint: %w", err)
	}

	e.logger.Printf("Removed %s (%d records)", specID, result.Deleted)
	return result, nil
}

// recordFromItem projects a TagItem to its persisted form.
func recordFromItem(specID string, item *specdoc.TagItem, createdAt, updatedAt time.Time) *store.TaskRecord {
	return &store.TaskRecord{
		DisplayID:     store.DisplayID(specID, item.TagID),
		SpecID:        specID,
		TagID:         item.TagID,
		Title:         item.Title,
		Scope:         item.Scope,
		Status:        string(item.Status),
		DependencyIDs: append([]string(nil), item.DependencyIDs...),
		Origin:        store.OriginSpec,
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
	}
}

// fingerprint is the comparable content of a stored record. Timestamps and
// origin are identity, not content, and stay out of it.
func fingerprint(rec *store.TaskRecord) string {
	return strings.Join([]string{
		rec.Title, rec.Status, rec.Scope, strings.Join(rec.DependencyIDs, ","),
	}, "\x1f")
}

func itemFingerprint(item *specdoc.TagItem) string {
	return strings.Join([]string{
		item.Title, string(item.Status), item.Scope, strings.Join(item.DependencyIDs, ","),
	}, "\x1f")
}
