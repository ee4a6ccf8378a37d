package store

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-memory Store for tests. It counts writes so concurrency
// tests can verify that serialized syncs never duplicate work, and it can
// inject failures to exercise the engine's error paths.
type Memory struct {
	mu     sync.Mutex
	tasks  map[string]map[string]*TaskRecord // specID -> tagID -> record
	states map[string]*SyncState

	upserts int
	deletes int

	// FailUpserts makes every UpsertTask return this error when non-nil.
	FailUpserts error
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		tasks:  make(map[string]map[string]*TaskRecord),
		states: make(map[string]*SyncState),
	}
}

// UpsertTask implements Store.
func (m *Memory) UpsertTask(ctx context.Context, rec *TaskRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailUpserts != nil {
		return m.FailUpserts
	}
	m.upserts++

	byTag, ok := m.tasks[rec.SpecID]
	if !ok {
		byTag = make(map[string]*TaskRecord)
		m.tasks[rec.SpecID] = byTag
	}
	clone := *rec
	clone.DependencyIDs = append([]string(nil), rec.DependencyIDs...)
	byTag[rec.TagID] = &clone
	return nil
}

// GetTasksBySpec implements Store, returning records ordered by tag id.
func (m *Memory) GetTasksBySpec(ctx context.Context, specID string) ([]*TaskRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	byTag := m.tasks[specID]
	tagIDs := make([]string, 0, len(byTag))
	for id := range byTag {
		tagIDs = append(tagIDs, id)
	}
	sort.Strings(tagIDs)

	records := make([]*TaskRecord, 0, len(tagIDs))
	for _, id := range tagIDs {
		clone := *byTag[id]
		clone.DependencyIDs = append([]string(nil), byTag[id].DependencyIDs...)
		records = append(records, &clone)
	}
	return records, nil
}

// DeleteTasks implements Store.
func (m *Memory) DeleteTasks(ctx context.Context, specID string, tagIDs []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	byTag := m.tasks[specID]
	for _, id := range tagIDs {
		if _, ok := byTag[id]; ok {
			delete(byTag, id)
			m.deletes++
		}
	}
	return nil
}

// GetSyncState implements Store.
func (m *Memory) GetSyncState(ctx context.Context, specID string) (*SyncState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[specID]
	if !ok {
		return nil, nil
	}
	clone := *state
	return &clone, nil
}

// PutSyncState implements Store.
func (m *Memory) PutSyncState(ctx context.Context, state *SyncState) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *state
	m.states[state.SpecID] = &clone
	return nil
}

// DeleteSyncState implements Store.
func (m *Memory) DeleteSyncState(ctx context.Context, specID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, specID)
	return nil
}

// Close implements Store.
func (m *Memory) Close() error { return nil }

// ListSpecIDs returns the distinct spec ids with task records, sorted.
func (m *Memory) ListSpecIDs(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.tasks))
	for id, byTag := range m.tasks {
		if len(byTag) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Counts returns the total upserts and deletes applied so far.
func (m *Memory) Counts() (upserts, deletes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upserts, m.deletes
}
