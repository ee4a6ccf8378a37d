// Package service is the exposed API surface. It wires the store, sync
// engine and watcher registry together; callers (the CLI, an embedding
// host) talk to a Service and never to the layers underneath.
package service

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/specsync/specsync/internal/config"
	"github.com/specsync/specsync/internal/engine"
	"github.com/specsync/specsync/internal/graph"
	"github.com/specsync/specsync/internal/registry"
	"github.com/specsync/specsync/internal/specdoc"
	"github.com/specsync/specsync/internal/store"
	"github.com/specsync/specsync/internal/watcher"
)

// Service ties the pipeline together: parser -> graph -> engine -> store,
// driven by the registry's watchers or by explicit calls.
type Service struct {
	cfg      *config.Config
	store    store.Store
	engine   *engine.Engine
	registry *registry.Registry
	logger   *log.Logger
}

// New builds a Service on top of an opened store.
func New(cfg *config.Config, st store.Store) *Service {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := cfg.NewLogger("service")
	eng := engine.New(st, cfg.NewLogger("engine"))
	reg := registry.New(eng, &registry.Config{
		SpecDirName: cfg.SpecDirName,
		SyncTimeout: cfg.SyncTimeout,
		Workers:     cfg.SyncWorkers,
		Watcher: &watcher.Config{
			Debounce: cfg.Debounce,
			Logger:   cfg.NewLogger("watcher"),
		},
		Logger: cfg.NewLogger("registry"),
	})

	return &Service{
		cfg:      cfg,
		store:    st,
		engine:   eng,
		registry: reg,
		logger:   logger,
	}
}

// RegisterProject starts watching a project root and syncs its specs.
func (s *Service) RegisterProject(root string) error {
	return s.registry.AddProject(root)
}

// UnregisterProject stops the project's watcher. Its records remain in the
// store until the spec directories themselves are removed.
func (s *Service) UnregisterProject(root string) error {
	return s.registry.RemoveProject(root)
}

// Projects lists the registered projects.
func (s *Service) Projects() []registry.ProjectInfo {
	return s.registry.ListActive()
}

// TriggerSync reconciles one spec with the store on demand.
func (s *Service) TriggerSync(ctx context.Context, specID string) (*engine.SyncResult, error) {
	return s.registry.TriggerSync(ctx, specID)
}

// GetGraph parses the spec's current on-disk state and builds its task
// graph. The graph carries its own validation errors; an invalid graph is
// still returned so callers can report what is wrong.
func (s *Service) GetGraph(specID string) (*graph.Graph, []specdoc.ParseWarning, error) {
	dir, err := s.registry.SpecDir(specID)
	if err != nil {
		return nil, nil, err
	}
	doc, warnings, err := specdoc.ReadDocument(dir)
	if err != nil {
		return nil, nil, err
	}
	g, _ := graph.Build(doc)
	return g, warnings, nil
}

// ToggleCondition flips one completion checkbox in the spec's source file
// and syncs the result. The file is the only thing this writes: the store
// update flows through the ordinary sync path, so a toggle can never
// diverge from what a fresh parse would produce.
func (s *Service) ToggleCondition(ctx context.Context, specID, tagID string, index int) (*engine.SyncResult, error) {
	dir, err := s.registry.SpecDir(specID)
	if err != nil {
		return nil, err
	}
	if _, err := specdoc.ToggleCondition(dir, tagID, index); err != nil {
		return nil, fmt.Errorf("toggle %s %s[%d]: %w", specID, tagID, index, err)
	}
	// This sync records the post-toggle content hash, so the watcher's
	// echo of our own write short-circuits instead of re-syncing.
	return s.registry.TriggerSync(ctx, specID)
}

// Tasks returns the stored records for one spec.
func (s *Service) Tasks(ctx context.Context, specID string) ([]*store.TaskRecord, error) {
	return s.store.GetTasksBySpec(ctx, specdoc.NormalizeSpecID(specID))
}

// Export writes every stored record as JSONL and reports the count.
func (s *Service) Export(ctx context.Context, w io.Writer) (int, error) {
	src, ok := s.store.(store.Source)
	if !ok {
		return 0, fmt.Errorf("store does not support export")
	}
	return store.WriteJSONL(ctx, src, w)
}

// Close drains in-flight syncs and closes the store.
func (s *Service) Close() error {
	s.registry.Close()
	return s.store.Close()
}
