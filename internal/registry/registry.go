// Package registry owns the set of active project watchers and serializes
// sync execution per spec.
//
// One ProjectWatcher runs per registered project root. Filesystem events
// are handed off immediately (the watcher goroutine never blocks on a
// sync); actual sync work runs on a bounded pool of workers, serialized
// per spec id through a keyed mutex so same-spec syncs never interleave
// while unrelated specs across projects proceed concurrently. A manual
// sync request and a watcher-triggered sync for the same spec take the
// same lock and therefore cannot race.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/specsync/specsync/internal/config"
	"github.com/specsync/specsync/internal/engine"
	"github.com/specsync/specsync/internal/graph"
	"github.com/specsync/specsync/internal/specdoc"
	"github.com/specsync/specsync/internal/watcher"
)

// ErrUnknownSpec is returned when no registered project contains the spec.
var ErrUnknownSpec = errors.New("spec not found in any registered project")

// ErrProjectRegistered is returned when a project root is added twice.
var ErrProjectRegistered = errors.New("project already registered")

// Config tunes the registry.
type Config struct {
	// SpecDirName is the directory under each project root holding the
	// spec directories, unless the project's manifest overrides it.
	SpecDirName string

	// SyncTimeout is the per-sync deadline.
	SyncTimeout time.Duration

	// Workers bounds the number of concurrently executing syncs.
	Workers int

	// Watcher configures each project's watcher.
	Watcher *watcher.Config

	// Logger for registry activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SpecDirName: "specs",
		SyncTimeout: 30 * time.Second,
		Workers:     4,
		Logger:      log.New(os.Stderr, "[registry] ", log.LstdFlags),
	}
}

func (c *Config) withDefaults() *Config {
	out := *c
	d := DefaultConfig()
	if out.SpecDirName == "" {
		out.SpecDirName = d.SpecDirName
	}
	if out.SyncTimeout <= 0 {
		out.SyncTimeout = d.SyncTimeout
	}
	if out.Workers <= 0 {
		out.Workers = d.Workers
	}
	if out.Logger == nil {
		out.Logger = d.Logger
	}
	return &out
}

// ProjectInfo describes one registered project.
type ProjectInfo struct {
	Root     string
	SpecRoot string
	Name     string
	Degraded bool
}

type project struct {
	root     string
	specRoot string
	name     string
	handle   *watcher.Handle

	mu       sync.Mutex
	removed  bool
	degraded bool
}

func (p *project) isRemoved() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.removed
}

// Registry manages watchers and serialized sync execution.
type Registry struct {
	engine *engine.Engine
	cfg    *Config
	logger *log.Logger

	mu        sync.Mutex
	projects  map[string]*project // abs root -> project
	specOwner map[string]*project // spec id -> owning project

	locks *keyedMutex
	sem   *semaphore.Weighted
	wg    sync.WaitGroup // tracks in-flight sync goroutines
}

// New creates a Registry executing syncs through the given engine.
func New(e *engine.Engine, cfg *Config) *Registry {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg = cfg.withDefaults()

	return &Registry{
		engine:    e,
		cfg:       cfg,
		logger:    cfg.Logger,
		projects:  make(map[string]*project),
		specOwner: make(map[string]*project),
		locks:     newKeyedMutex(),
		sem:       semaphore.NewWeighted(int64(cfg.Workers)),
	}
}

// AddProject registers a project root, starts its watcher, and kicks off
// an initial sync of every spec already present. The initial syncs run in
// the background; AddProject does not wait for them.
func (r *Registry) AddProject(root string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve project root: %w", err)
	}

	specDir := r.cfg.SpecDirName
	name := filepath.Base(absRoot)
	if manifest, err := config.LoadManifest(absRoot); err != nil {
		return err
	} else if manifest != nil {
		if manifest.SpecDir != "" {
			specDir = manifest.SpecDir
		}
		if manifest.Name != "" {
			name = manifest.Name
		}
	}
	specRoot := filepath.Join(absRoot, specDir)
	if info, err := os.Stat(specRoot); err != nil || !info.IsDir() {
		return fmt.Errorf("project %s has no spec directory at %s", absRoot, specRoot)
	}

	p := &project{root: absRoot, specRoot: specRoot, name: name}

	r.mu.Lock()
	if _, exists := r.projects[absRoot]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrProjectRegistered, absRoot)
	}
	r.projects[absRoot] = p
	r.mu.Unlock()

	handle, err := watcher.Watch(specRoot, r.cfg.Watcher, func(ev watcher.Event) {
		r.dispatch(p, ev)
	})
	if err != nil {
		r.mu.Lock()
		delete(r.projects, absRoot)
		r.mu.Unlock()
		return err
	}
	p.handle = handle

	// Surface watcher degradation without dropping the project; it stays
	// registered but stale until a manual resync.
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err, ok := <-handle.Degraded(); ok {
			p.mu.Lock()
			p.degraded = true
			p.mu.Unlock()
			r.logger.Printf("Project %s degraded: %v", absRoot, err)
		}
	}()

	// Initial sync of everything already on disk.
	dirs, err := specdoc.ListSpecDirs(specRoot)
	if err != nil {
		r.logger.Printf("Warning: cannot list specs in %s: %v", specRoot, err)
		dirs = nil
	}
	for _, dir := range dirs {
		r.dispatch(p, watcher.Event{SpecID: specdoc.NormalizeSpecID(filepath.Base(dir))})
	}

	r.logger.Printf("Registered project %s (%d specs)", absRoot, len(dirs))
	return nil
}

// RemoveProject stops the project's watcher and releases its resources
// before returning. Syncs already queued for specs owned solely by this
// project are dropped, not executed.
func (r *Registry) RemoveProject(root string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve project root: %w", err)
	}

	r.mu.Lock()
	p, ok := r.projects[absRoot]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("project not registered: %s", absRoot)
	}
	delete(r.projects, absRoot)
	for specID, owner := range r.specOwner {
		if owner == p {
			delete(r.specOwner, specID)
		}
	}
	r.mu.Unlock()

	p.mu.Lock()
	p.removed = true
	p.mu.Unlock()

	// Stopping the watcher cancels its debounce timers and blocks until
	// the OS watch is released.
	p.handle.Stop()

	r.logger.Printf("Removed project %s", absRoot)
	return nil
}

// ListActive returns the registered projects.
func (r *Registry) ListActive() []ProjectInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ProjectInfo, 0, len(r.projects))
	for _, p := range r.projects {
		p.mu.Lock()
		out = append(out, ProjectInfo{
			Root:     p.root,
			SpecRoot: p.specRoot,
			Name:     p.name,
			Degraded: p.degraded,
		})
		p.mu.Unlock()
	}
	return out
}

// Close removes every project and waits for in-flight syncs to drain.
func (r *Registry) Close() {
	r.mu.Lock()
	roots := make([]string, 0, len(r.projects))
	for root := range r.projects {
		roots = append(roots, root)
	}
	r.mu.Unlock()

	for _, root := range roots {
		_ = r.RemoveProject(root)
	}
	r.wg.Wait()
}

// dispatch hands a watcher event to the sync pool. Called from the
// watcher's dispatch goroutine, so it must return quickly.
func (r *Registry) dispatch(p *project, ev watcher.Event) {
	if p.isRemoved() {
		return
	}

	r.mu.Lock()
	if ev.Removed {
		delete(r.specOwner, ev.SpecID)
	} else {
		r.specOwner[ev.SpecID] = p
	}
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if _, err := r.syncSpec(context.Background(), p, ev.SpecID, ev.Removed); err != nil {
			r.logger.Printf("Sync %s failed: %v", ev.SpecID, err)
		}
	}()
}

// TriggerSync runs a sync for one spec on demand. It takes the same
// per-spec lock as watcher-triggered syncs, so the two serialize.
func (r *Registry) TriggerSync(ctx context.Context, specID string) (*engine.SyncResult, error) {
	specID = specdoc.NormalizeSpecID(specID)
	p, err := r.owner(specID)
	if err != nil {
		return nil, err
	}
	return r.syncSpec(ctx, p, specID, false)
}

// SpecDir resolves the directory a spec lives in.
func (r *Registry) SpecDir(specID string) (string, error) {
	specID = specdoc.NormalizeSpecID(specID)
	p, err := r.owner(specID)
	if err != nil {
		return "", err
	}
	return filepath.Join(p.specRoot, specID), nil
}

// owner finds the project a spec belongs to, first from the ownership map
// and otherwise by probing each project's spec root.
func (r *Registry) owner(specID string) (*project, error) {
	r.mu.Lock()
	if p, ok := r.specOwner[specID]; ok && !p.isRemovedLocked() {
		r.mu.Unlock()
		return p, nil
	}
	candidates := make([]*project, 0, len(r.projects))
	for _, p := range r.projects {
		candidates = append(candidates, p)
	}
	r.mu.Unlock()

	for _, p := range candidates {
		dir := filepath.Join(p.specRoot, specID)
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			r.mu.Lock()
			r.specOwner[specID] = p
			r.mu.Unlock()
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownSpec, specID)
}

// isRemovedLocked is like isRemoved but callable while r.mu is held;
// project.mu and registry.mu are never taken in the opposite order.
func (p *project) isRemovedLocked() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.removed
}

// syncSpec is the single execution path for every sync. Per-spec FIFO
// lock first, then a worker slot, then the engine.
func (r *Registry) syncSpec(ctx context.Context, p *project, specID string, removed bool) (*engine.SyncResult, error) {
	r.locks.Lock(specID)
	defer r.locks.Unlock(specID)

	// The project may have been unregistered while this request waited
	// in line; its queued syncs are dropped, not executed.
	if p.isRemoved() {
		return nil, fmt.Errorf("project for %s was unregistered", specID)
	}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire sync worker: %w", err)
	}
	defer r.sem.Release(1)

	ctx, cancel := context.WithTimeout(ctx, r.cfg.SyncTimeout)
	defer cancel()

	dir := filepath.Join(p.specRoot, specID)
	if removed {
		return r.engine.Sync(ctx, specID, nil)
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		// The directory vanished between the event and the sync.
		return r.engine.Sync(ctx, specID, nil)
	}

	doc, warnings, err := specdoc.ReadDocument(dir)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		r.logger.Printf("Parse warning in %s: %s", specID, w)
	}

	g, _ := graph.Build(doc)
	return r.engine.Sync(ctx, specID, g)
}
