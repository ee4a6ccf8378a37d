// Package watcher turns filesystem events under a project's SPEC root
// into debounced per-spec change notifications.
//
// The OS-watch callback and the dispatch logic are separated by a bounded
// channel: the fsnotify pump never blocks on a slow consumer (it drops and
// logs instead), and a dedicated debounce goroutine coalesces bursts of
// events for the same spec (editors commonly write a temp file and rename
// it) into exactly one callback invocation.
//
// A dropped OS watch handle is detected via the fsnotify error channel and
// a heartbeat, and repaired by resubscribing with exponential backoff.
// When the retries are exhausted the watcher gives up and reports
// degradation through Degraded instead of crashing; the project stays
// registered but stale until a manual resync.
package watcher

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/specsync/specsync/internal/specdoc"
)

// Event is one debounced change notification.
type Event struct {
	// SpecID identifies the spec whose files changed.
	SpecID string
	// Removed is set when the spec's directory itself was deleted or
	// renamed away, so the caller can clear its records.
	Removed bool
}

// Config tunes a watcher. Zero values fall back to defaults.
type Config struct {
	// Debounce is the quiet period before a burst of events for one
	// spec fires the callback. Reset on each new event for that spec.
	Debounce time.Duration

	// QueueSize bounds the channel between the fsnotify pump and the
	// debouncer.
	QueueSize int

	// HeartbeatInterval is how often the watch handle is verified.
	HeartbeatInterval time.Duration

	// MaxResubscribes bounds the backoff retries before the watcher
	// declares itself degraded.
	MaxResubscribes uint64

	// Logger for watcher activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Debounce:          300 * time.Millisecond,
		QueueSize:         256,
		HeartbeatInterval: 30 * time.Second,
		MaxResubscribes:   5,
		Logger:            log.New(os.Stderr, "[watcher] ", log.LstdFlags),
	}
}

func (c *Config) withDefaults() *Config {
	out := *c
	d := DefaultConfig()
	if out.Debounce <= 0 {
		out.Debounce = d.Debounce
	}
	if out.QueueSize <= 0 {
		out.QueueSize = d.QueueSize
	}
	if out.HeartbeatInterval <= 0 {
		out.HeartbeatInterval = d.HeartbeatInterval
	}
	if out.MaxResubscribes == 0 {
		out.MaxResubscribes = d.MaxResubscribes
	}
	if out.Logger == nil {
		out.Logger = d.Logger
	}
	return &out
}

// pendingChange tracks the debounce state for one spec.
type pendingChange struct {
	lastEvent time.Time
	removed   bool
}

// Handle is a running watcher over one spec root.
type Handle struct {
	specRoot string
	cfg      *Config
	onChange func(Event)

	fw   *fsnotify.Watcher
	fwMu sync.Mutex // guards fw swaps during resubscribe

	queue    chan Event
	degraded chan error
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Watch starts watching specRoot. onSpecChanged is invoked from the
// watcher's dispatch goroutine once per debounced burst; it must hand
// long-running work off elsewhere rather than block.
//
// The caller must Stop the handle to release the OS watch resources.
func Watch(specRoot string, cfg *Config, onSpecChanged func(Event)) (*Handle, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg = cfg.withDefaults()

	absRoot, err := filepath.Abs(specRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve spec root: %w", err)
	}

	h := &Handle{
		specRoot: absRoot,
		cfg:      cfg,
		onChange: onSpecChanged,
		queue:    make(chan Event, cfg.QueueSize),
		degraded: make(chan error, 1),
		done:     make(chan struct{}),
	}

	if err := h.subscribe(); err != nil {
		return nil, err
	}

	h.wg.Add(2)
	go h.pump()
	go h.dispatch()
	return h, nil
}

// SpecRoot returns the watched directory.
func (h *Handle) SpecRoot() string { return h.specRoot }

// Degraded reports unrecoverable watch failures. The channel receives at
// most one error; after that the watcher is stale until recreated.
func (h *Handle) Degraded() <-chan error { return h.degraded }

// Stop shuts the watcher down and releases OS resources. It blocks until
// both worker goroutines have exited and is safe to call more than once.
func (h *Handle) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.fwMu.Lock()
		if h.fw != nil {
			_ = h.fw.Close()
		}
		h.fwMu.Unlock()
		h.wg.Wait()
		// Both goroutines are gone; nobody can send on degraded now.
		close(h.degraded)
	})
}

// subscribe creates the fsnotify watcher and adds the spec root plus every
// existing spec directory.
func (h *Handle) subscribe() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fw.Add(h.specRoot); err != nil {
		_ = fw.Close()
		return fmt.Errorf("watch %s: %w", h.specRoot, err)
	}

	dirs, err := specdoc.ListSpecDirs(h.specRoot)
	if err != nil {
		_ = fw.Close()
		return err
	}
	for _, dir := range dirs {
		if err := fw.Add(dir); err != nil {
			h.cfg.Logger.Printf("Warning: cannot watch %s: %v", dir, err)
		}
	}

	h.fwMu.Lock()
	h.fw = fw
	h.fwMu.Unlock()
	return nil
}

func (h *Handle) watcherChans() (<-chan fsnotify.Event, <-chan error) {
	h.fwMu.Lock()
	defer h.fwMu.Unlock()
	return h.fw.Events, h.fw.Errors
}

// pump converts fsnotify events into queued Events. It never blocks on
// the queue: when the debouncer cannot keep up the event is dropped with
// a log line, which is safe because a later sync re-reads the whole spec.
func (h *Handle) pump() {
	defer h.wg.Done()

	heartbeat := time.NewTicker(h.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	events, errs := h.watcherChans()
	for {
		select {
		case <-h.done:
			return

		case ev, ok := <-events:
			if !ok {
				if h.resubscribe() {
					events, errs = h.watcherChans()
					continue
				}
				return
			}
			h.handleFsEvent(ev)

		case err, ok := <-errs:
			if !ok {
				if h.resubscribe() {
					events, errs = h.watcherChans()
					continue
				}
				return
			}
			h.cfg.Logger.Printf("Watch error: %v", err)

		case <-heartbeat.C:
			if !h.healthy() {
				h.cfg.Logger.Printf("Heartbeat: watch handle lost, resubscribing")
				if h.resubscribe() {
					events, errs = h.watcherChans()
				} else {
					return
				}
			}
		}
	}
}

// healthy verifies the spec root is still on the OS watch list.
func (h *Handle) healthy() bool {
	h.fwMu.Lock()
	defer h.fwMu.Unlock()
	for _, path := range h.fw.WatchList() {
		if path == h.specRoot {
			return true
		}
	}
	return false
}

// resubscribe replaces the dropped watch handle, retrying with
// exponential backoff. Returns false when retries are exhausted, after
// surfacing a degraded signal.
func (h *Handle) resubscribe() bool {
	select {
	case <-h.done:
		return false
	default:
	}

	h.fwMu.Lock()
	if h.fw != nil {
		_ = h.fw.Close()
		h.fw = nil
	}
	h.fwMu.Unlock()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 5 * time.Second

	err := backoff.Retry(func() error {
		select {
		case <-h.done:
			return backoff.Permanent(fmt.Errorf("watcher stopped"))
		default:
		}
		return h.subscribe()
	}, backoff.WithMaxRetries(bo, h.cfg.MaxResubscribes))

	if err != nil {
		select {
		case <-h.done:
		default:
			h.cfg.Logger.Printf("Watch on %s degraded: %v", h.specRoot, err)
			select {
			case h.degraded <- fmt.Errorf("watch on %s degraded: %w", h.specRoot, err):
			default:
			}
		}
		return false
	}

	h.cfg.Logger.Printf("Resubscribed to %s", h.specRoot)
	return true
}

// handleFsEvent maps one fsnotify event to a spec and queues it.
func (h *Handle) handleFsEvent(ev fsnotify.Event) {
	specID, ok := specdoc.SpecIDFromPath(h.specRoot, ev.Name)
	if !ok {
		return
	}

	isSpecDir := filepath.Dir(ev.Name) == h.specRoot

	switch {
	case ev.Has(fsnotify.Create):
		// A new spec directory needs its own watch for file events
		// inside it.
		if isSpecDir {
			if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
				h.fwMu.Lock()
				if h.fw != nil {
					if err := h.fw.Add(ev.Name); err != nil {
						h.cfg.Logger.Printf("Warning: cannot watch %s: %v", ev.Name, err)
					}
				}
				h.fwMu.Unlock()
			}
		}
		h.enqueue(Event{SpecID: specID})

	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		// Removing the spec directory itself removes the spec; a
		// remove/rename of a file inside it is an ordinary change
		// (editors rename temp files over the real one).
		h.enqueue(Event{SpecID: specID, Removed: isSpecDir})

	case ev.Has(fsnotify.Write):
		h.enqueue(Event{SpecID: specID})
	}
}

func (h *Handle) enqueue(ev Event) {
	select {
	case h.queue <- ev:
	default:
		h.cfg.Logger.Printf("Warning: event queue full, dropping change for %s", ev.SpecID)
	}
}

// dispatch is the debounce loop. Events reset a per-spec timer; once a
// spec has been quiet for the debounce window its callback fires exactly
// once for the whole burst.
func (h *Handle) dispatch() {
	defer h.wg.Done()

	tick := h.cfg.Debounce / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	pending := make(map[string]*pendingChange)

	for {
		select {
		case <-h.done:
			return

		case ev := <-h.queue:
			p, ok := pending[ev.SpecID]
			if !ok {
				p = &pendingChange{}
				pending[ev.SpecID] = p
			}
			p.lastEvent = time.Now()
			// Removal wins over a change in the same burst unless a
			// later create revives the spec.
			if ev.Removed {
				p.removed = true
			} else {
				p.removed = false
			}

		case now := <-ticker.C:
			for specID, p := range pending {
				if now.Sub(p.lastEvent) < h.cfg.Debounce {
					continue
				}
				delete(pending, specID)
				h.onChange(Event{SpecID: specID, Removed: p.removed})
			}
		}
	}
}
