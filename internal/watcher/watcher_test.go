package watcher

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func testConfig() *Config {
	return &Config{
		Debounce:          50 * time.Millisecond,
		QueueSize:         64,
		HeartbeatInterval: time.Hour, // keep the heartbeat out of timing tests
		MaxResubscribes:   2,
		Logger:            log.New(io.Discard, "", 0),
	}
}

// collector gathers callback invocations for assertions.
type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) add(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// waitFor polls until cond returns true or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func mkSpecDir(t *testing.T, root, specID string) string {
	t.Helper()
	dir := filepath.Join(root, specID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	return dir
}

func writeTasks(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "tasks.md"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// TestWatch_DebounceCoalesces: five rapid saves to the same spec within
// the debounce window invoke the callback exactly once.
func TestWatch_DebounceCoalesces(t *testing.T) {
	root := t.TempDir()
	dir := mkSpecDir(t, root, "SPEC-W-001")
	writeTasks(t, dir, "initial")

	var c collector
	h, err := Watch(root, testConfig(), c.add)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer h.Stop()

	for i := 0; i < 5; i++ {
		writeTasks(t, dir, "save")
		time.Sleep(5 * time.Millisecond)
	}

	if !waitFor(t, 2*time.Second, func() bool { return len(c.snapshot()) >= 1 }) {
		t.Fatal("callback never fired")
	}
	// Let any stragglers through, then confirm the burst coalesced.
	time.Sleep(300 * time.Millisecond)

	events := c.snapshot()
	if len(events) != 1 {
		t.Fatalf("callback fired %d times, want exactly 1: %v", len(events), events)
	}
	if events[0].SpecID != "SPEC-W-001" || events[0].Removed {
		t.Errorf("event = %+v", events[0])
	}
}

// TestWatch_SeparateSpecsSeparateEvents verifies bursts for different
// specs each get their own callback.
func TestWatch_SeparateSpecsSeparateEvents(t *testing.T) {
	root := t.TempDir()
	a := mkSpecDir(t, root, "SPEC-W-001")
	b := mkSpecDir(t, root, "SPEC-W-002")

	var c collector
	h, err := Watch(root, testConfig(), c.add)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Stop()

	writeTasks(t, a, "a")
	writeTasks(t, b, "b")

	if !waitFor(t, 2*time.Second, func() bool { return len(c.snapshot()) >= 2 }) {
		t.Fatalf("got %v, want events for both specs", c.snapshot())
	}
	seen := map[string]bool{}
	for _, ev := range c.snapshot() {
		seen[ev.SpecID] = true
	}
	if !seen["SPEC-W-001"] || !seen["SPEC-W-002"] {
		t.Errorf("events = %v", c.snapshot())
	}
}

// TestWatch_RemovedSpecDir: deleting a spec directory yields a removal
// event so the caller can clear its records.
func TestWatch_RemovedSpecDir(t *testing.T) {
	root := t.TempDir()
	dir := mkSpecDir(t, root, "SPEC-W-001")
	writeTasks(t, dir, "x")

	var c collector
	h, err := Watch(root, testConfig(), c.add)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Stop()

	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}

	if !waitFor(t, 2*time.Second, func() bool {
		for _, ev := range c.snapshot() {
			if ev.SpecID == "SPEC-W-001" && ev.Removed {
				return true
			}
		}
		return false
	}) {
		t.Fatalf("no removal event: %v", c.snapshot())
	}
}

// TestWatch_NewSpecDirPickedUp: a spec directory created after Watch gets
// watched and its file changes produce events.
func TestWatch_NewSpecDirPickedUp(t *testing.T) {
	root := t.TempDir()

	var c collector
	h, err := Watch(root, testConfig(), c.add)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Stop()

	dir := mkSpecDir(t, root, "SPEC-W-009")
	if !waitFor(t, 2*time.Second, func() bool { return len(c.snapshot()) >= 1 }) {
		t.Fatalf("creation event never arrived: %v", c.snapshot())
	}

	// Now a write inside the new directory must also be seen.
	before := len(c.snapshot())
	writeTasks(t, dir, "content")
	if !waitFor(t, 2*time.Second, func() bool { return len(c.snapshot()) > before }) {
		t.Fatal("write in new spec dir not watched")
	}
}

// TestWatch_IgnoresNonSpecPaths: files outside spec directories never
// produce events.
func TestWatch_IgnoresNonSpecPaths(t *testing.T) {
	root := t.TempDir()
	mkSpecDir(t, root, "SPEC-W-001")

	var c collector
	h, err := Watch(root, testConfig(), c.add)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Stop()

	if err := os.WriteFile(filepath.Join(root, "README.md"), []byte("hi"), 0644); err != nil {
		t.Fatal(err)
	}

	time.Sleep(300 * time.Millisecond)
	if events := c.snapshot(); len(events) != 0 {
		t.Errorf("events = %v, want none", events)
	}
}

func TestWatch_StopIsIdempotent(t *testing.T) {
	root := t.TempDir()
	h, err := Watch(root, testConfig(), func(Event) {})
	if err != nil {
		t.Fatal(err)
	}
	h.Stop()
	h.Stop() // must not panic or deadlock
}

// TestWatch_ResubscribeAfterHandleLoss: closing the underlying watch
// handle out from under the pump triggers a successful resubscribe while
// the root still exists.
func TestWatch_ResubscribeAfterHandleLoss(t *testing.T) {
	root := t.TempDir()
	dir := mkSpecDir(t, root, "SPEC-W-001")

	var c collector
	h, err := Watch(root, testConfig(), c.add)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Stop()

	// Simulate the OS dropping the handle.
	h.fwMu.Lock()
	_ = h.fw.Close()
	h.fwMu.Unlock()

	// After resubscribing, events must flow again.
	if !waitFor(t, 3*time.Second, func() bool {
		writeTasks(t, dir, "poke")
		time.Sleep(50 * time.Millisecond)
		return len(c.snapshot()) >= 1
	}) {
		t.Fatal("no events after resubscribe")
	}
}

// TestWatch_DegradedWhenRootGone: if resubscribing cannot succeed, the
// watcher surfaces a degraded signal instead of crashing.
func TestWatch_DegradedWhenRootGone(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "specs")
	if err := os.MkdirAll(root, 0755); err != nil {
		t.Fatal(err)
	}

	h, err := Watch(root, testConfig(), func(Event) {})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Stop()

	// Remove the root so resubscription cannot succeed, then drop the
	// handle.
	if err := os.RemoveAll(root); err != nil {
		t.Fatal(err)
	}
	h.fwMu.Lock()
	_ = h.fw.Close()
	h.fwMu.Unlock()

	select {
	case err := <-h.Degraded():
		if err == nil {
			t.Fatal("nil degraded error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("degraded signal never arrived")
	}
}
