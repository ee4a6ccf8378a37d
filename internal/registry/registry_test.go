package registry

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/specsync/specsync/internal/engine"
	"github.com/specsync/specsync/internal/store"
	"github.com/specsync/specsync/internal/watcher"
)

const simpleChain = `## TAG-001: Only item
Completion Conditions:
- [x] done
`

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func testRegistry(t *testing.T) (*Registry, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	e := engine.New(mem, quietLogger())
	r := New(e, &Config{
		SpecDirName: "specs",
		SyncTimeout: 10 * time.Second,
		Workers:     4,
		Watcher: &watcher.Config{
			Debounce: 50 * time.Millisecond,
			Logger:   quietLogger(),
		},
		Logger: quietLogger(),
	})
	t.Cleanup(r.Close)
	return r, mem
}

func makeProject(t *testing.T, specs map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for specID, taskChain := range specs {
		dir := filepath.Join(root, "specs", specID)
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
		if taskChain != "" {
			if err := os.WriteFile(filepath.Join(dir, "tasks.md"), []byte(taskChain), 0644); err != nil {
				t.Fatal(err)
			}
		}
	}
	return root
}

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

func TestAddProject_InitialSync(t *testing.T) {
	r, mem := testRegistry(t)
	root := makeProject(t, map[string]string{"SPEC-R-001": simpleChain})

	if err := r.AddProject(root); err != nil {
		t.Fatalf("AddProject: %v", err)
	}

	if !waitFor(t, 3*time.Second, func() bool {
		recs, _ := mem.GetTasksBySpec(context.Background(), "SPEC-R-001")
		return len(recs) == 1
	}) {
		t.Fatal("initial sync never landed")
	}
}

func TestAddProject_Validation(t *testing.T) {
	r, _ := testRegistry(t)

	if err := r.AddProject(t.TempDir()); err == nil {
		t.Error("expected error for project without spec directory")
	}

	root := makeProject(t, map[string]string{"SPEC-R-001": simpleChain})
	if err := r.AddProject(root); err != nil {
		t.Fatal(err)
	}
	if err := r.AddProject(root); !errors.Is(err, ErrProjectRegistered) {
		t.Errorf("double add: err = %v", err)
	}
	if got := len(r.ListActive()); got != 1 {
		t.Errorf("active projects = %d", got)
	}
}

// TestWatcherDrivenSync: a file edit flows file -> parse -> graph -> sync
// -> store without a manual trigger.
func TestWatcherDrivenSync(t *testing.T) {
	r, mem := testRegistry(t)
	root := makeProject(t, map[string]string{"SPEC-R-001": simpleChain})
	if err := r.AddProject(root); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	waitFor(t, 3*time.Second, func() bool {
		recs, _ := mem.GetTasksBySpec(ctx, "SPEC-R-001")
		return len(recs) == 1
	})

	// Add a second item to the source file.
	updated := simpleChain + `
## TAG-002: Added later
Dependencies: TAG-001
Completion Conditions:
- [ ] pending work
`
	path := filepath.Join(root, "specs", "SPEC-R-001", "tasks.md")
	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		t.Fatal(err)
	}

	if !waitFor(t, 3*time.Second, func() bool {
		recs, _ := mem.GetTasksBySpec(ctx, "SPEC-R-001")
		return len(recs) == 2
	}) {
		t.Fatal("watcher-driven sync never landed")
	}
}

// TestConcurrentTriggerSync: N concurrent syncs for the same spec never
// produce duplicate records, verified against a store that counts writes.
func TestConcurrentTriggerSync(t *testing.T) {
	r, mem := testRegistry(t)
	root := makeProject(t, map[string]string{"SPEC-R-001": simpleChain})
	if err := r.AddProject(root); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	const n = 10
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if _, err := r.TriggerSync(ctx, "SPEC-R-001"); err != nil {
				t.Errorf("TriggerSync: %v", err)
			}
		}()
	}
	wg.Wait()

	recs, _ := mem.GetTasksBySpec(ctx, "SPEC-R-001")
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1 (no duplicates)", len(recs))
	}
	// Exactly one of the serialized syncs should have written; the rest
	// hit the checkpoint short-circuit or the unchanged fingerprint.
	upserts, _ := mem.Counts()
	if upserts != 1 {
		t.Errorf("upserts = %d, want 1", upserts)
	}
}

func TestTriggerSync_UnknownSpec(t *testing.T) {
	r, _ := testRegistry(t)
	root := makeProject(t, map[string]string{"SPEC-R-001": simpleChain})
	if err := r.AddProject(root); err != nil {
		t.Fatal(err)
	}

	if _, err := r.TriggerSync(context.Background(), "SPEC-NOPE-001"); !errors.Is(err, ErrUnknownSpec) {
		t.Errorf("err = %v, want ErrUnknownSpec", err)
	}
}

// TestRemoveProject stops the watcher and drops the project's specs.
func TestRemoveProject(t *testing.T) {
	r, mem := testRegistry(t)
	root := makeProject(t, map[string]string{"SPEC-R-001": simpleChain})
	if err := r.AddProject(root); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	waitFor(t, 3*time.Second, func() bool {
		recs, _ := mem.GetTasksBySpec(ctx, "SPEC-R-001")
		return len(recs) == 1
	})

	if err := r.RemoveProject(root); err != nil {
		t.Fatalf("RemoveProject: %v", err)
	}
	if len(r.ListActive()) != 0 {
		t.Error("project still listed")
	}

	// Syncs for the removed project's specs are refused.
	if _, err := r.TriggerSync(ctx, "SPEC-R-001"); err == nil {
		t.Error("expected error for spec of removed project")
	}

	// Edits after removal must not reach the store.
	path := filepath.Join(root, "specs", "SPEC-R-001", "tasks.md")
	if err := os.WriteFile(path, []byte(simpleChain+"\n## TAG-002: Late\n"), 0644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)
	recs, _ := mem.GetTasksBySpec(ctx, "SPEC-R-001")
	if len(recs) != 1 {
		t.Errorf("records changed after project removal: %d", len(recs))
	}

	if err := r.RemoveProject(root); err == nil {
		t.Error("removing twice should error")
	}
}

// TestSpecRemovalDeletesRecords: deleting a spec directory clears its
// records via the watcher path.
func TestSpecRemovalDeletesRecords(t *testing.T) {
	r, mem := testRegistry(t)
	root := makeProject(t, map[string]string{
		"SPEC-R-001": simpleChain,
		"SPEC-R-002": simpleChain,
	})
	if err := r.AddProject(root); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	waitFor(t, 3*time.Second, func() bool {
		a, _ := mem.GetTasksBySpec(ctx, "SPEC-R-001")
		b, _ := mem.GetTasksBySpec(ctx, "SPEC-R-002")
		return len(a) == 1 && len(b) == 1
	})

	if err := os.RemoveAll(filepath.Join(root, "specs", "SPEC-R-001")); err != nil {
		t.Fatal(err)
	}

	if !waitFor(t, 3*time.Second, func() bool {
		recs, _ := mem.GetTasksBySpec(ctx, "SPEC-R-001")
		return len(recs) == 0
	}) {
		t.Fatal("records for removed spec not deleted")
	}
	// The sibling spec is untouched.
	recs, _ := mem.GetTasksBySpec(ctx, "SPEC-R-002")
	if len(recs) != 1 {
		t.Error("removal leaked into sibling spec")
	}
}

// TestKeyedMutex_FIFO: waiters for one key acquire in arrival order.
func TestKeyedMutex_FIFO(t *testing.T) {
	km := newKeyedMutex()
	km.Lock("k")

	const n = 5
	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			km.Lock("k")
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			km.Unlock("k")
		}(i)
		time.Sleep(20 * time.Millisecond) // establish arrival order
	}

	km.Unlock("k")
	wg.Wait()

	for i, got := range order {
		if got != i {
			t.Fatalf("acquisition order = %v, want FIFO", order)
		}
	}
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	km := newKeyedMutex()
	km.Lock("a")

	done := make(chan struct{})
	go func() {
		km.Lock("b") // must not block on "a"
		km.Unlock("b")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("independent key blocked")
	}
	km.Unlock("a")
}
