// Package graph builds validated, immutable task graphs from parsed SPEC
// documents.
//
// A Graph is constructed once from a SpecDocument revision and never
// mutated; a new revision yields a new Graph, so concurrent readers are
// always consistent. Build validates dependency references: a dangling
// reference or a dependency cycle marks the graph invalid. Invalid graphs
// still load (callers can inspect the errors) but are excluded from sync.
package graph

import (
	"fmt"
	"strings"

	"github.com/specsync/specsync/internal/specdoc"
)

// ErrorKind classifies a validation error.
type ErrorKind string

const (
	// CyclicDependency means the dependency edges contain a cycle.
	CyclicDependency ErrorKind = "cyclic_dependency"
	// DanglingDependency means an item references a TagID that does not
	// exist in the same document.
	DanglingDependency ErrorKind = "dangling_dependency"
)

// ValidationError describes why a graph is invalid. Validation problems
// never crash the pipeline; they narrow what can sync.
type ValidationError struct {
	Kind  ErrorKind
	TagID string
	// Ref is the missing reference for DanglingDependency.
	Ref string
	// Cycle names the cycle for CyclicDependency, e.g.
	// [TAG-001 TAG-002 TAG-001].
	Cycle []string
}

func (e ValidationError) Error() string {
	switch e.Kind {
	case CyclicDependency:
		return fmt.Sprintf("cyclic dependency: %s", strings.Join(e.Cycle, " -> "))
	case DanglingDependency:
		return fmt.Sprintf("%s depends on %s which does not exist", e.TagID, e.Ref)
	default:
		return fmt.Sprintf("validation error on %s", e.TagID)
	}
}

// Graph is the immutable dependency graph of one SPEC document revision.
type Graph struct {
	specID      string
	contentHash string
	items       []*specdoc.TagItem
	byID        map[string]*specdoc.TagItem
	errs        []ValidationError
	order       []string
}

// Build constructs a Graph from a parsed document. The returned errors
// (also retrievable via Errors) mark the graph invalid when non-empty.
func Build(doc *specdoc.SpecDocument) (*Graph, []ValidationError) {
	g := &Graph{
		specID:      doc.ID,
		contentHash: doc.ContentHash,
		items:       doc.TagItems,
		byID:        make(map[string]*specdoc.TagItem, len(doc.TagItems)),
	}
	for _, item := range doc.TagItems {
		g.byID[item.TagID] = item
	}

	g.checkDangling()
	g.checkCycles()
	if len(g.errs) == 0 {
		g.order = g.kahnOrder()
	}
	return g, g.errs
}

// SpecID returns the identifier of the document this graph was built from.
func (g *Graph) SpecID() string { return g.specID }

// ContentHash returns the source content hash carried over from the
// document, used for sync checkpointing. Empty for documents parsed from
// strings rather than files.
func (g *Graph) ContentHash() string { return g.contentHash }

// Valid reports whether the graph passed dependency validation.
func (g *Graph) Valid() bool { return len(g.errs) == 0 }

// Errors returns the validation errors found at build time.
func (g *Graph) Errors() []ValidationError {
	out := make([]ValidationError, len(g.errs))
	copy(out, g.errs)
	return out
}

// Len returns the number of TagItems.
func (g *Graph) Len() int { return len(g.items) }

// Items returns the TagItems in document order.
func (g *Graph) Items() []*specdoc.TagItem {
	out := make([]*specdoc.TagItem, len(g.items))
	copy(out, g.items)
	return out
}

// Item returns the TagItem with the given id, or nil.
func (g *Graph) Item(tagID string) *specdoc.TagItem { return g.byID[tagID] }

// TopologicalOrder returns a valid topological order of the TagIDs, with
// ties broken by original document order. Nil for invalid graphs: cyclic
// input always yields a CyclicDependency error, never a silent partial
// order.
func (g *Graph) TopologicalOrder() []string {
	if g.order == nil {
		return nil
	}
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// CompletionPercent returns completed items / total items as a percentage,
// rounded down. An empty graph reports 0.
func (g *Graph) CompletionPercent() int {
	if len(g.items) == 0 {
		return 0
	}
	done := 0
	for _, item := range g.items {
		if item.Status == specdoc.StatusComplete {
			done++
		}
	}
	return done * 100 / len(g.items)
}

func (g *Graph) checkDangling() {
	for _, item := range g.items {
		for _, dep := range item.DependencyIDs {
			if _, ok := g.byID[dep]; !ok {
				g.errs = append(g.errs, ValidationError{
					Kind:  DanglingDependency,
					TagID: item.TagID,
					Ref:   dep,
				})
			}
		}
	}
}

// checkCycles runs a tri-color DFS over the dependency edges. A back edge
// to a gray node is a cycle; the cycle members are reconstructed from the
// current DFS stack.
func (g *Graph) checkCycles() {
	const (
		white = iota // unvisited
		gray         // on the current DFS stack
		black        // fully explored
	)
	color := make(map[string]int, len(g.items))
	var stack []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		stack = append(stack, id)

		item := g.byID[id]
		for _, dep := range item.DependencyIDs {
			next, ok := g.byID[dep]
			if !ok {
				continue // dangling, reported separately
			}
			switch color[next.TagID] {
			case white:
				if visit(next.TagID) {
					return true
				}
			case gray:
				g.errs = append(g.errs, ValidationError{
					Kind:  CyclicDependency,
					TagID: id,
					Cycle: extractCycle(stack, next.TagID),
				})
				return true
			}
		}

		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	for _, item := range g.items {
		if color[item.TagID] == white {
			if visit(item.TagID) {
				return // one named cycle is enough to invalidate
			}
		}
	}
}

// extractCycle slices the DFS stack from the first occurrence of start
// and closes the loop.
func extractCycle(stack []string, start string) []string {
	for i, id := range stack {
		if id == start {
			cycle := make([]string, 0, len(stack)-i+1)
			cycle = append(cycle, stack[i:]...)
			return append(cycle, start)
		}
	}
	return []string{start, start}
}

// kahnOrder computes a topological order via Kahn's algorithm. Among the
// ready set, the item earliest in the document is emitted first, making
// the order deterministic.
func (g *Graph) kahnOrder() []string {
	docIndex := make(map[string]int, len(g.items))
	indegree := make(map[string]int, len(g.items))
	dependents := make(map[string][]string, len(g.items))

	for i, item := range g.items {
		docIndex[item.TagID] = i
		indegree[item.TagID] = len(item.DependencyIDs)
		for _, dep := range item.DependencyIDs {
			dependents[dep] = append(dependents[dep], item.TagID)
		}
	}

	order := make([]string, 0, len(g.items))
	for len(order) < len(g.items) {
		next := ""
		for _, item := range g.items {
			if indegree[item.TagID] == 0 &&
				(next == "" || docIndex[item.TagID] < docIndex[next]) {
				next = item.TagID
			}
		}
		if next == "" {
			// Unreachable for validated graphs; cycles are caught by
			// checkCycles before this runs.
			return nil
		}
		order = append(order, next)
		indegree[next] = -1
		for _, dep := range dependents[next] {
			indegree[dep]--
		}
	}
	return order
}
