package specdoc

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Status is the derived state of a TagItem.
//
// Status is never read from the document directly. It is computed from the
// completion-condition checkboxes so the two can never disagree.
type Status string

const (
	// StatusPending means at least one completion condition is unchecked,
	// or the item has no conditions at all.
	StatusPending Status = "pending"
	// StatusComplete means every completion condition is checked.
	StatusComplete Status = "complete"
)

// SpecDocument is one parsed SPEC: requirements text, a dependency-ordered
// task chain, and acceptance criteria. Any of the three sub-documents may
// be absent; absence is not an error.
type SpecDocument struct {
	// ID is the human-assigned spec identifier, e.g. "SPEC-AUTH-001".
	ID string

	// Title comes from front matter or the first top-level heading
	// of the task chain. May be empty.
	Title string

	// CreatedAt comes from front matter when present.
	CreatedAt time.Time

	// Requirements is stored verbatim; this package does not interpret it.
	Requirements string

	// TagItems are the task-chain entries in document order.
	TagItems []*TagItem

	// Criteria are the parsed acceptance criteria in document order.
	Criteria []*AcceptanceCriterion

	// ContentHash is the SHA-256 of the source sub-documents.
	// Populated by ReadDocument; empty for documents parsed from strings.
	ContentHash string
}

// Item returns the TagItem with the given id, or nil.
func (d *SpecDocument) Item(tagID string) *TagItem {
	for _, item := range d.TagItems {
		if item.TagID == tagID {
			return item
		}
	}
	return nil
}

// Condition is one completion condition of a TagItem.
type Condition struct {
	Text    string `json:"text"`
	Checked bool   `json:"checked"`
}

// TagItem is one unit of work inside a task chain.
type TagItem struct {
	// TagID is the ordinal identifier, unique within the document,
	// e.g. "TAG-003".
	TagID string

	// Title is the text after the identifier on the heading line.
	Title string

	// Scope is free text describing the affected area.
	Scope string

	// Purpose is free text describing why the item exists.
	Purpose string

	// Status is derived from Conditions: complete iff all are checked
	// and at least one exists.
	Status Status

	// DependencyIDs reference other TagItems in the same document,
	// in the order they appear.
	DependencyIDs []string

	// Conditions are the ordered completion conditions.
	Conditions []Condition

	// Line is the 1-based line of the TAG heading in the task chain,
	// used for warnings and for checkbox rewriting.
	Line int
}

// deriveStatus recomputes Status from Conditions.
func (t *TagItem) deriveStatus() {
	if len(t.Conditions) == 0 {
		t.Status = StatusPending
		return
	}
	for _, c := range t.Conditions {
		if !c.Checked {
			t.Status = StatusPending
			return
		}
	}
	t.Status = StatusComplete
}

// Validate checks structural requirements that parsing alone cannot
// guarantee. Reference validity (dangling, cyclic) is the graph's job.
func (t *TagItem) Validate() error {
	if t.TagID == "" {
		return fmt.Errorf("tag id is required")
	}
	if !tagIDRe.MatchString(t.TagID) {
		return fmt.Errorf("malformed tag id %q", t.TagID)
	}
	return nil
}

// AcceptanceCriterion is one Given/When/Then block from the acceptance
// sub-document. Criteria may link to TagItems but do not require them
// to exist.
type AcceptanceCriterion struct {
	// ID is the ordinal identifier, e.g. "AC-002".
	ID string

	Given string
	When  string
	Then  string

	// Verified reports whether the criterion has been checked off.
	Verified bool

	// TagIDs are the TagItems this criterion verifies, possibly empty.
	TagIDs []string
}

// ParseWarning is a non-fatal problem found while parsing. The document
// still loads; the warning explains what was dropped or degraded.
type ParseWarning struct {
	// Line is 1-based within the sub-document the warning refers to.
	Line    int
	Message string
}

func (w ParseWarning) String() string {
	return fmt.Sprintf("line %d: %s", w.Line, w.Message)
}

var (
	tagIDRe  = regexp.MustCompile(`^TAG-\d+$`)
	specIDRe = regexp.MustCompile(`^SPEC-[A-Za-z0-9]+-\d+$`)
	acIDRe   = regexp.MustCompile(`^AC-\d+$`)
)

// IsSpecID reports whether name is a well-formed spec identifier
// (SPEC-<DOMAIN>-<NUM>, case-insensitive).
func IsSpecID(name string) bool {
	return specIDRe.MatchString(strings.ToUpper(name))
}

// NormalizeSpecID upper-cases a spec identifier to its canonical form.
func NormalizeSpecID(name string) string {
	return strings.ToUpper(name)
}
