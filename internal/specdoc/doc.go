// Package specdoc parses structured markdown SPEC documents into an
// in-memory representation.
//
// # Document layout
//
// A SPEC is a directory named after its identifier (SPEC-<DOMAIN>-<NUM>)
// holding up to three markdown files:
//
//	SPEC-AUTH-001/
//	     ├── tasks.md          → dependency-ordered TAG chain
//	     ├── acceptance.md     → Given/When/Then criteria
//	     └── requirements.md   → stored verbatim
//
// The task chain is a sequence of TAG regions. A region starts at a TAG
// heading and ends at the next TAG heading or end of file:
//
//	## TAG-001: Wire up session store
//	Scope: internal/session
//	Purpose: Sessions need somewhere to live.
//	Dependencies: none
//	Completion Conditions:
//	- [x] store interface defined
//	- [ ] sqlite backend passing tests
//
// Field labels (Scope, Purpose, Dependencies, Completion Conditions) are
// matched order-independently through an enumerated field table. The
// item's status is derived from its checkboxes, never read from a
// separate field, so the two cannot disagree.
//
// # Error handling
//
// Parse never fails. Malformed constructs degrade to partial results plus
// ParseWarnings: an unreadable dependency token is dropped with a warning,
// a duplicate TAG region is ignored with a warning, and so on. Reference
// validity (dangling or cyclic dependencies) is checked later by the
// graph package, not here.
package specdoc
