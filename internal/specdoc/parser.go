package specdoc

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// fieldKind enumerates the labeled fields recognized inside a TAG region.
// Mapping labels through an explicit table keeps the grammar in one place
// instead of scattering string matches through the control flow.
type fieldKind int

const (
	fieldNone fieldKind = iota
	fieldScope
	fieldPurpose
	fieldDependencies
	fieldConditions
)

// taskFieldTable maps lower-cased labels to fields. Labels are matched
// order-independently within a region.
var taskFieldTable = map[string]fieldKind{
	"scope":                 fieldScope,
	"purpose":               fieldPurpose,
	"dependencies":          fieldDependencies,
	"depends on":            fieldDependencies,
	"completion conditions": fieldConditions,
	"conditions":            fieldConditions,
}

// criterionField enumerates the labeled fields of an acceptance criterion.
type criterionField int

const (
	critNone criterionField = iota
	critGiven
	critWhen
	critThen
	critVerifies
	critStatus
)

var criterionFieldTable = map[string]criterionField{
	"given":    critGiven,
	"when":     critWhen,
	"then":     critThen,
	"verifies": critVerifies,
	"status":   critStatus,
}

var (
	tagHeadingRe = regexp.MustCompile(`(?i)^#{1,6}\s*\[?(TAG-\d+)\]?\s*[:\-]?\s*(.*?)\s*$`)
	acHeadingRe  = regexp.MustCompile(`(?i)^#{1,6}\s*\[?(AC-\d+)\]?\s*[:\-]?\s*(.*?)\s*$`)
	docTitleRe   = regexp.MustCompile(`^#\s+(.+?)\s*$`)
	labelLineRe  = regexp.MustCompile(`^\s*(?:[-*]\s+)?\*{0,2}([A-Za-z][A-Za-z ]{0,30}?)\*{0,2}\s*:\s*(.*)$`)
	checkboxRe   = regexp.MustCompile(`^\s*[-*]\s*\[([ xX])\]\s*(.*?)\s*$`)
	depTokenRe   = regexp.MustCompile(`(?i)^TAG-\d+$`)
)

// frontMatter is the optional YAML block at the top of a task chain.
type frontMatter struct {
	Title   string    `yaml:"title"`
	Created time.Time `yaml:"created"`
}

// Parse converts the sub-documents of one SPEC into a SpecDocument.
//
// Parse never fails on malformed input. Unparseable constructs degrade to
// partial results and a ParseWarning describing what was dropped: a TAG
// region with an unreadable dependency line still yields a TagItem, just
// with that reference missing. Empty sub-documents are fine; a SpecDocument
// may be task chain only, acceptance only, or even entirely empty.
func Parse(specID, taskChainText, acceptanceText, requirementsText string) (*SpecDocument, []ParseWarning) {
	doc := &SpecDocument{
		ID:           NormalizeSpecID(specID),
		Requirements: requirementsText,
	}

	var warnings []ParseWarning
	if taskChainText != "" {
		warnings = append(warnings, parseTaskChain(doc, taskChainText)...)
	}
	if acceptanceText != "" {
		warnings = append(warnings, parseAcceptance(doc, acceptanceText)...)
	}
	return doc, warnings
}

// taskChainParser is the state machine for the task-chain grammar.
// A TAG heading opens a region; the region closes at the next TAG heading
// or end of text. Within a region the current field tracks which labeled
// block subsequent lines belong to.
type taskChainParser struct {
	doc      *SpecDocument
	warnings []ParseWarning
	cur      *TagItem
	curField fieldKind
	seen     map[string]int // tag id -> heading line, for duplicate detection
}

func parseTaskChain(doc *SpecDocument, text string) []ParseWarning {
	p := &taskChainParser{doc: doc, seen: make(map[string]int)}

	lines := strings.Split(text, "\n")
	start := p.consumeFrontMatter(lines)

	for i := start; i < len(lines); i++ {
		p.line(i+1, lines[i])
	}
	p.closeRegion()
	return p.warnings
}

// consumeFrontMatter parses an optional leading YAML block delimited by
// "---" lines and returns the index of the first body line.
func (p *taskChainParser) consumeFrontMatter(lines []string) int {
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return 0
	}
	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
	}
	if end < 0 {
		p.warnf(1, "unterminated front matter block")
		return 0
	}

	var fm frontMatter
	raw := strings.Join(lines[1:end], "\n")
	if err := yaml.Unmarshal([]byte(raw), &fm); err != nil {
		p.warnf(1, "invalid front matter: %v", err)
		return end + 1
	}
	if fm.Title != "" {
		p.doc.Title = fm.Title
	}
	p.doc.CreatedAt = fm.Created
	return end + 1
}

func (p *taskChainParser) line(n int, raw string) {
	// A TAG heading always starts a new region, regardless of state.
	if m := tagHeadingRe.FindStringSubmatch(raw); m != nil {
		p.openRegion(n, strings.ToUpper(m[1]), m[2])
		return
	}

	if p.cur == nil {
		// Preamble before the first TAG region. Only the document
		// title is interesting here.
		if p.doc.Title == "" {
			if m := docTitleRe.FindStringSubmatch(raw); m != nil {
				p.doc.Title = m[1]
			}
		}
		return
	}

	// Label lines switch the current field.
	if m := labelLineRe.FindStringSubmatch(raw); m != nil {
		label := strings.ToLower(strings.TrimSpace(m[1]))
		if kind, ok := taskFieldTable[label]; ok {
			p.curField = kind
			if rest := strings.TrimSpace(m[2]); rest != "" {
				p.fieldLine(n, rest)
			}
			return
		}
		// Not a recognized label; falls through as field content.
	}

	p.fieldLine(n, raw)
}

func (p *taskChainParser) fieldLine(n int, raw string) {
	switch p.curField {
	case fieldScope:
		p.cur.Scope = appendText(p.cur.Scope, raw)
	case fieldPurpose:
		p.cur.Purpose = appendText(p.cur.Purpose, raw)
	case fieldDependencies:
		p.dependencyLine(n, raw)
	case fieldConditions:
		if m := checkboxRe.FindStringSubmatch(raw); m != nil {
			p.cur.Conditions = append(p.cur.Conditions, Condition{
				Text:    m[2],
				Checked: m[1] != " ",
			})
		}
	}
}

// dependencyLine extracts TAG references from one line of the
// Dependencies field. Tokens that are not TAG references are dropped with
// a warning rather than failing the region.
func (p *taskChainParser) dependencyLine(n int, raw string) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimLeft(raw, "-* \t")
	for _, tok := range strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t'
	}) {
		tok = strings.Trim(tok, "()[]`.")
		if tok == "" {
			continue
		}
		switch strings.ToLower(tok) {
		case "none", "n/a", "-", "and":
			continue
		}
		if !depTokenRe.MatchString(tok) {
			p.warnf(n, "%s: dropping unrecognized dependency reference %q", p.cur.TagID, tok)
			continue
		}
		id := strings.ToUpper(tok)
		if id == p.cur.TagID {
			p.warnf(n, "%s: dropping self-dependency", p.cur.TagID)
			continue
		}
		if !containsString(p.cur.DependencyIDs, id) {
			p.cur.DependencyIDs = append(p.cur.DependencyIDs, id)
		}
	}
}

func (p *taskChainParser) openRegion(n int, tagID, title string) {
	p.closeRegion()

	if prev, dup := p.seen[tagID]; dup {
		p.warnf(n, "duplicate %s (first seen at line %d); ignoring this region", tagID, prev)
		p.cur = nil
		p.curField = fieldNone
		return
	}
	p.seen[tagID] = n

	title = strings.TrimSpace(strings.Trim(title, "*"))
	if title == "" {
		p.warnf(n, "%s has no title", tagID)
	}
	p.cur = &TagItem{TagID: tagID, Title: title, Line: n}
	p.curField = fieldNone
}

func (p *taskChainParser) closeRegion() {
	if p.cur == nil {
		return
	}
	p.cur.deriveStatus()
	p.doc.TagItems = append(p.doc.TagItems, p.cur)
	p.cur = nil
	p.curField = fieldNone
}

func (p *taskChainParser) warnf(n int, format string, args ...any) {
	p.warnings = append(p.warnings, ParseWarning{Line: n, Message: fmt.Sprintf(format, args...)})
}

// parseAcceptance parses AC regions with Given/When/Then labels.
func parseAcceptance(doc *SpecDocument, text string) []ParseWarning {
	var (
		warnings []ParseWarning
		cur      *AcceptanceCriterion
		curField criterionField
		seen     = make(map[string]bool)
	)
	warnf := func(n int, format string, args ...any) {
		warnings = append(warnings, ParseWarning{Line: n, Message: fmt.Sprintf(format, args...)})
	}
	closeRegion := func() {
		if cur != nil {
			doc.Criteria = append(doc.Criteria, cur)
			cur = nil
		}
		curField = critNone
	}

	for i, raw := range strings.Split(text, "\n") {
		n := i + 1

		if m := acHeadingRe.FindStringSubmatch(raw); m != nil {
			closeRegion()
			id := strings.ToUpper(m[1])
			if seen[id] {
				warnf(n, "duplicate %s; ignoring this region", id)
				continue
			}
			seen[id] = true
			cur = &AcceptanceCriterion{ID: id}
			continue
		}
		if cur == nil {
			continue
		}

		if m := labelLineRe.FindStringSubmatch(raw); m != nil {
			label := strings.ToLower(strings.TrimSpace(m[1]))
			if kind, ok := criterionFieldTable[label]; ok {
				curField = kind
				rest := strings.TrimSpace(m[2])
				switch kind {
				case critVerifies:
					for _, tok := range strings.FieldsFunc(rest, func(r rune) bool {
						return r == ',' || r == ' '
					}) {
						tok = strings.ToUpper(strings.Trim(tok, "()[]`."))
						if tagIDRe.MatchString(tok) {
							cur.TagIDs = append(cur.TagIDs, tok)
						} else if tok != "" {
							warnf(n, "%s: dropping unrecognized verifies reference %q", cur.ID, tok)
						}
					}
				case critStatus:
					switch strings.ToLower(rest) {
					case "verified":
						cur.Verified = true
					case "unverified", "":
						cur.Verified = false
					default:
						warnf(n, "%s: unrecognized status %q, treating as unverified", cur.ID, rest)
					}
				default:
					setCriterionField(cur, kind, rest)
				}
				continue
			}
		}

		// Continuation of a multi-line Given/When/Then block.
		switch curField {
		case critGiven, critWhen, critThen:
			if s := strings.TrimSpace(raw); s != "" {
				setCriterionField(cur, curField, s)
			}
		}
	}
	closeRegion()
	return warnings
}

func setCriterionField(c *AcceptanceCriterion, kind criterionField, text string) {
	switch kind {
	case critGiven:
		c.Given = appendText(c.Given, text)
	case critWhen:
		c.When = appendText(c.When, text)
	case critThen:
		c.Then = appendText(c.Then, text)
	}
}

func appendText(existing, line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return existing
	}
	if existing == "" {
		return line
	}
	return existing + " " + line
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
