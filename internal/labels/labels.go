// Package labels implements the two-pass, whole-project cross-reference
// resolver.
//
// Pass 1 (Collect) scans every converted manuscript file for label
// definitions and builds the project-wide table. Pass 2 (Resolve) checks
// every reference against that table. Duplicates are reported at collection
// time so the user sees the root cause before the unresolved references it
// produces.
package labels

import (
	"regexp"
	"strings"

	"md2tex/internal/diag"
)

// Kind classifies what a label points at.
type Kind string

const (
	KindFigure   Kind = "figure"
	KindTable    Kind = "table"
	KindEquation Kind = "equation"
	KindNote     Kind = "note"
)

// Label is a definition point recorded during collection.
type Label struct {
	Kind          Kind
	Key           string
	Supplementary bool
	File          string
	Line          int
}

// Reference is a symbolic pointer found during resolution.
type Reference struct {
	Kind          Kind
	Key           string
	Supplementary bool
	File          string
	Line          int
}

type tupleKey struct {
	kind          Kind
	key           string
	supplementary bool
}

// Table is the project-wide label table. Uniqueness invariant: (kind, key,
// supplementary) is unique; on violation the first definition wins.
type Table struct {
	byTuple map[tupleKey]Label
	all     []Label
}

// NewTable returns an empty label table.
func NewTable() *Table {
	return &Table{byTuple: make(map[tupleKey]Label)}
}

// Add records a definition. The boolean reports whether it was new; false
// means a duplicate that did not displace the first-seen definition.
func (t *Table) Add(l Label) bool {
	k := tupleKey{l.Kind, l.Key, l.Supplementary}
	if _, exists := t.byTuple[k]; exists {
		return false
	}
	t.byTuple[k] = l
	t.all = append(t.all, l)
	return true
}

// Lookup returns the definition matching a reference tuple.
func (t *Table) Lookup(kind Kind, key string, supplementary bool) (Label, bool) {
	l, ok := t.byTuple[tupleKey{kind, key, supplementary}]
	return l, ok
}

// Len returns the number of recorded definitions.
func (t *Table) Len() int { return len(t.all) }

// All returns definitions in collection order.
func (t *Table) All() []Label {
	out := make([]Label, len(t.all))
	copy(out, t.all)
	return out
}

// labelDef matches \label{fig:x} and friends in converted text. Every
// definition marker has been rewritten to \label by the pipeline.
var labelDef = regexp.MustCompile(`\\label\{(s?)(fig|table|eq|snote):([A-Za-z0-9_-]+)\}`)

// labelRef matches \ref / \eqref in converted text.
var labelRef = regexp.MustCompile(`\\(?:eq)?ref\{(s?)(fig|table|eq|snote):([A-Za-z0-9_-]+)\}`)

// Collect runs pass 1 over converted file contents. files maps path ->
// converted text; supplementaryFile names the file whose role implies
// supplementary status for labels without an explicit prefix (an explicit
// marker prefix always wins over file-role inference).
func Collect(files map[string]string, fileOrder []string, supplementaryFile string) (*Table, []diag.Diagnostic) {
	table := NewTable()
	var diags []diag.Diagnostic

	for _, file := range fileOrder {
		text := files[file]
		for _, m := range labelDef.FindAllStringSubmatchIndex(text, -1) {
			prefix := text[m[2]:m[3]]
			marker := text[m[4]:m[5]]
			key := text[m[6]:m[7]]
			line := 1 + strings.Count(text[:m[0]], "\n")

			l := Label{
				Kind:          markerKind(marker),
				Key:           key,
				Supplementary: isSupplementary(prefix, marker, file, supplementaryFile),
				File:          file,
				Line:          line,
			}
			if !table.Add(l) {
				first, _ := table.Lookup(l.Kind, l.Key, l.Supplementary)
				diags = append(diags, diag.Errorf(diag.KindLabel, file, line,
					"duplicate %s label %q (first defined at %s:%d)", l.Kind, l.Key, first.File, first.Line))
			}
		}
	}

	return table, diags
}

// Resolve runs pass 2: every reference in every file is looked up against
// the table; a miss yields a ReferenceError diagnostic with the referencing
// location.
func Resolve(table *Table, files map[string]string, fileOrder []string, supplementaryFile string) []diag.Diagnostic {
	var diags []diag.Diagnostic

	for _, file := range fileOrder {
		text := files[file]
		for _, m := range labelRef.FindAllStringSubmatchIndex(text, -1) {
			prefix := text[m[2]:m[3]]
			marker := text[m[4]:m[5]]
			key := text[m[6]:m[7]]
			line := 1 + strings.Count(text[:m[0]], "\n")

			ref := Reference{
				Kind:          markerKind(marker),
				Key:           key,
				Supplementary: prefix == "s" || marker == "snote",
				File:          file,
				Line:          line,
			}
			_, ok := table.Lookup(ref.Kind, ref.Key, ref.Supplementary)
			if !ok && !ref.Supplementary {
				// A label defined in the supplementary document without an
				// explicit prefix carries role-inferred supplementary
				// status; a plain reference to it should still bind. The
				// fallback is one-directional: an explicitly supplementary
				// reference never binds a main-document label.
				_, ok = table.Lookup(ref.Kind, ref.Key, true)
			}
			if !ok {
				diags = append(diags, diag.Errorf(diag.KindReference, file, line,
					"unresolved reference %s%s:%s", prefix, marker, key))
			}
		}
	}

	return diags
}

// markerKind maps a marker prefix onto the label kind.
func markerKind(marker string) Kind {
	switch marker {
	case "fig":
		return KindFigure
	case "table":
		return KindTable
	case "eq":
		return KindEquation
	default:
		return KindNote
	}
}

// isSupplementary decides a label's supplementary flag. An explicit "s"
// prefix (or the inherently supplementary snote marker) wins; otherwise the
// file's declared role decides.
func isSupplementary(prefix, marker, file, supplementaryFile string) bool {
	if prefix == "s" || marker == "snote" {
		return true
	}
	return supplementaryFile != "" && file == supplementaryFile
}
