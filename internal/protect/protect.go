// Package protect extracts spans that must survive conversion unmodified.
//
// Mathematics, literal code, raw LaTeX injection and executable blocks are
// replaced by placeholder tokens before any converter stage runs, and
// substituted back after the last stage. Placeholders use Unicode Private Use
// Area delimiters, which cannot occur in legitimate manuscript text, so no
// stage needs its own escaping logic.
package protect

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind identifies what a protected span contains. The restorer applies
// kind-specific post-processing, so the kind must survive the round trip.
type Kind string

const (
	KindMathInline Kind = "math-inline"
	KindMathBlock  Kind = "math-block"
	KindCodeInline Kind = "code-inline"
	KindCodeBlock  Kind = "code-block"
	KindRawMarkup  Kind = "raw-markup"
	KindScriptExec Kind = "script-exec"
)

// Placeholder delimiters from the Unicode Private Use Area. Guaranteed not
// to collide with manuscript text, and they pass through every regex-based
// converter stage unchanged.
const (
	tokenStart = "\uE000"
	tokenEnd   = "\uE001"
)

// tokenPattern matches any emitted placeholder for restoration.
var tokenPattern = regexp.MustCompile("\uE000([0-9]+)\uE001")

// Span is one extracted region of source text.
type Span struct {
	ID   int
	Kind Kind
	Text string // original source, delimiters included
	File string
	Line int // 1-based line of the opening delimiter
}

// Token returns the placeholder emitted for this span.
func (s Span) Token() string {
	return tokenStart + strconv.Itoa(s.ID) + tokenEnd
}

// Table maps placeholders back to their spans. A table belongs to exactly
// one Protect call and is consumed by Restore.
type Table struct {
	spans []Span
}

// Spans returns the extracted spans in source order.
func (t *Table) Spans() []Span { return t.spans }

// Len returns the number of protected spans.
func (t *Table) Len() int { return len(t.spans) }

func (t *Table) add(kind Kind, text, file string, line int) string {
	s := Span{ID: len(t.spans), Kind: kind, Text: text, File: file, Line: line}
	t.spans = append(t.spans, s)
	return s.Token()
}

// Error reports an unterminated protected span. It is fatal for the file in
// which it occurs and carries the line of the opening delimiter.
type Error struct {
	Kind Kind
	File string
	Line int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s:%d: unterminated %s span", e.File, e.Line, e.Kind)
}

// Protect scans text once, left to right, and replaces every protectable
// span with a placeholder token. Block forms are recognized before inline
// forms of the same family since a block delimiter is a superset match of
// an inline one. Escaped delimiters (\$ and \`) are not span boundaries.
func Protect(text, file string) (string, *Table, error) {
	table := &Table{}
	var out strings.Builder
	out.Grow(len(text))

	line := 1
	i := 0
	for i < len(text) {
		c := text[i]

		// Escaped delimiter: copy both bytes, not a boundary.
		if c == '\\' && i+1 < len(text) && (text[i+1] == '$' || text[i+1] == '`') {
			out.WriteString(text[i : i+2])
			i += 2
			continue
		}

		switch {
		case strings.HasPrefix(text[i:], "{{tex:"):
			span, ok := scanDoubleBrace(text[i:])
			if !ok {
				return "", nil, &Error{Kind: KindRawMarkup, File: file, Line: line}
			}
			out.WriteString(table.add(KindRawMarkup, span, file, line))
			line += strings.Count(span, "\n")
			i += len(span)

		case strings.HasPrefix(text[i:], "{{py:"):
			span, ok := scanDoubleBrace(text[i:])
			if !ok {
				return "", nil, &Error{Kind: KindScriptExec, File: file, Line: line}
			}
			out.WriteString(table.add(KindScriptExec, span, file, line))
			line += strings.Count(span, "\n")
			i += len(span)

		case atLineStart(text, i) && (strings.HasPrefix(text[i:], "```") || strings.HasPrefix(text[i:], "~~~")):
			fence := text[i : i+3]
			span, ok := scanFencedBlock(text[i:], fence)
			if !ok {
				return "", nil, &Error{Kind: KindCodeBlock, File: file, Line: line}
			}
			out.WriteString(table.add(KindCodeBlock, span, file, line))
			line += strings.Count(span, "\n")
			i += len(span)

		case strings.HasPrefix(text[i:], "$$"):
			end := indexUnescaped(text[i+2:], "$$")
			if end < 0 {
				return "", nil, &Error{Kind: KindMathBlock, File: file, Line: line}
			}
			span := text[i : i+2+end+2]
			out.WriteString(table.add(KindMathBlock, span, file, line))
			line += strings.Count(span, "\n")
			i += len(span)

		case c == '$':
			// Inline math must close on the same line.
			end := indexInlineClose(text[i+1:], '$')
			if end < 0 {
				return "", nil, &Error{Kind: KindMathInline, File: file, Line: line}
			}
			span := text[i : i+1+end+1]
			out.WriteString(table.add(KindMathInline, span, file, line))
			i += len(span)

		case c == '`':
			end := indexInlineClose(text[i+1:], '`')
			if end < 0 {
				return "", nil, &Error{Kind: KindCodeInline, File: file, Line: line}
			}
			span := text[i : i+1+end+1]
			out.WriteString(table.add(KindCodeInline, span, file, line))
			i += len(span)

		default:
			if c == '\n' {
				line++
			}
			out.WriteByte(c)
			i++
		}
	}

	return out.String(), table, nil
}

// Restore substitutes every placeholder back with its span, applying the
// minimal post-processing the kind requires. It is a pure substitution and
// idempotent: a second call finds no placeholders and returns its input.
// It never re-invokes conversion on restored content.
func Restore(text string, table *Table) string {
	if table == nil || len(table.spans) == 0 {
		return text
	}
	return tokenPattern.ReplaceAllStringFunc(text, func(tok string) string {
		m := tokenPattern.FindStringSubmatch(tok)
		id, err := strconv.Atoi(m[1])
		if err != nil || id < 0 || id >= len(table.spans) {
			return tok
		}
		return emit(table.spans[id])
	})
}

// emit renders a span for the typeset output. Math passes through verbatim;
// shorthand such as chemical sub/superscripts is intentionally not re-applied
// inside protected spans.
func emit(s Span) string {
	switch s.Kind {
	case KindMathInline, KindMathBlock:
		return s.Text
	case KindCodeInline:
		inner := strings.TrimPrefix(strings.TrimSuffix(s.Text, "`"), "`")
		return `\texttt{` + escapeTeX(inner) + `}`
	case KindCodeBlock:
		return "\\begin{verbatim}\n" + fencedBody(s.Text) + "\\end{verbatim}"
	case KindRawMarkup:
		inner := strings.TrimSuffix(strings.TrimPrefix(s.Text, "{{tex:"), "}}")
		return strings.TrimSpace(inner)
	case KindScriptExec:
		// Execution is an external collaborator's job; the block is kept
		// verbatim so the source stays inspectable in the output.
		inner := strings.TrimSuffix(strings.TrimPrefix(s.Text, "{{py:"), "}}")
		return "\\begin{verbatim}\n" + strings.TrimSpace(inner) + "\n\\end{verbatim}"
	default:
		return s.Text
	}
}

// fencedBody strips the opening fence line (with its info string) and the
// closing fence line from a fenced code block.
func fencedBody(span string) string {
	lines := strings.SplitAfter(span, "\n")
	if len(lines) <= 2 {
		return ""
	}
	return strings.Join(lines[1:len(lines)-1], "")
}

// escapeTeX escapes LaTeX special characters in literal text.
func escapeTeX(s string) string {
	r := strings.NewReplacer(
		`\`, `\textbackslash{}`,
		`&`, `\&`,
		`%`, `\%`,
		`$`, `\$`,
		`#`, `\#`,
		`_`, `\_`,
		`{`, `\{`,
		`}`, `\}`,
		`~`, `\textasciitilde{}`,
		`^`, `\textasciicircum{}`,
	)
	return r.Replace(s)
}

// atLineStart reports whether offset i begins a line.
func atLineStart(text string, i int) bool {
	return i == 0 || text[i-1] == '\n'
}

// scanFencedBlock returns the full fenced block starting at the opening
// fence, including the closing fence line, or ok=false when unterminated.
func scanFencedBlock(rest, fence string) (string, bool) {
	nl := strings.IndexByte(rest, '\n')
	if nl < 0 {
		return "", false
	}
	searchFrom := nl + 1
	for searchFrom <= len(rest) {
		next := strings.Index(rest[searchFrom:], fence)
		if next < 0 {
			return "", false
		}
		abs := searchFrom + next
		if rest[abs-1] != '\n' {
			searchFrom = abs + len(fence)
			continue
		}
		// Include the closing fence line but not its newline, keeping the
		// document's line structure intact around the placeholder.
		lineEnd := strings.IndexByte(rest[abs:], '\n')
		if lineEnd < 0 {
			return rest, true
		}
		return rest[:abs+lineEnd], true
	}
	return "", false
}

// scanDoubleBrace returns the {{...}} span starting at rest[0], balancing
// nested braces so injected LaTeX like \vspace{1em} stays inside the span.
func scanDoubleBrace(rest string) (string, bool) {
	depth := 0
	for j := 0; j < len(rest); j++ {
		switch rest[j] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return rest[:j+1], true
			}
		}
	}
	return "", false
}

// indexUnescaped returns the index of the first occurrence of sep not
// preceded by a backslash, or -1.
func indexUnescaped(s, sep string) int {
	from := 0
	for {
		idx := strings.Index(s[from:], sep)
		if idx < 0 {
			return -1
		}
		abs := from + idx
		if abs > 0 && s[abs-1] == '\\' {
			from = abs + 1
			continue
		}
		return abs
	}
}

// indexInlineClose returns the index of the closing delimiter on the current
// line, or -1 when the line ends first.
func indexInlineClose(s string, delim byte) int {
	for j := 0; j < len(s); j++ {
		switch s[j] {
		case '\n':
			return -1
		case '\\':
			j++
		case delim:
			return j
		}
	}
	return -1
}
