package pipeline

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	gtext "github.com/yuin/goldmark/text"

	"md2tex/internal/diag"
)

var (
	tableSeparator = regexp.MustCompile(`^\|?[\s:|-]+\|?\s*$`)

	// Optional caption line following a table: ": Caption {#table:id}".
	tableCaption = regexp.MustCompile(`^:\s*(.*?)\s*(?:\{#(stable|table):([A-Za-z0-9_-]+)[^}]*\})?\s*$`)
)

// tableParser parses pipe tables only; the rest of the document has already
// been transformed or is protected behind placeholders.
var tableParser = goldmark.New(goldmark.WithExtensions(extension.Table))

// convertTables finds pipe-table blocks, parses each through Goldmark's
// table extension, and emits a table environment with a tabular body.
func convertTables(text string, ctx *Context) (string, []diag.Diagnostic) {
	var diags []diag.Diagnostic
	lines := strings.Split(text, "\n")
	var out []string

	for i := 0; i < len(lines); i++ {
		if !startsTable(lines, i) {
			out = append(out, lines[i])
			continue
		}

		start := i
		for i < len(lines) && strings.HasPrefix(strings.TrimSpace(lines[i]), "|") {
			i++
		}
		block := strings.Join(lines[start:i], "\n")

		caption, label := "", ""
		if i < len(lines) {
			if m := tableCaption.FindStringSubmatch(lines[i]); m != nil && strings.HasPrefix(lines[i], ":") {
				caption = m[1]
				if m[2] != "" {
					label = m[2] + ":" + m[3]
				}
				i++
			}
		}
		i-- // outer loop increments

		rendered, ok := renderTable(block, caption, label)
		if !ok {
			diags = append(diags, diag.Errorf(diag.KindConversion, ctx.SourceFile, lineAt(text, offsetOfLine(lines, start)),
				"malformed table block"))
			out = append(out, lines[start:i+1]...)
			continue
		}
		out = append(out, rendered)
	}

	return strings.Join(out, "\n"), diags
}

// startsTable reports whether lines[i] opens a pipe table: a row line
// followed by a separator line.
func startsTable(lines []string, i int) bool {
	if i+1 >= len(lines) {
		return false
	}
	head := strings.TrimSpace(lines[i])
	sep := strings.TrimSpace(lines[i+1])
	return strings.HasPrefix(head, "|") &&
		strings.HasPrefix(sep, "|") &&
		strings.Contains(sep, "-") &&
		tableSeparator.MatchString(sep)
}

// renderTable parses a pipe-table block and emits LaTeX. Returns ok=false
// when Goldmark does not recognize the block as a table.
func renderTable(block, caption, label string) (string, bool) {
	source := []byte(block)
	doc := tableParser.Parser().Parse(gtext.NewReader(source))

	var table *east.Table
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if t, ok := n.(*east.Table); ok {
			table = t
			break
		}
	}
	if table == nil {
		return "", false
	}

	var rows [][]string
	for row := table.FirstChild(); row != nil; row = row.NextSibling() {
		var cells []string
		for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
			cells = append(cells, inlineTeX(cell, source))
		}
		rows = append(rows, cells)
	}
	if len(rows) == 0 {
		return "", false
	}

	var b strings.Builder
	b.WriteString("\\begin{table}[ht]\n\\centering\n")
	if caption != "" {
		fmt.Fprintf(&b, "\\caption{%s}\n", caption)
	}
	if label != "" {
		fmt.Fprintf(&b, "\\label{%s}\n", label)
	}
	fmt.Fprintf(&b, "\\begin{tabular}{%s}\n\\hline\n", columnSpec(table.Alignments, len(rows[0])))
	b.WriteString(strings.Join(rows[0], " & "))
	b.WriteString(" \\\\\n\\hline\n")
	for _, cells := range rows[1:] {
		b.WriteString(strings.Join(cells, " & "))
		b.WriteString(" \\\\\n")
	}
	b.WriteString("\\hline\n\\end{tabular}\n\\end{table}")
	return b.String(), true
}

// columnSpec maps Goldmark cell alignments onto a tabular column spec.
func columnSpec(aligns []east.Alignment, cols int) string {
	var b strings.Builder
	for i := 0; i < cols; i++ {
		c := byte('l')
		if i < len(aligns) {
			switch aligns[i] {
			case east.AlignCenter:
				c = 'c'
			case east.AlignRight:
				c = 'r'
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// inlineTeX renders a cell's inline AST as LaTeX. Emphasis becomes
// \textit/\textbf; anything else contributes its literal text. Protected
// spans inside cells are placeholders and pass through untouched.
func inlineTeX(n ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := c.(type) {
		case *ast.Text:
			if entering {
				b.WriteString(escapeCell(string(node.Segment.Value(source))))
			}
		case *ast.Emphasis:
			if entering {
				if node.Level == 2 {
					b.WriteString(`\textbf{`)
				} else {
					b.WriteString(`\textit{`)
				}
			} else {
				b.WriteString("}")
			}
		case *ast.CodeSpan:
			if entering {
				b.WriteString(`\texttt{`)
			} else {
				b.WriteString("}")
			}
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

// escapeCell escapes the LaTeX characters that would break a tabular row.
// Tilde and caret are left alone for the later formatting stage.
func escapeCell(s string) string {
	r := strings.NewReplacer(`&`, `\&`, `%`, `\%`, `#`, `\#`, `_`, `\_`)
	return r.Replace(s)
}

// offsetOfLine returns the byte offset of lines[idx] in the joined text.
func offsetOfLine(lines []string, idx int) int {
	offset := 0
	for i := 0; i < idx && i < len(lines); i++ {
		offset += len(lines[i]) + 1
	}
	return offset
}
