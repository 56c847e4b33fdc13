package pipeline

import (
	"regexp"

	"md2tex/internal/diag"
)

var (
	// Reference markers: @fig:x, @sfig:x, @table:x, @stable:x, @tbl:x,
	// @eq:x, @snote:x.
	refMarker = regexp.MustCompile(`@(sfig|fig|stable|table|tbl|eq|snote):([A-Za-z0-9_-]+)`)

	// Definition attributes for spans the earlier stages do not consume:
	// equation labels after a protected math block and supplementary-note
	// anchors. Figure and table attributes were handled by their own stages.
	defMarker = regexp.MustCompile(`\{#(eq|snote):([A-Za-z0-9_-]+)[^}]*\}`)
)

// convertCrossRefs rewrites symbolic reference markers into \ref/\eqref and
// remaining definition attributes into \label. It runs before the inline
// formatting stage so markers are never mistaken for emphasis or other
// inline syntax.
func convertCrossRefs(text string, ctx *Context) (string, []diag.Diagnostic) {
	text = refMarker.ReplaceAllStringFunc(text, func(match string) string {
		m := refMarker.FindStringSubmatch(match)
		prefix, key := normalizeRefPrefix(m[1]), m[2]
		if prefix == "eq" {
			return `\eqref{eq:` + key + `}`
		}
		return `\ref{` + prefix + `:` + key + `}`
	})

	text = defMarker.ReplaceAllString(text, `\label{$1:$2}`)

	return text, nil
}

// normalizeRefPrefix folds marker aliases onto the canonical label prefix.
func normalizeRefPrefix(p string) string {
	if p == "tbl" {
		return "table"
	}
	return p
}
