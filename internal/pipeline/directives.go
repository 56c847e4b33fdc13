package pipeline

import (
	"regexp"

	"md2tex/internal/diag"
)

var (
	htmlComment   = regexp.MustCompile(`(?s)<!--.*?-->`)
	newpageTag    = regexp.MustCompile(`<newpage>`)
	clearpageTag  = regexp.MustCompile(`<clearpage>`)
	collapseBlank = regexp.MustCompile(`\n{3,}`)
)

// convertDirectives handles document-control tags and strips HTML comments.
// It runs last: by now every other construct is either converted or a
// protected placeholder.
func convertDirectives(text string, ctx *Context) (string, []diag.Diagnostic) {
	text = htmlComment.ReplaceAllString(text, "")
	text = newpageTag.ReplaceAllString(text, `\newpage`)
	text = clearpageTag.ReplaceAllString(text, `\clearpage`)
	text = collapseBlank.ReplaceAllString(text, "\n\n")
	return text, nil
}
