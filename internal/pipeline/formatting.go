package pipeline

import (
	"regexp"

	"md2tex/internal/diag"
)

// Inline formatting patterns. Protected spans are placeholders by the time
// this stage runs, so a caret inside $x^2$ can never match here.
var (
	boldPattern   = regexp.MustCompile(`\*\*([^*\n]+)\*\*`)
	italicPattern = regexp.MustCompile(`\*([^*\n]+)\*`)
	strikePattern = regexp.MustCompile(`~~([^~\n]+)~~`)

	// Paired shorthand: H~2~O and x^2^.
	subscriptPattern   = regexp.MustCompile(`~([^~\s]+)~`)
	superscriptPattern = regexp.MustCompile(`\^([^^\s]+)\^`)

	// Bare shorthand as it appears in chemical formulas and simple powers:
	// x^2, Ca^2+. Only a compact token after the caret qualifies.
	bareSuperscript = regexp.MustCompile(`([A-Za-z0-9)\]])\^([A-Za-z0-9+-]+)`)
)

// convertFormatting rewrites inline emphasis and sub/superscript shorthand.
// It runs after the citation and cross-reference stages, which would
// otherwise lose their markers to these generic rewrites.
func convertFormatting(text string, ctx *Context) (string, []diag.Diagnostic) {
	text = boldPattern.ReplaceAllString(text, `\textbf{$1}`)
	text = italicPattern.ReplaceAllString(text, `\textit{$1}`)
	text = strikePattern.ReplaceAllString(text, `\sout{$1}`)
	text = subscriptPattern.ReplaceAllString(text, `\textsubscript{$1}`)
	text = superscriptPattern.ReplaceAllString(text, `\textsuperscript{$1}`)
	text = bareSuperscript.ReplaceAllString(text, `$1\textsuperscript{$2}`)
	return text, nil
}
