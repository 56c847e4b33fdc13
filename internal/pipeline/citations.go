package pipeline

import (
	"regexp"
	"strings"

	"md2tex/internal/diag"
)

var (
	// Bracketed citation groups: [@smith2020] or [@smith2020;@lee2021].
	bracketedCitation = regexp.MustCompile(`\[@[^\]]*\]`)

	// A single citation key inside a bracketed group.
	citationKey = regexp.MustCompile(`^@([A-Za-z][A-Za-z0-9_.+-]*)$`)

	// Bare citation: @smith2020 in running text. The key charset excludes
	// ':' so cross-reference markers (@fig:..., already converted by the
	// preceding stage) can never be consumed here.
	bareCitation = regexp.MustCompile(`@([A-Za-z][A-Za-z0-9_.+-]*)`)
)

// convertCitations turns Markdown citation syntax into \cite commands.
// Keys missing from the bibliography are converted anyway and reported as
// warnings; a malformed group passes through untouched with a diagnostic.
func convertCitations(text string, ctx *Context) (string, []diag.Diagnostic) {
	var diags []diag.Diagnostic

	text = replaceAllIndexFunc(text, bracketedCitation, func(match string, offset int) (string, bool) {
		inner := strings.TrimSuffix(strings.TrimPrefix(match, "["), "]")
		parts := strings.Split(inner, ";")
		keys := make([]string, 0, len(parts))
		for _, part := range parts {
			m := citationKey.FindStringSubmatch(strings.TrimSpace(part))
			if m == nil {
				diags = append(diags, diag.Errorf(diag.KindConversion, ctx.SourceFile, lineAt(text, offset),
					"malformed citation group %q", match))
				return "", false
			}
			keys = append(keys, m[1])
		}
		diags = append(diags, checkKeys(ctx, keys, lineAt(text, offset))...)
		return `\cite{` + strings.Join(keys, ",") + `}`, true
	})

	text = replaceAllIndexFunc(text, bareCitation, func(match string, offset int) (string, bool) {
		// Not a citation when glued to a word (e-mail addresses), when it
		// sits anywhere inside a bracketed group the first pass declined,
		// or when the key is followed by ':' (an unconverted
		// reference-like marker). A declined group must survive whole.
		if offset > 0 && isWordByte(text[offset-1]) {
			return "", false
		}
		if insideDeclinedGroup(text, offset) {
			return "", false
		}
		end := offset + len(match)
		if end < len(text) && text[end] == ':' {
			return "", false
		}
		key := match[1:]
		diags = append(diags, checkKeys(ctx, []string{key}, lineAt(text, offset))...)
		return `\cite{` + key + `}`, true
	})

	return text, diags
}

// checkKeys reports citation keys absent from the loaded bibliography.
func checkKeys(ctx *Context, keys []string, line int) []diag.Diagnostic {
	if ctx.Bib == nil {
		return nil
	}
	var diags []diag.Diagnostic
	for _, k := range keys {
		if !ctx.Bib.Has(k) {
			diags = append(diags, diag.Warnf(diag.KindConversion, ctx.SourceFile, line,
				"citation key %q not found in bibliography", k))
		}
	}
	return diags
}

// insideDeclinedGroup reports whether offset falls inside a bracketed
// citation group. After the bracketed pass, any surviving [@...] group is
// one it declined as malformed, so nothing within it may be converted
// piecemeal.
func insideDeclinedGroup(text string, offset int) bool {
	open := strings.LastIndexByte(text[:offset], '[')
	if open < 0 || open+1 >= len(text) || text[open+1] != '@' {
		return false
	}
	if strings.IndexByte(text[open:offset], ']') >= 0 {
		return false
	}
	return strings.IndexByte(text[offset:], ']') >= 0
}

// replaceAllIndexFunc is ReplaceAllStringFunc with access to the match
// offset and the ability to decline a replacement.
func replaceAllIndexFunc(text string, re *regexp.Regexp, fn func(match string, offset int) (string, bool)) string {
	matches := re.FindAllStringIndex(text, -1)
	if matches == nil {
		return text
	}
	var out strings.Builder
	out.Grow(len(text))
	prev := 0
	for _, m := range matches {
		out.WriteString(text[prev:m[0]])
		repl, ok := fn(text[m[0]:m[1]], m[0])
		if ok {
			out.WriteString(repl)
		} else {
			out.WriteString(text[m[0]:m[1]])
		}
		prev = m[1]
	}
	out.WriteString(text[prev:])
	return out.String()
}

// isWordByte reports whether b belongs to a word (letters, digits, _).
func isWordByte(b byte) bool {
	return b == '_' ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9')
}
