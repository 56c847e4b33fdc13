package pipeline

import (
	"fmt"
	"regexp"
	"strings"

	"md2tex/internal/diag"
)

var (
	headerLine = regexp.MustCompile(`^(#{1,4})\s+(.*?)\s*(?:\{#([A-Za-z0-9:_-]+)\})?\s*$`)

	// [text](url) not preceded by '!' (figures were consumed earlier).
	linkPattern = regexp.MustCompile(`(^|[^!\\])\[([^\]]+)\]\(([^)\s]+)\)`)

	unorderedItem = regexp.MustCompile(`^[-*+]\s+(.*)$`)
	orderedItem   = regexp.MustCompile(`^[0-9]+\.\s+(.*)$`)
)

var sectionCommands = []string{"section", "subsection", "subsubsection", "paragraph"}

// convertSections rewrites document structure: ATX headers, hyperlinks and
// flat lists. It runs after the figure stage so link-like figure syntax is
// already gone.
func convertSections(text string, ctx *Context) (string, []diag.Diagnostic) {
	text = linkPattern.ReplaceAllString(text, `$1\href{$3}{$2}`)

	lines := strings.Split(text, "\n")
	var out []string
	for i := 0; i < len(lines); i++ {
		line := lines[i]

		if m := headerLine.FindStringSubmatch(line); m != nil {
			cmd := sectionCommands[len(m[1])-1]
			converted := fmt.Sprintf("\\%s{%s}", cmd, m[2])
			if m[3] != "" {
				converted += fmt.Sprintf("\n\\label{%s}", m[3])
			}
			out = append(out, converted)
			continue
		}

		if unorderedItem.MatchString(line) || orderedItem.MatchString(line) {
			block, env := scanListBlock(lines, i)
			out = append(out, renderList(block, env)...)
			i += len(block) - 1
			continue
		}

		out = append(out, line)
	}

	return strings.Join(out, "\n"), nil
}

// scanListBlock collects the run of list items starting at lines[i] and
// returns the block with its environment name.
func scanListBlock(lines []string, i int) ([]string, string) {
	env := "itemize"
	if orderedItem.MatchString(lines[i]) {
		env = "enumerate"
	}
	var block []string
	for ; i < len(lines); i++ {
		if env == "itemize" && unorderedItem.MatchString(lines[i]) ||
			env == "enumerate" && orderedItem.MatchString(lines[i]) {
			block = append(block, lines[i])
			continue
		}
		break
	}
	return block, env
}

func renderList(block []string, env string) []string {
	out := make([]string, 0, len(block)+2)
	out = append(out, `\begin{`+env+`}`)
	for _, line := range block {
		var m []string
		if env == "itemize" {
			m = unorderedItem.FindStringSubmatch(line)
		} else {
			m = orderedItem.FindStringSubmatch(line)
		}
		out = append(out, `\item `+m[1])
	}
	out = append(out, `\end{`+env+`}`)
	return out
}
