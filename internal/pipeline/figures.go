package pipeline

import (
	"fmt"
	"regexp"
	"strings"

	"md2tex/internal/diag"
)

var (
	// A full-line figure definition: ![caption](path){attributes}.
	attributedFigure = regexp.MustCompile(`^!\[(.*)\]\(([^)]+)\)\{([^}]*)\}\s*$`)

	// A full-line image without attributes: ![caption](path).
	plainFigure = regexp.MustCompile(`^!\[(.*)\]\(([^)]+)\)\s*$`)

	figureLabelAttr = regexp.MustCompile(`#(sfig|fig):([A-Za-z0-9_-]+)`)
	widthAttr       = regexp.MustCompile(`width="?([0-9.]+)%?"?`)
	positionAttr    = regexp.MustCompile(`tex_position="?([htbpH!]+)"?`)
)

// convertFigures rewrites full-line figure definitions into figure
// environments. It runs before the generic link stage because figure blocks
// use link-like source syntax with additional metadata. Generated asset
// paths from the figure build cache are substituted for script paths here.
func convertFigures(text string, ctx *Context) (string, []diag.Diagnostic) {
	var diags []diag.Diagnostic
	lines := strings.Split(text, "\n")

	for i, line := range lines {
		if m := attributedFigure.FindStringSubmatch(line); m != nil {
			caption, path, attrs := m[1], m[2], m[3]
			label := figureLabelAttr.FindStringSubmatch(attrs)
			if label == nil {
				diags = append(diags, diag.Errorf(diag.KindConversion, ctx.SourceFile, i+1,
					"figure attributes %q carry no #fig: label", attrs))
				continue
			}
			lines[i] = renderFigure(figureSpec{
				caption:  caption,
				path:     resolveAsset(ctx, path),
				label:    label[1] + ":" + label[2],
				width:    parseWidth(attrs),
				position: parsePosition(attrs),
			})
			continue
		}
		if m := plainFigure.FindStringSubmatch(line); m != nil {
			lines[i] = renderFigure(figureSpec{
				caption:  m[1],
				path:     resolveAsset(ctx, m[2]),
				width:    1.0,
				position: "ht",
			})
		}
	}

	return strings.Join(lines, "\n"), diags
}

type figureSpec struct {
	caption  string
	path     string
	label    string
	width    float64
	position string
}

func renderFigure(f figureSpec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\\begin{figure}[%s]\n", f.position)
	b.WriteString("\\centering\n")
	fmt.Fprintf(&b, "\\includegraphics[width=%s\\linewidth]{%s}\n", formatWidth(f.width), f.path)
	if f.caption != "" {
		fmt.Fprintf(&b, "\\caption{%s}\n", f.caption)
	}
	if f.label != "" {
		fmt.Fprintf(&b, "\\label{%s}\n", f.label)
	}
	b.WriteString("\\end{figure}")
	return b.String()
}

// resolveAsset substitutes a generated asset path recorded by the figure
// build cache for the path as written in the manuscript.
func resolveAsset(ctx *Context, path string) string {
	if ctx.FigureAssets != nil {
		if generated, ok := ctx.FigureAssets[path]; ok {
			return generated
		}
	}
	return path
}

// parseWidth reads width="0.8" or width="80%" attributes, defaulting to
// the full line width.
func parseWidth(attrs string) float64 {
	m := widthAttr.FindStringSubmatch(attrs)
	if m == nil {
		return 1.0
	}
	var w float64
	if _, err := fmt.Sscanf(m[1], "%f", &w); err != nil {
		return 1.0
	}
	if strings.Contains(m[0], "%") || w > 1.0 {
		w /= 100
	}
	if w <= 0 || w > 1.0 {
		return 1.0
	}
	return w
}

func parsePosition(attrs string) string {
	if m := positionAttr.FindStringSubmatch(attrs); m != nil {
		return m[1]
	}
	return "ht"
}

// formatWidth renders a width factor without a trailing zero tail.
func formatWidth(w float64) string {
	s := strings.TrimRight(fmt.Sprintf("%.2f", w), "0")
	return strings.TrimSuffix(s, ".")
}
