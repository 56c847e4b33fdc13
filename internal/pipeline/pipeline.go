package pipeline

import (
	"strings"

	"md2tex/internal/bib"
	"md2tex/internal/diag"
)

// Context is the immutable per-run configuration handed to every stage.
// Stages never mutate it and never touch global state; caches are explicit
// objects constructed once per build and threaded through here.
type Context struct {
	SourceFile    string
	Supplementary bool              // file's declared role
	Bib           *bib.Database     // nil when no bibliography is loaded
	FigureAssets  map[string]string // source path -> generated asset path
}

// Stage is one named, pure transformation. A failing span passes through
// unmodified with a diagnostic so downstream stages and the restorer still
// produce a complete document.
type Stage struct {
	Name      string
	Transform func(text string, ctx *Context) (string, []diag.Diagnostic)
}

// Pipeline applies an ordered list of stages. The order is a contract:
//
//   - figure and table syntax precede generic link conversion, since figure
//     blocks use link-like source syntax with extra metadata;
//   - cross-reference markers precede inline formatting so they are not
//     mistaken for emphasis;
//   - citation markers precede the formatting stages that strip symbols.
//
// Protection-sensitive content was replaced by placeholders before any stage
// runs, so no stage carries its own escaping logic.
type Pipeline struct {
	stages []Stage
}

// New assembles the default stage order.
func New() *Pipeline {
	return &Pipeline{stages: []Stage{
		{Name: "figures", Transform: convertFigures},
		{Name: "tables", Transform: convertTables},
		{Name: "crossrefs", Transform: convertCrossRefs},
		{Name: "citations", Transform: convertCitations},
		{Name: "formatting", Transform: convertFormatting},
		{Name: "sections", Transform: convertSections},
		{Name: "directives", Transform: convertDirectives},
	}}
}

// StageNames returns the stage order, for tests and introspection.
func (p *Pipeline) StageNames() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name
	}
	return names
}

// Run applies every stage in order, accumulating diagnostics.
func (p *Pipeline) Run(text string, ctx *Context) (string, []diag.Diagnostic) {
	var diags []diag.Diagnostic
	for _, stage := range p.stages {
		var ds []diag.Diagnostic
		text, ds = stage.Transform(text, ctx)
		diags = append(diags, ds...)
	}
	return text, diags
}

// lineAt returns the 1-based line number of byte offset in text.
func lineAt(text string, offset int) int {
	if offset > len(text) {
		offset = len(text)
	}
	return 1 + strings.Count(text[:offset], "\n")
}
