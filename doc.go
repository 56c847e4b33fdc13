// Package md2tex converts scientific-manuscript Markdown projects to LaTeX.
//
// # Quick Start
//
// Create a converter and convert a project directory:
//
//	conv := md2tex.New()
//	result, err := conv.Convert(ctx, "/path/to/manuscript")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for path, tex := range result.Files {
//	    os.WriteFile(strings.TrimSuffix(path, ".md")+".tex", []byte(tex), 0644)
//	}
//	for _, d := range result.Diagnostics {
//	    fmt.Fprintln(os.Stderr, d)
//	}
//
// A project directory holds 00_CONFIG.yml (metadata and the root marker),
// 01_MAIN.md, an optional 02_SUPPLEMENTARY_INFO.md, 03_REFERENCES.bib, and
// a FIGURES directory with one generation unit per subdirectory.
//
// # Conversion Pipeline
//
// Each content file passes through these phases:
//
//  1. Span protection: math, code, and raw-markup regions are replaced by
//     collision-free placeholder tokens so no conversion stage can touch
//     their literal content.
//  2. Ordered conversion stages: figures, tables, cross-references,
//     citations, text formatting, sections, directives.
//  3. Two-pass cross-reference resolution across the whole project:
//     collection of every label definition, then resolution of every
//     reference against the project-wide table.
//  4. Span restoration: placeholders are substituted back with their
//     original content, with minimal kind-specific emission.
//
// Figure scripts are re-executed only when their content digest changed;
// DOI metadata is verified through a TTL-bound cache. Both caches persist
// under .md2tex in the project directory.
//
// # Diagnostics
//
// Conversion is best-effort: a malformed citation, duplicate label, or
// unreachable metadata service becomes a Diagnostic in the result rather
// than an error. Only structural failures (unreadable config, no project
// root) abort a run.
//
// # Configuration
//
// Use functional options to customize the converter:
//
//	conv := md2tex.New(
//	    md2tex.WithWorkers(4),
//	    md2tex.WithOffline(true),
//	    md2tex.WithForceFigures(true),
//	)
package md2tex
