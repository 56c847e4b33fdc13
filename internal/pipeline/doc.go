// Package pipeline implements the ordered Markdown-to-LaTeX converter.
//
// The pipeline is an explicit list of pure stages assembled at construction
// time, each transforming placeholder-bearing text and reporting diagnostics:
//   - figure and table syntax (link-like, so converted before generic links)
//   - cross-reference and citation markers
//   - inline formatting and document structure
//   - document-control directives
//
// Span protection runs before the pipeline and restoration after it; see
// the protect package. Stage failures are non-fatal: the offending span
// passes through unconverted so the build still yields a complete document.
package pipeline
