package md2tex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"md2tex/internal/bib"
	"md2tex/internal/config"
	"md2tex/internal/diag"
	"md2tex/internal/doi"
	"md2tex/internal/figures"
	"md2tex/internal/fileutil"
	"md2tex/internal/labels"
	"md2tex/internal/logging"
	"md2tex/internal/pipeline"
	"md2tex/internal/protect"
)

// Service orchestrates the full Markdown-to-LaTeX conversion of a
// manuscript project.
type Service struct {
	cfg    serviceConfig
	runner figures.CommandRunner
	log    *slog.Logger
}

// New creates a Service with default configuration.
// Use options to customize behavior (e.g., WithOffline).
func New(opts ...Option) *Service {
	s := &Service{
		cfg: serviceConfig{timeout: defaultTimeout},
		log: logging.New("md2tex"),
	}

	for _, opt := range opts {
		opt(s)
	}

	// Create subprocess runner if not injected (e.g., by tests)
	if s.runner == nil {
		s.runner = &figures.ExecRunner{}
	}

	return s
}

// Convert converts the manuscript project containing dir. It discovers the
// project root by walking upward to the configuration marker, brings the
// figure units up to date, converts every content file, resolves
// cross-references project-wide, and verifies citation DOIs.
//
// Conversion is best-effort: per-file and per-span problems surface as
// diagnostics in the Result. The returned error is reserved for structural
// failures that make a run meaningless.
func (s *Service) Convert(ctx context.Context, dir string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.timeout)
	defer cancel()

	root, ok := labels.FindProjectRoot(dir)
	if !ok {
		return nil, fmt.Errorf("%w: no %s above %s", ErrNoProject, config.FileName, dir)
	}

	manuscript, err := config.Load(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigLoad, err)
	}

	files, supplementary := labels.ProjectFiles(root)
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyFileSet, root)
	}

	var diags []diag.Diagnostic
	cacheDir := filepath.Join(root, config.CacheDir)

	db, bibPath, bibDiags := s.loadBibliography(manuscript, root)
	diags = append(diags, bibDiags...)

	buildResults, figDiags := s.buildFigures(ctx, root, cacheDir)
	diags = append(diags, figDiags...)

	result, convDiags := s.convertFiles(ctx, files, supplementary, root, db, figureAssets(root, buildResults))
	diags = append(diags, convDiags...)
	result.Figures = buildResults

	if db != nil {
		diags = append(diags, s.verifyCitations(ctx, db, bibPath, cacheDir)...)
	}

	diag.Sort(diags)
	result.Diagnostics = diags
	return result, nil
}

// ResolveReferences converts the given content files and resolves their
// cross-references. When a project root marker is found above the first
// file, label collection widens to the canonical project file set so
// references into sibling files resolve; otherwise only the given files
// are scanned (single-file editing context).
func (s *Service) ResolveReferences(ctx context.Context, paths []string) (*Result, error) {
	if len(paths) == 0 {
		return nil, ErrEmptyFileSet
	}

	scan := paths
	supplementary := ""
	if root, ok := labels.FindProjectRoot(filepath.Dir(paths[0])); ok {
		scan, supplementary = labels.ProjectFiles(root)
	}
	scan = mergePaths(scan, paths)

	var diags []diag.Diagnostic
	result, convDiags := s.convertFiles(ctx, scan, supplementary, filepath.Dir(paths[0]), nil, nil)
	diags = append(diags, convDiags...)

	// Only the requested files belong in the output.
	requested := make(map[string]bool, len(paths))
	for _, p := range paths {
		requested[p] = true
	}
	for _, file := range result.FileOrder {
		if !requested[file] {
			delete(result.Files, file)
		}
	}
	result.FileOrder = result.FileOrder[:0]
	for _, p := range paths {
		if _, ok := result.Files[p]; ok {
			result.FileOrder = append(result.FileOrder, p)
		}
	}

	diag.Sort(diags)
	result.Diagnostics = diags
	return result, nil
}

// convertFiles runs protection, the stage pipeline, whole-project label
// resolution, and restoration over the given files. A protection failure
// aborts only the affected file.
func (s *Service) convertFiles(ctx context.Context, files []string, supplementary, root string, db *bib.Database, assets map[string]string) (*Result, []diag.Diagnostic) {
	var diags []diag.Diagnostic

	converted := make(map[string]string, len(files))
	spanTables := make(map[string]*protect.Table, len(files))
	order := make([]string, 0, len(files))
	pl := pipeline.New()

	for _, file := range files {
		if ctx.Err() != nil {
			break
		}

		data, err := os.ReadFile(file) // #nosec G304 -- paths come from project discovery
		if err != nil {
			diags = append(diags, diag.Errorf(diag.KindConversion, file, 0,
				"unreadable content file: %v", err))
			continue
		}

		protected, spans, err := protect.Protect(string(data), file)
		if err != nil {
			var perr *protect.Error
			if errors.As(err, &perr) {
				diags = append(diags, diag.Errorf(diag.KindProtection, perr.File, perr.Line,
					"unterminated %s span, file skipped", perr.Kind))
			} else {
				diags = append(diags, diag.Errorf(diag.KindProtection, file, 0, "%v", err))
			}
			continue
		}

		text, ds := pl.Run(protected, &pipeline.Context{
			SourceFile:    file,
			Supplementary: file == supplementary,
			Bib:           db,
			FigureAssets:  assets,
		})
		diags = append(diags, ds...)

		converted[file] = text
		spanTables[file] = spans
		order = append(order, file)
	}

	// Two-pass resolution runs on converted text before restoration, so
	// protected math can never shadow or fabricate a label.
	labelTable, collectDiags := labels.Collect(converted, order, supplementary)
	diags = append(diags, collectDiags...)
	diags = append(diags, labels.Resolve(labelTable, converted, order, supplementary)...)

	for _, file := range order {
		converted[file] = protect.Restore(converted[file], spanTables[file])
	}

	return &Result{Files: converted, FileOrder: order}, diags
}

// loadBibliography parses the project bibliography. A missing file is not
// an error (a manuscript may cite nothing); parse problems degrade to
// diagnostics with whatever entries survived.
func (s *Service) loadBibliography(m *config.Manuscript, root string) (*bib.Database, string, []diag.Diagnostic) {
	bibPath := m.BibliographyPath(root)
	data, err := os.ReadFile(bibPath) // #nosec G304 -- path comes from the manuscript config
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, bibPath, []diag.Diagnostic{diag.Warnf(diag.KindConversion, bibPath, 0,
				"unreadable bibliography: %v", err)}
		}
		return nil, bibPath, nil
	}

	db, err := bib.Parse(string(data))
	if err != nil {
		d := diag.Warnf(diag.KindConversion, bibPath, 0, "bibliography problems: %v", err)
		return db, bibPath, []diag.Diagnostic{d}
	}
	return db, bibPath, nil
}

// buildFigures brings the project's figure units up to date. A script
// failure is reported as a diagnostic and leaves the remaining conversion
// to run against whatever assets exist.
func (s *Service) buildFigures(ctx context.Context, root, cacheDir string) ([]figures.BuildResult, []diag.Diagnostic) {
	units, err := figures.Discover(filepath.Join(root, config.FiguresDir))
	if err != nil {
		return nil, []diag.Diagnostic{diag.Errorf(diag.KindConversion, filepath.Join(root, config.FiguresDir), 0,
			"figure discovery failed: %v", err)}
	}
	if len(units) == 0 {
		return nil, nil
	}

	cache, diags := figures.OpenCache(cacheDir)
	builder := figures.NewBuilder(cache,
		figures.WithRunner(s.runner),
		figures.WithWorkers(s.cfg.workers),
		figures.WithFlags(s.cfg.figureFlags),
		figures.WithForce(s.cfg.forceFigures))

	results, err := builder.BuildAll(ctx, units)
	if err != nil {
		diags = append(diags, diag.Errorf(diag.KindConversion, "", 0, "%v", err))
	}
	// Per-unit failures surface as diagnostics; the remaining conversion
	// still runs against whatever assets the successful units produced.
	for _, res := range results {
		if res.Err != nil {
			diags = append(diags, diag.Errorf(diag.KindConversion, res.Unit.Dir, 0, "%v", res.Err))
		}
	}
	if err := cache.Save(); err != nil {
		s.log.Warn("figure cache not persisted", "error", err)
	}
	return results, diags
}

// verifyCitations checks every DOI in the bibliography against the
// resolver, skipping the whole pass when the bibliography is unchanged
// since the last completed verification.
func (s *Service) verifyCitations(ctx context.Context, db *bib.Database, bibPath, cacheDir string) []diag.Diagnostic {
	if !fileutil.FileExists(bibPath) {
		return nil
	}
	unchanged, err := doi.BibUnchanged(cacheDir, bibPath)
	if err != nil {
		return []diag.Diagnostic{diag.Warnf(diag.KindMetadataService, bibPath, 0,
			"bibliography checksum failed: %v", err)}
	}
	if unchanged {
		return nil
	}

	cache, diags := doi.OpenCache(cacheDir)
	verifier := doi.NewVerifier(cache, doi.WithOffline(s.cfg.offline))

	dois := db.DOIs()
	keys := make([]string, 0, len(dois))
	for key := range dois {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	failed := false
	for _, key := range keys {
		if ctx.Err() != nil {
			break
		}
		out, d := verifier.Verify(ctx, dois[key])
		if d != nil {
			diags = append(diags, *d)
			failed = true
			continue
		}
		if !out.Resolves && (out.Cached || !s.cfg.offline) {
			entry, _ := db.Lookup(key)
			diags = append(diags, diag.Warnf(diag.KindMetadataService, bibPath, entry.Line,
				"DOI %s of entry %q does not resolve", dois[key], key))
		}
	}

	if !s.cfg.offline {
		if err := cache.Save(); err != nil {
			s.log.Warn("metadata cache not persisted", "error", err)
		}
		// Only a fully verified pass may suppress the next one.
		if !failed && ctx.Err() == nil {
			if err := doi.RecordBibChecksum(cacheDir, bibPath); err != nil {
				s.log.Warn("bibliography checksum not recorded", "error", err)
			}
		}
	}
	return diags
}

// figureAssets maps manuscript-visible script paths to their generated
// assets so the figure stage can substitute them. Both paths are relative
// to the project root, matching how figures are referenced in the text.
func figureAssets(root string, results []figures.BuildResult) map[string]string {
	assets := make(map[string]string)
	for _, res := range results {
		if len(res.Outputs) == 0 {
			continue
		}
		scriptRel, err := filepath.Rel(root, res.Unit.Script)
		if err != nil {
			continue
		}
		output := pickOutput(res.Unit.Script, res.Outputs)
		outputRel, err := filepath.Rel(root, output)
		if err != nil {
			continue
		}
		assets[filepath.ToSlash(scriptRel)] = filepath.ToSlash(outputRel)
	}
	return assets
}

// pickOutput chooses the asset to substitute for a script: an output
// sharing the script's stem wins, then the first output.
func pickOutput(script string, outputs []string) string {
	stem := stemOf(script)
	for _, out := range outputs {
		if stemOf(out) == stem {
			return out
		}
	}
	return outputs[0]
}

func stemOf(path string) string {
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}

// mergePaths appends any extra paths missing from base, preserving order.
func mergePaths(base, extra []string) []string {
	seen := make(map[string]bool, len(base))
	for _, p := range base {
		seen[p] = true
	}
	for _, p := range extra {
		if !seen[p] {
			base = append(base, p)
			seen[p] = true
		}
	}
	return base
}
