package labels

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"md2tex/internal/config"
	"md2tex/internal/diag"
)

func TestCollect(t *testing.T) {
	t.Parallel()

	files := map[string]string{
		"01_MAIN.md":               "intro\n\\label{fig:timeline}\ntext\n\\label{table:cohort}\n\\label{eq:loss}",
		"02_SUPPLEMENTARY_INFO.md": "\\label{fig:extra}\n\\label{snote:methods}",
	}
	order := []string{"01_MAIN.md", "02_SUPPLEMENTARY_INFO.md"}

	table, diags := Collect(files, order, "02_SUPPLEMENTARY_INFO.md")
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %v", diags)
	}
	if table.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", table.Len())
	}

	tests := []struct {
		name          string
		kind          Kind
		key           string
		supplementary bool
		wantFile      string
		wantLine      int
	}{
		{"main figure", KindFigure, "timeline", false, "01_MAIN.md", 2},
		{"main table", KindTable, "cohort", false, "01_MAIN.md", 4},
		{"main equation", KindEquation, "loss", false, "01_MAIN.md", 5},
		{"role-inferred supplementary figure", KindFigure, "extra", true, "02_SUPPLEMENTARY_INFO.md", 1},
		{"supplementary note", KindNote, "methods", true, "02_SUPPLEMENTARY_INFO.md", 2},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			l, ok := table.Lookup(tt.kind, tt.key, tt.supplementary)
			if !ok {
				t.Fatalf("Lookup(%s, %s, %v) missing", tt.kind, tt.key, tt.supplementary)
			}
			if l.File != tt.wantFile || l.Line != tt.wantLine {
				t.Errorf("definition site = %s:%d, want %s:%d", l.File, l.Line, tt.wantFile, tt.wantLine)
			}
		})
	}
}

func TestCollectExplicitPrefixBeatsFileRole(t *testing.T) {
	t.Parallel()

	// An sfig label in the main document is supplementary despite its file.
	files := map[string]string{"01_MAIN.md": "\\label{sfig:appendix}"}
	table, diags := Collect(files, []string{"01_MAIN.md"}, "02_SUPPLEMENTARY_INFO.md")
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %v", diags)
	}
	if _, ok := table.Lookup(KindFigure, "appendix", true); !ok {
		t.Error("sfig label in main file should carry supplementary status")
	}
	if _, ok := table.Lookup(KindFigure, "appendix", false); ok {
		t.Error("sfig label must not also register as non-supplementary")
	}
}

func TestCollectDuplicateFirstWins(t *testing.T) {
	t.Parallel()

	files := map[string]string{
		"01_MAIN.md":               "\\label{fig:dup}\nmore",
		"02_SUPPLEMENTARY_INFO.md": "\n\n\\label{fig:dup}",
	}
	order := []string{"01_MAIN.md", "02_SUPPLEMENTARY_INFO.md"}

	// No supplementary role: both labels land in the same tuple.
	table, diags := Collect(files, order, "")
	if len(diags) != 1 {
		t.Fatalf("len(diags) = %d, want 1: %v", len(diags), diags)
	}
	d := diags[0]
	if d.Severity != diag.SeverityError || d.Kind != diag.KindLabel {
		t.Errorf("diagnostic = %v, want label error", d)
	}
	if d.File != "02_SUPPLEMENTARY_INFO.md" || d.Line != 3 {
		t.Errorf("duplicate reported at %s:%d, want 02_SUPPLEMENTARY_INFO.md:3", d.File, d.Line)
	}
	if !strings.Contains(d.Message, "01_MAIN.md:1") {
		t.Errorf("message should name the first definition site, got %q", d.Message)
	}

	l, _ := table.Lookup(KindFigure, "dup", false)
	if l.File != "01_MAIN.md" {
		t.Errorf("surviving definition from %s, want first-seen 01_MAIN.md", l.File)
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	files := map[string]string{
		"01_MAIN.md": strings.Join([]string{
			`\label{fig:timeline}`,
			`\label{eq:loss}`,
			`see \ref{fig:timeline} and \eqref{eq:loss}`,
			`broken \ref{fig:missing}`,
		}, "\n"),
	}
	order := []string{"01_MAIN.md"}

	table, _ := Collect(files, order, "")
	diags := Resolve(table, files, order, "")

	if len(diags) != 1 {
		t.Fatalf("len(diags) = %d, want 1: %v", len(diags), diags)
	}
	d := diags[0]
	if d.Kind != diag.KindReference || d.Line != 4 {
		t.Errorf("diagnostic = %v, want reference error at line 4", d)
	}
	if !strings.Contains(d.Message, "fig:missing") {
		t.Errorf("message = %q, want mention of fig:missing", d.Message)
	}
}

func TestResolveAcrossFiles(t *testing.T) {
	t.Parallel()

	files := map[string]string{
		"01_MAIN.md":               `\label{fig:timeline}` + "\n" + `forward \ref{sfig:extra}`,
		"02_SUPPLEMENTARY_INFO.md": `\label{sfig:extra}` + "\n" + `back \ref{fig:timeline}`,
	}
	order := []string{"01_MAIN.md", "02_SUPPLEMENTARY_INFO.md"}

	table, diags := Collect(files, order, "02_SUPPLEMENTARY_INFO.md")
	if len(diags) != 0 {
		t.Fatalf("unexpected collection diagnostics: %v", diags)
	}
	if diags := Resolve(table, files, order, "02_SUPPLEMENTARY_INFO.md"); len(diags) != 0 {
		t.Errorf("cross-file references should resolve, got %v", diags)
	}
}

func TestResolvePlainRefBindsRoleInferredLabel(t *testing.T) {
	t.Parallel()

	// fig:extra is defined in the supplementary file without an explicit
	// prefix; a plain \ref{fig:extra} from the main document still binds.
	files := map[string]string{
		"01_MAIN.md":               `see \ref{fig:extra}`,
		"02_SUPPLEMENTARY_INFO.md": `\label{fig:extra}`,
	}
	order := []string{"01_MAIN.md", "02_SUPPLEMENTARY_INFO.md"}

	table, _ := Collect(files, order, "02_SUPPLEMENTARY_INFO.md")
	if diags := Resolve(table, files, order, "02_SUPPLEMENTARY_INFO.md"); len(diags) != 0 {
		t.Errorf("role-inferred label should satisfy plain reference, got %v", diags)
	}
}

func TestResolveSupplementaryRefNeedsSupplementaryLabel(t *testing.T) {
	t.Parallel()

	// The role-inference fallback is one-directional: an explicit sfig
	// reference must not bind a plain main-document label.
	files := map[string]string{
		"01_MAIN.md": `\label{fig:overview}` + "\n" + `see \ref{sfig:overview}`,
	}
	order := []string{"01_MAIN.md"}

	table, _ := Collect(files, order, "")
	diags := Resolve(table, files, order, "")
	if len(diags) != 1 {
		t.Fatalf("len(diags) = %d, want 1: %v", len(diags), diags)
	}
	if diags[0].Kind != diag.KindReference || !strings.Contains(diags[0].Message, "sfig:overview") {
		t.Errorf("diagnostic = %v, want unresolved sfig:overview", diags[0])
	}
}

func TestResolveSameKeyDifferentKinds(t *testing.T) {
	t.Parallel()

	files := map[string]string{
		"01_MAIN.md": strings.Join([]string{
			`\label{fig:overview}`,
			`\label{table:overview}`,
			`\ref{fig:overview} \ref{table:overview}`,
		}, "\n"),
	}
	order := []string{"01_MAIN.md"}

	table, diags := Collect(files, order, "")
	if len(diags) != 0 {
		t.Fatalf("same key under different kinds must not collide: %v", diags)
	}
	if diags := Resolve(table, files, order, ""); len(diags) != 0 {
		t.Errorf("unexpected resolution diagnostics: %v", diags)
	}
}

func TestFindProjectRoot(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, config.FileName), []byte("title: x"), 0o644); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(root, "FIGURES", "fig1")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	got, ok := FindProjectRoot(nested)
	if !ok {
		t.Fatal("FindProjectRoot() did not find marker")
	}
	if resolved, _ := filepath.EvalSymlinks(got); resolved != mustEval(t, root) {
		t.Errorf("root = %s, want %s", got, root)
	}

	if _, ok := FindProjectRoot(t.TempDir()); ok {
		t.Error("FindProjectRoot() found a marker where none exists")
	}
}

func TestProjectFiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	for _, name := range []string{config.MainFile, config.SupplementaryFile} {
		if err := os.WriteFile(filepath.Join(root, name), []byte("# x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	files, supp := ProjectFiles(root)
	if len(files) != 2 {
		t.Fatalf("len(files) = %d, want 2", len(files))
	}
	if filepath.Base(files[0]) != config.MainFile {
		t.Errorf("files[0] = %s, want main file first", files[0])
	}
	if filepath.Base(supp) != config.SupplementaryFile {
		t.Errorf("supplementary = %s", supp)
	}

	mainOnly := t.TempDir()
	if err := os.WriteFile(filepath.Join(mainOnly, config.MainFile), []byte("# x"), 0o644); err != nil {
		t.Fatal(err)
	}
	files, supp = ProjectFiles(mainOnly)
	if len(files) != 1 || supp != "" {
		t.Errorf("main-only project: files = %v, supplementary = %q", files, supp)
	}
}

func mustEval(t *testing.T, path string) string {
	t.Helper()
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		t.Fatal(err)
	}
	return resolved
}
