package figures

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// fakeRunner records invocations and optionally writes an output file to
// simulate a generation script.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []string
	output  string // file name written into the unit dir per run
	failFor string // unit dir suffix that should fail
}

func (r *fakeRunner) Run(_ context.Context, dir, name string, args ...string) (string, string, error) {
	r.mu.Lock()
	r.calls = append(r.calls, filepath.Base(dir))
	r.mu.Unlock()

	if r.failFor != "" && filepath.Base(dir) == r.failFor {
		return "", "traceback: boom", errors.New("exit status 1")
	}
	if r.output != "" {
		if err := os.WriteFile(filepath.Join(dir, r.output), []byte("%PDF"), 0o644); err != nil {
			return "", "", err
		}
	}
	return "", "", nil
}

func (r *fakeRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func writeUnit(t *testing.T, figuresDir, id, script string, data map[string]string) Unit {
	t.Helper()
	dir := filepath.Join(figuresDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, script), []byte("print('hi')"), 0o644); err != nil {
		t.Fatal(err)
	}
	for name, content := range data {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	unit, err := scanUnit(id, dir)
	if err != nil {
		t.Fatalf("scanUnit() error = %v", err)
	}
	return unit
}

func TestDiscover(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeUnit(t, dir, "fig1_timeline", "plot.py", map[string]string{"data.csv": "a,b"})
	writeUnit(t, dir, "fig2_workflow", "diagram.mmd", nil)

	// Static-asset subdirectory, no script.
	staticDir := filepath.Join(dir, "photos")
	if err := os.MkdirAll(staticDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(staticDir, "lab.png"), []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}

	units, err := Discover(dir)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}

	ids := make([]string, len(units))
	for i, u := range units {
		ids[i] = u.ID
	}
	want := []string{"fig1_timeline", "fig2_workflow"}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Errorf("unit IDs mismatch (-want +got):\n%s", diff)
	}

	if got := units[0].Command()[0]; got != "python3" {
		t.Errorf("python unit interpreter = %q, want python3", got)
	}
	if got := units[1].Command()[0]; got != "mmdc" {
		t.Errorf("mermaid unit interpreter = %q, want mmdc", got)
	}
}

func TestDiscoverMissingDir(t *testing.T) {
	t.Parallel()

	units, err := Discover(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if units != nil {
		t.Errorf("units = %v, want nil", units)
	}
}

func TestDiscoverMultipleScripts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	unitDir := filepath.Join(dir, "fig1")
	if err := os.MkdirAll(unitDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"a.py", "b.R"} {
		if err := os.WriteFile(filepath.Join(unitDir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	_, err := Discover(dir)
	if !errors.Is(err, ErrMultipleScripts) {
		t.Errorf("Discover() error = %v, want ErrMultipleScripts", err)
	}
}

func TestDigestDeterministic(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	unit := writeUnit(t, dir, "fig1", "plot.py", map[string]string{"data.csv": "1,2,3"})

	d1, err := Digest(unit, []string{"--dpi=300"})
	if err != nil {
		t.Fatalf("Digest() error = %v", err)
	}
	d2, err := Digest(unit, []string{"--dpi=300"})
	if err != nil {
		t.Fatalf("Digest() error = %v", err)
	}
	if d1 != d2 {
		t.Errorf("digest not deterministic: %s vs %s", d1, d2)
	}
}

func TestDigestChangesOnSingleByteEdit(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	unit := writeUnit(t, dir, "fig1", "plot.py", map[string]string{"data.csv": "1,2,3"})

	before, err := Digest(unit, nil)
	if err != nil {
		t.Fatalf("Digest() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(unit.Dir, "data.csv"), []byte("1,2,4"), 0o644); err != nil {
		t.Fatal(err)
	}
	after, err := Digest(unit, nil)
	if err != nil {
		t.Fatalf("Digest() error = %v", err)
	}
	if before == after {
		t.Error("digest unchanged after data file edit")
	}
}

func TestDigestChangesWithFlags(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	unit := writeUnit(t, dir, "fig1", "plot.py", nil)

	plain, err := Digest(unit, nil)
	if err != nil {
		t.Fatalf("Digest() error = %v", err)
	}
	flagged, err := Digest(unit, []string{"--dpi=600"})
	if err != nil {
		t.Fatalf("Digest() error = %v", err)
	}
	if plain == flagged {
		t.Error("digest unchanged after flag change")
	}
}

func TestBuilderSkipsFreshUnits(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	unit := writeUnit(t, dir, "fig1", "plot.py", map[string]string{"data.csv": "a"})
	cache, _ := OpenCache(t.TempDir())
	runner := &fakeRunner{output: "plot.pdf"}
	b := NewBuilder(cache, WithRunner(runner), WithWorkers(2))

	res, err := b.Build(context.Background(), unit)
	if err != nil {
		t.Fatalf("first Build() error = %v", err)
	}
	if !res.Rebuilt {
		t.Error("first build should execute the script")
	}

	res, err = b.Build(context.Background(), unit)
	if err != nil {
		t.Fatalf("second Build() error = %v", err)
	}
	if res.Rebuilt {
		t.Error("second build should be a cache hit")
	}
	if runner.callCount() != 1 {
		t.Errorf("script ran %d times, want 1", runner.callCount())
	}
}

func TestBuilderRebuildsOnEdit(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	unit := writeUnit(t, dir, "fig1", "plot.py", map[string]string{"data.csv": "a"})
	cache, _ := OpenCache(t.TempDir())
	runner := &fakeRunner{output: "plot.pdf"}
	b := NewBuilder(cache, WithRunner(runner), WithWorkers(1))

	if _, err := b.Build(context.Background(), unit); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(unit.Dir, "data.csv"), []byte("b"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := b.Build(context.Background(), unit)
	if err != nil {
		t.Fatalf("Build() after edit error = %v", err)
	}
	if !res.Rebuilt {
		t.Error("edit should trigger a rebuild")
	}
	if runner.callCount() != 2 {
		t.Errorf("script ran %d times, want 2", runner.callCount())
	}
}

func TestBuilderForceRebuilds(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	unit := writeUnit(t, dir, "fig1", "plot.py", nil)
	cacheDir := t.TempDir()

	cache, _ := OpenCache(cacheDir)
	runner := &fakeRunner{output: "plot.pdf"}
	if _, err := NewBuilder(cache, WithRunner(runner)).Build(context.Background(), unit); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	forced := NewBuilder(cache, WithRunner(runner), WithForce(true))
	res, err := forced.Build(context.Background(), unit)
	if err != nil {
		t.Fatalf("forced Build() error = %v", err)
	}
	if !res.Rebuilt {
		t.Error("force should rebuild a fresh unit")
	}

	// A later non-forced run is still a hit: the forced run recorded the
	// content digest, not a force marker.
	res, err = NewBuilder(cache, WithRunner(runner)).Build(context.Background(), unit)
	if err != nil {
		t.Fatalf("Build() after force error = %v", err)
	}
	if res.Rebuilt {
		t.Error("content digest unchanged, expected a cache hit after forced run")
	}
}

func TestBuilderScriptFailure(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	unit := writeUnit(t, dir, "fig_bad", "plot.py", nil)
	cache, _ := OpenCache(t.TempDir())
	b := NewBuilder(cache, WithRunner(&fakeRunner{failFor: "fig_bad"}))

	_, err := b.Build(context.Background(), unit)
	if !errors.Is(err, ErrBuildFailed) {
		t.Fatalf("Build() error = %v, want ErrBuildFailed", err)
	}
	if cache.Fresh(unit.ID, mustDigest(t, unit)) {
		t.Error("failed build must not be recorded as fresh")
	}
}

func TestBuildAll(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	var units []Unit
	for _, id := range []string{"fig1", "fig2", "fig3"} {
		units = append(units, writeUnit(t, dir, id, "plot.py", nil))
	}
	cache, _ := OpenCache(t.TempDir())
	runner := &fakeRunner{output: "plot.pdf"}

	results, err := NewBuilder(cache, WithRunner(runner), WithWorkers(2)).
		BuildAll(context.Background(), units)
	if err != nil {
		t.Fatalf("BuildAll() error = %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}
	for _, res := range results {
		if !res.Rebuilt {
			t.Errorf("unit %s not rebuilt on first run", res.Unit.ID)
		}
	}
	if runner.callCount() != 3 {
		t.Errorf("script ran %d times, want 3", runner.callCount())
	}
}

func TestBuildAllContinuesPastFailingUnit(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	bad := writeUnit(t, dir, "fig_bad", "plot.py", nil)
	good := writeUnit(t, dir, "fig_good", "plot.py", nil)
	cache, _ := OpenCache(t.TempDir())
	runner := &fakeRunner{output: "plot.pdf", failFor: "fig_bad"}

	results, err := NewBuilder(cache, WithRunner(runner), WithWorkers(2)).
		BuildAll(context.Background(), []Unit{bad, good})
	if err != nil {
		t.Fatalf("BuildAll() error = %v, want per-unit errors in results", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}

	byID := make(map[string]BuildResult, len(results))
	for _, res := range results {
		byID[res.Unit.ID] = res
	}
	if !errors.Is(byID["fig_bad"].Err, ErrBuildFailed) {
		t.Errorf("fig_bad Err = %v, want ErrBuildFailed", byID["fig_bad"].Err)
	}
	goodRes := byID["fig_good"]
	if goodRes.Err != nil {
		t.Fatalf("fig_good Err = %v, want nil", goodRes.Err)
	}
	if !goodRes.Rebuilt || len(goodRes.Outputs) == 0 {
		t.Errorf("fig_good result = %+v, want successful build with outputs", goodRes)
	}
	if !cache.Fresh(good.ID, mustDigest(t, good)) {
		t.Error("successful sibling build not recorded in cache")
	}
}

func TestBuildCoalescesConcurrentRequests(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	unit := writeUnit(t, dir, "fig1", "plot.py", nil)
	cache, _ := OpenCache(t.TempDir())

	var runs atomic.Int32
	runner := runnerFunc(func(ctx context.Context, d, name string, args ...string) (string, string, error) {
		runs.Add(1)
		return "", "", nil
	})
	b := NewBuilder(cache, WithRunner(runner), WithWorkers(4))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := b.Build(context.Background(), unit); err != nil {
				t.Errorf("Build() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := runs.Load(); got > 2 {
		t.Errorf("script ran %d times for one digest, want coalesced execution", got)
	}
}

type runnerFunc func(ctx context.Context, dir, name string, args ...string) (string, string, error)

func (f runnerFunc) Run(ctx context.Context, dir, name string, args ...string) (string, string, error) {
	return f(ctx, dir, name, args...)
}

func TestCachePersistence(t *testing.T) {
	t.Parallel()

	cacheDir := t.TempDir()
	cache, _ := OpenCache(cacheDir)
	cache.Record("fig1", "abc123", []string{"fig1/plot.pdf"})
	if err := cache.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	reloaded, diags := OpenCache(cacheDir)
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %v", diags)
	}
	if !reloaded.Fresh("fig1", "abc123") {
		t.Error("persisted entry lost after reload")
	}
	if reloaded.Fresh("fig1", "other") {
		t.Error("Fresh() true for mismatched digest")
	}
}

func TestCacheCorruptionIsFullMiss(t *testing.T) {
	t.Parallel()

	cacheDir := t.TempDir()
	cache, _ := OpenCache(cacheDir)
	cache.Record("fig1", "abc123", nil)
	if err := cache.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if err := os.WriteFile(filepath.Join(cacheDir, cacheFileName), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	reloaded, diags := OpenCache(cacheDir)
	if len(diags) != 1 {
		t.Fatalf("len(diags) = %d, want 1", len(diags))
	}
	if diags[0].Kind != "cache-corruption" {
		t.Errorf("diagnostic kind = %q, want cache-corruption", diags[0].Kind)
	}
	if reloaded.Fresh("fig1", "abc123") {
		t.Error("corrupted cache must be a full miss")
	}

	// The recovered cache is usable and can be saved over the damage.
	reloaded.Record("fig1", "def456", nil)
	if err := reloaded.Save(); err != nil {
		t.Fatalf("Save() after corruption error = %v", err)
	}
}

func TestResolveWorkers(t *testing.T) {
	t.Parallel()

	if got := ResolveWorkers(3); got != 3 {
		t.Errorf("ResolveWorkers(3) = %d, want 3", got)
	}
	got := ResolveWorkers(0)
	if got < MinWorkers || got > MaxWorkers {
		t.Errorf("ResolveWorkers(0) = %d, want within [%d,%d]", got, MinWorkers, MaxWorkers)
	}
}

func mustDigest(t *testing.T, u Unit) string {
	t.Helper()
	d, err := Digest(u, nil)
	if err != nil {
		t.Fatal(err)
	}
	return d
}
