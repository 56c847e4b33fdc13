package figures

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"md2tex/internal/logging"
)

// Worker pool sizing constants.
const (
	// MinWorkers ensures at least one build runs.
	MinWorkers = 1

	// MaxWorkers caps concurrent interpreter processes.
	MaxWorkers = 8

	// cpuDivisor leaves headroom for the interpreters' own threads.
	cpuDivisor = 2
)

// ErrBuildFailed wraps a script that exited non-zero.
var ErrBuildFailed = errors.New("figure build failed")

// CommandRunner abstracts script execution to enable testing without real
// subprocesses.
type CommandRunner interface {
	Run(ctx context.Context, dir string, name string, args ...string) (stdout string, stderr string, err error)
}

// ExecRunner implements CommandRunner using os/exec.
type ExecRunner struct{}

func (r *ExecRunner) Run(ctx context.Context, dir string, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// BuildResult describes the outcome for one unit. A failed build carries
// its error in Err and empty Outputs; successful sibling units are
// unaffected.
type BuildResult struct {
	Unit    Unit
	Rebuilt bool
	Outputs []string
	Err     error
}

// Builder decides per unit whether the cached digest is current and
// re-executes only stale units, at most workers at a time. Concurrent
// requests for the same unit are coalesced so a script never runs twice
// for one digest.
type Builder struct {
	cache   *Cache
	runner  CommandRunner
	log     *slog.Logger
	workers int
	flags   []string
	force   bool
	group   singleflight.Group
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithRunner replaces the subprocess runner.
func WithRunner(r CommandRunner) BuilderOption {
	return func(b *Builder) { b.runner = r }
}

// WithWorkers sets an explicit worker count; zero keeps the automatic
// sizing.
func WithWorkers(n int) BuilderOption {
	return func(b *Builder) { b.workers = ResolveWorkers(n) }
}

// WithFlags sets the generation flags that participate in unit digests.
func WithFlags(flags []string) BuilderOption {
	return func(b *Builder) { b.flags = flags }
}

// WithForce rebuilds every unit regardless of cache state. The recorded
// digests are still the content digests, so a forced run does not poison
// later incremental runs.
func WithForce(force bool) BuilderOption {
	return func(b *Builder) { b.force = force }
}

// NewBuilder creates a Builder backed by cache.
func NewBuilder(cache *Cache, opts ...BuilderOption) *Builder {
	b := &Builder{
		cache:   cache,
		runner:  &ExecRunner{},
		log:     logging.New("figures"),
		workers: ResolveWorkers(0),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// BuildAll brings every unit up to date. Units build independently: a
// failing script lands in its result's Err field and never cancels or
// discards the sibling builds. The returned error reports context
// cancellation only.
func (b *Builder) BuildAll(ctx context.Context, units []Unit) ([]BuildResult, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)

	var mu sync.Mutex
	results := make([]BuildResult, 0, len(units))

	for _, unit := range units {
		unit := unit
		g.Go(func() error {
			res, err := b.Build(gctx, unit)
			if err != nil {
				res = BuildResult{Unit: unit, Err: err}
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait() // goroutines only report through results
	sort.Slice(results, func(i, j int) bool { return results[i].Unit.ID < results[j].Unit.ID })
	return results, ctx.Err()
}

// Build brings one unit up to date, executing its script only when the
// input digest differs from the cached one.
func (b *Builder) Build(ctx context.Context, unit Unit) (BuildResult, error) {
	v, err, _ := b.group.Do(unit.ID, func() (any, error) {
		return b.build(ctx, unit)
	})
	if err != nil {
		return BuildResult{}, err
	}
	return v.(BuildResult), nil
}

func (b *Builder) build(ctx context.Context, unit Unit) (BuildResult, error) {
	digest, err := Digest(unit, b.flags)
	if err != nil {
		return BuildResult{}, err
	}

	if !b.force && b.cache.Fresh(unit.ID, digest) {
		outputs, err := unit.Outputs()
		if err != nil {
			return BuildResult{}, err
		}
		b.log.Debug("figure unit up to date", "unit", unit.ID)
		return BuildResult{Unit: unit, Outputs: outputs}, nil
	}

	argv := unit.Command()
	b.log.Info("building figure unit", "unit", unit.ID, "script", unit.Script)
	_, stderr, err := b.runner.Run(ctx, unit.Dir, argv[0], argv[1:]...)
	if err != nil {
		b.cache.Forget(unit.ID)
		return BuildResult{}, fmt.Errorf("%w: unit %s: %v: %s", ErrBuildFailed, unit.ID, err, stderr)
	}

	outputs, err := unit.Outputs()
	if err != nil {
		return BuildResult{}, err
	}
	b.cache.Record(unit.ID, digest, outputs)
	return BuildResult{Unit: unit, Rebuilt: true, Outputs: outputs}, nil
}

// ResolveWorkers determines the worker count.
// Priority: explicit workers > GOMAXPROCS-based calculation.
func ResolveWorkers(workers int) int {
	if workers > 0 {
		return workers
	}

	available := runtime.GOMAXPROCS(0)
	n := available / cpuDivisor

	if n < MinWorkers {
		return MinWorkers
	}
	if n > MaxWorkers {
		return MaxWorkers
	}
	return n
}
