package md2tex

import (
	"time"

	"md2tex/internal/figures"
)

// Result is the outcome of a project conversion.
type Result struct {
	// Files maps each source path to its converted LaTeX text, best-effort:
	// a file whose protection failed is absent, everything else is present
	// even when diagnostics were raised for it.
	Files map[string]string

	// FileOrder lists the converted files in build order.
	FileOrder []string

	// Diagnostics collects every non-fatal finding, sorted by file and line.
	Diagnostics []Diagnostic

	// Figures describes the figure units that were checked or rebuilt.
	Figures []figures.BuildResult
}

// Option configures a Service.
type Option func(*Service)

// serviceConfig holds internal configuration for Service.
type serviceConfig struct {
	workers      int
	offline      bool
	forceFigures bool
	figureFlags  []string
	timeout      time.Duration
}

// defaultTimeout bounds one full project conversion including figure
// script execution.
const defaultTimeout = 5 * time.Minute

// WithWorkers sets the figure build worker count. Zero selects an
// automatic size derived from GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(s *Service) {
		s.cfg.workers = n
	}
}

// WithOffline disables all network access; the metadata caches become
// read-only and a cache miss leaves a citation unverified.
func WithOffline(offline bool) Option {
	return func(s *Service) {
		s.cfg.offline = offline
	}
}

// WithForceFigures rebuilds every figure unit regardless of cache state.
func WithForceFigures(force bool) Option {
	return func(s *Service) {
		s.cfg.forceFigures = force
	}
}

// WithFigureFlags sets generation flags passed to figure scripts. Flags
// participate in the unit digest, so changing them invalidates prior
// builds.
func WithFigureFlags(flags []string) Option {
	return func(s *Service) {
		s.cfg.figureFlags = flags
	}
}

// WithTimeout sets the conversion timeout.
// Panics if d <= 0 (programmer error, similar to time.NewTicker).
func WithTimeout(d time.Duration) Option {
	if d <= 0 {
		panic("md2tex: WithTimeout duration must be positive")
	}
	return func(s *Service) {
		s.cfg.timeout = d
	}
}

// WithCommandRunner replaces the subprocess runner used for figure
// scripts, mainly for tests.
func WithCommandRunner(r figures.CommandRunner) Option {
	return func(s *Service) {
		s.runner = r
	}
}
