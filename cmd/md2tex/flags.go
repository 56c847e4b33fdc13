package main

import (
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"
)

// cliFlags holds all command-line flags.
type cliFlags struct {
	output       string
	workers      int
	timeout      string
	forceFigures bool
	offline      bool
	resolveOnly  bool
	logFormat    string
	quiet        bool
	verbose      bool
	version      bool
}

// parseFlags parses the command line and returns positional args.
func parseFlags(args []string) (*cliFlags, []string, error) {
	fs := flag.NewFlagSet("md2tex", flag.ContinueOnError)
	f := &cliFlags{}

	fs.StringVarP(&f.output, "output", "o", "", "output directory (default: alongside sources)")
	fs.IntVarP(&f.workers, "workers", "w", 0, "parallel figure builds (0 = auto)")
	fs.StringVarP(&f.timeout, "timeout", "t", "", "conversion timeout (e.g., 30s, 5m)")
	fs.BoolVar(&f.forceFigures, "force-figures", false, "rebuild every figure unit")
	fs.BoolVar(&f.offline, "offline", false, "no network access; metadata caches are read-only")
	fs.BoolVar(&f.resolveOnly, "resolve", false, "resolve cross-references in the given files only")
	fs.StringVar(&f.logFormat, "log-format", "text", "log format: text, json")
	fs.BoolVarP(&f.quiet, "quiet", "q", false, "only show errors")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "show debug logging")
	fs.BoolVar(&f.version, "version", false, "print version and exit")

	fs.Usage = func() { printUsage(os.Stderr, fs) }

	if err := fs.Parse(args[1:]); err != nil {
		return nil, nil, err
	}
	return f, fs.Args(), nil
}

// parseTimeout converts the timeout flag, empty meaning the default.
func (f *cliFlags) parseTimeout() (time.Duration, error) {
	if f.timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(f.timeout)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid timeout %q", f.timeout)
	}
	return d, nil
}

func printUsage(w *os.File, fs *flag.FlagSet) {
	fmt.Fprintln(w, "Usage: md2tex [flags] [project-dir]")
	fmt.Fprintln(w, "       md2tex --resolve [flags] file.md ...")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Converts a scientific-manuscript Markdown project to LaTeX.")
	fmt.Fprintln(w, "With no project-dir the current directory is used.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprint(w, fs.FlagUsages())
}
