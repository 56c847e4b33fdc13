package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/automaxprocs/maxprocs"

	"md2tex/internal/logging"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Exit codes: 0 clean, 1 error diagnostics, 2 fatal.
const (
	exitOK          = 0
	exitDiagnostics = 1
	exitFatal       = 2
)

func main() {
	flags, args, err := parseFlags(os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitFatal)
	}

	if flags.version {
		fmt.Println("md2tex", Version)
		os.Exit(exitOK)
	}

	level := slog.LevelInfo
	switch {
	case flags.verbose:
		level = slog.LevelDebug
	case flags.quiet:
		level = slog.LevelError
	}
	logging.Init(level, flags.logFormat)

	// Error ignored: maxprocs.Set only fails if GOMAXPROCS env is invalid,
	// in which case Go runtime defaults apply and the program continues.
	_, _ = maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
		slog.Debug(fmt.Sprintf(format, args...))
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, flags, args))
}
