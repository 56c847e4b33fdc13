package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"md2tex"
)

// run executes the conversion and returns the process exit code.
func run(ctx context.Context, flags *cliFlags, args []string) int {
	timeout, err := flags.parseTimeout()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFatal
	}

	opts := []md2tex.Option{
		md2tex.WithWorkers(flags.workers),
		md2tex.WithOffline(flags.offline),
		md2tex.WithForceFigures(flags.forceFigures),
	}
	if timeout > 0 {
		opts = append(opts, md2tex.WithTimeout(timeout))
	}
	svc := md2tex.New(opts...)

	var result *md2tex.Result
	if flags.resolveOnly {
		if len(args) == 0 {
			fmt.Fprintln(os.Stderr, "md2tex: --resolve needs at least one file")
			return exitFatal
		}
		result, err = svc.ResolveReferences(ctx, absPaths(args))
	} else {
		dir := "."
		if len(args) > 0 {
			dir = args[0]
		}
		result, err = svc.Convert(ctx, dir)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "md2tex:", err)
		return exitFatal
	}

	if err := writeOutputs(result, flags.output); err != nil {
		fmt.Fprintln(os.Stderr, "md2tex:", err)
		return exitFatal
	}

	for _, d := range result.Diagnostics {
		fmt.Fprintln(os.Stderr, d)
	}
	if md2tex.HasErrors(result.Diagnostics) {
		return exitDiagnostics
	}
	slog.Debug("conversion complete", "files", len(result.FileOrder),
		"figures", len(result.Figures), "diagnostics", len(result.Diagnostics))
	return exitOK
}

// writeOutputs writes each converted file next to its source, or under
// outDir when set, swapping the .md extension for .tex.
func writeOutputs(result *md2tex.Result, outDir string) error {
	for _, src := range result.FileOrder {
		dst := strings.TrimSuffix(src, filepath.Ext(src)) + ".tex"
		if outDir != "" {
			dst = filepath.Join(outDir, filepath.Base(dst))
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("creating output directory: %w", err)
			}
		}
		if err := os.WriteFile(dst, []byte(result.Files[src]), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", dst, err)
		}
	}
	return nil
}

// absPaths normalizes the given paths so project-root discovery works
// regardless of the invocation directory.
func absPaths(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		out[i] = abs
	}
	return out
}
