package main

import (
	"testing"
	"time"
)

func TestParseFlags(t *testing.T) {
	t.Parallel()

	flags, args, err := parseFlags([]string{"md2tex",
		"--workers", "4", "--offline", "--force-figures",
		"-o", "out", "--timeout", "2m", "proj"})
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}

	if flags.workers != 4 {
		t.Errorf("workers = %d, want 4", flags.workers)
	}
	if !flags.offline || !flags.forceFigures {
		t.Error("boolean flags not set")
	}
	if flags.output != "out" {
		t.Errorf("output = %q", flags.output)
	}
	if len(args) != 1 || args[0] != "proj" {
		t.Errorf("args = %v, want [proj]", args)
	}

	timeout, err := flags.parseTimeout()
	if err != nil {
		t.Fatalf("parseTimeout() error = %v", err)
	}
	if timeout != 2*time.Minute {
		t.Errorf("timeout = %v, want 2m", timeout)
	}
}

func TestParseFlagsDefaults(t *testing.T) {
	t.Parallel()

	flags, args, err := parseFlags([]string{"md2tex"})
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if flags.workers != 0 || flags.offline || flags.resolveOnly {
		t.Errorf("unexpected defaults: %+v", flags)
	}
	if len(args) != 0 {
		t.Errorf("args = %v, want none", args)
	}
	if timeout, err := flags.parseTimeout(); err != nil || timeout != 0 {
		t.Errorf("parseTimeout() = %v, %v; want 0, nil", timeout, err)
	}
}

func TestParseTimeoutInvalid(t *testing.T) {
	t.Parallel()

	for _, bad := range []string{"nonsense", "-5s", "0s"} {
		f := &cliFlags{timeout: bad}
		if _, err := f.parseTimeout(); err == nil {
			t.Errorf("parseTimeout(%q) accepted invalid value", bad)
		}
	}
}
