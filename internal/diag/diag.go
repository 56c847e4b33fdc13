// Package diag defines the diagnostic records collected during a build.
//
// Every non-fatal problem (a malformed citation, a duplicate label, an
// unreachable metadata service) becomes a Diagnostic instead of an error so
// a single issue never aborts an otherwise successful conversion run.
package diag

import (
	"fmt"
	"sort"
)

// Severity classifies how a diagnostic should be presented.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

// String returns the lowercase name of the severity.
func (s Severity) String() string {
	if s == SeverityError {
		return "error"
	}
	return "warning"
}

// Kind identifies which subsystem produced a diagnostic.
type Kind string

const (
	KindProtection      Kind = "protection"
	KindConversion      Kind = "conversion"
	KindLabel           Kind = "label"
	KindReference       Kind = "reference"
	KindCacheCorruption Kind = "cache-corruption"
	KindMetadataService Kind = "metadata-service"
)

// Diagnostic is a single user-facing finding with its source location.
// Line is 1-based; a zero Line means the location is not line-addressable
// (e.g. a corrupted cache file).
type Diagnostic struct {
	Severity Severity
	Kind     Kind
	File     string
	Line     int
	Message  string
}

// String formats the diagnostic for terminal output.
func (d Diagnostic) String() string {
	if d.Line > 0 {
		return fmt.Sprintf("%s:%d: %s: [%s] %s", d.File, d.Line, d.Severity, d.Kind, d.Message)
	}
	if d.File != "" {
		return fmt.Sprintf("%s: %s: [%s] %s", d.File, d.Severity, d.Kind, d.Message)
	}
	return fmt.Sprintf("%s: [%s] %s", d.Severity, d.Kind, d.Message)
}

// Errorf builds an error-severity diagnostic.
func Errorf(kind Kind, file string, line int, format string, args ...any) Diagnostic {
	return Diagnostic{
		Severity: SeverityError,
		Kind:     kind,
		File:     file,
		Line:     line,
		Message:  fmt.Sprintf(format, args...),
	}
}

// Warnf builds a warning-severity diagnostic.
func Warnf(kind Kind, file string, line int, format string, args ...any) Diagnostic {
	return Diagnostic{
		Severity: SeverityWarning,
		Kind:     kind,
		File:     file,
		Line:     line,
		Message:  fmt.Sprintf(format, args...),
	}
}

// Sort orders diagnostics by file, then line, for stable reporting.
func Sort(ds []Diagnostic) {
	sort.SliceStable(ds, func(i, j int) bool {
		if ds[i].File != ds[j].File {
			return ds[i].File < ds[j].File
		}
		return ds[i].Line < ds[j].Line
	})
}

// HasErrors reports whether any diagnostic carries error severity.
func HasErrors(ds []Diagnostic) bool {
	for _, d := range ds {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}
