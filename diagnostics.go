package md2tex

import "md2tex/internal/diag"

// Diagnostic is a single user-facing finding with its source location.
type Diagnostic = diag.Diagnostic

// Severity classifies how a diagnostic should be presented.
type Severity = diag.Severity

// Severity levels.
const (
	SeverityWarning = diag.SeverityWarning
	SeverityError   = diag.SeverityError
)

// HasErrors reports whether any diagnostic carries error severity.
func HasErrors(ds []Diagnostic) bool {
	return diag.HasErrors(ds)
}
