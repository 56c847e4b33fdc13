package md2tex

import "errors"

// Sentinel errors for library operations.
var (
	ErrNoProject    = errors.New("no manuscript project found")
	ErrEmptyFileSet = errors.New("no manuscript content files to convert")
	ErrConfigLoad   = errors.New("manuscript config could not be loaded")
)
