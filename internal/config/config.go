// Package config loads the manuscript project configuration.
//
// A project directory holds a fixed file set: the configuration marker,
// the main content file, an optional supplementary content file, the
// bibliography source, and a FIGURES directory with one generation unit
// per subdirectory.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"md2tex/internal/yamlutil"
)

// Canonical manuscript file names. The configuration file doubles as the
// project-root marker for upward discovery.
const (
	FileName          = "00_CONFIG.yml"
	MainFile          = "01_MAIN.md"
	SupplementaryFile = "02_SUPPLEMENTARY_INFO.md"
	BibliographyFile  = "03_REFERENCES.bib"
	FiguresDir        = "FIGURES"
	CacheDir          = ".md2tex"
)

// Sentinel errors for config operations.
var (
	ErrNotFound = errors.New("manuscript config not found")
	ErrParse    = errors.New("failed to parse manuscript config")
)

// Manuscript is the structured metadata of a project.
type Manuscript struct {
	Title        string        `yaml:"title"`
	ShortTitle   string        `yaml:"short_title,omitempty"`
	Authors      []Author      `yaml:"authors,omitempty"`
	Affiliations []Affiliation `yaml:"affiliations,omitempty"`
	Keywords     []string      `yaml:"keywords,omitempty"`
	Bibliography string        `yaml:"bibliography,omitempty"`
	Date         string        `yaml:"date,omitempty"`
	License      string        `yaml:"license,omitempty"`
}

// Author is one manuscript author with affiliation shorthands.
type Author struct {
	Name          string   `yaml:"name"`
	Affiliations  []string `yaml:"affiliations,omitempty"`
	Email         string   `yaml:"email,omitempty"`
	ORCID         string   `yaml:"orcid,omitempty"`
	Corresponding bool     `yaml:"corresponding,omitempty"`
}

// Affiliation maps a shorthand to a full institution string.
type Affiliation struct {
	Shorthand string `yaml:"shorthand"`
	FullName  string `yaml:"full_name"`
}

// BibliographyPath resolves the bibliography source relative to root,
// defaulting to the canonical file name.
func (m *Manuscript) BibliographyPath(root string) string {
	name := m.Bibliography
	if name == "" {
		name = BibliographyFile
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(root, name)
}

// Load reads the project configuration from root.
func Load(root string) (*Manuscript, error) {
	path := filepath.Join(root, FileName)
	data, err := os.ReadFile(path) // #nosec G304 -- path is derived from the user's project root
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var m Manuscript
	if err := yamlutil.UnmarshalStrict(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return &m, nil
}
