// Package figures implements the content-addressed figure build cache and
// the bounded worker pool that re-executes stale generation units.
//
// A generation unit is one FIGURES subdirectory holding a script plus its
// data files. The unit's digest covers the script content, every tracked
// data file, and the generation flags; any single-byte change triggers
// regeneration while an unchanged unit is never redundantly rebuilt.
package figures

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Sentinel errors for figure unit discovery.
var (
	ErrNoScript        = errors.New("figure unit has no generation script")
	ErrMultipleScripts = errors.New("figure unit has multiple generation scripts")
)

// Script extensions recognized as generation entry points, with the
// interpreter each maps to.
var interpreters = map[string][]string{
	".py":  {"python3"},
	".R":   {"Rscript"},
	".mmd": {"mmdc", "-i"},
}

// Output extensions, excluded from a unit's tracked inputs.
var outputExtensions = map[string]bool{
	".pdf": true,
	".png": true,
	".svg": true,
	".eps": true,
}

// Unit is one figure-generation unit.
type Unit struct {
	ID        string // subdirectory name
	Dir       string
	Script    string   // absolute path of the generation script
	DataFiles []string // tracked inputs, sorted for deterministic digests
}

// Command returns the interpreter argv for executing the unit's script.
func (u Unit) Command() []string {
	argv := append([]string{}, interpreters[filepath.Ext(u.Script)]...)
	return append(argv, u.Script)
}

// Inputs returns every content source the digest must cover: the script
// first, then the data files.
func (u Unit) Inputs() []string {
	return append([]string{u.Script}, u.DataFiles...)
}

// Outputs returns the generated files currently present in the unit's
// directory.
func (u Unit) Outputs() ([]string, error) {
	entries, err := os.ReadDir(u.Dir)
	if err != nil {
		return nil, fmt.Errorf("reading unit directory: %w", err)
	}
	var outs []string
	for _, e := range entries {
		if !e.IsDir() && outputExtensions[filepath.Ext(e.Name())] {
			outs = append(outs, filepath.Join(u.Dir, e.Name()))
		}
	}
	sort.Strings(outs)
	return outs, nil
}

// Discover scans the figures directory and returns one unit per
// subdirectory containing a generation script. Subdirectories without a
// script are skipped (static assets); a subdirectory with several scripts
// is an error since the build order would be ambiguous.
func Discover(figuresDir string) ([]Unit, error) {
	entries, err := os.ReadDir(figuresDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading figures directory: %w", err)
	}

	var units []Unit
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		dir := filepath.Join(figuresDir, e.Name())
		unit, err := scanUnit(e.Name(), dir)
		if err != nil {
			if errors.Is(err, ErrNoScript) {
				continue
			}
			return nil, err
		}
		units = append(units, unit)
	}

	sort.Slice(units, func(i, j int) bool { return units[i].ID < units[j].ID })
	return units, nil
}

func scanUnit(id, dir string) (Unit, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Unit{}, fmt.Errorf("reading unit %s: %w", id, err)
	}

	unit := Unit{ID: id, Dir: dir}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		ext := filepath.Ext(e.Name())
		switch {
		case interpreters[ext] != nil:
			if unit.Script != "" {
				return Unit{}, fmt.Errorf("%w: %s", ErrMultipleScripts, id)
			}
			unit.Script = path
		case !outputExtensions[ext]:
			unit.DataFiles = append(unit.DataFiles, path)
		}
	}

	if unit.Script == "" {
		return Unit{}, fmt.Errorf("%w: %s", ErrNoScript, id)
	}
	sort.Strings(unit.DataFiles)
	return unit, nil
}
