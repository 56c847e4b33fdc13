package labels

import (
	"os"
	"path/filepath"

	"md2tex/internal/config"
)

// FindProjectRoot walks upward from startDir looking for the project
// configuration marker, stopping at the filesystem root. The boolean is
// false when no marker was found; callers then fall back to searching only
// the starting directory (single-file editing context).
func FindProjectRoot(startDir string) (string, bool) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false
	}
	for {
		marker := filepath.Join(dir, config.FileName)
		if info, err := os.Stat(marker); err == nil && !info.IsDir() {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// ProjectFiles returns the canonical manuscript content files that exist
// under root, in build order. The supplementary file path is returned
// separately so collection can apply file-role inference.
func ProjectFiles(root string) (files []string, supplementary string) {
	main := filepath.Join(root, config.MainFile)
	if fileExists(main) {
		files = append(files, main)
	}
	supp := filepath.Join(root, config.SupplementaryFile)
	if fileExists(supp) {
		files = append(files, supp)
		supplementary = supp
	}
	return files, supplementary
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
