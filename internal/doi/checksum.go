package doi

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"

	"md2tex/internal/fileutil"
)

type checksumRecord struct {
	Digest string `json:"digest"`
}

// BibDigest computes the content digest of a bibliography source file.
func BibDigest(bibPath string) (string, error) {
	f, err := os.Open(bibPath) // #nosec G304 -- path comes from the manuscript config
	if err != nil {
		return "", fmt.Errorf("hashing bibliography: %w", err)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing bibliography: %w", err)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// BibUnchanged reports whether the bibliography digest matches the one
// recorded in cacheDir. A missing or unreadable record means changed, so
// validation reruns.
func BibUnchanged(cacheDir, bibPath string) (bool, error) {
	digest, err := BibDigest(bibPath)
	if err != nil {
		return false, err
	}

	data, err := os.ReadFile(filepath.Join(cacheDir, checksumFileName)) // #nosec G304
	if err != nil {
		return false, nil
	}
	var rec checksumRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return false, nil
	}
	return rec.Digest == digest, nil
}

// RecordBibChecksum stores the bibliography digest after a completed
// validation pass.
func RecordBibChecksum(cacheDir, bibPath string) error {
	digest, err := BibDigest(bibPath)
	if err != nil {
		return err
	}
	data, err := json.Marshal(checksumRecord{Digest: digest})
	if err != nil {
		return fmt.Errorf("encoding bibliography checksum: %w", err)
	}
	return fileutil.WriteAtomic(filepath.Join(cacheDir, checksumFileName), data, 0o644)
}
