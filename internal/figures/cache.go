package figures

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"md2tex/internal/diag"
	"md2tex/internal/fileutil"
)

const cacheFileName = "figure-cache.json"

// cacheEntry records the last successful build of one unit.
type cacheEntry struct {
	Digest    string    `json:"digest"`
	Outputs   []string  `json:"outputs,omitempty"`
	LastBuilt time.Time `json:"last_built"`
}

// Cache maps unit IDs to the input digest of their last successful build.
// It persists as JSON under the project cache directory; a corrupted or
// unreadable file degrades to a full miss so every unit rebuilds.
type Cache struct {
	mu      sync.Mutex
	path    string
	entries map[string]cacheEntry
}

// OpenCache loads the figure cache from cacheDir. Corruption is reported
// as a warning diagnostic, never an error: the cache is an optimization
// and a damaged one only costs a rebuild.
func OpenCache(cacheDir string) (*Cache, []diag.Diagnostic) {
	c := &Cache{
		path:    filepath.Join(cacheDir, cacheFileName),
		entries: make(map[string]cacheEntry),
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return c, nil // missing cache is a normal first run
	}
	if err := json.Unmarshal(data, &c.entries); err != nil {
		c.entries = make(map[string]cacheEntry)
		return c, []diag.Diagnostic{diag.Warnf(diag.KindCacheCorruption, c.path, 0,
			"figure cache unreadable, rebuilding all units: %v", err)}
	}
	return c, nil
}

// Fresh reports whether the unit's recorded digest matches digest.
func (c *Cache) Fresh(unitID, digest string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[unitID]
	return ok && entry.Digest == digest
}

// Record stores the digest of a successful build.
func (c *Cache) Record(unitID, digest string, outputs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[unitID] = cacheEntry{Digest: digest, Outputs: outputs, LastBuilt: time.Now()}
}

// Forget drops a unit's entry, forcing its next build.
func (c *Cache) Forget(unitID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, unitID)
}

// Save persists the cache atomically.
func (c *Cache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding figure cache: %w", err)
	}
	if err := fileutil.WriteAtomic(c.path, data, 0o644); err != nil {
		return fmt.Errorf("writing figure cache: %w", err)
	}
	return nil
}

// Digest computes the content digest of a unit: every input file's name
// and content, plus the generation flags. Flags participate so changing
// them invalidates prior builds, while a force rebuild is handled outside
// the digest and never poisons it.
func Digest(u Unit, flags []string) (string, error) {
	h := blake3.New()
	for _, path := range u.Inputs() {
		// Names separate file contents so moving bytes between files
		// cannot collide.
		_, _ = io.WriteString(h, filepath.Base(path))
		_, _ = h.Write([]byte{0})
		if err := hashFile(h, path); err != nil {
			return "", err
		}
		_, _ = h.Write([]byte{0})
	}
	for _, flag := range flags {
		_, _ = io.WriteString(h, flag)
		_, _ = h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

func hashFile(h *blake3.Hasher, path string) error {
	f, err := os.Open(path) // #nosec G304 -- paths come from unit discovery
	if err != nil {
		return fmt.Errorf("hashing %s: %w", path, err)
	}
	defer f.Close()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("hashing %s: %w", path, err)
	}
	return nil
}
