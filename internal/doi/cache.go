// Package doi caches externally verified citation metadata.
//
// Two stores with independent TTLs sit side by side: the metadata cache
// holds Crossref payloads per DOI, the resolution cache holds the bare
// did-it-resolve status per DOI. Both expire transparently on read, so an
// entry past its TTL behaves exactly like a miss. The caches are
// time-invalidated, unlike the content-addressed figure cache, which is
// why they live in a separate store.
package doi

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"md2tex/internal/diag"
	"md2tex/internal/fileutil"
)

// Default TTLs. Metadata changes rarely; resolution failures are retried
// sooner so a transient outage does not suppress verification for a month.
const (
	DefaultMetadataTTL   = 30 * 24 * time.Hour
	DefaultResolutionTTL = 7 * 24 * time.Hour
)

const (
	metadataFileName   = "doi-metadata.json"
	resolutionFileName = "doi-resolution.json"
	checksumFileName   = "bib-checksum.json"
)

// metadataEntry is one cached Crossref payload.
type metadataEntry struct {
	Payload   json.RawMessage `json:"payload"`
	FetchedAt time.Time       `json:"fetchedAt"`
	TTL       time.Duration   `json:"ttl"`
}

// resolutionEntry is one cached doi.org resolution outcome.
type resolutionEntry struct {
	Resolves  bool          `json:"resolves"`
	Error     string        `json:"error,omitempty"`
	FetchedAt time.Time     `json:"fetchedAt"`
	TTL       time.Duration `json:"ttl"`
}

type cacheState struct {
	Metadata   map[string]metadataEntry   `json:"metadata"`
	Resolution map[string]resolutionEntry `json:"resolution"`
}

// Resolution is the cached resolution status returned to callers.
type Resolution struct {
	Resolves bool
	Error    string
}

// Cache is the persistent DOI cache. The clock is injectable so expiry is
// testable without sleeping.
type Cache struct {
	mu            sync.Mutex
	dir           string
	state         cacheState
	metadataTTL   time.Duration
	resolutionTTL time.Duration
	now           func() time.Time
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithMetadataTTL overrides the metadata TTL applied to new entries.
func WithMetadataTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) { c.metadataTTL = ttl }
}

// WithResolutionTTL overrides the resolution-status TTL applied to new
// entries.
func WithResolutionTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) { c.resolutionTTL = ttl }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// OpenCache loads both stores from cacheDir. As with the figure cache, a
// corrupted store degrades to empty with a warning diagnostic.
func OpenCache(cacheDir string, opts ...CacheOption) (*Cache, []diag.Diagnostic) {
	c := &Cache{
		dir:           cacheDir,
		metadataTTL:   DefaultMetadataTTL,
		resolutionTTL: DefaultResolutionTTL,
		now:           time.Now,
	}
	c.state.Metadata = make(map[string]metadataEntry)
	c.state.Resolution = make(map[string]resolutionEntry)
	for _, opt := range opts {
		opt(c)
	}

	var diags []diag.Diagnostic
	if d := loadStore(filepath.Join(cacheDir, metadataFileName), &c.state.Metadata); d != nil {
		c.state.Metadata = make(map[string]metadataEntry)
		diags = append(diags, *d)
	}
	if d := loadStore(filepath.Join(cacheDir, resolutionFileName), &c.state.Resolution); d != nil {
		c.state.Resolution = make(map[string]resolutionEntry)
		diags = append(diags, *d)
	}
	return c, diags
}

func loadStore[T any](path string, dst *map[string]T) *diag.Diagnostic {
	data, err := os.ReadFile(path) // #nosec G304 -- path is under the project cache dir
	if err != nil {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		d := diag.Warnf(diag.KindCacheCorruption, path, 0,
			"metadata cache unreadable, treating as empty: %v", err)
		return &d
	}
	return nil
}

// Get returns the cached metadata payload for a DOI. An expired entry is
// reported absent.
func (c *Cache) Get(doi string) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.state.Metadata[doi]
	if !ok || c.expired(entry.FetchedAt, entry.TTL) {
		return nil, false
	}
	return entry.Payload, true
}

// Put stores a metadata payload with the configured TTL.
func (c *Cache) Put(doi string, payload json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Metadata[doi] = metadataEntry{
		Payload:   payload,
		FetchedAt: c.now(),
		TTL:       c.metadataTTL,
	}
}

// GetResolution returns the cached resolution status for a DOI, expiry
// applied.
func (c *Cache) GetResolution(doi string) (Resolution, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.state.Resolution[doi]
	if !ok || c.expired(entry.FetchedAt, entry.TTL) {
		return Resolution{}, false
	}
	return Resolution{Resolves: entry.Resolves, Error: entry.Error}, true
}

// PutResolution stores a resolution outcome with the configured TTL.
func (c *Cache) PutResolution(doi string, resolves bool, errMsg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Resolution[doi] = resolutionEntry{
		Resolves:  resolves,
		Error:     errMsg,
		FetchedAt: c.now(),
		TTL:       c.resolutionTTL,
	}
}

// Save persists both stores atomically, dropping entries that already
// expired so the files do not grow without bound.
func (c *Cache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for doi, e := range c.state.Metadata {
		if c.expired(e.FetchedAt, e.TTL) {
			delete(c.state.Metadata, doi)
		}
	}
	for doi, e := range c.state.Resolution {
		if c.expired(e.FetchedAt, e.TTL) {
			delete(c.state.Resolution, doi)
		}
	}

	if err := saveStore(filepath.Join(c.dir, metadataFileName), c.state.Metadata); err != nil {
		return err
	}
	return saveStore(filepath.Join(c.dir, resolutionFileName), c.state.Resolution)
}

func saveStore[T any](path string, src map[string]T) error {
	data, err := json.MarshalIndent(src, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding metadata cache: %w", err)
	}
	if err := fileutil.WriteAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("writing metadata cache: %w", err)
	}
	return nil
}

func (c *Cache) expired(fetchedAt time.Time, ttl time.Duration) bool {
	return c.now().Sub(fetchedAt) > ttl
}
