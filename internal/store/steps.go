package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/ibeckermayer/xhscollect/internal/config"
)

// Kind identifies a cache subdirectory.
type Kind string

const (
	KindSnapshots Kind = "snapshots"
	KindReports   Kind = "reports"
)

// ErrNoCache is returned when a cache directory holds no files.
var ErrNoCache = errors.New("no cached output")

// Cache is a directory of timestamped files, one subdirectory per kind.
type Cache struct {
	root string
	now  func() time.Time
}

// NewCache creates a cache rooted at root.
func NewCache(root string) *Cache {
	return &Cache{root: root, now: time.Now}
}

// DefaultCache returns the cache under the user cache directory.
func DefaultCache() (*Cache, error) {
	dir, err := config.CacheDir()
	if err != nil {
		return nil, err
	}
	return NewCache(dir), nil
}

// dir returns the cache directory for a given kind.
func (c *Cache) dir(kind Kind) string {
	return filepath.Join(c.root, string(kind))
}

// filename creates a timestamped filename with the given extension. Names sort
// chronologically.
func (c *Cache) filename(ext string) string {
	return c.now().UTC().Format("2006-01-02T15-04-05.000000000") + ext
}

// SaveJSON saves JSON-serializable data to the kind's cache directory.
// Returns the path to the saved file.
func SaveJSON[T any](c *Cache, kind Kind, data T) (string, error) {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	return c.SaveText(kind, string(jsonData), ".json")
}

// SaveText saves text content to the kind's cache directory.
// Returns the path to the saved file.
func (c *Cache) SaveText(kind Kind, content string, ext string) (string, error) {
	dir := c.dir(kind)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create cache dir: %w", err)
	}

	path := filepath.Join(dir, c.filename(ext))
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to write cache entry: %w", err)
	}

	return path, nil
}

// LoadLatestJSON loads the most recent entry of a kind.
// Returns the data, the filepath it was loaded from, and any error.
func LoadLatestJSON[T any](c *Cache, kind Kind) (T, string, error) {
	var zero T

	latestPath, err := c.Latest(kind)
	if err != nil {
		return zero, "", err
	}

	data, err := LoadJSON[T](latestPath)
	if err != nil {
		return zero, "", err
	}

	return data, latestPath, nil
}

// LoadJSON loads JSON data from a specific file path.
func LoadJSON[T any](path string) (T, error) {
	var data T

	jsonData, err := os.ReadFile(path)
	if err != nil {
		return data, fmt.Errorf("failed to read cache entry: %w", err)
	}

	if err := json.Unmarshal(jsonData, &data); err != nil {
		return data, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}

	return data, nil
}

// Latest returns the path to the most recent file of a kind.
func (c *Cache) Latest(kind Kind) (string, error) {
	dir := c.dir(kind)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w for %s", ErrNoCache, kind)
		}
		return "", err
	}

	// os.ReadDir sorts by name, which is chronological for our timestamps
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() {
			files = append(files, entry.Name())
		}
	}

	if len(files) == 0 {
		return "", fmt.Errorf("%w for %s", ErrNoCache, kind)
	}

	return filepath.Join(dir, files[len(files)-1]), nil
}

// SaveSnapshot caches the modal HTML of a run.
func (c *Cache) SaveSnapshot(s Snapshot) (string, error) {
	if s.CapturedAt.IsZero() {
		s.CapturedAt = c.now()
	}
	return SaveJSON(c, KindSnapshots, s)
}

// LatestSnapshot returns the most recently cached modal HTML.
func (c *Cache) LatestSnapshot() (Snapshot, string, error) {
	return LoadLatestJSON[Snapshot](c, KindSnapshots)
}
