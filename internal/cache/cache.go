// Package cache implements the controller's content-addressed object cache
// (spec.md §4.1): a directory tree of oid -> {data, hash, log, failed?}
// shards, with a single mutex serializing the in-memory index exactly the
// way the teacher's boxer/mux state is serialized by one lock per subsystem.
package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/azonenberg/splash-build-system-sub000/internal/oid"
	"github.com/azonenberg/splash-build-system-sub000/internal/splasherr"
)

// State is the lifecycle state of a cache entry (spec.md §3).
type State int

const (
	Missing State = iota
	Ready
	Failed
	Building
)

func (s State) String() string {
	switch s {
	case Ready:
		return "READY"
	case Failed:
		return "FAILED"
	case Building:
		return "BUILDING"
	default:
		return "MISSING"
	}
}

const (
	dataFile   = "data"
	hashFile   = "hash"
	logFile    = "log"
	failedFile = "failed"
)

// Cache is the on-disk, content-addressed object store described in
// spec.md §4.1. The zero value is not usable; construct with Open.
type Cache struct {
	name string
	root string

	mu      sync.Mutex
	ready   map[string]bool
	failed  map[string]bool
	building map[string]bool
}

// Open loads (or creates) the cache directory "$HOME/.splash/cache-<name>/"
// and performs the startup scan: walk shard directories, read only the hash
// file of each, and register it without a full Validate (deferred to first
// access), matching the original Cache constructor's lazy-validate behavior.
func Open(ctx context.Context, name string) (*Cache, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("cache: resolve home dir: %w", err)
	}
	root := filepath.Join(home, ".splash", "cache-"+name)
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("cache: create cache dir: %w", err)
	}

	c := &Cache{
		name:    name,
		root:    root,
		ready:   map[string]bool{},
		failed:  map[string]bool{},
		building: map[string]bool{},
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("cache: scan cache dir: %w", err)
	}
	loaded := 0
	for _, shard := range entries {
		if !shard.IsDir() {
			continue
		}
		shardPath := filepath.Join(root, shard.Name())
		oidDirs, err := os.ReadDir(shardPath)
		if err != nil {
			slog.WarnContext(ctx, "cache: failed to scan shard", "shard", shard.Name(), "error", err)
			continue
		}
		for _, od := range oidDirs {
			if !od.IsDir() {
				continue
			}
			id := od.Name()
			dir := filepath.Join(shardPath, id)
			if _, err := os.Stat(filepath.Join(dir, failedFile)); err == nil {
				c.failed[id] = true
				loaded++
				continue
			}
			if _, err := os.Stat(filepath.Join(dir, hashFile)); err != nil {
				slog.WarnContext(ctx, "cache: discarding corrupt entry (no hash file)", "oid", id)
				os.RemoveAll(dir)
				continue
			}
			c.ready[id] = true
			loaded++
		}
	}
	slog.InfoContext(ctx, "cache: opened", "name", name, "root", root, "entries", loaded)
	return c, nil
}

func (c *Cache) storagePath(id string) string {
	shard := id
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return filepath.Join(c.root, shard, id)
}

// IsCached reports whether id has a READY entry.
func (c *Cache) IsCached(id oid.ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready[id.String()]
}

// IsFailed reports whether id has a FAILED entry.
func (c *Cache) IsFailed(id oid.ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failed[id.String()]
}

// State returns the entry's current lifecycle state.
func (c *Cache) State(id oid.ID) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := id.String()
	switch {
	case c.ready[key]:
		return Ready
	case c.failed[key]:
		return Failed
	case c.building[key]:
		return Building
	default:
		return Missing
	}
}

// MarkBuilding records that a job producing id is in flight, so concurrent
// BuildRequest handling can treat it as neither missing nor ready.
func (c *Cache) MarkBuilding(id oid.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.building[id.String()] = true
}

// UnmarkBuilding clears the BUILDING marker regardless of outcome; Add/AddFailed
// call this implicitly once the entry lands.
func (c *Cache) UnmarkBuilding(id oid.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.building, id.String())
}

// Read returns the stored bytes for a READY entry.
func (c *Cache) Read(id oid.ID) ([]byte, error) {
	if !c.IsCached(id) {
		return nil, fmt.Errorf("cache: %s not cached", id)
	}
	data, err := os.ReadFile(filepath.Join(c.storagePath(id.String()), dataFile))
	if err != nil {
		return nil, fmt.Errorf("cache: read data for %s: %w", id, err)
	}
	return data, nil
}

// ReadLog returns the build log for a READY or FAILED entry.
func (c *Cache) ReadLog(id oid.ID) (string, error) {
	if !c.IsCached(id) && !c.IsFailed(id) {
		return "", fmt.Errorf("cache: %s has no log", id)
	}
	data, err := os.ReadFile(filepath.Join(c.storagePath(id.String()), logFile))
	if err != nil {
		return "", fmt.Errorf("cache: read log for %s: %w", id, err)
	}
	return string(data), nil
}

// Add idempotently stores a successfully built (or leaf-file) object: a
// second call with an oid already present is a no-op (spec.md testable
// property #3). If a stale on-disk directory exists without a matching
// in-memory index entry, it is purged and rewritten first.
func (c *Cache) Add(ctx context.Context, id oid.ID, contentHash oid.ID, data []byte, log string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addLocked(ctx, id, contentHash, data, log)
}

func (c *Cache) addLocked(ctx context.Context, id oid.ID, contentHash oid.ID, data []byte, log string) error {
	key := id.String()
	if key == "" {
		return fmt.Errorf("%w: empty oid", splasherr.ErrCacheIntegrity)
	}
	if c.ready[key] || c.failed[key] {
		return nil
	}

	dir := c.storagePath(key)
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		slog.WarnContext(ctx, "cache: purging untracked directory before rewrite", "oid", key)
		if err := os.RemoveAll(dir); err != nil {
			slog.WarnContext(ctx, "cache: failed to purge stale directory", "oid", key, "error", err)
			return fmt.Errorf("cache: purge stale entry %s: %w", key, err)
		}
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		slog.WarnContext(ctx, "cache: add failed, leaving index unchanged", "oid", key, "error", err)
		return fmt.Errorf("cache: mkdir %s: %w", key, err)
	}

	if err := writeAll(dir, dataFile, data); err != nil {
		slog.WarnContext(ctx, "cache: add failed writing data", "oid", key, "error", err)
		return err
	}
	if err := writeAll(dir, hashFile, []byte(contentHash.String())); err != nil {
		slog.WarnContext(ctx, "cache: add failed writing hash", "oid", key, "error", err)
		return err
	}
	if err := writeAll(dir, logFile, []byte(log)); err != nil {
		slog.WarnContext(ctx, "cache: add failed writing log", "oid", key, "error", err)
		return err
	}

	c.ready[key] = true
	delete(c.building, key)
	return nil
}

// AddFailed idempotently records a failed build attempt: no data, only a
// log and a zero-byte "failed" marker.
func (c *Cache) AddFailed(ctx context.Context, id oid.ID, log string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := id.String()
	if key == "" {
		return fmt.Errorf("%w: empty oid", splasherr.ErrCacheIntegrity)
	}
	if c.ready[key] || c.failed[key] {
		return nil
	}

	dir := c.storagePath(key)
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		slog.WarnContext(ctx, "cache: purging untracked directory before rewrite", "oid", key)
		os.RemoveAll(dir)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("cache: mkdir %s: %w", key, err)
	}
	if err := writeAll(dir, failedFile, nil); err != nil {
		return err
	}
	if err := writeAll(dir, logFile, []byte(log)); err != nil {
		return err
	}

	c.failed[key] = true
	delete(c.building, key)
	return nil
}

// Validate recomputes H(data) and compares it to the stored hash file,
// evicting the entry on mismatch (spec.md testable property #4 and
// scenario F).
func (c *Cache) Validate(id oid.ID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := id.String()
	if !c.ready[key] {
		return false, nil
	}
	dir := c.storagePath(key)

	expected, err := os.ReadFile(filepath.Join(dir, hashFile))
	if err != nil {
		return false, fmt.Errorf("cache: read hash for %s: %w", key, err)
	}
	data, err := os.ReadFile(filepath.Join(dir, dataFile))
	if err != nil {
		return false, fmt.Errorf("cache: read data for %s: %w", key, err)
	}
	sum := sha256.Sum256(data)
	actual := fmt.Sprintf("%x", sum)
	if string(expected) != actual {
		slog.WarnContext(context.Background(), "cache: hash mismatch, evicting", "oid", key)
		os.RemoveAll(dir)
		delete(c.ready, key)
		return false, nil
	}
	return true, nil
}

func writeAll(dir, name string, data []byte) error {
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("cache: open %s/%s: %w", dir, name, err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("cache: write %s/%s: %w", dir, name, err)
	}
	return nil
}

