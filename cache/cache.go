// Package cache manages the local shard cache shared by data-loading workers.
//
// Each shard is fetched at most once per cache lifetime: concurrent requests
// for the same uncached shard collapse into a single download, and installs
// are temp-file-then-rename so a crash mid-download can never be mistaken for
// a complete shard. An optional byte limit evicts least-recently-used shards
// that no caller currently holds.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/singleflight"
)

// ErrIncomplete is returned when a fetched shard does not have the size the
// index says it should. The partial artifact is discarded.
var ErrIncomplete = errors.New("cache: incomplete shard download")

// FetchFunc downloads one shard into w. It must write the complete raw
// (decompressed, verified) shard bytes or return an error.
type FetchFunc func(ctx context.Context, w io.Writer) error

// Option configures a ShardCache.
type Option func(*ShardCache)

// WithLimit caps the cache at limit bytes. Shards currently held by a caller
// are never evicted; 0 means unlimited.
func WithLimit(limit int64) Option {
	return func(c *ShardCache) { c.limit = limit }
}

// WithLogger sets the structured logger for fetch/evict tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(c *ShardCache) { c.logger = logger }
}

// WithIgnore names files in the cache directory that are not shards
// (the dataset index, for one) and must never be tracked or evicted.
func WithIgnore(names ...string) Option {
	return func(c *ShardCache) {
		for _, name := range names {
			c.ignore[name] = true
		}
	}
}

type entry struct {
	id      uint32
	size    int64
	pins    int
	lastUse int64
}

// ShardCache is a directory of raw shard files keyed by basename.
// Safe for concurrent use by many workers.
type ShardCache struct {
	dir    string
	limit  int64
	logger *slog.Logger

	group singleflight.Group

	ignore map[string]bool

	mu       sync.Mutex
	entries  map[string]*entry
	resident *roaring.Bitmap // shard ordinals present in the cache
	total    int64
	clock    int64
}

// New opens (or creates) the cache directory. Temp files left behind by a
// crashed download are removed; complete shard files from previous runs are
// adopted as-is.
func New(dir string, opts ...Option) (*ShardCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	c := &ShardCache{
		dir:      dir,
		logger:   slog.New(slog.DiscardHandler),
		ignore:   make(map[string]bool),
		entries:  make(map[string]*entry),
		resident: roaring.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.scan(); err != nil {
		return nil, err
	}
	return c, nil
}

// Dir returns the cache directory.
func (c *ShardCache) Dir() string { return c.dir }

// Path returns where the named shard lives (or would live) in the cache.
func (c *ShardCache) Path(basename string) string {
	return filepath.Join(c.dir, basename)
}

func (c *ShardCache) scan() error {
	dirEntries, err := os.ReadDir(c.dir)
	if err != nil {
		return err
	}
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		if c.ignore[name] {
			continue
		}
		if strings.Contains(name, ".tmp") {
			// Leftover from a crashed download; incomplete by definition.
			_ = os.Remove(filepath.Join(c.dir, name))
			continue
		}
		fi, err := de.Info()
		if err != nil {
			continue
		}
		c.entries[name] = &entry{id: unknownID, size: fi.Size()}
		c.total += fi.Size()
	}
	return nil
}

const unknownID = ^uint32(0)

// Get returns the path of the named shard, fetching it first if absent.
// wantSize is the expected raw size from the index; a cached file of any
// other size is treated as absent and refetched. The returned release
// function unpins the shard for eviction and must be called once.
func (c *ShardCache) Get(ctx context.Context, id uint32, basename string, wantSize int64, fetch FetchFunc) (string, func(), error) {
	if path, release, ok := c.tryPin(id, basename, wantSize); ok {
		return path, release, nil
	}

	// Concurrent Gets for the same uncached shard share one fetch; everyone
	// else proceeds untouched.
	_, err, _ := c.group.Do(basename, func() (any, error) {
		if _, _, ok := c.tryPinPeek(basename, wantSize); ok {
			return nil, nil
		}
		return nil, c.install(ctx, id, basename, wantSize, fetch)
	})
	if err != nil {
		return "", nil, err
	}

	path, release, ok := c.tryPin(id, basename, wantSize)
	if !ok {
		// Installed and evicted between Do and pin; only possible with a
		// pathologically small limit.
		return "", nil, fmt.Errorf("cache: shard %q evicted immediately after fetch", basename)
	}
	return path, release, nil
}

// tryPin pins the entry if present and valid, fixing up its ordinal.
func (c *ShardCache) tryPin(id uint32, basename string, wantSize int64) (string, func(), bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[basename]
	if !ok {
		return "", nil, false
	}
	path := c.Path(basename)
	if !c.validLocked(basename, e, wantSize) {
		return "", nil, false
	}
	if e.id == unknownID {
		e.id = id
	}
	c.resident.Add(e.id)
	e.pins++
	c.clock++
	e.lastUse = c.clock
	return path, c.releaseFunc(basename), true
}

// tryPinPeek reports whether the entry is already present and valid,
// without pinning. Used inside the singleflight to skip redundant fetches.
func (c *ShardCache) tryPinPeek(basename string, wantSize int64) (string, *entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[basename]
	if !ok || !c.validLocked(basename, e, wantSize) {
		return "", nil, false
	}
	return c.Path(basename), e, true
}

// validLocked verifies the on-disk file still matches the expected size.
// An invalid entry is dropped so the caller refetches.
func (c *ShardCache) validLocked(basename string, e *entry, wantSize int64) bool {
	fi, err := os.Stat(c.Path(basename))
	if err != nil || (wantSize >= 0 && fi.Size() != wantSize) {
		c.dropLocked(basename, e)
		return false
	}
	if wantSize >= 0 && e.size != fi.Size() {
		c.total += fi.Size() - e.size
		e.size = fi.Size()
	}
	return true
}

func (c *ShardCache) dropLocked(basename string, e *entry) {
	_ = os.Remove(c.Path(basename))
	c.total -= e.size
	if e.id != unknownID {
		c.resident.Remove(e.id)
	}
	delete(c.entries, basename)
}

func (c *ShardCache) releaseFunc(basename string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if e, ok := c.entries[basename]; ok && e.pins > 0 {
				e.pins--
			}
			c.evictLocked()
		})
	}
}

// install downloads into a temp file and renames it into place.
func (c *ShardCache) install(ctx context.Context, id uint32, basename string, wantSize int64, fetch FetchFunc) error {
	tmp, err := os.CreateTemp(c.dir, basename+".tmp*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if err := fetch(ctx, tmp); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return err
	}
	fi, err := tmp.Stat()
	if err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if wantSize >= 0 && fi.Size() != wantSize {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %q is %d bytes, index says %d", ErrIncomplete, basename, fi.Size(), wantSize)
	}
	if err := os.Rename(tmpName, c.Path(basename)); err != nil {
		os.Remove(tmpName)
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.entries[basename]; ok {
		c.total -= old.size
	}
	c.entries[basename] = &entry{id: id, size: fi.Size()}
	c.total += fi.Size()
	c.resident.Add(id)
	c.evictLocked()

	c.logger.Debug("shard cached", "shard", basename, "bytes", fi.Size())
	return nil
}

// evictLocked removes least-recently-used unpinned shards until under limit.
func (c *ShardCache) evictLocked() {
	if c.limit <= 0 {
		return
	}
	for c.total > c.limit {
		var victim string
		var victimEntry *entry
		for name, e := range c.entries {
			if e.pins > 0 {
				continue
			}
			if victimEntry == nil || e.lastUse < victimEntry.lastUse {
				victim, victimEntry = name, e
			}
		}
		if victimEntry == nil {
			return // everything pinned
		}
		c.logger.Debug("shard evicted", "shard", victim, "bytes", victimEntry.size)
		c.dropLocked(victim, victimEntry)
	}
}

// Remove discards a cached shard, e.g. after an integrity failure.
func (c *ShardCache) Remove(basename string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[basename]; ok {
		c.dropLocked(basename, e)
	}
}

// Contains reports whether the shard ordinal is resident.
func (c *ShardCache) Contains(id uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resident.Contains(id)
}

// Stats returns the resident shard count and total cached bytes.
func (c *ShardCache) Stats() (shards int, bytes int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries), c.total
}
