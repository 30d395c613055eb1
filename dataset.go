package streaming

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/Landanjs/streaming/blobstore"
	"github.com/Landanjs/streaming/cache"
	"github.com/Landanjs/streaming/hashes"
	"github.com/Landanjs/streaming/index"
	"github.com/Landanjs/streaming/internal/mmap"
	"github.com/Landanjs/streaming/shard"
)

// Dataset reads records from a sharded dataset by global position.
//
// Shards are fetched from the remote store on first touch, installed in a
// local cache, and memory-mapped for record access. Concurrent Gets are safe;
// a shard missing from the cache is downloaded at most once no matter how
// many readers want it.
type Dataset struct {
	cfg    datasetConfig
	store  blobstore.BlobStore // nil for a purely local dataset
	cache  *cache.ShardCache
	idx    *index.Index
	fields []string

	// starts[i] is the global position of shard i's first record;
	// starts[len] is the total record count.
	starts []int
	perm   []int // shuffle permutation, nil when shuffle is off

	mu     sync.Mutex
	open   map[int]*openShard
	closed bool
}

// openShard is a mapped, verified shard held for the Dataset's lifetime.
type openShard struct {
	file    *shard.File
	mapping *mmap.Mapping
	release func()
}

// Open opens the dataset at remote, caching shards under localDir.
// remote accepts the forms OpenStore does; with remote "" the dataset must
// already be complete under localDir.
func Open(ctx context.Context, remote, localDir string, opts ...DatasetOption) (*Dataset, error) {
	var store blobstore.BlobStore
	if remote != "" {
		var err error
		store, err = OpenStore(ctx, remote)
		if err != nil {
			return nil, err
		}
	}
	return OpenDataset(ctx, store, localDir, opts...)
}

// OpenDataset opens a dataset backed by an existing blob store.
func OpenDataset(ctx context.Context, store blobstore.BlobStore, localDir string, opts ...DatasetOption) (*Dataset, error) {
	cfg := defaultDatasetConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.verify && cfg.verifyAlgorithm != "" && !hashes.IsSupported(cfg.verifyAlgorithm) {
		return nil, fmt.Errorf("streaming: unknown hash algorithm %q", cfg.verifyAlgorithm)
	}

	cacheOpts := []cache.Option{
		cache.WithLogger(cfg.logger.Logger),
		cache.WithIgnore(index.Filename),
	}
	if cfg.cacheLimit > 0 {
		cacheOpts = append(cacheOpts, cache.WithLimit(cfg.cacheLimit))
	}
	shardCache, err := cache.New(localDir, cacheOpts...)
	if err != nil {
		return nil, err
	}

	idx, err := loadIndex(ctx, cfg, store, localDir)
	if err != nil {
		return nil, err
	}

	d := &Dataset{
		cfg:    cfg,
		store:  store,
		cache:  shardCache,
		idx:    idx,
		fields: fieldOrder(idx.Columns),
		open:   make(map[int]*openShard),
	}

	d.starts = make([]int, len(idx.Shards)+1)
	for i, s := range idx.Shards {
		d.starts[i+1] = d.starts[i] + s.Samples
	}
	if cfg.shuffle {
		d.perm = permutation(d.starts[len(d.starts)-1], cfg.shuffleSeed, cfg.shuffleEpoch)
	}
	return d, nil
}

// loadIndex prefers the local copy and falls back to fetching the remote
// index, persisting it locally so restarts skip the round trip.
func loadIndex(ctx context.Context, cfg datasetConfig, store blobstore.BlobStore, localDir string) (*index.Index, error) {
	idx, err := index.Load(cfg.codec, localDir)
	switch {
	case err == nil:
		return idx, nil
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("%w: %v", ErrIndexCorrupt, err)
	}
	if store == nil {
		return nil, fmt.Errorf("streaming: no %s under %q and no remote location", index.Filename, localDir)
	}

	data, err := readBlob(ctx, store, index.Filename)
	if err != nil {
		return nil, fmt.Errorf("streaming: fetching %s: %w", index.Filename, err)
	}
	idx, err = index.Decode(cfg.codec, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexCorrupt, err)
	}
	if err := idx.Save(cfg.codec, localDir); err != nil {
		return nil, err
	}
	return idx, nil
}

func readBlob(ctx context.Context, store blobstore.BlobStore, name string) ([]byte, error) {
	blob, err := store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer blob.Close()
	rc, err := blob.ReadRange(ctx, 0, blob.Size())
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Len returns the total record count.
func (d *Dataset) Len() int { return d.starts[len(d.starts)-1] }

// Index returns the dataset index.
func (d *Dataset) Index() *index.Index { return d.idx }

// Schema returns the dataset's column schema.
func (d *Dataset) Schema() Schema { return d.idx.Columns }

// Get returns the record at position. With shuffle enabled, position indexes
// the shuffled order. Only the shard containing the record is materialized.
func (d *Dataset) Get(ctx context.Context, position int) (Record, error) {
	if position < 0 || position >= d.Len() {
		return nil, fmt.Errorf("streaming: position %d out of range [0, %d)", position, d.Len())
	}
	if d.perm != nil {
		position = d.perm[position]
	}

	// First shard whose start exceeds position, minus one.
	shardIdx := sort.SearchInts(d.starts, position+1) - 1
	local := position - d.starts[shardIdx]

	sh, err := d.openShard(ctx, shardIdx)
	if err != nil {
		return nil, err
	}
	raw, err := sh.file.Record(local)
	if err != nil {
		return nil, err
	}

	si := &d.idx.Shards[shardIdx]
	if d.cfg.verify && local < len(si.Records) {
		if err := d.verifyDigest(si.Basename, si.Records[local].Hashes, raw); err != nil {
			return nil, err
		}
	}
	return shard.DecodeRecord(d.fields, raw)
}

// openShard returns the mapped shard, fetching and verifying it on first use.
func (d *Dataset) openShard(ctx context.Context, i int) (*openShard, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, fmt.Errorf("streaming: dataset closed")
	}
	if sh, ok := d.open[i]; ok {
		d.mu.Unlock()
		return sh, nil
	}
	d.mu.Unlock()

	si := &d.idx.Shards[i]
	path, release, err := d.cache.Get(ctx, uint32(i), si.Basename, si.Bytes, func(ctx context.Context, w io.Writer) error {
		return d.fetchShard(ctx, si, w)
	})
	if err != nil {
		return nil, err
	}

	mapping, err := mmap.Open(path)
	if err != nil {
		release()
		return nil, fmt.Errorf("%w: %q: %v", ErrMissingShard, si.Basename, err)
	}
	opened := &openShard{mapping: mapping, release: release}

	fail := func(err error) (*openShard, error) {
		mapping.Close()
		release()
		return nil, err
	}
	if d.cfg.verify {
		if err := d.verifyDigest(si.Basename, si.Hashes, mapping.Bytes()); err != nil {
			d.cache.Remove(si.Basename)
			return fail(err)
		}
	}
	opened.file, err = shard.Parse(mapping.Bytes())
	if err != nil {
		d.cache.Remove(si.Basename)
		return fail(fmt.Errorf("streaming: parsing %q: %w", si.Basename, err))
	}
	if opened.file.Count() != si.Samples {
		d.cache.Remove(si.Basename)
		return fail(fmt.Errorf("%w: %q holds %d records, index says %d",
			ErrIndexCorrupt, si.Basename, opened.file.Count(), si.Samples))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if prior, ok := d.open[i]; ok {
		// Another Get mapped it first.
		opened.mapping.Close()
		opened.release()
		return prior, nil
	}
	d.open[i] = opened
	return opened, nil
}

// fetchShard downloads one shard's remote artifact into w as raw bytes,
// verifying the artifact digest and decompressing when the shard is stored
// compressed. Attempts are retried with a per-attempt timeout.
func (d *Dataset) fetchShard(ctx context.Context, si *index.ShardInfo, w io.Writer) error {
	if d.store == nil {
		return fmt.Errorf("%w: %q not cached and no remote location", ErrMissingShard, si.Basename)
	}

	name := si.RemoteBasename()
	var lastErr error
	for attempt := 0; attempt <= d.cfg.downloadRetry; attempt++ {
		data, err := d.fetchOnce(ctx, name, si.RemoteBytes())
		d.cfg.logger.LogFetch(name, int64(len(data)), err)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			if errors.Is(err, blobstore.ErrNotFound) {
				break // will not appear on retry
			}
			continue
		}
		return d.installFetched(si, data, w)
	}
	if errors.Is(lastErr, blobstore.ErrNotFound) {
		return fmt.Errorf("%w: %q: %v", ErrMissingShard, name, lastErr)
	}
	return fmt.Errorf("streaming: fetching %q: %w", name, lastErr)
}

func (d *Dataset) fetchOnce(ctx context.Context, name string, size int64) ([]byte, error) {
	if d.cfg.downloadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.downloadTimeout)
		defer cancel()
	}
	if d.cfg.limiter != nil && size > 0 {
		if err := d.cfg.limiter.WaitN(ctx, clampBurst(size, d.cfg.limiter.Burst())); err != nil {
			return nil, err
		}
	}
	data, err := readBlob(ctx, d.store, name)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func clampBurst(size int64, burst int) int {
	if size < int64(burst) {
		return int(size)
	}
	return burst
}

// installFetched verifies the downloaded artifact against the index, then
// writes the raw (decompressed) shard bytes to w. The cache validates the
// final size, so short writes surface as cache.ErrIncomplete.
func (d *Dataset) installFetched(si *index.ShardInfo, data []byte, w io.Writer) error {
	if int64(len(data)) != si.RemoteBytes() {
		return fmt.Errorf("%w: %q is %d bytes, index says %d",
			ErrMissingShard, si.RemoteBasename(), len(data), si.RemoteBytes())
	}
	if d.cfg.verify {
		want := si.Hashes
		if si.ZipBasename != "" {
			want = si.ZipHashes
		}
		if err := d.verifyDigest(si.RemoteBasename(), want, data); err != nil {
			return err
		}
	}
	if si.ZipBasename != "" {
		compression, err := shard.ParseCompression(si.Compression)
		if err != nil {
			return fmt.Errorf("%w: shard %q: %v", ErrIndexCorrupt, si.Basename, err)
		}
		data, err = shard.Decompress(data, compression, si.Bytes)
		if err != nil {
			return fmt.Errorf("streaming: decompressing %q: %w", si.ZipBasename, err)
		}
	}
	_, err := w.Write(data)
	return err
}

// verifyDigest recomputes one digest over data and compares it to the index.
// Indexes written without hashes leave nothing to check, which is not an
// error unless the caller pinned a specific algorithm.
func (d *Dataset) verifyDigest(name string, want map[string]string, data []byte) error {
	algorithm := d.cfg.verifyAlgorithm
	if algorithm == "" {
		algorithm = pickAlgorithm(want)
		if algorithm == "" {
			return nil
		}
	}
	expected, ok := want[algorithm]
	if !ok {
		return fmt.Errorf("streaming: index records no %q digest for %q", algorithm, name)
	}
	got, err := hashes.Sum(algorithm, data)
	if err != nil {
		return err
	}
	if got != expected {
		return &IntegrityError{Shard: name, Algorithm: algorithm, Want: expected, Got: got}
	}
	return nil
}

// pickAlgorithm chooses the cheapest digest present, hashing being on the
// per-fetch hot path.
func pickAlgorithm(want map[string]string) string {
	for _, name := range []string{"xxh64", "crc32c", "sha1", "sha256"} {
		if _, ok := want[name]; ok {
			return name
		}
	}
	return ""
}

// Close unmaps open shards and releases their cache pins. Records returned
// by Get remain valid; their bytes are copied out of the mapping at decode.
func (d *Dataset) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	var firstErr error
	for i, sh := range d.open {
		if err := sh.mapping.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		sh.release()
		delete(d.open, i)
	}
	return firstErr
}
