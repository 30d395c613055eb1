package streaming

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Landanjs/streaming/blobstore"
	"github.com/Landanjs/streaming/shard"
)

// countingStore counts Open calls per blob name, exposing how often each
// shard was actually fetched.
type countingStore struct {
	blobstore.BlobStore
	mu    sync.Mutex
	opens map[string]int
}

func newCountingStore(inner blobstore.BlobStore) *countingStore {
	return &countingStore{BlobStore: inner, opens: make(map[string]int)}
}

func (s *countingStore) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	s.mu.Lock()
	s.opens[name]++
	s.mu.Unlock()
	return s.BlobStore.Open(ctx, name)
}

func (s *countingStore) openCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens[name]
}

func (s *countingStore) shardOpens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for name, count := range s.opens {
		if strings.Contains(name, ".mds") {
			n += count
		}
	}
	return n
}

func openTestDataset(t *testing.T, store blobstore.BlobStore, opts ...DatasetOption) *Dataset {
	t.Helper()
	ds, err := OpenDataset(context.Background(), store, t.TempDir(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, ds.Close()) })
	return ds
}

func TestDataset_RoundTrip(t *testing.T) {
	store := blobstore.NewMemoryStore()
	writeDataset(t, store, 25, WithSizeLimit(512), WithHashes("xxh64"))

	ds := openTestDataset(t, store, WithHashVerification(""))
	require.Equal(t, 25, ds.Len())
	require.Equal(t, testSchema(), ds.Schema())

	ctx := context.Background()
	for i := 0; i < 25; i++ {
		rec, err := ds.Get(ctx, i)
		require.NoError(t, err)
		require.Equal(t, testRecord(i), rec)
	}
}

func TestDataset_GetTouchesOnlyItsShard(t *testing.T) {
	inner := blobstore.NewMemoryStore()
	// Size the limit so 5 records split across 2 shards.
	w, err := NewWriterStore(context.Background(), inner, testSchema(), WithSizeLimit(256))
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, w.Write(testRecord(i)))
	}
	require.NoError(t, w.Close())
	idx := loadStoreIndex(t, inner)
	require.Len(t, idx.Shards, 2)

	store := newCountingStore(inner)
	ds := openTestDataset(t, store)

	// A record in the second shard must not pull the first one.
	second := idx.Shards[0].Samples // global position of shard 2's first record
	rec, err := ds.Get(context.Background(), second)
	require.NoError(t, err)
	require.Equal(t, testRecord(second), rec)

	require.Equal(t, 0, store.openCount(idx.Shards[0].Basename))
	require.Equal(t, 1, store.openCount(idx.Shards[1].Basename))
}

func TestDataset_ConcurrentGetsFetchEachShardOnce(t *testing.T) {
	inner := blobstore.NewMemoryStore()
	writeDataset(t, inner, 60, WithSizeLimit(512))
	idx := loadStoreIndex(t, inner)
	require.Greater(t, len(idx.Shards), 1)

	store := newCountingStore(inner)
	ds := openTestDataset(t, store)

	ctx := context.Background()
	var failed atomic.Bool
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < ds.Len(); i++ {
				pos := (i + g*7) % ds.Len()
				rec, err := ds.Get(ctx, pos)
				if err != nil || string(rec["label"]) != string(testRecord(pos)["label"]) {
					failed.Store(true)
					return
				}
			}
		}(g)
	}
	wg.Wait()
	require.False(t, failed.Load())

	// Every shard downloaded exactly once across 8 readers.
	require.Equal(t, len(idx.Shards), store.shardOpens())
}

func TestDataset_WarmCacheSkipsRemote(t *testing.T) {
	inner := blobstore.NewMemoryStore()
	writeDataset(t, inner, 20, WithSizeLimit(512))

	localDir := t.TempDir()
	ctx := context.Background()

	ds, err := OpenDataset(ctx, inner, localDir)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		_, err := ds.Get(ctx, i)
		require.NoError(t, err)
	}
	require.NoError(t, ds.Close())

	// Reopen over the same local dir with a store that can't serve anything.
	store := newCountingStore(inner)
	ds, err = OpenDataset(ctx, store, localDir)
	require.NoError(t, err)
	defer ds.Close()
	for i := 0; i < 20; i++ {
		rec, err := ds.Get(ctx, i)
		require.NoError(t, err)
		require.Equal(t, testRecord(i), rec)
	}
	require.Equal(t, 0, store.shardOpens())
	require.Equal(t, 0, store.openCount("index.json"))
}

func TestDataset_CorruptShardDetected(t *testing.T) {
	store := blobstore.NewMemoryStore()
	writeDataset(t, store, 10, WithHashes("xxh64"))

	idx := loadStoreIndex(t, store)
	// Flip one payload byte well past the header.
	require.True(t, store.Corrupt(idx.Shards[0].Basename, int(idx.Shards[0].Bytes-3)))

	ds := openTestDataset(t, store, WithHashVerification("xxh64"))
	_, err := ds.Get(context.Background(), 0)
	require.ErrorIs(t, err, ErrIntegrityMismatch)
	var integrity *IntegrityError
	require.ErrorAs(t, err, &integrity)
	require.Equal(t, "xxh64", integrity.Algorithm)
	require.NotEqual(t, integrity.Want, integrity.Got)
}

func TestDataset_CorruptionIgnoredWithoutVerification(t *testing.T) {
	store := blobstore.NewMemoryStore()
	writeDataset(t, store, 10, WithHashes("xxh64"))
	idx := loadStoreIndex(t, store)
	require.True(t, store.Corrupt(idx.Shards[0].Basename, int(idx.Shards[0].Bytes-3)))

	ds := openTestDataset(t, store)
	// The flipped payload byte decodes fine; it just yields different bytes.
	rec, err := ds.Get(context.Background(), 9)
	require.NoError(t, err)
	require.NotEqual(t, testRecord(9), rec)
}

func TestDataset_CompressedRoundTrip(t *testing.T) {
	for _, compression := range []shard.Compression{shard.CompressionZstd, shard.CompressionLZ4} {
		t.Run(compression.String(), func(t *testing.T) {
			store := blobstore.NewMemoryStore()
			writeDataset(t, store, 30, WithSizeLimit(1024),
				WithCompression(compression), WithHashes("xxh64"))

			ds := openTestDataset(t, store, WithHashVerification(""))
			ctx := context.Background()
			for i := 0; i < 30; i++ {
				rec, err := ds.Get(ctx, i)
				require.NoError(t, err)
				require.Equal(t, testRecord(i), rec)
			}
		})
	}
}

func TestDataset_Empty(t *testing.T) {
	store := blobstore.NewMemoryStore()
	writeDataset(t, store, 0)

	ds := openTestDataset(t, store)
	require.Equal(t, 0, ds.Len())
	_, err := ds.Get(context.Background(), 0)
	require.Error(t, err)
}

func TestDataset_MissingShard(t *testing.T) {
	inner := blobstore.NewMemoryStore()
	writeDataset(t, inner, 10)
	idx := loadStoreIndex(t, inner)

	// Republish only the index; the shard is gone.
	store := blobstore.NewMemoryStore()
	data, err := idx.Encode(nil)
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), "index.json", data))

	ds := openTestDataset(t, store)
	_, err = ds.Get(context.Background(), 0)
	require.ErrorIs(t, err, ErrMissingShard)
}

func TestDataset_NoIndexAnywhere(t *testing.T) {
	_, err := OpenDataset(context.Background(), blobstore.NewMemoryStore(), t.TempDir())
	require.Error(t, err)
}

func TestDataset_CorruptIndex(t *testing.T) {
	store := blobstore.NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), "index.json", []byte("{not json")))
	_, err := OpenDataset(context.Background(), store, t.TempDir())
	require.ErrorIs(t, err, ErrIndexCorrupt)
}

func TestDataset_GetAfterClose(t *testing.T) {
	store := blobstore.NewMemoryStore()
	writeDataset(t, store, 5)
	ds, err := OpenDataset(context.Background(), store, t.TempDir())
	require.NoError(t, err)
	require.NoError(t, ds.Close())

	_, err = ds.Get(context.Background(), 0)
	require.Error(t, err)
	require.NoError(t, ds.Close())
}

func TestDataset_All(t *testing.T) {
	store := blobstore.NewMemoryStore()
	writeDataset(t, store, 8)
	ds := openTestDataset(t, store)

	i := 0
	for rec, err := range ds.All(context.Background()) {
		require.NoError(t, err)
		require.Equal(t, testRecord(i), rec)
		i++
	}
	require.Equal(t, 8, i)
}

func TestDataset_Map(t *testing.T) {
	store := blobstore.NewMemoryStore()
	writeDataset(t, store, 5)
	ds := openTestDataset(t, store)

	labels := Map(ds, func(rec Record) (int, error) {
		return int(rec["label"][0]), nil
	})
	require.Equal(t, 5, labels.Len())
	got, err := labels.Get(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, 3, got)
}
