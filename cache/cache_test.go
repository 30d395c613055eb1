package cache

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func fetchBytes(data []byte, fetches *atomic.Int64) FetchFunc {
	return func(_ context.Context, w io.Writer) error {
		if fetches != nil {
			fetches.Add(1)
		}
		_, err := w.Write(data)
		return err
	}
}

func TestGet_FetchesOnceAndReuses(t *testing.T) {
	c, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	data := []byte("shard contents")
	var fetches atomic.Int64

	path, release, err := c.Get(ctx, 0, "shard.00000.mds", int64(len(data)), fetchBytes(data, &fetches))
	require.NoError(t, err)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, data, got)
	release()

	// Second Get is a pure cache hit.
	_, release, err = c.Get(ctx, 0, "shard.00000.mds", int64(len(data)), fetchBytes(data, &fetches))
	require.NoError(t, err)
	release()

	require.Equal(t, int64(1), fetches.Load())
	require.True(t, c.Contains(0))

	shards, bytes := c.Stats()
	require.Equal(t, 1, shards)
	require.Equal(t, int64(len(data)), bytes)
}

func TestGet_ConcurrentSingleFetch(t *testing.T) {
	c, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	data := make([]byte, 4096)
	var fetches atomic.Int64

	const workers = 32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			path, release, err := c.Get(ctx, 7, "shard.00007.mds", int64(len(data)), fetchBytes(data, &fetches))
			require.NoError(t, err)
			fi, err := os.Stat(path)
			require.NoError(t, err)
			require.Equal(t, int64(len(data)), fi.Size())
			release()
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, int64(1), fetches.Load(), "concurrent gets must share one fetch")
}

func TestNew_DropsTempLeftovers(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shard.00000.mds.tmp123"), []byte("partial"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shard.00001.mds"), []byte("complete"), 0o644))

	c, err := New(dir)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "shard.00000.mds.tmp123"))
	require.True(t, os.IsNotExist(err))

	shards, bytes := c.Stats()
	require.Equal(t, 1, shards)
	require.Equal(t, int64(8), bytes)
}

func TestGet_RefetchesWrongSize(t *testing.T) {
	dir := t.TempDir()
	// A truncated shard from a previous run.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shard.00000.mds"), []byte("tru"), 0o644))

	c, err := New(dir)
	require.NoError(t, err)

	data := []byte("full shard contents")
	var fetches atomic.Int64
	path, release, err := c.Get(context.Background(), 0, "shard.00000.mds", int64(len(data)), fetchBytes(data, &fetches))
	require.NoError(t, err)
	defer release()

	require.Equal(t, int64(1), fetches.Load())
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestGet_ShortDownloadRejected(t *testing.T) {
	c, err := New(t.TempDir())
	require.NoError(t, err)

	_, _, err = c.Get(context.Background(), 0, "shard.00000.mds", 100, fetchBytes([]byte("short"), nil))
	require.ErrorIs(t, err, ErrIncomplete)

	// Nothing half-written left behind.
	shards, _ := c.Stats()
	require.Equal(t, 0, shards)
	entries, err := os.ReadDir(c.Dir())
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestEviction_LRU(t *testing.T) {
	c, err := New(t.TempDir(), WithLimit(25))
	require.NoError(t, err)
	ctx := context.Background()

	ten := make([]byte, 10)
	for i, name := range []string{"shard.00000.mds", "shard.00001.mds"} {
		_, release, err := c.Get(ctx, uint32(i), name, 10, fetchBytes(ten, nil))
		require.NoError(t, err)
		release()
	}

	// Touch shard 0 so shard 1 is the LRU victim.
	_, release, err := c.Get(ctx, 0, "shard.00000.mds", 10, fetchBytes(ten, nil))
	require.NoError(t, err)
	release()

	_, release, err = c.Get(ctx, 2, "shard.00002.mds", 10, fetchBytes(ten, nil))
	require.NoError(t, err)
	release()

	require.True(t, c.Contains(0))
	require.False(t, c.Contains(1), "LRU shard should have been evicted")
	require.True(t, c.Contains(2))

	_, bytes := c.Stats()
	require.LessOrEqual(t, bytes, int64(25))
}

func TestEviction_NeverEvictsPinned(t *testing.T) {
	c, err := New(t.TempDir(), WithLimit(15))
	require.NoError(t, err)
	ctx := context.Background()

	ten := make([]byte, 10)
	path0, release0, err := c.Get(ctx, 0, "shard.00000.mds", 10, fetchBytes(ten, nil))
	require.NoError(t, err)

	// Pushes the cache over the limit while shard 0 is pinned.
	_, release1, err := c.Get(ctx, 1, "shard.00001.mds", 10, fetchBytes(ten, nil))
	require.NoError(t, err)

	_, err = os.Stat(path0)
	require.NoError(t, err, "pinned shard must survive eviction pressure")

	release0()
	release1()
}

func TestRemove(t *testing.T) {
	c, err := New(t.TempDir())
	require.NoError(t, err)

	data := []byte("corrupted later")
	path, release, err := c.Get(context.Background(), 3, "shard.00003.mds", int64(len(data)), fetchBytes(data, nil))
	require.NoError(t, err)
	release()

	c.Remove("shard.00003.mds")
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
	require.False(t, c.Contains(3))
}
