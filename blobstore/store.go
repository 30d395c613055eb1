// Package blobstore abstracts the location of dataset artifacts.
//
// Shard files and the index are opaque named byte blobs. A dataset lives at a
// location addressed by a local path or remote URI; the reader sources missing
// shards from the remote store and the writer publishes sealed shards to it.
// Implementations: local filesystem (mmap-backed), in-memory (tests), HTTP
// (read-only), S3 and MinIO (subpackages).
package blobstore

import (
	"context"
	"errors"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNotFound)`. The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// ErrReadOnly is returned by Put on stores that cannot accept writes.
var ErrReadOnly = errors.New("blobstore: store is read-only")

// BlobStore is an abstraction for accessing immutable data blobs
// (shard files and the dataset index).
type BlobStore interface {
	// Open opens a blob for reading.
	Open(ctx context.Context, name string) (Blob, error)
	// Put writes a complete blob. The write must be atomic: readers never
	// observe a partially written blob under name.
	Put(ctx context.Context, name string, data []byte) error
	// List returns the blob names under prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Blob is a read-only handle to a data blob.
type Blob interface {
	io.Closer
	// Size returns the size of the blob in bytes.
	Size() int64
	// ReadAt reads len(p) bytes at offset off.
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)
	// ReadRange streams length bytes starting at off. Fetching a whole shard
	// is ReadRange(ctx, 0, Size()).
	ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error)
}

// Mappable is an optional interface for Blobs that expose their contents as
// a byte slice without copying. The slice is valid until the Blob is closed.
type Mappable interface {
	Bytes() ([]byte, error)
}
