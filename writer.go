package streaming

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/Landanjs/streaming/blobstore"
	"github.com/Landanjs/streaming/hashes"
	"github.com/Landanjs/streaming/index"
	"github.com/Landanjs/streaming/shard"
)

// shardInfoBlob is the self-description embedded in every shard file, letting
// a shard be reindexed without its dataset (see index.Merge).
type shardInfoBlob struct {
	Version     int               `json:"version"`
	Columns     map[string]string `json:"columns"`
	Compression string            `json:"compression,omitempty"`
}

// Writer converts an ordered record sequence into a sharded dataset.
//
// Records append to an in-progress shard; when one more record would push the
// shard file past the size limit the shard is sealed and published, and a new
// one starts. Close seals the final partial shard and then writes the index,
// atomically, as the last step — until the index exists there is no dataset.
//
// A Writer is single-threaded by design: callers must not invoke Write
// concurrently without their own serialization.
type Writer struct {
	cfg    writerConfig
	store  blobstore.BlobStore
	schema Schema
	fields []string
	info   []byte

	builder       *shard.Builder
	pendingHashes []map[string]string
	ordinal       int
	idx           *index.Index

	ctx     context.Context // constructor context, outlives the upload group
	uploads *errgroup.Group
	upCtx   context.Context
	closed  bool
}

// NewWriter opens a writer publishing to the given location
// (local path, s3://, ...). See OpenStore for the accepted forms.
func NewWriter(ctx context.Context, location string, schema Schema, opts ...WriterOption) (*Writer, error) {
	store, err := OpenStore(ctx, location)
	if err != nil {
		return nil, err
	}
	return NewWriterStore(ctx, store, schema, opts...)
}

// NewWriterStore opens a writer publishing to an existing blob store.
func NewWriterStore(ctx context.Context, store blobstore.BlobStore, schema Schema, opts ...WriterOption) (*Writer, error) {
	if len(schema) == 0 {
		return nil, errors.New("streaming: schema must declare at least one field")
	}
	cfg := defaultWriterConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.sizeLimit <= 0 {
		return nil, fmt.Errorf("streaming: size limit must be positive, got %d", cfg.sizeLimit)
	}
	for _, name := range cfg.hashNames {
		if !hashes.IsSupported(name) {
			return nil, fmt.Errorf("streaming: unknown hash algorithm %q", name)
		}
	}

	w := &Writer{
		ctx:     ctx,
		cfg:     cfg,
		store:   store,
		schema:  schema,
		fields:  fieldOrder(schema),
		builder: shard.NewBuilder(),
		idx:     index.New(schema),
	}

	info, err := cfg.codec.Marshal(shardInfoBlob{
		Version:     index.CurrentVersion,
		Columns:     schema,
		Compression: cfg.compression.String(),
	})
	if err != nil {
		return nil, err
	}
	w.info = info

	w.uploads, w.upCtx = errgroup.WithContext(ctx)
	w.uploads.SetLimit(cfg.uploadConcurrency)
	return w, nil
}

// Write appends one record. The record's field set must exactly equal the
// schema; a mismatch is rejected without disturbing writer state.
func (w *Writer) Write(rec Record) error {
	if w.closed {
		return ErrWriterClosed
	}
	if err := checkSchema(w.fields, rec); err != nil {
		return err
	}

	encoded := shard.EncodeRecord(w.fields, rec)

	// Seal first if this record would overflow the current shard. A record
	// that alone exceeds the limit lands in its own oversized shard rather
	// than being split.
	if w.builder.Count() > 0 &&
		w.builder.FileSizeWith(len(w.info), int64(len(encoded))) > w.cfg.sizeLimit {
		if err := w.seal(); err != nil {
			return err
		}
	}

	digests, err := hashes.SumAll(w.cfg.hashNames, encoded)
	if err != nil {
		return err
	}
	w.builder.Append(encoded)
	w.pendingHashes = append(w.pendingHashes, digests)
	return nil
}

// seal finishes the in-progress shard, records its index entry, and hands
// the bytes to the bounded upload group.
func (w *Writer) seal() error {
	data, offsets, lengths := w.builder.Finish(w.info)
	basename := shard.Basename(w.ordinal)

	shardDigests, err := hashes.SumAll(w.cfg.hashNames, data)
	if err != nil {
		return err
	}

	si := index.ShardInfo{
		Basename: basename,
		Bytes:    int64(len(data)),
		Samples:  w.builder.Count(),
		Hashes:   shardDigests,
		Records:  make([]index.RecordInfo, w.builder.Count()),
	}
	for i := range si.Records {
		si.Records[i] = index.RecordInfo{
			Offset: offsets[i],
			Length: lengths[i],
			Hashes: w.pendingHashes[i],
		}
	}

	uploadName, uploadData := basename, data
	if w.cfg.compression != shard.CompressionNone {
		zipped, err := shard.Compress(data, w.cfg.compression)
		if err != nil {
			return err
		}
		zipDigests, err := hashes.SumAll(w.cfg.hashNames, zipped)
		if err != nil {
			return err
		}
		si.Compression = w.cfg.compression.String()
		si.ZipBasename = basename + w.cfg.compression.Ext()
		si.ZipBytes = int64(len(zipped))
		si.ZipHashes = zipDigests
		uploadName, uploadData = si.ZipBasename, zipped
	}

	w.uploads.Go(func() error {
		return w.store.Put(w.upCtx, uploadName, uploadData)
	})

	w.idx.Shards = append(w.idx.Shards, si)
	w.cfg.logger.LogShardSealed(basename, si.Samples, si.Bytes, int64(len(uploadData)))

	w.ordinal++
	w.builder.Reset()
	w.pendingHashes = w.pendingHashes[:0]
	return nil
}

// Close seals the final (possibly partial) shard, waits for uploads, and
// publishes the index. After Close the writer is terminal: further Writes
// fail with ErrWriterClosed. Zero written records still produce a valid,
// empty dataset.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if w.builder.Count() > 0 {
		if err := w.seal(); err != nil {
			return err
		}
	}
	if err := w.uploads.Wait(); err != nil {
		return fmt.Errorf("streaming: uploading shards: %w", err)
	}

	data, err := w.idx.Encode(w.cfg.codec)
	if err != nil {
		return err
	}
	// upCtx is canceled once Wait returns; the index goes out on the
	// constructor context.
	err = w.store.Put(w.ctx, index.Filename, data)
	w.cfg.logger.LogIndexWritten(len(w.idx.Shards), w.idx.Len(), err)
	return err
}

// Index returns the dataset index accumulated so far. Meaningful after
// Close; exposed for conversion pipelines that publish sub-indexes.
func (w *Writer) Index() *index.Index { return w.idx }
