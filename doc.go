// Package streaming writes and reads sharded datasets.
//
// A dataset is a sequence of records, each a map of named byte fields under a
// fixed schema. The Writer packs records into size-bounded shard files and
// publishes them, plus an index.json manifest, to a blob store (local
// directory, S3, MinIO, HTTP). The Dataset reads records back by global
// position, fetching shards on demand into a local cache and memory-mapping
// them, with optional digest verification and deterministic shuffling.
//
// Write side:
//
//	w, err := streaming.NewWriter(ctx, "s3://bucket/datasets/train",
//		streaming.Schema{"image": "bytes", "label": "int"},
//		streaming.WithHashes("xxh64"),
//		streaming.WithCompression(shard.CompressionZstd),
//	)
//	for _, rec := range records {
//		if err := w.Write(rec); err != nil { ... }
//	}
//	err = w.Close() // seals the last shard, publishes index.json
//
// Read side:
//
//	ds, err := streaming.Open(ctx, "s3://bucket/datasets/train", "/tmp/cache",
//		streaming.WithShuffle(42),
//		streaming.WithHashVerification(""),
//	)
//	rec, err := ds.Get(ctx, 0)
//
// The index is written last and atomically, so a dataset either exists
// completely or not at all; a crashed writer leaves no readable dataset.
package streaming
