package streaming

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/Landanjs/streaming/codec"
	"github.com/Landanjs/streaming/shard"
)

// DefaultSizeLimit bounds shard files at 64 MiB unless configured otherwise.
const DefaultSizeLimit = 1 << 26

type writerConfig struct {
	sizeLimit         int64
	hashNames         []string
	compression       shard.Compression
	codec             codec.Codec
	logger            *Logger
	uploadConcurrency int
}

func defaultWriterConfig() writerConfig {
	return writerConfig{
		sizeLimit:         DefaultSizeLimit,
		codec:             codec.Default,
		logger:            NoopLogger(),
		uploadConcurrency: 8,
	}
}

// WriterOption configures a Writer.
type WriterOption func(*writerConfig)

// WithSizeLimit bounds sealed shard files at limit bytes. A single record
// larger than the limit still gets its own (oversized) shard.
func WithSizeLimit(limit int64) WriterOption {
	return func(c *writerConfig) { c.sizeLimit = limit }
}

// WithHashes selects the digest algorithms recorded per record and per shard,
// e.g. WithHashes("sha1", "xxh64"). None are recorded by default.
func WithHashes(names ...string) WriterOption {
	return func(c *writerConfig) { c.hashNames = names }
}

// WithCompression compresses sealed shards before publishing them.
func WithCompression(compression shard.Compression) WriterOption {
	return func(c *writerConfig) { c.compression = compression }
}

// WithWriterCodec overrides the index codec.
func WithWriterCodec(cdc codec.Codec) WriterOption {
	return func(c *writerConfig) { c.codec = cdc }
}

// WithWriterLogger sets the structured logger for the write path.
func WithWriterLogger(logger *Logger) WriterOption {
	return func(c *writerConfig) { c.logger = logger }
}

// WithUploadConcurrency bounds how many sealed shards upload in parallel
// while the writer keeps accepting records. Default 8.
func WithUploadConcurrency(n int) WriterOption {
	return func(c *writerConfig) {
		if n > 0 {
			c.uploadConcurrency = n
		}
	}
}

type datasetConfig struct {
	shuffle         bool
	shuffleSeed     int64
	shuffleEpoch    int64
	verifyAlgorithm string
	verify          bool
	downloadRetry   int
	downloadTimeout time.Duration
	limiter         *rate.Limiter
	cacheLimit      int64
	codec           codec.Codec
	logger          *Logger
}

func defaultDatasetConfig() datasetConfig {
	return datasetConfig{
		downloadRetry:   2,
		downloadTimeout: 120 * time.Second,
		codec:           codec.Default,
		logger:          NoopLogger(),
	}
}

// DatasetOption configures a Dataset.
type DatasetOption func(*datasetConfig)

// WithShuffle presents records in a deterministic pseudo-random order derived
// from seed. Every reader constructed with the same seed (and epoch) observes
// the same permutation, so workers partitioning by position neither duplicate
// nor drop records.
func WithShuffle(seed int64) DatasetOption {
	return func(c *datasetConfig) {
		c.shuffle = true
		c.shuffleSeed = seed
	}
}

// WithShuffleEpoch varies the shuffle permutation between epochs while
// keeping it consistent across readers within one epoch.
func WithShuffleEpoch(epoch int64) DatasetOption {
	return func(c *datasetConfig) { c.shuffleEpoch = epoch }
}

// WithHashVerification recomputes the named digest over every fetched shard
// and fails Get with ErrIntegrityMismatch on disagreement. With algorithm ""
// the reader picks from the index, preferring the cheapest algorithm.
func WithHashVerification(algorithm string) DatasetOption {
	return func(c *datasetConfig) {
		c.verify = true
		c.verifyAlgorithm = algorithm
	}
}

// WithDownloadRetry sets how many times a failed shard fetch is retried.
// Default 2.
func WithDownloadRetry(n int) DatasetOption {
	return func(c *datasetConfig) {
		if n >= 0 {
			c.downloadRetry = n
		}
	}
}

// WithDownloadTimeout bounds each fetch attempt. Default 2 minutes.
func WithDownloadTimeout(d time.Duration) DatasetOption {
	return func(c *datasetConfig) { c.downloadTimeout = d }
}

// WithDownloadRateLimit throttles shard downloads to bytesPerSecond,
// smoothing network contention with the training loop's own traffic.
func WithDownloadRateLimit(bytesPerSecond float64) DatasetOption {
	return func(c *datasetConfig) {
		burst := int(bytesPerSecond)
		if burst < 64*1024 {
			burst = 64 * 1024
		}
		c.limiter = rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
	}
}

// WithCacheLimit caps the local shard cache in bytes; least-recently-used
// shards are evicted once over the cap. 0 (default) means unlimited.
func WithCacheLimit(limit int64) DatasetOption {
	return func(c *datasetConfig) { c.cacheLimit = limit }
}

// WithDatasetCodec overrides the index codec.
func WithDatasetCodec(cdc codec.Codec) DatasetOption {
	return func(c *datasetConfig) { c.codec = cdc }
}

// WithDatasetLogger sets the structured logger for the read path.
func WithDatasetLogger(logger *Logger) DatasetOption {
	return func(c *datasetConfig) { c.logger = logger }
}
