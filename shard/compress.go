package shard

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the whole-shard compression applied after sealing.
// The index records both the raw and compressed artifacts; the reader caches
// the decompressed file so record offsets always address raw bytes.
type Compression uint8

const (
	// CompressionNone stores shards uncompressed.
	CompressionNone Compression = iota
	// CompressionZstd uses zstd (better ratio, good for cold archival shards).
	CompressionZstd
	// CompressionLZ4 uses the lz4 frame format (fast, good for hot datasets).
	CompressionLZ4
)

// ParseCompression maps the index's compression label to a Compression.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return CompressionNone, fmt.Errorf("shard: unknown compression %q", name)
	}
}

// String returns the stable label stored in index.json.
func (c Compression) String() string {
	switch c {
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return ""
	}
}

// Ext returns the filename suffix appended to compressed shard basenames.
func (c Compression) Ext() string {
	if c == CompressionNone {
		return ""
	}
	return "." + c.String()
}

// zstd encoder/decoder pools; EncodeAll/DecodeAll are cheap once constructed.
var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Compress encodes a sealed shard file.
// CompressionNone returns data unchanged.
func Compress(data []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		enc := getZstdEncoder()
		defer zstdEncoderPool.Put(enc)
		return enc.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
	case CompressionLZ4:
		var buf bytes.Buffer
		buf.Grow(len(data) / 2)
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("shard: unknown compression %d", c)
	}
}

// Decompress reverses Compress. rawSize is the expected decompressed size
// from the index; a disagreement means the artifact does not match its entry.
func Decompress(data []byte, c Compression, rawSize int64) ([]byte, error) {
	var raw []byte
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		var err error
		raw, err = dec.DecodeAll(data, make([]byte, 0, rawSize))
		if err != nil {
			return nil, err
		}
	case CompressionLZ4:
		r := lz4.NewReader(bytes.NewReader(data))
		var err error
		raw, err = io.ReadAll(r)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("shard: unknown compression %d", c)
	}
	if rawSize >= 0 && int64(len(raw)) != rawSize {
		return nil, fmt.Errorf("%w: decompressed to %d bytes, index says %d", ErrCorrupt, len(raw), rawSize)
	}
	return raw, nil
}
