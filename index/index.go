// Package index models the dataset index: the single JSON document that makes
// a set of shard files a dataset.
//
// The index is written once, atomically, after every shard is sealed, and is
// immutable afterward. A shard file without an index entry is not part of any
// dataset; a crash mid-write therefore leaves garbage files but never a
// half-valid dataset.
package index

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Landanjs/streaming/codec"
)

const (
	// Filename is the fixed basename of the index document.
	Filename = "index.json"
	// CurrentVersion is the index format version this library writes.
	CurrentVersion = 2
)

// ErrCorrupt indicates the index document could not be decoded or fails
// internal consistency checks.
var ErrCorrupt = errors.New("index: corrupt index")

// Index describes a complete dataset.
type Index struct {
	Version int               `json:"version"`
	Columns map[string]string `json:"columns"`
	Shards  []ShardInfo       `json:"shards"`
}

// ShardInfo describes one sealed shard.
//
// Bytes/Hashes describe the raw (uncompressed) shard file. When the shard is
// stored compressed, ZipBasename/ZipBytes/ZipHashes describe the artifact
// actually fetched from the remote; record offsets always address raw bytes.
type ShardInfo struct {
	Basename string            `json:"basename"`
	Bytes    int64             `json:"bytes"`
	Samples  int               `json:"samples"`
	Hashes   map[string]string `json:"hashes"`

	Compression string            `json:"compression,omitempty"`
	ZipBasename string            `json:"zip_basename,omitempty"`
	ZipBytes    int64             `json:"zip_bytes,omitempty"`
	ZipHashes   map[string]string `json:"zip_hashes,omitempty"`

	Records []RecordInfo `json:"records"`
}

// RecordInfo locates one record inside its raw shard file.
type RecordInfo struct {
	Offset uint32            `json:"offset"`
	Length uint32            `json:"length"`
	Hashes map[string]string `json:"hashes,omitempty"`
}

// RemoteBasename returns the filename to fetch from the remote location:
// the compressed artifact when present, the raw shard otherwise.
func (s *ShardInfo) RemoteBasename() string {
	if s.ZipBasename != "" {
		return s.ZipBasename
	}
	return s.Basename
}

// RemoteBytes returns the size of the remote artifact.
func (s *ShardInfo) RemoteBytes() int64 {
	if s.ZipBasename != "" {
		return s.ZipBytes
	}
	return s.Bytes
}

// New returns an empty index for the given column schema.
func New(columns map[string]string) *Index {
	cols := make(map[string]string, len(columns))
	for name, encoding := range columns {
		cols[name] = encoding
	}
	return &Index{Version: CurrentVersion, Columns: cols}
}

// Len returns the total record count across all shards.
func (x *Index) Len() int {
	total := 0
	for i := range x.Shards {
		total += x.Shards[i].Samples
	}
	return total
}

// Validate checks internal consistency: version, per-shard sample counts
// matching record tables, and record extents inside shard bounds.
func (x *Index) Validate() error {
	if x.Version != CurrentVersion {
		return fmt.Errorf("%w: unsupported version %d (expected %d)", ErrCorrupt, x.Version, CurrentVersion)
	}
	for i := range x.Shards {
		s := &x.Shards[i]
		if s.Basename == "" {
			return fmt.Errorf("%w: shard %d has no basename", ErrCorrupt, i)
		}
		if s.Samples != len(s.Records) {
			return fmt.Errorf("%w: shard %q lists %d samples but %d records",
				ErrCorrupt, s.Basename, s.Samples, len(s.Records))
		}
		for j, rec := range s.Records {
			if int64(rec.Offset)+int64(rec.Length) > s.Bytes {
				return fmt.Errorf("%w: shard %q record %d extends past shard end",
					ErrCorrupt, s.Basename, j)
			}
		}
	}
	return nil
}

// Decode unmarshals and validates an index document.
func Decode(c codec.Codec, data []byte) (*Index, error) {
	if c == nil {
		c = codec.Default
	}
	var x Index
	if err := c.Unmarshal(data, &x); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := x.Validate(); err != nil {
		return nil, err
	}
	return &x, nil
}

// Encode marshals the index.
func (x *Index) Encode(c codec.Codec) ([]byte, error) {
	if c == nil {
		c = codec.Default
	}
	return c.Marshal(x)
}

// Load reads and validates the index file in dir.
func Load(c codec.Codec, dir string) (*Index, error) {
	data, err := os.ReadFile(filepath.Join(dir, Filename))
	if err != nil {
		return nil, err
	}
	return Decode(c, data)
}

// Save writes the index file in dir atomically: temp file, fsync, rename,
// then directory sync so the rename itself is durable.
func (x *Index) Save(c codec.Codec, dir string) error {
	data, err := x.Encode(c)
	if err != nil {
		return err
	}

	path := filepath.Join(dir, Filename)
	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

// Merge combines the shard lists of several indexes, in order, into one.
// All inputs must share the same column schema. This mirrors assembling a
// dataset from per-shard sub-indexes produced by parallel converters.
func Merge(indexes ...*Index) (*Index, error) {
	if len(indexes) == 0 {
		return nil, errors.New("index: nothing to merge")
	}
	merged := New(indexes[0].Columns)
	for _, x := range indexes {
		if err := x.Validate(); err != nil {
			return nil, err
		}
		if len(x.Columns) != len(merged.Columns) {
			return nil, fmt.Errorf("%w: merging indexes with different schemas", ErrCorrupt)
		}
		for name, encoding := range x.Columns {
			if merged.Columns[name] != encoding {
				return nil, fmt.Errorf("%w: column %q encoding mismatch", ErrCorrupt, name)
			}
		}
		merged.Shards = append(merged.Shards, x.Shards...)
	}
	return merged, nil
}
