// Package shard implements the on-disk shard format.
//
// A shard is an immutable, append-once file holding a bounded run of
// serialized records:
//
//	[u32 record count n]
//	[u32 offsets[n+1]]   absolute file offsets; offsets[i] is the start of
//	                     record i, offsets[n] is the end of the last record
//	[info blob]          codec-encoded shard self-description, occupying the
//	                     gap between the offset table and offsets[0]
//	[record bytes]
//
// Records themselves are length-prefixed field frames (see EncodeRecord), so
// each field is independently recoverable from the record slice. All integers
// are little-endian.
package shard

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Record is one sample: a mapping from field name to raw payload.
type Record map[string][]byte

// Schema maps field name to its encoding label (e.g. "png", "bytes", "str").
// The label is carried for downstream decoders; the storage layer treats all
// payloads as opaque bytes.
type Schema map[string]string

// Errors reported while parsing shard files.
var (
	ErrTruncated = errors.New("shard: truncated file")
	ErrCorrupt   = errors.New("shard: corrupt layout")
)

// Basename returns the canonical shard filename for ordinal i,
// e.g. "shard.00042.mds".
func Basename(i int) string {
	return fmt.Sprintf("shard.%05d.mds", i)
}

// EncodeRecord serializes rec's payloads for the given field order:
// one u32 length per field, then the payloads concatenated.
// fields must match the record's key set; the writer validates that upstream.
func EncodeRecord(fields []string, rec Record) []byte {
	size := 4 * len(fields)
	for _, name := range fields {
		size += len(rec[name])
	}
	buf := make([]byte, 0, size)
	for _, name := range fields {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(rec[name])))
	}
	for _, name := range fields {
		buf = append(buf, rec[name]...)
	}
	return buf
}

// EncodedRecordSize returns len(EncodeRecord(fields, rec)) without encoding.
func EncodedRecordSize(fields []string, rec Record) int64 {
	size := int64(4 * len(fields))
	for _, name := range fields {
		size += int64(len(rec[name]))
	}
	return size
}

// DecodeRecord reverses EncodeRecord.
func DecodeRecord(fields []string, data []byte) (Record, error) {
	header := 4 * len(fields)
	if len(data) < header {
		return nil, fmt.Errorf("%w: record shorter than its field table", ErrTruncated)
	}
	rec := make(Record, len(fields))
	off := header
	for i, name := range fields {
		length := int(binary.LittleEndian.Uint32(data[i*4:]))
		if off+length > len(data) {
			return nil, fmt.Errorf("%w: field %q extends past record end", ErrTruncated, name)
		}
		payload := make([]byte, length)
		copy(payload, data[off:off+length])
		rec[name] = payload
		off += length
	}
	if off != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes after last field", ErrCorrupt, len(data)-off)
	}
	return rec, nil
}

// Builder accumulates encoded records and assembles the shard file.
// It is not safe for concurrent use; the writer is single-threaded by design.
type Builder struct {
	records [][]byte
	size    int64 // record bytes only
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Append adds one encoded record.
func (b *Builder) Append(encoded []byte) {
	b.records = append(b.records, encoded)
	b.size += int64(len(encoded))
}

// Count returns the number of records appended so far.
func (b *Builder) Count() int { return len(b.records) }

// FileSize returns the size of the shard file Finish would produce for the
// current contents plus the given info blob.
func (b *Builder) FileSize(infoLen int) int64 {
	return headerSize(len(b.records)) + int64(infoLen) + b.size
}

// FileSizeWith is FileSize after one more record of recLen bytes.
func (b *Builder) FileSizeWith(infoLen int, recLen int64) int64 {
	return headerSize(len(b.records)+1) + int64(infoLen) + b.size + recLen
}

func headerSize(n int) int64 {
	return 4 + int64(n+1)*4
}

// Finish assembles the shard file. It returns the file bytes together with
// the absolute offset and length of every record, which the writer stores in
// the dataset index.
func (b *Builder) Finish(info []byte) (data []byte, offsets []uint32, lengths []uint32) {
	n := len(b.records)
	dataStart := headerSize(n) + int64(len(info))

	buf := make([]byte, 0, dataStart+b.size)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(n))

	offsets = make([]uint32, n+1)
	lengths = make([]uint32, n)
	pos := uint32(dataStart)
	for i, rec := range b.records {
		offsets[i] = pos
		lengths[i] = uint32(len(rec))
		pos += uint32(len(rec))
	}
	offsets[n] = pos

	for _, off := range offsets {
		buf = binary.LittleEndian.AppendUint32(buf, off)
	}
	buf = append(buf, info...)
	for _, rec := range b.records {
		buf = append(buf, rec...)
	}
	return buf, offsets, lengths
}

// Reset clears the builder for the next shard.
func (b *Builder) Reset() {
	b.records = b.records[:0]
	b.size = 0
}

// File is a parsed view over a raw (uncompressed) shard file. The record
// accessors slice into the backing data without copying.
type File struct {
	data    []byte
	offsets []uint32
	info    []byte
}

// Parse validates the shard layout and returns a File view over data.
// The File aliases data; the caller keeps it alive (e.g. an open mmap).
func Parse(data []byte) (*File, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: missing header", ErrTruncated)
	}
	n := int(binary.LittleEndian.Uint32(data))
	tableEnd := headerSize(n)
	if int64(len(data)) < tableEnd {
		return nil, fmt.Errorf("%w: offset table for %d records", ErrTruncated, n)
	}
	offsets := make([]uint32, n+1)
	for i := range offsets {
		offsets[i] = binary.LittleEndian.Uint32(data[4+i*4:])
	}
	if int64(offsets[0]) < tableEnd || offsets[0] > uint32(len(data)) {
		return nil, fmt.Errorf("%w: first record offset %d", ErrCorrupt, offsets[0])
	}
	for i := 0; i < n; i++ {
		if offsets[i+1] < offsets[i] || offsets[i+1] > uint32(len(data)) {
			return nil, fmt.Errorf("%w: record %d offsets out of order", ErrCorrupt, i)
		}
	}
	return &File{
		data:    data,
		offsets: offsets,
		info:    data[tableEnd:offsets[0]],
	}, nil
}

// Count returns the number of records in the shard.
func (f *File) Count() int { return len(f.offsets) - 1 }

// Info returns the embedded self-description blob.
func (f *File) Info() []byte { return f.info }

// Record returns the raw encoded bytes of record i, aliasing the file data.
func (f *File) Record(i int) ([]byte, error) {
	if i < 0 || i >= f.Count() {
		return nil, fmt.Errorf("shard: record %d out of range [0, %d)", i, f.Count())
	}
	return f.data[f.offsets[i]:f.offsets[i+1]], nil
}
