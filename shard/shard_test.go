package shard

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var fields = []string{"x", "y"}

func TestRecord_RoundTrip(t *testing.T) {
	rec := Record{"x": []byte("image-bytes-here"), "y": []byte{0, 1, 255}}

	encoded := EncodeRecord(fields, rec)
	require.Equal(t, EncodedRecordSize(fields, rec), int64(len(encoded)))

	decoded, err := DecodeRecord(fields, encoded)
	require.NoError(t, err)
	require.Equal(t, rec, decoded)
}

func TestRecord_EmptyFields(t *testing.T) {
	rec := Record{"x": nil, "y": []byte{}}
	decoded, err := DecodeRecord(fields, EncodeRecord(fields, rec))
	require.NoError(t, err)
	require.Empty(t, decoded["x"])
	require.Empty(t, decoded["y"])
}

func TestDecodeRecord_Truncated(t *testing.T) {
	rec := Record{"x": []byte("abcdef"), "y": []byte("gh")}
	encoded := EncodeRecord(fields, rec)

	_, err := DecodeRecord(fields, encoded[:len(encoded)-1])
	require.ErrorIs(t, err, ErrTruncated)

	_, err = DecodeRecord(fields, encoded[:3])
	require.ErrorIs(t, err, ErrTruncated)
}

func TestBuilder_FinishAndParse(t *testing.T) {
	b := NewBuilder()
	info := []byte(`{"version":2}`)

	recs := []Record{
		{"x": []byte("first"), "y": []byte("1")},
		{"x": []byte("second record"), "y": []byte("2")},
		{"x": []byte(""), "y": []byte("3")},
	}
	for _, rec := range recs {
		b.Append(EncodeRecord(fields, rec))
	}
	require.Equal(t, 3, b.Count())

	data, offsets, lengths := b.Finish(info)
	require.Equal(t, b.FileSize(len(info)), int64(len(data)))
	require.Len(t, offsets, 4)
	require.Len(t, lengths, 3)
	require.Equal(t, uint32(len(data)), offsets[3])

	f, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, 3, f.Count())
	require.Equal(t, info, f.Info())

	for i, want := range recs {
		raw, err := f.Record(i)
		require.NoError(t, err)
		require.Equal(t, int(lengths[i]), len(raw))

		got, err := DecodeRecord(fields, raw)
		require.NoError(t, err)
		require.Equal(t, want["x"], append([]byte{}, got["x"]...))
		require.Equal(t, want["y"], got["y"])
	}

	_, err = f.Record(3)
	require.Error(t, err)
}

func TestBuilder_Empty(t *testing.T) {
	b := NewBuilder()
	data, offsets, lengths := b.Finish(nil)
	require.Empty(t, lengths)
	require.Len(t, offsets, 1)

	f, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, 0, f.Count())
}

func TestParse_Corrupt(t *testing.T) {
	_, err := Parse([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrTruncated)

	b := NewBuilder()
	b.Append(EncodeRecord(fields, Record{"x": []byte("a"), "y": []byte("b")}))
	data, _, _ := b.Finish(nil)

	_, err = Parse(data[:len(data)-2])
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestCompression_RoundTrip(t *testing.T) {
	b := NewBuilder()
	for i := 0; i < 100; i++ {
		b.Append(EncodeRecord(fields, Record{
			"x": []byte("repetitive payload that should compress well"),
			"y": []byte{byte(i)},
		}))
	}
	raw, _, _ := b.Finish([]byte(`{"version":2}`))

	for _, c := range []Compression{CompressionNone, CompressionZstd, CompressionLZ4} {
		t.Run(c.String(), func(t *testing.T) {
			compressed, err := Compress(raw, c)
			require.NoError(t, err)
			if c != CompressionNone {
				require.Less(t, len(compressed), len(raw))
			}

			back, err := Decompress(compressed, c, int64(len(raw)))
			require.NoError(t, err)
			require.Equal(t, raw, back)
		})
	}
}

func TestParseCompression(t *testing.T) {
	for _, name := range []string{"", "zstd", "lz4"} {
		c, err := ParseCompression(name)
		require.NoError(t, err)
		require.Equal(t, name, c.String())
	}
	_, err := ParseCompression("gzip")
	require.Error(t, err)
}

func TestBasename(t *testing.T) {
	require.Equal(t, "shard.00000.mds", Basename(0))
	require.Equal(t, "shard.00042.mds", Basename(42))
}
