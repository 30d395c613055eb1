package hashes

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSum_KnownVectors(t *testing.T) {
	tests := []struct {
		algo  string
		input string
		want  string
	}{
		{"sha1", "abc", "a9993e364706816aba3e25717850c26c9cd0d89d"},
		{"sha256", "abc", "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
		{"xxh64", "", "ef46db3751d8e999"},
		{"crc32c", "123456789", "e3069283"},
	}
	for _, tt := range tests {
		t.Run(tt.algo, func(t *testing.T) {
			got, err := Sum(tt.algo, []byte(tt.input))
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestSum_Unknown(t *testing.T) {
	_, err := Sum("md5crc", []byte("x"))
	require.Error(t, err)
}

func TestSumAll(t *testing.T) {
	digests, err := SumAll([]string{"sha1", "xxh64"}, []byte("abc"))
	require.NoError(t, err)
	require.Len(t, digests, 2)
	require.Equal(t, "a9993e364706816aba3e25717850c26c9cd0d89d", digests["sha1"])

	empty, err := SumAll(nil, []byte("abc"))
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestSupported(t *testing.T) {
	require.Equal(t, []string{"crc32c", "sha1", "sha256", "xxh64"}, Supported())
	require.True(t, IsSupported("xxh64"))
	require.False(t, IsSupported("md5"))
}
