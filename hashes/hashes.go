// Package hashes is the registry of digest algorithms used to fingerprint
// serialized records and sealed shard files.
//
// Two families are offered: fast non-cryptographic checksums (xxh64, crc32c)
// for cheap corruption detection, and cryptographic digests (sha1, sha256)
// for content addressing. Digests are rendered as lowercase hex, which is
// how they appear in index.json.
package hashes

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"hash/crc32"
	"sort"

	"github.com/cespare/xxhash/v2"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

var algorithms = map[string]func() hash.Hash{
	"sha1":   sha1.New,
	"sha256": sha256.New,
	"xxh64":  func() hash.Hash { return xxhash.New() },
	"crc32c": func() hash.Hash { return crc32.New(castagnoli) },
}

// Supported returns the names of all registered algorithms, sorted.
func Supported() []string {
	names := make([]string, 0, len(algorithms))
	for name := range algorithms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsSupported reports whether name is a registered algorithm.
func IsSupported(name string) bool {
	_, ok := algorithms[name]
	return ok
}

// New returns a fresh hasher for the named algorithm.
func New(name string) (hash.Hash, error) {
	newFn, ok := algorithms[name]
	if !ok {
		return nil, fmt.Errorf("hashes: unknown algorithm %q (supported: %v)", name, Supported())
	}
	return newFn(), nil
}

// Sum computes the hex digest of data under the named algorithm.
func Sum(name string, data []byte) (string, error) {
	h, err := New(name)
	if err != nil {
		return "", err
	}
	_, _ = h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SumAll computes hex digests of data under every named algorithm.
// A nil or empty name list yields an empty map.
func SumAll(names []string, data []byte) (map[string]string, error) {
	if len(names) == 0 {
		return map[string]string{}, nil
	}
	digests := make(map[string]string, len(names))
	for _, name := range names {
		digest, err := Sum(name, data)
		if err != nil {
			return nil, err
		}
		digests[name] = digest
	}
	return digests, nil
}
