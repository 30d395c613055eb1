package streaming

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrWriterClosed is returned by Write after Close.
	ErrWriterClosed = errors.New("streaming: writer closed")

	// ErrSchemaMismatch indicates a record whose field set does not equal the
	// writer's declared schema. The write is rejected; the writer stays open.
	ErrSchemaMismatch = errors.New("streaming: record does not match schema")

	// ErrIntegrityMismatch indicates a shard whose recomputed digest
	// disagrees with the index. The cached copy is discarded.
	ErrIntegrityMismatch = errors.New("streaming: shard integrity mismatch")

	// ErrIndexCorrupt indicates an index that cannot be decoded or is
	// internally inconsistent. Fatal for the dataset.
	ErrIndexCorrupt = errors.New("streaming: corrupt index")

	// ErrMissingShard indicates the index references a shard that cannot be
	// found or is shorter than required. Fatal for the dataset.
	ErrMissingShard = errors.New("streaming: missing shard")
)

// SchemaMismatchError reports exactly how a record diverged from the schema.
//
// errors.Is(err, ErrSchemaMismatch) holds for values of this type.
type SchemaMismatchError struct {
	Missing []string // schema fields absent from the record
	Extra   []string // record fields absent from the schema
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("%v: missing fields %v, unexpected fields %v",
		ErrSchemaMismatch, e.Missing, e.Extra)
}

func (e *SchemaMismatchError) Unwrap() error { return ErrSchemaMismatch }

// IntegrityError reports a digest disagreement for one shard.
//
// errors.Is(err, ErrIntegrityMismatch) holds for values of this type.
type IntegrityError struct {
	Shard     string
	Algorithm string
	Want      string // digest from the index
	Got       string // digest recomputed over the fetched bytes
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%v: shard %q %s digest is %s, index says %s",
		ErrIntegrityMismatch, e.Shard, e.Algorithm, e.Got, e.Want)
}

func (e *IntegrityError) Unwrap() error { return ErrIntegrityMismatch }

// checkSchema compares a record's field set against the schema field list.
func checkSchema(fields []string, rec Record) error {
	if len(rec) == len(fields) {
		ok := true
		for _, name := range fields {
			if _, present := rec[name]; !present {
				ok = false
				break
			}
		}
		if ok {
			return nil
		}
	}

	inSchema := make(map[string]bool, len(fields))
	for _, name := range fields {
		inSchema[name] = true
	}
	e := &SchemaMismatchError{}
	for _, name := range fields {
		if _, present := rec[name]; !present {
			e.Missing = append(e.Missing, name)
		}
	}
	for name := range rec {
		if !inSchema[name] {
			e.Extra = append(e.Extra, name)
		}
	}
	sort.Strings(e.Extra)
	return e
}
