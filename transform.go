package streaming

import (
	"context"
	"iter"
)

// MapFunc converts one raw record into a typed value. Field decoding lives
// here, in caller code, keeping storage oblivious to payload semantics.
type MapFunc[T any] func(Record) (T, error)

// Mapped presents a Dataset as a sequence of T by applying fn to each record.
type Mapped[T any] struct {
	ds *Dataset
	fn MapFunc[T]
}

// Map wraps a dataset with a record transform.
func Map[T any](d *Dataset, fn MapFunc[T]) *Mapped[T] {
	return &Mapped[T]{ds: d, fn: fn}
}

// Len returns the total record count.
func (m *Mapped[T]) Len() int { return m.ds.Len() }

// Get returns the transformed record at position.
func (m *Mapped[T]) Get(ctx context.Context, position int) (T, error) {
	rec, err := m.ds.Get(ctx, position)
	if err != nil {
		var zero T
		return zero, err
	}
	return m.fn(rec)
}

// All iterates the dataset in presentation order, yielding each record or
// the error that stopped it. Iteration ends after the first error.
func (d *Dataset) All(ctx context.Context) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		for i := 0; i < d.Len(); i++ {
			rec, err := d.Get(ctx, i)
			if !yield(rec, err) || err != nil {
				return
			}
		}
	}
}
