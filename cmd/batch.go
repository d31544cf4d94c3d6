package cmd

import (
	"errors"
	"fmt"
)

// ErrInvalidBatchSize is returned when a batch size is not positive
var ErrInvalidBatchSize = errors.New("batch size must be at least 1")

// SplitIntoBatches partitions items into ordered chunks of size, the last
// chunk holding the remainder. Chunks share the backing array of items.
func SplitIntoBatches[T any](items []T, size int) ([][]T, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBatchSize, size)
	}

	batches := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		batches = append(batches, items[start:end:end])
	}
	return batches, nil
}
