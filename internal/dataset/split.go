package dataset

import (
	"math"

	"imaged/pkg/types"
)

// Partition names one side of a train/validation split.
type Partition string

const (
	Train      Partition = "train"
	Validation Partition = "validation"
)

// Split holds the deterministic train/validation partitions of a dataset.
type Split struct {
	train []types.DatasetExample
	val   []types.DatasetExample
}

// Split partitions the dataset by row index: with train ratio r, every k-th
// example (k = round(1/(1-r))) goes to validation, the rest to training.
// The assignment depends only on row order, never on randomness, so
// re-loading the same manifest always yields the same split. When the
// modulo rule leaves validation empty and at least two examples exist, the
// last example is moved to validation so epoch evaluation always has data.
func (d *Dataset) Split(ratio float64) Split {
	if ratio <= 0 || ratio >= 1 {
		ratio = 0.8
	}
	k := int(math.Round(1 / (1 - ratio)))
	if k < 2 {
		k = 2
	}
	var s Split
	for i, ex := range d.examples {
		if (i+1)%k == 0 {
			s.val = append(s.val, ex)
		} else {
			s.train = append(s.train, ex)
		}
	}
	if len(s.val) == 0 && len(s.train) > 1 {
		last := len(s.train) - 1
		s.val = append(s.val, s.train[last])
		s.train = s.train[:last]
	}
	return s
}

// Examples returns the ordered examples of one partition.
func (s Split) Examples(p Partition) []types.DatasetExample {
	if p == Validation {
		return s.val
	}
	return s.train
}

// Len returns the size of one partition.
func (s Split) Len(p Partition) int { return len(s.Examples(p)) }

// BatchIter yields fixed-size batches over a partition in stable order.
// The final batch may be shorter. Reset rewinds to the start, so the same
// iterator replays identically across epochs without re-reading disk.
type BatchIter struct {
	examples  []types.DatasetExample
	batchSize int
	pos       int
}

// Batches returns a restartable batch iterator over partition p.
// batchSize values below one are treated as one.
func (s Split) Batches(p Partition, batchSize int) *BatchIter {
	if batchSize < 1 {
		batchSize = 1
	}
	return &BatchIter{examples: s.Examples(p), batchSize: batchSize}
}

// Next returns the next batch, or ok=false when the partition is exhausted.
func (it *BatchIter) Next() ([]types.DatasetExample, bool) {
	if it.pos >= len(it.examples) {
		return nil, false
	}
	end := it.pos + it.batchSize
	if end > len(it.examples) {
		end = len(it.examples)
	}
	batch := it.examples[it.pos:end]
	it.pos = end
	return batch, true
}

// Reset rewinds the iterator to the first batch.
func (it *BatchIter) Reset() { it.pos = 0 }
