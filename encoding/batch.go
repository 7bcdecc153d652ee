package encoding

import (
	"math/rand/v2"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Batch is a group of encoded examples of the same length, each field indexed [example][position].
type Batch struct {
	TokenIDs      [][]int32
	AttentionMask [][]int32
	SegmentIDs    [][]int32
	LabelIDs      [][]int32
}

// NewBatch groups the encoded examples. The slices are shared, not copied.
func NewBatch(encoded []*Encoded) (*Batch, error) {
	b := &Batch{
		TokenIDs:      make([][]int32, len(encoded)),
		AttentionMask: make([][]int32, len(encoded)),
		SegmentIDs:    make([][]int32, len(encoded)),
		LabelIDs:      make([][]int32, len(encoded)),
	}
	for i, e := range encoded {
		if i > 0 && e.Len() != encoded[0].Len() {
			return nil, errors.Wrapf(ErrLengthInvariant, "batch example #%d has length %d, example #0 has %d", i, e.Len(), encoded[0].Len())
		}
		b.TokenIDs[i] = e.TokenIDs
		b.AttentionMask[i] = e.AttentionMask
		b.SegmentIDs[i] = e.SegmentIDs
		b.LabelIDs[i] = e.LabelIDs
	}
	return b, nil
}

// Size returns the number of examples in the batch.
func (b *Batch) Size() int { return len(b.TokenIDs) }

// SeqLength returns the length of the sequences, 0 for an empty batch.
func (b *Batch) SeqLength() int {
	if len(b.TokenIDs) == 0 {
		return 0
	}
	return len(b.TokenIDs[0])
}

// BatchTensors holds the batch fields as Int32 tensors shaped [batch_size, seq_length].
type BatchTensors struct {
	TokenIDs, AttentionMask, SegmentIDs, LabelIDs *tensors.Tensor
}

// Tensors converts the batch to GoMLX tensors.
func (b *Batch) Tensors() *BatchTensors {
	toTensor := func(rows [][]int32) *tensors.Tensor {
		flat := make([]int32, 0, b.Size()*b.SeqLength())
		for _, row := range rows {
			flat = append(flat, row...)
		}
		return tensors.FromFlatDataAndDimensions(flat, b.Size(), b.SeqLength())
	}
	return &BatchTensors{
		TokenIDs:      toTensor(b.TokenIDs),
		AttentionMask: toTensor(b.AttentionMask),
		SegmentIDs:    toTensor(b.SegmentIDs),
		LabelIDs:      toTensor(b.LabelIDs),
	}
}

// Batches splits encoded into batches of batchSize examples; the last one may be smaller.
// If rng is not nil, the examples are shuffled first (encoded itself is not reordered).
func Batches(encoded []*Encoded, batchSize int, rng *rand.Rand) ([]*Batch, error) {
	if batchSize <= 0 {
		return nil, errors.Errorf("invalid batch size %d", batchSize)
	}
	order := make([]*Encoded, len(encoded))
	copy(order, encoded)
	if rng != nil {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	batches := make([]*Batch, 0, (len(order)+batchSize-1)/batchSize)
	for start := 0; start < len(order); start += batchSize {
		end := min(start+batchSize, len(order))
		b, err := NewBatch(order[start:end])
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, nil
}
