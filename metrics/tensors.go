package metrics

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// FlattenTensors is Flatten for labels shaped [batch, seq_length] (Int32 or Int64) and logits shaped
// [batch, seq_length, num_labels] (Float32 or Float64).
func FlattenTensors(labels, logits *tensors.Tensor) (flatTrue, flatPred []int32, err error) {
	if labels == nil || logits == nil {
		return nil, nil, errors.New("missing labels or logits tensor")
	}
	labelDims, logitDims := labels.Shape().Dimensions, logits.Shape().Dimensions
	if len(labelDims) != 2 || len(logitDims) != 3 || labelDims[0] != logitDims[0] || labelDims[1] != logitDims[1] {
		return nil, nil, errors.Errorf("labels shaped %v don't match logits shaped %v", labelDims, logitDims)
	}
	batchSize, seqLength, numLabels := logitDims[0], logitDims[1], logitDims[2]

	ids, err := int32Values(labels)
	if err != nil {
		return nil, nil, err
	}
	scores, err := float32Values(logits)
	if err != nil {
		return nil, nil, err
	}

	trueIDs := make([][]int32, batchSize)
	rowLogits := make([][][]float32, batchSize)
	for b := range batchSize {
		trueIDs[b] = ids[b*seqLength : (b+1)*seqLength]
		rowLogits[b] = make([][]float32, seqLength)
		for p := range seqLength {
			start := (b*seqLength + p) * numLabels
			rowLogits[b][p] = scores[start : start+numLabels]
		}
	}
	return Flatten(trueIDs, rowLogits)
}

func int32Values(t *tensors.Tensor) ([]int32, error) {
	switch dtype := t.Shape().DType; dtype {
	case dtypes.Int32:
		return tensors.CopyFlatData[int32](t)
	case dtypes.Int64:
		wide, err := tensors.CopyFlatData[int64](t)
		if err != nil {
			return nil, err
		}
		values := make([]int32, len(wide))
		for i, v := range wide {
			values[i] = int32(v)
		}
		return values, nil
	default:
		return nil, errors.Errorf("labels must be Int32 or Int64, got %s", dtype)
	}
}

func float32Values(t *tensors.Tensor) ([]float32, error) {
	switch dtype := t.Shape().DType; dtype {
	case dtypes.Float32:
		return tensors.CopyFlatData[float32](t)
	case dtypes.Float64:
		wide, err := tensors.CopyFlatData[float64](t)
		if err != nil {
			return nil, err
		}
		values := make([]float32, len(wide))
		for i, v := range wide {
			values[i] = float32(v)
		}
		return values, nil
	default:
		return nil, errors.Errorf("logits must be Float32 or Float64, got %s", dtype)
	}
}
