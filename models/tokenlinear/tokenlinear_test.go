package tokenlinear

import (
	"path/filepath"
	"testing"

	"github.com/gomlx/compute/gobackend"
	"github.com/gomlx/go-nerkit/encoding"
	"github.com/gomlx/go-nerkit/metrics"
	"github.com/gomlx/go-nerkit/models"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ models.Model = (*Model)(nil)

// newBatch builds a batch of 2 examples of length 5: [CLS] x y [SEP] [PAD].
func newBatch(t *testing.T) *encoding.Batch {
	b, err := encoding.NewBatch([]*encoding.Encoded{
		{
			TokenIDs:      []int32{2, 10, 11, 3, 0},
			AttentionMask: []int32{1, 1, 1, 1, 0},
			SegmentIDs:    []int32{0, 0, 0, 0, 0},
			LabelIDs:      []int32{1, 3, 4, 2, 0},
		},
		{
			TokenIDs:      []int32{2, 11, 12, 3, 0},
			AttentionMask: []int32{1, 1, 1, 1, 0},
			SegmentIDs:    []int32{0, 0, 0, 0, 0},
			LabelIDs:      []int32{1, 4, 3, 2, 0},
		},
	})
	require.NoError(t, err)
	return b
}

func logitValues(t *testing.T, out models.Output) []float32 {
	values, err := tensors.CopyFlatData[float32](out.Logits)
	require.NoError(t, err)
	return values
}

func TestTrainStep(t *testing.T) {
	m, err := New(DefaultConfig(16, 5))
	require.NoError(t, err)
	b := newBatch(t)

	first, err := m.Predict(b)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 5, 5}, first.Logits.Shape().Dimensions)

	for range 200 {
		_, err := m.TrainStep(b, 0.05)
		require.NoError(t, err)
	}
	last, err := m.Predict(b)
	require.NoError(t, err)
	assert.Less(t, last.Loss, first.Loss)

	flatTrue, flatPred, err := metrics.FlattenTensors(b.Tensors().LabelIDs, last.Logits)
	require.NoError(t, err)
	for i := range b.Size() {
		for j := range b.SeqLength() {
			if b.AttentionMask[i][j] == 0 {
				continue
			}
			pos := i*b.SeqLength() + j
			assert.Equal(t, flatTrue[pos], flatPred[pos], "example %d position %d", i, j)
		}
	}
}

func TestSeed(t *testing.T) {
	b := newBatch(t)
	outputs := make([][]float32, 3)
	for i, seed := range []uint64{7, 7, 8} {
		cfg := DefaultConfig(16, 5)
		cfg.Seed = seed
		m, err := New(cfg)
		require.NoError(t, err)
		out, err := m.Predict(b)
		require.NoError(t, err)
		outputs[i] = logitValues(t, out)
	}
	assert.Equal(t, outputs[0], outputs[1])
	assert.NotEqual(t, outputs[0], outputs[2])
}

func TestSaveLoad(t *testing.T) {
	cfg := DefaultConfig(16, 5)
	cfg.WeightDecay = 0.01
	m, err := New(cfg)
	require.NoError(t, err)
	b := newBatch(t)
	_, err = m.TrainStep(b, 0.5)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "model.safetensors")
	require.NoError(t, m.Save(path))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 16, loaded.Config().VocabSize)
	assert.Equal(t, 5, loaded.Config().NumLabels)
	assert.Equal(t, 0.01, loaded.Config().WeightDecay)
	assert.Equal(t, 1.0, loaded.Config().MaxGradNorm)

	want, err := m.Predict(b)
	require.NoError(t, err)
	got, err := loaded.Predict(b)
	require.NoError(t, err)
	assert.Equal(t, logitValues(t, want), logitValues(t, got))
	assert.Equal(t, want.Loss, got.Loss)

	// The loaded model keeps training.
	_, err = loaded.TrainStep(b, 0.5)
	require.NoError(t, err)
}

func TestClipByGlobalNorm(t *testing.T) {
	clip := func(maxNorm float64) []*tensors.Tensor {
		outputs, err := graph.ExecOnceN(gobackend.GetBackend(), func(a, b *graph.Node) []*graph.Node {
			return clipByGlobalNorm([]*graph.Node{a, b}, maxNorm)
		}, []float32{3}, []float32{0, 4})
		require.NoError(t, err)
		require.Len(t, outputs, 2)
		return outputs
	}

	// Global norm 5, clipped to 1.
	outputs := clip(1)
	assert.InDeltaSlice(t, []float32{0.6}, tensors.MustCopyFlatData[float32](outputs[0]), 1e-6)
	assert.InDeltaSlice(t, []float32{0, 0.8}, tensors.MustCopyFlatData[float32](outputs[1]), 1e-6)

	// Below the limit: unchanged.
	outputs = clip(10)
	assert.InDeltaSlice(t, []float32{3}, tensors.MustCopyFlatData[float32](outputs[0]), 1e-6)
	assert.InDeltaSlice(t, []float32{0, 4}, tensors.MustCopyFlatData[float32](outputs[1]), 1e-6)
}

func TestErrors(t *testing.T) {
	_, err := New(Config{VocabSize: 0, NumLabels: 3})
	assert.Error(t, err)
	_, err = New(Config{VocabSize: 3, NumLabels: 0})
	assert.Error(t, err)

	m, err := New(DefaultConfig(4, 5))
	require.NoError(t, err)
	_, err = m.Predict(newBatch(t))
	assert.Error(t, err, "token ids beyond the vocabulary")

	m, err = New(DefaultConfig(16, 3))
	require.NoError(t, err)
	_, err = m.TrainStep(newBatch(t), 0.1)
	assert.Error(t, err, "label ids beyond the labels")

	_, err = Load(filepath.Join(t.TempDir(), "missing.safetensors"))
	assert.Error(t, err)
}
