package checkpoint

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.safetensors")
	weights := tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	bias := tensors.FromFlatDataAndDimensions([]float32{0.5, -0.5, 0}, 3)
	steps := tensors.FromFlatDataAndDimensions([]int64{42}, 1)
	require.NoError(t, Save(path, map[string]*tensors.Tensor{
		"weights": weights,
		"bias":    bias,
		"steps":   steps,
	}, map[string]string{"format": "tokenlinear"}))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	headerSize := binary.LittleEndian.Uint64(content[:8])
	assert.Zero(t, headerSize%8)

	r, err := Open(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, r.Close()) }()

	assert.Equal(t, []string{"bias", "steps", "weights"}, r.Names())
	assert.Equal(t, "tokenlinear", r.Header.Metadata["format"])
	assert.Equal(t, "F32", r.Header.Tensors["weights"].Dtype)
	assert.Equal(t, [2]int64{0, 12}, r.Header.Tensors["bias"].DataOffsets)

	got, err := r.ReadTensor("weights")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, got.Shape().Dimensions)
	values, err := Float32Values(got)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, values)

	all, err := r.All()
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, dtypes.Int64, all["steps"].Shape().DType)
	values, err = Float32Values(all["bias"])
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -0.5, 0}, values)

	_, err = Float32Values(all["steps"])
	assert.Error(t, err)
	_, err = r.ReadTensor("missing")
	assert.Error(t, err)
}

func TestSaveErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.safetensors")
	assert.Error(t, Save(path, map[string]*tensors.Tensor{
		"__metadata__": tensors.FromFlatDataAndDimensions([]float32{1}, 1),
	}, nil))
	assert.Error(t, Save(path, map[string]*tensors.Tensor{
		"flags": tensors.FromFlatDataAndDimensions([]bool{true}, 1),
	}, nil))
}

func TestReadHeaderErrors(t *testing.T) {
	dir := t.TempDir()
	_, _, err := ReadHeader(filepath.Join(dir, "missing"))
	assert.Error(t, err)

	path := filepath.Join(dir, "huge")
	var size [8]byte
	binary.LittleEndian.PutUint64(size[:], maxHeaderSize+1)
	require.NoError(t, os.WriteFile(path, size[:], 0644))
	_, _, err = ReadHeader(path)
	assert.Error(t, err)

	path = filepath.Join(dir, "badjson")
	binary.LittleEndian.PutUint64(size[:], 3)
	require.NoError(t, os.WriteFile(path, append(size[:], []byte("{x}")...), 0644))
	_, _, err = ReadHeader(path)
	assert.Error(t, err)
}
