package checkpoint

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"sort"

	"github.com/gomlx/go-nerkit/internal/files"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Save writes the named tensors, and optional string metadata, to path. Tensors are laid out sorted
// by name. The file is replaced atomically.
func Save(path string, named map[string]*tensors.Tensor, metadata map[string]string) error {
	names := make([]string, 0, len(named))
	for name := range named {
		if name == metadataKey {
			return errors.Errorf("tensor name %q is reserved", name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]any, len(names)+1)
	if len(metadata) > 0 {
		header[metadataKey] = metadata
	}
	var data bytes.Buffer
	for _, name := range names {
		t := named[name]
		dtypeName, err := dtypeFromGoMLX(t.Shape().DType)
		if err != nil {
			return errors.WithMessagef(err, "tensor %q", name)
		}
		start := int64(data.Len())
		if err := t.ConstBytes(func(raw []byte) { data.Write(raw) }); err != nil {
			return errors.Wrapf(err, "reading tensor %q", name)
		}
		header[name] = &TensorMetadata{
			Dtype:       dtypeName,
			Shape:       append([]int{}, t.Shape().Dimensions...),
			DataOffsets: [2]int64{start, int64(data.Len())},
		}
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return errors.Wrap(err, "encoding checkpoint header")
	}
	if pad := len(headerJSON) % 8; pad != 0 {
		headerJSON = append(headerJSON, bytes.Repeat([]byte{' '}, 8-pad)...)
	}
	content := make([]byte, 8, 8+len(headerJSON)+data.Len())
	binary.LittleEndian.PutUint64(content, uint64(len(headerJSON)))
	content = append(content, headerJSON...)
	content = append(content, data.Bytes()...)
	if err := files.WriteAtomic(path, content, 0644); err != nil {
		return err
	}
	klog.V(1).Infof("saved %d tensors (%d bytes) to %q", len(names), len(content), path)
	return nil
}

// Float32Values returns a copy of the values of a Float32 tensor, in row-major order.
func Float32Values(t *tensors.Tensor) ([]float32, error) {
	if t.Shape().DType != dtypes.Float32 {
		return nil, errors.Errorf("want a Float32 tensor, got %s", t.Shape())
	}
	return tensors.CopyFlatData[float32](t)
}
