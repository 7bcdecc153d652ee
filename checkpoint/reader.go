package checkpoint

import (
	"io"
	"slices"
	"sort"

	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"golang.org/x/exp/mmap"
)

// Reader gives access to the tensors of a checkpoint file through a memory map.
type Reader struct {
	reader     *mmap.ReaderAt
	dataOffset int64
	Header     *Header
}

// Open parses the header of the checkpoint at path and maps the file.
func Open(path string) (*Reader, error) {
	header, dataOffset, err := ReadHeader(path)
	if err != nil {
		return nil, err
	}
	reader, err := mmap.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to mmap %s", path)
	}
	return &Reader{reader: reader, dataOffset: dataOffset, Header: header}, nil
}

// Close unmaps the file.
func (r *Reader) Close() error {
	return r.reader.Close()
}

// Names returns the tensor names, sorted.
func (r *Reader) Names() []string {
	names := make([]string, 0, len(r.Header.Tensors))
	for name := range r.Header.Tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ReadTensor copies the named tensor out of the file.
func (r *Reader) ReadTensor(name string) (*tensors.Tensor, error) {
	meta, ok := r.Header.Tensors[name]
	if !ok {
		return nil, errors.Errorf("tensor %s not found", name)
	}
	dtype, err := dtypeToGoMLX(meta.Dtype)
	if err != nil {
		return nil, err
	}

	t := tensors.FromShape(shapes.Make(dtype, meta.Shape...))
	offset := r.dataOffset + meta.DataOffsets[0]
	var readErr error
	t.MutableBytes(func(data []byte) {
		expectedBytes := int64(t.Shape().Size()) * int64(dtype.Size())
		if int64(len(data)) != expectedBytes || meta.DataOffsets[1]-meta.DataOffsets[0] != expectedBytes {
			readErr = errors.Errorf("tensor %s shaped %s needs %d bytes, file has %d", name, t.Shape(), expectedBytes,
				meta.DataOffsets[1]-meta.DataOffsets[0])
			return
		}
		_, readErr = r.reader.ReadAt(data, offset)
		if readErr == io.EOF && expectedBytes == 0 {
			readErr = nil
		}
		if readErr != nil {
			readErr = errors.Wrapf(readErr, "failed to read tensor %s", name)
		}
	})
	if readErr != nil {
		return nil, readErr
	}
	return t, nil
}

// All reads every tensor, in file order.
func (r *Reader) All() (map[string]*tensors.Tensor, error) {
	names := r.Names()
	slices.SortFunc(names, func(a, b string) int {
		oa, ob := r.Header.Tensors[a].DataOffsets[0], r.Header.Tensors[b].DataOffsets[0]
		switch {
		case oa < ob:
			return -1
		case oa > ob:
			return 1
		}
		return 0
	})
	all := make(map[string]*tensors.Tensor, len(names))
	for _, name := range names {
		t, err := r.ReadTensor(name)
		if err != nil {
			return nil, err
		}
		all[name] = t
	}
	return all, nil
}
