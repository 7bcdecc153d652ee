// Package checkpoint saves and loads named tensors in the safetensors format:
//
//	[8 bytes: header size as little-endian u64]
//	[header_size bytes: JSON header, padded with spaces to a multiple of 8]
//	[remaining bytes: tensor data]
//
// Files are read through a memory map, so tensors are only copied when requested.
package checkpoint

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/pkg/errors"
)

// metadataKey is the header entry with free-form string metadata.
const metadataKey = "__metadata__"

// maxHeaderSize is a sanity limit on the JSON header.
const maxHeaderSize = 100 * 1024 * 1024

// TensorMetadata describes one tensor of a checkpoint file.
type TensorMetadata struct {
	Name        string   `json:"-"`
	Dtype       string   `json:"dtype"`        // F32, F64, I32, I64, ...
	Shape       []int    `json:"shape"`        // Dimensions.
	DataOffsets [2]int64 `json:"data_offsets"` // [start, end) relative to the start of the data.
}

// Header is the parsed JSON header of a checkpoint file.
type Header struct {
	Tensors  map[string]*TensorMetadata
	Metadata map[string]string
}

// ReadHeader reads and parses the header of the file at path. It returns the header and the file
// offset where the tensor data starts.
func ReadHeader(path string) (*Header, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "failed to open file %s", path)
	}
	defer f.Close()

	var headerSize uint64
	if err := binary.Read(f, binary.LittleEndian, &headerSize); err != nil {
		return nil, 0, errors.Wrapf(err, "failed to read header size of %s", path)
	}
	if headerSize > maxHeaderSize {
		return nil, 0, errors.Errorf("header size too large: %d bytes", headerSize)
	}
	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(f, headerBytes); err != nil {
		return nil, 0, errors.Wrapf(err, "failed to read header JSON of %s", path)
	}

	var rawHeader map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &rawHeader); err != nil {
		return nil, 0, errors.Wrapf(err, "failed to parse header JSON of %s", path)
	}
	header := &Header{
		Tensors:  make(map[string]*TensorMetadata, len(rawHeader)),
		Metadata: make(map[string]string),
	}
	for key, value := range rawHeader {
		if key == metadataKey {
			if err := json.Unmarshal(value, &header.Metadata); err != nil {
				return nil, 0, errors.Wrap(err, "failed to parse __metadata__")
			}
			continue
		}
		var tm TensorMetadata
		if err := json.Unmarshal(value, &tm); err != nil {
			return nil, 0, errors.Wrapf(err, "failed to parse tensor metadata for %s", key)
		}
		tm.Name = key
		header.Tensors[key] = &tm
	}
	return header, int64(8 + headerSize), nil
}

// dtypeToGoMLX converts a safetensors dtype name (e.g. "F32") to a GoMLX dtype.
func dtypeToGoMLX(stDtype string) (dtypes.DType, error) {
	dtype, found := dtypes.MapOfNames[strings.ToLower(stDtype)]
	if !found {
		return dtypes.InvalidDType, errors.Errorf("dtype %q not supported", stDtype)
	}
	return dtype, nil
}

// dtypeNames are the safetensors names of the dtypes Save supports.
var dtypeNames = map[dtypes.DType]string{
	dtypes.Float32: "F32",
	dtypes.Float64: "F64",
	dtypes.Int32:   "I32",
	dtypes.Int64:   "I64",
	dtypes.Uint8:   "U8",
}

func dtypeFromGoMLX(dtype dtypes.DType) (string, error) {
	name, found := dtypeNames[dtype]
	if !found {
		return "", errors.Errorf("saving dtype %s is not supported", dtype)
	}
	return name, nil
}
