package tracking

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
	"k8s.io/klog/v2"
)

// Field numbers of the tensorflow.Event and tensorflow.Summary protos.
const (
	eventWallTime    protowire.Number = 1
	eventStep        protowire.Number = 2
	eventFileVersion protowire.Number = 3
	eventSummary     protowire.Number = 5

	summaryValue protowire.Number = 1

	valueTag         protowire.Number = 1
	valueSimpleValue protowire.Number = 2
)

// FileVersion is written as the first event of each file.
const FileVersion = "brain.Event:2"

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// maskedCRC is the masked CRC32-C used by TFRecord framing.
func maskedCRC(data []byte) uint32 {
	crc := crc32.Checksum(data, crcTable)
	return ((crc >> 15) | (crc << 17)) + 0xa282ead8
}

// EventWriter appends scalar summaries to a TensorBoard event file. Its methods are safe for concurrent use.
type EventWriter struct {
	path string

	mu  sync.Mutex
	f   *os.File
	buf *bufio.Writer
}

// NewEventWriter creates a new event file in dir, named like TensorBoard expects:
// "events.out.tfevents.<unix seconds>.<hostname>", with a ".<n>" suffix if that file already exists.
func NewEventWriter(dir string) (*EventWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating event directory %q", dir)
	}
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	base := filepath.Join(dir, fmt.Sprintf("events.out.tfevents.%d.%s", time.Now().Unix(), host))
	path := base
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	for i := 1; os.IsExist(err); i++ {
		path = fmt.Sprintf("%s.%d", base, i)
		f, err = os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "creating event file %q", path)
	}
	w := &EventWriter{path: path, f: f, buf: bufio.NewWriter(f)}
	first := protowire.AppendTag(nil, eventWallTime, protowire.Fixed64Type)
	first = protowire.AppendFixed64(first, math.Float64bits(wallTime()))
	first = protowire.AppendTag(first, eventFileVersion, protowire.BytesType)
	first = protowire.AppendString(first, FileVersion)
	if err := w.writeRecord(first); err != nil {
		_ = f.Close()
		return nil, err
	}
	klog.V(1).Infof("writing TensorBoard events to %q", path)
	return w, nil
}

// Path returns the event file path.
func (w *EventWriter) Path() string { return w.path }

func wallTime() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// writeRecord frames data as a TFRecord: length, masked CRC of the length, data, masked CRC of the data.
func (w *EventWriter) writeRecord(data []byte) error {
	var header [8]byte
	binary.LittleEndian.PutUint64(header[:], uint64(len(data)))
	var crc [4]byte
	record := make([]byte, 0, len(data)+16)
	record = append(record, header[:]...)
	binary.LittleEndian.PutUint32(crc[:], maskedCRC(header[:]))
	record = append(record, crc[:]...)
	record = append(record, data...)
	binary.LittleEndian.PutUint32(crc[:], maskedCRC(data))
	record = append(record, crc[:]...)
	if _, err := w.buf.Write(record); err != nil {
		return errors.Wrapf(err, "writing event to %q", w.path)
	}
	return nil
}

// AddScalar writes one scalar at step.
func (w *EventWriter) AddScalar(tag string, value float64, step int64) error {
	return w.AddScalars(step, map[string]float64{tag: value})
}

// AddScalars writes one event at step with a summary value per tag, sorted by tag.
func (w *EventWriter) AddScalars(step int64, values map[string]float64) error {
	tags := make([]string, 0, len(values))
	for tag := range values {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	var summary []byte
	for _, tag := range tags {
		var value []byte
		value = protowire.AppendTag(value, valueTag, protowire.BytesType)
		value = protowire.AppendString(value, tag)
		value = protowire.AppendTag(value, valueSimpleValue, protowire.Fixed32Type)
		value = protowire.AppendFixed32(value, math.Float32bits(float32(values[tag])))
		summary = protowire.AppendTag(summary, summaryValue, protowire.BytesType)
		summary = protowire.AppendBytes(summary, value)
	}

	event := protowire.AppendTag(nil, eventWallTime, protowire.Fixed64Type)
	event = protowire.AppendFixed64(event, math.Float64bits(wallTime()))
	event = protowire.AppendTag(event, eventStep, protowire.VarintType)
	event = protowire.AppendVarint(event, uint64(step))
	event = protowire.AppendTag(event, eventSummary, protowire.BytesType)
	event = protowire.AppendBytes(event, summary)

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeRecord(event)
}

// Flush writes buffered events to the file.
func (w *EventWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		return errors.Wrapf(err, "flushing events to %q", w.path)
	}
	return nil
}

// Close flushes and closes the event file.
func (w *EventWriter) Close() error {
	if err := w.Flush(); err != nil {
		_ = w.f.Close()
		return err
	}
	return errors.Wrapf(w.f.Close(), "closing %q", w.path)
}

// Event is a decoded event record.
type Event struct {
	WallTime    float64
	Step        int64
	FileVersion string
	Scalars     map[string]float32
}

// ReadEvents decodes all the events of an event file, verifying the record checksums.
func ReadEvents(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening event file %q", path)
	}
	defer func() { _ = f.Close() }()
	r := bufio.NewReader(f)

	var events []Event
	for {
		var header [12]byte
		if _, err := io.ReadFull(r, header[:]); err != nil {
			if err == io.EOF {
				return events, nil
			}
			return nil, errors.Wrapf(err, "reading record header of %q", path)
		}
		if maskedCRC(header[:8]) != binary.LittleEndian.Uint32(header[8:]) {
			return nil, errors.Errorf("corrupted record length in %q", path)
		}
		data := make([]byte, binary.LittleEndian.Uint64(header[:8])+4)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, errors.Wrapf(err, "reading record of %q", path)
		}
		data, crc := data[:len(data)-4], binary.LittleEndian.Uint32(data[len(data)-4:])
		if maskedCRC(data) != crc {
			return nil, errors.Errorf("corrupted record data in %q", path)
		}
		event, err := decodeEvent(data)
		if err != nil {
			return nil, errors.WithMessagef(err, "event #%d of %q", len(events), path)
		}
		events = append(events, event)
	}
}

// consumeFields calls fn for each field of a protobuf message; fn returns the number of bytes consumed
// of the field value, or a negative protowire error code.
func consumeFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) int) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		n = fn(num, typ, b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
	}
	return nil
}

func decodeEvent(b []byte) (Event, error) {
	e := Event{Scalars: make(map[string]float32)}
	var summaryErr error
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == eventWallTime && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			e.WallTime = math.Float64frombits(v)
			return n
		case num == eventStep && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			e.Step = int64(v)
			return n
		case num == eventFileVersion && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			e.FileVersion = v
			return n
		case num == eventSummary && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n >= 0 {
				summaryErr = decodeSummary(v, e.Scalars)
			}
			return n
		}
		return protowire.ConsumeFieldValue(num, typ, b)
	})
	if err == nil {
		err = summaryErr
	}
	return e, err
}

func decodeSummary(b []byte, scalars map[string]float32) error {
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num != summaryValue || typ != protowire.BytesType {
			return protowire.ConsumeFieldValue(num, typ, b)
		}
		value, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n
		}
		var tag string
		var simple float32
		err := consumeFields(value, func(num protowire.Number, typ protowire.Type, b []byte) int {
			switch {
			case num == valueTag && typ == protowire.BytesType:
				v, m := protowire.ConsumeString(b)
				tag = v
				return m
			case num == valueSimpleValue && typ == protowire.Fixed32Type:
				v, m := protowire.ConsumeFixed32(b)
				simple = math.Float32frombits(v)
				return m
			}
			return protowire.ConsumeFieldValue(num, typ, b)
		})
		if err != nil {
			return -1
		}
		scalars[tag] = simple
		return n
	})
}
