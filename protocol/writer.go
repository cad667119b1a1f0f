package protocol

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
)

// Writer appends big-endian fixed width fields and zigzag varints to an
// in-memory buffer. Like Reader, the first error is latched.
type Writer struct {
	err     error
	buffer  *bytes.Buffer
	scratch [binary.MaxVarintLen64]byte
}

// NewWriter returns a Writer whose buffer is pre-grown to size bytes. Callers
// compute size up front so that encoding never reallocates.
func NewWriter(size int) *Writer {
	buffer := bytes.NewBuffer(make([]byte, 0, size))
	return &Writer{
		buffer: buffer,
	}
}

func (w *Writer) write(b []byte) {
	if w.err != nil {
		return
	}
	n, err := w.buffer.Write(b)
	if err != nil {
		w.err = err
		return
	}
	if n != len(b) {
		w.err = NewProtocolException("invalid_binary_data", "Binary data could not be written")
	}
}

func (w *Writer) Int8(value int8) {
	if w.err != nil {
		return
	}
	w.scratch[0] = byte(value)
	w.write(w.scratch[:1])
}

func (w *Writer) Int16(value int16) {
	binary.BigEndian.PutUint16(w.scratch[:2], uint16(value))
	w.write(w.scratch[:2])
}

func (w *Writer) Int32(value int32) {
	w.Uint32(uint32(value))
}

func (w *Writer) Uint32(value uint32) {
	binary.BigEndian.PutUint32(w.scratch[:4], value)
	w.write(w.scratch[:4])
}

func (w *Writer) Int64(value int64) {
	binary.BigEndian.PutUint64(w.scratch[:8], uint64(value))
	w.write(w.scratch[:8])
}

func (w *Writer) Varlong(value int64) {
	w.write(AppendZigzag(w.scratch[:0], value))
}

// VarintBytes writes a zigzag length and the bytes; nil is written as the
// absent marker -1.
func (w *Writer) VarintBytes(value []byte) {
	if value == nil {
		w.Varlong(-1)
		return
	}
	w.Varlong(int64(len(value)))
	w.write(value)
}

func (w *Writer) RawBytes(value []byte) {
	w.write(value)
}

func (w *Writer) Data() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.buffer.Bytes(), nil
}

var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

func crc32Castagnoli(data []byte) uint32 {
	return crc32.Checksum(data, castagnoliTable)
}
