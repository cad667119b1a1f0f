package protocol

import (
	"encoding/binary"
)

// Reader decodes big-endian fixed width fields and zigzag varints from a byte
// slice. The first failure is latched: every later call returns a zero value
// and Error reports the original cause.
type Reader struct {
	pos      int
	err      error
	data     []byte
	eof      string
	trailing string
}

func NewReader(data []byte) *Reader {
	return &Reader{
		pos:      0,
		data:     data,
		err:      nil,
		eof:      ErrTruncatedBatch.Name,
		trailing: ErrTrailingBytes.Name,
	}
}

// newRecordReader reads the body of one record: running short is a truncated
// record and leftover bytes contradict the record's length prefix.
func newRecordReader(data []byte) *Reader {
	r := NewReader(data)
	r.eof = ErrTruncatedRecord.Name
	r.trailing = ErrRecordLengthMismatch.Name
	return r
}

// Error reports the latched error, or a trailing bytes error when the data was
// not read to the end.
func (r *Reader) Error() error {
	if r.err == nil {
		if r.pos < len(r.data) {
			return NewProtocolException(r.trailing, "Message has %d bytes left to be read", len(r.data)-r.pos)
		}
	}
	return r.err
}

// Err reports the latched error without complaining about unread bytes.
func (r *Reader) Err() error {
	return r.err
}

func (r *Reader) Remaining() int {
	return len(r.data) - r.pos
}

func (r *Reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || len(r.data)-r.pos < n {
		r.err = NewProtocolException(r.eof, "Need %d bytes at offset %d, only %d available", n, r.pos, len(r.data)-r.pos)
		return false
	}
	return true
}

func (r *Reader) Int8() int8 {
	if !r.need(1) {
		return 0
	}
	v8 := int8(r.data[r.pos])
	r.pos++
	return v8
}

func (r *Reader) Int16() int16 {
	if !r.need(2) {
		return 0
	}
	uv16 := binary.BigEndian.Uint16(r.data[r.pos : r.pos+2])
	r.pos += 2
	return int16(uv16)
}

func (r *Reader) Int32() int32 {
	return int32(r.Uint32())
}

func (r *Reader) Uint32() uint32 {
	if !r.need(4) {
		return 0
	}
	uv32 := binary.BigEndian.Uint32(r.data[r.pos : r.pos+4])
	r.pos += 4
	return uv32
}

func (r *Reader) Int64() int64 {
	if !r.need(8) {
		return 0
	}
	uv64 := binary.BigEndian.Uint64(r.data[r.pos : r.pos+8])
	r.pos += 8
	return int64(uv64)
}

func (r *Reader) RawBytes(len int) []byte {
	if !r.need(len) {
		return nil
	}
	data := r.data[r.pos : r.pos+len]
	r.pos += len
	return data
}

func (r *Reader) Varlong() int64 {
	if !r.need(1) {
		return 0
	}
	v64, n := binary.Varint(r.data[r.pos:])
	if n == 0 {
		r.err = newUnterminatedVarint(r.eof, r.pos)
		return 0
	}
	if n < 0 {
		r.err = NewProtocolException(ErrMalformedVarint.Name, "Varint at offset %d overflows 64 bits", r.pos)
		return 0
	}
	r.pos += n
	return v64
}

// VarintBytes reads a zigzag length followed by that many bytes. A length of
// -1 is an absent value and yields nil; zero yields an empty, non-nil slice.
func (r *Reader) VarintBytes() []byte {
	l := r.Varlong()
	if r.err != nil {
		return nil
	}
	if l == -1 {
		return nil
	} else if l < -1 {
		r.err = NewProtocolException(ErrInvalidSize.Name, "Invalid size %d provided for this field", l)
		return nil
	}
	if !r.need(int(l)) {
		return nil
	}
	data := r.data[r.pos : r.pos+int(l)]
	r.pos += int(l)
	return data
}
