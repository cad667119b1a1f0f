package protocol

/*
Record =>
  Length => varint
  Attributes => int8
  TimestampDelta => varint
  OffsetDelta => varint
  KeyLen => varint
  Key => data
  ValueLen => varint
  Value => data
  Headers => [Header]

Every varint in a record, lengths included, is zigzag encoded. Length counts
the bytes after itself.
*/
type Record struct {
	Attributes     int8
	TimestampDelta int64
	OffsetDelta    int64
	Key            []byte
	Value          []byte
	Headers        []Header
}

/*
Header => HeaderKey HeaderVal
  HeaderKeyLen => varint
  HeaderKey => string
  HeaderValueLen => varint
  HeaderValue => data
*/
type Header struct {
	Key   []byte
	Value []byte
}

func varintBytesSize(b []byte) int {
	if b == nil {
		return ZigzagSize(-1)
	}
	return ZigzagSize(int64(len(b))) + len(b)
}

// CalculateRecordLength returns the encoded size of r excluding its own
// length prefix.
func CalculateRecordLength(r Record) int {
	size := 1 // attributes
	size += ZigzagSize(r.TimestampDelta)
	size += ZigzagSize(r.OffsetDelta)
	size += varintBytesSize(r.Key)
	size += varintBytesSize(r.Value)
	size += ZigzagSize(int64(len(r.Headers)))
	for _, header := range r.Headers {
		size += varintBytesSize(header.Key)
		size += varintBytesSize(header.Value)
	}
	return size
}

// encodedRecordSize is CalculateRecordLength plus the length prefix.
func encodedRecordSize(r Record) int {
	length := CalculateRecordLength(r)
	return ZigzagSize(int64(length)) + length
}

func (r Record) Write(w *Writer) {
	w.Varlong(int64(CalculateRecordLength(r)))
	w.Int8(r.Attributes)
	w.Varlong(r.TimestampDelta)
	w.Varlong(r.OffsetDelta)
	w.VarintBytes(r.Key)
	w.VarintBytes(r.Value)
	w.Varlong(int64(len(r.Headers)))
	for _, header := range r.Headers {
		header.Write(w)
	}
}

func (h Header) Write(w *Writer) {
	w.VarintBytes(h.Key)
	w.VarintBytes(h.Value)
}

// EncodeRecord returns the length-prefixed encoding of r.
func EncodeRecord(r Record) []byte {
	w := NewWriter(encodedRecordSize(r))
	r.Write(w)
	data, _ := w.Data()
	return data
}

// DecodeRecord decodes one length-prefixed record starting at data[offset]
// and returns it with the number of bytes consumed. Key, Value and header
// slices alias data. A record without headers decodes with nil Headers, since
// the wire format does not tell an empty header list from a missing one.
func DecodeRecord(data []byte, offset int) (Record, int, error) {
	length, n, err := DecodeZigzag(data, offset)
	if err != nil {
		return Record{}, 0, err
	}
	if length < 0 {
		return Record{}, 0, NewProtocolException(ErrInvalidSize.Name, "Record at offset %d declares negative length %d", offset, length)
	}
	start := offset + n
	if int64(len(data)-start) < length {
		return Record{}, 0, NewProtocolException(ErrTruncatedRecord.Name, "Record at offset %d declares %d bytes, only %d remain", offset, length, len(data)-start)
	}

	r := newRecordReader(data[start : start+int(length)])
	record := ReadRecord(r)
	if err := r.Error(); err != nil {
		return Record{}, 0, err
	}
	return record, n + int(length), nil
}

// ReadRecord reads the fields of a record whose length prefix has already
// been consumed.
func ReadRecord(r *Reader) Record {
	record := Record{}
	record.Attributes = r.Int8()
	record.TimestampDelta = r.Varlong()
	record.OffsetDelta = r.Varlong()
	record.Key = r.VarintBytes()
	record.Value = r.VarintBytes()
	numHeaders := r.Varlong()
	if r.Err() != nil {
		return record
	}
	if numHeaders < 0 {
		r.err = NewProtocolException(ErrInvalidSize.Name, "Invalid header count %d", numHeaders)
		return record
	}
	// Each header takes at least two bytes.
	if numHeaders > int64(r.Remaining()/2) {
		r.err = NewProtocolException(r.eof, "Header count %d exceeds remaining %d bytes", numHeaders, r.Remaining())
		return record
	}
	if numHeaders > 0 {
		record.Headers = make([]Header, numHeaders)
		for index := range record.Headers {
			record.Headers[index] = ReadHeader(r)
		}
	}
	return record
}

func ReadHeader(r *Reader) Header {
	header := Header{}
	header.Key = r.VarintBytes()
	header.Value = r.VarintBytes()
	return header
}
