package protocol

import "encoding/binary"

/*
RecordBatch =>
  BaseOffset => int64
  Length => int32
  PartitionLeaderEpoch => int32
  Magic => int8
  CRC => int32
  Attributes => int16
  LastOffsetDelta => int32
  BaseTimestamp => int64
  MaxTimestamp => int64
  ProducerId => int64
  ProducerEpoch => int16
  BaseSequence => int32
  Records => [Record]

Length excludes BaseOffset and itself. CRC is a CRC-32C over everything after
the CRC field.
*/
type RecordBatch struct {
	CompressionLevel     int `json:"-"`
	BaseOffset           int64
	Length               int32
	PartitionLeaderEpoch int32
	Magic                int8
	CRC                  uint32
	Attributes           RecordBatchAttributes
	LastOffsetDelta      int32
	BaseTimestamp        int64
	MaxTimestamp         int64
	ProducerID           int64
	ProducerEpoch        int16
	BaseSequence         int32
	Records              []Record
}

// Offset returns the absolute offset of a record in this batch.
func (b RecordBatch) Offset(r Record) int64 {
	return b.BaseOffset + r.OffsetDelta
}

// Timestamp returns the absolute timestamp of a record in this batch.
func (b RecordBatch) Timestamp(r Record) int64 {
	if b.Attributes.TimestampType() == LogAppendTime {
		return b.MaxTimestamp
	}
	return b.BaseTimestamp + r.TimestampDelta
}

// NextOffset is the offset following the last record of the batch.
func (b RecordBatch) NextOffset() int64 {
	return b.BaseOffset + int64(b.LastOffsetDelta) + 1
}

// CalculateRecordBatchSize returns the exact length of the buffer
// CreateRecordBatch produces for records when no compression is requested.
func CalculateRecordBatchSize(records []Record) int {
	size := RecordBatchHeaderSize
	for _, record := range records {
		size += encodedRecordSize(record)
	}
	return size
}

type batchOptions struct {
	baseTimestamp        int64
	producerID           int64
	producerEpoch        int16
	baseSequence         int32
	partitionLeaderEpoch int32
	compressionLevel     int
	maxBatchBytes        int64
}

// BatchOption sets a header field CreateRecordBatch would otherwise default.
type BatchOption func(*batchOptions)

func WithBaseTimestamp(ts int64) BatchOption {
	return func(o *batchOptions) { o.baseTimestamp = ts }
}

func WithProducer(id int64, epoch int16, baseSequence int32) BatchOption {
	return func(o *batchOptions) {
		o.producerID = id
		o.producerEpoch = epoch
		o.baseSequence = baseSequence
	}
}

func WithPartitionLeaderEpoch(epoch int32) BatchOption {
	return func(o *batchOptions) { o.partitionLeaderEpoch = epoch }
}

func WithCompressionLevel(level int) BatchOption {
	return func(o *batchOptions) { o.compressionLevel = level }
}

// WithMaxBatchBytes caps the batch length field below its natural int32
// range. Values outside (0, MaxInt32] are ignored.
func WithMaxBatchBytes(n int64) BatchOption {
	return func(o *batchOptions) {
		if n > 0 && n <= maxBatchLength {
			o.maxBatchBytes = n
		}
	}
}

// CreateRecordBatch encodes records into a single v2 record batch. Records
// keep the offset and timestamp deltas they carry; lastOffsetDelta and
// maxTimestamp are derived from them.
func CreateRecordBatch(records []Record, baseOffset int64, attributes RecordBatchAttributes, opts ...BatchOption) ([]byte, error) {
	o := batchOptions{
		producerID:           NoProducerID,
		producerEpoch:        NoProducerEpoch,
		baseSequence:         NoSequence,
		partitionLeaderEpoch: NoPartitionLeaderEpoch,
		compressionLevel:     CompressionLevelDefault,
		maxBatchBytes:        maxBatchLength,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if err := validateRecords(records, o.maxBatchBytes); err != nil {
		return nil, err
	}

	maxTimestampDelta := records[0].TimestampDelta
	for _, record := range records[1:] {
		if record.TimestampDelta > maxTimestampDelta {
			maxTimestampDelta = record.TimestampDelta
		}
	}

	batch := RecordBatch{
		CompressionLevel:     o.compressionLevel,
		BaseOffset:           baseOffset,
		PartitionLeaderEpoch: o.partitionLeaderEpoch,
		Magic:                MagicV2,
		Attributes:           attributes,
		BaseTimestamp:        o.baseTimestamp,
		MaxTimestamp:         o.baseTimestamp + maxTimestampDelta,
		ProducerID:           o.producerID,
		ProducerEpoch:        o.producerEpoch,
		BaseSequence:         o.baseSequence,
		Records:              records,
	}
	return batch.encode(o.maxBatchBytes)
}

// validateRecords rejects inputs that cannot form a batch: no records,
// offset deltas that are negative or not strictly increasing, or sizes the
// batch length field cannot represent.
func validateRecords(records []Record, maxBatchBytes int64) error {
	if len(records) == 0 {
		return NewProtocolException(ErrEmptyBatch.Name, "A record batch must contain at least one record")
	}
	total := int64(RecordBatchHeaderSize - batchLengthOverhead)
	previous := int64(-1)
	for index, record := range records {
		if record.OffsetDelta < 0 || record.OffsetDelta <= previous {
			return NewProtocolException(ErrInvalidOffsetDelta.Name, "Record %d has offset delta %d after %d", index, record.OffsetDelta, previous)
		}
		if record.OffsetDelta > maxBatchLength {
			return NewProtocolException(ErrInvalidOffsetDelta.Name, "Record %d offset delta %d does not fit the last offset delta field", index, record.OffsetDelta)
		}
		previous = record.OffsetDelta

		size := int64(encodedRecordSize(record))
		if size > maxBatchBytes-int64(RecordBatchHeaderSize-batchLengthOverhead) {
			return NewProtocolException(ErrRecordTooLarge.Name, "Record %d encodes to %d bytes, batch limit is %d", index, size, maxBatchBytes)
		}
		total += size
		if total > maxBatchBytes {
			return NewProtocolException(ErrRecordTooLarge.Name, "Batch length reaches %d bytes at record %d, limit is %d", total, index, maxBatchBytes)
		}
	}
	return nil
}

// Encode serialises the batch. Length, CRC and LastOffsetDelta are derived
// from the records and the receiver's values for them are ignored.
func (b RecordBatch) Encode() ([]byte, error) {
	if err := validateRecords(b.Records, maxBatchLength); err != nil {
		return nil, err
	}
	return b.encode(maxBatchLength)
}

func (b RecordBatch) encode(maxBatchBytes int64) ([]byte, error) {
	if b.Magic != MagicV2 {
		return nil, NewProtocolException(ErrUnsupportedMagic.Name, "Cannot encode record batch with magic %d", b.Magic)
	}
	b.LastOffsetDelta = int32(b.Records[len(b.Records)-1].OffsetDelta)

	codec := b.Attributes.CompressionCodec()
	recordsSize := CalculateRecordBatchSize(b.Records) - RecordBatchHeaderSize

	var recordData []byte
	if codec != CompressionNone {
		rw := NewWriter(recordsSize)
		for _, record := range b.Records {
			record.Write(rw)
		}
		data, err := rw.Data()
		if err != nil {
			return nil, err
		}
		recordData, err = Compress(codec, b.CompressionLevel, data)
		if err != nil {
			return nil, err
		}
		recordsSize = len(recordData)
	}

	size := RecordBatchHeaderSize + recordsSize
	if int64(size-batchLengthOverhead) > maxBatchBytes {
		return nil, NewProtocolException(ErrRecordTooLarge.Name, "Batch length %d exceeds limit %d", size-batchLengthOverhead, maxBatchBytes)
	}

	w := NewWriter(size)
	w.Int64(b.BaseOffset)
	w.Int32(int32(size - batchLengthOverhead))
	w.Int32(b.PartitionLeaderEpoch)
	w.Int8(b.Magic)
	w.Uint32(0) // crc, patched below
	w.Int16(int16(b.Attributes))
	w.Int32(b.LastOffsetDelta)
	w.Int64(b.BaseTimestamp)
	w.Int64(b.MaxTimestamp)
	w.Int64(b.ProducerID)
	w.Int16(b.ProducerEpoch)
	w.Int32(b.BaseSequence)
	w.Int32(int32(len(b.Records)))
	if recordData != nil {
		w.RawBytes(recordData)
	} else {
		for _, record := range b.Records {
			record.Write(w)
		}
	}
	data, err := w.Data()
	if err != nil {
		return nil, err
	}
	binary.BigEndian.PutUint32(data[crcOffset:crcCoveredOffset], crc32Castagnoli(data[crcCoveredOffset:]))
	return data, nil
}

// DecodeRecordBatch parses exactly one v2 record batch. The magic byte and the
// CRC are verified before any field covered by the CRC is interpreted.
func DecodeRecordBatch(data []byte) (RecordBatch, error) {
	if len(data) < RecordBatchHeaderSize {
		return RecordBatch{}, NewProtocolException(ErrTruncatedBatch.Name, "Record batch needs at least %d bytes, got %d", RecordBatchHeaderSize, len(data))
	}
	r := NewReader(data)
	batch := RecordBatch{CompressionLevel: CompressionLevelDefault}
	batch.BaseOffset = r.Int64()
	batch.Length = r.Int32()
	if batch.Length < RecordBatchHeaderSize-batchLengthOverhead {
		return RecordBatch{}, NewProtocolException(ErrInvalidSize.Name, "Record batch length %d is smaller than its header", batch.Length)
	}
	if int64(len(data)-batchLengthOverhead) < int64(batch.Length) {
		return RecordBatch{}, NewProtocolException(ErrTruncatedBatch.Name, "Record batch declares %d bytes, only %d available", batch.Length, len(data)-batchLengthOverhead)
	}
	if int64(len(data)-batchLengthOverhead) > int64(batch.Length) {
		return RecordBatch{}, NewProtocolException(ErrTrailingBytes.Name, "Record batch has %d bytes past its declared length", int64(len(data)-batchLengthOverhead)-int64(batch.Length))
	}
	batch.PartitionLeaderEpoch = r.Int32()
	batch.Magic = r.Int8()
	if batch.Magic != MagicV2 {
		return RecordBatch{}, NewProtocolException(ErrUnsupportedMagic.Name, "Unsupported record batch magic %d", batch.Magic)
	}
	batch.CRC = r.Uint32()
	if crc := crc32Castagnoli(data[crcCoveredOffset:]); crc != batch.CRC {
		return RecordBatch{}, NewProtocolException(ErrCrcMismatch.Name, "Record batch crc %08x does not match computed %08x", batch.CRC, crc)
	}
	batch.Attributes = RecordBatchAttributes(r.Int16())
	batch.LastOffsetDelta = r.Int32()
	batch.BaseTimestamp = r.Int64()
	batch.MaxTimestamp = r.Int64()
	batch.ProducerID = r.Int64()
	batch.ProducerEpoch = r.Int16()
	batch.BaseSequence = r.Int32()
	count := r.Int32()
	if err := r.Err(); err != nil {
		return RecordBatch{}, err
	}
	if count < 0 {
		return RecordBatch{}, NewProtocolException(ErrInvalidSize.Name, "Invalid record count %d", count)
	}

	recordData, err := Decompress(batch.Attributes.CompressionCodec(), r.RawBytes(r.Remaining()))
	if err != nil {
		return RecordBatch{}, err
	}

	// The smallest possible record is seven bytes long.
	capacity := int(count)
	if capacity > len(recordData)/7 {
		capacity = len(recordData) / 7
	}
	if capacity > 0 {
		batch.Records = make([]Record, 0, capacity)
	}
	offset := 0
	for index := int32(0); index < count; index++ {
		if offset >= len(recordData) {
			return RecordBatch{}, NewProtocolException(ErrRecordCountMismatch.Name, "Record batch declares %d records, found %d", count, index)
		}
		record, n, err := DecodeRecord(recordData, offset)
		if err != nil {
			return RecordBatch{}, err
		}
		batch.Records = append(batch.Records, record)
		offset += n
	}
	if offset != len(recordData) {
		return RecordBatch{}, NewProtocolException(ErrRecordCountMismatch.Name, "Record batch declares %d records but has %d unread bytes", count, len(recordData)-offset)
	}
	return batch, nil
}

// SplitRecordBatches cuts a concatenation of record batches into one slice
// per batch using each batch's length field. A trailing partial batch, as
// found at the end of fetch responses, is dropped.
func SplitRecordBatches(recordSet []byte) ([][]byte, error) {
	batches := [][]byte{}
	offset := 0
	for offset+batchLengthOverhead <= len(recordSet) {
		batchLen := int32(binary.BigEndian.Uint32(recordSet[offset+8 : offset+batchLengthOverhead]))
		if batchLen < RecordBatchHeaderSize-batchLengthOverhead {
			return nil, NewProtocolException(ErrInvalidSize.Name, "Record batch at offset %d declares length %d", offset, batchLen)
		}
		frameLen := batchLengthOverhead + int(batchLen)
		if offset+frameLen > len(recordSet) {
			break
		}
		batches = append(batches, recordSet[offset:offset+frameLen])
		offset += frameLen
	}
	return batches, nil
}

type RecordBatchAttributes int16

func (a RecordBatchAttributes) CompressionCodec() CompressionCodec {
	return CompressionCodec(int16(a) & compressionCodecMask)
}

func (a RecordBatchAttributes) TimestampType() TimestampType {
	if int16(a)&timestampTypeMask == timestampTypeMask {
		return LogAppendTime
	}
	return CreateTime
}

func (a RecordBatchAttributes) IsTransactional() bool {
	return int16(a)&isTransactionalMask == isTransactionalMask
}

func (a RecordBatchAttributes) IsControl() bool {
	return int16(a)&controlMask == controlMask
}

// WithCompression returns a copy of a with its compression bits replaced.
func (a RecordBatchAttributes) WithCompression(codec CompressionCodec) RecordBatchAttributes {
	return RecordBatchAttributes(int16(a)&^compressionCodecMask | int16(codec)&compressionCodecMask)
}

func NewRecordBatchAttributes(codec CompressionCodec, isControl bool, timestampType TimestampType, isTransactional bool) RecordBatchAttributes {
	attributes := int16(codec) & compressionCodecMask
	if isControl {
		attributes |= controlMask
	}
	if timestampType == LogAppendTime {
		attributes |= timestampTypeMask
	}
	if isTransactional {
		attributes |= isTransactionalMask
	}
	return RecordBatchAttributes(attributes)
}
