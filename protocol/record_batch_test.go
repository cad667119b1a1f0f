package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/klauspost/compress/zstd"
)

func makeRecords(n int) []Record {
	records := make([]Record, n)
	for i := range records {
		records[i] = Record{
			TimestampDelta: int64(i * 10),
			OffsetDelta:    int64(i),
			Key:            []byte(fmt.Sprintf("key-%d", i)),
			Value:          []byte(fmt.Sprintf("value-%d", i)),
		}
	}
	return records
}

func recordSets() map[string][]Record {
	return map[string][]Record{
		"single":  makeRecords(1),
		"several": makeRecords(25),
		"headers": {
			{OffsetDelta: 0, Key: []byte("k"), Headers: []Header{{Key: []byte("h1"), Value: []byte("v1")}, {Key: []byte("h2")}}},
			{OffsetDelta: 1, Value: []byte{}},
		},
		"sparse offsets": {
			{OffsetDelta: 0, Value: []byte("a")},
			{OffsetDelta: 5, Value: []byte("b")},
			{OffsetDelta: 9, TimestampDelta: -3, Value: []byte("c")},
		},
		"length prefix boundaries": {
			{OffsetDelta: 0, Value: bytes.Repeat([]byte("x"), 57)},
			{OffsetDelta: 1, Value: bytes.Repeat([]byte("x"), 58)},
			{OffsetDelta: 2, Value: bytes.Repeat([]byte("x"), 8185)},
			{OffsetDelta: 3, Value: bytes.Repeat([]byte("x"), 8186)},
		},
	}
}

func TestCalculateRecordBatchSizeMatchesCreate(t *testing.T) {
	for name, records := range recordSets() {
		t.Run(name, func(t *testing.T) {
			c := qt.New(t)
			data, err := CreateRecordBatch(records, 0, 0)
			c.Assert(err, qt.IsNil)
			c.Assert(data, qt.HasLen, CalculateRecordBatchSize(records))
		})
	}
}

func TestRecordBatchRoundTrip(t *testing.T) {
	for name, records := range recordSets() {
		t.Run(name, func(t *testing.T) {
			c := qt.New(t)
			data, err := CreateRecordBatch(records, 42, 0, WithBaseTimestamp(1600000000000))
			c.Assert(err, qt.IsNil)

			batch, err := DecodeRecordBatch(data)
			c.Assert(err, qt.IsNil)
			c.Assert(batch.Records, qt.DeepEquals, records)
			c.Assert(batch.BaseOffset, qt.Equals, int64(42))
			c.Assert(batch.Length, qt.Equals, int32(len(data)-12))
			c.Assert(batch.Magic, qt.Equals, MagicV2)
			c.Assert(batch.LastOffsetDelta, qt.Equals, int32(records[len(records)-1].OffsetDelta))
			c.Assert(batch.BaseTimestamp, qt.Equals, int64(1600000000000))
			c.Assert(batch.ProducerID, qt.Equals, NoProducerID)
			c.Assert(batch.ProducerEpoch, qt.Equals, NoProducerEpoch)
			c.Assert(batch.BaseSequence, qt.Equals, NoSequence)
			c.Assert(batch.PartitionLeaderEpoch, qt.Equals, NoPartitionLeaderEpoch)
		})
	}
}

func TestCreateRecordBatchHeaderLayout(t *testing.T) {
	c := qt.New(t)
	records := []Record{
		{OffsetDelta: 0, TimestampDelta: 5, Value: []byte("a")},
		{OffsetDelta: 1, TimestampDelta: 2, Value: []byte("b")},
		{OffsetDelta: 2, TimestampDelta: 9, Value: []byte("c")},
	}
	attributes := NewRecordBatchAttributes(CompressionNone, false, CreateTime, true)
	data, err := CreateRecordBatch(records, 1000, attributes,
		WithBaseTimestamp(500),
		WithProducer(77, 3, 11),
		WithPartitionLeaderEpoch(4),
	)
	c.Assert(err, qt.IsNil)

	c.Assert(int64(binary.BigEndian.Uint64(data[0:8])), qt.Equals, int64(1000))
	c.Assert(binary.BigEndian.Uint32(data[8:12]), qt.Equals, uint32(len(data)-12))
	c.Assert(int32(binary.BigEndian.Uint32(data[12:16])), qt.Equals, int32(4))
	c.Assert(data[16], qt.Equals, byte(2))
	c.Assert(binary.BigEndian.Uint32(data[17:21]), qt.Equals, crc32.Checksum(data[21:], crc32.MakeTable(crc32.Castagnoli)))
	c.Assert(int16(binary.BigEndian.Uint16(data[21:23])), qt.Equals, int16(attributes))
	c.Assert(binary.BigEndian.Uint32(data[23:27]), qt.Equals, uint32(2))
	c.Assert(int64(binary.BigEndian.Uint64(data[27:35])), qt.Equals, int64(500))
	c.Assert(int64(binary.BigEndian.Uint64(data[35:43])), qt.Equals, int64(509))
	c.Assert(int64(binary.BigEndian.Uint64(data[43:51])), qt.Equals, int64(77))
	c.Assert(int16(binary.BigEndian.Uint16(data[51:53])), qt.Equals, int16(3))
	c.Assert(int32(binary.BigEndian.Uint32(data[53:57])), qt.Equals, int32(11))
	c.Assert(binary.BigEndian.Uint32(data[57:61]), qt.Equals, uint32(3))
	c.Assert(data[61:], qt.DeepEquals, append(append(EncodeRecord(records[0]), EncodeRecord(records[1])...), EncodeRecord(records[2])...))
}

func TestCreateRecordBatchEmpty(t *testing.T) {
	c := qt.New(t)
	_, err := CreateRecordBatch(nil, 0, 0)
	c.Assert(errors.Is(err, ErrEmptyBatch), qt.Equals, true)

	_, err = CreateRecordBatch([]Record{}, 0, 0)
	c.Assert(errors.Is(err, ErrEmptyBatch), qt.Equals, true)

	_, err = RecordBatch{Magic: MagicV2}.Encode()
	c.Assert(errors.Is(err, ErrEmptyBatch), qt.Equals, true)
}

func TestCreateRecordBatchTooLarge(t *testing.T) {
	c := qt.New(t)

	_, err := CreateRecordBatch([]Record{{Value: bytes.Repeat([]byte("v"), 200)}}, 0, 0, WithMaxBatchBytes(100))
	c.Assert(errors.Is(err, ErrRecordTooLarge), qt.Equals, true, qt.Commentf("got %v", err))

	// Each record fits on its own, two together do not.
	records := []Record{
		{OffsetDelta: 0, Value: bytes.Repeat([]byte("v"), 30)},
		{OffsetDelta: 1, Value: bytes.Repeat([]byte("v"), 30)},
	}
	_, err = CreateRecordBatch(records[:1], 0, 0, WithMaxBatchBytes(100))
	c.Assert(err, qt.IsNil)
	_, err = CreateRecordBatch(records, 0, 0, WithMaxBatchBytes(100))
	c.Assert(errors.Is(err, ErrRecordTooLarge), qt.Equals, true, qt.Commentf("got %v", err))

	// The limit is inclusive of the batch length field value.
	size := CalculateRecordBatchSize(records)
	_, err = CreateRecordBatch(records, 0, 0, WithMaxBatchBytes(int64(size-12)))
	c.Assert(err, qt.IsNil)
	_, err = CreateRecordBatch(records, 0, 0, WithMaxBatchBytes(int64(size-13)))
	c.Assert(errors.Is(err, ErrRecordTooLarge), qt.Equals, true)
}

func TestCreateRecordBatchInvalidOffsetDeltas(t *testing.T) {
	tests := map[string][]int64{
		"negative":   {-1},
		"duplicate":  {0, 0},
		"decreasing": {0, 2, 1},
		"too large":  {1 << 32},
	}
	for name, deltas := range tests {
		t.Run(name, func(t *testing.T) {
			c := qt.New(t)
			records := make([]Record, len(deltas))
			for i, delta := range deltas {
				records[i] = Record{OffsetDelta: delta}
			}
			_, err := CreateRecordBatch(records, 0, 0)
			c.Assert(errors.Is(err, ErrInvalidOffsetDelta), qt.Equals, true, qt.Commentf("got %v", err))
		})
	}
}

func TestDecodeRecordBatchDetectsCorruption(t *testing.T) {
	c := qt.New(t)
	data, err := CreateRecordBatch(makeRecords(4), 10, 0, WithBaseTimestamp(99))
	c.Assert(err, qt.IsNil)

	for i := crcCoveredOffset; i < len(data); i++ {
		corrupt := append([]byte(nil), data...)
		corrupt[i] ^= 0xff
		_, err := DecodeRecordBatch(corrupt)
		c.Assert(errors.Is(err, ErrCrcMismatch), qt.Equals, true, qt.Commentf("byte %d: %v", i, err))
	}

	corrupt := append([]byte(nil), data...)
	corrupt[18] ^= 0x01
	_, err = DecodeRecordBatch(corrupt)
	c.Assert(errors.Is(err, ErrCrcMismatch), qt.Equals, true)
}

func TestDecodeRecordBatchErrors(t *testing.T) {
	data, err := CreateRecordBatch(makeRecords(3), 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	withMagic := func(magic byte) []byte {
		out := append([]byte(nil), data...)
		out[16] = magic
		return out
	}
	withCount := func(count uint32) []byte {
		out := append([]byte(nil), data...)
		binary.BigEndian.PutUint32(out[57:61], count)
		binary.BigEndian.PutUint32(out[crcOffset:crcCoveredOffset], crc32Castagnoli(out[crcCoveredOffset:]))
		return out
	}
	withLength := func(length uint32) []byte {
		out := append([]byte(nil), data...)
		binary.BigEndian.PutUint32(out[8:12], length)
		return out
	}

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrTruncatedBatch},
		{"short header", data[:RecordBatchHeaderSize-1], ErrTruncatedBatch},
		{"truncated body", data[:len(data)-1], ErrTruncatedBatch},
		{"trailing bytes", append(append([]byte(nil), data...), 0), ErrTrailingBytes},
		{"length below header", withLength(10), ErrInvalidSize},
		{"magic 1", withMagic(1), ErrUnsupportedMagic},
		{"magic 3", withMagic(3), ErrUnsupportedMagic},
		{"count too high", withCount(4), ErrRecordCountMismatch},
		{"count too low", withCount(2), ErrRecordCountMismatch},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := qt.New(t)
			_, err := DecodeRecordBatch(test.data)
			c.Assert(errors.Is(err, test.want), qt.Equals, true, qt.Commentf("got %v", err))
		})
	}
}

func TestRecordBatchCompressionRoundTrip(t *testing.T) {
	records := makeRecords(50)
	for _, codec := range []CompressionCodec{CompressionGZIP, CompressionSnappy, CompressionLZ4, CompressionZSTD} {
		t.Run(codec.String(), func(t *testing.T) {
			c := qt.New(t)
			attributes := NewRecordBatchAttributes(codec, false, CreateTime, false)
			data, err := CreateRecordBatch(records, 7, attributes)
			c.Assert(err, qt.IsNil)

			batch, err := DecodeRecordBatch(data)
			c.Assert(err, qt.IsNil)
			c.Assert(batch.Attributes.CompressionCodec(), qt.Equals, codec)
			c.Assert(batch.Records, qt.DeepEquals, records)
			c.Assert(batch.LastOffsetDelta, qt.Equals, int32(49))
		})
	}
}

func TestRecordBatchInvalidCompression(t *testing.T) {
	c := qt.New(t)
	_, err := CreateRecordBatch(makeRecords(1), 0, RecordBatchAttributes(6))
	c.Assert(errors.Is(err, ErrInvalidCompression), qt.Equals, true)
}

func TestRecordBatchZstdLevels(t *testing.T) {
	records := makeRecords(50)
	tests := []struct {
		level int
		want  zstd.EncoderLevel
	}{
		{CompressionLevelDefault, zstd.SpeedDefault},
		{1, zstd.SpeedFastest},
		{19, zstd.SpeedBestCompression},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("level %d", test.level), func(t *testing.T) {
			c := qt.New(t)
			c.Assert(zstdEncoderLevel(test.level), qt.Equals, test.want)

			attributes := NewRecordBatchAttributes(CompressionZSTD, false, CreateTime, false)
			data, err := CreateRecordBatch(records, 0, attributes, WithCompressionLevel(test.level))
			c.Assert(err, qt.IsNil)
			_, ok := zstdEncoders.Load(test.want)
			c.Assert(ok, qt.Equals, true)

			batch, err := DecodeRecordBatch(data)
			c.Assert(err, qt.IsNil)
			c.Assert(batch.Records, qt.DeepEquals, records)
		})
	}
}

func TestRecordBatchEncodeReproducesInput(t *testing.T) {
	c := qt.New(t)
	data, err := CreateRecordBatch(makeRecords(5), 300, NewRecordBatchAttributes(CompressionNone, false, LogAppendTime, false), WithBaseTimestamp(1234), WithProducer(1, 2, 3))
	c.Assert(err, qt.IsNil)

	batch, err := DecodeRecordBatch(data)
	c.Assert(err, qt.IsNil)
	again, err := batch.Encode()
	c.Assert(err, qt.IsNil)
	c.Assert(again, qt.DeepEquals, data)

	c.Assert(batch.Offset(batch.Records[3]), qt.Equals, int64(303))
	c.Assert(batch.NextOffset(), qt.Equals, int64(305))
	// Log append time batches report the max timestamp for every record.
	c.Assert(batch.Timestamp(batch.Records[0]), qt.Equals, batch.MaxTimestamp)
}

func TestRecordBatchEncodeRejectsUnknownMagic(t *testing.T) {
	c := qt.New(t)
	_, err := RecordBatch{Magic: 1, Records: makeRecords(1)}.Encode()
	c.Assert(errors.Is(err, ErrUnsupportedMagic), qt.Equals, true)
}

func TestRecordBatchAttributes(t *testing.T) {
	c := qt.New(t)
	a := NewRecordBatchAttributes(CompressionLZ4, true, LogAppendTime, true)
	c.Assert(int16(a), qt.Equals, int16(0x3b))
	c.Assert(a.CompressionCodec(), qt.Equals, CompressionLZ4)
	c.Assert(a.TimestampType(), qt.Equals, LogAppendTime)
	c.Assert(a.IsTransactional(), qt.Equals, true)
	c.Assert(a.IsControl(), qt.Equals, true)

	b := a.WithCompression(CompressionGZIP)
	c.Assert(b.CompressionCodec(), qt.Equals, CompressionGZIP)
	c.Assert(int16(b)&^0x07, qt.Equals, int16(a)&^0x07)

	plain := NewRecordBatchAttributes(CompressionNone, false, CreateTime, false)
	c.Assert(int16(plain), qt.Equals, int16(0))
	c.Assert(plain.TimestampType(), qt.Equals, CreateTime)
	c.Assert(plain.IsTransactional(), qt.Equals, false)
	c.Assert(plain.IsControl(), qt.Equals, false)
}

func TestParseCompressionCodec(t *testing.T) {
	c := qt.New(t)
	for cc := CompressionNone; cc <= CompressionZSTD; cc++ {
		got, err := ParseCompressionCodec(cc.String())
		c.Assert(err, qt.IsNil)
		c.Assert(got, qt.Equals, cc)
	}
	_, err := ParseCompressionCodec("brotli")
	c.Assert(errors.Is(err, ErrInvalidCompression), qt.Equals, true)
}

func TestSplitRecordBatches(t *testing.T) {
	c := qt.New(t)
	first, err := CreateRecordBatch(makeRecords(2), 0, 0)
	c.Assert(err, qt.IsNil)
	second, err := CreateRecordBatch(makeRecords(3), 2, 0)
	c.Assert(err, qt.IsNil)

	set := append(append([]byte(nil), first...), second...)
	set = append(set, first[:40]...)

	batches, err := SplitRecordBatches(set)
	c.Assert(err, qt.IsNil)
	c.Assert(batches, qt.HasLen, 2)
	c.Assert(batches[0], qt.DeepEquals, first)
	c.Assert(batches[1], qt.DeepEquals, second)

	bad := append([]byte(nil), first...)
	binary.BigEndian.PutUint32(bad[8:12], 3)
	_, err = SplitRecordBatches(bad)
	c.Assert(errors.Is(err, ErrInvalidSize), qt.Equals, true)
}

func FuzzDecodeRecordBatch(f *testing.F) {
	seed, err := CreateRecordBatch(makeRecords(3), 0, 0)
	if err != nil {
		f.Fatal(err)
	}
	f.Add(seed)
	f.Add(seed[:RecordBatchHeaderSize])
	f.Fuzz(func(t *testing.T, data []byte) {
		batch, err := DecodeRecordBatch(data)
		if err != nil || len(batch.Records) == 0 {
			return
		}
		if _, err := batch.Encode(); err != nil && !errors.Is(err, ErrInvalidOffsetDelta) {
			t.Fatalf("re-encoding a decoded batch failed: %v", err)
		}
	})
}
