package protocol

import "math"

type CompressionCodec int8

func (cc CompressionCodec) String() string {
	switch cc {
	case 0:
		return "none"
	case 1:
		return "gzip"
	case 2:
		return "snappy"
	case 3:
		return "lz4"
	case 4:
		return "zstd"
	default:
		return ""
	}
}

// ParseCompressionCodec is the inverse of CompressionCodec.String.
func ParseCompressionCodec(name string) (CompressionCodec, error) {
	for cc := CompressionNone; cc <= CompressionZSTD; cc++ {
		if cc.String() == name {
			return cc, nil
		}
	}
	if name == "" {
		return CompressionNone, nil
	}
	return CompressionNone, NewProtocolException(ErrInvalidCompression.Name, "Unknown compression codec %q", name)
}

const (
	//CompressionNone no compression
	CompressionNone CompressionCodec = iota
	//CompressionGZIP compression using GZIP
	CompressionGZIP
	//CompressionSnappy compression using snappy
	CompressionSnappy
	//CompressionLZ4 compression using LZ4
	CompressionLZ4
	//CompressionZSTD compression using ZSTD
	CompressionZSTD

	CompressionLevelDefault       = -1000
	compressionCodecMask    int16 = 0x07
	timestampTypeMask       int16 = 0x08
	isTransactionalMask     int16 = 0x10
	controlMask             int16 = 0x20
)

// MagicV2 is the only record batch format version this package reads or writes.
const MagicV2 int8 = 2

/*
RecordBatchHeaderSize is the fixed portion of a batch, baseOffset through the
record count:

  8 + // base offset
  4 + // batch length
  4 + // partition leader epoch
  1 + // magic
  4 + // crc
  2 + // attributes
  4 + // last offset delta
  8 + // base timestamp
  8 + // max timestamp
  8 + // producer id
  2 + // producer epoch
  4 + // base sequence
  4   // record count
*/
const RecordBatchHeaderSize = 61

const (
	// baseOffset and batchLength are not counted by batchLength itself.
	batchLengthOverhead = 12
	// Offset of the first byte covered by the CRC.
	crcCoveredOffset = 21
	crcOffset        = 17

	maxBatchLength = math.MaxInt32
)

type TimestampType int8

const (
	CreateTime TimestampType = iota
	LogAppendTime
)

func (t TimestampType) String() string {
	switch t {
	case 0:
		return "CreateTime"
	case 1:
		return "LogAppendTime"
	default:
		return ""
	}
}

// Defaults for a producer that is neither idempotent nor transactional.
const (
	NoProducerID           int64 = -1
	NoProducerEpoch        int16 = -1
	NoSequence             int32 = -1
	NoPartitionLeaderEpoch int32 = -1
)
