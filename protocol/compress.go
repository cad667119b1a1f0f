package protocol

import (
	"bytes"
	"sync"

	snappy "github.com/eapache/go-xerial-snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4"
)

var (
	lz4WriterPool = sync.Pool{
		New: func() interface{} {
			return lz4.NewWriter(nil)
		},
	}

	gzipWriterPool sync.Pool

	// zstdEncoders holds one *zstd.Encoder per zstd.EncoderLevel.
	zstdEncoders sync.Map
)

func zstdEncoderLevel(level int) zstd.EncoderLevel {
	if level == CompressionLevelDefault {
		return zstd.SpeedDefault
	}
	return zstd.EncoderLevelFromZstd(level)
}

func zstdCompress(level int, dst, src []byte) ([]byte, error) {
	encoderLevel := zstdEncoderLevel(level)
	if encoder, ok := zstdEncoders.Load(encoderLevel); ok {
		return encoder.(*zstd.Encoder).EncodeAll(src, dst), nil
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encoderLevel))
	if err != nil {
		return nil, err
	}
	if existing, loaded := zstdEncoders.LoadOrStore(encoderLevel, encoder); loaded {
		encoder.Close()
		return existing.(*zstd.Encoder).EncodeAll(src, dst), nil
	}
	return encoder.EncodeAll(src, dst), nil
}

// Compress hands the encoded records of a batch to the codec named by cc.
// level is passed through to gzip, lz4 and zstd; CompressionLevelDefault
// keeps each codec's own default. Snappy has no levels.
func Compress(cc CompressionCodec, level int, data []byte) ([]byte, error) {
	switch cc {
	case CompressionNone:
		return data, nil
	case CompressionGZIP:
		var buf bytes.Buffer
		var writer *gzip.Writer
		if level == CompressionLevelDefault {
			if pooled := gzipWriterPool.Get(); pooled != nil {
				writer = pooled.(*gzip.Writer)
				writer.Reset(&buf)
			} else {
				writer = gzip.NewWriter(&buf)
			}
			defer gzipWriterPool.Put(writer)
		} else {
			var err error
			writer, err = gzip.NewWriterLevel(&buf, level)
			if err != nil {
				return nil, err
			}
		}
		if _, err := writer.Write(data); err != nil {
			return nil, err
		}
		if err := writer.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionSnappy:
		return snappy.Encode(data), nil
	case CompressionLZ4:
		var buf bytes.Buffer
		writer := lz4WriterPool.Get().(*lz4.Writer)
		defer lz4WriterPool.Put(writer)
		writer.Reset(&buf)
		writer.Header = lz4.Header{}
		if level != CompressionLevelDefault {
			writer.Header.CompressionLevel = level
		}
		if _, err := writer.Write(data); err != nil {
			return nil, err
		}
		if err := writer.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionZSTD:
		return zstdCompress(level, nil, data)
	default:
		return nil, NewProtocolException(ErrInvalidCompression.Name, "Invalid compression algorithm %d specified", cc)
	}
}
