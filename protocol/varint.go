package protocol

import "encoding/binary"

// Varints carry 7 data bits per byte, least significant group first, with the
// high bit set on every byte except the last. Signed values are zigzag mapped
// first so that small negative numbers stay short.

// VarintSize returns the number of bytes EncodeVarint(n) produces.
func VarintSize(n uint64) int {
	size := 1
	for n >= 0x80 {
		n >>= 7
		size++
	}
	return size
}

// ZigzagSize returns the number of bytes EncodeZigzag(n) produces.
func ZigzagSize(n int64) int {
	return VarintSize(zigzag(n))
}

func EncodeVarint(n uint64) []byte {
	return AppendVarint(make([]byte, 0, VarintSize(n)), n)
}

func AppendVarint(dst []byte, n uint64) []byte {
	return binary.AppendUvarint(dst, n)
}

// DecodeVarint reads an unsigned varint starting at data[offset] and returns
// the value together with the number of bytes consumed.
func DecodeVarint(data []byte, offset int) (uint64, int, error) {
	if offset < 0 || offset >= len(data) {
		return 0, 0, NewProtocolException(ErrMalformedVarint.Name, "Varint offset %d outside buffer of %d bytes", offset, len(data))
	}
	v, n := binary.Uvarint(data[offset:])
	if n == 0 {
		return 0, 0, NewProtocolException(ErrMalformedVarint.Name, "Varint at offset %d is not terminated", offset)
	}
	if n < 0 {
		return 0, 0, NewProtocolException(ErrMalformedVarint.Name, "Varint at offset %d overflows 64 bits", offset)
	}
	return v, n, nil
}

func EncodeZigzag(n int64) []byte {
	return AppendVarint(make([]byte, 0, ZigzagSize(n)), zigzag(n))
}

func AppendZigzag(dst []byte, n int64) []byte {
	return AppendVarint(dst, zigzag(n))
}

func DecodeZigzag(data []byte, offset int) (int64, int, error) {
	v, n, err := DecodeVarint(data, offset)
	if err != nil {
		return 0, 0, err
	}
	return unzigzag(v), n, nil
}

// For n within int32 this matches (n << 1) ^ (n >> 31) bit for bit.
func zigzag(n int64) uint64 {
	return uint64((n << 1) ^ (n >> 63))
}

func unzigzag(v uint64) int64 {
	return int64(v>>1) ^ -int64(v&1)
}
