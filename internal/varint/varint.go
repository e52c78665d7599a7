// Package varint implements the LEB128 variable-length integer encoding
// used by the block writer's header-compression path.
package varint

// MaxVarintLen64 is the maximum number of bytes a 64-bit varint can occupy.
const MaxVarintLen64 = 10

// PutUint32 encodes v into buf (which must have at least MaxVarintLen64
// bytes) and returns the number of bytes written.
func PutUint32(buf []byte, v uint32) int {
	return PutUint64(buf, uint64(v))
}

// PutUint64 encodes v into buf (which must have at least MaxVarintLen64
// bytes) and returns the number of bytes written.
func PutUint64(buf []byte, v uint64) int {
	n := 0
	for v >= 0x80 {
		buf[n] = byte(v) | 0x80
		v >>= 7
		n++
	}
	buf[n] = byte(v)
	n++
	return n
}

// AppendUint32 appends the varint encoding of v to buf and returns the
// extended slice.
func AppendUint32(buf []byte, v uint32) []byte {
	return AppendUint64(buf, uint64(v))
}

// AppendUint64 appends the varint encoding of v to buf and returns the
// extended slice.
func AppendUint64(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

// Uint32 decodes a varint-encoded uint32 from buf, returning the value
// and the number of bytes consumed. Returns n == 0 on malformed input.
func Uint32(buf []byte) (uint32, int) {
	v, n := Uint64(buf)
	return uint32(v), n
}

// Uint64 decodes a varint-encoded uint64 from buf, returning the value
// and the number of bytes consumed. Returns n == 0 on malformed input.
func Uint64(buf []byte) (uint64, int) {
	var result uint64
	var shift uint
	for i, b := range buf {
		if i >= MaxVarintLen64 {
			return 0, 0
		}
		result |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return result, i + 1
		}
		shift += 7
	}
	return 0, 0
}

// Size returns the number of bytes the varint encoding of v occupies.
func Size(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// ZigZag32 maps a signed 32-bit delta to an unsigned value suitable for
// varint encoding, small absolute values producing small encodings.
func ZigZag32(v int32) uint32 {
	return (uint32(v) << 1) ^ uint32(v>>31)
}

// UnZigZag32 reverses ZigZag32.
func UnZigZag32(v uint32) int32 {
	return int32(v>>1) ^ -int32(v&1)
}
