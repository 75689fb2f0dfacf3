package serial

import "encoding/binary"

// Bytes serializes []byte as a uvarint length prefix followed by the raw
// bytes. nil and zero-length slices are both the empty value.
type Bytes struct{}

var _ Codec[[]byte] = Bytes{}

func (Bytes) Size(v []byte) int { return uvarintLen(uint64(len(v))) + len(v) }

func (Bytes) Empty(v []byte) bool { return len(v) == 0 }

func (Bytes) Write(dst []byte, v []byte) int {
	size := uvarintLen(uint64(len(v))) + len(v)
	if len(dst) < size {
		return size
	}
	n := binary.PutUvarint(dst, uint64(len(v)))
	copy(dst[n:], v)
	return size
}

func (Bytes) Read(src []byte, out *[]byte) int {
	length, n := binary.Uvarint(src)
	if n <= 0 {
		// Prefix incomplete (or overlong, which a longer read will
		// reject the same way): ask for at least one more byte.
		return len(src) + 1
	}
	total := n + int(length)
	if total > len(src) || total < n {
		return max(total, len(src)+1)
	}
	*out = append([]byte(nil), src[n:total]...)
	return total
}

// String is Bytes with a string face.
type String struct{}

var _ Codec[string] = String{}

func (String) Size(v string) int { return uvarintLen(uint64(len(v))) + len(v) }

func (String) Empty(v string) bool { return v == "" }

func (String) Write(dst []byte, v string) int {
	size := uvarintLen(uint64(len(v))) + len(v)
	if len(dst) < size {
		return size
	}
	n := binary.PutUvarint(dst, uint64(len(v)))
	copy(dst[n:], v)
	return size
}

func (String) Read(src []byte, out *string) int {
	length, n := binary.Uvarint(src)
	if n <= 0 {
		return len(src) + 1
	}
	total := n + int(length)
	if total > len(src) || total < n {
		return max(total, len(src)+1)
	}
	*out = string(src[n:total])
	return total
}

// Uint64 serializes a uint64 as a bare uvarint. Zero is the empty value.
type Uint64 struct{}

var _ Codec[uint64] = Uint64{}

func (Uint64) Size(v uint64) int { return uvarintLen(v) }

func (Uint64) Empty(v uint64) bool { return v == 0 }

func (Uint64) Write(dst []byte, v uint64) int {
	size := uvarintLen(v)
	if len(dst) < size {
		return size
	}
	binary.PutUvarint(dst, v)
	return size
}

func (Uint64) Read(src []byte, out *uint64) int {
	v, n := binary.Uvarint(src)
	if n <= 0 {
		return len(src) + 1
	}
	*out = v
	return n
}
