// Package serial defines the serialization contract the store consumes and
// ships codecs for the common key/value shapes. The engine never inspects
// serialized bytes itself; it only calls the four contract operations.
package serial

// Codec turns values of T into bytes and back.
//
// Size returns the exact number of bytes Write will produce for v.
//
// Empty reports whether v is the empty value of T. Empty values are the
// tombstone marker: an event carrying one erases its key, and snapshots
// never contain them. The zero value of T must be empty.
//
// Write serializes v into dst and returns Size(v). If dst is too small it
// must write nothing and still return Size(v); the caller flushes or grows
// its buffer and retries.
//
// Read deserializes from src into out and returns the number of bytes
// consumed. If src is too short it must leave out untouched and return the
// minimum number of bytes needed to make progress (any value greater than
// len(src)); it does not have to know the full size up front.
type Codec[T any] interface {
	Size(v T) int
	Empty(v T) bool
	Write(dst []byte, v T) int
	Read(src []byte, out *T) int
}

// SnapshotAware is an optional capability of value codecs. When the codec
// implements it, the store brackets every snapshot write loop with
// SetSnapshotContext(true)/SetSnapshotContext(false), letting a value type
// opt into a fuller representation during snapshots than in routine log
// events. The flag is per codec instance; a snapshot running against one
// store never touches the codec of another.
type SnapshotAware interface {
	SetSnapshotContext(active bool)
}

// Forker is an optional capability of snapshot-aware value codecs. Fork
// returns an independent codec instance for one snapshot pass; a background
// save serializes through the fork, so the live codec's snapshot flag never
// changes while concurrent updates are being written through it. A
// snapshot-aware codec that cannot fork forces the snapshot write onto the
// calling goroutine instead.
type Forker[T any] interface {
	Fork() Codec[T]
}

// uvarintLen is the encoded size of x as a base-128 varint.
func uvarintLen(x uint64) int {
	n := 1
	for x >= 0x80 {
		x >>= 7
		n++
	}
	return n
}
