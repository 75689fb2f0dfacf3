package codec

// Buffer is the single read/write byte buffer a store threads through all
// frame I/O. Writes accumulate payload between Pending() and Cap(); reads
// consume a frame payload loaded by ReadFrame between the read cursor and
// the pending mark.
type Buffer struct {
	data     []byte
	readOff  int
	writeOff int
	max      int
}

func NewBuffer(size, max int) *Buffer {
	if size > max {
		size = max
	}
	return &Buffer{data: make([]byte, size), max: max}
}

func (b *Buffer) Cap() int { return len(b.data) }

func (b *Buffer) Max() int { return b.max }

// Available is the writable space left behind the pending payload.
func (b *Buffer) Available() int { return len(b.data) - b.writeOff }

// Tail is the writable region. Callers advance the write cursor themselves
// after a serializer reports how much it wrote.
func (b *Buffer) Tail() []byte { return b.data[b.writeOff:] }

func (b *Buffer) Advance(n int) { b.writeOff += n }

// Pending is the accumulated, not yet flushed payload.
func (b *Buffer) Pending() []byte { return b.data[:b.writeOff] }

func (b *Buffer) Reset() { b.readOff, b.writeOff = 0, 0 }

// Exhausted reports whether the read cursor has consumed the whole payload.
func (b *Buffer) Exhausted() bool { return b.readOff >= b.writeOff }

// Unread is the not yet consumed remainder of the loaded payload.
func (b *Buffer) Unread() []byte { return b.data[b.readOff:b.writeOff] }

func (b *Buffer) Consume(n int) { b.readOff += n }

// Grow doubles the buffer until it can hold need bytes, capped at the
// configured maximum. Pending payload is preserved.
func (b *Buffer) Grow(need int) error {
	if need <= len(b.data) {
		return nil
	}
	if need > b.max {
		return ErrFrameTooLarge
	}
	target := len(b.data)
	if target == 0 {
		target = 1
	}
	for target < need {
		target *= 2
	}
	if target > b.max {
		target = b.max
	}
	grown := make([]byte, target)
	copy(grown, b.data[:b.writeOff])
	b.data = grown
	return nil
}
