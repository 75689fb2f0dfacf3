package logkv

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dgryski/go-farm"

	"logkv/codec"
	"logkv/serial"
)

// frameWriter accumulates serialized objects in a buffer and flushes them to
// a file as checksummed frames. When hashing is on it chains a farmhash64
// digest over the flushed payloads, frame by frame.
type frameWriter struct {
	f       *os.File
	buf     *codec.Buffer
	force32 bool
	hashing bool
	digest  uint64
}

func (w *frameWriter) flush() error {
	payload := w.buf.Pending()
	if len(payload) == 0 {
		return nil
	}
	if w.hashing {
		w.digest = farm.Hash64WithSeed(payload, w.digest)
	}
	if err := codec.WriteFrame(w.f, payload, w.force32); err != nil {
		return err
	}
	w.buf.Reset()
	return nil
}

// writeEvent appends one (key, value) pair to the buffer. Room for the whole
// pair is reserved up front so a logical update never straddles a frame
// boundary; that is what makes replay frame-atomic.
func writeEvent[K comparable, V any](w *frameWriter, keys serial.Codec[K], values serial.Codec[V], key K, value V) error {
	need := keys.Size(key) + values.Size(value)
	if need > w.buf.Available() {
		if err := w.flush(); err != nil {
			return err
		}
		if need > w.buf.Cap() {
			if err := w.buf.Grow(need); err != nil {
				return err
			}
		}
	}
	w.buf.Advance(keys.Write(w.buf.Tail(), key))
	w.buf.Advance(values.Write(w.buf.Tail(), value))
	return nil
}

// frameReader pulls verified frames from a file on demand and hands their
// payload bytes to deserializers.
type frameReader struct {
	r       io.Reader
	buf     *codec.Buffer
	maxLen  int
	hashing bool
	digest  uint64
}

func (r *frameReader) next() error {
	if err := codec.ReadFrame(r.r, r.buf, r.maxLen); err != nil {
		return err
	}
	if r.hashing {
		r.digest = farm.Hash64WithSeed(r.buf.Pending(), r.digest)
	}
	return nil
}

// readObject deserializes the next object from the current frame, pulling
// the next frame first if the current one is exhausted. io.EOF surfaces only
// at a frame boundary; a deserializer wanting more bytes than the frame
// holds is corruption, since objects never span frames.
func readObject[T any](r *frameReader, c serial.Codec[T], out *T) error {
	for r.buf.Exhausted() {
		if err := r.next(); err != nil {
			return err
		}
	}
	src := r.buf.Unread()
	n := c.Read(src, out)
	if n > len(src) {
		return fmt.Errorf("%w: need %d of %d bytes", codec.ErrObjectCorrupt, n, len(src))
	}
	r.buf.Consume(n)
	return nil
}

// replay applies every (key, value) event in f to the container. An empty
// value erases its key if present and is a no-op otherwise (absent and
// empty are the same state); a non-empty value inserts or overwrites.
// Returns the chained payload digest when hashing is requested. Any outcome
// other than a clean end of file at a frame boundary is an error and the
// file must be treated as corrupt from that point on.
func (s *Store[K, V]) replay(f *os.File, hashing bool) (uint64, error) {
	s.buf.Reset()
	r := &frameReader{r: f, buf: s.buf, maxLen: s.cfg.MaxBufferSize, hashing: hashing}
	for {
		var key K
		if err := readObject(r, s.keys, &key); err != nil {
			if errors.Is(err, io.EOF) {
				return r.digest, nil
			}
			return r.digest, err
		}
		var value V
		if err := readObject(r, s.values, &value); err != nil {
			if errors.Is(err, io.EOF) {
				// A key without its value: the pair was torn.
				return r.digest, codec.ErrTruncated
			}
			return r.digest, err
		}
		if s.values.Empty(value) {
			if _, ok := s.objects.Get(key); ok {
				s.objects.Delete(key)
			}
		} else {
			s.objects.Set(key, value)
		}
	}
}
