// Package logkv persists an in-memory key-value map by logging every
// mutation to an append-only events file and periodically compacting history
// into a snapshot. Reloading a directory rebuilds the exact map state from
// the newest snapshot plus the event logs written after it.
//
// A store is single-writer: the map, buffer and file handle are not
// internally synchronized. The directory lock enforces single-writer across
// processes; within a process the embedder serializes access.
package logkv

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"

	"logkv/codec"
	"logkv/container"
	"logkv/serial"
	"logkv/util/file"
)

const (
	eventsExt   = ".events"
	snapshotExt = ".snapshot"
	lockFile    = ".lock"
)

// Store owns one in-memory map and its persistence state: the active events
// log, the shared I/O buffer and the generation counter.
type Store[K comparable, V any] struct {
	dir     string
	cfg     Config
	keys    serial.Codec[K]
	values  serial.Codec[V]
	objects container.Map[K, V]
	buf     *codec.Buffer
	log     *frameWriter
	flock   *flock.Flock
	time    uint64
	loaded  bool
	bg      sync.WaitGroup
}

// Open opens a store over dir with a builtin-map container. See OpenMap for
// details.
func Open[K comparable, V any](dir string, keys serial.Codec[K], values serial.Codec[V], opts ...Option) (*Store[K, V], error) {
	return OpenMap(dir, keys, values, container.NewHash[K, V](), opts...)
}

// OpenMap opens a store over dir backed by the given container. Unless
// WithDeferLoad is set (and the directory was neither created nor wiped by
// this call), the directory is loaded before Open returns; load
// corruption that the store could self-heal is logged, not returned.
// Construction fails fast if the zero value of V does not serialize as
// empty, since empty values are the tombstone marker.
func OpenMap[K comparable, V any](dir string, keys serial.Codec[K], values serial.Codec[V], m container.Map[K, V], opts ...Option) (*Store[K, V], error) {
	var zero V
	if !values.Empty(zero) {
		return nil, ErrValueNotEmpty
	}

	cfg := newConfig(opts)
	created := false
	info, err := os.Stat(dir)
	switch {
	case err == nil && !info.IsDir():
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, dir)
	case os.IsNotExist(err):
		if !cfg.CreateDir {
			return nil, fmt.Errorf("%w: %s", ErrDirNotFound, dir)
		}
		if err := file.EnsureDir(dir); err != nil {
			return nil, err
		}
		created = true
	case err != nil:
		return nil, fmt.Errorf("stat %s: %w", dir, err)
	}

	lock := flock.New(filepath.Join(dir, lockFile))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", dir, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, dir)
	}

	s := &Store[K, V]{
		dir:     dir,
		cfg:     cfg,
		keys:    keys,
		values:  values,
		objects: m,
		buf:     codec.NewBuffer(cfg.BufferSize, cfg.MaxBufferSize),
		flock:   lock,
	}

	if cfg.DeleteData {
		if err := s.wipeData(); err != nil {
			_ = lock.Unlock()
			return nil, err
		}
	}
	// A wiped or freshly created directory is loaded immediately even with
	// deferLoad set; it is empty, so there is nothing to defer for.
	if cfg.DeleteData || created || !cfg.DeferLoad {
		clean, err := s.Load()
		if err != nil {
			_ = lock.Unlock()
			return nil, err
		}
		if !clean {
			logrus.Warnf("logkv: %s loaded with corruption, resaved baseline at generation %d", dir, s.time)
		}
	}
	return s, nil
}

// Update sets key to value in the map and appends the event to the log
// buffer. An empty value behaves as Erase. The event reaches disk on the
// next frame flush (buffer overflow or Flush).
func (s *Store[K, V]) Update(key K, value V) error {
	if s.values.Empty(value) {
		return s.Erase(key)
	}
	if s.log == nil {
		return ErrLogClosed
	}
	if err := writeEvent(s.log, s.keys, s.values, key, value); err != nil {
		return err
	}
	s.objects.Set(key, value)
	return nil
}

// Erase removes key from the map, appending a tombstone event. Erasing an
// absent key is a no-op and writes nothing.
func (s *Store[K, V]) Erase(key K) error {
	if _, ok := s.objects.Get(key); !ok {
		return nil
	}
	if s.log == nil {
		return ErrLogClosed
	}
	var empty V
	if err := writeEvent(s.log, s.keys, s.values, key, empty); err != nil {
		return err
	}
	s.objects.Delete(key)
	return nil
}

// Flush writes any buffered events to the active log as one frame.
func (s *Store[K, V]) Flush() error {
	if s.log == nil {
		return ErrLogClosed
	}
	return s.log.flush()
}

// Get looks up key in the in-memory map.
func (s *Store[K, V]) Get(key K) (V, bool) {
	return s.objects.Get(key)
}

// Len is the number of live keys.
func (s *Store[K, V]) Len() int { return s.objects.Len() }

// Range iterates the live map.
func (s *Store[K, V]) Range(fn func(key K, value V) bool) {
	s.objects.Range(fn)
}

// Time is the current generation counter.
func (s *Store[K, V]) Time() uint64 { return s.time }

// Loaded reports whether Load has succeeded for the current directory.
func (s *Store[K, V]) Loaded() bool { return s.loaded }

// Directory is the backing data directory.
func (s *Store[K, V]) Directory() string { return s.dir }

// BufferSize is the current I/O buffer capacity.
func (s *Store[K, V]) BufferSize() int { return s.buf.Cap() }

// Close flushes pending events, waits for background saves, closes the log
// and releases the directory lock.
func (s *Store[K, V]) Close() error {
	s.bg.Wait()
	err := s.closeLog()
	if s.flock != nil {
		if uerr := s.flock.Unlock(); err == nil {
			err = uerr
		}
	}
	s.loaded = false
	return err
}

func (s *Store[K, V]) eventsPath(gen uint64) string {
	return filepath.Join(s.dir, fmt.Sprintf("%020d%s", gen, eventsExt))
}

func (s *Store[K, V]) snapshotPath(gen uint64) string {
	return filepath.Join(s.dir, fmt.Sprintf("%020d%s", gen, snapshotExt))
}

// openLog opens the active events file for the current generation in append
// mode; bytes already on disk at this generation are only added to.
func (s *Store[K, V]) openLog() error {
	f, err := os.OpenFile(s.eventsPath(s.time), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open events log: %w", err)
	}
	s.buf.Reset()
	s.log = &frameWriter{f: f, buf: s.buf, force32: s.cfg.StrongChecksums}
	return nil
}

// closeLog flushes the pending frame and closes the active log.
func (s *Store[K, V]) closeLog() error {
	if s.log == nil {
		return nil
	}
	err := s.log.flush()
	if cerr := s.log.f.Close(); err == nil {
		err = cerr
	}
	s.log = nil
	return err
}
