package logkv

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"logkv/codec"
	"logkv/container"
	"logkv/metadata"
	"logkv/serial"
)

// SaveMode selects how much of a Save happens on the calling goroutine.
type SaveMode int

const (
	// SaveSync writes the snapshot and deletes obsolete files before
	// returning.
	SaveSync SaveMode = iota

	// SaveAsyncCleanup writes the snapshot on the calling goroutine but
	// dispatches the deletion of obsolete files to the background.
	// Deletion is best-effort; a leftover stale file cannot corrupt a
	// later load, which always picks the newest snapshot.
	SaveAsyncCleanup

	// SaveBackground freezes a point-in-time copy of the map, opens the
	// new log generation and returns immediately; a background goroutine
	// serializes the frozen copy and cleans up. The snapshot reflects the
	// map state at the moment Save was called; updates issued after Save
	// returns land in the new log generation.
	//
	// A snapshot-aware value codec must also implement serial.Forker to
	// serialize in the background: the goroutine raises the snapshot flag
	// on the fork, never on the live codec concurrent updates write
	// through. Without Fork the snapshot is written before Save returns,
	// as in SaveAsyncCleanup.
	SaveBackground
)

// Save compacts the current map state into a snapshot at generation time+1
// and rotates the active log to that generation. Requires a prior Load.
func (s *Store[K, V]) Save(mode SaveMode) error {
	if !s.loaded {
		return ErrNotLoaded
	}
	newGen := s.time + 1

	// The active log is flushed and closed before snapshotting so the
	// snapshot writer never races the log's file position.
	if err := s.closeLog(); err != nil {
		return err
	}

	if mode == SaveBackground {
		values := serial.Codec[V](s.values)
		if f, ok := any(s.values).(serial.Forker[V]); ok {
			values = f.Fork()
		} else if _, ok := any(s.values).(serial.SnapshotAware); ok {
			// The snapshot flag cannot be raised without concurrent
			// updates observing it; write on this goroutine instead.
			mode = SaveAsyncCleanup
		}
		if mode == SaveBackground {
			frozen := s.objects.Clone()
			s.time = newGen
			if err := s.openLog(); err != nil {
				return err
			}
			s.bg.Add(1)
			go func() {
				defer s.bg.Done()
				if err := s.writeSnapshot(frozen, values, newGen); err != nil {
					logrus.Errorf("logkv: background snapshot %020d failed: %v", newGen, err)
					return
				}
				s.removeObsolete(newGen)
			}()
			return nil
		}
	}

	if err := s.writeSnapshot(s.objects, s.values, newGen); err != nil {
		// Reopen the old generation's log so the store stays usable;
		// nothing was renamed, so on-disk state is unchanged.
		if oerr := s.openLog(); oerr != nil {
			logrus.Errorf("logkv: reopening events log after failed save: %v", oerr)
		}
		return err
	}
	s.time = newGen

	if mode == SaveAsyncCleanup {
		s.bg.Add(1)
		go func() {
			defer s.bg.Done()
			s.removeObsolete(newGen)
		}()
	} else {
		s.removeObsolete(newGen)
	}
	return s.openLog()
}

// Clear wipes the map and saves an empty snapshot, discarding all history.
func (s *Store[K, V]) Clear() error {
	if !s.loaded {
		return ErrNotLoaded
	}
	s.objects.Clear()
	return s.Save(SaveSync)
}

// writeSnapshot serializes m through values to a temp file and atomically
// renames it to the snapshot path for gen. Tombstoned entries are skipped.
// On any failure the temp file is removed; a partially written file is never
// visible at a snapshot path. Uses its own buffer, and a background save
// passes a forked codec, so nothing here is shared with the live store.
func (s *Store[K, V]) writeSnapshot(m container.Map[K, V], values serial.Codec[V], gen uint64) error {
	tmp := filepath.Join(s.dir, fmt.Sprintf("tmp_snapshot_%d_%d_%d", os.Getpid(), time.Now().UnixNano(), gen))
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}

	w := &frameWriter{
		f:       f,
		buf:     codec.NewBuffer(s.cfg.BufferSize, s.cfg.MaxBufferSize),
		force32: s.cfg.StrongChecksums,
		hashing: true,
	}

	if aware, ok := any(values).(serial.SnapshotAware); ok {
		aware.SetSnapshotContext(true)
		defer aware.SetSnapshotContext(false)
	}

	entries := 0
	werr := error(nil)
	m.Range(func(key K, value V) bool {
		if values.Empty(value) {
			return true
		}
		if werr = writeEvent(w, s.keys, values, key, value); werr != nil {
			return false
		}
		entries++
		return true
	})
	if werr == nil {
		werr = w.flush()
	}
	if werr == nil {
		werr = f.Sync()
	}
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write snapshot: %w", werr)
	}

	if err := os.Rename(tmp, s.snapshotPath(gen)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename snapshot: %w", err)
	}

	md := metadata.Metadata{
		Generation: gen,
		Digest:     strconv.FormatUint(w.digest, 16),
		Entries:    entries,
	}
	if err := md.Save(s.dir); err != nil {
		// Metadata is advisory; the snapshot itself is already durable.
		logrus.Warnf("logkv: writing metadata for snapshot %020d: %v", gen, err)
	}
	logrus.Infof("logkv: wrote snapshot %020d (%d entries)", gen, entries)
	return nil
}

// removeObsolete deletes every snapshot and events file with a generation
// strictly below newGen. Failures are swallowed: a stale file only wastes
// space, it can never shadow the newer snapshot.
func (s *Store[K, V]) removeObsolete(newGen uint64) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		logrus.Warnf("logkv: cleanup scan failed: %v", err)
		return
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		gen, ok := parseGen(entry.Name(), snapshotExt)
		if !ok {
			gen, ok = parseGen(entry.Name(), eventsExt)
		}
		if !ok || gen >= newGen {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			logrus.Warnf("logkv: cleanup of %s failed: %v", entry.Name(), err)
		}
	}
}
