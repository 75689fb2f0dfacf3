package logkv

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"logkv/metadata"
)

// parseGen extracts the generation number from a data file name with the
// given extension. The stem must be exactly the 20 digits the store writes;
// anything else is somebody else's file.
func parseGen(name, ext string) (uint64, bool) {
	stem, ok := strings.CutSuffix(name, ext)
	if !ok || len(stem) != 20 {
		return 0, false
	}
	for i := 0; i < len(stem); i++ {
		if stem[i] < '0' || stem[i] > '9' {
			return 0, false
		}
	}
	gen, err := strconv.ParseUint(stem, 10, 64)
	if err != nil {
		return 0, false
	}
	return gen, true
}

// Load rebuilds the map from the directory: the newest snapshot becomes the
// baseline, then every events log at or after its generation is replayed in
// order. Returns clean=false when recovery detected (and worked around) a
// gap or a corrupt log; in that case a fresh snapshot has already been
// resaved, so some updates may be permanently lost but the on-disk state is
// consistent again. A corrupt snapshot is fatal: there is no older snapshot
// to fall back to.
func (s *Store[K, V]) Load() (bool, error) {
	if err := s.closeLog(); err != nil {
		return false, err
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return false, fmt.Errorf("read directory: %w", err)
	}

	var (
		snapGen   uint64
		haveSnap  bool
		eventGens []uint64
	)
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if gen, ok := parseGen(entry.Name(), snapshotExt); ok {
			if !haveSnap || gen > snapGen {
				snapGen = gen
				haveSnap = true
			}
		} else if gen, ok := parseGen(entry.Name(), eventsExt); ok {
			eventGens = append(eventGens, gen)
		}
	}

	s.objects.Clear()
	s.time = 0
	if haveSnap {
		s.time = snapGen
		if err := s.loadSnapshot(snapGen); err != nil {
			return false, err
		}
	}

	clean := true
	expected := s.time
	slices.Sort(eventGens)
	for _, gen := range eventGens {
		if gen < s.time {
			continue
		}
		if gen != expected {
			// A missing log generation: the data it held is gone.
			logrus.Warnf("logkv: expected events log %020d, found %020d", expected, gen)
			clean = false
		}
		path := s.eventsPath(gen)
		f, err := os.Open(path)
		if err != nil {
			return false, fmt.Errorf("open events log: %w", err)
		}
		_, rerr := s.replay(f, false)
		_ = f.Close()
		if rerr != nil {
			// Best-effort forward progress: drop the bad log and
			// keep replaying later ones.
			logrus.Warnf("logkv: discarding corrupt events log %s: %v", filepath.Base(path), rerr)
			_ = os.Remove(path)
			clean = false
		}
		expected = gen + 1
		s.time = gen
	}

	s.loaded = true
	if !clean {
		// Self-heal: persist a known-good baseline before continuing.
		if err := s.Save(SaveSync); err != nil {
			return false, err
		}
		return false, nil
	}
	if err := s.openLog(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store[K, V]) loadSnapshot(gen uint64) error {
	f, err := os.Open(s.snapshotPath(gen))
	if err != nil {
		// The chosen snapshot exists but cannot be read; there is no
		// older baseline to fall back to.
		return fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	digest, rerr := s.replay(f, true)
	_ = f.Close()
	if rerr != nil {
		return fmt.Errorf("%w: %v", ErrCorruptSnapshot, rerr)
	}

	var md metadata.Metadata
	if err := md.Load(s.dir); err == nil && md.Generation == gen {
		if md.Digest != strconv.FormatUint(digest, 16) {
			return fmt.Errorf("%w: content digest mismatch", ErrCorruptSnapshot)
		}
	}
	return nil
}

// wipeData removes all numerically named data files plus the metadata side
// file, leaving unrelated files alone.
func (s *Store[K, V]) wipeData() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		_, isSnap := parseGen(entry.Name(), snapshotExt)
		_, isLog := parseGen(entry.Name(), eventsExt)
		if !isSnap && !isLog {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			return fmt.Errorf("delete %s: %w", entry.Name(), err)
		}
	}
	return metadata.Remove(s.dir)
}
