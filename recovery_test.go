package logkv

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"logkv/codec"
	"logkv/metadata"
	"logkv/serial"
)

// writeRawLog fabricates an events file at gen with one frame holding the
// given pairs, bypassing the store. Used to stage multi-log directories
// that normal operation (which deletes old logs on save) cannot produce.
func writeRawLog(t *testing.T, dir string, gen uint64, pairs [][2]string) {
	t.Helper()
	c := serial.String{}
	var payload []byte
	for _, kv := range pairs {
		for _, v := range kv {
			chunk := make([]byte, c.Size(v))
			c.Write(chunk, v)
			payload = append(payload, chunk...)
		}
	}
	f, err := os.Create(filepath.Join(dir, eventsName(gen)))
	require.NoError(t, err)
	require.NoError(t, codec.WriteFrame(f, payload, false))
	require.NoError(t, f.Close())
}

func corruptLastByte(t *testing.T, path string) {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotEmpty(t, raw)
	raw[len(raw)-1] ^= 0x01
	require.NoError(t, os.WriteFile(path, raw, 0o644))
}

func TestCorruptLogDetectedAndHealed(t *testing.T) {
	dir := t.TempDir()

	s := openTest(t, dir)
	require.NoError(t, s.Update("good", "1"))
	require.NoError(t, s.Flush())
	require.NoError(t, s.Update("torn", "2"))
	require.NoError(t, s.Flush())
	require.NoError(t, s.Close())

	// Flip one payload bit in the second frame: the checksum must reject
	// it, replay keeps what the first frame delivered, and load resaves
	// a clean baseline.
	corruptLastByte(t, filepath.Join(dir, eventsName(0)))

	s, err := Open[string, string](dir, serial.String{}, serial.String{}, WithDeferLoad())
	require.NoError(t, err)
	clean, err := s.Load()
	require.NoError(t, err)
	require.False(t, clean)

	requireState(t, s, map[string]string{"good": "1"})
	require.Equal(t, uint64(1), s.Time())
	require.FileExists(t, filepath.Join(dir, snapshotName(1)))
	require.NoFileExists(t, filepath.Join(dir, eventsName(0)))
	require.NoError(t, s.Close())

	// The healed directory loads clean.
	s, err = Open[string, string](dir, serial.String{}, serial.String{}, WithDeferLoad())
	require.NoError(t, err)
	clean, err = s.Load()
	require.NoError(t, err)
	require.True(t, clean)
	requireState(t, s, map[string]string{"good": "1"})
	require.NoError(t, s.Close())
}

func TestTruncatedLogTreatedAsCorrupt(t *testing.T) {
	dir := t.TempDir()

	s := openTest(t, dir)
	require.NoError(t, s.Update("whole", "1"))
	require.NoError(t, s.Flush())
	require.NoError(t, s.Update("partial", "2"))
	require.NoError(t, s.Flush())
	require.NoError(t, s.Close())

	// Cut the file mid-frame, as a crash during a write would.
	path := filepath.Join(dir, eventsName(0))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw[:len(raw)-3], 0o644))

	s, err = Open[string, string](dir, serial.String{}, serial.String{}, WithDeferLoad())
	require.NoError(t, err)
	clean, err := s.Load()
	require.NoError(t, err)
	require.False(t, clean)
	requireState(t, s, map[string]string{"whole": "1"})
	require.NoError(t, s.Close())
}

func TestGenerationGapFlagged(t *testing.T) {
	dir := t.TempDir()

	s := openTest(t, dir)
	require.NoError(t, s.Update("a", "1"))
	require.NoError(t, s.Flush())
	require.NoError(t, s.Close())

	// A log two generations ahead means generation 1 went missing.
	writeRawLog(t, dir, 2, [][2]string{{"c", "3"}})

	s, err := Open[string, string](dir, serial.String{}, serial.String{}, WithDeferLoad())
	require.NoError(t, err)
	clean, err := s.Load()
	require.NoError(t, err)
	require.False(t, clean)

	requireState(t, s, map[string]string{"a": "1", "c": "3"})
	require.Equal(t, uint64(3), s.Time())
	require.FileExists(t, filepath.Join(dir, snapshotName(3)))
	require.NoError(t, s.Close())
}

func TestCorruptIntermediateLogSkipped(t *testing.T) {
	dir := t.TempDir()

	writeRawLog(t, dir, 0, [][2]string{{"a", "1"}})
	require.NoError(t, os.WriteFile(filepath.Join(dir, eventsName(1)), []byte{0xFF, 0xFF, 0xFF, 0xFF}, 0o644))
	writeRawLog(t, dir, 2, [][2]string{{"c", "3"}})

	s, err := Open[string, string](dir, serial.String{}, serial.String{}, WithDeferLoad())
	require.NoError(t, err)
	clean, err := s.Load()
	require.NoError(t, err)
	require.False(t, clean)

	// Best-effort recovery: the bad log is dropped, logs around it still
	// replay.
	requireState(t, s, map[string]string{"a": "1", "c": "3"})
	require.NoFileExists(t, filepath.Join(dir, eventsName(1)))
	require.NoError(t, s.Close())
}

func TestStrayTempSnapshotIgnored(t *testing.T) {
	dir := t.TempDir()

	s := openTest(t, dir)
	require.NoError(t, s.Update("k", "v"))
	require.NoError(t, s.Save(SaveSync))
	require.NoError(t, s.Close())

	// A crashed save may leave a temp file behind; load must not read it.
	stray := filepath.Join(dir, "tmp_snapshot_1234_99999_2")
	require.NoError(t, os.WriteFile(stray, []byte("half-written garbage"), 0o644))

	s, err := Open[string, string](dir, serial.String{}, serial.String{}, WithDeferLoad())
	require.NoError(t, err)
	clean, err := s.Load()
	require.NoError(t, err)
	require.True(t, clean)
	requireState(t, s, map[string]string{"k": "v"})
	require.NoError(t, s.Close())
}

func TestSaveFailureLeavesNoSnapshot(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission-based failure injection does not work as root")
	}
	dir := t.TempDir()

	s := openTest(t, dir)
	require.NoError(t, s.Update("k", "v"))
	require.NoError(t, s.Flush())

	// Make the temp file creation fail mid-save.
	require.NoError(t, os.Chmod(dir, 0o555))
	require.Error(t, s.Save(SaveSync))
	require.NoError(t, os.Chmod(dir, 0o755))

	// No partial snapshot is ever visible at a snapshot path.
	matches, err := filepath.Glob(filepath.Join(dir, "*"+snapshotExt))
	require.NoError(t, err)
	require.Empty(t, matches)

	// The store stays usable and the next save succeeds.
	require.Equal(t, uint64(0), s.Time())
	require.NoError(t, s.Update("k2", "v2"))
	require.NoError(t, s.Save(SaveSync))
	require.NoError(t, s.Close())

	s = openTest(t, dir)
	requireState(t, s, map[string]string{"k": "v", "k2": "v2"})
	require.NoError(t, s.Close())
}

func TestSnapshotExcludesTombstones(t *testing.T) {
	dir := t.TempDir()

	s := openTest(t, dir)
	require.NoError(t, s.Update("ghost-key", "boo"))
	require.NoError(t, s.Update("keep", "yes"))
	require.NoError(t, s.Update("ghost-key", ""))
	require.NoError(t, s.Save(SaveSync))
	require.NoError(t, s.Close())

	raw, err := os.ReadFile(filepath.Join(dir, snapshotName(1)))
	require.NoError(t, err)
	require.NotContains(t, string(raw), "ghost-key")

	s = openTest(t, dir)
	requireState(t, s, map[string]string{"keep": "yes"})
	require.NoError(t, s.Close())
}

func TestSaveRotatesAndCleans(t *testing.T) {
	dir := t.TempDir()

	s := openTest(t, dir)
	require.NoError(t, s.Update("k", "v"))
	require.NoError(t, s.Save(SaveSync))

	require.Equal(t, uint64(1), s.Time())
	require.FileExists(t, filepath.Join(dir, snapshotName(1)))
	require.FileExists(t, filepath.Join(dir, eventsName(1)))
	require.NoFileExists(t, filepath.Join(dir, eventsName(0)))

	require.NoError(t, s.Update("k2", "v2"))
	require.NoError(t, s.Save(SaveSync))
	require.FileExists(t, filepath.Join(dir, snapshotName(2)))
	require.NoFileExists(t, filepath.Join(dir, snapshotName(1)))
	require.NoFileExists(t, filepath.Join(dir, eventsName(1)))
	require.NoError(t, s.Close())
}

func TestAsyncCleanupRemovesOldFiles(t *testing.T) {
	dir := t.TempDir()

	s := openTest(t, dir)
	require.NoError(t, s.Update("k", "v"))
	require.NoError(t, s.Save(SaveAsyncCleanup))
	require.Equal(t, uint64(1), s.Time())
	// Close waits for the background cleanup.
	require.NoError(t, s.Close())

	require.FileExists(t, filepath.Join(dir, snapshotName(1)))
	require.NoFileExists(t, filepath.Join(dir, eventsName(0)))

	s = openTest(t, dir)
	requireState(t, s, map[string]string{"k": "v"})
	require.NoError(t, s.Close())
}

func TestBackgroundSave(t *testing.T) {
	dir := t.TempDir()
	r := rand.New(rand.NewSource(11))

	s := openTest(t, dir)
	want := putRandom(t, s, r, 300)

	require.NoError(t, s.Save(SaveBackground))

	// The call returned with the new generation already active; the
	// snapshot may still be in flight.
	require.Equal(t, uint64(1), s.Time())
	require.FileExists(t, filepath.Join(dir, eventsName(1)))

	// An update issued right after must land in the new log, not in the
	// snapshot the background writer is producing.
	require.NoError(t, s.Update("post-save-key", "late"))
	want["post-save-key"] = "late"
	require.NoError(t, s.Flush())
	require.NoError(t, s.Close())

	raw, err := os.ReadFile(filepath.Join(dir, snapshotName(1)))
	require.NoError(t, err)
	require.NotContains(t, string(raw), "post-save-key")

	s = openTest(t, dir)
	requireState(t, s, want)
	require.NoError(t, s.Close())
}

func TestIdempotentReloadChain(t *testing.T) {
	dir := t.TempDir()
	r := rand.New(rand.NewSource(23))

	s := openTest(t, dir)
	want := putRandom(t, s, r, 200)
	require.NoError(t, s.Save(SaveSync))

	for k, v := range putRandom(t, s, r, 200) {
		want[k] = v
	}
	erased := 0
	for k := range want {
		require.NoError(t, s.Erase(k))
		delete(want, k)
		if erased++; erased == 50 {
			break
		}
	}
	require.NoError(t, s.Save(SaveSync))

	for k, v := range putRandom(t, s, r, 100) {
		want[k] = v
	}
	require.NoError(t, s.Flush())
	require.NoError(t, s.Close())

	// Snapshot + log replay reproduces the live state...
	s = openTest(t, dir)
	requireState(t, s, want)
	// ...and compacting right after loading changes nothing.
	require.NoError(t, s.Save(SaveSync))
	require.NoError(t, s.Close())

	s = openTest(t, dir)
	requireState(t, s, want)
	require.NoError(t, s.Close())
}

func TestUnreadableSnapshotIsCorrupt(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission-based failure injection does not work as root")
	}
	dir := t.TempDir()

	s := openTest(t, dir)
	require.NoError(t, s.Update("k", "v"))
	require.NoError(t, s.Save(SaveSync))
	require.NoError(t, s.Close())

	// A snapshot that exists but cannot be read is as lost as a corrupt
	// one; there is no older baseline to fall back to.
	path := filepath.Join(dir, snapshotName(1))
	require.NoError(t, os.Chmod(path, 0o000))
	_, err := Open[string, string](dir, serial.String{}, serial.String{})
	require.ErrorIs(t, err, ErrCorruptSnapshot)

	require.NoError(t, os.Chmod(path, 0o644))
	s = openTest(t, dir)
	requireState(t, s, map[string]string{"k": "v"})
	require.NoError(t, s.Close())
}

func TestMetadataWrittenAndVerified(t *testing.T) {
	dir := t.TempDir()

	s := openTest(t, dir)
	require.NoError(t, s.Update("k", "v"))
	require.NoError(t, s.Update("k2", "v2"))
	require.NoError(t, s.Save(SaveSync))
	require.NoError(t, s.Close())

	var md metadata.Metadata
	require.NoError(t, md.Load(dir))
	require.Equal(t, uint64(1), md.Generation)
	require.Equal(t, 2, md.Entries)
	require.NotEmpty(t, md.Digest)

	// A digest mismatch for the chosen snapshot is treated as corruption.
	md.Digest = "deadbeef"
	require.NoError(t, md.Save(dir))
	_, err := Open[string, string](dir, serial.String{}, serial.String{})
	require.ErrorIs(t, err, ErrCorruptSnapshot)

	// Metadata for some other generation is stale, not authoritative.
	md.Generation = 99
	require.NoError(t, md.Save(dir))
	s = openTest(t, dir)
	requireState(t, s, map[string]string{"k": "v", "k2": "v2"})
	require.NoError(t, s.Close())
}
