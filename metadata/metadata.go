// Package metadata persists a small JSON side file next to the data files,
// recording which snapshot generation was last written and a content digest
// of its payload. The digest is advisory: load verifies it only when the
// recorded generation matches the snapshot actually chosen.
package metadata

import (
	"encoding/json"
	"os"
	"path/filepath"
)

const Filename = ".metadata"

type Metadata struct {
	// Generation of the snapshot this metadata describes.
	Generation uint64 `json:"generation"`
	// Digest is the chained farmhash64 of the snapshot frame payloads,
	// in hex.
	Digest string `json:"digest"`
	// Entries is the number of key/value pairs in the snapshot.
	Entries int `json:"entries"`
}

func Path(dir string) string {
	return filepath.Join(dir, Filename)
}

func (m *Metadata) Save(dir string) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(Path(dir), b, 0o644)
}

func (m *Metadata) Load(dir string) error {
	b, err := os.ReadFile(Path(dir))
	if err != nil {
		return err
	}
	return json.Unmarshal(b, m)
}

// Remove deletes the side file; missing is not an error.
func Remove(dir string) error {
	err := os.Remove(Path(dir))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
