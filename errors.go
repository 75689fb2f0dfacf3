package logkv

import "errors"

var (
	// ErrNotLoaded means Save or Clear was called before Load on a store
	// opened with WithDeferLoad. Programmer error, not an I/O failure.
	ErrNotLoaded = errors.New("logkv: cannot save before load")

	// ErrLogClosed means a mutation was attempted while no events log is
	// open, e.g. before Load on a deferred store or after Close.
	ErrLogClosed = errors.New("logkv: events log is not open")

	// ErrDirNotFound means the data directory does not exist and
	// WithCreateDir was not given.
	ErrDirNotFound = errors.New("logkv: directory not found")

	// ErrNotDirectory means the data directory path exists but is a file.
	ErrNotDirectory = errors.New("logkv: path is not a directory")

	// ErrCorruptSnapshot means the newest snapshot failed to replay. There
	// is no older snapshot to fall back to; operator intervention needed.
	ErrCorruptSnapshot = errors.New("logkv: corrupted snapshot")

	// ErrValueNotEmpty means the value codec reports the zero value of V
	// as non-empty, which would break tombstone semantics.
	ErrValueNotEmpty = errors.New("logkv: zero value of value type is not empty")

	// ErrLocked means another process holds the data directory lock.
	ErrLocked = errors.New("logkv: data directory locked by another process")
)
