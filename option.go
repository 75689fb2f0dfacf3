package logkv

import "logkv/codec"

const (
	// DefaultBufferSize is the initial I/O buffer size (512 KiB).
	DefaultBufferSize = 512 << 10

	// MaxBufferLimit is the hard cap on the I/O buffer (512 MiB).
	MaxBufferLimit = 512 << 20
)

// Config is the construction-time configuration of a store.
type Config struct {
	// CreateDir creates the data directory if it is absent; without it a
	// missing directory is ErrDirNotFound.
	CreateDir bool
	// DeleteData wipes all numerically named .events/.snapshot files (and
	// the metadata side file) before loading. Unrelated files are kept.
	DeleteData bool
	// DeferLoad skips the automatic Load in Open; the caller must call
	// Load before mutating or saving. Ignored when the directory was
	// created or wiped by this Open, since an empty directory loads for
	// free.
	DeferLoad bool
	// BufferSize is the initial I/O buffer size.
	BufferSize int
	// MaxBufferSize caps buffer growth; a single serialized object larger
	// than this cannot be stored.
	MaxBufferSize int
	// StrongChecksums forces 32-bit checksums on every frame, including
	// those below the size threshold.
	StrongChecksums bool
}

type Option func(*Config)

func WithCreateDir() Option {
	return func(c *Config) { c.CreateDir = true }
}

func WithDeleteData() Option {
	return func(c *Config) { c.DeleteData = true }
}

func WithDeferLoad() Option {
	return func(c *Config) { c.DeferLoad = true }
}

func WithBufferSize(size int) Option {
	return func(c *Config) { c.BufferSize = size }
}

func WithMaxBufferSize(size int) Option {
	return func(c *Config) { c.MaxBufferSize = size }
}

func WithStrongChecksums() Option {
	return func(c *Config) { c.StrongChecksums = true }
}

func newConfig(opts []Option) Config {
	cfg := Config{
		BufferSize:    DefaultBufferSize,
		MaxBufferSize: MaxBufferLimit,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.MaxBufferSize <= 0 || cfg.MaxBufferSize > MaxBufferLimit {
		cfg.MaxBufferSize = MaxBufferLimit
	}
	if cfg.MaxBufferSize > codec.MaxPayload {
		cfg.MaxBufferSize = codec.MaxPayload
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.BufferSize > cfg.MaxBufferSize {
		cfg.BufferSize = cfg.MaxBufferSize
	}
	return cfg
}
