package pipestate

import (
	"log/slog"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/pipestate/pipeline"
	"github.com/gogpu/pipestate/pool"
)

// Default sizes of the transient buffer pools.
const (
	// DefaultUniformPoolSize is the uniform pool size used when
	// Config.UniformPoolSize is zero.
	DefaultUniformPoolSize = 1 << 20

	// DefaultStoragePoolSize is the storage pool size used by
	// DefaultConfig. A zero StoragePoolSize disables the storage pool.
	DefaultStoragePoolSize = 0
)

// Config holds the configuration of a Context.
// Zero fields are replaced by the values of DefaultConfig.
type Config struct {
	// UniformPoolSize is the backing size of the uniform pool in bytes.
	UniformPoolSize uint64

	// StoragePoolSize is the backing size of the storage pool in bytes.
	// Zero disables the storage pool.
	StoragePoolSize uint64

	// MaxIdleFrames is the number of frames an unused pipeline survives.
	// It must exceed the number of frames in flight. Zero disables eviction.
	MaxIdleFrames uint64

	// Fence, when set, enables fence-tracked reuse of pool memory. The
	// values passed to EndFrame must be signalled on it.
	Fence hal.Fence

	// FenceTimeout bounds a single fence wait.
	FenceTimeout time.Duration

	// TargetCacheLimit is the soft limit of cached target configurations.
	TargetCacheLimit int

	// Limits are the device limits. Defaults to gputypes.DefaultLimits().
	Limits *gputypes.Limits

	// Debug enables serialized-access assertions in every component.
	Debug bool

	// Logger, if set, is installed with SetLogger when the Context is
	// created.
	Logger *slog.Logger
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	limits := gputypes.DefaultLimits()
	return Config{
		UniformPoolSize:  DefaultUniformPoolSize,
		StoragePoolSize:  DefaultStoragePoolSize,
		FenceTimeout:     pool.DefaultFenceTimeout,
		TargetCacheLimit: pipeline.DefaultTargetCacheLimit,
		Limits:           &limits,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.UniformPoolSize == 0 {
		c.UniformPoolSize = d.UniformPoolSize
	}
	if c.FenceTimeout <= 0 {
		c.FenceTimeout = d.FenceTimeout
	}
	if c.TargetCacheLimit <= 0 {
		c.TargetCacheLimit = d.TargetCacheLimit
	}
	if c.Limits == nil {
		c.Limits = d.Limits
	}
	return c
}

// Option configures a Context during creation.
// Use functional options to customize Context behavior.
//
// Example:
//
//	ctx, err := pipestate.New(device, queue,
//	    pipestate.WithUniformPoolSize(4<<20),
//	    pipestate.WithMaxIdleFrames(120),
//	)
type Option func(*Config)

// WithConfig replaces the whole configuration. Options given after it
// still apply.
func WithConfig(cfg Config) Option {
	return func(c *Config) {
		*c = cfg
	}
}

// WithUniformPoolSize sets the uniform pool size in bytes. It must be a
// multiple of the device's minimum uniform buffer offset alignment.
func WithUniformPoolSize(size uint64) Option {
	return func(c *Config) {
		c.UniformPoolSize = size
	}
}

// WithStoragePoolSize sets the storage pool size in bytes. Zero disables
// the storage pool; otherwise it must be a multiple of the device's minimum
// storage buffer offset alignment.
func WithStoragePoolSize(size uint64) Option {
	return func(c *Config) {
		c.StoragePoolSize = size
	}
}

// WithMaxIdleFrames enables pipeline eviction after n idle frames.
func WithMaxIdleFrames(n uint64) Option {
	return func(c *Config) {
		c.MaxIdleFrames = n
	}
}

// WithFence enables fence-tracked pool reuse on f.
func WithFence(f hal.Fence) Option {
	return func(c *Config) {
		c.Fence = f
	}
}

// WithFenceTimeout bounds a single fence wait.
func WithFenceTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.FenceTimeout = d
	}
}

// WithTargetCacheLimit sets the soft limit of the target configuration
// cache.
func WithTargetCacheLimit(n int) Option {
	return func(c *Config) {
		c.TargetCacheLimit = n
	}
}

// WithDebug enables serialized-access assertions.
func WithDebug(enabled bool) Option {
	return func(c *Config) {
		c.Debug = enabled
	}
}

// WithLimits sets the device limits alignment and attachment counts are
// derived from.
func WithLimits(l gputypes.Limits) Option {
	return func(c *Config) {
		c.Limits = &l
	}
}

// WithLogger installs l with SetLogger when the Context is created.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}
