package pipestate

import (
	"errors"
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/pipestate/intern"
	"github.com/gogpu/pipestate/pipeline"
	"github.com/gogpu/pipestate/pool"
	"github.com/gogpu/pipestate/program"
	"github.com/gogpu/pipestate/state"
)

// Errors returned by Context.
var (
	// ErrNilDevice is returned when New is called without a device or queue.
	ErrNilDevice = errors.New("pipestate: nil device or queue")

	// ErrNoHALProvider is returned when a device provider does not expose
	// HAL types.
	ErrNoHALProvider = errors.New("pipestate: provider does not expose HAL types")

	// ErrNoStoragePool is returned by AllocStorage when the storage pool
	// is disabled.
	ErrNoStoragePool = errors.New("pipestate: storage pool disabled")

	// ErrNoSurfaceFormat is returned by RegisterSurfaceTarget when the
	// context was not created from a provider with a surface.
	ErrNoSurfaceFormat = errors.New("pipestate: no surface format")
)

// Context owns the render-state machinery of one device: the state
// tracker, the snapshot interner, the program library, the render-target
// table, the pipeline cache and the transient buffer pools.
//
// Context is not safe for concurrent use.
type Context struct {
	cfg Config

	tracker   *state.Tracker
	interner  *intern.Interner
	programs  *program.Library
	targets   *pipeline.TargetTable
	pipelines *pipeline.Cache

	uniforms *pool.DynamicBuffer
	storage  *pool.DynamicBuffer // nil when disabled

	surfaceFormat gputypes.TextureFormat

	snapshot    state.SnapshotID
	hasSnapshot bool
	frame       uint64
	destroyed   bool
}

// New creates a Context for device. queue uploads pool data.
func New(device hal.Device, queue hal.Queue, opts ...Option) (*Context, error) {
	if device == nil || queue == nil {
		return nil, ErrNilDevice
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()
	if cfg.Logger != nil {
		SetLogger(cfg.Logger)
	}

	uniforms, err := pool.New(device, queue, pool.Config{
		Label:        "pipestate_uniforms",
		Size:         cfg.UniformPoolSize,
		Usage:        pool.UsageUniform,
		Limits:       cfg.Limits,
		Fence:        cfg.Fence,
		FenceTimeout: cfg.FenceTimeout,
		Debug:        cfg.Debug,
	})
	if err != nil {
		return nil, fmt.Errorf("pipestate: uniform pool: %w", err)
	}

	var storage *pool.DynamicBuffer
	if cfg.StoragePoolSize > 0 {
		p, err := pool.New(device, queue, pool.Config{
			Label:        "pipestate_storage",
			Size:         cfg.StoragePoolSize,
			Usage:        pool.UsageStorage,
			Limits:       cfg.Limits,
			Fence:        cfg.Fence,
			FenceTimeout: cfg.FenceTimeout,
			Debug:        cfg.Debug,
		})
		if err != nil {
			uniforms.Destroy()
			return nil, fmt.Errorf("pipestate: storage pool: %w", err)
		}
		storage = pool.NewDynamicBuffer(p)
	}

	programs := program.NewLibrary(device)
	targets := pipeline.NewTargetTable()
	c := &Context{
		cfg:       cfg,
		tracker:   state.NewTracker(),
		interner:  intern.New(intern.WithDebug(cfg.Debug)),
		programs:  programs,
		targets:   targets,
		pipelines: pipeline.New(device, programs, targets, pipeline.Config{
			Limits:           cfg.Limits,
			MaxIdleFrames:    cfg.MaxIdleFrames,
			TargetCacheLimit: cfg.TargetCacheLimit,
			Debug:            cfg.Debug,
		}),
		uniforms: pool.NewDynamicBuffer(uniforms),
		storage:  storage,
	}

	Logger().Info("pipestate: context created",
		"uniformPool", cfg.UniformPoolSize, "storagePool", cfg.StoragePoolSize,
		"maxIdleFrames", cfg.MaxIdleFrames, "fenced", cfg.Fence != nil)
	return c, nil
}

// NewFromProvider creates a Context on the device of a host application.
// The provider must also implement HalDevice() any and HalQueue() any
// returning hal.Device and hal.Queue. Its surface format becomes the
// format of RegisterSurfaceTarget.
func NewFromProvider(provider gpucontext.DeviceProvider, opts ...Option) (*Context, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrNoHALProvider
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: HalDevice is not hal.Device", ErrNoHALProvider)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: HalQueue is not hal.Queue", ErrNoHALProvider)
	}

	c, err := New(device, queue, opts...)
	if err != nil {
		return nil, err
	}
	c.surfaceFormat = provider.SurfaceFormat()
	return c, nil
}

// Config returns the effective configuration.
func (c *Context) Config() Config { return c.cfg }

// State returns the tracker that accumulates state changes.
func (c *Context) State() *state.Tracker { return c.tracker }

// Interner returns the snapshot interner.
func (c *Context) Interner() *intern.Interner { return c.interner }

// Programs returns the program library.
func (c *Context) Programs() *program.Library { return c.programs }

// Targets returns the render-target table.
func (c *Context) Targets() *pipeline.TargetTable { return c.targets }

// Pipelines returns the pipeline cache.
func (c *Context) Pipelines() *pipeline.Cache { return c.pipelines }

// UniformPool returns the uniform pool.
func (c *Context) UniformPool() *pool.Pool { return c.uniforms.Pool() }

// StoragePool returns the storage pool, or nil if it is disabled.
func (c *Context) StoragePool() *pool.Pool {
	if c.storage == nil {
		return nil
	}
	return c.storage.Pool()
}

// SurfaceFormat returns the host surface format, or
// gputypes.TextureFormatUndefined if the context has no provider.
func (c *Context) SurfaceFormat() gputypes.TextureFormat { return c.surfaceFormat }

// RegisterProgram compiles and registers a shader program.
func (c *Context) RegisterProgram(d program.Desc) (state.ProgramID, error) {
	return c.programs.Register(d)
}

// RegisterTarget describes render target id to the pipeline cache.
func (c *Context) RegisterTarget(id state.TargetID, desc pipeline.TargetDesc) error {
	return c.targets.Register(id, desc)
}

// UnregisterTarget forgets render target id and releases the pipelines
// and target configurations compiled against it, so the ID can describe a
// different target later. It reports whether id was registered. The GPU
// must no longer be using pipelines that render into id.
func (c *Context) UnregisterTarget(id state.TargetID) bool {
	return c.targets.Unregister(id)
}

// RegisterSurfaceTarget registers id as a single-sampled color target in
// the host surface format.
func (c *Context) RegisterSurfaceTarget(id state.TargetID) error {
	if c.surfaceFormat == gputypes.TextureFormatUndefined {
		return ErrNoSurfaceFormat
	}
	return c.targets.Register(id, pipeline.TargetDesc{
		Label:  "surface",
		Kind:   pipeline.TargetColor,
		Format: c.surfaceFormat,
	})
}

// TakeSnapshot interns the tracker's current pipeline configuration.
// If the configuration has not changed since the previous snapshot, the
// previous ID is returned without hashing.
func (c *Context) TakeSnapshot() state.SnapshotID {
	if c.hasSnapshot && !c.tracker.ConfigDirty() {
		return c.snapshot
	}
	c.snapshot = c.interner.TakeSnapshot(c.tracker.Config())
	c.hasSnapshot = true
	c.tracker.ClearConfigDirty()
	return c.snapshot
}

// Apply snapshots the current configuration and returns the pipeline for
// it and the current draw state, compiling it on first use.
func (c *Context) Apply() (*pipeline.Compiled, error) {
	id := c.TakeSnapshot()
	return c.pipelines.FindOrCreateState(id, c.interner.StateRef(id), c.tracker.Draw())
}

// AllocUniform copies data into the uniform pool and returns its lease.
// The lease is valid until the frame it was allocated in is retired.
func (c *Context) AllocUniform(data []byte) (pool.Lease, error) {
	return upload(c.uniforms, data)
}

// AllocStorage copies data into the storage pool and returns its lease.
func (c *Context) AllocStorage(data []byte) (pool.Lease, error) {
	if c.storage == nil {
		return pool.Lease{}, ErrNoStoragePool
	}
	return upload(c.storage, data)
}

// MapUniform allocates size bytes of the uniform pool for writing in
// place. The bytes are uploaded by the final Unlock of the mapping.
func (c *Context) MapUniform(size uint64) (*pool.Mapping, error) {
	return c.uniforms.Lock(size)
}

func upload(b *pool.DynamicBuffer, data []byte) (pool.Lease, error) {
	m, err := b.Lock(uint64(len(data)))
	if err != nil {
		return pool.Lease{}, err
	}
	copy(m.Data, data)
	if err := m.Unlock(); err != nil {
		return pool.Lease{}, err
	}
	return m.Lease(), nil
}

// EndFrame closes the current frame. Pool memory allocated during the
// frame is released once fenceValue is signalled on the configured fence,
// and pipelines idle for too long are evicted.
func (c *Context) EndFrame(fenceValue uint64) {
	c.uniforms.Pool().Retire(fenceValue)
	if c.storage != nil {
		c.storage.Pool().Retire(fenceValue)
	}
	c.pipelines.EndFrame()
	c.frame++
}

// Frame returns the number of completed frames.
func (c *Context) Frame() uint64 { return c.frame }

// Stats is a snapshot of the statistics of every component.
type Stats struct {
	Frame     uint64
	Snapshots int
	Intern    intern.Stats
	Pipelines pipeline.Stats
	Uniforms  pool.Stats
	Storage   pool.Stats
}

// Stats returns the statistics of every component.
func (c *Context) Stats() Stats {
	s := Stats{
		Frame:     c.frame,
		Snapshots: c.interner.Len(),
		Intern:    c.interner.Stats(),
		Pipelines: c.pipelines.Stats(),
		Uniforms:  c.uniforms.Pool().Stats(),
	}
	if c.storage != nil {
		s.Storage = c.storage.Pool().Stats()
	}
	return s
}

// Destroy releases every GPU object the context created. The device and
// queue are not destroyed. Destroy is idempotent.
func (c *Context) Destroy() {
	if c.destroyed {
		return
	}
	c.destroyed = true
	c.pipelines.Destroy()
	c.programs.Destroy()
	c.uniforms.Pool().Destroy()
	if c.storage != nil {
		c.storage.Pool().Destroy()
	}
	Logger().Info("pipestate: context destroyed", "frames", c.frame, "snapshots", c.interner.Len())
}
