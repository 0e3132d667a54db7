// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package pipeline compiles pipeline configurations into GPU render
// pipelines and caches them.
//
// Compilation is lazy and multi-level. A [Cache] keeps three sub-caches:
//
//   - resource layouts, keyed by the vertex/pixel program pair, holding the
//     merged bind group layout and the pipeline layout;
//   - render-target configurations, keyed by the attached target IDs,
//     holding the validated attachment formats and sample count;
//   - pipelines, keyed by every part of the state the GPU object bakes in.
//
// Sub-objects are shared: pipelines that differ only in, say, blending use
// the same layout and target configuration.
//
// Every compiled pipeline gets a sequential [HandleID]. IDs are never
// reused. When eviction is enabled, the GPU objects of pipelines that were
// not used for a number of frames are released and recreated under the
// same ID on the next lookup. Unregistering a render target drops the
// pipelines drawing into it for good; a later lookup compiles a new handle.
//
// The handle list grows with the number of distinct keys ever compiled and
// keeps only the key of a released pipeline. Everything else is bounded by
// the live pipelines and targets.
//
// Cache is not safe for concurrent use.
package pipeline

import (
	"fmt"
	"math"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/pipestate/internal/cache"
	"github.com/gogpu/pipestate/internal/debug"
	"github.com/gogpu/pipestate/program"
	"github.com/gogpu/pipestate/state"
)

// DefaultTargetCacheLimit is used when Config.TargetCacheLimit is zero.
const DefaultTargetCacheLimit = 64

// Device is the subset of hal.Device the cache uses.
type Device interface {
	CreateBindGroupLayout(desc *hal.BindGroupLayoutDescriptor) (hal.BindGroupLayout, error)
	DestroyBindGroupLayout(layout hal.BindGroupLayout)
	CreatePipelineLayout(desc *hal.PipelineLayoutDescriptor) (hal.PipelineLayout, error)
	DestroyPipelineLayout(layout hal.PipelineLayout)
	CreateRenderPipeline(desc *hal.RenderPipelineDescriptor) (hal.RenderPipeline, error)
	DestroyRenderPipeline(pipeline hal.RenderPipeline)
}

// Programs resolves program IDs. *program.Library implements it.
type Programs interface {
	Program(id state.ProgramID) (*program.Program, bool)
}

// Config configures a Cache.
type Config struct {
	// Limits bound the attachment count.
	// Defaults to gputypes.DefaultLimits() if nil.
	Limits *gputypes.Limits

	// MaxIdleFrames is the number of EndFrame calls a pipeline may go
	// unused before its GPU objects are released. It must exceed the
	// number of frames in flight. Zero disables eviction.
	MaxIdleFrames uint64

	// TargetCacheLimit is the soft limit of the target configuration cache.
	// Defaults to DefaultTargetCacheLimit if zero.
	TargetCacheLimit int

	// Debug enables serialized-access assertions.
	Debug bool
}

// HandleID identifies a compiled pipeline. IDs are sequential from zero.
type HandleID uint32

// Compiled is a cached pipeline. It is owned by the Cache; callers must not
// destroy its GPU objects.
type Compiled struct {
	id       HandleID
	key      Key
	layout   *Layout
	targets  *TargetConfig
	pipeline hal.RenderPipeline
	lastUsed uint64
	dropped  bool
}

// ID returns the pipeline's handle.
func (c *Compiled) ID() HandleID { return c.id }

// Key returns the key the pipeline was compiled for.
func (c *Compiled) Key() Key { return c.key }

// Layout returns the shared resource layout.
func (c *Compiled) Layout() *Layout { return c.layout }

// Targets returns the shared target configuration.
func (c *Compiled) Targets() *TargetConfig { return c.targets }

// Pipeline returns the GPU render pipeline. It is nil while the pipeline
// is evicted, which a caller never observes through FindOrCreateState, and
// after one of its targets was unregistered.
func (c *Compiled) Pipeline() hal.RenderPipeline { return c.pipeline }

// Dropped reports whether one of the pipeline's targets was unregistered.
// A dropped handle is never returned by FindOrCreateState again.
func (c *Compiled) Dropped() bool { return c.dropped }

// Stats contains pipeline cache statistics.
type Stats struct {
	// Hits is the number of lookups answered by an existing handle.
	Hits uint64
	// Misses is the number of lookups that created a new handle.
	Misses uint64
	// Compiles is the number of render pipelines created, including
	// recompiles after eviction.
	Compiles uint64
	// LayoutCompiles is the number of resource layouts created.
	LayoutCompiles uint64
	// TargetBuilds is the number of target configurations built.
	TargetBuilds uint64
	// Evictions is the number of render pipelines released by EndFrame.
	Evictions uint64
	// LayoutEvictions is the number of resource layouts released by EndFrame.
	LayoutEvictions uint64
	// Dropped is the number of handles dropped by target unregistration.
	Dropped uint64
	// Handles is the number of handle IDs issued.
	Handles int
	// Live is the number of handles with a GPU pipeline.
	Live int
	// Layouts is the number of live resource layouts.
	Layouts int
	// Targets is the number of cached target configurations.
	Targets int
}

// Cache compiles and caches pipelines.
type Cache struct {
	device   Device
	programs Programs
	targets  *TargetTable

	maxColor uint32
	maxIdle  uint64

	layouts map[layoutKey]*Layout
	configs *cache.Cache[targetKey, *TargetConfig]
	byKey   map[Key]HandleID
	fast    map[fastKey]HandleID
	entries []*Compiled

	generation uint64
	live       int
	stats      Stats
	guard      *debug.Guard
	destroyed  bool
}

// New creates an empty cache. programs and targets are consulted during
// compilation; the cache does not own them.
func New(device Device, programs Programs, targets *TargetTable, cfg Config) *Cache {
	limits := cfg.Limits
	if limits == nil {
		l := gputypes.DefaultLimits()
		limits = &l
	}
	limit := cfg.TargetCacheLimit
	if limit <= 0 {
		limit = DefaultTargetCacheLimit
	}

	c := &Cache{
		device:   device,
		programs: programs,
		targets:  targets,
		maxColor: limits.MaxColorAttachments,
		maxIdle:  cfg.MaxIdleFrames,
		layouts:  make(map[layoutKey]*Layout),
		configs: cache.New(limit, cache.WithOnEvict(func(k targetKey, _ *TargetConfig) {
			slogger().Debug("pipeline: target config evicted", "colors", k.count, "depth", k.depth)
		})),
		byKey: make(map[Key]HandleID),
		fast:  make(map[fastKey]HandleID),
		guard: debug.NewGuard("pipeline cache", cfg.Debug),
	}
	targets.onUnregister(c.dropTarget)
	return c
}

// FindOrCreateState returns the pipeline for the configuration interned as
// id and the draw state draw, compiling it on first use.
//
// static must be the configuration id was issued for; the pair is used to
// skip key construction on repeat lookups. draw may be nil.
//
// Equal inputs always yield the same *Compiled. On error nothing is cached
// and a later call retries.
func (c *Cache) FindOrCreateState(id state.SnapshotID, static *state.PipelineConfigState, draw *state.DrawState) (*Compiled, error) {
	defer c.guard.Enter("FindOrCreateState")()

	if c.destroyed {
		return nil, ErrCacheDestroyed
	}

	fk := fastKey{snapshot: id, viewports: viewportsKeyOf(draw)}
	if h, ok := c.fast[fk]; ok {
		return c.hit(c.entries[h])
	}

	key := KeyOf(static, draw)
	if h, ok := c.byKey[key]; ok {
		c.fast[fk] = h
		return c.hit(c.entries[h])
	}

	e := &Compiled{id: HandleID(len(c.entries)), key: key} //nolint:gosec // G115: handle count fits in uint32
	if err := c.compile(e, static); err != nil {
		return nil, err
	}
	c.stats.Misses++
	c.entries = append(c.entries, e)
	c.byKey[key] = e.id
	c.fast[fk] = e.id
	return e, nil
}

// hit marks e used, recompiling it if it was evicted.
func (c *Cache) hit(e *Compiled) (*Compiled, error) {
	if e.pipeline == nil {
		slogger().Debug("pipeline: recompiling evicted pipeline", "handle", e.id)
		s := c.configFromKey(&e.key)
		if err := c.compile(e, &s); err != nil {
			return nil, err
		}
	}
	c.stats.Hits++
	e.lastUsed = c.generation
	if e.layout != nil {
		e.layout.lastUsed = c.generation
	}
	return e, nil
}

// compile resolves the layout and target configuration of e and creates
// its render pipeline.
func (c *Cache) compile(e *Compiled, s *state.PipelineConfigState) error {
	vp, pp, err := c.resolvePrograms(s)
	if err != nil {
		return err
	}
	layout, err := c.layout(vp, pp)
	if err != nil {
		return err
	}
	targets, err := c.targetConfig(e.key.targets)
	if err != nil {
		return err
	}
	if s.SampleCount != 0 && s.SampleCount != targets.sampleCount {
		return fmt.Errorf("%w: configuration has %d samples, targets have %d",
			ErrSampleCountMismatch, s.SampleCount, targets.sampleCount)
	}

	label := fmt.Sprintf("pipeline_%d", e.id)
	desc, err := buildDescriptor(label, s, vp, pp, layout, targets)
	if err != nil {
		return err
	}
	p, err := c.device.CreateRenderPipeline(desc)
	if err != nil {
		return &CreateError{Op: "CreateRenderPipeline", Label: label, Err: err}
	}

	c.stats.Compiles++
	c.live++
	layout.refs++
	layout.lastUsed = c.generation
	e.layout = layout
	e.targets = targets
	e.pipeline = p
	e.lastUsed = c.generation

	slogger().Debug("pipeline: compiled", "handle", e.id,
		"vertex", s.VertexProgram, "pixel", s.PixelProgram,
		"colors", targets.colorCount, "samples", targets.sampleCount)
	return nil
}

func (c *Cache) resolvePrograms(s *state.PipelineConfigState) (vp, pp *program.Program, err error) {
	vp, ok := c.programs.Program(s.VertexProgram)
	if !ok {
		return nil, nil, fmt.Errorf("%w: vertex program %d", ErrNoProgram, s.VertexProgram)
	}
	if vp.Stage != program.StageVertex {
		return nil, nil, fmt.Errorf("%w: %s is a %s program", ErrStageMismatch, vp.Label, vp.Stage)
	}
	if s.PixelProgram == 0 {
		return vp, nil, nil
	}
	pp, ok = c.programs.Program(s.PixelProgram)
	if !ok {
		return nil, nil, fmt.Errorf("%w: pixel program %d", ErrNoProgram, s.PixelProgram)
	}
	if pp.Stage != program.StagePixel {
		return nil, nil, fmt.Errorf("%w: %s is a %s program", ErrStageMismatch, pp.Label, pp.Stage)
	}
	return vp, pp, nil
}

// layout returns the resource layout of a program pair, creating it on
// first use.
func (c *Cache) layout(vp, pp *program.Program) (*Layout, error) {
	k := layoutKey{vertex: vp.ID}
	if pp != nil {
		k.pixel = pp.ID
	}
	if l, ok := c.layouts[k]; ok {
		return l, nil
	}

	entries, err := mergeBindings(vp, pp)
	if err != nil {
		return nil, err
	}
	l, err := createLayout(c.device, k, entries)
	if err != nil {
		return nil, err
	}
	c.stats.LayoutCompiles++
	c.layouts[k] = l
	slogger().Debug("pipeline: layout created", "vertex", k.vertex, "pixel", k.pixel, "bindings", len(entries))
	return l, nil
}

// targetConfig returns the validated configuration of an attachment set.
func (c *Cache) targetConfig(k targetKey) (*TargetConfig, error) {
	return c.configs.GetOrCreate(k, func() (*TargetConfig, error) {
		cfg, err := buildTargetConfig(c.targets, k, c.maxColor)
		if err != nil {
			return nil, err
		}
		c.stats.TargetBuilds++
		return cfg, nil
	})
}

// configFromKey rebuilds the configuration fields a pipeline key retains,
// which is everything compile reads.
func (c *Cache) configFromKey(k *Key) state.PipelineConfigState {
	return state.PipelineConfigState{
		VertexProgram: k.vertexProgram,
		PixelProgram:  k.pixelProgram,
		VertexVariant: k.vertexVariant,
		PixelVariant:  k.pixelVariant,
		VertexLayout:  k.vertexLayout,
		Topology:      k.topology,
		DepthStencil:  k.depthStencil,
		Raster: state.Raster{
			Cull:      k.cull,
			Fill:      k.fill,
			FrontFace: k.frontFace,
			Offset: state.PolyOffset{
				Constant:   k.depthBias,
				SlopeScale: math.Float32frombits(k.slopeScale),
				Clamp:      math.Float32frombits(k.biasClamp),
			},
		},
		Blend: state.Blend{
			Enabled:   k.blend.enabled,
			Color:     k.blend.color,
			Alpha:     k.blend.alpha,
			WriteMask: k.blend.writeMask,
		},
		ColorTargets:     k.targets.colors,
		ColorTargetCount: k.targets.count,
		DepthTarget:      k.targets.depth,
		SampleCount:      k.sampleCount,
	}
}

// Get returns the pipeline with the given handle.
// It panics if h was never issued.
func (c *Cache) Get(h HandleID) *Compiled {
	if int(h) >= len(c.entries) {
		panic(fmt.Sprintf("pipeline: handle %d out of range (have %d)", h, len(c.entries)))
	}
	return c.entries[h]
}

// Len returns the number of handles issued.
func (c *Cache) Len() int { return len(c.entries) }

// Stats returns cache statistics.
func (c *Cache) Stats() Stats {
	s := c.stats
	s.Handles = len(c.entries)
	s.Live = c.live
	s.Layouts = len(c.layouts)
	s.Targets = c.configs.Len()
	return s
}

// HitRate returns the fraction of lookups answered without creating a new
// handle, 0.0 to 1.0.
func (c *Cache) HitRate() float64 {
	total := c.stats.Hits + c.stats.Misses
	if total == 0 {
		return 0
	}
	return float64(c.stats.Hits) / float64(total)
}

// Generation returns the number of EndFrame calls so far.
func (c *Cache) Generation() uint64 { return c.generation }

// EndFrame advances the frame counter and, if eviction is enabled, releases
// the GPU objects of pipelines and layouts that have not been used for
// more than MaxIdleFrames frames.
//
// Callers must pick MaxIdleFrames larger than the number of frames the GPU
// may still be executing, so released objects are no longer referenced.
func (c *Cache) EndFrame() {
	defer c.guard.Enter("EndFrame")()

	c.generation++
	if c.maxIdle == 0 || c.destroyed {
		return
	}

	var evicted, layouts int
	var gone map[HandleID]struct{}
	for _, e := range c.entries {
		if e.pipeline == nil || c.generation-e.lastUsed <= c.maxIdle {
			continue
		}
		c.release(e)
		if gone == nil {
			gone = make(map[HandleID]struct{})
		}
		gone[e.id] = struct{}{}
		evicted++
	}
	c.forgetFast(gone)
	for k, l := range c.layouts {
		if l.refs > 0 || c.generation-l.lastUsed <= c.maxIdle {
			continue
		}
		l.destroy(c.device)
		delete(c.layouts, k)
		layouts++
	}

	c.stats.Evictions += uint64(evicted)        //nolint:gosec // G115: non-negative
	c.stats.LayoutEvictions += uint64(layouts) //nolint:gosec // G115: non-negative
	if evicted > 0 || layouts > 0 {
		slogger().Debug("pipeline: evicted idle objects",
			"generation", c.generation, "pipelines", evicted, "layouts", layouts)
	}
}

// release destroys the render pipeline of e and drops its references to
// shared sub-objects.
func (c *Cache) release(e *Compiled) {
	c.device.DestroyRenderPipeline(e.pipeline)
	e.pipeline = nil
	e.layout.refs--
	e.layout = nil
	e.targets = nil
	c.live--
}

// forgetFast removes the snapshot shortcuts to the given handles. A later
// lookup of those snapshots goes through the full key again.
func (c *Cache) forgetFast(gone map[HandleID]struct{}) {
	if len(gone) == 0 {
		return
	}
	for fk, h := range c.fast {
		if _, ok := gone[h]; ok {
			delete(c.fast, fk)
		}
	}
}

// dropTarget releases everything compiled against target id. It runs when
// id is unregistered from the target table.
func (c *Cache) dropTarget(id state.TargetID) {
	defer c.guard.Enter("dropTarget")()

	if c.destroyed {
		return
	}
	gone := make(map[HandleID]struct{})
	for _, e := range c.entries {
		if e.dropped || !e.key.targets.uses(id) {
			continue
		}
		if e.pipeline != nil {
			c.release(e)
		}
		e.dropped = true
		delete(c.byKey, e.key)
		gone[e.id] = struct{}{}
	}
	c.forgetFast(gone)
	configs := c.configs.DeleteFunc(func(k targetKey, _ *TargetConfig) bool { return k.uses(id) })

	c.stats.Dropped += uint64(len(gone))
	slogger().Debug("pipeline: target unregistered",
		"target", id, "pipelines", len(gone), "configs", configs)
}

// Destroy releases every GPU object the cache created. Handles become
// invalid and further lookups fail with ErrCacheDestroyed.
func (c *Cache) Destroy() {
	if c.destroyed {
		return
	}
	c.destroyed = true
	for _, e := range c.entries {
		if e.pipeline != nil {
			c.device.DestroyRenderPipeline(e.pipeline)
			e.pipeline = nil
		}
		e.layout = nil
	}
	for _, l := range c.layouts {
		l.destroy(c.device)
	}
	c.layouts = nil
	c.configs.Clear()
	c.live = 0
}
