package pipestate

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/pipestate/pipeline"
	"github.com/gogpu/pipestate/program"
	"github.com/gogpu/pipestate/state"
)

const testShaderWGSL = `
@vertex
fn vs_main(@location(0) pos: vec2<f32>) -> @builtin(position) vec4<f32> {
    return vec4<f32>(pos, 0.0, 1.0);
}

@fragment
fn fs_main() -> @location(0) vec4<f32> {
    return vec4<f32>(1.0, 0.0, 0.0, 1.0);
}
`

type write struct {
	offset uint64
	data   []byte
}

// recordingQueue records buffer uploads. A non-nil err fails uploads.
type recordingQueue struct {
	hal.Queue
	writes []write
	err    error
}

func (q *recordingQueue) WriteBuffer(_ hal.Buffer, offset uint64, data []byte) error {
	if q.err != nil {
		return q.err
	}
	q.writes = append(q.writes, write{offset: offset, data: append([]byte(nil), data...)})
	return nil
}

func createNoopDevice(t *testing.T) (hal.Device, *recordingQueue) {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() {
		openDev.Device.Destroy()
		instance.Destroy()
	})
	return openDev.Device, &recordingQueue{Queue: openDev.Queue}
}

func newTestContext(t *testing.T, opts ...Option) (*Context, *recordingQueue) {
	t.Helper()
	device, queue := createNoopDevice(t)
	ctx, err := New(device, queue, append([]Option{WithDebug(true)}, opts...)...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(ctx.Destroy)
	return ctx, queue
}

func TestNewNilDevice(t *testing.T) {
	device, queue := createNoopDevice(t)
	if _, err := New(nil, queue); !errors.Is(err, ErrNilDevice) {
		t.Errorf("New(nil, queue) err = %v, want ErrNilDevice", err)
	}
	if _, err := New(device, nil); !errors.Is(err, ErrNilDevice) {
		t.Errorf("New(device, nil) err = %v, want ErrNilDevice", err)
	}
}

func TestNewDefaults(t *testing.T) {
	ctx, _ := newTestContext(t)

	cfg := ctx.Config()
	if cfg.UniformPoolSize != DefaultUniformPoolSize {
		t.Errorf("UniformPoolSize = %d, want %d", cfg.UniformPoolSize, DefaultUniformPoolSize)
	}
	if cfg.Limits == nil || cfg.FenceTimeout <= 0 || cfg.TargetCacheLimit != pipeline.DefaultTargetCacheLimit {
		t.Errorf("defaults not filled: %+v", cfg)
	}
	if ctx.UniformPool().Size() != DefaultUniformPoolSize {
		t.Errorf("uniform pool size = %d", ctx.UniformPool().Size())
	}
	if ctx.StoragePool() != nil {
		t.Error("storage pool enabled by default")
	}
	if _, err := ctx.AllocStorage([]byte{1, 2, 3, 4}); !errors.Is(err, ErrNoStoragePool) {
		t.Errorf("AllocStorage err = %v, want ErrNoStoragePool", err)
	}
	if ctx.SurfaceFormat() != gputypes.TextureFormatUndefined {
		t.Errorf("SurfaceFormat() = %v, want Undefined", ctx.SurfaceFormat())
	}
	if err := ctx.RegisterSurfaceTarget(1); !errors.Is(err, ErrNoSurfaceFormat) {
		t.Errorf("RegisterSurfaceTarget err = %v, want ErrNoSurfaceFormat", err)
	}
}

func TestOptionsApplied(t *testing.T) {
	limits := gputypes.DefaultLimits()
	limits.MinUniformBufferOffsetAlignment = 64

	ctx, _ := newTestContext(t,
		WithUniformPoolSize(4096),
		WithStoragePoolSize(2048),
		WithMaxIdleFrames(3),
		WithTargetCacheLimit(5),
		WithFenceTimeout(time.Second),
		WithLimits(limits),
	)

	cfg := ctx.Config()
	if cfg.UniformPoolSize != 4096 || cfg.StoragePoolSize != 2048 || cfg.MaxIdleFrames != 3 ||
		cfg.TargetCacheLimit != 5 || cfg.FenceTimeout != time.Second || !cfg.Debug {
		t.Errorf("Config() = %+v", cfg)
	}
	if ctx.UniformPool().Size() != 4096 || ctx.UniformPool().Alignment() != 64 {
		t.Errorf("uniform pool size/alignment = %d/%d", ctx.UniformPool().Size(), ctx.UniformPool().Alignment())
	}
	if ctx.StoragePool() == nil || ctx.StoragePool().Size() != 2048 {
		t.Error("storage pool not created")
	}
}

func TestWithConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UniformPoolSize = 8192

	ctx, _ := newTestContext(t, WithConfig(cfg), WithMaxIdleFrames(7))
	if got := ctx.Config(); got.UniformPoolSize != 8192 || got.MaxIdleFrames != 7 {
		t.Errorf("Config() = %+v", got)
	}
}

func TestTakeSnapshot(t *testing.T) {
	ctx, _ := newTestContext(t)
	st := ctx.State()

	a := ctx.TakeSnapshot()
	if a != 0 {
		t.Fatalf("first snapshot = %d, want 0", a)
	}
	if st.ConfigDirty() {
		t.Error("TakeSnapshot did not clear the dirty flag")
	}

	// Unchanged tracker: no interner lookup.
	if got := ctx.TakeSnapshot(); got != a {
		t.Errorf("repeat snapshot = %d, want %d", got, a)
	}
	if n := ctx.Stats().Intern.Lookups; n != 1 {
		t.Errorf("Lookups = %d, want 1", n)
	}

	st.SetCullMode(gputypes.CullModeNone)
	b := ctx.TakeSnapshot()
	if b != 1 {
		t.Errorf("mutated snapshot = %d, want 1", b)
	}

	st.SetCullMode(gputypes.CullModeBack)
	if got := ctx.TakeSnapshot(); got != a {
		t.Errorf("restored snapshot = %d, want %d", got, a)
	}
	if s := ctx.Stats(); s.Snapshots != 2 || s.Intern.Lookups != 3 {
		t.Errorf("Stats = %+v", s)
	}
}

func registerPrograms(t *testing.T, ctx *Context) (vs, fs state.ProgramID) {
	t.Helper()
	var err error
	vs, err = ctx.RegisterProgram(program.Desc{
		Label:       "vs",
		Stage:       program.StageVertex,
		WGSL:        testShaderWGSL,
		EntryPoints: []string{"vs_main"},
		Bindings: []gputypes.BindGroupLayoutEntry{{
			Binding: 0,
			Buffer:  &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
		}},
	})
	if err != nil {
		t.Fatalf("register vertex program: %v", err)
	}
	fs, err = ctx.RegisterProgram(program.Desc{
		Label:       "fs",
		Stage:       program.StagePixel,
		WGSL:        testShaderWGSL,
		EntryPoints: []string{"fs_main"},
	})
	if err != nil {
		t.Fatalf("register pixel program: %v", err)
	}
	return vs, fs
}

func TestApply(t *testing.T) {
	ctx, _ := newTestContext(t)
	vs, fs := registerPrograms(t, ctx)
	if err := ctx.RegisterTarget(1, pipeline.TargetDesc{Label: "color", Format: gputypes.TextureFormatBGRA8Unorm}); err != nil {
		t.Fatal(err)
	}

	st := ctx.State()
	st.SetPrograms(vs, fs)
	st.SetColorTargets(1)

	p, err := ctx.Apply()
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if p.ID() != 0 || p.Pipeline() == nil {
		t.Fatalf("Apply() = handle %d, pipeline %v", p.ID(), p.Pipeline())
	}

	again, err := ctx.Apply()
	if err != nil {
		t.Fatal(err)
	}
	if again != p {
		t.Error("unchanged state returned a different pipeline")
	}

	// Draw-only changes keep the pipeline.
	st.SetWorld(state.Identity)
	st.SetTexture(0, 3)
	if got, _ := ctx.Apply(); got != p {
		t.Error("draw state change produced a new pipeline")
	}

	st.SetBlendEnabled(true)
	other, err := ctx.Apply()
	if err != nil {
		t.Fatal(err)
	}
	if other == p || other.ID() != 1 {
		t.Errorf("blend change: ID = %d, want new handle 1", other.ID())
	}
	if other.Layout() != p.Layout() {
		t.Error("layout not shared")
	}

	if s := ctx.Stats().Pipelines; s.Compiles != 2 || s.LayoutCompiles != 1 {
		t.Errorf("pipeline stats = %+v", s)
	}
}

func TestApplyUnknownTarget(t *testing.T) {
	ctx, _ := newTestContext(t)
	vs, _ := registerPrograms(t, ctx)
	ctx.State().SetPrograms(vs, 0)
	ctx.State().SetColorTargets(9)

	if _, err := ctx.Apply(); !errors.Is(err, pipeline.ErrUnknownTarget) {
		t.Errorf("err = %v, want ErrUnknownTarget", err)
	}
}

func TestUnregisterTarget(t *testing.T) {
	ctx, _ := newTestContext(t)
	vs, fs := registerPrograms(t, ctx)
	if err := ctx.RegisterTarget(5, pipeline.TargetDesc{Label: "offscreen", Format: gputypes.TextureFormatRGBA8Unorm}); err != nil {
		t.Fatal(err)
	}
	ctx.State().SetPrograms(vs, fs)
	ctx.State().SetColorTargets(5)

	p, err := ctx.Apply()
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !ctx.UnregisterTarget(5) {
		t.Fatal("UnregisterTarget returned false")
	}
	if !p.Dropped() || p.Pipeline() != nil {
		t.Error("pipeline of the unregistered target still live")
	}
	if _, err := ctx.Apply(); !errors.Is(err, pipeline.ErrUnknownTarget) {
		t.Errorf("Apply after UnregisterTarget: err = %v, want ErrUnknownTarget", err)
	}

	if err := ctx.RegisterTarget(5, pipeline.TargetDesc{Label: "offscreen", Format: gputypes.TextureFormatBGRA8Unorm}); err != nil {
		t.Fatalf("re-register failed: %v", err)
	}
	again, err := ctx.Apply()
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if again == p || again.Pipeline() == nil {
		t.Error("Apply after re-register did not compile a new pipeline")
	}
	if ctx.UnregisterTarget(6) {
		t.Error("UnregisterTarget of an unknown target returned true")
	}
}

func TestAllocUniform(t *testing.T) {
	ctx, queue := newTestContext(t)
	align := ctx.UniformPool().Alignment()

	first, err := ctx.AllocUniform([]byte{1, 2, 3, 4, 5, 6})
	if err != nil {
		t.Fatalf("AllocUniform failed: %v", err)
	}
	second, err := ctx.AllocUniform(bytes.Repeat([]byte{9}, 16))
	if err != nil {
		t.Fatalf("AllocUniform failed: %v", err)
	}

	if first.Offset != 0 || second.Offset != align {
		t.Errorf("offsets = %d, %d; want 0, %d", first.Offset, second.Offset, align)
	}
	if first.Buffer() != ctx.UniformPool().Buffer() {
		t.Error("lease not backed by the uniform pool")
	}

	if len(queue.writes) != 2 {
		t.Fatalf("writes = %d, want 2", len(queue.writes))
	}
	w := queue.writes[0]
	if w.offset != 0 || !bytes.Equal(w.data, []byte{1, 2, 3, 4, 5, 6, 0, 0}) {
		t.Errorf("first write = %+v, want padded to 8 bytes", w)
	}
	if queue.writes[1].offset != align {
		t.Errorf("second write offset = %d, want %d", queue.writes[1].offset, align)
	}
	if _, err := ctx.AllocUniform(nil); err == nil {
		t.Error("empty allocation succeeded")
	}
}

func TestAllocUniformWriteError(t *testing.T) {
	ctx, queue := newTestContext(t)
	errLost := errors.New("device lost")
	queue.err = errLost

	if _, err := ctx.AllocUniform([]byte{1, 2, 3, 4}); !errors.Is(err, errLost) {
		t.Fatalf("AllocUniform err = %v, want device error", err)
	}

	queue.err = nil
	if _, err := ctx.AllocUniform([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("AllocUniform after failure: %v", err)
	}
	if len(queue.writes) != 1 {
		t.Errorf("writes = %d, want 1", len(queue.writes))
	}
}

func TestAllocStorage(t *testing.T) {
	ctx, queue := newTestContext(t, WithStoragePoolSize(1024))

	lease, err := ctx.AllocStorage([]byte{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("AllocStorage failed: %v", err)
	}
	if lease.Pool != ctx.StoragePool() {
		t.Error("lease not from the storage pool")
	}
	if len(queue.writes) != 1 {
		t.Errorf("writes = %d, want 1", len(queue.writes))
	}
}

func TestMapUniform(t *testing.T) {
	ctx, queue := newTestContext(t)

	m, err := ctx.MapUniform(12)
	if err != nil {
		t.Fatalf("MapUniform failed: %v", err)
	}
	if len(m.Data) != 12 {
		t.Fatalf("len(Data) = %d, want 12", len(m.Data))
	}
	for i := range m.Data {
		m.Data[i] = byte(i)
	}
	if len(queue.writes) != 0 {
		t.Fatal("upload before Unlock")
	}
	if err := m.Unlock(); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	if len(queue.writes) != 1 || len(queue.writes[0].data) != 12 || queue.writes[0].data[11] != 11 {
		t.Errorf("writes = %+v", queue.writes)
	}
}

func TestEndFrameEvicts(t *testing.T) {
	ctx, _ := newTestContext(t, WithMaxIdleFrames(1))
	vs, fs := registerPrograms(t, ctx)
	if err := ctx.RegisterTarget(1, pipeline.TargetDesc{Format: gputypes.TextureFormatBGRA8Unorm}); err != nil {
		t.Fatal(err)
	}
	ctx.State().SetPrograms(vs, fs)
	ctx.State().SetColorTargets(1)

	p, err := ctx.Apply()
	if err != nil {
		t.Fatal(err)
	}
	ctx.EndFrame(1)
	ctx.EndFrame(2)

	if ctx.Frame() != 2 || ctx.Pipelines().Generation() != 2 {
		t.Errorf("Frame() = %d, Generation() = %d; want 2, 2", ctx.Frame(), ctx.Pipelines().Generation())
	}
	if p.Pipeline() != nil {
		t.Fatal("idle pipeline not evicted")
	}

	again, err := ctx.Apply()
	if err != nil {
		t.Fatal(err)
	}
	if again != p || again.Pipeline() == nil {
		t.Error("evicted pipeline not restored under its handle")
	}
	if s := ctx.Stats(); s.Frame != 2 || s.Pipelines.Evictions != 1 {
		t.Errorf("Stats = %+v", s)
	}
}

func TestDestroyIdempotent(t *testing.T) {
	device, queue := createNoopDevice(t)
	ctx, err := New(device, queue, WithStoragePoolSize(256))
	if err != nil {
		t.Fatal(err)
	}
	ctx.Destroy()
	ctx.Destroy()

	if ctx.UniformPool().Buffer() != nil || ctx.StoragePool().Buffer() != nil {
		t.Error("pool buffers survived Destroy")
	}
	if _, err := ctx.Apply(); !errors.Is(err, pipeline.ErrCacheDestroyed) {
		t.Errorf("Apply after Destroy err = %v, want ErrCacheDestroyed", err)
	}
}

// mockDevice implements gpucontext.Device for testing.
type mockDevice struct{}

func (m *mockDevice) Poll(wait bool) {}
func (m *mockDevice) Destroy()       {}

// mockQueue implements gpucontext.Queue for testing.
type mockQueue struct{}

// mockAdapter implements gpucontext.Adapter for testing.
type mockAdapter struct{}

// mockProvider implements gpucontext.DeviceProvider for testing.
type mockProvider struct {
	format gputypes.TextureFormat
}

func (m *mockProvider) Device() gpucontext.Device             { return &mockDevice{} }
func (m *mockProvider) Queue() gpucontext.Queue               { return &mockQueue{} }
func (m *mockProvider) Adapter() gpucontext.Adapter           { return &mockAdapter{} }
func (m *mockProvider) SurfaceFormat() gputypes.TextureFormat { return m.format }
func (m *mockProvider) AdapterInfo() gpucontext.AdapterInfo {
	return gpucontext.AdapterInfo{Name: "mock", Type: gpucontext.AdapterTypeUnknown}
}

// halProvider additionally exposes HAL types.
type halProvider struct {
	mockProvider
	device hal.Device
	queue  hal.Queue
}

func (p *halProvider) HalDevice() any { return p.device }
func (p *halProvider) HalQueue() any  { return p.queue }

func TestNewFromProvider(t *testing.T) {
	device, queue := createNoopDevice(t)
	provider := &halProvider{
		mockProvider: mockProvider{format: gputypes.TextureFormatBGRA8Unorm},
		device:       device,
		queue:        queue,
	}

	ctx, err := NewFromProvider(provider)
	if err != nil {
		t.Fatalf("NewFromProvider failed: %v", err)
	}
	defer ctx.Destroy()

	if ctx.SurfaceFormat() != gputypes.TextureFormatBGRA8Unorm {
		t.Errorf("SurfaceFormat() = %v", ctx.SurfaceFormat())
	}
	if err := ctx.RegisterSurfaceTarget(1); err != nil {
		t.Fatalf("RegisterSurfaceTarget failed: %v", err)
	}
	desc, ok := ctx.Targets().Lookup(1)
	if !ok || desc.Format != gputypes.TextureFormatBGRA8Unorm || desc.Kind != pipeline.TargetColor {
		t.Errorf("surface target = %+v, %v", desc, ok)
	}
}

func TestNewFromProviderWithoutHAL(t *testing.T) {
	tests := []struct {
		name     string
		provider gpucontext.DeviceProvider
	}{
		{"no hal methods", &mockProvider{}},
		{"nil hal device", &halProvider{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewFromProvider(tt.provider); !errors.Is(err, ErrNoHALProvider) {
				t.Errorf("err = %v, want ErrNoHALProvider", err)
			}
		})
	}
}
