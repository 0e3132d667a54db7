// Command pipestatedemo drives a synthetic frame loop through pipestate on
// the noop HAL backend and reports cache and pool statistics.
package main

import (
	"encoding/binary"
	"flag"
	"log"
	"log/slog"
	"math"
	"os"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/pipestate"
	"github.com/gogpu/pipestate/pipeline"
	"github.com/gogpu/pipestate/program"
	"github.com/gogpu/pipestate/state"
)

const shaderWGSL = `
struct Uniforms {
    mvp: mat4x4<f32>,
}

@group(0) @binding(0) var<uniform> u: Uniforms;

@vertex
fn vs_main(@location(0) pos: vec3<f32>) -> @builtin(position) vec4<f32> {
    return u.mvp * vec4<f32>(pos, 1.0);
}

@fragment
fn fs_main() -> @location(0) vec4<f32> {
    return vec4<f32>(1.0, 0.5, 0.0, 1.0);
}
`

const (
	surfaceTarget state.TargetID = 1
	depthTarget   state.TargetID = 2
)

func main() {
	var (
		frames      = flag.Int("frames", 300, "frames to simulate")
		materials   = flag.Int("materials", 16, "distinct materials drawn per frame")
		switchEvery = flag.Int("switch", 100, "frames between material set changes")
		idle        = flag.Uint64("idle", 30, "frames before an unused pipeline is evicted (0 disables)")
		uniformPool = flag.Uint64("uniform-pool", 256<<10, "uniform pool size in bytes")
		verbose     = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	if *verbose {
		pipestate.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		log.Fatalf("Failed to create instance: %v", err)
	}
	defer instance.Destroy()
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		log.Fatal("No adapters")
	}
	dev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		log.Fatalf("Failed to open device: %v", err)
	}
	defer dev.Device.Destroy()

	ctx, err := pipestate.New(dev.Device, dev.Queue,
		pipestate.WithUniformPoolSize(*uniformPool),
		pipestate.WithMaxIdleFrames(*idle),
	)
	if err != nil {
		log.Fatalf("Failed to create context: %v", err)
	}
	defer ctx.Destroy()

	vs, fs, err := registerPrograms(ctx)
	if err != nil {
		log.Fatalf("Failed to register programs: %v", err)
	}
	if err := ctx.RegisterTarget(surfaceTarget, pipeline.TargetDesc{Label: "surface", Format: gputypes.TextureFormatBGRA8Unorm}); err != nil {
		log.Fatal(err)
	}
	if err := ctx.RegisterTarget(depthTarget, pipeline.TargetDesc{
		Label: "depth", Kind: pipeline.TargetDepth, Format: gputypes.TextureFormatDepth24PlusStencil8,
	}); err != nil {
		log.Fatal(err)
	}

	st := ctx.State()
	st.SetPrograms(vs, fs)
	st.SetColorTargets(surfaceTarget)
	st.SetDepthTarget(depthTarget)
	st.SetViewports(state.Viewport{Width: 1280, Height: 720, MaxDepth: 1})

	var layout state.VertexLayout
	buf, _ := layout.AddBuffer(12, gputypes.VertexStepModeVertex)
	if err := layout.AddAttribute(buf, 0, gputypes.VertexFormatFloat32x3, 0); err != nil {
		log.Fatal(err)
	}
	st.SetVertexLayout(layout)

	mvp := make([]byte, 64)
	for f := 0; f < *frames; f++ {
		set := 0
		if *switchEvery > 0 {
			set = f / *switchEvery
		}
		for m := 0; m < *materials; m++ {
			applyMaterial(st, set**materials+m)
			if _, err := ctx.Apply(); err != nil {
				log.Fatalf("Frame %d material %d: %v", f, m, err)
			}
			fillMatrix(mvp, float32(f), float32(m))
			if _, err := ctx.AllocUniform(mvp); err != nil {
				log.Fatalf("Frame %d uniform: %v", f, err)
			}
		}
		ctx.EndFrame(uint64(f + 1)) //nolint:gosec // G115: f is non-negative
	}

	s := ctx.Stats()
	log.Printf("frames=%d snapshots=%d intern hits=%d/%d",
		s.Frame, s.Snapshots, s.Intern.Hits, s.Intern.Lookups)
	log.Printf("pipelines: handles=%d live=%d compiles=%d layouts=%d evictions=%d hit rate=%.1f%%",
		s.Pipelines.Handles, s.Pipelines.Live, s.Pipelines.Compiles, s.Pipelines.LayoutCompiles,
		s.Pipelines.Evictions, ctx.Pipelines().HitRate()*100)
	log.Printf("uniforms: allocations=%d bytes=%d wraps=%d",
		s.Uniforms.Allocations, s.Uniforms.BytesAllocated, s.Uniforms.Wraps)
}

func registerPrograms(ctx *pipestate.Context) (vs, fs state.ProgramID, err error) {
	vs, err = ctx.RegisterProgram(program.Desc{
		Label:       "demo_vs",
		Stage:       program.StageVertex,
		WGSL:        shaderWGSL,
		EntryPoints: []string{"vs_main"},
		Bindings: []gputypes.BindGroupLayoutEntry{{
			Binding: 0,
			Buffer:  &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
		}},
	})
	if err != nil {
		return 0, 0, err
	}
	fs, err = ctx.RegisterProgram(program.Desc{
		Label:       "demo_fs",
		Stage:       program.StagePixel,
		WGSL:        shaderWGSL,
		EntryPoints: []string{"fs_main"},
	})
	return vs, fs, err
}

// applyMaterial derives a pipeline configuration from a material index.
func applyMaterial(st *state.Tracker, m int) {
	cull := []gputypes.CullMode{gputypes.CullModeBack, gputypes.CullModeNone, gputypes.CullModeFront}
	st.SetCullMode(cull[m%len(cull)])
	st.SetBlendEnabled(m%2 == 1)
	if m%2 == 1 {
		st.SetBlendFactors(gputypes.BlendFactorSrcAlpha, gputypes.BlendFactorOneMinusSrcAlpha,
			gputypes.BlendFactorOne, gputypes.BlendFactorOneMinusSrcAlpha)
	}
	st.SetDepthWrite(m%2 == 0)
	st.SetPolyOffset(state.PolyOffset{Constant: int32(m / 6)}) //nolint:gosec // G115: small
}

func fillMatrix(dst []byte, frame, material float32) {
	for i := 0; i < 16; i++ {
		v := float32(0)
		if i%5 == 0 {
			v = 1
		}
		if i == 12 {
			v = material
		}
		if i == 13 {
			v = float32(math.Sin(float64(frame) / 60))
		}
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(v))
	}
}
