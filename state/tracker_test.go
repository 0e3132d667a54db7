package state

import (
	"math"
	"testing"

	"golang.org/x/image/math/f32"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/pipestate/pool"
)

func TestNewTrackerDefaults(t *testing.T) {
	tr := NewTracker()

	if !tr.ConfigDirty() {
		t.Error("new tracker should have a dirty config")
	}
	if tr.DrawDirty() != DirtyAll {
		t.Errorf("DrawDirty() = %b, want DirtyAll", tr.DrawDirty())
	}
	def := DefaultPipelineConfig()
	if !tr.Config().Equal(&def) {
		t.Error("new tracker config differs from DefaultPipelineConfig")
	}
	if tr.Draw().World != Identity {
		t.Error("world matrix should start as identity")
	}
}

func TestTrackerConfigDirtyOnlyOnChange(t *testing.T) {
	tests := []struct {
		name string
		same func(*Tracker)
		diff func(*Tracker)
	}{
		{
			"programs",
			func(tr *Tracker) { tr.SetPrograms(0, 0) },
			func(tr *Tracker) { tr.SetPrograms(1, 2) },
		},
		{
			"variants",
			func(tr *Tracker) { tr.SetVariants(0, 0) },
			func(tr *Tracker) { tr.SetVariants(0, 3) },
		},
		{
			"topology",
			func(tr *Tracker) { tr.SetTopology(gputypes.PrimitiveTopologyTriangleList) },
			func(tr *Tracker) { tr.SetTopology(gputypes.PrimitiveTopologyTriangleStrip) },
		},
		{
			"depth write",
			func(tr *Tracker) { tr.SetDepthWrite(true) },
			func(tr *Tracker) { tr.SetDepthWrite(false) },
		},
		{
			"depth compare",
			func(tr *Tracker) { tr.SetDepthCompare(gputypes.CompareFunctionLess) },
			func(tr *Tracker) { tr.SetDepthCompare(gputypes.CompareFunctionLessEqual) },
		},
		{
			"cull",
			func(tr *Tracker) { tr.SetCullMode(gputypes.CullModeBack) },
			func(tr *Tracker) { tr.SetCullMode(gputypes.CullModeNone) },
		},
		{
			"fill",
			func(tr *Tracker) { tr.SetFillMode(FillSolid) },
			func(tr *Tracker) { tr.SetFillMode(FillWireframe) },
		},
		{
			"poly offset",
			func(tr *Tracker) { tr.SetPolyOffset(PolyOffset{}) },
			func(tr *Tracker) { tr.SetPolyOffset(PolyOffset{Constant: 1, SlopeScale: 1.5}) },
		},
		{
			"blend",
			func(tr *Tracker) { tr.SetBlendEnabled(false) },
			func(tr *Tracker) { tr.SetBlendEnabled(true) },
		},
		{
			"alpha test",
			func(tr *Tracker) { tr.SetAlphaTest(false, gputypes.CompareFunctionAlways, 0) },
			func(tr *Tracker) { tr.SetAlphaTest(true, gputypes.CompareFunctionGreater, 0.5) },
		},
		{
			"color targets",
			func(tr *Tracker) { tr.SetColorTargets() },
			func(tr *Tracker) { tr.SetColorTargets(1) },
		},
		{
			"sample count",
			func(tr *Tracker) { tr.SetSampleCount(1) },
			func(tr *Tracker) { tr.SetSampleCount(4) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker()
			tr.ClearConfigDirty()

			tt.same(tr)
			if tr.ConfigDirty() {
				t.Fatal("setting the current value marked the config dirty")
			}
			tt.diff(tr)
			if !tr.ConfigDirty() {
				t.Fatal("changing the value did not mark the config dirty")
			}
			tr.ClearConfigDirty()
			tt.diff(tr)
			if tr.ConfigDirty() {
				t.Fatal("repeating the new value marked the config dirty")
			}
		})
	}
}

func TestTrackerConfigSettersDoNotTouchDraw(t *testing.T) {
	tr := NewTracker()
	tr.ClearDrawDirty(DirtyAll)
	tr.SetPrograms(4, 5)
	tr.SetBlendFactors(gputypes.BlendFactorSrcAlpha, gputypes.BlendFactorOneMinusSrcAlpha,
		gputypes.BlendFactorOne, gputypes.BlendFactorZero)
	if tr.DrawDirty() != 0 {
		t.Errorf("config setters dirtied draw state: %b", tr.DrawDirty())
	}
}

func TestTrackerDrawDirtyFlags(t *testing.T) {
	moved := Identity
	moved[12] = 3

	tests := []struct {
		name string
		set  func(*Tracker)
		flag DirtyFlags
	}{
		{"texture", func(tr *Tracker) { tr.SetTexture(2, 9) }, DirtyTextures},
		{"uniform", func(tr *Tracker) { tr.SetUniform(0, pool.Lease{Offset: 256, Size: 64}) }, DirtyUniforms},
		{"viewport", func(tr *Tracker) { tr.SetViewports(Viewport{Width: 640, Height: 480, MaxDepth: 1}) }, DirtyViewport},
		{"scissor", func(tr *Tracker) { tr.SetScissor(Rect{Width: 10, Height: 10}) }, DirtyScissor},
		{"world", func(tr *Tracker) { tr.SetWorld(moved) }, DirtyTransforms},
		{"projection", func(tr *Tracker) { tr.SetProjection(moved) }, DirtyTransforms},
		{"light", func(tr *Tracker) { tr.SetLight(1, Light{Enabled: true}) }, DirtyLights},
		{"clear color", func(tr *Tracker) { tr.SetClearColor(f32.Vec4{1, 1, 1, 1}) }, DirtyClearColor},
		{"point size", func(tr *Tracker) { tr.SetPointSize(4) }, DirtyRasterParams},
		{"line width", func(tr *Tracker) { tr.SetLineWidth(2) }, DirtyRasterParams},
		{"fog", func(tr *Tracker) { tr.SetFog(Fog{Enabled: true, End: 100}) }, DirtyFog},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker()
			tr.ClearDrawDirty(DirtyAll)
			tr.ClearConfigDirty()

			tt.set(tr)
			if got := tr.DrawDirty(); got != tt.flag {
				t.Errorf("DrawDirty() = %b, want %b", got, tt.flag)
			}
			if tr.ConfigDirty() {
				t.Error("draw setter dirtied the config")
			}

			tr.ClearDrawDirty(tt.flag)
			tt.set(tr)
			if tr.DrawDirty() != 0 {
				t.Errorf("repeating the value dirtied %b", tr.DrawDirty())
			}
		})
	}
}

func TestTrackerUnchangedDrawValues(t *testing.T) {
	tr := NewTracker()
	tr.ClearDrawDirty(DirtyAll)

	tr.SetWorld(Identity)
	tr.SetClearColor(f32.Vec4{0, 0, 0, 1})
	tr.SetPointSize(1)
	tr.SetViewports()
	tr.SetFog(Fog{})
	if tr.DrawDirty() != 0 {
		t.Errorf("DrawDirty() = %b after setting defaults", tr.DrawDirty())
	}
}

func TestTrackerNaNPointSize(t *testing.T) {
	tr := NewTracker()
	nan := float32(math.NaN())
	tr.SetPointSize(nan)
	tr.ClearDrawDirty(DirtyAll)

	tr.SetPointSize(nan)
	if tr.DrawDirty() != 0 {
		t.Error("NaN compared unequal to NaN")
	}
}

func TestTrackerSetViewportsClearsTail(t *testing.T) {
	tr := NewTracker()
	tr.SetViewports(Viewport{Width: 1}, Viewport{Width: 2})
	tr.SetViewports(Viewport{Width: 1})

	d := tr.Draw()
	if d.ViewportCount != 1 {
		t.Fatalf("ViewportCount = %d, want 1", d.ViewportCount)
	}
	if d.Viewports[1] != (Viewport{}) {
		t.Error("unused viewport slot not cleared")
	}
	if got := d.ActiveViewports(); len(got) != 1 || got[0].Width != 1 {
		t.Errorf("ActiveViewports() = %v", got)
	}
}

func TestTrackerSetColorTargetsClearsTail(t *testing.T) {
	tr := NewTracker()
	tr.SetColorTargets(1, 2, 3)
	tr.SetColorTargets(7)

	c := tr.Config()
	if got := c.ColorTargetIDs(); len(got) != 1 || got[0] != 7 {
		t.Errorf("ColorTargetIDs() = %v, want [7]", got)
	}
	if c.ColorTargets[1] != 0 || c.ColorTargets[2] != 0 {
		t.Error("unused target slots not cleared")
	}
}

func TestTrackerPanicsOnOverflow(t *testing.T) {
	tests := []struct {
		name string
		fn   func(*Tracker)
	}{
		{"color targets", func(tr *Tracker) { tr.SetColorTargets(make([]TargetID, MaxColorTargets+1)...) }},
		{"viewports", func(tr *Tracker) { tr.SetViewports(make([]Viewport, MaxViewports+1)...) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			tt.fn(NewTracker())
		})
	}
}

func TestTrackerReset(t *testing.T) {
	tr := NewTracker()
	tr.SetPrograms(3, 4)
	tr.SetTexture(0, 1)
	tr.ClearConfigDirty()
	tr.ClearDrawDirty(DirtyAll)

	tr.Reset()
	if tr.Config().VertexProgram != 0 || tr.Draw().Textures[0] != 0 {
		t.Error("Reset did not restore defaults")
	}
	if !tr.ConfigDirty() || tr.DrawDirty() != DirtyAll {
		t.Error("Reset should mark everything dirty")
	}
}
