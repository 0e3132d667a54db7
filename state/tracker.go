package state

import (
	"golang.org/x/image/math/f32"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/pipestate/pool"
)

// DirtyFlags records which groups of the draw state changed. Each setter
// of a draw state field marks the group the field belongs to.
type DirtyFlags uint32

const (
	DirtyTextures DirtyFlags = 1 << iota
	DirtyUniforms
	DirtyViewport
	DirtyScissor
	DirtyTransforms
	DirtyLights
	DirtyClearColor
	DirtyRasterParams
	DirtyFog

	// DirtyAll covers every draw state group.
	DirtyAll = DirtyTextures | DirtyUniforms | DirtyViewport | DirtyScissor |
		DirtyTransforms | DirtyLights | DirtyClearColor | DirtyRasterParams | DirtyFog
)

// Tracker accumulates setter calls into the current pipeline configuration
// and draw state.
//
// Every setter compares the new value with the current one and only
// assigns, and marks the owning aggregate dirty, when they differ. Issuing
// the current value again is therefore free and never causes a new
// snapshot downstream.
//
// Tracker is not safe for concurrent use.
type Tracker struct {
	config PipelineConfigState
	draw   DrawState

	configDirty bool
	drawDirty   DirtyFlags
}

// NewTracker returns a tracker holding the default configuration and draw
// state, with everything marked dirty.
func NewTracker() *Tracker {
	t := &Tracker{}
	t.Reset()
	return t
}

// Reset restores the defaults and marks everything dirty.
func (t *Tracker) Reset() {
	t.config = DefaultPipelineConfig()
	t.draw = DefaultDrawState()
	t.configDirty = true
	t.drawDirty = DirtyAll
}

// Config returns the current pipeline configuration.
// The returned value must not be modified; use the setters.
func (t *Tracker) Config() *PipelineConfigState { return &t.config }

// Draw returns the current draw state.
// The returned value must not be modified; use the setters.
func (t *Tracker) Draw() *DrawState { return &t.draw }

// ConfigDirty reports whether the pipeline configuration changed since the
// last ClearConfigDirty.
func (t *Tracker) ConfigDirty() bool { return t.configDirty }

// ClearConfigDirty marks the pipeline configuration as captured.
func (t *Tracker) ClearConfigDirty() { t.configDirty = false }

// DrawDirty returns the draw state groups changed since they were last
// cleared.
func (t *Tracker) DrawDirty() DirtyFlags { return t.drawDirty }

// ClearDrawDirty clears the given draw state groups.
func (t *Tracker) ClearDrawDirty(mask DirtyFlags) { t.drawDirty &^= mask }

// setConfig assigns v to *dst and marks the configuration dirty if it changed.
func setConfig[T comparable](t *Tracker, dst *T, v T) {
	if *dst != v {
		*dst = v
		t.configDirty = true
	}
}

// setConfigFloat is setConfig for float fields.
func setConfigFloat(t *Tracker, dst *float32, v float32) {
	if !FloatEqual(*dst, v) {
		*dst = v
		t.configDirty = true
	}
}

// setDraw assigns v to *dst and marks flag dirty if it changed.
func setDraw[T comparable](t *Tracker, dst *T, v T, flag DirtyFlags) {
	if *dst != v {
		*dst = v
		t.drawDirty |= flag
	}
}

// setDrawFloats is setDraw for float vectors and matrices.
func setDrawFloats(t *Tracker, dst, v []float32, flag DirtyFlags) {
	for i := range dst {
		if !FloatEqual(dst[i], v[i]) {
			copy(dst, v)
			t.drawDirty |= flag
			return
		}
	}
}

// --- Pipeline configuration setters ---

// SetPrograms selects the vertex and pixel programs.
func (t *Tracker) SetPrograms(vertex, pixel ProgramID) {
	setConfig(t, &t.config.VertexProgram, vertex)
	setConfig(t, &t.config.PixelProgram, pixel)
}

// SetVariants selects the static variant of each program.
func (t *Tracker) SetVariants(vertex, pixel uint16) {
	setConfig(t, &t.config.VertexVariant, vertex)
	setConfig(t, &t.config.PixelVariant, pixel)
}

// SetVertexLayout replaces the vertex input layout.
func (t *Tracker) SetVertexLayout(l VertexLayout) {
	setConfig(t, &t.config.VertexLayout, l)
}

// SetTopology sets the primitive topology.
func (t *Tracker) SetTopology(p gputypes.PrimitiveTopology) {
	setConfig(t, &t.config.Topology, p)
}

// SetDepthTest enables or disables depth testing.
func (t *Tracker) SetDepthTest(enabled bool) {
	setConfig(t, &t.config.DepthStencil.TestEnabled, enabled)
}

// SetDepthWrite enables or disables depth writes.
func (t *Tracker) SetDepthWrite(enabled bool) {
	setConfig(t, &t.config.DepthStencil.WriteEnabled, enabled)
}

// SetDepthCompare sets the depth comparison function.
func (t *Tracker) SetDepthCompare(f gputypes.CompareFunction) {
	setConfig(t, &t.config.DepthStencil.Compare, f)
}

// SetStencil enables stencil testing with the given face operations and
// masks. Disabling keeps the stored operations.
func (t *Tracker) SetStencil(enabled bool, front, back StencilFace, readMask, writeMask uint32) {
	ds := &t.config.DepthStencil
	setConfig(t, &ds.StencilEnabled, enabled)
	setConfig(t, &ds.Front, front)
	setConfig(t, &ds.Back, back)
	setConfig(t, &ds.ReadMask, readMask)
	setConfig(t, &ds.WriteMask, writeMask)
}

// SetCullMode sets which faces are culled.
func (t *Tracker) SetCullMode(m gputypes.CullMode) {
	setConfig(t, &t.config.Raster.Cull, m)
}

// SetFillMode sets the polygon fill mode.
func (t *Tracker) SetFillMode(m FillMode) {
	setConfig(t, &t.config.Raster.Fill, m)
}

// SetFrontFace sets the winding of front-facing polygons.
func (t *Tracker) SetFrontFace(f gputypes.FrontFace) {
	setConfig(t, &t.config.Raster.FrontFace, f)
}

// SetPolyOffset sets the polygon depth bias.
func (t *Tracker) SetPolyOffset(o PolyOffset) {
	r := &t.config.Raster
	setConfig(t, &r.Offset.Constant, o.Constant)
	setConfigFloat(t, &r.Offset.SlopeScale, o.SlopeScale)
	setConfigFloat(t, &r.Offset.Clamp, o.Clamp)
}

// SetBlendEnabled enables or disables blending.
func (t *Tracker) SetBlendEnabled(enabled bool) {
	setConfig(t, &t.config.Blend.Enabled, enabled)
}

// SetBlendFactors sets the source and destination factors of the color and
// alpha blend equations.
func (t *Tracker) SetBlendFactors(colorSrc, colorDst, alphaSrc, alphaDst gputypes.BlendFactor) {
	b := &t.config.Blend
	setConfig(t, &b.Color.Src, colorSrc)
	setConfig(t, &b.Color.Dst, colorDst)
	setConfig(t, &b.Alpha.Src, alphaSrc)
	setConfig(t, &b.Alpha.Dst, alphaDst)
}

// SetBlendOps sets the color and alpha blend operations.
func (t *Tracker) SetBlendOps(color, alpha gputypes.BlendOperation) {
	setConfig(t, &t.config.Blend.Color.Op, color)
	setConfig(t, &t.config.Blend.Alpha.Op, alpha)
}

// SetWriteMask sets which color channels are written.
func (t *Tracker) SetWriteMask(m gputypes.ColorWriteMask) {
	setConfig(t, &t.config.Blend.WriteMask, m)
}

// SetAlphaTest configures the alpha test.
func (t *Tracker) SetAlphaTest(enabled bool, f gputypes.CompareFunction, ref float32) {
	b := &t.config.Blend
	setConfig(t, &b.AlphaTest, enabled)
	setConfig(t, &b.AlphaFunc, f)
	setConfigFloat(t, &b.AlphaRef, ref)
}

// SetColorTargets attaches color targets. Slots past len(ids) are cleared.
// It panics if more than MaxColorTargets are given.
func (t *Tracker) SetColorTargets(ids ...TargetID) {
	if len(ids) > MaxColorTargets {
		panic("state: too many color targets")
	}
	var targets [MaxColorTargets]TargetID
	copy(targets[:], ids)
	setConfig(t, &t.config.ColorTargets, targets)
	setConfig(t, &t.config.ColorTargetCount, uint8(len(ids))) //nolint:gosec // G115: bounded above
}

// SetDepthTarget attaches a depth target; zero detaches.
func (t *Tracker) SetDepthTarget(id TargetID) {
	setConfig(t, &t.config.DepthTarget, id)
}

// SetSampleCount sets the multisample count.
func (t *Tracker) SetSampleCount(n uint32) {
	setConfig(t, &t.config.SampleCount, n)
}

// --- Draw state setters ---

// SetTexture binds a texture to a sampler slot.
func (t *Tracker) SetTexture(slot int, id TextureID) {
	setDraw(t, &t.draw.Textures[slot], id, DirtyTextures)
}

// SetUniform binds a uniform-buffer lease to a slot.
func (t *Tracker) SetUniform(slot int, lease pool.Lease) {
	setDraw(t, &t.draw.Uniforms[slot], lease, DirtyUniforms)
}

// SetViewports replaces the active viewport list.
// It panics if more than MaxViewports are given.
func (t *Tracker) SetViewports(vps ...Viewport) {
	if len(vps) > MaxViewports {
		panic("state: too many viewports")
	}
	d := &t.draw
	changed := int(d.ViewportCount) != len(vps)
	for i := range vps {
		if changed {
			break
		}
		changed = !viewportEqual(&d.Viewports[i], &vps[i])
	}
	if !changed {
		return
	}
	d.Viewports = [MaxViewports]Viewport{}
	copy(d.Viewports[:], vps)
	d.ViewportCount = uint8(len(vps)) //nolint:gosec // G115: bounded above
	t.drawDirty |= DirtyViewport
}

// SetScissor sets the scissor rectangle.
func (t *Tracker) SetScissor(r Rect) {
	setDraw(t, &t.draw.Scissor, r, DirtyScissor)
}

// SetWorld sets the world (model) matrix.
func (t *Tracker) SetWorld(m f32.Mat4) {
	setDrawFloats(t, t.draw.World[:], m[:], DirtyTransforms)
}

// SetView sets the view matrix.
func (t *Tracker) SetView(m f32.Mat4) {
	setDrawFloats(t, t.draw.View[:], m[:], DirtyTransforms)
}

// SetProjection sets the projection matrix.
func (t *Tracker) SetProjection(m f32.Mat4) {
	setDrawFloats(t, t.draw.Projection[:], m[:], DirtyTransforms)
}

// SetLight replaces the light at index i.
func (t *Tracker) SetLight(i int, l Light) {
	cur := &t.draw.Lights[i]
	if lightEqual(cur, &l) {
		return
	}
	*cur = l
	t.drawDirty |= DirtyLights
}

// SetClearColor sets the color used to clear color targets.
func (t *Tracker) SetClearColor(c f32.Vec4) {
	setDrawFloats(t, t.draw.ClearColor[:], c[:], DirtyClearColor)
}

// SetPointSize sets the rasterized point size.
func (t *Tracker) SetPointSize(size float32) {
	if !FloatEqual(t.draw.PointSize, size) {
		t.draw.PointSize = size
		t.drawDirty |= DirtyRasterParams
	}
}

// SetLineWidth sets the rasterized line width.
func (t *Tracker) SetLineWidth(width float32) {
	if !FloatEqual(t.draw.LineWidth, width) {
		t.draw.LineWidth = width
		t.drawDirty |= DirtyRasterParams
	}
}

// SetFog replaces the fog parameters.
func (t *Tracker) SetFog(f Fog) {
	cur := &t.draw.Fog
	if cur.Enabled == f.Enabled && floatsEqual(cur.Color[:], f.Color[:]) &&
		FloatEqual(cur.Start, f.Start) && FloatEqual(cur.End, f.End) && FloatEqual(cur.Density, f.Density) {
		return
	}
	*cur = f
	t.drawDirty |= DirtyFog
}

func floatsEqual(a, b []float32) bool {
	for i := range a {
		if !FloatEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

func viewportEqual(a, b *Viewport) bool {
	return FloatEqual(a.X, b.X) && FloatEqual(a.Y, b.Y) &&
		FloatEqual(a.Width, b.Width) && FloatEqual(a.Height, b.Height) &&
		FloatEqual(a.MinDepth, b.MinDepth) && FloatEqual(a.MaxDepth, b.MaxDepth)
}

func lightEqual(a, b *Light) bool {
	return a.Enabled == b.Enabled &&
		floatsEqual(a.Position[:], b.Position[:]) &&
		floatsEqual(a.Color[:], b.Color[:]) &&
		floatsEqual(a.Attenuation[:], b.Attenuation[:])
}
