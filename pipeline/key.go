// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package pipeline

import (
	"github.com/gogpu/gputypes"

	"github.com/gogpu/pipestate/state"
)

// viewportKey is a viewport with its floats reduced to canonical bits.
type viewportKey [6]uint32

type viewportsKey struct {
	list  [state.MaxViewports]viewportKey
	count uint8
}

func viewportsKeyOf(d *state.DrawState) viewportsKey {
	var k viewportsKey
	if d == nil {
		return k
	}
	k.count = d.ViewportCount
	for i, vp := range d.ActiveViewports() {
		k.list[i] = viewportKey{
			state.FloatBits(vp.X), state.FloatBits(vp.Y),
			state.FloatBits(vp.Width), state.FloatBits(vp.Height),
			state.FloatBits(vp.MinDepth), state.FloatBits(vp.MaxDepth),
		}
	}
	return k
}

// blendKey is the part of the blend state baked into a pipeline. The alpha
// test is not: it is a shader concern selected through program variants.
type blendKey struct {
	enabled   bool
	color     state.BlendComponent
	alpha     state.BlendComponent
	writeMask gputypes.ColorWriteMask
}

// Key identifies one compiled pipeline. It is the projection of the
// pipeline configuration and draw state that the GPU object depends on,
// with every float reduced to canonical bits so Key can be compared with ==
// and used as a map key.
type Key struct {
	vertexProgram state.ProgramID
	pixelProgram  state.ProgramID
	vertexVariant uint16
	pixelVariant  uint16

	vertexLayout state.VertexLayout
	topology     gputypes.PrimitiveTopology

	cull      gputypes.CullMode
	fill      state.FillMode
	frontFace gputypes.FrontFace

	depthStencil state.DepthStencil
	depthBias    int32
	slopeScale   uint32
	biasClamp    uint32

	blend       blendKey
	targets     targetKey
	sampleCount uint32

	viewports viewportsKey
}

// KeyOf computes the pipeline key of a configuration and draw state.
// draw may be nil, meaning no viewports.
func KeyOf(s *state.PipelineConfigState, draw *state.DrawState) Key {
	return Key{
		vertexProgram: s.VertexProgram,
		pixelProgram:  s.PixelProgram,
		vertexVariant: s.VertexVariant,
		pixelVariant:  s.PixelVariant,

		vertexLayout: s.VertexLayout,
		topology:     s.Topology,

		cull:      s.Raster.Cull,
		fill:      s.Raster.Fill,
		frontFace: s.Raster.FrontFace,

		depthStencil: s.DepthStencil,
		depthBias:    s.Raster.Offset.Constant,
		slopeScale:   state.FloatBits(s.Raster.Offset.SlopeScale),
		biasClamp:    state.FloatBits(s.Raster.Offset.Clamp),

		blend: blendKey{
			enabled:   s.Blend.Enabled,
			color:     s.Blend.Color,
			alpha:     s.Blend.Alpha,
			writeMask: s.Blend.WriteMask,
		},
		targets:     targetKeyOf(s),
		sampleCount: s.SampleCount,

		viewports: viewportsKeyOf(draw),
	}
}

// fastKey maps an interned snapshot plus the draw state part of the key
// straight to a handle, skipping key construction on repeat lookups.
type fastKey struct {
	snapshot  state.SnapshotID
	viewports viewportsKey
}
