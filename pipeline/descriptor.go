// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package pipeline

import (
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/pipestate/program"
	"github.com/gogpu/pipestate/state"
)

// buildDescriptor translates a configuration into a HAL render pipeline
// descriptor. It only reads configuration fields that are part of the
// pipeline Key.
func buildDescriptor(
	label string,
	s *state.PipelineConfigState,
	vp, pp *program.Program,
	layout *Layout,
	targets *TargetConfig,
) (*hal.RenderPipelineDescriptor, error) {
	vsEntry, err := vp.EntryPoint(s.VertexVariant)
	if err != nil {
		return nil, err
	}

	desc := &hal.RenderPipelineDescriptor{
		Label:  label,
		Layout: layout.pipelineLayout,
		Vertex: hal.VertexState{
			Module:     vp.Module,
			EntryPoint: vsEntry,
			Buffers:    s.VertexLayout.Descriptors(),
		},
		Primitive: gputypes.PrimitiveState{
			Topology:  topology(s.Topology, s.Raster.Fill),
			CullMode:  s.Raster.Cull,
			FrontFace: s.Raster.FrontFace,
		},
		Multisample: gputypes.MultisampleState{
			Count: targets.sampleCount,
			Mask:  0xFFFFFFFF,
		},
	}

	if pp != nil {
		fsEntry, err := pp.EntryPoint(s.PixelVariant)
		if err != nil {
			return nil, err
		}
		desc.Fragment = &hal.FragmentState{
			Module:     pp.Module,
			EntryPoint: fsEntry,
			Targets:    colorTargets(&s.Blend, targets),
		}
	}

	if format, ok := targets.DepthFormat(); ok {
		desc.DepthStencil = depthStencilState(format, &s.DepthStencil, &s.Raster.Offset)
	}
	return desc, nil
}

// topology applies the fill mode. WebGPU has no polygon mode, so point fill
// draws the vertices as a point list and wireframe draws them as lines.
func topology(t gputypes.PrimitiveTopology, fill state.FillMode) gputypes.PrimitiveTopology {
	switch fill {
	case state.FillPoint:
		return gputypes.PrimitiveTopologyPointList
	case state.FillWireframe:
		if t == gputypes.PrimitiveTopologyTriangleList || t == gputypes.PrimitiveTopologyTriangleStrip {
			return gputypes.PrimitiveTopologyLineList
		}
	}
	return t
}

func colorTargets(b *state.Blend, targets *TargetConfig) []gputypes.ColorTargetState {
	formats := targets.ColorFormats()
	if len(formats) == 0 {
		return nil
	}
	var blend *gputypes.BlendState
	if b.Enabled {
		blend = &gputypes.BlendState{
			Color: blendComponent(b.Color),
			Alpha: blendComponent(b.Alpha),
		}
	}
	out := make([]gputypes.ColorTargetState, len(formats))
	for i, f := range formats {
		out[i] = gputypes.ColorTargetState{
			Format:    f,
			Blend:     blend,
			WriteMask: b.WriteMask,
		}
	}
	return out
}

func blendComponent(c state.BlendComponent) gputypes.BlendComponent {
	return gputypes.BlendComponent{
		SrcFactor: c.Src,
		DstFactor: c.Dst,
		Operation: c.Op,
	}
}

func depthStencilState(format gputypes.TextureFormat, ds *state.DepthStencil, bias *state.PolyOffset) *hal.DepthStencilState {
	out := &hal.DepthStencilState{
		Format:              format,
		DepthWriteEnabled:   ds.TestEnabled && ds.WriteEnabled,
		DepthCompare:        gputypes.CompareFunctionAlways,
		StencilFront:        stencilFace(nil),
		StencilBack:         stencilFace(nil),
		DepthBias:           bias.Constant,
		DepthBiasSlopeScale: bias.SlopeScale,
		DepthBiasClamp:      bias.Clamp,
	}
	if ds.TestEnabled {
		out.DepthCompare = ds.Compare
	}
	if ds.StencilEnabled {
		out.StencilFront = stencilFace(&ds.Front)
		out.StencilBack = stencilFace(&ds.Back)
		out.StencilReadMask = ds.ReadMask
		out.StencilWriteMask = ds.WriteMask
	}
	return out
}

// stencilFace converts f; nil yields a pass-through face.
func stencilFace(f *state.StencilFace) hal.StencilFaceState {
	if f == nil {
		return hal.StencilFaceState{
			Compare:     gputypes.CompareFunctionAlways,
			FailOp:      hal.StencilOperationKeep,
			DepthFailOp: hal.StencilOperationKeep,
			PassOp:      hal.StencilOperationKeep,
		}
	}
	return hal.StencilFaceState{
		Compare:     f.Compare,
		FailOp:      f.FailOp,
		DepthFailOp: f.DepthFailOp,
		PassOp:      f.PassOp,
	}
}
