// Package state holds the two plain-data aggregates that describe how a draw
// is issued: the persistent pipeline configuration (everything that is baked
// into an immutable GPU pipeline object) and the per-draw state (bindings,
// transforms, viewport) that can change between draws without a new pipeline.
//
// Both aggregates are comparable value types. Fixed-capacity arrays are used
// instead of slices so that a configuration can be copied, hashed by content
// and compared with == (floats excepted, see [PipelineConfigState.Equal]).
//
// The [Tracker] accumulates individual setter calls into the current values
// and records which aggregate actually changed.
package state

import (
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// ProgramID identifies a registered vertex or pixel program.
// The zero value means "no program".
type ProgramID uint32

// TargetID identifies a render target (color or depth attachment).
// The zero value means "nothing attached".
type TargetID uint32

// TextureID identifies a texture bound to a sampler slot.
// The zero value means "unbound".
type TextureID uint32

// SnapshotID is the stable handle returned when a pipeline configuration
// is interned. IDs are assigned sequentially starting at zero.
type SnapshotID uint32

// Capacity limits of the fixed-size aggregates.
const (
	MaxVertexBuffers    = 4
	MaxVertexAttributes = 16
	MaxColorTargets     = 8
	MaxTextureSlots     = 16
	MaxUniformSlots     = 8
	MaxViewports        = 4
	MaxLights           = 8
)

// FillMode selects how polygons are rasterized.
type FillMode uint8

const (
	// FillSolid fills triangles.
	FillSolid FillMode = iota
	// FillWireframe draws triangle edges only.
	FillWireframe
	// FillPoint draws triangle vertices only.
	FillPoint
)

// String returns the string representation of FillMode.
func (m FillMode) String() string {
	switch m {
	case FillSolid:
		return "Solid"
	case FillWireframe:
		return "Wireframe"
	case FillPoint:
		return "Point"
	default:
		return "Unknown"
	}
}

// StencilFace holds the stencil test for one polygon facing.
type StencilFace struct {
	Compare     gputypes.CompareFunction
	FailOp      hal.StencilOperation
	DepthFailOp hal.StencilOperation
	PassOp      hal.StencilOperation
}

// DepthStencil holds depth and stencil testing settings.
type DepthStencil struct {
	TestEnabled    bool
	WriteEnabled   bool
	Compare        gputypes.CompareFunction
	StencilEnabled bool
	Front          StencilFace
	Back           StencilFace
	ReadMask       uint32
	WriteMask      uint32
}

// PolyOffset is the depth bias applied to rasterized polygons.
type PolyOffset struct {
	Constant   int32
	SlopeScale float32
	Clamp      float32
}

// Raster holds rasterizer settings.
type Raster struct {
	Cull      gputypes.CullMode
	Fill      FillMode
	FrontFace gputypes.FrontFace
	Offset    PolyOffset
}

// BlendComponent describes the blend equation of the color or alpha channel.
type BlendComponent struct {
	Src gputypes.BlendFactor
	Dst gputypes.BlendFactor
	Op  gputypes.BlendOperation
}

// Blend holds color blending, write mask and alpha test settings.
type Blend struct {
	Enabled   bool
	Color     BlendComponent
	Alpha     BlendComponent
	WriteMask gputypes.ColorWriteMask

	AlphaTest bool
	AlphaFunc gputypes.CompareFunction
	AlphaRef  float32
}

// PipelineConfigState is the persistent configuration that determines one
// immutable GPU pipeline object: program selection, vertex layout, fixed
// function settings and attached render targets.
//
// Unused array slots must be zero; the setters on [Tracker] and the helpers
// on [VertexLayout] maintain that.
type PipelineConfigState struct {
	VertexProgram ProgramID
	PixelProgram  ProgramID
	VertexVariant uint16
	PixelVariant  uint16

	VertexLayout VertexLayout
	Topology     gputypes.PrimitiveTopology

	DepthStencil DepthStencil
	Raster       Raster
	Blend        Blend

	ColorTargets     [MaxColorTargets]TargetID
	ColorTargetCount uint8
	DepthTarget      TargetID
	SampleCount      uint32
}

// DefaultPipelineConfig returns the configuration a freshly reset tracker
// starts from: depth tested and written with Less, back faces culled,
// counter-clockwise front faces, blending off, all channels written.
func DefaultPipelineConfig() PipelineConfigState {
	keep := StencilFace{
		Compare:     gputypes.CompareFunctionAlways,
		FailOp:      hal.StencilOperationKeep,
		DepthFailOp: hal.StencilOperationKeep,
		PassOp:      hal.StencilOperationKeep,
	}
	return PipelineConfigState{
		Topology: gputypes.PrimitiveTopologyTriangleList,
		DepthStencil: DepthStencil{
			TestEnabled:  true,
			WriteEnabled: true,
			Compare:      gputypes.CompareFunctionLess,
			Front:        keep,
			Back:         keep,
			ReadMask:     0xFF,
			WriteMask:    0xFF,
		},
		Raster: Raster{
			Cull:      gputypes.CullModeBack,
			Fill:      FillSolid,
			FrontFace: gputypes.FrontFaceCCW,
		},
		Blend: Blend{
			Color:     BlendComponent{Src: gputypes.BlendFactorOne, Dst: gputypes.BlendFactorZero, Op: gputypes.BlendOperationAdd},
			Alpha:     BlendComponent{Src: gputypes.BlendFactorOne, Dst: gputypes.BlendFactorZero, Op: gputypes.BlendOperationAdd},
			WriteMask: gputypes.ColorWriteMaskAll,
			AlphaFunc: gputypes.CompareFunctionAlways,
		},
		SampleCount: 1,
	}
}

// ColorTargetIDs returns the attached color targets.
func (s *PipelineConfigState) ColorTargetIDs() []TargetID {
	return s.ColorTargets[:s.ColorTargetCount]
}

// UsesPrograms reports whether either program stage is selected.
func (s *PipelineConfigState) UsesPrograms() bool {
	return s.VertexProgram != 0 || s.PixelProgram != 0
}

// IsTranslucent reports whether drawing with this configuration reads the
// destination color: blending is enabled and the destination factor of
// either channel is not Zero.
func (s *PipelineConfigState) IsTranslucent() bool {
	if !s.Blend.Enabled {
		return false
	}
	return s.Blend.Color.Dst != gputypes.BlendFactorZero || s.Blend.Alpha.Dst != gputypes.BlendFactorZero
}

// IsAlphaTested reports whether fragments are discarded by an alpha test
// that can actually fail.
func (s *PipelineConfigState) IsAlphaTested() bool {
	return s.Blend.AlphaTest && s.Blend.AlphaFunc != gputypes.CompareFunctionAlways
}

// IsDepthWriteEnabled reports whether depth values are written.
func (s *PipelineConfigState) IsDepthWriteEnabled() bool {
	return s.DepthStencil.TestEnabled && s.DepthStencil.WriteEnabled
}
