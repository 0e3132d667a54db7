package state

import (
	"golang.org/x/image/math/f32"

	"github.com/gogpu/pipestate/pool"
)

// Viewport is a rectangle of the render target in pixels plus a depth range.
type Viewport struct {
	X, Y          float32
	Width, Height float32
	MinDepth      float32
	MaxDepth      float32
}

// Rect is an integer pixel rectangle.
type Rect struct {
	X, Y          uint32
	Width, Height uint32
}

// Light is one fixed-function style light source.
type Light struct {
	Enabled     bool
	Position    f32.Vec4 // w == 0 for directional lights
	Color       f32.Vec4
	Attenuation f32.Vec3 // constant, linear, quadratic
}

// Fog holds linear/exponential fog parameters.
type Fog struct {
	Enabled bool
	Color   f32.Vec4
	Start   float32
	End     float32
	Density float32
}

// DrawState is the per-draw state: resource bindings, transforms, lights
// and viewport. Changing it never requires a new pipeline object, except
// for the active viewport list which is part of the pipeline key.
type DrawState struct {
	Textures [MaxTextureSlots]TextureID
	Uniforms [MaxUniformSlots]pool.Lease

	Viewports     [MaxViewports]Viewport
	ViewportCount uint8
	Scissor       Rect

	World      f32.Mat4
	View       f32.Mat4
	Projection f32.Mat4

	Lights     [MaxLights]Light
	ClearColor f32.Vec4

	PointSize float32
	LineWidth float32
	Fog       Fog
}

// Identity is the 4x4 identity matrix.
var Identity = f32.Mat4{
	1, 0, 0, 0,
	0, 1, 0, 0,
	0, 0, 1, 0,
	0, 0, 0, 1,
}

// DefaultDrawState returns the draw state of a freshly reset tracker:
// identity transforms, opaque black clear color, unit point size and
// line width, nothing bound.
func DefaultDrawState() DrawState {
	return DrawState{
		World:      Identity,
		View:       Identity,
		Projection: Identity,
		ClearColor: f32.Vec4{0, 0, 0, 1},
		PointSize:  1,
		LineWidth:  1,
	}
}

// ActiveViewports returns the active viewport list.
func (d *DrawState) ActiveViewports() []Viewport {
	return d.Viewports[:d.ViewportCount]
}
