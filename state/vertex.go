package state

import (
	"errors"

	"github.com/gogpu/gputypes"
)

// Vertex layout errors.
var (
	// ErrTooManyVertexBuffers is returned when a layout exceeds MaxVertexBuffers.
	ErrTooManyVertexBuffers = errors.New("state: too many vertex buffers")

	// ErrTooManyVertexAttributes is returned when a layout exceeds MaxVertexAttributes.
	ErrTooManyVertexAttributes = errors.New("state: too many vertex attributes")

	// ErrInvalidVertexBuffer is returned when an attribute names a buffer
	// that has not been added.
	ErrInvalidVertexBuffer = errors.New("state: attribute references unknown vertex buffer")
)

// VertexBuffer describes one vertex buffer slot.
type VertexBuffer struct {
	Stride   uint32
	StepMode gputypes.VertexStepMode
}

// VertexAttribute describes one attribute read from a vertex buffer slot.
type VertexAttribute struct {
	Buffer   uint8
	Location uint32
	Format   gputypes.VertexFormat
	Offset   uint32
}

// VertexLayout is a fixed-capacity vertex input description.
// The zero value is an empty layout (no vertex input).
type VertexLayout struct {
	Buffers        [MaxVertexBuffers]VertexBuffer
	Attributes     [MaxVertexAttributes]VertexAttribute
	BufferCount    uint8
	AttributeCount uint8
}

// AddBuffer appends a vertex buffer slot and returns its index.
func (l *VertexLayout) AddBuffer(stride uint32, step gputypes.VertexStepMode) (int, error) {
	if int(l.BufferCount) >= MaxVertexBuffers {
		return 0, ErrTooManyVertexBuffers
	}
	i := int(l.BufferCount)
	l.Buffers[i] = VertexBuffer{Stride: stride, StepMode: step}
	l.BufferCount++
	return i, nil
}

// AddAttribute appends an attribute read from buffer slot buffer.
func (l *VertexLayout) AddAttribute(buffer int, location uint32, format gputypes.VertexFormat, offset uint32) error {
	if buffer < 0 || buffer >= int(l.BufferCount) {
		return ErrInvalidVertexBuffer
	}
	if int(l.AttributeCount) >= MaxVertexAttributes {
		return ErrTooManyVertexAttributes
	}
	l.Attributes[l.AttributeCount] = VertexAttribute{
		Buffer:   uint8(buffer), //nolint:gosec // G115: bounded by MaxVertexBuffers
		Location: location,
		Format:   format,
		Offset:   offset,
	}
	l.AttributeCount++
	return nil
}

// Descriptors converts the layout into the HAL vertex buffer layouts,
// one per buffer slot, with attributes grouped under their buffer.
func (l *VertexLayout) Descriptors() []gputypes.VertexBufferLayout {
	if l.BufferCount == 0 {
		return nil
	}
	out := make([]gputypes.VertexBufferLayout, l.BufferCount)
	for i := range out {
		out[i] = gputypes.VertexBufferLayout{
			ArrayStride: uint64(l.Buffers[i].Stride),
			StepMode:    l.Buffers[i].StepMode,
		}
	}
	for _, a := range l.Attributes[:l.AttributeCount] {
		b := &out[a.Buffer]
		b.Attributes = append(b.Attributes, gputypes.VertexAttribute{
			Format:         a.Format,
			Offset:         uint64(a.Offset),
			ShaderLocation: a.Location,
		})
	}
	return out
}
