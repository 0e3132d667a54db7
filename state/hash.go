package state

import (
	"encoding/binary"
	"hash"
	"hash/fnv"
	"math"
)

// canonicalNaN is the single bit pattern every NaN is hashed as.
const canonicalNaN = 0x7FC00000

// FloatEqual compares two floats the way state equality does: NaN equals
// NaN, and +0 equals -0.
func FloatEqual(a, b float32) bool {
	if isNaN(a) && isNaN(b) {
		return true
	}
	return a == b
}

// FloatBits returns a bit pattern for f that is identical for every pair of
// values FloatEqual considers equal.
func FloatBits(f float32) uint32 {
	switch {
	case isNaN(f):
		return canonicalNaN
	case f == 0:
		return 0
	default:
		return math.Float32bits(f)
	}
}

func isNaN(f float32) bool { return math.IsNaN(float64(f)) }

// floatFields returns pointers to every float field of s so equality and
// hashing can treat them uniformly.
func (s *PipelineConfigState) floatFields() [3]*float32 {
	return [3]*float32{
		&s.Raster.Offset.SlopeScale,
		&s.Raster.Offset.Clamp,
		&s.Blend.AlphaRef,
	}
}

// Equal reports whether s and o describe the same configuration.
// All fields are compared; float fields compare with FloatEqual.
func (s *PipelineConfigState) Equal(o *PipelineConfigState) bool {
	a, b := *s, *o
	fa, fb := a.floatFields(), b.floatFields()
	for i := range fa {
		if !FloatEqual(*fa[i], *fb[i]) {
			return false
		}
		*fa[i], *fb[i] = 0, 0
	}
	return a == b
}

// Hash computes an FNV-1a hash over the content of s.
// Equal configurations always hash equal.
func (s *PipelineConfigState) Hash() uint64 {
	h := fnv.New64a()

	hashWriteUint32(h, uint32(s.VertexProgram))
	hashWriteUint32(h, uint32(s.PixelProgram))
	hashWriteUint32(h, uint32(s.VertexVariant)<<16|uint32(s.PixelVariant))

	// Vertex layout
	l := &s.VertexLayout
	hashWriteUint32(h, uint32(l.BufferCount)<<8|uint32(l.AttributeCount))
	for _, b := range l.Buffers[:l.BufferCount] {
		hashWriteUint32(h, b.Stride)
		hashWriteUint32(h, uint32(b.StepMode))
	}
	for _, a := range l.Attributes[:l.AttributeCount] {
		hashWriteUint32(h, uint32(a.Buffer))
		hashWriteUint32(h, a.Location)
		hashWriteUint32(h, uint32(a.Format))
		hashWriteUint32(h, a.Offset)
	}
	hashWriteUint32(h, uint32(s.Topology))

	// Depth / stencil
	ds := &s.DepthStencil
	hashWriteBool(h, ds.TestEnabled)
	hashWriteBool(h, ds.WriteEnabled)
	hashWriteUint32(h, uint32(ds.Compare))
	hashWriteBool(h, ds.StencilEnabled)
	hashWriteStencilFace(h, &ds.Front)
	hashWriteStencilFace(h, &ds.Back)
	hashWriteUint32(h, ds.ReadMask)
	hashWriteUint32(h, ds.WriteMask)

	// Rasterizer
	r := &s.Raster
	hashWriteUint32(h, uint32(r.Cull))
	hashWriteUint32(h, uint32(r.Fill))
	hashWriteUint32(h, uint32(r.FrontFace))
	hashWriteUint32(h, uint32(r.Offset.Constant)) //nolint:gosec // G115: bit reinterpretation
	hashWriteUint32(h, FloatBits(r.Offset.SlopeScale))
	hashWriteUint32(h, FloatBits(r.Offset.Clamp))

	// Blend
	bl := &s.Blend
	hashWriteBool(h, bl.Enabled)
	hashWriteBlendComponent(h, &bl.Color)
	hashWriteBlendComponent(h, &bl.Alpha)
	hashWriteUint32(h, uint32(bl.WriteMask))
	hashWriteBool(h, bl.AlphaTest)
	hashWriteUint32(h, uint32(bl.AlphaFunc))
	hashWriteUint32(h, FloatBits(bl.AlphaRef))

	// Attachments
	hashWriteUint32(h, uint32(s.ColorTargetCount))
	for _, t := range s.ColorTargets[:s.ColorTargetCount] {
		hashWriteUint32(h, uint32(t))
	}
	hashWriteUint32(h, uint32(s.DepthTarget))
	hashWriteUint32(h, s.SampleCount)

	return h.Sum64()
}

func hashWriteStencilFace(h hash.Hash64, f *StencilFace) {
	hashWriteUint32(h, uint32(f.Compare))
	hashWriteUint32(h, uint32(f.FailOp))
	hashWriteUint32(h, uint32(f.DepthFailOp))
	hashWriteUint32(h, uint32(f.PassOp))
}

func hashWriteBlendComponent(h hash.Hash64, c *BlendComponent) {
	hashWriteUint32(h, uint32(c.Src))
	hashWriteUint32(h, uint32(c.Dst))
	hashWriteUint32(h, uint32(c.Op))
}

// hashWriteUint32 writes a uint32 to the hash.
func hashWriteUint32(h hash.Hash64, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, _ = h.Write(buf[:])
}

// hashWriteBool writes a bool to the hash.
func hashWriteBool(h hash.Hash64, v bool) {
	if v {
		_, _ = h.Write([]byte{1})
	} else {
		_, _ = h.Write([]byte{0})
	}
}
