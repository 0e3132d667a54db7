// Package program registers vertex and pixel programs with the device.
//
// A program is a compiled shader module plus the entry points of its
// static variants and the resource bindings it declares. Reflection is not
// performed: the caller states the bindings in the [Desc].
package program

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/pipestate/state"
)

// Program errors.
var (
	// ErrNoSource is returned when a Desc has neither WGSL nor SPIR-V.
	ErrNoSource = errors.New("program: no shader source")

	// ErrNoEntryPoint is returned when a Desc names no entry point.
	ErrNoEntryPoint = errors.New("program: no entry point")

	// ErrInvalidStage is returned for an unknown Stage.
	ErrInvalidStage = errors.New("program: invalid stage")

	// ErrVariantOutOfRange is returned when selecting a variant the program
	// does not have.
	ErrVariantOutOfRange = errors.New("program: variant out of range")

	// ErrDuplicateBinding is returned when a Desc declares a binding twice.
	ErrDuplicateBinding = errors.New("program: duplicate binding")
)

// Stage is the pipeline stage a program runs in.
type Stage uint8

const (
	// StageVertex is a vertex program.
	StageVertex Stage = iota + 1
	// StagePixel is a pixel (fragment) program.
	StagePixel
)

// String returns the string representation of Stage.
func (s Stage) String() string {
	switch s {
	case StageVertex:
		return "Vertex"
	case StagePixel:
		return "Pixel"
	default:
		return fmt.Sprintf("Stage(%d)", uint8(s))
	}
}

// ShaderStage returns the binding visibility bit of s.
func (s Stage) ShaderStage() gputypes.ShaderStage {
	if s == StagePixel {
		return gputypes.ShaderStageFragment
	}
	return gputypes.ShaderStageVertex
}

// Desc describes a program to register.
type Desc struct {
	// Label is an optional debug name.
	Label string

	// Stage is the stage the program runs in.
	Stage Stage

	// WGSL is the program source. It is compiled to SPIR-V with naga.
	WGSL string

	// SPIRV is precompiled code, used when WGSL is empty.
	SPIRV []uint32

	// EntryPoints holds one entry point per static variant; variant i
	// runs EntryPoints[i].
	EntryPoints []string

	// Bindings are the resources the program reads, all in bind group 0.
	// A zero Visibility is replaced by the program's stage.
	Bindings []gputypes.BindGroupLayoutEntry
}

// Program is a registered program. It is immutable.
type Program struct {
	ID          state.ProgramID
	Label       string
	Stage       Stage
	Module      hal.ShaderModule
	EntryPoints []string
	Bindings    []gputypes.BindGroupLayoutEntry
}

// EntryPoint returns the entry point of the given static variant.
func (p *Program) EntryPoint(variant uint16) (string, error) {
	if int(variant) >= len(p.EntryPoints) {
		return "", fmt.Errorf("%w: %s has %d variants, want %d",
			ErrVariantOutOfRange, p.Label, len(p.EntryPoints), variant)
	}
	return p.EntryPoints[variant], nil
}

// Variants returns the number of static variants.
func (p *Program) Variants() int { return len(p.EntryPoints) }

// CompileWGSL compiles WGSL source to SPIR-V words.
func CompileWGSL(source string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("program: compile WGSL: %w", err)
	}

	// SPIR-V is little-endian 32-bit words.
	code := make([]uint32, len(spirvBytes)/4)
	for i := range code {
		code[i] = binary.LittleEndian.Uint32(spirvBytes[i*4:])
	}
	return code, nil
}

// validate checks d and returns its bindings with visibility filled in.
func (d *Desc) validate() ([]gputypes.BindGroupLayoutEntry, error) {
	if d.Stage != StageVertex && d.Stage != StagePixel {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStage, d.Stage)
	}
	if len(d.EntryPoints) == 0 {
		return nil, ErrNoEntryPoint
	}

	bindings := make([]gputypes.BindGroupLayoutEntry, len(d.Bindings))
	seen := make(map[uint32]struct{}, len(d.Bindings))
	for i, b := range d.Bindings {
		if _, dup := seen[b.Binding]; dup {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateBinding, b.Binding)
		}
		seen[b.Binding] = struct{}{}
		if b.Visibility == 0 {
			b.Visibility = d.Stage.ShaderStage()
		}
		bindings[i] = b
	}
	return bindings, nil
}
