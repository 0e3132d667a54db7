// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package pipeline

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/pipestate/program"
	"github.com/gogpu/pipestate/state"
)

// layoutKey identifies a resource layout: the program pair determines the
// bindings.
type layoutKey struct {
	vertex state.ProgramID
	pixel  state.ProgramID
}

// Layout is the resource layout of a program pair: one bind group layout
// holding the merged bindings of both programs, and the pipeline layout
// built from it.
type Layout struct {
	key            layoutKey
	entries        []gputypes.BindGroupLayoutEntry
	bindGroup      hal.BindGroupLayout // nil when the programs bind nothing
	pipelineLayout hal.PipelineLayout

	refs     int // live pipelines using this layout
	lastUsed uint64
}

// Entries returns the merged bindings, sorted by binding number.
func (l *Layout) Entries() []gputypes.BindGroupLayoutEntry { return l.entries }

// BindGroupLayout returns the layout of bind group 0, or nil.
func (l *Layout) BindGroupLayout() hal.BindGroupLayout { return l.bindGroup }

// PipelineLayout returns the pipeline layout.
func (l *Layout) PipelineLayout() hal.PipelineLayout { return l.pipelineLayout }

// mergeBindings unions the bindings of the given programs. A binding
// declared by both must describe the same resource; its visibility is the
// union of both stages.
func mergeBindings(progs ...*program.Program) ([]gputypes.BindGroupLayoutEntry, error) {
	var merged []gputypes.BindGroupLayoutEntry
	for _, p := range progs {
		if p == nil {
			continue
		}
	next:
		for _, b := range p.Bindings {
			for i := range merged {
				if merged[i].Binding != b.Binding {
					continue
				}
				if !sameResource(merged[i], b) {
					return nil, fmt.Errorf("%w: binding %d in %s", ErrBindingConflict, b.Binding, p.Label)
				}
				merged[i].Visibility |= b.Visibility
				continue next
			}
			merged = append(merged, b)
		}
	}
	slices.SortFunc(merged, func(a, b gputypes.BindGroupLayoutEntry) int {
		return int(a.Binding) - int(b.Binding)
	})
	return merged, nil
}

// sameResource compares two entries ignoring visibility.
func sameResource(a, b gputypes.BindGroupLayoutEntry) bool {
	a.Visibility, b.Visibility = 0, 0
	return reflect.DeepEqual(a, b)
}

// createLayout creates the GPU objects of a layout.
func createLayout(device Device, key layoutKey, entries []gputypes.BindGroupLayoutEntry) (*Layout, error) {
	label := fmt.Sprintf("layout_%d_%d", key.vertex, key.pixel)
	l := &Layout{key: key, entries: entries}

	var groups []hal.BindGroupLayout
	if len(entries) > 0 {
		bgl, err := device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
			Label:   label + "_group0",
			Entries: entries,
		})
		if err != nil {
			return nil, &CreateError{Op: "CreateBindGroupLayout", Label: label, Err: err}
		}
		l.bindGroup = bgl
		groups = []hal.BindGroupLayout{bgl}
	}

	pl, err := device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            label,
		BindGroupLayouts: groups,
	})
	if err != nil {
		if l.bindGroup != nil {
			device.DestroyBindGroupLayout(l.bindGroup)
		}
		return nil, &CreateError{Op: "CreatePipelineLayout", Label: label, Err: err}
	}
	l.pipelineLayout = pl
	return l, nil
}

// destroy releases the GPU objects of l.
func (l *Layout) destroy(device Device) {
	if l.pipelineLayout != nil {
		device.DestroyPipelineLayout(l.pipelineLayout)
		l.pipelineLayout = nil
	}
	if l.bindGroup != nil {
		device.DestroyBindGroupLayout(l.bindGroup)
		l.bindGroup = nil
	}
}
