// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package pipeline

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/pipestate/state"
)

// TargetKind says which attachment slot a render target fits.
type TargetKind uint8

const (
	// TargetColor is a color attachment.
	TargetColor TargetKind = iota
	// TargetDepth is a depth (and optionally stencil) attachment.
	TargetDepth
)

// String returns the string representation of TargetKind.
func (k TargetKind) String() string {
	if k == TargetDepth {
		return "Depth"
	}
	return "Color"
}

// TargetDesc describes a render target as far as pipeline compilation is
// concerned. The texture behind it is owned elsewhere.
type TargetDesc struct {
	Label       string
	Kind        TargetKind
	Format      gputypes.TextureFormat
	SampleCount uint32
}

func (d TargetDesc) samples() uint32 {
	if d.SampleCount == 0 {
		return 1
	}
	return d.SampleCount
}

// TargetTable maps target IDs to their descriptions.
//
// A target ID keeps one description until it is unregistered; cached
// target configurations rely on that. Caches built on the table drop
// everything compiled against an ID when it is unregistered, after which
// the ID may be registered again with any description.
type TargetTable struct {
	targets      map[state.TargetID]TargetDesc
	unregistered []func(state.TargetID)
}

// NewTargetTable creates an empty table.
func NewTargetTable() *TargetTable {
	return &TargetTable{targets: make(map[state.TargetID]TargetDesc)}
}

// onUnregister adds fn to the functions run by Unregister.
func (t *TargetTable) onUnregister(fn func(state.TargetID)) {
	t.unregistered = append(t.unregistered, fn)
}

// Unregister removes id and reports whether it was registered.
//
// Pipelines rendering into id are destroyed immediately, so the caller must
// make sure the GPU has finished with them, as it must before destroying
// the target texture itself.
func (t *TargetTable) Unregister(id state.TargetID) bool {
	if _, ok := t.targets[id]; !ok {
		return false
	}
	delete(t.targets, id)
	for _, fn := range t.unregistered {
		fn(id)
	}
	return true
}

// Register records desc under id. Registering the same description again
// is a no-op; a different one fails with ErrTargetRedefined.
func (t *TargetTable) Register(id state.TargetID, desc TargetDesc) error {
	if id == 0 {
		return ErrInvalidTarget
	}
	desc.SampleCount = desc.samples()
	if old, ok := t.targets[id]; ok {
		if old != desc {
			return fmt.Errorf("%w: %d (%s)", ErrTargetRedefined, id, desc.Label)
		}
		return nil
	}
	t.targets[id] = desc
	return nil
}

// Lookup returns the description of id.
func (t *TargetTable) Lookup(id state.TargetID) (TargetDesc, bool) {
	d, ok := t.targets[id]
	return d, ok
}

// Len returns the number of registered targets.
func (t *TargetTable) Len() int { return len(t.targets) }

// targetKey identifies a set of attached targets.
type targetKey struct {
	colors [state.MaxColorTargets]state.TargetID
	count  uint8
	depth  state.TargetID
}

// uses reports whether id is one of the attached targets.
func (k targetKey) uses(id state.TargetID) bool {
	if k.depth == id {
		return true
	}
	for _, c := range k.colors[:k.count] {
		if c == id {
			return true
		}
	}
	return false
}

func targetKeyOf(s *state.PipelineConfigState) targetKey {
	return targetKey{colors: s.ColorTargets, count: s.ColorTargetCount, depth: s.DepthTarget}
}

// TargetConfig is the validated attachment layout a pipeline renders into.
// It is shared by every pipeline drawing into the same target set and is
// never modified.
type TargetConfig struct {
	colorFormats [state.MaxColorTargets]gputypes.TextureFormat
	colorCount   int
	depthFormat  gputypes.TextureFormat
	hasDepth     bool
	sampleCount  uint32
}

// ColorFormats returns the formats of the color attachments in slot order.
func (c *TargetConfig) ColorFormats() []gputypes.TextureFormat {
	return c.colorFormats[:c.colorCount]
}

// DepthFormat returns the depth attachment format and whether there is one.
func (c *TargetConfig) DepthFormat() (gputypes.TextureFormat, bool) {
	return c.depthFormat, c.hasDepth
}

// SampleCount returns the common sample count of the attachments.
func (c *TargetConfig) SampleCount() uint32 { return c.sampleCount }

// buildTargetConfig resolves and validates k.
func buildTargetConfig(table *TargetTable, k targetKey, maxColor uint32) (*TargetConfig, error) {
	if k.count == 0 && k.depth == 0 {
		return nil, ErrNoAttachments
	}
	if maxColor > 0 && uint32(k.count) > maxColor {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyColorTargets, k.count, maxColor)
	}

	cfg := &TargetConfig{colorCount: int(k.count)}
	check := func(id state.TargetID, kind TargetKind) (TargetDesc, error) {
		d, ok := table.Lookup(id)
		if !ok {
			return d, fmt.Errorf("%w: %d", ErrUnknownTarget, id)
		}
		if d.Kind != kind {
			return d, fmt.Errorf("%w: %s target %d in %s slot", ErrTargetKind, d.Kind, id, kind)
		}
		if cfg.sampleCount == 0 {
			cfg.sampleCount = d.SampleCount
		} else if d.SampleCount != cfg.sampleCount {
			return d, fmt.Errorf("%w: target %d has %d samples, want %d",
				ErrSampleCountMismatch, id, d.SampleCount, cfg.sampleCount)
		}
		return d, nil
	}

	for i, id := range k.colors[:k.count] {
		d, err := check(id, TargetColor)
		if err != nil {
			return nil, err
		}
		cfg.colorFormats[i] = d.Format
	}
	if k.depth != 0 {
		d, err := check(k.depth, TargetDepth)
		if err != nil {
			return nil, err
		}
		cfg.depthFormat = d.Format
		cfg.hasDepth = true
	}
	return cfg, nil
}
