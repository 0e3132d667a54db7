// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package pipeline

import (
	"errors"
	"fmt"
)

// Pipeline cache errors.
var (
	// ErrNoProgram is returned when a configuration selects no vertex
	// program, or a program ID the library does not know.
	ErrNoProgram = errors.New("pipeline: program not registered")

	// ErrStageMismatch is returned when a program is used in a stage it
	// was not registered for.
	ErrStageMismatch = errors.New("pipeline: program used in wrong stage")

	// ErrBindingConflict is returned when the vertex and pixel programs
	// declare the same binding with different resource types.
	ErrBindingConflict = errors.New("pipeline: conflicting binding declarations")

	// ErrUnknownTarget is returned when a configuration attaches a target
	// that was never registered.
	ErrUnknownTarget = errors.New("pipeline: render target not registered")

	// ErrTargetKind is returned when a color target is attached as depth or
	// the other way round.
	ErrTargetKind = errors.New("pipeline: render target attached in wrong slot")

	// ErrTargetRedefined is returned when a target ID is registered again
	// with a different description.
	ErrTargetRedefined = errors.New("pipeline: render target redefined")

	// ErrInvalidTarget is returned when registering target ID 0.
	ErrInvalidTarget = errors.New("pipeline: invalid render target ID")

	// ErrNoAttachments is returned when a configuration attaches no target.
	ErrNoAttachments = errors.New("pipeline: no render targets attached")

	// ErrTooManyColorTargets is returned when more color targets are
	// attached than the device supports.
	ErrTooManyColorTargets = errors.New("pipeline: too many color targets")

	// ErrSampleCountMismatch is returned when attached targets, or the
	// configuration and its targets, disagree on the sample count.
	ErrSampleCountMismatch = errors.New("pipeline: sample count mismatch")

	// ErrCacheDestroyed is returned when using a destroyed cache.
	ErrCacheDestroyed = errors.New("pipeline: cache has been destroyed")
)

// CreateError reports a failed GPU object creation.
type CreateError struct {
	// Op is the device call that failed, e.g. "CreateRenderPipeline".
	Op string
	// Label is the debug label of the object being created.
	Label string
	// Err is the device error.
	Err error
}

func (e *CreateError) Error() string {
	return fmt.Sprintf("pipeline: %s %q: %v", e.Op, e.Label, e.Err)
}

func (e *CreateError) Unwrap() error { return e.Err }
