// Package pipestate turns a stream of fine-grained render-state changes
// into the immutable pipeline objects and transient buffers a WebGPU-style
// device wants.
//
// # Overview
//
// Rendering code sets state one call at a time: program, blend factors,
// depth test, attached targets, viewport. Modern GPU APIs bake most of that
// into pipeline objects that are expensive to create. pipestate sits in
// between:
//
//   - state: the plain-data configuration and per-draw state, plus a
//     Tracker that records which parts actually changed.
//   - intern: deduplicates configurations into stable SnapshotIDs.
//   - pipeline: compiles a snapshot plus draw state into a cached render
//     pipeline, sharing resource layouts and target configurations.
//   - pool: a ring allocator over one GPU buffer for per-frame uniform and
//     storage data, with fence-tracked reuse.
//   - program: registers shader programs and their binding sets.
//
// A Context wires them to one device.
//
// # Quick Start
//
//	ctx, err := pipestate.New(device, queue)
//	if err != nil {
//	    return err
//	}
//	defer ctx.Destroy()
//
//	vs, _ := ctx.RegisterProgram(program.Desc{Stage: program.StageVertex, WGSL: src, EntryPoints: []string{"vs_main"}})
//	fs, _ := ctx.RegisterProgram(program.Desc{Stage: program.StagePixel, WGSL: src, EntryPoints: []string{"fs_main"}})
//	_ = ctx.RegisterTarget(1, pipeline.TargetDesc{Format: gputypes.TextureFormatBGRA8Unorm})
//
//	st := ctx.State()
//	st.SetPrograms(vs, fs)
//	st.SetColorTargets(1)
//
//	p, err := ctx.Apply()       // compiled on first use, cached afterwards
//	lease, err := ctx.AllocUniform(mvp)
//	// bind p.Pipeline(), lease.Buffer() at lease.Offset, draw...
//
//	ctx.EndFrame(fenceValue)
//
// # Concurrency
//
// A Context and everything it owns is meant for one goroutine. Nothing is
// locked; with WithDebug(true) overlapping calls panic instead of
// corrupting state. The exception is pool.DynamicBuffer, which serializes
// its mappings with a mutex.
//
// # Logging
//
// pipestate produces no log output by default. See SetLogger.
package pipestate
