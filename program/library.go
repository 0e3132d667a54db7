package program

import (
	"fmt"
	"runtime"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"golang.org/x/sync/errgroup"

	"github.com/gogpu/pipestate/state"
)

// Device is the subset of hal.Device the library uses.
type Device interface {
	CreateShaderModule(desc *hal.ShaderModuleDescriptor) (hal.ShaderModule, error)
	DestroyShaderModule(module hal.ShaderModule)
}

// Library owns the registered programs and their shader modules.
// IDs start at 1; ID 0 means "no program".
//
// Library is not safe for concurrent use.
type Library struct {
	device   Device
	programs []*Program
}

// NewLibrary creates an empty library.
func NewLibrary(device Device) *Library {
	return &Library{device: device}
}

// Register compiles d and creates its shader module.
func (l *Library) Register(d Desc) (state.ProgramID, error) {
	bindings, err := d.validate()
	if err != nil {
		return 0, err
	}
	code, err := d.code()
	if err != nil {
		return 0, err
	}
	return l.create(d, bindings, code)
}

// RegisterAll registers descs in order. WGSL sources are compiled
// concurrently, at most workers at a time (GOMAXPROCS if workers <= 0);
// shader modules are then created on the calling goroutine.
//
// On error nothing is registered.
func (l *Library) RegisterAll(descs []Desc, workers int) ([]state.ProgramID, error) {
	bindings := make([][]gputypes.BindGroupLayoutEntry, len(descs))
	for i := range descs {
		b, err := descs[i].validate()
		if err != nil {
			return nil, fmt.Errorf("program %q: %w", descs[i].Label, err)
		}
		bindings[i] = b
	}

	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	codes := make([][]uint32, len(descs))
	var g errgroup.Group
	g.SetLimit(workers)
	for i := range descs {
		g.Go(func() error {
			code, err := descs[i].code()
			codes[i] = code
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ids := make([]state.ProgramID, 0, len(descs))
	modules := make([]hal.ShaderModule, 0, len(descs))
	for i := range descs {
		module, err := l.createModule(descs[i].Label, codes[i])
		if err != nil {
			for _, m := range modules {
				l.device.DestroyShaderModule(m)
			}
			return nil, err
		}
		modules = append(modules, module)
	}
	for i, m := range modules {
		ids = append(ids, l.add(descs[i], bindings[i], m))
	}
	return ids, nil
}

// code returns the SPIR-V of d, compiling WGSL if present.
func (d *Desc) code() ([]uint32, error) {
	code := d.SPIRV
	if d.WGSL != "" {
		var err error
		code, err = CompileWGSL(d.WGSL)
		if err != nil {
			return nil, fmt.Errorf("program %q: %w", d.Label, err)
		}
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoSource, d.Label)
	}
	return code, nil
}

func (l *Library) create(d Desc, bindings []gputypes.BindGroupLayoutEntry, code []uint32) (state.ProgramID, error) {
	module, err := l.createModule(d.Label, code)
	if err != nil {
		return 0, err
	}
	return l.add(d, bindings, module), nil
}

func (l *Library) createModule(label string, code []uint32) (hal.ShaderModule, error) {
	module, err := l.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  label,
		Source: hal.ShaderSource{SPIRV: code},
	})
	if err != nil {
		return nil, fmt.Errorf("program %q: create shader module: %w", label, err)
	}
	return module, nil
}

// RegisterModule registers an already created shader module. The library
// takes ownership of module; d's sources are ignored.
func (l *Library) RegisterModule(d Desc, module hal.ShaderModule) (state.ProgramID, error) {
	bindings, err := d.validate()
	if err != nil {
		return 0, err
	}
	return l.add(d, bindings, module), nil
}

func (l *Library) add(d Desc, bindings []gputypes.BindGroupLayoutEntry, module hal.ShaderModule) state.ProgramID {
	id := state.ProgramID(len(l.programs) + 1) //nolint:gosec // G115: program count fits in uint32
	label := d.Label
	if label == "" {
		label = fmt.Sprintf("program_%d", id)
	}
	l.programs = append(l.programs, &Program{
		ID:          id,
		Label:       label,
		Stage:       d.Stage,
		Module:      module,
		EntryPoints: append([]string(nil), d.EntryPoints...),
		Bindings:    bindings,
	})
	slogger().Debug("program: registered", "id", id, "label", label, "stage", d.Stage.String(),
		"variants", len(d.EntryPoints), "bindings", len(bindings))
	return id
}

// Program returns the program registered under id.
func (l *Library) Program(id state.ProgramID) (*Program, bool) {
	if id == 0 || int(id) > len(l.programs) {
		return nil, false
	}
	return l.programs[id-1], true
}

// Len returns the number of registered programs.
func (l *Library) Len() int { return len(l.programs) }

// Destroy releases every shader module. The library is empty afterwards.
func (l *Library) Destroy() {
	for _, p := range l.programs {
		if p.Module != nil {
			l.device.DestroyShaderModule(p.Module)
		}
	}
	l.programs = nil
}
