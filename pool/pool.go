// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package pool provides a ring allocator over one pre-allocated GPU buffer.
//
// A [Pool] hands out aligned byte ranges ([Lease]) for transient per-draw
// data such as uniform blocks. Allocation is a cursor bump; when the cursor
// would run past the end of the backing buffer it wraps back to the start
// and the oldest data is overwritten. No GPU object is created per
// allocation.
//
// Wraparound reuse of a range is only safe once the GPU has finished
// reading what was previously stored there. When a fence is configured the
// pool tracks which frame each byte range belongs to ([Pool.Retire]) and
// waits for that frame's fence value before handing the range out again.
// Without a fence, reuse is silent and the caller must guarantee the pool
// is large enough for the frames in flight.
package pool

import (
	"errors"
	"fmt"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/pipestate/internal/debug"
)

// Pool errors.
var (
	// ErrZeroSize is returned when allocating zero bytes.
	ErrZeroSize = errors.New("pool: allocation size is zero")

	// ErrAllocationTooLarge is returned when a single allocation exceeds the
	// backing buffer.
	ErrAllocationTooLarge = errors.New("pool: allocation exceeds backing buffer size")

	// ErrMisaligned is returned when a write does not start or end on the
	// required copy alignment.
	ErrMisaligned = errors.New("pool: misaligned write")

	// ErrOutOfRange is returned when a write extends past its lease.
	ErrOutOfRange = errors.New("pool: write exceeds lease")

	// ErrForeignLease is returned when a lease from another pool is used.
	ErrForeignLease = errors.New("pool: lease belongs to a different pool")

	// ErrPoolExhausted is returned when an allocation would overwrite data
	// written earlier in the same, not yet retired, frame.
	ErrPoolExhausted = errors.New("pool: allocation overlaps data of the current frame")

	// ErrFenceTimeout is returned when waiting for the GPU to release a
	// range takes longer than the configured timeout.
	ErrFenceTimeout = errors.New("pool: timed out waiting for GPU fence")

	// ErrPoolDestroyed is returned when using a destroyed pool.
	ErrPoolDestroyed = errors.New("pool: pool has been destroyed")

	// ErrInvalidSize is returned when creating a pool whose size is zero or
	// not a multiple of the lease alignment.
	ErrInvalidSize = errors.New("pool: invalid backing size")
)

// CopyAlignment is the alignment of buffer writes (offset and length).
const CopyAlignment = 4

// DefaultFenceTimeout is used when Config.FenceTimeout is zero.
const DefaultFenceTimeout = 5 * time.Second

// Usage selects what the pooled data is bound as. It determines the
// buffer usage flags and the offset alignment of leases.
type Usage int

const (
	// UsageUniform binds leases as uniform buffers.
	UsageUniform Usage = iota
	// UsageStorage binds leases as storage buffers.
	UsageStorage
	// UsageVertex binds leases as vertex buffers.
	UsageVertex
	// UsageIndex binds leases as index buffers.
	UsageIndex
)

// String returns the string representation of Usage.
func (u Usage) String() string {
	switch u {
	case UsageUniform:
		return "Uniform"
	case UsageStorage:
		return "Storage"
	case UsageVertex:
		return "Vertex"
	case UsageIndex:
		return "Index"
	default:
		return fmt.Sprintf("Unknown(%d)", int(u))
	}
}

// bufferUsage returns the HAL usage flags for u.
func (u Usage) bufferUsage() gputypes.BufferUsage {
	usage := gputypes.BufferUsageCopyDst
	switch u {
	case UsageUniform:
		usage |= gputypes.BufferUsageUniform
	case UsageStorage:
		usage |= gputypes.BufferUsageStorage
	case UsageVertex:
		usage |= gputypes.BufferUsageVertex
	case UsageIndex:
		usage |= gputypes.BufferUsageIndex
	}
	return usage
}

// Alignment returns the lease offset alignment for u under limits:
// the device's minimum uniform or storage offset alignment, else 1.
func Alignment(u Usage, limits *gputypes.Limits) uint64 {
	var a uint64
	switch u {
	case UsageUniform:
		a = uint64(limits.MinUniformBufferOffsetAlignment)
	case UsageStorage:
		a = uint64(limits.MinStorageBufferOffsetAlignment)
	}
	if a == 0 {
		a = 1
	}
	return a
}

// Device is the subset of hal.Device a pool uses.
type Device interface {
	CreateBuffer(desc *hal.BufferDescriptor) (hal.Buffer, error)
	DestroyBuffer(buffer hal.Buffer)
	Wait(fence hal.Fence, value uint64, timeout time.Duration) (bool, error)
}

// Uploader writes CPU data into a GPU buffer. hal.Queue implements it.
type Uploader interface {
	WriteBuffer(buffer hal.Buffer, offset uint64, data []byte) error
}

// Config configures a Pool.
type Config struct {
	// Label is an optional debug name for the backing buffer.
	Label string

	// Size is the backing buffer size in bytes. It must be a multiple of
	// the lease alignment for Usage.
	Size uint64

	// Usage selects the binding kind and thus the lease alignment.
	Usage Usage

	// Limits are the device limits the alignment is derived from.
	// Defaults to gputypes.DefaultLimits() if nil.
	Limits *gputypes.Limits

	// Fence, when set, enables fence-tracked reuse. Every value passed to
	// Retire must eventually be signalled on this fence.
	Fence hal.Fence

	// FenceTimeout bounds a single wait for the fence.
	// Defaults to DefaultFenceTimeout if zero.
	FenceTimeout time.Duration

	// Debug enables serialized-access assertions on the allocation path.
	Debug bool
}

// Lease is a claim on a byte range of a pool's backing buffer.
// The zero Lease is unbound.
type Lease struct {
	Offset uint64
	Size   uint64
	Pool   *Pool
}

// IsZero reports whether l is the unbound lease.
func (l Lease) IsZero() bool { return l.Pool == nil }

// End returns the offset one past the last byte of the lease.
func (l Lease) End() uint64 { return l.Offset + l.Size }

// Buffer returns the backing buffer the lease points into.
func (l Lease) Buffer() hal.Buffer {
	if l.Pool == nil {
		return nil
	}
	return l.Pool.buffer
}

// Stats contains pool statistics.
type Stats struct {
	// Allocations is the number of successful Allocate calls.
	Allocations uint64
	// BytesAllocated is the total of aligned lease sizes handed out.
	BytesAllocated uint64
	// Wraps is the number of times the cursor wrapped to the start.
	Wraps uint64
	// FenceWaits is the number of waits for in-flight frames.
	FenceWaits uint64
	// InFlight is the number of retired frames not yet known complete.
	InFlight int
}

// Pool is a ring allocator over one GPU buffer.
//
// Allocate and Update must be called from one goroutine at a time; the
// pool does not lock. DynamicBuffer adds locking for callers that need it.
type Pool struct {
	device   Device
	uploader Uploader

	buffer hal.Buffer
	label  string
	usage  Usage
	size   uint64
	align  uint64
	cursor uint64

	tracker *frameTracker

	stats     Stats
	guard     *debug.Guard
	destroyed bool
}

// New creates a pool and its backing buffer.
func New(device Device, uploader Uploader, cfg Config) (*Pool, error) {
	if cfg.Size == 0 {
		return nil, ErrInvalidSize
	}
	limits := cfg.Limits
	if limits == nil {
		l := gputypes.DefaultLimits()
		limits = &l
	}
	align := Alignment(cfg.Usage, limits)
	if cfg.Size%align != 0 {
		return nil, fmt.Errorf("%w: %d is not a multiple of the %s alignment %d",
			ErrInvalidSize, cfg.Size, cfg.Usage, align)
	}
	label := cfg.Label
	if label == "" {
		label = "pool_" + cfg.Usage.String()
	}

	buffer, err := device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  cfg.Size,
		Usage: cfg.Usage.bufferUsage(),
	})
	if err != nil {
		return nil, fmt.Errorf("pool: create backing buffer %q: %w", label, err)
	}

	p := &Pool{
		device:   device,
		uploader: uploader,
		buffer:   buffer,
		label:    label,
		usage:    cfg.Usage,
		size:     cfg.Size,
		align:    align,
		guard:    debug.NewGuard("pool "+label, cfg.Debug),
	}
	if cfg.Fence != nil {
		timeout := cfg.FenceTimeout
		if timeout <= 0 {
			timeout = DefaultFenceTimeout
		}
		p.tracker = newFrameTracker(device, cfg.Fence, timeout)
	}

	slogger().Debug("pool: created",
		"label", label, "usage", cfg.Usage.String(), "size", cfg.Size, "alignment", p.align,
		"fenced", p.tracker != nil)
	return p, nil
}

// Allocate claims size bytes, rounded up to the pool alignment.
//
// If the rounded size does not fit between the cursor and the end of the
// buffer, the cursor wraps to offset zero and the lease starts there,
// overwriting the oldest data. It fails only if the rounded size alone
// exceeds the backing buffer, or, with fence tracking, if the range is
// still in use by the current frame or the fence wait fails.
func (p *Pool) Allocate(size uint64) (Lease, error) {
	defer p.guard.Enter("Allocate")()

	if p.destroyed {
		return Lease{}, ErrPoolDestroyed
	}
	if size == 0 {
		return Lease{}, ErrZeroSize
	}
	aligned := alignUp(size, p.align)
	if aligned > p.size || aligned < size {
		return Lease{}, fmt.Errorf("%w: %d bytes (aligned %d) > %d", ErrAllocationTooLarge, size, aligned, p.size)
	}

	offset := p.cursor
	wrapped := offset+aligned > p.size
	if wrapped {
		offset = 0
	}

	if p.tracker != nil {
		waited, err := p.tracker.claim(offset, offset+aligned)
		p.stats.FenceWaits += waited
		if err != nil {
			return Lease{}, err
		}
	}

	if wrapped {
		p.stats.Wraps++
		slogger().Debug("pool: wrapped", "label", p.label, "size", aligned)
	}
	p.cursor = offset + aligned
	p.stats.Allocations++
	p.stats.BytesAllocated += aligned

	return Lease{Offset: offset, Size: aligned, Pool: p}, nil
}

// Update writes data into the backing buffer at lease.Offset+offset.
//
// The target offset and the data length must be multiples of
// CopyAlignment, and the write must lie within the lease.
func (p *Pool) Update(lease Lease, data []byte, offset uint64) error {
	if p.destroyed {
		return ErrPoolDestroyed
	}
	if lease.Pool != p {
		return ErrForeignLease
	}
	n := uint64(len(data))
	if n == 0 {
		return nil
	}
	target := lease.Offset + offset
	if target%CopyAlignment != 0 || n%CopyAlignment != 0 {
		return fmt.Errorf("%w: offset %d, length %d (alignment %d)", ErrMisaligned, target, n, CopyAlignment)
	}
	if offset > lease.Size || n > lease.Size-offset {
		return fmt.Errorf("%w: %d bytes at %d in lease of %d", ErrOutOfRange, n, offset, lease.Size)
	}
	if err := p.uploader.WriteBuffer(p.buffer, target, data); err != nil {
		return fmt.Errorf("pool: write %d bytes at %d to %q: %w", n, target, p.label, err)
	}
	return nil
}

// Retire closes the current frame: every byte allocated since the previous
// Retire is released once fenceValue is signalled on the configured fence.
// Without a fence Retire does nothing.
func (p *Pool) Retire(fenceValue uint64) {
	if p.tracker == nil {
		return
	}
	p.tracker.retire(fenceValue)
}

// Buffer returns the backing buffer.
func (p *Pool) Buffer() hal.Buffer { return p.buffer }

// Label returns the debug label.
func (p *Pool) Label() string { return p.label }

// Usage returns the binding kind of the pool.
func (p *Pool) Usage() Usage { return p.usage }

// Size returns the backing buffer size in bytes.
func (p *Pool) Size() uint64 { return p.size }

// Alignment returns the lease offset alignment.
func (p *Pool) Alignment() uint64 { return p.align }

// Cursor returns the offset the next allocation starts from if it fits.
func (p *Pool) Cursor() uint64 { return p.cursor }

// Stats returns allocation statistics.
func (p *Pool) Stats() Stats {
	s := p.stats
	if p.tracker != nil {
		s.InFlight = len(p.tracker.inflight)
	}
	return s
}

// Destroy releases the backing buffer. Outstanding leases become invalid.
func (p *Pool) Destroy() {
	if p.destroyed {
		return
	}
	p.destroyed = true
	if p.buffer != nil {
		p.device.DestroyBuffer(p.buffer)
		p.buffer = nil
	}
}

// alignUp rounds v up to a multiple of a.
func alignUp(v, a uint64) uint64 {
	if r := v % a; r != 0 {
		return v + a - r
	}
	return v
}
