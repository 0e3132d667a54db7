// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package pool

import (
	"sync"
)

// DynamicBuffer serializes CPU writes into a Pool for callers on several
// goroutines. Lock returns a Mapping holding the buffer lock and a staging
// slice; the bytes reach the GPU when the outermost Unlock commits them.
//
// The lock is held from Lock until that final Unlock, including the
// upload, so no other writer can interleave with a commit.
type DynamicBuffer struct {
	mu      sync.Mutex
	pool    *Pool
	commits uint64
}

// NewDynamicBuffer wraps p. The pool must not be used directly while the
// dynamic buffer is in use.
func NewDynamicBuffer(p *Pool) *DynamicBuffer {
	return &DynamicBuffer{pool: p}
}

// Pool returns the underlying pool.
func (b *DynamicBuffer) Pool() *Pool { return b.pool }

// Commits returns the number of mappings committed so far.
func (b *DynamicBuffer) Commits() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.commits
}

// Lock acquires the buffer, allocates size bytes and returns a mapping of
// them. The caller fills Mapping.Data and calls Unlock.
func (b *DynamicBuffer) Lock(size uint64) (*Mapping, error) {
	b.mu.Lock()
	lease, err := b.pool.Allocate(alignUp(size, CopyAlignment))
	if err != nil {
		b.mu.Unlock()
		return nil, err
	}
	staging := make([]byte, alignUp(size, CopyAlignment))
	return &Mapping{
		buf:     b,
		lease:   lease,
		staging: staging,
		Data:    staging[:size],
		depth:   1,
	}, nil
}

// Mapping is a locked, CPU-writable view of a lease.
type Mapping struct {
	// Data is the writable staging memory, len == requested size.
	Data []byte

	buf     *DynamicBuffer
	lease   Lease
	staging []byte
	depth   int
}

// Lease returns the range the mapping commits to.
func (m *Mapping) Lease() Lease { return m.lease }

// Lock re-enters the mapping. The caller already holds the buffer lock
// through m, so this never blocks; each Lock needs a matching Unlock.
func (m *Mapping) Lock() *Mapping {
	if m.depth == 0 {
		panic("pool: Lock on a committed mapping")
	}
	m.depth++
	return m
}

// Depth returns the current nesting depth; zero once committed.
func (m *Mapping) Depth() int { return m.depth }

// Unlock leaves one nesting level. At depth zero the staging bytes are
// written to the GPU and the buffer lock is released.
func (m *Mapping) Unlock() error {
	if m.depth == 0 {
		panic("pool: Unlock of an unlocked mapping")
	}
	m.depth--
	if m.depth > 0 {
		return nil
	}
	defer m.buf.mu.Unlock()
	m.buf.commits++
	return m.buf.pool.Update(m.lease, m.staging, 0)
}
