// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package pool

import (
	"fmt"
	"time"

	"github.com/gogpu/wgpu/hal"
)

// span is a half-open byte range [start, end).
type span struct {
	start, end uint64
}

func (s span) overlaps(start, end uint64) bool {
	return s.start < end && start < s.end
}

// region is the set of ranges written during one retired frame.
type region struct {
	spans []span
	value uint64
}

func (r *region) overlaps(start, end uint64) bool {
	for _, s := range r.spans {
		if s.overlaps(start, end) {
			return true
		}
	}
	return false
}

// frameTracker records which byte ranges belong to which frame so that a
// wrapped allocation waits for the GPU before reusing them.
//
// Fence values passed to retire must be non-decreasing; waiting for one
// region therefore also completes every older region.
type frameTracker struct {
	device  Device
	fence   hal.Fence
	timeout time.Duration

	open      []span
	inflight  []region
	completed uint64
}

func newFrameTracker(device Device, fence hal.Fence, timeout time.Duration) *frameTracker {
	return &frameTracker{device: device, fence: fence, timeout: timeout}
}

// claim marks [start, end) as written by the open frame, first waiting for
// any retired frame that still owns part of it. It returns the number of
// fence waits performed.
func (t *frameTracker) claim(start, end uint64) (uint64, error) {
	for _, s := range t.open {
		if s.overlaps(start, end) {
			return 0, fmt.Errorf("%w: [%d, %d)", ErrPoolExhausted, start, end)
		}
	}

	newest := -1
	for i := range t.inflight {
		if t.inflight[i].overlaps(start, end) {
			newest = i
		}
	}

	var waits uint64
	if newest >= 0 {
		value := t.inflight[newest].value
		if value > t.completed {
			waits++
			slogger().Warn("pool: waiting for fence", "value", value, "start", start, "end", end)
			ok, err := t.device.Wait(t.fence, value, t.timeout)
			if err != nil {
				return waits, fmt.Errorf("pool: wait for fence value %d: %w", value, err)
			}
			if !ok {
				return waits, fmt.Errorf("%w: value %d after %v", ErrFenceTimeout, value, t.timeout)
			}
			t.completed = value
		}
		t.inflight = t.inflight[newest+1:]
	}

	if n := len(t.open); n > 0 && t.open[n-1].end == start {
		t.open[n-1].end = end
	} else {
		t.open = append(t.open, span{start: start, end: end})
	}
	return waits, nil
}

// retire hands the open frame's ranges to the GPU under value.
func (t *frameTracker) retire(value uint64) {
	if len(t.open) == 0 {
		return
	}
	t.inflight = append(t.inflight, region{spans: t.open, value: value})
	t.open = nil
}
