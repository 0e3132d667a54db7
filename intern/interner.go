// Package intern deduplicates pipeline configurations into stable
// sequential snapshot IDs.
//
// Every distinct [state.PipelineConfigState] is stored once. Two
// configurations that compare equal by content always map to the same
// [state.SnapshotID], and an ID, once issued, refers to the same stored
// value for the lifetime of the Interner.
//
// Interner is not safe for concurrent use. It is meant to be driven from
// the single goroutine that records draw state.
package intern

import (
	"fmt"

	"github.com/gogpu/pipestate/internal/debug"
	"github.com/gogpu/pipestate/state"
)

// chunkSize is the number of states per storage chunk. Chunks are never
// reallocated, so pointers returned by StateRef stay valid.
const chunkSize = 256

// facts are the derived properties computed once per interned state.
type facts uint8

const (
	factTranslucent facts = 1 << iota
	factAlphaTested
	factUsesPrograms
	factDepthWrite
)

func deriveFacts(s *state.PipelineConfigState) facts {
	var f facts
	if s.IsTranslucent() {
		f |= factTranslucent
	}
	if s.IsAlphaTested() {
		f |= factAlphaTested
	}
	if s.UsesPrograms() {
		f |= factUsesPrograms
	}
	if s.IsDepthWriteEnabled() {
		f |= factDepthWrite
	}
	return f
}

type entry struct {
	state state.PipelineConfigState
	facts facts
}

// Stats contains interner statistics.
type Stats struct {
	// Lookups is the number of TakeSnapshot calls.
	Lookups uint64
	// Hits is the number of lookups that returned an existing ID.
	Hits uint64
	// Collisions counts stored states that shared a hash with the looked up
	// state but were not equal to it.
	Collisions uint64
}

// Interner maps pipeline configurations to snapshot IDs.
type Interner struct {
	buckets map[uint64][]state.SnapshotID
	chunks  []*[chunkSize]entry
	count   int

	stats Stats
	guard *debug.Guard
}

// Option configures an Interner.
type Option func(*Interner)

// WithDebug enables assertions that the interner is not entered from two
// goroutines at once.
func WithDebug(enabled bool) Option {
	return func(in *Interner) {
		in.guard = debug.NewGuard("interner", enabled)
	}
}

// New creates an empty interner.
func New(opts ...Option) *Interner {
	in := &Interner{
		buckets: make(map[uint64][]state.SnapshotID),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// TakeSnapshot returns the ID of s, interning a copy of it if no equal
// configuration has been seen before. New IDs are assigned sequentially
// from zero.
func (in *Interner) TakeSnapshot(s *state.PipelineConfigState) state.SnapshotID {
	defer in.guard.Enter("TakeSnapshot")()

	in.stats.Lookups++
	h := s.Hash()
	bucket := in.buckets[h]
	for _, id := range bucket {
		if in.at(id).state.Equal(s) {
			in.stats.Hits++
			return id
		}
		in.stats.Collisions++
	}

	id := state.SnapshotID(in.count) //nolint:gosec // G115: IDs fit in uint32
	c, i := in.count/chunkSize, in.count%chunkSize
	if c == len(in.chunks) {
		in.chunks = append(in.chunks, new([chunkSize]entry))
	}
	in.chunks[c][i] = entry{state: *s, facts: deriveFacts(s)}
	in.count++
	in.buckets[h] = append(bucket, id)

	slogger().Debug("intern: new snapshot", "id", id, "hash", h, "bucket", len(bucket)+1)
	return id
}

// at returns the entry for id, panicking if id was never issued.
func (in *Interner) at(id state.SnapshotID) *entry {
	if int(id) >= in.count {
		panic(fmt.Sprintf("intern: snapshot ID %d out of range (have %d)", id, in.count))
	}
	return &in.chunks[int(id)/chunkSize][int(id)%chunkSize]
}

// GetState returns a copy of the configuration interned under id.
// It panics if id was not returned by TakeSnapshot.
func (in *Interner) GetState(id state.SnapshotID) state.PipelineConfigState {
	return in.at(id).state
}

// StateRef returns the stored configuration for id without copying.
// The pointer stays valid for the lifetime of the interner and the value
// must not be modified. It panics if id was not returned by TakeSnapshot.
func (in *Interner) StateRef(id state.SnapshotID) *state.PipelineConfigState {
	return &in.at(id).state
}

// IsTranslucent reports whether the state for id blends with the
// destination.
func (in *Interner) IsTranslucent(id state.SnapshotID) bool {
	return in.at(id).facts&factTranslucent != 0
}

// IsAlphaTested reports whether the state for id can discard fragments by
// alpha.
func (in *Interner) IsAlphaTested(id state.SnapshotID) bool {
	return in.at(id).facts&factAlphaTested != 0
}

// UsesPrograms reports whether the state for id selects a vertex or pixel
// program.
func (in *Interner) UsesPrograms(id state.SnapshotID) bool {
	return in.at(id).facts&factUsesPrograms != 0
}

// IsDepthWriteEnabled reports whether the state for id writes depth.
func (in *Interner) IsDepthWriteEnabled(id state.SnapshotID) bool {
	return in.at(id).facts&factDepthWrite != 0
}

// Len returns the number of interned states.
func (in *Interner) Len() int { return in.count }

// Stats returns lookup statistics.
func (in *Interner) Stats() Stats { return in.stats }
