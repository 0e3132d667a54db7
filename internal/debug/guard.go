// Package debug provides runtime assertions used when debug checks are
// enabled in a configuration.
package debug

import (
	"fmt"
	"sync/atomic"
)

// Guard asserts that a set of operations is never entered concurrently.
//
// The tracker, interner, pipeline cache and pool allocation path are
// documented as single-goroutine. They do not lock; when debug checks are
// on they enter a Guard instead, which panics if a second goroutine enters
// while the first is still inside.
//
// A nil *Guard is disabled.
type Guard struct {
	name    string
	enabled bool
	busy    atomic.Int32
}

// NewGuard returns a guard for the named component.
func NewGuard(name string, enabled bool) *Guard {
	return &Guard{name: name, enabled: enabled}
}

// Enabled reports whether the guard checks anything.
func (g *Guard) Enabled() bool { return g != nil && g.enabled }

// Enter marks op as running and returns the function that ends it.
// Typical use is `defer g.Enter("Allocate")()`.
func (g *Guard) Enter(op string) func() {
	if !g.Enabled() {
		return nop
	}
	if !g.busy.CompareAndSwap(0, 1) {
		panic(fmt.Sprintf("%s: concurrent call to %s; access must be serialized", g.name, op))
	}
	return g.exit
}

func (g *Guard) exit() { g.busy.Store(0) }

func nop() {}
