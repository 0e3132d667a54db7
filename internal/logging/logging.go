// Package logging holds the silent default logger shared by every package
// of the module.
package logging

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// nopHandler is a slog.Handler that silently discards all log records.
// The Enabled method returns false so the caller skips message formatting
// entirely, making disabled logging effectively zero-cost.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

var nop = slog.New(nopHandler{})

// Nop returns a logger that silently discards all output.
func Nop() *slog.Logger { return nop }

// Pointer stores a logger that can be replaced while other goroutines log.
// The zero value loads the nop logger.
type Pointer struct {
	p atomic.Pointer[slog.Logger]
}

// Load returns the current logger.
func (p *Pointer) Load() *slog.Logger {
	if l := p.p.Load(); l != nil {
		return l
	}
	return nop
}

// Store replaces the logger. Passing nil restores the nop logger.
func (p *Pointer) Store(l *slog.Logger) {
	if l == nil {
		l = nop
	}
	p.p.Store(l)
}
