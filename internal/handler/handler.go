// Package handler binds event-type patterns to external actions and
// isolates their failures from the dispatch sweep.
package handler

import (
	"context"
	"fmt"

	"github.com/gyaneshwarpardhi/opsbus/internal/event"
)

// Handler is the interface all bound actions satisfy.
type Handler interface {
	// Name identifies the handler in logs, metrics, and replay output.
	Name() string
	// Handle processes one validated event. An error parks the event;
	// it never propagates past the isolation boundary.
	Handle(ctx context.Context, ev *event.Event) error
}

// Func adapts a plain function into a Handler.
type Func struct {
	name string
	fn   func(ctx context.Context, ev *event.Event) error
}

// NewFunc wraps fn as a named Handler.
func NewFunc(name string, fn func(ctx context.Context, ev *event.Event) error) *Func {
	return &Func{name: name, fn: fn}
}

func (f *Func) Name() string { return f.name }

func (f *Func) Handle(ctx context.Context, ev *event.Event) error { return f.fn(ctx, ev) }

// Invoke runs h inside the per-event isolation boundary: a handler error or
// panic comes back as an ordinary error, never as a dispatcher crash.
func Invoke(ctx context.Context, h Handler, ev *event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %s panicked: %v", h.Name(), r)
		}
	}()
	if err := h.Handle(ctx, ev); err != nil {
		return fmt.Errorf("handler %s: %w", h.Name(), err)
	}
	return nil
}
