package task

import (
	"context"
	"fmt"

	"github.com/willemave/news-app-sub001/internal/store"
)

// Dispatcher routes an envelope to the handler registered for its task type.
type Dispatcher struct {
	handlers map[store.TaskType]Handler
}

// NewDispatcher builds the type→handler map. Two handlers claiming the same
// task type is a programming error and rejects construction.
func NewDispatcher(handlers ...Handler) (*Dispatcher, error) {
	m := make(map[store.TaskType]Handler, len(handlers))
	for _, h := range handlers {
		if _, dup := m[h.Type()]; dup {
			return nil, fmt.Errorf("duplicate handler for task type %q", h.Type())
		}
		m[h.Type()] = h
	}
	return &Dispatcher{handlers: m}, nil
}

// Dispatch invokes the matching handler. An unknown type is a permanent
// failure; retrying cannot make a handler appear.
func (d *Dispatcher) Dispatch(ctx context.Context, env *Envelope, tc *Context) Result {
	h, ok := d.handlers[env.Type]
	if !ok {
		return FailPermanent("Unknown task type: %s", env.Type)
	}
	return h.Handle(ctx, env, tc)
}

// Types lists the registered task types. Used by tooling and tests.
func (d *Dispatcher) Types() []store.TaskType {
	out := make([]store.TaskType, 0, len(d.handlers))
	for tt := range d.handlers {
		out = append(out, tt)
	}
	return out
}
