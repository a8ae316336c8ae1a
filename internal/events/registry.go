package events

import (
	"log/slog"
	"runtime/debug"
	"sync"
)

// Handler receives dispatched events.
type Handler func(Event)

// Subscription identifies one registration made with On. Pass it to Off to
// remove exactly that registration.
type Subscription struct {
	kind Kind
	id   uint64
}

type entry struct {
	id uint64
	fn Handler
}

// Registry maps event kinds to handlers. It is safe for concurrent use, and
// handlers may call On or Off while being dispatched.
type Registry struct {
	mu       sync.RWMutex
	next     uint64
	handlers map[Kind][]entry
	logger   *slog.Logger
}

// NewRegistry returns an empty registry. A nil logger falls back to
// slog.Default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{handlers: make(map[Kind][]entry), logger: logger}
}

// On registers h for kind. Handlers of a kind run in registration order.
func (r *Registry) On(kind Kind, h Handler) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.handlers[kind] = append(r.handlers[kind], entry{id: r.next, fn: h})
	return Subscription{kind: kind, id: r.next}
}

// Off removes the given subscriptions of kind. With no subscriptions it
// removes every handler of kind.
func (r *Registry) Off(kind Kind, subs ...Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(subs) == 0 {
		delete(r.handlers, kind)
		return
	}
	drop := make(map[uint64]bool, len(subs))
	for _, s := range subs {
		if s.kind == kind {
			drop[s.id] = true
		}
	}
	cur := r.handlers[kind]
	kept := make([]entry, 0, len(cur))
	for _, e := range cur {
		if !drop[e.id] {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(r.handlers, kind)
		return
	}
	r.handlers[kind] = kept
}

// Dispatch calls every handler registered for evt.Kind at the moment of the
// call. A panicking handler is logged and does not stop the others.
func (r *Registry) Dispatch(evt Event) {
	r.mu.RLock()
	hs := append([]entry(nil), r.handlers[evt.Kind]...)
	r.mu.RUnlock()

	for _, e := range hs {
		r.call(evt.copy(), e)
	}
}

// Count returns the number of handlers registered for kind.
func (r *Registry) Count(kind Kind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[kind])
}

func (r *Registry) call(evt Event, e entry) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("event handler panicked",
				"kind", evt.Kind,
				"panic", rec,
				"stack", string(debug.Stack()))
		}
	}()
	e.fn(evt)
}

// Subscribe registers fn for the kind of P and hands it the typed payload.
func Subscribe[P Payload](r *Registry, fn func(P)) Subscription {
	var zero P
	return r.On(zero.Kind(), func(evt Event) {
		if p, ok := evt.Payload.(P); ok {
			fn(p)
		}
	})
}
