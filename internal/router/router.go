// Package router fans inbound events out to the handlers registered for
// their name. Delivery is synchronous and ordered; a failing handler never
// affects its siblings.
package router

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/mockexam/livefeed/internal/events"
)

// Handler processes one event. Returned errors are logged, not propagated.
// Events arrive one at a time from the connection loop, with one exception:
// the Disconnected state change is dispatched on the goroutine that calls
// Disconnect. A handler that shares state with other goroutines must lock.
type Handler func(ev events.Event) error

// Registration is the handle returned by On. Removal is by handle identity,
// so the same function may be registered twice and removed independently.
type Registration struct {
	id      uuid.UUID
	name    string
	handler Handler
	active  atomic.Bool
	router  *Router
}

func (reg *Registration) ID() uuid.UUID { return reg.id }
func (reg *Registration) Name() string  { return reg.name }

// Active reports whether the handler is still registered.
func (reg *Registration) Active() bool { return reg != nil && reg.active.Load() }

// Close deregisters the handler. Safe to call more than once.
func (reg *Registration) Close() {
	if reg != nil && reg.router != nil {
		reg.router.Off(reg)
	}
}

type Router struct {
	mu       sync.RWMutex
	handlers map[string][]*Registration
	logger   *slog.Logger
}

func New(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		handlers: make(map[string][]*Registration),
		logger:   logger,
	}
}

// On appends h to the handlers for name.
func (r *Router) On(name string, h Handler) *Registration {
	reg := &Registration{id: uuid.New(), name: name, handler: h, router: r}
	reg.active.Store(true)

	r.mu.Lock()
	r.handlers[name] = append(r.handlers[name], reg)
	r.mu.Unlock()
	return reg
}

// Off removes reg. It takes effect immediately, including for an event that
// is currently being dispatched and has not reached reg yet.
func (r *Router) Off(reg *Registration) {
	if reg == nil || !reg.active.Swap(false) {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	regs := r.handlers[reg.name]
	if i := slices.Index(regs, reg); i >= 0 {
		// copy so an in-flight snapshot is not mutated underneath Dispatch
		regs = slices.Delete(slices.Clone(regs), i, i+1)
	}
	if len(regs) == 0 {
		delete(r.handlers, reg.name)
	} else {
		r.handlers[reg.name] = regs
	}
}

// Reset deregisters every handler.
func (r *Router) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, regs := range r.handlers {
		for _, reg := range regs {
			reg.active.Store(false)
		}
	}
	r.handlers = make(map[string][]*Registration)
}

// Count returns the number of handlers currently registered for name.
func (r *Router) Count(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[name])
}

// Dispatch runs every handler registered for ev.Name in registration order
// and returns how many were invoked. Events without handlers are dropped.
func (r *Router) Dispatch(ev events.Event) int {
	r.mu.RLock()
	regs := r.handlers[ev.Name]
	r.mu.RUnlock()

	if len(regs) == 0 {
		r.logger.Debug("router: no handler, dropping event", "event", ev.Name)
		return 0
	}

	invoked := 0
	for _, reg := range regs {
		if !reg.active.Load() {
			continue
		}
		invoked++
		if err := r.invoke(reg, ev); err != nil {
			r.logger.Warn("router: handler failed",
				"event", ev.Name,
				"handler", reg.id.String(),
				"err", err,
			)
		}
	}
	return invoked
}

func (r *Router) invoke(reg *Registration, ev events.Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return reg.handler(ev)
}
