package router

import "sync"

// Scope ties a set of registrations to the lifetime of one consumer. Open it
// when the consumer mounts and Close it when it unmounts; every handler it
// registered is released together.
type Scope struct {
	router *Router
	mu     sync.Mutex
	regs   []*Registration
	closed bool
}

func (r *Router) Scope() *Scope {
	return &Scope{router: r}
}

// On registers h through the scope. After Close it is a no-op that returns nil.
func (s *Scope) On(name string, h Handler) *Registration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	reg := s.router.On(name, h)
	s.regs = append(s.regs, reg)
	return reg
}

// Len returns the number of registrations still owned by the scope.
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, reg := range s.regs {
		if reg.active.Load() {
			n++
		}
	}
	return n
}

func (s *Scope) Close() {
	s.mu.Lock()
	regs := s.regs
	s.regs = nil
	s.closed = true
	s.mu.Unlock()

	for _, reg := range regs {
		s.router.Off(reg)
	}
}
