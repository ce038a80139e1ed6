package cache

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/mockexam/livefeed/internal/conn"
	"github.com/mockexam/livefeed/internal/events"
	"github.com/mockexam/livefeed/internal/router"
)

// DefaultBindings maps every mutation event to the collections it changes.
func DefaultBindings() map[string][]Key {
	return map[string][]Key{
		events.ExamAttemptStarted:   {KeyExamAttempts, KeyActiveUsers},
		events.ExamAttemptCompleted: {KeyExamAttempts},
		events.BookingCreated:       {KeyBookings},
		events.PaymentProcessed:     {KeyPayments, KeyBookings},
		events.UserLogin:            {KeyActiveUsers},
		events.UserLogout:           {KeyActiveUsers},
		events.Notification:         {KeyNotifications},
		events.NewExamAvailable:     {KeyExams},
	}
}

// Gap is a mutation event that can change a displayed collection but has no
// live invalidator for it.
type Gap struct {
	Event string
	Key   Key
}

func (g Gap) String() string { return fmt.Sprintf("%s -> %s", g.Event, g.Key) }

type binding struct {
	key Key
	reg *router.Registration
}

type Invalidator struct {
	cache  *QueryCache
	logger *slog.Logger

	mu    sync.Mutex
	bound map[string][]binding
}

func NewInvalidator(c *QueryCache, logger *slog.Logger) *Invalidator {
	return &Invalidator{cache: c, logger: logger, bound: make(map[string][]binding)}
}

// Bind marks keys stale whenever event arrives, for as long as s is open.
func (i *Invalidator) Bind(s *router.Scope, event string, keys ...Key) {
	keys = slices.Clone(keys)
	reg := s.On(event, func(events.Event) error {
		return i.cache.Invalidate(keys...)
	})
	if reg == nil {
		return
	}
	i.mu.Lock()
	for _, k := range keys {
		i.bound[event] = append(i.bound[event], binding{key: k, reg: reg})
	}
	i.mu.Unlock()
}

// BindView binds every default mutation that touches one of keys. A view
// calls it with the collections it renders.
func (i *Invalidator) BindView(s *router.Scope, keys ...Key) {
	for _, event := range events.Mutations {
		var hit []Key
		for _, k := range DefaultBindings()[event] {
			if slices.Contains(keys, k) {
				hit = append(hit, k)
			}
		}
		if len(hit) > 0 {
			i.Bind(s, event, hit...)
		}
	}
}

// BindRecovery marks the whole cache stale whenever the connection comes
// back, since events missed while offline are never replayed.
func (i *Invalidator) BindRecovery(s *router.Scope) {
	s.On(events.ConnectionState, func(ev events.Event) error {
		var change conn.StateChange
		if err := ev.Decode(&change); err != nil {
			return err
		}
		if change.To != conn.StateConnected || !change.Recovered {
			return nil
		}
		i.logger.Info("cache: connection recovered, invalidating all queries")
		return i.cache.InvalidateAll()
	})
}

// Missing lists every (event, key) pair where key is displayed, the event's
// domain covers key, and no live handler invalidates it.
func (i *Invalidator) Missing(displayed []Key) []Gap {
	i.mu.Lock()
	defer i.mu.Unlock()

	var gaps []Gap
	defaults := DefaultBindings()
	for _, event := range events.Mutations {
		for _, k := range defaults[event] {
			if !slices.Contains(displayed, k) {
				continue
			}
			if !i.covered(event, k) {
				gaps = append(gaps, Gap{Event: event, Key: k})
			}
		}
	}
	return gaps
}

func (i *Invalidator) covered(event string, k Key) bool {
	live := i.bound[event][:0]
	found := false
	for _, b := range i.bound[event] {
		if !b.reg.Active() {
			continue
		}
		live = append(live, b)
		if b.key == k {
			found = true
		}
	}
	i.bound[event] = live
	return found
}
