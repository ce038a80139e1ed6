// Package cache keeps server-fetched collections in the local store and marks
// them stale when routed events say the server copy has changed.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/mockexam/livefeed/internal/db"
)

type Key string

const (
	KeyExamAttempts  Key = "exam-attempts"
	KeyBookings      Key = "bookings"
	KeyPayments      Key = "payments"
	KeyActiveUsers   Key = "active-users"
	KeyNotifications Key = "notifications"
	KeyExams         Key = "exams"
)

func AllKeys() []Key {
	return []Key{KeyExamAttempts, KeyBookings, KeyPayments, KeyActiveUsers, KeyNotifications, KeyExams}
}

// Fetcher loads the current server copy of a collection.
type Fetcher interface {
	Fetch(ctx context.Context, key Key) ([]byte, error)
}

type FetcherFunc func(ctx context.Context, key Key) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, key Key) ([]byte, error) { return f(ctx, key) }

// Listener is told which keys went stale.
type Listener func(keys []Key)

type QueryCache struct {
	store   *db.DB
	fetcher Fetcher
	logger  *slog.Logger
	clock   clockwork.Clock
	group   singleflight.Group

	mu        sync.Mutex
	nextID    int
	listeners map[int]Listener
}

func New(store *db.DB, fetcher Fetcher, clock clockwork.Clock, logger *slog.Logger) *QueryCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &QueryCache{
		store:     store,
		fetcher:   fetcher,
		logger:    logger,
		clock:     clock,
		listeners: make(map[int]Listener),
	}
}

// Get returns the cached body for key, refetching when it is missing or
// stale. Concurrent refetches of one key share a single request. When a
// refetch fails the stale copy is returned alongside the error.
func (c *QueryCache) Get(ctx context.Context, key Key) ([]byte, error) {
	entry, err := c.store.GetQuery(string(key))
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	if entry != nil && !entry.Stale {
		return entry.Body, nil
	}

	v, err, shared := c.group.Do(string(key), func() (any, error) {
		started := c.clock.Now()
		body, err := c.fetcher.Fetch(ctx, key)
		if err != nil {
			return nil, err
		}
		now := c.clock.Now()
		// an Invalidate that lands while Fetch is running keeps the row stale
		if err := c.store.PutQuery(string(key), body, now, started); err != nil {
			return nil, fmt.Errorf("store %s: %w", key, err)
		}
		if err := c.store.StampRefresh(now); err != nil {
			c.logger.Warn("cache: stamp refresh", "err", err)
		}
		return body, nil
	})
	if err != nil {
		c.logger.Warn("cache: refetch failed", "key", key, "err", err)
		if entry != nil {
			return entry.Body, fmt.Errorf("refetch %s: %w", key, err)
		}
		return nil, fmt.Errorf("fetch %s: %w", key, err)
	}
	c.logger.Debug("cache: refetched", "key", key, "shared", shared)
	return v.([]byte), nil
}

// Stale reports whether the next Get for key will hit the server.
func (c *QueryCache) Stale(key Key) bool {
	entry, err := c.store.GetQuery(string(key))
	return err != nil || entry.Stale
}

// LastRefresh is when any collection was last fetched from the server.
func (c *QueryCache) LastRefresh() time.Time {
	at, err := c.store.LastRefresh()
	if err != nil {
		c.logger.Warn("cache: read last refresh", "err", err)
	}
	return at
}

// Entries lists everything cached, stale or not.
func (c *QueryCache) Entries() ([]db.QueryEntry, error) {
	return c.store.ListQueries()
}

// RefreshStale refetches every cached collection marked stale.
func (c *QueryCache) RefreshStale(ctx context.Context) error {
	entries, err := c.store.ListQueries()
	if err != nil {
		return err
	}
	var errs []error
	for _, e := range entries {
		if !e.Stale {
			continue
		}
		if _, err := c.Get(ctx, Key(e.Key)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *QueryCache) Invalidate(keys ...Key) error {
	if len(keys) == 0 {
		return nil
	}
	raw := make([]string, len(keys))
	for i, k := range keys {
		raw[i] = string(k)
	}
	if _, err := c.store.MarkStale(c.clock.Now(), raw...); err != nil {
		return fmt.Errorf("invalidate: %w", err)
	}
	c.notify(keys)
	return nil
}

func (c *QueryCache) InvalidateAll() error {
	if _, err := c.store.MarkAllStale(c.clock.Now()); err != nil {
		return fmt.Errorf("invalidate all: %w", err)
	}
	c.notify(AllKeys())
	return nil
}

// OnInvalidate registers l and returns a function that removes it.
func (c *QueryCache) OnInvalidate(l Listener) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = l
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *QueryCache) notify(keys []Key) {
	c.mu.Lock()
	ls := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		ls = append(ls, l)
	}
	c.mu.Unlock()
	for _, l := range ls {
		l(keys)
	}
}
