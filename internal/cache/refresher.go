package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Refresher refetches stale collections in the background so views that
// never re-render still pick up server changes.
type Refresher struct {
	cache    *QueryCache
	keys     []Key
	interval time.Duration
	clock    clockwork.Clock
	stop     chan struct{}
	done     sync.WaitGroup
	logger   *slog.Logger
}

func NewRefresher(c *QueryCache, interval time.Duration, logger *slog.Logger, keys ...Key) *Refresher {
	return &Refresher{
		cache:    c,
		keys:     keys,
		interval: interval,
		clock:    c.clock,
		stop:     make(chan struct{}),
		logger:   logger,
	}
}

func (r *Refresher) Start() {
	r.done.Add(1)
	go func() {
		defer r.done.Done()
		r.refresh()
		ticker := r.clock.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				r.refresh()
			case <-r.stop:
				return
			}
		}
	}()
}

func (r *Refresher) Stop() {
	close(r.stop)
	r.done.Wait()
}

func (r *Refresher) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), r.interval)
	defer cancel()
	for _, k := range r.keys {
		if !r.cache.Stale(k) {
			continue
		}
		if _, err := r.cache.Get(ctx, k); err != nil {
			r.logger.Debug("cache refresh failed", "key", k, "err", err)
		}
	}
}
