// Package collector periodically fetches collaboration descriptives and
// feeds the snapshot store.
package collector

import (
	"context"
	"sync"
	"time"

	"github.com/strongaya/federated-data-portal/internal/store"
	pkglog "github.com/strongaya/federated-data-portal/pkg/log"
)

// Collector drives the refresh loop.
type Collector struct {
	source   Source
	store    *store.Store
	interval time.Duration
	metrics  *Metrics

	refreshCh chan chan error

	mu          sync.Mutex
	subscribers map[int]chan store.Snapshot
	nextSubID   int
}

// New constructs a collector. metrics may be nil.
func New(source Source, st *store.Store, interval time.Duration, metrics *Metrics) *Collector {
	return &Collector{
		source:      source,
		store:       st,
		interval:    interval,
		metrics:     metrics,
		refreshCh:   make(chan chan error, 1),
		subscribers: make(map[int]chan store.Snapshot),
	}
}

// Run fetches once immediately, then on every tick or manual trigger, until
// the context is cancelled.
func (c *Collector) Run(ctx context.Context) error {
	logger := pkglog.Named("collector")

	if err := c.fetchOnce(ctx); err != nil {
		logger.Errorw("initial fetch failed", "error", err)
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.fetchOnce(ctx); err != nil {
				logger.Errorw("scheduled fetch failed", "error", err)
			}
		case done := <-c.refreshCh:
			err := c.fetchOnce(ctx)
			if err != nil {
				logger.Errorw("manual fetch failed", "error", err)
			}
			if done != nil {
				done <- err
			}
		}
	}
}

// Refresh requests an asynchronous fetch. It never blocks; when a refresh is
// already queued the request coalesces into it.
func (c *Collector) Refresh() {
	select {
	case c.refreshCh <- nil:
	default:
	}
}

// RefreshNow fetches synchronously, outside the run loop. Used by the
// one-shot CLI path.
func (c *Collector) RefreshNow(ctx context.Context) error {
	return c.fetchOnce(ctx)
}

func (c *Collector) fetchOnce(ctx context.Context) error {
	start := time.Now()
	descriptives, err := c.source.Fetch(ctx)
	elapsed := time.Since(start)

	if err != nil {
		c.metrics.observeFetch(elapsed, err, c.store.Len())
		return err
	}

	snap := store.Snapshot{
		Timestamp:     time.Now().UTC(),
		Organisations: descriptives,
	}
	c.store.Add(snap)
	c.metrics.observeFetch(elapsed, nil, c.store.Len())

	pkglog.Named("collector").Infow("descriptives refreshed",
		"organisations", len(descriptives),
		"durationMs", float64(elapsed.Microseconds())/1000.0,
	)

	c.broadcast(snap)
	return nil
}

// Subscribe registers for snapshot updates. The returned cancel function
// must be called to release the subscription. Slow subscribers miss updates
// rather than block the refresh loop.
func (c *Collector) Subscribe() (<-chan store.Snapshot, func()) {
	ch := make(chan store.Snapshot, 1)

	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = ch
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		if _, ok := c.subscribers[id]; ok {
			delete(c.subscribers, id)
			close(ch)
		}
		c.mu.Unlock()
	}
	return ch, cancel
}

func (c *Collector) broadcast(snap store.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ch := range c.subscribers {
		select {
		case ch <- snap:
		default:
		}
	}
}
