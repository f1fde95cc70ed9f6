// Package scrape fetches listing batches from marketplace APIs. Each
// marketplace is an Adapter; the orchestrator assembles the enabled ones
// into a static list and collects their batches concurrently, isolating
// per-source failures.
package scrape

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Sagarzx/Car-Market-Alert/internal/logger"
	"github.com/Sagarzx/Car-Market-Alert/internal/models"
)

// Adapter fetches one marketplace's current listings.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context) ([]models.Listing, error)
}

// Result is one source's outcome within a collection pass.
type Result struct {
	Source   string
	Listings []models.Listing
	Err      error
}

// Collect runs all adapters concurrently and gathers their batches. A failed
// adapter contributes nothing but never aborts the others; its error is
// logged and reported in the results. Collect returns once every adapter has
// finished, so the merge that follows sees a complete batch.
func Collect(ctx context.Context, adapters []Adapter) (batch []models.Listing, results []Result) {
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)

	for _, a := range adapters {
		a := a
		g.Go(func() error {
			start := time.Now()
			listings, err := a.Fetch(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Error("source %s failed after %v: %v", a.Name(), time.Since(start), err)
				results = append(results, Result{Source: a.Name(), Err: err})
				return nil
			}
			logger.Info("source %s returned %d listings in %v", a.Name(), len(listings), time.Since(start))
			batch = append(batch, listings...)
			results = append(results, Result{Source: a.Name(), Listings: listings})
			return nil
		})
	}
	_ = g.Wait() // adapters never propagate errors
	return batch, results
}

// throttle spaces successive requests of one adapter at the configured rate.
// The limit is per adapter, not shared across sources.
type throttle struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

func newThrottle(ratePerSec float64) *throttle {
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	return &throttle{interval: time.Duration(float64(time.Second) / ratePerSec)}
}

// wait blocks until the next request slot, or until ctx is done.
func (t *throttle) wait(ctx context.Context) error {
	t.mu.Lock()
	now := time.Now()
	sleep := t.last.Add(t.interval).Sub(now)
	if sleep < 0 {
		sleep = 0
	}
	t.last = now.Add(sleep)
	t.mu.Unlock()
	if sleep == 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(sleep):
		return nil
	}
}
