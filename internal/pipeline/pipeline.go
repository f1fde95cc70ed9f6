// Package pipeline composes one consolidation-and-alert cycle: fetch,
// normalize, merge, persist, evaluate, rank, notify, checkpoint state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sagarzx/Car-Market-Alert/internal/alert"
	"github.com/Sagarzx/Car-Market-Alert/internal/logger"
	"github.com/Sagarzx/Car-Market-Alert/internal/market"
	"github.com/Sagarzx/Car-Market-Alert/internal/models"
	"github.com/Sagarzx/Car-Market-Alert/internal/scrape"
)

// ErrNoSources reports a cycle in which no marketplace was reachable. The
// store is persisted unchanged and no alerts fire; a scheduler can tell this
// apart from "ran, nothing new" by exit status.
var ErrNoSources = errors.New("no source reachable")

// Store is the persistence surface the cycle needs.
type Store interface {
	LoadListings() ([]models.Listing, error)
	ReplaceListings([]models.Listing) error
	LoadStates() (map[models.Key]*models.State, error)
	SaveStates(map[models.Key]*models.State) error
	RecordAlert(models.Candidate, time.Time) error
}

// Notifier is the outbound alert sink.
type Notifier interface {
	Notify(models.Candidate) error
}

// Config holds the cycle parameters.
type Config struct {
	Alert  alert.Config
	Limits market.Limits
}

// Runner owns the collaborators of a cycle. The notifier may be nil, in
// which case alerts are evaluated and recorded but not delivered.
type Runner struct {
	cfg      Config
	store    Store
	refs     alert.Referencer
	adapters []scrape.Adapter
	notifier Notifier
	now      func() time.Time
}

// New creates a Runner.
func New(cfg Config, store Store, refs alert.Referencer, adapters []scrape.Adapter, notifier Notifier) *Runner {
	return &Runner{
		cfg:      cfg,
		store:    store,
		refs:     refs,
		adapters: adapters,
		notifier: notifier,
		now:      time.Now,
	}
}

// Summary reports what one cycle did.
type Summary struct {
	SourcesReached int
	SourcesFailed  int
	Fetched        int
	Rejected       int
	Current        int
	Candidates     int
	Notified       int
}

// Run executes one full cycle. A store failure aborts before any alerting so
// a retried cycle never re-alerts on state it failed to commit; individual
// source or notification failures are isolated and logged.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	var sum Summary

	existing, err := r.store.LoadListings()
	if err != nil {
		return sum, fmt.Errorf("load snapshot: %w", err)
	}
	states, err := r.store.LoadStates()
	if err != nil {
		return sum, fmt.Errorf("load alert state: %w", err)
	}
	logger.Info("loaded snapshot: %d current listings, %d tracked alert states", len(existing), len(states))

	batch, results := scrape.Collect(ctx, r.adapters)
	for _, res := range results {
		if res.Err != nil {
			sum.SourcesFailed++
		} else {
			sum.SourcesReached++
		}
	}
	sum.Fetched = len(batch)

	if sum.SourcesReached == 0 && len(r.adapters) > 0 {
		// Keep the snapshot committed as-is so the next run starts clean.
		if err := r.store.ReplaceListings(existing); err != nil {
			return sum, fmt.Errorf("persist unchanged snapshot: %w", err)
		}
		return sum, ErrNoSources
	}

	now := r.now()
	valid, rejected := market.Normalize(batch, now)
	sum.Rejected = rejected
	if rejected > 0 {
		logger.Warn("dropped %d invalid records (missing identity or price)", rejected)
	}

	current, prev := market.Merge(existing, valid)
	sum.Current = len(current)

	if err := r.store.ReplaceListings(current); err != nil {
		// Alerts must never fire on an un-persisted snapshot.
		return sum, fmt.Errorf("persist snapshot: %w", err)
	}

	tracker := alert.NewTracker(states)
	engine := alert.NewEngine(r.cfg.Alert, r.refs, tracker)
	candidates := engine.Evaluate(r.evaluationBatch(current, valid), current, prev)
	sum.Candidates = len(candidates)

	for _, c := range candidates {
		if err := r.store.RecordAlert(c, now); err != nil {
			logger.Warn("failed to record alert %s for %s: %v", c.Kind, c.Listing.Key(), err)
		}
		if r.notifier == nil {
			continue
		}
		if err := r.notifier.Notify(c); err != nil {
			logger.Error("failed to notify %s alert for %s: %v", c.Kind, c.Listing.Key(), err)
			continue
		}
		sum.Notified++
	}

	if err := r.store.SaveStates(tracker.States()); err != nil {
		return sum, fmt.Errorf("persist alert state: %w", err)
	}
	return sum, nil
}

// evaluationBatch selects the merged current records whose key appeared in
// this cycle's incoming batch, bounded by the configured price/km limits.
// Evaluating the merged record rather than the raw observation lets
// carried-forward fields (image, region) inform the alert.
func (r *Runner) evaluationBatch(current, incoming []models.Listing) []models.Listing {
	seen := make(map[models.Key]bool, len(incoming))
	for _, l := range incoming {
		seen[l.Key()] = true
	}
	batch := make([]models.Listing, 0, len(incoming))
	for _, l := range current {
		if seen[l.Key()] {
			batch = append(batch, l)
		}
	}
	return market.Filter(batch, r.cfg.Limits)
}
