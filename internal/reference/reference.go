// Package reference computes rolling market reference prices over the
// current store snapshot, widening the comparable group in tiers until the
// sample is statistically adequate.
package reference

import (
	"math"
	"sort"
	"time"

	"github.com/Sagarzx/Car-Market-Alert/internal/models"
)

const neighborCount = 20

// Config holds the reference computation parameters.
type Config struct {
	Window    time.Duration // rolling observation window
	MinSample int           // minimum group size before falling back a tier
}

// Calculator derives reference prices. It owns no state: the result is a
// pure function of the snapshot, the window, and the target listing.
type Calculator struct {
	cfg Config
	now func() time.Time
}

// New creates a Calculator. A zero MinSample falls back to 12.
func New(cfg Config) *Calculator {
	if cfg.MinSample <= 0 {
		cfg.MinSample = 12
	}
	return &Calculator{cfg: cfg, now: time.Now}
}

// NewAt creates a Calculator with a fixed clock, for reproducible runs.
func NewAt(cfg Config, now func() time.Time) *Calculator {
	c := New(cfg)
	c.now = now
	return c
}

// For computes the market reference for the target listing, or nil when no
// tier yields an adequate sample. The caller must then skip margin
// evaluation for that listing.
func (c *Calculator) For(snapshot []models.Listing, target models.Listing) *models.Reference {
	now := c.now()
	cutoff := now.Add(-c.cfg.Window)
	sample := make([]models.Listing, 0, len(snapshot))
	for _, l := range snapshot {
		if l.Source != target.Source || l.Price <= 0 {
			continue
		}
		// The window is closed on both ends; a marketplace timestamp ahead
		// of our clock never counts as current.
		if l.ObservedAt.Before(cutoff) || l.ObservedAt.After(now) {
			continue
		}
		sample = append(sample, l)
	}

	if group := narrow(sample, target); len(group) >= c.cfg.MinSample {
		return &models.Reference{Value: medianPrice(group), SampleSize: len(group), Tier: models.TierNarrow}
	}
	if group := broad(sample, target); len(group) >= c.cfg.MinSample {
		return &models.Reference{Value: medianPrice(group), SampleSize: len(group), Tier: models.TierBroad}
	}
	if group := neighbors(sample, target, c.cfg.MinSample); len(group) > 0 {
		return &models.Reference{Value: medianPrice(group), SampleSize: len(group), Tier: models.TierNeighbor}
	}
	return nil
}

// narrow matches on make, model, fuel, transmission, and region, each
// constrained only when the target itself carries the attribute.
func narrow(sample []models.Listing, target models.Listing) []models.Listing {
	var group []models.Listing
	for _, l := range sample {
		if target.Make != "" && l.Make != target.Make {
			continue
		}
		if target.Model != "" && l.Model != target.Model {
			continue
		}
		if target.Fuel != "" && l.Fuel != target.Fuel {
			continue
		}
		if target.Transmission != "" && l.Transmission != target.Transmission {
			continue
		}
		if target.Region != "" && l.Region != target.Region {
			continue
		}
		group = append(group, l)
	}
	return group
}

func broad(sample []models.Listing, target models.Listing) []models.Listing {
	var group []models.Listing
	for _, l := range sample {
		if target.Make != "" && l.Make != target.Make {
			continue
		}
		if target.Model != "" && l.Model != target.Model {
			continue
		}
		group = append(group, l)
	}
	return group
}

// neighbors falls back to the closest comparable cars by age and mileage
// when no categorical group is thick enough. When the target's own year or
// km is unknown, the sample's median stands in so the distance stays total.
func neighbors(sample []models.Listing, target models.Listing, minSample int) []models.Listing {
	var pool []models.Listing
	for _, l := range sample {
		if l.Year != 0 && l.Km != 0 {
			pool = append(pool, l)
		}
	}
	if len(pool) < minSample {
		return nil
	}

	refYear := float64(target.Year)
	if target.Year == 0 {
		years := make([]float64, len(pool))
		for i, l := range pool {
			years[i] = float64(l.Year)
		}
		refYear = median(years)
	}
	refKm := target.Km
	if target.Km == 0 {
		kms := make([]float64, len(pool))
		for i, l := range pool {
			kms[i] = l.Km
		}
		refKm = median(kms)
	}

	type scored struct {
		listing models.Listing
		dist    float64
	}
	ranked := make([]scored, len(pool))
	for i, l := range pool {
		d := math.Abs(float64(l.Year)-refYear)/10 + math.Abs(l.Km-refKm)/50000
		ranked[i] = scored{listing: l, dist: d}
	}
	// Ties break on identity key so neighbor selection is reproducible for a
	// fixed snapshot.
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].dist != ranked[j].dist {
			return ranked[i].dist < ranked[j].dist
		}
		return ranked[i].listing.Key().String() < ranked[j].listing.Key().String()
	})

	n := neighborCount
	if len(ranked) < n {
		n = len(ranked)
	}
	group := make([]models.Listing, n)
	for i := 0; i < n; i++ {
		group[i] = ranked[i].listing
	}
	return group
}

func medianPrice(group []models.Listing) float64 {
	prices := make([]float64, len(group))
	for i, l := range group {
		prices[i] = l.Price
	}
	return median(prices)
}

// median averages the two middle values for even-sized samples, resisting
// single mispriced ads.
func median(vals []float64) float64 {
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
