// Package market implements the in-memory consolidation of listing
// observations: validation, dedup merge across runs, and the basic filters
// applied before alert evaluation.
package market

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Sagarzx/Car-Market-Alert/internal/models"
)

// ErrInvalidRecord marks a listing that lacks an identity key or a usable
// price. Such records are dropped before they reach the store.
var ErrInvalidRecord = errors.New("invalid listing record")

// Validate checks that the listing can enter the store. Every rejection
// wraps ErrInvalidRecord so callers can match with errors.Is.
func Validate(l models.Listing) error {
	if err := l.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return nil
}

// Normalize stamps listings that arrived without an observation timestamp
// with now and splits the batch into usable records and a rejected count.
func Normalize(batch []models.Listing, now time.Time) (valid []models.Listing, rejected int) {
	valid = make([]models.Listing, 0, len(batch))
	for _, l := range batch {
		if l.ObservedAt.IsZero() {
			l.ObservedAt = now
		}
		if err := Validate(l); err != nil {
			rejected++
			continue
		}
		valid = append(valid, l)
	}
	return valid, rejected
}

// Merge combines the persisted current set with a freshly fetched batch.
// It returns the new current set (one record per identity key) and the
// price each key had before the batch was applied. The previous-price map
// is the basis for drop detection and must be captured here, before the
// incoming observations overwrite anything.
//
// Dedup keeps the observation with the latest timestamp per key, but fields
// carry forward individually: the merged record adopts the most recent
// non-missing value of each field across the group, so an observation that
// temporarily lost its image does not erase a previously known image.
func Merge(existing, incoming []models.Listing) (current []models.Listing, prev map[models.Key]float64) {
	prev = make(map[models.Key]float64, len(existing))
	for _, l := range existing {
		prev[l.Key()] = l.Price
	}

	groups := make(map[models.Key][]models.Listing, len(existing)+len(incoming))
	order := make([]models.Key, 0, len(existing)+len(incoming))
	appendGroup := func(l models.Listing) {
		k := l.Key()
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], l)
	}
	for _, l := range existing {
		appendGroup(l)
	}
	for _, l := range incoming {
		appendGroup(l)
	}

	current = make([]models.Listing, 0, len(groups))
	for _, k := range order {
		group := groups[k]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].ObservedAt.Before(group[j].ObservedAt)
		})
		current = append(current, collapse(group))
	}
	return current, prev
}

// collapse folds a timestamp-ordered group into one record, newest
// observation winning per field rather than per record.
func collapse(group []models.Listing) models.Listing {
	merged := group[0]
	for _, l := range group[1:] {
		merged.ObservedAt = l.ObservedAt
		merged.Price = l.Price
		if l.ExternalID != "" {
			merged.ExternalID = l.ExternalID
		}
		if l.URL != "" {
			merged.URL = l.URL
		}
		if l.Title != "" {
			merged.Title = l.Title
		}
		if l.Make != "" {
			merged.Make = l.Make
		}
		if l.Model != "" {
			merged.Model = l.Model
		}
		if l.Year != 0 {
			merged.Year = l.Year
		}
		if l.Km != 0 {
			merged.Km = l.Km
		}
		if l.Region != "" {
			merged.Region = l.Region
		}
		if l.Fuel != "" {
			merged.Fuel = l.Fuel
		}
		if l.Transmission != "" {
			merged.Transmission = l.Transmission
		}
		if l.ImageURL != "" {
			merged.ImageURL = l.ImageURL
		}
	}
	return merged
}

// Limits are the basic price/km bounds applied to a batch before alert
// evaluation. The store itself keeps every valid record regardless.
type Limits struct {
	MinPrice float64
	MaxPrice float64
	MaxKm    float64
}

// Filter returns the listings within the configured bounds. A listing with
// unknown km passes the km bound, matching the original behavior.
func Filter(batch []models.Listing, lim Limits) []models.Listing {
	out := make([]models.Listing, 0, len(batch))
	for _, l := range batch {
		if l.Price < lim.MinPrice || l.Price > lim.MaxPrice {
			continue
		}
		if lim.MaxKm > 0 && l.Km > lim.MaxKm {
			continue
		}
		out = append(out, l)
	}
	return out
}
