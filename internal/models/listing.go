// Package models defines the core domain entities: listings, references, and alerts.
package models

import (
	"errors"
	"fmt"
	"time"
)

// Listing represents one observation of one classified ad at one point in time.
// Optional numeric fields use zero as "unknown"; marketplaces never list a car
// at price 0, year 0, or 0 km first registration.
type Listing struct {
	Source       string    `json:"source"`
	ExternalID   string    `json:"external_id,omitempty"`
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	Make         string    `json:"make,omitempty"`
	Model        string    `json:"model,omitempty"`
	Year         int       `json:"year,omitempty"`
	Price        float64   `json:"price"`
	Km           float64   `json:"km,omitempty"`
	Region       string    `json:"region,omitempty"`
	Fuel         string    `json:"fuel,omitempty"`
	Transmission string    `json:"transmission,omitempty"`
	ImageURL     string    `json:"image_url,omitempty"`
	ObservedAt   time.Time `json:"observed_at"`
}

// Key identifies one ad across repeated observations.
type Key struct {
	Source string
	Ref    string // marketplace ad id, or URL when the id is absent
}

func (k Key) String() string {
	return k.Source + ":" + k.Ref
}

// Key returns the listing's identity key. The marketplace's own ad id is
// preferred; the URL is the fallback identity when the id is absent.
func (l *Listing) Key() Key {
	ref := l.ExternalID
	if ref == "" {
		ref = l.URL
	}
	return Key{Source: l.Source, Ref: ref}
}

// Validate checks that the listing is usable by the engine. A listing without
// a price or without an identity key must never enter the store.
func (l *Listing) Validate() error {
	if l.Source == "" {
		return errors.New("listing source must not be empty")
	}
	if l.ExternalID == "" && l.URL == "" {
		return errors.New("listing must have an external ID or a URL")
	}
	if l.Price <= 0 {
		return fmt.Errorf("listing %s has no usable price", l.Key())
	}
	if l.ObservedAt.IsZero() {
		return fmt.Errorf("listing %s has no observation timestamp", l.Key())
	}
	return nil
}
