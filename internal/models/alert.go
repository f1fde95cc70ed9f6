package models

import "time"

// Tier identifies which grouping level produced a market reference.
type Tier int

const (
	TierNarrow Tier = iota
	TierBroad
	TierNeighbor
)

func (t Tier) String() string {
	switch t {
	case TierNarrow:
		return "narrow"
	case TierBroad:
		return "broad"
	case TierNeighbor:
		return "neighbor"
	default:
		return "unknown"
	}
}

// Reference is a representative market price derived from comparable current
// listings. It is valid only for the cycle that computed it and is never
// persisted.
type Reference struct {
	Value      float64
	SampleSize int
	Tier       Tier
}

// Kind discriminates the alert rules.
type Kind string

const (
	KindMargin Kind = "margin" // priced well below the market reference
	KindDrop   Kind = "drop"   // price fell versus its own prior observation
	KindNew    Kind = "new"    // first observation of this ad
)

// State is the persisted per-ad anti-spam memory: the last price each alert
// kind fired at. Zero means that kind has never fired for the ad.
type State struct {
	LastMarginPrice float64
	LastDropPrice   float64
	UpdatedAt       time.Time
}

// Candidate is one alert produced within a cycle, before ranking.
// Baseline holds the reference value for margin alerts and the previous
// observed price for drop alerts; it is zero for new-listing alerts.
type Candidate struct {
	Kind     Kind
	Listing  Listing
	Baseline float64
	DeltaPct float64 // signed: negative for margin, positive for drop
	DeltaAbs float64
	Score    float64
}
