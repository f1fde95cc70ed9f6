// Package alert applies the margin and drop pricing rules to a cycle's new
// listings, tracks per-ad anti-spam state, and ranks the resulting
// candidates for notification.
package alert

import (
	"time"

	"github.com/Sagarzx/Car-Market-Alert/internal/models"
)

// Tracker remembers the last price each alert kind fired at per ad. The
// memory is price-keyed, not time-keyed: an unchanged price never re-alerts,
// while any price change re-arms eligibility. The tracker is the only writer
// of this state; Record must be called exactly once per fired alert, in the
// same cycle that fired it.
type Tracker struct {
	states map[models.Key]*models.State
}

// NewTracker creates a Tracker seeded with persisted state. A nil map starts
// empty.
func NewTracker(states map[models.Key]*models.State) *Tracker {
	if states == nil {
		states = make(map[models.Key]*models.State)
	}
	return &Tracker{states: states}
}

// ShouldAlert reports whether an alert of the given kind may fire for the ad
// at the candidate price: true when that kind never fired, or when the last
// fired price differs from the candidate price.
func (t *Tracker) ShouldAlert(kind models.Kind, key models.Key, price float64) bool {
	st, ok := t.states[key]
	if !ok {
		return true
	}
	switch kind {
	case models.KindMargin:
		return st.LastMarginPrice == 0 || st.LastMarginPrice != price
	case models.KindDrop:
		return st.LastDropPrice == 0 || st.LastDropPrice != price
	default:
		return true
	}
}

// ReArm clears the ad's recorded alert prices. The engine calls it whenever
// it observes the ad's price change, so a price that rises and later falls
// back to a previously alerted value is eligible again.
func (t *Tracker) ReArm(key models.Key) {
	if st, ok := t.states[key]; ok {
		st.LastMarginPrice = 0
		st.LastDropPrice = 0
		st.UpdatedAt = time.Now()
	}
}

// Record stores the fired price for the kind.
func (t *Tracker) Record(kind models.Kind, key models.Key, price float64) {
	st, ok := t.states[key]
	if !ok {
		st = &models.State{}
		t.states[key] = st
	}
	switch kind {
	case models.KindMargin:
		st.LastMarginPrice = price
	case models.KindDrop:
		st.LastDropPrice = price
	}
	st.UpdatedAt = time.Now()
}

// States exposes the tracked state for end-of-cycle persistence.
func (t *Tracker) States() map[models.Key]*models.State {
	return t.states
}
