package alert

import (
	"sort"

	"github.com/Sagarzx/Car-Market-Alert/internal/logger"
	"github.com/Sagarzx/Car-Market-Alert/internal/models"
)

const priorityBoost = 1.15

// Referencer resolves a market reference for one listing against the current
// snapshot. A nil result means no reference is assertable.
type Referencer interface {
	For(snapshot []models.Listing, target models.Listing) *models.Reference
}

// Config holds the alert rule thresholds.
type Config struct {
	Margin           float64 // e.g. 0.15: alert at 15% under reference
	DropThresholdPct float64
	DropThresholdAbs float64
	PriorityRegions  []string
	NotifyNew        bool
}

// Engine evaluates the pricing rules for a cycle.
type Engine struct {
	cfg      Config
	refs     Referencer
	tracker  *Tracker
	priority map[string]bool
}

// NewEngine creates an Engine. The tracker carries the anti-spam state and
// is mutated as alerts fire.
func NewEngine(cfg Config, refs Referencer, tracker *Tracker) *Engine {
	priority := make(map[string]bool, len(cfg.PriorityRegions))
	for _, r := range cfg.PriorityRegions {
		priority[r] = true
	}
	return &Engine{cfg: cfg, refs: refs, tracker: tracker, priority: priority}
}

// Evaluate applies the margin and drop rules to each listing of the batch
// against the merged snapshot and the pre-merge prices. The rules are
// independent: one listing may yield both a margin and a drop candidate in
// the same cycle. Listings with no resolvable reference skip the margin rule
// only. Candidates come back ranked.
func (e *Engine) Evaluate(batch, snapshot []models.Listing, prev map[models.Key]float64) []models.Candidate {
	var out []models.Candidate
	for _, l := range batch {
		key := l.Key()
		prevPrice, seen := prev[key]

		// Any observed price change re-arms both alert kinds; an unchanged
		// price keeps the recorded alert prices suppressing repeats.
		if seen && prevPrice != l.Price {
			e.tracker.ReArm(key)
		}

		if ref := e.refs.For(snapshot, l); ref != nil {
			deltaPct := l.Price/ref.Value - 1
			if deltaPct <= -e.cfg.Margin && e.tracker.ShouldAlert(models.KindMargin, key, l.Price) {
				out = append(out, models.Candidate{
					Kind:     models.KindMargin,
					Listing:  l,
					Baseline: ref.Value,
					DeltaPct: deltaPct,
					DeltaAbs: ref.Value - l.Price,
					Score:    e.boost(l.Region, -deltaPct),
				})
				e.tracker.Record(models.KindMargin, key, l.Price)
				logger.Debug("margin alert %s: price=%.0f ref=%.0f (%s, n=%d) delta=%.1f%%",
					key, l.Price, ref.Value, ref.Tier, ref.SampleSize, deltaPct*100)
			}
		}

		if seen && l.Price < prevPrice {
			dropAbs := prevPrice - l.Price
			dropPct := dropAbs / prevPrice
			fires := dropPct >= e.cfg.DropThresholdPct || dropAbs >= e.cfg.DropThresholdAbs
			if fires && e.tracker.ShouldAlert(models.KindDrop, key, l.Price) {
				out = append(out, models.Candidate{
					Kind:     models.KindDrop,
					Listing:  l,
					Baseline: prevPrice,
					DeltaPct: dropPct,
					DeltaAbs: dropAbs,
					Score:    e.boost(l.Region, dropPct),
				})
				e.tracker.Record(models.KindDrop, key, l.Price)
				logger.Debug("drop alert %s: %.0f -> %.0f (-%.1f%%)", key, prevPrice, l.Price, dropPct*100)
			}
		}

		if !seen && e.cfg.NotifyNew {
			out = append(out, models.Candidate{Kind: models.KindNew, Listing: l})
		}
	}

	Rank(out)
	return out
}

func (e *Engine) boost(region string, score float64) float64 {
	if e.priority[region] {
		return score * priorityBoost
	}
	return score
}

// Rank orders candidates by descending score, identity key breaking ties so
// the notification order is deterministic. Ranking only orders, never drops.
func Rank(candidates []models.Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Listing.Key().String() < candidates[j].Listing.Key().String()
	})
}
