// Package matcher recognizes option strategies embedded in a position inventory.
package matcher

import (
	"github.com/eddiefleurent/strategy_matcher/internal/models"
	"github.com/eddiefleurent/strategy_matcher/internal/strategy"
)

// LegMatch is one leg bound to a candidate position during a template attempt.
type LegMatch struct {
	Leg     string
	Index   int   // position index in the underlying's inventory order
	PerUnit int64 // unsigned quantity one template unit consumes
}

// Attempt holds the legs bound so far while instantiating one template.
type Attempt struct {
	Template string
	// Unit is the contract multiplier shared by the attempt's option legs, 0 until one binds.
	Unit  int64
	Bound []LegMatch
}

// NewAttempt starts an empty attempt for the named template.
func NewAttempt(template string) *Attempt {
	return &Attempt{Template: template, Bound: make([]LegMatch, 0, strategy.MaxLegs)}
}

// Add records a bound leg.
func (a *Attempt) Add(m LegMatch, candidates []models.Position) {
	if a.Unit == 0 && candidates[m.Index].Kind == models.KindOption {
		a.Unit = candidates[m.Index].Multiplier
	}
	a.Bound = append(a.Bound, m)
}

func (a *Attempt) uses(index int) bool {
	for _, b := range a.Bound {
		if b.Index == index {
			return true
		}
	}
	return false
}

func (a *Attempt) lookup(candidates []models.Position) func(string) (models.Position, bool) {
	return func(leg string) (models.Position, bool) {
		for _, b := range a.Bound {
			if b.Leg == leg {
				return candidates[b.Index], true
			}
		}
		return models.Position{}, false
	}
}

// MatchLeg finds the first candidate at or after from, in inventory order,
// that can fill spec given the legs already bound in attempt.
//
// A candidate qualifies when its kind, right and direction fit the leg, it is
// not already bound in this attempt, its multiplier agrees with the attempt's
// unit, it satisfies every relative constraint, and its remaining quantity
// covers at least one unit. Returning false is the normal no-match signal.
func MatchLeg(spec strategy.LegSpec, candidates []models.Position, remaining []int64, attempt *Attempt, from int) (LegMatch, bool) {
	bound := attempt.lookup(candidates)
	for i := from; i < len(candidates); i++ {
		p := candidates[i]
		if attempt.uses(i) || !spec.Accepts(p, remaining[i]) {
			continue
		}

		unit := attempt.Unit
		if spec.Kind == models.KindOption {
			if unit != 0 && p.Multiplier != unit {
				continue
			}
			unit = p.Multiplier
		}
		if unit <= 0 {
			continue
		}

		perUnit := spec.PerUnit(unit)
		if abs(remaining[i]) < perUnit {
			continue
		}
		if !spec.Satisfied(p, bound) {
			continue
		}
		return LegMatch{Leg: spec.Name, Index: i, PerUnit: perUnit}, true
	}
	return LegMatch{}, false
}

// abs relies on inventory quantities being bounded by models.MaxQuantity,
// so n is never math.MinInt64.
func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
