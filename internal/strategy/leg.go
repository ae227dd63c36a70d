package strategy

import (
	"fmt"

	"github.com/eddiefleurent/strategy_matcher/internal/models"
	"github.com/eddiefleurent/strategy_matcher/internal/util"
)

// ConstraintKind enumerates the relative strike/expiry relations a leg may require.
type ConstraintKind string

const (
	// StrikeAbove requires this leg's strike to be strictly above the referenced leg's
	StrikeAbove ConstraintKind = "strike_above"
	// StrikeBelow requires this leg's strike to be strictly below the referenced leg's
	StrikeBelow ConstraintKind = "strike_below"
	// StrikeEqual requires the same strike as the referenced leg
	StrikeEqual ConstraintKind = "strike_equal"
	// ExpiryEqual requires the same expiration as the referenced leg
	ExpiryEqual ConstraintKind = "expiry_equal"
	// ExpiryAfter requires a strictly later expiration than the referenced leg
	ExpiryAfter ConstraintKind = "expiry_after"
	// StrikeEquidistant requires strike - Leg.strike == Leg.strike - Other.strike
	StrikeEquidistant ConstraintKind = "strike_equidistant"
)

// Valid returns true if the ConstraintKind is one of the defined constants
func (k ConstraintKind) Valid() bool {
	switch k {
	case StrikeAbove, StrikeBelow, StrikeEqual, ExpiryEqual, ExpiryAfter, StrikeEquidistant:
		return true
	default:
		return false
	}
}

// Constraint relates a leg to legs declared before it in the same template.
type Constraint struct {
	Kind  ConstraintKind `yaml:"kind" json:"kind"`
	Leg   string         `yaml:"leg" json:"leg"`
	Other string         `yaml:"other,omitempty" json:"other,omitempty"`
}

// References returns the leg names the constraint depends on.
func (c Constraint) References() []string {
	if c.Kind == StrikeEquidistant {
		return []string{c.Leg, c.Other}
	}
	return []string{c.Leg}
}

// Satisfied reports whether candidate satisfies the constraint given the
// positions already bound to other legs. A missing reference never satisfies.
func (c Constraint) Satisfied(candidate models.Position, bound func(leg string) (models.Position, bool)) bool {
	ref, ok := bound(c.Leg)
	if !ok {
		return false
	}

	switch c.Kind {
	case StrikeAbove:
		return util.CompareStrikes(candidate.Strike, ref.Strike) > 0
	case StrikeBelow:
		return util.CompareStrikes(candidate.Strike, ref.Strike) < 0
	case StrikeEqual:
		return util.CompareStrikes(candidate.Strike, ref.Strike) == 0
	case ExpiryEqual:
		return candidate.Expiration.Equal(ref.Expiration)
	case ExpiryAfter:
		return candidate.Expiration.After(ref.Expiration)
	case StrikeEquidistant:
		other, ok := bound(c.Other)
		if !ok {
			return false
		}
		upper := util.StrikeThousandths(candidate.Strike) - util.StrikeThousandths(ref.Strike)
		lower := util.StrikeThousandths(ref.Strike) - util.StrikeThousandths(other.Strike)
		return upper == lower
	default:
		return false
	}
}

func (c Constraint) String() string {
	if c.Kind == StrikeEquidistant {
		return fmt.Sprintf("%s(%s,%s)", c.Kind, c.Leg, c.Other)
	}
	return fmt.Sprintf("%s(%s)", c.Kind, c.Leg)
}

// LegSpec describes one leg of a strategy template.
//
// Ratio is the per-unit quantity: contracts for option legs, contract
// equivalents for equity legs (shares = Ratio x the template's unit multiplier).
type LegSpec struct {
	Name        string                `yaml:"name" json:"name"`
	Kind        models.InstrumentKind `yaml:"kind" json:"kind"`
	Right       models.OptionRight    `yaml:"right,omitempty" json:"right,omitempty"`
	Side        models.Side           `yaml:"side" json:"side"`
	Ratio       int64                 `yaml:"ratio" json:"ratio"`
	Constraints []Constraint          `yaml:"constraints,omitempty" json:"constraints,omitempty"`
}

// PerUnit returns the unsigned quantity one template unit consumes from this leg.
func (l LegSpec) PerUnit(unitMultiplier int64) int64 {
	if l.Kind == models.KindEquity {
		return l.Ratio * unitMultiplier
	}
	return l.Ratio
}

// Accepts reports whether the position's kind, right and direction fit the leg.
// Relative constraints are checked separately with Satisfied.
func (l LegSpec) Accepts(p models.Position, remaining int64) bool {
	if p.Kind != l.Kind {
		return false
	}
	if l.Kind == models.KindOption && p.Right != l.Right {
		return false
	}
	if remaining == 0 {
		return false
	}
	return (remaining > 0) == (l.Side == models.SideLong)
}

// Satisfied reports whether p meets every relative constraint of the leg.
func (l LegSpec) Satisfied(p models.Position, bound func(leg string) (models.Position, bool)) bool {
	for _, c := range l.Constraints {
		if !c.Satisfied(p, bound) {
			return false
		}
	}
	return true
}

func (l LegSpec) clone() LegSpec {
	out := l
	if l.Constraints != nil {
		out.Constraints = make([]Constraint, len(l.Constraints))
		copy(out.Constraints, l.Constraints)
	}
	return out
}
