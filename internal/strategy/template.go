// Package strategy defines the catalog of option strategy shapes the matcher recognizes.
package strategy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/eddiefleurent/strategy_matcher/internal/models"
)

// MaxLegs is the largest number of legs a template may declare.
const MaxLegs = 4

// ErrInvalidTemplate is returned when a template definition is malformed
var ErrInvalidTemplate = errors.New("invalid strategy template")

// MarginRule tells the margin model which formula applies to a matched template.
type MarginRule string

const (
	// MarginUnderlying charges only the equity leg (covered and protective structures)
	MarginUnderlying MarginRule = "underlying"
	// MarginSpreadWidth charges the widest strike gap (credit spreads, condors, short flies)
	MarginSpreadWidth MarginRule = "spread_width"
	// MarginZero charges nothing beyond the premium paid (debit structures)
	MarginZero MarginRule = "zero"
	// MarginMaxNaked charges the larger naked requirement of the short legs
	MarginMaxNaked MarginRule = "max_naked"
	// MarginNakedShortLeg charges the naked requirement of the short leg
	MarginNakedShortLeg MarginRule = "naked_short_leg"
	// MarginNaked charges a single uncovered short option
	MarginNaked MarginRule = "naked"
)

// Valid returns true if the MarginRule is one of the defined constants
func (r MarginRule) Valid() bool {
	switch r {
	case MarginUnderlying, MarginSpreadWidth, MarginZero, MarginMaxNaked, MarginNakedShortLeg, MarginNaked:
		return true
	default:
		return false
	}
}

// Template is a named, fixed pattern of legs.
//
// Naked templates have a single short option leg and are never matched as
// instances: they label residual legs for the margin model and inspection API.
// Five short calls alone therefore come back as one residual of -5 labelled
// "Naked Call", and Result.Strategies reports it as Naked Call x5. A leftover
// short put next to an iron condor is reported the same way, so a naked
// position reads identically whether or not other strategies were found.
type Template struct {
	Name        string     `yaml:"name" json:"name"`
	Description string     `yaml:"description,omitempty" json:"description,omitempty"`
	Margin      MarginRule `yaml:"margin" json:"margin"`
	Naked       bool       `yaml:"naked,omitempty" json:"naked,omitempty"`
	Legs        []LegSpec  `yaml:"legs" json:"legs"`
}

// Leg returns the leg spec with the given name.
func (t Template) Leg(name string) (LegSpec, bool) {
	for _, l := range t.Legs {
		if l.Name == name {
			return l, true
		}
	}
	return LegSpec{}, false
}

// Clone returns a deep copy so callers cannot mutate catalog state.
func (t Template) Clone() Template {
	out := t
	out.Legs = make([]LegSpec, len(t.Legs))
	for i, l := range t.Legs {
		out.Legs[i] = l.clone()
	}
	return out
}

// Validate checks the template definition.
func (t Template) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidTemplate)
	}
	if len(t.Legs) == 0 || len(t.Legs) > MaxLegs {
		return fmt.Errorf("%w: %s must declare 1..%d legs (current: %d)", ErrInvalidTemplate, t.Name, MaxLegs, len(t.Legs))
	}
	if !t.Margin.Valid() {
		return fmt.Errorf("%w: %s has unknown margin rule %q", ErrInvalidTemplate, t.Name, t.Margin)
	}

	declared := make(map[string]LegSpec, len(t.Legs))
	sawOption := false
	for i, leg := range t.Legs {
		if leg.Name == "" {
			return fmt.Errorf("%w: %s leg %d has no name", ErrInvalidTemplate, t.Name, i)
		}
		if _, dup := declared[leg.Name]; dup {
			return fmt.Errorf("%w: %s declares leg %q twice", ErrInvalidTemplate, t.Name, leg.Name)
		}
		if !leg.Kind.Valid() {
			return fmt.Errorf("%w: %s leg %s has unknown kind %q", ErrInvalidTemplate, t.Name, leg.Name, leg.Kind)
		}
		if !leg.Side.Valid() {
			return fmt.Errorf("%w: %s leg %s has unknown side %q", ErrInvalidTemplate, t.Name, leg.Name, leg.Side)
		}
		if leg.Ratio <= 0 {
			return fmt.Errorf("%w: %s leg %s ratio must be > 0 (current: %d)", ErrInvalidTemplate, t.Name, leg.Name, leg.Ratio)
		}

		switch leg.Kind {
		case models.KindOption:
			if !leg.Right.Valid() {
				return fmt.Errorf("%w: %s option leg %s needs a call or put right", ErrInvalidTemplate, t.Name, leg.Name)
			}
			sawOption = true
		case models.KindEquity:
			if leg.Right != models.RightNone {
				return fmt.Errorf("%w: %s equity leg %s cannot carry a right", ErrInvalidTemplate, t.Name, leg.Name)
			}
			if len(leg.Constraints) > 0 {
				return fmt.Errorf("%w: %s equity leg %s cannot carry strike/expiry constraints", ErrInvalidTemplate, t.Name, leg.Name)
			}
			// shares per unit derive from an option leg's multiplier
			if !sawOption {
				return fmt.Errorf("%w: %s equity leg %s must follow an option leg", ErrInvalidTemplate, t.Name, leg.Name)
			}
		}

		for _, c := range leg.Constraints {
			if !c.Kind.Valid() {
				return fmt.Errorf("%w: %s leg %s has unknown constraint %q", ErrInvalidTemplate, t.Name, leg.Name, c.Kind)
			}
			for _, ref := range c.References() {
				target, ok := declared[ref]
				if !ok {
					return fmt.Errorf("%w: %s leg %s constraint %s references %q, which is not an earlier leg",
						ErrInvalidTemplate, t.Name, leg.Name, c, ref)
				}
				if target.Kind != models.KindOption {
					return fmt.Errorf("%w: %s leg %s constraint %s references equity leg %q",
						ErrInvalidTemplate, t.Name, leg.Name, c, ref)
				}
			}
		}
		declared[leg.Name] = leg
	}

	if !sawOption {
		return fmt.Errorf("%w: %s needs at least one option leg", ErrInvalidTemplate, t.Name)
	}
	if t.Naked {
		leg := t.Legs[0]
		if len(t.Legs) != 1 || leg.Kind != models.KindOption || leg.Side != models.SideShort || leg.Ratio != 1 {
			return fmt.Errorf("%w: naked template %s must be a single short option leg with ratio 1", ErrInvalidTemplate, t.Name)
		}
	}
	return nil
}
