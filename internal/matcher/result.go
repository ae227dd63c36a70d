package matcher

import (
	"fmt"
	"sort"

	"github.com/eddiefleurent/strategy_matcher/internal/inventory"
	"github.com/eddiefleurent/strategy_matcher/internal/models"
	"github.com/eddiefleurent/strategy_matcher/internal/strategy"
)

// Binding is a concrete position bound to one leg of a matched instance.
type Binding struct {
	Leg      string          `json:"leg"`
	Position models.Position `json:"position"`
	PerUnit  int64           `json:"per_unit"`
	Consumed int64           `json:"consumed"` // signed like Position.Quantity
}

// Instance is a template realized Quantity times against held positions.
type Instance struct {
	Underlying     string              `json:"underlying"`
	Template       string              `json:"template"`
	Margin         strategy.MarginRule `json:"margin"`
	Quantity       int64               `json:"quantity"`
	UnitMultiplier int64               `json:"unit_multiplier"`
	Legs           []Binding           `json:"legs"`
}

// Leg returns the binding for the named leg.
func (i Instance) Leg(name string) (Binding, bool) {
	for _, b := range i.Legs {
		if b.Leg == name {
			return b, true
		}
	}
	return Binding{}, false
}

// Residual is quantity no instance consumed; margined as a naked position.
type Residual struct {
	Position models.Position `json:"position"`
	Quantity int64           `json:"quantity"`        // signed remaining quantity
	Label    string          `json:"label,omitempty"` // naked template name, if one describes it
}

// Result partitions an inventory into matched instances and residual legs.
// Ordering is by underlying, then match order (instances) or inventory order (residuals).
type Result struct {
	Instances []Instance `json:"instances"`
	Residuals []Residual `json:"residuals"`
}

// StrategyCount is one recognized strategy and its quantity.
type StrategyCount struct {
	Underlying string `json:"underlying"`
	Name       string `json:"name"`
	Quantity   int64  `json:"quantity"`
}

// ForUnderlying returns the part of the result on one underlying.
func (r *Result) ForUnderlying(underlying string) Result {
	var out Result
	for _, inst := range r.Instances {
		if inst.Underlying == underlying {
			out.Instances = append(out.Instances, inst)
		}
	}
	for _, res := range r.Residuals {
		if res.Position.Underlying == underlying {
			out.Residuals = append(out.Residuals, res)
		}
	}
	return out
}

// Strategies lists every matched instance plus every labelled residual.
// Labelled residuals report their unsigned quantity, e.g. 5 short calls -> Naked Call x5.
func (r *Result) Strategies() []StrategyCount {
	out := make([]StrategyCount, 0, len(r.Instances)+len(r.Residuals))
	for _, inst := range r.Instances {
		out = append(out, StrategyCount{Underlying: inst.Underlying, Name: inst.Template, Quantity: inst.Quantity})
	}
	for _, res := range r.Residuals {
		if res.Label == "" {
			continue
		}
		out = append(out, StrategyCount{Underlying: res.Position.Underlying, Name: res.Label, Quantity: abs(res.Quantity)})
	}
	return out
}

// Consumed returns the signed quantity matched instances consume, keyed by position ID.
func (r *Result) Consumed() map[string]int64 {
	out := make(map[string]int64)
	for _, inst := range r.Instances {
		for _, b := range inst.Legs {
			out[b.Position.ID] += b.Consumed
		}
	}
	return out
}

// VerifyConservation checks that consumed plus residual quantity equals each
// position's original quantity and that nothing outside the inventory appears.
func (r *Result) VerifyConservation(inv *inventory.Inventory) error {
	totals := r.Consumed()
	for _, res := range r.Residuals {
		totals[res.Position.ID] += res.Quantity
	}

	for _, p := range inv.All() {
		got := totals[p.ID]
		if got != p.Quantity {
			return &InconsistentInventoryError{
				Underlying: p.Underlying,
				Detail:     fmt.Sprintf("position %s accounts for %d of %d", p.ID, got, p.Quantity),
			}
		}
		delete(totals, p.ID)
	}
	if len(totals) > 0 {
		ids := make([]string, 0, len(totals))
		for id := range totals {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		return &InconsistentInventoryError{
			Detail:    fmt.Sprintf("result references positions absent from inventory: %v", ids),
			Remaining: totals,
		}
	}
	return nil
}

// Summary returns one human-readable line per instance and residual.
func (r *Result) Summary() []string {
	lines := make([]string, 0, len(r.Instances)+len(r.Residuals))
	for _, inst := range r.Instances {
		line := fmt.Sprintf("%s %s x%d:", inst.Underlying, inst.Template, inst.Quantity)
		for _, b := range inst.Legs {
			line += fmt.Sprintf(" %s=%s(%+d)", b.Leg, b.Position.ID, b.Consumed)
		}
		lines = append(lines, line)
	}
	for _, res := range r.Residuals {
		label := res.Label
		if label == "" {
			label = "residual"
		}
		lines = append(lines, fmt.Sprintf("%s %s: %s(%+d)", res.Position.Underlying, label, res.Position.ID, res.Quantity))
	}
	return lines
}

// AssertStrategyIsPresent checks that the result holds the named strategy
// with a total quantity of at least quantity. Instances and labelled
// residuals of that name are summed, so Covered Call x3 and x2 satisfy 5.
func AssertStrategyIsPresent(r *Result, name string, quantity int64) error {
	found := r.Strategies()
	var total int64
	for _, f := range found {
		if f.Name == name {
			total += f.Quantity
		}
	}
	if total > 0 && total >= quantity {
		return nil
	}
	return &StrategyAssertionError{Name: name, Quantity: quantity, Found: found}
}
