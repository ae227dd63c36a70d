// Package inventory builds the normalized, per-underlying position view the matcher searches.
package inventory

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/btree"

	"github.com/eddiefleurent/strategy_matcher/internal/models"
	"github.com/eddiefleurent/strategy_matcher/internal/util"
)

// Inventory is an immutable snapshot of held positions grouped by underlying.
// It is safe for concurrent readers once Build returns.
type Inventory struct {
	groups btree.Map[string, []models.Position]
	size   int
}

// Build validates and normalizes positions into an Inventory.
//
// Lots of the same contract are netted into one position. Zero-quantity lots,
// including lots that net to zero, are dropped. Any malformed position fails the
// whole build with an error wrapping models.ErrInvalidPosition.
func Build(positions []models.Position) (*Inventory, error) {
	netted := make(map[string]*models.Position, len(positions))
	order := make([]string, 0, len(positions))

	for i := range positions {
		p := positions[i]
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("building inventory (position %d): %w", i, err)
		}
		p.Underlying = strings.ToUpper(strings.TrimSpace(p.Underlying))
		if p.Kind == models.KindOption {
			p.Expiration = p.Expiration.UTC().Truncate(24 * time.Hour)
		}
		p.ID = p.Symbol()

		key := p.ContractKey()
		if existing, ok := netted[key]; ok {
			q, err := models.NetQuantity(*existing, p.Quantity)
			if err != nil {
				return nil, fmt.Errorf("building inventory (position %d): %w", i, err)
			}
			existing.Quantity = q
			continue
		}
		cp := p
		netted[key] = &cp
		order = append(order, key)
	}

	inv := &Inventory{}
	grouped := make(map[string][]models.Position)
	for _, key := range order {
		p := netted[key]
		if p.Quantity == 0 {
			continue
		}
		grouped[p.Underlying] = append(grouped[p.Underlying], *p)
	}

	for underlying, group := range grouped {
		sort.SliceStable(group, func(i, j int) bool { return Less(group[i], group[j]) })
		inv.groups.Set(underlying, group)
		inv.size += len(group)
	}
	return inv, nil
}

// Less is the deterministic inventory order: equity first, then options by
// expiry, strike and right (calls before puts), then multiplier.
func Less(a, b models.Position) bool {
	if a.Kind != b.Kind {
		return a.Kind == models.KindEquity
	}
	if !a.Expiration.Equal(b.Expiration) {
		return a.Expiration.Before(b.Expiration)
	}
	if c := util.CompareStrikes(a.Strike, b.Strike); c != 0 {
		return c < 0
	}
	if a.Right != b.Right {
		return a.Right == models.RightCall
	}
	if a.Multiplier != b.Multiplier {
		return a.Multiplier < b.Multiplier
	}
	return a.ID < b.ID
}

// Len returns the number of non-zero positions across all underlyings.
func (inv *Inventory) Len() int {
	if inv == nil {
		return 0
	}
	return inv.size
}

// Underlyings returns the underlying identifiers in lexical order.
func (inv *Inventory) Underlyings() []string {
	if inv == nil {
		return nil
	}
	return inv.groups.Keys()
}

// Positions returns a copy of the ordered positions held on one underlying.
func (inv *Inventory) Positions(underlying string) []models.Position {
	if inv == nil {
		return nil
	}
	group, ok := inv.groups.Get(strings.ToUpper(underlying))
	if !ok {
		return nil
	}
	out := make([]models.Position, len(group))
	copy(out, group)
	return out
}

// Scan calls fn for each underlying in lexical order until fn returns false.
// The slice passed to fn must not be modified.
func (inv *Inventory) Scan(fn func(underlying string, positions []models.Position) bool) {
	if inv == nil {
		return
	}
	inv.groups.Scan(fn)
}

// All returns every position in underlying then inventory order.
func (inv *Inventory) All() []models.Position {
	out := make([]models.Position, 0, inv.Len())
	inv.Scan(func(_ string, positions []models.Position) bool {
		out = append(out, positions...)
		return true
	})
	return out
}
