package matcher

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInconsistentInventory signals an internal invariant violation during a search.
// It indicates a matcher or template-definition defect, never bad input.
var ErrInconsistentInventory = errors.New("inconsistent inventory")

// InconsistentInventoryError carries the search state at the time of failure.
type InconsistentInventoryError struct {
	Underlying string
	Template   string
	Detail     string
	Bindings   []string         // leg=positionID x perUnit
	Remaining  map[string]int64 // position ID -> signed remaining quantity
}

func (e *InconsistentInventoryError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "inconsistent inventory on %s", e.Underlying)
	if e.Template != "" {
		fmt.Fprintf(&b, " while matching %q", e.Template)
	}
	fmt.Fprintf(&b, ": %s", e.Detail)
	if len(e.Bindings) > 0 {
		fmt.Fprintf(&b, "; bindings [%s]", strings.Join(e.Bindings, ", "))
	}
	if len(e.Remaining) > 0 {
		ids := make([]string, 0, len(e.Remaining))
		for id := range e.Remaining {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		parts := make([]string, len(ids))
		for i, id := range ids {
			parts[i] = fmt.Sprintf("%s=%d", id, e.Remaining[id])
		}
		fmt.Fprintf(&b, "; remaining {%s}", strings.Join(parts, ", "))
	}
	return b.String()
}

// Unwrap allows errors.Is(err, ErrInconsistentInventory).
func (e *InconsistentInventoryError) Unwrap() error {
	return ErrInconsistentInventory
}

// StrategyAssertionError reports an inspection mismatch with what was actually found.
type StrategyAssertionError struct {
	Name     string
	Quantity int64
	Found    []StrategyCount
}

func (e *StrategyAssertionError) Error() string {
	matching := make([]string, 0)
	present := make([]string, 0, len(e.Found))
	var total int64
	for _, f := range e.Found {
		present = append(present, fmt.Sprintf("%s x%d", f.Name, f.Quantity))
		if f.Name == e.Name {
			matching = append(matching, fmt.Sprintf("x%d", f.Quantity))
			total += f.Quantity
		}
	}
	if len(matching) == 0 {
		return fmt.Sprintf("expected option strategy %q with quantity >= %d, but it is not present (found: [%s])",
			e.Name, e.Quantity, strings.Join(present, ", "))
	}
	return fmt.Sprintf("expected option strategy %q with quantity >= %d, found only [%s] totalling %d (found: [%s])",
		e.Name, e.Quantity, strings.Join(matching, ", "), total, strings.Join(present, ", "))
}
