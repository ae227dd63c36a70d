package matcher

import (
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/eddiefleurent/strategy_matcher/internal/inventory"
	"github.com/eddiefleurent/strategy_matcher/internal/models"
	"github.com/eddiefleurent/strategy_matcher/internal/strategy"
)

// Observer receives the outcome of every search. Implementations must be goroutine-safe.
type Observer interface {
	ObserveSearch(elapsed time.Duration, positions int, result *Result, err error)
}

// Config contains configuration for the search engine.
type Config struct {
	// Parallelism bounds how many underlyings are searched concurrently; <= 1 is sequential.
	Parallelism int
	Observer    Observer
}

// DefaultConfig is the default configuration for the search engine.
var DefaultConfig = Config{
	Parallelism: 1,
}

// Engine runs the greedy, priority-ordered strategy search.
// It holds no mutable state; one Engine may serve concurrent callers.
type Engine struct {
	catalog *strategy.Catalog
	logger  *logrus.Logger
	config  Config
}

// NewEngine creates a search engine over catalog. A nil catalog uses the default catalog.
func NewEngine(catalog *strategy.Catalog, logger *logrus.Logger, config ...Config) *Engine {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	if catalog == nil {
		catalog = strategy.DefaultCatalog()
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Engine{catalog: catalog, logger: logger, config: cfg}
}

// Catalog returns the template catalog the engine searches.
func (e *Engine) Catalog() *strategy.Catalog {
	return e.catalog
}

// SearchPositions builds an inventory from positions and searches it.
func (e *Engine) SearchPositions(positions []models.Position) (*Result, *inventory.Inventory, error) {
	inv, err := inventory.Build(positions)
	if err != nil {
		return nil, nil, err
	}
	res, err := e.Search(inv)
	if err != nil {
		return nil, inv, err
	}
	return res, inv, nil
}

// Search partitions the inventory into strategy instances and residual legs.
//
// Underlyings are searched independently. Within an underlying, templates are
// tried in catalog priority order and each is instantiated repeatedly until it
// no longer binds; whatever remains becomes residual. The only error is
// *InconsistentInventoryError, which indicates a defect rather than bad input.
func (e *Engine) Search(inv *inventory.Inventory) (*Result, error) {
	start := time.Now()
	res, err := e.search(inv)
	if e.config.Observer != nil {
		e.config.Observer.ObserveSearch(time.Since(start), inv.Len(), res, err)
	}
	if err != nil {
		e.logger.WithError(err).Error("strategy search failed")
		return nil, err
	}
	e.logger.WithFields(logrus.Fields{
		"positions": inv.Len(),
		"instances": len(res.Instances),
		"residuals": len(res.Residuals),
		"elapsed":   time.Since(start),
	}).Debug("strategy search complete")
	return res, nil
}

type group struct {
	underlying string
	positions  []models.Position
}

func (e *Engine) search(inv *inventory.Inventory) (*Result, error) {
	groups := make([]group, 0)
	inv.Scan(func(underlying string, positions []models.Position) bool {
		groups = append(groups, group{underlying: underlying, positions: positions})
		return true
	})

	parts := make([]Result, len(groups))
	if e.config.Parallelism > 1 && len(groups) > 1 {
		var g errgroup.Group
		g.SetLimit(e.config.Parallelism)
		for i := range groups {
			i := i
			g.Go(func() error {
				part, err := e.searchUnderlying(groups[i].underlying, groups[i].positions)
				if err != nil {
					return err
				}
				parts[i] = part
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for i, grp := range groups {
			part, err := e.searchUnderlying(grp.underlying, grp.positions)
			if err != nil {
				return nil, err
			}
			parts[i] = part
		}
	}

	out := &Result{Instances: make([]Instance, 0), Residuals: make([]Residual, 0)}
	for _, part := range parts {
		out.Instances = append(out.Instances, part.Instances...)
		out.Residuals = append(out.Residuals, part.Residuals...)
	}
	if err := out.VerifyConservation(inv); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) searchUnderlying(underlying string, positions []models.Position) (Result, error) {
	remaining := make([]int64, len(positions))
	for i, p := range positions {
		remaining[i] = p.Quantity
	}

	var part Result
	var searchErr error
	e.catalog.Each(func(t strategy.Template) bool {
		if t.Naked {
			return true
		}
		for {
			attempt, ok := bindTemplate(t, positions, remaining)
			if !ok {
				break
			}
			inst, err := instantiate(underlying, t, attempt, positions, remaining)
			if err != nil {
				searchErr = err
				return false
			}
			e.logger.WithFields(logrus.Fields{
				"underlying": underlying,
				"template":   t.Name,
				"quantity":   inst.Quantity,
			}).Debug("matched strategy")
			part.Instances = append(part.Instances, inst)
		}
		return true
	})
	if searchErr != nil {
		return Result{}, searchErr
	}

	for i, p := range positions {
		if remaining[i] == 0 {
			continue
		}
		part.Residuals = append(part.Residuals, Residual{
			Position: p,
			Quantity: remaining[i],
			Label:    e.nakedLabel(p, remaining[i]),
		})
	}
	return part, nil
}

// bindTemplate binds every leg of t in declared order. Each later leg takes
// the first feasible candidate with no backtracking. The first leg is the one
// exception to strict first-feasible binding: when the legs after an anchor
// cannot complete, the scan moves the anchor to the next feasible candidate
// and retries. That is backtracking on leg 0 only, so a template costs
// O(n^2) MatchLeg work per bind in the worst case (n candidates on the
// underlying).
func bindTemplate(t strategy.Template, positions []models.Position, remaining []int64) (*Attempt, bool) {
	for from := 0; from < len(positions); {
		attempt := NewAttempt(t.Name)
		first, ok := MatchLeg(t.Legs[0], positions, remaining, attempt, from)
		if !ok {
			return nil, false
		}
		attempt.Add(first, positions)

		complete := true
		for _, spec := range t.Legs[1:] {
			m, ok := MatchLeg(spec, positions, remaining, attempt, 0)
			if !ok {
				complete = false
				break
			}
			attempt.Add(m, positions)
		}
		if complete {
			return attempt, true
		}
		from = first.Index + 1
	}
	return nil, false
}

// instantiate takes the largest k every bound leg can cover and consumes it.
func instantiate(underlying string, t strategy.Template, attempt *Attempt, positions []models.Position, remaining []int64) (Instance, error) {
	k := int64(-1)
	for _, b := range attempt.Bound {
		units := abs(remaining[b.Index]) / b.PerUnit
		if k < 0 || units < k {
			k = units
		}
	}
	if k < 1 {
		return Instance{}, inconsistent(underlying, t.Name, attempt, positions, remaining,
			fmt.Sprintf("bound legs cover %d units", k))
	}

	inst := Instance{
		Underlying:     underlying,
		Template:       t.Name,
		Margin:         t.Margin,
		Quantity:       k,
		UnitMultiplier: attempt.Unit,
		Legs:           make([]Binding, 0, len(attempt.Bound)),
	}
	for _, b := range attempt.Bound {
		p := positions[b.Index]
		before := remaining[b.Index]
		consumed := b.PerUnit * k
		if before < 0 {
			consumed = -consumed
		}
		after := before - consumed

		if abs(after) > abs(before) || (after != 0 && (after > 0) != (before > 0)) || abs(before) > abs(p.Quantity) {
			return Instance{}, inconsistent(underlying, t.Name, attempt, positions, remaining,
				fmt.Sprintf("leg %s would move %s from %d to %d", b.Leg, p.ID, before, after))
		}
		remaining[b.Index] = after
		inst.Legs = append(inst.Legs, Binding{Leg: b.Leg, Position: p, PerUnit: b.PerUnit, Consumed: consumed})
	}
	return inst, nil
}

func (e *Engine) nakedLabel(p models.Position, remaining int64) string {
	label := ""
	e.catalog.Each(func(t strategy.Template) bool {
		if t.Naked && t.Legs[0].Accepts(p, remaining) {
			label = t.Name
			return false
		}
		return true
	})
	return label
}

func inconsistent(underlying, template string, attempt *Attempt, positions []models.Position, remaining []int64, detail string) *InconsistentInventoryError {
	err := &InconsistentInventoryError{
		Underlying: underlying,
		Template:   template,
		Detail:     detail,
		Remaining:  make(map[string]int64, len(positions)),
	}
	for _, b := range attempt.Bound {
		err.Bindings = append(err.Bindings, fmt.Sprintf("%s=%s x%d", b.Leg, positions[b.Index].ID, b.PerUnit))
	}
	for i, p := range positions {
		err.Remaining[p.ID] = remaining[i]
	}
	return err
}
