package margin

import (
	"context"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/strategy_matcher/internal/inventory"
	"github.com/eddiefleurent/strategy_matcher/internal/matcher"
	"github.com/eddiefleurent/strategy_matcher/internal/strategy"
)

// Line is the requirement attributed to one instance or residual.
type Line struct {
	Underlying  string              `json:"underlying"`
	Description string              `json:"description"`
	Rule        strategy.MarginRule `json:"rule,omitempty"`
	Quantity    int64               `json:"quantity"`
	Amount      decimal.Decimal     `json:"amount"`
}

// Requirement is the margin of a whole match result.
type Requirement struct {
	Total     decimal.Decimal `json:"total"`
	Instances []Line          `json:"instances"`
	Residuals []Line          `json:"residuals"`
}

// Bridge feeds a match result to a margin model, one underlying price at a time.
type Bridge struct {
	model  Model
	prices PriceSource
	logger *logrus.Logger
}

// NewBridge creates a margin bridge. A nil model uses NewRuleModel(DefaultRates).
func NewBridge(model Model, prices PriceSource, logger *logrus.Logger) *Bridge {
	if model == nil {
		model = NewRuleModel(DefaultRates)
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Bridge{model: model, prices: prices, logger: logger}
}

// Compute prices every instance and residual of res. The result must conserve
// inv exactly; a result that does not is rejected before any price is fetched.
func (b *Bridge) Compute(ctx context.Context, inv *inventory.Inventory, res *matcher.Result) (*Requirement, error) {
	if err := res.VerifyConservation(inv); err != nil {
		return nil, fmt.Errorf("margin bridge: %w", err)
	}

	req := &Requirement{
		Total:     decimal.Zero,
		Instances: make([]Line, 0, len(res.Instances)),
		Residuals: make([]Line, 0, len(res.Residuals)),
	}
	prices := make(map[string]decimal.Decimal)
	price := func(underlying string) (decimal.Decimal, error) {
		if px, ok := prices[underlying]; ok {
			return px, nil
		}
		if err := ctx.Err(); err != nil {
			return decimal.Zero, err
		}
		px, err := b.prices.Price(ctx, underlying)
		if err != nil {
			return decimal.Zero, err
		}
		prices[underlying] = px
		return px, nil
	}

	for _, inst := range res.Instances {
		px, err := price(inst.Underlying)
		if err != nil {
			return nil, fmt.Errorf("pricing %s %s: %w", inst.Underlying, inst.Template, err)
		}
		amount, err := b.model.InstanceMargin(inst, px)
		if err != nil {
			return nil, err
		}
		req.Instances = append(req.Instances, Line{
			Underlying:  inst.Underlying,
			Description: inst.Template,
			Rule:        inst.Margin,
			Quantity:    inst.Quantity,
			Amount:      amount,
		})
		req.Total = req.Total.Add(amount)
	}

	for _, r := range res.Residuals {
		px, err := price(r.Position.Underlying)
		if err != nil {
			return nil, fmt.Errorf("pricing residual %s: %w", r.Position.ID, err)
		}
		amount, err := b.model.ResidualMargin(r, px)
		if err != nil {
			return nil, err
		}
		desc := r.Label
		if desc == "" {
			desc = r.Position.ID
		}
		req.Residuals = append(req.Residuals, Line{
			Underlying:  r.Position.Underlying,
			Description: desc,
			Quantity:    r.Quantity,
			Amount:      amount,
		})
		req.Total = req.Total.Add(amount)
	}

	b.logger.WithFields(logrus.Fields{
		"total":     req.Total.StringFixed(2),
		"instances": len(req.Instances),
		"residuals": len(req.Residuals),
	}).Debug("margin computed")
	return req, nil
}

// Unmatched prices inv as if no strategy had been recognized, every position
// margined on its own. The difference to Compute is the offset matching earns.
func (b *Bridge) Unmatched(ctx context.Context, inv *inventory.Inventory) (*Requirement, error) {
	res := &matcher.Result{Instances: make([]matcher.Instance, 0), Residuals: make([]matcher.Residual, 0, inv.Len())}
	for _, p := range inv.All() {
		res.Residuals = append(res.Residuals, matcher.Residual{Position: p, Quantity: p.Quantity})
	}
	return b.Compute(ctx, inv, res)
}
