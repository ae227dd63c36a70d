// Package margin prices a strategy match result with a rule-based margin model.
package margin

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/eddiefleurent/strategy_matcher/internal/matcher"
	"github.com/eddiefleurent/strategy_matcher/internal/models"
	"github.com/eddiefleurent/strategy_matcher/internal/strategy"
	"github.com/eddiefleurent/strategy_matcher/internal/util"
)

// Model computes the requirement of one matched instance or residual leg
// given the underlying's reference price.
type Model interface {
	InstanceMargin(inst matcher.Instance, price decimal.Decimal) (decimal.Decimal, error)
	ResidualMargin(res matcher.Residual, price decimal.Decimal) (decimal.Decimal, error)
}

// Rates parameterize RuleModel.
type Rates struct {
	Equity   decimal.Decimal // fraction of equity value held against stock
	Naked    decimal.Decimal // fraction of underlying value for a naked short option
	NakedMin decimal.Decimal // floor fraction once out-of-the-money relief is applied
}

// DefaultRates follow the common Reg-T style equity and naked option rules.
var DefaultRates = Rates{
	Equity:   decimal.RequireFromString("0.5"),
	Naked:    decimal.RequireFromString("0.2"),
	NakedMin: decimal.RequireFromString("0.1"),
}

// RuleModel applies the template's MarginRule to instances and naked rules to residuals.
type RuleModel struct {
	Rates Rates
}

// NewRuleModel creates a rule model. Zero rates fall back to DefaultRates.
func NewRuleModel(rates Rates) *RuleModel {
	if rates.Equity.IsZero() {
		rates.Equity = DefaultRates.Equity
	}
	if rates.Naked.IsZero() {
		rates.Naked = DefaultRates.Naked
	}
	if rates.NakedMin.IsZero() {
		rates.NakedMin = DefaultRates.NakedMin
	}
	return &RuleModel{Rates: rates}
}

// InstanceMargin implements Model.
func (m *RuleModel) InstanceMargin(inst matcher.Instance, price decimal.Decimal) (decimal.Decimal, error) {
	switch inst.Margin {
	case strategy.MarginZero:
		return decimal.Zero, nil

	case strategy.MarginUnderlying:
		total := decimal.Zero
		for _, b := range inst.Legs {
			if b.Position.Kind == models.KindEquity {
				total = total.Add(m.equity(b.Consumed, price))
			}
		}
		return total, nil

	case strategy.MarginSpreadWidth:
		width := widestAdjacentGap(inst.Legs)
		return width.Mul(decimal.NewFromInt(inst.UnitMultiplier)).Mul(decimal.NewFromInt(inst.Quantity)), nil

	case strategy.MarginMaxNaked:
		worst := decimal.Zero
		for _, b := range inst.Legs {
			if b.Position.Kind == models.KindOption && b.Consumed < 0 {
				worst = decimal.Max(worst, m.naked(b.Position, b.Consumed, price))
			}
		}
		return worst, nil

	case strategy.MarginNakedShortLeg, strategy.MarginNaked:
		total := decimal.Zero
		for _, b := range inst.Legs {
			if b.Position.Kind == models.KindOption && b.Consumed < 0 {
				total = total.Add(m.naked(b.Position, b.Consumed, price))
			}
		}
		return total, nil

	default:
		return decimal.Zero, fmt.Errorf("%s: unsupported margin rule %q", inst.Template, inst.Margin)
	}
}

// ResidualMargin implements Model. Short options are margined naked, long
// options need nothing, stock is held at the equity rate on either side.
func (m *RuleModel) ResidualMargin(res matcher.Residual, price decimal.Decimal) (decimal.Decimal, error) {
	switch res.Position.Kind {
	case models.KindEquity:
		return m.equity(res.Quantity, price), nil
	case models.KindOption:
		if res.Quantity >= 0 {
			return decimal.Zero, nil
		}
		return m.naked(res.Position, res.Quantity, price), nil
	default:
		return decimal.Zero, fmt.Errorf("residual %s: unsupported instrument kind %q", res.Position.ID, res.Position.Kind)
	}
}

func (m *RuleModel) equity(shares int64, price decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(absInt(shares)).Mul(price).Mul(m.Rates.Equity)
}

// naked is max(naked x U - OTM, nakedMin x U) per share, times contracts and multiplier.
func (m *RuleModel) naked(p models.Position, contracts int64, price decimal.Decimal) decimal.Decimal {
	strike := decimal.NewFromFloat(p.Strike)
	otm := decimal.Zero
	switch p.Right {
	case models.RightCall:
		otm = decimal.Max(decimal.Zero, strike.Sub(price))
	case models.RightPut:
		otm = decimal.Max(decimal.Zero, price.Sub(strike))
	}
	perShare := decimal.Max(m.Rates.Naked.Mul(price).Sub(otm), m.Rates.NakedMin.Mul(price))
	return perShare.Mul(decimal.NewFromInt(p.Multiplier)).Mul(decimal.NewFromInt(absInt(contracts)))
}

// widestAdjacentGap is the largest distance between neighbouring strikes of
// the same right, which bounds the loss of a credit spread structure.
func widestAdjacentGap(legs []matcher.Binding) decimal.Decimal {
	byRight := make(map[models.OptionRight][]float64)
	for _, b := range legs {
		if b.Position.Kind == models.KindOption {
			byRight[b.Position.Right] = append(byRight[b.Position.Right], b.Position.Strike)
		}
	}
	widest := decimal.Zero
	for _, strikes := range byRight {
		sort.Float64s(strikes)
		for i := 1; i < len(strikes); i++ {
			gap := util.StrikeThousandths(strikes[i]) - util.StrikeThousandths(strikes[i-1])
			widest = decimal.Max(widest, decimal.New(gap, -3))
		}
	}
	return widest
}

func absInt(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
