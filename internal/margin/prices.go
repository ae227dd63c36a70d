package margin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrMissingPrice is returned when no reference price is known for an underlying
var ErrMissingPrice = errors.New("missing underlying price")

// PriceSource supplies the reference underlying price margin is computed against.
type PriceSource interface {
	Price(ctx context.Context, underlying string) (decimal.Decimal, error)
}

// StaticPrices is a fixed price table keyed by upper-case underlying.
type StaticPrices map[string]decimal.Decimal

// NewStaticPrices builds a price table from float quotes.
func NewStaticPrices(quotes map[string]float64) StaticPrices {
	out := make(StaticPrices, len(quotes))
	for u, px := range quotes {
		out[strings.ToUpper(u)] = decimal.NewFromFloat(px)
	}
	return out
}

// Price implements PriceSource.
func (s StaticPrices) Price(_ context.Context, underlying string) (decimal.Decimal, error) {
	px, ok := s[strings.ToUpper(underlying)]
	if !ok || !px.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrMissingPrice, underlying)
	}
	return px, nil
}

// FallbackPrices tries each source in order and returns the first price found.
type FallbackPrices []PriceSource

// Price implements PriceSource. Context errors stop the chain immediately.
func (f FallbackPrices) Price(ctx context.Context, underlying string) (decimal.Decimal, error) {
	var errs []error
	for _, src := range f {
		px, err := src.Price(ctx, underlying)
		if err == nil {
			return px, nil
		}
		if ctx.Err() != nil {
			return decimal.Zero, ctx.Err()
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrMissingPrice, underlying)
	}
	return decimal.Zero, errors.Join(errs...)
}
