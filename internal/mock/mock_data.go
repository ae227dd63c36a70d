// Package mock provides a synthetic broker: generated position books and
// drifting underlying quotes for demos, benchmarks and tests.
package mock

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/eddiefleurent/strategy_matcher/internal/broker"
	"github.com/eddiefleurent/strategy_matcher/internal/models"
)

const strikeInterval = 5.0

// DefaultPrices seed a provider created without prices.
var DefaultPrices = map[string]float64{
	"GOOG": 700,
	"SPY":  450,
	"AAPL": 190,
}

// DataProvider serves a synthetic book and quotes. It implements broker.Broker.
type DataProvider struct {
	mu        sync.Mutex
	prices    map[string]float64
	positions []models.Position
	drift     float64
}

var _ broker.Broker = (*DataProvider)(nil)

// secureFloat64 generates a cryptographically secure random float64 between 0 and 1
func secureFloat64() float64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<53))
	if err != nil {
		// Fallback to a reasonable default if crypto/rand fails
		return 0.5
	}
	return float64(n.Int64()) / (1 << 53)
}

// secureInt63n generates a cryptographically secure random int64 between 0 and n-1
func secureInt63n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	r, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		// Fallback to a reasonable default if crypto/rand fails
		return n / 2
	}
	return r.Int64()
}

// NewDataProvider creates a provider quoting prices (DefaultPrices when empty).
// Quotes drift by up to one point per call until SetDrift changes it.
func NewDataProvider(prices map[string]float64) *DataProvider {
	if len(prices) == 0 {
		prices = DefaultPrices
	}
	p := &DataProvider{prices: make(map[string]float64, len(prices)), drift: 1}
	for u, px := range prices {
		p.prices[strings.ToUpper(u)] = px
	}
	return p
}

// SetDrift sets the maximum absolute price move per quote. 0 freezes prices.
func (m *DataProvider) SetDrift(drift float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drift = math.Abs(drift)
}

// Prices returns the current price of every underlying.
func (m *DataProvider) Prices() map[string]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]float64, len(m.prices))
	for u, px := range m.prices {
		out[u] = px
	}
	return out
}

// Underlyings returns the quoted underlyings in sorted order.
func (m *DataProvider) Underlyings() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.underlyingsLocked()
}

func (m *DataProvider) underlyingsLocked() []string {
	out := make([]string, 0, len(m.prices))
	for u := range m.prices {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// SetPositions replaces the book served by GetPositionsCtx. Option lots must
// use the standard contract multiplier to round-trip through OCC symbols.
func (m *DataProvider) SetPositions(positions []models.Position) error {
	for _, p := range positions {
		if err := p.Validate(); err != nil {
			return err
		}
		if p.IsOption() && p.Multiplier != models.DefaultContractMultiplier {
			return fmt.Errorf("position %s: multiplier %d cannot be expressed as an OCC symbol", p.Symbol(), p.Multiplier)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions = append([]models.Position(nil), positions...)
	return nil
}

// GetPositionsCtx implements broker.Broker.
func (m *DataProvider) GetPositionsCtx(ctx context.Context) ([]broker.PositionItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	items := make([]broker.PositionItem, 0, len(m.positions))
	for i, p := range m.positions {
		items = append(items, broker.PositionItem{
			ID:           i + 1,
			Symbol:       p.Symbol(),
			Quantity:     float64(p.Quantity),
			DateAcquired: time.Now().UTC().Format(time.RFC3339),
		})
	}
	return items, nil
}

// GetQuoteCtx implements broker.Broker. Unknown symbols quote zero.
func (m *DataProvider) GetQuoteCtx(ctx context.Context, symbol string) (*broker.QuoteItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	symbol = strings.ToUpper(symbol)
	px, ok := m.prices[symbol]
	if !ok {
		return &broker.QuoteItem{Symbol: symbol, Type: "stock"}, nil
	}

	// Simulate small price movements
	px += (secureFloat64() - 0.5) * 2 * m.drift
	if px < strikeInterval {
		px = strikeInterval
	}
	m.prices[symbol] = px

	spread := 0.02 // 2 cent spread
	return &broker.QuoteItem{
		Symbol:    symbol,
		Type:      "stock",
		Last:      px,
		Bid:       px - spread/2,
		Ask:       px + spread/2,
		PrevClose: px,
	}, nil
}

// MonthlyExpirations returns the next n third-Friday expirations after now.
func MonthlyExpirations(now time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	y, mo, _ := now.UTC().Date()
	for month := 0; len(out) < n; month++ {
		first := time.Date(y, mo+time.Month(month), 1, 0, 0, 0, 0, time.UTC)
		offset := (int(time.Friday) - int(first.Weekday()) + 7) % 7
		third := first.AddDate(0, 0, offset+14)
		if third.After(now) {
			out = append(out, third)
		}
	}
	return out
}

// atm rounds price down to the strike grid.
func atm(price float64) float64 {
	return math.Max(strikeInterval, math.Floor(price/strikeInterval)*strikeInterval)
}

// GenerateBook builds up to lots random, netted positions per underlying with
// strikes within ten grid steps of the current price.
func (m *DataProvider) GenerateBook(lots int, now time.Time) []models.Position {
	expiries := MonthlyExpirations(now, 3)
	prices := m.Prices()

	book := make(map[string]models.Position)
	for _, u := range m.Underlyings() {
		center := atm(prices[u])
		for i := 0; i < lots; i++ {
			var p models.Position
			if secureInt63n(5) == 0 {
				shares := (secureInt63n(10) + 1) * models.DefaultContractMultiplier
				if secureInt63n(4) == 0 {
					shares = -shares
				}
				p = models.NewEquityPosition(u, shares)
			} else {
				right := models.RightCall
				if secureInt63n(2) == 0 {
					right = models.RightPut
				}
				strike := center + float64(secureInt63n(21)-10)*strikeInterval
				if strike <= 0 {
					strike = strikeInterval
				}
				contracts := secureInt63n(10) + 1
				if secureInt63n(2) == 0 {
					contracts = -contracts
				}
				p = models.NewOptionPosition(u, right, strike, expiries[secureInt63n(int64(len(expiries)))], contracts)
			}

			key := p.ContractKey()
			if prev, ok := book[key]; ok {
				p.Quantity += prev.Quantity
			}
			book[key] = p
		}
	}

	out := make([]models.Position, 0, len(book))
	for _, p := range book {
		if p.Quantity != 0 {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContractKey() < out[j].ContractKey() })
	return out
}

// StructuredBook builds a known mix on underlying around its current price:
// an iron condor and a covered call in the front month, and a long straddle
// in the second month, each units wide.
func (m *DataProvider) StructuredBook(underlying string, units int64, now time.Time) ([]models.Position, error) {
	underlying = strings.ToUpper(underlying)
	px, ok := m.Prices()[underlying]
	if !ok {
		return nil, fmt.Errorf("no price for %s", underlying)
	}
	if units <= 0 {
		return nil, fmt.Errorf("units must be > 0 (current: %d)", units)
	}
	center := atm(px)
	if center <= 4*strikeInterval {
		return nil, fmt.Errorf("price %.2f too low for a structured book", px)
	}
	exp := MonthlyExpirations(now, 2)
	front, back := exp[0], exp[1]

	return []models.Position{
		// iron condor
		models.NewOptionPosition(underlying, models.RightPut, center-4*strikeInterval, front, units),
		models.NewOptionPosition(underlying, models.RightPut, center-2*strikeInterval, front, -units),
		models.NewOptionPosition(underlying, models.RightCall, center+2*strikeInterval, front, -units),
		models.NewOptionPosition(underlying, models.RightCall, center+4*strikeInterval, front, units),
		// covered call
		models.NewOptionPosition(underlying, models.RightCall, center+6*strikeInterval, front, -units),
		models.NewEquityPosition(underlying, units*models.DefaultContractMultiplier),
		// straddle
		models.NewOptionPosition(underlying, models.RightCall, center, back, units),
		models.NewOptionPosition(underlying, models.RightPut, center, back, units),
	}, nil
}
