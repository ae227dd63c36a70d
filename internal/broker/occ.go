package broker

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/eddiefleurent/strategy_matcher/internal/models"
)

// OCCSymbol is a decoded option symbol, e.g. GOOG151224C00750000.
type OCCSymbol struct {
	Underlying string
	Expiration time.Time
	Right      models.OptionRight
	Strike     float64
}

// ParseOCCSymbol decodes UNDERLYING + YYMMDD + C/P + 8-digit strike in thousandths.
// The date must be the first 6-digit run followed by a right and exactly 8 trailing digits.
func ParseOCCSymbol(symbol string) (OCCSymbol, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if len(s) < 16 {
		return OCCSymbol{}, fmt.Errorf("option symbol too short: %q", symbol)
	}

	for i := 1; i <= len(s)-15; i++ {
		if !isDigits(s[i:i+6]) || isDigit(s[i-1]) {
			continue
		}
		rightPos := i + 6
		var right models.OptionRight
		switch s[rightPos] {
		case 'C':
			right = models.RightCall
		case 'P':
			right = models.RightPut
		default:
			continue
		}
		strikeStart := rightPos + 1
		if len(s) != strikeStart+8 || !isDigits(s[strikeStart:]) {
			continue
		}

		exp, err := time.Parse("060102", s[i:i+6])
		if err != nil {
			return OCCSymbol{}, fmt.Errorf("invalid expiration in %q: %w", symbol, err)
		}
		thousandths, err := strconv.ParseInt(s[strikeStart:], 10, 64)
		if err != nil {
			return OCCSymbol{}, fmt.Errorf("failed to parse strike in %q: %w", symbol, err)
		}
		if thousandths == 0 {
			return OCCSymbol{}, fmt.Errorf("zero strike in %q", symbol)
		}
		return OCCSymbol{
			Underlying: strings.TrimSpace(s[:i]),
			Expiration: exp.UTC(),
			Right:      right,
			Strike:     float64(thousandths) / 1000.0,
		}, nil
	}
	return OCCSymbol{}, fmt.Errorf("not an OCC option symbol: %q", symbol)
}

// IsOptionSymbol reports whether symbol parses as an OCC option symbol.
func IsOptionSymbol(symbol string) bool {
	_, err := ParseOCCSymbol(symbol)
	return err == nil
}

// ToPosition converts a broker position item into a model position.
// Symbols that are not OCC option symbols are treated as equity.
func ToPosition(item PositionItem) (models.Position, error) {
	qty := math.Round(item.Quantity)
	if math.Abs(item.Quantity-qty) > QuantityEpsilon {
		return models.Position{}, fmt.Errorf("position %s has fractional quantity %v", item.Symbol, item.Quantity)
	}

	if occ, err := ParseOCCSymbol(item.Symbol); err == nil {
		return models.NewOptionPosition(occ.Underlying, occ.Right, occ.Strike, occ.Expiration, int64(qty)), nil
	}
	sym := strings.ToUpper(strings.TrimSpace(item.Symbol))
	if sym == "" {
		return models.Position{}, fmt.Errorf("position %d has empty symbol", item.ID)
	}
	return models.NewEquityPosition(sym, int64(qty)), nil
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}
