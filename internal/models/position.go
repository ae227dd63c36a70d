// Package models defines the position snapshot types the strategy matcher operates on.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/eddiefleurent/strategy_matcher/internal/util"
)

// DefaultContractMultiplier is the number of shares one standard equity option controls.
const DefaultContractMultiplier int64 = 100

// MaxQuantity bounds the magnitude of a lot. Two bounded lots always sum
// without int64 overflow, so netting only has to check the result.
const MaxQuantity int64 = 1 << 40

// InstrumentKind distinguishes equity lots from option lots.
type InstrumentKind string

const (
	// KindEquity is a share position in the underlying
	KindEquity InstrumentKind = "equity"
	// KindOption is a listed option contract position
	KindOption InstrumentKind = "option"
)

// Valid returns true if the InstrumentKind is one of the defined constants
func (k InstrumentKind) Valid() bool {
	switch k {
	case KindEquity, KindOption:
		return true
	default:
		return false
	}
}

// OptionRight is the call/put right of an option contract.
type OptionRight string

const (
	// RightNone is used for equity positions
	RightNone OptionRight = ""
	// RightCall is a call option
	RightCall OptionRight = "call"
	// RightPut is a put option
	RightPut OptionRight = "put"
)

// Valid returns true if the right is call or put
func (r OptionRight) Valid() bool {
	return r == RightCall || r == RightPut
}

// Code returns the single-letter OCC code for the right.
func (r OptionRight) Code() string {
	switch r {
	case RightCall:
		return "C"
	case RightPut:
		return "P"
	default:
		return ""
	}
}

// Side is the direction of a position or a leg.
type Side string

const (
	// SideLong holds a positive quantity
	SideLong Side = "long"
	// SideShort holds a negative quantity
	SideShort Side = "short"
)

// Valid returns true if the Side is long or short
func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// Sign returns +1 for long and -1 for short.
func (s Side) Sign() int64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// Position is one held lot, copied out of the portfolio at match time.
// Quantity is signed: positive is long, negative is short.
type Position struct {
	Expiration time.Time      `json:"expiration,omitempty"`
	ID         string         `json:"id"`
	Underlying string         `json:"underlying"`
	Kind       InstrumentKind `json:"kind"`
	Right      OptionRight    `json:"right,omitempty"`
	Strike     float64        `json:"strike,omitempty"`
	Quantity   int64          `json:"quantity"`
	Multiplier int64          `json:"multiplier"`
}

// NewEquityPosition creates a share position.
func NewEquityPosition(underlying string, shares int64) Position {
	p := Position{
		Underlying: underlying,
		Kind:       KindEquity,
		Quantity:   shares,
		Multiplier: 1,
	}
	p.ID = p.Symbol()
	return p
}

// NewOptionPosition creates an option position with the standard 100-share multiplier.
func NewOptionPosition(underlying string, right OptionRight, strike float64, expiration time.Time, contracts int64) Position {
	p := Position{
		Underlying: underlying,
		Kind:       KindOption,
		Right:      right,
		Strike:     strike,
		Expiration: expiration.UTC().Truncate(24 * time.Hour),
		Quantity:   contracts,
		Multiplier: DefaultContractMultiplier,
	}
	p.ID = p.Symbol()
	return p
}

// IsOption reports whether the position is an option contract.
func (p Position) IsOption() bool {
	return p.Kind == KindOption
}

// Side returns the direction implied by the sign of Quantity.
func (p Position) Side() Side {
	if p.Quantity < 0 {
		return SideShort
	}
	return SideLong
}

// AbsQuantity returns the unsigned quantity.
func (p Position) AbsQuantity() int64 {
	if p.Quantity < 0 {
		return -p.Quantity
	}
	return p.Quantity
}

// Symbol returns the OCC-style identifier of the contract held.
// Equity positions use the bare underlying ticker.
// Example: GOOG151224C00750000
func (p Position) Symbol() string {
	if p.Kind != KindOption {
		return strings.ToUpper(p.Underlying)
	}
	strike := util.StrikeThousandths(p.Strike)
	sym := fmt.Sprintf("%s%s%s%08d", strings.ToUpper(p.Underlying), p.Expiration.UTC().Format("060102"),
		p.Right.Code(), strike)
	if p.Multiplier != DefaultContractMultiplier && p.Multiplier > 0 {
		sym = fmt.Sprintf("%s/%d", sym, p.Multiplier)
	}
	return sym
}

// ContractKey returns the identity used to net lots of the same contract.
func (p Position) ContractKey() string {
	if p.Kind != KindOption {
		return fmt.Sprintf("%s|%s|%d", strings.ToUpper(p.Underlying), p.Kind, p.Multiplier)
	}
	return fmt.Sprintf("%s|%d", p.Symbol(), p.Multiplier)
}

// Validate checks that the position carries the fields its kind requires.
func (p Position) Validate() error {
	if strings.TrimSpace(p.Underlying) == "" {
		return newInvalidPosition(p, "underlying is required")
	}
	if !p.Kind.Valid() {
		return newInvalidPosition(p, fmt.Sprintf("unknown instrument kind %q", p.Kind))
	}
	if p.Multiplier <= 0 {
		return newInvalidPosition(p, fmt.Sprintf("multiplier must be > 0 (current: %d)", p.Multiplier))
	}
	if p.Quantity > MaxQuantity || p.Quantity < -MaxQuantity {
		return newInvalidPosition(p, fmt.Sprintf("quantity magnitude must be <= %d (current: %d)", MaxQuantity, p.Quantity))
	}

	switch p.Kind {
	case KindOption:
		if !p.Right.Valid() {
			return newInvalidPosition(p, fmt.Sprintf("option right must be call or put (current: %q)", p.Right))
		}
		if p.Strike <= 0 {
			return newInvalidPosition(p, fmt.Sprintf("option strike must be > 0 (current: %.4f)", p.Strike))
		}
		if p.Expiration.IsZero() {
			return newInvalidPosition(p, "option expiration is required")
		}
	case KindEquity:
		if p.Right != RightNone {
			return newInvalidPosition(p, fmt.Sprintf("equity position cannot carry an option right (current: %q)", p.Right))
		}
		if p.Strike != 0 || !p.Expiration.IsZero() {
			return newInvalidPosition(p, "equity position cannot carry strike or expiration")
		}
		if p.Multiplier != 1 {
			return newInvalidPosition(p, fmt.Sprintf("equity multiplier must be 1 (current: %d)", p.Multiplier))
		}
	}
	return nil
}

// NetQuantity returns p's quantity after adding delta. A result beyond
// MaxQuantity is rejected so repeated netting cannot overflow.
func NetQuantity(p Position, delta int64) (int64, error) {
	if delta > MaxQuantity || delta < -MaxQuantity {
		return 0, newInvalidPosition(p, fmt.Sprintf("quantity change %d exceeds %d", delta, MaxQuantity))
	}
	sum := p.Quantity + delta
	if sum > MaxQuantity || sum < -MaxQuantity {
		return 0, newInvalidPosition(p, fmt.Sprintf("netted quantity %d exceeds %d", sum, MaxQuantity))
	}
	return sum, nil
}

// String returns a compact human-readable description.
func (p Position) String() string {
	if p.Kind != KindOption {
		return fmt.Sprintf("%s %+d shares", strings.ToUpper(p.Underlying), p.Quantity)
	}
	return fmt.Sprintf("%s %s %.2f %s x%+d", strings.ToUpper(p.Underlying), p.Expiration.UTC().Format("2006-01-02"),
		p.Strike, p.Right, p.Quantity)
}
