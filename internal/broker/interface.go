package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/eddiefleurent/strategy_matcher/internal/margin"
	"github.com/eddiefleurent/strategy_matcher/internal/models"
)

// Broker defines the read-only brokerage calls the matcher depends on
type Broker interface {
	GetPositionsCtx(ctx context.Context) ([]PositionItem, error)
	GetQuoteCtx(ctx context.Context, symbol string) (*QuoteItem, error)
}

// PositionSource supplies a full position snapshot.
type PositionSource interface {
	Positions(ctx context.Context) ([]models.Position, error)
}

// Ensure TradierAPI implements Broker at compile time.
var _ Broker = (*TradierAPI)(nil)

// Client adapts a Broker into a PositionSource and a margin.PriceSource.
type Client struct {
	broker Broker
}

// NewClient wraps b.
func NewClient(b Broker) *Client {
	return &Client{broker: b}
}

var (
	_ PositionSource     = (*Client)(nil)
	_ margin.PriceSource = (*Client)(nil)
)

// Positions fetches and converts the account positions. Any unconvertible
// item fails the snapshot; a partial book would produce a wrong match.
func (c *Client) Positions(ctx context.Context) ([]models.Position, error) {
	items, err := c.broker.GetPositionsCtx(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Position, 0, len(items))
	for _, item := range items {
		p, err := ToPosition(item)
		if err != nil {
			return nil, fmt.Errorf("converting broker positions: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}

// Price implements margin.PriceSource from the broker's quote mark.
func (c *Client) Price(ctx context.Context, underlying string) (decimal.Decimal, error) {
	q, err := c.broker.GetQuoteCtx(ctx, underlying)
	if err != nil {
		return decimal.Zero, err
	}
	mark := q.Mark()
	if mark <= 0 {
		return decimal.Zero, fmt.Errorf("%w: %s has no usable quote", margin.ErrMissingPrice, underlying)
	}
	return decimal.NewFromFloat(mark), nil
}

// CircuitBreakerBroker wraps a Broker with circuit breaker functionality
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

// Ensure CircuitBreakerBroker implements Broker at compile time.
var _ Broker = (*CircuitBreakerBroker)(nil)

// exec is a generic helper for circuit breaker wrapper methods
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	broker Broker,
	fn func(Broker) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(broker) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// CircuitBreakerSettings configures circuit breaker behavior
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// DefaultCircuitBreakerSettings are used by NewCircuitBreakerBroker.
var DefaultCircuitBreakerSettings = CircuitBreakerSettings{
	MaxRequests:  3,                // Allow 3 requests when half-open
	Interval:     60 * time.Second, // Reset counts every minute
	Timeout:      30 * time.Second, // Open circuit for 30 seconds
	MinRequests:  5,                // Minimum requests before tripping
	FailureRatio: 0.6,              // Trip if 60% failure rate
}

// NewCircuitBreakerBroker creates a new CircuitBreakerBroker with sensible defaults
func NewCircuitBreakerBroker(broker Broker, logger *logrus.Logger) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(broker, DefaultCircuitBreakerSettings, logger)
}

// NewCircuitBreakerBrokerWithSettings creates a CircuitBreakerBroker with custom settings
func NewCircuitBreakerBrokerWithSettings(broker Broker, settings CircuitBreakerSettings, logger *logrus.Logger) *CircuitBreakerBroker {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	gbSettings := gobreaker.Settings{
		Name:        "BrokerCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	}

	return &CircuitBreakerBroker{
		broker:  broker,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// GetPositionsCtx wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetPositionsCtx(ctx context.Context) ([]PositionItem, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]PositionItem, error) {
		return b.GetPositionsCtx(ctx)
	})
}

// GetQuoteCtx wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetQuoteCtx(ctx context.Context, symbol string) (*QuoteItem, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*QuoteItem, error) {
		return b.GetQuoteCtx(ctx, symbol)
	})
}

// State reports the breaker state, e.g. "closed" or "open".
func (c *CircuitBreakerBroker) State() string {
	return c.breaker.State().String()
}
