// Package retry wraps position snapshot fetches with bounded, jittered backoff.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/eddiefleurent/strategy_matcher/internal/broker"
	"github.com/eddiefleurent/strategy_matcher/internal/models"
)

// Config contains configuration for snapshot retries.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

// DefaultConfig is the default retry configuration.
var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	Timeout:        2 * time.Minute,
}

// Client retries transient failures of a position source.
type Client struct {
	source broker.PositionSource
	logger *logrus.Logger
	config Config
}

// Ensure Client is itself a position source.
var _ broker.PositionSource = (*Client)(nil)

// NewClient creates a retrying position source.
func NewClient(source broker.PositionSource, logger *logrus.Logger, config ...Config) *Client {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}

	return &Client{
		source: source,
		logger: logger,
		config: cfg,
	}
}

// Positions fetches a snapshot, retrying transient errors until MaxRetries or Timeout.
func (c *Client) Positions(ctx context.Context) ([]models.Position, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("operation canceled: %w", ctx.Err())
		}
		if fetchCtx.Err() != nil {
			return nil, fmt.Errorf("snapshot fetch timed out after %v: %w", c.config.Timeout, fetchCtx.Err())
		}

		positions, err := c.source.Positions(fetchCtx)
		if err == nil {
			if attempt > 0 {
				c.logger.WithField("attempt", attempt+1).Info("position snapshot fetched after retry")
			}
			return positions, nil
		}

		lastErr = err
		log := c.logger.WithError(err).WithField("attempt", attempt+1)

		if !c.isTransientError(err) || attempt == c.config.MaxRetries {
			log.Warn("position snapshot fetch failed")
			break
		}

		log.WithField("backoff", backoff).Warn("transient snapshot error, retrying")
		select {
		case <-time.After(backoff):
			backoff = c.calculateNextBackoff(backoff)
		case <-fetchCtx.Done():
			if ctx.Err() != nil {
				return nil, fmt.Errorf("operation canceled during backoff: %w", ctx.Err())
			}
			return nil, fmt.Errorf("snapshot fetch timed out during backoff: %w", fetchCtx.Err())
		}
	}

	return nil, fmt.Errorf("failed to fetch positions after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

func (c *Client) calculateNextBackoff(currentBackoff time.Duration) time.Duration {
	backoff := time.Duration(float64(currentBackoff) * 1.5)
	if backoff > c.config.MaxBackoff {
		backoff = c.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			c.logger.WithError(err).Warn("failed to generate jitter")
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}

	return backoff
}

func (c *Client) isTransientError(err error) bool {
	if err == nil {
		return false
	}

	// An open breaker will not close within our retry window.
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}

	var apiErr *broker.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == 429 || apiErr.Status >= 500
	}

	errStr := strings.ToLower(err.Error())

	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"server error",
		"rate limit",
		"network",
		"dns",
		"tcp",
		"eof",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
