package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/strategy_matcher/internal/broker"
	"github.com/eddiefleurent/strategy_matcher/internal/models"
)

// --- Test helpers ---

type fakeSource struct {
	callCount int32

	// if successAfterN > 0, return errTransient for attempts < N, then success
	successAfterN int
	errTransient  error
	errPermanent  error
}

func (f *fakeSource) Positions(context.Context) ([]models.Position, error) {
	n := atomic.AddInt32(&f.callCount, 1)

	if f.successAfterN > 0 {
		if int(n) < f.successAfterN {
			if f.errTransient != nil {
				return nil, f.errTransient
			}
			return nil, errors.New("timeout")
		}
		return []models.Position{models.NewEquityPosition("GOOG", 100)}, nil
	}
	if f.errPermanent != nil {
		return nil, f.errPermanent
	}
	return []models.Position{models.NewEquityPosition("GOOG", 100)}, nil
}

func fastConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Timeout:        time.Second,
	}
}

func TestPositions_SucceedsFirstTry(t *testing.T) {
	src := &fakeSource{}
	positions, err := NewClient(src, nil, fastConfig()).Positions(context.Background())
	require.NoError(t, err)
	assert.Len(t, positions, 1)
	assert.Equal(t, int32(1), atomic.LoadInt32(&src.callCount))
}

func TestPositions_RetriesTransientErrors(t *testing.T) {
	src := &fakeSource{successAfterN: 3, errTransient: &broker.APIError{Status: 503, Body: "unavailable"}}
	positions, err := NewClient(src, nil, fastConfig()).Positions(context.Background())
	require.NoError(t, err)
	assert.Len(t, positions, 1)
	assert.Equal(t, int32(3), atomic.LoadInt32(&src.callCount))
}

func TestPositions_PermanentErrorStopsImmediately(t *testing.T) {
	src := &fakeSource{errPermanent: &broker.APIError{Status: 401, Body: "unauthorized"}}
	_, err := NewClient(src, nil, fastConfig()).Positions(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&src.callCount))

	var apiErr *broker.APIError
	assert.True(t, errors.As(err, &apiErr))
}

func TestPositions_ExhaustsRetries(t *testing.T) {
	src := &fakeSource{successAfterN: 100}
	_, err := NewClient(src, nil, fastConfig()).Positions(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 4 attempts")
	assert.Equal(t, int32(4), atomic.LoadInt32(&src.callCount))
}

func TestPositions_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClient(&fakeSource{}, nil, fastConfig()).Positions(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsTransientError(t *testing.T) {
	c := NewClient(&fakeSource{}, nil)
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"timeout text", errors.New("i/o timeout"), true},
		{"connection reset", errors.New("read: connection reset by peer"), true},
		{"rate limited", &broker.APIError{Status: 429}, true},
		{"server error", &broker.APIError{Status: 502}, true},
		{"bad request", &broker.APIError{Status: 400}, false},
		{"open breaker", gobreaker.ErrOpenState, false},
		{"conversion", errors.New("position X has fractional quantity 1.5"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.isTransientError(tt.err))
		})
	}
}

func TestCalculateNextBackoff_Capped(t *testing.T) {
	c := NewClient(&fakeSource{}, nil, Config{MaxBackoff: 10 * time.Second})
	for i := 0; i < 20; i++ {
		next := c.calculateNextBackoff(8 * time.Second)
		assert.GreaterOrEqual(t, next, 10*time.Second)
		assert.Less(t, next, 10*time.Second+10*time.Second/4)
	}
}
