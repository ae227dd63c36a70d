package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"testing/quick"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/strategy_matcher/internal/broker"
	"github.com/eddiefleurent/strategy_matcher/internal/config"
	"github.com/eddiefleurent/strategy_matcher/internal/matcher"
	"github.com/eddiefleurent/strategy_matcher/internal/models"
	"github.com/eddiefleurent/strategy_matcher/internal/retry"
	"github.com/eddiefleurent/strategy_matcher/internal/storage"
)

func TestShortID(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"len_gt_8_ascii", "1234567890abcdef", "12345678"},
		{"len_eq_8_ascii", "12345678", "12345678"},
		{"len_lt_8_ascii", "abcd", "abcd"},
		{"empty_string", "", ""},
		{"uuid", "0b5a3c1e-9f2d-4e7a-8c6b-1d2e3f4a5b6c", "0b5a3c1e"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, shortID(tc.in))
		})
	}

	prop := func(s string) bool {
		got := shortID(s)
		if len(s) <= 8 {
			return got == s
		}
		return got == s[:8]
	}
	require.NoError(t, quick.Check(prop, &quick.Config{MaxCount: 512}))
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger(config.EnvironmentConfig{LogLevel: "debug", LogFormat: "json"})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	logger, err = newLogger(config.EnvironmentConfig{LogLevel: "warn", LogFormat: "text"})
	require.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)

	_, err = newLogger(config.EnvironmentConfig{LogLevel: "loud"})
	assert.Error(t, err)
}

func TestBreakerSettings(t *testing.T) {
	assert.Equal(t, broker.DefaultCircuitBreakerSettings, breakerSettings(config.BreakerConfig{}))

	got := breakerSettings(config.BreakerConfig{MaxRequests: 1, MinRequests: 2, FailureRatio: 0.9, Interval: "2m", Timeout: "bogus"})
	assert.Equal(t, uint32(1), got.MaxRequests)
	assert.Equal(t, uint32(2), got.MinRequests)
	assert.Equal(t, 0.9, got.FailureRatio)
	assert.Equal(t, 2*time.Minute, got.Interval)
	assert.Equal(t, broker.DefaultCircuitBreakerSettings.Timeout, got.Timeout)
}

func TestRetryConfig(t *testing.T) {
	assert.Equal(t, retry.DefaultConfig, retryConfig(config.RetryConfig{}))

	got := retryConfig(config.RetryConfig{MaxRetries: 5, InitialBackoff: "250ms", MaxBackoff: "4s"})
	assert.Equal(t, 5, got.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, got.InitialBackoff)
	assert.Equal(t, 4*time.Second, got.MaxBackoff)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func parseConfig(t *testing.T, doc string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "book.json")
	cfg, err := config.Parse([]byte(fmt.Sprintf("storage:\n  path: %s\n%s", path, doc)))
	require.NoError(t, err)
	return cfg
}

func TestNewApp_BadCatalog(t *testing.T) {
	cfg := parseConfig(t, "matcher:\n  catalog_path: /nonexistent/catalog.yaml\n")
	_, err := NewApp(cfg, quietLogger())
	assert.Error(t, err)
}

func TestNewApp_MockBrokerReconciles(t *testing.T) {
	cfg := parseConfig(t, "broker:\n  enabled: true\n  provider: mock\n")
	app, err := NewApp(cfg, quietLogger())
	require.NoError(t, err)
	require.NotNil(t, app.reconciler)
	assert.Nil(t, app.server)

	require.NoError(t, app.reconciler.Reconcile(context.Background()))
	snap := app.manager.Latest()
	require.NotNil(t, snap)
	assert.Empty(t, snap.Result.Residuals)
	for _, u := range []string{"AAPL", "GOOG", "SPY"} {
		res := snap.Result.ForUnderlying(u)
		assert.NoError(t, matcher.AssertStrategyIsPresent(&res, "Iron Condor", 1), u)
		assert.NoError(t, matcher.AssertStrategyIsPresent(&res, "Covered Call", 1), u)
		assert.NoError(t, matcher.AssertStrategyIsPresent(&res, "Straddle", 1), u)
	}
	require.NotNil(t, snap.Margin, snap.MarginError)
	assert.True(t, snap.Margin.Total.LessThan(snap.Unmatched.Total))
}

type failingSource struct{}

func (failingSource) Positions(context.Context) ([]models.Position, error) {
	return nil, errors.New("connection refused")
}

func TestReconciler_KeepsBookOnFailure(t *testing.T) {
	cfg := parseConfig(t, "margin:\n  prices:\n    GOOG: 700\n")
	app, err := NewApp(cfg, quietLogger())
	require.NoError(t, err)

	first, err := app.manager.Apply(context.Background(), storage.Fill{
		Contract: models.Position{Underlying: "GOOG", Kind: models.KindEquity},
		Delta:    100,
	})
	require.NoError(t, err)

	r := NewReconciler(failingSource{}, app.manager, quietLogger(), time.Hour)
	assert.Error(t, r.Reconcile(context.Background()))
	assert.Same(t, first, app.manager.Latest())
	assert.Len(t, app.storage.Positions(), 1)
}

func TestApp_RunProcessesFillsAndPersists(t *testing.T) {
	cfg := parseConfig(t, "margin:\n  prices:\n    GOOG: 700\n")
	app, err := NewApp(cfg, quietLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	expiry := time.Date(2015, 12, 24, 0, 0, 0, 0, time.UTC)
	app.fills <- storage.Fill{
		Contract: models.NewOptionPosition("GOOG", models.RightCall, 750, expiry, 0),
		Delta:    -5,
	}
	app.fills <- storage.Fill{
		Contract: models.Position{Underlying: "GOOG", Kind: models.KindEquity},
		Delta:    500,
	}

	require.Eventually(t, func() bool {
		snap := app.manager.Latest()
		return snap != nil && snap.Fill != nil && snap.Fill.Delta == 500
	}, 5*time.Second, 10*time.Millisecond)

	snap := app.manager.Latest()
	assert.NoError(t, matcher.AssertStrategyIsPresent(snap.Result, "Covered Call", 5))
	require.NotNil(t, snap.Margin)
	assert.Equal(t, "175000", snap.Margin.Total.String())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	reopened, err := storage.NewJSONStorage(cfg.Storage.Path)
	require.NoError(t, err)
	assert.Len(t, reopened.Positions(), 2)
	assert.Len(t, reopened.Fills(), 2)
}
