// Command integration runs end-to-end regression scenarios through the fill
// manager, margin bridge and a synthetic broker, exiting non-zero on failure.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/strategy_matcher/internal/broker"
	"github.com/eddiefleurent/strategy_matcher/internal/config"
	"github.com/eddiefleurent/strategy_matcher/internal/margin"
	"github.com/eddiefleurent/strategy_matcher/internal/matcher"
	"github.com/eddiefleurent/strategy_matcher/internal/mock"
	"github.com/eddiefleurent/strategy_matcher/internal/models"
	"github.com/eddiefleurent/strategy_matcher/internal/orders"
	"github.com/eddiefleurent/strategy_matcher/internal/storage"
)

var expiry = time.Date(2015, 12, 24, 0, 0, 0, 0, time.UTC)

// env is shared by every scenario.
type env struct {
	rates  margin.Rates
	prices map[string]float64
	logger *logrus.Logger
	dir    string
}

type scenario struct {
	name string
	run  func(ctx context.Context, e *env) error
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Optional configuration file supplying margin rates")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	fmt.Println("=== Strategy Matcher - End-to-End Integration Test ===")
	fmt.Println()

	e := &env{
		rates:  margin.DefaultRates,
		prices: map[string]float64{"GOOG": 700, "SPY": 450},
		logger: logger,
	}
	if configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			logger.Fatalf("Failed to load config: %v", err)
		}
		e.rates = margin.Rates{
			Equity:   decimal.NewFromFloat(cfg.Margin.EquityRate),
			Naked:    decimal.NewFromFloat(cfg.Margin.NakedRate),
			NakedMin: decimal.NewFromFloat(cfg.Margin.NakedMinRate),
		}
	}

	dir, err := os.MkdirTemp("", "matcher-integration-")
	if err != nil {
		logger.Fatalf("Failed to create scratch directory: %v", err)
	}
	// Cleanup test storage at the end
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			logger.WithError(err).Warn("Failed to cleanup scratch directory")
		}
	}()
	e.dir = dir

	scenarios := []scenario{
		{"Naked call becomes covered call", testNakedToCoveredCall},
		{"Structured book is fully recognized", testStructuredBook},
		{"Broker snapshot sync", testBrokerSync},
		{"Random books conserve quantity", testRandomBooks},
		{"Book survives restart", testPersistence},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	passed := 0
	for i, sc := range scenarios {
		title := fmt.Sprintf("Test %d: %s", i+1, sc.name)
		fmt.Println(title)
		fmt.Println(underline(len(title)))
		if err := sc.run(ctx, e); err != nil {
			logger.WithError(err).Error("scenario failed")
			fmt.Println("FAILED")
		} else {
			passed++
			fmt.Println("PASSED")
		}
		fmt.Println()
	}

	fmt.Println("=== Integration Test Results ===")
	fmt.Printf("Tests Passed: %d/%d\n", passed, len(scenarios))
	if passed != len(scenarios) {
		fmt.Printf("%d test(s) failed\n", len(scenarios)-passed)
		os.Exit(1)
	}
	fmt.Println("ALL TESTS PASSED")
}

func underline(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = '='
	}
	return string(b)
}

func (e *env) manager(store storage.Interface, prices margin.PriceSource) *orders.Manager {
	if prices == nil {
		prices = margin.NewStaticPrices(e.prices)
	}
	bridge := margin.NewBridge(margin.NewRuleModel(e.rates), prices, e.logger)
	return orders.NewManager(matcher.NewEngine(nil, e.logger, matcher.Config{Parallelism: 4}), store, bridge, e.logger, nil)
}

func testNakedToCoveredCall(ctx context.Context, e *env) error {
	m := e.manager(storage.NewMockStorage(), nil)

	snap, err := m.Apply(ctx, storage.Fill{
		Contract: models.NewOptionPosition("GOOG", models.RightCall, 750, expiry, 0),
		Delta:    -5,
		Source:   "integration",
	})
	if err != nil {
		return err
	}
	if err := matcher.AssertStrategyIsPresent(snap.Result, "Naked Call", 5); err != nil {
		return err
	}
	if snap.Margin == nil {
		return fmt.Errorf("margin unavailable: %s", snap.MarginError)
	}
	e.logger.WithField("margin", snap.Margin.Total.StringFixed(2)).Info("naked call margin")

	snap, err = m.Apply(ctx, storage.Fill{
		Contract: models.Position{Underlying: "GOOG", Kind: models.KindEquity},
		Delta:    500,
		Source:   "integration",
	})
	if err != nil {
		return err
	}
	if err := matcher.AssertStrategyIsPresent(snap.Result, "Covered Call", 5); err != nil {
		return err
	}
	if len(snap.Result.Residuals) != 0 {
		return fmt.Errorf("expected no residuals, got %v", snap.Result.Summary())
	}
	if snap.Margin == nil {
		return fmt.Errorf("margin unavailable: %s", snap.MarginError)
	}
	if !snap.Margin.Total.LessThan(snap.Unmatched.Total) {
		return fmt.Errorf("matched margin %s is not below unmatched %s", snap.Margin.Total, snap.Unmatched.Total)
	}
	e.logger.WithFields(logrus.Fields{
		"matched":   snap.Margin.Total.StringFixed(2),
		"unmatched": snap.Unmatched.Total.StringFixed(2),
	}).Info("covered call margin")
	return nil
}

func testStructuredBook(ctx context.Context, e *env) error {
	provider := mock.NewDataProvider(e.prices)
	store := storage.NewMockStorage()
	for _, u := range provider.Underlyings() {
		book, err := provider.StructuredBook(u, 2, time.Now())
		if err != nil {
			return err
		}
		for _, p := range book {
			if _, err := store.ApplyFill(storage.Fill{Contract: p, Delta: p.Quantity}); err != nil {
				return err
			}
		}
	}

	snap, err := e.manager(store, nil).Rematch(ctx)
	if err != nil {
		return err
	}
	for _, u := range provider.Underlyings() {
		res := snap.Result.ForUnderlying(u)
		for _, name := range []string{"Iron Condor", "Covered Call", "Straddle"} {
			if err := matcher.AssertStrategyIsPresent(&res, name, 2); err != nil {
				return fmt.Errorf("%s: %w", u, err)
			}
		}
	}
	if len(snap.Result.Residuals) != 0 {
		return fmt.Errorf("expected no residuals, got %v", snap.Result.Summary())
	}
	for _, line := range snap.Result.Summary() {
		e.logger.Info(line)
	}
	return nil
}

func testBrokerSync(ctx context.Context, e *env) error {
	provider := mock.NewDataProvider(e.prices)
	provider.SetDrift(0)
	book, err := provider.StructuredBook("SPY", 1, time.Now())
	if err != nil {
		return err
	}
	if err := provider.SetPositions(book); err != nil {
		return err
	}

	client := broker.NewClient(broker.NewCircuitBreakerBroker(provider, e.logger))
	store := storage.NewMockStorage()
	m := e.manager(store, client)

	snap, err := m.Sync(ctx, client)
	if err != nil {
		return err
	}
	if got := len(store.Positions()); got != len(book) {
		return fmt.Errorf("synced %d positions, want %d", got, len(book))
	}
	if err := matcher.AssertStrategyIsPresent(snap.Result, "Iron Condor", 1); err != nil {
		return err
	}
	if snap.Margin == nil {
		return fmt.Errorf("margin unavailable: %s", snap.MarginError)
	}
	// 10-point wings, one contract
	want := decimal.NewFromInt(1000)
	for _, line := range snap.Margin.Instances {
		if line.Description != "Iron Condor" {
			continue
		}
		if !line.Amount.Equal(want) {
			return fmt.Errorf("iron condor margin %s, want %s", line.Amount, want)
		}
		return nil
	}
	return fmt.Errorf("no iron condor margin line")
}

func testRandomBooks(ctx context.Context, e *env) error {
	provider := mock.NewDataProvider(e.prices)
	engine := matcher.NewEngine(nil, e.logger, matcher.Config{Parallelism: 4})
	for i := 0; i < 25; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, inv, err := engine.SearchPositions(provider.GenerateBook(30, time.Now()))
		if err != nil {
			return err
		}
		if err := res.VerifyConservation(inv); err != nil {
			return err
		}
	}
	return nil
}

func testPersistence(ctx context.Context, e *env) error {
	path := filepath.Join(e.dir, "book.json")
	store, err := storage.NewJSONStorage(path)
	if err != nil {
		return err
	}
	m := e.manager(store, nil)
	for _, f := range []storage.Fill{
		{Contract: models.NewOptionPosition("SPY", models.RightPut, 440, expiry, 0), Delta: -3},
		{Contract: models.NewOptionPosition("SPY", models.RightPut, 430, expiry, 0), Delta: 3},
	} {
		if _, err := m.Apply(ctx, f); err != nil {
			return err
		}
	}

	reopened, err := storage.NewJSONStorage(path)
	if err != nil {
		return err
	}
	snap, err := e.manager(reopened, nil).Rematch(ctx)
	if err != nil {
		return err
	}
	if err := matcher.AssertStrategyIsPresent(snap.Result, "Bull Put Spread", 3); err != nil {
		return err
	}
	if n := len(reopened.Fills()); n != 2 {
		return fmt.Errorf("fill journal has %d entries after restart, want 2", n)
	}
	return nil
}
