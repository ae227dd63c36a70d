// audit_book - A utility to audit broker positions against the local book.
// It lists contracts whose quantities disagree and shows which strategies the
// broker's positions would be matched into.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/strategy_matcher/internal/broker"
	"github.com/eddiefleurent/strategy_matcher/internal/config"
	"github.com/eddiefleurent/strategy_matcher/internal/matcher"
	"github.com/eddiefleurent/strategy_matcher/internal/mock"
	"github.com/eddiefleurent/strategy_matcher/internal/models"
	"github.com/eddiefleurent/strategy_matcher/internal/storage"
)

// Discrepancy is one contract whose local and broker quantities differ.
type Discrepancy struct {
	Contract string `json:"contract"`
	Local    int64  `json:"local"`
	Broker   int64  `json:"broker"`
}

// Report is the audit output.
type Report struct {
	Discrepancies []Discrepancy           `json:"discrepancies"`
	Strategies    []matcher.StrategyCount `json:"strategies"`
	Summary       []string                `json:"summary"`
}

// maskAccountID masks all but the last 4 characters of an account ID to prevent PII exposure
func maskAccountID(id string) string {
	if len(id) > 4 {
		return strings.Repeat("*", len(id)-4) + id[len(id)-4:]
	}
	return id
}

// diffBooks compares two books by contract key.
func diffBooks(local, remote []models.Position) []Discrepancy {
	type pair struct{ local, broker int64 }
	byKey := make(map[string]*pair)
	get := func(key string) *pair {
		p, ok := byKey[key]
		if !ok {
			p = &pair{}
			byKey[key] = p
		}
		return p
	}
	for _, p := range local {
		get(p.ContractKey()).local += p.Quantity
	}
	for _, p := range remote {
		get(p.ContractKey()).broker += p.Quantity
	}

	out := make([]Discrepancy, 0)
	for key, p := range byKey {
		if p.local != p.broker {
			out = append(out, Discrepancy{Contract: key, Local: p.local, Broker: p.broker})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Contract < out[j].Contract })
	return out
}

func audit(ctx context.Context, source broker.PositionSource, local []models.Position, engine *matcher.Engine) (*Report, error) {
	remote, err := source.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching broker positions: %w", err)
	}
	res, _, err := engine.SearchPositions(remote)
	if err != nil {
		return nil, fmt.Errorf("matching broker positions: %w", err)
	}
	return &Report{
		Discrepancies: diffBooks(local, remote),
		Strategies:    res.Strategies(),
		Summary:       res.Summary(),
	}, nil
}

func newBroker(cfg *config.Config, logger *logrus.Logger) (broker.Broker, error) {
	if cfg.Broker.Provider == config.ProviderMock {
		provider := mock.NewDataProvider(cfg.Margin.Prices)
		var positions []models.Position
		for _, u := range provider.Underlyings() {
			book, err := provider.StructuredBook(u, 1, time.Now())
			if err != nil {
				return nil, err
			}
			positions = append(positions, book...)
		}
		return provider, provider.SetPositions(positions)
	}
	return broker.NewTradierAPI(cfg.Broker.APIKey, cfg.Broker.AccountID, cfg.Broker.Sandbox,
		cfg.Broker.APIEndpoint, logger), nil
}

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "Path to configuration file")
		jsonOutput = flag.Bool("json", false, "Output results as JSON")
		verbose    = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	if !cfg.Broker.Enabled {
		logger.Fatal("broker.enabled is false, nothing to audit against")
	}

	if *verbose {
		fmt.Printf("Using config: %s\n", *configPath)
		fmt.Printf("Broker: %s (sandbox: %t)\n", cfg.Broker.Provider, cfg.Broker.Sandbox)
		fmt.Printf("Account ID: %s\n", maskAccountID(cfg.Broker.AccountID))
		fmt.Printf("Book: %s\n\n", cfg.Storage.Path)
	}

	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		logger.Fatalf("Failed to open book: %v", err)
	}
	b, err := newBroker(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to create broker: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.GetCallTimeout())
	defer cancel()

	report, err := audit(ctx, broker.NewClient(b), store.Positions(), matcher.NewEngine(nil, logger))
	if err != nil {
		logger.Fatalf("Audit failed: %v", err)
	}

	if *jsonOutput {
		output, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			logger.Fatalf("Failed to marshal JSON: %v", err)
		}
		fmt.Println(string(output))
		return
	}

	fmt.Printf("=== BROKER STRATEGIES ===\n")
	for _, line := range report.Summary {
		fmt.Printf("  %s\n", line)
	}
	fmt.Printf("\n=== DISCREPANCIES ===\n")
	if len(report.Discrepancies) == 0 {
		fmt.Printf("Local book matches the broker.\n")
		return
	}
	for i, d := range report.Discrepancies {
		fmt.Printf("  %d. %s local=%d broker=%d\n", i+1, d.Contract, d.Local, d.Broker)
	}
	os.Exit(2)
}
