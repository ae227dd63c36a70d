// Command matcher keeps an option position book, recognizes the strategies it
// holds and serves the resulting margin requirement over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/eddiefleurent/strategy_matcher/internal/broker"
	"github.com/eddiefleurent/strategy_matcher/internal/config"
	"github.com/eddiefleurent/strategy_matcher/internal/dashboard"
	"github.com/eddiefleurent/strategy_matcher/internal/margin"
	"github.com/eddiefleurent/strategy_matcher/internal/matcher"
	"github.com/eddiefleurent/strategy_matcher/internal/metrics"
	"github.com/eddiefleurent/strategy_matcher/internal/mock"
	"github.com/eddiefleurent/strategy_matcher/internal/models"
	"github.com/eddiefleurent/strategy_matcher/internal/orders"
	"github.com/eddiefleurent/strategy_matcher/internal/retry"
	"github.com/eddiefleurent/strategy_matcher/internal/storage"
	"github.com/eddiefleurent/strategy_matcher/internal/strategy"
)

const shutdownTimeout = 5 * time.Second

// App wires the matcher service together.
type App struct {
	config     *config.Config
	logger     *logrus.Logger
	metrics    *metrics.Metrics
	storage    storage.Interface
	manager    *orders.Manager
	server     *dashboard.Server
	reconciler *Reconciler
	fills      chan storage.Fill
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Environment)
	if err != nil {
		logrus.Fatalf("Failed to create logger: %v", err)
	}

	app, err := NewApp(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize: %v", err)
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		logger.Fatalf("Matcher error: %v", err)
	}
	logger.Info("Matcher stopped successfully")
}

func newLogger(env config.EnvironmentConfig) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(env.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	logger.SetLevel(level)

	if env.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}

// NewApp builds every component from cfg.
func NewApp(cfg *config.Config, logger *logrus.Logger) (*App, error) {
	var catalog *strategy.Catalog
	if cfg.Matcher.CatalogPath != "" {
		c, err := strategy.LoadCatalog(cfg.Matcher.CatalogPath)
		if err != nil {
			return nil, fmt.Errorf("loading catalog: %w", err)
		}
		catalog = c
		logger.WithFields(logrus.Fields{
			"path":      cfg.Matcher.CatalogPath,
			"templates": c.Len(),
			"version":   c.Version(),
		}).Info("Loaded strategy catalog")
	}

	m := metrics.New()
	engine := matcher.NewEngine(catalog, logger, matcher.Config{
		Parallelism: cfg.Matcher.Parallelism,
		Observer:    m,
	})

	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	static := margin.NewStaticPrices(cfg.Margin.Prices)
	var prices margin.PriceSource = static

	app := &App{
		config:  cfg,
		logger:  logger,
		metrics: m,
		storage: store,
		fills:   make(chan storage.Fill, cfg.Fills.Buffer),
	}

	var source broker.PositionSource
	if cfg.Broker.Enabled {
		b, err := newBroker(cfg, logger)
		if err != nil {
			return nil, err
		}
		cb := broker.NewCircuitBreakerBrokerWithSettings(b, breakerSettings(cfg.Broker.Breaker), logger)
		client := broker.NewClient(cb)
		prices = margin.FallbackPrices{client, static}
		source = retry.NewClient(client, logger, retryConfig(cfg.Broker.Retry))
	}

	rates := margin.Rates{
		Equity:   decimal.NewFromFloat(cfg.Margin.EquityRate),
		Naked:    decimal.NewFromFloat(cfg.Margin.NakedRate),
		NakedMin: decimal.NewFromFloat(cfg.Margin.NakedMinRate),
	}
	bridge := margin.NewBridge(margin.NewRuleModel(rates), prices, logger)

	app.manager = orders.NewManager(engine, store, bridge, logger, m, orders.Config{
		CallTimeout: cfg.GetCallTimeout(),
	})

	if source != nil {
		app.reconciler = NewReconciler(source, app.manager, logger, cfg.GetSyncInterval())
	}

	if cfg.Dashboard.Enabled {
		app.server = dashboard.NewServer(dashboard.Config{
			Port:      cfg.Dashboard.Port,
			AuthToken: cfg.Dashboard.AuthToken,
		}, app.manager, store, m.Handler(), app.fills, logger)
	}

	return app, nil
}

func newBroker(cfg *config.Config, logger *logrus.Logger) (broker.Broker, error) {
	switch cfg.Broker.Provider {
	case config.ProviderMock:
		provider := mock.NewDataProvider(cfg.Margin.Prices)
		var positions []models.Position
		for _, u := range provider.Underlyings() {
			book, err := provider.StructuredBook(u, 1, time.Now())
			if err != nil {
				logger.WithError(err).WithField("underlying", u).Warn("Skipping mock underlying")
				continue
			}
			positions = append(positions, book...)
		}
		if err := provider.SetPositions(positions); err != nil {
			return nil, fmt.Errorf("seeding mock broker: %w", err)
		}
		logger.WithField("positions", len(positions)).Info("Using mock broker")
		return provider, nil
	default:
		logger.WithField("sandbox", cfg.Broker.Sandbox).Info("Using Tradier broker")
		return broker.NewTradierAPI(cfg.Broker.APIKey, cfg.Broker.AccountID, cfg.Broker.Sandbox,
			cfg.Broker.APIEndpoint, logger), nil
	}
}

func breakerSettings(c config.BreakerConfig) broker.CircuitBreakerSettings {
	s := broker.DefaultCircuitBreakerSettings
	if c.MaxRequests > 0 {
		s.MaxRequests = c.MaxRequests
	}
	if c.MinRequests > 0 {
		s.MinRequests = c.MinRequests
	}
	if c.FailureRatio > 0 {
		s.FailureRatio = c.FailureRatio
	}
	s.Interval = config.Duration(c.Interval, s.Interval)
	s.Timeout = config.Duration(c.Timeout, s.Timeout)
	return s
}

func retryConfig(c config.RetryConfig) retry.Config {
	r := retry.DefaultConfig
	if c.MaxRetries > 0 {
		r.MaxRetries = c.MaxRetries
	}
	r.InitialBackoff = config.Duration(c.InitialBackoff, r.InitialBackoff)
	r.MaxBackoff = config.Duration(c.MaxBackoff, r.MaxBackoff)
	return r
}

// Run serves fills, broker reconciliation and the dashboard until ctx is done.
func (a *App) Run(ctx context.Context) error {
	a.logger.WithFields(logrus.Fields{
		"storage":   a.config.Storage.Path,
		"positions": len(a.storage.Positions()),
		"broker":    a.config.Broker.Enabled,
		"dashboard": a.config.Dashboard.Enabled,
	}).Info("Matcher starting")

	snap, err := a.manager.Rematch(ctx)
	if err != nil {
		return fmt.Errorf("initial match: %w", err)
	}
	a.logger.WithFields(logrus.Fields{
		"snapshot":  shortID(snap.ID),
		"instances": len(snap.Result.Instances),
		"residuals": len(snap.Result.Residuals),
	}).Info("Initial match complete")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.manager.Run(gctx, a.fills); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if a.reconciler != nil {
		g.Go(func() error { return a.reconciler.Run(gctx) })
	}

	if a.server != nil {
		g.Go(a.server.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return a.server.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	if saveErr := a.storage.Save(); saveErr != nil {
		a.logger.WithError(saveErr).Error("Failed to save book on shutdown")
	}
	return err
}
