// Package orders applies fills to the position book and re-runs the strategy
// search and margin computation after every change.
package orders

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/strategy_matcher/internal/broker"
	"github.com/eddiefleurent/strategy_matcher/internal/margin"
	"github.com/eddiefleurent/strategy_matcher/internal/matcher"
	"github.com/eddiefleurent/strategy_matcher/internal/storage"
	"github.com/eddiefleurent/strategy_matcher/internal/strategy"
)

// Config contains configuration for the fill manager.
type Config struct {
	// CallTimeout bounds one broker snapshot or margin pricing call.
	CallTimeout time.Duration
}

// DefaultConfig is the default configuration for the fill manager.
var DefaultConfig = Config{
	CallTimeout: 10 * time.Second,
}

// Observer is notified of processed fills and fresh margin requirements.
type Observer interface {
	ObserveFill(err error)
	ObserveMargin(req *margin.Requirement)
}

// Snapshot is the match and margin state right after one book change.
type Snapshot struct {
	ID          string              `json:"id"`
	Time        time.Time           `json:"time"`
	Fill        *storage.Fill       `json:"fill,omitempty"`
	Positions   int                 `json:"positions"`
	Result      *matcher.Result     `json:"result"`
	Margin      *margin.Requirement `json:"margin,omitempty"`
	Unmatched   *margin.Requirement `json:"unmatched,omitempty"`
	MarginError string              `json:"margin_error,omitempty"`
}

// Manager serializes book changes so every fill is followed by exactly one
// rematch against the book that includes it.
type Manager struct {
	engine   *matcher.Engine
	storage  storage.Interface
	bridge   *margin.Bridge
	logger   *logrus.Logger
	observer Observer
	config   Config

	mu     sync.Mutex // serializes apply + rematch
	latest struct {
		sync.RWMutex
		snap *Snapshot
	}
}

// NewManager creates a new fill manager. bridge and observer may be nil.
func NewManager(
	engine *matcher.Engine,
	store storage.Interface,
	bridge *margin.Bridge,
	logger *logrus.Logger,
	observer Observer,
	config ...Config,
) *Manager {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultConfig.CallTimeout
	}

	// Guard against nil logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}

	// Validate required dependencies (fail fast to avoid later panics)
	if engine == nil {
		panic("orders.NewManager: engine must not be nil")
	}
	if store == nil {
		panic("orders.NewManager: storage must not be nil")
	}

	return &Manager{
		engine:   engine,
		storage:  store,
		bridge:   bridge,
		logger:   logger,
		observer: observer,
		config:   cfg,
	}
}

// Apply books one fill, then rematches and reprices the whole book.
// A rejected fill leaves the book and the latest snapshot untouched.
func (m *Manager) Apply(ctx context.Context, fill storage.Fill) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, err := m.storage.ApplyFill(fill)
	if m.observer != nil {
		m.observer.ObserveFill(err)
	}
	if err != nil {
		m.logger.WithError(err).Warn("fill rejected")
		return nil, fmt.Errorf("applying fill: %w", err)
	}
	m.logger.WithFields(logrus.Fields{
		"fill":     stored.ID,
		"contract": stored.Contract.ID,
		"delta":    stored.Delta,
	}).Info("fill applied")

	return m.rematch(ctx, &stored)
}

// Rematch recomputes the snapshot for the current book.
func (m *Manager) Rematch(ctx context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rematch(ctx, nil)
}

// Sync replaces the book with a broker snapshot and rematches it.
func (m *Manager) Sync(ctx context.Context, source broker.PositionSource) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, m.config.CallTimeout)
	positions, err := source.Positions(callCtx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("fetching broker positions: %w", err)
	}
	if err := m.storage.Replace(positions); err != nil {
		return nil, fmt.Errorf("replacing book: %w", err)
	}
	m.logger.WithField("positions", len(positions)).Info("book synced from broker")
	return m.rematch(ctx, nil)
}

// Run applies fills from the channel until it closes or ctx is done.
// Rejected fills are logged and skipped.
func (m *Manager) Run(ctx context.Context, fills <-chan storage.Fill) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fill, ok := <-fills:
			if !ok {
				return nil
			}
			if _, err := m.Apply(ctx, fill); err != nil && !errors.Is(err, context.Canceled) {
				m.logger.WithError(err).Error("fill processing failed")
			}
		}
	}
}

// Catalog returns the strategy catalog the manager matches against.
func (m *Manager) Catalog() *strategy.Catalog {
	return m.engine.Catalog()
}

// Latest returns the most recent snapshot, or nil before the first rematch.
func (m *Manager) Latest() *Snapshot {
	m.latest.RLock()
	defer m.latest.RUnlock()
	return m.latest.snap
}

func (m *Manager) rematch(ctx context.Context, fill *storage.Fill) (*Snapshot, error) {
	res, inv, err := m.engine.SearchPositions(m.storage.Positions())
	if err != nil {
		return nil, fmt.Errorf("matching book: %w", err)
	}

	snap := &Snapshot{
		ID:        uuid.New().String(),
		Time:      time.Now().UTC(),
		Fill:      fill,
		Positions: inv.Len(),
		Result:    res,
	}

	if m.bridge != nil {
		callCtx, cancel := context.WithTimeout(ctx, m.config.CallTimeout)
		req, err := m.bridge.Compute(callCtx, inv, res)
		if err == nil {
			snap.Margin = req
			snap.Unmatched, err = m.bridge.Unmatched(callCtx, inv)
		}
		cancel()
		if err != nil {
			// The book changed either way; report margin as unavailable.
			snap.MarginError = err.Error()
			m.logger.WithError(err).Warn("margin unavailable")
		} else if m.observer != nil {
			m.observer.ObserveMargin(snap.Margin)
		}
	}

	m.latest.Lock()
	m.latest.snap = snap
	m.latest.Unlock()

	m.logger.WithFields(logrus.Fields{
		"snapshot":  snap.ID,
		"instances": len(res.Instances),
		"residuals": len(res.Residuals),
	}).Info("book rematched")
	return snap, nil
}
