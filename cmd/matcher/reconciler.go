package main

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/strategy_matcher/internal/broker"
	"github.com/eddiefleurent/strategy_matcher/internal/orders"
)

// Reconciler periodically replaces the book with the broker's position
// snapshot so fills booked elsewhere (manual trades, assignments, expiries)
// are reflected in the match.
type Reconciler struct {
	source        broker.PositionSource
	manager       *orders.Manager
	logger        *logrus.Logger
	interval      time.Duration
	coldStartOnce sync.Once
}

// NewReconciler creates a new position reconciler
func NewReconciler(source broker.PositionSource, manager *orders.Manager, logger *logrus.Logger, interval time.Duration) *Reconciler {
	return &Reconciler{
		source:   source,
		manager:  manager,
		logger:   logger,
		interval: interval,
	}
}

// Reconcile runs one broker sync. On error the previous book is kept.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	snap, err := r.manager.Sync(ctx, r.source)
	if err != nil {
		r.logger.WithError(err).Warn("Broker reconciliation failed, keeping current book")
		return err
	}

	// The first successful sync replaces whatever the local file held.
	r.coldStartOnce.Do(func() {
		r.logger.WithField("positions", snap.Positions).Info("Loaded initial broker snapshot")
	})

	fields := logrus.Fields{
		"snapshot":  shortID(snap.ID),
		"positions": snap.Positions,
		"instances": len(snap.Result.Instances),
		"residuals": len(snap.Result.Residuals),
	}
	if snap.Margin != nil {
		fields["margin"] = snap.Margin.Total.StringFixed(2)
	}
	r.logger.WithFields(fields).Info("Reconciled book with broker")
	return nil
}

// Run reconciles immediately and then every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	_ = r.Reconcile(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_ = r.Reconcile(ctx)
		}
	}
}
