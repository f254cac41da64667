// Package sweeper runs the periodic hold-expiry pass.
package sweeper

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	defaultInterval = time.Minute
	defaultBatch    = 100
)

// Expirer is the slice of the ledger service the sweeper needs.
type Expirer interface {
	ExpireDue(ctx context.Context, limit int) (int, error)
}

// Sweeper periodically expires stale holds. Expiry is already logical at read
// time, so a delayed sweep never affects balances; it only converges stored
// hold status.
type Sweeper struct {
	expirer  Expirer
	logger   *zap.Logger
	interval time.Duration
	batch    int
}

// New wires a Sweeper with sane defaults for zero interval or batch.
func New(expirer Expirer, logger *zap.Logger, interval time.Duration, batch int) *Sweeper {
	if interval <= 0 {
		interval = defaultInterval
	}
	if batch <= 0 {
		batch = defaultBatch
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{expirer: expirer, logger: logger, interval: interval, batch: batch}
}

// Run sweeps until ctx is cancelled.
func (sweeper *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sweeper.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweeper.SweepOnce(ctx)
		}
	}
}

// SweepOnce drains all currently-due holds in batches and returns how many it
// expired.
func (sweeper *Sweeper) SweepOnce(ctx context.Context) int {
	total := 0
	for {
		expired, err := sweeper.expirer.ExpireDue(ctx, sweeper.batch)
		total += expired
		if err != nil {
			sweeper.logger.Warn("hold expiry sweep failed", zap.Int("expired", total), zap.Error(err))
			return total
		}
		if expired < sweeper.batch {
			break
		}
	}
	if total > 0 {
		sweeper.logger.Info("expired stale holds", zap.Int("count", total))
	}
	return total
}
