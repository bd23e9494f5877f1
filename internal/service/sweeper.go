package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	"github.com/Shivanand-hulikatti/vendor-directory/internal/metrics"
	"github.com/Shivanand-hulikatti/vendor-directory/internal/repository"
)

// ExpirySweeper moves NOTIFIED entries whose claim window has passed to
// EXPIRED. It never promotes; that stays a separate, explicit step.
type ExpirySweeper struct {
	store repository.Queries
	clock clock.WithTicker
}

// NewExpirySweeper constructs an ExpirySweeper.
func NewExpirySweeper(store repository.Queries, clk clock.WithTicker) *ExpirySweeper {
	return &ExpirySweeper{store: store, clock: clk}
}

// SweepExpired returns how many entries it expired. Running it again with no
// new NOTIFIED entries returns 0.
func (s *ExpirySweeper) SweepExpired(ctx context.Context) (int, error) {
	ids, err := s.store.ExpireNotified(ctx, s.clock.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("sweep expired claims: %w", err)
	}
	metrics.RecordExpired(len(ids))
	if len(ids) > 0 {
		logr.FromContextOrDiscard(ctx).Info("expired unclaimed waitlist entries", "count", len(ids), "entryIDs", ids)
	}
	return len(ids), nil
}

// Run sweeps every interval until ctx is cancelled. Sweep failures are
// logged and retried on the next tick.
func (s *ExpirySweeper) Run(ctx context.Context, interval time.Duration) error {
	logger := logr.FromContextOrDiscard(ctx).WithName("sweeper")
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("periodic sweep started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			if _, err := s.SweepExpired(ctx); err != nil {
				logger.Error(err, "periodic sweep failed")
			}
		}
	}
}
