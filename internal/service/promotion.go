package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	"github.com/Shivanand-hulikatti/vendor-directory/internal/metrics"
	"github.com/Shivanand-hulikatti/vendor-directory/internal/model"
	"github.com/Shivanand-hulikatti/vendor-directory/internal/notify"
	"github.com/Shivanand-hulikatti/vendor-directory/internal/repository"
)

// DefaultClaimWindow is how long a notified applicant has to register.
const DefaultClaimWindow = 7 * 24 * time.Hour

// PromotionEngine hands freed slots to the waitlist in strict FIFO order.
type PromotionEngine struct {
	store       repository.Store
	ledger      *CapacityLedger
	dispatcher  notify.Dispatcher
	clock       clock.PassiveClock
	claimWindow time.Duration
}

// NewPromotionEngine constructs a PromotionEngine.
func NewPromotionEngine(store repository.Store, ledger *CapacityLedger, dispatcher notify.Dispatcher, clk clock.PassiveClock, claimWindow time.Duration) *PromotionEngine {
	if claimWindow <= 0 {
		claimWindow = DefaultClaimWindow
	}
	return &PromotionEngine{
		store:       store,
		ledger:      ledger,
		dispatcher:  dispatcher,
		clock:       clk,
		claimWindow: claimWindow,
	}
}

// PromoteNext notifies the oldest WAITING entry, optionally restricted to a
// category. It fails with ErrNoEligibleEntry when the queue is empty.
func (p *PromotionEngine) PromoteNext(ctx context.Context, categoryID string) (*model.WaitlistEntry, error) {
	return p.promote(ctx, func(q repository.Queries) (*model.WaitlistEntry, error) {
		e, err := q.OldestWaiting(ctx, categoryID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoEligibleEntry
		}
		return e, err
	})
}

// Promote notifies a specific entry, which must be WAITING.
func (p *PromotionEngine) Promote(ctx context.Context, id string) (*model.WaitlistEntry, error) {
	return p.promote(ctx, func(q repository.Queries) (*model.WaitlistEntry, error) {
		e, err := q.GetWaitlistEntry(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		if !e.Status.CanTransitionTo(model.StatusNotified) {
			return nil, fmt.Errorf("%w: entry is %s", ErrInvalidStatusTransition, e.Status)
		}
		return e, nil
	})
}

// promote runs the selection, the WAITING -> NOTIFIED transition and the
// claim message as one gated unit. If the message cannot be sent the unit
// fails and the entry stays WAITING with its place intact. Open claims count
// against the ceiling, so one freed slot yields one claim window.
func (p *PromotionEngine) promote(ctx context.Context, pick func(q repository.Queries) (*model.WaitlistEntry, error)) (*model.WaitlistEntry, error) {
	logger := logr.FromContextOrDiscard(ctx)
	now := p.clock.Now().UTC()
	deadline := now.Add(p.claimWindow)

	var sent *model.WaitlistEntry
	err := p.store.WithGate(ctx, func(q repository.Queries) error {
		free, err := p.ledger.promotableSlot(ctx, q, now)
		if err != nil {
			return err
		}
		if !free {
			return ErrNoSlotAvailable
		}

		candidate, err := pick(q)
		if err != nil {
			return err
		}

		updated, err := q.TransitionWaitlistEntry(ctx, candidate.ID, model.StatusWaiting, model.StatusNotified, now, &deadline)
		if errors.Is(err, repository.ErrStaleTransition) {
			return fmt.Errorf("%w: entry left WAITING", ErrInvalidStatusTransition)
		}
		if err != nil {
			return err
		}

		if err := p.dispatcher.SendWaitlistPromotionClaim(ctx, updated, deadline); err != nil {
			metrics.RecordNotificationFailure("waitlist_claim")
			return fmt.Errorf("%w: %v", ErrNotificationDeliveryFailed, err)
		}
		sent = updated
		return nil
	})
	metrics.RecordPromotion(outcome(err))
	if err != nil {
		switch {
		case sent != nil:
			// The message is out but the window was never stored.
			metrics.RecordNotificationFailure("waitlist_claim_uncommitted")
			logger.Error(err, "claim message sent but promotion not committed", "entryID", sent.ID, "email", sent.Email)
			return nil, fmt.Errorf("promote waitlist entry: %w", err)
		case errors.Is(err, ErrNotificationDeliveryFailed):
			logger.Error(err, "promotion rolled back")
			return nil, err
		case isDomainError(err), errors.Is(err, ErrNotFound):
			logger.V(1).Info("promotion refused", "reason", err.Error())
			return nil, err
		}
		return nil, fmt.Errorf("promote waitlist entry: %w", err)
	}

	logger.Info("waitlist entry notified", "entryID", sent.ID, "categoryID", sent.CategoryID, "expiresAt", deadline)
	return sent, nil
}
