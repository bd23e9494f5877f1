package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	"github.com/Shivanand-hulikatti/vendor-directory/internal/model"
	"github.com/Shivanand-hulikatti/vendor-directory/internal/repository"
)

// WaitlistService serves waitlist reads and withdrawals. Reads sweep first so
// lapsed claims are never reported as still NOTIFIED.
type WaitlistService struct {
	store   repository.Queries
	sweeper *ExpirySweeper
	clock   clock.PassiveClock
}

// NewWaitlistService constructs a WaitlistService.
func NewWaitlistService(store repository.Queries, sweeper *ExpirySweeper, clk clock.PassiveClock) *WaitlistService {
	return &WaitlistService{store: store, sweeper: sweeper, clock: clk}
}

// Get returns one entry with its current position.
func (s *WaitlistService) Get(ctx context.Context, id string) (*model.WaitlistEntry, error) {
	if _, err := s.sweeper.SweepExpired(ctx); err != nil {
		return nil, err
	}
	e, err := s.store.GetWaitlistEntry(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get waitlist entry: %w", err)
	}
	return e, nil
}

// List returns entries grouped by status and FIFO within each group.
func (s *WaitlistService) List(ctx context.Context, filter model.WaitlistFilter) ([]model.WaitlistEntry, error) {
	if _, err := s.sweeper.SweepExpired(ctx); err != nil {
		return nil, err
	}
	entries, err := s.store.ListWaitlist(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list waitlist: %w", err)
	}
	return entries, nil
}

// Cancel withdraws a WAITING or NOTIFIED entry.
func (s *WaitlistService) Cancel(ctx context.Context, id string) (*model.WaitlistEntry, error) {
	e, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !e.Status.CanTransitionTo(model.StatusCancelled) {
		return nil, fmt.Errorf("%w: entry is %s", ErrInvalidStatusTransition, e.Status)
	}

	updated, err := s.store.TransitionWaitlistEntry(ctx, id, e.Status, model.StatusCancelled, s.clock.Now().UTC(), nil)
	switch {
	case errors.Is(err, repository.ErrStaleTransition):
		return nil, fmt.Errorf("%w: entry changed state", ErrInvalidStatusTransition)
	case errors.Is(err, repository.ErrNotFound):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("cancel waitlist entry: %w", err)
	}

	logr.FromContextOrDiscard(ctx).Info("waitlist entry cancelled", "entryID", id, "from", e.Status.String())
	return updated, nil
}
