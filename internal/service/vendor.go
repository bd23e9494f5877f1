package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	"github.com/Shivanand-hulikatti/vendor-directory/internal/metrics"
	"github.com/Shivanand-hulikatti/vendor-directory/internal/model"
	"github.com/Shivanand-hulikatti/vendor-directory/internal/repository"
)

// VendorService changes whether a vendor holds a slot.
type VendorService struct {
	store       repository.Store
	ledger      *CapacityLedger
	sweeper     *ExpirySweeper
	promoter    *PromotionEngine
	clock       clock.PassiveClock
	autoPromote bool
}

// NewVendorService constructs a VendorService. With autoPromote set, every
// released slot triggers a sweep followed by PromoteNext.
func NewVendorService(store repository.Store, ledger *CapacityLedger, sweeper *ExpirySweeper, promoter *PromotionEngine, clk clock.PassiveClock, autoPromote bool) *VendorService {
	return &VendorService{
		store:       store,
		ledger:      ledger,
		sweeper:     sweeper,
		promoter:    promoter,
		clock:       clk,
		autoPromote: autoPromote,
	}
}

// ReleaseResult reports a deactivation and the promotion it may have caused.
type ReleaseResult struct {
	Vendor   *model.Vendor        `json:"vendor"`
	Promoted *model.WaitlistEntry `json:"promoted,omitempty"`
}

// Get returns a single vendor.
func (s *VendorService) Get(ctx context.Context, id string) (*model.Vendor, error) {
	v, err := s.store.GetVendor(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get vendor: %w", err)
	}
	return v, nil
}

// Deactivate releases the vendor's slot. A promotion failure after the
// release is logged and does not undo the deactivation.
func (s *VendorService) Deactivate(ctx context.Context, id string) (*ReleaseResult, error) {
	logger := logr.FromContextOrDiscard(ctx)

	v, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	result := &ReleaseResult{Vendor: v}
	if !v.IsActive {
		return result, nil
	}

	now := s.clock.Now().UTC()
	if err := s.store.SetVendorActive(ctx, id, false, now); err != nil {
		return nil, fmt.Errorf("deactivate vendor: %w", err)
	}
	v.IsActive = false
	v.UpdatedAt = now
	logger.Info("vendor slot released", "vendorID", id)

	if !s.autoPromote {
		return result, nil
	}
	if _, err := s.sweeper.SweepExpired(ctx); err != nil {
		logger.Error(err, "sweep after slot release failed")
		return result, nil
	}
	promoted, err := s.promoter.PromoteNext(ctx, "")
	switch {
	case err == nil:
		result.Promoted = promoted
	case errors.Is(err, ErrNoEligibleEntry), errors.Is(err, ErrNoSlotAvailable):
	default:
		logger.Error(err, "promotion after slot release failed", "vendorID", id)
	}
	return result, nil
}

// Reactivate makes an inactive vendor occupy a slot again, subject to the
// same gated ceiling check as a new registration.
func (s *VendorService) Reactivate(ctx context.Context, id string) (*model.Vendor, error) {
	var vendor *model.Vendor
	var occupied int
	err := s.store.WithGate(ctx, func(q repository.Queries) error {
		v, err := q.GetVendor(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		vendor = v
		if v.IsActive {
			return nil
		}
		free, n, err := s.ledger.slotFree(ctx, q)
		if err != nil {
			return err
		}
		if !free {
			return ErrCapacityExceeded
		}
		now := s.clock.Now().UTC()
		if err := q.SetVendorActive(ctx, id, true, now); err != nil {
			return err
		}
		v.IsActive = true
		v.UpdatedAt = now
		occupied = n + 1
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrCapacityExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("reactivate vendor: %w", err)
	}
	if occupied > 0 {
		metrics.RecordOccupancy(occupied, s.ledger.Ceiling())
		logr.FromContextOrDiscard(ctx).Info("vendor slot reoccupied", "vendorID", id, "occupancy", occupied)
	}
	return vendor, nil
}
