package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/vendor-directory/internal/metrics"
	"github.com/Shivanand-hulikatti/vendor-directory/internal/model"
	"github.com/Shivanand-hulikatti/vendor-directory/internal/repository"
)

// DefaultCeiling is the maximum number of concurrently active vendors.
const DefaultCeiling = 300

// CapacityLedger derives slot occupancy from the active-vendor set. Nothing
// is cached: every answer is recomputed from the store.
type CapacityLedger struct {
	store      repository.Queries
	categories *CategoryService
	ceiling    int
}

// NewCapacityLedger constructs a CapacityLedger.
func NewCapacityLedger(store repository.Queries, categories *CategoryService, ceiling int) *CapacityLedger {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	return &CapacityLedger{store: store, categories: categories, ceiling: ceiling}
}

// Ceiling returns the configured slot ceiling.
func (l *CapacityLedger) Ceiling() int { return l.ceiling }

// Occupancy returns the number of active vendors.
func (l *CapacityLedger) Occupancy(ctx context.Context) (int, error) {
	n, err := l.store.CountActiveVendors(ctx)
	if err != nil {
		return 0, err
	}
	metrics.RecordOccupancy(n, l.ceiling)
	return n, nil
}

// OccupancyByCategory returns the number of active vendors in one category.
func (l *CapacityLedger) OccupancyByCategory(ctx context.Context, categoryID string) (int, error) {
	counts, err := l.store.CountActiveVendorsByCategory(ctx)
	if err != nil {
		return 0, err
	}
	return counts[categoryID], nil
}

// HasAvailableSlot reports whether occupancy is below the ceiling.
func (l *CapacityLedger) HasAvailableSlot(ctx context.Context) (bool, error) {
	n, err := l.Occupancy(ctx)
	if err != nil {
		return false, err
	}
	return n < l.ceiling, nil
}

// RemainingSlots returns max(0, ceiling - occupancy).
func (l *CapacityLedger) RemainingSlots(ctx context.Context) (int, error) {
	n, err := l.Occupancy(ctx)
	if err != nil {
		return 0, err
	}
	return l.remaining(n), nil
}

func (l *CapacityLedger) remaining(occupied int) int {
	return max(0, l.ceiling-occupied)
}

// slotFree re-checks occupancy through q, which inside a gated unit of work
// is the transaction that will also perform the write.
func (l *CapacityLedger) slotFree(ctx context.Context, q repository.Queries) (bool, int, error) {
	n, err := q.CountActiveVendors(ctx)
	if err != nil {
		return false, 0, err
	}
	return n < l.ceiling, n, nil
}

// promotableSlot reports whether a slot is free once every open claim window
// is counted as taken. A claim holds its slot until it is registered or the
// sweeper marks it EXPIRED.
func (l *CapacityLedger) promotableSlot(ctx context.Context, q repository.Queries, now time.Time) (bool, error) {
	free, n, err := l.slotFree(ctx, q)
	if err != nil || !free {
		return false, err
	}
	claims, err := q.CountOpenClaims(ctx, now)
	if err != nil {
		return false, err
	}
	return n+claims < l.ceiling, nil
}

// Status summarises occupancy, optionally broken down by category.
func (l *CapacityLedger) Status(ctx context.Context, withCategories bool) (*model.CapacityStatus, error) {
	n, err := l.Occupancy(ctx)
	if err != nil {
		return nil, fmt.Errorf("capacity status: %w", err)
	}
	status := &model.CapacityStatus{
		Occupancy: n,
		Ceiling:   l.ceiling,
		Remaining: l.remaining(n),
	}
	if !withCategories {
		return status, nil
	}

	counts, err := l.store.CountActiveVendorsByCategory(ctx)
	if err != nil {
		return nil, fmt.Errorf("capacity by category: %w", err)
	}
	categories, err := l.categories.List(ctx)
	if err != nil {
		return nil, err
	}
	status.Categories = make([]model.CategoryOccupancy, 0, len(categories))
	for _, c := range categories {
		status.Categories = append(status.Categories, model.CategoryOccupancy{
			CategoryID:   c.ID,
			CategoryName: c.Name,
			CategorySlug: c.Slug,
			Occupied:     counts[c.ID],
		})
	}
	return status, nil
}
