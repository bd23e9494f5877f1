// Package repository implements persistence for vendors, categories and the
// registration waitlist. Two implementations share the Store contract: a
// Postgres store built on pgx and an in-memory store for local runs and tests.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/vendor-directory/internal/model"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a write violates a uniqueness rule: vendor
// email, category slug, or the one-active-waitlist-entry-per-email rule.
var ErrDuplicate = errors.New("duplicate record")

// ErrStaleTransition is returned when a status transition finds the entry no
// longer in the expected source state.
var ErrStaleTransition = errors.New("waitlist entry changed state concurrently")

// ErrInvalidTransition is returned for a status change the entry state
// machine does not allow, or a move to NOTIFIED without a deadline.
var ErrInvalidTransition = errors.New("invalid waitlist status transition")

// Queries is the set of reads and single-statement writes the services need.
// Inside Store.WithGate every call observes and commits as one unit.
type Queries interface {
	CountActiveVendors(ctx context.Context) (int, error)
	CountActiveVendorsByCategory(ctx context.Context) (map[string]int, error)
	GetVendor(ctx context.Context, id string) (*model.Vendor, error)
	VendorEmailExists(ctx context.Context, email string) (bool, error)
	InsertVendor(ctx context.Context, v *model.Vendor) error
	SetVendorActive(ctx context.Context, id string, active bool, at time.Time) error

	ListCategories(ctx context.Context) ([]model.Category, error)
	GetCategory(ctx context.Context, id string) (*model.Category, error)
	InsertCategory(ctx context.Context, c *model.Category) error

	InsertWaitlistEntry(ctx context.Context, e *model.WaitlistEntry) error
	GetWaitlistEntry(ctx context.Context, id string) (*model.WaitlistEntry, error)
	ActiveWaitlistEntryByEmail(ctx context.Context, email string) (*model.WaitlistEntry, error)
	OldestWaiting(ctx context.Context, categoryID string) (*model.WaitlistEntry, error)
	ListWaitlist(ctx context.Context, filter model.WaitlistFilter) ([]model.WaitlistEntry, error)
	// CountOpenClaims counts NOTIFIED entries whose deadline is not before now.
	CountOpenClaims(ctx context.Context, now time.Time) (int, error)
	// TransitionWaitlistEntry moves an entry from one status to another as a
	// compare-and-set. Moving to NOTIFIED stamps notified_at with at and sets
	// expires_at; other targets leave both timestamps untouched.
	TransitionWaitlistEntry(ctx context.Context, id string, from, to model.Status, at time.Time, expiresAt *time.Time) (*model.WaitlistEntry, error)
	// ExpireNotified moves every NOTIFIED entry whose deadline is before now
	// to EXPIRED and returns the ids it changed.
	ExpireNotified(ctx context.Context, now time.Time) ([]string, error)
}

// Store is a Queries implementation that can also run a gated unit of work.
type Store interface {
	Queries

	// WithGate runs fn while holding the registration gate: at most one gated
	// unit of work runs at a time, and fn's writes commit together only when
	// fn returns nil.
	WithGate(ctx context.Context, fn func(q Queries) error) error
	Ping(ctx context.Context) error
	Close()
}

// checkTransition validates a requested status change before any store
// touches the entry.
func checkTransition(from, to model.Status, expiresAt *time.Time) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if to == model.StatusNotified && expiresAt == nil {
		return fmt.Errorf("%w: NOTIFIED requires a deadline", ErrInvalidTransition)
	}
	return nil
}

// waitlistStatusRank orders listings by status group.
func waitlistStatusRank(s model.Status) int {
	switch s {
	case model.StatusWaiting:
		return 0
	case model.StatusNotified:
		return 1
	case model.StatusPromoted:
		return 2
	case model.StatusExpired:
		return 3
	default:
		return 4
	}
}
