package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/vendor-directory/internal/model"
	"github.com/Shivanand-hulikatti/vendor-directory/internal/repository"
)

var statusComparer = cmp.Comparer(func(a, b model.Status) bool { return a == b })

func TestPromotion_OldestEntryAcrossCategories(t *testing.T) {
	f := newFixture(t, 2)
	vendors := f.fill(t, 2, f.cafe)

	first := f.join(t, "reform@x.com", f.reform)
	f.clock.Step(time.Minute)
	second := f.join(t, "cafe@x.com", f.cafe)

	_, err := f.vendors.Deactivate(f.ctx, vendors[0])
	require.NoError(t, err)

	now := f.clock.Now().UTC()
	promoted, err := f.promoter.PromoteNext(f.ctx, "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, promoted.ID)
	assert.Equal(t, model.StatusNotified, promoted.Status)
	require.NotNil(t, promoted.NotifiedAt)
	require.NotNil(t, promoted.ExpiresAt)
	assert.Equal(t, now, *promoted.NotifiedAt)
	assert.Equal(t, now.Add(7*24*time.Hour), *promoted.ExpiresAt)
	assert.Equal(t, now.Add(7*24*time.Hour), f.dispatcher.claims[first.ID])

	assert.Equal(t, model.StatusWaiting, f.entry(t, second.ID).Status)
	assert.Equal(t, 1, f.entry(t, second.ID).Position)
}

func TestPromotion_CategoryFilter(t *testing.T) {
	f := newFixture(t, 1)
	vendors := f.fill(t, 1, f.cafe)

	f.join(t, "reform@x.com", f.reform)
	cafe := f.join(t, "cafe@x.com", f.cafe)
	_, err := f.vendors.Deactivate(f.ctx, vendors[0])
	require.NoError(t, err)

	promoted, err := f.promoter.PromoteNext(f.ctx, f.cafe)
	require.NoError(t, err)
	assert.Equal(t, cafe.ID, promoted.ID)

	other := f.category(t, "Florist", "florist")
	_, err = f.promoter.PromoteNext(f.ctx, other)
	require.ErrorIs(t, err, ErrNoEligibleEntry)
}

func TestPromotion_NoSlotLeavesEntryWaiting(t *testing.T) {
	f := newFixture(t, 1)
	f.fill(t, 1, f.cafe)
	entry := f.join(t, "patient@x.com", f.reform)

	_, err := f.promoter.Promote(f.ctx, entry.ID)
	require.ErrorIs(t, err, ErrNoSlotAvailable)
	_, err = f.promoter.PromoteNext(f.ctx, "")
	require.ErrorIs(t, err, ErrNoSlotAvailable)

	stored := f.entry(t, entry.ID)
	assert.Equal(t, model.StatusWaiting, stored.Status)
	assert.Nil(t, stored.ExpiresAt)
	assert.Zero(t, f.dispatcher.claimCount())
}

func TestPromotion_NotificationFailureRollsBack(t *testing.T) {
	f := newFixture(t, 1)
	vendors := f.fill(t, 1, f.cafe)
	entry := f.join(t, "unreachable@x.com", f.reform)
	_, err := f.vendors.Deactivate(f.ctx, vendors[0])
	require.NoError(t, err)

	f.dispatcher.setFailClaims(true)
	_, err = f.promoter.PromoteNext(f.ctx, "")
	require.ErrorIs(t, err, ErrNotificationDeliveryFailed)

	stored := f.entry(t, entry.ID)
	assert.Equal(t, model.StatusWaiting, stored.Status)
	assert.Equal(t, 1, stored.Position)
	assert.Nil(t, stored.NotifiedAt)
	assert.Nil(t, stored.ExpiresAt)

	f.dispatcher.setFailClaims(false)
	promoted, err := f.promoter.PromoteNext(f.ctx, "")
	require.NoError(t, err)
	assert.Equal(t, entry.ID, promoted.ID)
}

func TestPromotion_OneClaimPerFreedSlot(t *testing.T) {
	f := newFixture(t, 1)
	vendors := f.fill(t, 1, f.cafe)
	a := f.join(t, "a@x.com", f.reform)
	b := f.join(t, "b@x.com", f.reform)
	f.join(t, "c@x.com", f.cafe)

	_, err := f.vendors.Deactivate(f.ctx, vendors[0])
	require.NoError(t, err)

	promoted, err := f.promoter.PromoteNext(f.ctx, "")
	require.NoError(t, err)
	assert.Equal(t, a.ID, promoted.ID)

	_, err = f.promoter.PromoteNext(f.ctx, "")
	require.ErrorIs(t, err, ErrNoSlotAvailable)
	_, err = f.promoter.Promote(f.ctx, b.ID)
	require.ErrorIs(t, err, ErrNoSlotAvailable)
	assert.Equal(t, 1, f.dispatcher.claimCount())
	assert.Equal(t, model.StatusWaiting, f.entry(t, b.ID).Status)

	// The slot comes back once the claim lapses and is swept.
	f.clock.Step(DefaultClaimWindow + time.Hour)
	n, err := f.sweeper.SweepExpired(f.ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	next, err := f.promoter.PromoteNext(f.ctx, "")
	require.NoError(t, err)
	assert.Equal(t, b.ID, next.ID)

	// b's window is open, so b can claim it.
	res, err := f.admission.DirectRegister(f.ctx, registerReq("b@x.com", f.reform))
	require.NoError(t, err)
	require.NotNil(t, res.Claimed)
	assert.Equal(t, b.ID, res.Claimed.ID)
}

// failingCommitStore runs the unit of work and then refuses to commit it.
type failingCommitStore struct {
	repository.Store
	err error
}

func (s failingCommitStore) WithGate(ctx context.Context, fn func(q repository.Queries) error) error {
	return s.Store.WithGate(ctx, func(q repository.Queries) error {
		if err := fn(q); err != nil {
			return err
		}
		return s.err
	})
}

func TestPromotion_CommitFailureAfterClaimSent(t *testing.T) {
	f := newFixture(t, 1)
	vendors := f.fill(t, 1, f.cafe)
	entry := f.join(t, "sent@x.com", f.reform)
	_, err := f.vendors.Deactivate(f.ctx, vendors[0])
	require.NoError(t, err)

	commitErr := errors.New("commit failed")
	promoter := NewPromotionEngine(failingCommitStore{Store: f.store, err: commitErr}, f.ledger, f.dispatcher, f.clock, DefaultClaimWindow)

	_, err = promoter.PromoteNext(f.ctx, "")
	require.ErrorIs(t, err, commitErr)
	assert.NotErrorIs(t, err, ErrNotificationDeliveryFailed)
	assert.Equal(t, 1, f.dispatcher.claimCount())
	assert.Equal(t, model.StatusWaiting, f.entry(t, entry.ID).Status)
}

func TestPromotion_InvalidTargets(t *testing.T) {
	f := newFixture(t, 2)
	vendors := f.fill(t, 2, f.cafe)
	entry := f.join(t, "withdrawn@x.com", f.reform)
	_, err := f.vendors.Deactivate(f.ctx, vendors[0])
	require.NoError(t, err)

	_, err = f.waitlist.Cancel(f.ctx, entry.ID)
	require.NoError(t, err)

	_, err = f.promoter.Promote(f.ctx, entry.ID)
	require.ErrorIs(t, err, ErrInvalidStatusTransition)
	assert.Equal(t, model.StatusCancelled, f.entry(t, entry.ID).Status)

	_, err = f.promoter.Promote(f.ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPromotion_ExpiredEntryIsNotSelected(t *testing.T) {
	f := newFixture(t, 1)
	vendors := f.fill(t, 1, f.cafe)
	first := f.join(t, "first@x.com", f.reform)
	second := f.join(t, "second@x.com", f.reform)

	_, err := f.vendors.Deactivate(f.ctx, vendors[0])
	require.NoError(t, err)
	_, err = f.promoter.PromoteNext(f.ctx, "")
	require.NoError(t, err)

	// The open claim holds the only slot.
	_, err = f.promoter.Promote(f.ctx, second.ID)
	require.ErrorIs(t, err, ErrNoSlotAvailable)

	f.clock.Step(8 * 24 * time.Hour)
	n, err := f.sweeper.SweepExpired(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	next, err := f.promoter.PromoteNext(f.ctx, "")
	require.NoError(t, err)
	assert.Equal(t, second.ID, next.ID)
	assert.Equal(t, model.StatusExpired, f.entry(t, first.ID).Status)

	_, err = f.promoter.PromoteNext(f.ctx, "")
	require.ErrorIs(t, err, ErrNoEligibleEntry)
}

func TestSweeper_ExpiresOnceAndIsIdempotent(t *testing.T) {
	f := newFixture(t, 1)
	vendors := f.fill(t, 1, f.cafe)
	entry := f.join(t, "late@x.com", f.reform)
	_, err := f.vendors.Deactivate(f.ctx, vendors[0])
	require.NoError(t, err)

	notified, err := f.promoter.Promote(f.ctx, entry.ID)
	require.NoError(t, err)
	deadline := *notified.ExpiresAt

	// Still claimable at the deadline itself.
	f.clock.SetTime(deadline)
	n, err := f.sweeper.SweepExpired(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.SetTime(fixtureStart.Add(8 * 24 * time.Hour))
	n, err = f.sweeper.SweepExpired(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.StatusExpired, f.entry(t, entry.ID).Status)

	n, err = f.sweeper.SweepExpired(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.SetTime(fixtureStart.Add(9 * 24 * time.Hour))
	n, err = f.sweeper.SweepExpired(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, model.StatusExpired, f.entry(t, entry.ID).Status)
}

func TestSweeper_Run(t *testing.T) {
	f := newFixture(t, 1)
	vendors := f.fill(t, 1, f.cafe)
	entry := f.join(t, "tick@x.com", f.reform)
	_, err := f.vendors.Deactivate(f.ctx, vendors[0])
	require.NoError(t, err)
	_, err = f.promoter.Promote(f.ctx, entry.ID)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(f.ctx)
	done := make(chan error, 1)
	go func() { done <- f.sweeper.Run(ctx, time.Hour) }()

	require.Eventually(t, f.clock.HasWaiters, time.Second, 5*time.Millisecond)
	f.clock.Step(DefaultClaimWindow + time.Hour)

	require.Eventually(t, func() bool {
		return f.entry(t, entry.ID).Status == model.StatusExpired
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestWaitlist_PositionsFollowFIFO(t *testing.T) {
	f := newFixture(t, 1)
	f.fill(t, 1, f.cafe)

	var ids []string
	for i := 0; i < 12; i++ {
		category := f.reform
		if i%2 == 1 {
			category = f.cafe
		}
		ids = append(ids, f.join(t, fmt.Sprintf("applicant%02d@x.com", i), category).ID)
		if i%3 == 0 {
			f.clock.Step(time.Second)
		}
	}
	for _, i := range []int{0, 4, 7} {
		_, err := f.waitlist.Cancel(f.ctx, ids[i])
		require.NoError(t, err)
	}

	entries, err := f.waitlist.List(f.ctx, model.WaitlistFilter{Status: model.StatusWaiting})
	require.NoError(t, err)

	var want []string
	for i, id := range ids {
		if i != 0 && i != 4 && i != 7 {
			want = append(want, id)
		}
	}
	var got []string
	for i, e := range entries {
		got = append(got, e.ID)
		assert.Equal(t, i+1, e.Position, "entry %s", e.ID)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("waiting order mismatch (-want +got):\n%s", diff)
	}

	cafe, err := f.waitlist.List(f.ctx, model.WaitlistFilter{Status: model.StatusWaiting, CategoryID: f.cafe})
	require.NoError(t, err)
	for _, e := range cafe {
		full, err := f.waitlist.Get(f.ctx, e.ID)
		require.NoError(t, err)
		if diff := cmp.Diff(full, &e, statusComparer, cmpopts.EquateApproxTime(0)); diff != "" {
			t.Errorf("filtered entry differs (-get +list):\n%s", diff)
		}
	}
}
