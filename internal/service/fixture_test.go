package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-logr/logr"
	"github.com/go-logr/logr/testr"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	testclock "k8s.io/utils/clock/testing"

	"github.com/Shivanand-hulikatti/vendor-directory/internal/model"
	"github.com/Shivanand-hulikatti/vendor-directory/internal/repository"
)

var errRelayDown = errors.New("relay down")

// recordingDispatcher remembers every message and can be told to fail.
type recordingDispatcher struct {
	mu             sync.Mutex
	registered     []string
	claims         map[string]time.Time
	failRegistered bool
	failClaims     bool
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{claims: make(map[string]time.Time)}
}

func (d *recordingDispatcher) SendWaitlistRegistered(_ context.Context, entry *model.WaitlistEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failRegistered {
		return errRelayDown
	}
	d.registered = append(d.registered, entry.ID)
	return nil
}

func (d *recordingDispatcher) SendWaitlistPromotionClaim(_ context.Context, entry *model.WaitlistEntry, deadline time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failClaims {
		return errRelayDown
	}
	d.claims[entry.ID] = deadline
	return nil
}

func (d *recordingDispatcher) setFailClaims(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failClaims = fail
}

func (d *recordingDispatcher) claimCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.claims)
}

type fixture struct {
	ctx        context.Context
	store      *repository.MemoryStore
	clock      *testclock.FakeClock
	dispatcher *recordingDispatcher
	categories *CategoryService
	ledger     *CapacityLedger
	admission  *AdmissionController
	promoter   *PromotionEngine
	sweeper    *ExpirySweeper
	waitlist   *WaitlistService
	vendors    *VendorService

	reform string
	cafe   string
}

var fixtureStart = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, ceiling int) *fixture {
	t.Helper()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	f := &fixture{
		ctx:        logr.NewContext(context.Background(), testr.New(t)),
		store:      repository.NewMemoryStore(),
		clock:      testclock.NewFakeClock(fixtureStart),
		dispatcher: newRecordingDispatcher(),
	}
	f.categories = NewCategoryService(f.store, time.Minute, f.clock)
	f.ledger = NewCapacityLedger(f.store, f.categories, ceiling)
	f.admission = NewAdmissionController(f.store, f.ledger, f.categories, f.dispatcher, f.clock, node, WithPasswordCost(bcrypt.MinCost))
	f.promoter = NewPromotionEngine(f.store, f.ledger, f.dispatcher, f.clock, DefaultClaimWindow)
	f.sweeper = NewExpirySweeper(f.store, f.clock)
	f.waitlist = NewWaitlistService(f.store, f.sweeper, f.clock)
	f.vendors = NewVendorService(f.store, f.ledger, f.sweeper, f.promoter, f.clock, false)

	f.reform = f.category(t, "Reform", "reform")
	f.cafe = f.category(t, "Cafe", "cafe")
	return f
}

func (f *fixture) category(t *testing.T, name, slug string) string {
	t.Helper()
	c, err := f.categories.Create(f.ctx, model.CreateCategoryRequest{Name: name, Slug: slug})
	require.NoError(t, err)
	return c.ID
}

// fill inserts n active vendors directly, bypassing admission.
func (f *fixture) fill(t *testing.T, n int, categoryID string) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := uuid.NewString()
		require.NoError(t, f.store.InsertVendor(f.ctx, &model.Vendor{
			ID:         id,
			Email:      fmt.Sprintf("seed-%s@vendors.test", id),
			CategoryID: categoryID,
			IsActive:   true,
			CreatedAt:  f.clock.Now(),
			UpdatedAt:  f.clock.Now(),
		}))
		ids = append(ids, id)
	}
	return ids
}

func (f *fixture) join(t *testing.T, email, categoryID string) *model.WaitlistEntry {
	t.Helper()
	e, err := f.admission.RegisterWaitlist(f.ctx, model.JoinWaitlistRequest{
		Email:       email,
		CompanyName: "Company of " + email,
		CategoryID:  categoryID,
	})
	require.NoError(t, err)
	return e
}

func (f *fixture) entry(t *testing.T, id string) *model.WaitlistEntry {
	t.Helper()
	e, err := f.store.GetWaitlistEntry(f.ctx, id)
	require.NoError(t, err)
	return e
}

func registerReq(email, categoryID string) model.RegisterVendorRequest {
	return model.RegisterVendorRequest{
		Email:       email,
		CompanyName: "Vendor " + email,
		CategoryID:  categoryID,
		Password:    "correct-horse",
	}
}
