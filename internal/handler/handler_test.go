package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-logr/logr/testr"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	testclock "k8s.io/utils/clock/testing"

	"github.com/Shivanand-hulikatti/vendor-directory/internal/model"
	"github.com/Shivanand-hulikatti/vendor-directory/internal/ratelimit"
	"github.com/Shivanand-hulikatti/vendor-directory/internal/repository"
	"github.com/Shivanand-hulikatti/vendor-directory/internal/service"
)

const (
	adminToken = "admin-token"
	cronSecret = "cron-secret"
)

type switchDispatcher struct {
	failClaims atomic.Bool
}

func (d *switchDispatcher) SendWaitlistRegistered(context.Context, *model.WaitlistEntry) error {
	return nil
}

func (d *switchDispatcher) SendWaitlistPromotionClaim(context.Context, *model.WaitlistEntry, time.Time) error {
	if d.failClaims.Load() {
		return errors.New("relay returned 503")
	}
	return nil
}

type testServer struct {
	t          *testing.T
	store      *repository.MemoryStore
	clock      *testclock.FakeClock
	dispatcher *switchDispatcher
	router     http.Handler
	category   string
}

func newTestServer(t *testing.T, ceiling, rateLimit int) *testServer {
	t.Helper()

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	s := &testServer{
		t:          t,
		store:      repository.NewMemoryStore(),
		clock:      testclock.NewFakeClock(time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)),
		dispatcher: &switchDispatcher{},
	}
	categories := service.NewCategoryService(s.store, time.Minute, s.clock)
	ledger := service.NewCapacityLedger(s.store, categories, ceiling)
	sweeper := service.NewExpirySweeper(s.store, s.clock)
	promoter := service.NewPromotionEngine(s.store, ledger, s.dispatcher, s.clock, service.DefaultClaimWindow)
	h := New(Services{
		Store:      s.store,
		Ledger:     ledger,
		Categories: categories,
		Admission:  service.NewAdmissionController(s.store, ledger, categories, s.dispatcher, s.clock, node, service.WithPasswordCost(bcrypt.MinCost)),
		Promoter:   promoter,
		Sweeper:    sweeper,
		Waitlist:   service.NewWaitlistService(s.store, sweeper, s.clock),
		Vendors:    service.NewVendorService(s.store, ledger, sweeper, promoter, s.clock, false),
	})
	s.router = h.Routes(RouterConfig{
		Logger:     testr.New(t),
		Limiter:    ratelimit.NewMemoryLimiter(rateLimit, time.Minute, s.clock),
		AdminToken: adminToken,
		CronSecret: cronSecret,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics\n"))
		}),
	})

	rec := s.do(http.MethodPost, "/admin/categories", adminToken, model.CreateCategoryRequest{Name: "Reform", Slug: "reform"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var c model.Category
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
	s.category = c.ID
	return s
}

func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) fill(n int) []string {
	s.t.Helper()
	ids := make([]string, n)
	for i := range ids {
		ids[i] = uuid.NewString()
		require.NoError(s.t, s.store.InsertVendor(context.Background(), &model.Vendor{
			ID:         ids[i],
			Email:      fmt.Sprintf("seed-%s@vendors.test", ids[i]),
			CategoryID: s.category,
			IsActive:   true,
			CreatedAt:  s.clock.Now(),
		}))
	}
	return ids
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func assertErrorCode(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	assert.Equal(t, code, decode[model.ErrorResponse](t, rec).Code)
}

func (s *testServer) register(email string) *httptest.ResponseRecorder {
	return s.do(http.MethodPost, "/vendors", "", model.RegisterVendorRequest{
		Email:       email,
		CompanyName: "Acme " + email,
		CategoryID:  s.category,
		Password:    "correct-horse",
	})
}

func (s *testServer) join(email string) *httptest.ResponseRecorder {
	return s.do(http.MethodPost, "/waitlist", "", model.JoinWaitlistRequest{
		Email:       email,
		CompanyName: "Acme " + email,
		CategoryID:  s.category,
	})
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, 1, 100)

	rec := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = s.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRegisterThenWaitlist(t *testing.T) {
	s := newTestServer(t, 1, 100)

	rec := s.join("early@x.com")
	assertErrorCode(t, rec, http.StatusConflict, CodeSlotAvailable)

	rec = s.register("first@x.com")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	result := decode[model.RegistrationResult](t, rec)
	assert.True(t, result.Vendor.IsActive)
	assert.NotContains(t, rec.Body.String(), "password")

	assertErrorCode(t, s.register("second@x.com"), http.StatusConflict, CodeCapacityExceeded)
	assertErrorCode(t, s.register("first@x.com"), http.StatusConflict, CodeCapacityExceeded)

	rec = s.join("second@x.com")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	entry := decode[model.WaitlistEntry](t, rec)
	assert.Equal(t, 1, entry.Position)
	assert.Equal(t, model.StatusWaiting, entry.Status)

	assertErrorCode(t, s.join("second@x.com"), http.StatusConflict, CodeDuplicateApplicant)
	assertErrorCode(t, s.join("first@x.com"), http.StatusConflict, CodeDuplicateEmail)

	rec = s.do(http.MethodGet, "/waitlist/"+entry.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[model.WaitlistEntry](t, rec).Position)

	assertErrorCode(t, s.do(http.MethodGet, "/waitlist/"+uuid.NewString(), "", nil), http.StatusNotFound, CodeNotFound)
}

func TestCapacityAndAdmission(t *testing.T) {
	s := newTestServer(t, 2, 100)
	s.fill(1)

	rec := s.do(http.MethodGet, "/capacity", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"occupancy":1,"ceiling":2,"remaining":1,"accepting_registrations":true}`, rec.Body.String())

	rec = s.do(http.MethodGet, "/admission?email=a@x.com", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.Admission{CanRegisterDirectly: true, Remaining: 1}, decode[model.Admission](t, rec))

	s.fill(1)
	rec = s.do(http.MethodGet, "/admission?email=a@x.com", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.Admission{CanJoinWaitlist: true}, decode[model.Admission](t, rec))

	rec = s.do(http.MethodGet, "/admin/capacity", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[model.CapacityStatus](t, rec)
	assert.Equal(t, 2, status.Occupancy)
	require.Len(t, status.Categories, 1)
	assert.Equal(t, 2, status.Categories[0].Occupied)
}

func TestAdminRequiresToken(t *testing.T) {
	s := newTestServer(t, 1, 100)

	for _, token := range []string{"", "wrong", cronSecret} {
		rec := s.do(http.MethodGet, "/admin/capacity", token, nil)
		assertErrorCode(t, rec, http.StatusUnauthorized, CodeUnauthorized)
	}
	rec := s.do(http.MethodPost, "/internal/waitlist/sweep", adminToken, nil)
	assertErrorCode(t, rec, http.StatusUnauthorized, CodeUnauthorized)
}

func TestPromotionFlow(t *testing.T) {
	s := newTestServer(t, 1, 100)
	vendors := s.fill(1)
	first := decode[model.WaitlistEntry](t, s.join("first@x.com"))
	second := decode[model.WaitlistEntry](t, s.join("second@x.com"))
	assert.Equal(t, 2, second.Position)

	rec := s.do(http.MethodPost, "/admin/waitlist/promote-next", adminToken, nil)
	assertErrorCode(t, rec, http.StatusConflict, CodeNoSlotAvailable)

	rec = s.do(http.MethodPost, "/admin/vendors/"+vendors[0]+"/deactivate", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	s.dispatcher.failClaims.Store(true)
	rec = s.do(http.MethodPost, "/admin/waitlist/promote-next", adminToken, nil)
	assertErrorCode(t, rec, http.StatusBadGateway, CodeNotificationFailed)

	s.dispatcher.failClaims.Store(false)
	rec = s.do(http.MethodPost, "/admin/waitlist/promote-next", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	promoted := decode[model.WaitlistEntry](t, rec)
	assert.Equal(t, first.ID, promoted.ID)
	assert.Equal(t, model.StatusNotified, promoted.Status)
	require.NotNil(t, promoted.ExpiresAt)
	assert.WithinDuration(t, s.clock.Now().Add(7*24*time.Hour), *promoted.ExpiresAt, time.Millisecond)

	// The open claim holds the only slot.
	rec = s.do(http.MethodPost, "/admin/waitlist/promote-next", adminToken, nil)
	assertErrorCode(t, rec, http.StatusConflict, CodeNoSlotAvailable)

	rec = s.do(http.MethodGet, "/admin/waitlist?status=notified", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	notified := decode[[]model.WaitlistEntry](t, rec)
	require.Len(t, notified, 1)
	assert.Equal(t, first.ID, notified[0].ID)

	// The claim lapses; the sweep expires it and the next entry moves up.
	s.clock.Step(8 * 24 * time.Hour)
	rec = s.do(http.MethodPost, "/internal/waitlist/sweep", cronSecret, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"expired":1}`, rec.Body.String())

	rec = s.do(http.MethodPost, "/internal/waitlist/sweep", cronSecret, nil)
	assert.JSONEq(t, `{"expired":0}`, rec.Body.String())

	rec = s.do(http.MethodPost, "/admin/waitlist/"+second.ID+"/promote", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Claiming registration completes the promotion.
	rec = s.register("second@x.com")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	result := decode[model.RegistrationResult](t, rec)
	require.NotNil(t, result.Claimed)
	assert.Equal(t, model.StatusPromoted, result.Claimed.Status)

	rec = s.do(http.MethodPost, "/admin/waitlist/promote-next", adminToken, nil)
	assertErrorCode(t, rec, http.StatusConflict, CodeNoSlotAvailable)
}

func TestReactivateAtCeiling(t *testing.T) {
	s := newTestServer(t, 1, 100)
	vendors := s.fill(1)

	rec := s.do(http.MethodPost, "/admin/vendors/"+vendors[0]+"/deactivate", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, http.StatusCreated, s.register("taker@x.com").Code)

	rec = s.do(http.MethodPost, "/admin/vendors/"+vendors[0]+"/reactivate", adminToken, nil)
	assertErrorCode(t, rec, http.StatusConflict, CodeCapacityExceeded)

	rec = s.do(http.MethodPost, "/admin/vendors/"+uuid.NewString()+"/reactivate", adminToken, nil)
	assertErrorCode(t, rec, http.StatusNotFound, CodeNotFound)
}

func TestCancelWaitlistEntry(t *testing.T) {
	s := newTestServer(t, 1, 100)
	s.fill(1)
	entry := decode[model.WaitlistEntry](t, s.join("leaving@x.com"))

	rec := s.do(http.MethodPost, "/waitlist/"+entry.ID+"/cancel", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.StatusCancelled, decode[model.WaitlistEntry](t, rec).Status)

	rec = s.do(http.MethodPost, "/waitlist/"+entry.ID+"/cancel", "", nil)
	assertErrorCode(t, rec, http.StatusConflict, CodeInvalidTransition)
}

func TestBadRequests(t *testing.T) {
	s := newTestServer(t, 1, 100)

	req := httptest.NewRequest(http.MethodPost, "/vendors", bytes.NewBufferString(`{"email":`))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assertErrorCode(t, rec, http.StatusBadRequest, CodeInvalidRequest)

	req = httptest.NewRequest(http.MethodPost, "/waitlist", bytes.NewBufferString(`{"email":"a@x.com","unknown":1}`))
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assertErrorCode(t, rec, http.StatusBadRequest, CodeInvalidRequest)

	rec = s.register("not-an-email")
	assertErrorCode(t, rec, http.StatusBadRequest, CodeValidation)

	rec = s.do(http.MethodGet, "/admin/waitlist?status=LOST", adminToken, nil)
	assertErrorCode(t, rec, http.StatusBadRequest, CodeInvalidRequest)

	rec = s.do(http.MethodPost, "/admin/categories", adminToken, model.CreateCategoryRequest{Name: "Dup", Slug: "reform"})
	assertErrorCode(t, rec, http.StatusBadRequest, CodeValidation)
}

func TestPublicWritesAreRateLimited(t *testing.T) {
	s := newTestServer(t, 1, 2)
	s.fill(1)

	assert.Equal(t, http.StatusCreated, s.join("a@x.com").Code)
	assert.Equal(t, http.StatusConflict, s.join("a@x.com").Code)
	assertErrorCode(t, s.join("b@x.com"), http.StatusTooManyRequests, CodeRateLimited)

	// Reads are not limited.
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/capacity", "", nil).Code)

	s.clock.Step(2 * time.Minute)
	assert.Equal(t, http.StatusCreated, s.join("b@x.com").Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, 1, 100)

	rec := s.do(http.MethodOptions, "/vendors", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
