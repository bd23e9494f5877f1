package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"k8s.io/utils/clock"

	"github.com/Shivanand-hulikatti/vendor-directory/internal/metrics"
	"github.com/Shivanand-hulikatti/vendor-directory/internal/model"
	"github.com/Shivanand-hulikatti/vendor-directory/internal/notify"
	"github.com/Shivanand-hulikatti/vendor-directory/internal/repository"
)

const (
	minPasswordLen = 8
	maxPasswordLen = 72 // bcrypt input limit

	maxSettleAttempts = 3
)

// AdmissionController decides between direct registration and the waitlist
// and performs both writes under the registration gate.
type AdmissionController struct {
	store        repository.Store
	ledger       *CapacityLedger
	categories   *CategoryService
	dispatcher   notify.Dispatcher
	clock        clock.PassiveClock
	seq          *snowflake.Node
	passwordCost int
}

// AdmissionOption customises an AdmissionController.
type AdmissionOption func(*AdmissionController)

// WithPasswordCost sets the bcrypt cost used for vendor passwords.
func WithPasswordCost(cost int) AdmissionOption {
	return func(a *AdmissionController) { a.passwordCost = cost }
}

// NewAdmissionController constructs an AdmissionController.
func NewAdmissionController(
	store repository.Store,
	ledger *CapacityLedger,
	categories *CategoryService,
	dispatcher notify.Dispatcher,
	clk clock.PassiveClock,
	seq *snowflake.Node,
	opts ...AdmissionOption,
) *AdmissionController {
	a := &AdmissionController{
		store:        store,
		ledger:       ledger,
		categories:   categories,
		dispatcher:   dispatcher,
		clock:        clk,
		seq:          seq,
		passwordCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CanRegisterDirectly reports whether a slot is free right now.
func (a *AdmissionController) CanRegisterDirectly(ctx context.Context) (bool, error) {
	return a.ledger.HasAvailableSlot(ctx)
}

// CanJoinWaitlist is false while a slot is free, and false for an email that
// already holds an active entry or a vendor account.
func (a *AdmissionController) CanJoinWaitlist(ctx context.Context, email string) (bool, error) {
	free, err := a.ledger.HasAvailableSlot(ctx)
	if err != nil {
		return false, err
	}
	if free {
		return false, nil
	}
	err = a.checkApplicant(ctx, a.store, normalizeEmail(email))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrDuplicateApplicant), errors.Is(err, ErrDuplicateEmail):
		return false, nil
	default:
		return false, err
	}
}

// Check answers both admission questions at once for the public UI.
func (a *AdmissionController) Check(ctx context.Context, email string) (*model.Admission, error) {
	direct, err := a.CanRegisterDirectly(ctx)
	if err != nil {
		return nil, err
	}
	remaining, err := a.ledger.RemainingSlots(ctx)
	if err != nil {
		return nil, err
	}
	adm := &model.Admission{CanRegisterDirectly: direct, Remaining: remaining}
	if email != "" && !adm.CanRegisterDirectly {
		if adm.CanJoinWaitlist, err = a.CanJoinWaitlist(ctx, email); err != nil {
			return nil, err
		}
	}
	return adm, nil
}

// checkApplicant rejects emails that are already queued or registered.
func (a *AdmissionController) checkApplicant(ctx context.Context, q repository.Queries, email string) error {
	if _, err := q.ActiveWaitlistEntryByEmail(ctx, email); err == nil {
		return ErrDuplicateApplicant
	} else if !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("check waitlist email: %w", err)
	}
	exists, err := q.VendorEmailExists(ctx, email)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicateEmail
	}
	return nil
}

// RegisterWaitlist queues an applicant. The slot check, the duplicate check
// and the insert run as one gated unit so neither can go stale before the
// write. The registered message is sent after commit; its failure is logged
// and does not undo the signup.
func (a *AdmissionController) RegisterWaitlist(ctx context.Context, req model.JoinWaitlistRequest) (*model.WaitlistEntry, error) {
	logger := logr.FromContextOrDiscard(ctx)

	req.Email = normalizeEmail(req.Email)
	req.CompanyName = strings.TrimSpace(req.CompanyName)
	req.Message = strings.TrimSpace(req.Message)
	if err := validateEmail(req.Email); err != nil {
		return nil, err
	}
	if req.CompanyName == "" {
		return nil, invalid("company_name", "is required")
	}
	if err := a.categories.requireCategory(ctx, req.CategoryID); err != nil {
		return nil, err
	}

	now := a.clock.Now().UTC()
	entry := &model.WaitlistEntry{
		ID:          uuid.NewString(),
		Email:       req.Email,
		CompanyName: req.CompanyName,
		CategoryID:  req.CategoryID,
		Message:     req.Message,
		Status:      model.StatusWaiting,
		Seq:         a.seq.Generate().Int64(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var created *model.WaitlistEntry
	err := a.store.WithGate(ctx, func(q repository.Queries) error {
		free, _, err := a.ledger.slotFree(ctx, q)
		if err != nil {
			return err
		}
		if free {
			return ErrSlotAvailable
		}
		if err := a.checkApplicant(ctx, q, entry.Email); err != nil {
			return err
		}
		if err := q.InsertWaitlistEntry(ctx, entry); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return ErrDuplicateApplicant
			}
			return err
		}
		created, err = q.GetWaitlistEntry(ctx, entry.ID)
		return err
	})
	metrics.RecordWaitlistSignup(outcome(err))
	if err != nil {
		if isDomainError(err) {
			logger.V(1).Info("waitlist signup refused", "email", req.Email, "reason", err.Error())
			return nil, err
		}
		return nil, fmt.Errorf("join waitlist: %w", err)
	}

	logger.Info("waitlist entry created", "entryID", created.ID, "position", created.Position, "categoryID", created.CategoryID)
	if err := a.dispatcher.SendWaitlistRegistered(ctx, created); err != nil {
		metrics.RecordNotificationFailure("waitlist_registered")
		logger.Error(err, "waitlist registration message not delivered", "entryID", created.ID)
	}
	return created, nil
}

// DirectRegister creates an active vendor. Occupancy is re-validated inside
// the same gated transaction as the insert, so concurrent registrations can
// never push the active count past the ceiling.
//
// When the applicant holds a waitlist entry it is settled in the same unit:
// an open claim becomes PROMOTED, a lapsed claim EXPIRED, and a WAITING entry
// is withdrawn since the applicant no longer needs it.
func (a *AdmissionController) DirectRegister(ctx context.Context, req model.RegisterVendorRequest) (*model.RegistrationResult, error) {
	logger := logr.FromContextOrDiscard(ctx)

	req.Email = normalizeEmail(req.Email)
	req.CompanyName = strings.TrimSpace(req.CompanyName)
	if err := validateEmail(req.Email); err != nil {
		return nil, err
	}
	if req.CompanyName == "" {
		return nil, invalid("company_name", "is required")
	}
	if len(req.Password) < minPasswordLen || len(req.Password) > maxPasswordLen {
		return nil, invalid("password", fmt.Sprintf("must be %d to %d bytes", minPasswordLen, maxPasswordLen))
	}
	if err := a.categories.requireCategory(ctx, req.CategoryID); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), a.passwordCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := a.clock.Now().UTC()
	vendor := &model.Vendor{
		ID:           uuid.NewString(),
		Email:        req.Email,
		CompanyName:  req.CompanyName,
		CategoryID:   req.CategoryID,
		PasswordHash: string(hash),
		Phone:        strings.TrimSpace(req.Phone),
		Website:      strings.TrimSpace(req.Website),
		Description:  strings.TrimSpace(req.Description),
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	result := &model.RegistrationResult{Vendor: vendor}
	var occupied int
	err = a.store.WithGate(ctx, func(q repository.Queries) error {
		free, n, err := a.ledger.slotFree(ctx, q)
		if err != nil {
			return err
		}
		if !free {
			return ErrCapacityExceeded
		}
		exists, err := q.VendorEmailExists(ctx, vendor.Email)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateEmail
		}
		if err := q.InsertVendor(ctx, vendor); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return ErrDuplicateEmail
			}
			return err
		}
		occupied = n + 1

		result.Claimed, err = settleWaitlistEntry(ctx, q, vendor.Email, now)
		return err
	})
	metrics.RecordRegistration(outcome(err))
	if err != nil {
		if isDomainError(err) {
			logger.V(1).Info("vendor registration refused", "email", req.Email, "reason", err.Error())
			return nil, err
		}
		return nil, fmt.Errorf("register vendor: %w", err)
	}
	metrics.RecordOccupancy(occupied, a.ledger.Ceiling())

	logger.Info("vendor registered", "vendorID", vendor.ID, "occupancy", occupied, "claimed", result.Claimed != nil)
	return result, nil
}

// settleWaitlistEntry resolves the registering applicant's active entry and
// returns it when the registration completed a claim. The sweeper runs
// outside the gate and may move the entry first; the entry is then reloaded
// and settled from its new state.
func settleWaitlistEntry(ctx context.Context, q repository.Queries, email string, now time.Time) (*model.WaitlistEntry, error) {
	for attempt := 0; ; attempt++ {
		entry, err := q.ActiveWaitlistEntryByEmail(ctx, email)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("load waitlist entry: %w", err)
		}

		to := model.StatusCancelled
		switch {
		case entry.ClaimOpen(now):
			to = model.StatusPromoted
		case entry.Status == model.StatusNotified:
			to = model.StatusExpired
		}
		updated, err := q.TransitionWaitlistEntry(ctx, entry.ID, entry.Status, to, now, nil)
		if errors.Is(err, repository.ErrStaleTransition) && attempt < maxSettleAttempts {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("settle waitlist entry: %w", err)
		}
		if to != model.StatusPromoted {
			return nil, nil
		}
		return updated, nil
	}
}

func isDomainError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr) || outcome(err) != metrics.OutcomeError
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if email == "" {
		return invalid("email", "is required")
	}
	if !isValidEmail(email) {
		return invalid("email", "is not a valid email address")
	}
	return nil
}

// isValidEmail does a basic structural check.
func isValidEmail(email string) bool {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return false
	}
	return len(parts[0]) > 0 && strings.Contains(parts[1], ".")
}
