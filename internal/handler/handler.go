// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-logr/logr"

	"github.com/Shivanand-hulikatti/vendor-directory/internal/model"
	"github.com/Shivanand-hulikatti/vendor-directory/internal/service"
)

// Machine-readable error codes. Clients branch on these to pick a remedy:
// wait, log in, or register directly.
const (
	CodeInvalidRequest     = "invalid_request"
	CodeValidation         = "validation_failed"
	CodeNotFound           = "not_found"
	CodeCapacityExceeded   = "capacity_exceeded"
	CodeDuplicateEmail     = "duplicate_email"
	CodeDuplicateApplicant = "duplicate_applicant"
	CodeSlotAvailable      = "slot_available"
	CodeInvalidTransition  = "invalid_status_transition"
	CodeNoSlotAvailable    = "no_slot_available"
	CodeNoEligibleEntry    = "no_eligible_entry"
	CodeNotificationFailed = "notification_delivery_failed"
	CodeUnauthorized       = "unauthorized"
	CodeRateLimited        = "rate_limited"
	CodeInternal           = "internal_error"
	CodeStoreUnavailable   = "store_unavailable"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all HTTP handlers for the vendor directory API.
type Handler struct {
	store      Pinger
	ledger     *service.CapacityLedger
	categories *service.CategoryService
	admission  *service.AdmissionController
	promoter   *service.PromotionEngine
	sweeper    *service.ExpirySweeper
	waitlist   *service.WaitlistService
	vendors    *service.VendorService
}

// Services bundles the dependencies of a Handler.
type Services struct {
	Store      Pinger
	Ledger     *service.CapacityLedger
	Categories *service.CategoryService
	Admission  *service.AdmissionController
	Promoter   *service.PromotionEngine
	Sweeper    *service.ExpirySweeper
	Waitlist   *service.WaitlistService
	Vendors    *service.VendorService
}

// New constructs a Handler.
func New(s Services) *Handler {
	return &Handler{
		store:      s.Store,
		ledger:     s.Ledger,
		categories: s.Categories,
		admission:  s.Admission,
		promoter:   s.Promoter,
		sweeper:    s.Sweeper,
		waitlist:   s.Waitlist,
		vendors:    s.Vendors,
	}
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg, Code: code})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeServiceError maps service failures to a status and error code.
// Anything unrecognised is logged and reported as a bare 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, CodeValidation, verr.Error())
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, service.ErrCapacityExceeded):
		writeError(w, http.StatusConflict, CodeCapacityExceeded, "all vendor slots are taken, join the waitlist instead")
	case errors.Is(err, service.ErrDuplicateEmail):
		writeError(w, http.StatusConflict, CodeDuplicateEmail, "a vendor with this email already exists, log in instead")
	case errors.Is(err, service.ErrDuplicateApplicant):
		writeError(w, http.StatusConflict, CodeDuplicateApplicant, "this email is already on the waitlist")
	case errors.Is(err, service.ErrSlotAvailable):
		writeError(w, http.StatusConflict, CodeSlotAvailable, "a slot is available, register directly")
	case errors.Is(err, service.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, CodeInvalidTransition, err.Error())
	case errors.Is(err, service.ErrNoSlotAvailable):
		writeError(w, http.StatusConflict, CodeNoSlotAvailable, err.Error())
	case errors.Is(err, service.ErrNoEligibleEntry):
		writeError(w, http.StatusConflict, CodeNoEligibleEntry, err.Error())
	case errors.Is(err, service.ErrNotificationDeliveryFailed):
		writeError(w, http.StatusBadGateway, CodeNotificationFailed, "claim notification could not be sent, the entry is still waiting")
	default:
		logr.FromContextOrDiscard(r.Context()).Error(err, "request failed")
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal error")
	}
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		logr.FromContextOrDiscard(r.Context()).Error(err, "health check failed")
		writeError(w, http.StatusServiceUnavailable, CodeStoreUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
