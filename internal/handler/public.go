package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Shivanand-hulikatti/vendor-directory/internal/model"
)

type publicCapacity struct {
	Occupancy              int  `json:"occupancy"`
	Ceiling                int  `json:"ceiling"`
	Remaining              int  `json:"remaining"`
	AcceptingRegistrations bool `json:"accepting_registrations"`
}

// ListCategories handles GET /categories
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.categories.List(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	// Return an empty array rather than null for better client compatibility.
	if categories == nil {
		categories = []model.Category{}
	}
	writeJSON(w, http.StatusOK, categories)
}

// Capacity handles GET /capacity
// Public summary without the per-category breakdown.
func (h *Handler) Capacity(w http.ResponseWriter, r *http.Request) {
	status, err := h.ledger.Status(r.Context(), false)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, publicCapacity{
		Occupancy:              status.Occupancy,
		Ceiling:                status.Ceiling,
		Remaining:              status.Remaining,
		AcceptingRegistrations: status.Remaining > 0,
	})
}

// Admission handles GET /admission?email=
func (h *Handler) Admission(w http.ResponseWriter, r *http.Request) {
	adm, err := h.admission.Check(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, adm)
}

// RegisterVendor handles POST /vendors
// Creates an active vendor when a slot is free.
func (h *Handler) RegisterVendor(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterVendorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := h.admission.DirectRegister(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// JoinWaitlist handles POST /waitlist
func (h *Handler) JoinWaitlist(w http.ResponseWriter, r *http.Request) {
	var req model.JoinWaitlistRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid request body: "+err.Error())
		return
	}

	entry, err := h.admission.RegisterWaitlist(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// GetWaitlistEntry handles GET /waitlist/{id}
func (h *Handler) GetWaitlistEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := h.waitlist.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// CancelWaitlistEntry handles POST /waitlist/{id}/cancel
func (h *Handler) CancelWaitlistEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := h.waitlist.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
