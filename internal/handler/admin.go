package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-logr/logr"

	"github.com/Shivanand-hulikatti/vendor-directory/internal/model"
)

// AdminCapacity handles GET /admin/capacity
func (h *Handler) AdminCapacity(w http.ResponseWriter, r *http.Request) {
	status, err := h.ledger.Status(r.Context(), true)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// ListWaitlist handles GET /admin/waitlist?status=&categoryId=
// Expired claims are swept before listing.
func (h *Handler) ListWaitlist(w http.ResponseWriter, r *http.Request) {
	var filter model.WaitlistFilter
	if s := r.URL.Query().Get("status"); s != "" {
		status, err := model.ParseStatus(strings.ToUpper(s))
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
			return
		}
		filter.Status = status
	}
	filter.CategoryID = r.URL.Query().Get("categoryId")

	entries, err := h.waitlist.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []model.WaitlistEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// PromoteEntry handles POST /admin/waitlist/{id}/promote
func (h *Handler) PromoteEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := h.promoter.Promote(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// PromoteNext handles POST /admin/waitlist/promote-next?categoryId=
func (h *Handler) PromoteNext(w http.ResponseWriter, r *http.Request) {
	entry, err := h.promoter.PromoteNext(r.Context(), r.URL.Query().Get("categoryId"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// DeactivateVendor handles POST /admin/vendors/{id}/deactivate
func (h *Handler) DeactivateVendor(w http.ResponseWriter, r *http.Request) {
	result, err := h.vendors.Deactivate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ReactivateVendor handles POST /admin/vendors/{id}/reactivate
func (h *Handler) ReactivateVendor(w http.ResponseWriter, r *http.Request) {
	vendor, err := h.vendors.Reactivate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vendor)
}

// CreateCategory handles POST /admin/categories
func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req model.CreateCategoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid request body: "+err.Error())
		return
	}

	category, err := h.categories.Create(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, category)
}

// SweepExpired handles POST /internal/waitlist/sweep
// Called by the scheduler; reports how many claims lapsed.
func (h *Handler) SweepExpired(w http.ResponseWriter, r *http.Request) {
	n, err := h.sweeper.SweepExpired(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	logr.FromContextOrDiscard(r.Context()).V(1).Info("sweep requested", "expired", n)
	writeJSON(w, http.StatusOK, map[string]int{"expired": n})
}
