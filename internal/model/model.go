// Package model defines the core domain types for the vendor directory.
package model

import "time"

// Vendor is a registered business listed in the directory. An active vendor
// occupies exactly one registration slot.
type Vendor struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	CompanyName  string    `json:"company_name"`
	CategoryID   string    `json:"category_id"`
	PasswordHash string    `json:"-"`
	Phone        string    `json:"phone,omitempty"`
	Website      string    `json:"website,omitempty"`
	Description  string    `json:"description,omitempty"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Category groups vendors for browsing. Occupancy per category is reported
// but not capped.
type Category struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"created_at"`
}

// WaitlistEntry is a queued applicant awaiting a freed slot.
//
// Position is derived at read time from creation order and is only non-zero
// for WAITING entries.
type WaitlistEntry struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	CompanyName string     `json:"company_name"`
	CategoryID  string     `json:"category_id"`
	Message     string     `json:"message,omitempty"`
	Status      Status     `json:"status"`
	Position    int        `json:"position,omitempty"`
	NotifiedAt  *time.Time `json:"notified_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	// Seq breaks ties between entries created in the same instant.
	Seq int64 `json:"-"`
}

// ClaimOpen reports whether a NOTIFIED entry can still be claimed at now.
func (e *WaitlistEntry) ClaimOpen(now time.Time) bool {
	return e.Status == StatusNotified && e.ExpiresAt != nil && !now.After(*e.ExpiresAt)
}

// Before orders entries FIFO: creation time first, then insertion sequence.
func (e *WaitlistEntry) Before(other *WaitlistEntry) bool {
	if !e.CreatedAt.Equal(other.CreatedAt) {
		return e.CreatedAt.Before(other.CreatedAt)
	}
	return e.Seq < other.Seq
}

// WaitlistFilter narrows a waitlist listing. Zero values match everything.
type WaitlistFilter struct {
	Status     Status
	CategoryID string
}

// CategoryOccupancy is the active-vendor count of a single category.
type CategoryOccupancy struct {
	CategoryID   string `json:"category_id"`
	CategoryName string `json:"category_name"`
	CategorySlug string `json:"category_slug"`
	Occupied     int    `json:"occupied"`
}

// CapacityStatus summarises global slot usage.
type CapacityStatus struct {
	Occupancy  int                 `json:"occupancy"`
	Ceiling    int                 `json:"ceiling"`
	Remaining  int                 `json:"remaining"`
	Categories []CategoryOccupancy `json:"categories,omitempty"`
}

// RegisterVendorRequest is the payload for direct vendor registration.
type RegisterVendorRequest struct {
	Email       string `json:"email"`
	CompanyName string `json:"company_name"`
	CategoryID  string `json:"category_id"`
	Password    string `json:"password"`
	Phone       string `json:"phone"`
	Website     string `json:"website"`
	Description string `json:"description"`
}

// JoinWaitlistRequest is the payload for a waitlist signup.
type JoinWaitlistRequest struct {
	Email       string `json:"email"`
	CompanyName string `json:"company_name"`
	CategoryID  string `json:"category_id"`
	Message     string `json:"message"`
}

// CreateCategoryRequest is the payload for adding a category.
type CreateCategoryRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// RegistrationResult is returned by a successful direct registration.
// Claimed is set when the registration completed a waitlist claim.
type RegistrationResult struct {
	Vendor  *Vendor        `json:"vendor"`
	Claimed *WaitlistEntry `json:"claimed_entry,omitempty"`
}

// Admission answers which path an applicant should take right now.
type Admission struct {
	CanRegisterDirectly bool `json:"can_register_directly"`
	CanJoinWaitlist     bool `json:"can_join_waitlist"`
	Remaining           int  `json:"remaining"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
